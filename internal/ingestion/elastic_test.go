package ingestion

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/InfoSecJay/threat-detection-explorer-sub000/internal/domain/models"
	"github.com/InfoSecJay/threat-detection-explorer-sub000/pkg/logger"
)

const elasticRuleJSON = `{
	"rule_id": "c85eb82c-d2c8-485c-a36f-534f914b7663",
	"name": "Volume Shadow Copy Deletion via VssAdmin",
	"description": "Identifies use of vssadmin.exe to delete volume shadow copies.",
	"author": ["Elastic"],
	"severity": "high",
	"type": "eql",
	"language": "eql",
	"query": "process where process.name == \"vssadmin.exe\"",
	"tags": ["Domain: Endpoint", "OS: Windows", "Use Case: Threat Detection"],
	"references": ["https://example.org"],
	"index": ["logs-endpoint.events.*", "winlogbeat-*"],
	"threat": [
		{
			"framework": "MITRE ATT&CK",
			"tactic": {"id": "TA0040", "name": "Impact"},
			"technique": [
				{
					"id": "T1490",
					"subtechnique": []
				}
			]
		}
	]
}`

func TestElasticConnectorFetch(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "rules", "windows"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "rules", "windows", "vssadmin.json"), []byte(elasticRuleJSON), 0o644))

	conn := NewElasticConnector(logger.NewDefault())
	require.NoError(t, conn.Configure(ConnectorConfig{Enabled: true, Path: dir}))

	result, err := conn.Fetch(context.Background())
	require.NoError(t, err)
	require.Len(t, result.Records, 1)

	rec := result.Records[0]
	assert.Equal(t, "elastic-c85eb82c-d2c8-485c-a36f-534f914b7663", rec.ID)
	assert.Equal(t, models.SourceElastic, rec.Source)
	assert.Equal(t, "eql", rec.Language)
	assert.Equal(t, models.SeverityHigh, rec.Severity)
	assert.Equal(t, []string{"TA0040"}, rec.MitreTactics)
	assert.Equal(t, []string{"T1490"}, rec.MitreTechniques)
	assert.Equal(t, "Elastic", rec.Author)
	assert.Equal(t, "windows", rec.Platform)
	assert.Equal(t, "endpoint", rec.DataSourceNormalized)
	assert.Equal(t, []string{"logs-endpoint.events.*", "winlogbeat-*"}, rec.LogSources)
}

func TestElasticConnectorSkipsNonATTACKFramework(t *testing.T) {
	threats := []elasticThreat{
		{Framework: "Custom"},
		{Framework: "MITRE ATT&CK"},
	}
	threats[0].Tactic.ID = "TA0001"
	threats[1].Tactic.ID = "TA0040"

	tactics, techniques := mitreFromThreats(threats)
	assert.Equal(t, []string{"TA0040"}, tactics)
	assert.Empty(t, techniques)
}

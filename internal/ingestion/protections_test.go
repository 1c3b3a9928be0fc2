package ingestion

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/InfoSecJay/threat-detection-explorer-sub000/internal/domain/models"
	"github.com/InfoSecJay/threat-detection-explorer-sub000/pkg/logger"
)

const protectionsRuleTOML = `[rule]
id = "b0046bb7-0943-4a4e-9d50-bf4bd7f33c2d"
name = "Shadow Copy Deletion via VssAdmin"
description = "Identifies deletion of volume shadow copies."
query = '''
process where process.name == "vssadmin.exe" and process.args == "delete"
'''
os_list = ["windows"]

[[threat]]
framework = "MITRE ATT&CK"

[threat.tactic]
id = "TA0040"
name = "Impact"

[[threat.technique]]
id = "T1490"

[[threat]]

[threat.tactic]
id = "TA0005"
name = "Defense Evasion"

[[threat.technique]]
id = "T1070"

[[threat.technique.subtechnique]]
id = "T1070.004"

[[actions]]
action = "kill_process"

[[actions]]
action = "terminate_process"
`

func TestProtectionsConnectorFetch(t *testing.T) {
	dir := writeSigmaRepo(t, map[string]string{
		"behavior/rules/windows/shadow_copy.toml": protectionsRuleTOML,
	})

	conn := NewProtectionsConnector(logger.NewDefault())
	require.NoError(t, conn.Configure(ConnectorConfig{Enabled: true, Path: dir}))

	result, err := conn.Fetch(context.Background())
	require.NoError(t, err)
	require.Len(t, result.Records, 1)
	assert.Equal(t, 1, result.FilesParsed)

	rec := result.Records[0]
	assert.Equal(t, "elastic_protections-b0046bb7-0943-4a4e-9d50-bf4bd7f33c2d", rec.ID)
	assert.Equal(t, models.SourceElasticProtections, rec.Source)
	assert.Equal(t, "Shadow Copy Deletion via VssAdmin", rec.Title)
	assert.Equal(t, "eql", rec.Language)
	assert.Equal(t, "Elastic", rec.Author)
	assert.Equal(t, models.StatusStable, rec.Status)
	assert.Equal(t, []string{"TA0040", "TA0005"}, rec.MitreTactics)
	assert.Equal(t, []string{"T1490", "T1070", "T1070.004"}, rec.MitreTechniques)
	assert.Equal(t, "windows", rec.Platform)
	assert.Equal(t, "behavior", rec.EventCategory)
	assert.Equal(t, "endpoint", rec.DataSourceNormalized)
	assert.Contains(t, rec.Tags, "behavior_rule")
	assert.Contains(t, rec.Tags, "windows")
	assert.Contains(t, rec.DetectionLogic, "vssadmin.exe")

	// terminate_process actions run in enforcement
	assert.Equal(t, models.SeverityHigh, rec.Severity)
}

func TestProtectionsConnectorAlertOnlySeverity(t *testing.T) {
	toml := `[rule]
id = "ccf04bb8-0000-4a4e-9d50-000000000001"
name = "Rare Library Load"
query = "library where true"
os_list = ["macos"]
`
	dir := writeSigmaRepo(t, map[string]string{
		"behavior/rules/macos/library_load.toml": toml,
	})

	conn := NewProtectionsConnector(logger.NewDefault())
	require.NoError(t, conn.Configure(ConnectorConfig{Enabled: true, Path: dir}))

	result, err := conn.Fetch(context.Background())
	require.NoError(t, err)
	require.Len(t, result.Records, 1)
	assert.Equal(t, models.SeverityMedium, result.Records[0].Severity)
	assert.Equal(t, "macos", result.Records[0].Platform)
}

func TestProtectionsConnectorOnlyBehaviorTOML(t *testing.T) {
	dir := writeSigmaRepo(t, map[string]string{
		"behavior/rules/good.toml":   protectionsRuleTOML,
		"behavior/rules/broken.toml": "[rule\nname = unclosed",
		"behavior/rules/no-name.toml": `[rule]
query = "process where true"
`,
		"yara/rules/sig.yar":  "rule x { condition: true }",
		"tools/settings.toml": "[config]\nkey = \"value\"\n",
	})

	conn := NewProtectionsConnector(logger.NewDefault())
	require.NoError(t, conn.Configure(ConnectorConfig{Enabled: true, Path: dir}))

	result, err := conn.Fetch(context.Background())
	require.NoError(t, err)

	// Only TOML under behavior/ is considered; the two unparseable rules
	// count as failures without aborting the run.
	assert.Len(t, result.Records, 1)
	assert.Equal(t, 1, result.FilesParsed)
	assert.Equal(t, 2, result.FilesFailed)
}

func TestProtectionsConnectorRequiresPath(t *testing.T) {
	conn := NewProtectionsConnector(logger.NewDefault())
	require.NoError(t, conn.Configure(ConnectorConfig{Enabled: true}))

	_, err := conn.Fetch(context.Background())
	assert.Error(t, err)
}

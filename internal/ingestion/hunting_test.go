package ingestion

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/InfoSecJay/threat-detection-explorer-sub000/internal/domain/models"
	"github.com/InfoSecJay/threat-detection-explorer-sub000/pkg/logger"
)

const huntingQueryTOML = `[hunt]
author = "Elastic"
uuid = "cca3db1a-1b51-4e8b-a33f-1a9a87e2f1c1"
name = "Okta MFA Fatigue Attempts"
description = "Hunts for bursts of push notifications against a single user."
integration = ["okta"]
language = ["ES|QL"]
query = [
  "from logs-okta* | where event.action == \"user.mfa.okta_verify.deny_push\"",
  "from logs-okta* | stats count() by user.name",
]
notes = [
  "Pivot on user.name for repeated denials.",
  "Correlate with sign-in geography.",
]
mitre = ["T1621", "t1078.004"]
references = ["https://example.org/mfa-fatigue"]
`

func TestHuntingConnectorFetch(t *testing.T) {
	dir := writeSigmaRepo(t, map[string]string{
		"hunting/okta/queries/mfa_fatigue.toml": huntingQueryTOML,
	})

	conn := NewHuntingConnector(logger.NewDefault())
	require.NoError(t, conn.Configure(ConnectorConfig{Enabled: true, Path: dir}))

	result, err := conn.Fetch(context.Background())
	require.NoError(t, err)
	require.Len(t, result.Records, 1)
	assert.Equal(t, 1, result.FilesParsed)

	rec := result.Records[0]
	assert.Equal(t, "elastic_hunting-cca3db1a-1b51-4e8b-a33f-1a9a87e2f1c1", rec.ID)
	assert.Equal(t, models.SourceElasticHunting, rec.Source)
	assert.Equal(t, "Okta MFA Fatigue Attempts", rec.Title)
	assert.Equal(t, "ES|QL", rec.Language)
	assert.Equal(t, "Elastic", rec.Author)
	assert.Equal(t, models.SeverityMedium, rec.Severity)
	assert.Equal(t, []string{"T1621", "T1078.004"}, rec.MitreTechniques)
	assert.Equal(t, "okta", rec.Platform)
	assert.Equal(t, "cloud", rec.DataSourceNormalized)
	assert.Equal(t, "hunting", rec.EventCategory)
	assert.Equal(t, []string{"okta"}, rec.LogSources)
	assert.Contains(t, rec.Tags, "hunting_query")
	assert.Contains(t, rec.Tags, "okta")

	// Multiple queries collapse into one logic block.
	assert.Contains(t, rec.DetectionLogic, huntingQuerySeparator)
	assert.Contains(t, rec.DetectionLogic, "deny_push")
	assert.Contains(t, rec.DetectionLogic, "stats count()")

	// Notes fold into the description.
	assert.Contains(t, rec.Description, "Notes:")
	assert.Contains(t, rec.Description, "- Pivot on user.name")
}

func TestHuntingConnectorOnlyHuntingTOML(t *testing.T) {
	dir := writeSigmaRepo(t, map[string]string{
		"hunting/windows/queries/good.toml": `[hunt]
uuid = "11111111-2222-3333-4444-555555555555"
name = "Suspicious Service Installs"
query = ["from logs-* | where true"]
`,
		"hunting/windows/queries/nameless.toml": `[hunt]
query = ["from logs-* | where true"]
`,
		"rules/windows/not_a_hunt.toml": `[rule]
name = "Detection Rule"
`,
	})

	conn := NewHuntingConnector(logger.NewDefault())
	require.NoError(t, conn.Configure(ConnectorConfig{Enabled: true, Path: dir}))

	result, err := conn.Fetch(context.Background())
	require.NoError(t, err)
	require.Len(t, result.Records, 1)
	assert.Equal(t, 1, result.FilesParsed)
	assert.Equal(t, 1, result.FilesFailed)

	rec := result.Records[0]
	assert.Equal(t, "windows", rec.Platform)
	assert.Equal(t, "endpoint", rec.DataSourceNormalized)
	assert.Equal(t, "ES|QL", rec.Language)
}

package ingestion

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/InfoSecJay/threat-detection-explorer-sub000/internal/domain/models"
	"github.com/InfoSecJay/threat-detection-explorer-sub000/pkg/logger"
)

const sentinelRuleYAML = `id: 223db5c1-1bf8-47d8-8806-bed401b356a4
name: Brute force attack against Azure Portal
description: |
  Identifies evidence of brute force activity against Azure Portal sign-ins.
severity: Medium
status: Available
kind: Scheduled
requiredDataConnectors:
  - connectorId: AzureActiveDirectory
    dataTypes:
      - SigninLogs
tactics:
  - CredentialAccess
  - Initial Access
relevantTechniques:
  - T1110
  - t1078.004
query: |
  SigninLogs
  | where ResultType == 50126
`

func TestSentinelConnectorFetch(t *testing.T) {
	dir := writeSigmaRepo(t, map[string]string{
		"Solutions/Azure Active Directory/Analytic Rules/brute_force.yaml": sentinelRuleYAML,
	})

	conn := NewSentinelConnector(logger.NewDefault())
	require.NoError(t, conn.Configure(ConnectorConfig{Enabled: true, Path: dir}))

	result, err := conn.Fetch(context.Background())
	require.NoError(t, err)
	require.Len(t, result.Records, 1)
	assert.Equal(t, 1, result.FilesParsed)

	rec := result.Records[0]
	assert.Equal(t, "sentinel-223db5c1-1bf8-47d8-8806-bed401b356a4", rec.ID)
	assert.Equal(t, models.SourceSentinel, rec.Source)
	assert.Equal(t, "Brute force attack against Azure Portal", rec.Title)
	assert.Equal(t, "kql", rec.Language)
	assert.Equal(t, "Microsoft", rec.Author)
	assert.Equal(t, models.SeverityMedium, rec.Severity)

	// Tactic names map to IDs; technique IDs are normalized to upper case.
	assert.Equal(t, []string{"TA0006", "TA0001"}, rec.MitreTactics)
	assert.Equal(t, []string{"T1110", "T1078.004"}, rec.MitreTechniques)

	assert.Equal(t, []string{"SigninLogs"}, rec.LogSources)
	assert.Equal(t, "azure", rec.Platform)
	assert.Equal(t, "cloud", rec.DataSourceNormalized)
	assert.Equal(t, "sentinel", rec.EventCategory)
	assert.Contains(t, rec.DetectionLogic, "ResultType == 50126")
}

func TestSentinelConnectorSkipsNonScheduledKinds(t *testing.T) {
	hunting := `id: 00000000-0000-0000-0000-000000000001
name: Hunting Query
kind: Hunting
query: SigninLogs | take 10
`
	dir := writeSigmaRepo(t, map[string]string{
		"Solutions/Okta/Analytic Rules/scheduled.yaml": sentinelRuleYAML,
		"Solutions/Okta/Analytic Rules/hunting.yaml":   hunting,
		"Solutions/Okta/Playbooks/playbook.yaml":       "name: irrelevant\n",
	})

	conn := NewSentinelConnector(logger.NewDefault())
	require.NoError(t, conn.Configure(ConnectorConfig{Enabled: true, Path: dir}))

	result, err := conn.Fetch(context.Background())
	require.NoError(t, err)

	// Only the scheduled rule survives; the hunting kind counts as failed
	// and anything outside Analytic Rules is never considered.
	require.Len(t, result.Records, 1)
	assert.Equal(t, 1, result.FilesParsed)
	assert.Equal(t, 1, result.FilesFailed)
}

func TestSentinelPlatformFromConnectors(t *testing.T) {
	tests := []struct {
		connectors []string
		want       string
	}{
		{[]string{"AWSS3"}, "aws"},
		{[]string{"GCPAuditLogsDefinition"}, "gcp"},
		{[]string{"Office365"}, "office365"},
		{[]string{"MicrosoftThreatProtection"}, "azure"},
		{[]string{"MicrosoftDefenderAdvancedThreatProtection"}, "defender"},
		{nil, "azure"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, sentinelPlatform(tt.connectors), "connectors %v", tt.connectors)
	}
}

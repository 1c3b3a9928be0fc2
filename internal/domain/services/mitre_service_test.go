package services

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/InfoSecJay/threat-detection-explorer-sub000/pkg/logger"
)

const testBundle = `{
	"type": "bundle",
	"id": "bundle--test",
	"objects": [
		{
			"type": "x-mitre-tactic",
			"name": "Execution",
			"x_mitre_shortname": "execution",
			"external_references": [
				{"source_name": "mitre-attack", "external_id": "TA0002", "url": "https://attack.mitre.org/tactics/TA0002/"}
			]
		},
		{
			"type": "attack-pattern",
			"id": "attack-pattern--parent",
			"name": "Command and Scripting Interpreter",
			"kill_chain_phases": [{"kill_chain_name": "mitre-attack", "phase_name": "execution"}],
			"external_references": [
				{"source_name": "mitre-attack", "external_id": "T1059", "url": "https://attack.mitre.org/techniques/T1059/"}
			]
		},
		{
			"type": "attack-pattern",
			"id": "attack-pattern--sub",
			"name": "PowerShell",
			"x_mitre_is_subtechnique": true,
			"external_references": [
				{"source_name": "mitre-attack", "external_id": "T1059.001", "url": "https://attack.mitre.org/techniques/T1059/001/"}
			]
		},
		{
			"type": "attack-pattern",
			"id": "attack-pattern--old",
			"name": "PowerShell (legacy)",
			"revoked": true,
			"external_references": [
				{"source_name": "mitre-attack", "external_id": "T1086"}
			]
		},
		{
			"type": "relationship",
			"relationship_type": "revoked-by",
			"source_ref": "attack-pattern--old",
			"target_ref": "attack-pattern--sub"
		}
	]
}`

func TestLoadBundle(t *testing.T) {
	svc := NewMITREService(logger.NewDefault())
	require.NoError(t, svc.LoadBundle([]byte(testBundle)))

	tactic, ok := svc.ResolveTactic("TA0002")
	require.True(t, ok)
	assert.Equal(t, "Execution", tactic.Name)

	// Short name resolves too
	_, ok = svc.ResolveTactic("execution")
	assert.True(t, ok)

	tech, ok := svc.ResolveTechnique("T1059")
	require.True(t, ok)
	assert.Equal(t, []string{"TA0002"}, tech.Tactics)

	// Sub-technique inherits the parent's tactics when the bundle omits them
	sub, ok := svc.ResolveTechnique("T1059.001")
	require.True(t, ok)
	assert.True(t, sub.IsSubtechnique)
	assert.Equal(t, "T1059", sub.ParentID)
	assert.Equal(t, []string{"TA0002"}, sub.Tactics)
}

func TestRevokedTechniqueRemapping(t *testing.T) {
	svc := NewMITREService(logger.NewDefault())
	require.NoError(t, svc.LoadBundle([]byte(testBundle)))

	mapped, ok := svc.MapTechnique("T1086")
	assert.True(t, ok)
	assert.Equal(t, "T1059.001", mapped)

	// ResolveTechnique follows the same remapping
	tech, ok := svc.ResolveTechnique("t1086")
	require.True(t, ok)
	assert.Equal(t, "T1059.001", tech.ID)

	// Unknown IDs come back unchanged and flagged
	mapped, ok = svc.MapTechnique("T9999")
	assert.False(t, ok)
	assert.Equal(t, "T9999", mapped)
}

func TestListTacticsKillChainOrder(t *testing.T) {
	svc := testTaxonomy()

	tactics := svc.ListTactics()
	require.Len(t, tactics, 14)
	assert.Equal(t, "TA0043", tactics[0].ID)
	assert.Equal(t, "TA0001", tactics[2].ID)
	assert.Equal(t, "TA0040", tactics[13].ID)
}

func TestTechniquesByTactic(t *testing.T) {
	svc := testTaxonomy()

	parents := svc.TechniquesByTactic("TA0002", false)
	require.Len(t, parents, 1)
	assert.Equal(t, "T1059", parents[0].ID)

	withSubs := svc.TechniquesByTactic("TA0002", true)
	assert.Len(t, withSubs, 3)

	// Parent rows sort before sub-technique rows
	assert.Equal(t, "T1059", withSubs[0].ID)

	subs := svc.Subtechniques("T1059")
	require.Len(t, subs, 2)
	assert.Equal(t, "T1059.001", subs[0].ID)
	assert.Equal(t, "T1059.003", subs[1].ID)
}

func TestListTechniques(t *testing.T) {
	svc := testTaxonomy()

	parents := svc.ListTechniques(false)
	require.Len(t, parents, 3)
	assert.Equal(t, "T1055", parents[0].ID)
	assert.Equal(t, "T1059", parents[1].ID)
	assert.Equal(t, "T1547", parents[2].ID)

	withSubs := svc.ListTechniques(true)
	assert.Len(t, withSubs, 5)
}

func TestStats(t *testing.T) {
	svc := testTaxonomy()

	stats := svc.Stats()
	assert.Equal(t, 14, stats.TotalTactics)
	assert.Equal(t, 3, stats.TotalTechniques)
	assert.Equal(t, 2, stats.TotalSubtechniques)
	assert.Equal(t, 1, stats.RemappedIDs)
}

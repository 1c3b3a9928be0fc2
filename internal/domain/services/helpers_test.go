package services

import (
	"time"

	"github.com/InfoSecJay/threat-detection-explorer-sub000/internal/domain/models"
	"github.com/InfoSecJay/threat-detection-explorer-sub000/pkg/logger"
)

func testTaxonomy() *MITREService {
	svc := NewMITREService(logger.NewDefault())
	svc.LoadTestData(
		nil, // keep the embedded enterprise tactics
		[]models.MITRETechnique{
			{ID: "T1059", Name: "Command and Scripting Interpreter", Tactics: []string{"TA0002"}},
			{ID: "T1059.001", Name: "PowerShell", Tactics: []string{"TA0002"}, IsSubtechnique: true, ParentID: "T1059"},
			{ID: "T1059.003", Name: "Windows Command Shell", Tactics: []string{"TA0002"}, IsSubtechnique: true, ParentID: "T1059"},
			{ID: "T1055", Name: "Process Injection", Tactics: []string{"TA0004", "TA0005"}},
			{ID: "T1547", Name: "Boot or Logon Autostart Execution", Tactics: []string{"TA0003", "TA0004"}},
		},
		map[string]string{
			// PowerShell's retired standalone ID points at the sub-technique.
			"T1086": "T1059.001",
		},
	)
	return svc
}

func testStore(records ...*models.DetectionRecord) *DetectionStore {
	store := NewDetectionStore(testTaxonomy(), logger.NewDefault())
	store.ReplaceAll(records)
	return store
}

func date(value string) *time.Time {
	t, err := time.Parse("2006-01-02", value)
	if err != nil {
		panic(err)
	}
	return &t
}

func record(id string, source models.Source, mutate ...func(*models.DetectionRecord)) *models.DetectionRecord {
	rec := &models.DetectionRecord{
		ID:       id,
		Source:   source,
		Title:    "Detection " + id,
		Language: "sigma",
		Severity: models.SeverityMedium,
		Status:   models.StatusStable,
	}
	for _, fn := range mutate {
		fn(rec)
	}
	return rec
}

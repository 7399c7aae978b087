package main

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/clinsight-ai/platform/pkg/common/logger"
	"github.com/clinsight-ai/platform/pkg/common/models"
	"github.com/clinsight-ai/platform/pkg/insight"
	"github.com/clinsight-ai/platform/pkg/storage"
	"github.com/clinsight-ai/platform/pkg/terminology"
)

func TestMain(m *testing.M) {
	logger.Init()
	os.Exit(m.Run())
}

func writeSnapshot(t *testing.T, root, identifier string) {
	t.Helper()
	out := models.PatientEvolutionOutput{
		Timeline: []models.TimelineEvent{{EventID: "e1", Category: "observation"}},
		Metadata: models.EvolutionMetadata{GeneratedAt: time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)},
	}
	data, err := json.Marshal(out)
	if err != nil {
		t.Fatal(err)
	}
	dir := filepath.Join(root, "patient-evolution", "generated")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatal(err)
	}
	path := filepath.Join(dir, identifier+"_patient_evolution.json")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatal(err)
	}
}

func newTestService(t *testing.T) *InsightService {
	t.Helper()
	root := t.TempDir()
	writeSnapshot(t, root, "patient-42")
	return &InsightService{
		engine: insight.NewEngine(terminology.DefaultCatalog()),
		store:  storage.NewSnapshotStore(root, "patient-evolution", nil, time.Minute),
	}
}

func TestHandleEvolutionEventWarmsCompletedRuns(t *testing.T) {
	s := newTestService(t)

	err := s.handleEvolutionEvent(context.Background(), models.Event{
		ID:   "ev-1",
		Type: "evolution.completed",
		Data: map[string]interface{}{"identifier": "patient-42"},
	})
	if err != nil {
		t.Fatalf("handleEvolutionEvent: %v", err)
	}
}

func TestHandleEvolutionEventIgnoresOtherTypes(t *testing.T) {
	s := newTestService(t)

	events := []models.Event{
		{ID: "ev-2", Type: "evolution.failed", Data: map[string]interface{}{"identifier": "patient-42"}},
		{ID: "ev-3", Type: "evolution.completed"},
		{ID: "ev-4", Type: "evolution.completed", Data: map[string]interface{}{"identifier": 42}},
	}
	for _, event := range events {
		if err := s.handleEvolutionEvent(context.Background(), event); err != nil {
			t.Errorf("event %s: %v", event.ID, err)
		}
	}
}

func TestHandleEvolutionEventAbsorbsMissingSnapshot(t *testing.T) {
	// The event may outrun the filesystem; warming stays best-effort so the
	// consumer commits instead of redelivering forever.
	s := newTestService(t)

	err := s.handleEvolutionEvent(context.Background(), models.Event{
		ID:   "ev-5",
		Type: "evolution.completed",
		Data: map[string]interface{}{"identifier": "patient-unknown"},
	})
	if err != nil {
		t.Fatalf("handleEvolutionEvent: %v", err)
	}
}

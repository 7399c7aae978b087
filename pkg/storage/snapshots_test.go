package storage

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/clinsight-ai/platform/pkg/common/logger"
	"github.com/clinsight-ai/platform/pkg/common/models"
)

func TestMain(m *testing.M) {
	logger.Init()
	m.Run()
}

func TestSnapshotPathConvention(t *testing.T) {
	store := NewSnapshotStore("/var/data", "patient-evolution", nil, 0)

	want := filepath.Join("/var/data", "patient-evolution", "generated", "p42_patient_evolution.json")
	if got := store.Path("p42"); got != want {
		t.Fatalf("expected %s, got %s", want, got)
	}
	if got := store.RelativePath("p42"); got != "patient-evolution/generated/p42_patient_evolution.json" {
		t.Fatalf("unexpected relative path: %s", got)
	}
}

func TestSnapshotSaveLoadRoundTrip(t *testing.T) {
	store := NewSnapshotStore(t.TempDir(), "patient-evolution", nil, 0)
	output := &models.PatientEvolutionOutput{
		Timeline: []models.TimelineEvent{{Category: "observation", Description: "BP reading"}},
		Episodes: []models.Episode{{EpisodeID: "ep_000001", Title: "hypertension workup"}},
		Alerts:   []models.EvolutionAlert{},
		Metadata: models.EvolutionMetadata{GeneratedAt: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)},
	}

	if err := store.Save(context.Background(), "p42", output); err != nil {
		t.Fatalf("save failed: %v", err)
	}
	loaded, err := store.Load(context.Background(), "p42")
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if len(loaded.Timeline) != 1 || loaded.Episodes[0].EpisodeID != "ep_000001" {
		t.Fatalf("unexpected snapshot content: %+v", loaded)
	}
}

func TestSnapshotOverwriteOnSuccess(t *testing.T) {
	store := NewSnapshotStore(t.TempDir(), "patient-evolution", nil, 0)

	first := &models.PatientEvolutionOutput{Timeline: []models.TimelineEvent{{Category: "observation"}}}
	second := &models.PatientEvolutionOutput{Timeline: []models.TimelineEvent{{Category: "condition"}, {Category: "medication"}}}

	if err := store.Save(context.Background(), "p42", first); err != nil {
		t.Fatalf("first save failed: %v", err)
	}
	if err := store.Save(context.Background(), "p42", second); err != nil {
		t.Fatalf("second save failed: %v", err)
	}

	loaded, err := store.Load(context.Background(), "p42")
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if len(loaded.Timeline) != 2 {
		t.Fatalf("expected superseded snapshot, got %d events", len(loaded.Timeline))
	}
}

func TestSnapshotMissing(t *testing.T) {
	store := NewSnapshotStore(t.TempDir(), "patient-evolution", nil, 0)
	_, err := store.Load(context.Background(), "nobody")
	if !errors.Is(err, ErrSnapshotNotFound) {
		t.Fatalf("expected ErrSnapshotNotFound, got %v", err)
	}
}

func TestSnapshotPartialWriteNotReady(t *testing.T) {
	root := t.TempDir()
	store := NewSnapshotStore(root, "patient-evolution", nil, 0)

	path := store.Path("p42")
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir failed: %v", err)
	}
	if err := os.WriteFile(path, []byte(`{"timeline": [`), 0o644); err != nil {
		t.Fatalf("write failed: %v", err)
	}

	_, err := store.Load(context.Background(), "p42")
	if !errors.Is(err, ErrSnapshotNotReady) {
		t.Fatalf("expected ErrSnapshotNotReady, got %v", err)
	}
}

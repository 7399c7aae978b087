package evolution

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/clinsight-ai/platform/pkg/agent"
	"github.com/clinsight-ai/platform/pkg/common/kafka"
	"github.com/clinsight-ai/platform/pkg/common/logger"
	"github.com/clinsight-ai/platform/pkg/common/models"
	"github.com/clinsight-ai/platform/pkg/observability/metrics"
	"github.com/clinsight-ai/platform/pkg/storage"
)

const (
	StatusQueued    = "queued"
	StatusRunning   = "running"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
)

var ErrIdentifierRequired = errors.New("identifier required")

// Service tracks run records, executes the orchestrator asynchronously behind
// a bounded worker pool and persists the resulting snapshot. Trigger requests
// return immediately; clients poll the snapshot path for completion.
type Service struct {
	orch     *Orchestrator
	repo     *Repository
	store    *storage.SnapshotStore
	producer *kafka.Producer
	baseCtx  agent.RunContext
	workers  chan struct{}
}

func NewService(orch *Orchestrator, repo *Repository, store *storage.SnapshotStore, producer *kafka.Producer, baseCtx agent.RunContext, maxWorkers int) *Service {
	if maxWorkers <= 0 {
		maxWorkers = 1
	}
	return &Service{
		orch:     orch,
		repo:     repo,
		store:    store,
		producer: producer,
		baseCtx:  baseCtx,
		workers:  make(chan struct{}, maxWorkers),
	}
}

// Enqueue records a queued run and starts it in the background. The run is a
// full re-derivation for the identifier; its snapshot supersedes, never
// merges with, any previous one.
func (s *Service) Enqueue(ctx context.Context, identifier string) (models.EvolutionRun, error) {
	identifier = strings.TrimSpace(identifier)
	if identifier == "" {
		return models.EvolutionRun{}, ErrIdentifierRequired
	}

	model := &runModel{
		ID:         uuid.New().String(),
		Identifier: identifier,
		Status:     StatusQueued,
		CreatedAt:  time.Now().UTC(),
	}
	if err := s.repo.Create(ctx, model); err != nil {
		return models.EvolutionRun{}, fmt.Errorf("persisting run record: %w", err)
	}

	metrics.ObserveRunStarted()
	go s.run(model.ID, identifier)

	return runToDomain(model), nil
}

// Generate runs the pipeline synchronously. Used by the CLI entry point,
// which has no run store.
func (s *Service) Generate(ctx context.Context, identifier string) (*models.PatientEvolutionOutput, error) {
	identifier = strings.TrimSpace(identifier)
	if identifier == "" {
		return nil, ErrIdentifierRequired
	}
	rc := s.baseCtx
	rc.Identifier = identifier
	return s.orch.Run(ctx, rc)
}

func (s *Service) Status(ctx context.Context, runID string) (models.EvolutionRun, error) {
	model, err := s.repo.Get(ctx, runID)
	if err != nil {
		return models.EvolutionRun{}, err
	}
	return runToDomain(model), nil
}

func (s *Service) ListRuns(ctx context.Context, identifier string, limit int) ([]models.EvolutionRun, error) {
	entries, err := s.repo.ListByIdentifier(ctx, identifier, limit)
	if err != nil {
		return nil, err
	}
	runs := make([]models.EvolutionRun, 0, len(entries))
	for i := range entries {
		runs = append(runs, runToDomain(&entries[i]))
	}
	return runs, nil
}

func (s *Service) run(runID, identifier string) {
	s.workers <- struct{}{}
	defer func() { <-s.workers }()

	ctx := context.Background()
	started := time.Now().UTC()
	s.updateRun(ctx, runID, map[string]interface{}{
		"status":     StatusRunning,
		"started_at": started,
	})

	rc := s.baseCtx
	rc.Identifier = identifier

	output, err := s.orch.Run(ctx, rc)
	if err != nil {
		s.fail(ctx, runID, identifier, err)
		return
	}

	if err := s.store.Save(ctx, identifier, output); err != nil {
		s.fail(ctx, runID, identifier, fmt.Errorf("persisting snapshot: %w", err))
		return
	}

	completed := time.Now().UTC()
	s.updateRun(ctx, runID, map[string]interface{}{
		"status":        StatusCompleted,
		"summary":       summaryJSON(output.Metadata.Counts),
		"completed_at":  completed,
		"error_message": "",
	})
	metrics.ObserveRunCompleted()

	s.publish(ctx, "evolution.completed", map[string]interface{}{
		"run_id":     runID,
		"identifier": identifier,
		"counts":     output.Metadata.Counts,
	})

	logger.Log.WithFields(map[string]interface{}{
		"run_id":     runID,
		"identifier": identifier,
		"duration":   completed.Sub(started).Milliseconds(),
	}).Info("evolution run completed")
}

func (s *Service) fail(ctx context.Context, runID, identifier string, err error) {
	logger.Log.WithError(err).WithFields(map[string]interface{}{
		"run_id":     runID,
		"identifier": identifier,
	}).Error("evolution run failed")

	var execErr *agent.ExecutionError
	if errors.As(err, &execErr) {
		metrics.ObserveAgentFailure()
	}
	metrics.ObserveRunFailed()

	completed := time.Now().UTC()
	s.updateRun(ctx, runID, map[string]interface{}{
		"status":        StatusFailed,
		"error_message": err.Error(),
		"completed_at":  completed,
	})

	s.publish(ctx, "evolution.failed", map[string]interface{}{
		"run_id":     runID,
		"identifier": identifier,
		"error":      err.Error(),
	})
}

// updateRun writes run status best-effort. A failed write leaves the record
// stale, so it must at least be visible in the logs.
func (s *Service) updateRun(ctx context.Context, runID string, fields map[string]interface{}) {
	if err := s.repo.Update(ctx, runID, fields); err != nil {
		logger.Log.WithError(err).WithFields(map[string]interface{}{
			"run_id": runID,
			"status": fields["status"],
		}).Error("failed to update run record")
	}
}

func (s *Service) publish(ctx context.Context, eventType string, data map[string]interface{}) {
	if s.producer == nil {
		return
	}
	if err := s.producer.PublishEvent(ctx, eventType, "evolution-service", data); err != nil {
		logger.Log.WithError(err).Warn("failed to publish evolution event")
	}
}

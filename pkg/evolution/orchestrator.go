package evolution

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/clinsight-ai/platform/pkg/agent"
	"github.com/clinsight-ai/platform/pkg/common/logger"
	"github.com/clinsight-ai/platform/pkg/common/models"
)

// Orchestrator fans out the five extraction agents concurrently against the
// same read-only run context and merges their payloads into a single
// normalized evolution document. The join is all-or-nothing: the first agent
// failure cancels the remaining agents and fails the run.
type Orchestrator struct {
	agents       []agent.ExtractionAgent
	agentTimeout time.Duration
	clock        func() time.Time
}

func NewOrchestrator(agents []agent.ExtractionAgent, agentTimeout time.Duration) *Orchestrator {
	return &Orchestrator{
		agents:       agents,
		agentTimeout: agentTimeout,
		clock:        time.Now,
	}
}

// WithClock injects the timestamp source used for metadata.generated_at and
// alert detection times. Tests rely on this for deterministic output.
func (o *Orchestrator) WithClock(clock func() time.Time) *Orchestrator {
	if clock != nil {
		o.clock = clock
	}
	return o
}

func (o *Orchestrator) Run(ctx context.Context, rc agent.RunContext) (*models.PatientEvolutionOutput, error) {
	results := make(map[string]json.RawMessage, len(o.agents))
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	for _, a := range o.agents {
		a := a
		g.Go(func() error {
			agentCtx := gctx
			if o.agentTimeout > 0 {
				var cancel context.CancelFunc
				agentCtx, cancel = context.WithTimeout(gctx, o.agentTimeout)
				defer cancel()
			}

			started := time.Now()
			payload, err := a.Extract(agentCtx, rc)
			if err != nil {
				logger.Log.WithError(err).WithField("agent", a.Name()).Error("extraction agent failed")
				return err
			}

			logger.Log.WithFields(map[string]interface{}{
				"agent":    a.Name(),
				"bytes":    len(payload),
				"duration": time.Since(started).Milliseconds(),
			}).Info("extraction agent completed")

			mu.Lock()
			results[a.Name()] = payload
			mu.Unlock()
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	return o.merge(results)
}

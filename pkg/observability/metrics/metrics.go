package metrics

import (
	"fmt"
	"net/http"
	"sync/atomic"
)

var (
	runsStarted       atomic.Int64
	runsCompleted     atomic.Int64
	runsFailed        atomic.Int64
	agentFailures     atomic.Int64
	insightFallbacks  atomic.Int64
	insightAIServed   atomic.Int64
	snapshotsServed   atomic.Int64
	snapshotsNotReady atomic.Int64
)

func ObserveRunStarted()   { runsStarted.Add(1) }
func ObserveRunCompleted() { runsCompleted.Add(1) }
func ObserveRunFailed()    { runsFailed.Add(1) }
func ObserveAgentFailure() { agentFailures.Add(1) }

func ObserveInsightFallback() { insightFallbacks.Add(1) }
func ObserveInsightAI()       { insightAIServed.Add(1) }

func ObserveSnapshotServed()   { snapshotsServed.Add(1) }
func ObserveSnapshotNotReady() { snapshotsNotReady.Add(1) }

func WritePrometheus(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "text/plain; version=0.0.4")
	fmt.Fprintf(w, "# HELP clinsight_evolution_runs_started_total Number of evolution pipeline runs started.\n")
	fmt.Fprintf(w, "# TYPE clinsight_evolution_runs_started_total counter\n")
	fmt.Fprintf(w, "clinsight_evolution_runs_started_total %d\n", runsStarted.Load())

	fmt.Fprintf(w, "# HELP clinsight_evolution_runs_completed_total Number of evolution pipeline runs completed successfully.\n")
	fmt.Fprintf(w, "# TYPE clinsight_evolution_runs_completed_total counter\n")
	fmt.Fprintf(w, "clinsight_evolution_runs_completed_total %d\n", runsCompleted.Load())

	fmt.Fprintf(w, "# HELP clinsight_evolution_runs_failed_total Number of evolution pipeline runs failed.\n")
	fmt.Fprintf(w, "# TYPE clinsight_evolution_runs_failed_total counter\n")
	fmt.Fprintf(w, "clinsight_evolution_runs_failed_total %d\n", runsFailed.Load())

	fmt.Fprintf(w, "# HELP clinsight_evolution_agent_failures_total Number of extraction agent subprocess failures.\n")
	fmt.Fprintf(w, "# TYPE clinsight_evolution_agent_failures_total counter\n")
	fmt.Fprintf(w, "clinsight_evolution_agent_failures_total %d\n", agentFailures.Load())

	fmt.Fprintf(w, "# HELP clinsight_insight_fallbacks_total Number of insight requests served by the deterministic fallback.\n")
	fmt.Fprintf(w, "# TYPE clinsight_insight_fallbacks_total counter\n")
	fmt.Fprintf(w, "clinsight_insight_fallbacks_total %d\n", insightFallbacks.Load())

	fmt.Fprintf(w, "# HELP clinsight_insight_ai_served_total Number of insight requests served by the AI annotation service.\n")
	fmt.Fprintf(w, "# TYPE clinsight_insight_ai_served_total counter\n")
	fmt.Fprintf(w, "clinsight_insight_ai_served_total %d\n", insightAIServed.Load())

	fmt.Fprintf(w, "# HELP clinsight_snapshots_served_total Number of snapshot documents served to pollers.\n")
	fmt.Fprintf(w, "# TYPE clinsight_snapshots_served_total counter\n")
	fmt.Fprintf(w, "clinsight_snapshots_served_total %d\n", snapshotsServed.Load())

	fmt.Fprintf(w, "# HELP clinsight_snapshots_not_ready_total Number of poll attempts that found no ready snapshot.\n")
	fmt.Fprintf(w, "# TYPE clinsight_snapshots_not_ready_total counter\n")
	fmt.Fprintf(w, "clinsight_snapshots_not_ready_total %d\n", snapshotsNotReady.Load())
}

func Handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		WritePrometheus(w)
	}
}

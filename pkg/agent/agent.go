package agent

import (
	"context"
	"encoding/json"
	"path/filepath"
)

// RunContext carries everything an extraction agent needs for one invocation.
// The same read-only context is handed to every agent in a pipeline run.
type RunContext struct {
	Identifier string
	DataRoot   string
	AgentsDir  string
	PythonBin  string
}

// ExtractionAgent is the capability contract: given a patient identifier and a
// data root, produce a JSON payload.
type ExtractionAgent interface {
	Name() string
	Extract(ctx context.Context, rc RunContext) (json.RawMessage, error)
}

// Agent names used throughout the pipeline and in output provenance metadata.
const (
	NameIdentity  = "identity"
	NameProfile   = "profile"
	NameTemporal  = "temporal"
	NameFusion    = "fusion"
	NameNarrative = "narrative"
)

// ScriptAgent maps to exactly one external script invocation with the fixed
// argument convention `--identifier <id> --data-root <dir>`.
type ScriptAgent struct {
	name   string
	script string
	runner *Runner
}

func NewScriptAgent(name, script string, runner *Runner) *ScriptAgent {
	return &ScriptAgent{name: name, script: script, runner: runner}
}

func (a *ScriptAgent) Name() string { return a.name }

func (a *ScriptAgent) Extract(ctx context.Context, rc RunContext) (json.RawMessage, error) {
	bin := rc.PythonBin
	if bin == "" {
		bin = "python3"
	}
	script := filepath.Join(rc.AgentsDir, a.script)
	return a.runner.Run(ctx, a.name, bin,
		script,
		"--identifier", rc.Identifier,
		"--data-root", rc.DataRoot,
	)
}

// DefaultAgents returns the five extraction agents of the evolution pipeline.
func DefaultAgents(runner *Runner) []ExtractionAgent {
	return []ExtractionAgent{
		NewScriptAgent(NameIdentity, "identity_agent.py", runner),
		NewScriptAgent(NameProfile, "profile_builder_agent.py", runner),
		NewScriptAgent(NameTemporal, "temporal_evolution_agent.py", runner),
		NewScriptAgent(NameFusion, "context_fusion_agent.py", runner),
		NewScriptAgent(NameNarrative, "narrative_agent.py", runner),
	}
}

package agent

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os/exec"

	"github.com/clinsight-ai/platform/pkg/common/logger"
)

// DefaultMaxOutput caps captured agent stdout at 25 MB.
const DefaultMaxOutput = 25 * 1024 * 1024

// Executor runs an external process and returns its captured output channels
// and exit code. Injected so tests can substitute an in-memory fake without
// spawning real subprocesses.
type Executor interface {
	Run(ctx context.Context, bin string, args ...string) (stdout, stderr []byte, exitCode int, err error)
}

type processExecutor struct{}

// NewProcessExecutor returns the real subprocess-backed Executor.
func NewProcessExecutor() Executor { return processExecutor{} }

func (processExecutor) Run(ctx context.Context, bin string, args ...string) ([]byte, []byte, int, error) {
	cmd := exec.CommandContext(ctx, bin, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	exitCode := 0
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			exitCode = exitErr.ExitCode()
			err = nil
		}
	}
	return stdout.Bytes(), stderr.Bytes(), exitCode, err
}

// Runner executes an extraction agent as an isolated subprocess, enforces the
// output-size limit and extracts the JSON payload from mixed-text output.
type Runner struct {
	exec      Executor
	maxOutput int64
}

func NewRunner(exec Executor, maxOutput int64) *Runner {
	if maxOutput <= 0 {
		maxOutput = DefaultMaxOutput
	}
	return &Runner{exec: exec, maxOutput: maxOutput}
}

func (r *Runner) Run(ctx context.Context, agentName, bin string, args ...string) (json.RawMessage, error) {
	stdout, stderr, exitCode, err := r.exec.Run(ctx, bin, args...)
	if err != nil {
		return nil, fmt.Errorf("agent %s: starting process: %w", agentName, err)
	}
	if exitCode != 0 {
		return nil, &ExecutionError{Agent: agentName, ExitCode: exitCode, Stderr: string(stderr)}
	}
	if int64(len(stdout)) > r.maxOutput {
		return nil, fmt.Errorf("agent %s produced %d bytes: %w", agentName, len(stdout), ErrResourceExceeded)
	}

	// Agents may log diagnostics on stderr; that alone is not a failure.
	if len(stderr) > 0 {
		logger.Log.WithFields(map[string]interface{}{
			"agent": agentName,
			"bytes": len(stderr),
		}).Debug("agent emitted diagnostic output")
	}

	payload, err := ExtractJSON(stdout)
	if err != nil {
		return nil, fmt.Errorf("agent %s: %w", agentName, err)
	}
	return payload, nil
}

// ExtractJSON locates the first `{` or `[` (whichever comes first) and the
// last occurrence of the corresponding closing character, then parses the
// substring between them. Diagnostic lines before or after the payload are
// tolerated.
func ExtractJSON(out []byte) (json.RawMessage, error) {
	objStart := bytes.IndexByte(out, '{')
	arrStart := bytes.IndexByte(out, '[')

	start := -1
	var closer byte
	switch {
	case objStart >= 0 && (arrStart < 0 || objStart < arrStart):
		start, closer = objStart, '}'
	case arrStart >= 0:
		start, closer = arrStart, ']'
	}
	if start < 0 {
		return nil, fmt.Errorf("no opening bracket: %w", ErrMalformedOutput)
	}

	end := bytes.LastIndexByte(out, closer)
	if end < start {
		return nil, fmt.Errorf("truncated payload: %w", ErrMalformedOutput)
	}

	candidate := out[start : end+1]
	if !json.Valid(candidate) {
		return nil, fmt.Errorf("invalid JSON payload: %w", ErrMalformedOutput)
	}
	return json.RawMessage(candidate), nil
}

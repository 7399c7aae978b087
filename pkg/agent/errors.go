package agent

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrMalformedOutput indicates the agent printed no parseable JSON payload.
	ErrMalformedOutput = errors.New("agent output contains no parseable JSON payload")
	// ErrResourceExceeded indicates the agent produced more output than allowed.
	ErrResourceExceeded = errors.New("agent output exceeds size limit")
)

// ExecutionError carries the failing agent's name, exit code and captured
// diagnostic output for operator visibility.
type ExecutionError struct {
	Agent    string
	ExitCode int
	Stderr   string
}

func (e *ExecutionError) Error() string {
	msg := fmt.Sprintf("agent %s exited with code %d", e.Agent, e.ExitCode)
	if diag := strings.TrimSpace(e.Stderr); diag != "" {
		msg += ": " + diag
	}
	return msg
}

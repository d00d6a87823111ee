package tools

import (
	"context"
	"encoding/json"
	"os/exec"
	"path/filepath"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/m4xw311/docseek/errors"
)

// CapabilitySearch is the capability the agent uses for document search.
const CapabilitySearch = "search_docs"

// State is the lifecycle state of a tool process.
type State string

const (
	StateNotStarted State = "not_started"
	StateStarting   State = "starting"
	StateRunning    State = "running"
	StateStopping   State = "stopping"
	StateStopped    State = "stopped"
	StateFailed     State = "failed"
)

// Handle describes the tool process at the time it was returned.
type Handle struct {
	State State
	PID   int
	// Name is the server name reported during the handshake.
	Name string
}

// Provider exposes the capabilities of one external tool process. The agent
// only talks to the process through these operations.
type Provider interface {
	// EnsureRunning starts the process if it is not running. It is a no-op
	// when the process is already running and returns a ToolUnavailable error
	// while the provider is failed.
	EnsureRunning(ctx context.Context) (Handle, error)
	// Invoke runs one capability and returns its raw JSON result.
	Invoke(ctx context.Context, capability string, args map[string]any) (json.RawMessage, error)
	// Shutdown stops the process. It is idempotent and never fails.
	Shutdown()
	// Reset clears a failed state so the next EnsureRunning launches again.
	Reset()
	State() State
}

// Disabled is the Provider used when no tool process is configured.
type Disabled struct{}

func (Disabled) EnsureRunning(context.Context) (Handle, error) {
	return Handle{State: StateNotStarted}, errors.Newk(errors.KindToolUnavailable, "no tool process configured")
}

func (Disabled) Invoke(context.Context, string, map[string]any) (json.RawMessage, error) {
	return nil, errors.Newk(errors.KindToolUnavailable, "no tool process configured")
}

func (Disabled) Shutdown()    {}
func (Disabled) Reset()       {}
func (Disabled) State() State { return StateNotStarted }

// ResolveCommand looks up command on PATH and checks it against the allowed
// patterns. Failures are ToolUnavailable errors.
func ResolveCommand(command string, allowed []string) (string, error) {
	path, err := exec.LookPath(command)
	if err != nil {
		return "", errors.E(errors.KindToolUnavailable, errors.Wrapf(err, "tool command %q not found", command))
	}
	ok, err := isCommandAllowed(path, allowed)
	if err != nil {
		return "", errors.E(errors.KindToolUnavailable, err)
	}
	if !ok {
		return "", errors.Newk(errors.KindToolUnavailable, "tool command %q is not in allowed_commands", path)
	}
	return path, nil
}

// isCommandAllowed checks a resolved binary path against doublestar patterns.
// A pattern matches either the full path or the base name. An empty list
// allows everything.
func isCommandAllowed(path string, patterns []string) (bool, error) {
	if len(patterns) == 0 {
		return true, nil
	}
	for _, pattern := range patterns {
		if !doublestar.ValidatePathPattern(pattern) {
			return false, errors.Newk(errors.KindConfiguration, "invalid glob pattern '%s'", pattern)
		}
		target := path
		if filepath.Base(pattern) == pattern {
			target = filepath.Base(path)
		}
		match, err := doublestar.PathMatch(pattern, target)
		if err != nil {
			return false, errors.Newk(errors.KindConfiguration, "invalid glob pattern '%s': %v", pattern, err)
		}
		if match {
			return true, nil
		}
	}
	return false, nil
}

// Package agent is the boundary to whatever decides the browser actions.
// Engines propose actions through a Sink and block until the operator decides.
package agent

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ent0n29/browserpilot/internal/tasks"
)

// Sink receives everything an engine reports about one task.
type Sink interface {
	// Started signals that the engine is up and the task is running.
	Started()
	// Propose blocks until the operator decides. A rejection is returned only
	// after the task has been resumed.
	Propose(ctx context.Context, p tasks.Proposal) (tasks.Decision, error)
	Thought(content tasks.ThoughtContent)
	// Pause parks the task and blocks until it is resumed.
	Pause(ctx context.Context, reason string) error
	Log(message string)
}

// Engine runs one task to completion and returns a short result summary.
type Engine interface {
	Run(ctx context.Context, task tasks.Task, sink Sink) (string, error)
}

// ErrCancelled is returned when the coordinator withdraws a pending decision.
var ErrCancelled = errors.New("agent run cancelled")

// Config controls engine construction.
type Config struct {
	Mode         string
	RemoteURL    string
	ScenarioPath string
	StepDelay    time.Duration
	// OnReconnect is called before every redial of the remote worker.
	OnReconnect func(attempt int, err error)
}

func NewEngine(cfg Config) (Engine, error) {
	mode := strings.ToLower(strings.TrimSpace(cfg.Mode))
	if mode == "" {
		mode = "scripted"
	}

	switch mode {
	case "scripted":
		var scenario *Scenario
		if path := strings.TrimSpace(cfg.ScenarioPath); path != "" {
			s, err := LoadScenario(path)
			if err != nil {
				return nil, err
			}
			scenario = s
		}
		return NewScriptedEngine(scenario, cfg.StepDelay), nil
	case "remote":
		if strings.TrimSpace(cfg.RemoteURL) == "" {
			return nil, errors.New("agent remote url is required for remote mode")
		}
		return NewRemoteEngine(RemoteConfig{
			URL:         cfg.RemoteURL,
			OnReconnect: cfg.OnReconnect,
		}), nil
	case "mock":
		return NewMockEngine(), nil
	default:
		return nil, fmt.Errorf("unsupported agent mode %q", cfg.Mode)
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
			return nil
		}
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

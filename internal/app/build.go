package app

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/ent0n29/browserpilot/internal/agent"
	"github.com/ent0n29/browserpilot/internal/config"
	"github.com/ent0n29/browserpilot/internal/display"
	"github.com/ent0n29/browserpilot/internal/httpapi"
	"github.com/ent0n29/browserpilot/internal/observability"
	"github.com/ent0n29/browserpilot/internal/session"
	"github.com/ent0n29/browserpilot/internal/taskruntime"
)

type BuildResult struct {
	Config      config.Config
	API         *httpapi.Server
	Sessions    *session.Manager
	TaskService *taskruntime.Service
	Metrics     *observability.Metrics

	// Cleanup stops running tasks. Call it after the HTTP server has drained.
	Cleanup func() error
}

func Build(cfg config.Config, logger *zap.Logger) (*BuildResult, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	metrics := observability.NewMetrics(cfg.MetricsNamespace)

	engine, err := agent.NewEngine(agent.Config{
		Mode:         cfg.AgentMode,
		RemoteURL:    cfg.AgentRemoteURL,
		ScenarioPath: cfg.AgentScenarioPath,
		StepDelay:    cfg.AgentStepDelay,
		OnReconnect: func(attempt int, err error) {
			metrics.ObserveWorkerReconnect()
			logger.Warn("agent worker reconnect", zap.Int("attempt", attempt), zap.Error(err))
		},
	})
	if err != nil {
		return nil, fmt.Errorf("agent engine init failed: %w", err)
	}

	taskService := taskruntime.New(taskruntime.Config{
		TaskTimeout:  cfg.AgentTaskTimeout,
		EventHistory: cfg.TaskEventHistory,
	}, engine, metrics, logger.Named("tasks"))

	sessions := session.NewManager(cfg.SessionIdleTimeout)
	sessions.SetExpireHook(func(s *session.Session) {
		taskService.ForgetSession(s.ID)
		metrics.ObserveSessionEvent("expired")
		metrics.SetActiveSessions(sessions.ActiveCount())
	})

	var displayHandler http.Handler
	if cfg.DisplayEnabled {
		displayHandler = display.NewRelay(display.Config{
			VNCAddr:        cfg.DisplayVNCAddr,
			AllowAnyOrigin: cfg.AllowAnyOrigin,
		}, metrics, logger.Named("display"))
	}

	api := httpapi.New(cfg, sessions, taskService, displayHandler, metrics, logger.Named("http"))

	logger.Info("coordinator configured",
		zap.String("agent_mode", cfg.AgentMode),
		zap.Bool("display", cfg.DisplayEnabled),
		zap.Bool("rate_limit", cfg.RateLimitEnabled),
	)

	return &BuildResult{
		Config:      cfg,
		API:         api,
		Sessions:    sessions,
		TaskService: taskService,
		Metrics:     metrics,
		Cleanup:     taskService.Close,
	}, nil
}

// RunJanitors expires idle sessions and prunes finished tasks until ctx ends.
func (b *BuildResult) RunJanitors(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	b.Sessions.StartJanitor(ctx, interval)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if b.Config.TaskRetention > 0 {
				b.TaskService.PruneTerminal(b.Config.TaskRetention)
			}
			b.Metrics.SetActiveSessions(b.Sessions.ActiveCount())
			b.Metrics.SetRunningTasks(b.TaskService.RunningCount())
		}
	}
}

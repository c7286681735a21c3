package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// Config contains all runtime settings for the coordinator service.
type Config struct {
	BindAddr           string        `envconfig:"APP_BIND_ADDR" default:":8000"`
	ShutdownTimeout    time.Duration `envconfig:"APP_SHUTDOWN_TIMEOUT" default:"15s"`
	SessionIdleTimeout time.Duration `envconfig:"APP_SESSION_IDLE_TIMEOUT" default:"30m"`
	MetricsNamespace   string        `envconfig:"APP_METRICS_NAMESPACE" default:"browserpilot"`
	AllowAnyOrigin     bool          `envconfig:"APP_ALLOW_ANY_ORIGIN" default:"false"`

	LogLevel       string `envconfig:"LOG_LEVEL" default:"info"`
	LogDevelopment bool   `envconfig:"LOG_DEV" default:"false"`

	RateLimitEnabled bool `envconfig:"RATE_LIMIT_ENABLED" default:"true"`
	RateLimitRPS     int  `envconfig:"RATE_LIMIT_RPS" default:"20"`
	RateLimitBurst   int  `envconfig:"RATE_LIMIT_BURST" default:"40"`

	AgentMode         string        `envconfig:"AGENT_MODE" default:"scripted"`
	AgentRemoteURL    string        `envconfig:"AGENT_REMOTE_URL"`
	AgentScenarioPath string        `envconfig:"AGENT_SCENARIO_PATH"`
	AgentStepDelay    time.Duration `envconfig:"AGENT_STEP_DELAY" default:"1500ms"`
	AgentTaskTimeout  time.Duration `envconfig:"AGENT_TASK_TIMEOUT" default:"30m"`

	DisplayEnabled bool   `envconfig:"DISPLAY_ENABLED" default:"false"`
	DisplayVNCAddr string `envconfig:"DISPLAY_VNC_ADDR" default:"localhost:5900"`
	DisplayWSURL   string `envconfig:"DISPLAY_WS_URL"`

	TaskEventHistory int           `envconfig:"TASK_EVENT_HISTORY" default:"512"`
	TaskRetention    time.Duration `envconfig:"TASK_RETENTION" default:"0s"`
}

// ClientConfig holds settings for the operator console.
type ClientConfig struct {
	APIURL          string        `envconfig:"PILOT_API_URL" default:"http://localhost:8000/api"`
	RequestTimeout  time.Duration `envconfig:"PILOT_REQUEST_TIMEOUT" default:"10s"`
	StatusInterval  time.Duration `envconfig:"PILOT_STATUS_INTERVAL" default:"2s"`
	ActionFast      time.Duration `envconfig:"PILOT_ACTION_FAST_INTERVAL" default:"1s"`
	ActionSlow      time.Duration `envconfig:"PILOT_ACTION_SLOW_INTERVAL" default:"3s"`
	ThoughtInterval time.Duration `envconfig:"PILOT_THOUGHT_INTERVAL" default:"3s"`
	RevealStep      time.Duration `envconfig:"PILOT_REVEAL_STEP" default:"150ms"`
	LogLevel        string        `envconfig:"LOG_LEVEL" default:"warn"`
}

// Load reads an optional .env file and then the environment.
func Load(dotenvPaths ...string) (Config, error) {
	if err := loadDotEnv(dotenvPaths); err != nil {
		return Config{}, err
	}
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return Config{}, fmt.Errorf("load config: %w", err)
	}
	cfg.AgentMode = strings.ToLower(strings.TrimSpace(cfg.AgentMode))
	cfg.AgentRemoteURL = strings.TrimSpace(cfg.AgentRemoteURL)
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	switch c.AgentMode {
	case "scripted", "mock":
	case "remote":
		if c.AgentRemoteURL == "" {
			return fmt.Errorf("AGENT_REMOTE_URL is required when AGENT_MODE=remote")
		}
	default:
		return fmt.Errorf("AGENT_MODE must be one of scripted|remote|mock, got %q", c.AgentMode)
	}
	if c.SessionIdleTimeout < 5*time.Second {
		return fmt.Errorf("APP_SESSION_IDLE_TIMEOUT must be at least 5s")
	}
	if c.RateLimitEnabled && (c.RateLimitRPS <= 0 || c.RateLimitBurst <= 0) {
		return fmt.Errorf("RATE_LIMIT_RPS and RATE_LIMIT_BURST must be positive")
	}
	if c.TaskEventHistory <= 0 {
		return fmt.Errorf("TASK_EVENT_HISTORY must be positive")
	}
	if c.AgentStepDelay < 0 {
		return fmt.Errorf("AGENT_STEP_DELAY must be >= 0")
	}
	return nil
}

func LoadClient(dotenvPaths ...string) (ClientConfig, error) {
	if err := loadDotEnv(dotenvPaths); err != nil {
		return ClientConfig{}, err
	}
	var cfg ClientConfig
	if err := envconfig.Process("", &cfg); err != nil {
		return ClientConfig{}, fmt.Errorf("load client config: %w", err)
	}
	cfg.APIURL = strings.TrimRight(strings.TrimSpace(cfg.APIURL), "/")
	if cfg.APIURL == "" {
		return ClientConfig{}, fmt.Errorf("PILOT_API_URL must not be empty")
	}
	for name, d := range map[string]time.Duration{
		"PILOT_STATUS_INTERVAL":      cfg.StatusInterval,
		"PILOT_ACTION_FAST_INTERVAL": cfg.ActionFast,
		"PILOT_ACTION_SLOW_INTERVAL": cfg.ActionSlow,
		"PILOT_THOUGHT_INTERVAL":     cfg.ThoughtInterval,
	} {
		if d <= 0 {
			return ClientConfig{}, fmt.Errorf("%s must be positive", name)
		}
	}
	return cfg, nil
}

// loadDotEnv loads the given files, or ./.env when none are given. Missing
// files are ignored and existing environment variables always win.
func loadDotEnv(paths []string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	for _, p := range paths {
		if err := godotenv.Load(p); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return fmt.Errorf("load %s: %w", p, err)
		}
	}
	return nil
}

package httpapi

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/ent0n29/browserpilot/internal/config"
	"github.com/ent0n29/browserpilot/internal/observability"
	"github.com/ent0n29/browserpilot/internal/session"
	"github.com/ent0n29/browserpilot/internal/taskruntime"
)

// SessionHeader carries the operator console's identity.
const SessionHeader = "X-Session-ID"

type Server struct {
	cfg         config.Config
	sessions    *session.Manager
	taskService *taskruntime.Service
	metrics     *observability.Metrics
	logger      *zap.Logger
	display     http.Handler
	limiter     *ipLimiter
}

// New wires the HTTP surface. display may be nil when the remote display is off.
func New(cfg config.Config, sessions *session.Manager, taskService *taskruntime.Service, display http.Handler, metrics *observability.Metrics, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		cfg:         cfg,
		sessions:    sessions,
		taskService: taskService,
		metrics:     metrics,
		logger:      logger,
		display:     display,
	}
	if cfg.RateLimitEnabled {
		s.limiter = newIPLimiter(cfg.RateLimitRPS, cfg.RateLimitBurst)
	}
	return s
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(s.observe)

	r.Get("/healthz", s.handleHealth)
	r.Get("/readyz", s.handleReady)
	r.Get("/metrics", func(w http.ResponseWriter, r *http.Request) {
		observability.MetricsHandler().ServeHTTP(w, r)
	})
	if s.display != nil {
		r.Handle("/display/ws", s.display)
	}

	r.Route("/api", func(r chi.Router) {
		r.Use(s.cors)
		if s.limiter != nil {
			r.Use(s.rateLimit)
		}

		r.Get("/display", s.handleDisplayInfo)
		r.Get("/perf/latency", s.handlePerfLatency)

		r.Post("/tasks", s.handleCreateTask)
		r.Route("/tasks/{id}", func(r chi.Router) {
			r.Get("/", s.handleGetTask)
			r.Get("/status", s.handleTaskStatus)
			r.Get("/action", s.handleTaskAction)
			r.Get("/step", s.handleTaskStep)
			r.Get("/planner-thoughts", s.handlePlannerThoughts)
			r.Post("/planner-thoughts/mark-seen", s.handleMarkThoughtsSeen)
			r.Post("/resume", s.handleResume)
			r.Post("/approve-action", s.handleApproveAction)
			r.Post("/reject-action", s.handleRejectAction)
			r.Post("/approve", s.handleApproveAction)
			r.Post("/reject", s.handleRejectAction)
			r.Post("/stop", s.handleStop)
			r.Post("/cancel", s.handleCancel)
		})
	})

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"status":          "ok",
		"agent_mode":      s.cfg.AgentMode,
		"running_tasks":   s.taskService.RunningCount(),
		"active_sessions": s.sessions.ActiveCount(),
	})
}

func (s *Server) handleReady(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"status":          "ready",
		"display_enabled": s.display != nil,
	})
}

func (s *Server) handlePerfLatency(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, s.metrics.SnapshotLatency())
}

type displayInfo struct {
	Enabled bool   `json:"enabled"`
	WSURL   string `json:"ws_url,omitempty"`
}

func (s *Server) handleDisplayInfo(w http.ResponseWriter, r *http.Request) {
	if s.display == nil {
		respondJSON(w, http.StatusOK, displayInfo{})
		return
	}
	wsURL := strings.TrimSpace(s.cfg.DisplayWSURL)
	if wsURL == "" {
		scheme := "ws"
		if r.TLS != nil {
			scheme = "wss"
		}
		wsURL = scheme + "://" + r.Host + "/display/ws"
	}
	respondJSON(w, http.StatusOK, displayInfo{Enabled: true, WSURL: wsURL})
}

// observe logs each request and records it by route pattern.
func (s *Server) observe(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		route := r.URL.Path
		if rc := chi.RouteContext(r.Context()); rc != nil {
			if pattern := rc.RoutePattern(); pattern != "" {
				route = pattern
			}
		}
		code := ww.Status()
		if code == 0 {
			code = http.StatusOK
		}
		elapsed := time.Since(start)
		s.metrics.ObserveHTTP(r.Method, route, code, elapsed)

		fields := []zap.Field{
			zap.String("method", r.Method),
			zap.String("route", route),
			zap.Int("code", code),
			zap.Duration("elapsed", elapsed),
			zap.String("request_id", middleware.GetReqID(r.Context())),
		}
		if code >= http.StatusInternalServerError {
			s.logger.Warn("http request", fields...)
			return
		}
		s.logger.Debug("http request", fields...)
	})
}

func (s *Server) cors(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.cfg.AllowAnyOrigin {
			h := w.Header()
			h.Set("Access-Control-Allow-Origin", "*")
			h.Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
			h.Set("Access-Control-Allow-Headers", "Content-Type, "+SessionHeader)
			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusNoContent)
				return
			}
		}
		next.ServeHTTP(w, r)
	})
}

// touchSession records the request against the caller's operator session and
// returns the normalized session id.
func (s *Server) touchSession(r *http.Request, taskID string) string {
	sess := s.sessions.Touch(r.Header.Get(SessionHeader), taskID)
	if sess.RequestCount == 1 {
		s.metrics.ObserveSessionEvent("created")
	}
	s.metrics.SetActiveSessions(s.sessions.ActiveCount())
	return sess.ID
}

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

var errEmptyBody = errors.New("empty body")

func decodeJSON(r *http.Request, out any) error {
	if r.Body == nil {
		return errEmptyBody
	}
	defer r.Body.Close()
	dec := json.NewDecoder(io.LimitReader(r.Body, 1<<20))
	if err := dec.Decode(out); err != nil {
		if errors.Is(err, io.EOF) {
			return errEmptyBody
		}
		return err
	}
	return nil
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	respondJSON(w, status, errorResponse{Error: message, Code: code})
}

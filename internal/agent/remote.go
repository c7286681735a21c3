package agent

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/ent0n29/browserpilot/internal/protocol"
	"github.com/ent0n29/browserpilot/internal/reliability"
	"github.com/ent0n29/browserpilot/internal/tasks"
)

type RemoteConfig struct {
	URL          string
	DialAttempts int
	BackoffBase  time.Duration
	BackoffCap   time.Duration
	OnReconnect  func(attempt int, err error)
}

// RemoteEngine drives an external agent worker over a websocket, one
// connection per task.
type RemoteEngine struct {
	cfg    RemoteConfig
	dialer *websocket.Dialer
}

// WorkerError is a failure reported by the worker itself.
type WorkerError struct {
	Code      string
	Detail    string
	Retryable bool
}

func (e *WorkerError) Error() string {
	return fmt.Sprintf("agent worker error %s: %s", e.Code, e.Detail)
}

func NewRemoteEngine(cfg RemoteConfig) *RemoteEngine {
	if cfg.DialAttempts <= 0 {
		cfg.DialAttempts = 4
	}
	if cfg.BackoffBase <= 0 {
		cfg.BackoffBase = 250 * time.Millisecond
	}
	if cfg.BackoffCap <= 0 {
		cfg.BackoffCap = 4 * time.Second
	}
	return &RemoteEngine{
		cfg: cfg,
		dialer: &websocket.Dialer{
			HandshakeTimeout: 10 * time.Second,
			ReadBufferSize:   4096,
			WriteBufferSize:  4096,
		},
	}
}

func (e *RemoteEngine) Run(ctx context.Context, task tasks.Task, sink Sink) (string, error) {
	conn, err := e.dial(ctx)
	if err != nil {
		return "", err
	}
	defer conn.Close()

	w := &frameWriter{conn: conn}
	if err := w.write(protocol.StartTask{
		Type:        protocol.TypeStartTask,
		TaskID:      task.ID,
		Description: task.Description,
	}); err != nil {
		return "", fmt.Errorf("send start_task: %w", err)
	}

	runCtx, cancel := context.WithCancel(ctx)
	var pending sync.WaitGroup
	defer func() {
		cancel()
		pending.Wait()
	}()

	// Unblock ReadMessage when the task is cancelled.
	go func() {
		<-runCtx.Done()
		if ctx.Err() != nil {
			_ = w.write(protocol.Stop{Type: protocol.TypeStop, TaskID: task.ID, Reason: "cancelled"})
		}
		_ = conn.SetReadDeadline(time.Now())
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return "", ctx.Err()
			}
			return "", fmt.Errorf("read from agent worker: %w", err)
		}
		msg, err := protocol.ParseWorkerMessage(data)
		if err != nil {
			sink.Log("Ignored malformed worker frame: " + err.Error())
			continue
		}

		switch m := msg.(type) {
		case protocol.Started:
			sink.Started()
		case protocol.Thought:
			sink.Thought(m.Content)
		case protocol.Log:
			sink.Log(m.Message)
		case protocol.Proposal:
			pending.Add(1)
			go func(p tasks.Proposal) {
				defer pending.Done()
				decision, err := sink.Propose(runCtx, p)
				if err != nil {
					decision = tasks.DecisionCancelled
				}
				_ = w.write(protocol.Decision{
					Type:     protocol.TypeDecision,
					TaskID:   task.ID,
					Decision: decision,
				})
			}(m.Proposal)
		case protocol.Pause:
			pending.Add(1)
			go func(reason string) {
				defer pending.Done()
				if err := sink.Pause(runCtx, reason); err != nil {
					return
				}
				_ = w.write(protocol.Resume{Type: protocol.TypeResume, TaskID: task.ID})
			}(m.Reason)
		case protocol.Done:
			return m.Result, nil
		case protocol.Error:
			return "", &WorkerError{Code: m.Code, Detail: m.Detail, Retryable: m.Retryable}
		}
	}
}

func (e *RemoteEngine) dial(ctx context.Context) (*websocket.Conn, error) {
	var lastErr error
	for attempt := 0; attempt < e.cfg.DialAttempts; attempt++ {
		if attempt > 0 {
			if e.cfg.OnReconnect != nil {
				e.cfg.OnReconnect(attempt, lastErr)
			}
			if err := sleepCtx(ctx, reliability.ExponentialBackoff(attempt-1, e.cfg.BackoffBase, e.cfg.BackoffCap)); err != nil {
				return nil, err
			}
		}
		conn, resp, err := e.dialer.DialContext(ctx, e.cfg.URL, http.Header{})
		if err == nil {
			return conn, nil
		}
		lastErr = err
		if resp != nil && !reliability.IsRetryableHTTPStatus(resp.StatusCode) {
			return nil, fmt.Errorf("dial agent worker: %s: %w", resp.Status, err)
		}
		if resp == nil && !reliability.IsRetryableNetError(err) && !errors.Is(err, websocket.ErrBadHandshake) {
			return nil, fmt.Errorf("dial agent worker: %w", err)
		}
	}
	return nil, fmt.Errorf("dial agent worker after %d attempts: %w", e.cfg.DialAttempts, lastErr)
}

// frameWriter serializes writes; gorilla connections allow one writer at a time.
type frameWriter struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

func (w *frameWriter) write(v any) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	_ = w.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	return w.conn.WriteJSON(v)
}

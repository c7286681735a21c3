// Package display relays the remote browser's VNC stream to operator
// consoles over a websocket. Frames are copied verbatim in both directions.
package display

import (
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/ent0n29/browserpilot/internal/observability"
)

type Config struct {
	VNCAddr        string
	AllowAnyOrigin bool
	DialTimeout    time.Duration
}

// Relay is an http.Handler that bridges one websocket to one TCP connection.
type Relay struct {
	cfg      Config
	upgrader websocket.Upgrader
	metrics  *observability.Metrics
	logger   *zap.Logger
	dial     func(ctx context.Context, addr string) (net.Conn, error)
}

func NewRelay(cfg Config, metrics *observability.Metrics, logger *zap.Logger) *Relay {
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = 5 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	d := &net.Dialer{Timeout: cfg.DialTimeout}
	return &Relay{
		cfg:     cfg,
		metrics: metrics,
		logger:  logger,
		dial: func(ctx context.Context, addr string) (net.Conn, error) {
			return d.DialContext(ctx, "tcp", addr)
		},
		upgrader: websocket.Upgrader{
			ReadBufferSize:  32 << 10,
			WriteBufferSize: 32 << 10,
			Subprotocols:    []string{"binary"},
			CheckOrigin:     SameOrigin(cfg.AllowAnyOrigin),
		},
	}
}

// SameOrigin only lets browsers connect from the page's own host.
// Clients that send no Origin header are allowed.
func SameOrigin(allowAny bool) func(*http.Request) bool {
	return func(r *http.Request) bool {
		if allowAny {
			return true
		}
		origin := strings.TrimSpace(r.Header.Get("Origin"))
		if origin == "" {
			return true
		}
		u, err := url.Parse(origin)
		if err != nil {
			return false
		}
		if u.Scheme != "http" && u.Scheme != "https" {
			return false
		}
		return strings.EqualFold(u.Host, r.Host)
	}
}

func (rl *Relay) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	backend, err := rl.dial(r.Context(), rl.cfg.VNCAddr)
	if err != nil {
		rl.logger.Warn("display backend unreachable", zap.String("addr", rl.cfg.VNCAddr), zap.Error(err))
		http.Error(w, "display backend unavailable", http.StatusBadGateway)
		return
	}
	defer backend.Close()

	conn, err := rl.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	rl.logger.Debug("display relay opened", zap.String("remote", r.RemoteAddr))
	rl.pipe(conn, backend)
	rl.logger.Debug("display relay closed", zap.String("remote", r.RemoteAddr))
}

func (rl *Relay) pipe(conn *websocket.Conn, backend net.Conn) {
	var once sync.Once
	closeBoth := func() {
		once.Do(func() {
			_ = backend.Close()
			_ = conn.Close()
		})
	}

	var wg sync.WaitGroup
	wg.Add(2)

	// backend -> browser
	go func() {
		defer wg.Done()
		defer closeBoth()
		buf := make([]byte, 32<<10)
		for {
			n, err := backend.Read(buf)
			if n > 0 {
				_ = conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
				if werr := conn.WriteMessage(websocket.BinaryMessage, buf[:n]); werr != nil {
					return
				}
				rl.metrics.AddDisplayBytes("downstream", n)
			}
			if err != nil {
				if !errors.Is(err, io.EOF) && !errors.Is(err, net.ErrClosed) {
					rl.logger.Debug("display backend read", zap.Error(err))
				}
				return
			}
		}
	}()

	// browser -> backend
	go func() {
		defer wg.Done()
		defer closeBoth()
		for {
			typ, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			if typ != websocket.BinaryMessage && typ != websocket.TextMessage {
				continue
			}
			if _, err := backend.Write(data); err != nil {
				return
			}
			rl.metrics.AddDisplayBytes("upstream", len(data))
		}
	}()

	wg.Wait()
}

package monitor

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"runtime/debug"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/r3d91ll/reflex/pkg/config"
	rerrors "github.com/r3d91ll/reflex/pkg/errors"
)

// Server serves /healthz and the /ws hub endpoint.
type Server struct {
	cfg    config.MonitorConfig
	hub    *Hub
	logger zerolog.Logger

	mu       sync.Mutex
	http     *http.Server
	listener net.Listener
	started  time.Time
}

// NewServer creates a server around hub.
func NewServer(cfg config.MonitorConfig, hub *Hub, logger zerolog.Logger) *Server {
	if cfg.Host == "" {
		cfg.Host = "localhost"
	}
	return &Server{cfg: cfg, hub: hub, logger: logger}
}

// Address returns the configured host:port.
func (s *Server) Address() string {
	return fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port)
}

// Handler returns the routed handler with recovery and request logging.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", s.handleHealth)
	mux.Handle("/ws", s.hub)
	return s.recovery(s.logging(mux))
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"status":  "ok",
		"clients": s.hub.ClientCount(),
	})
}

// Start binds the listener and serves in the background. Binding errors
// are returned directly.
func (s *Server) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.http != nil {
		return rerrors.New(rerrors.ErrMonitorStartFailed, rerrors.CategoryNetwork, "monitor already running")
	}

	ln, err := net.Listen("tcp", s.Address())
	if err != nil {
		return rerrors.NetworkWrap(err, rerrors.ErrMonitorStartFailed, "failed to bind monitor").
			WithContext("address", s.Address())
	}

	s.listener = ln
	s.started = time.Now()
	s.http = &http.Server{
		Handler:     s.Handler(),
		ReadTimeout: 15 * time.Second,
		IdleTimeout: 60 * time.Second,
	}
	go s.hub.Run()
	go func(srv *http.Server) {
		if err := srv.Serve(ln); err != nil && err != http.ErrServerClosed {
			s.logger.Error().Err(err).Msg("monitor server stopped")
		}
	}(s.http)

	s.logger.Info().Str("address", ln.Addr().String()).Msg("monitor listening")
	return nil
}

// Addr returns the bound address, or nil before Start.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Shutdown stops the server and the hub.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.http == nil {
		return nil
	}
	s.logger.Info().Dur("uptime", time.Since(s.started)).Msg("monitor shutting down")
	s.hub.Stop()
	err := s.http.Shutdown(ctx)
	s.http = nil
	s.listener = nil
	return err
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

// Hijack lets the websocket upgrader take over the connection.
func (w *statusWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	if hj, ok := w.ResponseWriter.(http.Hijacker); ok {
		return hj.Hijack()
	}
	return nil, nil, http.ErrNotSupported
}

func (s *Server) logging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(sw, r)
		s.logger.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", sw.status).
			Dur("latency", time.Since(start)).
			Msg("request")
	})
}

func (s *Server) recovery(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if err := recover(); err != nil {
				s.logger.Error().Interface("panic", err).Bytes("stack", debug.Stack()).Msg("handler panic")
				http.Error(w, "internal error", http.StatusInternalServerError)
			}
		}()
		next.ServeHTTP(w, r)
	})
}

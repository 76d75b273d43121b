package stream

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/nerrad567/homelink-core/internal/device"
	"github.com/nerrad567/homelink-core/internal/infrastructure/config"
)

const (
	defaultPingInterval   = 30 * time.Second
	defaultPongTimeout    = 10 * time.Second
	defaultMaxMessageSize = 4096
)

// Watcher opens change subscriptions. *device.Registry satisfies it.
type Watcher interface {
	Watch(ctx context.Context, deviceID string) *device.Subscription
}

// Recorder tracks open sessions. *metrics.Metrics satisfies it.
type Recorder interface {
	ObserverOpened()
	ObserverClosed()
}

// Logger defines the logging interface used by the Server.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

type noopRecorder struct{}

func (noopRecorder) ObserverOpened() {}
func (noopRecorder) ObserverClosed() {}

// Server accepts observer sessions and tracks them for shutdown.
type Server struct {
	watcher  Watcher
	upgrader websocket.Upgrader

	maxMessageSize int64
	pingInterval   time.Duration
	pongTimeout    time.Duration

	logger   Logger
	recorder Recorder

	ctx    context.Context
	cancel context.CancelFunc

	mu       sync.Mutex
	sessions map[*Session]struct{}
	closed   bool
	wg       sync.WaitGroup
}

// Option configures a Server.
type Option func(*Server)

// WithLogger sets the server's logger.
func WithLogger(l Logger) Option {
	return func(s *Server) { s.logger = l }
}

// WithRecorder sets the session recorder.
func WithRecorder(r Recorder) Option {
	return func(s *Server) { s.recorder = r }
}

// NewServer creates a stream server reading changes from watcher.
func NewServer(watcher Watcher, cfg config.WebSocketConfig, opts ...Option) *Server {
	ctx, cancel := context.WithCancel(context.Background())
	s := &Server{
		watcher: watcher,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(_ *http.Request) bool {
				// Origin checking is handled by CORS middleware
				return true
			},
		},
		maxMessageSize: int64(cfg.MaxMessageSize),
		pingInterval:   cfg.PingIntervalDuration(),
		pongTimeout:    cfg.PongTimeoutDuration(),
		logger:         noopLogger{},
		recorder:       noopRecorder{},
		ctx:            ctx,
		cancel:         cancel,
		sessions:       make(map[*Session]struct{}),
	}
	if s.maxMessageSize <= 0 {
		s.maxMessageSize = defaultMaxMessageSize
	}
	if s.pingInterval <= 0 {
		s.pingInterval = defaultPingInterval
	}
	if s.pongTimeout <= 0 {
		s.pongTimeout = defaultPongTimeout
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Serve upgrades the request and streams deviceID's changes until the
// session closes. It blocks for the lifetime of the session.
//
// After Close it replies 503 and returns ErrServerClosed. Upgrade failures
// have already been answered by the upgrader and are returned as is.
func (s *Server) Serve(w http.ResponseWriter, r *http.Request, deviceID string, format Format) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		http.Error(w, "server shutting down", http.StatusServiceUnavailable)
		return ErrServerClosed
	}
	s.wg.Add(1)
	s.mu.Unlock()
	defer s.wg.Done()

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", "device_id", deviceID, "error", err)
		return err
	}
	conn.SetReadLimit(s.maxMessageSize)

	sess := &Session{
		id:           uuid.NewString(),
		deviceID:     deviceID,
		format:       format,
		conn:         conn,
		pingInterval: s.pingInterval,
		pongTimeout:  s.pongTimeout,
	}
	sess.setPhase(PhaseAccepted)

	s.track(sess)
	defer s.untrack(sess)

	s.logger.Debug("stream session accepted",
		"session_id", sess.id,
		"device_id", deviceID,
		"remote_addr", r.RemoteAddr,
	)
	sess.run(s.ctx, s.watcher, s.logger)
	return nil
}

// SessionCount returns the number of open sessions.
func (s *Server) SessionCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

// Close cancels every session and waits for them to finish. Later calls
// to Serve are refused. It is safe to call more than once.
func (s *Server) Close() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()

	s.cancel()
	s.wg.Wait()
}

func (s *Server) track(sess *Session) {
	s.mu.Lock()
	s.sessions[sess] = struct{}{}
	s.mu.Unlock()
	s.recorder.ObserverOpened()
}

func (s *Server) untrack(sess *Session) {
	s.mu.Lock()
	delete(s.sessions, sess)
	s.mu.Unlock()
	s.recorder.ObserverClosed()
}

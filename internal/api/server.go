package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/nerrad567/homelink-core/internal/auth"
	"github.com/nerrad567/homelink-core/internal/command"
	"github.com/nerrad567/homelink-core/internal/device"
	"github.com/nerrad567/homelink-core/internal/infrastructure/config"
	"github.com/nerrad567/homelink-core/internal/infrastructure/logging"
	"github.com/nerrad567/homelink-core/internal/infrastructure/mqtt"
	"github.com/nerrad567/homelink-core/internal/metrics"
	"github.com/nerrad567/homelink-core/internal/stream"
)

// gracefulShutdownTimeout is the maximum time to wait for in-flight requests
// to complete during shutdown.
const gracefulShutdownTimeout = 10 * time.Second

// HealthChecker is implemented by every backing service reported on
// /api/v1/health.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// Deps holds the dependencies required by the API server.
type Deps struct {
	Config     config.APIConfig
	Logger     *logging.Logger
	Registry   *device.Registry
	Dispatcher *command.Dispatcher
	Stream     *stream.Server
	Verifier   *auth.TokenVerifier

	// Optional.
	Metrics *metrics.Metrics
	Limiter Limiter
	Topics  mqtt.Topics
	Broker  string
	Checks  map[string]HealthChecker
	Version string
}

// Server is the HTTP API server for HomeLink Core.
//
// The server is created with New() and started with Start().
type Server struct {
	cfg        config.APIConfig
	logger     *logging.Logger
	registry   *device.Registry
	dispatcher *command.Dispatcher
	stream     *stream.Server
	verifier   *auth.TokenVerifier
	metrics    *metrics.Metrics
	limiter    Limiter
	topics     mqtt.Topics
	broker     string
	checks     map[string]HealthChecker
	version    string
	startTime  time.Time
	server     *http.Server
}

// New creates a new API server with the given dependencies.
//
// The server is not started until Start() is called.
func New(deps Deps) (*Server, error) {
	if deps.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if deps.Registry == nil {
		return nil, fmt.Errorf("device registry is required")
	}
	if deps.Dispatcher == nil {
		return nil, fmt.Errorf("command dispatcher is required")
	}
	if deps.Stream == nil {
		return nil, fmt.Errorf("stream server is required")
	}
	if deps.Verifier == nil {
		return nil, fmt.Errorf("token verifier is required")
	}

	return &Server{
		cfg:        deps.Config,
		logger:     deps.Logger,
		registry:   deps.Registry,
		dispatcher: deps.Dispatcher,
		stream:     deps.Stream,
		verifier:   deps.Verifier,
		metrics:    deps.Metrics,
		limiter:    deps.Limiter,
		topics:     deps.Topics,
		broker:     deps.Broker,
		checks:     deps.Checks,
		version:    deps.Version,
		startTime:  time.Now(),
	}, nil
}

// Handler returns the fully wired router. Start uses it; tests serve it
// through httptest.
func (s *Server) Handler() http.Handler {
	return s.buildRouter()
}

// Start begins listening for HTTP connections in a background goroutine.
// The server can be stopped with Close().
func (s *Server) Start(_ context.Context) error {
	s.server = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port),
		Handler:           s.buildRouter(),
		ReadTimeout:       time.Duration(s.cfg.Timeouts.Read) * time.Second,
		ReadHeaderTimeout: time.Duration(s.cfg.Timeouts.Read) * time.Second,
		WriteTimeout:      time.Duration(s.cfg.Timeouts.Write) * time.Second,
		IdleTimeout:       time.Duration(s.cfg.Timeouts.Idle) * time.Second,
	}

	go func() {
		var err error
		if s.cfg.TLS.Enabled {
			s.logger.Info("API server starting with TLS",
				"address", s.server.Addr,
				"cert", s.cfg.TLS.CertFile,
			)
			err = s.server.ListenAndServeTLS(s.cfg.TLS.CertFile, s.cfg.TLS.KeyFile)
		} else {
			s.logger.Info("API server starting", "address", s.server.Addr)
			err = s.server.ListenAndServe()
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("API server error", "error", err)
		}
	}()

	return nil
}

// Close gracefully shuts down the API server.
//
// In-flight requests get up to 10 seconds. http.Server.Shutdown does not
// wait for hijacked connections, so observer sessions are closed
// afterwards and waited for separately.
func (s *Server) Close() error {
	defer s.stream.Close()

	if s.server == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), gracefulShutdownTimeout)
	defer cancel()

	s.logger.Info("API server shutting down")
	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutting down API server: %w", err)
	}
	return nil
}

// HealthCheck verifies the API server is running and responsive.
func (s *Server) HealthCheck(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return fmt.Errorf("api health check: %w", ctx.Err())
	default:
	}

	if s.server == nil {
		return fmt.Errorf("api server not started")
	}

	return nil
}

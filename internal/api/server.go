package api

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/nerrad567/gray-logic-ota/internal/audit"
	"github.com/nerrad567/gray-logic-ota/internal/device"
	"github.com/nerrad567/gray-logic-ota/internal/firmware"
	"github.com/nerrad567/gray-logic-ota/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-ota/internal/infrastructure/logging"
	"github.com/nerrad567/gray-logic-ota/internal/infrastructure/metrics"
)

// gracefulShutdownTimeout is the maximum time to wait for in-flight requests
// to complete during shutdown.
const gracefulShutdownTimeout = 10 * time.Second

// DeviceSync keeps firmware management in step with catalogue edits.
// It is satisfied by *fleet.Fleet.
type DeviceSync interface {
	Sync(ctx context.Context, dev device.Device) error
	Remove(ctx context.Context, deviceID string) error
}

// InstallHistory lists past installs. It is satisfied by
// *firmware.SQLiteRepository.
type InstallHistory interface {
	ListInstalls(ctx context.Context, deviceID string, limit int) ([]firmware.InstallRecord, error)
}

// AuditLog stores operator actions. It is satisfied by
// *audit.SQLiteRepository.
type AuditLog interface {
	Create(ctx context.Context, e *audit.Entry) error
	List(ctx context.Context, filter audit.Filter) (*audit.ListResult, error)
}

// HealthChecker is implemented by infrastructure components that can
// report their own health.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// Deps holds the dependencies required by the API server.
type Deps struct {
	Config   config.APIConfig
	WS       config.WebSocketConfig
	Security config.SecurityConfig
	Logger   *logging.Logger
	Devices  *device.Registry
	Firmware *firmware.Manager
	Fleet    DeviceSync
	History  InstallHistory
	Audit    AuditLog         // optional; records mutating requests
	Metrics  *metrics.Metrics // optional; enables /metrics and request metrics
	DB       *sql.DB          // optional; reported by the status endpoint
	Hub      *Hub             // optional; created by Start when nil
	// HealthChecks are run by /health, keyed by component name.
	HealthChecks map[string]HealthChecker
	Version      string
}

// Server is the HTTP API server.
//
// It manages the HTTP listener, routes, middleware, and WebSocket hub.
// The server is created with New() and started with Start().
type Server struct {
	cfg          config.APIConfig
	wsCfg        config.WebSocketConfig
	secCfg       config.SecurityConfig
	logger       *logging.Logger
	devices      *device.Registry
	firmware     *firmware.Manager
	fleet        DeviceSync
	history      InstallHistory
	audit        AuditLog
	metrics      *metrics.Metrics
	db           *sql.DB
	healthChecks map[string]HealthChecker
	version      string
	startTime    time.Time
	server       *http.Server
	hub          *Hub
	externalHub  bool

	// ctx bounds background installs and the hub; cancelled by Close.
	ctx      context.Context
	cancel   context.CancelFunc
	installs sync.WaitGroup
}

// New creates a new API server with the given dependencies.
//
// The server is not started until Start() is called.
//
// Parameters:
//   - deps: Required dependencies (logger, catalogue, firmware manager, fleet)
//
// Returns:
//   - *Server: Configured server ready to start
//   - error: If required dependencies are missing
func New(deps Deps) (*Server, error) {
	if deps.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if deps.Devices == nil {
		return nil, fmt.Errorf("device registry is required")
	}
	if deps.Firmware == nil {
		return nil, fmt.Errorf("firmware manager is required")
	}
	if deps.Fleet == nil {
		return nil, fmt.Errorf("fleet is required")
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &Server{
		cfg:          deps.Config,
		wsCfg:        deps.WS,
		secCfg:       deps.Security,
		logger:       deps.Logger,
		devices:      deps.Devices,
		firmware:     deps.Firmware,
		fleet:        deps.Fleet,
		history:      deps.History,
		audit:        deps.Audit,
		metrics:      deps.Metrics,
		db:           deps.DB,
		healthChecks: deps.HealthChecks,
		version:      deps.Version,
		startTime:    time.Now(),
		ctx:          ctx,
		cancel:       cancel,
	}

	// An injected hub is also registered as a firmware observer by the caller.
	if deps.Hub != nil {
		s.hub = deps.Hub
		s.externalHub = true
	}

	return s, nil
}

// Hub returns the WebSocket hub, or nil before Start when none was injected.
func (s *Server) Hub() *Hub {
	return s.hub
}

// Start begins listening for HTTP connections.
//
// It sets up the router, starts the WebSocket hub and launches the HTTP
// listener in a background goroutine. The server can be stopped with Close().
//
// Parameters:
//   - ctx: Context for cancellation (not used for listener lifetime)
//
// Returns:
//   - error: If the server fails to start (port in use, etc.)
func (s *Server) Start(ctx context.Context) error {
	context.AfterFunc(ctx, s.cancel)

	if s.hub == nil {
		s.hub = NewHub(s.wsCfg, s.logger)
	}
	if !s.externalHub {
		go s.hub.Run(s.ctx)
	}

	router := s.buildRouter()

	s.server = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port),
		Handler:           router,
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
// It cancels background installs started through the API, then waits up
// to 10 seconds for in-flight requests and installs to finish.
//
// Returns:
//   - error: If shutdown encounters an error
func (s *Server) Close() error {
	s.cancel()

	ctx, cancel := context.WithTimeout(context.Background(), gracefulShutdownTimeout)
	defer cancel()

	var shutdownErr error
	if s.server != nil {
		s.logger.Info("API server shutting down")
		if err := s.server.Shutdown(ctx); err != nil {
			shutdownErr = fmt.Errorf("shutting down API server: %w", err)
		}
	}

	done := make(chan struct{})
	go func() {
		s.installs.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		s.logger.Warn("installs still running at shutdown")
	}
	return shutdownErr
}

// HealthCheck verifies the API server is running and responsive.
//
// Parameters:
//   - ctx: Context for timeout/cancellation
//
// Returns:
//   - error: nil if healthy, error describing the issue otherwise
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

package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/nerrad567/relaybus-core/internal/audit"
	"github.com/nerrad567/relaybus-core/internal/automation"
	"github.com/nerrad567/relaybus-core/internal/command"
	"github.com/nerrad567/relaybus-core/internal/device"
	"github.com/nerrad567/relaybus-core/internal/infrastructure/config"
	"github.com/nerrad567/relaybus-core/internal/infrastructure/logging"
	"github.com/nerrad567/relaybus-core/internal/metrics"
)

// gracefulShutdownTimeout is the maximum time to wait for in-flight requests
// to complete during shutdown.
const gracefulShutdownTimeout = 10 * time.Second

// CommandSubmitter is the relay command entrypoint.
type CommandSubmitter interface {
	Submit(ctx context.Context, channelID string, state bool, source device.Source) (*command.Pending, error)
	Depths() map[string]int
}

// HealthChecker reports whether a dependency is usable.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// ReloadFunc refreshes registries from storage and resyncs transport workers.
type ReloadFunc func(ctx context.Context) error

// Deps holds the dependencies required by the API server.
type Deps struct {
	Config      config.APIConfig
	WS          config.WebSocketConfig
	Site        config.SiteConfig
	Logger      *logging.Logger
	Registry    *device.Registry
	Readings    device.ReadingRepository
	RelayStates device.RelayStateRepository
	Rules       *automation.Registry // optional: read-only schedule/trigger listing
	Commands    CommandSubmitter
	Audit       audit.Repository // optional
	Metrics     *metrics.Metrics // optional
	DB          HealthChecker    // optional
	MQTT        HealthChecker    // optional
	Reload      ReloadFunc       // optional
	Hub         *Hub             // If set, the server uses this hub instead of creating its own
	Version     string
}

// Server is the HTTP API server for RelayBus Core.
//
// It manages the HTTP listener, routes, middleware, and WebSocket hub.
// The server is created with New() and started with Start().
type Server struct {
	cfg         config.APIConfig
	wsCfg       config.WebSocketConfig
	site        config.SiteConfig
	logger      *logging.Logger
	registry    *device.Registry
	readings    device.ReadingRepository
	relayStates device.RelayStateRepository
	rules       *automation.Registry
	commands    CommandSubmitter
	auditRepo   audit.Repository
	metrics     *metrics.Metrics
	db          HealthChecker
	mqtt        HealthChecker
	reload      ReloadFunc
	version     string
	startTime   time.Time
	server      *http.Server
	hub         *Hub
	externalHub bool               // true if hub was injected externally
	cancel      context.CancelFunc // cancels background goroutines on Close()
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
	if deps.Readings == nil || deps.RelayStates == nil {
		return nil, fmt.Errorf("reading and relay state repositories are required")
	}
	if deps.Commands == nil {
		return nil, fmt.Errorf("command submitter is required")
	}

	s := &Server{
		cfg:         deps.Config,
		wsCfg:       deps.WS,
		site:        deps.Site,
		logger:      deps.Logger,
		registry:    deps.Registry,
		readings:    deps.Readings,
		relayStates: deps.RelayStates,
		rules:       deps.Rules,
		commands:    deps.Commands,
		auditRepo:   deps.Audit,
		metrics:     deps.Metrics,
		db:          deps.DB,
		mqtt:        deps.MQTT,
		reload:      deps.Reload,
		version:     deps.Version,
		startTime:   time.Now(),
	}

	// The hub is shared with the poller and command queue observers, which
	// are wired before the server starts.
	if deps.Hub != nil {
		s.hub = deps.Hub
		s.externalHub = true
	}

	return s, nil
}

// Handler returns the fully wired router. Start uses it for the listener;
// tests use it with httptest.
func (s *Server) Handler() http.Handler {
	if s.hub == nil {
		s.hub = NewHub(s.wsCfg, s.logger)
	}
	return s.buildRouter()
}

// Start begins listening for HTTP connections.
//
// It starts the WebSocket hub (unless injected), builds the router and
// launches the HTTP listener in a background goroutine. The server can be
// stopped with Close().
func (s *Server) Start(ctx context.Context) error {
	var srvCtx context.Context
	srvCtx, s.cancel = context.WithCancel(ctx)

	if s.hub == nil {
		s.hub = NewHub(s.wsCfg, s.logger)
	}
	if !s.externalHub {
		go s.hub.Run(srvCtx)
	}

	s.server = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port),
		Handler:           s.buildRouter(),
		ReadTimeout:       time.Duration(s.cfg.Timeouts.Read) * time.Second,
		ReadHeaderTimeout: time.Duration(s.cfg.Timeouts.Read) * time.Second,
		WriteTimeout:      time.Duration(s.cfg.Timeouts.Write) * time.Second,
		IdleTimeout:       time.Duration(s.cfg.Timeouts.Idle) * time.Second,
	}

	go func() {
		s.logger.Info("API server listening", "address", s.server.Addr)
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("API server error", "error", err)
		}
	}()

	return nil
}

// Close gracefully shuts down the API server.
//
// It waits up to 10 seconds for in-flight requests to complete,
// then forcefully closes remaining connections.
func (s *Server) Close() error {
	if s.server == nil {
		return nil
	}

	if s.cancel != nil {
		s.cancel()
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

package api

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/nerrad567/growcube-bridge/internal/bridges/growcube"
	"github.com/nerrad567/growcube-bridge/internal/device"
	"github.com/nerrad567/growcube-bridge/internal/infrastructure/config"
	"github.com/nerrad567/growcube-bridge/internal/infrastructure/influxdb"
	"github.com/nerrad567/growcube-bridge/internal/infrastructure/logging"
)

// gracefulShutdownTimeout is the maximum time to wait for in-flight requests
// to complete during shutdown.
const gracefulShutdownTimeout = 10 * time.Second

// LiveDevices exposes the connected devices. growcube.Manager implements it.
type LiveDevices interface {
	Snapshot(id string) (growcube.Snapshot, error)
	DeviceStatuses() []growcube.DeviceStatus
}

// CommandExecutor runs device actions. growcube.CommandHandler implements it.
type CommandExecutor interface {
	Execute(ctx context.Context, cmd *growcube.CommandMessage) error
}

// HealthSource reports the bridge status. growcube.HealthReporter implements it.
type HealthSource interface {
	Status() (growcube.HealthStatus, string)
}

// ConnectionStatus reports whether a transport is connected. mqtt.Client implements it.
type ConnectionStatus interface {
	IsConnected() bool
}

// SubscriptionLister is optionally implemented by the MQTT connection.
type SubscriptionLister interface {
	Subscriptions() []string
}

// DBStatsProvider exposes connection pool statistics. database.DB implements it.
type DBStatsProvider interface {
	Stats() sql.DBStats
}

// RecorderStatsProvider exposes recorder counters. growcube.Recorder implements it.
type RecorderStatsProvider interface {
	Stats() growcube.RecorderStats
}

// TelemetryStatsProvider exposes time-series write counters.
// influxdb.Client implements it.
type TelemetryStatsProvider interface {
	Stats() influxdb.Stats
}

// DeviceRemover clears what the bridge published for a deleted device.
// growcube.StatePublisher implements it.
type DeviceRemover interface {
	RemoveDevice(deviceID string)
}

// Deps holds the dependencies required by the API server.
type Deps struct {
	Config   config.APIConfig
	WS       config.WebSocketConfig
	Security config.SecurityConfig
	Logger   *logging.Logger
	Registry *device.Registry

	// Optional collaborators; endpoints that need a missing one answer 503.
	History   device.StateHistoryRepository
	Devices   LiveDevices
	Commands  CommandExecutor
	Health    HealthSource
	MQTT      ConnectionStatus
	DB        DBStatsProvider
	Recorder  RecorderStatsProvider
	Telemetry TelemetryStatsProvider
	Remover   DeviceRemover

	Version string
}

// Server is the HTTP API server for the Growcube bridge.
//
// It manages the HTTP listener, routes, middleware, and WebSocket hub.
// The server is created with New() and started with Start().
type Server struct {
	cfg      config.APIConfig
	wsCfg    config.WebSocketConfig
	secCfg   config.SecurityConfig
	logger   *logging.Logger
	registry *device.Registry
	history  device.StateHistoryRepository
	devices  LiveDevices
	commands CommandExecutor
	health   HealthSource
	mqtt     ConnectionStatus
	db       DBStatsProvider
	recorder RecorderStatsProvider
	influx   TelemetryStatsProvider
	remover  DeviceRemover
	version  string

	startTime time.Time
	server    *http.Server
	hub       *Hub
	tickets   *ticketStore
	cancel    context.CancelFunc // cancels background goroutines on Close()
}

// New creates a new API server with the given dependencies.
//
// The server is not started until Start() is called.
//
// Parameters:
//   - deps: Required dependencies (config, logger, registry) plus optional collaborators
//
// Returns:
//   - *Server: Configured server ready to start
//   - error: If required dependencies are missing
func New(deps Deps) (*Server, error) {
	if deps.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if deps.Registry == nil {
		return nil, fmt.Errorf("device registry is required")
	}

	return &Server{
		cfg:       deps.Config,
		wsCfg:     deps.WS,
		secCfg:    deps.Security,
		logger:    deps.Logger,
		registry:  deps.Registry,
		history:   deps.History,
		devices:   deps.Devices,
		commands:  deps.Commands,
		health:    deps.Health,
		mqtt:      deps.MQTT,
		db:        deps.DB,
		recorder:  deps.Recorder,
		influx:    deps.Telemetry,
		remover:   deps.Remover,
		version:   deps.Version,
		startTime: time.Now(),
		hub:       NewHub(deps.WS, deps.Logger),
		tickets:   newTicketStore(),
	}, nil
}

// Hub returns the WebSocket hub.
func (s *Server) Hub() *Hub {
	return s.hub
}

// Start begins listening for HTTP connections.
//
// It starts the WebSocket hub and ticket cleanup, builds the router and
// launches the HTTP listener in a background goroutine. The server can be
// stopped with Close().
//
// Parameters:
//   - ctx: Parent context for the background goroutines
//
// Returns:
//   - error: If the server is already started
func (s *Server) Start(ctx context.Context) error {
	if s.server != nil {
		return fmt.Errorf("api server already started")
	}

	// Internal context so Close() can stop background goroutines
	// independently of the parent context.
	var srvCtx context.Context
	srvCtx, s.cancel = context.WithCancel(ctx)

	go s.hub.Run(srvCtx)
	go s.cleanTicketsLoop(srvCtx)

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
// It waits up to 10 seconds for in-flight requests to complete,
// then forcefully closes remaining connections.
//
// Returns:
//   - error: If shutdown encounters an error
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

// authEnabled reports whether bearer authentication is enforced.
func (s *Server) authEnabled() bool {
	return s.secCfg.JWT.Secret != ""
}

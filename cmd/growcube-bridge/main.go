// Growcube Bridge
//
// growcube-bridge connects Elecrow Growcube irrigation controllers on the
// local network to MQTT (with Home Assistant discovery), an HTTP/WebSocket
// API, a local SQLite registry and optional InfluxDB telemetry.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	_ "github.com/nerrad567/growcube-bridge/migrations"

	"github.com/nerrad567/growcube-bridge/internal/api"
	"github.com/nerrad567/growcube-bridge/internal/auth"
	"github.com/nerrad567/growcube-bridge/internal/bridges/growcube"
	"github.com/nerrad567/growcube-bridge/internal/device"
	"github.com/nerrad567/growcube-bridge/internal/infrastructure/config"
	"github.com/nerrad567/growcube-bridge/internal/infrastructure/database"
	"github.com/nerrad567/growcube-bridge/internal/infrastructure/influxdb"
	"github.com/nerrad567/growcube-bridge/internal/infrastructure/logging"
	"github.com/nerrad567/growcube-bridge/internal/infrastructure/mqtt"
)

// Version information - set at build time via ldflags
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"     // Semantic version (e.g., "1.0.0")
	commit  = "unknown" // Git commit hash
	date    = "unknown" // Build date
)

// Default configuration file path
const defaultConfigPath = "configs/config.yaml"

// configEnv overrides the default configuration path.
const configEnv = "GROWCUBE_CONFIG"

const historyPruneInterval = time.Hour

func main() {
	// Create a context that cancels on interrupt signals (Ctrl+C, SIGTERM)
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// newRootCmd builds the command tree. "run" is the default action.
func newRootCmd() *cobra.Command {
	var configPath string

	root := &cobra.Command{
		Use:           "growcube-bridge",
		Short:         "Growcube irrigation controller bridge",
		Long:          "Bridges Elecrow Growcube controllers to MQTT, Home Assistant and an HTTP API.",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return run(cmd.Context(), resolveConfigPath(configPath))
		},
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "",
		"configuration file path (default $"+configEnv+" or "+defaultConfigPath+")")

	root.AddCommand(
		&cobra.Command{
			Use:   "run",
			Short: "Run the bridge",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				return run(cmd.Context(), resolveConfigPath(configPath))
			},
		},
		newProbeCmd(&configPath),
		newTokenCmd(&configPath),
		newMigrateCmd(&configPath),
		&cobra.Command{
			Use:   "version",
			Short: "Print version information",
			Args:  cobra.NoArgs,
			Run: func(cmd *cobra.Command, _ []string) {
				fmt.Fprintf(cmd.OutOrStdout(), "growcube-bridge %s (commit %s, built %s)\n", version, commit, date)
			},
		},
	)
	return root
}

// newProbeCmd reads the device id of a controller without starting the bridge.
// The port and timeout come from the config file when it exists and the
// flags are not set.
func newProbeCmd(configPath *string) *cobra.Command {
	var (
		port    int
		timeout time.Duration
	)

	cmd := &cobra.Command{
		Use:   "probe <host>",
		Short: "Connect to a Growcube and print its device id",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := probeConfig(resolveConfigPath(*configPath))
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("port") {
				cfg.Bridge.Port = port
			}
			if !cmd.Flags().Changed("timeout") {
				timeout = cfg.GetProbeTimeout()
			}

			factory := clientFactory(cfg, nil)
			identity, err := growcube.ProbeDeviceID(cmd.Context(), factory, args[0], timeout)
			if err != nil {
				return fmt.Errorf("probing %s: %w", args[0], err)
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(identity)
		},
	}
	cmd.Flags().IntVar(&port, "port", 8800, "device TCP port (default bridge.port)")
	cmd.Flags().DurationVar(&timeout, "timeout", growcube.DefaultProbeTimeout, "identity wait (default bridge.probe_timeout)")
	return cmd
}

// probeConfig loads path, falling back to the built-in defaults when the
// file does not exist.
func probeConfig(path string) (*config.Config, error) {
	cfg, err := config.Load(path)
	if errors.Is(err, fs.ErrNotExist) {
		return config.Default(), nil
	}
	return cfg, err
}

// newTokenCmd mints an API access token signed with the configured secret.
func newTokenCmd(configPath *string) *cobra.Command {
	var (
		subject string
		role    string
		ttl     int
	)

	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue an API access token",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(resolveConfigPath(*configPath))
			if err != nil {
				return fmt.Errorf("loading config: %w", err)
			}
			if cfg.Security.JWT.Secret == "" {
				return errors.New("security.jwt.secret is not set; API authentication is disabled")
			}
			if ttl <= 0 {
				ttl = cfg.Security.JWT.AccessTokenTTL
			}
			token, err := auth.GenerateAccessToken(subject, auth.Role(role), cfg.Security.JWT.Secret, ttl)
			if err != nil {
				return fmt.Errorf("issuing token: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}
	cmd.Flags().StringVar(&subject, "subject", "", "token subject (user or service name)")
	cmd.Flags().StringVar(&role, "role", string(auth.RoleViewer), "role: viewer, operator or admin")
	cmd.Flags().IntVar(&ttl, "ttl", 0, "lifetime in minutes (default security.jwt.access_token_ttl)")
	//nolint:errcheck // flag is defined above
	cmd.MarkFlagRequired("subject")
	return cmd
}

// newMigrateCmd inspects or changes the schema without starting the bridge.
func newMigrateCmd(configPath *string) *cobra.Command {
	open := func() (*database.DB, error) {
		cfg, err := config.Load(resolveConfigPath(*configPath))
		if err != nil {
			return nil, fmt.Errorf("loading config: %w", err)
		}
		return openDatabase(cfg)
	}

	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Manage the SQLite schema",
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "status",
			Short: "List schema migrations and whether they are applied",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				db, err := open()
				if err != nil {
					return err
				}
				defer db.Close()

				status, err := db.MigrationStatus(cmd.Context())
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				for _, s := range status {
					applied := "pending"
					if s.Applied() {
						applied = s.AppliedAt.Format(time.RFC3339)
					}
					fmt.Fprintf(out, "%s  %-20s %s\n", s.Version, s.Name, applied)
				}
				return nil
			},
		},
		&cobra.Command{
			Use:   "up",
			Short: "Apply pending migrations",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				db, err := open()
				if err != nil {
					return err
				}
				defer db.Close()
				return db.Migrate(cmd.Context())
			},
		},
		&cobra.Command{
			Use:   "down",
			Short: "Revert the most recent migration",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				db, err := open()
				if err != nil {
					return err
				}
				defer db.Close()

				m, err := db.Rollback(cmd.Context())
				if err != nil {
					return err
				}
				if m == nil {
					fmt.Fprintln(cmd.OutOrStdout(), "nothing to revert")
					return nil
				}
				fmt.Fprintf(cmd.OutOrStdout(), "reverted %s_%s\n", m.Version, m.Name)
				return nil
			},
		},
	)
	return cmd
}

// openDatabase opens the configured store.
func openDatabase(cfg *config.Config) (*database.DB, error) {
	db, err := database.Open(database.Config{
		Path:        cfg.Database.Path,
		WALMode:     cfg.Database.WALMode,
		BusyTimeout: cfg.Database.BusyTimeout,
	})
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	return db, nil
}

// resolveConfigPath picks the flag value, then $GROWCUBE_CONFIG, then the default.
func resolveConfigPath(flag string) string {
	if flag != "" {
		return flag
	}
	if path := os.Getenv(configEnv); path != "" {
		return path
	}
	return defaultConfigPath
}

// reloadLogLevel re-reads logging.level on SIGHUP. Other settings need a
// restart.
func reloadLogLevel(log *logging.Logger, configPath string) {
	cfg, err := config.Load(configPath)
	if err != nil {
		log.Warn("reload failed, keeping current log level", "error", err)
		return
	}
	log.SetLevel(cfg.Logging.Level)
	log.Info("log level reloaded", "level", log.Level().String())
}

// run is the bridge service, separated from main for testability.
//
// Parameters:
//   - ctx: Context for cancellation and shutdown signals
//   - configPath: YAML configuration file
//
// Returns:
//   - error: nil on clean shutdown, or error describing failure
func run(ctx context.Context, configPath string) error {
	// Use default logger until config is loaded
	log := logging.Default()
	log.Info("starting growcube bridge",
		"version", version,
		"commit", commit,
		"build_date", date,
	)

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	log.Info("configuration loaded", "path", configPath, "devices", len(cfg.Devices))

	// Reinitialise logger with config settings
	log = logging.New(cfg.Logging, version)

	db, err := openDatabase(cfg)
	if err != nil {
		return err
	}
	defer func() {
		log.Info("closing database")
		if closeErr := db.Close(); closeErr != nil {
			log.Error("error closing database", "error", closeErr)
		}
	}()

	if migrateErr := db.Migrate(ctx); migrateErr != nil {
		return fmt.Errorf("running migrations: %w", migrateErr)
	}
	journal, err := db.JournalMode(ctx)
	if err != nil {
		return err
	}
	log.Info("database ready", "path", cfg.Database.Path, "journal_mode", journal)

	// Device registry and state history
	registry := device.NewRegistry(device.NewSQLiteRepository(db.DB))
	registry.SetLogger(log.Component("registry"))
	if refreshErr := registry.RefreshCache(ctx); refreshErr != nil {
		return fmt.Errorf("loading device registry: %w", refreshErr)
	}
	history := device.NewSQLiteStateHistoryRepository(db.DB)
	log.Info("device registry initialised", "devices", registry.GetDeviceCount())
	go device.RunHistoryRetention(ctx, history, cfg.GetHistoryRetention(), historyPruneInterval, log.Component("history"))

	// Connect to MQTT broker (optional)
	var mqttClient *mqtt.Client
	if cfg.MQTT.Enabled {
		mqttClient, err = mqtt.Connect(cfg.MQTT)
		if err != nil {
			return fmt.Errorf("connecting to MQTT: %w", err)
		}
		mqttClient.SetLogger(log.Component("mqtt"))
		defer func() {
			log.Info("disconnecting from MQTT")
			if closeErr := mqttClient.Close(); closeErr != nil {
				log.Error("error closing MQTT", "error", closeErr)
			}
		}()
		log.Info("MQTT connected",
			"broker", fmt.Sprintf("%s:%d", cfg.MQTT.Broker.Host, cfg.MQTT.Broker.Port),
			"client_id", mqttClient.ClientID(),
		)
	} else {
		log.Info("MQTT disabled")
	}

	// Connect to InfluxDB (optional)
	var influxClient *influxdb.Client
	if cfg.InfluxDB.Enabled {
		influxClient, err = influxdb.Connect(cfg.InfluxDB)
		if err != nil {
			return fmt.Errorf("connecting to InfluxDB: %w", err)
		}
		defer func() {
			log.Info("closing InfluxDB connection")
			if closeErr := influxClient.Close(); closeErr != nil {
				log.Error("error closing InfluxDB", "error", closeErr)
			}
		}()
		influxClient.SetOnError(func(err error) {
			log.Error("InfluxDB write error", "error", err)
		})
		log.Info("InfluxDB connected", "url", cfg.InfluxDB.URL, "bucket", cfg.InfluxDB.Bucket)
	} else {
		log.Info("InfluxDB disabled")
	}

	b, err := newBridge(cfg, log, bridgeDeps{
		registry: registry,
		history:  history,
		mqtt:     mqttClient,
		influx:   influxClient,
	})
	if err != nil {
		return err
	}

	if err := b.start(ctx); err != nil {
		b.stop()
		return err
	}
	defer b.stop()

	// HTTP API (optional)
	if cfg.API.Enabled {
		apiDeps := api.Deps{
			Config:   cfg.API,
			WS:       cfg.WebSocket,
			Security: cfg.Security,
			Logger:   log.Component("api"),
			Registry: registry,
			History:  history,
			Devices:  b.manager,
			Commands: b.commands,
			Health:   b.health,
			DB:       db,
			Recorder: b.recorder,
			Version:  version,
		}
		if mqttClient != nil {
			apiDeps.MQTT = mqttClient
		}
		if b.publisher != nil {
			apiDeps.Remover = b.publisher
		}

		apiServer, apiErr := api.New(apiDeps)
		if apiErr != nil {
			return fmt.Errorf("creating API server: %w", apiErr)
		}
		b.manager.Observe(apiServer.HandleChange)
		if startErr := apiServer.Start(ctx); startErr != nil {
			return fmt.Errorf("starting API server: %w", startErr)
		}
		defer func() {
			if closeErr := apiServer.Close(); closeErr != nil {
				log.Error("error closing API server", "error", closeErr)
			}
		}()
		if cfg.Security.JWT.Secret == "" {
			log.Warn("API authentication disabled; set security.jwt.secret to enable it")
		}
	}

	log.Info("initialisation complete, waiting for shutdown signal")

	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)

	for waiting := true; waiting; {
		select {
		case <-ctx.Done():
			waiting = false
		case <-hup:
			reloadLogLevel(log, configPath)
		}
	}

	log.Info("shutdown signal received, cleaning up")

	// Deferred calls run in reverse order:
	// 1. API server
	// 2. Bridge (devices, recorder, health)
	// 3. InfluxDB (if enabled)
	// 4. MQTT (if enabled)
	// 5. Database

	log.Info("growcube bridge stopped")
	return nil
}

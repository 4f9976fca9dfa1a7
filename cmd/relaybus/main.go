// RelayBus Core - field-bus controller for sensors and relay boards.
//
// It polls soil and climate sensors plus relay feedback over Modbus
// gateways, persists readings and the commanded state of every relay,
// runs schedules and sensor triggers, and serves the controller read model
// and relay commands over HTTP, WebSocket and (optionally) MQTT.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	_ "github.com/nerrad567/relaybus-core/migrations"

	"github.com/nerrad567/relaybus-core/internal/api"
	"github.com/nerrad567/relaybus-core/internal/audit"
	"github.com/nerrad567/relaybus-core/internal/automation"
	"github.com/nerrad567/relaybus-core/internal/command"
	"github.com/nerrad567/relaybus-core/internal/device"
	"github.com/nerrad567/relaybus-core/internal/infrastructure/config"
	"github.com/nerrad567/relaybus-core/internal/infrastructure/database"
	"github.com/nerrad567/relaybus-core/internal/infrastructure/influxdb"
	"github.com/nerrad567/relaybus-core/internal/infrastructure/logging"
	"github.com/nerrad567/relaybus-core/internal/infrastructure/mqtt"
	"github.com/nerrad567/relaybus-core/internal/metrics"
	"github.com/nerrad567/relaybus-core/internal/poller"
	"github.com/nerrad567/relaybus-core/internal/recovery"
	"github.com/nerrad567/relaybus-core/internal/transport"
)

// Version information - set at build time via ldflags
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

const (
	defaultConfigPath = "configs/config.yaml"
	defaultEnvFile    = ".env"

	// maxRetryBackoff caps the doubling command retry delay.
	maxRetryBackoff = 5 * time.Second

	// drainTimeout bounds how long shutdown waits for queued relay commands.
	drainTimeout = 15 * time.Second
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// run wires every component and blocks until ctx is cancelled.
//
// Only invalid configuration or unusable storage is fatal. The broker, the
// time-series mirror and individual gateways may be unreachable; the
// controller runs without them and logs the failure.
func run(ctx context.Context) error {
	log := logging.Default()
	log.Info("starting RelayBus Core",
		"version", version,
		"commit", commit,
		"build_date", date,
	)

	if err := config.LoadEnvFile(getEnvFilePath()); err != nil {
		return err
	}
	configPath := getConfigPath()
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	log = logging.New(cfg.Logging, version)
	log.Info("configuration loaded",
		"path", configPath,
		"site_id", cfg.Site.ID,
		"level", cfg.Logging.Level,
	)

	// --- Storage ---

	db, err := database.Open(ctx, cfg.Database)
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer func() {
		log.Info("closing database")
		if closeErr := db.Close(); closeErr != nil {
			log.Error("error closing database", "error", closeErr)
		}
	}()
	if err := db.Migrate(ctx); err != nil {
		return fmt.Errorf("running migrations: %w", err)
	}
	log.Info("database ready", "path", cfg.Database.Path)

	m := metrics.New()

	deviceRegistry := device.NewRegistry(device.NewSQLiteRepository(db.DB))
	deviceRegistry.SetLogger(log)
	if err := deviceRegistry.RefreshCache(ctx); err != nil {
		return fmt.Errorf("loading device registry: %w", err)
	}

	rules := automation.NewRegistry(automation.NewSQLiteRepository(db.DB))
	rules.SetLogger(log)
	if err := rules.RefreshCache(ctx); err != nil {
		return fmt.Errorf("loading automation rules: %w", err)
	}

	readings := device.NewSQLiteReadingRepository(db.DB)
	relayStates := device.NewSQLiteRelayStateRepository(db.DB)
	auditRepo := audit.NewSQLiteRepository(db.DB)

	stats := deviceRegistry.Stats()
	log.Info("registries loaded",
		"gateways", stats.Gateways,
		"devices", stats.Devices,
		"relay_channels", stats.RelayChannels,
		"schedules", len(rules.Schedules()),
		"triggers", len(rules.Triggers()),
	)

	// --- Field bus and command path ---

	bus := transport.NewManager(transport.Config{
		Timeout:   cfg.ModbusTimeout(),
		QueueSize: cfg.Modbus.QueueSize,
	}, nil)
	bus.SetLogger(log)
	bus.Sync(deviceRegistry.Gateways())
	defer func() {
		log.Info("closing gateway connections")
		bus.Close()
	}()

	queue := command.NewQueue(command.Config{
		QueueSize:    cfg.Commands.QueueSize,
		MaxAttempts:  cfg.Commands.MaxAttempts,
		RetryBackoff: cfg.RetryBackoff(),
		MaxBackoff:   maxRetryBackoff,
	}, command.Deps{
		Registry: deviceRegistry,
		Writer:   bus,
		States:   relayStates,
		Audit:    auditRepo,
		Metrics:  m,
		Logger:   log,
	})
	// Normally drained explicitly below; this covers early returns.
	defer drainQueue(queue, log)

	reload := func(ctx context.Context) error {
		if err := deviceRegistry.RefreshCache(ctx); err != nil {
			return fmt.Errorf("refreshing device registry: %w", err)
		}
		if err := rules.RefreshCache(ctx); err != nil {
			return fmt.Errorf("refreshing automation rules: %w", err)
		}
		bus.Sync(deviceRegistry.Gateways())
		return nil
	}

	poll := poller.New(poller.Config{
		SensorInterval:   cfg.SensorPollInterval(),
		RelayInterval:    cfg.RelayPollInterval(),
		OfflineThreshold: cfg.Polling.OfflineThreshold,
	}, bus, deviceRegistry, readings, relayStates)
	poll.SetLogger(log)
	poll.SetMetrics(m)

	// --- Observers ---

	hub := api.NewHub(cfg.WebSocket, log)
	queue.OnRelayState(hub.PublishRelayState)
	queue.OnStatusChange(hub.PublishStatus)
	poll.OnReading(hub.PublishReading)
	poll.OnStatusChange(hub.PublishStatus)

	mqttClient := connectMQTT(cfg, log)
	if mqttClient != nil {
		defer func() {
			log.Info("disconnecting from MQTT")
			if closeErr := mqttClient.Close(); closeErr != nil {
				log.Error("error closing MQTT", "error", closeErr)
			}
		}()
		queue.OnRelayState(mqttClient.PublishRelayState)
		queue.OnStatusChange(mqttClient.PublishStatus)
		poll.OnReading(mqttClient.PublishReading)
		poll.OnStatusChange(mqttClient.PublishStatus)

		err := mqttClient.SubscribeControl(mqtt.ControlHandlers{
			Relay: func(ctx context.Context, channelID string, on bool) error {
				_, err := queue.Submit(ctx, channelID, on, device.SourceManual)
				return err
			},
			Reload: reload,
		})
		if err != nil {
			log.Warn("MQTT control topics unavailable", "error", err)
		}
	}

	influxClient := connectInfluxDB(cfg, log)
	if influxClient != nil {
		defer func() {
			log.Info("closing InfluxDB connection")
			if closeErr := influxClient.Close(); closeErr != nil {
				log.Error("error closing InfluxDB", "error", closeErr)
			}
		}()
		poll.OnReading(influxClient.WriteReading)
		queue.OnRelayState(influxClient.WriteRelayState)
	}

	// --- Boot recovery ---

	rec := recovery.New(recovery.Config{
		Enabled: cfg.Recovery.Enabled,
		Timeout: cfg.RecoveryTimeout(),
	}, relayStates, queue, auditRepo)
	rec.SetLogger(log)
	rec.Run(ctx)

	// --- Loops ---

	scheduler := automation.NewScheduler(rules, queue, cfg.Location(), cfg.ScheduleTick())
	scheduler.SetLogger(log)
	scheduler.SetMetrics(m)

	evaluator := automation.NewEvaluator(rules, readings, deviceRegistry, queue)
	evaluator.SetLogger(log)
	evaluator.SetMetrics(m)
	poll.AfterSensorCycle(func(ctx context.Context, at time.Time) {
		evaluator.Evaluate(ctx, at)
	})

	pruner := device.NewPruner(readings, cfg.ReadingRetention(), cfg.PruneInterval())
	pruner.SetLogger(log)

	var loops sync.WaitGroup
	startLoop := func(fn func(context.Context)) {
		loops.Add(1)
		go func() {
			defer loops.Done()
			fn(ctx)
		}()
	}
	startLoop(hub.Run)
	startLoop(poll.Run)
	startLoop(scheduler.Run)
	startLoop(pruner.Run)
	startLoop(func(ctx context.Context) {
		refreshLoop(ctx, cfg.RegistryRefreshInterval(), reload, log)
	})

	// --- API ---

	deps := api.Deps{
		Config:      cfg.API,
		WS:          cfg.WebSocket,
		Site:        cfg.Site,
		Logger:      log,
		Registry:    deviceRegistry,
		Readings:    readings,
		RelayStates: relayStates,
		Rules:       rules,
		Commands:    queue,
		Audit:       auditRepo,
		Metrics:     m,
		DB:          db,
		Reload:      reload,
		Hub:         hub,
		Version:     version,
	}
	if mqttClient != nil {
		deps.MQTT = mqttClient
	}
	apiServer, err := api.New(deps)
	if err != nil {
		return fmt.Errorf("creating API server: %w", err)
	}
	if err := apiServer.Start(ctx); err != nil {
		return fmt.Errorf("starting API server: %w", err)
	}

	log.Info("initialisation complete, waiting for shutdown signal")
	<-ctx.Done()
	log.Info("shutdown signal received, cleaning up")

	if err := apiServer.Close(); err != nil {
		log.Error("error stopping API server", "error", err)
	}
	loops.Wait()
	drainQueue(queue, log)

	// Deferred closes run in reverse order: InfluxDB, MQTT, gateways, database.
	log.Info("RelayBus Core stopped")
	return nil
}

// getConfigPath returns RELAYBUS_CONFIG or the default path.
func getConfigPath() string {
	if path := os.Getenv("RELAYBUS_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}

// getEnvFilePath returns RELAYBUS_ENV_FILE or the default .env path.
func getEnvFilePath() string {
	if path := os.Getenv("RELAYBUS_ENV_FILE"); path != "" {
		return path
	}
	return defaultEnvFile
}

// connectMQTT returns nil when MQTT is disabled or the broker is unreachable.
func connectMQTT(cfg *config.Config, log *logging.Logger) *mqtt.Client {
	if !cfg.MQTT.Enabled {
		log.Info("MQTT disabled")
		return nil
	}

	client, err := mqtt.Connect(cfg.MQTT)
	if err != nil {
		log.Warn("MQTT unavailable, continuing without broker", "error", err)
		return nil
	}
	client.SetLogger(log)
	client.SetOnConnect(func() {
		log.Info("MQTT connected")
	})
	log.Info("MQTT connected",
		"broker", fmt.Sprintf("%s:%d", cfg.MQTT.Broker.Host, cfg.MQTT.Broker.Port),
		"client_id", cfg.MQTT.Broker.ClientID,
	)
	return client
}

// connectInfluxDB returns nil when the mirror is disabled or unreachable.
func connectInfluxDB(cfg *config.Config, log *logging.Logger) *influxdb.Client {
	if !cfg.InfluxDB.Enabled {
		log.Info("InfluxDB disabled")
		return nil
	}

	client, err := influxdb.Connect(cfg.InfluxDB)
	if err != nil {
		log.Warn("InfluxDB unavailable, readings will not be mirrored", "error", err)
		return nil
	}
	client.SetOnError(func(err error) {
		log.Error("InfluxDB write error", "error", err)
	})
	log.Info("InfluxDB connected",
		"url", cfg.InfluxDB.URL,
		"org", cfg.InfluxDB.Org,
		"bucket", cfg.InfluxDB.Bucket,
	)
	return client
}

// refreshLoop reloads the registries every interval. A non-positive
// interval disables it.
func refreshLoop(ctx context.Context, interval time.Duration, reload func(context.Context) error, log *logging.Logger) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := reload(ctx); err != nil {
				log.Warn("periodic registry refresh failed", "error", err)
			}
		}
	}
}

// drainQueue lets each gateway lane finish its in-flight command; queued
// commands are recorded as dropped.
func drainQueue(queue *command.Queue, log *logging.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), drainTimeout)
	defer cancel()
	if err := queue.Close(ctx); err != nil {
		log.Warn("command queue did not drain in time", "error", err)
	}
}

package main

import (
	"context"
	"fmt"

	"github.com/nerrad567/gray-logic-ota/internal/api"
	"github.com/nerrad567/gray-logic-ota/internal/audit"
	"github.com/nerrad567/gray-logic-ota/internal/bridges/zwave"
	"github.com/nerrad567/gray-logic-ota/internal/device"
	"github.com/nerrad567/gray-logic-ota/internal/firmware"
	"github.com/nerrad567/gray-logic-ota/internal/fleet"
	"github.com/nerrad567/gray-logic-ota/internal/fwregistry"
	"github.com/nerrad567/gray-logic-ota/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-ota/internal/infrastructure/database"
	"github.com/nerrad567/gray-logic-ota/internal/infrastructure/influxdb"
	"github.com/nerrad567/gray-logic-ota/internal/infrastructure/logging"
	"github.com/nerrad567/gray-logic-ota/internal/infrastructure/metrics"
	"github.com/nerrad567/gray-logic-ota/internal/infrastructure/mqtt"
	"github.com/nerrad567/gray-logic-ota/migrations"
)

// run wires the service and blocks until ctx is cancelled.
//
// Parameters:
//   - ctx: Context for cancellation and shutdown signals
//   - cfg: Loaded configuration
//
// Returns:
//   - error: nil on clean shutdown, or error describing failure
func run(ctx context.Context, cfg *config.Config) error {
	log := logging.New(cfg.Logging, version)
	log.Info("logger initialised",
		"level", cfg.Logging.Level,
		"format", cfg.Logging.Format,
	)

	db, err := openDatabase(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() {
		log.Info("closing database")
		if closeErr := db.Close(); closeErr != nil {
			log.Error("error closing database", "error", closeErr)
		}
	}()
	log.Info("database connected", "path", cfg.Database.Path)

	if migrateErr := db.Migrate(ctx, migrations.Source()); migrateErr != nil {
		return fmt.Errorf("running migrations: %w", migrateErr)
	}
	log.Info("database migrations complete")

	// Device catalogue
	deviceRegistry := device.NewRegistry(device.NewSQLiteRepository(db.DB))
	deviceRegistry.SetLogger(log)
	if refreshErr := deviceRegistry.RefreshCache(ctx); refreshErr != nil {
		return fmt.Errorf("loading device registry: %w", refreshErr)
	}
	log.Info("device registry initialised", "devices", deviceRegistry.GetDeviceCount())

	// MQTT device link
	topics := mqtt.Topics{Prefix: cfg.Firmware.TopicPrefix}
	mqttClient, err := mqtt.Connect(cfg.MQTT, topics)
	if err != nil {
		return fmt.Errorf("connecting to MQTT: %w", err)
	}
	defer func() {
		log.Info("disconnecting from MQTT")
		if closeErr := mqttClient.Close(); closeErr != nil {
			log.Error("error closing MQTT", "error", closeErr)
		}
	}()
	mqttClient.SetLogger(log)
	mqttClient.SetOnConnect(func() {
		log.Info("MQTT reconnected")
	})
	mqttClient.SetOnDisconnect(func(err error) {
		log.Warn("MQTT disconnected", "error", err)
	})
	log.Info("MQTT connected",
		"broker", fmt.Sprintf("%s:%d", cfg.MQTT.Broker.Host, cfg.MQTT.Broker.Port),
		"client_id", cfg.MQTT.Broker.ClientID,
		"prefix", topics.Prefix,
	)

	// InfluxDB (optional)
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

	registryClient, err := fwregistry.New(cfg.Firmware.RegistryURL, cfg.Firmware.RegistryTimeout)
	if err != nil {
		return fmt.Errorf("creating registry client: %w", err)
	}

	mqttAdapter := &mqttBridgeAdapter{client: mqttClient}
	bridge, err := zwave.NewBridge(zwave.BridgeOptions{
		MQTTClient:     mqttAdapter,
		Registry:       registryClient,
		Topics:         topics,
		CommandTimeout: cfg.Firmware.CommandTimeout,
		Logger:         log,
	})
	if err != nil {
		return fmt.Errorf("creating Z-Wave bridge: %w", err)
	}
	if startErr := bridge.Start(ctx); startErr != nil {
		return fmt.Errorf("starting Z-Wave bridge: %w", startErr)
	}
	defer func() {
		log.Info("stopping Z-Wave bridge")
		bridge.Stop()
	}()
	log.Info("Z-Wave bridge started")

	// Firmware manager and observers
	limiter := firmware.NewLimiter(cfg.Firmware.MaxConcurrent)
	manager := firmware.NewManager(bridge, limiter, firmware.ManagerConfig{
		APIKey:        cfg.Firmware.APIKey,
		CheckInterval: cfg.Firmware.CheckInterval,
		FinishTimeout: cfg.Firmware.FinishTimeout,
	}, log)

	stateRepo := firmware.NewSQLiteRepository(db.DB)
	recorder := firmware.NewRecorder(stateRepo, log)
	promMetrics := metrics.New()
	promMetrics.RegisterSlots(limiter)
	publisher := zwave.NewStatePublisher(mqttAdapter, topics, log)
	hub := api.NewHub(cfg.WebSocket, log)

	fl, err := fleet.New(fleet.Options{
		Catalogue:  deviceRegistry,
		Link:       &linkAdapter{bridge: bridge},
		Updaters:   manager,
		States:     stateRepo,
		Seeders:    []func(firmware.Record){recorder.Seed},
		Forgetters: []fleet.Forgetter{recorder, promMetrics, publisher},
		Logger:     log,
	})
	if err != nil {
		return fmt.Errorf("creating fleet: %w", err)
	}

	observers := firmware.Observers{recorder, promMetrics, publisher, hub, fl}
	if influxClient != nil {
		observers = append(observers, influxdb.NewTelemetry(influxClient, cfg.Site.ID))
	}
	manager.SetObserver(observers)

	attached := fl.Load(ctx)
	manager.Start(ctx)
	defer func() {
		log.Info("stopping firmware manager")
		manager.Stop()
	}()
	log.Info("firmware manager running",
		"devices", attached,
		"check_interval", cfg.Firmware.CheckInterval,
		"max_concurrent", limiter.Capacity(),
	)

	// HTTP API
	healthChecks := map[string]api.HealthChecker{
		"database": db,
		"mqtt":     mqttClient,
	}
	if influxClient != nil {
		healthChecks["influxdb"] = influxClient
	}
	server, err := api.New(api.Deps{
		Config:       cfg.API,
		WS:           cfg.WebSocket,
		Security:     cfg.Security,
		Logger:       log,
		Devices:      deviceRegistry,
		Firmware:     manager,
		Fleet:        fl,
		History:      stateRepo,
		Audit:        audit.NewSQLiteRepository(db.DB),
		Metrics:      promMetrics,
		DB:           db.DB,
		Hub:          hub,
		HealthChecks: healthChecks,
		Version:      version,
	})
	if err != nil {
		return fmt.Errorf("creating API server: %w", err)
	}
	go hub.Run(ctx)
	if startErr := server.Start(ctx); startErr != nil {
		return fmt.Errorf("starting API server: %w", startErr)
	}
	defer func() {
		log.Info("stopping API server")
		if closeErr := server.Close(); closeErr != nil {
			log.Error("error stopping API server", "error", closeErr)
		}
	}()

	if err := healthCheck(ctx, db, mqttClient, influxClient); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	log.Info("all health checks passed")

	log.Info("initialisation complete, waiting for shutdown signal")
	<-ctx.Done()
	log.Info("shutdown signal received, cleaning up")

	// Deferred calls run in reverse order:
	// API server, firmware manager, bridge, InfluxDB, MQTT, database.
	return nil
}

// openDatabase opens the configured SQLite database.
func openDatabase(ctx context.Context, cfg *config.Config) (*database.DB, error) {
	db, err := database.Open(ctx, database.Config{
		Path:        cfg.Database.Path,
		WALMode:     cfg.Database.WALMode,
		BusyTimeout: cfg.Database.BusyTimeout,
	})
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	return db, nil
}

// healthCheck verifies all infrastructure connections are healthy.
//
// Parameters:
//   - ctx: Context for timeout/cancellation
//   - db: Database connection to check
//   - mqttClient: MQTT client to check
//   - influxClient: InfluxDB client to check (may be nil if disabled)
//
// Returns:
//   - error: First health check failure, or nil if all healthy
func healthCheck(ctx context.Context, db *database.DB, mqttClient *mqtt.Client, influxClient *influxdb.Client) error {
	if err := db.HealthCheck(ctx); err != nil {
		return fmt.Errorf("database: %w", err)
	}
	if err := mqttClient.HealthCheck(ctx); err != nil {
		return fmt.Errorf("mqtt: %w", err)
	}
	if influxClient != nil {
		if err := influxClient.HealthCheck(ctx); err != nil {
			return fmt.Errorf("influxdb: %w", err)
		}
	}
	return nil
}

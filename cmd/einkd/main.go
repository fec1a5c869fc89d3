// einkd - e-paper display arbitration daemon
//
// einkd owns an SPI/GPIO e-paper panel exclusively and arbitrates
// display commands from local clients over a Unix-domain (or TCP)
// socket. Commands are queued and executed one at a time; when the
// hardware is absent or broken the daemon falls back to an in-memory
// mock backend so clients never need to care which is active.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/totemize/einkd/internal/bridges/mqttbridge"
	"github.com/totemize/einkd/internal/display"
	"github.com/totemize/einkd/internal/hardware"
	"github.com/totemize/einkd/internal/history"
	"github.com/totemize/einkd/internal/infrastructure/config"
	"github.com/totemize/einkd/internal/infrastructure/database"
	"github.com/totemize/einkd/internal/infrastructure/influxdb"
	"github.com/totemize/einkd/internal/infrastructure/logging"
	"github.com/totemize/einkd/internal/infrastructure/mqtt"
	"github.com/totemize/einkd/internal/service"
)

// Version information - set at build time via ldflags
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"     // Semantic version (e.g., "1.0.0")
	commit  = "unknown" // Git commit hash
	date    = "unknown" // Build date
)

// Default configuration file path
const defaultConfigPath = "configs/einkd.yaml"

// retentionSweepInterval is how often expired history is pruned.
const retentionSweepInterval = 24 * time.Hour

// healthCheckInterval is how often the optional subsystems are probed.
const healthCheckInterval = 60 * time.Second

func main() {
	// Create a context that cancels on interrupt signals (Ctrl+C, SIGTERM)
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// run is the actual application logic, separated from main for testability.
// Returning an error allows main to handle exit codes consistently.
//
// Parameters:
//   - ctx: Context for cancellation and shutdown signals
//
// Returns:
//   - error: nil on clean shutdown, or error describing failure
func run(ctx context.Context) error {
	// Use default logger until config is loaded
	log := logging.Default()
	log.Info("starting einkd",
		"version", version,
		"commit", commit,
		"build_date", date,
	)

	// Load configuration
	configPath := getConfigPath()
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	log.Info("configuration loaded", "path", configPath)

	// Reinitialise logger with config settings
	log = logging.New(cfg.Logging, version)
	log.Info("logger initialised",
		"level", cfg.Logging.Level,
		"format", cfg.Logging.Format,
	)

	// Health probes for whichever optional subsystems come up below
	var checks []healthCheck

	// Open the command history database (optional: empty path disables)
	var historyRepo *history.Repository
	if cfg.Database.Path != "" {
		db, err := database.Open(database.Config{
			Path:        cfg.Database.Path,
			WALMode:     cfg.Database.WALMode,
			BusyTimeout: cfg.Database.BusyTimeout,
		})
		if err != nil {
			return fmt.Errorf("opening database: %w", err)
		}
		defer func() {
			log.Info("closing database")
			if closeErr := db.Close(); closeErr != nil {
				log.Error("error closing database", "error", closeErr)
			}
		}()
		log.Info("database connected", "path", cfg.Database.Path)

		historyRepo, err = history.NewRepository(ctx, db.DB)
		if err != nil {
			return fmt.Errorf("initialising command history: %w", err)
		}
		checks = append(checks, healthCheck{"database", db.HealthCheck})

		if cfg.Database.RetentionDays > 0 {
			go retentionSweep(ctx, historyRepo, cfg.Database.RetentionDays, log)
		}
	} else {
		log.Info("command history disabled")
	}

	// Connect to MQTT broker (optional)
	var mqttClient *mqtt.Client
	if cfg.MQTT.Enabled {
		mqttClient, err = mqtt.Connect(cfg.MQTT)
		if err != nil {
			return fmt.Errorf("connecting to MQTT: %w", err)
		}
		defer func() {
			log.Info("disconnecting from MQTT")
			if closeErr := mqttClient.Close(); closeErr != nil {
				log.Error("error closing MQTT", "error", closeErr)
			}
		}()
		log.Info("MQTT connected",
			"broker", fmt.Sprintf("%s:%d", cfg.MQTT.Broker.Host, cfg.MQTT.Broker.Port),
			"client_id", cfg.MQTT.Broker.ClientID,
		)

		mqttClient.SetLogger(log)
		mqttClient.SetOnConnect(func() {
			log.Info("MQTT reconnected")
		})
		mqttClient.SetOnDisconnect(func(err error) {
			log.Warn("MQTT disconnected", "error", err)
		})
		checks = append(checks, healthCheck{"mqtt", mqttClient.HealthCheck})
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
		log.Info("InfluxDB connected",
			"url", cfg.InfluxDB.URL,
			"bucket", cfg.InfluxDB.Bucket,
		)

		influxClient.SetOnError(func(err error) {
			log.Error("InfluxDB write error", "error", err)
		})
		checks = append(checks, healthCheck{"influxdb", influxClient.HealthCheck})
	} else {
		log.Info("InfluxDB disabled")
	}

	if len(checks) > 0 {
		go monitorHealth(ctx, checks, log)
	}

	// Build the display manager
	manager := buildManager(cfg, influxClient, log)

	// Build the service
	svc := service.New(service.Config{
		Listener:          listenerConfig(cfg),
		PollInterval:      cfg.GetPollInterval(),
		StartupTimeout:    cfg.GetStartupTimeout(),
		ShutdownTimeout:   cfg.GetShutdownTimeout(),
		InactivityTimeout: cfg.GetInactivityTimeout(),
	}, manager)
	svc.SetLogger(log)
	if historyRepo != nil {
		svc.SetHistory(historyRepo)
	}
	if influxClient != nil {
		svc.SetTelemetry(influxClient)
	}

	if err := svc.Start(ctx); err != nil {
		return fmt.Errorf("starting service: %w", err)
	}
	defer func() {
		if stopErr := svc.Stop(); stopErr != nil {
			log.Error("error stopping service", "error", stopErr)
		}
	}()

	// Start the MQTT command bridge (optional)
	if mqttClient != nil {
		bridge := mqttbridge.New(mqttClient, svc.Queue(), cfg.MQTT.TopicPrefix, byte(cfg.MQTT.QoS))
		bridge.SetLogger(log)
		if err := bridge.Start(); err != nil {
			return fmt.Errorf("starting MQTT bridge: %w", err)
		}
		defer func() {
			log.Info("stopping MQTT bridge")
			bridge.Stop()
		}()
	}

	log.Info("initialisation complete, waiting for shutdown signal")

	// Wait for shutdown signal
	<-ctx.Done()

	log.Info("shutdown signal received, cleaning up")

	// Deferred calls run in reverse order:
	// 1. MQTT bridge (if enabled)
	// 2. Service (listener, dispatcher, display)
	// 3. InfluxDB (if enabled)
	// 4. MQTT
	// 5. Database

	log.Info("einkd stopped")
	return nil
}

// buildManager wires the display manager with the hardware factory, the
// GPIO conflict inspector and telemetry.
func buildManager(cfg *config.Config, influxClient *influxdb.Client, log *logging.Logger) *display.Manager {
	factory := func() (display.Device, error) {
		bus, pins, err := display.OpenHardware(display.HardwareConfig{
			SPIDevice: cfg.Display.SPIDevice,
			SPIHz:     cfg.Display.SPIHz,
			ResetPin:  cfg.Display.ResetPin,
			DCPin:     cfg.Display.DCPin,
			BusyPin:   cfg.Display.BusyPin,
		})
		if err != nil {
			return nil, err
		}
		panel := display.NewPanel(bus, pins, display.PanelConfig{
			BusyTimeout: cfg.GetBusyTimeout(),
		})
		panel.SetLogger(log)
		return panel, nil
	}

	manager := display.NewManager(display.ManagerConfig{
		MockMode:            cfg.Display.MockMode,
		MaxInitRetries:      cfg.Display.MaxInitRetries,
		RetryDelay:          cfg.GetRetryDelay(),
		ForceKillConflicts:  cfg.Display.ForceKillConflicts,
		FullRefreshInterval: cfg.Display.FullRefreshInterval,
		ClearOnFullRefresh:  cfg.Display.ClearOnFullRefresh,
	}, factory)
	manager.SetLogger(log)

	inspector := hardware.NewInspector(cfg.Display.GPIOChip)
	inspector.SetLogger(log)
	manager.SetInspector(inspector)

	if influxClient != nil {
		manager.SetTelemetry(influxClient)
	}
	return manager
}

// listenerConfig maps the service configuration onto the listener.
func listenerConfig(cfg *config.Config) service.ListenerConfig {
	return service.ListenerConfig{
		Network:         cfg.Service.Listen,
		SocketPath:      cfg.Service.SocketPath,
		TCPAddr:         fmt.Sprintf("%s:%d", cfg.Service.TCPHost, cfg.Service.TCPPort),
		MaxRequestBytes: cfg.Service.MaxRequestBytes,
		ReadTimeout:     cfg.GetReadTimeout(),
		AcceptTimeout:   cfg.GetAcceptTimeout(),
	}
}

// retentionSweep prunes expired history entries once a day.
func retentionSweep(ctx context.Context, repo *history.Repository, days int, log *logging.Logger) {
	retention := time.Duration(days) * 24 * time.Hour

	prune := func() {
		deleted, err := repo.PruneOlderThan(ctx, retention)
		if err != nil {
			log.Warn("history retention sweep failed", "error", err)
			return
		}
		if deleted > 0 {
			log.Info("pruned command history", "deleted", deleted, "retention_days", days)
		}
	}
	prune()

	ticker := time.NewTicker(retentionSweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			prune()
		}
	}
}

// healthCheck pairs a subsystem name with its probe.
type healthCheck struct {
	name  string
	check func(ctx context.Context) error
}

// monitorHealth probes the optional subsystems periodically and logs
// failures. Observation only: each client handles its own reconnection.
func monitorHealth(ctx context.Context, checks []healthCheck, log *logging.Logger) {
	ticker := time.NewTicker(healthCheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for _, hc := range checks {
				if err := hc.check(ctx); err != nil {
					log.Warn("health check failed", "subsystem", hc.name, "error", err)
				}
			}
		}
	}
}

// getConfigPath returns the configuration file path.
// Uses EINKD_CONFIG environment variable if set, otherwise default.
func getConfigPath() string {
	if path := os.Getenv("EINKD_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}

// Sparkhist - MQTT telemetry historian
//
// This is the main entry point for the historian. It connects to an MQTT
// broker as a passive primary application, decodes Sparkplug-style
// telemetry from every topic it can see, and records devices, metric
// definitions, and value history into SQLite, with an optional InfluxDB
// mirror and a read-only REST/WebSocket surface.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/mbaxter-dev/sparkhist/migrations"

	"github.com/mbaxter-dev/sparkhist/internal/api"
	"github.com/mbaxter-dev/sparkhist/internal/infrastructure/config"
	"github.com/mbaxter-dev/sparkhist/internal/infrastructure/database"
	"github.com/mbaxter-dev/sparkhist/internal/infrastructure/influxdb"
	"github.com/mbaxter-dev/sparkhist/internal/infrastructure/logging"
	"github.com/mbaxter-dev/sparkhist/internal/ingest"
	"github.com/mbaxter-dev/sparkhist/internal/sparkplug"
	"github.com/mbaxter-dev/sparkhist/internal/store"
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

// pruneInterval is how often the retention prune runs when enabled.
const pruneInterval = time.Hour

func main() {
	// Create a context that cancels on interrupt signals (Ctrl+C, SIGTERM)
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	// Run the application
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
	log.Info("starting sparkhist",
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

	// Open database
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
	log.Info("database connected", "path", db.Path())

	// Run migrations
	if migrateErr := db.Migrate(ctx); migrateErr != nil {
		return fmt.Errorf("running migrations: %w", migrateErr)
	}
	log.Info("database migrations complete")

	st := store.NewSQLite(db.DB)
	classifier := store.NewClassifier(st)

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
			"org", cfg.InfluxDB.Org,
			"bucket", cfg.InfluxDB.Bucket,
		)

		influxClient.SetOnError(func(err error) {
			log.Error("InfluxDB write error", "error", err)
		})
	} else {
		log.Info("InfluxDB disabled")
	}

	// Create the API server up front so the ingestion pipeline can share
	// its WebSocket hub for commit broadcasts.
	apiServer, err := api.New(api.Deps{
		Config:     cfg.API,
		WS:         cfg.WebSocket,
		Logger:     log.With("component", "api"),
		Store:      st,
		Classifier: classifier,
		Version:    version,
	})
	if err != nil {
		return fmt.Errorf("creating API server: %w", err)
	}
	hub := apiServer.Hub()

	// Ingestion pipeline: normalize -> schedule -> commit
	ingestLog := log.With("component", "ingest")
	committer := ingest.NewStoreCommitter(st, ingestLog)
	scheduler := ingest.NewScheduler(committer, cfg.Ingest.BatchSize, cfg.FlushInterval(), ingestLog,
		func(batch *ingest.Batch, result ingest.CommitResult, err error) {
			if err != nil {
				return
			}
			hub.Broadcast(api.ChannelCommit, result)
			mirrorBatch(influxClient, batch)
		})
	normalizer := ingest.NewNormalizer(ingestLog)

	// Connect to the MQTT broker as a passive primary application
	client, err := sparkplug.Connect(cfg.MQTT, log.With("component", "mqtt"))
	if err != nil {
		return fmt.Errorf("connecting to MQTT: %w", err)
	}
	log.Info("MQTT connected",
		"broker", fmt.Sprintf("%s:%d", cfg.MQTT.Broker.Host, cfg.MQTT.Broker.Port),
		"client_id", cfg.MQTT.Broker.ClientID,
		"host_id", cfg.MQTT.HostID,
	)

	// Dispatch loop: consume client events until the stream ends
	dispatchDone := make(chan struct{})
	go func() {
		defer close(dispatchDone)
		dispatch(client, normalizer, scheduler, log)
	}()

	// Periodic retention prune (optional)
	if retention := cfg.Retention(); retention > 0 {
		go pruneLoop(ctx, st, retention, log)
	}

	// Start the API server
	if err := apiServer.Start(ctx); err != nil {
		return fmt.Errorf("starting API server: %w", err)
	}
	log.Info("API server started", "host", cfg.API.Host, "port", cfg.API.Port)

	// Verify connections are healthy
	if err := healthCheck(ctx, db, influxClient); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	log.Info("all health checks passed")

	log.Info("initialisation complete, waiting for shutdown signal")

	// Wait for shutdown signal
	<-ctx.Done()

	log.Info("shutdown signal received, cleaning up")

	// Stop intake first, then drain what is queued, then stop the API.
	if closeErr := client.Close(); closeErr != nil {
		log.Error("error closing MQTT", "error", closeErr)
	}
	<-dispatchDone
	scheduler.Close()
	if closeErr := apiServer.Close(); closeErr != nil {
		log.Error("error closing API server", "error", closeErr)
	}

	log.Info("sparkhist stopped")
	return nil
}

// dispatch consumes client events, feeding telemetry into the scheduler
// and logging lifecycle transitions. It returns when the event stream is
// closed.
func dispatch(client *sparkplug.Client, normalizer *ingest.Normalizer, scheduler *ingest.Scheduler, log *logging.Logger) {
	for ev := range client.Events() {
		switch ev.Type {
		case sparkplug.EventMessage:
			if inbound := normalizer.Normalize(ev.Topic, ev.Payload); inbound != nil {
				scheduler.Enqueue(inbound)
			}
		case sparkplug.EventConnect:
			log.Info("broker session established")
		case sparkplug.EventReconnect:
			log.Info("broker session re-established")
		case sparkplug.EventBirth:
			log.Info("historian online, subscriptions active")
		case sparkplug.EventOffline, sparkplug.EventDisconnect:
			log.Warn("broker connection lost", "reason", ev.Reason)
		case sparkplug.EventError:
			log.Error("client error", "error", ev.Err)
		case sparkplug.EventClose, sparkplug.EventEnd:
			log.Info("client event stream ended")
		}
	}
}

// mirrorBatch writes the numeric tuples of a committed batch to InfluxDB.
// No-op when the mirror is disabled.
func mirrorBatch(client *influxdb.Client, batch *ingest.Batch) {
	if client == nil {
		return
	}
	for _, ev := range batch.Events {
		for _, t := range ev.Tuples {
			if t.Value.Kind == sparkplug.ValueNumber {
				client.WriteMetricValue(ev.DeviceName, t.MetricName, t.Value.Num, t.Timestamp)
			}
		}
	}
}

// pruneLoop deletes value rows older than the retention window once per
// hour until the context is cancelled.
func pruneLoop(ctx context.Context, st store.Store, retention time.Duration, log *logging.Logger) {
	ticker := time.NewTicker(pruneInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			removed, err := st.PruneValues(ctx, retention)
			if err != nil {
				log.Error("value prune failed", "error", err)
				continue
			}
			if removed > 0 {
				log.Info("pruned old values", "removed", removed, "retention", retention)
			}
		}
	}
}

// getConfigPath returns the configuration file path.
// Uses SPARKHIST_CONFIG environment variable if set, otherwise default.
func getConfigPath() string {
	if path := os.Getenv("SPARKHIST_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}

// healthCheck verifies infrastructure connections are healthy.
//
// Parameters:
//   - ctx: Context for timeout/cancellation
//   - db: Database connection to check
//   - influxClient: InfluxDB client to check (may be nil if disabled)
//
// Returns:
//   - error: First health check failure, or nil if all healthy
func healthCheck(ctx context.Context, db *database.DB, influxClient *influxdb.Client) error {
	// Check database
	if err := db.HealthCheck(ctx); err != nil {
		return fmt.Errorf("database: %w", err)
	}

	// Check InfluxDB (if enabled)
	if influxClient != nil {
		if err := influxClient.HealthCheck(ctx); err != nil {
			return fmt.Errorf("influxdb: %w", err)
		}
	}

	return nil
}

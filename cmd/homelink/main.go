// HomeLink Core - home device control service.
//
// This is the main entry point for HomeLink Core. It tracks registered
// devices and their last known state, forwards owner commands to devices
// over MQTT, folds device status reports back into the registry and
// streams state changes to observers.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	_ "github.com/nerrad567/homelink-core/migrations"

	"github.com/nerrad567/homelink-core/internal/api"
	"github.com/nerrad567/homelink-core/internal/auth"
	"github.com/nerrad567/homelink-core/internal/command"
	"github.com/nerrad567/homelink-core/internal/device"
	"github.com/nerrad567/homelink-core/internal/infrastructure/config"
	"github.com/nerrad567/homelink-core/internal/infrastructure/database"
	"github.com/nerrad567/homelink-core/internal/infrastructure/influxdb"
	"github.com/nerrad567/homelink-core/internal/infrastructure/logging"
	"github.com/nerrad567/homelink-core/internal/infrastructure/mqtt"
	"github.com/nerrad567/homelink-core/internal/infrastructure/redis"
	"github.com/nerrad567/homelink-core/internal/infrastructure/tracing"
	"github.com/nerrad567/homelink-core/internal/ingest"
	"github.com/nerrad567/homelink-core/internal/metrics"
	"github.com/nerrad567/homelink-core/internal/stream"
)

// Version information - set at build time via ldflags
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"     // Semantic version (e.g., "1.0.0")
	commit  = "unknown" // Git commit hash
	date    = "unknown" // Build date
)

const (
	// Default configuration file path
	defaultConfigPath = "configs/config.yaml"

	serviceName = "homelink"

	shutdownTimeout = 10 * time.Second
)

// mqttStartTimeout is how long startup waits for the first broker
// connection before carrying on without it.
var mqttStartTimeout = 5 * time.Second

func main() {
	// Cancel on Ctrl+C or SIGTERM for graceful shutdown
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// run is the actual application logic, separated from main for testability.
// It returns nil on clean shutdown.
func run(ctx context.Context) error {
	// Use default logger until config is loaded
	log := logging.Default()
	log.Info("starting HomeLink Core",
		"version", version,
		"commit", commit,
		"build_date", date,
	)

	configPath := getConfigPath()
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	log = logging.New(cfg.Logging, version)
	log.Info("configuration loaded",
		"path", configPath,
		"store", cfg.Store.Backend,
		"level", cfg.Logging.Level,
	)

	shutdownTracing, err := tracing.Setup(ctx, cfg.Tracing, serviceName, version)
	if err != nil {
		return fmt.Errorf("setting up tracing: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if shutdownErr := shutdownTracing(shutdownCtx); shutdownErr != nil {
			log.Error("error flushing traces", "error", shutdownErr)
		}
	}()

	backend, err := openStore(ctx, cfg, log)
	if err != nil {
		return err
	}
	// buildLimiter may extend close, so resolve it at shutdown.
	defer func() { backend.close() }()

	registry := device.NewRegistry(backend.store)
	registry.SetLogger(log.Component("registry"))
	registry.SetWatchBuffer(cfg.WebSocket.SendBuffer)
	if refreshErr := registry.RefreshCache(ctx); refreshErr != nil {
		return fmt.Errorf("loading device registry: %w", refreshErr)
	}
	log.Info("device registry initialised", "devices", registry.Stats().Devices)

	// The broker is optional at startup: paho keeps retrying in the
	// background and the ingestor subscribes once it connects.
	mqttClient := mqtt.New(cfg.MQTT)
	mqttClient.SetLogger(log.Component("mqtt"))
	if startErr := mqttClient.Start(mqttStartTimeout); startErr != nil {
		log.Warn("MQTT broker unavailable, continuing without it", "error", startErr)
	} else {
		log.Info("MQTT connected",
			"broker", mqttClient.BrokerAddress(),
			"client_id", mqttClient.ClientID(),
		)
	}
	defer func() {
		log.Info("disconnecting from MQTT")
		if closeErr := mqttClient.Close(); closeErr != nil {
			log.Error("error closing MQTT", "error", closeErr)
		}
	}()

	var sink metrics.EventSink
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
		sink = influxClient
		log.Info("InfluxDB connected",
			"url", cfg.InfluxDB.URL,
			"org", cfg.InfluxDB.Org,
			"bucket", cfg.InfluxDB.Bucket,
		)
	} else {
		log.Info("InfluxDB disabled")
	}

	m := metrics.New(sink)
	registry.SetDropHandler(m.ChangeDropped)

	// #nosec G115 -- qos validated to 0..2
	qos := byte(cfg.MQTT.QoS)
	topics := mqttClient.Topics()

	dispatcher := command.New(registry, mqttClient, topics,
		command.WithLogger(log.Component("command")),
		command.WithRecorder(m),
		command.WithQoS(qos),
	)

	initial, maxDelay := cfg.MQTT.Reconnect.Backoff()
	ingestor := ingest.New(registry, mqttClient, topics,
		ingest.WithLogger(log.Component("ingest")),
		ingest.WithRecorder(m),
		ingest.WithQoS(qos),
		ingest.WithBackoff(initial, maxDelay),
	)
	mqttClient.SetOnConnect(func() {
		log.Info("MQTT connected")
		ingestor.NotifyConnected()
	})
	mqttClient.SetOnDisconnect(func(err error) {
		log.Warn("MQTT disconnected", "error", err)
	})

	ingestCtx, cancelIngest := context.WithCancel(ctx)
	ingestDone := make(chan struct{})
	go func() {
		defer close(ingestDone)
		if runErr := ingestor.Run(ingestCtx); runErr != nil {
			log.Error("status ingestor stopped", "error", runErr)
		}
	}()
	var stopOnce sync.Once
	stopIngest := func() {
		stopOnce.Do(func() {
			cancelIngest()
			<-ingestDone
			log.Info("status ingestor stopped")
		})
	}
	defer stopIngest()

	limiter, err := buildLimiter(ctx, cfg, backend)
	if err != nil {
		return err
	}

	checks := map[string]api.HealthChecker{"mqtt": mqttClient}
	if backend.health != nil {
		checks["store"] = backend.health
	}
	if influxClient != nil {
		checks["influxdb"] = influxClient
	}

	apiServer, err := api.New(api.Deps{
		Config:     cfg.API,
		Logger:     log.Component("api"),
		Registry:   registry,
		Dispatcher: dispatcher,
		Stream: stream.NewServer(registry, cfg.WebSocket,
			stream.WithLogger(log.Component("stream")),
			stream.WithRecorder(m),
		),
		Verifier: auth.NewVerifier(cfg.Security.JWT.Secret, cfg.Security.JWT.Issuer),
		Metrics:  m,
		Limiter:  limiter,
		Topics:   topics,
		Broker:   mqttClient.BrokerAddress(),
		Checks:   checks,
		Version:  version,
	})
	if err != nil {
		return fmt.Errorf("creating API server: %w", err)
	}
	if startErr := apiServer.Start(ctx); startErr != nil {
		return fmt.Errorf("starting API server: %w", startErr)
	}
	defer func() {
		if closeErr := apiServer.Close(); closeErr != nil {
			log.Error("error closing API server", "error", closeErr)
		}
	}()

	log.Info("initialisation complete, waiting for shutdown signal")

	<-ctx.Done()

	log.Info("shutdown signal received, cleaning up")

	// Stop ingesting before the HTTP server and observers go away.
	stopIngest()
	return nil
}

func getConfigPath() string {
	if path := os.Getenv("HOMELINK_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}

// storeBackend is the opened persistence layer and its resources.
type storeBackend struct {
	store  device.Store
	health api.HealthChecker
	redis  *redis.Client
	close  func()
}

// openStore opens the configured backend, running migrations for SQL stores.
func openStore(ctx context.Context, cfg *config.Config, log *logging.Logger) (*storeBackend, error) {
	switch cfg.Store.Backend {
	case config.StoreSQLite, config.StorePostgres:
		db, err := openDatabase(cfg)
		if err != nil {
			return nil, err
		}
		if migrateErr := db.Migrate(ctx); migrateErr != nil {
			db.Close() //nolint:errcheck // Best effort cleanup on error path
			return nil, fmt.Errorf("running migrations: %w", migrateErr)
		}
		log.Info("database ready", "dialect", db.Dialect())
		return &storeBackend{
			store:  device.NewSQLStore(db),
			health: db,
			close: func() {
				log.Info("closing database")
				if closeErr := db.Close(); closeErr != nil {
					log.Error("error closing database", "error", closeErr)
				}
			},
		}, nil

	case config.StoreRedis:
		rc, err := redis.Connect(ctx, cfg.Redis)
		if err != nil {
			return nil, fmt.Errorf("connecting to Redis: %w", err)
		}
		log.Info("Redis connected", "addr", cfg.Redis.Addr)
		return &storeBackend{
			store:  device.NewRedisStore(rc.Client, rc.KeyPrefix()),
			health: rc,
			redis:  rc,
			close: func() {
				log.Info("closing Redis connection")
				if closeErr := rc.Close(); closeErr != nil {
					log.Error("error closing Redis", "error", closeErr)
				}
			},
		}, nil

	default:
		log.Warn("using in-memory store, devices are lost on restart")
		return &storeBackend{store: device.NewMemoryStore(), close: func() {}}, nil
	}
}

func openDatabase(cfg *config.Config) (*database.DB, error) {
	if cfg.Store.Backend == config.StorePostgres {
		db, err := database.OpenPostgres(database.PostgresConfig{
			DSN:             cfg.Postgres.DSN,
			MaxOpenConns:    cfg.Postgres.MaxOpenConns,
			MaxIdleConns:    cfg.Postgres.MaxIdleConns,
			ConnMaxLifetime: time.Duration(cfg.Postgres.ConnMaxLifetime) * time.Second,
		})
		if err != nil {
			return nil, fmt.Errorf("opening postgres: %w", err)
		}
		return db, nil
	}

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

// buildLimiter returns the command rate limiter, or nil when disabled. The
// Redis store's connection is reused when there is one.
func buildLimiter(ctx context.Context, cfg *config.Config, backend *storeBackend) (api.Limiter, error) {
	if !cfg.Security.RateLimit.Enabled {
		return nil, nil
	}

	rc := backend.redis
	if rc == nil {
		var err error
		rc, err = redis.Connect(ctx, cfg.Redis)
		if err != nil {
			return nil, fmt.Errorf("connecting to Redis for rate limiting: %w", err)
		}
		prev := backend.close
		backend.close = func() {
			rc.Close() //nolint:errcheck // Best effort on shutdown
			prev()
		}
	}
	return api.NewRedisLimiter(rc.Client, rc.KeyPrefix(), cfg.Security.RateLimit.RequestsPerMinute), nil
}

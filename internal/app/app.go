// Package app assembles the seat store, catalog, event publisher and
// coordinator from configuration.  The server and the CLI both start here.
package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/iliyamo/seat-coordinator/internal/config"
	"github.com/iliyamo/seat-coordinator/internal/database"
	"github.com/iliyamo/seat-coordinator/internal/logger"
	"github.com/iliyamo/seat-coordinator/internal/queue"
	"github.com/iliyamo/seat-coordinator/internal/repository"
	"github.com/iliyamo/seat-coordinator/internal/seatstore"
	"github.com/iliyamo/seat-coordinator/internal/service"
)

// App owns every connection opened for one process.
type App struct {
	Config      config.Config
	DB          *sql.DB       // nil unless a SQL backend is configured
	Redis       *redis.Client // nil when Redis is unused or unreachable
	Store       seatstore.Store
	Catalog     repository.Catalog
	Coordinator *service.Coordinator

	log     logger.Logger
	closers []func() error
}

// Option adjusts an App before the coordinator is built.
type Option func(*App)

// WithStore replaces the configured seat store, e.g. with a
// fault-injecting wrapper.
func WithStore(wrap func(seatstore.Store) seatstore.Store) Option {
	return func(a *App) { a.Store = wrap(a.Store) }
}

// New connects every backend named by cfg.  On error everything opened
// so far is closed again.
func New(ctx context.Context, cfg config.Config, log logger.Logger, opts ...Option) (*App, error) {
	a := &App{Config: cfg, log: logger.OrDiscard(log)}
	if err := a.open(ctx); err != nil {
		_ = a.Close()
		return nil, err
	}
	for _, o := range opts {
		o(a)
	}

	events, err := a.publisher()
	if err != nil {
		_ = a.Close()
		return nil, err
	}
	coord, err := service.NewCoordinator(a.Store, a.Catalog, service.Options{
		Retry: service.RetryPolicy{
			MaxAttempts: cfg.Retry.MaxAttempts,
			BaseDelay:   cfg.Retry.BaseDelay,
			MaxDelay:    cfg.Retry.MaxDelay,
			Multiplier:  cfg.Retry.Multiplier,
		},
		CallTimeout: cfg.CallTimeout,
		Events:      events,
		Logger:      a.log,
	})
	if err != nil {
		_ = a.Close()
		return nil, err
	}
	a.Coordinator = coord
	a.log.Infof("seat store=%s catalog=%s events=%s max latency=%s",
		cfg.SeatStore, cfg.CatalogStore, cfg.Events.Backend, coord.MaxLatency())
	return a, nil
}

func (a *App) open(ctx context.Context) error {
	cfg := a.Config
	if cfg.AutoMigrate {
		if err := Migrate(ctx, cfg, a.log); err != nil {
			return err
		}
	}

	var dialect database.Dialect
	if backend := cfg.SQLBackend(); backend != "" {
		d, err := database.ParseDialect(backend)
		if err != nil {
			return err
		}
		db, err := database.Open(ctx, d, dbConfig(cfg), a.log)
		if err != nil {
			return err
		}
		dialect, a.DB = d, db
		a.closers = append(a.closers, db.Close)
	}

	if cfg.SeatStore == config.BackendRedis || cfg.RateLimit.Enabled || cfg.Cache.Enabled {
		rdb, err := config.NewRedisClient(ctx, cfg.Redis)
		switch {
		case err == nil:
			a.Redis = rdb
			a.closers = append(a.closers, rdb.Close)
		case cfg.SeatStore == config.BackendRedis:
			return err
		default:
			a.log.Warnf("redis unavailable, rate limit and cache disabled: %v", err)
		}
	}

	switch cfg.SeatStore {
	case config.BackendMemory:
		a.Store = seatstore.NewMemoryStore()
	case config.BackendMySQL, config.BackendPostgres:
		a.Store = seatstore.NewSQLStore(a.DB, dialect)
	case config.BackendRedis:
		a.Store = seatstore.NewRedisStore(a.Redis, seatstore.RedisOptions{
			Prefix:      cfg.Redis.KeyPrefix,
			MinReplicas: cfg.Redis.MinReplicas,
		})
	case config.BackendCassandra:
		cs, err := seatstore.NewCassandraStore(cassandraConfig(cfg))
		if err != nil {
			return err
		}
		a.Store = cs
		a.closers = append(a.closers, cs.Close)
	default:
		return fmt.Errorf("unknown seat store %q", cfg.SeatStore)
	}

	switch cfg.CatalogStore {
	case config.BackendMemory:
		a.Catalog = repository.NewMemoryCatalog()
	case config.BackendMySQL, config.BackendPostgres:
		a.Catalog = repository.NewSQLCatalog(a.DB, dialect)
	default:
		return fmt.Errorf("unknown catalog store %q", cfg.CatalogStore)
	}
	return nil
}

func (a *App) publisher() (service.EventPublisher, error) {
	ev := a.Config.Events
	switch ev.Backend {
	case config.EventsRabbitMQ:
		p := queue.NewRabbitPublisher(ev.RabbitURL, ev.RabbitQueue, a.log)
		a.closers = append(a.closers, p.Close)
		return p, nil
	case config.EventsKafka:
		p, err := queue.NewKafkaPublisher(ev.KafkaBrokers, ev.KafkaTopic, a.log)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, p.Close)
		return p, nil
	}
	return nil, nil
}

// Consumer returns the RabbitMQ event consumer, or nil when events do
// not go through RabbitMQ.
func (a *App) Consumer() *queue.Consumer {
	ev := a.Config.Events
	if ev.Backend != config.EventsRabbitMQ {
		return nil
	}
	return queue.NewConsumer(ev.RabbitURL, ev.RabbitQueue, ev.LogDir, a.log)
}

// Close releases connections in reverse order of opening.
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}

// Migrate creates the SQL tables and the Cassandra keyspace the
// configuration needs.  It is idempotent.
func Migrate(ctx context.Context, cfg config.Config, log logger.Logger) error {
	log = logger.OrDiscard(log)
	if backend := cfg.SQLBackend(); backend != "" {
		d, err := database.ParseDialect(backend)
		if err != nil {
			return err
		}
		db, err := database.Open(ctx, d, dbConfig(cfg), log)
		if err != nil {
			return err
		}
		defer db.Close()
		if err := database.Migrate(ctx, db, d); err != nil {
			return err
		}
		log.Infof("migrated %s schema in %s", d, cfg.DB.Name)
	}
	if cfg.SeatStore == config.BackendCassandra {
		if err := seatstore.MigrateCassandra(ctx, cassandraConfig(cfg)); err != nil {
			return err
		}
		log.Infof("migrated cassandra keyspace %s", cfg.Cassandra.Keyspace)
	}
	return nil
}

func dbConfig(cfg config.Config) database.Config {
	return database.Config{
		User:    cfg.DB.User,
		Pass:    cfg.DB.Pass,
		Host:    cfg.DB.Host,
		Port:    cfg.DB.Port,
		Name:    cfg.DB.Name,
		Retries: cfg.DB.ConnectRetries,
	}
}

func cassandraConfig(cfg config.Config) seatstore.CassandraConfig {
	return seatstore.CassandraConfig{
		Hosts:             cfg.Cassandra.Hosts,
		Keyspace:          cfg.Cassandra.Keyspace,
		LocalDC:           cfg.Cassandra.LocalDC,
		Consistency:       cfg.Cassandra.Consistency,
		Serial:            cfg.Cassandra.Serial,
		ReplicationFactor: cfg.Cassandra.ReplicationFactor,
		Timeout:           cfg.CallTimeout,
	}
}

// Package backend opens the storage backend and Redis client described by a
// config.Config.
package backend

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/rbaliyan/dropmail/internal/config"
	"github.com/rbaliyan/dropmail/store"
	"github.com/rbaliyan/dropmail/store/cached"
	"github.com/rbaliyan/dropmail/store/memory"
	mongostore "github.com/rbaliyan/dropmail/store/mongo"
	"github.com/rbaliyan/dropmail/store/postgres"
	"github.com/rbaliyan/dropmail/store/sqlite"
)

// Backend bundles the opened store with the resources it depends on.
type Backend struct {
	// Store is ready for dropmail.WithStore. The service connects and
	// closes it.
	Store store.Store
	// Redis is nil unless redis.addr is configured.
	Redis *redis.Client

	closers []func(context.Context) error
}

// Open builds the configured store. Nothing is dialed for memory and sqlite;
// postgres and mongo drivers connect lazily, so Open itself rarely blocks.
func Open(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Backend, error) {
	if logger == nil {
		logger = slog.Default()
	}
	b := &Backend{}

	s, err := b.openStore(cfg, logger)
	if err != nil {
		_ = b.Close(ctx)
		return nil, err
	}

	if cfg.Redis.Addr != "" {
		b.Redis = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		b.closers = append(b.closers, func(context.Context) error { return b.Redis.Close() })
	}

	if cfg.Cache.Enabled {
		if b.Redis == nil {
			_ = b.Close(ctx)
			return nil, errors.New("backend: cache enabled without redis.addr")
		}
		s = cached.New(s, b.Redis,
			cached.WithTTL(cfg.Cache.TTL),
			cached.WithKeyPrefix(cfg.ServiceName+":inbox:"),
			cached.WithLogger(logger),
		)
	}

	b.Store = s
	logger.Info("backend opened", "driver", cfg.Store.Driver, "cache", cfg.Cache.Enabled)
	return b, nil
}

func (b *Backend) openStore(cfg *config.Config, logger *slog.Logger) (store.Store, error) {
	switch cfg.Store.Driver {
	case config.DriverMemory:
		return memory.New(), nil

	case config.DriverSQLite:
		s, err := sqlite.Open(cfg.Store.DSN,
			sqlite.WithTimeout(cfg.Store.Timeout),
			sqlite.WithLogger(logger),
		)
		if err != nil {
			return nil, fmt.Errorf("backend: %w", err)
		}
		return s, nil

	case config.DriverPostgres:
		db, err := sqlx.Open("postgres", cfg.Store.DSN)
		if err != nil {
			return nil, fmt.Errorf("backend: postgres open: %w", err)
		}
		b.closers = append(b.closers, func(context.Context) error { return db.Close() })
		return postgres.New(db,
			postgres.WithTimeout(cfg.Store.Timeout),
			postgres.WithLogger(logger),
		), nil

	case config.DriverMongo:
		client, err := mongo.Connect(options.Client().
			ApplyURI(cfg.Store.DSN).
			SetConnectTimeout(cfg.Store.Timeout))
		if err != nil {
			return nil, fmt.Errorf("backend: mongo connect: %w", err)
		}
		b.closers = append(b.closers, client.Disconnect)
		return mongostore.New(client,
			mongostore.WithDatabase(cfg.Store.Database),
			mongostore.WithTimeout(cfg.Store.Timeout),
			mongostore.WithLogger(logger),
		), nil

	default:
		return nil, fmt.Errorf("backend: unknown store driver %q", cfg.Store.Driver)
	}
}

// Close releases the driver resources in reverse order of acquisition. Call
// it after the service (and therefore the store) has been closed.
func (b *Backend) Close(ctx context.Context) error {
	var errs []error
	for i := len(b.closers) - 1; i >= 0; i-- {
		if err := b.closers[i](ctx); err != nil {
			errs = append(errs, err)
		}
	}
	b.closers = nil
	return errors.Join(errs...)
}

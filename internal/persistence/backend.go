package persistence

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/spec-kit/ticketbot/internal/config"
	"github.com/spec-kit/ticketbot/internal/repository"
)

// Backend is an opened ticket store plus whatever must be released on
// shutdown.
type Backend struct {
	Name    config.StoreBackend
	Tickets repository.TicketRepository
	closers []func()
}

// Close releases every connection the backend holds.
func (b *Backend) Close() {
	if b == nil {
		return
	}
	for i := len(b.closers) - 1; i >= 0; i-- {
		b.closers[i]()
	}
	b.closers = nil
}

// Open connects to the configured backend and prepares its schema or
// indexes. The bot refuses to start if this fails.
func Open(ctx context.Context, cfg config.StoreConfig, logger *zap.Logger) (*Backend, error) {
	backend := &Backend{Name: cfg.Backend}

	switch cfg.Backend {
	case config.BackendSQLite:
		db, err := NewSQLite(ctx, cfg.SQLite, logger)
		if err != nil {
			return nil, fmt.Errorf("open sqlite: %w", err)
		}
		backend.closers = append(backend.closers, func() { _ = db.Close() })
		if err := RunSQLMigrations(ctx, db, "sqlite", logger); err != nil {
			backend.Close()
			return nil, err
		}
		backend.Tickets = repository.NewSQLiteTicketRepository(db)

	case config.BackendMySQL:
		db, err := NewMySQL(ctx, cfg.MySQL, logger)
		if err != nil {
			return nil, fmt.Errorf("open mysql: %w", err)
		}
		backend.closers = append(backend.closers, func() { _ = db.Close() })
		if err := RunSQLMigrations(ctx, db, "mysql", logger); err != nil {
			backend.Close()
			return nil, err
		}
		backend.Tickets = repository.NewMySQLTicketRepository(db)

	case config.BackendPostgres:
		pg, err := NewPostgres(ctx, cfg.Postgres, logger)
		if err != nil {
			return nil, fmt.Errorf("open postgres: %w", err)
		}
		backend.closers = append(backend.closers, pg.Close)
		if cfg.Postgres.RunMigrations {
			if err := RunPostgresMigrations(ctx, pg.PoolHandle(), logger); err != nil {
				backend.Close()
				return nil, err
			}
		}
		backend.Tickets = repository.NewPostgresTicketRepository(pg.PoolHandle())

	case config.BackendRedis:
		rdb, err := NewRedis(ctx, cfg.Redis, logger)
		if err != nil {
			return nil, fmt.Errorf("open redis: %w", err)
		}
		backend.closers = append(backend.closers, rdb.Close)
		backend.Tickets = repository.NewRedisTicketRepository(rdb.Client, cfg.Redis.KeyPrefix)

	case config.BackendMongoDB:
		mg, err := NewMongo(ctx, cfg.Mongo, logger)
		if err != nil {
			return nil, fmt.Errorf("open mongodb: %w", err)
		}
		backend.closers = append(backend.closers, func() {
			closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			mg.Close(closeCtx)
		})
		if err := repository.EnsureMongoTicketIndexes(ctx, mg.Collection); err != nil {
			backend.Close()
			return nil, err
		}
		backend.Tickets = repository.NewMongoTicketRepository(mg.Collection)

	default:
		return nil, fmt.Errorf("unsupported store backend %q", cfg.Backend)
	}

	logger.Info("ticket store ready", zap.String("backend", string(cfg.Backend)))
	return backend, nil
}

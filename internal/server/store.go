package server

import (
	"context"
	"errors"
	"fmt"

	gcfirestore "cloud.google.com/go/firestore"
	goredis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/mihaimyh/subsync/internal/config"
	"github.com/mihaimyh/subsync/pkg/subscription"
	"github.com/mihaimyh/subsync/storage/firestore"
	gormstore "github.com/mihaimyh/subsync/storage/gorm"
	"github.com/mihaimyh/subsync/storage/memory"
	"github.com/mihaimyh/subsync/storage/postgres"
	"github.com/mihaimyh/subsync/storage/postgrest"
	"github.com/mihaimyh/subsync/storage/redis"
	"github.com/mihaimyh/subsync/storage/sqlite"
	"github.com/mihaimyh/subsync/storage/tiered"
)

// Store is an opened profile store together with its shutdown hooks.
type Store struct {
	subscription.ProfileStore
	closers []func() error
}

// Ping reports connectivity when the underlying store supports it.
func (s *Store) Ping(ctx context.Context) error {
	if p, ok := s.ProfileStore.(subscription.Pinger); ok {
		return p.Ping(ctx)
	}
	return nil
}

// Close releases every resource in reverse opening order.
func (s *Store) Close() error {
	var errs []error
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	s.closers = nil
	return errors.Join(errs...)
}

func (s *Store) onClose(fn func() error) {
	s.closers = append(s.closers, fn)
}

// OpenStore opens the profile store selected by cfg.StoreDriver, optionally
// fronted by a hot mirror.
func OpenStore(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (*Store, error) {
	st := &Store{}

	primary, err := openDriver(ctx, cfg, cfg.StoreDriver, st)
	if err != nil {
		_ = st.Close()
		return nil, fmt.Errorf("open %s store: %w", cfg.StoreDriver, err)
	}
	st.ProfileStore = primary

	if cfg.MirrorDriver == "" {
		return st, nil
	}

	hot, err := openDriver(ctx, cfg, cfg.MirrorDriver, st)
	if err != nil {
		_ = st.Close()
		return nil, fmt.Errorf("open %s mirror: %w", cfg.MirrorDriver, err)
	}
	ts, err := tiered.New(tiered.Config{
		Hot:         hot,
		Cold:        primary,
		AsyncMirror: cfg.AsyncMirror,
		AsyncErrorHandler: func(err error) {
			logger.Warn().Err(err).Str("mirror", cfg.MirrorDriver).Msg("profile mirror refresh failed")
		},
	})
	if err != nil {
		_ = st.Close()
		return nil, err
	}
	st.onClose(ts.Close)
	st.ProfileStore = ts
	return st, nil
}

func openDriver(ctx context.Context, cfg *config.Config, driver string, st *Store) (subscription.ProfileStore, error) {
	switch driver {
	case config.DriverMemory:
		return memory.New(), nil

	case config.DriverPostgREST:
		return postgrest.New(postgrest.Config{
			BaseURL:    cfg.SupabaseURL,
			ServiceKey: cfg.SupabaseServiceKey,
			Table:      cfg.ProfilesTable,
		})

	case config.DriverPostgres:
		pgCfg := postgres.DefaultConfig()
		pgCfg.ConnectionString = cfg.DatabaseURL
		pgCfg.Table = cfg.ProfilesTable
		s, err := postgres.New(ctx, pgCfg)
		if err != nil {
			return nil, err
		}
		st.onClose(func() error { s.Close(); return nil })
		if cfg.AutoMigrate {
			if err := s.Migrate(ctx); err != nil {
				return nil, err
			}
		}
		return s, nil

	case config.DriverGormPostgres, config.DriverGormMySQL:
		open := gormstore.OpenPostgres
		if driver == config.DriverGormMySQL {
			open = gormstore.OpenMySQL
		}
		db, err := open(cfg.DatabaseURL)
		if err != nil {
			return nil, err
		}
		s, err := gormstore.New(db, gormstore.Config{Table: cfg.ProfilesTable})
		if err != nil {
			return nil, err
		}
		st.onClose(s.Close)
		if cfg.AutoMigrate {
			if err := s.Migrate(); err != nil {
				return nil, err
			}
		}
		return s, nil

	case config.DriverRedis:
		opts, err := goredis.ParseURL(cfg.RedisURL)
		if err != nil {
			return nil, fmt.Errorf("parse REDIS_URL: %w", err)
		}
		client := goredis.NewClient(opts)
		s, err := redis.New(client, redis.DefaultConfig())
		if err != nil {
			_ = client.Close()
			return nil, err
		}
		st.onClose(s.Close)
		return s, nil

	case config.DriverFirestore:
		client, err := gcfirestore.NewClient(ctx, cfg.FirestoreProjectID)
		if err != nil {
			return nil, err
		}
		s, err := firestore.New(client, firestore.Config{ProfilesCollection: cfg.ProfilesTable})
		if err != nil {
			_ = client.Close()
			return nil, err
		}
		st.onClose(s.Close)
		return s, nil

	case config.DriverSQLite:
		s, err := sqlite.New(cfg.SQLitePath)
		if err != nil {
			return nil, err
		}
		st.onClose(s.Close)
		return s, nil

	default:
		return nil, fmt.Errorf("unknown store driver %q", driver)
	}
}

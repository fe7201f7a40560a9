package main

import (
	"context"
	"database/sql"
	"fmt"
	"log"

	_ "github.com/lib/pq"

	"github.com/dalexandrias/marketwatch/internal/api"
	"github.com/dalexandrias/marketwatch/internal/config"
	"github.com/dalexandrias/marketwatch/internal/dispatcher"
	"github.com/dalexandrias/marketwatch/internal/domain"
	"github.com/dalexandrias/marketwatch/internal/housekeeper"
	"github.com/dalexandrias/marketwatch/internal/notify"
	"github.com/dalexandrias/marketwatch/internal/scheduler"
	"github.com/dalexandrias/marketwatch/internal/store/postgres"
	"github.com/dalexandrias/marketwatch/internal/store/sqlite"
)

// backend is everything the commands need from a storage backend. Both
// sqlite.Store and postgres.Store implement it.
type backend interface {
	scheduler.Store
	dispatcher.Store
	notify.Store
	housekeeper.Store
	api.Store

	Migrate(ctx context.Context) error
	GetKeywordByTerm(ctx context.Context, term string) (domain.Keyword, error)
	GetRegionBySlug(ctx context.Context, slug string) (domain.Region, error)
}

var (
	_ backend = (*sqlite.Store)(nil)
	_ backend = (*postgres.Store)(nil)
)

// openBackend connects to the configured database and applies the schema.
// The caller closes the returned *sql.DB.
func openBackend(ctx context.Context, cfg config.Config) (backend, *sql.DB, error) {
	switch cfg.DatabaseDriver {
	case "postgres":
		db, err := sql.Open("postgres", cfg.DatabaseURL)
		if err != nil {
			return nil, nil, fmt.Errorf("open database: %w", err)
		}

		db.SetMaxOpenConns(cfg.DBMaxOpenConns)
		db.SetMaxIdleConns(cfg.DBMaxIdleConns)
		db.SetConnMaxLifetime(cfg.DBConnMaxLifetime)
		db.SetConnMaxIdleTime(cfg.DBConnMaxIdleTime)

		log.Printf("marketwatch: db pool configured (max_open=%d, max_idle=%d, max_lifetime=%s, max_idle_time=%s)",
			cfg.DBMaxOpenConns, cfg.DBMaxIdleConns, cfg.DBConnMaxLifetime, cfg.DBConnMaxIdleTime)

		if err := db.PingContext(ctx); err != nil {
			db.Close()
			return nil, nil, fmt.Errorf("connect to database: %w", err)
		}
		s := postgres.New(db)
		if err := s.Migrate(ctx); err != nil {
			db.Close()
			return nil, nil, fmt.Errorf("migrate: %w", err)
		}
		return s, db, nil

	default:
		db, err := sqlite.Open(ctx, cfg.DatabasePath)
		if err != nil {
			return nil, nil, err
		}
		s := sqlite.New(db)
		if err := s.Migrate(ctx); err != nil {
			db.Close()
			return nil, nil, fmt.Errorf("migrate: %w", err)
		}
		return s, db, nil
	}
}

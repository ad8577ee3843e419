package main

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/jotstack/jotstack/internal/config"
	"github.com/jotstack/jotstack/internal/platform/postgres"
	"github.com/jotstack/jotstack/internal/platform/sqlite"
)

// setupDatabase opens the configured storage backend and ensures its
// schema is current. Postgres runs the embedded goose migrations; sqlite
// creates its schema on open.
func setupDatabase(cfg *config.Config, logger *slog.Logger) (*sql.DB, error) {
	if cfg.Database.Driver == "sqlite" {
		db, err := sqlite.Open(cfg.Database.URL)
		if err != nil {
			return nil, err
		}
		logger.Info("sqlite database opened", "path", cfg.Database.URL)
		return db, nil
	}

	db, err := sql.Open("pgx", cfg.Database.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database connection: %w", err)
	}

	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	if err := postgres.RunMigrations(db); err != nil {
		_ = db.Close()
		return nil, err
	}

	logger.Info("database connection established")
	return db, nil
}

package database

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// Querier is the subset of *pgxpool.Pool that schema setup needs.
type Querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// TicksTable is the recorder's destination table.
const TicksTable = "ticks"

const createTicksSQL = `
CREATE TABLE IF NOT EXISTS ticks (
    ts          TIMESTAMPTZ      NOT NULL,
    received_at TIMESTAMPTZ      NOT NULL,
    security    TEXT             NOT NULL,
    last_price  DOUBLE PRECISION NOT NULL,
    prev_close  DOUBLE PRECISION NOT NULL,
    change_pct  DOUBLE PRECISION NOT NULL,
    bid         DOUBLE PRECISION,
    ask         DOUBLE PRECISION,
    volume      BIGINT,
    PRIMARY KEY (security, ts)
)`

const timescaleInstalledSQL = `SELECT EXISTS (SELECT 1 FROM pg_extension WHERE extname = 'timescaledb')`

const createHypertableSQL = `SELECT create_hypertable('ticks', 'ts', if_not_exists => TRUE, migrate_data => TRUE)`

// EnsureSchema creates the ticks table if needed and, when TimescaleDB is
// available, turns it into a hypertable. Safe to run on every start.
func EnsureSchema(ctx context.Context, db Querier, logger *slog.Logger) error {
	if logger == nil {
		logger = slog.Default()
	}

	if _, err := db.Exec(ctx, createTicksSQL); err != nil {
		return fmt.Errorf("create %s table: %w", TicksTable, err)
	}

	var timescale bool
	if err := db.QueryRow(ctx, timescaleInstalledSQL).Scan(&timescale); err != nil {
		return fmt.Errorf("check timescaledb extension: %w", err)
	}
	if !timescale {
		logger.Warn("timescaledb extension not installed, using a plain table", "table", TicksTable)
		return nil
	}

	if _, err := db.Exec(ctx, createHypertableSQL); err != nil {
		return fmt.Errorf("create hypertable: %w", err)
	}
	logger.Info("schema ready", "table", TicksTable, "hypertable", true)
	return nil
}

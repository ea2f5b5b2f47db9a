package database

import (
	"context"
	"fmt"
)

// Migration represents a single schema migration.
type Migration struct {
	Version int
	Name    string
	SQL     string
}

var migrations = []Migration{
	{
		Version: 1,
		Name:    "create_passage_events",
		SQL: `
			CREATE TABLE IF NOT EXISTS passage_events (
				id TEXT PRIMARY KEY,
				ts INTEGER NOT NULL,
				side TEXT NOT NULL,
				lane INTEGER NOT NULL,
				direction TEXT NOT NULL,
				vehicle_type TEXT NOT NULL,
				color TEXT,
				make_model TEXT,
				make_model_conf REAL,
				snapshot_path TEXT,
				plate_number TEXT,
				plate_snapshot_path TEXT,
				bbox TEXT NOT NULL,
				track_id INTEGER NOT NULL,
				source_meta TEXT,
				created_at INTEGER NOT NULL
			);
			CREATE INDEX IF NOT EXISTS idx_passage_events_ts ON passage_events(ts);
			CREATE INDEX IF NOT EXISTS idx_passage_events_side ON passage_events(side);
			CREATE INDEX IF NOT EXISTS idx_passage_events_type ON passage_events(vehicle_type);
		`,
	},
}

// Migrator applies schema migrations in order.
type Migrator struct {
	db *DB
}

// NewMigrator creates a migrator for the given database.
func NewMigrator(db *DB) *Migrator {
	return &Migrator{db: db}
}

// Run applies all pending migrations.
func (m *Migrator) Run(ctx context.Context) error {
	_, err := m.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INTEGER PRIMARY KEY,
			name TEXT NOT NULL,
			applied_at INTEGER NOT NULL DEFAULT (strftime('%s','now'))
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to create migrations table: %w", err)
	}

	current, err := m.currentVersion(ctx)
	if err != nil {
		return err
	}

	for _, mig := range migrations {
		if mig.Version <= current {
			continue
		}

		tx, err := m.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("failed to begin migration %d: %w", mig.Version, err)
		}

		if _, err := tx.ExecContext(ctx, mig.SQL); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("migration %d (%s) failed: %w", mig.Version, mig.Name, err)
		}
		if _, err := tx.ExecContext(ctx,
			"INSERT INTO schema_migrations (version, name) VALUES (?, ?)",
			mig.Version, mig.Name,
		); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("failed to record migration %d: %w", mig.Version, err)
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("failed to commit migration %d: %w", mig.Version, err)
		}

		m.db.logger.Info("Applied migration", "version", mig.Version, "name", mig.Name)
	}

	return nil
}

func (m *Migrator) currentVersion(ctx context.Context) (int, error) {
	var version int
	err := m.db.QueryRowContext(ctx, "SELECT COALESCE(MAX(version), 0) FROM schema_migrations").Scan(&version)
	if err != nil {
		return 0, fmt.Errorf("failed to read schema version: %w", err)
	}
	return version, nil
}

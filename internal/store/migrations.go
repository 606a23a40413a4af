package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	apperrors "tradeflow/internal/errors"
)

// Migration is one versioned schema change. Statements must be valid on
// both SQLite and PostgreSQL.
type Migration struct {
	Version    int
	Name       string
	Statements []string
}

// MigrationState reports whether a migration has been applied.
type MigrationState struct {
	Version   int
	Name      string
	Applied   bool
	AppliedAt time.Time
}

// Migrations is the ordered schema history.
var Migrations = []Migration{
	{
		Version: 1,
		Name:    "workflow_events",
		Statements: []string{
			`CREATE TABLE IF NOT EXISTS workflow_events (
				workspace_id TEXT NOT NULL,
				event_id TEXT NOT NULL,
				event_type TEXT NOT NULL,
				event_version INTEGER NOT NULL DEFAULT 1,
				occurred_at TIMESTAMP NOT NULL,
				actor_type TEXT NOT NULL,
				actor_user_id TEXT,
				workflow_id TEXT NOT NULL,
				trace_id TEXT,
				parent_event_id TEXT,
				entity_type TEXT,
				entity_id TEXT,
				symbol TEXT,
				payload TEXT NOT NULL,
				envelope TEXT NOT NULL,
				is_synthetic BOOLEAN NOT NULL DEFAULT FALSE,
				created_at TIMESTAMP NOT NULL,
				PRIMARY KEY (workspace_id, event_id)
			)`,
			`CREATE INDEX IF NOT EXISTS idx_workflow_events_parent
				ON workflow_events (workspace_id, event_type, parent_event_id)`,
			`CREATE INDEX IF NOT EXISTS idx_workflow_events_workflow
				ON workflow_events (workspace_id, workflow_id, occurred_at)`,
		},
	},
	{
		Version: 2,
		Name:    "decision_packets",
		Statements: []string{
			`CREATE TABLE IF NOT EXISTS decision_packets (
				workspace_id TEXT NOT NULL,
				packet_id TEXT NOT NULL,
				fingerprint TEXT,
				symbol TEXT,
				market TEXT,
				signal_source TEXT,
				signal_score DOUBLE PRECISION,
				bias TEXT,
				timeframe_bias TEXT,
				entry_zone TEXT,
				invalidation TEXT,
				targets TEXT,
				risk_score DOUBLE PRECISION,
				volatility_regime TEXT,
				operator_fit DOUBLE PRECISION,
				status TEXT NOT NULL,
				candidate_event_id TEXT,
				planned_event_id TEXT,
				alerted_event_id TEXT,
				executed_event_id TEXT,
				closed_event_id TEXT,
				last_event_id TEXT,
				last_event_type TEXT,
				source_event_count INTEGER NOT NULL DEFAULT 0,
				metadata TEXT,
				created_at TIMESTAMP NOT NULL,
				updated_at TIMESTAMP NOT NULL,
				PRIMARY KEY (workspace_id, packet_id)
			)`,
			`CREATE INDEX IF NOT EXISTS idx_decision_packets_fingerprint
				ON decision_packets (workspace_id, fingerprint)`,
			`CREATE INDEX IF NOT EXISTS idx_decision_packets_status
				ON decision_packets (workspace_id, status, updated_at)`,
			`CREATE TABLE IF NOT EXISTS decision_packet_aliases (
				workspace_id TEXT NOT NULL,
				alias_id TEXT NOT NULL,
				packet_id TEXT NOT NULL,
				updated_at TIMESTAMP NOT NULL,
				PRIMARY KEY (workspace_id, alias_id)
			)`,
		},
	},
	{
		Version: 3,
		Name:    "alerts_and_journal",
		Statements: []string{
			`CREATE TABLE IF NOT EXISTS alerts (
				id TEXT PRIMARY KEY,
				workspace_id TEXT NOT NULL,
				symbol TEXT NOT NULL,
				asset_type TEXT,
				condition_type TEXT NOT NULL,
				condition_value DOUBLE PRECISION NOT NULL,
				condition_timeframe TEXT,
				name TEXT,
				notes TEXT,
				is_active BOOLEAN NOT NULL DEFAULT TRUE,
				is_recurring BOOLEAN NOT NULL DEFAULT FALSE,
				notify_email BOOLEAN NOT NULL DEFAULT FALSE,
				notify_push BOOLEAN NOT NULL DEFAULT FALSE,
				is_smart_alert BOOLEAN NOT NULL DEFAULT FALSE,
				smart_alert_context TEXT,
				cooldown_minutes INTEGER NOT NULL DEFAULT 0,
				created_at TIMESTAMP NOT NULL
			)`,
			`CREATE INDEX IF NOT EXISTS idx_alerts_smart
				ON alerts (workspace_id, is_smart_alert, created_at)`,
			`CREATE TABLE IF NOT EXISTS journal_entries (
				id TEXT PRIMARY KEY,
				workspace_id TEXT NOT NULL,
				trade_date TIMESTAMP NOT NULL,
				symbol TEXT NOT NULL,
				side TEXT NOT NULL,
				trade_type TEXT NOT NULL,
				quantity DOUBLE PRECISION NOT NULL DEFAULT 0,
				entry_price DOUBLE PRECISION NOT NULL DEFAULT 0,
				exit_price DOUBLE PRECISION,
				strategy TEXT,
				setup TEXT,
				notes TEXT,
				emotions TEXT,
				outcome TEXT,
				pl DOUBLE PRECISION,
				pl_percent DOUBLE PRECISION,
				tags TEXT,
				is_open BOOLEAN NOT NULL DEFAULT TRUE,
				stop_loss DOUBLE PRECISION,
				target DOUBLE PRECISION,
				risk_amount DOUBLE PRECISION,
				r_multiple DOUBLE PRECISION,
				planned_rr DOUBLE PRECISION,
				created_at TIMESTAMP NOT NULL,
				updated_at TIMESTAMP NOT NULL
			)`,
			`CREATE INDEX IF NOT EXISTS idx_journal_entries_open
				ON journal_entries (workspace_id, is_open, symbol)`,
		},
	},
	{
		Version: 4,
		Name:    "operator_state",
		Statements: []string{
			`CREATE TABLE IF NOT EXISTS operator_state (
				workspace_id TEXT PRIMARY KEY,
				current_focus TEXT,
				active_candidates TEXT,
				risk_environment TEXT NOT NULL DEFAULT 'normal',
				cognitive_load DOUBLE PRECISION NOT NULL DEFAULT 0,
				ai_attention_score DOUBLE PRECISION NOT NULL DEFAULT 0,
				context_state TEXT,
				updated_at TIMESTAMP NOT NULL
			)`,
		},
	},
	{
		Version: 5,
		Name:    "workflow_events_analysis_ref",
		Statements: []string{
			`ALTER TABLE workflow_events ADD COLUMN analysis_id TEXT`,
			`CREATE INDEX IF NOT EXISTS idx_workflow_events_analysis
				ON workflow_events (workspace_id, event_type, analysis_id)`,
		},
	},
}

const createMigrationsTable = `CREATE TABLE IF NOT EXISTS schema_migrations (
	version INTEGER PRIMARY KEY,
	name TEXT NOT NULL,
	applied_at TIMESTAMP NOT NULL
)`

// Migrate applies every pending migration, each in its own transaction.
func (s *SQLStore) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, createMigrationsTable); err != nil {
		return apperrors.NewStoreError("migrate", err)
	}

	applied, err := s.appliedMigrations(ctx)
	if err != nil {
		return err
	}

	for _, m := range Migrations {
		if _, ok := applied[m.Version]; ok {
			continue
		}
		if err := s.applyMigration(ctx, m); err != nil {
			return fmt.Errorf("failed to apply migration %d (%s): %w", m.Version, m.Name, err)
		}
	}
	return nil
}

func (s *SQLStore) applyMigration(ctx context.Context, m Migration) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return apperrors.NewStoreError("migrate", err)
	}
	defer tx.Rollback()

	for _, stmt := range m.Statements {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return apperrors.NewStoreError("migrate", err)
		}
	}
	if _, err := tx.ExecContext(ctx,
		rebind(s.driver, `INSERT INTO schema_migrations (version, name, applied_at) VALUES (?, ?, ?)`),
		m.Version, m.Name, time.Now().UTC(),
	); err != nil {
		return apperrors.NewStoreError("migrate", err)
	}

	if err := tx.Commit(); err != nil {
		return apperrors.NewStoreError("migrate", err)
	}
	return nil
}

func (s *SQLStore) appliedMigrations(ctx context.Context) (map[int]time.Time, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT version, applied_at FROM schema_migrations`)
	if err != nil {
		return nil, apperrors.NewStoreError("migration status", err)
	}
	defer rows.Close()

	applied := make(map[int]time.Time)
	for rows.Next() {
		var version int
		var at sql.NullTime
		if err := rows.Scan(&version, &at); err != nil {
			return nil, apperrors.NewStoreError("migration status", err)
		}
		applied[version] = at.Time
	}
	return applied, rows.Err()
}

// MigrationStatus lists every known migration and whether it has run.
func (s *SQLStore) MigrationStatus(ctx context.Context) ([]MigrationState, error) {
	if _, err := s.db.ExecContext(ctx, createMigrationsTable); err != nil {
		return nil, apperrors.NewStoreError("migration status", err)
	}
	applied, err := s.appliedMigrations(ctx)
	if err != nil {
		return nil, err
	}

	states := make([]MigrationState, 0, len(Migrations))
	for _, m := range Migrations {
		at, ok := applied[m.Version]
		states = append(states, MigrationState{Version: m.Version, Name: m.Name, Applied: ok, AppliedAt: at})
	}
	return states, nil
}

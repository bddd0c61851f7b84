package state

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"

	"github.com/R3E-Network/agentbus/infrastructure/logging"
)

//go:embed migrations/*.sql
var migrationFiles embed.FS

// PostgresBackend is a PersistenceBackend backed by a single table in
// Postgres, for deployments that need deliberation/audit/dead-letter state
// to survive a process restart rather than living only in MemoryBackend.
type PostgresBackend struct {
	db  *sqlx.DB
	log *logging.Logger
}

// SetLogger attaches l so every query against governance_state is logged
// via Logger.LogDatabaseQuery. Unset by default, so NewPostgresBackend
// callers that don't care about per-query logging pay nothing for it.
func (p *PostgresBackend) SetLogger(l *logging.Logger) {
	p.log = l
}

func (p *PostgresBackend) logQuery(ctx context.Context, query string, start time.Time, err error) {
	if p.log == nil {
		return
	}
	p.log.LogDatabaseQuery(ctx, query, time.Since(start), err)
}

// NewPostgresBackend opens dsn, applies the embedded schema migration with
// golang-migrate, and returns a ready backend. The migration is idempotent
// (CREATE TABLE IF NOT EXISTS), so concurrent callers opening the same
// database on startup do not race destructively.
func NewPostgresBackend(ctx context.Context, dsn string) (*PostgresBackend, error) {
	sqlDB, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("state: open postgres: %w", err)
	}
	if err := sqlDB.PingContext(ctx); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("state: ping postgres: %w", err)
	}

	if err := applyMigrations(sqlDB); err != nil {
		sqlDB.Close()
		return nil, err
	}

	return &PostgresBackend{db: sqlx.NewDb(sqlDB, "postgres")}, nil
}

const (
	queryGovernanceStateSave   = `INSERT INTO governance_state (key, value, updated_at) VALUES ($1, $2, now()) ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value, updated_at = now()`
	queryGovernanceStateLoad   = `SELECT value FROM governance_state WHERE key = $1`
	queryGovernanceStateDelete = `DELETE FROM governance_state WHERE key = $1`
	queryGovernanceStateList   = `SELECT key FROM governance_state WHERE key LIKE $1`
)

func applyMigrations(db *sql.DB) error {
	source, err := iofs.New(migrationFiles, "migrations")
	if err != nil {
		return fmt.Errorf("state: load embedded migrations: %w", err)
	}
	driver, err := postgres.WithInstance(db, &postgres.Config{})
	if err != nil {
		return fmt.Errorf("state: init migration driver: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", source, "postgres", driver)
	if err != nil {
		return fmt.Errorf("state: init migrator: %w", err)
	}
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("state: apply migrations: %w", err)
	}
	return nil
}

// Save implements PersistenceBackend.
func (p *PostgresBackend) Save(ctx context.Context, key string, data []byte) error {
	start := time.Now()
	_, err := p.db.ExecContext(ctx, queryGovernanceStateSave, key, data)
	p.logQuery(ctx, queryGovernanceStateSave, start, err)
	return err
}

// Load implements PersistenceBackend.
func (p *PostgresBackend) Load(ctx context.Context, key string) ([]byte, error) {
	start := time.Now()
	var value []byte
	err := p.db.GetContext(ctx, &value, queryGovernanceStateLoad, key)
	p.logQuery(ctx, queryGovernanceStateLoad, start, err)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return value, nil
}

// Delete implements PersistenceBackend.
func (p *PostgresBackend) Delete(ctx context.Context, key string) error {
	start := time.Now()
	_, err := p.db.ExecContext(ctx, queryGovernanceStateDelete, key)
	p.logQuery(ctx, queryGovernanceStateDelete, start, err)
	return err
}

// List implements PersistenceBackend, matching keys with the given prefix.
func (p *PostgresBackend) List(ctx context.Context, prefix string) ([]string, error) {
	start := time.Now()
	var keys []string
	err := p.db.SelectContext(ctx, &keys, queryGovernanceStateList, prefix+"%")
	p.logQuery(ctx, queryGovernanceStateList, start, err)
	if err != nil {
		return nil, err
	}
	return keys, nil
}

// Close implements PersistenceBackend.
func (p *PostgresBackend) Close(ctx context.Context) error {
	return p.db.Close()
}

var _ PersistenceBackend = (*PostgresBackend)(nil)

package checkpoint

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/JakeFAU/harvester/internal/harvest"
)

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// PostgresConfig controls the Postgres-backed store.
type PostgresConfig struct {
	DSN      string
	Table    string
	Name     string
	MaxConns int32
}

type pgConn interface {
	QueryRow(context.Context, string, ...any) pgx.Row
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	Close()
}

// PostgresStore keeps one jsonb row per checkpoint name.
type PostgresStore struct {
	pool   pgConn
	table  string
	name   string
	logger *zap.Logger
	now    func() time.Time
}

// NewPostgresStore connects a pool and prepares the checkpoint table.
func NewPostgresStore(ctx context.Context, cfg PostgresConfig, logger *zap.Logger) (*PostgresStore, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("checkpoint.postgres.dsn is required")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	store, err := NewPostgresStoreWithPool(pool, cfg.Table, cfg.Name, logger)
	if err != nil {
		pool.Close()
		return nil, err
	}
	if err := store.EnsureSchema(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return store, nil
}

// NewPostgresStoreWithPool builds a store on an existing pool (primarily for testing).
func NewPostgresStoreWithPool(pool pgConn, table, name string, logger *zap.Logger) (*PostgresStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	if table == "" {
		table = "harvest_checkpoints"
	}
	if !validTableName.MatchString(table) {
		return nil, fmt.Errorf("invalid table name %q", table)
	}
	if strings.TrimSpace(name) == "" {
		return nil, fmt.Errorf("checkpoint name is required")
	}
	return &PostgresStore{
		pool:   pool,
		table:  table,
		name:   name,
		logger: nopIfNil(logger),
		now:    time.Now,
	}, nil
}

// EnsureSchema creates the checkpoint table when missing.
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	query := fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %s (
	name TEXT PRIMARY KEY,
	body JSONB NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL
)`, s.table)
	if _, err := s.pool.Exec(ctx, query); err != nil {
		return fmt.Errorf("create checkpoint table: %w", err)
	}
	return nil
}

// Load reads the row for this checkpoint name.
func (s *PostgresStore) Load(ctx context.Context) (*harvest.Record, error) {
	var body []byte
	query := fmt.Sprintf(`SELECT body FROM %s WHERE name = $1`, s.table)
	if err := s.pool.QueryRow(ctx, query, s.name).Scan(&body); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return harvest.NewRecord(), nil
		}
		return nil, fmt.Errorf("select checkpoint: %w", err)
	}
	record, _ := decodeOrEmpty(s.logger, s.table+"/"+s.name, body)
	return record, nil
}

// Save upserts the snapshot.
func (s *PostgresStore) Save(ctx context.Context, record *harvest.Record) error {
	data, err := Encode(record)
	if err != nil {
		return err
	}
	query := fmt.Sprintf(`
INSERT INTO %s (name, body, updated_at)
VALUES ($1, $2, $3)
ON CONFLICT (name) DO UPDATE SET body = EXCLUDED.body, updated_at = EXCLUDED.updated_at`, s.table)
	if _, err := s.pool.Exec(ctx, query, s.name, data, s.now().UTC()); err != nil {
		return fmt.Errorf("upsert checkpoint: %w", err)
	}
	return nil
}

// Clear deletes the row for this checkpoint name.
func (s *PostgresStore) Clear(ctx context.Context) error {
	query := fmt.Sprintf(`DELETE FROM %s WHERE name = $1`, s.table)
	if _, err := s.pool.Exec(ctx, query, s.name); err != nil {
		return fmt.Errorf("delete checkpoint: %w", err)
	}
	return nil
}

// Close releases the pool.
func (s *PostgresStore) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

package sink

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/baldanca/widget-consumer/request"
	"github.com/baldanca/widget-consumer/transformer"
)

const (
	MaxConns        = 4
	MinConns        = 1
	MaxConnLifetime = 10 * time.Minute
	MaxConnIdleTime = 5 * time.Minute
)

type pgxAPI interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
}

// PostgresTable stores flat widget records as jsonb rows keyed by id.
type PostgresTable struct {
	db    pgxAPI
	tr    transformer.Table
	table string

	createSQL string
	upsertSQL string
	updateSQL string
	deleteSQL string
}

// NewPostgresTable builds a sink over table. The name may be schema-qualified
// ("widgets" or "public.widgets"); it is quoted before use.
func NewPostgresTable(db pgxAPI, table string, policy transformer.CollisionPolicy) *PostgresTable {
	if db == nil {
		panic("postgres pool is required")
	}
	if strings.TrimSpace(table) == "" {
		panic("table is required")
	}

	ident := pgx.Identifier(strings.Split(table, ".")).Sanitize()
	return &PostgresTable{
		db:    db,
		tr:    transformer.Table{Policy: policy},
		table: table,

		createSQL: `CREATE TABLE IF NOT EXISTS ` + ident + ` (
			id text PRIMARY KEY,
			record jsonb NOT NULL,
			updated_at timestamptz NOT NULL DEFAULT now()
		)`,
		upsertSQL: `INSERT INTO ` + ident + ` (id, record, updated_at) VALUES ($1, $2::jsonb, now())
			ON CONFLICT (id) DO UPDATE SET record = EXCLUDED.record, updated_at = now()`,
		updateSQL: `UPDATE ` + ident + ` SET record = record || $2::jsonb, updated_at = now() WHERE id = $1`,
		deleteSQL: `DELETE FROM ` + ident + ` WHERE id = $1`,
	}
}

func (s *PostgresTable) Name() string { return "postgres" }

// EnsureSchema creates the table if it does not exist.
func (s *PostgresTable) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.Exec(ctx, s.createSQL); err != nil {
		return fmt.Errorf("failed to create table %s: %w", s.table, err)
	}
	return nil
}

func (s *PostgresTable) Create(ctx context.Context, r *request.Request) error {
	rec, doc, err := s.encode(ctx, r)
	if err != nil {
		return err
	}
	if _, err := s.db.Exec(ctx, s.upsertSQL, rec.ID(), doc); err != nil {
		return fmt.Errorf("failed to upsert widget %s: %w", rec.ID(), err)
	}
	return nil
}

func (s *PostgresTable) Update(ctx context.Context, r *request.Request) error {
	rec, doc, err := s.encode(ctx, r)
	if err != nil {
		return err
	}
	tag, err := s.db.Exec(ctx, s.updateSQL, rec.ID(), doc)
	if err != nil {
		return fmt.Errorf("failed to update widget %s: %w", rec.ID(), err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("update widget %s: %w", rec.ID(), ErrNotFound)
	}
	return nil
}

func (s *PostgresTable) Delete(ctx context.Context, r *request.Request) error {
	if _, err := s.db.Exec(ctx, s.deleteSQL, r.WidgetID); err != nil {
		return fmt.Errorf("failed to delete widget %s: %w", r.WidgetID, err)
	}
	return nil
}

func (s *PostgresTable) encode(ctx context.Context, r *request.Request) (transformer.Record, string, error) {
	rec, err := s.tr.Transform(ctx, r)
	if err != nil {
		return nil, "", err
	}
	b, err := json.Marshal(rec)
	if err != nil {
		return nil, "", fmt.Errorf("encode widget %s: %w", r.WidgetID, err)
	}
	return rec, string(b), nil
}

// DialPostgres opens a pool for databaseURL and pings it.
func DialPostgres(ctx context.Context, databaseURL string) (*pgxpool.Pool, error) {
	config, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("error parsing postgres config: %w", err)
	}

	config.MaxConns = MaxConns
	config.MinConns = MinConns
	config.MaxConnLifetime = MaxConnLifetime
	config.MaxConnIdleTime = MaxConnIdleTime

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("error creating postgres pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("error pinging postgres pool: %w", err)
	}
	return pool, nil
}

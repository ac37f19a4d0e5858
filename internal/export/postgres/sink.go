// Package postgres upserts the record set into a Postgres table.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/JakeFAU/arretes-crawler/internal/crawler"
)

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// Config controls the Postgres connection pool used for order rows.
type Config struct {
	DSN             string
	Table           string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

type txBeginCloser interface {
	Begin(context.Context) (pgx.Tx, error)
	Close()
}

// Sink implements crawler.Exporter.
type Sink struct {
	pool   txBeginCloser
	table  string
	logger *zap.Logger
}

// New connects a pool using cfg.
func New(ctx context.Context, cfg Config, logger *zap.Logger) (*Sink, error) {
	if cfg.DSN == "" {
		return nil, errors.New("export.postgres.dsn is required")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	sink, err := NewWithPool(pool, cfg.Table, logger)
	if err != nil {
		pool.Close()
		return nil, err
	}
	return sink, nil
}

// NewWithPool constructs a sink from an existing pool (primarily for testing).
func NewWithPool(pool txBeginCloser, table string, logger *zap.Logger) (*Sink, error) {
	if pool == nil {
		return nil, errors.New("pool is required")
	}
	if table == "" {
		table = "arretes"
	}
	if !validTableName.MatchString(table) {
		return nil, fmt.Errorf("invalid table name %q", table)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Sink{pool: pool, table: table, logger: logger}, nil
}

// Name implements crawler.Exporter.
func (s *Sink) Name() string { return "postgres" }

// Close releases the underlying pool resources.
func (s *Sink) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// Export creates the table when missing and upserts every record in one
// transaction, keyed by identifier.
func (s *Sink) Export(ctx context.Context, records []crawler.OrderRecord) (err error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer func() {
		if err != nil {
			if rbErr := tx.Rollback(ctx); rbErr != nil && !errors.Is(rbErr, pgx.ErrTxClosed) {
				s.logger.Warn("rollback failed", zap.Error(rbErr))
			}
		}
	}()

	if _, err = tx.Exec(ctx, s.createTableSQL()); err != nil {
		return fmt.Errorf("create table: %w", err)
	}
	upsert := s.upsertSQL()
	for _, r := range records {
		if _, err = tx.Exec(ctx, upsert, args(r)...); err != nil {
			return fmt.Errorf("upsert %s: %w", r.ID, err)
		}
	}
	if err = tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	s.logger.Info("postgres export written", zap.String("table", s.table), zap.Int("rows", len(records)))
	return nil
}

func (s *Sink) createTableSQL() string {
	return fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %s (
	id TEXT PRIMARY KEY,
	order_number TEXT,
	title TEXT NOT NULL,
	published_on DATE,
	detail_url TEXT NOT NULL,
	pdf_url TEXT,
	is_traffic BOOLEAN NOT NULL,
	preview TEXT,
	stored_ref TEXT,
	pdf_size_kb DOUBLE PRECISION,
	pdf_pages INTEGER,
	content_hash TEXT,
	scraped_at TIMESTAMPTZ NOT NULL
)`, s.table)
}

func (s *Sink) upsertSQL() string {
	return fmt.Sprintf(`
INSERT INTO %s (
	id,
	order_number,
	title,
	published_on,
	detail_url,
	pdf_url,
	is_traffic,
	preview,
	stored_ref,
	pdf_size_kb,
	pdf_pages,
	content_hash,
	scraped_at
) VALUES (
	$1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13
)
ON CONFLICT (id) DO UPDATE SET
	order_number = EXCLUDED.order_number,
	title = EXCLUDED.title,
	published_on = EXCLUDED.published_on,
	detail_url = EXCLUDED.detail_url,
	pdf_url = EXCLUDED.pdf_url,
	is_traffic = EXCLUDED.is_traffic,
	preview = EXCLUDED.preview,
	stored_ref = EXCLUDED.stored_ref,
	pdf_size_kb = EXCLUDED.pdf_size_kb,
	pdf_pages = EXCLUDED.pdf_pages,
	content_hash = EXCLUDED.content_hash,
	scraped_at = EXCLUDED.scraped_at`, s.table)
}

func args(r crawler.OrderRecord) []any {
	return []any{
		r.ID,
		r.OrderNumber,
		r.Title,
		r.PublishedOn,
		r.DetailURL,
		r.PDFURL,
		r.IsTraffic,
		r.Preview,
		r.StoredRef,
		r.PDFSizeKB,
		r.PDFPages,
		r.ContentHash,
		r.ScrapedAt,
	}
}

// Package postgres provides Postgres-backed persistence implementations.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JakeFAU/pt-crawler/internal/crawler"
)

const uniqueViolation = "23505"

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// Config controls the Postgres connection pool.
type Config struct {
	DSN             string
	Table           string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

type pool interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	QueryRow(context.Context, string, ...any) pgx.Row
	Close()
}

// Connect opens a pgx pool for cfg.
func Connect(ctx context.Context, cfg Config) (*pgxpool.Pool, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("database.dsn is required")
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
	p, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return p, nil
}

// RecordStore persists ingested torrents in a table keyed by info_hash.
type RecordStore struct {
	pool  pool
	table string
}

// NewRecordStore wraps an open pool. table defaults to "torrents".
func NewRecordStore(p pool, table string) (*RecordStore, error) {
	if p == nil {
		return nil, fmt.Errorf("pool is required")
	}
	if table == "" {
		table = "torrents"
	}
	if !validTableName.MatchString(table) {
		return nil, fmt.Errorf("invalid table name %q", table)
	}
	return &RecordStore{pool: p, table: table}, nil
}

// Close releases the underlying pool resources.
func (s *RecordStore) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// EnsureSchema creates the records table and its lookup index.
func (s *RecordStore) EnsureSchema(ctx context.Context) error {
	ddl := fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %[1]s (
	id BIGSERIAL PRIMARY KEY,
	info_hash VARCHAR(64) NOT NULL UNIQUE,
	name TEXT,
	title TEXT,
	introduction TEXT,
	description TEXT,
	category TEXT,
	medium TEXT,
	video_codec TEXT,
	audiocodec TEXT,
	standard TEXT,
	production_team TEXT,
	size BIGINT,
	is_single_file BOOLEAN NOT NULL DEFAULT FALSE,
	is_upload BOOLEAN NOT NULL DEFAULT FALSE,
	multi_file_list JSONB,
	crawl_site TEXT,
	crawl_link TEXT,
	saved_path TEXT,
	meta_version VARCHAR(8),
	crawled_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	tags TEXT
);
CREATE INDEX IF NOT EXISTS %[1]s_crawl_link_idx ON %[1]s (crawl_link);`, s.table)
	if _, err := s.pool.Exec(ctx, ddl); err != nil {
		return fmt.Errorf("ensure %s schema: %w", s.table, err)
	}
	return nil
}

// InfoHashExists reports whether a record with infoHash is stored.
func (s *RecordStore) InfoHashExists(ctx context.Context, infoHash string) (bool, error) {
	return s.exists(ctx, "info_hash", infoHash)
}

// CrawlLinkExists reports whether any stored record came from link.
func (s *RecordStore) CrawlLinkExists(ctx context.Context, link string) (bool, error) {
	return s.exists(ctx, "crawl_link", link)
}

func (s *RecordStore) exists(ctx context.Context, column, value string) (bool, error) {
	query := fmt.Sprintf(`SELECT EXISTS (SELECT 1 FROM %s WHERE %s = $1)`, s.table, column)
	var found bool
	if err := s.pool.QueryRow(ctx, query, value).Scan(&found); err != nil {
		return false, fmt.Errorf("lookup %s: %w", column, err)
	}
	return found, nil
}

// Insert writes record as a single auto-committed statement. A unique
// violation on info_hash is reported as crawler.ErrDuplicate.
func (s *RecordStore) Insert(ctx context.Context, record crawler.IngestRecord) error {
	files, err := json.Marshal(record.Files)
	if err != nil {
		return fmt.Errorf("marshal file list: %w", err)
	}
	query := fmt.Sprintf(`
INSERT INTO %s (
	info_hash,
	name,
	title,
	introduction,
	description,
	category,
	medium,
	video_codec,
	audiocodec,
	standard,
	production_team,
	size,
	is_single_file,
	is_upload,
	multi_file_list,
	crawl_site,
	crawl_link,
	saved_path,
	meta_version,
	crawled_at,
	tags
) VALUES (
	$1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20,$21
)`, s.table)

	args := []any{
		record.InfoHash,
		record.Name,
		record.Title,
		record.Introduction,
		record.Description,
		record.Category,
		record.Medium,
		record.VideoCodec,
		record.AudioCodec,
		record.Standard,
		record.ProductionTeam,
		record.Size,
		record.IsSingleFile,
		false,
		string(files),
		record.CrawlSite,
		record.CrawlLink,
		record.SavedPath,
		record.MetaVersion,
		record.CrawledAt,
		record.Tags,
	}
	if _, err := s.pool.Exec(ctx, query, args...); err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return fmt.Errorf("insert %s: %w", record.InfoHash, crawler.ErrDuplicate)
		}
		return fmt.Errorf("insert record: %w", err)
	}
	return nil
}

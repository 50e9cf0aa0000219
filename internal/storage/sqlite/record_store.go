// Package sqlite provides an embedded record store for single-host
// deployments, backed by modernc.org/sqlite.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/JakeFAU/pt-crawler/internal/crawler"
)

// RecordStore persists ingested torrents in a local SQLite file.
type RecordStore struct {
	db *sql.DB
}

// Open opens (creating if needed) the database at path and bootstraps the
// schema.
func Open(ctx context.Context, path string) (*RecordStore, error) {
	if path == "" {
		return nil, fmt.Errorf("sqlite path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}
	db, err := sql.Open("sqlite", path+"?mode=rwc")
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// one writer
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(time.Hour)

	if _, err := db.ExecContext(ctx, "PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("enable WAL mode: %w", err)
	}
	store := &RecordStore{db: db}
	if err := store.EnsureSchema(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

// Close closes the database handle.
func (s *RecordStore) Close() error {
	return s.db.Close()
}

// EnsureSchema creates the torrents table and its crawl_link index.
func (s *RecordStore) EnsureSchema(ctx context.Context) error {
	const ddl = `
CREATE TABLE IF NOT EXISTS torrents (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	info_hash TEXT NOT NULL UNIQUE,
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
	size INTEGER,
	is_single_file INTEGER NOT NULL DEFAULT 0,
	is_upload INTEGER NOT NULL DEFAULT 0,
	multi_file_list TEXT,
	crawl_site TEXT,
	crawl_link TEXT,
	saved_path TEXT,
	meta_version TEXT,
	crawled_at TEXT NOT NULL,
	tags TEXT
);
CREATE INDEX IF NOT EXISTS torrents_crawl_link_idx ON torrents (crawl_link);`
	if _, err := s.db.ExecContext(ctx, ddl); err != nil {
		return fmt.Errorf("create torrents table: %w", err)
	}
	return nil
}

// InfoHashExists reports whether a record with infoHash is stored.
func (s *RecordStore) InfoHashExists(ctx context.Context, infoHash string) (bool, error) {
	return s.exists(ctx, `SELECT EXISTS (SELECT 1 FROM torrents WHERE info_hash = ?)`, infoHash)
}

// CrawlLinkExists reports whether any stored record came from link.
func (s *RecordStore) CrawlLinkExists(ctx context.Context, link string) (bool, error) {
	return s.exists(ctx, `SELECT EXISTS (SELECT 1 FROM torrents WHERE crawl_link = ?)`, link)
}

func (s *RecordStore) exists(ctx context.Context, query, arg string) (bool, error) {
	var found bool
	if err := s.db.QueryRowContext(ctx, query, arg).Scan(&found); err != nil {
		return false, fmt.Errorf("lookup: %w", err)
	}
	return found, nil
}

// Insert writes one record. A second insert of the same info_hash returns
// crawler.ErrDuplicate.
func (s *RecordStore) Insert(ctx context.Context, record crawler.IngestRecord) error {
	files, err := json.Marshal(record.Files)
	if err != nil {
		return fmt.Errorf("marshal file list: %w", err)
	}
	const query = `
INSERT INTO torrents (
	info_hash, name, title, introduction, description, category, medium,
	video_codec, audiocodec, standard, production_team, size, is_single_file,
	is_upload, multi_file_list, crawl_site, crawl_link, saved_path,
	meta_version, crawled_at, tags
) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 0, ?, ?, ?, ?, ?, ?, ?)`
	_, err = s.db.ExecContext(ctx, query,
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
		string(files),
		record.CrawlSite,
		record.CrawlLink,
		record.SavedPath,
		record.MetaVersion,
		record.CrawledAt.UTC().Format(time.RFC3339Nano),
		record.Tags,
	)
	if err != nil {
		if isConstraint(err) {
			return fmt.Errorf("insert %s: %w", record.InfoHash, crawler.ErrDuplicate)
		}
		return fmt.Errorf("insert record: %w", err)
	}
	return nil
}

func isConstraint(err error) bool {
	var sqlErr *sqlite.Error
	if !errors.As(err, &sqlErr) {
		return false
	}
	return sqlErr.Code()&0xff == sqlite3.SQLITE_CONSTRAINT
}

// Package storage durably persists accepted records: a sqlite database for
// querying and raw per-column JSON day files mirroring the on-disk layout
// the downstream tooling expects.
package storage

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"
	_ "modernc.org/sqlite"

	"deckwatch/internal/types"
)

// Store handles all record persistence.
type Store struct {
	db      *sql.DB
	dataDir string
	log     *zap.Logger
}

// New opens (creating if needed) the sqlite database and migrates the
// schema.
func New(dbPath, dataDir string, log *zap.Logger) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o700); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, err
	}

	s := &Store{db: db, dataDir: dataDir, log: log}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// ReleaseMemory asks sqlite to give back as much heap as it can. Called by
// the resource guardian's cleanup pass.
func (s *Store) ReleaseMemory() {
	if _, err := s.db.Exec("PRAGMA shrink_memory"); err != nil {
		s.log.Warn("failed to shrink sqlite memory", zap.Error(err))
	}
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS records (
		id TEXT NOT NULL,
		date TEXT NOT NULL,
		column_index INTEGER NOT NULL,
		text TEXT NOT NULL,
		author_handle TEXT NOT NULL,
		author_name TEXT,
		avatar_url TEXT,
		timestamp DATETIME,
		url TEXT,
		is_repost BOOLEAN,
		reposted_by TEXT,
		is_quote_retweet BOOLEAN,
		reposted_content TEXT,
		quoted_content TEXT,
		media TEXT,
		has_media BOOLEAN,
		scraped_at DATETIME NOT NULL,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		PRIMARY KEY (id, date)
	);

	CREATE INDEX IF NOT EXISTS idx_records_date ON records(date);
	CREATE INDEX IF NOT EXISTS idx_records_date_column ON records(date, column_index);
	CREATE INDEX IF NOT EXISTS idx_records_timestamp ON records(timestamp);
	`
	_, err := s.db.Exec(schema)
	return err
}

// SaveRecords durably appends records for one column and day. Database and
// raw-file writes are both attempted; the first error wins but is reported
// once, because from the ingestion loop's perspective this call is
// fire-and-forget.
func (s *Store) SaveRecords(records []types.Record, date string, columnIndex int) error {
	if len(records) == 0 {
		return nil
	}

	var firstErr error
	if err := s.insert(records, date, columnIndex); err != nil {
		firstErr = fmt.Errorf("database write failed: %w", err)
	}
	if err := s.appendRawFile(records, date, columnIndex); err != nil && firstErr == nil {
		firstErr = fmt.Errorf("raw file write failed: %w", err)
	}
	return firstErr
}

func (s *Store) insert(records []types.Record, date string, columnIndex int) error {
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(`
		INSERT OR IGNORE INTO records (id, date, column_index, text,
			author_handle, author_name, avatar_url, timestamp, url,
			is_repost, reposted_by, is_quote_retweet, reposted_content,
			quoted_content, media, has_media, scraped_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, r := range records {
		repostedJSON := marshalOrNull(r.RepostedContent)
		quotedJSON := marshalOrNull(r.QuotedContent)
		mediaJSON, _ := json.Marshal(r.Media)

		_, err := stmt.Exec(r.ID, date, columnIndex, r.Text,
			r.Author, r.AuthorDisplayName, r.AvatarURL, r.Timestamp, r.URL,
			r.IsRepost, r.RepostedBy, r.IsQuoteRetweet, repostedJSON,
			quotedJSON, string(mediaJSON), r.HasMedia, r.ScrapedAt)
		if err != nil {
			return err
		}
	}

	return tx.Commit()
}

func marshalOrNull(v *types.EmbeddedContent) any {
	if v == nil {
		return nil
	}
	data, _ := json.Marshal(v)
	return string(data)
}

// appendRawFile prepends the new records to the column's day file, newest
// first, matching how the feed itself is ordered.
func (s *Store) appendRawFile(records []types.Record, date string, columnIndex int) error {
	dir := filepath.Join(s.dataDir, "raw", date)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	path := filepath.Join(dir, fmt.Sprintf("column_%d.json", columnIndex))

	var existing []types.Record
	if data, err := os.ReadFile(path); err == nil {
		if err := json.Unmarshal(data, &existing); err != nil {
			s.log.Warn("raw day file unreadable, rewriting", zap.String("path", path), zap.Error(err))
			existing = nil
		}
	}

	combined := make([]types.Record, 0, len(records)+len(existing))
	combined = append(combined, records...)
	combined = append(combined, existing...)

	data, err := json.MarshalIndent(combined, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

// GetByDate returns the day's records grouped by column index, newest
// first within each column.
func (s *Store) GetByDate(date string) (map[int][]types.Record, error) {
	rows, err := s.db.Query(`
		SELECT id, column_index, text, author_handle, author_name,
			avatar_url, timestamp, url, is_repost, reposted_by,
			is_quote_retweet, reposted_content, quoted_content, media,
			has_media, scraped_at
		FROM records
		WHERE date = ?
		ORDER BY column_index, timestamp DESC
	`, date)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	grouped := make(map[int][]types.Record)
	for rows.Next() {
		var r types.Record
		var repostedJSON, quotedJSON, mediaJSON sql.NullString

		err := rows.Scan(&r.ID, &r.ColumnIndex, &r.Text, &r.Author,
			&r.AuthorDisplayName, &r.AvatarURL, &r.Timestamp, &r.URL,
			&r.IsRepost, &r.RepostedBy, &r.IsQuoteRetweet, &repostedJSON,
			&quotedJSON, &mediaJSON, &r.HasMedia, &r.ScrapedAt)
		if err != nil {
			return nil, err
		}

		if repostedJSON.Valid && repostedJSON.String != "" {
			r.RepostedContent = &types.EmbeddedContent{}
			_ = json.Unmarshal([]byte(repostedJSON.String), r.RepostedContent)
		}
		if quotedJSON.Valid && quotedJSON.String != "" {
			r.QuotedContent = &types.EmbeddedContent{}
			_ = json.Unmarshal([]byte(quotedJSON.String), r.QuotedContent)
		}
		if mediaJSON.Valid {
			_ = json.Unmarshal([]byte(mediaJSON.String), &r.Media)
		}

		grouped[r.ColumnIndex] = append(grouped[r.ColumnIndex], r)
	}

	return grouped, rows.Err()
}

// PurgeOlderThan drops database rows and raw day directories whose date is
// older than the retention window.
func (s *Store) PurgeOlderThan(days int) error {
	cutoff := time.Now().AddDate(0, 0, -days).Format("20060102")

	res, err := s.db.Exec(`DELETE FROM records WHERE date < ?`, cutoff)
	if err != nil {
		return fmt.Errorf("retention delete failed: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n > 0 {
		s.log.Info("purged old records", zap.Int64("rows", n), zap.String("cutoff", cutoff))
	}

	rawRoot := filepath.Join(s.dataDir, "raw")
	entries, err := os.ReadDir(rawRoot)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	for _, e := range entries {
		if e.IsDir() && e.Name() < cutoff {
			if err := os.RemoveAll(filepath.Join(rawRoot, e.Name())); err != nil {
				s.log.Warn("failed to remove old raw directory",
					zap.String("dir", e.Name()), zap.Error(err))
			}
		}
	}
	return nil
}

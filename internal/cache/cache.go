// Package cache keeps a content-addressed index of compiled artifacts so
// repeated compiles of unchanged sources can be served from disk. The index
// is advisory: any cache failure degrades to a normal compile.
package cache

import (
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/jamestiotio/bytenode/internal/config"
)

// Index is the sqlite-backed artifact index for one cache directory.
type Index struct {
	db *sql.DB
}

const schema = `
CREATE TABLE IF NOT EXISTS artifacts (
	source_hash TEXT NOT NULL,
	engine_tag  INTEGER NOT NULL,
	path        TEXT NOT NULL,
	created_at  INTEGER NOT NULL,
	PRIMARY KEY (source_hash, engine_tag)
);`

// Open creates or opens the index inside dir, creating dir if needed.
func Open(dir string) (*Index, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating cache dir %s: %w", dir, err)
	}
	db, err := sql.Open("sqlite", filepath.Join(dir, config.CacheDBName))
	if err != nil {
		return nil, fmt.Errorf("opening cache index: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("initializing cache index: %w", err)
	}
	return &Index{db: db}, nil
}

func (ix *Index) Close() error { return ix.db.Close() }

// HashSource returns the content address of a source unit.
func HashSource(source string) string {
	sum := sha256.Sum256([]byte(source))
	return hex.EncodeToString(sum[:])
}

// Lookup returns the recorded artifact path for a source hash compiled on
// the given engine build. A stale entry whose file vanished is a miss.
func (ix *Index) Lookup(sourceHash string, engineTag uint32) (string, bool, error) {
	var path string
	err := ix.db.QueryRow(
		`SELECT path FROM artifacts WHERE source_hash = ? AND engine_tag = ?`,
		sourceHash, engineTag,
	).Scan(&path)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("cache lookup: %w", err)
	}
	if _, err := os.Stat(path); err != nil {
		return "", false, nil
	}
	return path, true, nil
}

// Record remembers where the artifact for a source hash was written.
func (ix *Index) Record(sourceHash string, engineTag uint32, path string) error {
	abs, err := filepath.Abs(path)
	if err != nil {
		abs = path
	}
	_, err = ix.db.Exec(
		`INSERT OR REPLACE INTO artifacts (source_hash, engine_tag, path, created_at) VALUES (?, ?, ?, ?)`,
		sourceHash, engineTag, abs, time.Now().Unix(),
	)
	if err != nil {
		return fmt.Errorf("cache record: %w", err)
	}
	return nil
}

// Copyright 2025 Tom Barlow
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package templates

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/fxamacker/cbor/v2"
	_ "modernc.org/sqlite"
)

var (
	cborEnc cbor.EncMode
	cborDec cbor.DecMode
)

func init() {
	var err error
	cborEnc, err = cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic("templates: CBOR encoder initialization failed: " + err.Error())
	}
	cborDec, err = cbor.DecOptions{}.DecMode()
	if err != nil {
		panic("templates: CBOR decoder initialization failed: " + err.Error())
	}
}

// Cache persists built index records in SQLite so a restart, or an
// ahead-of-time `index` run, can skip re-inspecting unchanged templates.
// Records are stored CBOR-encoded and keyed by template id; the body hash
// decides whether a cached record is still valid.
type Cache struct {
	db *sql.DB
}

// CacheConfig configures the index cache.
type CacheConfig struct {
	// Path is the SQLite database file, or ":memory:".
	Path string
}

// OpenCache opens (and if needed creates) the cache database.
func OpenCache(ctx context.Context, cfg CacheConfig) (*Cache, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("cache path is required")
	}

	if cfg.Path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(cfg.Path), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create directory for %s: %w", cfg.Path, err)
		}
	}

	connStr := cfg.Path
	if cfg.Path != ":memory:" {
		connStr += "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)"
	}

	db, err := sql.Open("sqlite", connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to open index cache: %w", err)
	}
	// A single connection keeps ":memory:" databases alive and serializes
	// writers.
	db.SetMaxOpenConns(1)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to index cache: %w", err)
	}

	c := &Cache{db: db}
	if err := c.migrate(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate index cache: %w", err)
	}
	return c, nil
}

func (c *Cache) migrate(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS template_records (
		id TEXT PRIMARY KEY,
		hash TEXT NOT NULL,
		record BLOB NOT NULL
	);

	CREATE TABLE IF NOT EXISTS index_builds (
		location TEXT PRIMARY KEY,
		templates INTEGER NOT NULL,
		built_at INTEGER NOT NULL
	);
	`
	_, err := c.db.ExecContext(ctx, schema)
	return err
}

// Load returns every cached record keyed by id.
func (c *Cache) Load(ctx context.Context) (map[string]*Record, error) {
	rows, err := c.db.QueryContext(ctx, `SELECT id, hash, record FROM template_records`)
	if err != nil {
		return nil, fmt.Errorf("failed to query cached records: %w", err)
	}
	defer rows.Close()

	out := make(map[string]*Record)
	for rows.Next() {
		var id, hash string
		var blob []byte
		if err := rows.Scan(&id, &hash, &blob); err != nil {
			return nil, fmt.Errorf("failed to scan cached record: %w", err)
		}
		var rec Record
		if err := cborDec.Unmarshal(blob, &rec); err != nil {
			// One corrupt row only costs a re-inspection.
			continue
		}
		if rec.ID != id || rec.Hash != hash {
			continue
		}
		out[id] = &rec
	}
	return out, rows.Err()
}

// Save replaces the cached records with records and notes the build.
func (c *Cache) Save(ctx context.Context, location string, records []*Record) (err error) {
	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if err != nil {
			err = errors.Join(err, tx.Rollback())
		}
	}()

	if _, err = tx.ExecContext(ctx, `DELETE FROM template_records`); err != nil {
		return fmt.Errorf("failed to clear cached records: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, `INSERT INTO template_records (id, hash, record) VALUES (?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("failed to prepare insert: %w", err)
	}
	defer stmt.Close()

	for _, rec := range records {
		blob, encErr := cborEnc.Marshal(rec)
		if encErr != nil {
			return fmt.Errorf("failed to encode record %s: %w", rec.ID, encErr)
		}
		if _, err = stmt.ExecContext(ctx, rec.ID, rec.Hash, blob); err != nil {
			return fmt.Errorf("failed to store record %s: %w", rec.ID, err)
		}
	}

	_, err = tx.ExecContext(ctx, `
	INSERT INTO index_builds (location, templates, built_at) VALUES (?, ?, ?)
	ON CONFLICT(location) DO UPDATE SET templates = excluded.templates, built_at = excluded.built_at
	`, location, len(records), time.Now().UnixMilli())
	if err != nil {
		return fmt.Errorf("failed to record build: %w", err)
	}

	return tx.Commit()
}

// LastBuild reports the most recent Save for location. ok is false when
// the location was never indexed.
func (c *Cache) LastBuild(ctx context.Context, location string) (templates int, builtAt time.Time, ok bool, err error) {
	row := c.db.QueryRowContext(ctx,
		`SELECT templates, built_at FROM index_builds WHERE location = ?`, location)
	var millis int64
	err = row.Scan(&templates, &millis)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, time.Time{}, false, nil
	}
	if err != nil {
		return 0, time.Time{}, false, fmt.Errorf("failed to read build info: %w", err)
	}
	return templates, time.UnixMilli(millis), true, nil
}

// Close releases the database.
func (c *Cache) Close() error {
	return c.db.Close()
}

// asyncsession - experiment monitoring and acquisition engine
// SPDX-License-Identifier: AGPL-3.0-or-later

package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "github.com/duckdb/duckdb-go/v2"

	"github.com/labtools/asyncsession/internal/apierr"
	"github.com/labtools/asyncsession/internal/clock"
	"github.com/labtools/asyncsession/internal/logging"
	"github.com/labtools/asyncsession/internal/metrics"
)

// Mode selects how an existing on-disk file is opened.
type Mode int

const (
	// ModeCreateIfMissing opens path read-write, creating a fresh session at
	// the latest schema if no file exists yet.
	ModeCreateIfMissing Mode = iota
	// ModeReadWrite requires path to already exist.
	ModeReadWrite
	// ModeReadOnly opens an existing file and rejects every write.
	ModeReadOnly
)

// Store is the durable backend for one experiment session. See the package
// doc for schema-version and delay-save semantics.
type Store struct {
	mu sync.Mutex

	path     string
	readOnly bool
	delaySave bool
	version  schemaVersion
	clock    clock.Clock

	// db is the connection every read/write goes through: the on-disk
	// connection normally, or the in-memory shadow when delaySave is set.
	db *sql.DB

	// disk is only set (and distinct from db) when delaySave is true; it
	// is the on-disk connection flush_to_disk writes into.
	disk *sql.DB

	closed bool
}

// Open opens or creates a session store. If path is empty the store lives
// only in memory for the process lifetime (delaySave is implied and
// flush_to_disk is a no-op since there is no disk target).
func Open(path string, mode Mode, delaySave bool, clk clock.Clock) (*Store, error) {
	if path == "" {
		db, err := sql.Open("duckdb", ":memory:")
		if err != nil {
			return nil, fmt.Errorf("%w: open in-memory store: %v", apierr.ErrIO, err)
		}
		s := &Store{db: db, readOnly: false, delaySave: true, clock: clk}
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := createLatestSchema(ctx, db, clk.NowWall()); err != nil {
			closeQuietly(db)
			return nil, err
		}
		s.version = currentSchemaVersion
		return s, nil
	}

	exists := fileExists(path)
	if mode == ModeReadWrite && !exists {
		return nil, fmt.Errorf("%w: %s does not exist", apierr.ErrIO, path)
	}
	if mode == ModeReadOnly && !exists {
		return nil, fmt.Errorf("%w: %s does not exist", apierr.ErrIO, path)
	}

	if dir := filepath.Dir(path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return nil, fmt.Errorf("%w: create parent directory: %v", apierr.ErrIO, err)
		}
	}

	accessMode := "read_write"
	if mode == ModeReadOnly {
		accessMode = "read_only"
	}
	connStr := fmt.Sprintf("%s?access_mode=%s", path, accessMode)
	disk, err := sql.Open("duckdb", connStr)
	if err != nil {
		return nil, fmt.Errorf("%w: open %s: %v", apierr.ErrIO, path, err)
	}

	s := &Store{path: path, readOnly: mode == ModeReadOnly, delaySave: delaySave, clock: clk}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if !exists {
		if err := createLatestSchema(ctx, disk, clk.NowWall()); err != nil {
			closeQuietly(disk)
			return nil, err
		}
		s.version = currentSchemaVersion
	} else {
		v, err := detectSchemaVersion(ctx, disk)
		if err != nil {
			closeQuietly(disk)
			return nil, err
		}
		s.version = v
	}

	if !delaySave {
		s.db = disk
		return s, nil
	}

	shadow, err := sql.Open("duckdb", ":memory:")
	if err != nil {
		closeQuietly(disk)
		return nil, fmt.Errorf("%w: open delay-save shadow: %v", apierr.ErrIO, err)
	}
	if err := createLatestSchema(ctx, shadow, clk.NowWall()); err != nil {
		closeQuietly(disk)
		closeQuietly(shadow)
		return nil, err
	}
	if exists {
		if err := copyAllTables(ctx, disk, shadow, s.version); err != nil {
			closeQuietly(disk)
			closeQuietly(shadow)
			return nil, err
		}
	}
	s.disk = disk
	s.db = shadow
	// A shadow always starts at the latest schema regardless of what the
	// on-disk file carried, since it is freshly created in-memory.
	s.version = currentSchemaVersion
	return s, nil
}

// ReadOnly reports whether writes are rejected.
func (s *Store) ReadOnly() bool { return s.readOnly }

// DelaySave reports whether this session buffers writes in memory.
func (s *Store) DelaySave() bool { return s.delaySave }

// SchemaVersion reports the schema version writes are directed at.
func (s *Store) SchemaVersion() float64 { return float64(s.version) }

// Path returns the on-disk path, or "" for an in-memory-only session.
func (s *Store) Path() string { return s.path }

func (s *Store) checkWritable() error {
	if s.readOnly {
		return apierr.ErrReadOnly
	}
	return nil
}

// FlushToDisk copies the in-memory shadow's tables to the on-disk file. It
// is only meaningful when DelaySave is true and the store has a disk path;
// otherwise it is a no-op.
func (s *Store) FlushToDisk(ctx context.Context) error {
	if !s.delaySave || s.disk == nil {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	start := time.Now()
	err := copyAllTables(ctx, s.db, s.disk, s.version)
	metrics.StoreFlushDuration.Observe(time.Since(start).Seconds())
	metrics.RecordStoreQuery("flush_to_disk", time.Since(start), err)
	if err != nil {
		return fmt.Errorf("%w: flush to disk: %v", apierr.ErrIO, err)
	}
	return nil
}

// Close releases both connections. Idempotent; if delay-save is active it
// flushes to disk first (best-effort — the caller should already have
// flushed explicitly if it cares about the error).
func (s *Store) Close(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true

	var flushErr error
	if s.delaySave && s.disk != nil {
		if err := copyAllTables(ctx, s.db, s.disk, s.version); err != nil {
			flushErr = fmt.Errorf("%w: flush on close: %v", apierr.ErrIO, err)
			logging.Error().Err(flushErr).Str("path", s.path).Msg("delay-save flush on close failed")
		}
	}
	if s.db != nil {
		closeQuietly(s.db)
	}
	if s.disk != nil {
		closeQuietly(s.disk)
	}
	return flushErr
}

func closeQuietly(db *sql.DB) {
	if db == nil {
		return
	}
	if err := db.Close(); err != nil {
		logging.Warn().Err(err).Msg("error closing store connection")
	}
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}

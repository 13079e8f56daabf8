// asyncsession - experiment monitoring and acquisition engine
// SPDX-License-Identifier: AGPL-3.0-or-later

package store

import (
	"context"
	"fmt"
	"time"

	"github.com/labtools/asyncsession/internal/apierr"
	"github.com/labtools/asyncsession/internal/metrics"
)

// LogSample is one (timestamp, value) pair for a named scalar log.
type LogSample struct {
	Timestamp float64
	Value     float64
}

const timestampCollisionStep = 1e-6 // one microsecond, in seconds

// InsertLog records one sample for name at ts. On a (name, ts) collision
// the timestamp is advanced by one microsecond and retried until it lands
// on a free slot; each retry increments the collision counter.
func (s *Store) InsertLog(ctx context.Context, name string, ts, value float64) error {
	if err := s.checkWritable(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	start := time.Now()
	err := s.insertLogLocked(ctx, name, ts, value)
	metrics.RecordStoreQuery("insert_log", time.Since(start), err)
	return err
}

func (s *Store) insertLogLocked(ctx context.Context, name string, ts, value float64) error {
	if _, err := s.db.ExecContext(ctx,
		`INSERT INTO log_names (name) VALUES (?) ON CONFLICT DO NOTHING`, name,
	); err != nil {
		return fmt.Errorf("%w: register log name: %v", apierr.ErrIO, err)
	}

	for attempt := 0; ; attempt++ {
		_, err := s.db.ExecContext(ctx,
			`INSERT INTO log (ts, name, value) VALUES (?, ?, ?)`, ts, name, value,
		)
		if err == nil {
			return nil
		}
		if !isUniqueConstraintError(err) {
			return fmt.Errorf("%w: insert log sample: %v", apierr.ErrIO, err)
		}
		metrics.StoreTimestampCollisions.WithLabelValues(name).Inc()
		ts += timestampCollisionStep
		if attempt > 10000 {
			return fmt.Errorf("%w: could not resolve timestamp collision for %s after %d attempts", apierr.ErrIO, name, attempt)
		}
	}
}

// QueryLog returns every sample for name in ascending timestamp order.
func (s *Store) QueryLog(ctx context.Context, name string) ([]LogSample, error) {
	return s.queryLogRows(ctx, `SELECT ts, value FROM log WHERE name = ? ORDER BY ts ASC`, name)
}

// QueryLogSince returns samples for name with timestamp strictly greater
// than since, in ascending order.
func (s *Store) QueryLogSince(ctx context.Context, name string, since float64) ([]LogSample, error) {
	return s.queryLogRows(ctx, `SELECT ts, value FROM log WHERE name = ? AND ts > ? ORDER BY ts ASC`, name, since)
}

func (s *Store) queryLogRows(ctx context.Context, query string, args ...interface{}) ([]LogSample, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	start := time.Now()
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		metrics.RecordStoreQuery("query_log", time.Since(start), err)
		return nil, fmt.Errorf("%w: query log: %v", apierr.ErrIO, err)
	}
	defer rows.Close()

	var out []LogSample
	for rows.Next() {
		var sample LogSample
		if err := rows.Scan(&sample.Timestamp, &sample.Value); err != nil {
			metrics.RecordStoreQuery("query_log", time.Since(start), err)
			return nil, fmt.Errorf("%w: scan log row: %v", apierr.ErrIO, err)
		}
		out = append(out, sample)
	}
	err = rows.Err()
	metrics.RecordStoreQuery("query_log", time.Since(start), err)
	if err != nil {
		return nil, fmt.Errorf("%w: iterate log rows: %v", apierr.ErrIO, err)
	}
	return out, nil
}

// FirstLog returns the earliest sample for name, if any.
func (s *Store) FirstLog(ctx context.Context, name string) (*LogSample, error) {
	return s.queryLogEndpoint(ctx, name, "ASC")
}

// LastLog returns the most recent sample for name, if any.
func (s *Store) LastLog(ctx context.Context, name string) (*LogSample, error) {
	return s.queryLogEndpoint(ctx, name, "DESC")
}

func (s *Store) queryLogEndpoint(ctx context.Context, name, order string) (*LogSample, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	query := fmt.Sprintf(`SELECT ts, value FROM log WHERE name = ? ORDER BY ts %s LIMIT 1`, order)
	row := s.db.QueryRowContext(ctx, query, name)
	var sample LogSample
	if err := row.Scan(&sample.Timestamp, &sample.Value); err != nil {
		if isNoRowsError(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("%w: query log endpoint: %v", apierr.ErrIO, err)
	}
	return &sample, nil
}

// LogNames returns every declared scalar-log name.
func (s *Store) LogNames(ctx context.Context) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.db.QueryContext(ctx, `SELECT name FROM log_names ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("%w: query log names: %v", apierr.ErrIO, err)
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("%w: scan log name: %v", apierr.ErrIO, err)
		}
		names = append(names, name)
	}
	return names, rows.Err()
}

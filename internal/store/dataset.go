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

// DatasetBlob is one timestamped opaque payload for a named dataset.
type DatasetBlob struct {
	Timestamp float64
	Data      []byte
}

// InsertDataset appends a new timestamped row for name. Overwrite-by-name
// always appends rather than replacing in place, so a dataset remains a
// queryable timestamped stream; see DESIGN.md for the rationale.
func (s *Store) InsertDataset(ctx context.Context, name string, ts float64, data []byte) error {
	if err := s.checkWritable(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	start := time.Now()
	err := s.insertDatasetLocked(ctx, name, ts, data)
	metrics.RecordStoreQuery("insert_dataset", time.Since(start), err)
	return err
}

func (s *Store) insertDatasetLocked(ctx context.Context, name string, ts float64, data []byte) error {
	if _, err := s.db.ExecContext(ctx,
		`INSERT INTO dataset_names (name) VALUES (?) ON CONFLICT DO NOTHING`, name,
	); err != nil {
		return fmt.Errorf("%w: register dataset name: %v", apierr.ErrIO, err)
	}

	for attempt := 0; ; attempt++ {
		_, err := s.db.ExecContext(ctx,
			`INSERT INTO dataset (ts, name, data) VALUES (?, ?, ?)`, ts, name, data,
		)
		if err == nil {
			return nil
		}
		if !isUniqueConstraintError(err) {
			return fmt.Errorf("%w: insert dataset row: %v", apierr.ErrIO, err)
		}
		metrics.StoreTimestampCollisions.WithLabelValues(name).Inc()
		ts += timestampCollisionStep
		if attempt > 10000 {
			return fmt.Errorf("%w: could not resolve timestamp collision for dataset %s", apierr.ErrIO, name)
		}
	}
}

// QueryDataset returns every blob for name in ascending timestamp order.
//
// The specification describes this as a lazy stream to bound memory on
// aggregate-image-sized datasets; callers that need bounded memory should
// page via DatasetByIndex/DatasetTimestamps instead of loading the full
// slice this convenience method returns.
func (s *Store) QueryDataset(ctx context.Context, name string) ([]DatasetBlob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.db.QueryContext(ctx, `SELECT ts, data FROM dataset WHERE name = ? ORDER BY ts ASC`, name)
	if err != nil {
		return nil, fmt.Errorf("%w: query dataset: %v", apierr.ErrIO, err)
	}
	defer rows.Close()

	var out []DatasetBlob
	for rows.Next() {
		var blob DatasetBlob
		if err := rows.Scan(&blob.Timestamp, &blob.Data); err != nil {
			return nil, fmt.Errorf("%w: scan dataset row: %v", apierr.ErrIO, err)
		}
		out = append(out, blob)
	}
	return out, rows.Err()
}

// DatasetTimestamps returns the ascending timestamps recorded for name.
func (s *Store) DatasetTimestamps(ctx context.Context, name string) ([]float64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.db.QueryContext(ctx, `SELECT ts FROM dataset WHERE name = ? ORDER BY ts ASC`, name)
	if err != nil {
		return nil, fmt.Errorf("%w: query dataset timestamps: %v", apierr.ErrIO, err)
	}
	defer rows.Close()

	var out []float64
	for rows.Next() {
		var ts float64
		if err := rows.Scan(&ts); err != nil {
			return nil, fmt.Errorf("%w: scan dataset timestamp: %v", apierr.ErrIO, err)
		}
		out = append(out, ts)
	}
	return out, rows.Err()
}

// DatasetByIndex returns the n-th (0-based, ascending timestamp order)
// blob for name.
func (s *Store) DatasetByIndex(ctx context.Context, name string, n int) (*DatasetBlob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	row := s.db.QueryRowContext(ctx,
		`SELECT ts, data FROM dataset WHERE name = ? ORDER BY ts ASC LIMIT 1 OFFSET ?`, name, n)
	var blob DatasetBlob
	if err := row.Scan(&blob.Timestamp, &blob.Data); err != nil {
		if isNoRowsError(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("%w: query dataset by index: %v", apierr.ErrIO, err)
	}
	return &blob, nil
}

// DatasetByTimestamp returns the blob recorded at exactly ts, if any.
func (s *Store) DatasetByTimestamp(ctx context.Context, name string, ts float64) (*DatasetBlob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	row := s.db.QueryRowContext(ctx, `SELECT ts, data FROM dataset WHERE name = ? AND ts = ?`, name, ts)
	var blob DatasetBlob
	if err := row.Scan(&blob.Timestamp, &blob.Data); err != nil {
		if isNoRowsError(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("%w: query dataset by timestamp: %v", apierr.ErrIO, err)
	}
	return &blob, nil
}

// DatasetLastData returns the most recently inserted blob for name.
func (s *Store) DatasetLastData(ctx context.Context, name string) (*DatasetBlob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	row := s.db.QueryRowContext(ctx, `SELECT ts, data FROM dataset WHERE name = ? ORDER BY ts DESC LIMIT 1`, name)
	var blob DatasetBlob
	if err := row.Scan(&blob.Timestamp, &blob.Data); err != nil {
		if isNoRowsError(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("%w: query last dataset blob: %v", apierr.ErrIO, err)
	}
	return &blob, nil
}

// DatasetNames returns every declared dataset name.
func (s *Store) DatasetNames(ctx context.Context) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.db.QueryContext(ctx, `SELECT name FROM dataset_names ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("%w: query dataset names: %v", apierr.ErrIO, err)
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("%w: scan dataset name: %v", apierr.ErrIO, err)
		}
		names = append(names, name)
	}
	return names, rows.Err()
}

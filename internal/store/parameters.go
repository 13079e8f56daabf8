// asyncsession - experiment monitoring and acquisition engine
// SPDX-License-Identifier: AGPL-3.0-or-later

package store

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/labtools/asyncsession/internal/apierr"
	"github.com/labtools/asyncsession/internal/metrics"
)

// UpsertParameter sets name's value, replacing any prior value.
func (s *Store) UpsertParameter(ctx context.Context, name string, value float64) error {
	if err := s.checkWritable(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	start := time.Now()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO parameters (name, value) VALUES (?, ?)
		 ON CONFLICT (name) DO UPDATE SET value = excluded.value`, name, value)
	metrics.RecordStoreQuery("upsert_parameter", time.Since(start), err)
	if err != nil {
		return fmt.Errorf("%w: upsert parameter %s: %v", apierr.ErrIO, name, err)
	}
	return nil
}

// GetParameter returns name's value, or ok=false if unset.
func (s *Store) GetParameter(ctx context.Context, name string) (value float64, ok bool, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	row := s.db.QueryRowContext(ctx, `SELECT value FROM parameters WHERE name = ?`, name)
	if err := row.Scan(&value); err != nil {
		if isNoRowsError(err) {
			return 0, false, nil
		}
		return 0, false, fmt.Errorf("%w: get parameter %s: %v", apierr.ErrIO, name, err)
	}
	return value, true, nil
}

// AllParameters returns every parameter, including reserved ones (names
// starting with "_", plus legacy email_lastSent). Callers that want only
// user-facing parameters should filter with IsReservedParameter.
func (s *Store) AllParameters(ctx context.Context) (map[string]float64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.db.QueryContext(ctx, `SELECT name, value FROM parameters`)
	if err != nil {
		return nil, fmt.Errorf("%w: query all parameters: %v", apierr.ErrIO, err)
	}
	defer rows.Close()

	out := make(map[string]float64)
	for rows.Next() {
		var name string
		var value float64
		if err := rows.Scan(&name, &value); err != nil {
			return nil, fmt.Errorf("%w: scan parameter row: %v", apierr.ErrIO, err)
		}
		out[name] = value
	}
	return out, rows.Err()
}

// IsReservedParameter reports whether name is one the HTTP/observation
// surface should hide from "user parameters" listings.
func IsReservedParameter(name string) bool {
	return strings.HasPrefix(name, "_") || name == reservedEmailLastSent
}

// UpsertMetadata sets name's text value. On a schema older than v4 (no
// metadata table) this returns ErrSchema rather than silently dropping the
// write, since the caller asked for a write, not a best-effort one.
func (s *Store) UpsertMetadata(ctx context.Context, name, value string) error {
	if err := s.checkWritable(); err != nil {
		return err
	}
	if !s.version.hasMetadataTable() {
		return fmt.Errorf("%w: metadata unsupported at schema version %v", apierr.ErrSchema, float64(s.version))
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	start := time.Now()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO metadata (name, value) VALUES (?, ?)
		 ON CONFLICT (name) DO UPDATE SET value = excluded.value`, name, value)
	metrics.RecordStoreQuery("upsert_metadata", time.Since(start), err)
	if err != nil {
		return fmt.Errorf("%w: upsert metadata %s: %v", apierr.ErrIO, name, err)
	}
	return nil
}

// GetMetadata returns name's value, or ok=false if unset or unsupported by
// this session's schema version.
func (s *Store) GetMetadata(ctx context.Context, name string) (value string, ok bool, err error) {
	if !s.version.hasMetadataTable() {
		return "", false, nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	row := s.db.QueryRowContext(ctx, `SELECT value FROM metadata WHERE name = ?`, name)
	if err := row.Scan(&value); err != nil {
		if isNoRowsError(err) {
			return "", false, nil
		}
		return "", false, fmt.Errorf("%w: get metadata %s: %v", apierr.ErrIO, name, err)
	}
	return value, true, nil
}

// AllMetadatas returns every metadata entry, or an empty map on a schema
// older than v4 (degradation, not an error — see spec §3 Schema versions).
func (s *Store) AllMetadatas(ctx context.Context) (map[string]string, error) {
	if !s.version.hasMetadataTable() {
		return map[string]string{}, nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.db.QueryContext(ctx, `SELECT name, value FROM metadata`)
	if err != nil {
		return nil, fmt.Errorf("%w: query all metadata: %v", apierr.ErrIO, err)
	}
	defer rows.Close()

	out := make(map[string]string)
	for rows.Next() {
		var name, value string
		if err := rows.Scan(&name, &value); err != nil {
			return nil, fmt.Errorf("%w: scan metadata row: %v", apierr.ErrIO, err)
		}
		out[name] = value
	}
	return out, rows.Err()
}

// SaveEmailLastSent records the last successful periodic-report send time.
// Schema v4+ sessions store it as RFC3339 text in metadata; legacy
// sessions (no metadata table) fall back to parameters as a float epoch
// value. See DESIGN.md for the resolved Open Question.
func (s *Store) SaveEmailLastSent(ctx context.Context, wallTimestamp float64) error {
	if s.version.hasMetadataTable() {
		return s.UpsertMetadata(ctx, reservedEmailLastSent, formatRFC3339(wallTimestamp))
	}
	return s.UpsertParameter(ctx, reservedEmailLastSent, wallTimestamp)
}

// EmailLastSent returns the last successful send time as wall-clock
// seconds, or ok=false if never sent.
func (s *Store) EmailLastSent(ctx context.Context) (wallTimestamp float64, ok bool, err error) {
	if s.version.hasMetadataTable() {
		text, present, err := s.GetMetadata(ctx, reservedEmailLastSent)
		if err != nil || !present {
			return 0, false, err
		}
		ts, parseErr := parseRFC3339(text)
		if parseErr != nil {
			return 0, false, fmt.Errorf("%w: parse email_lastSent: %v", apierr.ErrIO, parseErr)
		}
		return ts, true, nil
	}
	return s.GetParameter(ctx, reservedEmailLastSent)
}

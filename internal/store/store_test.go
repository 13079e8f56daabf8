// asyncsession - experiment monitoring and acquisition engine
// SPDX-License-Identifier: AGPL-3.0-or-later

package store

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"

	_ "github.com/duckdb/duckdb-go/v2"

	"github.com/labtools/asyncsession/internal/clock"
)

func openMemory(t *testing.T) *Store {
	t.Helper()
	s, err := Open("", ModeCreateIfMissing, false, clock.NewFixed(1000))
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	t.Cleanup(func() { _ = s.Close(context.Background()) })
	return s
}

func TestInsertLogRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := openMemory(t)

	for i, v := range []float64{0, 1, 2, 3} {
		if err := s.InsertLog(ctx, "a", 1000+float64(i)*0.001, v); err != nil {
			t.Fatalf("InsertLog(%d) error = %v", i, err)
		}
	}

	names, err := s.LogNames(ctx)
	if err != nil {
		t.Fatalf("LogNames() error = %v", err)
	}
	if len(names) != 1 || names[0] != "a" {
		t.Fatalf("LogNames() = %v, want [a]", names)
	}

	samples, err := s.QueryLog(ctx, "a")
	if err != nil {
		t.Fatalf("QueryLog() error = %v", err)
	}
	if len(samples) != 4 {
		t.Fatalf("QueryLog() returned %d samples, want 4", len(samples))
	}
	for i, sample := range samples {
		if sample.Value != float64(i) {
			t.Errorf("samples[%d].Value = %v, want %v", i, sample.Value, i)
		}
	}

	first, err := s.FirstLog(ctx, "a")
	if err != nil || first == nil || first.Value != 0 {
		t.Fatalf("FirstLog() = %+v, err = %v", first, err)
	}
	last, err := s.LastLog(ctx, "a")
	if err != nil || last == nil || last.Value != 3 {
		t.Fatalf("LastLog() = %+v, err = %v", last, err)
	}
}

func TestInsertLogResolvesTimestampCollision(t *testing.T) {
	ctx := context.Background()
	s := openMemory(t)

	if err := s.InsertLog(ctx, "a", 1000.0, 1); err != nil {
		t.Fatalf("InsertLog(1) error = %v", err)
	}
	if err := s.InsertLog(ctx, "a", 1000.0, 2); err != nil {
		t.Fatalf("InsertLog(2) error = %v", err)
	}

	samples, err := s.QueryLog(ctx, "a")
	if err != nil {
		t.Fatalf("QueryLog() error = %v", err)
	}
	if len(samples) != 2 {
		t.Fatalf("QueryLog() returned %d samples, want 2", len(samples))
	}
	if samples[1].Timestamp <= samples[0].Timestamp {
		t.Fatalf("expected second sample's ts > first, got %v <= %v", samples[1].Timestamp, samples[0].Timestamp)
	}
	if samples[1].Timestamp-samples[0].Timestamp > 0.001 {
		t.Fatalf("collision advanced ts by more than a handful of microseconds: %v", samples[1].Timestamp-samples[0].Timestamp)
	}
}

func TestUpsertParameterIdempotence(t *testing.T) {
	ctx := context.Background()
	s := openMemory(t)

	if err := s.UpsertParameter(ctx, "k", 1); err != nil {
		t.Fatalf("UpsertParameter(1) error = %v", err)
	}
	if err := s.UpsertParameter(ctx, "k", 2); err != nil {
		t.Fatalf("UpsertParameter(2) error = %v", err)
	}

	v, ok, err := s.GetParameter(ctx, "k")
	if err != nil || !ok {
		t.Fatalf("GetParameter() = %v, %v, err = %v", v, ok, err)
	}
	if v != 2 {
		t.Fatalf("GetParameter() = %v, want 2", v)
	}

	all, err := s.AllParameters(ctx)
	if err != nil {
		t.Fatalf("AllParameters() error = %v", err)
	}
	count := 0
	for name := range all {
		if name == "k" {
			count++
		}
	}
	if count != 1 {
		t.Fatalf("expected exactly one row for k, found %d", count)
	}
}

func TestDatasetAppendPolicy(t *testing.T) {
	ctx := context.Background()
	s := openMemory(t)

	if err := s.InsertDataset(ctx, "a", 1000.0, []byte("v1")); err != nil {
		t.Fatalf("InsertDataset(a,1) error = %v", err)
	}
	if err := s.InsertDataset(ctx, "a", 1000.01, []byte("v2")); err != nil {
		t.Fatalf("InsertDataset(a,2) error = %v", err)
	}

	blobs, err := s.QueryDataset(ctx, "a")
	if err != nil {
		t.Fatalf("QueryDataset() error = %v", err)
	}
	if len(blobs) != 2 {
		t.Fatalf("QueryDataset() returned %d blobs, want 2 (append, not overwrite)", len(blobs))
	}

	last, err := s.DatasetLastData(ctx, "a")
	if err != nil || last == nil || string(last.Data) != "v2" {
		t.Fatalf("DatasetLastData() = %+v, err = %v", last, err)
	}
}

func TestMetadataRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := openMemory(t)

	if err := s.UpsertMetadata(ctx, "desc", "toto"); err != nil {
		t.Fatalf("UpsertMetadata() error = %v", err)
	}
	v, ok, err := s.GetMetadata(ctx, "desc")
	if err != nil || !ok || v != "toto" {
		t.Fatalf("GetMetadata() = %q, %v, err = %v", v, ok, err)
	}
}

func TestDelaySaveEquivalence(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	delayPath := filepath.Join(dir, "delay.db")
	delayStore, err := Open(delayPath, ModeCreateIfMissing, true, clock.NewFixed(1000))
	if err != nil {
		t.Fatalf("Open(delay) error = %v", err)
	}
	for i := 0; i < 50; i++ {
		if err := delayStore.InsertLog(ctx, "a", 1000+float64(i)*0.001, float64(i)); err != nil {
			t.Fatalf("InsertLog(delay,%d) error = %v", i, err)
		}
	}
	if err := delayStore.Close(ctx); err != nil {
		t.Fatalf("Close(delay) error = %v", err)
	}

	directPath := filepath.Join(dir, "direct.db")
	directStore, err := Open(directPath, ModeCreateIfMissing, false, clock.NewFixed(1000))
	if err != nil {
		t.Fatalf("Open(direct) error = %v", err)
	}
	for i := 0; i < 50; i++ {
		if err := directStore.InsertLog(ctx, "a", 1000+float64(i)*0.001, float64(i)); err != nil {
			t.Fatalf("InsertLog(direct,%d) error = %v", i, err)
		}
	}
	if err := directStore.Close(ctx); err != nil {
		t.Fatalf("Close(direct) error = %v", err)
	}

	delayRO, err := Open(delayPath, ModeReadOnly, false, clock.NewFixed(2000))
	if err != nil {
		t.Fatalf("Open(delay read-only) error = %v", err)
	}
	defer delayRO.Close(ctx)
	directRO, err := Open(directPath, ModeReadOnly, false, clock.NewFixed(2000))
	if err != nil {
		t.Fatalf("Open(direct read-only) error = %v", err)
	}
	defer directRO.Close(ctx)

	delaySamples, err := delayRO.QueryLog(ctx, "a")
	if err != nil {
		t.Fatalf("QueryLog(delay) error = %v", err)
	}
	directSamples, err := directRO.QueryLog(ctx, "a")
	if err != nil {
		t.Fatalf("QueryLog(direct) error = %v", err)
	}
	if len(delaySamples) != len(directSamples) {
		t.Fatalf("sample count mismatch: delay=%d direct=%d", len(delaySamples), len(directSamples))
	}
	for i := range delaySamples {
		if delaySamples[i] != directSamples[i] {
			t.Errorf("sample %d mismatch: delay=%+v direct=%+v", i, delaySamples[i], directSamples[i])
		}
	}
}

func TestDelaySaveReopenAppends(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	path := filepath.Join(dir, "session.db")

	s1, err := Open(path, ModeCreateIfMissing, true, clock.NewFixed(1000))
	if err != nil {
		t.Fatalf("Open(first) error = %v", err)
	}
	for i := 0; i < 50; i++ {
		if err := s1.InsertLog(ctx, "a", 1000+float64(i)*0.001, float64(i)); err != nil {
			t.Fatalf("InsertLog(first,%d) error = %v", i, err)
		}
	}
	if err := s1.Close(ctx); err != nil {
		t.Fatalf("Close(first) error = %v", err)
	}

	s2, err := Open(path, ModeCreateIfMissing, true, clock.NewFixed(2000))
	if err != nil {
		t.Fatalf("Open(second) error = %v", err)
	}
	for i := 0; i < 50; i++ {
		if err := s2.InsertLog(ctx, "a", 2000+float64(i)*0.001, float64(i)); err != nil {
			t.Fatalf("InsertLog(second,%d) error = %v", i, err)
		}
	}
	if err := s2.Close(ctx); err != nil {
		t.Fatalf("Close(second) error = %v", err)
	}

	ro, err := Open(path, ModeReadOnly, false, clock.NewFixed(3000))
	if err != nil {
		t.Fatalf("Open(readonly) error = %v", err)
	}
	defer ro.Close(ctx)

	samples, err := ro.QueryLog(ctx, "a")
	if err != nil {
		t.Fatalf("QueryLog() error = %v", err)
	}
	if len(samples) != 100 {
		t.Fatalf("QueryLog() returned %d samples, want 100", len(samples))
	}
	for i := 0; i < 50; i++ {
		if samples[i].Value != float64(i) || samples[i+50].Value != float64(i) {
			t.Fatalf("sample %d mismatch: %v / %v", i, samples[i].Value, samples[i+50].Value)
		}
	}
}

// createLegacyV1File writes a minimal schema-v1 store (log/log_names/
// parameters only) directly via the DuckDB driver, bypassing Store.Open,
// to exercise read-compatibility with a version this build never creates.
func createLegacyV1File(t *testing.T, path string) {
	t.Helper()
	db, err := sql.Open("duckdb", path)
	if err != nil {
		t.Fatalf("open legacy file: %v", err)
	}
	defer db.Close()

	ctx := context.Background()
	statements := append([]string{
		`CREATE SEQUENCE log_rowid_seq`,
	}, coreTableStatements...)
	for _, stmt := range statements {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			t.Fatalf("create legacy schema: %v: %v", stmt, err)
		}
	}
	if _, err := db.ExecContext(ctx,
		`INSERT INTO parameters (name, value) VALUES (?, ?), (?, ?)`,
		reservedDatabaseVersion, float64(schemaV1),
		reservedSessionCreationTimestamp, 500.0,
	); err != nil {
		t.Fatalf("insert legacy reserved parameters: %v", err)
	}
	if _, err := db.ExecContext(ctx, `INSERT INTO log_names (name) VALUES ('temp')`); err != nil {
		t.Fatalf("insert legacy log name: %v", err)
	}
	if _, err := db.ExecContext(ctx, `INSERT INTO log (ts, name, value) VALUES (500.0, 'temp', 21.5)`); err != nil {
		t.Fatalf("insert legacy log sample: %v", err)
	}
}

func TestSchemaVersionDegradation(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	path := filepath.Join(dir, "legacy.db")
	createLegacyV1File(t, path)

	s, err := Open(path, ModeReadOnly, false, clock.NewFixed(1000))
	if err != nil {
		t.Fatalf("Open(legacy) error = %v", err)
	}
	defer s.Close(ctx)

	if s.SchemaVersion() != float64(schemaV1) {
		t.Fatalf("SchemaVersion() = %v, want %v", s.SchemaVersion(), float64(schemaV1))
	}

	metas, err := s.AllMetadatas(ctx)
	if err != nil {
		t.Fatalf("AllMetadatas() error = %v", err)
	}
	if len(metas) != 0 {
		t.Fatalf("AllMetadatas() on v1 store = %v, want empty", metas)
	}

	samples, err := s.QueryLog(ctx, "temp")
	if err != nil {
		t.Fatalf("QueryLog() error = %v", err)
	}
	if len(samples) != 1 || samples[0].Value != 21.5 {
		t.Fatalf("QueryLog() = %v, want one sample of 21.5", samples)
	}
}

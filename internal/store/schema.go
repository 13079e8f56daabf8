// asyncsession - experiment monitoring and acquisition engine
// SPDX-License-Identifier: AGPL-3.0-or-later

package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/labtools/asyncsession/internal/apierr"
)

// schemaVersion identifies one of the store's on-disk layouts. Versions are
// ordered; newer code must be able to read every older one.
type schemaVersion float64

const (
	schemaV1  schemaVersion = 1.0
	schemaV3  schemaVersion = 3.0
	schemaV31 schemaVersion = 3.1
	schemaV4  schemaVersion = 4.0
	schemaV41 schemaVersion = 4.1

	// currentSchemaVersion is written into every newly created session.
	currentSchemaVersion = schemaV41
)

// reserved parameter/metadata names, never returned by AllParameters /
// AllMetadatas (names starting with "_") except email_lastSent, which is
// filtered explicitly by callers that want "real" experiment parameters.
const (
	reservedDatabaseVersion         = "_database_version"
	reservedSessionCreationTimestamp = "_session_creation_timestamp"
	reservedEmailLastSent            = "email_lastSent"
)

// knownSchemaVersions lists every version this build can open read-only,
// ordered oldest first.
var knownSchemaVersions = []schemaVersion{schemaV1, schemaV3, schemaV31, schemaV4, schemaV41}

func isKnownSchemaVersion(v schemaVersion) bool {
	for _, known := range knownSchemaVersions {
		if known == v {
			return true
		}
	}
	return false
}

// hasMetadataTable reports whether a session opened at v reads/writes the
// metadata table (introduced at v4).
func (v schemaVersion) hasMetadataTable() bool { return v >= schemaV4 }

// hasFigureTables reports whether a session opened at v reads/writes the
// figure/figure_variable tables (introduced at v4.1).
func (v schemaVersion) hasFigureTables() bool { return v >= schemaV41 }

// hasDatasetTables reports whether a session opened at v reads/writes
// dataset_names/dataset (introduced at v3).
func (v schemaVersion) hasDatasetTables() bool { return v >= schemaV3 }

// coreTableStatements are present in every schema version since v1.
var coreTableStatements = []string{
	`CREATE TABLE IF NOT EXISTS log_names (
		name TEXT PRIMARY KEY
	)`,
	`CREATE TABLE IF NOT EXISTS log (
		rowid BIGINT PRIMARY KEY DEFAULT nextval('log_rowid_seq'),
		ts DOUBLE NOT NULL,
		name TEXT NOT NULL REFERENCES log_names(name),
		value DOUBLE NOT NULL,
		UNIQUE(name, ts)
	)`,
	`CREATE TABLE IF NOT EXISTS parameters (
		name TEXT PRIMARY KEY,
		value DOUBLE NOT NULL
	)`,
}

var datasetTableStatements = []string{
	`CREATE TABLE IF NOT EXISTS dataset_names (
		name TEXT PRIMARY KEY
	)`,
	`CREATE TABLE IF NOT EXISTS dataset (
		rowid BIGINT PRIMARY KEY DEFAULT nextval('dataset_rowid_seq'),
		ts DOUBLE NOT NULL,
		name TEXT NOT NULL REFERENCES dataset_names(name),
		data BLOB NOT NULL,
		UNIQUE(name, ts)
	)`,
}

var metadataTableStatements = []string{
	`CREATE TABLE IF NOT EXISTS metadata (
		name TEXT PRIMARY KEY,
		value TEXT NOT NULL
	)`,
}

var figureTableStatements = []string{
	`CREATE TABLE IF NOT EXISTS figure (
		fignum INTEGER PRIMARY KEY,
		maxvalues INTEGER NOT NULL,
		yscale TEXT,
		ymin DOUBLE,
		ymax DOUBLE
	)`,
	`CREATE TABLE IF NOT EXISTS figure_variable (
		varnum INTEGER PRIMARY KEY DEFAULT nextval('figure_variable_rowid_seq'),
		fignum INTEGER NOT NULL REFERENCES figure(fignum),
		name TEXT NOT NULL
	)`,
}

// createLatestSchema creates every table for currentSchemaVersion and
// records the reserved version/creation-timestamp parameters. Called only
// for brand-new sessions.
func createLatestSchema(ctx context.Context, db *sql.DB, creationTimestamp float64) error {
	statements := []string{
		`CREATE SEQUENCE IF NOT EXISTS log_rowid_seq`,
		`CREATE SEQUENCE IF NOT EXISTS dataset_rowid_seq`,
		`CREATE SEQUENCE IF NOT EXISTS figure_variable_rowid_seq`,
	}
	statements = append(statements, coreTableStatements...)
	statements = append(statements, datasetTableStatements...)
	statements = append(statements, metadataTableStatements...)
	statements = append(statements, figureTableStatements...)

	for _, stmt := range statements {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("create schema: %s: %w", stmt, err)
		}
	}

	if _, err := db.ExecContext(ctx,
		`INSERT INTO parameters (name, value) VALUES (?, ?), (?, ?)`,
		reservedDatabaseVersion, float64(currentSchemaVersion),
		reservedSessionCreationTimestamp, creationTimestamp,
	); err != nil {
		return fmt.Errorf("insert reserved parameters: %w", err)
	}
	return nil
}

// detectSchemaVersion reads _database_version from an existing store. A
// missing parameters table (corrupt or unrelated file) is reported as
// ErrSchema, as is an unrecognized version.
func detectSchemaVersion(ctx context.Context, db *sql.DB) (schemaVersion, error) {
	var v float64
	row := db.QueryRowContext(ctx, `SELECT value FROM parameters WHERE name = ?`, reservedDatabaseVersion)
	if err := row.Scan(&v); err != nil {
		return 0, fmt.Errorf("read %s: %w: %v", reservedDatabaseVersion, apierr.ErrSchema, err)
	}
	sv := schemaVersion(v)
	if !isKnownSchemaVersion(sv) {
		return 0, fmt.Errorf("%w: version %v", apierr.ErrSchema, v)
	}
	return sv, nil
}

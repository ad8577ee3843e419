// Package sqlite provides SQLite implementations of the persistence
// interfaces, for single-user local deployments that do not run a
// PostgreSQL server. The schema is created in place on open.
package sqlite

import (
	"database/sql"
	"errors"
	"fmt"

	sqlite3 "github.com/mattn/go-sqlite3"
)

const schema = `
CREATE TABLE IF NOT EXISTS jobs (
	id TEXT PRIMARY KEY,
	type TEXT NOT NULL,
	payload BLOB,
	priority INTEGER NOT NULL DEFAULT 0,
	status TEXT NOT NULL,
	correlation_key TEXT,
	retry_count INTEGER NOT NULL DEFAULT 0,
	last_retry_at DATETIME,
	next_retry_at DATETIME,
	result BLOB,
	error_message TEXT,
	created_at DATETIME NOT NULL,
	started_at DATETIME,
	completed_at DATETIME
);

CREATE INDEX IF NOT EXISTS idx_jobs_status ON jobs(status);
CREATE UNIQUE INDEX IF NOT EXISTS idx_jobs_active_correlation ON jobs(type, correlation_key)
	WHERE correlation_key IS NOT NULL AND status IN ('pending', 'running');

CREATE TABLE IF NOT EXISTS pipelines (
	id TEXT PRIMARY KEY,
	name TEXT NOT NULL,
	description TEXT NOT NULL DEFAULT '',
	enabled INTEGER NOT NULL DEFAULT 1,
	created_at DATETIME NOT NULL,
	updated_at DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS pipeline_nodes (
	id TEXT PRIMARY KEY,
	pipeline_id TEXT NOT NULL REFERENCES pipelines(id) ON DELETE CASCADE,
	op TEXT NOT NULL,
	enabled INTEGER NOT NULL DEFAULT 1,
	config BLOB
);

CREATE INDEX IF NOT EXISTS idx_pipeline_nodes_pipeline ON pipeline_nodes(pipeline_id);

CREATE TABLE IF NOT EXISTS pipeline_edges (
	id TEXT PRIMARY KEY,
	pipeline_id TEXT NOT NULL REFERENCES pipelines(id) ON DELETE CASCADE,
	from_node_id TEXT NOT NULL,
	to_node_id TEXT NOT NULL,
	output_key TEXT NOT NULL DEFAULT '',
	input_key TEXT NOT NULL DEFAULT ''
);

CREATE INDEX IF NOT EXISTS idx_pipeline_edges_pipeline ON pipeline_edges(pipeline_id);

CREATE TABLE IF NOT EXISTS pipeline_executions (
	id TEXT PRIMARY KEY,
	pipeline_id TEXT NOT NULL,
	status TEXT NOT NULL,
	input_data BLOB,
	output_data BLOB,
	error_message TEXT,
	created_at DATETIME NOT NULL,
	started_at DATETIME,
	completed_at DATETIME
);

CREATE TABLE IF NOT EXISTS node_executions (
	id TEXT PRIMARY KEY,
	execution_id TEXT NOT NULL REFERENCES pipeline_executions(id) ON DELETE CASCADE,
	node_id TEXT NOT NULL,
	status TEXT NOT NULL,
	input_data BLOB,
	output_data BLOB,
	error_message TEXT,
	started_at DATETIME NOT NULL,
	completed_at DATETIME
);

CREATE INDEX IF NOT EXISTS idx_node_executions_execution ON node_executions(execution_id);
`

// Open opens (creating if necessary) the SQLite database at path and
// initializes the schema. Foreign keys are enabled per connection.
func Open(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite3", path+"?_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite database: %w", err)
	}

	// SQLite handles one writer at a time; a single connection avoids
	// SQLITE_BUSY under concurrent job updates.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize sqlite schema: %w", err)
	}
	return db, nil
}

// isUniqueViolation reports whether err is a unique constraint failure.
func isUniqueViolation(err error) bool {
	var sqliteErr sqlite3.Error
	return errors.As(err, &sqliteErr) && sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique
}

// Package store persists all pipeline state in a single SQLite database:
// solutions, jobs, the work queue, plans, the asset/edge catalog, deep-dive
// lineage, processing logs, audit snapshots, and prompt configuration.
package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	_ "modernc.org/sqlite"
)

// Store wraps the SQLite database. Writes are serialized with the mutex;
// sqlite itself is the single shared mutable resource of the pipeline.
type Store struct {
	db     *sql.DB
	mu     sync.RWMutex
	dbPath string
}

// New opens (creating if needed) the database at path.
func New(path string) (*Store, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)

	s := &Store{db: db, dbPath: path}
	if err := s.initialize(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// initialize creates the required tables.
func (s *Store) initialize() error {
	solutions := `
	CREATE TABLE IF NOT EXISTS solutions (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		storage_path TEXT NOT NULL DEFAULT '',
		status TEXT NOT NULL DEFAULT 'PENDING',
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);
	`

	jobRun := `
	CREATE TABLE IF NOT EXISTS job_run (
		id TEXT PRIMARY KEY,
		project_id TEXT NOT NULL,
		status TEXT NOT NULL DEFAULT 'queued',
		current_stage TEXT NOT NULL DEFAULT '',
		progress_pct INTEGER NOT NULL DEFAULT 0,
		plan_id TEXT,
		requires_approval INTEGER NOT NULL DEFAULT 1,
		started_at DATETIME,
		finished_at DATETIME,
		error_message TEXT,
		error_details TEXT,
		synthesis_summary TEXT,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);
	CREATE INDEX IF NOT EXISTS idx_job_run_project ON job_run(project_id);
	`

	jobQueue := `
	CREATE TABLE IF NOT EXISTS job_queue (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		job_id TEXT NOT NULL,
		status TEXT NOT NULL DEFAULT 'pending',
		attempts INTEGER NOT NULL DEFAULT 0,
		last_error TEXT,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);
	CREATE INDEX IF NOT EXISTS idx_job_queue_status ON job_queue(status);
	`

	plans := `
	CREATE TABLE IF NOT EXISTS job_plan (
		id TEXT PRIMARY KEY,
		job_id TEXT NOT NULL,
		status TEXT NOT NULL DEFAULT 'draft',
		mode TEXT NOT NULL DEFAULT 'standard',
		total_files INTEGER NOT NULL DEFAULT 0,
		total_cost_est REAL NOT NULL DEFAULT 0,
		total_time_est REAL NOT NULL DEFAULT 0,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);
	CREATE INDEX IF NOT EXISTS idx_job_plan_job ON job_plan(job_id);

	CREATE TABLE IF NOT EXISTS job_plan_area (
		id TEXT PRIMARY KEY,
		plan_id TEXT NOT NULL,
		name TEXT NOT NULL,
		title TEXT NOT NULL,
		order_index INTEGER NOT NULL DEFAULT 0
	);
	CREATE INDEX IF NOT EXISTS idx_plan_area_plan ON job_plan_area(plan_id);

	CREATE TABLE IF NOT EXISTS job_plan_item (
		id TEXT PRIMARY KEY,
		area_id TEXT NOT NULL,
		path TEXT NOT NULL,
		file_hash TEXT NOT NULL DEFAULT '',
		size_bytes INTEGER NOT NULL DEFAULT 0,
		file_type TEXT NOT NULL DEFAULT '',
		classifier TEXT NOT NULL DEFAULT '',
		strategy TEXT NOT NULL DEFAULT 'LLM_ONLY',
		recommended_action TEXT NOT NULL DEFAULT 'PROCESS',
		reason TEXT NOT NULL DEFAULT '',
		enabled INTEGER NOT NULL DEFAULT 1,
		order_index INTEGER NOT NULL DEFAULT 0,
		est_tokens INTEGER NOT NULL DEFAULT 0,
		est_cost_usd REAL NOT NULL DEFAULT 0,
		est_time_seconds REAL NOT NULL DEFAULT 0,
		status TEXT NOT NULL DEFAULT 'pending'
	);
	CREATE INDEX IF NOT EXISTS idx_plan_item_area ON job_plan_item(area_id);
	`

	catalog := `
	CREATE TABLE IF NOT EXISTS asset (
		id TEXT PRIMARY KEY,
		project_id TEXT NOT NULL,
		asset_type TEXT NOT NULL,
		name_display TEXT NOT NULL,
		canonical_name TEXT NOT NULL DEFAULT '',
		system TEXT NOT NULL DEFAULT 'unknown',
		tags TEXT NOT NULL DEFAULT '{}',
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		updated_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		UNIQUE(project_id, name_display, asset_type)
	);
	CREATE INDEX IF NOT EXISTS idx_asset_project ON asset(project_id);

	CREATE TABLE IF NOT EXISTS edge_index (
		id TEXT PRIMARY KEY,
		project_id TEXT NOT NULL,
		from_asset_id TEXT NOT NULL,
		to_asset_id TEXT NOT NULL,
		edge_type TEXT NOT NULL,
		confidence REAL NOT NULL DEFAULT 1.0,
		is_hypothesis INTEGER NOT NULL DEFAULT 0,
		extractor_id TEXT NOT NULL DEFAULT '',
		rationale TEXT NOT NULL DEFAULT '',
		UNIQUE(project_id, from_asset_id, to_asset_id, edge_type)
	);
	CREATE INDEX IF NOT EXISTS idx_edge_project ON edge_index(project_id);

	CREATE TABLE IF NOT EXISTS evidence (
		id TEXT PRIMARY KEY,
		project_id TEXT NOT NULL,
		file_path TEXT NOT NULL,
		kind TEXT NOT NULL DEFAULT 'code',
		locator TEXT NOT NULL DEFAULT '{}',
		snippet TEXT NOT NULL DEFAULT '',
		hash TEXT NOT NULL DEFAULT '',
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);
	CREATE INDEX IF NOT EXISTS idx_evidence_lookup ON evidence(project_id, hash, file_path);

	CREATE TABLE IF NOT EXISTS edge_evidence (
		edge_id TEXT NOT NULL,
		evidence_id TEXT NOT NULL,
		UNIQUE(edge_id, evidence_id)
	);
	`

	deepDive := `
	CREATE TABLE IF NOT EXISTS package (
		id TEXT PRIMARY KEY,
		project_id TEXT NOT NULL,
		name TEXT NOT NULL,
		package_type TEXT NOT NULL DEFAULT '',
		file_path TEXT NOT NULL DEFAULT '',
		description TEXT NOT NULL DEFAULT ''
	);
	CREATE INDEX IF NOT EXISTS idx_package_project ON package(project_id);

	CREATE TABLE IF NOT EXISTS package_component (
		id TEXT PRIMARY KEY,
		package_id TEXT NOT NULL,
		name TEXT NOT NULL,
		type TEXT NOT NULL DEFAULT 'TRANSFORM',
		order_index INTEGER NOT NULL DEFAULT 0,
		properties TEXT NOT NULL DEFAULT '{}'
	);
	CREATE INDEX IF NOT EXISTS idx_component_package ON package_component(package_id);

	CREATE TABLE IF NOT EXISTS transformation_ir (
		id TEXT PRIMARY KEY,
		component_id TEXT NOT NULL,
		source_component_id TEXT,
		operation TEXT NOT NULL,
		expression TEXT NOT NULL DEFAULT ''
	);

	CREATE TABLE IF NOT EXISTS column_lineage (
		id TEXT PRIMARY KEY,
		project_id TEXT NOT NULL,
		source_asset_id TEXT,
		source_column TEXT NOT NULL DEFAULT '',
		target_asset_id TEXT,
		target_column TEXT NOT NULL DEFAULT '',
		transformation_rule TEXT NOT NULL DEFAULT '',
		confidence REAL NOT NULL DEFAULT 1.0
	);
	CREATE INDEX IF NOT EXISTS idx_lineage_project ON column_lineage(project_id);
	`

	auditTables := `
	CREATE TABLE IF NOT EXISTS file_processing_log (
		id TEXT PRIMARY KEY,
		job_id TEXT NOT NULL,
		project_id TEXT NOT NULL,
		file_path TEXT NOT NULL,
		action_name TEXT NOT NULL DEFAULT '',
		strategy_used TEXT NOT NULL DEFAULT '',
		model_provider TEXT NOT NULL DEFAULT '',
		model_used TEXT NOT NULL DEFAULT '',
		fallback_used INTEGER NOT NULL DEFAULT 0,
		fallback_chain TEXT NOT NULL DEFAULT '[]',
		status TEXT NOT NULL DEFAULT 'pending',
		tokens_in INTEGER NOT NULL DEFAULT 0,
		tokens_out INTEGER NOT NULL DEFAULT 0,
		cost_estimate_usd REAL NOT NULL DEFAULT 0,
		latency_ms INTEGER NOT NULL DEFAULT 0,
		error_type TEXT NOT NULL DEFAULT '',
		error_message TEXT NOT NULL DEFAULT '',
		retry_count INTEGER NOT NULL DEFAULT 0,
		nodes_extracted INTEGER NOT NULL DEFAULT 0,
		edges_extracted INTEGER NOT NULL DEFAULT 0,
		evidences_extracted INTEGER NOT NULL DEFAULT 0,
		result_hash TEXT NOT NULL DEFAULT '',
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);
	CREATE INDEX IF NOT EXISTS idx_fplog_job ON file_processing_log(job_id);

	CREATE TABLE IF NOT EXISTS audit_snapshot (
		id TEXT PRIMARY KEY,
		project_id TEXT NOT NULL,
		job_id TEXT,
		metrics TEXT NOT NULL DEFAULT '{}',
		gaps TEXT NOT NULL DEFAULT '[]',
		recommendations TEXT NOT NULL DEFAULT '[]',
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);
	CREATE INDEX IF NOT EXISTS idx_snapshot_project ON audit_snapshot(project_id);

	CREATE TABLE IF NOT EXISTS reasoning_log (
		id TEXT PRIMARY KEY,
		project_id TEXT NOT NULL,
		job_id TEXT NOT NULL DEFAULT '',
		action TEXT NOT NULL DEFAULT '',
		content TEXT NOT NULL DEFAULT '',
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);
	`

	prompts := `
	CREATE TABLE IF NOT EXISTS prompt_layer (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		layer_type TEXT NOT NULL,
		content TEXT NOT NULL DEFAULT ''
	);

	CREATE TABLE IF NOT EXISTS action_prompt_config (
		action_name TEXT PRIMARY KEY,
		base_layer_id TEXT,
		domain_layer_id TEXT,
		org_layer_id TEXT,
		reasoner_layer_id TEXT
	);

	CREATE TABLE IF NOT EXISTS project_action_config (
		project_id TEXT NOT NULL,
		action_name TEXT NOT NULL,
		solution_layer_id TEXT,
		UNIQUE(project_id, action_name)
	);
	`

	for _, block := range []string{solutions, jobRun, jobQueue, plans, catalog, deepDive, auditTables, prompts} {
		if _, err := s.db.Exec(block); err != nil {
			return fmt.Errorf("failed to create tables: %w", err)
		}
	}
	return nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Path returns the database file path.
func (s *Store) Path() string {
	return s.dbPath
}

func marshalJSON(v any) string {
	if v == nil {
		return "{}"
	}
	data, err := json.Marshal(v)
	if err != nil {
		return "{}"
	}
	return string(data)
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}

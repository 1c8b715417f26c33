package storage

// schemaVersion is the current migration target. Migrations are pure-SQL
// scripts applied in order and must never change how existing rows would
// hash (canonical JSON is owned by the content package, not by storage).
const schemaVersion = 1

// migrations holds one idempotent SQL script per schema version,
// mirroring sqlitevec.Backend.init's CREATE TABLE IF NOT EXISTS style.
var migrations = []string{
	schemaV1,
}

const schemaV1 = `
CREATE TABLE IF NOT EXISTS meta (
	key   TEXT PRIMARY KEY,
	value TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS blobs (
	content_hash TEXT PRIMARY KEY,
	payload_json BLOB NOT NULL,
	byte_size    INTEGER NOT NULL,
	token_count  INTEGER NOT NULL DEFAULT 0,
	created_at   TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS commits (
	commit_hash       TEXT NOT NULL,
	tract_id          TEXT NOT NULL,
	parent_hash       TEXT,
	content_hash      TEXT NOT NULL,
	content_type      TEXT NOT NULL,
	operation         TEXT NOT NULL,
	edit_target       TEXT,
	response_to       TEXT,
	message           TEXT,
	token_count       INTEGER NOT NULL DEFAULT 0,
	metadata_json     TEXT,
	generation_config_json TEXT,
	created_at        TEXT NOT NULL,
	PRIMARY KEY (tract_id, commit_hash),
	FOREIGN KEY (tract_id, parent_hash) REFERENCES commits(tract_id, commit_hash)
);

CREATE INDEX IF NOT EXISTS idx_commits_tract_created ON commits(tract_id, created_at);
CREATE INDEX IF NOT EXISTS idx_commits_tract_type ON commits(tract_id, content_type);
CREATE INDEX IF NOT EXISTS idx_commits_response_to ON commits(response_to);

CREATE TABLE IF NOT EXISTS commit_parents (
	tract_id    TEXT NOT NULL,
	commit_hash TEXT NOT NULL,
	parent_hash TEXT NOT NULL,
	position    INTEGER NOT NULL,
	PRIMARY KEY (tract_id, commit_hash, position)
);

CREATE INDEX IF NOT EXISTS idx_commit_parents_commit ON commit_parents(commit_hash);

CREATE TABLE IF NOT EXISTS refs (
	tract_id   TEXT NOT NULL,
	ref_name   TEXT NOT NULL,
	kind       TEXT NOT NULL, -- 'direct' | 'symbolic'
	target     TEXT NOT NULL, -- commit_hash when direct, ref_name when symbolic
	updated_at TEXT NOT NULL,
	PRIMARY KEY (tract_id, ref_name)
);

CREATE TABLE IF NOT EXISTS annotations (
	id          INTEGER PRIMARY KEY AUTOINCREMENT,
	tract_id    TEXT NOT NULL,
	target_hash TEXT NOT NULL,
	priority    TEXT NOT NULL,
	reason      TEXT,
	retention_instructions TEXT,
	retention_patterns_json TEXT,
	retention_mode TEXT,
	created_at  TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_annotations_target_created ON annotations(target_hash, created_at);

CREATE TABLE IF NOT EXISTS operation_events (
	id          TEXT PRIMARY KEY,
	tract_id    TEXT NOT NULL,
	operation   TEXT NOT NULL,
	params_json TEXT,
	result_json TEXT,
	created_at  TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS operation_commits (
	event_id    TEXT NOT NULL,
	commit_hash TEXT NOT NULL,
	role        TEXT NOT NULL, -- 'input' | 'output'
	PRIMARY KEY (event_id, commit_hash, role)
);

CREATE TABLE IF NOT EXISTS compile_records (
	id            TEXT PRIMARY KEY,
	tract_id      TEXT NOT NULL,
	root_hash     TEXT,
	head_hash     TEXT NOT NULL,
	options_hash  TEXT NOT NULL,
	message_count INTEGER NOT NULL,
	token_count   INTEGER NOT NULL,
	created_at    TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS compile_effective (
	compile_id  TEXT NOT NULL,
	commit_hash TEXT NOT NULL,
	position    INTEGER NOT NULL,
	PRIMARY KEY (compile_id, position)
);

CREATE TABLE IF NOT EXISTS saved_specs (
	name        TEXT PRIMARY KEY,
	spec_json   TEXT NOT NULL,
	created_at  TEXT NOT NULL
);
`

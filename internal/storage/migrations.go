package storage

import (
	"fmt"
)

// migration is one ordered, idempotent schema step. Migrations never edit
// an already-applied step; a new behavior is a new, higher-numbered step.
type migration struct {
	version int
	sql     string
}

var migrations = []migration{
	{
		version: 1,
		sql: `
CREATE TABLE IF NOT EXISTS memories (
	id TEXT PRIMARY KEY,
	user_id TEXT NOT NULL,
	content TEXT NOT NULL,
	category TEXT NOT NULL,
	memory_type TEXT NOT NULL DEFAULT 'regular',
	importance INTEGER NOT NULL DEFAULT 5,
	confidence REAL NOT NULL DEFAULT 0.5,
	prominence REAL NOT NULL DEFAULT 1.0,
	access_count INTEGER NOT NULL DEFAULT 0,
	times_confirmed INTEGER NOT NULL DEFAULT 1,
	is_latest INTEGER NOT NULL DEFAULT 1,
	source TEXT,
	source_chunk TEXT,
	learned_from TEXT,
	document_date INTEGER NOT NULL,
	event_date INTEGER,
	last_accessed INTEGER,
	created_at INTEGER NOT NULL,
	updated_at INTEGER NOT NULL,
	embedding BLOB,
	contradiction_ids TEXT NOT NULL DEFAULT '[]',
	metadata TEXT NOT NULL DEFAULT '{}'
);
CREATE INDEX IF NOT EXISTS idx_memories_user_latest ON memories(user_id, is_latest);
CREATE INDEX IF NOT EXISTS idx_memories_user_category ON memories(user_id, category, is_latest);
CREATE INDEX IF NOT EXISTS idx_memories_prominence ON memories(prominence);

CREATE TABLE IF NOT EXISTS memory_relations (
	id TEXT PRIMARY KEY,
	source_id TEXT NOT NULL REFERENCES memories(id),
	target_id TEXT NOT NULL REFERENCES memories(id),
	relation_type TEXT NOT NULL,
	confidence REAL NOT NULL,
	created_at INTEGER NOT NULL,
	UNIQUE(source_id, target_id, relation_type)
);
CREATE INDEX IF NOT EXISTS idx_relations_source ON memory_relations(source_id);
CREATE INDEX IF NOT EXISTS idx_relations_target ON memory_relations(target_id);

CREATE TABLE IF NOT EXISTS sessions (
	id TEXT PRIMARY KEY,
	source TEXT NOT NULL,
	created_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS session_messages (
	id TEXT PRIMARY KEY,
	session_id TEXT NOT NULL REFERENCES sessions(id),
	role TEXT NOT NULL,
	content TEXT NOT NULL,
	created_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_session_messages_session ON session_messages(session_id, created_at);

CREATE TABLE IF NOT EXISTS session_summaries (
	session_id TEXT PRIMARY KEY REFERENCES sessions(id),
	user_id TEXT NOT NULL,
	summary TEXT NOT NULL,
	topics TEXT NOT NULL DEFAULT '[]',
	message_count INTEGER NOT NULL,
	duration_ms INTEGER NOT NULL,
	embedding BLOB,
	created_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_session_summaries_user ON session_summaries(user_id);

CREATE TABLE IF NOT EXISTS scheduled_items (
	id TEXT PRIMARY KEY,
	user_id TEXT NOT NULL,
	session_id TEXT,
	source TEXT NOT NULL,
	kind TEXT NOT NULL,
	type TEXT NOT NULL DEFAULT '',
	message TEXT NOT NULL,
	context TEXT NOT NULL DEFAULT '{}',
	trigger_at INTEGER NOT NULL,
	status TEXT NOT NULL DEFAULT 'pending',
	board_status TEXT NOT NULL DEFAULT 'scheduled',
	recurring TEXT,
	source_memory_id TEXT,
	task_config TEXT,
	depends_on TEXT NOT NULL DEFAULT '[]',
	priority INTEGER NOT NULL DEFAULT 0,
	labels TEXT NOT NULL DEFAULT '[]',
	goal_id TEXT,
	result TEXT,
	fired_at INTEGER,
	acted_at INTEGER,
	created_at INTEGER NOT NULL,
	updated_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_scheduled_status_trigger ON scheduled_items(status, trigger_at);
CREATE INDEX IF NOT EXISTS idx_scheduled_user ON scheduled_items(user_id);

CREATE TABLE IF NOT EXISTS static_profile (
	user_id TEXT NOT NULL,
	key TEXT NOT NULL,
	value TEXT NOT NULL,
	confidence REAL NOT NULL DEFAULT 1.0,
	updated_at INTEGER NOT NULL,
	PRIMARY KEY (user_id, key)
);

CREATE TABLE IF NOT EXISTS dynamic_profile (
	user_id TEXT PRIMARY KEY,
	recent_topics TEXT NOT NULL DEFAULT '[]',
	active_projects TEXT NOT NULL DEFAULT '[]',
	current_mood TEXT NOT NULL DEFAULT '',
	last_interaction_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS behavioral_patterns (
	user_id TEXT PRIMARY KEY,
	communication_style TEXT NOT NULL DEFAULT '',
	expertise_areas TEXT NOT NULL DEFAULT '[]',
	active_hours TEXT NOT NULL DEFAULT '[]',
	response_preferences TEXT NOT NULL DEFAULT '{}',
	message_frequency REAL NOT NULL DEFAULT 0,
	session_engagement REAL NOT NULL DEFAULT 0,
	topic_switch REAL NOT NULL DEFAULT 0,
	response_length REAL NOT NULL DEFAULT 0,
	affect_valence REAL NOT NULL DEFAULT 0,
	affect_arousal REAL NOT NULL DEFAULT 0,
	smoothed_valence REAL NOT NULL DEFAULT 0,
	smoothed_arousal REAL NOT NULL DEFAULT 0,
	last_analyzed_count INTEGER NOT NULL DEFAULT 0,
	updated_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS runtime_keys (
	key TEXT PRIMARY KEY,
	value TEXT NOT NULL,
	created_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS term_document_frequency (
	term TEXT PRIMARY KEY,
	document_count INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS memory_corpus_stats (
	id INTEGER PRIMARY KEY CHECK (id = 1),
	document_count INTEGER NOT NULL DEFAULT 0,
	total_length INTEGER NOT NULL DEFAULT 0
);
INSERT OR IGNORE INTO memory_corpus_stats (id, document_count, total_length) VALUES (1, 0, 0);
`,
	},
}

// migrate applies every migration whose version has not yet been recorded,
// in ascending order, each inside its own transaction.
func (d *DB) migrate() error {
	if _, err := d.conn.Exec(`CREATE TABLE IF NOT EXISTS schema_migrations (
		version INTEGER PRIMARY KEY,
		applied_at INTEGER NOT NULL
	)`); err != nil {
		return fmt.Errorf("create schema_migrations: %w", err)
	}

	applied := map[int]bool{}
	rows, err := d.conn.Query(`SELECT version FROM schema_migrations`)
	if err != nil {
		return fmt.Errorf("query schema_migrations: %w", err)
	}
	for rows.Next() {
		var v int
		if err := rows.Scan(&v); err != nil {
			rows.Close()
			return fmt.Errorf("scan schema_migrations: %w", err)
		}
		applied[v] = true
	}
	rows.Close()

	for _, m := range migrations {
		if applied[m.version] {
			continue
		}
		if err := d.applyMigration(m); err != nil {
			return fmt.Errorf("apply migration %d: %w", m.version, err)
		}
	}
	return nil
}

func (d *DB) applyMigration(m migration) error {
	tx, err := d.conn.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.Exec(m.sql); err != nil {
		return err
	}
	if _, err := tx.Exec(`INSERT INTO schema_migrations (version, applied_at) VALUES (?, strftime('%s','now')*1000)`, m.version); err != nil {
		return err
	}
	return tx.Commit()
}

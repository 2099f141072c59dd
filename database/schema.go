package database

const schema = `
CREATE TABLE IF NOT EXISTS identities (
	pseudonym TEXT PRIMARY KEY,
	real_user_id INTEGER NOT NULL,
	community_id INTEGER NOT NULL,
	banned BOOLEAN NOT NULL DEFAULT 0,
	warning_count INTEGER NOT NULL DEFAULT 0,
	created_at DATETIME NOT NULL,
	UNIQUE (real_user_id, community_id)
);
CREATE TABLE IF NOT EXISTS feedback (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	display_number INTEGER NOT NULL,
	pseudonym TEXT NOT NULL,
	community_id INTEGER NOT NULL,
	target_link TEXT NOT NULL,
	target_thread_id INTEGER NOT NULL,
	kind TEXT NOT NULL CHECK (kind IN ('text', 'image', 'file')),
	body TEXT NOT NULL DEFAULT '',
	file_ref TEXT,
	message_id INTEGER,
	created_at DATETIME NOT NULL,
	deleted BOOLEAN NOT NULL DEFAULT 0,
	UNIQUE (community_id, display_number),
	FOREIGN KEY (pseudonym) REFERENCES identities(pseudonym)
);
CREATE TABLE IF NOT EXISTS scope_sequence (
	community_id INTEGER PRIMARY KEY,
	next_number INTEGER NOT NULL CHECK (next_number >= 1)
);
CREATE TABLE IF NOT EXISTS downvote_tally (
	message_id INTEGER PRIMARY KEY,
	feedback_id INTEGER NOT NULL,
	community_id INTEGER NOT NULL,
	count INTEGER NOT NULL DEFAULT 0,
	FOREIGN KEY (feedback_id) REFERENCES feedback(id)
);
CREATE TABLE IF NOT EXISTS warning_events (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	pseudonym TEXT NOT NULL,
	community_id INTEGER NOT NULL,
	kind TEXT NOT NULL CHECK (kind IN ('community-downvote', 'author-action', 'admin-action')),
	feedback_id INTEGER,
	moderator_id INTEGER,
	reason TEXT NOT NULL DEFAULT '',
	created_at DATETIME NOT NULL,
	FOREIGN KEY (pseudonym) REFERENCES identities(pseudonym)
);
CREATE TABLE IF NOT EXISTS relationship_warnings (
	pseudonym TEXT NOT NULL,
	community_id INTEGER NOT NULL,
	owner_id INTEGER NOT NULL,
	count INTEGER NOT NULL DEFAULT 0 CHECK (count >= 0),
	created_at DATETIME NOT NULL,
	updated_at DATETIME NOT NULL,
	UNIQUE (pseudonym, owner_id),
	FOREIGN KEY (pseudonym) REFERENCES identities(pseudonym)
);
CREATE TABLE IF NOT EXISTS schema_migrations (
	version INTEGER PRIMARY KEY,
	applied_at DATETIME NOT NULL
);

-- Indexes
CREATE INDEX IF NOT EXISTS idx_feedback_rate_window ON feedback(pseudonym, target_thread_id, created_at);
CREATE INDEX IF NOT EXISTS idx_relationship_warnings_pair ON relationship_warnings(pseudonym, owner_id);
CREATE INDEX IF NOT EXISTS idx_warning_events_pseudonym ON warning_events(pseudonym, created_at);
`

package store

const schema = `
CREATE TABLE IF NOT EXISTS pair (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	source_chat INTEGER NOT NULL,
	destination_chat INTEGER NOT NULL,
	destination_platform TEXT NOT NULL DEFAULT 'telegram',
	name TEXT NOT NULL,
	status TEXT NOT NULL DEFAULT 'active',
	sender_pool INTEGER NOT NULL DEFAULT 1,
	sender_id INTEGER,
	filters_json TEXT NOT NULL DEFAULT '{}',
	stats_json TEXT NOT NULL DEFAULT '{}',
	created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
	UNIQUE(source_chat, destination_chat)
);
CREATE INDEX IF NOT EXISTS idx_pair_status ON pair(status);
CREATE INDEX IF NOT EXISTS idx_pair_source_chat ON pair(source_chat);

CREATE TABLE IF NOT EXISTS mapping (
	source_msg_id INTEGER NOT NULL,
	dest_msg_id INTEGER NOT NULL,
	pair_id INTEGER NOT NULL,
	sender_id INTEGER NOT NULL DEFAULT 0,
	source_chat INTEGER NOT NULL,
	dest_chat INTEGER NOT NULL,
	kind TEXT NOT NULL DEFAULT 'text',
	has_media INTEGER NOT NULL DEFAULT 0,
	reply_to_source_id INTEGER,
	reply_to_dest_id INTEGER,
	created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
	updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
	PRIMARY KEY (source_msg_id, pair_id)
);
CREATE INDEX IF NOT EXISTS idx_mapping_dest ON mapping(dest_msg_id, pair_id);

CREATE TABLE IF NOT EXISTS sender (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	display_handle TEXT NOT NULL,
	platform TEXT NOT NULL DEFAULT '',
	credential TEXT NOT NULL,
	enabled INTEGER NOT NULL DEFAULT 1,
	usage_count INTEGER NOT NULL DEFAULT 0,
	last_used_at DATETIME
);

CREATE TABLE IF NOT EXISTS blocked_word (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	word TEXT NOT NULL,
	pair_id INTEGER
);
CREATE UNIQUE INDEX IF NOT EXISTS idx_blocked_word_unique ON blocked_word(word, COALESCE(pair_id, -1));

CREATE TABLE IF NOT EXISTS blocked_image (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	phash INTEGER NOT NULL,
	scope TEXT NOT NULL,
	pair_id INTEGER,
	threshold INTEGER NOT NULL DEFAULT 5,
	usage_count INTEGER NOT NULL DEFAULT 0,
	note TEXT NOT NULL DEFAULT '',
	created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);
CREATE INDEX IF NOT EXISTS idx_blocked_image_scope ON blocked_image(phash, scope);
CREATE UNIQUE INDEX IF NOT EXISTS idx_blocked_image_unique ON blocked_image(phash, COALESCE(pair_id, -1));

CREATE TABLE IF NOT EXISTS subscription (
	user_id TEXT PRIMARY KEY,
	expires_at DATETIME NOT NULL,
	added_by TEXT NOT NULL DEFAULT '',
	notes TEXT NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS setting (
	key TEXT PRIMARY KEY,
	value TEXT NOT NULL
);
`

package store

const coreSchemaSQL = `
CREATE TABLE IF NOT EXISTS authors (
	id           INTEGER PRIMARY KEY AUTOINCREMENT,
	login        TEXT NOT NULL UNIQUE,
	display_name TEXT NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS items (
	id             INTEGER PRIMARY KEY AUTOINCREMENT,
	kind           TEXT NOT NULL,
	title          TEXT NOT NULL DEFAULT '',
	slug           TEXT NOT NULL,
	body           TEXT NOT NULL DEFAULT '',
	excerpt        TEXT NOT NULL DEFAULT '',
	status         TEXT NOT NULL DEFAULT 'draft',
	author_id      INTEGER NOT NULL DEFAULT 0,
	parent         INTEGER NOT NULL DEFAULT 0,
	menu_order     INTEGER NOT NULL DEFAULT 0,
	password       TEXT NOT NULL DEFAULT '',
	comment_status TEXT NOT NULL DEFAULT 'open',
	guid           TEXT NOT NULL DEFAULT '',
	date           DATETIME NOT NULL,
	date_gmt       DATETIME NOT NULL,
	created_at     DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
	UNIQUE(kind, slug)
);

CREATE INDEX IF NOT EXISTS idx_items_title ON items(title);

CREATE TABLE IF NOT EXISTS item_meta (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	item_id    INTEGER NOT NULL REFERENCES items(id) ON DELETE CASCADE,
	meta_key   TEXT NOT NULL,
	meta_value TEXT NOT NULL DEFAULT ''
);

CREATE INDEX IF NOT EXISTS idx_item_meta_key ON item_meta(item_id, meta_key);

CREATE TABLE IF NOT EXISTS terms (
	id       INTEGER PRIMARY KEY AUTOINCREMENT,
	taxonomy TEXT NOT NULL,
	name     TEXT NOT NULL,
	slug     TEXT NOT NULL,
	parent   INTEGER NOT NULL DEFAULT 0,
	count    INTEGER NOT NULL DEFAULT 0,
	UNIQUE(taxonomy, slug)
);

CREATE TABLE IF NOT EXISTS item_terms (
	item_id  INTEGER NOT NULL REFERENCES items(id) ON DELETE CASCADE,
	term_id  INTEGER NOT NULL REFERENCES terms(id) ON DELETE CASCADE,
	position INTEGER NOT NULL DEFAULT 0,
	PRIMARY KEY(item_id, term_id)
);

CREATE INDEX IF NOT EXISTS idx_item_terms_term ON item_terms(term_id);

CREATE TABLE IF NOT EXISTS term_hierarchy (
	taxonomy  TEXT NOT NULL,
	parent_id INTEGER NOT NULL,
	child_id  INTEGER NOT NULL,
	UNIQUE(taxonomy, parent_id, child_id)
);

CREATE TABLE IF NOT EXISTS media (
	id          INTEGER PRIMARY KEY AUTOINCREMENT,
	file        TEXT NOT NULL UNIQUE,
	title       TEXT NOT NULL DEFAULT '',
	slug        TEXT NOT NULL DEFAULT '',
	caption     TEXT NOT NULL DEFAULT '',
	alt         TEXT NOT NULL DEFAULT '',
	description TEXT NOT NULL DEFAULT '',
	mime_type   TEXT NOT NULL DEFAULT '',
	checksum    TEXT NOT NULL DEFAULT '',
	source_url  TEXT NOT NULL DEFAULT '',
	parent_id   INTEGER NOT NULL DEFAULT 0,
	created_at  DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_media_checksum ON media(checksum);

CREATE TABLE IF NOT EXISTS import_runs (
	id          TEXT PRIMARY KEY,
	kind        TEXT NOT NULL,
	started_at  DATETIME NOT NULL,
	finished_at DATETIME NOT NULL,
	created     INTEGER NOT NULL DEFAULT 0,
	existing    INTEGER NOT NULL DEFAULT 0,
	skipped     INTEGER NOT NULL DEFAULT 0,
	failed      INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS import_map (
	run_id      TEXT NOT NULL REFERENCES import_runs(id) ON DELETE CASCADE,
	position    INTEGER NOT NULL,
	external_id TEXT NOT NULL,
	local_id    INTEGER NOT NULL,
	PRIMARY KEY(run_id, external_id)
);

CREATE INDEX IF NOT EXISTS idx_import_map_external ON import_map(external_id);
`

const redirectSchemaSQL = `
CREATE TABLE IF NOT EXISTS redirect_groups (
	id   INTEGER PRIMARY KEY AUTOINCREMENT,
	name TEXT NOT NULL UNIQUE
);

CREATE TABLE IF NOT EXISTS redirect_rules (
	id       INTEGER PRIMARY KEY AUTOINCREMENT,
	group_id INTEGER NOT NULL REFERENCES redirect_groups(id) ON DELETE CASCADE,
	source   TEXT NOT NULL,
	target   TEXT NOT NULL,
	code     INTEGER NOT NULL DEFAULT 301,
	UNIQUE(group_id, source)
);

CREATE INDEX IF NOT EXISTS idx_redirect_rules_source ON redirect_rules(source);
`

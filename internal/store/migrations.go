package store

// migration represents a single schema migration.
type migration struct {
	Version int
	Name    string
	SQL     string
}

// migrations is the ordered list of all schema migrations.
var migrations = []migration{
	{
		Version: 1,
		Name:    "create conversations and messages",
		SQL: `
			CREATE TABLE conversations (
				id          TEXT PRIMARY KEY,
				user_id     TEXT NOT NULL DEFAULT '',
				created_at  TEXT NOT NULL,
				updated_at  TEXT NOT NULL
			);

			CREATE INDEX idx_conversations_user ON conversations (user_id);

			CREATE TABLE messages (
				seq             INTEGER PRIMARY KEY AUTOINCREMENT,
				id              TEXT NOT NULL UNIQUE,
				conversation_id TEXT NOT NULL REFERENCES conversations(id) ON DELETE CASCADE,
				role            TEXT NOT NULL,
				agent           TEXT NOT NULL DEFAULT '',
				user_id         TEXT NOT NULL DEFAULT '',
				content         TEXT NOT NULL,
				attachment      TEXT,
				payload         TEXT,
				truncated       INTEGER NOT NULL DEFAULT 0,
				timestamp       TEXT NOT NULL
			);

			CREATE INDEX idx_messages_conversation ON messages (conversation_id, seq);
		`,
	},
	{
		Version: 2,
		Name:    "create attachments",
		SQL: `
			CREATE TABLE attachments (
				seq             INTEGER PRIMARY KEY AUTOINCREMENT,
				conversation_id TEXT NOT NULL,
				file_id         TEXT NOT NULL DEFAULT '',
				file_url        TEXT NOT NULL DEFAULT '',
				mime_type       TEXT NOT NULL DEFAULT '',
				filename        TEXT NOT NULL DEFAULT '',
				extracted       TEXT,
				uploaded_at     TEXT NOT NULL
			);

			CREATE INDEX idx_attachments_conversation ON attachments (conversation_id, seq);
		`,
	},
	{
		Version: 3,
		Name:    "create knowledge chunks with FTS5",
		SQL: `
			CREATE TABLE knowledge_chunks (
				id          TEXT PRIMARY KEY,
				title       TEXT NOT NULL DEFAULT '',
				content     TEXT NOT NULL,
				url         TEXT NOT NULL DEFAULT '',
				category    TEXT NOT NULL DEFAULT 'general',
				created_at  TEXT NOT NULL DEFAULT (datetime('now')),
				updated_at  TEXT NOT NULL DEFAULT (datetime('now'))
			);

			CREATE INDEX idx_knowledge_category ON knowledge_chunks (category);

			CREATE VIRTUAL TABLE knowledge_fts USING fts5(
				title,
				content,
				content='knowledge_chunks',
				content_rowid='rowid'
			);

			CREATE TRIGGER knowledge_ai AFTER INSERT ON knowledge_chunks BEGIN
				INSERT INTO knowledge_fts(rowid, title, content)
				VALUES (new.rowid, new.title, new.content);
			END;

			CREATE TRIGGER knowledge_ad AFTER DELETE ON knowledge_chunks BEGIN
				INSERT INTO knowledge_fts(knowledge_fts, rowid, title, content)
				VALUES ('delete', old.rowid, old.title, old.content);
			END;

			CREATE TRIGGER knowledge_au AFTER UPDATE ON knowledge_chunks BEGIN
				INSERT INTO knowledge_fts(knowledge_fts, rowid, title, content)
				VALUES ('delete', old.rowid, old.title, old.content);
				INSERT INTO knowledge_fts(rowid, title, content)
				VALUES (new.rowid, new.title, new.content);
			END;
		`,
	},
	{
		Version: 4,
		Name:    "track consumed attachments",
		SQL: `
			ALTER TABLE attachments ADD COLUMN consumed_at TEXT;
		`,
	},
}

package store

// migration holds a single schema migration with its target version and SQL.
type migration struct {
	version int
	sql     string
}

// migrations is the ordered list of schema migrations.
// Each migration's version must be sequential starting from 1.
var migrations = []migration{
	{
		version: 1,
		sql: `
CREATE TABLE IF NOT EXISTS schema_version (
	version INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS emails (
	id             TEXT NOT NULL,
	user_id        TEXT NOT NULL,
	thread_id      TEXT NOT NULL,
	mailbox_ids    TEXT NOT NULL DEFAULT '{}',
	keywords       TEXT NOT NULL DEFAULT '{}',
	size           INTEGER NOT NULL DEFAULT 0,
	received_at    DATETIME NOT NULL,
	sent_at        DATETIME,
	from_list      TEXT NOT NULL DEFAULT '[]',
	to_list        TEXT NOT NULL DEFAULT '[]',
	cc_list        TEXT NOT NULL DEFAULT '[]',
	from_text      TEXT NOT NULL DEFAULT '',
	subject        TEXT NOT NULL DEFAULT '',
	preview        TEXT NOT NULL DEFAULT '',
	has_attachment INTEGER NOT NULL DEFAULT 0,
	attachments    TEXT NOT NULL DEFAULT '[]',
	synced_at      DATETIME NOT NULL,
	PRIMARY KEY (user_id, id)
);

CREATE TABLE IF NOT EXISTS email_mailboxes (
	user_id     TEXT NOT NULL,
	mailbox_id  TEXT NOT NULL,
	email_id    TEXT NOT NULL,
	received_at DATETIME NOT NULL,
	PRIMARY KEY (user_id, mailbox_id, email_id)
);

CREATE TABLE IF NOT EXISTS mailboxes (
	id            TEXT NOT NULL,
	user_id       TEXT NOT NULL,
	name          TEXT NOT NULL,
	parent_id     TEXT NOT NULL DEFAULT '',
	role          TEXT NOT NULL DEFAULT '',
	sort_order    INTEGER NOT NULL DEFAULT 0,
	total_emails  INTEGER NOT NULL DEFAULT 0,
	unread_emails INTEGER NOT NULL DEFAULT 0,
	synced_at     DATETIME NOT NULL,
	PRIMARY KEY (user_id, id)
);

CREATE TABLE IF NOT EXISTS threads (
	id        TEXT NOT NULL,
	user_id   TEXT NOT NULL,
	email_ids TEXT NOT NULL DEFAULT '[]',
	synced_at DATETIME NOT NULL,
	PRIMARY KEY (user_id, id)
);

CREATE TABLE IF NOT EXISTS sync_state (
	user_id      TEXT NOT NULL,
	account_id   TEXT NOT NULL,
	mailbox_id   TEXT NOT NULL DEFAULT '',
	state        TEXT NOT NULL DEFAULT '',
	position     INTEGER NOT NULL DEFAULT 0,
	last_sync_at DATETIME NOT NULL,
	PRIMARY KEY (user_id, account_id, mailbox_id)
);

CREATE TABLE IF NOT EXISTS sessions (
	user_id       TEXT PRIMARY KEY,
	username      TEXT NOT NULL DEFAULT '',
	host          TEXT NOT NULL DEFAULT '',
	capabilities  TEXT NOT NULL DEFAULT '',
	last_activity DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS blobs (
	blob_id   TEXT NOT NULL,
	user_id   TEXT NOT NULL,
	type      TEXT NOT NULL DEFAULT '',
	name      TEXT NOT NULL DEFAULT '',
	size      INTEGER NOT NULL DEFAULT 0,
	data      BLOB NOT NULL,
	synced_at DATETIME NOT NULL,
	PRIMARY KEY (user_id, blob_id)
);

CREATE INDEX IF NOT EXISTS idx_email_mailboxes_listing
	ON email_mailboxes(user_id, mailbox_id, received_at);
CREATE INDEX IF NOT EXISTS idx_emails_user_received ON emails(user_id, received_at);
CREATE INDEX IF NOT EXISTS idx_emails_user_thread ON emails(user_id, thread_id);
CREATE INDEX IF NOT EXISTS idx_sessions_last_activity ON sessions(last_activity);

INSERT INTO schema_version (version) VALUES (1);
`,
	},
	{
		version: 2,
		sql: `
CREATE INDEX IF NOT EXISTS idx_email_mailboxes_email
	ON email_mailboxes(user_id, email_id);

INSERT INTO schema_version (version) VALUES (2);
`,
	},
}

package store

// Timestamps are stored as fixed-width UTC text (see timeFormat) so that
// range filters and ORDER BY compare correctly in both dialects.

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS deployment_state (
    deployment_id TEXT PRIMARY KEY,
    name TEXT NOT NULL,
    status TEXT NOT NULL,
    replicas INTEGER NOT NULL,
    metrics TEXT,
    last_checked TEXT NOT NULL,
    updated_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS action_ledger (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    timestamp TEXT NOT NULL,
    action_type TEXT NOT NULL,
    deployment_id TEXT,
    details TEXT,
    status TEXT NOT NULL,
    error TEXT
);

CREATE TABLE IF NOT EXISTS cooldowns (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    action_type TEXT NOT NULL,
    deployment_id TEXT,
    expires_at TEXT NOT NULL,
    created_at TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_action_ledger_timestamp ON action_ledger(timestamp DESC);
CREATE INDEX IF NOT EXISTS idx_action_ledger_type ON action_ledger(action_type, timestamp);
CREATE INDEX IF NOT EXISTS idx_cooldowns_expires ON cooldowns(expires_at);
CREATE INDEX IF NOT EXISTS idx_cooldowns_action ON cooldowns(action_type, deployment_id);
`

const postgresSchema = `
CREATE TABLE IF NOT EXISTS deployment_state (
    deployment_id TEXT PRIMARY KEY,
    name TEXT NOT NULL,
    status TEXT NOT NULL,
    replicas INTEGER NOT NULL,
    metrics TEXT,
    last_checked TEXT NOT NULL,
    updated_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS action_ledger (
    id BIGSERIAL PRIMARY KEY,
    timestamp TEXT NOT NULL,
    action_type TEXT NOT NULL,
    deployment_id TEXT,
    details TEXT,
    status TEXT NOT NULL,
    error TEXT
);

CREATE TABLE IF NOT EXISTS cooldowns (
    id BIGSERIAL PRIMARY KEY,
    action_type TEXT NOT NULL,
    deployment_id TEXT,
    expires_at TEXT NOT NULL,
    created_at TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_action_ledger_timestamp ON action_ledger(timestamp DESC);
CREATE INDEX IF NOT EXISTS idx_action_ledger_type ON action_ledger(action_type, timestamp);
CREATE INDEX IF NOT EXISTS idx_cooldowns_expires ON cooldowns(expires_at);
CREATE INDEX IF NOT EXISTS idx_cooldowns_action ON cooldowns(action_type, deployment_id);
`

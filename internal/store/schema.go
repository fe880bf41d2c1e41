package store

// schemaVersionV1 is the initial ledger schema.
const schemaVersionV1 = 1

// currentSchemaVersion is the target schema version for this build.
const currentSchemaVersion = schemaVersionV1

// schemaV1 is the ledger DDL (fresh install). Amounts are base-10 TEXT so
// values beyond 64 bits survive round trips.
var schemaV1 = `
CREATE TABLE IF NOT EXISTS schema_version (version INTEGER NOT NULL);

CREATE TABLE IF NOT EXISTS positions (
	cid                  TEXT PRIMARY KEY,
	publisher            TEXT NOT NULL,
	insurance_pool       TEXT NOT NULL,
	reward_pool          TEXT NOT NULL,
	consecutive_breaches INTEGER NOT NULL DEFAULT 0,
	last_breach_at       TEXT,
	funded_at            TEXT,
	version              INTEGER NOT NULL DEFAULT 1
);

CREATE TABLE IF NOT EXISTS accrued_rewards (
	account TEXT PRIMARY KEY,
	amount  TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS balances (
	account TEXT PRIMARY KEY,
	amount  TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS events (
	seq        INTEGER PRIMARY KEY AUTOINCREMENT,
	kind       TEXT NOT NULL,
	cid        TEXT,
	account    TEXT,
	payload    BLOB NOT NULL,
	created_at TEXT
);

CREATE INDEX IF NOT EXISTS idx_events_cid ON events(cid);
`

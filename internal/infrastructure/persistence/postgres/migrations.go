// Package postgres implements the indexer-backed ledger.
package postgres

// ══════════════════════════════════════════════════════════════════════════════
// MIGRATION 001: INDEXER MIRROR TABLES
// ══════════════════════════════════════════════════════════════════════════════

const migration001Up = `
-- Migration: indexer mirror tables
-- Version: 001
-- The indexer writes these; this service only reads them.

CREATE TABLE IF NOT EXISTS licenses (
    principal VARCHAR(128) NOT NULL,
    course_id VARCHAR(128) NOT NULL,
    token_id VARCHAR(128),
    active BOOLEAN NOT NULL DEFAULT TRUE,
    valid_until TIMESTAMP WITH TIME ZONE NOT NULL,
    issued_at TIMESTAMP WITH TIME ZONE NOT NULL,
    mint_tx_hash VARCHAR(80),
    indexed_slot BIGINT NOT NULL DEFAULT 0,
    updated_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),

    PRIMARY KEY (principal, course_id)
);

CREATE INDEX IF NOT EXISTS idx_licenses_course ON licenses(course_id);
CREATE INDEX IF NOT EXISTS idx_licenses_valid_until ON licenses(valid_until);

CREATE TABLE IF NOT EXISTS unit_completions (
    principal VARCHAR(128) NOT NULL,
    course_id VARCHAR(128) NOT NULL,
    unit_index INTEGER NOT NULL,
    tx_hash VARCHAR(80),
    confirmed_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),

    PRIMARY KEY (principal, course_id, unit_index),
    CONSTRAINT valid_unit_index CHECK (unit_index >= 0)
);

CREATE INDEX IF NOT EXISTS idx_completions_pair ON unit_completions(principal, course_id);
`

const migration001Down = `
DROP TABLE IF EXISTS unit_completions;
DROP TABLE IF EXISTS licenses;
`

// ══════════════════════════════════════════════════════════════════════════════
// MIGRATION 002: COURSE CATALOG
// ══════════════════════════════════════════════════════════════════════════════

const migration002Up = `
-- Migration: published course catalog
-- Version: 002

CREATE TABLE IF NOT EXISTS courses (
    id VARCHAR(128) PRIMARY KEY,
    title VARCHAR(256) NOT NULL,
    total_units INTEGER NOT NULL DEFAULT 0,
    published_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS course_units (
    course_id VARCHAR(128) NOT NULL REFERENCES courses(id) ON DELETE CASCADE,
    unit_index INTEGER NOT NULL,
    title VARCHAR(256) NOT NULL,
    content_id VARCHAR(512) NOT NULL,
    kind VARCHAR(20) NOT NULL,
    duration_seconds INTEGER NOT NULL DEFAULT 0,

    PRIMARY KEY (course_id, unit_index),
    CONSTRAINT valid_kind CHECK (kind IN ('video', 'audio', 'document')),
    CONSTRAINT valid_index CHECK (unit_index >= 0)
);
`

const migration002Down = `
DROP TABLE IF EXISTS course_units;
DROP TABLE IF EXISTS courses;
`

// ══════════════════════════════════════════════════════════════════════════════
// MIGRATION 003: COMPLETION OUTBOX
// ══════════════════════════════════════════════════════════════════════════════

const migration003Up = `
-- Migration: completion outbox
-- Version: 003
-- Completion writes land here in the same transaction as the local mirror
-- update. A relayer drains pending rows onto the chain and marks them.

CREATE TABLE IF NOT EXISTS completion_outbox (
    id UUID PRIMARY KEY,
    principal VARCHAR(128) NOT NULL,
    course_id VARCHAR(128) NOT NULL,
    unit_index INTEGER NOT NULL,
    idempotency_key VARCHAR(64) NOT NULL UNIQUE,
    status VARCHAR(20) NOT NULL DEFAULT 'pending',
    surrogate_tx_hash VARCHAR(80) NOT NULL,
    chain_tx_hash VARCHAR(80),
    created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
    relayed_at TIMESTAMP WITH TIME ZONE,

    CONSTRAINT valid_status CHECK (status IN ('pending', 'relayed', 'failed'))
);

CREATE INDEX IF NOT EXISTS idx_outbox_pending ON completion_outbox(created_at) WHERE status = 'pending';
`

const migration003Down = `
DROP TABLE IF EXISTS completion_outbox;
`

// GetMigrations returns all embedded migrations.
func GetMigrations() []Migration {
	return []Migration{
		{Version: 1, Name: "indexer_mirror_tables", UpSQL: migration001Up, DownSQL: migration001Down},
		{Version: 2, Name: "course_catalog", UpSQL: migration002Up, DownSQL: migration002Down},
		{Version: 3, Name: "completion_outbox", UpSQL: migration003Up, DownSQL: migration003Down},
	}
}

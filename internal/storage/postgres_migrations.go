package storage

import (
	"context"
	"database/sql"
	"fmt"
)

// MigratePostgres applies schema migrations to the PostgreSQL database.
// Uses IF NOT EXISTS clauses to make migrations idempotent.
//
// Tables created:
// - users: accounts registered through the mock API
// - seen_nonces: nonces accepted by signed endpoints, kept until expiry
func MigratePostgres(ctx context.Context, db *sql.DB) error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS users (
            id TEXT PRIMARY KEY,             -- Generated user identifier
            username TEXT NOT NULL UNIQUE,   -- Login name
            password_hash TEXT NOT NULL,     -- Salted SHA-256 hex digest
            email TEXT NOT NULL DEFAULT '',  -- Optional contact address
            created_at TIMESTAMPTZ NOT NULL  -- Registration time
        )`,
		`CREATE TABLE IF NOT EXISTS seen_nonces (
            value TEXT PRIMARY KEY,          -- Nonce as sent by the client
            expires_at TIMESTAMPTZ NOT NULL  -- End of the replay window for this nonce
        )`,
		// Index on expiration time for efficient cleanup of expired nonces
		`CREATE INDEX IF NOT EXISTS idx_seen_nonces_expires_at ON seen_nonces (expires_at)`,
	}

	// Apply each migration in sequence
	for i, migration := range migrations {
		if _, err := db.ExecContext(ctx, migration); err != nil {
			return fmt.Errorf("migration %d failed: %w", i, err)
		}
	}
	return nil
}

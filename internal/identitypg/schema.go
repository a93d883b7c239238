package identitypg

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"
)

// EnsureSchema creates tables if they do not exist.
func EnsureSchema(ctx context.Context, pool *pgxpool.Pool) error {
	_, err := pool.Exec(ctx, `
CREATE TABLE IF NOT EXISTS identities (
    identity_id TEXT PRIMARY KEY,
    email TEXT NOT NULL UNIQUE,
    display_name TEXT NOT NULL DEFAULT '',
    password_hash TEXT NOT NULL DEFAULT '',
    google_sub TEXT NOT NULL DEFAULT '',
    claims JSONB NOT NULL DEFAULT '{}'::jsonb,
    created_at_unix BIGINT NOT NULL
);
CREATE UNIQUE INDEX IF NOT EXISTS idx_identities_google_sub
    ON identities (google_sub) WHERE google_sub <> '';
CREATE INDEX IF NOT EXISTS idx_identities_email ON identities (email);
`)
	return err
}

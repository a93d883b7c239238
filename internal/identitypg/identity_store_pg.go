package identitypg

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrIdentityRowNotFound indicates no identity row matched the identifier.
var ErrIdentityRowNotFound = errors.New("identity_store.not_found")

// IdentityRecord is one row of the identities table.
type IdentityRecord struct {
	IdentityID   string
	Email        string
	DisplayName  string
	PasswordHash string
	GoogleSub    string
	Claims       map[string]any
}

// PostgresIdentityStore persists identities and their custom-claims maps in
// PostgreSQL. It backs Provider deployments that outlive a single process.
type PostgresIdentityStore struct {
	pool *pgxpool.Pool
}

// NewPostgresIdentityStore constructs a Postgres store.
func NewPostgresIdentityStore(pool *pgxpool.Pool) *PostgresIdentityStore {
	return &PostgresIdentityStore{pool: pool}
}

// Insert creates a new identity row.
func (store *PostgresIdentityStore) Insert(ctx context.Context, record IdentityRecord) error {
	claimsJSON, encodeErr := json.Marshal(record.Claims)
	if encodeErr != nil {
		return fmt.Errorf("identity_store.insert.encode: %w", encodeErr)
	}
	_, execErr := store.pool.Exec(ctx, `
INSERT INTO identities (identity_id, email, display_name, password_hash, google_sub, claims, created_at_unix)
VALUES ($1, $2, $3, $4, $5, $6, $7)
`, record.IdentityID, record.Email, record.DisplayName, record.PasswordHash, record.GoogleSub, claimsJSON, time.Now().UTC().Unix())
	return execErr
}

// GetByID loads an identity row by its identifier.
func (store *PostgresIdentityStore) GetByID(ctx context.Context, identityID string) (IdentityRecord, error) {
	return store.scanOne(store.pool.QueryRow(ctx, `
SELECT identity_id, email, display_name, password_hash, google_sub, claims
FROM identities
WHERE identity_id = $1
`, identityID))
}

// GetByEmail loads an identity row by normalized email.
func (store *PostgresIdentityStore) GetByEmail(ctx context.Context, email string) (IdentityRecord, error) {
	return store.scanOne(store.pool.QueryRow(ctx, `
SELECT identity_id, email, display_name, password_hash, google_sub, claims
FROM identities
WHERE email = $1
`, email))
}

// GetByGoogleSub loads an identity row by Google subject.
func (store *PostgresIdentityStore) GetByGoogleSub(ctx context.Context, googleSub string) (IdentityRecord, error) {
	return store.scanOne(store.pool.QueryRow(ctx, `
SELECT identity_id, email, display_name, password_hash, google_sub, claims
FROM identities
WHERE google_sub = $1
`, googleSub))
}

// UpdateClaims applies mutate to the identity's claims map inside a
// transaction holding a row lock, so concurrent mutations against the same
// identity serialize and no interleaved partial write is observable.
func (store *PostgresIdentityStore) UpdateClaims(ctx context.Context, identityID string, mutate func(map[string]any) map[string]any) (map[string]any, error) {
	transaction, beginErr := store.pool.Begin(ctx)
	if beginErr != nil {
		return nil, fmt.Errorf("identity_store.update_claims.begin: %w", beginErr)
	}
	defer func() { _ = transaction.Rollback(ctx) }()

	var claimsJSON []byte
	row := transaction.QueryRow(ctx, `
SELECT claims
FROM identities
WHERE identity_id = $1
FOR UPDATE
`, identityID)
	if scanErr := row.Scan(&claimsJSON); scanErr != nil {
		if errors.Is(scanErr, pgx.ErrNoRows) {
			return nil, ErrIdentityRowNotFound
		}
		return nil, fmt.Errorf("identity_store.update_claims.read: %w", scanErr)
	}

	currentClaims := make(map[string]any)
	if len(claimsJSON) > 0 {
		if decodeErr := json.Unmarshal(claimsJSON, &currentClaims); decodeErr != nil {
			return nil, fmt.Errorf("identity_store.update_claims.decode: %w", decodeErr)
		}
	}

	updatedClaims := mutate(currentClaims)
	if updatedClaims == nil {
		updatedClaims = make(map[string]any)
	}
	updatedJSON, encodeErr := json.Marshal(updatedClaims)
	if encodeErr != nil {
		return nil, fmt.Errorf("identity_store.update_claims.encode: %w", encodeErr)
	}

	if _, execErr := transaction.Exec(ctx, `
UPDATE identities
SET claims = $1
WHERE identity_id = $2
`, updatedJSON, identityID); execErr != nil {
		return nil, fmt.Errorf("identity_store.update_claims.write: %w", execErr)
	}
	if commitErr := transaction.Commit(ctx); commitErr != nil {
		return nil, fmt.Errorf("identity_store.update_claims.commit: %w", commitErr)
	}
	return updatedClaims, nil
}

func (store *PostgresIdentityStore) scanOne(row pgx.Row) (IdentityRecord, error) {
	var record IdentityRecord
	var claimsJSON []byte
	if scanErr := row.Scan(&record.IdentityID, &record.Email, &record.DisplayName, &record.PasswordHash, &record.GoogleSub, &claimsJSON); scanErr != nil {
		if errors.Is(scanErr, pgx.ErrNoRows) {
			return IdentityRecord{}, ErrIdentityRowNotFound
		}
		return IdentityRecord{}, scanErr
	}
	record.Claims = make(map[string]any)
	if len(claimsJSON) > 0 {
		if decodeErr := json.Unmarshal(claimsJSON, &record.Claims); decodeErr != nil {
			return IdentityRecord{}, fmt.Errorf("identity_store.scan.decode: %w", decodeErr)
		}
	}
	return record, nil
}

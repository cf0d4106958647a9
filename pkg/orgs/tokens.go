package orgs

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/taskhive/taskhive/pkg/auth"
)

// GetTokenByHash retrieves an API token row by its SHA-256 hash. Satisfies
// auth.TokenStore. Revocation and expiry are checked by the verifier, not
// here, so revoked rows still load.
func (s *PostgresService) GetTokenByHash(ctx context.Context, hash string) (*auth.APIToken, error) {
	query := `
		SELECT id, user_id, organization_id, token_hash, token_prefix, name,
		       expires_at, last_used_at, created_at, revoked_at
		FROM api_tokens
		WHERE token_hash = $1
	`
	token := &auth.APIToken{}
	err := s.db.QueryRowContext(ctx, query, hash).Scan(
		&token.ID, &token.UserID, &token.OrganizationID, &token.TokenHash,
		&token.TokenPrefix, &token.Name, &token.ExpiresAt, &token.LastUsedAt,
		&token.CreatedAt, &token.RevokedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("api token: %w", auth.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get api token: %w", err)
	}

	return token, nil
}

// TouchToken records that a token was just used. Satisfies auth.TokenStore.
// A vanished row is not an error; the verifier already accepted the token.
func (s *PostgresService) TouchToken(ctx context.Context, id int64) error {
	query := `UPDATE api_tokens SET last_used_at = NOW() WHERE id = $1`
	if _, err := s.db.ExecContext(ctx, query, id); err != nil {
		return fmt.Errorf("failed to touch api token: %w", err)
	}
	return nil
}

// CreateAPIToken persists a new token row. The caller generates the token
// with auth.TokenGenerator and keeps the plaintext; only the hash lands here.
func (s *PostgresService) CreateAPIToken(ctx context.Context, token *auth.APIToken) error {
	query := `
		INSERT INTO api_tokens (user_id, organization_id, token_hash, token_prefix, name, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id, created_at
	`
	err := s.db.QueryRowContext(ctx, query, token.UserID, token.OrganizationID,
		token.TokenHash, token.TokenPrefix, token.Name, token.ExpiresAt).
		Scan(&token.ID, &token.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to create api token: %w", err)
	}

	return nil
}

// ListAPITokens lists a user's tokens that have not been revoked
func (s *PostgresService) ListAPITokens(ctx context.Context, userID int64) ([]*auth.APIToken, error) {
	query := `
		SELECT id, user_id, organization_id, token_hash, token_prefix, name,
		       expires_at, last_used_at, created_at, revoked_at
		FROM api_tokens
		WHERE user_id = $1 AND revoked_at IS NULL
		ORDER BY created_at DESC
	`
	rows, err := s.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list api tokens: %w", err)
	}
	defer rows.Close()

	var tokens []*auth.APIToken
	for rows.Next() {
		token := &auth.APIToken{}
		if err := rows.Scan(
			&token.ID, &token.UserID, &token.OrganizationID, &token.TokenHash,
			&token.TokenPrefix, &token.Name, &token.ExpiresAt, &token.LastUsedAt,
			&token.CreatedAt, &token.RevokedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan api token: %w", err)
		}
		tokens = append(tokens, token)
	}

	return tokens, rows.Err()
}

// RevokeAPIToken marks a token revoked. Scoped to the owning user so one
// account cannot revoke another's tokens.
func (s *PostgresService) RevokeAPIToken(ctx context.Context, id, userID int64) error {
	query := `UPDATE api_tokens SET revoked_at = NOW() WHERE id = $1 AND user_id = $2 AND revoked_at IS NULL`
	result, err := s.db.ExecContext(ctx, query, id, userID)
	if err != nil {
		return fmt.Errorf("failed to revoke api token: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("api token: %w", auth.ErrNotFound)
	}

	return nil
}

// PurgeExpiredTokens deletes token rows that expired or were revoked more
// than the retention period ago. Run by the janitor.
func (s *PostgresService) PurgeExpiredTokens(ctx context.Context, retention time.Duration) (int64, error) {
	cutoff := time.Now().Add(-retention)
	query := `
		DELETE FROM api_tokens
		WHERE (expires_at IS NOT NULL AND expires_at < $1)
		   OR (revoked_at IS NOT NULL AND revoked_at < $1)
	`
	result, err := s.db.ExecContext(ctx, query, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to purge api tokens: %w", err)
	}
	return result.RowsAffected()
}

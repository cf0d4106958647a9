package auth

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/taskhive/taskhive/pkg/async"
)

const (
	// TokenPrefix identifies TaskHive API tokens
	TokenPrefix = "taskhive_"
	// TokenLength is the total length of random bytes (32 bytes = 256 bits)
	TokenLength = 32
)

// TokenGenerator generates and validates API tokens
type TokenGenerator struct{}

// NewTokenGenerator creates a new token generator
func NewTokenGenerator() *TokenGenerator {
	return &TokenGenerator{}
}

// GenerateToken creates a new API token
// Format: taskhive_<base64url(32 random bytes)>
func (tg *TokenGenerator) GenerateToken() (token string, tokenHash string, tokenPrefix string, err error) {
	randomBytes := make([]byte, TokenLength)
	if _, err := rand.Read(randomBytes); err != nil {
		return "", "", "", fmt.Errorf("failed to generate random bytes: %w", err)
	}

	encodedToken := base64.RawURLEncoding.EncodeToString(randomBytes)
	fullToken := TokenPrefix + encodedToken

	// Only the SHA-256 hash is ever stored
	hash := sha256.Sum256([]byte(fullToken))
	hashStr := hex.EncodeToString(hash[:])

	// First 8 chars after the prefix identify the token in listings
	prefix := TokenPrefix
	if len(encodedToken) >= 8 {
		prefix = TokenPrefix + encodedToken[:8]
	}

	return fullToken, hashStr, prefix, nil
}

// HashToken computes the SHA-256 hash of a token for lookup
func (tg *TokenGenerator) HashToken(token string) string {
	hash := sha256.Sum256([]byte(token))
	return hex.EncodeToString(hash[:])
}

// ValidateTokenFormat checks if a token has the correct format
func (tg *TokenGenerator) ValidateTokenFormat(token string) error {
	if !strings.HasPrefix(token, TokenPrefix) {
		return fmt.Errorf("token must start with %q", TokenPrefix)
	}

	encodedPart := strings.TrimPrefix(token, TokenPrefix)
	if len(encodedPart) == 0 {
		return fmt.Errorf("token is too short")
	}

	if _, err := base64.RawURLEncoding.DecodeString(encodedPart); err != nil {
		return fmt.Errorf("invalid token encoding: %w", err)
	}

	return nil
}

// ExtractPrefix extracts the display prefix from a token
func (tg *TokenGenerator) ExtractPrefix(token string) string {
	if !strings.HasPrefix(token, TokenPrefix) {
		return ""
	}

	encodedPart := strings.TrimPrefix(token, TokenPrefix)
	if len(encodedPart) >= 8 {
		return TokenPrefix + encodedPart[:8]
	}

	return token
}

// IsAPIToken reports whether a presented credential looks like an opaque
// API token rather than a JWT.
func IsAPIToken(token string) bool {
	return strings.HasPrefix(token, TokenPrefix)
}

// APITokenVerifier validates opaque API tokens against their stored hashes.
type APITokenVerifier struct {
	generator *TokenGenerator
	store     TokenStore
	now       func() time.Time
}

// NewAPITokenVerifier creates a verifier backed by the given token store.
func NewAPITokenVerifier(store TokenStore) *APITokenVerifier {
	return &APITokenVerifier{
		generator: NewTokenGenerator(),
		store:     store,
		now:       time.Now,
	}
}

// Verify looks up the presented token by hash and checks revocation and
// expiry. The last-used timestamp is updated off the request path.
func (v *APITokenVerifier) Verify(ctx context.Context, token string) (*TokenClaims, error) {
	if err := v.generator.ValidateTokenFormat(token); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	hash := v.generator.HashToken(token)
	stored, err := v.store.GetTokenByHash(ctx, hash)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, fmt.Errorf("%w: unknown token", ErrInvalidToken)
		}
		return nil, fmt.Errorf("%w: failed to look up token: %v", ErrStoreUnavailable, err)
	}

	if stored.RevokedAt != nil {
		return nil, fmt.Errorf("%w: token revoked", ErrInvalidToken)
	}
	if stored.ExpiresAt != nil && v.now().After(*stored.ExpiresAt) {
		return nil, fmt.Errorf("%w: token expired", ErrInvalidToken)
	}

	// Best-effort; a missed touch only skews the last-used display.
	tokenID := stored.ID
	async.SafeGoDetached(ctx, 5*time.Second, "token touch", func(ctx context.Context) error {
		return v.store.TouchToken(ctx, tokenID)
	})

	return &TokenClaims{
		UserID:         stored.UserID,
		OrganizationID: stored.OrganizationID,
		Verifier:       "api_token",
	}, nil
}

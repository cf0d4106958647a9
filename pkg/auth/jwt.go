package auth

import (
	"context"
	"fmt"
	"strconv"

	"github.com/golang-jwt/jwt/v5"
)

// sessionClaims are the registered claims plus the organization binding
// that first-party session tokens carry. The subject is the user ID.
type sessionClaims struct {
	OrganizationID *int64 `json:"org_id,omitempty"`
	Email          string `json:"email,omitempty"`
	jwt.RegisteredClaims
}

// JWTVerifier validates first-party HS256 session tokens.
type JWTVerifier struct {
	secret []byte
	issuer string
}

// NewJWTVerifier creates a verifier for tokens signed with the given secret.
func NewJWTVerifier(secret, issuer string) *JWTVerifier {
	return &JWTVerifier{
		secret: []byte(secret),
		issuer: issuer,
	}
}

// Verify parses and validates a session token. Expiry is required; tokens
// without an exp claim are rejected outright.
func (v *JWTVerifier) Verify(ctx context.Context, token string) (*TokenClaims, error) {
	parsed, err := jwt.ParseWithClaims(token, &sessionClaims{}, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return v.secret, nil
	}, jwt.WithIssuer(v.issuer), jwt.WithExpirationRequired())
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	claims, ok := parsed.Claims.(*sessionClaims)
	if !ok || !parsed.Valid {
		return nil, fmt.Errorf("%w: unexpected claims type", ErrInvalidToken)
	}

	userID, err := strconv.ParseInt(claims.Subject, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("%w: subject %q is not a user ID", ErrInvalidToken, claims.Subject)
	}

	return &TokenClaims{
		UserID:         userID,
		Email:          claims.Email,
		OrganizationID: claims.OrganizationID,
		Verifier:       "jwt",
	}, nil
}

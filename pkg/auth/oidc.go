package auth

import (
	"context"
	"errors"
	"fmt"

	"github.com/coreos/go-oidc/v3/oidc"
)

// OIDCVerifier validates federated ID tokens against the provider's
// published signing keys, then maps the subject to a local account by
// verified email. Login and token issuance live with the identity
// provider; this side only checks what callers present.
//
// OIDC tokens never carry an organization binding. Callers holding one get
// an identity without org scope and cannot reach org-scoped routes until
// they exchange it for a bound session.
type OIDCVerifier struct {
	verifier *oidc.IDTokenVerifier
	users    UserStore
}

// NewOIDCVerifier discovers the provider's configuration from the issuer
// URL. Discovery requires network access, so construction can fail.
func NewOIDCVerifier(ctx context.Context, issuer, audience string, users UserStore) (*OIDCVerifier, error) {
	provider, err := oidc.NewProvider(ctx, issuer)
	if err != nil {
		return nil, fmt.Errorf("failed to discover OIDC provider: %w", err)
	}

	return &OIDCVerifier{
		verifier: provider.Verifier(&oidc.Config{ClientID: audience}),
		users:    users,
	}, nil
}

// newOIDCVerifierForTest builds a verifier around an existing IDTokenVerifier.
func newOIDCVerifierForTest(verifier *oidc.IDTokenVerifier, users UserStore) *OIDCVerifier {
	return &OIDCVerifier{verifier: verifier, users: users}
}

// Verify validates the ID token signature, issuer, audience, and expiry,
// then resolves the local account by email.
func (v *OIDCVerifier) Verify(ctx context.Context, rawToken string) (*TokenClaims, error) {
	idToken, err := v.verifier.Verify(ctx, rawToken)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	var claims struct {
		Email         string `json:"email"`
		EmailVerified bool   `json:"email_verified"`
	}
	if err := idToken.Claims(&claims); err != nil {
		return nil, fmt.Errorf("%w: failed to parse claims: %v", ErrInvalidToken, err)
	}
	if claims.Email == "" {
		return nil, fmt.Errorf("%w: missing email claim", ErrInvalidToken)
	}
	if !claims.EmailVerified {
		return nil, fmt.Errorf("%w: email not verified by provider", ErrInvalidToken)
	}

	user, err := v.users.GetUserByEmail(ctx, claims.Email)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, fmt.Errorf("%w: no account for subject", ErrUserNotFound)
		}
		return nil, fmt.Errorf("%w: failed to look up account: %v", ErrStoreUnavailable, err)
	}

	return &TokenClaims{
		UserID:   user.ID,
		Email:    user.Email,
		Verifier: "oidc",
	}, nil
}

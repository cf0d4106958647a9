package auth

import "errors"

var (
	// ErrInvalidToken covers every way a presented credential can fail
	// verification: missing, malformed, expired, bad signature, revoked.
	// The specific cause is logged server-side, never returned to callers.
	ErrInvalidToken = errors.New("invalid token")

	// ErrUserNotFound means the token verified but the account behind it
	// no longer exists or has been disabled.
	ErrUserNotFound = errors.New("user not found")

	// ErrMembershipRevoked means the token's organization binding is no
	// longer backed by an active membership.
	ErrMembershipRevoked = errors.New("membership revoked")

	// ErrStoreUnavailable wraps infrastructure failures during resolution.
	// Callers must treat it as a denial, not fall back to stale identity.
	ErrStoreUnavailable = errors.New("store unavailable")

	// ErrNotFound is returned by store implementations when a row does not
	// exist. The resolver translates it into the error appropriate for the
	// lookup that missed.
	ErrNotFound = errors.New("not found")
)

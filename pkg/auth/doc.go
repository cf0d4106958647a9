// Package auth resolves presented credentials into live identities.
//
// # Overview
//
// This package is the identity layer of the authorization core. It verifies
// session JWTs, opaque API tokens, and federated OIDC tokens, then loads the
// account and membership rows behind them so every request acts on current
// data. Nothing here is cached: a deleted user or a revoked membership takes
// effect on the very next request, regardless of what the token claims.
//
// # Key Components
//
// Identity: The authenticated caller, optionally bound to one organization
//
//	identity := &auth.Identity{
//		UserID:         42,
//		OrganizationID: &orgID,
//		RoleID:         &roleID,
//		RoleName:       "admin",
//	}
//
// Verifiers: One per credential shape, multiplexed by VerifierMux
//
//	mux := auth.NewVerifierMux(metrics)
//	mux.RegisterPrefix("api_token", auth.TokenPrefix, auth.NewAPITokenVerifier(tokenStore))
//	mux.Register("jwt", auth.NewJWTVerifier(cfg.Auth.JWTSecret, cfg.Auth.JWTIssuer))
//	mux.Register("oidc", oidcVerifier)
//
// Resolver: Claims to identity, with fresh store reads
//
//	resolver := auth.NewResolver(mux, userStore, membershipStore, logger)
//	identity, err := resolver.Resolve(ctx, bearerToken)
//
// # Resolution Rules
//
// A token only yields an identity when every step holds:
//
//	1. The token verifies (signature, expiry, not revoked) -> else ErrInvalidToken
//	2. The user row exists and is active                   -> else ErrUserNotFound
//	3. If org-bound, an active membership backs the binding -> else ErrMembershipRevoked
//
// The role attached to an org-bound identity is read from the membership
// row during resolution. Tokens never carry roles or permissions.
//
// Store failures at any step return ErrStoreUnavailable. Resolution fails
// closed: no stale identity, no guessing.
//
// # API Tokens
//
// Opaque tokens use the format taskhive_[base64url(32 random bytes)] and
// are stored as SHA-256 hashes. The plaintext is displayed once at creation
// and never again.
//
//	generator := auth.NewTokenGenerator()
//	token, hash, prefix, err := generator.GenerateToken()
//	// token:  taskhive_xxx (hand to the caller, display once)
//	// hash:   store in api_tokens.token_hash
//	// prefix: taskhive_xxx[:8], safe to show in listings
//
// Successful verification records last use asynchronously so the hot path
// never blocks on the write.
//
// # Related Packages
//
//   - pkg/rbac: Permission sets and the authorization decision
//   - pkg/orgs: Store implementations for users, memberships, tokens
//   - pkg/middleware: HTTP guard pipeline that drives resolution
package auth

package auth

import (
	"context"
	"errors"
	"strings"

	"github.com/taskhive/taskhive/pkg/observability"
)

// VerifierMux routes a presented credential to the verifier that can handle
// it. Prefix-registered verifiers are authoritative for tokens carrying
// their prefix; the remaining verifiers are tried in registration order, so
// a first-party JWT miss can fall through to OIDC.
type VerifierMux struct {
	entries []muxEntry
	metrics *observability.Metrics
}

type muxEntry struct {
	name     string
	prefix   string
	verifier TokenVerifier
}

// NewVerifierMux creates an empty mux. Metrics may be nil.
func NewVerifierMux(metrics *observability.Metrics) *VerifierMux {
	return &VerifierMux{metrics: metrics}
}

// Register adds a fallback verifier tried in registration order.
func (m *VerifierMux) Register(name string, v TokenVerifier) {
	m.entries = append(m.entries, muxEntry{name: name, verifier: v})
}

// RegisterPrefix adds a verifier that owns every token starting with the
// given prefix. No fallback happens for tokens it rejects.
func (m *VerifierMux) RegisterPrefix(name, prefix string, v TokenVerifier) {
	m.entries = append(m.entries, muxEntry{name: name, prefix: prefix, verifier: v})
}

// Verify dispatches the token. Store failures and vanished-account errors
// are returned as-is; plain verification failures from fallback verifiers
// let the next one try.
func (m *VerifierMux) Verify(ctx context.Context, token string) (*TokenClaims, error) {
	if len(m.entries) == 0 {
		return nil, errors.New("no token verifiers registered")
	}

	var lastErr error
	tried := false

	for _, e := range m.entries {
		if e.prefix != "" {
			if !strings.HasPrefix(token, e.prefix) {
				continue
			}
			claims, err := e.verifier.Verify(ctx, token)
			m.record(e.name, err)
			return claims, err
		}

		tried = true
		claims, err := e.verifier.Verify(ctx, token)
		if err == nil {
			m.record(e.name, nil)
			return claims, nil
		}
		if errors.Is(err, ErrStoreUnavailable) || errors.Is(err, ErrUserNotFound) {
			m.record(e.name, err)
			return nil, err
		}
		lastErr = err
	}

	if !tried && lastErr == nil {
		return nil, ErrInvalidToken
	}
	m.record("mux", lastErr)
	return nil, lastErr
}

func (m *VerifierMux) record(verifier string, err error) {
	if m.metrics == nil {
		return
	}
	outcome := "ok"
	switch {
	case err == nil:
	case errors.Is(err, ErrStoreUnavailable):
		outcome = "error"
	default:
		outcome = "rejected"
	}
	m.metrics.TokenVerificationsTotal.WithLabelValues(verifier, outcome).Inc()
}

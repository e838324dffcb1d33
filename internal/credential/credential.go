// Package credential issues the short-lived API credential a session opens
// its live connection with.
//
// Three pieces cover both ends of the exchange: [Handler] is the server
// endpoint that hands out the key after per-client rate limiting and bot
// verification, [HTTPIssuer] is the client that calls it, and [StaticIssuer]
// serves a locally configured key without a round trip.
package credential

import (
	"context"
	"errors"
)

var (
	// ErrMissingConfig reports that no API key is configured.
	ErrMissingConfig = errors.New("credential: API key not configured")

	// ErrVerificationFailed reports a rejected bot-verification token.
	ErrVerificationFailed = errors.New("credential: security verification failed")

	// ErrRateLimited reports that the client exceeded its request budget.
	ErrRateLimited = errors.New("credential: too many requests")
)

// Issuer obtains a credential, optionally presenting a bot-verification
// token.
type Issuer interface {
	Issue(ctx context.Context, verificationToken string) (string, error)
}

// Compile-time interface assertions.
var (
	_ Issuer = StaticIssuer{}
	_ Issuer = (*HTTPIssuer)(nil)
)

// StaticIssuer returns a fixed key.
type StaticIssuer struct {
	Key string
}

// Issue returns the configured key or [ErrMissingConfig].
func (s StaticIssuer) Issue(context.Context, string) (string, error) {
	if s.Key == "" {
		return "", ErrMissingConfig
	}
	return s.Key, nil
}

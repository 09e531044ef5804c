// Package auth verifies wallet bearer tokens presented at the WebSocket
// handshake. The broker depends only on the narrow Verifier contract, not on
// any specific token format: the shipped implementation is PASETO v4.public,
// but anything that maps a token to a wallet satisfies it.
package auth

import "time"

// Identity is the result of a successful token verification.
type Identity struct {
	// Wallet is the wallet address embedded in the token.
	Wallet string
}

// Verifier checks a bearer token and derives the caller's identity.
type Verifier interface {
	// Verify returns the embedded identity, or ErrInvalidToken.
	Verify(token string, now time.Time) (Identity, error)
}

// StaticVerifier is a fixed token->wallet map. Test and tooling use only.
type StaticVerifier map[string]string

// Verify implements Verifier.
func (s StaticVerifier) Verify(token string, _ time.Time) (Identity, error) {
	wallet, ok := s[token]
	if !ok || wallet == "" {
		return Identity{}, ErrInvalidToken
	}
	return Identity{Wallet: wallet}, nil
}

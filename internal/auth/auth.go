// Package auth guards incoming connections with a per-process
// connection token. The token is generated at startup, embedded in
// launch URLs, and must accompany every external connection when
// authentication is required.
package auth

import (
	"crypto/rand"
	"encoding/hex"
	"log"

	"golang.org/x/crypto/bcrypt"
	"golang.org/x/time/rate"

	apperrors "github.com/lumenui/host/internal/errors"
)

// tokenBytes is the entropy of a generated connection token (32 hex
// characters).
const tokenBytes = 16

// NewToken generates a cryptographically random connection token.
func NewToken() (string, error) {
	buf := make([]byte, tokenBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", apperrors.Wrap(apperrors.CodeAuthInvalidToken, "generate token", err)
	}
	return hex.EncodeToString(buf), nil
}

// Guard validates presented connection tokens against a bcrypt hash of
// the real one. Only the hash is retained, so a leaked Guard cannot
// reveal the token.
type Guard struct {
	hash []byte

	// limiter throttles validation attempts to blunt brute forcing.
	limiter *rate.Limiter
}

// NewGuard creates a guard for the given token.
func NewGuard(token string) (*Guard, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(token), bcrypt.DefaultCost)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CodeAuthInvalidToken, "hash token", err)
	}
	return &Guard{
		hash: hash,
		// 5 attempts per second with a small burst; legitimate clients
		// validate once per connection.
		limiter: rate.NewLimiter(rate.Limit(5), 5),
	}, nil
}

// Validate checks a presented token. Fails with auth.invalid_token on
// mismatch, empty token, or when attempts come too fast.
func (g *Guard) Validate(token string) error {
	if token == "" {
		return apperrors.InvalidToken()
	}
	if !g.limiter.Allow() {
		log.Printf("auth: validation rate limit exceeded")
		return apperrors.InvalidToken()
	}

	// bcrypt comparison is timing-safe.
	if err := bcrypt.CompareHashAndPassword(g.hash, []byte(token)); err != nil {
		log.Printf("auth: token validation failed")
		return apperrors.InvalidToken()
	}
	return nil
}

package oauth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Codes issues and redeems authorization codes.
type Codes struct {
	store CodeStore
	ttl   time.Duration
	now   func() time.Time
}

// NewCodes creates a code service whose codes live for ttl.
func NewCodes(store CodeStore, ttl time.Duration) *Codes {
	return &Codes{store: store, ttl: ttl, now: time.Now}
}

// Issue persists a fresh unused code bound to clientID and redirectURI.
// PKCE fields are stored verbatim.
func (c *Codes) Issue(ctx context.Context, clientID, redirectURI, codeChallenge, codeChallengeMethod string) (*IssuedCode, error) {
	code, err := RandomToken()
	if err != nil {
		return nil, err
	}

	now := c.now()
	record := &AuthCode{
		ID:                  uuid.NewString(),
		CodeHash:            HashToken(code),
		ClientID:            clientID,
		RedirectURI:         redirectURI,
		CodeChallenge:       codeChallenge,
		CodeChallengeMethod: codeChallengeMethod,
		CreatedAt:           now,
		ExpiresAt:           now.Add(c.ttl),
	}
	if err := c.store.CreateAuthCode(ctx, record); err != nil {
		return nil, fmt.Errorf("storing authorization code: %w", err)
	}
	return &IssuedCode{Code: code, Record: record}, nil
}

// Redeem checks and consumes a code for clientID in one step.
func (c *Codes) Redeem(ctx context.Context, code, clientID, redirectURI string) (*AuthCode, error) {
	record, err := c.Check(ctx, code, clientID, redirectURI)
	if err != nil {
		return nil, err
	}
	if err := c.Consume(ctx, record); err != nil {
		return nil, err
	}
	return record, nil
}

// Check returns the unused code record for clientID without consuming it.
// redirectURI must equal the value the code was issued for.
func (c *Codes) Check(ctx context.Context, code, clientID, redirectURI string) (*AuthCode, error) {
	if code == "" {
		return nil, ErrInvalidRequest("code required")
	}

	record, err := c.store.FindUnusedAuthCode(ctx, HashToken(code), clientID)
	if errors.Is(err, ErrNotFound) {
		return nil, ErrInvalidGrant("invalid or already used authorization code")
	}
	if err != nil {
		return nil, fmt.Errorf("loading authorization code: %w", err)
	}

	if record.Expired(c.now()) {
		return nil, ErrInvalidGrant("authorization code expired")
	}
	if record.RedirectURI != redirectURI {
		return nil, ErrInvalidGrant("redirect_uri mismatch")
	}
	return record, nil
}

// Consume marks a checked code used. Concurrent consumers of one code see
// exactly one success; the others get invalid_grant.
func (c *Codes) Consume(ctx context.Context, record *AuthCode) error {
	won, err := c.store.MarkAuthCodeUsed(ctx, record.ID)
	if err != nil {
		return fmt.Errorf("consuming authorization code: %w", err)
	}
	if !won {
		return ErrInvalidGrant("invalid or already used authorization code")
	}
	record.Used = true
	return nil
}

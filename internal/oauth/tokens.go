package oauth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Tokens issues, validates, rotates and revokes token pairs.
type Tokens struct {
	store      TokenStore
	accessTTL  time.Duration
	refreshTTL time.Duration
	now        func() time.Time
}

// NewTokens creates a token service.
func NewTokens(store TokenStore, accessTTL, refreshTTL time.Duration) *Tokens {
	return &Tokens{store: store, accessTTL: accessTTL, refreshTTL: refreshTTL, now: time.Now}
}

// Issue creates a new pair for clientID.
func (t *Tokens) Issue(ctx context.Context, clientID string) (*TokenPair, error) {
	access, err := RandomToken()
	if err != nil {
		return nil, err
	}
	refresh, err := RandomToken()
	if err != nil {
		return nil, err
	}

	now := t.now()
	record := &Token{
		ID:               uuid.NewString(),
		AccessTokenHash:  HashToken("access:" + access),
		RefreshTokenHash: HashToken("refresh:" + refresh),
		ClientID:         clientID,
		AccessExpiresAt:  now.Add(t.accessTTL),
		RefreshExpiresAt: now.Add(t.refreshTTL),
		CreatedAt:        now,
	}
	if err := t.store.CreateToken(ctx, record); err != nil {
		return nil, fmt.Errorf("storing token: %w", err)
	}

	return &TokenPair{
		ID:           record.ID,
		AccessToken:  access,
		RefreshToken: refresh,
		ClientID:     clientID,
		ExpiresIn:    t.accessTTL,
	}, nil
}

// ValidateAccess returns the record behind a live access token. Unknown,
// revoked and expired tokens yield ErrNotFound.
func (t *Tokens) ValidateAccess(ctx context.Context, accessToken string) (*Token, error) {
	if accessToken == "" {
		return nil, ErrNotFound
	}
	record, err := t.store.FindActiveTokenByAccess(ctx, HashToken("access:"+accessToken))
	if err != nil {
		return nil, err
	}
	if record.AccessExpired(t.now()) {
		return nil, ErrNotFound
	}
	return record, nil
}

// Rotate exchanges a refresh token for a new pair and revokes the old one.
// A refresh token can be used once. The new pair is stored before the old one
// is revoked, so a store failure part way leaves the old refresh token usable
// rather than leaving the client with no live pair.
func (t *Tokens) Rotate(ctx context.Context, refreshToken, clientID string) (*TokenPair, error) {
	if refreshToken == "" {
		return nil, ErrInvalidRequest("refresh_token required")
	}

	record, err := t.store.FindActiveTokenByRefresh(ctx, HashToken("refresh:"+refreshToken), clientID)
	if errors.Is(err, ErrNotFound) {
		return nil, ErrInvalidGrant("invalid refresh_token")
	}
	if err != nil {
		return nil, fmt.Errorf("loading refresh token: %w", err)
	}
	if record.RefreshExpired(t.now()) {
		return nil, ErrInvalidGrant("refresh_token expired")
	}

	pair, err := t.Issue(ctx, record.ClientID)
	if err != nil {
		return nil, err
	}

	won, err := t.store.RevokeToken(ctx, record.ID)
	if err != nil {
		err = fmt.Errorf("revoking rotated token: %w", err)
	} else if !won {
		err = ErrInvalidGrant("invalid refresh_token")
	}
	if err != nil {
		if _, undoErr := t.Revoke(ctx, pair.ID); undoErr != nil {
			return nil, errors.Join(err, undoErr)
		}
		return nil, err
	}
	return pair, nil
}

// Revoke revokes the pair with the given record id. It reports whether this
// call performed the revocation.
func (t *Tokens) Revoke(ctx context.Context, id string) (bool, error) {
	won, err := t.store.RevokeToken(ctx, id)
	if err != nil {
		return false, fmt.Errorf("revoking token %s: %w", id, err)
	}
	return won, nil
}

// RevokeAllForClient revokes every live pair of clientID.
func (t *Tokens) RevokeAllForClient(ctx context.Context, clientID string) (int, error) {
	n, err := t.store.RevokeClientTokens(ctx, clientID)
	if err != nil {
		return 0, fmt.Errorf("revoking tokens for %s: %w", clientID, err)
	}
	return n, nil
}

package oauth

import (
	"context"
	"time"
)

// ClientStore persists OAuth clients.
type ClientStore interface {
	// CreateClient fails with ErrClientExists if the id was ever used.
	CreateClient(ctx context.Context, client *Client) error
	// GetClient returns the client regardless of its active flag.
	GetClient(ctx context.Context, clientID string) (*Client, error)
	ListClients(ctx context.Context) ([]*Client, error)
	SetClientActive(ctx context.Context, clientID string, active bool) error
}

// CodeStore persists authorization codes.
type CodeStore interface {
	CreateAuthCode(ctx context.Context, code *AuthCode) error
	// FindUnusedAuthCode returns the unused code with this hash owned by clientID.
	FindUnusedAuthCode(ctx context.Context, codeHash, clientID string) (*AuthCode, error)
	// MarkAuthCodeUsed flips used from false to true and reports whether this
	// call performed the flip. Exactly one concurrent caller may win.
	MarkAuthCodeUsed(ctx context.Context, id string) (bool, error)
	// DeleteExpiredAuthCodes removes codes whose expiry is strictly before the cutoff.
	DeleteExpiredAuthCodes(ctx context.Context, before time.Time) (int, error)
}

// TokenStore persists token pairs.
type TokenStore interface {
	CreateToken(ctx context.Context, token *Token) error
	// FindActiveTokenByAccess returns the non-revoked record holding this access hash.
	FindActiveTokenByAccess(ctx context.Context, accessHash string) (*Token, error)
	// FindActiveTokenByRefresh returns the non-revoked record holding this refresh hash for clientID.
	FindActiveTokenByRefresh(ctx context.Context, refreshHash, clientID string) (*Token, error)
	// RevokeToken flips revoked from false to true and reports whether this call performed the flip.
	RevokeToken(ctx context.Context, id string) (bool, error)
	RevokeClientTokens(ctx context.Context, clientID string) (int, error)
	// DeleteExpiredTokens removes records whose refresh expiry is strictly before the cutoff.
	DeleteExpiredTokens(ctx context.Context, before time.Time) (int, error)
}

// Store is the full persistence collaborator.
type Store interface {
	ClientStore
	CodeStore
	TokenStore
	Ping(ctx context.Context) error
	Close() error
}

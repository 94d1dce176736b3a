package oauth

import "time"

// Client represents a registered OAuth client.
type Client struct {
	ClientID     string
	ClientSecret string // bcrypt hash, or a legacy plaintext value; empty for public clients
	RedirectURIs RedirectURIs
	// UpstreamToken is forwarded to protected resources when one of this
	// client's access tokens is accepted by the bearer gate.
	UpstreamToken string
	Name          string
	Active        bool
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// IsPublic reports whether the client was registered without a secret.
func (c *Client) IsPublic() bool {
	return c.ClientSecret == ""
}

// AuthCode represents an authorization code record. The code itself is
// never stored, only its hash.
type AuthCode struct {
	ID                  string
	CodeHash            string
	ClientID            string
	RedirectURI         string
	CodeChallenge       string
	CodeChallengeMethod string
	Used                bool
	CreatedAt           time.Time
	ExpiresAt           time.Time
}

// Expired reports whether the code is past its expiry at now.
func (c *AuthCode) Expired(now time.Time) bool {
	return now.After(c.ExpiresAt)
}

// Token represents an access/refresh token pair record.
type Token struct {
	ID               string
	AccessTokenHash  string
	RefreshTokenHash string
	ClientID         string
	AccessExpiresAt  time.Time
	RefreshExpiresAt time.Time
	Revoked          bool
	CreatedAt        time.Time
}

// AccessExpired reports whether the access half of the pair is expired at now.
func (t *Token) AccessExpired(now time.Time) bool {
	return now.After(t.AccessExpiresAt)
}

// RefreshExpired reports whether the refresh half of the pair is expired at now.
func (t *Token) RefreshExpired(now time.Time) bool {
	return now.After(t.RefreshExpiresAt)
}

// TokenPair is the plaintext result of an issuance. It is returned to the
// client once and never persisted.
type TokenPair struct {
	// ID is the persisted record's id.
	ID           string
	AccessToken  string
	RefreshToken string
	ClientID     string
	ExpiresIn    time.Duration
}

// IssuedCode is the plaintext result of an authorization code issuance.
type IssuedCode struct {
	Code   string
	Record *AuthCode
}

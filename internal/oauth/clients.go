package oauth

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"
)

// ClientSpec describes a client to register.
type ClientSpec struct {
	ClientID      string
	Name          string
	RedirectURIs  []string
	UpstreamToken string
	// Secret is used verbatim when set. When empty and Public is false a
	// secret is generated.
	Secret string
	Public bool
}

// Registry looks up and manages OAuth clients.
type Registry struct {
	store ClientStore
	now   func() time.Time
}

// NewRegistry creates a client registry backed by store.
func NewRegistry(store ClientStore) *Registry {
	return &Registry{store: store, now: time.Now}
}

// FindActiveClient resolves an active client. Unknown and inactive clients
// both yield invalid_client; storage failures are returned as-is.
func (r *Registry) FindActiveClient(ctx context.Context, clientID string) (*Client, error) {
	if clientID == "" {
		return nil, ErrInvalidClient("client_id required")
	}
	client, err := r.store.GetClient(ctx, clientID)
	if errors.Is(err, ErrNotFound) {
		return nil, ErrInvalidClient("unknown client")
	}
	if err != nil {
		return nil, fmt.Errorf("loading client: %w", err)
	}
	if !client.Active {
		return nil, ErrInvalidClient("client is inactive")
	}
	return client, nil
}

// GetClient returns a client in any state.
func (r *Registry) GetClient(ctx context.Context, clientID string) (*Client, error) {
	return r.store.GetClient(ctx, clientID)
}

// VerifySecret reports whether supplied matches the client's registered
// secret. A client without a registered secret matches nothing.
func (r *Registry) VerifySecret(client *Client, supplied string) bool {
	stored := client.ClientSecret
	if stored == "" || supplied == "" {
		return false
	}
	if isBcryptHash(stored) {
		return bcrypt.CompareHashAndPassword([]byte(stored), []byte(supplied)) == nil
	}
	return subtle.ConstantTimeCompare([]byte(stored), []byte(supplied)) == 1
}

func isBcryptHash(s string) bool {
	return strings.HasPrefix(s, "$2a$") || strings.HasPrefix(s, "$2b$") || strings.HasPrefix(s, "$2y$")
}

// Register creates a new active client and returns it together with the
// plaintext secret, which is not recoverable afterwards.
func (r *Registry) Register(ctx context.Context, spec ClientSpec) (*Client, string, error) {
	if strings.TrimSpace(spec.ClientID) == "" {
		return nil, "", ErrInvalidRequest("client_id is required")
	}
	if len(spec.RedirectURIs) == 0 {
		return nil, "", ErrInvalidRequest("at least one redirect URI is required")
	}
	for _, uri := range spec.RedirectURIs {
		if err := validateRedirectPattern(uri); err != nil {
			return nil, "", err
		}
	}

	secret := spec.Secret
	if !spec.Public && secret == "" {
		generated, err := RandomToken()
		if err != nil {
			return nil, "", err
		}
		secret = generated
	}
	if spec.Public {
		secret = ""
	}

	var secretHash string
	if secret != "" {
		hash, err := bcrypt.GenerateFromPassword([]byte(secret), bcrypt.DefaultCost)
		if err != nil {
			return nil, "", fmt.Errorf("hashing client secret: %w", err)
		}
		secretHash = string(hash)
	}

	now := r.now()
	client := &Client{
		ClientID:      spec.ClientID,
		ClientSecret:  secretHash,
		RedirectURIs:  RedirectURIs(spec.RedirectURIs),
		UpstreamToken: spec.UpstreamToken,
		Name:          spec.Name,
		Active:        true,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := r.store.CreateClient(ctx, client); err != nil {
		return nil, "", err
	}
	return client, secret, nil
}

// Deactivate stops future grants for the client. Tokens already issued are
// left untouched; use Tokens.RevokeAllForClient for that.
func (r *Registry) Deactivate(ctx context.Context, clientID string) error {
	return r.store.SetClientActive(ctx, clientID, false)
}

// List returns every client, active or not.
func (r *Registry) List(ctx context.Context) ([]*Client, error) {
	return r.store.ListClients(ctx)
}

func validateRedirectPattern(raw string) error {
	if scheme, _, ok := strings.Cut(raw, "://"); ok && strings.Contains(scheme, "*") {
		return ErrInvalidRequest(fmt.Sprintf("redirect_uri scheme cannot be a wildcard: %s", raw))
	}
	parsed, err := url.Parse(wildcardPlaceholders(raw))
	if err != nil || parsed.Scheme == "" || parsed.Host == "" {
		return ErrInvalidRequest(fmt.Sprintf("invalid redirect_uri: %s", raw))
	}
	if parsed.Fragment != "" {
		return ErrInvalidRequest(fmt.Sprintf("redirect_uri must not contain a fragment: %s", raw))
	}
	return nil
}

// wildcardPlaceholders replaces each '*' with a character url.Parse accepts
// in its position: a digit inside the port, a letter anywhere else.
func wildcardPlaceholders(raw string) string {
	if !strings.Contains(raw, "*") {
		return raw
	}
	_, rest, ok := strings.Cut(raw, "://")
	if !ok {
		return strings.ReplaceAll(raw, "*", "x")
	}
	authEnd := len(raw) - len(rest)
	authority := rest
	if i := strings.IndexAny(rest, "/?#"); i >= 0 {
		authority = rest[:i]
	}
	authEnd += len(authority)

	portStart := -1
	hostport := authority[strings.LastIndex(authority, "@")+1:]
	if i := strings.LastIndex(hostport, ":"); i >= 0 && !strings.Contains(hostport[i:], "]") {
		portStart = authEnd - len(hostport) + i + 1
	}

	b := []byte(raw)
	for i, c := range b {
		if c != '*' {
			continue
		}
		if portStart >= 0 && i >= portStart && i < authEnd {
			b[i] = '0'
		} else {
			b[i] = 'x'
		}
	}
	return string(b)
}

package auth

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/providentiaww/mcp-oauth-gateway/internal/oauth"
	"github.com/providentiaww/mcp-oauth-gateway/internal/storage"
)

type gateFixture struct {
	gate    *BearerGate
	tokens  *oauth.Tokens
	clients *oauth.Registry
	logs    *observer.ObservedLogs
}

func newGateFixture(t *testing.T, tokenStore oauth.TokenStore) *gateFixture {
	t.Helper()
	store := storage.NewMemoryStore()
	if tokenStore == nil {
		tokenStore = store
	}
	clients := oauth.NewRegistry(store)
	_, _, err := clients.Register(context.Background(), oauth.ClientSpec{
		ClientID:      "acme",
		Public:        true,
		RedirectURIs:  []string{"https://acme.test/cb"},
		UpstreamToken: "atl-upstream-credential",
	})
	require.NoError(t, err)

	tokens := oauth.NewTokens(tokenStore, time.Hour, 24*time.Hour)
	core, logs := observer.New(zap.WarnLevel)
	gate := NewBearerGate(tokens, clients, "https://issuer.example.com", zap.New(core), PrefixPredicate("/mcp/"))
	return &gateFixture{gate: gate, tokens: tokens, clients: clients, logs: logs}
}

// serve runs req through the gate and returns the recorder and the
// credential seen by the protected handler, if it was reached.
func (f *gateFixture) serve(req *http.Request) (*httptest.ResponseRecorder, *Credential) {
	var seen *Credential
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if cred, ok := CredentialFrom(r.Context()); ok {
			seen = &cred
		} else {
			seen = &Credential{}
		}
		w.WriteHeader(http.StatusNoContent)
	})
	rec := httptest.NewRecorder()
	f.gate.Handler(next).ServeHTTP(rec, req)
	return rec, seen
}

func bearerRequest(path, token string) *http.Request {
	req := httptest.NewRequest(http.MethodPost, path, nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	return req
}

func TestGateChallengesMissingBearer(t *testing.T) {
	t.Parallel()
	f := newGateFixture(t, nil)

	req := bearerRequest("/mcp/jira", "")
	req.Header.Set("X-Forwarded-Proto", "https")
	req.Header.Set("X-Forwarded-Host", "gw.example.com")
	rec, seen := f.serve(req)

	assert.Nil(t, seen)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t,
		`Bearer resource_metadata="https://gw.example.com/.well-known/oauth-protected-resource"`,
		rec.Header().Get("WWW-Authenticate"))
	assert.JSONEq(t, `{"error":"unauthorized","error_description":"bearer token required"}`, rec.Body.String())

	req = bearerRequest("/mcp/jira", "")
	req.Header.Set("Authorization", "Basic YWNtZTpzM2NyZXQ=")
	rec, seen = f.serve(req)
	assert.Nil(t, seen)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("WWW-Authenticate"))
}

func TestGatePassesUnprotectedAndPreflight(t *testing.T) {
	t.Parallel()
	f := newGateFixture(t, nil)

	rec, seen := f.serve(bearerRequest("/healthz", ""))
	assert.Equal(t, http.StatusNoContent, rec.Code)
	require.NotNil(t, seen)
	assert.Empty(t, seen.Method, "unprotected requests carry no credential")

	rec, seen = f.serve(httptest.NewRequest(http.MethodOptions, "/mcp/jira", nil))
	assert.Equal(t, http.StatusNoContent, rec.Code)
	require.NotNil(t, seen)
}

func TestGateSwapsValidAccessToken(t *testing.T) {
	t.Parallel()
	f := newGateFixture(t, nil)

	pair, err := f.tokens.Issue(context.Background(), "acme")
	require.NoError(t, err)

	rec, seen := f.serve(bearerRequest("/mcp/jira/tools", pair.AccessToken))
	assert.Equal(t, http.StatusNoContent, rec.Code)
	require.NotNil(t, seen)
	assert.Equal(t, Credential{Value: "atl-upstream-credential", Method: MethodOAuth, ClientID: "acme"}, *seen)

	// deactivation alone does not invalidate issued tokens
	require.NoError(t, f.clients.Deactivate(context.Background(), "acme"))
	_, seen = f.serve(bearerRequest("/mcp/jira/tools", pair.AccessToken))
	require.NotNil(t, seen)
	assert.Equal(t, MethodOAuth, seen.Method)

	// revocation does
	_, err = f.tokens.RevokeAllForClient(context.Background(), "acme")
	require.NoError(t, err)
	_, seen = f.serve(bearerRequest("/mcp/jira/tools", pair.AccessToken))
	require.NotNil(t, seen)
	assert.Equal(t, Credential{Value: pair.AccessToken, Method: MethodAPIToken}, *seen)
}

func TestGateForwardsUnknownBearerAsOpaque(t *testing.T) {
	t.Parallel()
	f := newGateFixture(t, nil)

	rec, seen := f.serve(bearerRequest("/mcp/jira", "ATATT3xFfGF0-personal-api-token"))
	assert.Equal(t, http.StatusNoContent, rec.Code)
	require.NotNil(t, seen)
	assert.Equal(t, Credential{Value: "ATATT3xFfGF0-personal-api-token", Method: MethodAPIToken}, *seen)
	assert.Zero(t, f.logs.Len(), "unknown tokens are not an error")
}

type failingTokens struct {
	oauth.TokenStore
}

func (failingTokens) FindActiveTokenByAccess(context.Context, string) (*oauth.Token, error) {
	return nil, errors.New("i/o timeout")
}

func TestGateDegradesOnStoreFailure(t *testing.T) {
	t.Parallel()
	f := newGateFixture(t, failingTokens{})

	rec, seen := f.serve(bearerRequest("/mcp/jira", "some-token"))
	assert.Equal(t, http.StatusNoContent, rec.Code)
	require.NotNil(t, seen)
	assert.Equal(t, MethodAPIToken, seen.Method)
	assert.Equal(t, 1, f.logs.FilterMessage("access token lookup failed, forwarding bearer value as opaque credential").Len())
}

func TestRequestCredential(t *testing.T) {
	t.Parallel()
	req := httptest.NewRequest(http.MethodGet, "/mcp/jira", nil)
	_, _, ok := RequestCredential(req)
	assert.False(t, ok)

	req = req.WithContext(WithCredential(req.Context(), Credential{Value: "v", Method: MethodOAuth}))
	value, method, ok := RequestCredential(req)
	assert.True(t, ok)
	assert.Equal(t, "v", value)
	assert.Equal(t, MethodOAuth, method)
}

func TestExtractTokenFromHeader(t *testing.T) {
	t.Parallel()
	tests := map[string]string{
		"":                "",
		"Bearer abc":      "abc",
		"bearer abc":      "abc",
		"Bearer  abc ":    "abc",
		"Basic abc":       "",
		"Bearerabc":       "",
		"Token abc def":   "",
		"BEARER a.b.c-d_": "a.b.c-d_",
	}
	for header, want := range tests {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		if header != "" {
			req.Header.Set("Authorization", header)
		}
		assert.Equal(t, want, ExtractTokenFromHeader(req), header)
	}
}

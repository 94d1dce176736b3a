package auth

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/providentiaww/mcp-oauth-gateway/internal/metrics"
	"github.com/providentiaww/mcp-oauth-gateway/internal/oauth"
)

// RoutePredicate reports whether a request targets a protected route.
type RoutePredicate func(r *http.Request) bool

// PrefixPredicate protects every path under prefix.
func PrefixPredicate(prefix string) RoutePredicate {
	return func(r *http.Request) bool {
		return strings.HasPrefix(r.URL.Path, prefix)
	}
}

// BearerGate admits requests to protected routes. A valid access token is
// swapped for its client's upstream credential; any other bearer value is
// passed through as an opaque credential for the upstream to judge. Only a
// missing bearer value is rejected here.
type BearerGate struct {
	tokens    *oauth.Tokens
	clients   *oauth.Registry
	protected []RoutePredicate
	issuer    string
	logger    *zap.Logger
}

// NewBearerGate creates a gate for the routes matched by protected. issuer is
// the fallback origin for the discovery URL in challenges.
func NewBearerGate(tokens *oauth.Tokens, clients *oauth.Registry, issuer string, logger *zap.Logger, protected ...RoutePredicate) *BearerGate {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &BearerGate{
		tokens:    tokens,
		clients:   clients,
		protected: protected,
		issuer:    issuer,
		logger:    logger.Named("bearer-gate"),
	}
}

// Handler wraps next with the gate.
func (g *BearerGate) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Allow OPTIONS requests (CORS preflight) to pass through without auth
		if r.Method == http.MethodOptions || !g.isProtected(r) {
			next.ServeHTTP(w, r)
			return
		}

		token := ExtractTokenFromHeader(r)
		if token == "" {
			metrics.BearerDecisions.WithLabelValues("challenged").Inc()
			g.challenge(w, r)
			return
		}

		cred := g.resolve(r, token)
		next.ServeHTTP(w, r.WithContext(WithCredential(r.Context(), cred)))
	})
}

func (g *BearerGate) isProtected(r *http.Request) bool {
	for _, p := range g.protected {
		if p(r) {
			return true
		}
	}
	return false
}

func (g *BearerGate) resolve(r *http.Request, token string) Credential {
	ctx := r.Context()

	record, err := g.tokens.ValidateAccess(ctx, token)
	if err == nil {
		client, cerr := g.clients.GetClient(ctx, record.ClientID)
		if cerr == nil {
			metrics.BearerDecisions.WithLabelValues(MethodOAuth).Inc()
			return Credential{Value: client.UpstreamToken, Method: MethodOAuth, ClientID: client.ClientID}
		}
		err = fmt.Errorf("loading client %s: %w", record.ClientID, cerr)
	}
	if !errors.Is(err, oauth.ErrNotFound) {
		g.logger.Warn("access token lookup failed, forwarding bearer value as opaque credential",
			zap.String("path", r.URL.Path),
			zap.Error(err))
	}

	metrics.BearerDecisions.WithLabelValues(MethodAPIToken).Inc()
	return Credential{Value: token, Method: MethodAPIToken}
}

// challenge answers 401 with the resource metadata URL clients use to
// discover the authorization server.
func (g *BearerGate) challenge(w http.ResponseWriter, r *http.Request) {
	metadataURL := oauth.BaseURL(r, g.issuer) + oauth.ProtectedResourceMetadataPath
	w.Header().Set("WWW-Authenticate", fmt.Sprintf(`Bearer resource_metadata="%s"`, metadataURL))
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	_ = json.NewEncoder(w).Encode(map[string]string{
		"error":             "unauthorized",
		"error_description": "bearer token required",
	})
}

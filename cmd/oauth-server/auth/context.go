package auth

import (
	"context"
	"net/http"
	"strings"
)

type contextKey string

const (
	credentialContextKey contextKey = "upstream-credential"
	operatorContextKey   contextKey = "admin-operator"
)

// Auth methods reported to upstream MCP services.
const (
	MethodOAuth    = "oauth"
	MethodAPIToken = "api-token"
)

// Credential is what the bearer gate attaches to an admitted request.
type Credential struct {
	// Value is forwarded upstream as the bearer token.
	Value string
	// Method is MethodOAuth when Value came from a validated access token's
	// client, MethodAPIToken when the caller's bearer value is passed through.
	Method   string
	ClientID string
}

// WithCredential returns a copy of ctx carrying cred.
func WithCredential(ctx context.Context, cred Credential) context.Context {
	return context.WithValue(ctx, credentialContextKey, cred)
}

// CredentialFrom returns the credential attached by the bearer gate.
func CredentialFrom(ctx context.Context) (Credential, bool) {
	cred, ok := ctx.Value(credentialContextKey).(Credential)
	return cred, ok
}

// RequestCredential adapts CredentialFrom to the proxy's credential lookup.
func RequestCredential(r *http.Request) (credential, method string, ok bool) {
	cred, ok := CredentialFrom(r.Context())
	if !ok {
		return "", "", false
	}
	return cred.Value, cred.Method, true
}

// OperatorFrom returns the admin subject authenticated by the admin guard.
func OperatorFrom(ctx context.Context) string {
	op, _ := ctx.Value(operatorContextKey).(string)
	return op
}

// ExtractTokenFromHeader extracts the bearer value from the Authorization header.
func ExtractTokenFromHeader(r *http.Request) string {
	authHeader := r.Header.Get("Authorization")
	if authHeader == "" {
		return ""
	}

	// Expected format: "Bearer <token>"
	scheme, token, ok := strings.Cut(authHeader, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return ""
	}
	return strings.TrimSpace(token)
}

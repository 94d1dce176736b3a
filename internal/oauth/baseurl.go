package oauth

import (
	"net/http"
	"strings"
)

// ProtectedResourceMetadataPath is the discovery document advertised in
// bearer challenges.
const ProtectedResourceMetadataPath = "/.well-known/oauth-protected-resource"

// BaseURL derives the public origin of the server as seen by the caller.
// Forwarded headers win over the request's own scheme and host, and fallback
// is used when neither carries a host.
func BaseURL(r *http.Request, fallback string) string {
	host := firstHeaderValue(r.Header.Get("X-Forwarded-Host"))
	if host == "" {
		host = r.Host
	}
	if host == "" {
		return strings.TrimRight(fallback, "/")
	}

	scheme := strings.ToLower(firstHeaderValue(r.Header.Get("X-Forwarded-Proto")))
	if scheme == "" {
		if r.TLS != nil {
			scheme = "https"
		} else {
			scheme = "http"
		}
	}
	return scheme + "://" + host
}

// proxies may append to these headers; the first hop is the client-facing one
func firstHeaderValue(v string) string {
	first, _, _ := strings.Cut(v, ",")
	return strings.TrimSpace(first)
}

package mcp

import (
	"encoding/json"
	"net/http"
	"net/http/httputil"
	"strings"

	"go.uber.org/zap"
)

// AuthMethodHeader tells the upstream how the forwarded credential was obtained.
const AuthMethodHeader = "X-Auth-Method"

// CredentialFunc returns the upstream credential attached to a request by the
// bearer gate and the method it was established with.
type CredentialFunc func(r *http.Request) (credential, method string, ok bool)

// Proxy forwards /mcp/<name>/... requests to the endpoint's upstream with the
// gate's credential as the bearer token.
type Proxy struct {
	registry    *Registry
	credentials CredentialFunc
	logger      *zap.Logger
	transport   http.RoundTripper
}

func NewProxy(registry *Registry, credentials CredentialFunc, logger *zap.Logger) *Proxy {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Proxy{registry: registry, credentials: credentials, logger: logger.Named("mcp-proxy")}
}

// splitPath extracts the endpoint name and the remaining path from an
// /mcp/<name>/rest URL path.
func splitPath(path string) (name, rest string) {
	trimmed := strings.TrimPrefix(path, PathPrefix)
	if trimmed == path {
		return "", ""
	}
	name, rest, _ = strings.Cut(trimmed, "/")
	return name, "/" + rest
}

func (p *Proxy) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	name, rest := splitPath(r.URL.Path)
	ep, ok := p.registry.Lookup(name)
	if !ok {
		writeError(w, http.StatusNotFound, "unknown MCP endpoint")
		return
	}

	credential, method, ok := p.credentials(r)
	if !ok {
		writeError(w, http.StatusUnauthorized, "missing credential")
		return
	}
	if credential == "" {
		writeError(w, http.StatusForbidden, "no upstream credential bound to client")
		return
	}

	proxy := httputil.NewSingleHostReverseProxy(ep.target)
	proxy.FlushInterval = -1
	if p.transport != nil {
		proxy.Transport = p.transport
	}

	originalDirector := proxy.Director
	proxy.Director = func(req *http.Request) {
		req.URL.Path = rest
		req.URL.RawPath = ""
		originalDirector(req)
		req.Host = ep.target.Host
		req.Header.Set("Authorization", "Bearer "+credential)
		req.Header.Set(AuthMethodHeader, method)
	}
	proxy.ErrorHandler = func(w http.ResponseWriter, req *http.Request, err error) {
		p.logger.Error("upstream request failed",
			zap.String("endpoint", ep.Name),
			zap.String("path", rest),
			zap.Error(err))
		writeError(w, http.StatusBadGateway, "upstream unavailable")
	}

	proxy.ServeHTTP(w, r)
}

// Index lists the active endpoints.
func (p *Proxy) Index(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"endpoints": p.registry.Active(),
	})
}

// CORS allows browser-based MCP clients to reach protected endpoints and to
// read the WWW-Authenticate challenge.
func CORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Authorization, Content-Type, Mcp-Session-Id")
		w.Header().Set("Access-Control-Expose-Headers", "WWW-Authenticate, Mcp-Session-Id")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func writeError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": msg})
}

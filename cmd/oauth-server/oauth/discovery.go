package oauth

import (
	"net/http"

	"github.com/providentiaww/mcp-oauth-gateway/internal/oauth"
)

type authorizationServerMetadata struct {
	Issuer                            string   `json:"issuer"`
	AuthorizationEndpoint             string   `json:"authorization_endpoint"`
	TokenEndpoint                     string   `json:"token_endpoint"`
	ResponseTypesSupported            []string `json:"response_types_supported"`
	GrantTypesSupported               []string `json:"grant_types_supported"`
	TokenEndpointAuthMethodsSupported []string `json:"token_endpoint_auth_methods_supported"`
	CodeChallengeMethodsSupported     []string `json:"code_challenge_methods_supported"`
}

type protectedResourceMetadata struct {
	// Resource is a string when exactly one endpoint is active, a list otherwise.
	Resource               interface{} `json:"resource"`
	AuthorizationServers   []string    `json:"authorization_servers"`
	BearerMethodsSupported []string    `json:"bearer_methods_supported"`
}

// HandleAuthorizationServerMetadata serves the OAuth authorization server
// discovery document.
func (s *Server) HandleAuthorizationServerMetadata(w http.ResponseWriter, r *http.Request) {
	issuer := oauth.BaseURL(r, s.cfg.Issuer)
	writeJSON(w, http.StatusOK, authorizationServerMetadata{
		Issuer:                            issuer,
		AuthorizationEndpoint:             issuer + "/oauth/authorize",
		TokenEndpoint:                     issuer + "/oauth/token",
		ResponseTypesSupported:            []string{"code"},
		GrantTypesSupported:               []string{grantAuthorizationCode, grantRefreshToken},
		TokenEndpointAuthMethodsSupported: []string{"client_secret_post", "client_secret_basic"},
		CodeChallengeMethodsSupported:     []string{"S256"},
	})
}

// HandleProtectedResourceMetadata serves the protected resource discovery
// document for the currently active MCP endpoints.
func (s *Server) HandleProtectedResourceMetadata(w http.ResponseWriter, r *http.Request) {
	issuer := oauth.BaseURL(r, s.cfg.Issuer)

	resources := s.endpoints.ResourceURLs(issuer)
	var resource interface{} = resources
	if len(resources) == 1 {
		resource = resources[0]
	}

	writeJSON(w, http.StatusOK, protectedResourceMetadata{
		Resource:               resource,
		AuthorizationServers:   []string{issuer},
		BearerMethodsSupported: []string{"header"},
	})
}

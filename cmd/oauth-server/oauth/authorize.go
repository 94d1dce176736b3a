package oauth

import (
	"net/http"
	"net/url"

	"go.uber.org/zap"

	"github.com/providentiaww/mcp-oauth-gateway/internal/events"
	"github.com/providentiaww/mcp-oauth-gateway/internal/metrics"
	"github.com/providentiaww/mcp-oauth-gateway/internal/oauth"
)

// HandleAuthorize issues an authorization code and redirects back to the
// client. Failures are answered with a JSON error and never redirect.
func (s *Server) HandleAuthorize(w http.ResponseWriter, r *http.Request) {
	redirectURL, err := s.authorize(r)
	if err != nil {
		s.fail(w, "authorize", err)
		return
	}
	http.Redirect(w, r, redirectURL, http.StatusFound)
}

func (s *Server) authorize(r *http.Request) (string, error) {
	ctx := r.Context()
	query := r.URL.Query()

	clientID := query.Get("client_id")
	redirectURI := query.Get("redirect_uri")
	if clientID == "" {
		return "", oauth.ErrInvalidRequest("client_id required")
	}
	if redirectURI == "" {
		return "", oauth.ErrInvalidRequest("redirect_uri required")
	}
	switch responseType := query.Get("response_type"); responseType {
	case "code":
	case "":
		return "", oauth.ErrInvalidRequest("response_type required")
	default:
		return "", oauth.ErrUnsupportedResponseType("response_type must be code")
	}

	client, err := s.registry.FindActiveClient(ctx, clientID)
	if err != nil {
		return "", err
	}
	if !oauth.MatchRedirectURI(redirectURI, client.RedirectURIs) {
		return "", oauth.ErrInvalidRequest("redirect_uri not allowed")
	}
	target, err := url.Parse(redirectURI)
	if err != nil {
		return "", oauth.ErrInvalidRequest("malformed redirect_uri")
	}

	issued, err := s.codes.Issue(ctx, client.ClientID, redirectURI,
		query.Get("code_challenge"), query.Get("code_challenge_method"))
	if err != nil {
		return "", err
	}

	metrics.CodesIssued.Inc()
	s.logger.Debug("authorization code issued",
		zap.String("client_id", client.ClientID),
		zap.String("code_id", issued.Record.ID))
	s.emit(ctx, events.AuthorizationCodeIssued, client.ClientID, map[string]string{
		"code_id":      issued.Record.ID,
		"redirect_uri": redirectURI,
	})

	return buildRedirect(target, issued.Code, query.Get("state")), nil
}

func buildRedirect(target *url.URL, code, state string) string {
	q := target.Query()
	q.Set("code", code)
	if state != "" {
		q.Set("state", state)
	}
	target.RawQuery = q.Encode()
	return target.String()
}

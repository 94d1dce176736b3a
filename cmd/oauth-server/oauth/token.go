package oauth

import (
	"context"
	"encoding/json"
	"mime"
	"net/http"

	"go.uber.org/zap"

	"github.com/providentiaww/mcp-oauth-gateway/internal/events"
	"github.com/providentiaww/mcp-oauth-gateway/internal/metrics"
	"github.com/providentiaww/mcp-oauth-gateway/internal/oauth"
)

const (
	grantAuthorizationCode = "authorization_code"
	grantRefreshToken      = "refresh_token"

	maxTokenRequestBytes = 64 << 10
)

type tokenRequest struct {
	GrantType    string `json:"grant_type"`
	Code         string `json:"code"`
	RedirectURI  string `json:"redirect_uri"`
	RefreshToken string `json:"refresh_token"`
	CodeVerifier string `json:"code_verifier"`
	ClientID     string `json:"client_id"`
	ClientSecret string `json:"client_secret"`
}

type tokenResponse struct {
	AccessToken  string `json:"access_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int    `json:"expires_in"`
	RefreshToken string `json:"refresh_token"`
}

// HandleToken exchanges authorization codes or refresh tokens.
func (s *Server) HandleToken(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxTokenRequestBytes)

	req, err := parseTokenRequest(r)
	if err != nil {
		s.fail(w, "token", err)
		return
	}

	client, err := s.authenticateClient(r.Context(), req)
	if err != nil {
		s.fail(w, "token", err)
		return
	}

	var pair *oauth.TokenPair
	switch req.GrantType {
	case grantAuthorizationCode:
		pair, err = s.exchangeCode(r.Context(), client, req)
	case grantRefreshToken:
		pair, err = s.refresh(r.Context(), client, req)
	default:
		err = oauth.ErrUnsupportedGrantType("unsupported grant_type: " + req.GrantType)
	}
	if err != nil {
		s.fail(w, "token", err)
		return
	}

	metrics.TokensIssued.WithLabelValues(req.GrantType).Inc()
	w.Header().Set("Cache-Control", "no-store")
	w.Header().Set("Pragma", "no-cache")
	writeJSON(w, http.StatusOK, tokenResponse{
		AccessToken:  pair.AccessToken,
		TokenType:    "Bearer",
		ExpiresIn:    int(pair.ExpiresIn.Seconds()),
		RefreshToken: pair.RefreshToken,
	})
}

// parseTokenRequest reads a form or JSON body. Client credentials from an
// HTTP Basic header only fill fields the body left empty.
func parseTokenRequest(r *http.Request) (*tokenRequest, error) {
	var req tokenRequest

	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType == "application/json" {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			return nil, oauth.ErrInvalidRequest("malformed JSON body")
		}
	} else {
		if err := r.ParseForm(); err != nil {
			return nil, oauth.ErrInvalidRequest("malformed form body")
		}
		req = tokenRequest{
			GrantType:    r.PostFormValue("grant_type"),
			Code:         r.PostFormValue("code"),
			RedirectURI:  r.PostFormValue("redirect_uri"),
			RefreshToken: r.PostFormValue("refresh_token"),
			CodeVerifier: r.PostFormValue("code_verifier"),
			ClientID:     r.PostFormValue("client_id"),
			ClientSecret: r.PostFormValue("client_secret"),
		}
	}

	if id, secret, ok := r.BasicAuth(); ok {
		if req.ClientID == "" {
			req.ClientID = id
		}
		if req.ClientSecret == "" {
			req.ClientSecret = secret
		}
	}
	return &req, nil
}

// authenticateClient resolves the calling client. A supplied secret must
// match; an absent secret is accepted so public clients can redeem codes.
func (s *Server) authenticateClient(ctx context.Context, req *tokenRequest) (*oauth.Client, error) {
	if req.ClientID == "" {
		return nil, oauth.ErrInvalidClient("client_id required").WithStatus(http.StatusUnauthorized)
	}

	client, err := s.registry.FindActiveClient(ctx, req.ClientID)
	if err != nil {
		if oe, ok := oauth.AsError(err); ok {
			return nil, oe.WithStatus(http.StatusUnauthorized)
		}
		return nil, err
	}

	if req.ClientSecret != "" {
		if !s.registry.VerifySecret(client, req.ClientSecret) {
			return nil, oauth.ErrInvalidClient("client authentication failed").WithStatus(http.StatusUnauthorized)
		}
	} else if !client.IsPublic() {
		s.logger.Warn("confidential client authenticated without a secret",
			zap.String("client_id", client.ClientID),
			zap.String("grant_type", req.GrantType))
	}
	return client, nil
}

func (s *Server) exchangeCode(ctx context.Context, client *oauth.Client, req *tokenRequest) (*oauth.TokenPair, error) {
	if req.Code == "" {
		return nil, oauth.ErrInvalidRequest("code required")
	}
	code, err := s.codes.Check(ctx, req.Code, client.ClientID, req.RedirectURI)
	if err != nil {
		return nil, err
	}
	// the pair exists before the code is spent, so a failed issuance
	// leaves the code redeemable
	pair, err := s.tokens.Issue(ctx, client.ClientID)
	if err != nil {
		return nil, err
	}
	if err := s.codes.Consume(ctx, code); err != nil {
		if _, undoErr := s.tokens.Revoke(context.WithoutCancel(ctx), pair.ID); undoErr != nil {
			s.logger.Error("failed to revoke pair issued for an unspent code",
				zap.String("client_id", client.ClientID),
				zap.String("token_id", pair.ID),
				zap.Error(undoErr))
		}
		return nil, err
	}
	s.emit(ctx, events.TokenIssued, client.ClientID, map[string]string{
		"grant_type": grantAuthorizationCode,
		"code_id":    code.ID,
	})
	return pair, nil
}

func (s *Server) refresh(ctx context.Context, client *oauth.Client, req *tokenRequest) (*oauth.TokenPair, error) {
	pair, err := s.tokens.Rotate(ctx, req.RefreshToken, client.ClientID)
	if err != nil {
		return nil, err
	}
	s.emit(ctx, events.TokenRotated, client.ClientID, map[string]string{
		"grant_type": grantRefreshToken,
	})
	return pair, nil
}

package oauth

import (
	"context"
	"encoding/json"
	"net/http"

	"go.uber.org/zap"

	"github.com/providentiaww/mcp-oauth-gateway/internal/events"
	"github.com/providentiaww/mcp-oauth-gateway/internal/metrics"
	"github.com/providentiaww/mcp-oauth-gateway/internal/oauth"
	"github.com/providentiaww/mcp-oauth-gateway/pkg/mcp"
)

// Server provides the OAuth 2.0 authorization server endpoints.
type Server struct {
	cfg       oauth.Config
	registry  *oauth.Registry
	codes     *oauth.Codes
	tokens    *oauth.Tokens
	endpoints *mcp.Registry
	publisher events.Publisher
	logger    *zap.Logger
}

// NewServer creates a new OAuth server. A nil publisher drops audit events.
func NewServer(
	cfg oauth.Config,
	registry *oauth.Registry,
	codes *oauth.Codes,
	tokens *oauth.Tokens,
	endpoints *mcp.Registry,
	publisher events.Publisher,
	logger *zap.Logger,
) *Server {
	if publisher == nil {
		publisher = events.NopPublisher{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{
		cfg:       cfg,
		registry:  registry,
		codes:     codes,
		tokens:    tokens,
		endpoints: endpoints,
		publisher: publisher,
		logger:    logger.Named("oauth"),
	}
}

type errorResponse struct {
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description,omitempty"`
}

// fail writes err as an OAuth error response. Anything that is not an
// *oauth.Error is an infrastructure failure and is reported as server_error
// so callers never learn anything about credential validity from it.
func (s *Server) fail(w http.ResponseWriter, endpoint string, err error) {
	oe, ok := oauth.AsError(err)
	if !ok {
		s.logger.Error("oauth request failed",
			zap.String("endpoint", endpoint),
			zap.Error(err))
		metrics.OAuthErrors.WithLabelValues(endpoint, oauth.CodeServerError).Inc()
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: oauth.CodeServerError})
		return
	}

	s.logger.Info("oauth request rejected",
		zap.String("endpoint", endpoint),
		zap.String("error", oe.Code),
		zap.String("reason", oe.Description))
	metrics.OAuthErrors.WithLabelValues(endpoint, oe.Code).Inc()
	writeJSON(w, oe.Status, errorResponse{Error: oe.Code, ErrorDescription: oe.Description})
}

func (s *Server) emit(ctx context.Context, eventType, clientID string, attrs map[string]string) {
	// the grant already happened even if the caller has gone away
	events.Emit(context.WithoutCancel(ctx), s.publisher, s.logger, events.New(eventType, clientID, attrs))
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

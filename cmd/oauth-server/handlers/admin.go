package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/providentiaww/mcp-oauth-gateway/cmd/oauth-server/auth"
	"github.com/providentiaww/mcp-oauth-gateway/internal/events"
	"github.com/providentiaww/mcp-oauth-gateway/internal/oauth"
	"github.com/providentiaww/mcp-oauth-gateway/pkg/mcp"
)

// AdminHandler serves the operator API for client lifecycle and maintenance.
type AdminHandler struct {
	registry  *oauth.Registry
	tokens    *oauth.Tokens
	sweeper   *oauth.Sweeper
	endpoints *mcp.Registry
	publisher events.Publisher
	logger    *zap.Logger
}

// NewAdminHandler creates a new admin handler
func NewAdminHandler(
	registry *oauth.Registry,
	tokens *oauth.Tokens,
	sweeper *oauth.Sweeper,
	endpoints *mcp.Registry,
	publisher events.Publisher,
	logger *zap.Logger,
) *AdminHandler {
	if publisher == nil {
		publisher = events.NopPublisher{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AdminHandler{
		registry:  registry,
		tokens:    tokens,
		sweeper:   sweeper,
		endpoints: endpoints,
		publisher: publisher,
		logger:    logger.Named("admin"),
	}
}

// Routes mounts the admin API. Callers wrap it with the admin guard.
func (h *AdminHandler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Get("/clients", h.HandleListClients)
	r.Post("/clients", h.HandleCreateClient)
	r.Post("/clients/{clientID}/deactivate", h.HandleDeactivateClient)
	r.Post("/clients/{clientID}/revoke-tokens", h.HandleRevokeTokens)
	r.Post("/sweep", h.HandleSweep)
	r.Get("/endpoints", h.HandleListEndpoints)
	r.Post("/endpoints/{name}/activate", h.handleSetEndpointActive(true))
	r.Post("/endpoints/{name}/deactivate", h.handleSetEndpointActive(false))
	return r
}

// CreateClientRequest represents the request to register a client
type CreateClientRequest struct {
	ClientID      string   `json:"client_id"`
	Name          string   `json:"name"`
	RedirectURIs  []string `json:"redirect_uris"`
	UpstreamToken string   `json:"upstream_token"`
	Secret        string   `json:"client_secret,omitempty"`
	Public        bool     `json:"public"`
}

// ClientResponse represents a client without sensitive data
type ClientResponse struct {
	ClientID     string    `json:"client_id"`
	Name         string    `json:"name"`
	RedirectURIs []string  `json:"redirect_uris"`
	Public       bool      `json:"public"`
	Active       bool      `json:"active"`
	HasUpstream  bool      `json:"has_upstream_token"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
	// ClientSecret is only present in the registration response.
	ClientSecret string `json:"client_secret,omitempty"`
}

func toClientResponse(c *oauth.Client) ClientResponse {
	return ClientResponse{
		ClientID:     c.ClientID,
		Name:         c.Name,
		RedirectURIs: c.RedirectURIs,
		Public:       c.IsPublic(),
		Active:       c.Active,
		HasUpstream:  c.UpstreamToken != "",
		CreatedAt:    c.CreatedAt,
		UpdatedAt:    c.UpdatedAt,
	}
}

// HandleCreateClient handles POST /admin/clients
func (h *AdminHandler) HandleCreateClient(w http.ResponseWriter, r *http.Request) {
	var req CreateClientRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeMessage(w, http.StatusBadRequest, fmt.Sprintf("Invalid request body: %v", err))
		return
	}

	client, secret, err := h.registry.Register(r.Context(), oauth.ClientSpec{
		ClientID:      req.ClientID,
		Name:          req.Name,
		RedirectURIs:  req.RedirectURIs,
		UpstreamToken: req.UpstreamToken,
		Secret:        req.Secret,
		Public:        req.Public,
	})
	if err != nil {
		h.writeFailure(w, "register client", err)
		return
	}

	operator := auth.OperatorFrom(r.Context())
	h.logger.Info("client registered",
		zap.String("client_id", client.ClientID),
		zap.String("operator", operator))
	events.Emit(r.Context(), h.publisher, h.logger, events.New(events.ClientRegistered, client.ClientID, map[string]string{
		"name":     client.Name,
		"operator": operator,
	}))

	resp := toClientResponse(client)
	resp.ClientSecret = secret
	writeJSON(w, http.StatusCreated, resp)
}

// HandleListClients handles GET /admin/clients
func (h *AdminHandler) HandleListClients(w http.ResponseWriter, r *http.Request) {
	clients, err := h.registry.List(r.Context())
	if err != nil {
		h.writeFailure(w, "list clients", err)
		return
	}

	out := make([]ClientResponse, 0, len(clients))
	for _, c := range clients {
		out = append(out, toClientResponse(c))
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"clients": out})
}

// HandleDeactivateClient handles POST /admin/clients/{clientID}/deactivate.
// Tokens already issued stay valid until revoked separately.
func (h *AdminHandler) HandleDeactivateClient(w http.ResponseWriter, r *http.Request) {
	clientID := chi.URLParam(r, "clientID")
	if err := h.registry.Deactivate(r.Context(), clientID); err != nil {
		h.writeFailure(w, "deactivate client", err)
		return
	}

	operator := auth.OperatorFrom(r.Context())
	h.logger.Info("client deactivated", zap.String("client_id", clientID), zap.String("operator", operator))
	events.Emit(r.Context(), h.publisher, h.logger, events.New(events.ClientDeactivated, clientID, map[string]string{
		"operator": operator,
	}))
	writeJSON(w, http.StatusOK, map[string]interface{}{"client_id": clientID, "active": false})
}

// HandleRevokeTokens handles POST /admin/clients/{clientID}/revoke-tokens
func (h *AdminHandler) HandleRevokeTokens(w http.ResponseWriter, r *http.Request) {
	clientID := chi.URLParam(r, "clientID")
	if _, err := h.registry.GetClient(r.Context(), clientID); err != nil {
		h.writeFailure(w, "revoke tokens", err)
		return
	}

	revoked, err := h.tokens.RevokeAllForClient(r.Context(), clientID)
	if err != nil {
		h.writeFailure(w, "revoke tokens", err)
		return
	}

	operator := auth.OperatorFrom(r.Context())
	h.logger.Info("client tokens revoked",
		zap.String("client_id", clientID),
		zap.Int("revoked", revoked),
		zap.String("operator", operator))
	events.Emit(r.Context(), h.publisher, h.logger, events.New(events.ClientTokensRevoked, clientID, map[string]string{
		"revoked":  fmt.Sprint(revoked),
		"operator": operator,
	}))
	writeJSON(w, http.StatusOK, map[string]interface{}{"client_id": clientID, "revoked": revoked})
}

// HandleSweep handles POST /admin/sweep and runs one sweep pass immediately.
func (h *AdminHandler) HandleSweep(w http.ResponseWriter, r *http.Request) {
	result, err := h.sweeper.SweepExpired(r.Context())
	if err != nil {
		h.writeFailure(w, "sweep", err)
		return
	}
	events.Emit(r.Context(), h.publisher, h.logger, events.New(events.RecordsSwept, "", map[string]string{
		"codes_removed":  fmt.Sprint(result.CodesRemoved),
		"tokens_removed": fmt.Sprint(result.TokensRemoved),
		"operator":       auth.OperatorFrom(r.Context()),
	}))
	writeJSON(w, http.StatusOK, result)
}

// HandleListEndpoints handles GET /admin/endpoints
func (h *AdminHandler) HandleListEndpoints(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{"endpoints": h.endpoints.All()})
}

func (h *AdminHandler) handleSetEndpointActive(active bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		name := chi.URLParam(r, "name")
		if !h.endpoints.SetActive(name, active) {
			writeMessage(w, http.StatusNotFound, fmt.Sprintf("Endpoint not found: %s", name))
			return
		}
		h.logger.Info("endpoint updated",
			zap.String("endpoint", name),
			zap.Bool("active", active),
			zap.String("operator", auth.OperatorFrom(r.Context())))
		writeJSON(w, http.StatusOK, map[string]interface{}{"name": name, "active": active})
	}
}

func (h *AdminHandler) writeFailure(w http.ResponseWriter, action string, err error) {
	switch {
	case errors.Is(err, oauth.ErrNotFound):
		writeMessage(w, http.StatusNotFound, "Client not found")
	case errors.Is(err, oauth.ErrClientExists):
		writeMessage(w, http.StatusConflict, "Client ID already registered")
	default:
		if oe, ok := oauth.AsError(err); ok {
			writeMessage(w, oe.Status, oe.Description)
			return
		}
		h.logger.Error("admin request failed", zap.String("action", action), zap.Error(err))
		writeMessage(w, http.StatusInternalServerError, fmt.Sprintf("Failed to %s", action))
	}
}

func writeMessage(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"message": msg})
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

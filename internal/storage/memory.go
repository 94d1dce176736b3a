package storage

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/providentiaww/mcp-oauth-gateway/internal/oauth"
)

// MemoryStore keeps OAuth records in process memory. It is meant for local
// development and tests; records do not survive a restart and are not shared
// between instances.
type MemoryStore struct {
	mu      sync.RWMutex
	clients map[string]*oauth.Client
	codes   map[string]*oauth.AuthCode
	tokens  map[string]*oauth.Token
}

var _ oauth.Store = (*MemoryStore)(nil)

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		clients: make(map[string]*oauth.Client),
		codes:   make(map[string]*oauth.AuthCode),
		tokens:  make(map[string]*oauth.Token),
	}
}

func (s *MemoryStore) Ping(context.Context) error { return nil }

func (s *MemoryStore) Close() error { return nil }

func (s *MemoryStore) CreateClient(_ context.Context, client *oauth.Client) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.clients[client.ClientID]; exists {
		return oauth.ErrClientExists
	}
	cp := *client
	cp.RedirectURIs = append(oauth.RedirectURIs(nil), client.RedirectURIs...)
	s.clients[client.ClientID] = &cp
	return nil
}

func (s *MemoryStore) GetClient(_ context.Context, clientID string) (*oauth.Client, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	client, ok := s.clients[clientID]
	if !ok {
		return nil, oauth.ErrNotFound
	}
	cp := *client
	return &cp, nil
}

func (s *MemoryStore) ListClients(context.Context) ([]*oauth.Client, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	clients := make([]*oauth.Client, 0, len(s.clients))
	for _, c := range s.clients {
		cp := *c
		clients = append(clients, &cp)
	}
	sort.Slice(clients, func(i, j int) bool { return clients[i].ClientID < clients[j].ClientID })
	return clients, nil
}

func (s *MemoryStore) SetClientActive(_ context.Context, clientID string, active bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	client, ok := s.clients[clientID]
	if !ok {
		return oauth.ErrNotFound
	}
	client.Active = active
	client.UpdatedAt = time.Now()
	return nil
}

func (s *MemoryStore) CreateAuthCode(_ context.Context, code *oauth.AuthCode) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cp := *code
	s.codes[code.ID] = &cp
	return nil
}

func (s *MemoryStore) FindUnusedAuthCode(_ context.Context, codeHash, clientID string) (*oauth.AuthCode, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, code := range s.codes {
		if code.CodeHash == codeHash && code.ClientID == clientID && !code.Used {
			cp := *code
			return &cp, nil
		}
	}
	return nil, oauth.ErrNotFound
}

func (s *MemoryStore) MarkAuthCodeUsed(_ context.Context, id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	code, ok := s.codes[id]
	if !ok || code.Used {
		return false, nil
	}
	code.Used = true
	return true, nil
}

func (s *MemoryStore) DeleteExpiredAuthCodes(_ context.Context, before time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for id, code := range s.codes {
		if code.ExpiresAt.Before(before) {
			delete(s.codes, id)
			removed++
		}
	}
	return removed, nil
}

func (s *MemoryStore) CreateToken(_ context.Context, token *oauth.Token) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cp := *token
	s.tokens[token.ID] = &cp
	return nil
}

func (s *MemoryStore) FindActiveTokenByAccess(_ context.Context, accessHash string) (*oauth.Token, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, t := range s.tokens {
		if t.AccessTokenHash == accessHash && !t.Revoked {
			cp := *t
			return &cp, nil
		}
	}
	return nil, oauth.ErrNotFound
}

func (s *MemoryStore) FindActiveTokenByRefresh(_ context.Context, refreshHash, clientID string) (*oauth.Token, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, t := range s.tokens {
		if t.RefreshTokenHash == refreshHash && t.ClientID == clientID && !t.Revoked {
			cp := *t
			return &cp, nil
		}
	}
	return nil, oauth.ErrNotFound
}

func (s *MemoryStore) RevokeToken(_ context.Context, id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.tokens[id]
	if !ok || t.Revoked {
		return false, nil
	}
	t.Revoked = true
	return true, nil
}

func (s *MemoryStore) RevokeClientTokens(_ context.Context, clientID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	revoked := 0
	for _, t := range s.tokens {
		if t.ClientID == clientID && !t.Revoked {
			t.Revoked = true
			revoked++
		}
	}
	return revoked, nil
}

func (s *MemoryStore) DeleteExpiredTokens(_ context.Context, before time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for id, t := range s.tokens {
		if t.RefreshExpiresAt.Before(before) {
			delete(s.tokens, id)
			removed++
		}
	}
	return removed, nil
}

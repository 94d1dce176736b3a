package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/providentiaww/mcp-oauth-gateway/internal/oauth"
)

// Default timeouts for Redis operations.
const (
	DefaultDialTimeout  = 5 * time.Second
	DefaultReadTimeout  = 3 * time.Second
	DefaultWriteTimeout = 3 * time.Second
)

// Key types used to build namespaced Redis keys.
const (
	keyTypeClient       = "client"
	keyTypeClientSet    = "clients"
	keyTypeCode         = "code"
	keyTypeCodeHash     = "code_hash"
	keyTypeCodeUsed     = "code_used"
	keyTypeCodeExpiry   = "code_expiry"
	keyTypeToken        = "token"
	keyTypeAccessHash   = "access_hash"
	keyTypeRefreshHash  = "refresh_hash"
	keyTypeTokenRevoked = "token_revoked"
	keyTypeTokenExpiry  = "token_expiry"
	keyTypeClientTokens = "client_tokens"
)

// RedisConfig holds connection settings for the Redis backend.
type RedisConfig struct {
	Addr     string
	Username string
	Password string
	DB       int

	// KeyPrefix namespaces every key, e.g. "mcp-oauth:".
	KeyPrefix string

	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// RedisStore persists OAuth records in Redis so several gateway instances can
// share state. Single-use transitions set a flag key with a Lua script that
// checks the record and the flag in one atomic step.
type RedisStore struct {
	client    redis.UniversalClient
	keyPrefix string
}

var _ oauth.Store = (*RedisStore)(nil)

// NewRedisStore connects to Redis and verifies the connection.
func NewRedisStore(ctx context.Context, cfg RedisConfig) (*RedisStore, error) {
	if cfg.Addr == "" {
		return nil, errors.New("redis address is required")
	}
	if cfg.DialTimeout == 0 {
		cfg.DialTimeout = DefaultDialTimeout
	}
	if cfg.ReadTimeout == 0 {
		cfg.ReadTimeout = DefaultReadTimeout
	}
	if cfg.WriteTimeout == 0 {
		cfg.WriteTimeout = DefaultWriteTimeout
	}

	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Username:     cfg.Username,
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	return NewRedisStoreWithClient(client, cfg.KeyPrefix), nil
}

// NewRedisStoreWithClient wraps a pre-configured client. Tests use it with
// miniredis.
func NewRedisStoreWithClient(client redis.UniversalClient, keyPrefix string) *RedisStore {
	return &RedisStore{client: client, keyPrefix: keyPrefix}
}

func (s *RedisStore) key(keyType, id string) string {
	return s.keyPrefix + keyType + ":" + id
}

func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}

// -----------------------
// Clients
// -----------------------

type storedClient struct {
	ClientID      string   `json:"client_id"`
	ClientSecret  string   `json:"client_secret,omitempty"`
	RedirectURIs  []string `json:"redirect_uris"`
	UpstreamToken string   `json:"upstream_token,omitempty"`
	Name          string   `json:"client_name,omitempty"`
	Active        bool     `json:"active"`
	CreatedAt     int64    `json:"created_at"`
	UpdatedAt     int64    `json:"updated_at"`
}

func toStoredClient(c *oauth.Client) storedClient {
	return storedClient{
		ClientID:      c.ClientID,
		ClientSecret:  c.ClientSecret,
		RedirectURIs:  c.RedirectURIs,
		UpstreamToken: c.UpstreamToken,
		Name:          c.Name,
		Active:        c.Active,
		CreatedAt:     c.CreatedAt.UnixNano(),
		UpdatedAt:     c.UpdatedAt.UnixNano(),
	}
}

func (sc storedClient) client() *oauth.Client {
	return &oauth.Client{
		ClientID:      sc.ClientID,
		ClientSecret:  sc.ClientSecret,
		RedirectURIs:  sc.RedirectURIs,
		UpstreamToken: sc.UpstreamToken,
		Name:          sc.Name,
		Active:        sc.Active,
		CreatedAt:     time.Unix(0, sc.CreatedAt),
		UpdatedAt:     time.Unix(0, sc.UpdatedAt),
	}
}

func (s *RedisStore) CreateClient(ctx context.Context, client *oauth.Client) error {
	data, err := json.Marshal(toStoredClient(client))
	if err != nil {
		return fmt.Errorf("failed to marshal client: %w", err)
	}

	created, err := s.client.SetNX(ctx, s.key(keyTypeClient, client.ClientID), data, 0).Result()
	if err != nil {
		return fmt.Errorf("failed to create client: %w", err)
	}
	if !created {
		return oauth.ErrClientExists
	}
	if err := s.client.SAdd(ctx, s.key(keyTypeClientSet, "all"), client.ClientID).Err(); err != nil {
		return fmt.Errorf("failed to index client: %w", err)
	}
	return nil
}

func (s *RedisStore) GetClient(ctx context.Context, clientID string) (*oauth.Client, error) {
	data, err := s.client.Get(ctx, s.key(keyTypeClient, clientID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, oauth.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get client: %w", err)
	}

	var stored storedClient
	if err := json.Unmarshal(data, &stored); err != nil {
		return nil, fmt.Errorf("failed to unmarshal client: %w", err)
	}
	return stored.client(), nil
}

func (s *RedisStore) ListClients(ctx context.Context) ([]*oauth.Client, error) {
	ids, err := s.client.SMembers(ctx, s.key(keyTypeClientSet, "all")).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list clients: %w", err)
	}
	sort.Strings(ids)

	clients := make([]*oauth.Client, 0, len(ids))
	for _, id := range ids {
		c, err := s.GetClient(ctx, id)
		if errors.Is(err, oauth.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		clients = append(clients, c)
	}
	return clients, nil
}

func (s *RedisStore) SetClientActive(ctx context.Context, clientID string, active bool) error {
	c, err := s.GetClient(ctx, clientID)
	if err != nil {
		return err
	}
	c.Active = active
	c.UpdatedAt = time.Now()

	data, err := json.Marshal(toStoredClient(c))
	if err != nil {
		return fmt.Errorf("failed to marshal client: %w", err)
	}
	if err := s.client.Set(ctx, s.key(keyTypeClient, clientID), data, 0).Err(); err != nil {
		return fmt.Errorf("failed to update client: %w", err)
	}
	return nil
}

// -----------------------
// Authorization codes
// -----------------------

type storedCode struct {
	ID                  string `json:"id"`
	CodeHash            string `json:"code_hash"`
	ClientID            string `json:"client_id"`
	RedirectURI         string `json:"redirect_uri"`
	CodeChallenge       string `json:"code_challenge,omitempty"`
	CodeChallengeMethod string `json:"code_challenge_method,omitempty"`
	CreatedAt           int64  `json:"created_at"`
	ExpiresAt           int64  `json:"expires_at"`
}

func (s *RedisStore) CreateAuthCode(ctx context.Context, code *oauth.AuthCode) error {
	data, err := json.Marshal(storedCode{
		ID:                  code.ID,
		CodeHash:            code.CodeHash,
		ClientID:            code.ClientID,
		RedirectURI:         code.RedirectURI,
		CodeChallenge:       code.CodeChallenge,
		CodeChallengeMethod: code.CodeChallengeMethod,
		CreatedAt:           code.CreatedAt.UnixNano(),
		ExpiresAt:           code.ExpiresAt.UnixNano(),
	})
	if err != nil {
		return fmt.Errorf("failed to marshal authorization code: %w", err)
	}

	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, s.key(keyTypeCode, code.ID), data, 0)
		pipe.Set(ctx, s.key(keyTypeCodeHash, code.CodeHash), code.ID, 0)
		pipe.ZAdd(ctx, s.key(keyTypeCodeExpiry, "all"), redis.Z{
			Score:  float64(code.ExpiresAt.UnixMilli()),
			Member: code.ID,
		})
		if code.Used {
			pipe.Set(ctx, s.key(keyTypeCodeUsed, code.ID), "1", 0)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to store authorization code: %w", err)
	}
	return nil
}

func (s *RedisStore) loadCode(ctx context.Context, id string) (*oauth.AuthCode, error) {
	data, err := s.client.Get(ctx, s.key(keyTypeCode, id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, oauth.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get authorization code: %w", err)
	}
	var stored storedCode
	if err := json.Unmarshal(data, &stored); err != nil {
		return nil, fmt.Errorf("failed to unmarshal authorization code: %w", err)
	}

	used, err := s.client.Exists(ctx, s.key(keyTypeCodeUsed, id)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to check authorization code: %w", err)
	}
	return &oauth.AuthCode{
		ID:                  stored.ID,
		CodeHash:            stored.CodeHash,
		ClientID:            stored.ClientID,
		RedirectURI:         stored.RedirectURI,
		CodeChallenge:       stored.CodeChallenge,
		CodeChallengeMethod: stored.CodeChallengeMethod,
		Used:                used > 0,
		CreatedAt:           time.Unix(0, stored.CreatedAt),
		ExpiresAt:           time.Unix(0, stored.ExpiresAt),
	}, nil
}

func (s *RedisStore) FindUnusedAuthCode(ctx context.Context, codeHash, clientID string) (*oauth.AuthCode, error) {
	id, err := s.client.Get(ctx, s.key(keyTypeCodeHash, codeHash)).Result()
	if errors.Is(err, redis.Nil) {
		return nil, oauth.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to look up authorization code: %w", err)
	}

	code, err := s.loadCode(ctx, id)
	if err != nil {
		return nil, err
	}
	if code.Used || code.ClientID != clientID {
		return nil, oauth.ErrNotFound
	}
	return code, nil
}

// setFlagIfRecordScript sets the flag key KEYS[2] only while the record
// KEYS[1] exists and the flag is not yet set, so a sweep deleting the record
// cannot interleave and leave an orphaned flag behind.
// Returns 1 when this call set the flag, 0 otherwise.
var setFlagIfRecordScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 0 then
	return 0
end
if redis.call('SET', KEYS[2], '1', 'NX') then
	return 1
end
return 0
`)

func (s *RedisStore) setFlagIfRecord(ctx context.Context, recordKey, flagKey string) (bool, error) {
	won, err := setFlagIfRecordScript.Run(ctx, s.client, []string{recordKey, flagKey}).Int()
	if err != nil {
		return false, err
	}
	return won == 1, nil
}

func (s *RedisStore) MarkAuthCodeUsed(ctx context.Context, id string) (bool, error) {
	won, err := s.setFlagIfRecord(ctx, s.key(keyTypeCode, id), s.key(keyTypeCodeUsed, id))
	if err != nil {
		return false, fmt.Errorf("failed to mark authorization code used: %w", err)
	}
	return won, nil
}

func (s *RedisStore) DeleteExpiredAuthCodes(ctx context.Context, before time.Time) (int, error) {
	expiryKey := s.key(keyTypeCodeExpiry, "all")
	ids, err := s.expiredMembers(ctx, expiryKey, before)
	if err != nil {
		return 0, err
	}

	removed := 0
	for _, id := range ids {
		code, err := s.loadCode(ctx, id)
		if err != nil && !errors.Is(err, oauth.ErrNotFound) {
			return removed, err
		}
		_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Del(ctx, s.key(keyTypeCode, id), s.key(keyTypeCodeUsed, id))
			if code != nil {
				pipe.Del(ctx, s.key(keyTypeCodeHash, code.CodeHash))
			}
			pipe.ZRem(ctx, expiryKey, id)
			return nil
		})
		if err != nil {
			return removed, fmt.Errorf("failed to delete authorization code: %w", err)
		}
		if code != nil {
			removed++
		}
	}
	return removed, nil
}

// -----------------------
// Tokens
// -----------------------

type storedToken struct {
	ID               string `json:"id"`
	AccessTokenHash  string `json:"access_token_hash"`
	RefreshTokenHash string `json:"refresh_token_hash"`
	ClientID         string `json:"client_id"`
	AccessExpiresAt  int64  `json:"access_expires_at"`
	RefreshExpiresAt int64  `json:"refresh_expires_at"`
	CreatedAt        int64  `json:"created_at"`
}

func (s *RedisStore) CreateToken(ctx context.Context, token *oauth.Token) error {
	data, err := json.Marshal(storedToken{
		ID:               token.ID,
		AccessTokenHash:  token.AccessTokenHash,
		RefreshTokenHash: token.RefreshTokenHash,
		ClientID:         token.ClientID,
		AccessExpiresAt:  token.AccessExpiresAt.UnixNano(),
		RefreshExpiresAt: token.RefreshExpiresAt.UnixNano(),
		CreatedAt:        token.CreatedAt.UnixNano(),
	})
	if err != nil {
		return fmt.Errorf("failed to marshal token: %w", err)
	}

	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, s.key(keyTypeToken, token.ID), data, 0)
		pipe.Set(ctx, s.key(keyTypeAccessHash, token.AccessTokenHash), token.ID, 0)
		pipe.Set(ctx, s.key(keyTypeRefreshHash, token.RefreshTokenHash), token.ID, 0)
		pipe.SAdd(ctx, s.key(keyTypeClientTokens, token.ClientID), token.ID)
		pipe.ZAdd(ctx, s.key(keyTypeTokenExpiry, "all"), redis.Z{
			Score:  float64(token.RefreshExpiresAt.UnixMilli()),
			Member: token.ID,
		})
		if token.Revoked {
			pipe.Set(ctx, s.key(keyTypeTokenRevoked, token.ID), "1", 0)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to store token: %w", err)
	}
	return nil
}

func (s *RedisStore) loadToken(ctx context.Context, id string) (*oauth.Token, error) {
	data, err := s.client.Get(ctx, s.key(keyTypeToken, id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, oauth.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get token: %w", err)
	}
	var stored storedToken
	if err := json.Unmarshal(data, &stored); err != nil {
		return nil, fmt.Errorf("failed to unmarshal token: %w", err)
	}

	revoked, err := s.client.Exists(ctx, s.key(keyTypeTokenRevoked, id)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to check token: %w", err)
	}
	return &oauth.Token{
		ID:               stored.ID,
		AccessTokenHash:  stored.AccessTokenHash,
		RefreshTokenHash: stored.RefreshTokenHash,
		ClientID:         stored.ClientID,
		AccessExpiresAt:  time.Unix(0, stored.AccessExpiresAt),
		RefreshExpiresAt: time.Unix(0, stored.RefreshExpiresAt),
		Revoked:          revoked > 0,
		CreatedAt:        time.Unix(0, stored.CreatedAt),
	}, nil
}

func (s *RedisStore) findTokenBy(ctx context.Context, keyType, hash string) (*oauth.Token, error) {
	id, err := s.client.Get(ctx, s.key(keyType, hash)).Result()
	if errors.Is(err, redis.Nil) {
		return nil, oauth.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to look up token: %w", err)
	}
	token, err := s.loadToken(ctx, id)
	if err != nil {
		return nil, err
	}
	if token.Revoked {
		return nil, oauth.ErrNotFound
	}
	return token, nil
}

func (s *RedisStore) FindActiveTokenByAccess(ctx context.Context, accessHash string) (*oauth.Token, error) {
	return s.findTokenBy(ctx, keyTypeAccessHash, accessHash)
}

func (s *RedisStore) FindActiveTokenByRefresh(ctx context.Context, refreshHash, clientID string) (*oauth.Token, error) {
	token, err := s.findTokenBy(ctx, keyTypeRefreshHash, refreshHash)
	if err != nil {
		return nil, err
	}
	if token.ClientID != clientID {
		return nil, oauth.ErrNotFound
	}
	return token, nil
}

func (s *RedisStore) RevokeToken(ctx context.Context, id string) (bool, error) {
	won, err := s.setFlagIfRecord(ctx, s.key(keyTypeToken, id), s.key(keyTypeTokenRevoked, id))
	if err != nil {
		return false, fmt.Errorf("failed to revoke token: %w", err)
	}
	return won, nil
}

func (s *RedisStore) RevokeClientTokens(ctx context.Context, clientID string) (int, error) {
	ids, err := s.client.SMembers(ctx, s.key(keyTypeClientTokens, clientID)).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to list client tokens: %w", err)
	}

	revoked := 0
	for _, id := range ids {
		won, err := s.RevokeToken(ctx, id)
		if err != nil {
			return revoked, err
		}
		if won {
			revoked++
		}
	}
	return revoked, nil
}

func (s *RedisStore) DeleteExpiredTokens(ctx context.Context, before time.Time) (int, error) {
	expiryKey := s.key(keyTypeTokenExpiry, "all")
	ids, err := s.expiredMembers(ctx, expiryKey, before)
	if err != nil {
		return 0, err
	}

	removed := 0
	for _, id := range ids {
		token, err := s.loadToken(ctx, id)
		if err != nil && !errors.Is(err, oauth.ErrNotFound) {
			return removed, err
		}
		_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Del(ctx, s.key(keyTypeToken, id), s.key(keyTypeTokenRevoked, id))
			if token != nil {
				pipe.Del(ctx,
					s.key(keyTypeAccessHash, token.AccessTokenHash),
					s.key(keyTypeRefreshHash, token.RefreshTokenHash))
				pipe.SRem(ctx, s.key(keyTypeClientTokens, token.ClientID), id)
			}
			pipe.ZRem(ctx, expiryKey, id)
			return nil
		})
		if err != nil {
			return removed, fmt.Errorf("failed to delete token: %w", err)
		}
		if token != nil {
			removed++
		}
	}
	return removed, nil
}

// expiredMembers returns the ids scored strictly before the cutoff.
func (s *RedisStore) expiredMembers(ctx context.Context, key string, before time.Time) ([]string, error) {
	ids, err := s.client.ZRangeByScore(ctx, key, &redis.ZRangeBy{
		Min: "-inf",
		Max: "(" + strconv.FormatInt(before.UnixMilli(), 10),
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to scan expiry index: %w", err)
	}
	return ids, nil
}

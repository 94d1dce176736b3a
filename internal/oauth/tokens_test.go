package oauth_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/providentiaww/mcp-oauth-gateway/internal/oauth"
	"github.com/providentiaww/mcp-oauth-gateway/internal/storage"
)

func TestTokensIssueAndValidate(t *testing.T) {
	t.Parallel()
	store := storage.NewMemoryStore()
	tokens := oauth.NewTokens(store, time.Hour, 30*24*time.Hour)
	ctx := context.Background()

	pair, err := tokens.Issue(ctx, "acme")
	require.NoError(t, err)
	assert.Len(t, pair.AccessToken, 64)
	assert.Len(t, pair.RefreshToken, 64)
	assert.NotEqual(t, pair.AccessToken, pair.RefreshToken)
	assert.Equal(t, time.Hour, pair.ExpiresIn)

	record, err := tokens.ValidateAccess(ctx, pair.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, "acme", record.ClientID)
	assert.Equal(t, oauth.HashToken("access:"+pair.AccessToken), record.AccessTokenHash)
	assert.Equal(t, oauth.HashToken("refresh:"+pair.RefreshToken), record.RefreshTokenHash)

	// a refresh token is not an access token
	_, err = tokens.ValidateAccess(ctx, pair.RefreshToken)
	assert.ErrorIs(t, err, oauth.ErrNotFound)

	_, err = tokens.ValidateAccess(ctx, "")
	assert.ErrorIs(t, err, oauth.ErrNotFound)
}

func TestTokensValidateExpired(t *testing.T) {
	t.Parallel()
	tokens := oauth.NewTokens(storage.NewMemoryStore(), time.Hour, 24*time.Hour)
	ctx := context.Background()

	pair, err := tokens.Issue(ctx, "acme")
	require.NoError(t, err)

	tokens.SetClock(func() time.Time { return time.Now().Add(61 * time.Minute) })
	_, err = tokens.ValidateAccess(ctx, pair.AccessToken)
	assert.ErrorIs(t, err, oauth.ErrNotFound)

	// refresh still works after the access half expired
	_, err = tokens.Rotate(ctx, pair.RefreshToken, "acme")
	assert.NoError(t, err)
}

func TestTokensRotate(t *testing.T) {
	t.Parallel()
	tokens := oauth.NewTokens(storage.NewMemoryStore(), time.Hour, 24*time.Hour)
	ctx := context.Background()

	first, err := tokens.Issue(ctx, "acme")
	require.NoError(t, err)

	second, err := tokens.Rotate(ctx, first.RefreshToken, "acme")
	require.NoError(t, err)
	assert.NotEqual(t, first.AccessToken, second.AccessToken)
	assert.NotEqual(t, first.RefreshToken, second.RefreshToken)

	_, err = tokens.ValidateAccess(ctx, first.AccessToken)
	assert.ErrorIs(t, err, oauth.ErrNotFound, "rotation revokes the old access token")

	_, err = tokens.ValidateAccess(ctx, second.AccessToken)
	assert.NoError(t, err)

	_, err = tokens.Rotate(ctx, first.RefreshToken, "acme")
	requireOAuthError(t, err, oauth.CodeInvalidGrant)
}

func TestTokensRotateFailures(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	t.Run("empty", func(t *testing.T) {
		t.Parallel()
		tokens := oauth.NewTokens(storage.NewMemoryStore(), time.Hour, 24*time.Hour)
		_, err := tokens.Rotate(ctx, "", "acme")
		requireOAuthError(t, err, oauth.CodeInvalidRequest)
	})

	t.Run("other client", func(t *testing.T) {
		t.Parallel()
		tokens := oauth.NewTokens(storage.NewMemoryStore(), time.Hour, 24*time.Hour)
		pair, err := tokens.Issue(ctx, "acme")
		require.NoError(t, err)
		_, err = tokens.Rotate(ctx, pair.RefreshToken, "mallory")
		requireOAuthError(t, err, oauth.CodeInvalidGrant)
	})

	t.Run("expired refresh", func(t *testing.T) {
		t.Parallel()
		tokens := oauth.NewTokens(storage.NewMemoryStore(), time.Hour, 24*time.Hour)
		pair, err := tokens.Issue(ctx, "acme")
		require.NoError(t, err)
		tokens.SetClock(func() time.Time { return time.Now().Add(25 * time.Hour) })
		_, err = tokens.Rotate(ctx, pair.RefreshToken, "acme")
		oe := requireOAuthError(t, err, oauth.CodeInvalidGrant)
		assert.Contains(t, oe.Description, "expired")
	})
}

func TestTokensRotateConcurrent(t *testing.T) {
	t.Parallel()
	tokens := oauth.NewTokens(storage.NewMemoryStore(), time.Hour, 24*time.Hour)
	ctx := context.Background()

	pair, err := tokens.Issue(ctx, "acme")
	require.NoError(t, err)

	var wins atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := tokens.Rotate(ctx, pair.RefreshToken, "acme"); err == nil {
				wins.Add(1)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), wins.Load())

	// pairs minted by the losing rotations are revoked again
	live, err := tokens.RevokeAllForClient(ctx, "acme")
	require.NoError(t, err)
	assert.Equal(t, 1, live)
}

// flakyTokenStore fails the chosen operations while its switches are on.
type flakyTokenStore struct {
	oauth.TokenStore
	failCreate atomic.Bool
	failRevoke atomic.Bool
}

func (s *flakyTokenStore) CreateToken(ctx context.Context, token *oauth.Token) error {
	if s.failCreate.Load() {
		return errors.New("write timeout")
	}
	return s.TokenStore.CreateToken(ctx, token)
}

func (s *flakyTokenStore) RevokeToken(ctx context.Context, id string) (bool, error) {
	if s.failRevoke.Load() {
		return false, errors.New("write timeout")
	}
	return s.TokenStore.RevokeToken(ctx, id)
}

func TestTokensRotateKeepsOldPairOnStoreFailure(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	t.Run("issue fails", func(t *testing.T) {
		t.Parallel()
		store := &flakyTokenStore{TokenStore: storage.NewMemoryStore()}
		tokens := oauth.NewTokens(store, time.Hour, 24*time.Hour)
		pair, err := tokens.Issue(ctx, "acme")
		require.NoError(t, err)

		store.failCreate.Store(true)
		_, err = tokens.Rotate(ctx, pair.RefreshToken, "acme")
		require.Error(t, err)
		_, isOAuth := oauth.AsError(err)
		assert.False(t, isOAuth)

		_, err = tokens.ValidateAccess(ctx, pair.AccessToken)
		assert.NoError(t, err, "old pair stays live")

		store.failCreate.Store(false)
		_, err = tokens.Rotate(ctx, pair.RefreshToken, "acme")
		assert.NoError(t, err, "old refresh token is still usable")
	})

	t.Run("revoke fails", func(t *testing.T) {
		t.Parallel()
		mem := storage.NewMemoryStore()
		store := &flakyTokenStore{TokenStore: mem}
		tokens := oauth.NewTokens(store, time.Hour, 24*time.Hour)
		pair, err := tokens.Issue(ctx, "acme")
		require.NoError(t, err)

		store.failRevoke.Store(true)
		_, err = tokens.Rotate(ctx, pair.RefreshToken, "acme")
		require.Error(t, err)

		_, err = tokens.ValidateAccess(ctx, pair.AccessToken)
		assert.NoError(t, err, "old pair stays live")

		// the undo could not run either, so the unreturned pair is still stored
		n, err := oauth.NewTokens(mem, time.Hour, 24*time.Hour).RevokeAllForClient(ctx, "acme")
		require.NoError(t, err)
		assert.Equal(t, 2, n)
	})
}

func TestTokensRevoke(t *testing.T) {
	t.Parallel()
	tokens := oauth.NewTokens(storage.NewMemoryStore(), time.Hour, 24*time.Hour)
	ctx := context.Background()

	pair, err := tokens.Issue(ctx, "acme")
	require.NoError(t, err)
	require.NotEmpty(t, pair.ID)

	won, err := tokens.Revoke(ctx, pair.ID)
	require.NoError(t, err)
	assert.True(t, won)
	won, err = tokens.Revoke(ctx, pair.ID)
	require.NoError(t, err)
	assert.False(t, won)

	_, err = tokens.ValidateAccess(ctx, pair.AccessToken)
	assert.ErrorIs(t, err, oauth.ErrNotFound)
}

func TestTokensRevokeAllForClient(t *testing.T) {
	t.Parallel()
	tokens := oauth.NewTokens(storage.NewMemoryStore(), time.Hour, 24*time.Hour)
	ctx := context.Background()

	a1, err := tokens.Issue(ctx, "acme")
	require.NoError(t, err)
	_, err = tokens.Issue(ctx, "acme")
	require.NoError(t, err)
	b1, err := tokens.Issue(ctx, "beta")
	require.NoError(t, err)

	n, err := tokens.RevokeAllForClient(ctx, "acme")
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	_, err = tokens.ValidateAccess(ctx, a1.AccessToken)
	assert.ErrorIs(t, err, oauth.ErrNotFound)
	_, err = tokens.ValidateAccess(ctx, b1.AccessToken)
	assert.NoError(t, err)
}

type failingTokenStore struct {
	oauth.TokenStore
}

func (failingTokenStore) FindActiveTokenByAccess(context.Context, string) (*oauth.Token, error) {
	return nil, errors.New("timeout")
}

func TestTokensValidateStoreError(t *testing.T) {
	t.Parallel()
	tokens := oauth.NewTokens(failingTokenStore{}, time.Hour, time.Hour)

	_, err := tokens.ValidateAccess(context.Background(), "abc")
	require.Error(t, err)
	assert.False(t, errors.Is(err, oauth.ErrNotFound))
}

package cli

import (
	"bytes"
	"context"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/providentiaww/mcp-oauth-gateway/cmd/oauth-server/auth"
	"github.com/providentiaww/mcp-oauth-gateway/internal/config"
	"github.com/providentiaww/mcp-oauth-gateway/internal/events"
	"github.com/providentiaww/mcp-oauth-gateway/internal/oauth"
	"github.com/providentiaww/mcp-oauth-gateway/internal/storage"
)

func TestOpenPublisher(t *testing.T) {
	p, err := openPublisher(config.EventsConfig{}, zap.NewNop())
	require.NoError(t, err)
	assert.IsType(t, events.NopPublisher{}, p)

	p, err = openPublisher(config.EventsConfig{Driver: "LOG"}, zap.NewNop())
	require.NoError(t, err)
	assert.IsType(t, &events.LogPublisher{}, p)

	_, err = openPublisher(config.EventsConfig{Driver: "kafka"}, zap.NewNop())
	assert.ErrorContains(t, err, `unknown events driver "kafka"`)
}

func TestSeedClientsIsIdempotent(t *testing.T) {
	ctx := testContext(t)
	registry := oauth.NewRegistry(storage.NewMemoryStore())
	seeds := []config.ClientConfig{
		{ClientID: "claude", Public: true, RedirectURIs: oauth.RedirectURIs{"https://claude.ai/api/mcp/auth_callback"}},
		{ClientID: "acme", Secret: "s3cret", RedirectURIs: oauth.RedirectURIs{"https://acme.test/cb"}},
	}

	require.NoError(t, seedClients(ctx, registry, seeds, zap.NewNop()))
	require.NoError(t, seedClients(ctx, registry, seeds, zap.NewNop()))

	clients, err := registry.List(ctx)
	require.NoError(t, err)
	assert.Len(t, clients, 2)

	acme, err := registry.FindActiveClient(ctx, "acme")
	require.NoError(t, err)
	assert.True(t, registry.VerifySecret(acme, "s3cret"))
}

func TestSeedClientsRejectsInvalidRedirect(t *testing.T) {
	registry := oauth.NewRegistry(storage.NewMemoryStore())
	err := seedClients(testContext(t), registry, []config.ClientConfig{
		{ClientID: "bad", Public: true, RedirectURIs: oauth.RedirectURIs{"not a url"}},
	}, zap.NewNop())
	assert.ErrorContains(t, err, "seeding client bad")
}

func TestAdminTokenCommand(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("AWS_SECRETS_MANAGER_SECRET_ID", "")
	t.Setenv("AWS_SECRET_ID", "")
	t.Setenv("ENV_FILE_PATH", "")
	t.Setenv("OAUTH_ADMIN_JWT_SECRET", adminSecret)

	var out bytes.Buffer
	rootCmd.SetOut(&out)
	t.Cleanup(func() {
		rootCmd.SetOut(nil)
		rootCmd.SetArgs(nil)
	})
	rootCmd.SetArgs([]string{
		"admin-token", "--subject", "ops@example.com",
		"--config", filepath.Join(dir, "config.yaml"),
		"--env-file", filepath.Join(dir, ".env"),
		"--log-level", "error",
	})
	require.NoError(t, Execute())

	subject, err := auth.NewAdminGuard(adminSecret, nil).Verify(strings.TrimSpace(out.String()))
	require.NoError(t, err)
	assert.Equal(t, "ops@example.com", subject)
}

func TestVersionCommand(t *testing.T) {
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetArgs([]string{"version"})
	t.Cleanup(func() {
		rootCmd.SetOut(nil)
		rootCmd.SetArgs(nil)
	})

	require.NoError(t, Execute())
	assert.Equal(t, "oauth-server dev\n", out.String())
}

func TestLoadEnvironmentLogsEnvLoading(t *testing.T) {
	dir := t.TempDir()
	envPath := filepath.Join(dir, ".env")
	t.Setenv("AWS_SECRETS_MANAGER_SECRET_ID", "")
	t.Setenv("AWS_SECRET_ID", "")
	t.Setenv("ENV_FILE_PATH", "")
	t.Setenv("KUBERNETES_SERVICE_HOST", "")

	core, logs := observer.New(zap.DebugLevel)
	restore := newBootstrapLogger
	newBootstrapLogger = func(string) (*zap.Logger, error) { return zap.New(core), nil }
	oldConfig, oldEnv := flagConfig, flagEnvFile
	flagConfig, flagEnvFile = filepath.Join(dir, "config.yaml"), envPath
	t.Cleanup(func() {
		newBootstrapLogger = restore
		flagConfig, flagEnvFile = oldConfig, oldEnv
	})

	env, err := loadEnvironment(testContext(t))
	require.NoError(t, err)
	_ = env.logger.Sync()

	notices := logs.FilterMessage(".env file not found, using system environment").All()
	require.Len(t, notices, 1)
	assert.Equal(t, "env", notices[0].LoggerName)
	assert.Equal(t, envPath, notices[0].ContextMap()["path"])
}

// testContext returns a context canceled when the test finishes (t.Context
// equivalent for toolchains older than Go 1.24).
func testContext(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	return ctx
}

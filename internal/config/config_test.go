package config

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const sampleConfig = `
server:
  addr: ":8080"
  shutdown_timeout: 3s
  log_level: debug
storage:
  driver: redis
  redis:
    addr: localhost:6379
    key_prefix: "gw:"
events:
  driver: none
rate_limit:
  token_rps: 1.5
  token_burst: 3
endpoints:
  - name: jira
    upstream_url: http://jira-service:8081
  - name: confluence
    upstream_url: http://confluence-service:8082
    active: false
clients:
  - client_id: claude
    public: true
    redirect_uris:
      - https://claude.ai/api/mcp/auth_callback
      - https://g-*.claude.ai/cb
  - client_id: acme
    secret: s3cret
    redirect_uris: https://acme.test/cb
    upstream_token: atl-token
`

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{"PORT", "LOG_LEVEL", "STORAGE_DRIVER", "DATABASE_URL", "REDIS_ADDR", "REDIS_PASSWORD", "RABBITMQ_URL"} {
		t.Setenv(key, "")
	}
}

func TestLoadFile(t *testing.T) {
	clearEnv(t)

	cfg, err := Load(writeConfig(t, sampleConfig), false)
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.Server.Addr)
	assert.Equal(t, 3*time.Second, cfg.Server.ShutdownTimeout)
	assert.Equal(t, 15*time.Second, cfg.Server.ReadTimeout, "unset fields keep defaults")
	assert.Equal(t, "redis", cfg.Storage.Driver)
	assert.Equal(t, "gw:", cfg.Storage.Redis.KeyPrefix)
	assert.Equal(t, 1.5, cfg.RateLimit.TokenRPS)

	require.Len(t, cfg.Endpoints, 2)
	assert.True(t, cfg.Endpoints[0].IsActive())
	assert.False(t, cfg.Endpoints[1].IsActive())

	require.Len(t, cfg.Clients, 2)
	assert.Equal(t, []string{"https://claude.ai/api/mcp/auth_callback", "https://g-*.claude.ai/cb"}, []string(cfg.Clients[0].RedirectURIs))
	assert.Equal(t, []string{"https://acme.test/cb"}, []string(cfg.Clients[1].RedirectURIs))

	spec := cfg.Clients[1].Spec()
	assert.Equal(t, "acme", spec.ClientID)
	assert.Equal(t, "s3cret", spec.Secret)
	assert.Equal(t, "atl-token", spec.UpstreamToken)
}

func TestLoadMissingFile(t *testing.T) {
	clearEnv(t)
	missing := filepath.Join(t.TempDir(), "nope.yaml")

	cfg, err := Load(missing, true)
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)

	_, err = Load(missing, false)
	assert.Error(t, err)
}

func TestLoadEnvOverrides(t *testing.T) {
	clearEnv(t)
	t.Setenv("PORT", "9090")
	t.Setenv("STORAGE_DRIVER", "postgres")
	t.Setenv("DATABASE_URL", "postgres://u:p@db/oauth?sslmode=disable")

	cfg, err := Load(writeConfig(t, sampleConfig), false)
	require.NoError(t, err)
	assert.Equal(t, ":9090", cfg.Server.Addr)
	assert.Equal(t, "postgres", cfg.Storage.Driver)
	assert.Equal(t, "postgres://u:p@db/oauth?sslmode=disable", cfg.Storage.Postgres.DSN)
}

func TestValidate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		mutate func(*File)
		errMsg string
	}{
		{"postgres without dsn", func(f *File) { f.Storage.Driver = "postgres" }, "dsn"},
		{"redis without addr", func(f *File) { f.Storage.Driver = "redis" }, "addr"},
		{"unknown driver", func(f *File) { f.Storage.Driver = "mongo" }, "unknown storage driver"},
		{"amqp without url", func(f *File) { f.Events.Driver = "amqp" }, "amqp_url"},
		{"bad endpoint name", func(f *File) {
			f.Endpoints = []EndpointConfig{{Name: "a/b", UpstreamURL: "http://x"}}
		}, "invalid endpoint name"},
		{"duplicate endpoint", func(f *File) {
			f.Endpoints = []EndpointConfig{{Name: "a", UpstreamURL: "http://x"}, {Name: "a", UpstreamURL: "http://y"}}
		}, "duplicate endpoint"},
		{"endpoint without upstream", func(f *File) {
			f.Endpoints = []EndpointConfig{{Name: "a"}}
		}, "upstream_url"},
		{"client without id", func(f *File) { f.Clients = []ClientConfig{{Name: "x"}} }, "client_id"},
		{"confidential seed without secret", func(f *File) { f.Clients = []ClientConfig{{ClientID: "x"}} }, "secret is required"},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			f := Default()
			tt.mutate(&f)
			assert.ErrorContains(t, f.Validate(), tt.errMsg)
		})
	}

	f := Default()
	assert.NoError(t, f.Validate())
}

type fakeSecrets struct {
	out *secretsmanager.GetSecretValueOutput
	err error
	in  *secretsmanager.GetSecretValueInput
}

func (f *fakeSecrets) GetSecretValue(_ context.Context, in *secretsmanager.GetSecretValueInput, _ ...func(*secretsmanager.Options)) (*secretsmanager.GetSecretValueOutput, error) {
	f.in = in
	return f.out, f.err
}

func withSecrets(t *testing.T, fake *fakeSecrets) {
	t.Helper()
	orig := newSecretsClient
	newSecretsClient = func(context.Context, string) (secretsClient, error) { return fake, nil }
	t.Cleanup(func() { newSecretsClient = orig })
}

func TestLoadAWSSecretsIntoEnv(t *testing.T) {
	t.Setenv("AWS_SECRETS_MANAGER_SECRET_ID", "mcp/oauth")
	t.Setenv("AWS_SECRETS_MANAGER_VERSION_STAGE", "")
	t.Setenv("AWS_SECRETS_MANAGER_OVERWRITE", "")
	t.Setenv("OAUTH_ADMIN_JWT_SECRET", "")
	t.Setenv("DATABASE_URL", "postgres://keep")

	fake := &fakeSecrets{out: &secretsmanager.GetSecretValueOutput{
		SecretString: aws.String(`{"OAUTH_ADMIN_JWT_SECRET":"from-aws","DATABASE_URL":"postgres://aws"}`),
	}}
	withSecrets(t, fake)

	require.NoError(t, loadAWSSecretsIntoEnv(context.Background(), zap.NewNop()))
	assert.Equal(t, "mcp/oauth", aws.ToString(fake.in.SecretId))
	assert.Equal(t, "AWSCURRENT", aws.ToString(fake.in.VersionStage))
	assert.Equal(t, "from-aws", os.Getenv("OAUTH_ADMIN_JWT_SECRET"))
	assert.Equal(t, "postgres://keep", os.Getenv("DATABASE_URL"), "existing values win without overwrite")

	t.Setenv("AWS_SECRETS_MANAGER_OVERWRITE", "true")
	require.NoError(t, loadAWSSecretsIntoEnv(context.Background(), zap.NewNop()))
	assert.Equal(t, "postgres://aws", os.Getenv("DATABASE_URL"))
}

func TestLoadAWSSecretsIntoEnvErrors(t *testing.T) {
	t.Setenv("AWS_SECRETS_MANAGER_SECRET_ID", "mcp/oauth")

	withSecrets(t, &fakeSecrets{err: errors.New("access denied")})
	assert.ErrorContains(t, loadAWSSecretsIntoEnv(context.Background(), zap.NewNop()), "access denied")

	withSecrets(t, &fakeSecrets{out: &secretsmanager.GetSecretValueOutput{SecretString: aws.String("not json")}})
	assert.ErrorContains(t, loadAWSSecretsIntoEnv(context.Background(), zap.NewNop()), "parsing secret")

	withSecrets(t, &fakeSecrets{out: &secretsmanager.GetSecretValueOutput{}})
	assert.ErrorContains(t, loadAWSSecretsIntoEnv(context.Background(), zap.NewNop()), "no payload")
}

func TestLoadAWSSecretsSkippedWithoutID(t *testing.T) {
	t.Setenv("AWS_SECRETS_MANAGER_SECRET_ID", "")
	t.Setenv("AWS_SECRET_ID", "")

	withSecrets(t, &fakeSecrets{err: errors.New("must not be called")})
	assert.NoError(t, loadAWSSecretsIntoEnv(context.Background(), zap.NewNop()))
}

func TestLoadDotEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(path, []byte("GATEWAY_TEST_VALUE=from-dotenv\n"), 0o600))
	t.Setenv("ENV_FILE_PATH", path)
	t.Setenv("AWS_SECRETS_MANAGER_SECRET_ID", "")
	t.Setenv("AWS_SECRET_ID", "")
	t.Setenv("GATEWAY_TEST_VALUE", "")
	require.NoError(t, os.Unsetenv("GATEWAY_TEST_VALUE"))

	LoadEnv(context.Background(), "unused.env", nil)
	assert.Equal(t, "from-dotenv", os.Getenv("GATEWAY_TEST_VALUE"))
}

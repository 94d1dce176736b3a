package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"
	"github.com/pressly/goose/v3"

	"github.com/providentiaww/mcp-oauth-gateway/internal/oauth"
	"github.com/providentiaww/mcp-oauth-gateway/internal/storage/migrations"
)

// uniqueViolation is the Postgres SQLSTATE for unique constraint failures.
const uniqueViolation = "23505"

// PostgresConfig holds connection settings for the Postgres backend.
type PostgresConfig struct {
	DSN             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// PostgresStore persists OAuth records in Postgres.
type PostgresStore struct {
	db *sql.DB
}

var _ oauth.Store = (*PostgresStore)(nil)

// NewPostgresStore opens and pings a Postgres connection pool.
func NewPostgresStore(ctx context.Context, cfg PostgresConfig) (*PostgresStore, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("postgres DSN is required")
	}
	db, err := sql.Open("postgres", cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to open postgres: %w", err)
	}

	if cfg.MaxOpenConns == 0 {
		cfg.MaxOpenConns = 25
	}
	if cfg.MaxIdleConns == 0 {
		cfg.MaxIdleConns = 5
	}
	if cfg.ConnMaxLifetime == 0 {
		cfg.ConnMaxLifetime = 5 * time.Minute
	}
	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping postgres: %w", err)
	}
	return &PostgresStore{db: db}, nil
}

// NewPostgresStoreWithDB wraps an existing handle.
func NewPostgresStoreWithDB(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// gooseUpContext is a seam for testing goose.UpContext.
var gooseUpContext = func(ctx context.Context, db *sql.DB, dir string, opts ...goose.OptionsFunc) error {
	return goose.UpContext(ctx, db, dir, opts...)
}

// Migrate applies the embedded schema migrations.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	goose.SetBaseFS(migrations.FS)
	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("setting goose dialect: %w", err)
	}
	if err := gooseUpContext(ctx, s.db, "."); err != nil {
		return fmt.Errorf("applying migrations: %w", err)
	}
	return nil
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *PostgresStore) Close() error {
	return s.db.Close()
}

func (s *PostgresStore) CreateClient(ctx context.Context, client *oauth.Client) error {
	query := `
		INSERT INTO oauth_clients
			(client_id, client_secret, redirect_uris, upstream_token, client_name, active, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`
	_, err := s.db.ExecContext(ctx, query,
		client.ClientID,
		client.ClientSecret,
		pq.Array([]string(client.RedirectURIs)),
		client.UpstreamToken,
		client.Name,
		client.Active,
		client.CreatedAt,
		client.UpdatedAt,
	)
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && string(pqErr.Code) == uniqueViolation {
		return oauth.ErrClientExists
	}
	if err != nil {
		return fmt.Errorf("inserting client: %w", err)
	}
	return nil
}

const selectClient = `
		SELECT client_id, client_secret, redirect_uris, upstream_token, client_name, active, created_at, updated_at
		FROM oauth_clients
`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanClient(row rowScanner) (*oauth.Client, error) {
	var client oauth.Client
	var redirectURIs []string
	if err := row.Scan(
		&client.ClientID,
		&client.ClientSecret,
		pq.Array(&redirectURIs),
		&client.UpstreamToken,
		&client.Name,
		&client.Active,
		&client.CreatedAt,
		&client.UpdatedAt,
	); err != nil {
		return nil, err
	}
	client.RedirectURIs = redirectURIs
	return &client, nil
}

func (s *PostgresStore) GetClient(ctx context.Context, clientID string) (*oauth.Client, error) {
	client, err := scanClient(s.db.QueryRowContext(ctx, selectClient+` WHERE client_id = $1`, clientID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, oauth.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	return client, nil
}

func (s *PostgresStore) ListClients(ctx context.Context) ([]*oauth.Client, error) {
	rows, err := s.db.QueryContext(ctx, selectClient+` ORDER BY client_id`)
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	defer rows.Close()

	var clients []*oauth.Client
	for rows.Next() {
		client, err := scanClient(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning client: %w", err)
		}
		clients = append(clients, client)
	}
	return clients, rows.Err()
}

func (s *PostgresStore) SetClientActive(ctx context.Context, clientID string, active bool) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE oauth_clients SET active = $2, updated_at = $3 WHERE client_id = $1`,
		clientID, active, time.Now())
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	if n == 0 {
		return oauth.ErrNotFound
	}
	return nil
}

func (s *PostgresStore) CreateAuthCode(ctx context.Context, code *oauth.AuthCode) error {
	query := `
		INSERT INTO oauth_auth_codes
			(id, code_hash, client_id, redirect_uri, code_challenge, code_challenge_method, used, created_at, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`
	_, err := s.db.ExecContext(ctx, query,
		code.ID,
		code.CodeHash,
		code.ClientID,
		code.RedirectURI,
		code.CodeChallenge,
		code.CodeChallengeMethod,
		code.Used,
		code.CreatedAt,
		code.ExpiresAt,
	)
	if err != nil {
		return fmt.Errorf("inserting authorization code: %w", err)
	}
	return nil
}

func (s *PostgresStore) FindUnusedAuthCode(ctx context.Context, codeHash, clientID string) (*oauth.AuthCode, error) {
	query := `
		SELECT id, code_hash, client_id, redirect_uri, code_challenge, code_challenge_method, used, created_at, expires_at
		FROM oauth_auth_codes
		WHERE code_hash = $1 AND client_id = $2 AND used = FALSE
	`
	var code oauth.AuthCode
	err := s.db.QueryRowContext(ctx, query, codeHash, clientID).Scan(
		&code.ID,
		&code.CodeHash,
		&code.ClientID,
		&code.RedirectURI,
		&code.CodeChallenge,
		&code.CodeChallengeMethod,
		&code.Used,
		&code.CreatedAt,
		&code.ExpiresAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, oauth.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	return &code, nil
}

// MarkAuthCodeUsed relies on the row-level precondition in the UPDATE: only
// one statement can observe used = FALSE.
func (s *PostgresStore) MarkAuthCodeUsed(ctx context.Context, id string) (bool, error) {
	return s.execOnce(ctx, `UPDATE oauth_auth_codes SET used = TRUE WHERE id = $1 AND used = FALSE`, id)
}

func (s *PostgresStore) DeleteExpiredAuthCodes(ctx context.Context, before time.Time) (int, error) {
	return s.execCount(ctx, `DELETE FROM oauth_auth_codes WHERE expires_at < $1`, before)
}

func (s *PostgresStore) CreateToken(ctx context.Context, token *oauth.Token) error {
	query := `
		INSERT INTO oauth_tokens
			(id, access_token_hash, refresh_token_hash, client_id, access_expires_at, refresh_expires_at, revoked, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`
	_, err := s.db.ExecContext(ctx, query,
		token.ID,
		token.AccessTokenHash,
		token.RefreshTokenHash,
		token.ClientID,
		token.AccessExpiresAt,
		token.RefreshExpiresAt,
		token.Revoked,
		token.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("inserting token: %w", err)
	}
	return nil
}

const selectToken = `
		SELECT id, access_token_hash, refresh_token_hash, client_id, access_expires_at, refresh_expires_at, revoked, created_at
		FROM oauth_tokens
`

func (s *PostgresStore) findToken(ctx context.Context, where string, args ...any) (*oauth.Token, error) {
	var t oauth.Token
	err := s.db.QueryRowContext(ctx, selectToken+where, args...).Scan(
		&t.ID,
		&t.AccessTokenHash,
		&t.RefreshTokenHash,
		&t.ClientID,
		&t.AccessExpiresAt,
		&t.RefreshExpiresAt,
		&t.Revoked,
		&t.CreatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, oauth.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	return &t, nil
}

func (s *PostgresStore) FindActiveTokenByAccess(ctx context.Context, accessHash string) (*oauth.Token, error) {
	return s.findToken(ctx, ` WHERE access_token_hash = $1 AND revoked = FALSE`, accessHash)
}

func (s *PostgresStore) FindActiveTokenByRefresh(ctx context.Context, refreshHash, clientID string) (*oauth.Token, error) {
	return s.findToken(ctx, ` WHERE refresh_token_hash = $1 AND client_id = $2 AND revoked = FALSE`, refreshHash, clientID)
}

func (s *PostgresStore) RevokeToken(ctx context.Context, id string) (bool, error) {
	return s.execOnce(ctx, `UPDATE oauth_tokens SET revoked = TRUE WHERE id = $1 AND revoked = FALSE`, id)
}

func (s *PostgresStore) RevokeClientTokens(ctx context.Context, clientID string) (int, error) {
	return s.execCount(ctx, `UPDATE oauth_tokens SET revoked = TRUE WHERE client_id = $1 AND revoked = FALSE`, clientID)
}

func (s *PostgresStore) DeleteExpiredTokens(ctx context.Context, before time.Time) (int, error) {
	return s.execCount(ctx, `DELETE FROM oauth_tokens WHERE refresh_expires_at < $1`, before)
}

func (s *PostgresStore) execCount(ctx context.Context, query string, args ...any) (int, error) {
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("db error: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("db error: %w", err)
	}
	return int(n), nil
}

func (s *PostgresStore) execOnce(ctx context.Context, query string, args ...any) (bool, error) {
	n, err := s.execCount(ctx, query, args...)
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

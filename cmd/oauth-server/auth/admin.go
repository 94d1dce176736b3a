package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"
)

// AdminAudience is the audience every admin token must carry.
const AdminAudience = "oauth-admin"

// AdminGuard authenticates operators on the admin API with HS256 JWTs.
type AdminGuard struct {
	secret []byte
	logger *zap.Logger
}

// NewAdminGuard creates a guard. An empty secret disables the admin API.
func NewAdminGuard(secret string, logger *zap.Logger) *AdminGuard {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AdminGuard{secret: []byte(secret), logger: logger.Named("admin-auth")}
}

// Enabled reports whether an admin secret is configured.
func (g *AdminGuard) Enabled() bool {
	return len(g.secret) > 0
}

// Handler wraps next, admitting only requests with a valid admin token.
func (g *AdminGuard) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !g.Enabled() {
			writeAdminError(w, http.StatusNotFound, "admin API disabled")
			return
		}

		token := ExtractTokenFromHeader(r)
		if token == "" {
			writeAdminError(w, http.StatusUnauthorized, "missing admin token")
			return
		}

		subject, err := g.Verify(token)
		if err != nil {
			g.logger.Info("admin token rejected", zap.String("path", r.URL.Path), zap.Error(err))
			writeAdminError(w, http.StatusUnauthorized, "invalid admin token")
			return
		}

		ctx := context.WithValue(r.Context(), operatorContextKey, subject)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// Verify checks an admin token and returns its subject.
func (g *AdminGuard) Verify(tokenString string) (string, error) {
	token, err := jwt.ParseWithClaims(tokenString, &jwt.RegisteredClaims{}, func(token *jwt.Token) (interface{}, error) {
		return g.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithAudience(AdminAudience),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return "", fmt.Errorf("token verification failed: %w", err)
	}

	claims, ok := token.Claims.(*jwt.RegisteredClaims)
	if !ok || !token.Valid {
		return "", errors.New("invalid token")
	}
	if claims.Subject == "" {
		return "", errors.New("missing subject")
	}
	return claims.Subject, nil
}

// MintAdminToken signs an admin token for subject valid for ttl.
func MintAdminToken(secret, subject string, ttl time.Duration) (string, error) {
	if secret == "" {
		return "", errors.New("admin secret is not configured")
	}
	if subject == "" {
		return "", errors.New("subject is required")
	}
	now := time.Now()
	claims := jwt.RegisteredClaims{
		Subject:   subject,
		Audience:  jwt.ClaimStrings{AdminAudience},
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
}

func writeAdminError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": msg})
}

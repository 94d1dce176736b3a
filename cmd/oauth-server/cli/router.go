package cli

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/providentiaww/mcp-oauth-gateway/cmd/oauth-server/auth"
	"github.com/providentiaww/mcp-oauth-gateway/cmd/oauth-server/handlers"
	oauthhttp "github.com/providentiaww/mcp-oauth-gateway/cmd/oauth-server/oauth"
	"github.com/providentiaww/mcp-oauth-gateway/internal/config"
	"github.com/providentiaww/mcp-oauth-gateway/internal/oauth"
	"github.com/providentiaww/mcp-oauth-gateway/pkg/mcp"
)

const healthCheckTimeout = 2 * time.Second

// newRouter wires every HTTP surface of the server.
func newRouter(cfg oauth.Config, svc *services, limits config.RateLimitConfig, reg *prometheus.Registry, logger *zap.Logger) http.Handler {
	oauthServer := oauthhttp.NewServer(cfg, svc.registry, svc.codes, svc.tokens, svc.endpoints, svc.publisher, logger)
	// the proxy always lives under mcp.PathPrefix, whatever else is configured
	gate := auth.NewBearerGate(svc.tokens, svc.registry, cfg.Issuer, logger,
		auth.PrefixPredicate(mcp.PathPrefix),
		auth.PrefixPredicate(cfg.ProtectedPathPrefix))
	adminGuard := auth.NewAdminGuard(cfg.AdminJWTSecret, logger)
	admin := handlers.NewAdminHandler(svc.registry, svc.tokens, svc.sweeper, svc.endpoints, svc.publisher, logger)
	limiter := handlers.NewRateLimiter(limits.TokenRPS, limits.TokenBurst, logger)
	proxy := mcp.NewProxy(svc.endpoints, auth.RequestCredential, logger)

	r := chi.NewRouter()
	// the gate sees every request and decides by path
	r.Use(middleware.RealIP, middleware.Recoverer, requestLogger(logger), mcp.CORS, gate.Handler)

	r.Get("/healthz", healthHandler(svc.store))
	r.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))

	r.Get("/.well-known/oauth-authorization-server", oauthServer.HandleAuthorizationServerMetadata)
	r.Get(oauth.ProtectedResourceMetadataPath, oauthServer.HandleProtectedResourceMetadata)
	r.Get("/oauth/authorize", oauthServer.HandleAuthorize)
	r.With(limiter.Handler).Post("/oauth/token", oauthServer.HandleToken)

	r.Get(mcp.PathPrefix, proxy.Index)
	r.Handle(mcp.PathPrefix+"*", proxy)

	r.Route("/admin", func(r chi.Router) {
		r.Use(adminGuard.Handler)
		r.Mount("/", admin.Routes())
	})
	return r
}

func healthHandler(store oauth.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
		defer cancel()

		w.Header().Set("Content-Type", "application/json")
		if err := store.Ping(ctx); err != nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte(`{"status":"unavailable"}`))
			return
		}
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	}
}

// requestLogger logs one line per request. Query strings are left out since
// they carry codes and state.
func requestLogger(logger *zap.Logger) func(http.Handler) http.Handler {
	logger = logger.Named("http")
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			defer func() {
				logger.Info("request",
					zap.String("method", r.Method),
					zap.String("path", r.URL.Path),
					zap.Int("status", ww.Status()),
					zap.Int("bytes", ww.BytesWritten()),
					zap.Duration("duration", time.Since(start)),
					zap.String("remote", r.RemoteAddr))
			}()
			next.ServeHTTP(ww, r)
		})
	}
}

package cli

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/providentiaww/mcp-oauth-gateway/internal/metrics"
)

const (
	readHeaderTimeout = 5 * time.Second
	idleTimeout       = 60 * time.Second
)

var flagAddr string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the authorization server, bearer gate and MCP proxy",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		env, err := loadEnvironment(ctx)
		if err != nil {
			return err
		}
		defer func() { _ = env.logger.Sync() }()
		if flagAddr != "" {
			env.file.Server.Addr = flagAddr
		}
		return serve(ctx, env)
	},
}

func init() {
	serveCmd.Flags().StringVar(&flagAddr, "addr", "", "Listen address, overrides server.addr and PORT")
}

func serve(ctx context.Context, env *environment) error {
	logger := env.logger

	svc, err := env.openServices(ctx)
	if err != nil {
		return err
	}
	defer svc.Close()

	if err := seedClients(ctx, svc.registry, env.file.Clients, logger); err != nil {
		return err
	}
	if env.oauth.AdminJWTSecret == "" {
		logger.Info("admin API disabled, OAUTH_ADMIN_JWT_SECRET is not set")
	}

	reg := prometheus.NewRegistry()
	if err := metrics.Register(reg); err != nil {
		return fmt.Errorf("registering metrics: %w", err)
	}
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	srv := &http.Server{
		Addr:              env.file.Server.Addr,
		Handler:           newRouter(env.oauth, svc, env.file.RateLimit, reg, logger),
		ReadHeaderTimeout: readHeaderTimeout,
		ReadTimeout:       env.file.Server.ReadTimeout,
		WriteTimeout:      env.file.Server.WriteTimeout,
		IdleTimeout:       idleTimeout,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("HTTP server listening",
			zap.String("addr", srv.Addr),
			zap.String("issuer", env.oauth.Issuer),
			zap.Int("endpoints", len(svc.endpoints.Active())))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		return svc.sweeper.Run(gctx)
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down server")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), env.file.Server.ShutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown: %w", err)
		}
		logger.Info("server stopped cleanly")
		return nil
	})
	return g.Wait()
}

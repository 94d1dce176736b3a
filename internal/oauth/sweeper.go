package oauth

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/providentiaww/mcp-oauth-gateway/internal/metrics"
)

// SweepResult counts the records removed by one sweep pass.
type SweepResult struct {
	TokensRemoved int `json:"tokens_removed"`
	CodesRemoved  int `json:"codes_removed"`
}

// Sweeper garbage-collects expired codes and token pairs.
type Sweeper struct {
	codes    CodeStore
	tokens   TokenStore
	interval time.Duration
	logger   *zap.Logger
	now      func() time.Time
}

// NewSweeper creates a sweeper that runs every interval once started.
func NewSweeper(codes CodeStore, tokens TokenStore, interval time.Duration, logger *zap.Logger) *Sweeper {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Sweeper{
		codes:    codes,
		tokens:   tokens,
		interval: interval,
		logger:   logger.Named("sweeper"),
		now:      time.Now,
	}
}

// SweepExpired deletes expired codes and every token pair whose refresh
// expiry has passed. Pairs with an expired access token but a live refresh
// token are kept. The cutoff is fixed before any deletion so records created
// during the pass are never candidates.
func (s *Sweeper) SweepExpired(ctx context.Context) (SweepResult, error) {
	start := time.Now()
	cutoff := s.now()

	var res SweepResult
	codes, err := s.codes.DeleteExpiredAuthCodes(ctx, cutoff)
	if err != nil {
		return res, fmt.Errorf("sweeping authorization codes: %w", err)
	}
	res.CodesRemoved = codes

	tokens, err := s.tokens.DeleteExpiredTokens(ctx, cutoff)
	if err != nil {
		return res, fmt.Errorf("sweeping tokens: %w", err)
	}
	res.TokensRemoved = tokens

	metrics.SweepDuration.Observe(time.Since(start).Seconds())
	metrics.SweptRecords.WithLabelValues("authorization_code").Add(float64(codes))
	metrics.SweptRecords.WithLabelValues("token").Add(float64(tokens))
	return res, nil
}

// Run sweeps on every tick until ctx is cancelled. A failed pass is logged
// and retried on the next tick.
func (s *Sweeper) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.logger.Info("sweeper started", zap.Duration("interval", s.interval))
	for {
		select {
		case <-ctx.Done():
			s.logger.Info("sweeper stopped")
			return nil
		case <-ticker.C:
			res, err := s.SweepExpired(ctx)
			if err != nil {
				s.logger.Error("sweep failed", zap.Error(err))
				continue
			}
			if res.CodesRemoved > 0 || res.TokensRemoved > 0 {
				s.logger.Info("sweep completed",
					zap.Int("codes_removed", res.CodesRemoved),
					zap.Int("tokens_removed", res.TokensRemoved))
			}
		}
	}
}

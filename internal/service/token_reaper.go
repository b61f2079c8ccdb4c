package service

import (
	"context"
	"log/slog"
	"time"

	"github.com/portalsso/sso-server/internal/observability"
	"github.com/portalsso/sso-server/internal/repository"
)

type ReapResult struct {
	RefreshTokens int64 `json:"refresh_tokens"`
	AuthCodes     int64 `json:"auth_codes"`
}

// TokenReaper deletes revoked or expired refresh tokens and expired auth codes. Expiry is always
// enforced on read, so reaping only bounds table growth.
type TokenReaper struct {
	tokens   repository.RefreshTokenRepository
	codes    repository.AuthCodeRepository
	interval time.Duration
	logger   *slog.Logger
	now      func() time.Time
}

func NewTokenReaper(tokens repository.RefreshTokenRepository, codes repository.AuthCodeRepository, interval time.Duration, logger *slog.Logger) *TokenReaper {
	if logger == nil {
		logger = slog.Default()
	}
	return &TokenReaper{
		tokens:   tokens,
		codes:    codes,
		interval: interval,
		logger:   logger,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

func (r *TokenReaper) RunOnce(ctx context.Context) (ReapResult, error) {
	var res ReapResult
	now := r.now()
	n, err := r.tokens.DeleteStale(ctx, now)
	if err != nil {
		return res, err
	}
	res.RefreshTokens = n
	observability.RecordTokenReaperDeleted(ctx, "refresh_token", n)

	n, err = r.codes.DeleteExpired(ctx, now)
	if err != nil {
		return res, err
	}
	res.AuthCodes = n
	observability.RecordTokenReaperDeleted(ctx, "auth_code", n)
	return res, nil
}

// Run reaps on every tick until ctx is done. Failed passes are logged and retried on the next tick.
func (r *TokenReaper) Run(ctx context.Context) error {
	if r.interval <= 0 {
		<-ctx.Done()
		return nil
	}
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			res, err := r.RunOnce(ctx)
			if err != nil {
				if ctx.Err() != nil {
					return nil
				}
				r.logger.WarnContext(ctx, "token reaper pass failed", "error", err)
				continue
			}
			if res.RefreshTokens > 0 || res.AuthCodes > 0 {
				r.logger.InfoContext(ctx, "token reaper pass", "refresh_tokens", res.RefreshTokens, "auth_codes", res.AuthCodes)
			}
		}
	}
}

package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
)

// GetRetryPolicy returns the retry policy for a channel type, falling back
// to a conservative default if none is configured.
func GetRetryPolicy(ctx context.Context, db DBTX, channelType ChannelType) (ChannelRetryPolicy, error) {
	var p ChannelRetryPolicy
	err := db.QueryRow(ctx, `SELECT channel_type, max_attempts, backoff, retry_delay_seconds
		FROM public.channel_retry_policies WHERE channel_type = $1`, channelType).
		Scan(&p.ChannelType, &p.MaxAttempts, &p.Backoff, &p.RetryDelaySeconds)
	if errors.Is(err, pgx.ErrNoRows) {
		return ChannelRetryPolicy{
			ChannelType:       channelType,
			MaxAttempts:       5,
			Backoff:           BackoffExponential,
			RetryDelaySeconds: 30,
		}, nil
	}
	if err != nil {
		return ChannelRetryPolicy{}, fmt.Errorf("getting retry policy for %s: %w", channelType, err)
	}
	return p, nil
}

// GetPlatformRateLimit returns the configured per-minute request budget for
// a platform, or a conservative default.
func GetPlatformRateLimit(ctx context.Context, db DBTX, platform ChannelType) (PlatformRateLimit, error) {
	var l PlatformRateLimit
	err := db.QueryRow(ctx, `SELECT platform, requests_per_minute
		FROM public.platform_rate_limits WHERE platform = $1`, platform).
		Scan(&l.Platform, &l.RequestsPerMinute)
	if errors.Is(err, pgx.ErrNoRows) {
		return PlatformRateLimit{Platform: platform, RequestsPerMinute: 60}, nil
	}
	if err != nil {
		return PlatformRateLimit{}, fmt.Errorf("getting rate limit for %s: %w", platform, err)
	}
	return l, nil
}

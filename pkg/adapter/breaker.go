package adapter

import (
	"context"
	"fmt"
	"time"

	"github.com/sony/gobreaker"
	"golang.org/x/oauth2"

	"github.com/northflare/postflow/internal/store"
)

// BreakerAdapter wraps an Adapter with a per-adapter sony/gobreaker circuit,
// tripping after a run of upstream failures. This is deliberately distinct
// from and sits upstream of the publisher's own per-channel breaker: this
// one protects against a single misbehaving platform client (bad TLS
// config, broken auth flow) independent of any tenant's retry policy.
type BreakerAdapter struct {
	inner Adapter
	cb    *gobreaker.CircuitBreaker
}

// NewBreakerAdapter wraps inner with a breaker that opens after
// maxConsecutiveFailures and stays open for openDuration.
func NewBreakerAdapter(inner Adapter, maxConsecutiveFailures uint32, openDuration time.Duration) *BreakerAdapter {
	settings := gobreaker.Settings{
		Name:        "adapter:" + string(inner.Type()),
		MaxRequests: 1,
		Timeout:     openDuration,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= maxConsecutiveFailures
		},
	}
	return &BreakerAdapter{inner: inner, cb: gobreaker.NewCircuitBreaker(settings)}
}

func (b *BreakerAdapter) Type() store.ChannelType             { return b.inner.Type() }
func (b *BreakerAdapter) Capabilities() store.Capabilities     { return b.inner.Capabilities() }

func (b *BreakerAdapter) ValidateCredentials(ctx context.Context, tok oauth2.Token) error {
	_, err := b.cb.Execute(func() (any, error) {
		return nil, b.inner.ValidateCredentials(ctx, tok)
	})
	return err
}

func (b *BreakerAdapter) RefreshCredentials(ctx context.Context, tok oauth2.Token) (oauth2.Token, error) {
	out, err := b.cb.Execute(func() (any, error) {
		return b.inner.RefreshCredentials(ctx, tok)
	})
	if err != nil {
		return oauth2.Token{}, err
	}
	newTok, ok := out.(oauth2.Token)
	if !ok {
		return oauth2.Token{}, fmt.Errorf("adapter breaker: unexpected refresh result type")
	}
	return newTok, nil
}

func (b *BreakerAdapter) Publish(ctx context.Context, tok oauth2.Token, content Content, sandbox string) (Result, error) {
	out, err := b.cb.Execute(func() (any, error) {
		return b.inner.Publish(ctx, tok, content, sandbox)
	})
	if err != nil {
		return Result{}, err
	}
	res, ok := out.(Result)
	if !ok {
		return Result{}, fmt.Errorf("adapter breaker: unexpected publish result type")
	}
	return res, nil
}

package credentials

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/tinywideclouds/go-notify-service/pkg/dispatch"
	"golang.org/x/sync/singleflight"
)

// DefaultRefreshSkew is how long before expiry a cached credential is replaced.
const DefaultRefreshSkew = time.Minute

// SharedCredentialCache is a second-level cache shared between replicas.
type SharedCredentialCache interface {
	GetCredential(ctx context.Context, key string) (dispatch.BearerCredential, bool, error)
	PutCredential(ctx context.Context, key string, cred dispatch.BearerCredential) error
	DeleteCredential(ctx context.Context, key string) error
}

// CachingProvider decorates a CredentialProvider with an expiry-aware cache.
// Concurrent callers for the same principal share one exchange.
type CachingProvider struct {
	inner  dispatch.CredentialProvider
	shared SharedCredentialCache
	skew   time.Duration
	now    func() time.Time
	logger *slog.Logger

	group   singleflight.Group
	mu      sync.RWMutex
	entries map[string]dispatch.BearerCredential
}

// NewCachingProvider wraps inner. shared may be nil.
func NewCachingProvider(inner dispatch.CredentialProvider, shared SharedCredentialCache, skew time.Duration, logger *slog.Logger) *CachingProvider {
	if skew <= 0 {
		skew = DefaultRefreshSkew
	}
	return &CachingProvider{
		inner:   inner,
		shared:  shared,
		skew:    skew,
		now:     time.Now,
		logger:  logger.With("component", "CredentialCache"),
		entries: make(map[string]dispatch.BearerCredential),
	}
}

func (p *CachingProvider) AcquireToken(ctx context.Context, sa dispatch.ServiceAccount) (dispatch.BearerCredential, error) {
	key := sa.ClientEmail
	if cred, ok := p.lookup(key); ok {
		credentialCacheCounter.WithLabelValues("memory", "hit").Inc()
		return cred, nil
	}
	credentialCacheCounter.WithLabelValues("memory", "miss").Inc()

	ch := p.group.DoChan(key, func() (interface{}, error) {
		// The exchange outlives any single caller's cancellation; the
		// exchanger applies its own timeout.
		flightCtx := context.WithoutCancel(ctx)

		if cred, ok := p.lookup(key); ok {
			return cred, nil
		}
		if cred, ok := p.fromShared(flightCtx, key); ok {
			p.store(key, cred)
			return cred, nil
		}

		cred, err := p.inner.AcquireToken(flightCtx, sa)
		if err != nil {
			return dispatch.BearerCredential{}, err
		}
		p.store(key, cred)
		if p.shared != nil {
			if err := p.shared.PutCredential(flightCtx, key, cred); err != nil {
				p.logger.Warn("Failed to share bearer credential", "err", err)
			}
		}
		return cred, nil
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return dispatch.BearerCredential{}, res.Err
		}
		return res.Val.(dispatch.BearerCredential), nil
	case <-ctx.Done():
		return dispatch.BearerCredential{}, &dispatch.CredentialError{Reason: "cancelled while waiting for token exchange", Err: ctx.Err()}
	}
}

// Invalidate drops the cached credential for a principal from both tiers,
// so the next acquisition performs a fresh exchange.
func (p *CachingProvider) Invalidate(ctx context.Context, clientEmail string) {
	p.mu.Lock()
	delete(p.entries, clientEmail)
	p.mu.Unlock()

	if p.shared != nil {
		if err := p.shared.DeleteCredential(ctx, clientEmail); err != nil {
			p.logger.Warn("Failed to drop shared bearer credential", "err", err)
		}
	}
	p.logger.Info("Bearer credential invalidated", "client_email", clientEmail)
}

func (p *CachingProvider) lookup(key string) (dispatch.BearerCredential, bool) {
	p.mu.RLock()
	cred, ok := p.entries[key]
	p.mu.RUnlock()
	if !ok || !cred.Valid(p.now(), p.skew) {
		return dispatch.BearerCredential{}, false
	}
	return cred, true
}

func (p *CachingProvider) fromShared(ctx context.Context, key string) (dispatch.BearerCredential, bool) {
	if p.shared == nil {
		return dispatch.BearerCredential{}, false
	}
	cred, ok, err := p.shared.GetCredential(ctx, key)
	if err != nil {
		p.logger.Warn("Shared credential cache lookup failed", "err", err)
		return dispatch.BearerCredential{}, false
	}
	if !ok || !cred.Valid(p.now(), p.skew) {
		credentialCacheCounter.WithLabelValues("shared", "miss").Inc()
		return dispatch.BearerCredential{}, false
	}
	credentialCacheCounter.WithLabelValues("shared", "hit").Inc()
	return cred, true
}

func (p *CachingProvider) store(key string, cred dispatch.BearerCredential) {
	p.mu.Lock()
	p.entries[key] = cred
	p.mu.Unlock()
}

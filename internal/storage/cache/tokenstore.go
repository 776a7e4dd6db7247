package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/tinywideclouds/go-notify-service/pkg/dispatch"
)

// ErrMiss is returned by CacheClient.Get when the key does not exist.
var ErrMiss = errors.New("cache miss")

const generationKey = "notify:tokens:gen"

// CacheClient defines the subset of Redis commands we need.
type CacheClient interface {
	// Get returns the value or ErrMiss if not found.
	Get(ctx context.Context, key string, dest interface{}) error
	// Set stores the value with a TTL.
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error
	// Del removes the key.
	Del(ctx context.Context, key string) error
}

// CachedTokenStore is a Decorator that adds Read-Aside caching to any TokenStore.
//
// Resolutions are cached per selector under a generation stamp. Any
// registration change rotates the generation, so every cached selector is
// abandoned at once instead of being tracked individually.
type CachedTokenStore struct {
	realStore dispatch.TokenStore
	cache     CacheClient
	ttl       time.Duration
	logger    *slog.Logger
}

// NewCachedTokenStore creates the decorator.
func NewCachedTokenStore(realStore dispatch.TokenStore, cache CacheClient, ttl time.Duration, logger *slog.Logger) *CachedTokenStore {
	return &CachedTokenStore{
		realStore: realStore,
		cache:     cache,
		ttl:       ttl,
		logger:    logger.With("component", "CachedTokenStore"),
	}
}

// --- READ PATH (Read-Aside) ---

func (s *CachedTokenStore) ResolveTokens(ctx context.Context, roles, userIDs []string) ([]dispatch.DeliveryToken, error) {
	gen, err := s.generation(ctx)
	if err != nil {
		// Redis is down; serve from the source of truth.
		s.logger.Warn("Token cache unavailable", "err", err)
		return s.realStore.ResolveTokens(ctx, roles, userIDs)
	}
	key := s.cacheKey(gen, roles, userIDs)

	var cached []dispatch.DeliveryToken
	if err := s.cache.Get(ctx, key, &cached); err == nil {
		return cached, nil
	}

	fresh, err := s.realStore.ResolveTokens(ctx, roles, userIDs)
	if err != nil {
		return nil, err
	}

	// Caching is an optimization, not a transaction.
	if fresh == nil {
		fresh = []dispatch.DeliveryToken{}
	}
	_ = s.cache.Set(ctx, key, fresh, s.ttl)
	return fresh, nil
}

// --- WRITE PATHS (Invalidate-on-Write) ---

func (s *CachedTokenStore) RegisterToken(ctx context.Context, token dispatch.DeliveryToken) error {
	if err := s.realStore.RegisterToken(ctx, token); err != nil {
		return err
	}
	return s.invalidate(ctx)
}

// UnregisterToken must rotate the generation even though the DB write
// already succeeded, so disabled devices stop receiving immediately.
func (s *CachedTokenStore) UnregisterToken(ctx context.Context, userID, token string) error {
	if err := s.realStore.UnregisterToken(ctx, userID, token); err != nil {
		return err
	}
	return s.invalidate(ctx)
}

// --- Helpers ---

func (s *CachedTokenStore) generation(ctx context.Context) (string, error) {
	var gen string
	err := s.cache.Get(ctx, generationKey, &gen)
	if err == nil && gen != "" {
		return gen, nil
	}
	if err != nil && !errors.Is(err, ErrMiss) {
		return "", err
	}
	gen = uuid.NewString()
	if err := s.cache.Set(ctx, generationKey, gen, 0); err != nil {
		return "", err
	}
	return gen, nil
}

func (s *CachedTokenStore) invalidate(ctx context.Context) error {
	return s.cache.Set(ctx, generationKey, uuid.NewString(), 0)
}

func (s *CachedTokenStore) cacheKey(gen string, roles, userIDs []string) string {
	return "notify:tokens:" + gen + ":" + selectorHash(roles, userIDs)
}

func selectorHash(roles, userIDs []string) string {
	r := append([]string(nil), roles...)
	u := append([]string(nil), userIDs...)
	sort.Strings(r)
	sort.Strings(u)
	// %q keeps nil and [""] apart.
	sum := sha256.Sum256([]byte(fmt.Sprintf("%q|%q", r, u)))
	return hex.EncodeToString(sum[:16])
}

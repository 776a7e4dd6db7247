package cache

import (
	"context"
	"errors"
	"time"

	"github.com/tinywideclouds/go-notify-service/pkg/dispatch"
)

// CredentialCache shares bearer credentials between replicas through Redis.
type CredentialCache struct {
	cache CacheClient
}

func NewCredentialCache(cache CacheClient) *CredentialCache {
	return &CredentialCache{cache: cache}
}

func (c *CredentialCache) GetCredential(ctx context.Context, key string) (dispatch.BearerCredential, bool, error) {
	var cred dispatch.BearerCredential
	err := c.cache.Get(ctx, credentialKey(key), &cred)
	if errors.Is(err, ErrMiss) {
		return dispatch.BearerCredential{}, false, nil
	}
	if err != nil {
		return dispatch.BearerCredential{}, false, err
	}
	return cred, true, nil
}

// PutCredential stores cred until it expires. Already expired credentials are dropped.
func (c *CredentialCache) PutCredential(ctx context.Context, key string, cred dispatch.BearerCredential) error {
	ttl := time.Until(cred.ExpiresAt)
	if ttl <= 0 {
		return nil
	}
	return c.cache.Set(ctx, credentialKey(key), cred, ttl)
}

func (c *CredentialCache) DeleteCredential(ctx context.Context, key string) error {
	return c.cache.Del(ctx, credentialKey(key))
}

func credentialKey(principal string) string {
	return "notify:credential:" + principal
}

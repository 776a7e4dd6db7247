package cache_test

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/tinywideclouds/go-notify-service/internal/storage/cache"
	"github.com/tinywideclouds/go-notify-service/pkg/dispatch"
)

// --- Mocks ---
type MockCache struct {
	mock.Mock
}

func (m *MockCache) Get(ctx context.Context, key string, dest interface{}) error {
	args := m.Called(ctx, key, dest)
	return args.Error(0)
}
func (m *MockCache) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	return m.Called(ctx, key, value, ttl).Error(0)
}
func (m *MockCache) Del(ctx context.Context, key string) error {
	return m.Called(ctx, key).Error(0)
}

type MockRealStore struct {
	mock.Mock
}

func (m *MockRealStore) ResolveTokens(ctx context.Context, roles, userIDs []string) ([]dispatch.DeliveryToken, error) {
	args := m.Called(ctx, roles, userIDs)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]dispatch.DeliveryToken), args.Error(1)
}
func (m *MockRealStore) RegisterToken(ctx context.Context, token dispatch.DeliveryToken) error {
	return m.Called(ctx, token).Error(0)
}
func (m *MockRealStore) UnregisterToken(ctx context.Context, userID, token string) error {
	return m.Called(ctx, userID, token).Error(0)
}

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// withGeneration makes the generation lookup hit with gen.
func withGeneration(c *MockCache, gen string) {
	c.On("Get", mock.Anything, "notify:tokens:gen", mock.Anything).
		Run(func(args mock.Arguments) {
			*args.Get(2).(*string) = gen
		}).Return(nil)
}

func TestCachedStore_ReadAside(t *testing.T) {
	ctx := context.Background()
	logger := newTestLogger()
	roles := []string{"admin"}
	tokens := []dispatch.DeliveryToken{{Token: "tok-1", OwnerUserID: "u1"}}

	t.Run("Miss falls back to the store and fills the cache", func(t *testing.T) {
		mockCache := new(MockCache)
		mockDB := new(MockRealStore)
		store := cache.NewCachedTokenStore(mockDB, mockCache, time.Minute, logger)

		withGeneration(mockCache, "gen-1")
		mockCache.On("Get", mock.Anything, mock.MatchedBy(func(k string) bool { return k != "notify:tokens:gen" }), mock.Anything).
			Return(cache.ErrMiss)
		mockDB.On("ResolveTokens", ctx, roles, []string(nil)).Return(tokens, nil)
		mockCache.On("Set", mock.Anything, mock.MatchedBy(func(k string) bool {
			return len(k) > len("notify:tokens:gen-1:") && k[:len("notify:tokens:gen-1:")] == "notify:tokens:gen-1:"
		}), tokens, time.Minute).Return(nil)

		got, err := store.ResolveTokens(ctx, roles, nil)

		require.NoError(t, err)
		assert.Equal(t, tokens, got)
		mockDB.AssertExpectations(t)
		mockCache.AssertExpectations(t)
	})

	t.Run("Hit skips the store", func(t *testing.T) {
		mockCache := new(MockCache)
		mockDB := new(MockRealStore)
		store := cache.NewCachedTokenStore(mockDB, mockCache, time.Minute, logger)

		withGeneration(mockCache, "gen-1")
		mockCache.On("Get", mock.Anything, mock.MatchedBy(func(k string) bool { return k != "notify:tokens:gen" }), mock.Anything).
			Run(func(args mock.Arguments) {
				*args.Get(2).(*[]dispatch.DeliveryToken) = tokens
			}).Return(nil)

		got, err := store.ResolveTokens(ctx, roles, nil)

		require.NoError(t, err)
		assert.Equal(t, tokens, got)
		mockDB.AssertNotCalled(t, "ResolveTokens", mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("Cache outage serves from the store", func(t *testing.T) {
		mockCache := new(MockCache)
		mockDB := new(MockRealStore)
		store := cache.NewCachedTokenStore(mockDB, mockCache, time.Minute, logger)

		mockCache.On("Get", mock.Anything, "notify:tokens:gen", mock.Anything).Return(assert.AnError)
		mockDB.On("ResolveTokens", ctx, roles, []string(nil)).Return(tokens, nil)

		got, err := store.ResolveTokens(ctx, roles, nil)

		require.NoError(t, err)
		assert.Equal(t, tokens, got)
		mockCache.AssertNotCalled(t, "Set", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("Store errors are not cached", func(t *testing.T) {
		mockCache := new(MockCache)
		mockDB := new(MockRealStore)
		store := cache.NewCachedTokenStore(mockDB, mockCache, time.Minute, logger)

		withGeneration(mockCache, "gen-1")
		mockCache.On("Get", mock.Anything, mock.Anything, mock.Anything).Return(cache.ErrMiss)
		resErr := &dispatch.ResolutionError{Err: assert.AnError}
		mockDB.On("ResolveTokens", ctx, roles, []string(nil)).Return(nil, resErr)

		_, err := store.ResolveTokens(ctx, roles, nil)

		assert.ErrorIs(t, err, assert.AnError)
		mockCache.AssertNotCalled(t, "Set", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	})
}

func TestCachedStore_BlankSelectorHasOwnKey(t *testing.T) {
	ctx := context.Background()
	mockCache := new(MockCache)
	mockDB := new(MockRealStore)
	store := cache.NewCachedTokenStore(mockDB, mockCache, time.Minute, newTestLogger())

	var keys []string
	withGeneration(mockCache, "gen-1")
	mockCache.On("Get", mock.Anything, mock.MatchedBy(func(k string) bool { return k != "notify:tokens:gen" }), mock.Anything).
		Return(cache.ErrMiss)
	mockCache.On("Set", mock.Anything, mock.Anything, mock.Anything, time.Minute).
		Run(func(args mock.Arguments) { keys = append(keys, args.String(1)) }).
		Return(nil)
	mockDB.On("ResolveTokens", ctx, []string(nil), []string(nil)).Return([]dispatch.DeliveryToken{{Token: "everyone"}}, nil)
	mockDB.On("ResolveTokens", ctx, []string(nil), []string{""}).Return([]dispatch.DeliveryToken{}, nil)

	_, err := store.ResolveTokens(ctx, nil, nil)
	require.NoError(t, err)
	_, err = store.ResolveTokens(ctx, nil, []string{""})
	require.NoError(t, err)

	require.Len(t, keys, 2)
	assert.NotEqual(t, keys[0], keys[1])
}

func TestCachedStore_ImmediateInvalidation(t *testing.T) {
	ctx := context.Background()
	mockCache := new(MockCache)
	mockDB := new(MockRealStore)
	store := cache.NewCachedTokenStore(mockDB, mockCache, time.Hour, newTestLogger())

	t.Run("Unregister rotates the generation", func(t *testing.T) {
		mockDB.On("UnregisterToken", ctx, "annoyed-user", "old-token").Return(nil)
		mockCache.On("Set", ctx, "notify:tokens:gen", mock.AnythingOfType("string"), time.Duration(0)).Return(nil).Once()

		err := store.UnregisterToken(ctx, "annoyed-user", "old-token")

		require.NoError(t, err)
		mockDB.AssertExpectations(t)
		mockCache.AssertExpectations(t)
	})

	t.Run("Failed register leaves the cache alone", func(t *testing.T) {
		tok := dispatch.DeliveryToken{Token: "t", OwnerUserID: "u"}
		mockDB.On("RegisterToken", ctx, tok).Return(assert.AnError)

		err := store.RegisterToken(ctx, tok)

		require.Error(t, err)
		mockCache.AssertNumberOfCalls(t, "Set", 1)
	})
}

func TestCredentialCache(t *testing.T) {
	ctx := context.Background()

	t.Run("Miss is not an error", func(t *testing.T) {
		mockCache := new(MockCache)
		mockCache.On("Get", ctx, "notify:credential:svc@test", mock.Anything).Return(cache.ErrMiss)

		_, ok, err := cache.NewCredentialCache(mockCache).GetCredential(ctx, "svc@test")
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("Put uses remaining lifetime as ttl", func(t *testing.T) {
		mockCache := new(MockCache)
		cred := dispatch.BearerCredential{AccessToken: "tok", ExpiresAt: time.Now().Add(time.Hour)}
		mockCache.On("Set", ctx, "notify:credential:svc@test", cred, mock.MatchedBy(func(ttl time.Duration) bool {
			return ttl > 59*time.Minute && ttl <= time.Hour
		})).Return(nil)

		require.NoError(t, cache.NewCredentialCache(mockCache).PutCredential(ctx, "svc@test", cred))
		mockCache.AssertExpectations(t)
	})

	t.Run("Expired credentials are not stored", func(t *testing.T) {
		mockCache := new(MockCache)
		cred := dispatch.BearerCredential{AccessToken: "tok", ExpiresAt: time.Now().Add(-time.Minute)}

		require.NoError(t, cache.NewCredentialCache(mockCache).PutCredential(ctx, "svc@test", cred))
		mockCache.AssertNotCalled(t, "Set", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("Delete removes the shared key", func(t *testing.T) {
		mockCache := new(MockCache)
		mockCache.On("Del", ctx, "notify:credential:svc@test").Return(nil)

		require.NoError(t, cache.NewCredentialCache(mockCache).DeleteCredential(ctx, "svc@test"))
		mockCache.AssertExpectations(t)
	})
}

package cache_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"retouch/internal/cache"
	"retouch/internal/domain"
)

func setupRedis(t *testing.T) *cache.RedisCache {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	ctx := context.Background()

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "redis:7-alpine",
			ExposedPorts: []string{"6379/tcp"},
			WaitingFor:   wait.ForLog("Ready to accept connections").WithStartupTimeout(30 * time.Second),
		},
		Started: true,
	})
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, container.Terminate(ctx)) })

	host, err := container.Host(ctx)
	require.NoError(t, err)
	port, err := container.MappedPort(ctx, "6379")
	require.NoError(t, err)

	rc, err := cache.NewRedisCache("redis://" + host + ":" + port.Port())
	require.NoError(t, err)
	t.Cleanup(func() { _ = rc.Close() })
	return rc
}

func TestMemoryCacheRoundtrip(t *testing.T) {
	c := cache.NewMemoryCache()
	ctx := context.Background()

	_, found, err := c.Get(ctx, "missing")
	require.NoError(t, err)
	assert.False(t, found)

	require.NoError(t, c.Set(ctx, "k", []byte("v"), time.Minute))
	val, found, err := c.Get(ctx, "k")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, []byte("v"), val)

	require.NoError(t, c.Delete(ctx, "k"))
	_, found, _ = c.Get(ctx, "k")
	assert.False(t, found)
}

func TestMemoryCacheExpiry(t *testing.T) {
	c := cache.NewMemoryCache()
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "short", []byte("v"), time.Millisecond))
	time.Sleep(5 * time.Millisecond)
	_, found, err := c.Get(ctx, "short")
	require.NoError(t, err)
	assert.False(t, found)
}

func TestMemoryCacheIncrWindow(t *testing.T) {
	c := cache.NewMemoryCache()
	ctx := context.Background()

	for want := int64(1); want <= 3; want++ {
		got, err := c.IncrWithExpiry(ctx, cache.RateLimitKey("203.0.113.1"), time.Minute)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}

	got, err := c.IncrWithExpiry(ctx, cache.RateLimitKey("203.0.113.2"), time.Minute)
	require.NoError(t, err)
	assert.Equal(t, int64(1), got)

	got, err = c.IncrWithExpiry(ctx, "burst", time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, int64(1), got)
	time.Sleep(5 * time.Millisecond)
	got, err = c.IncrWithExpiry(ctx, "burst", time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, int64(1), got, "window should restart after expiry")
}

func TestEditStatusesRoundtrip(t *testing.T) {
	statuses := cache.NewEditStatuses(cache.NewMemoryCache(), 0)
	ctx := context.Background()

	_, ok, err := statuses.Get(ctx, "e1")
	require.NoError(t, err)
	assert.False(t, ok)

	edit := &domain.Edit{
		ID:        "e1",
		UserID:    "u1",
		ToolType:  domain.ToolColorize,
		Status:    domain.EditStatusFailed,
		Error:     domain.ErrorCodeRateLimited.Message(),
		ErrorCode: domain.ErrorCodeRateLimited,
	}
	require.NoError(t, statuses.Put(ctx, edit))

	got, ok, err := statuses.Get(ctx, "e1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, edit.Status, got.Status)
	assert.Equal(t, edit.ErrorCode, got.ErrorCode)
	assert.Equal(t, edit.ToolType, got.ToolType)

	require.NoError(t, statuses.Forget(ctx, "e1"))
	_, ok, _ = statuses.Get(ctx, "e1")
	assert.False(t, ok)
}

func TestEditStatusesDropsCorruptSnapshot(t *testing.T) {
	mem := cache.NewMemoryCache()
	ctx := context.Background()
	require.NoError(t, mem.Set(ctx, cache.EditStatusKey("e1"), []byte("{not json"), time.Minute))

	_, ok, err := cache.NewEditStatuses(mem, time.Minute).Get(ctx, "e1")
	require.NoError(t, err)
	assert.False(t, ok)
	_, found, _ := mem.Get(ctx, cache.EditStatusKey("e1"))
	assert.False(t, found)
}

func TestRedisCache(t *testing.T) {
	rc := setupRedis(t)
	ctx := context.Background()

	require.NoError(t, rc.Ping(ctx))

	require.NoError(t, rc.Set(ctx, "test:key", []byte("hello"), 10*time.Second))
	val, found, err := rc.Get(ctx, "test:key")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, []byte("hello"), val)

	_, found, err = rc.Get(ctx, "nonexistent:key")
	require.NoError(t, err)
	assert.False(t, found)

	for want := int64(1); want <= 3; want++ {
		got, err := rc.IncrWithExpiry(ctx, cache.RateLimitKey("ip"), time.Minute)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}

	statuses := cache.NewEditStatuses(rc, time.Minute)
	require.NoError(t, statuses.Put(ctx, &domain.Edit{ID: "e2", Status: domain.EditStatusProcessing}))
	got, ok, err := statuses.Get(ctx, "e2")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, domain.EditStatusProcessing, got.Status)
}

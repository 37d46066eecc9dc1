package redis_test

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	redisclient "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/boomfest/boom-tickets/internal/adapters/memory"
	redisadapter "github.com/boomfest/boom-tickets/internal/adapters/redis"
	"github.com/boomfest/boom-tickets/internal/domain"
	"github.com/boomfest/boom-tickets/internal/observability"
)

func startRedis(t *testing.T) *redisclient.Client {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping Redis container test in short mode")
	}
	ctx := context.Background()
	c, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "redis:7",
			ExposedPorts: []string{"6379/tcp"},
			WaitingFor:   wait.ForExec([]string{"redis-cli", "ping"}),
		},
		Started: true,
	})
	require.NoError(t, err)
	t.Cleanup(func() { c.Terminate(ctx) })

	host, err := c.Host(ctx)
	require.NoError(t, err)
	port, err := c.MappedPort(ctx, "6379")
	require.NoError(t, err)

	client := redisclient.NewClient(&redisclient.Options{Addr: host + ":" + port.Port()})
	t.Cleanup(func() { client.Close() })
	return client
}

func TestOrderCache(t *testing.T) {
	client := startRedis(t)
	ctx := context.Background()

	store := memory.NewStore()
	store.Put(domain.Order{ID: 42, CreatedAt: time.Now(), Status: domain.StatusApproved, Quantity: 1})
	cache := redisadapter.NewOrderCache(redisadapter.NewCache(client), store, time.Minute)

	o, err := cache.GetOrder(ctx, 42)
	require.NoError(t, err)
	assert.False(t, o.CheckedIn)

	_, err = store.MarkCheckedIn(ctx, 42, time.Now(), "gate")
	require.NoError(t, err)

	// Within the TTL the cache serves the stale copy.
	o, err = cache.GetOrder(ctx, 42)
	require.NoError(t, err)
	assert.False(t, o.CheckedIn)

	require.NoError(t, cache.Invalidate(ctx, 42))
	o, err = cache.GetOrder(ctx, 42)
	require.NoError(t, err)
	assert.True(t, o.CheckedIn)

	_, err = cache.GetOrder(ctx, 7)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestOrderCache_WriteBackFailureIsCounted(t *testing.T) {
	admin := startRedis(t)
	ctx := context.Background()

	// A user that may read keys but not write them.
	require.NoError(t, admin.Do(ctx, "ACL", "SETUSER", "reader", "on", ">reader-pw", "~*", "+@connection", "+get").Err())
	reader := redisclient.NewClient(&redisclient.Options{
		Addr:     admin.Options().Addr,
		Username: "reader",
		Password: "reader-pw",
	})
	t.Cleanup(func() { reader.Close() })

	store := memory.NewStore()
	store.Put(domain.Order{ID: 42, CreatedAt: time.Now(), Status: domain.StatusApproved, Quantity: 1})
	cache := redisadapter.NewOrderCache(redisadapter.NewCache(reader), store, time.Minute)

	setErrors := observability.OrderCacheLookups.WithLabelValues("set_error")
	before := testutil.ToFloat64(setErrors)

	o, err := cache.GetOrder(ctx, 42)
	require.NoError(t, err, "a failed write-back still serves the store copy")
	assert.Equal(t, domain.OrderID(42), o.ID)
	assert.Equal(t, before+1, testutil.ToFloat64(setErrors))

	n, err := admin.Exists(ctx, "order:42").Result()
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestOrderCache_TTLBoundsStaleness(t *testing.T) {
	client := startRedis(t)
	ctx := context.Background()

	store := memory.NewStore()
	store.Put(domain.Order{ID: 42, CreatedAt: time.Now(), Status: domain.StatusPending, Quantity: 1})
	cache := redisadapter.NewOrderCache(redisadapter.NewCache(client), store, time.Second)

	o, err := cache.GetOrder(ctx, 42)
	require.NoError(t, err)
	require.Equal(t, domain.StatusPending, o.Status)

	_, err = store.UpdateStatus(ctx, 42, domain.StatusChange{From: domain.StatusPending, To: domain.StatusApproved, At: time.Now()})
	require.NoError(t, err)

	assert.Eventually(t, func() bool {
		o, err := cache.GetOrder(ctx, 42)
		return err == nil && o.Status == domain.StatusApproved
	}, 5*time.Second, 100*time.Millisecond)
}

func TestOrderCache_Warm(t *testing.T) {
	client := startRedis(t)
	ctx := context.Background()

	store := memory.NewStore()
	cache := redisadapter.NewOrderCache(redisadapter.NewCache(client), store, time.Minute)
	require.NoError(t, cache.Warm(ctx, []domain.Order{{ID: 1, Status: domain.StatusApproved}, {ID: 2, Status: domain.StatusApproved}}))

	// Served from the cache although the store never held them.
	o, err := cache.GetOrder(ctx, 2)
	require.NoError(t, err)
	assert.Equal(t, domain.OrderID(2), o.ID)
}

func TestIdempotency(t *testing.T) {
	client := startRedis(t)
	ctx := context.Background()
	idemp := redisadapter.NewIdempotency(client)

	resp, err := idemp.Get(ctx, "checkout-key-0001")
	require.NoError(t, err)
	assert.Nil(t, resp)

	ok, err := idemp.Claim(ctx, "checkout-key-0001", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = idemp.Claim(ctx, "checkout-key-0001", time.Minute)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, idemp.Set(ctx, "checkout-key-0001", redisadapter.IdempResponse{Status: 201, Result: []byte(`{"id":"1"}`)}, time.Minute))
	resp, err = idemp.Get(ctx, "checkout-key-0001")
	require.NoError(t, err)
	assert.Equal(t, 201, resp.Status)
}

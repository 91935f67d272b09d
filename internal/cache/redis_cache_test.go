package cache

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"posledger/internal/domain"
)

func TestNoopAccountCacheAlwaysMisses(t *testing.T) {
	var c AccountCache = NoopAccountCache{}
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, domain.Account{ID: "acc_main"}))
	got, ok, err := c.Get(ctx, "acc_main")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Nil(t, got)
	assert.NoError(t, c.Invalidate(ctx, "acc_main"))
}

func TestRedisAccountCacheRoundTrip(t *testing.T) {
	addr := os.Getenv("POSLEDGER_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("set POSLEDGER_TEST_REDIS_ADDR to run redis integration test")
	}

	ctx := context.Background()
	client := NewRedisClient(addr, "", 0)
	t.Cleanup(func() { _ = client.Close() })
	require.NoError(t, client.Ping(ctx).Err())

	c := NewRedisAccountCache(client, time.Minute)
	id := fmt.Sprintf("acc_it_%d", time.Now().UnixNano())
	t.Cleanup(func() { _ = c.Invalidate(ctx, id) })

	_, ok, err := c.Get(ctx, id)
	require.NoError(t, err)
	assert.False(t, ok)

	want := domain.Account{ID: id, Account: "KES", Balance: decimal.RequireFromString("10.25"), CashBalance: decimal.NewFromInt(3)}
	require.NoError(t, c.Set(ctx, want))

	got, ok, err := c.Get(ctx, id)
	require.NoError(t, err)
	require.True(t, ok)
	assert.True(t, got.Balance.Equal(want.Balance))
	assert.True(t, got.CashBalance.Equal(want.CashBalance))

	require.NoError(t, c.Invalidate(ctx, id))
	_, ok, err = c.Get(ctx, id)
	require.NoError(t, err)
	assert.False(t, ok)
}

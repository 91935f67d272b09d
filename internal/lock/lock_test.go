package lock

import (
	"context"
	"errors"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNoopLockerAlwaysGrants(t *testing.T) {
	release, err := NoopLocker{}.Obtain(context.Background(), AccountKey("acc_main"), time.Second)
	require.NoError(t, err)
	assert.NoError(t, release(context.Background()))
}

func TestAccountKey(t *testing.T) {
	assert.Equal(t, "posledger:lock:account:acc_main", AccountKey("acc_main"))
}

func TestRedisLockerContention(t *testing.T) {
	addr := os.Getenv("POSLEDGER_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("set POSLEDGER_TEST_REDIS_ADDR to run redis integration test")
	}

	ctx := context.Background()
	client := redis.NewClient(&redis.Options{Addr: addr})
	t.Cleanup(func() { _ = client.Close() })

	locker := NewRedisLocker(client)
	key := AccountKey(fmt.Sprintf("acc_it_%d", time.Now().UnixNano()))

	release, err := locker.Obtain(ctx, key, 5*time.Second)
	require.NoError(t, err)

	_, err = locker.Obtain(ctx, key, 5*time.Second)
	assert.True(t, errors.Is(err, ErrNotObtained), "got %v", err)

	require.NoError(t, release(ctx))
	// Releasing twice is not an error.
	require.NoError(t, release(ctx))

	again, err := locker.Obtain(ctx, key, 5*time.Second)
	require.NoError(t, err)
	require.NoError(t, again(ctx))
}

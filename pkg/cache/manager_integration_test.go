//go:build integration

package cache

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Sternrassler/marketgate/internal/testutil"
)

func TestManager_Integration_DeletePatternAcrossScanPages(t *testing.T) {
	client := testutil.StartRedisContainer(t)
	manager := NewManager(client, WithTimeout(5*time.Second))
	ctx := context.Background()

	for i := 0; i < 1200; i++ {
		require.NoError(t, manager.Set(ctx, fmt.Sprintf("products:list:page=%d", i), testEntry("{}", time.Minute)))
	}
	require.NoError(t, manager.Set(ctx, "merchants:list:page=1", testEntry("{}", time.Minute)))

	n, err := manager.DeletePattern(ctx, "products:*")
	require.NoError(t, err)
	assert.Equal(t, int64(1200), n)

	_, err = manager.Get(ctx, "merchants:list:page=1")
	assert.NoError(t, err)
}

func TestManager_Integration_Expiry(t *testing.T) {
	client := testutil.StartRedisContainer(t)
	manager := NewManager(client)
	ctx := context.Background()

	require.NoError(t, manager.Set(ctx, "k", testEntry("{}", 1100*time.Millisecond)))
	_, err := manager.Get(ctx, "k")
	require.NoError(t, err)

	time.Sleep(1500 * time.Millisecond)

	_, err = manager.Get(ctx, "k")
	assert.ErrorIs(t, err, ErrCacheMiss)
}

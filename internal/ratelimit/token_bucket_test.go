package ratelimit

import (
	"context"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTokenBucket(t *testing.T) {
	ctx := context.Background()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	defer mr.Close()

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	bucket := NewTokenBucket(client, 2, 1, time.Minute)

	allowed, err := bucket.Allow(ctx, "trigger:client")
	require.NoError(t, err)
	assert.True(t, allowed)

	allowed, err = bucket.Allow(ctx, "trigger:client")
	require.NoError(t, err)
	assert.True(t, allowed)

	allowed, err = bucket.Allow(ctx, "trigger:client")
	require.NoError(t, err)
	assert.False(t, allowed, "capacity exhausted")

	// Separate keys hold separate buckets.
	allowed, err = bucket.Allow(ctx, "trigger:other")
	require.NoError(t, err)
	assert.True(t, allowed)

	// Refill cannot be tested against miniredis: the Lua script takes its clock
	// from time.Now(), not the Redis server.
}

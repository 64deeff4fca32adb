package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestCache(t *testing.T) (*ResponseCache, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })
	return New(rdb, time.Minute, zap.NewNop()), mr
}

func TestKey_StableAndDistinct(t *testing.T) {
	payload := map[string]any{"prompt": "hello", "n": float64(3)}

	k1, err := Key("reply-generation", payload)
	require.NoError(t, err)
	k2, err := Key("reply-generation", map[string]any{"prompt": "hello", "n": float64(3)})
	require.NoError(t, err)
	assert.Equal(t, k1, k2, "same action+payload must produce the same key")

	k3, err := Key("reply-generation", map[string]any{"prompt": "other"})
	require.NoError(t, err)
	assert.NotEqual(t, k1, k3)

	k4, err := Key("vision-analysis", payload)
	require.NoError(t, err)
	assert.NotEqual(t, k1, k4, "action must be part of the key")
}

func TestGet_Miss(t *testing.T) {
	c, _ := newTestCache(t)

	_, err := c.Get(context.Background(), "ai:response:missing")
	assert.ErrorIs(t, err, ErrCacheMiss)
}

func TestSetGet_RoundTrip(t *testing.T) {
	c, _ := newTestCache(t)
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "ai:response:k", []byte("cached body")))

	data, err := c.Get(ctx, "ai:response:k")
	require.NoError(t, err)
	assert.Equal(t, []byte("cached body"), data)
}

func TestJSON_RoundTrip(t *testing.T) {
	c, _ := newTestCache(t)
	ctx := context.Background()

	type entry struct {
		Content string `json:"content"`
		Hits    int    `json:"hits"`
	}
	c.SetJSON(ctx, "ai:response:j", entry{Content: "reply text", Hits: 2})

	var got entry
	require.NoError(t, c.GetJSON(ctx, "ai:response:j", &got))
	assert.Equal(t, "reply text", got.Content)
	assert.Equal(t, 2, got.Hits)
}

func TestSet_TTLApplied(t *testing.T) {
	c, mr := newTestCache(t)
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "ai:response:ttl", []byte("x")))
	mr.FastForward(2 * time.Minute)

	_, err := c.Get(ctx, "ai:response:ttl")
	assert.ErrorIs(t, err, ErrCacheMiss)
}

package cache

import (
	"bytes"
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupRedis(t *testing.T, opts RedisOptions) (*RedisStore, *miniredis.Miniredis) {
	t.Helper()

	mr := miniredis.RunT(t)
	opts.URL = fmt.Sprintf("redis://%s", mr.Addr())
	store, err := NewRedisStore(opts)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store, mr
}

func TestMemoryStore(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	clock := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	store.now = func() time.Time { return clock }

	_, ok, err := store.Get(ctx, "missing")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, store.Set(ctx, "dash", []byte("v1"), time.Minute))
	require.NoError(t, store.Set(ctx, "forever", []byte("v2"), 0))

	got, ok, err := store.Get(ctx, "dash")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, []byte("v1"), got)

	got[0] = 'X'
	again, _, _ := store.Get(ctx, "dash")
	assert.Equal(t, []byte("v1"), again, "returned slices are copies")

	clock = clock.Add(time.Minute)
	_, ok, _ = store.Get(ctx, "dash")
	assert.False(t, ok, "entry expires at its TTL")
	_, ok, _ = store.Get(ctx, "forever")
	assert.True(t, ok)
	assert.Equal(t, 1, store.Len())

	require.NoError(t, store.Delete(ctx, "forever"))
	assert.Equal(t, 0, store.Len())

	require.NoError(t, store.Close())
	_, _, err = store.Get(ctx, "dash")
	assert.ErrorIs(t, err, ErrClosed)
	assert.ErrorIs(t, store.Set(ctx, "k", nil, 0), ErrClosed)
}

func TestJSONHelpers(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	type payload struct {
		Score int `json:"score"`
	}
	require.NoError(t, SetJSON(ctx, store, "k", payload{Score: 61}, time.Minute))

	var out payload
	ok, err := GetJSON(ctx, store, "k", &out)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 61, out.Score)

	ok, err = GetJSON(ctx, store, "nope", &out)
	assert.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, store.Set(ctx, "bad", []byte("{"), 0))
	_, err = GetJSON(ctx, store, "bad", &out)
	assert.Error(t, err)
}

func TestRedisStore_RoundTrip(t *testing.T) {
	ctx := context.Background()
	store, mr := setupRedis(t, RedisOptions{})

	require.NoError(t, store.Set(ctx, "dashboard:c1", []byte(`{"overallScore":61}`), time.Minute))
	assert.True(t, mr.Exists("grc:dashboard:c1"), "keys are prefixed")

	got, ok, err := store.Get(ctx, "dashboard:c1")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, `{"overallScore":61}`, string(got))

	mr.FastForward(time.Minute)
	_, ok, err = store.Get(ctx, "dashboard:c1")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, store.Set(ctx, "x", []byte("1"), 0))
	require.NoError(t, store.Delete(ctx, "x"))
	_, ok, _ = store.Get(ctx, "x")
	assert.False(t, ok)
}

func TestRedisStore_CompressesLargeValues(t *testing.T) {
	ctx := context.Background()
	store, mr := setupRedis(t, RedisOptions{Prefix: "t:", CompressMinSize: 64})

	large := bytes.Repeat([]byte(`{"id":"fnd-001","severity":"critical"},`), 100)
	require.NoError(t, store.Set(ctx, "big", large, time.Minute))

	raw, err := mr.Get("t:big")
	require.NoError(t, err)
	assert.Equal(t, headerZstd, raw[0])
	assert.Less(t, len(raw), len(large))

	got, ok, err := store.Get(ctx, "big")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, large, got)

	require.NoError(t, store.Set(ctx, "small", []byte("tiny"), time.Minute))
	raw, _ = mr.Get("t:small")
	assert.Equal(t, "rtiny", raw)
}

func TestRedisStore_CorruptValue(t *testing.T) {
	store, mr := setupRedis(t, RedisOptions{})
	require.NoError(t, mr.Set("grc:bad", "?garbage"))

	_, _, err := store.Get(context.Background(), "bad")
	assert.Error(t, err)
}

func TestNewRedisStore_Unreachable(t *testing.T) {
	_, err := NewRedisStore(RedisOptions{URL: "redis://127.0.0.1:1", ConnectTimeout: 200 * time.Millisecond})
	assert.Error(t, err)

	_, err = NewRedisStore(RedisOptions{URL: "not-a-url"})
	assert.Error(t, err)
}

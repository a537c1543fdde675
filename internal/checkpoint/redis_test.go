package checkpoint

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeKV struct {
	values map[string][]byte
	getErr error
}

func newFakeKV() *fakeKV {
	return &fakeKV{values: make(map[string][]byte)}
}

func (f *fakeKV) Get(_ context.Context, key string) *redis.StringCmd {
	if f.getErr != nil {
		return redis.NewStringResult("", f.getErr)
	}
	v, ok := f.values[key]
	if !ok {
		return redis.NewStringResult("", redis.Nil)
	}
	return redis.NewStringResult(string(v), nil)
}

func (f *fakeKV) Set(_ context.Context, key string, value any, _ time.Duration) *redis.StatusCmd {
	f.values[key] = append([]byte(nil), value.([]byte)...)
	return redis.NewStatusResult("OK", nil)
}

func (f *fakeKV) Del(_ context.Context, keys ...string) *redis.IntCmd {
	var n int64
	for _, k := range keys {
		if _, ok := f.values[k]; ok {
			delete(f.values, k)
			n++
		}
	}
	return redis.NewIntResult(n, nil)
}

func TestRedisStoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	kv := newFakeKV()
	store, err := NewRedisStoreWithClient(kv, "harvest:directory", nil)
	require.NoError(t, err)

	rec, err := store.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, rec.Len())

	require.NoError(t, store.Save(ctx, sampleRecord(t, "a", "b")))
	rec, err = store.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, rec.ProcessedIDs)

	require.NoError(t, store.Clear(ctx))
	assert.Empty(t, kv.values)
	require.NoError(t, store.Close())
}

func TestRedisStoreCorruptValue(t *testing.T) {
	kv := newFakeKV()
	kv.values["k"] = []byte("garbage")
	store, err := NewRedisStoreWithClient(kv, "k", nil)
	require.NoError(t, err)

	rec, err := store.Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, rec.Len())
}

func TestRedisStoreBackendError(t *testing.T) {
	kv := newFakeKV()
	kv.getErr = errors.New("i/o timeout")
	store, err := NewRedisStoreWithClient(kv, "k", nil)
	require.NoError(t, err)

	_, err = store.Load(context.Background())
	require.Error(t, err)
}

func TestNewRedisStoreWithClientValidation(t *testing.T) {
	_, err := NewRedisStoreWithClient(nil, "k", nil)
	require.Error(t, err)
	_, err = NewRedisStoreWithClient(newFakeKV(), "", nil)
	require.Error(t, err)
}

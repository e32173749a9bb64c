package session

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFileStore_RoundTrip(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "nested", "token")
	s := NewFileStore(path)

	tok, err := s.Load(ctx)
	require.NoError(t, err)
	assert.Empty(t, tok)

	require.NoError(t, s.Save(ctx, "abc.def.ghi"))
	tok, err = s.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, "abc.def.ghi", tok)

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	require.NoError(t, s.Save(ctx, "second"))
	tok, _ = s.Load(ctx)
	assert.Equal(t, "second", tok)

	require.NoError(t, s.Clear(ctx))
	require.NoError(t, s.Clear(ctx), "clearing twice is fine")
	tok, err = s.Load(ctx)
	require.NoError(t, err)
	assert.Empty(t, tok)
}

type fakeKV struct {
	data   map[string]string
	ttls   map[string]time.Duration
	getErr error
}

func newFakeKV() *fakeKV {
	return &fakeKV{data: map[string]string{}, ttls: map[string]time.Duration{}}
}

func (f *fakeKV) Get(_ context.Context, key string) *redis.StringCmd {
	if f.getErr != nil {
		return redis.NewStringResult("", f.getErr)
	}
	v, ok := f.data[key]
	if !ok {
		return redis.NewStringResult("", redis.Nil)
	}
	return redis.NewStringResult(v, nil)
}

func (f *fakeKV) Set(_ context.Context, key string, value interface{}, ttl time.Duration) *redis.StatusCmd {
	f.data[key] = value.(string)
	f.ttls[key] = ttl
	return redis.NewStatusResult("OK", nil)
}

func (f *fakeKV) Del(_ context.Context, keys ...string) *redis.IntCmd {
	var n int64
	for _, k := range keys {
		if _, ok := f.data[k]; ok {
			delete(f.data, k)
			n++
		}
	}
	return redis.NewIntResult(n, nil)
}

func TestRedisStore(t *testing.T) {
	ctx := context.Background()
	kv := newFakeKV()
	s := NewRedisStore(kv, "sid-1", 12*time.Hour)

	tok, err := s.Load(ctx)
	require.NoError(t, err)
	assert.Empty(t, tok)

	require.NoError(t, s.Save(ctx, "t-1"))
	assert.Equal(t, "t-1", kv.data["dashboard:session:sid-1:token"])
	assert.Equal(t, 12*time.Hour, kv.ttls["dashboard:session:sid-1:token"])

	other := NewRedisStore(kv, "sid-2", time.Hour)
	tok, _ = other.Load(ctx)
	assert.Empty(t, tok, "sessions do not share credentials")

	tok, _ = s.Load(ctx)
	assert.Equal(t, "t-1", tok)

	require.NoError(t, s.Clear(ctx))
	tok, _ = s.Load(ctx)
	assert.Empty(t, tok)
}

func TestRedisStore_LoadError(t *testing.T) {
	kv := newFakeKV()
	kv.getErr = errors.New("connection refused")
	s := NewRedisStore(kv, "sid", time.Hour)

	_, err := s.Load(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connection refused")
}

package db

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testDatabase(t *testing.T, d Database) {
	ok, err := d.Has("a:1")
	require.NoError(t, err)
	assert.False(t, ok)
	_, err = d.Get("a:1")
	assert.Equal(t, ErrNotFound, err)

	require.NoError(t, d.Put("a:2", "two"))
	require.NoError(t, d.Put("a:1", "one"))
	require.NoError(t, d.Put("b:1", "other"))

	value, err := d.Get("a:1")
	require.NoError(t, err)
	assert.Equal(t, "one", value)

	items, err := d.List("a:")
	require.NoError(t, err)
	assert.Equal(t, []Item{{Key: "a:1", Value: "one"}, {Key: "a:2", Value: "two"}}, items)

	require.NoError(t, d.Delete("a:1"))
	ok, err = d.Has("a:1")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestLevelDB(t *testing.T) {
	d, err := NewLevelDB("")
	require.NoError(t, err)
	defer d.Close()
	testDatabase(t, d)
}

func TestLevelDB_File(t *testing.T) {
	dir := t.TempDir()
	d, err := NewLevelDB(dir)
	require.NoError(t, err)
	require.NoError(t, d.Put("k", "v"))
	require.NoError(t, d.Close())

	d, err = NewLevelDB(dir)
	require.NoError(t, err)
	defer d.Close()
	value, err := d.Get("k")
	require.NoError(t, err)
	assert.Equal(t, "v", value)
}

// 需要本地 redis
func TestRedis(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	rdb, err := NewRedisClient(ctx, RedisConf{Addr: "localhost:6379"})
	if err != nil {
		t.Skipf("redis not available: %s", err)
	}
	d := NewRedis(rdb, "PayWalletTest"+time.Now().Format("150405.000"))
	defer func() {
		rdb.Del(context.Background(), d.hash)
		_ = d.Close()
	}()
	testDatabase(t, d)
}

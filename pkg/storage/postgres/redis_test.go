package postgres

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/curator/pkg/storage"
)

func setupRedisClientTest(t *testing.T) (*RedisClient, *miniredis.Miniredis) {
	t.Helper()

	mr := miniredis.RunT(t)
	client, err := NewRedisClient(storage.Config{RedisURL: "redis://" + mr.Addr()})
	require.NoError(t, err)
	t.Cleanup(func() { client.Close() })
	return client, mr
}

func TestRedisOptions(t *testing.T) {
	tests := []struct {
		name     string
		cfg      storage.Config
		wantDB   int
		wantPool int
		wantPass string
		wantErr  bool
	}{
		{name: "url only", cfg: storage.Config{RedisURL: "redis://cache:6379/2"}, wantDB: 2},
		{
			name:     "explicit settings win",
			cfg:      storage.Config{RedisURL: "redis://:urlpass@cache:6379/2", RedisDB: 4, RedisPoolSize: 25, RedisPassword: "secret"},
			wantDB:   4,
			wantPool: 25,
			wantPass: "secret",
		},
		{name: "bad url", cfg: storage.Config{RedisURL: "not a url"}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			opts, err := redisOptions(tt.cfg)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, "cache:6379", opts.Addr)
			assert.Equal(t, tt.wantDB, opts.DB)
			assert.Equal(t, tt.wantPool, opts.PoolSize)
			if tt.wantPass != "" {
				assert.Equal(t, tt.wantPass, opts.Password)
			}
			assert.Equal(t, redisIOTimeout, opts.ReadTimeout)
		})
	}
}

func TestNewRedisClient_Unreachable(t *testing.T) {
	mr := miniredis.RunT(t)
	addr := mr.Addr()
	mr.Close()

	_, err := NewRedisClient(storage.Config{RedisURL: "redis://" + addr})
	assert.ErrorContains(t, err, "unreachable")
}

func TestRedisClient_JSON(t *testing.T) {
	client, mr := setupRedisClientTest(t)
	ctx := context.Background()

	var out []string
	found, err := client.GetJSON(ctx, "curator:perms:0:missing", &out)
	require.NoError(t, err)
	assert.False(t, found)

	require.NoError(t, client.SetJSON(ctx, "curator:perms:0:u1", []string{"collections.view"}, 0))
	found, err = client.GetJSON(ctx, "curator:perms:0:u1", &out)
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, []string{"collections.view"}, out)

	require.NoError(t, mr.Set("curator:perms:0:corrupt", "{not json"))
	found, err = client.GetJSON(ctx, "curator:perms:0:corrupt", &out)
	require.NoError(t, err)
	assert.False(t, found)
	assert.False(t, mr.Exists("curator:perms:0:corrupt"), "corrupt entries are deleted")

	require.NoError(t, client.Delete(ctx, "curator:perms:0:u1"))
	assert.False(t, mr.Exists("curator:perms:0:u1"))
	require.NoError(t, client.Delete(ctx))

	mr.Close()
	_, err = client.GetJSON(ctx, "curator:perms:0:u1", &out)
	assert.Error(t, err)
}

func TestRedisClient_Counters(t *testing.T) {
	client, mr := setupRedisClientTest(t)
	ctx := context.Background()

	n, err := client.Incr(ctx, "curator:perms:gen")
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	counters, err := client.Counters(ctx, "curator:perms:gen", "curator:perms:gen:missing")
	require.NoError(t, err)
	assert.Equal(t, []int64{1, 0}, counters)

	require.NoError(t, mr.Set("curator:perms:gen", "not-a-number"))
	_, err = client.Counters(ctx, "curator:perms:gen")
	assert.ErrorContains(t, err, "counter curator:perms:gen")
}

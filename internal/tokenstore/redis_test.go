package tokenstore

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// memRedis answers GET, SET and DEL from a map through a process hook, so a
// real *redis.Client runs without a server.
type memRedis struct {
	mu   sync.Mutex
	data map[string]string
	err  error
}

func newMemRedisClient(t *testing.T) (*redis.Client, *memRedis) {
	t.Helper()
	mem := &memRedis{data: map[string]string{}}
	client := redis.NewClient(&redis.Options{Addr: "127.0.0.1:0"})
	client.AddHook(mem)
	t.Cleanup(func() { _ = client.Close() })
	return client, mem
}

func (m *memRedis) DialHook(next redis.DialHook) redis.DialHook { return next }

func (m *memRedis) ProcessPipelineHook(next redis.ProcessPipelineHook) redis.ProcessPipelineHook {
	return next
}

func (m *memRedis) ProcessHook(next redis.ProcessHook) redis.ProcessHook {
	return func(ctx context.Context, cmd redis.Cmder) error {
		m.mu.Lock()
		defer m.mu.Unlock()
		if m.err != nil {
			cmd.SetErr(m.err)
			return m.err
		}
		args := cmd.Args()
		if len(args) < 2 {
			return next(ctx, cmd)
		}
		key := fmt.Sprint(args[1])
		switch c := cmd.(type) {
		case *redis.StringCmd:
			val, ok := m.data[key]
			if !ok {
				c.SetErr(redis.Nil)
				return redis.Nil
			}
			c.SetVal(val)
		case *redis.StatusCmd:
			switch v := args[2].(type) {
			case []byte:
				m.data[key] = string(v)
			default:
				m.data[key] = fmt.Sprint(v)
			}
			c.SetVal("OK")
		case *redis.IntCmd:
			var n int64
			if _, ok := m.data[key]; ok {
				delete(m.data, key)
				n = 1
			}
			c.SetVal(n)
		default:
			return next(ctx, cmd)
		}
		return nil
	}
}

func (m *memRedis) get(key string) (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.data[key]
	return v, ok
}

func TestRedisMissingKeyIsEmpty(t *testing.T) {
	client, _ := newMemRedisClient(t)

	store, err := NewRedis(context.Background(), client, "")
	require.NoError(t, err)
	_, ok := store.Current()
	assert.False(t, ok)
	assert.True(t, store.Token().IsZero())
}

func TestRedisSharesRecordBetweenStores(t *testing.T) {
	ctx := context.Background()
	client, mem := newMemRedisClient(t)

	writer, err := NewRedis(ctx, client, "")
	require.NoError(t, err)
	require.NoError(t, writer.Save(ctx, sampleRecord))

	raw, ok := mem.get(DefaultRedisKey)
	require.True(t, ok)
	assert.Contains(t, raw, `"session-1"`)

	reader, err := NewRedis(ctx, client, "")
	require.NoError(t, err)
	rec, ok := reader.Current()
	require.True(t, ok)
	assert.Equal(t, sampleRecord.Token, rec.Token)
	assert.Equal(t, sampleRecord.Username, rec.Username)

	require.NoError(t, writer.Clear(ctx))
	_, ok = mem.get(DefaultRedisKey)
	assert.False(t, ok)
	require.NoError(t, reader.Refresh(ctx))
	_, ok = reader.Current()
	assert.False(t, ok)
}

func TestRedisCorruptRecordFails(t *testing.T) {
	client, mem := newMemRedisClient(t)
	mem.data["cadbridge:bad"] = "{not json"

	_, err := NewRedis(context.Background(), client, "cadbridge:bad")
	assert.Error(t, err)
}

func TestRedisBackendErrorIsReported(t *testing.T) {
	client, mem := newMemRedisClient(t)
	mem.err = errors.New("connection refused")

	_, err := NewRedis(context.Background(), client, "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "redis get cadbridge:token")
}

func TestRedisRejectsNilClient(t *testing.T) {
	_, err := NewRedis(context.Background(), nil, "")
	assert.Error(t, err)
}

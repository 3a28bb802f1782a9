package storage

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	logx "castbot/pkg/logx"
)

func collect(t *testing.T, c Cursor) ([]RecipientID, error) {
	t.Helper()
	defer c.Close()
	var out []RecipientID
	for c.Next() {
		out = append(out, c.ID())
	}
	return out, c.Err()
}

// runStoreContract exercises behavior every backend must share.
func runStoreContract(t *testing.T, open func(t *testing.T) Store) {
	t.Run("empty", func(t *testing.T) {
		s := open(t)
		ctx := context.Background()
		n, err := s.Count(ctx, Filter{})
		require.NoError(t, err)
		assert.Equal(t, 0, n)

		c, err := s.OpenCursor(ctx)
		require.NoError(t, err)
		ids, err := collect(t, c)
		require.NoError(t, err)
		assert.Empty(t, ids)
	})

	t.Run("upsert is idempotent", func(t *testing.T) {
		s := open(t)
		ctx := context.Background()
		created, err := s.UpsertIfAbsent(ctx, Recipient{ID: 42, FirstName: "Ann"})
		require.NoError(t, err)
		assert.True(t, created)

		created, err = s.UpsertIfAbsent(ctx, Recipient{ID: 42, FirstName: "Other"})
		require.NoError(t, err)
		assert.False(t, created)

		n, err := s.Count(ctx, Filter{})
		require.NoError(t, err)
		assert.Equal(t, 1, n)
	})

	t.Run("cursor pages through everything", func(t *testing.T) {
		s := open(t)
		ctx := context.Background()
		want := map[RecipientID]bool{}
		for i := 1; i <= 1234; i++ {
			_, err := s.UpsertIfAbsent(ctx, Recipient{ID: RecipientID(i * 7)})
			require.NoError(t, err)
			want[RecipientID(i*7)] = true
		}
		c, err := s.OpenCursor(ctx)
		require.NoError(t, err)
		ids, err := collect(t, c)
		require.NoError(t, err)
		require.Len(t, ids, len(want))
		for _, id := range ids {
			assert.True(t, want[id], "unexpected id %d", id)
		}
	})

	t.Run("count by join date", func(t *testing.T) {
		s := open(t)
		ctx := context.Background()
		now := time.Now()
		_, err := s.UpsertIfAbsent(ctx, Recipient{ID: 1, JoinedAt: now.AddDate(0, -6, 0)})
		require.NoError(t, err)
		_, err = s.UpsertIfAbsent(ctx, Recipient{ID: 2, JoinedAt: now.AddDate(0, -1, 0)})
		require.NoError(t, err)
		_, err = s.UpsertIfAbsent(ctx, Recipient{ID: 3, JoinedAt: now})
		require.NoError(t, err)

		n, err := s.Count(ctx, Filter{JoinedSince: now.AddDate(0, -3, 0)})
		require.NoError(t, err)
		assert.Equal(t, 2, n)
		n, err = s.Count(ctx, Filter{})
		require.NoError(t, err)
		assert.Equal(t, 3, n)
	})

	t.Run("canceled context stops cursor", func(t *testing.T) {
		s := open(t)
		for i := 1; i <= 10; i++ {
			_, err := s.UpsertIfAbsent(context.Background(), Recipient{ID: RecipientID(i)})
			require.NoError(t, err)
		}
		ctx, cancel := context.WithCancel(context.Background())
		c, err := s.OpenCursor(ctx)
		require.NoError(t, err)
		require.True(t, c.Next())
		cancel()
		assert.False(t, c.Next())
		assert.ErrorIs(t, c.Err(), context.Canceled)
		require.NoError(t, c.Close())
	})

	t.Run("audit", func(t *testing.T) {
		s := open(t)
		require.NoError(t, s.AppendAudit(context.Background(), AuditEntry{ActorID: 1, Action: "broadcast", OK: 3, Fail: 1}))
	})

	t.Run("closed", func(t *testing.T) {
		s := open(t)
		require.NoError(t, s.Close())
		_, err := s.Count(context.Background(), Filter{})
		assert.ErrorIs(t, err, ErrClosed)
	})
}

func TestMemoryStore(t *testing.T) {
	runStoreContract(t, func(t *testing.T) Store { return NewMemory() })
}

func TestSQLiteStore(t *testing.T) {
	runStoreContract(t, func(t *testing.T) Store {
		path := filepath.Join(t.TempDir(), "castbot.db")
		s, err := Open(context.Background(), Config{Driver: "sqlite", Path: path, PageSize: 100}, logx.Nop())
		require.NoError(t, err)
		t.Cleanup(func() { _ = s.Close() })
		return s
	})
}

func TestBadgerStore(t *testing.T) {
	runStoreContract(t, func(t *testing.T) Store {
		s, err := Open(context.Background(), Config{Driver: "badger", Path: InMemoryPath, PageSize: 100}, logx.Nop())
		require.NoError(t, err)
		t.Cleanup(func() { _ = s.Close() })
		return s
	})
}

// TestRedisStore runs against a real server when CASTBOT_TEST_REDIS is set.
func TestRedisStore(t *testing.T) {
	addr := os.Getenv("CASTBOT_TEST_REDIS")
	if addr == "" {
		t.Skip("CASTBOT_TEST_REDIS not set")
	}
	runStoreContract(t, func(t *testing.T) Store {
		ns := "castbot-test-" + uuid.NewString()
		s, err := Open(context.Background(), Config{Driver: "redis", RedisAddr: addr, Namespace: ns, PageSize: 100}, logx.Nop())
		require.NoError(t, err)
		t.Cleanup(func() {
			rs := s.(*redisStore)
			keys, _ := rs.rdb.Keys(context.Background(), ns+":*").Result()
			if len(keys) > 0 {
				_ = rs.rdb.Del(context.Background(), keys...).Err()
			}
			_ = s.Close()
		})
		return s
	})
}

func TestOpenUnknownDriver(t *testing.T) {
	t.Parallel()
	_, err := Open(context.Background(), Config{Driver: "mongo"}, logx.Nop())
	assert.True(t, errors.Is(err, ErrUnknownDriver))

	_, err = Open(context.Background(), Config{Driver: "none"}, logx.Nop())
	assert.ErrorIs(t, err, ErrDisabled)
}

func TestMemoryCursorError(t *testing.T) {
	t.Parallel()
	m := NewMemory()
	m.Seed(1, 2, 3, 4, 5)
	boom := errors.New("cursor broke")
	m.CursorErr = boom
	m.CursorErrAfter = 3

	c, err := m.OpenCursor(context.Background())
	require.NoError(t, err)
	ids, err := collect(t, c)
	assert.Equal(t, []RecipientID{1, 2, 3}, ids)
	assert.ErrorIs(t, err, boom)
}

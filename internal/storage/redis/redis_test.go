package redis

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/quotaflow/quotaflow/internal/limiter"
)

const window = 10 * time.Second

func newTestStore(t *testing.T) (*RedisStore, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return NewRedisStore(client), mr
}

func TestRecordReturnsPriorCount(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()
	key := "ratelimit:u"

	count, err := s.Record(ctx, key, 100, window)
	require.NoError(t, err)
	require.EqualValues(t, 0, count)

	count, err = s.Record(ctx, key, 101, window)
	require.NoError(t, err)
	require.EqualValues(t, 1, count)

	count, err = s.Record(ctx, key, 102.5, window)
	require.NoError(t, err)
	require.EqualValues(t, 2, count)
}

func TestRecordPurgesAgedEvents(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()
	key := "ratelimit:u"

	_, err := s.Record(ctx, key, 100, window)
	require.NoError(t, err)
	_, err = s.Record(ctx, key, 101, window)
	require.NoError(t, err)

	// Window start at now=111 is 101; the boundary event is purged too.
	count, err := s.Record(ctx, key, 111, window)
	require.NoError(t, err)
	require.EqualValues(t, 0, count)
}

func TestRecordSetsTTL(t *testing.T) {
	s, mr := newTestStore(t)
	key := "ratelimit:u"

	_, err := s.Record(context.Background(), key, 100, window)
	require.NoError(t, err)

	require.True(t, mr.Exists(key))
	require.Equal(t, window, mr.TTL(key))
}

func TestCountDoesNotInsert(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()
	key := "ratelimit:u"

	_, err := s.Record(ctx, key, 100, window)
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		count, err := s.Count(ctx, key, 101, window)
		require.NoError(t, err)
		require.EqualValues(t, 1, count)
	}

	count, err := s.Count(ctx, "ratelimit:missing", 101, window)
	require.NoError(t, err)
	require.EqualValues(t, 0, count)
}

func TestRetract(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()
	key := "ratelimit:u"

	_, err := s.Record(ctx, key, 100, window)
	require.NoError(t, err)
	_, err = s.Record(ctx, key, 101.25, window)
	require.NoError(t, err)

	require.NoError(t, s.Retract(ctx, key, 101.25))

	count, err := s.Count(ctx, key, 101.25, window)
	require.NoError(t, err)
	require.EqualValues(t, 1, count)
}

func TestDelete(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()
	key := "ratelimit:u"

	_, err := s.Record(ctx, key, 100, window)
	require.NoError(t, err)

	existed, err := s.Delete(ctx, key)
	require.NoError(t, err)
	require.True(t, existed)

	existed, err = s.Delete(ctx, key)
	require.NoError(t, err)
	require.False(t, existed)
}

func TestStoreUnavailable(t *testing.T) {
	s, mr := newTestStore(t)
	mr.Close()

	_, err := s.Record(context.Background(), "ratelimit:u", 100, window)
	require.Error(t, err)
}

func TestConcurrentSingleSlot(t *testing.T) {
	// With a one-request quota and empty state, two racing checks must yield
	// exactly one admission. Atomicity comes from the MULTI/EXEC batch, not
	// from anything in-process.
	s, _ := newTestStore(t)
	l := limiter.NewLimiter(s, 1, 60)
	ctx := context.Background()

	ch := make(chan bool, 2)
	for i := 0; i < 2; i++ {
		go func() {
			v, err := l.Check(ctx, "r", 1, 60)
			ch <- err == nil && v.Allowed
		}()
	}

	allowed := 0
	for i := 0; i < 2; i++ {
		if <-ch {
			allowed++
		}
	}
	require.Equal(t, 1, allowed)
}

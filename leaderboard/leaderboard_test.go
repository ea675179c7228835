package leaderboard

import (
	"context"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	redisadapter "leaderkit/adapters/redis"
	"leaderkit/core"
)

// newTestStore spins up a miniredis server and returns a store plus cleanup.
func newTestStore(t *testing.T) (*redisadapter.Store, func()) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	store := redisadapter.NewWithClient(client)
	cleanup := func() {
		_ = client.Close()
		mr.Close()
	}
	return store, cleanup
}

func TestLeaderboard_BasicRanking(t *testing.T) {
	store, cleanup := newTestStore(t)
	defer cleanup()

	lb := New[int64](store, "lb:test", core.Options{SortPolicy: core.HighToLow})
	ctx := context.Background()

	_, err := lb.UpdateOne(ctx, "a", 100, core.PolicyDefault)
	require.NoError(t, err)
	_, err = lb.UpdateOne(ctx, "b", 200, core.PolicyDefault)
	require.NoError(t, err)
	_, err = lb.UpdateOne(ctx, "c", 150, core.PolicyDefault)
	require.NoError(t, err)

	rank, ok, err := lb.Rank(ctx, "a")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, int64(3), rank)

	rank, ok, err = lb.Rank(ctx, "b")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, int64(1), rank)

	rank, ok, err = lb.Rank(ctx, "c")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, int64(2), rank)

	top, err := lb.Top(ctx, 3)
	require.NoError(t, err)
	assert.Equal(t, []core.Entry[int64]{
		{ID: "b", Score: 200, Rank: 1},
		{ID: "c", Score: 150, Rank: 2},
		{ID: "a", Score: 100, Rank: 3},
	}, top)
}

func TestLeaderboard_RankAbsent(t *testing.T) {
	store, cleanup := newTestStore(t)
	defer cleanup()

	lb := New[int64](store, "lb:test", core.Options{})

	_, ok, err := lb.Rank(context.Background(), "ghost")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestLeaderboard_Find(t *testing.T) {
	store, cleanup := newTestStore(t)
	defer cleanup()

	lb := New[int64](store, "lb:test", core.Options{})
	ctx := context.Background()

	_, err := lb.UpdateOne(ctx, "p", 100, core.PolicyDefault)
	require.NoError(t, err)

	entry, err := lb.Find(ctx, "p")
	require.NoError(t, err)
	require.NotNil(t, entry)
	assert.Equal(t, "p", entry.ID)
	assert.Equal(t, int64(100), entry.Score)
	assert.Equal(t, int64(1), entry.Rank)

	entry, err = lb.Find(ctx, "ghost")
	require.NoError(t, err)
	assert.Nil(t, entry)
}

func TestLeaderboard_At(t *testing.T) {
	store, cleanup := newTestStore(t)
	defer cleanup()

	lb := New[int64](store, "lb:test", core.Options{})
	ctx := context.Background()

	_, err := lb.Update(ctx, []core.EntryUpdate[int64]{
		{ID: "a", Value: 100},
		{ID: "b", Value: 200},
	}, core.PolicyDefault)
	require.NoError(t, err)

	entry, err := lb.At(ctx, 1)
	require.NoError(t, err)
	require.NotNil(t, entry)
	assert.Equal(t, "b", entry.ID)

	entry, err = lb.At(ctx, 0)
	require.NoError(t, err)
	assert.Nil(t, entry)

	entry, err = lb.At(ctx, -5)
	require.NoError(t, err)
	assert.Nil(t, entry)

	entry, err = lb.At(ctx, 99)
	require.NoError(t, err)
	assert.Nil(t, entry)
}

func TestLeaderboard_AtAgreesWithFind(t *testing.T) {
	store, cleanup := newTestStore(t)
	defer cleanup()

	lb := New[int64](store, "lb:test", core.Options{})
	ctx := context.Background()

	for i, id := range []string{"a", "b", "c", "d"} {
		_, err := lb.UpdateOne(ctx, id, int64((i+1)*10), core.PolicyDefault)
		require.NoError(t, err)
	}

	for _, id := range []string{"a", "b", "c", "d"} {
		found, err := lb.Find(ctx, id)
		require.NoError(t, err)
		require.NotNil(t, found)
		at, err := lb.At(ctx, found.Rank)
		require.NoError(t, err)
		require.NotNil(t, at)
		assert.Equal(t, id, at.ID)
	}
}

func TestLeaderboard_BestPolicy(t *testing.T) {
	store, cleanup := newTestStore(t)
	defer cleanup()

	lb := New[int64](store, "lb:test", core.Options{UpdatePolicy: core.Best})
	ctx := context.Background()

	_, err := lb.UpdateOne(ctx, "p", 100, core.PolicyDefault)
	require.NoError(t, err)
	_, err = lb.UpdateOne(ctx, "p", 50, core.Best)
	require.NoError(t, err)
	result, err := lb.UpdateOne(ctx, "p", 200, core.Best)
	require.NoError(t, err)
	assert.Equal(t, int64(200), result)

	entry, err := lb.Find(ctx, "p")
	require.NoError(t, err)
	require.NotNil(t, entry)
	assert.Equal(t, int64(200), entry.Score)
}

func TestLeaderboard_BestPolicyLowToHigh(t *testing.T) {
	store, cleanup := newTestStore(t)
	defer cleanup()

	lb := New[int64](store, "lb:test", core.Options{SortPolicy: core.LowToHigh, UpdatePolicy: core.Best})
	ctx := context.Background()

	_, err := lb.UpdateOne(ctx, "p", 100, core.PolicyDefault)
	require.NoError(t, err)
	result, err := lb.UpdateOne(ctx, "p", 50, core.PolicyDefault)
	require.NoError(t, err)
	assert.Equal(t, int64(50), result)
	result, err = lb.UpdateOne(ctx, "p", 200, core.PolicyDefault)
	require.NoError(t, err)
	assert.Equal(t, int64(50), result)

	entry, err := lb.Find(ctx, "p")
	require.NoError(t, err)
	require.NotNil(t, entry)
	assert.Equal(t, int64(50), entry.Score)
}

func TestLeaderboard_AggregatePolicy(t *testing.T) {
	store, cleanup := newTestStore(t)
	defer cleanup()

	lb := New[int64](store, "lb:test", core.Options{})
	ctx := context.Background()

	_, err := lb.UpdateOne(ctx, "p", 100, core.PolicyDefault)
	require.NoError(t, err)
	result, err := lb.UpdateOne(ctx, "p", 50, core.Aggregate)
	require.NoError(t, err)
	assert.Equal(t, int64(150), result)

	entry, err := lb.Find(ctx, "p")
	require.NoError(t, err)
	require.NotNil(t, entry)
	assert.Equal(t, int64(150), entry.Score)
}

func TestLeaderboard_LowToHighOrdering(t *testing.T) {
	store, cleanup := newTestStore(t)
	defer cleanup()

	lb := New[int64](store, "lb:test", core.Options{SortPolicy: core.LowToHigh})
	ctx := context.Background()

	_, err := lb.UpdateOne(ctx, "a", 100, core.PolicyDefault)
	require.NoError(t, err)
	_, err = lb.UpdateOne(ctx, "b", 200, core.PolicyDefault)
	require.NoError(t, err)
	_, err = lb.UpdateOne(ctx, "c", 50, core.PolicyDefault)
	require.NoError(t, err)

	top, err := lb.Top(ctx, 3)
	require.NoError(t, err)
	assert.Equal(t, []core.Entry[int64]{
		{ID: "c", Score: 50, Rank: 1},
		{ID: "a", Score: 100, Rank: 2},
		{ID: "b", Score: 200, Rank: 3},
	}, top)
}

func TestLeaderboard_ListClampsBounds(t *testing.T) {
	store, cleanup := newTestStore(t)
	defer cleanup()

	lb := New[int64](store, "lb:test", core.Options{})
	ctx := context.Background()

	for i, id := range []string{"a", "b", "c"} {
		_, err := lb.UpdateOne(ctx, id, int64(100-i*10), core.PolicyDefault)
		require.NoError(t, err)
	}

	entries, err := lb.List(ctx, -3, 2)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, int64(1), entries[0].Rank)
	assert.Equal(t, int64(2), entries[1].Rank)
}

func TestLeaderboard_ListAgreesWithTop(t *testing.T) {
	store, cleanup := newTestStore(t)
	defer cleanup()

	lb := New[int64](store, "lb:test", core.Options{})
	ctx := context.Background()

	for i := 0; i < 8; i++ {
		_, err := lb.UpdateOne(ctx, string(rune('a'+i)), int64((i+1)*10), core.PolicyDefault)
		require.NoError(t, err)
	}

	top, err := lb.Top(ctx, 5)
	require.NoError(t, err)
	list, err := lb.List(ctx, 1, 5)
	require.NoError(t, err)
	assert.Equal(t, top, list)
}

func TestLeaderboard_Bottom(t *testing.T) {
	store, cleanup := newTestStore(t)
	defer cleanup()

	lb := New[int64](store, "lb:test", core.Options{})
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		_, err := lb.UpdateOne(ctx, string(rune('a'+i)), int64((i+1)*10), core.PolicyDefault)
		require.NoError(t, err)
	}

	// Scores: a=10 .. e=50; high-to-low ranks: e=1 .. a=5.
	bottom, err := lb.Bottom(ctx, 2)
	require.NoError(t, err)
	assert.Equal(t, []core.Entry[int64]{
		{ID: "a", Score: 10, Rank: 5},
		{ID: "b", Score: 20, Rank: 4},
	}, bottom)
}

func TestLeaderboard_ListByScore(t *testing.T) {
	store, cleanup := newTestStore(t)
	defer cleanup()

	lb := New[int64](store, "lb:test", core.Options{})
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		_, err := lb.UpdateOne(ctx, string(rune('a'+i)), int64((i+1)*10), core.PolicyDefault)
		require.NoError(t, err)
	}

	// Scores 10..50 under high-to-low: e(50)=1, d(40)=2, c(30)=3, b(20)=4, a(10)=5.
	entries, err := lb.ListByScore(ctx, 20, 40)
	require.NoError(t, err)
	assert.Equal(t, []core.Entry[int64]{
		{ID: "d", Score: 40, Rank: 2},
		{ID: "c", Score: 30, Rank: 3},
		{ID: "b", Score: 20, Rank: 4},
	}, entries)
}

func TestLeaderboard_ListByScoreLowToHigh(t *testing.T) {
	store, cleanup := newTestStore(t)
	defer cleanup()

	lb := New[int64](store, "lb:test", core.Options{SortPolicy: core.LowToHigh})
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		_, err := lb.UpdateOne(ctx, string(rune('a'+i)), int64((i+1)*10), core.PolicyDefault)
		require.NoError(t, err)
	}

	entries, err := lb.ListByScore(ctx, 20, 40)
	require.NoError(t, err)
	assert.Equal(t, []core.Entry[int64]{
		{ID: "b", Score: 20, Rank: 2},
		{ID: "c", Score: 30, Rank: 3},
		{ID: "d", Score: 40, Rank: 4},
	}, entries)
}

func TestLeaderboard_ListByScoreEmpty(t *testing.T) {
	store, cleanup := newTestStore(t)
	defer cleanup()

	lb := New[int64](store, "lb:test", core.Options{})

	entries, err := lb.ListByScore(context.Background(), 1000, 2000)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestLeaderboard_Around(t *testing.T) {
	store, cleanup := newTestStore(t)
	defer cleanup()

	lb := New[int64](store, "lb:test", core.Options{})
	ctx := context.Background()

	// a=100 .. j=10; high-to-low ranks a=1 .. j=10.
	for i := 0; i < 10; i++ {
		_, err := lb.UpdateOne(ctx, string(rune('a'+i)), int64(100-i*10), core.PolicyDefault)
		require.NoError(t, err)
	}

	// Window around the middle is symmetric either way.
	entries, err := lb.Around(ctx, "e", 2, false)
	require.NoError(t, err)
	require.Len(t, entries, 5)
	assert.Equal(t, "c", entries[0].ID)
	assert.Equal(t, int64(3), entries[0].Rank)
	assert.Equal(t, "g", entries[4].ID)

	// Clipped at the top border: fillBorders keeps the full reach below...
	entries, err = lb.Around(ctx, "a", 2, true)
	require.NoError(t, err)
	require.Len(t, entries, 3)
	assert.Equal(t, "a", entries[0].ID)
	assert.Equal(t, int64(1), entries[0].Rank)
	assert.Equal(t, "c", entries[2].ID)

	// ...while without it the window shrinks symmetrically.
	entries, err = lb.Around(ctx, "a", 2, false)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "a", entries[0].ID)

	entries, err = lb.Around(ctx, "b", 2, false)
	require.NoError(t, err)
	require.Len(t, entries, 3)
	assert.Equal(t, "a", entries[0].ID)
	assert.Equal(t, "c", entries[2].ID)
}

func TestLeaderboard_AroundAbsentMember(t *testing.T) {
	store, cleanup := newTestStore(t)
	defer cleanup()

	lb := New[int64](store, "lb:test", core.Options{})
	ctx := context.Background()

	_, err := lb.UpdateOne(ctx, "a", 100, core.PolicyDefault)
	require.NoError(t, err)

	entries, err := lb.Around(ctx, "ghost", 3, true)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestLeaderboard_UpdateBatch(t *testing.T) {
	store, cleanup := newTestStore(t)
	defer cleanup()

	lb := New[int64](store, "lb:test", core.Options{})
	ctx := context.Background()

	results, err := lb.Update(ctx, []core.EntryUpdate[int64]{
		{ID: "a", Value: 10},
		{ID: "b", Value: 20},
		{ID: "c", Value: 30},
	}, core.Aggregate)
	require.NoError(t, err)
	assert.Equal(t, []int64{10, 20, 30}, results)

	count, err := lb.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(3), count)
}

func TestLeaderboard_LimitTopN(t *testing.T) {
	store, cleanup := newTestStore(t)
	defer cleanup()

	lb := New[int64](store, "lb:test", core.Options{LimitTopN: 3})
	ctx := context.Background()

	for i := 0; i < 6; i++ {
		_, err := lb.UpdateOne(ctx, string(rune('a'+i)), int64((i+1)*10), core.PolicyDefault)
		require.NoError(t, err)
		count, err := lb.Count(ctx)
		require.NoError(t, err)
		assert.LessOrEqual(t, count, int64(3))
	}

	// The three highest scores survive.
	top, err := lb.Top(ctx, 3)
	require.NoError(t, err)
	require.Len(t, top, 3)
	assert.Equal(t, "f", top[0].ID)
	assert.Equal(t, "e", top[1].ID)
	assert.Equal(t, "d", top[2].ID)
}

func TestLeaderboard_LimitTopNBatch(t *testing.T) {
	store, cleanup := newTestStore(t)
	defer cleanup()

	lb := New[int64](store, "lb:test", core.Options{LimitTopN: 3})
	ctx := context.Background()

	updates := make([]core.EntryUpdate[int64], 6)
	for i := range updates {
		updates[i] = core.EntryUpdate[int64]{ID: string(rune('a' + i)), Value: int64((i + 1) * 10)}
	}
	_, err := lb.Update(ctx, updates, core.PolicyDefault)
	require.NoError(t, err)

	count, err := lb.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(3), count)
}

func TestLeaderboard_LimitTopNLowToHigh(t *testing.T) {
	store, cleanup := newTestStore(t)
	defer cleanup()

	lb := New[int64](store, "lb:test", core.Options{SortPolicy: core.LowToHigh, LimitTopN: 3})
	ctx := context.Background()

	for i := 0; i < 6; i++ {
		_, err := lb.UpdateOne(ctx, string(rune('a'+i)), int64((i+1)*10), core.PolicyDefault)
		require.NoError(t, err)
	}

	count, err := lb.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(3), count)

	// Low-to-high keeps the lowest scores.
	top, err := lb.Top(ctx, 3)
	require.NoError(t, err)
	require.Len(t, top, 3)
	assert.Equal(t, "a", top[0].ID)
	assert.Equal(t, "b", top[1].ID)
	assert.Equal(t, "c", top[2].ID)
}

func TestLeaderboard_RemoveAndClear(t *testing.T) {
	store, cleanup := newTestStore(t)
	defer cleanup()

	lb := New[int64](store, "lb:test", core.Options{})
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := lb.UpdateOne(ctx, string(rune('a'+i)), int64((i+1)*10), core.PolicyDefault)
		require.NoError(t, err)
	}

	require.NoError(t, lb.Remove(ctx, "a", "ghost"))
	count, err := lb.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), count)

	require.NoError(t, lb.Remove(ctx))

	require.NoError(t, lb.Clear(ctx))
	count, err = lb.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(0), count)
}

func TestLeaderboard_KeepTop(t *testing.T) {
	store, cleanup := newTestStore(t)
	defer cleanup()

	lb := New[int64](store, "lb:test", core.Options{})
	ctx := context.Background()

	for i := 0; i < 10; i++ {
		_, err := lb.UpdateOne(ctx, string(rune('a'+i)), int64((i+1)*10), core.PolicyDefault)
		require.NoError(t, err)
	}

	before, err := lb.KeepTop(ctx, 4)
	require.NoError(t, err)
	assert.Equal(t, int64(10), before)

	count, err := lb.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(4), count)
}

func TestLeaderboard_Float64Scores(t *testing.T) {
	store, cleanup := newTestStore(t)
	defer cleanup()

	lb := New[float64](store, "lb:test", core.Options{UpdatePolicy: core.Best})
	ctx := context.Background()

	result, err := lb.UpdateOne(ctx, "p", 10.5, core.PolicyDefault)
	require.NoError(t, err)
	assert.Equal(t, 10.5, result)

	result, err = lb.UpdateOne(ctx, "p", 12.25, core.PolicyDefault)
	require.NoError(t, err)
	assert.Equal(t, 12.25, result)

	entry, err := lb.Find(ctx, "p")
	require.NoError(t, err)
	require.NotNil(t, entry)
	assert.Equal(t, 12.25, entry.Score)
}

func TestLeaderboard_Int32Overflow(t *testing.T) {
	store, cleanup := newTestStore(t)
	defer cleanup()

	lb := New[int32](store, "lb:test", core.Options{})
	ctx := context.Background()

	// Write past int32 range through a wider board sharing the key.
	wide := New[float64](store, "lb:test", core.Options{})
	_, err := wide.UpdateOne(ctx, "p", 3e9, core.PolicyDefault)
	require.NoError(t, err)

	_, err = lb.Find(ctx, "p")
	assert.ErrorIs(t, err, core.ErrOverflow)
}

func TestLeaderboard_UpdateRetriesConnectionFailures(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	store := redisadapter.NewWithClient(client)
	defer client.Close()

	old := retryBase
	retryBase = time.Millisecond
	defer func() { retryBase = old }()

	mr.Close()

	lb := New[int64](store, "lb:test", core.Options{})
	start := time.Now()
	_, err := lb.Update(context.Background(), []core.EntryUpdate[int64]{{ID: "a", Value: 1}}, core.PolicyDefault)
	require.Error(t, err)
	// Two backoffs (1x + 2x base) happened before giving up.
	assert.GreaterOrEqual(t, time.Since(start), 3*time.Millisecond)
}

func TestLeaderboard_UpdateBackoffInterrupted(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	store := redisadapter.NewWithClient(client)
	defer client.Close()

	old := retryBase
	retryBase = time.Minute
	defer func() { retryBase = old }()

	mr.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	lb := New[int64](store, "lb:test", core.Options{})
	_, err := lb.Update(ctx, []core.EntryUpdate[int64]{{ID: "a", Value: 1}}, core.PolicyDefault)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestLeaderboard_UnknownPolicy(t *testing.T) {
	store, cleanup := newTestStore(t)
	defer cleanup()

	lb := New[int64](store, "lb:test", core.Options{})

	_, err := lb.Update(context.Background(), []core.EntryUpdate[int64]{{ID: "a", Value: 1}}, core.UpdatePolicy("bogus"))
	assert.Error(t, err)
}

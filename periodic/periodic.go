// Package periodic layers time-cycled keying over leaderboards: one
// leaderboard per cycle (minute, hour, day, ...) under a shared base key.
package periodic

import (
	"context"
	"fmt"
	"strings"
	"time"

	redisadapter "leaderkit/adapters/redis"
	"leaderkit/core"
	"leaderkit/leaderboard"
)

// Cycle tags the predefined time cycles.
type Cycle string

const (
	Minute  Cycle = "minute"
	Hourly  Cycle = "hourly"
	Daily   Cycle = "daily"
	Weekly  Cycle = "weekly"
	Monthly Cycle = "monthly"
	Yearly  Cycle = "yearly"
)

// CycleFunc maps a civil datetime to a cycle key. Times within the same
// cycle must map to the same string.
type CycleFunc func(t time.Time) string

// NowFunc supplies the current time; replaceable for tests.
type NowFunc func() time.Time

// Options configures a periodic leaderboard family.
type Options struct {
	// Leaderboard configures every leaderboard in the family.
	Leaderboard core.Options
	// Cycle selects a predefined cycle. Ignored when CycleFunc is set.
	Cycle Cycle
	// CycleFunc, when set, replaces the predefined cycles entirely.
	CycleFunc CycleFunc
	// Now supplies the current time. Defaults to time.Now.
	Now NowFunc
}

// cacheSize bounds the per-instance leaderboard cache.
const cacheSize = 100

// PeriodicLeaderboard manages a family of leaderboards keyed by time cycle.
// Instances for recently used cycle keys are cached with LRU eviction;
// eviction has no effect on the data in Redis.
type PeriodicLeaderboard[T core.Number] struct {
	store   *redisadapter.Store
	baseKey string
	options Options
	cycleFn CycleFunc
	now     NowFunc
	cache   *lruCache[*leaderboard.Leaderboard[T]]
}

// New creates a periodic leaderboard over the given base key. The cycle is
// resolved once here: a CycleFunc wins over a predefined tag, and an option
// set carrying neither fails with core.ErrInvalidCycle.
func New[T core.Number](store *redisadapter.Store, baseKey string, options Options) (*PeriodicLeaderboard[T], error) {
	cycleFn := options.CycleFunc
	if cycleFn == nil {
		var err error
		cycleFn, err = predefinedCycle(options.Cycle)
		if err != nil {
			return nil, err
		}
	}
	now := options.Now
	if now == nil {
		now = time.Now
	}
	return &PeriodicLeaderboard[T]{
		store:   store,
		baseKey: baseKey,
		options: options,
		cycleFn: cycleFn,
		now:     now,
		cache:   newLRUCache[*leaderboard.Leaderboard[T]](cacheSize),
	}, nil
}

func predefinedCycle(cycle Cycle) (CycleFunc, error) {
	switch cycle {
	case Yearly:
		return yearlyKey, nil
	case Monthly:
		return monthlyKey, nil
	case Weekly:
		return weeklyKey, nil
	case Daily:
		return dailyKey, nil
	case Hourly:
		return hourlyKey, nil
	case Minute:
		return minuteKey, nil
	default:
		return nil, fmt.Errorf("%w: %q", core.ErrInvalidCycle, cycle)
	}
}

func yearlyKey(t time.Time) string { return fmt.Sprintf("y%d", t.Year()) }

func weeklyKey(t time.Time) string {
	_, week := t.ISOWeek()
	return fmt.Sprintf("w%04d", week)
}

func monthlyKey(t time.Time) string {
	return fmt.Sprintf("%s-m%02d", yearlyKey(t), int(t.Month()))
}

func dailyKey(t time.Time) string {
	return fmt.Sprintf("%s-d%02d", monthlyKey(t), t.Day())
}

func hourlyKey(t time.Time) string {
	return fmt.Sprintf("%s-h%02d", dailyKey(t), t.Hour())
}

func minuteKey(t time.Time) string {
	return fmt.Sprintf("%s-m%02d", hourlyKey(t), t.Minute())
}

// GetKey returns the cycle key for the given time.
func (p *PeriodicLeaderboard[T]) GetKey(t time.Time) string {
	return p.cycleFn(t)
}

// GetKeyNow returns the cycle key for the current time.
func (p *PeriodicLeaderboard[T]) GetKeyNow() string {
	return p.GetKey(p.now())
}

// GetLeaderboard returns the leaderboard for a cycle key, backed by the
// qualified key "{base}:{cycleKey}". Repeated calls for a cached cycle key
// return the same instance.
func (p *PeriodicLeaderboard[T]) GetLeaderboard(cycleKey string) *leaderboard.Leaderboard[T] {
	qualified := p.baseKey + ":" + cycleKey
	return p.cache.getOrCreate(qualified, func() *leaderboard.Leaderboard[T] {
		return leaderboard.New[T](p.store, qualified, p.options.Leaderboard)
	})
}

// GetLeaderboardAt returns the leaderboard for the given time; nil means now.
func (p *PeriodicLeaderboard[T]) GetLeaderboardAt(t *time.Time) *leaderboard.Leaderboard[T] {
	if t == nil {
		return p.GetLeaderboardNow()
	}
	return p.GetLeaderboard(p.GetKey(*t))
}

// GetLeaderboardNow returns the leaderboard for the current cycle.
func (p *PeriodicLeaderboard[T]) GetLeaderboardNow() *leaderboard.Leaderboard[T] {
	return p.GetLeaderboard(p.GetKeyNow())
}

// GetExistingKeys scans the keyspace for this family's keys and returns the
// set of cycle keys that exist in Redis, whether cached locally or not.
func (p *PeriodicLeaderboard[T]) GetExistingKeys(ctx context.Context) (map[string]struct{}, error) {
	keys := make(map[string]struct{})
	pattern := p.baseKey + ":*"
	prefix := p.baseKey + ":"

	var cursor uint64
	for {
		page, next, err := p.store.Client().Scan(ctx, cursor, pattern, 100).Result()
		if err != nil {
			return nil, fmt.Errorf("scan %s: %w", pattern, err)
		}
		for _, key := range page {
			keys[strings.TrimPrefix(key, prefix)] = struct{}{}
		}
		cursor = next
		if cursor == 0 {
			break
		}
	}
	return keys, nil
}

// Package leaderboard implements ranked-set operations over a single Redis
// sorted-set key.
package leaderboard

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	redisadapter "leaderkit/adapters/redis"
	"leaderkit/core"
)

const maxUpdateAttempts = 3

// retryBase is the unit for the exponential update backoff: 1x after the
// first failed attempt, 2x after the second; the last attempt is not followed
// by a wait.
// Package-level so tests can shrink it.
var retryBase = time.Second

// Leaderboard is a ranked set of members scored by a numeric value of type T.
// It owns no local state beyond its configuration; all mutable state lives in
// Redis under the key. Safe for concurrent use.
type Leaderboard[T core.Number] struct {
	store   *redisadapter.Store
	key     string
	options core.Options
	codec   core.Codec[T]
}

// New creates a leaderboard over the given key. Options are normalized:
// unset fields fall back to HighToLow / Replace / unlimited.
func New[T core.Number](store *redisadapter.Store, key string, options core.Options) *Leaderboard[T] {
	return &Leaderboard[T]{
		store:   store,
		key:     key,
		options: options.Normalize(),
		codec:   core.NewCodec[T](),
	}
}

// Key returns the backing Redis key.
func (l *Leaderboard[T]) Key() string { return l.key }

// Options returns the normalized configuration.
func (l *Leaderboard[T]) Options() core.Options { return l.options }

// Rank returns the member's 1-based rank under the sort policy, or false if
// the member is absent.
func (l *Leaderboard[T]) Rank(ctx context.Context, id string) (int64, bool, error) {
	var cmd *redis.IntCmd
	if l.options.SortPolicy == core.HighToLow {
		cmd = l.store.Client().ZRevRank(ctx, l.key, id)
	} else {
		cmd = l.store.Client().ZRank(ctx, l.key, id)
	}
	rank, err := cmd.Result()
	if errors.Is(err, redis.Nil) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("rank %s: %w", id, err)
	}
	return rank + 1, true, nil
}

// Find returns the member's entry, or nil if absent. When the score lookup
// comes back empty no rank query is issued.
func (l *Leaderboard[T]) Find(ctx context.Context, id string) (*core.Entry[T], error) {
	raw, err := l.store.Client().ZScore(ctx, l.key, id).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find %s: %w", id, err)
	}

	rank, ok, err := l.Rank(ctx, id)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, nil
	}

	score, err := l.codec.Decode(raw)
	if err != nil {
		return nil, err
	}
	return &core.Entry[T]{ID: id, Score: score, Rank: rank}, nil
}

// At returns the entry holding the given 1-based rank, or nil. Ranks at or
// below zero resolve to nil without touching the store.
func (l *Leaderboard[T]) At(ctx context.Context, rank int64) (*core.Entry[T], error) {
	if rank <= 0 {
		return nil, nil
	}
	entries, err := l.List(ctx, rank, rank)
	if err != nil {
		return nil, err
	}
	if len(entries) == 0 {
		return nil, nil
	}
	return &entries[0], nil
}

// UpdateOne applies a single score mutation and returns its decoded pipeline
// reply (see Update). Pass core.PolicyDefault to use the configured update
// policy.
func (l *Leaderboard[T]) UpdateOne(ctx context.Context, id string, value T, policy core.UpdatePolicy) (T, error) {
	results, err := l.Update(ctx, []core.EntryUpdate[T]{{ID: id, Value: value}}, policy)
	if err != nil {
		var zero T
		return zero, err
	}
	return results[0], nil
}

// Update applies a batch of score mutations in one pipeline and returns the
// per-entry decoded replies: the resulting score under Aggregate and Best,
// and ZADD's added-member count (1 for a new member, 0 otherwise) under
// Replace. When LimitTopN is set the key is trimmed back to
// the cap in the same pipeline. Connection failures are retried up to three
// attempts with exponential backoff; logical errors surface immediately.
//
// The cardinality read and the pipeline are not atomic with respect to other
// writers: under concurrent load the cap can be briefly exceeded, and
// subsequent updates converge the state.
func (l *Leaderboard[T]) Update(ctx context.Context, entries []core.EntryUpdate[T], policy core.UpdatePolicy) ([]T, error) {
	var lastErr error
	for attempt := 0; attempt < maxUpdateAttempts; attempt++ {
		results, err := l.updateOnce(ctx, entries, policy)
		if err == nil {
			return results, nil
		}
		lastErr = err
		if !core.IsConnectionError(err) || attempt == maxUpdateAttempts-1 {
			return nil, err
		}
		backoff := retryBase << attempt
		slog.Warn("leaderboard update failed, retrying",
			"key", l.key,
			"attempt", attempt+1,
			"backoff", backoff,
			"error", err)
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("interrupted during retry backoff: %w", ctx.Err())
		case <-time.After(backoff):
		}
	}
	return nil, lastErr
}

func (l *Leaderboard[T]) updateOnce(ctx context.Context, entries []core.EntryUpdate[T], policy core.UpdatePolicy) ([]T, error) {
	client := l.store.Client()

	var currentCount int64
	if l.options.LimitTopN > 0 {
		var err error
		currentCount, err = client.ZCard(ctx, l.key).Result()
		if err != nil {
			return nil, fmt.Errorf("card %s: %w", l.key, err)
		}
	}

	pipe := client.Pipeline()
	if err := l.UpdatePipe(ctx, pipe, entries, policy); err != nil {
		return nil, err
	}

	limit := int64(l.options.LimitTopN)
	if limit > 0 && currentCount+int64(len(entries)) > limit {
		if l.options.SortPolicy == core.HighToLow {
			pipe.ZRemRangeByRank(ctx, l.key, 0, currentCount+int64(len(entries))-limit-1)
		} else {
			pipe.ZRemRangeByRank(ctx, l.key, limit, -1)
		}
	}

	cmds, err := pipe.Exec(ctx)
	if err != nil && core.IsConnectionError(err) {
		return nil, fmt.Errorf("update %s: %w", l.key, err)
	}

	// The first len(entries) replies are the per-entry results (stored scores,
	// or ZADD's added count under Replace); the trailing trim reply, if any,
	// is discarded.
	results := make([]T, len(entries))
	for i := range entries {
		if i >= len(cmds) {
			break
		}
		value, ok, err := l.decodeUpdateReply(cmds[i])
		if err != nil {
			return nil, err
		}
		if ok {
			results[i] = value
		}
	}
	return results, nil
}

// UpdatePipe queues one command per entry on the given pipeline without
// flushing it. Callers composing larger pipelines can reuse it; Update is the
// usual entry point.
func (l *Leaderboard[T]) UpdatePipe(ctx context.Context, pipe redis.Pipeliner, entries []core.EntryUpdate[T], policy core.UpdatePolicy) error {
	effective := policy
	if effective == core.PolicyDefault {
		effective = l.options.UpdatePolicy
	}

	switch effective {
	case core.Replace:
		for _, entry := range entries {
			pipe.ZAdd(ctx, l.key, redis.Z{Score: l.codec.Encode(entry.Value), Member: entry.ID})
		}
	case core.Aggregate:
		for _, entry := range entries {
			pipe.ZIncrBy(ctx, l.key, l.codec.Encode(entry.Value), entry.ID)
		}
	case core.Best:
		sha, err := l.store.Scripts().Sha(ctx, redisadapter.ScriptBest)
		if err != nil {
			return err
		}
		direction := "desc"
		if l.options.SortPolicy == core.LowToHigh {
			direction = "asc"
		}
		for _, entry := range entries {
			pipe.EvalSha(ctx, sha, []string{l.key}, formatScore(l.codec.Encode(entry.Value)), entry.ID, direction)
		}
	default:
		return fmt.Errorf("unknown update policy %q", effective)
	}
	return nil
}

// decodeUpdateReply extracts the numeric value from a pipeline reply. Absent
// and non-numeric replies yield ok=false; decode failures surface.
func (l *Leaderboard[T]) decodeUpdateReply(cmd redis.Cmder) (T, bool, error) {
	var zero T
	switch c := cmd.(type) {
	case *redis.IntCmd:
		if c.Err() != nil {
			return zero, false, nil
		}
		value, err := l.codec.Decode(float64(c.Val()))
		return value, err == nil, err
	case *redis.FloatCmd:
		if c.Err() != nil {
			return zero, false, nil
		}
		value, err := l.codec.Decode(c.Val())
		return value, err == nil, err
	case *redis.Cmd:
		raw, err := c.Result()
		if err != nil {
			return zero, false, nil
		}
		score, err := parseScore(raw)
		if err != nil {
			return zero, false, nil
		}
		value, err := l.codec.Decode(score)
		return value, err == nil, err
	default:
		return zero, false, nil
	}
}

// Remove deletes the given members. Absent ids are a no-op.
func (l *Leaderboard[T]) Remove(ctx context.Context, ids ...string) error {
	if len(ids) == 0 {
		return nil
	}
	members := make([]interface{}, len(ids))
	for i, id := range ids {
		members[i] = id
	}
	if err := l.store.Client().ZRem(ctx, l.key, members...).Err(); err != nil {
		return fmt.Errorf("remove from %s: %w", l.key, err)
	}
	return nil
}

// Clear deletes the key entirely.
func (l *Leaderboard[T]) Clear(ctx context.Context) error {
	if err := l.store.Client().Del(ctx, l.key).Err(); err != nil {
		return fmt.Errorf("clear %s: %w", l.key, err)
	}
	return nil
}

// List returns the entries holding ranks [lower, upper], 1-based inclusive.
// Bounds below 1 are clamped up.
func (l *Leaderboard[T]) List(ctx context.Context, lower, upper int64) ([]core.Entry[T], error) {
	if lower < 1 {
		lower = 1
	}
	if upper < 1 {
		upper = 1
	}

	var zs []redis.Z
	var err error
	if l.options.SortPolicy == core.LowToHigh {
		zs, err = l.store.Client().ZRangeWithScores(ctx, l.key, lower-1, upper-1).Result()
	} else {
		zs, err = l.store.Client().ZRevRangeWithScores(ctx, l.key, lower-1, upper-1).Result()
	}
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", l.key, err)
	}

	return l.entriesFromZs(zs, lower)
}

// Top returns the n best-ranked entries.
func (l *Leaderboard[T]) Top(ctx context.Context, n int64) ([]core.Entry[T], error) {
	return l.List(ctx, 1, n)
}

// Bottom returns the n worst-ranked entries, worst first.
func (l *Leaderboard[T]) Bottom(ctx context.Context, n int64) ([]core.Entry[T], error) {
	if n < 1 {
		n = 1
	}
	count, err := l.Count(ctx)
	if err != nil {
		return nil, err
	}

	var zs []redis.Z
	if l.options.SortPolicy == core.LowToHigh {
		zs, err = l.store.Client().ZRangeWithScores(ctx, l.key, -n, -1).Result()
	} else {
		zs, err = l.store.Client().ZRevRangeWithScores(ctx, l.key, -n, -1).Result()
	}
	if err != nil {
		return nil, fmt.Errorf("bottom %s: %w", l.key, err)
	}

	entries, err := l.entriesFromZs(zs, count-int64(len(zs))+1)
	if err != nil {
		return nil, err
	}
	for i, j := 0, len(entries)-1; i < j; i, j = i+1, j-1 {
		entries[i], entries[j] = entries[j], entries[i]
	}
	return entries, nil
}

// ListByScore returns the entries with scores in [min, max], ordered and
// ranked under the sort policy.
func (l *Leaderboard[T]) ListByScore(ctx context.Context, min, max float64) ([]core.Entry[T], error) {
	sha, err := l.store.Scripts().Sha(ctx, redisadapter.ScriptRangeScore)
	if err != nil {
		return nil, err
	}
	raw, err := l.store.Client().EvalSha(ctx, sha, []string{l.key},
		formatScore(min), formatScore(max), string(l.options.SortPolicy)).Result()
	if err != nil {
		return nil, fmt.Errorf("listByScore %s: %w", l.key, err)
	}
	return l.entriesFromScriptReply(raw)
}

// Around returns a window of entries around the given member. distance is
// the reach to each side, and the window is cut off at the first and last
// ranks. With fillBorders the cut-off side is simply lost. Without it, a
// window cut off at rank 1 also loses as many ranks on its far side, so it
// stays centered on the member; a window cut off at the last rank keeps its
// full reach toward rank 1. The window is never widened past distance.
// Absent members yield an empty result.
func (l *Leaderboard[T]) Around(ctx context.Context, id string, distance int64, fillBorders bool) ([]core.Entry[T], error) {
	sha, err := l.store.Scripts().Sha(ctx, redisadapter.ScriptAround)
	if err != nil {
		return nil, err
	}
	raw, err := l.store.Client().EvalSha(ctx, sha, []string{l.key},
		id, strconv.FormatInt(distance, 10), strconv.FormatBool(fillBorders), string(l.options.SortPolicy)).Result()
	if err != nil {
		return nil, fmt.Errorf("around %s: %w", l.key, err)
	}
	return l.entriesFromScriptReply(raw)
}

// KeepTop trims the key down to the n members with the highest scores (the
// n best under HighToLow) and reports the cardinality observed before
// trimming. The sort policy is not consulted: under LowToHigh the
// lowest-scored, best-ranked members are the ones removed.
func (l *Leaderboard[T]) KeepTop(ctx context.Context, n int64) (int64, error) {
	sha, err := l.store.Scripts().Sha(ctx, redisadapter.ScriptKeepTop)
	if err != nil {
		return 0, err
	}
	raw, err := l.store.Client().EvalSha(ctx, sha, []string{l.key}, strconv.FormatInt(n, 10)).Result()
	if err != nil {
		return 0, fmt.Errorf("keepTop %s: %w", l.key, err)
	}
	count, ok := raw.(int64)
	if !ok {
		return 0, fmt.Errorf("%w: keeptop returned %T", core.ErrProtocol, raw)
	}
	return count, nil
}

// Count returns the number of members under the key.
func (l *Leaderboard[T]) Count(ctx context.Context) (int64, error) {
	count, err := l.store.Client().ZCard(ctx, l.key).Result()
	if err != nil {
		return 0, fmt.Errorf("count %s: %w", l.key, err)
	}
	return count, nil
}

// ExportStream returns a lazy iterator over all entries in rank order,
// fetched in batches of batchSize. The stream is not restartable and not
// safe against concurrent mutation of the key.
func (l *Leaderboard[T]) ExportStream(batchSize int64) *ExportStream[T] {
	return &ExportStream[T]{leaderboard: l, batchSize: batchSize, cursor: 1}
}

func (l *Leaderboard[T]) entriesFromZs(zs []redis.Z, startRank int64) ([]core.Entry[T], error) {
	entries := make([]core.Entry[T], 0, len(zs))
	rank := startRank
	for _, z := range zs {
		id, ok := z.Member.(string)
		if !ok {
			return nil, fmt.Errorf("%w: member %v", core.ErrProtocol, z.Member)
		}
		score, err := l.codec.Decode(z.Score)
		if err != nil {
			return nil, err
		}
		entries = append(entries, core.Entry[T]{ID: id, Score: score, Rank: rank})
		rank++
	}
	return entries, nil
}

// entriesFromScriptReply decodes the {baseRank, flat members} shape shared by
// the rangescore and around scripts. baseRank -1 encodes an empty result.
func (l *Leaderboard[T]) entriesFromScriptReply(raw interface{}) ([]core.Entry[T], error) {
	reply, ok := raw.([]interface{})
	if !ok || len(reply) < 1 {
		return nil, fmt.Errorf("%w: script returned %T", core.ErrProtocol, raw)
	}
	baseRank, ok := reply[0].(int64)
	if !ok {
		return nil, fmt.Errorf("%w: base rank %v", core.ErrProtocol, reply[0])
	}
	if baseRank == -1 {
		return []core.Entry[T]{}, nil
	}
	if len(reply) < 2 {
		return nil, fmt.Errorf("%w: missing member list", core.ErrProtocol)
	}
	flat, ok := reply[1].([]interface{})
	if !ok || len(flat)%2 != 0 {
		return nil, fmt.Errorf("%w: member list %v", core.ErrProtocol, reply[1])
	}

	entries := make([]core.Entry[T], 0, len(flat)/2)
	for i := 0; i < len(flat); i += 2 {
		id, ok := flat[i].(string)
		if !ok {
			return nil, fmt.Errorf("%w: member %v", core.ErrProtocol, flat[i])
		}
		rawScore, err := parseScore(flat[i+1])
		if err != nil {
			return nil, err
		}
		score, err := l.codec.Decode(rawScore)
		if err != nil {
			return nil, err
		}
		entries = append(entries, core.Entry[T]{ID: id, Score: score, Rank: baseRank + int64(i/2) + 1})
	}
	return entries, nil
}

// parseScore normalizes the numeric shapes Redis replies can carry.
func parseScore(raw interface{}) (float64, error) {
	switch v := raw.(type) {
	case int64:
		return float64(v), nil
	case float64:
		return v, nil
	case string:
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return 0, fmt.Errorf("%w: score %q", core.ErrProtocol, v)
		}
		return f, nil
	default:
		return 0, fmt.Errorf("%w: score %T", core.ErrProtocol, raw)
	}
}

// formatScore renders a float score the way Redis expects it on the wire.
func formatScore(score float64) string {
	return strconv.FormatFloat(score, 'f', -1, 64)
}

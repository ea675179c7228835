package engine

import (
	"context"
	"errors"
	"sync"

	redisadapter "leaderkit/adapters/redis"
	"leaderkit/core"
	"leaderkit/leaderboard"
)

// Service exposes a keyed family of leaderboards to the API surface and
// publishes change events through the bus. The HTTP layer works in float64
// scores; JSON carries numbers as doubles anyway.
type Service struct {
	store    *redisadapter.Store
	defaults core.Options
	bus      *EventBus

	mu     sync.Mutex
	boards map[string]*leaderboard.Leaderboard[float64]
}

func NewService(store *redisadapter.Store, defaults core.Options, bus *EventBus) *Service {
	if store == nil || bus == nil {
		panic("NewService requires non-nil store and bus")
	}
	return &Service{
		store:    store,
		defaults: defaults.Normalize(),
		bus:      bus,
		boards:   make(map[string]*leaderboard.Leaderboard[float64]),
	}
}

// Subscribe convenience method.
func (s *Service) Subscribe(typ core.EventType, handler func(context.Context, core.Event)) func() {
	return s.bus.Subscribe(typ, handler)
}

// Board returns the leaderboard for a key, constructing it with the service
// defaults on first use.
func (s *Service) Board(key string) *leaderboard.Leaderboard[float64] {
	s.mu.Lock()
	defer s.mu.Unlock()
	lb, ok := s.boards[key]
	if !ok {
		lb = leaderboard.New[float64](s.store, key, s.defaults)
		s.boards[key] = lb
	}
	return lb
}

// Update applies score mutations to a board and publishes one score event
// per entry on success.
func (s *Service) Update(ctx context.Context, board string, entries []core.EntryUpdate[float64], policy core.UpdatePolicy) ([]float64, error) {
	if len(entries) == 0 {
		return nil, errors.New("no entries to update")
	}
	for _, entry := range entries {
		if entry.ID == "" {
			return nil, errors.New("entry id cannot be empty")
		}
	}
	results, err := s.Board(board).Update(ctx, entries, policy)
	if err != nil {
		return nil, err
	}

	// Replace pipelines ZADD, whose reply is an added-count rather than the
	// stored score, so events carry the written value on that path.
	effective := policy
	if effective == core.PolicyDefault {
		effective = s.defaults.UpdatePolicy
	}
	for i, entry := range entries {
		score := results[i]
		if effective == core.Replace {
			score = entry.Value
		}
		s.bus.Publish(ctx, core.NewScoreUpdated(board, entry.ID, score, 0))
	}
	return results, nil
}

// Remove deletes members from a board and publishes removal events.
func (s *Service) Remove(ctx context.Context, board string, ids ...string) error {
	if err := s.Board(board).Remove(ctx, ids...); err != nil {
		return err
	}
	for _, id := range ids {
		s.bus.Publish(ctx, core.NewMemberRemoved(board, id))
	}
	return nil
}

// Clear deletes a board entirely and publishes a cleared event.
func (s *Service) Clear(ctx context.Context, board string) error {
	if err := s.Board(board).Clear(ctx); err != nil {
		return err
	}
	s.bus.Publish(ctx, core.NewBoardCleared(board))
	return nil
}

// Ping verifies the store connection, for health checks.
func (s *Service) Ping(ctx context.Context) error {
	return s.store.Client().Ping(ctx).Err()
}

func (s *Service) Close() { s.bus.Close() }

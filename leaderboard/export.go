package leaderboard

import (
	"context"

	"leaderkit/core"
)

// ExportStream walks a leaderboard in rank order, one batch per Next call.
// The terminating batch is the first one shorter than batchSize; an empty
// terminating batch is not yielded.
type ExportStream[T core.Number] struct {
	leaderboard *Leaderboard[T]
	batchSize   int64
	cursor      int64
	done        bool
}

// HasNext reports whether another Next call may yield a batch.
func (s *ExportStream[T]) HasNext() bool { return !s.done }

// Next fetches the next batch. A nil batch with a nil error means the stream
// is exhausted.
func (s *ExportStream[T]) Next(ctx context.Context) ([]core.Entry[T], error) {
	if s.done {
		return nil, nil
	}
	entries, err := s.leaderboard.List(ctx, s.cursor, s.cursor+s.batchSize-1)
	if err != nil {
		return nil, err
	}
	if int64(len(entries)) < s.batchSize {
		s.done = true
		if len(entries) == 0 {
			return nil, nil
		}
	}
	s.cursor += s.batchSize
	return entries, nil
}

package rendezvous

import (
	"context"
	"time"
)

// slot is the state of one broadcast round: the root's value and one
// acknowledgement bit per rank.
type slot struct {
	created time.Time
	release release
	value   []byte
	seen    []bool
	acked   int // bits set in seen
	waiting int // non-root callers blocked on release
	posted  bool
}

func newSlot(numWorkers uint32, now time.Time) *slot {
	return &slot{
		created: now,
		release: newRelease(),
		seen:    make([]bool, numWorkers),
	}
}

// Broadcast distributes the root's value to every rank of the group and returns it.
//
// No operation id travels with the call. Each rank keeps a cursor counting the
// broadcasts it has consumed, and a call joins round cursor[rank]. Ranks that call
// Broadcast sequentially therefore meet in the same round, while a later round's root
// may post before every rank has drained the earlier one.
//
// Behavior per caller:
//   - rank == root: store value, set its own bit, fire the release, return immediately
//   - value already posted: set the bit and return the value
//   - otherwise: wait outside the lock for the root to post, then set the bit
//
// A slot is deleted once every bit is set. value is only read when rank == root.
//
// If ctx ends before the root posts, the caller's bit stays clear and its cursor is
// unchanged, so a retry joins the same round.
//
// Returns:
//   - A copy of the root's value
//   - ErrInvalidGroupSize, ErrRankOutOfRange or ErrRootOutOfRange for malformed calls
//   - ctx.Err() if the caller gave up waiting
func (g *Group) Broadcast(ctx context.Context, rank, root, numWorkers uint32, value []byte) ([]byte, error) {
	if err := checkRank(rank, numWorkers); err != nil {
		return nil, err
	}
	if root >= numWorkers {
		return nil, ErrRootOutOfRange
	}

	g.mu.Lock()
	round := g.cursors[rank]
	s, ok := g.rounds[round]
	if !ok {
		s = newSlot(numWorkers, g.now())
		g.rounds[round] = s
	}
	if int(rank) >= len(s.seen) {
		// The round was opened by a caller that declared fewer workers.
		g.mu.Unlock()
		return nil, ErrRankOutOfRange
	}

	if rank == root {
		// A second root overwrites the value; the release only fires once.
		s.value = clone(value)
		if !s.posted {
			s.posted = true
			s.release.fire()
		}
		out := g.consume(rank, round, s)
		g.mu.Unlock()
		return out, nil
	}

	if s.posted {
		out := g.consume(rank, round, s)
		g.mu.Unlock()
		return out, nil
	}

	s.waiting++
	sig := s.release
	g.mu.Unlock()

	select {
	case <-sig:
	case <-ctx.Done():
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	s.waiting--
	if !s.posted {
		if s.acked == 0 && s.waiting == 0 {
			delete(g.rounds, round)
		}
		return nil, ctx.Err()
	}
	return g.consume(rank, round, s), nil
}

// consume must be called with g.mu held.
func (g *Group) consume(rank uint32, round uint64, s *slot) []byte {
	s.seen[rank] = true
	s.acked++
	g.cursors[rank] = round + 1
	if s.acked == len(s.seen) {
		delete(g.rounds, round)
	}
	return clone(s.value)
}

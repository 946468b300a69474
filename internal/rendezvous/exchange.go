package rendezvous

import (
	"context"
	"time"
)

type session struct {
	created time.Time
	release release
	values  [][]byte
	posted  []bool
	joined  int // ranks that posted
	left    int // ranks that collected the result
}

func newSession(numWorkers uint32, now time.Time) *session {
	return &session{
		created: now,
		release: newRelease(),
		values:  make([][]byte, numWorkers),
		posted:  make([]bool, numWorkers),
	}
}

// Exchange is an all-gather keyed by an explicit session id. Every rank posts one
// record; once numWorkers distinct ranks have posted, each caller receives all records
// indexed by rank. The session is deleted after every rank collected, so the id can
// be reused for a later exchange.
//
// Workers use it to swap endpoint descriptions before opening peer-to-peer links.
//
// Returns ErrAlreadyJoined if the rank already posted into the live session, and
// ctx.Err() if the caller gave up before the session completed. A caller that gives up
// has its record withdrawn.
func (g *Group) Exchange(ctx context.Context, id uint64, rank, numWorkers uint32, value []byte) ([][]byte, error) {
	if err := checkRank(rank, numWorkers); err != nil {
		return nil, err
	}

	g.mu.Lock()
	s, ok := g.sessions[id]
	if !ok {
		s = newSession(numWorkers, g.now())
		g.sessions[id] = s
	}
	if int(rank) >= len(s.posted) {
		g.mu.Unlock()
		return nil, ErrRankOutOfRange
	}
	if s.posted[rank] {
		g.mu.Unlock()
		return nil, ErrAlreadyJoined
	}

	s.posted[rank] = true
	s.values[rank] = clone(value)
	s.joined++
	if s.joined == len(s.posted) {
		s.release.fire()
		out := g.collect(id, s)
		g.mu.Unlock()
		return out, nil
	}

	sig := s.release
	g.mu.Unlock()

	select {
	case <-sig:
	case <-ctx.Done():
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	if !sig.fired() {
		s.posted[rank] = false
		s.values[rank] = nil
		s.joined--
		if s.joined == 0 {
			delete(g.sessions, id)
		}
		return nil, ctx.Err()
	}
	return g.collect(id, s), nil
}

// collect must be called with g.mu held.
func (g *Group) collect(id uint64, s *session) [][]byte {
	out := make([][]byte, len(s.values))
	for i, v := range s.values {
		out[i] = clone(v)
	}
	s.left++
	if s.left == len(s.values) {
		delete(g.sessions, id)
	}
	return out
}

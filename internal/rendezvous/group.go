// Package rendezvous implements the in-memory coordination state for worker groups.
// See doc.go for complete package documentation.
package rendezvous

import (
	"errors"
	"sync"
	"time"
)

var (
	// ErrInvalidGroupSize is returned when a call declares zero workers.
	ErrInvalidGroupSize = errors.New("num_workers must be greater than 0")

	// ErrRankOutOfRange is returned when a rank does not fit the declared group size.
	ErrRankOutOfRange = errors.New("rank must be less than num_workers")

	// ErrRootOutOfRange is returned when a broadcast root does not fit the declared group size.
	ErrRootOutOfRange = errors.New("root must be less than num_workers")

	// ErrAlreadyJoined is returned when a rank posts twice into the same live exchange session.
	ErrAlreadyJoined = errors.New("rank already joined this session")
)

// Kind names the type of rendezvous object a Pending entry describes.
type Kind string

const (
	// KindBarrier is a barrier epoch.
	KindBarrier Kind = "barrier"
	// KindBroadcast is a broadcast slot.
	KindBroadcast Kind = "broadcast"
	// KindExchange is an exchange session.
	KindExchange Kind = "exchange"
)

// release is a one-shot signal. Closing it wakes every current and future waiter,
// so it can never be missed by a caller that captured it under the lock.
type release chan struct{}

func newRelease() release { return make(release) }

func (r release) fire() { close(r) }

func (r release) fired() bool {
	select {
	case <-r:
		return true
	default:
		return false
	}
}

// Group is the coordination store for one worker group.
//
// All epochs, slots and sessions of the group are owned here and guarded by a single
// mutex. The mutex is held only for bookkeeping: callers capture a release signal under
// the lock and wait on it after unlocking, so a blocked caller never holds the lock.
//
// Thread Safety:
// All methods are safe for concurrent use. Independent groups never share a lock.
type Group struct {
	epochs     map[uint64]*epoch   // generation -> barrier bookkeeping
	rounds     map[uint64]*slot    // broadcast round -> slot
	cursors    map[uint32]uint64   // rank -> next broadcast round to consume
	sessions   map[uint64]*session // exchange session id -> session
	now        func() time.Time
	name       string
	generation uint64 // the single generation open for arrivals
	mu         sync.Mutex
}

// NewGroup creates an empty group with generation 0 open for arrivals.
func NewGroup(name string) *Group {
	g := &Group{
		name:     name,
		epochs:   make(map[uint64]*epoch),
		rounds:   make(map[uint64]*slot),
		cursors:  make(map[uint32]uint64),
		sessions: make(map[uint64]*session),
		now:      time.Now,
	}
	g.epochs[0] = newEpoch()
	return g
}

// Name returns the group name. The default group has an empty name.
func (g *Group) Name() string {
	return g.name
}

// Snapshot is a point-in-time view of a group's bookkeeping.
type Snapshot struct {
	Group      string
	Generation uint64 // generation currently open for arrivals
	Arrived    uint32 // arrivals in the open generation
	Epochs     int    // live epochs, including the open one
	Slots      int    // live broadcast slots
	Sessions   int    // live exchange sessions
	Ranks      int    // ranks that have consumed at least one broadcast
}

// Snapshot returns the current bookkeeping sizes of the group.
func (g *Group) Snapshot() Snapshot {
	g.mu.Lock()
	defer g.mu.Unlock()

	return Snapshot{
		Group:      g.name,
		Generation: g.generation,
		Arrived:    g.epochs[g.generation].arrived,
		Epochs:     len(g.epochs),
		Slots:      len(g.rounds),
		Sessions:   len(g.sessions),
		Ranks:      len(g.cursors),
	}
}

// Pending describes a rendezvous object that has blocked callers.
type Pending struct {
	Since   time.Time
	Group   string
	Kind    Kind
	Key     uint64 // generation, round or session id
	Waiting int    // callers currently blocked on it
	Age     time.Duration
}

// Pending lists every epoch, slot and session that still has blocked callers.
// Age is measured from the first caller that blocked on the object.
func (g *Group) Pending() []Pending {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.now()
	var out []Pending
	add := func(kind Kind, key uint64, waiting int, since time.Time) {
		if waiting == 0 {
			return
		}
		out = append(out, Pending{
			Group:   g.name,
			Kind:    kind,
			Key:     key,
			Waiting: waiting,
			Since:   since,
			Age:     now.Sub(since),
		})
	}

	if e := g.epochs[g.generation]; e != nil {
		add(KindBarrier, g.generation, int(e.arrived), e.opened)
	}
	for round, s := range g.rounds {
		add(KindBroadcast, round, s.waiting, s.created)
	}
	for id, s := range g.sessions {
		if !s.release.fired() {
			add(KindExchange, id, s.joined, s.created)
		}
	}
	return out
}

func checkRank(rank, numWorkers uint32) error {
	if numWorkers == 0 {
		return ErrInvalidGroupSize
	}
	if rank >= numWorkers {
		return ErrRankOutOfRange
	}
	return nil
}

func clone(b []byte) []byte {
	if b == nil {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}

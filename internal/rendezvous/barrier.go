package rendezvous

import (
	"context"
	"time"
)

// epoch is the bookkeeping of one barrier generation.
type epoch struct {
	opened  time.Time // first arrival of the current occupancy
	release release
	arrived uint32
}

func newEpoch() *epoch {
	return &epoch{release: newRelease()}
}

// Barrier blocks until numWorkers callers, counted from the first arrival of the open
// generation, have called Barrier. It returns the generation that was released.
//
// Barrier flow:
//  1. Under the lock, count the arrival against the open generation
//  2. If the count reached numWorkers, fire the release, open the next generation
//     and return without blocking
//  3. Otherwise wait on the generation's release signal outside the lock
//  4. Re-acquire the lock and depart; the last caller to depart deletes the epoch
//
// numWorkers is taken on faith from each call. Callers disagreeing on the group size
// may release early or never. A value of 0 releases immediately.
//
// If ctx ends before the release fires, the caller's arrival is withdrawn and ctx.Err()
// is returned. A release that wins the race is reported as success.
//
// Example:
//
//	gen, err := group.Barrier(ctx, 4)
//	if err != nil {
//	    return fmt.Errorf("barrier: %w", err)
//	}
func (g *Group) Barrier(ctx context.Context, numWorkers uint32) (uint64, error) {
	g.mu.Lock()
	gen := g.generation
	e := g.epochs[gen]
	e.arrived++
	if e.arrived == 1 {
		e.opened = g.now()
	}

	if e.arrived >= numWorkers {
		e.release.fire()
		g.generation++
		g.epochs[g.generation] = newEpoch()
		g.depart(gen, e)
		g.mu.Unlock()
		return gen, nil
	}

	sig := e.release
	g.mu.Unlock()

	select {
	case <-sig:
	case <-ctx.Done():
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	if !sig.fired() {
		// Still the open generation: take the arrival back.
		e.arrived--
		return gen, ctx.Err()
	}
	g.depart(gen, e)
	return gen, nil
}

// depart must be called with g.mu held.
func (g *Group) depart(gen uint64, e *epoch) {
	e.arrived--
	if e.arrived == 0 && gen != g.generation {
		delete(g.epochs, gen)
	}
}

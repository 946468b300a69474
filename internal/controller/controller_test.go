package controller

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	"golang.org/x/sync/errgroup"

	"github.com/dreamware/flashsync/internal/cluster"
	"github.com/dreamware/flashsync/internal/rendezvous"
)

func newTestController(t *testing.T, maxInFlight int64) *Controller {
	return New(NewRegistry(), maxInFlight, zaptest.NewLogger(t))
}

func TestNew(t *testing.T) {
	c := New(NewRegistry(), 0, nil)
	assert.NotNil(t, c.logger)
	assert.Nil(t, c.limiter)
	assert.Zero(t, c.InFlight())

	c = New(NewRegistry(), 8, nil)
	assert.NotNil(t, c.limiter)
}

func TestControllerBarrier(t *testing.T) {
	const n = 5
	c := newTestController(t, DefaultMaxInFlight)

	var eg errgroup.Group
	for i := 0; i < n; i++ {
		eg.Go(func() error {
			resp, err := c.Barrier(context.Background(), &cluster.BarrierRequest{NumWorkers: n})
			if err != nil {
				return err
			}
			if resp.Generation != 0 {
				t.Errorf("generation = %d, want 0", resp.Generation)
			}
			return nil
		})
	}
	require.NoError(t, eg.Wait())

	assert.Equal(t, uint64(n), c.Served())
	assert.Zero(t, c.InFlight())
	g, ok := c.Registry().Lookup(DefaultGroup)
	require.True(t, ok)
	assert.Equal(t, uint64(1), g.Snapshot().Generation)
}

func TestControllerBroadcast(t *testing.T) {
	c := newTestController(t, DefaultMaxInFlight)

	var eg errgroup.Group
	got := make([][]byte, 3)
	for rank := uint32(0); rank < 3; rank++ {
		rank := rank
		eg.Go(func() error {
			req := &cluster.BroadcastRequest{Group: "job-1", Rank: rank, Root: 1, NumWorkers: 3}
			if rank == 1 {
				req.Value = []byte("params")
			}
			resp, err := c.Broadcast(context.Background(), req)
			if err != nil {
				return err
			}
			got[rank] = resp.Value
			return nil
		})
	}
	require.NoError(t, eg.Wait())

	for rank, v := range got {
		assert.Equal(t, []byte("params"), v, "rank %d", rank)
	}
	assert.Equal(t, 2, c.Registry().Len(), "job-1 is created next to the default group")
}

func TestControllerExchange(t *testing.T) {
	c := newTestController(t, DefaultMaxInFlight)

	var eg errgroup.Group
	got := make([]*cluster.ExchangeResponse, 2)
	for rank := uint32(0); rank < 2; rank++ {
		rank := rank
		eg.Go(func() error {
			resp, err := c.Exchange(context.Background(), &cluster.ExchangeRequest{
				Session: 1, Rank: rank, NumWorkers: 2, Value: []byte{byte('a' + rank)},
			})
			got[rank] = resp
			return err
		})
	}
	require.NoError(t, eg.Wait())

	assert.Equal(t, []byte("b"), got[0].Peer(1))
	assert.Equal(t, []byte("a"), got[1].Peer(0))
}

func TestControllerErrorsKeepIdentity(t *testing.T) {
	c := newTestController(t, DefaultMaxInFlight)

	_, err := c.Broadcast(context.Background(), &cluster.BroadcastRequest{Rank: 4, NumWorkers: 2})
	assert.ErrorIs(t, err, rendezvous.ErrRankOutOfRange)
	assert.Contains(t, err.Error(), "broadcast:")

	_, err = c.Exchange(context.Background(), &cluster.ExchangeRequest{NumWorkers: 0})
	assert.ErrorIs(t, err, rendezvous.ErrInvalidGroupSize)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err = c.Barrier(ctx, &cluster.BarrierRequest{NumWorkers: 2})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Zero(t, c.InFlight())
}

// TestControllerAdmission verifies the in-flight bound holds new calls back and
// that a held call honors its context.
func TestControllerAdmission(t *testing.T) {
	c := newTestController(t, 1)

	ctx, cancel := context.WithCancel(context.Background())
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		_, _ = c.Barrier(ctx, &cluster.BarrierRequest{NumWorkers: 2})
	}()
	require.Eventually(t, func() bool { return c.InFlight() == 1 }, time.Second, time.Millisecond)

	short, cancelShort := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancelShort()
	_, err := c.Barrier(short, &cluster.BarrierRequest{NumWorkers: 2})
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	g, _ := c.Registry().Lookup(DefaultGroup)
	assert.Equal(t, uint32(1), g.Snapshot().Arrived, "the held call never reached the barrier")

	cancel()
	wg.Wait()
	assert.Zero(t, c.InFlight())

	// The slot is free again.
	_, err = c.Barrier(context.Background(), &cluster.BarrierRequest{NumWorkers: 1})
	require.NoError(t, err)
}

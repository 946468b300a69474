// Package controller dispatches worker calls onto the coordination store.
// See doc.go for complete package documentation.
package controller

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/dreamware/flashsync/internal/cluster"
)

// DefaultMaxInFlight bounds concurrently served calls when no limit is configured.
const DefaultMaxInFlight = 1024

// Controller is the call dispatcher shared by every transport.
//
// Each transport serves a call on its own goroutine and hands it to the
// Controller, which admits it through a weighted semaphore, resolves the
// caller's group and runs the matching engine. The call returns to its own
// caller once the engine does, possibly after blocking.
//
// A rendezvous only completes when every member is being served at the same
// time, so the in-flight bound must be at least the largest group size.
type Controller struct {
	registry *Registry
	limiter  *semaphore.Weighted // nil means unbounded
	logger   *zap.Logger
	inFlight atomic.Int64
	served   atomic.Uint64
}

// New creates a controller over registry. maxInFlight <= 0 disables the bound.
// A nil logger is replaced by a no-op logger.
func New(registry *Registry, maxInFlight int64, logger *zap.Logger) *Controller {
	if logger == nil {
		logger = zap.NewNop()
	}
	c := &Controller{
		registry: registry,
		logger:   logger,
	}
	if maxInFlight > 0 {
		c.limiter = semaphore.NewWeighted(maxInFlight)
	}
	return c
}

// Registry returns the group registry the controller dispatches to.
func (c *Controller) Registry() *Registry {
	return c.registry
}

// InFlight returns the number of calls currently being served.
func (c *Controller) InFlight() int64 {
	return c.inFlight.Load()
}

// Served returns the number of calls that completed, successfully or not.
func (c *Controller) Served() uint64 {
	return c.served.Load()
}

// Barrier holds the caller until req.NumWorkers members of req.Group arrived.
func (c *Controller) Barrier(ctx context.Context, req *cluster.BarrierRequest) (*cluster.BarrierResponse, error) {
	done, err := c.admit(ctx)
	if err != nil {
		return nil, err
	}
	defer done()

	start := time.Now()
	gen, err := c.registry.Group(req.Group).Barrier(ctx, req.NumWorkers)
	log := c.logger.With(
		zap.String("group", req.Group),
		zap.Uint32("num_workers", req.NumWorkers),
		zap.Uint64("generation", gen),
		zap.Duration("waited", time.Since(start)),
	)
	if err != nil {
		c.logFailure(log, "barrier", err)
		return nil, fmt.Errorf("barrier: %w", err)
	}
	log.Debug("barrier released")
	return &cluster.BarrierResponse{Generation: gen}, nil
}

// Broadcast returns the value posted by req.Root for the caller's next round.
func (c *Controller) Broadcast(ctx context.Context, req *cluster.BroadcastRequest) (*cluster.BroadcastResponse, error) {
	done, err := c.admit(ctx)
	if err != nil {
		return nil, err
	}
	defer done()

	start := time.Now()
	value, err := c.registry.Group(req.Group).Broadcast(ctx, req.Rank, req.Root, req.NumWorkers, req.Value)
	log := c.logger.With(
		zap.String("group", req.Group),
		zap.Uint32("rank", req.Rank),
		zap.Uint32("root", req.Root),
		zap.Uint32("num_workers", req.NumWorkers),
		zap.Duration("waited", time.Since(start)),
	)
	if err != nil {
		c.logFailure(log, "broadcast", err)
		return nil, fmt.Errorf("broadcast: %w", err)
	}
	log.Debug("broadcast delivered", zap.Int("bytes", len(value)))
	return &cluster.BroadcastResponse{Value: value}, nil
}

// Exchange returns every rank's record for req.Session once all have posted.
func (c *Controller) Exchange(ctx context.Context, req *cluster.ExchangeRequest) (*cluster.ExchangeResponse, error) {
	done, err := c.admit(ctx)
	if err != nil {
		return nil, err
	}
	defer done()

	start := time.Now()
	values, err := c.registry.Group(req.Group).Exchange(ctx, req.Session, req.Rank, req.NumWorkers, req.Value)
	log := c.logger.With(
		zap.String("group", req.Group),
		zap.Uint64("session", req.Session),
		zap.Uint32("rank", req.Rank),
		zap.Uint32("num_workers", req.NumWorkers),
		zap.Duration("waited", time.Since(start)),
	)
	if err != nil {
		c.logFailure(log, "exchange", err)
		return nil, fmt.Errorf("exchange: %w", err)
	}
	log.Debug("exchange completed")
	return &cluster.ExchangeResponse{Values: values}, nil
}

// admit reserves an in-flight slot. The returned func releases it.
func (c *Controller) admit(ctx context.Context) (func(), error) {
	if c.limiter != nil {
		if err := c.limiter.Acquire(ctx, 1); err != nil {
			return nil, fmt.Errorf("admit call: %w", err)
		}
	}
	c.inFlight.Add(1)
	return func() {
		c.inFlight.Add(-1)
		c.served.Add(1)
		if c.limiter != nil {
			c.limiter.Release(1)
		}
	}, nil
}

func (c *Controller) logFailure(log *zap.Logger, op string, err error) {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		log.Info(op+" abandoned by caller", zap.Error(err))
		return
	}
	log.Warn(op+" rejected", zap.Error(err))
}

package controller

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/dreamware/flashsync/internal/rendezvous"
)

// Stall is a rendezvous object whose callers have been blocked for longer than
// the watchdog threshold.
type Stall struct {
	rendezvous.Pending
	Detected time.Time
}

type stallKey struct {
	group string
	kind  rendezvous.Kind
	key   uint64
}

// Watchdog periodically scans every group for callers that have been blocked
// longer than a threshold and reports them.
//
// A stuck rendezvous usually means a worker crashed or a job was launched with
// the wrong group size. The watchdog only observes: it never releases, cancels
// or rewrites anything, so group semantics are unchanged whether it runs or not.
//
// Thread-safe: All methods are safe for concurrent access.
type Watchdog struct {
	stalled   map[stallKey]Stall // currently stalled objects
	registry  *Registry
	logger    *zap.Logger
	onStalled func(Stall) // called once per newly stalled object
	now       func() time.Time
	ctx       context.Context
	cancel    context.CancelFunc
	interval  time.Duration
	threshold time.Duration
	mu        sync.RWMutex
	wg        sync.WaitGroup
}

// NewWatchdog creates a watchdog that scans registry every interval and reports
// objects blocked for at least threshold.
//
// Example:
//
//	wd := NewWatchdog(registry, 5*time.Second, 30*time.Second, logger)
//	go wd.Start(ctx)
//	defer wd.Stop()
func NewWatchdog(registry *Registry, interval, threshold time.Duration, logger *zap.Logger) *Watchdog {
	if logger == nil {
		logger = zap.NewNop()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Watchdog{
		stalled:   make(map[stallKey]Stall),
		registry:  registry,
		logger:    logger,
		now:       time.Now,
		ctx:       ctx,
		cancel:    cancel,
		interval:  interval,
		threshold: threshold,
	}
}

// SetOnStalled sets a callback invoked once for every object that becomes stalled.
// The callback runs on its own goroutine.
func (w *Watchdog) SetOnStalled(callback func(Stall)) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.onStalled = callback
}

// Start scans until ctx or Stop ends it. It blocks. Start after Stop returns
// without scanning.
func (w *Watchdog) Start(ctx context.Context) {
	w.mu.Lock()
	if w.ctx.Err() != nil {
		w.mu.Unlock()
		return
	}
	w.wg.Add(1)
	w.mu.Unlock()
	defer w.wg.Done()

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	w.logger.Info("watchdog started",
		zap.Duration("interval", w.interval),
		zap.Duration("threshold", w.threshold))

	w.scan()
	for {
		select {
		case <-ticker.C:
			w.scan()
		case <-ctx.Done():
			w.logger.Info("watchdog stopping due to context cancellation")
			return
		case <-w.ctx.Done():
			return
		}
	}
}

// Stop ends Start and waits for it to return.
func (w *Watchdog) Stop() {
	// Under mu so a concurrent Start either registers first or sees the cancel.
	w.mu.Lock()
	w.cancel()
	w.mu.Unlock()
	w.wg.Wait()
}

// Stalled returns the objects stalled as of the last scan.
func (w *Watchdog) Stalled() []Stall {
	w.mu.RLock()
	defer w.mu.RUnlock()

	out := make([]Stall, 0, len(w.stalled))
	for _, s := range w.stalled {
		out = append(out, s)
	}
	return out
}

// scan compares the registry's pending objects against the threshold.
func (w *Watchdog) scan() {
	pending := w.registry.Pending()
	now := w.now()

	w.mu.Lock()
	defer w.mu.Unlock()

	current := make(map[stallKey]bool, len(pending))
	for _, p := range pending {
		if p.Age < w.threshold {
			continue
		}
		k := stallKey{group: p.Group, kind: p.Kind, key: p.Key}
		current[k] = true

		prev, known := w.stalled[k]
		s := Stall{Pending: p, Detected: now}
		if known {
			s.Detected = prev.Detected
		}
		w.stalled[k] = s
		if known {
			continue
		}

		w.logger.Warn("rendezvous stalled",
			zap.String("group", p.Group),
			zap.String("kind", string(p.Kind)),
			zap.Uint64("key", p.Key),
			zap.Int("waiting", p.Waiting),
			zap.Duration("age", p.Age))
		if w.onStalled != nil {
			go w.onStalled(s)
		}
	}

	for k := range w.stalled {
		if !current[k] {
			w.logger.Info("rendezvous recovered", zap.String("object", k.String()))
			delete(w.stalled, k)
		}
	}
}

func (k stallKey) String() string {
	return fmt.Sprintf("%s/%s/%d", k.group, k.kind, k.key)
}

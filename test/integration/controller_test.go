package integration

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dreamware/flashsync/internal/cluster"
	"github.com/dreamware/flashsync/internal/rpc"
)

// TestSystem is a controller process under test.
type TestSystem struct {
	t        *testing.T
	proc     *exec.Cmd
	grpcAddr string
	httpAddr string
}

// NewTestSystem builds the controller binary. Tests are skipped when the
// toolchain is unavailable or -short is set.
func NewTestSystem(t *testing.T) *TestSystem {
	if testing.Short() {
		t.Skip("integration test skipped in short mode")
	}
	bin := filepath.Join(t.TempDir(), "controller")
	build := exec.Command("go", "build", "-o", bin, "../../cmd/controller")
	build.Stderr = os.Stderr
	if err := build.Run(); err != nil {
		t.Skipf("cannot build controller: %v", err)
	}

	ts := &TestSystem{
		t:        t,
		grpcAddr: "127.0.0.1:18099", // high ports to avoid conflicts
		httpAddr: "http://127.0.0.1:18098",
	}
	ts.proc = exec.Command(bin)
	ts.proc.Env = append(os.Environ(),
		"FLASHSYNC_GRPC_ADDR="+ts.grpcAddr,
		"FLASHSYNC_HTTP_ADDR=127.0.0.1:18098",
		"FLASHSYNC_WATCH_INTERVAL=50ms",
		"FLASHSYNC_STALL_THRESHOLD=200ms",
	)
	ts.proc.Stdout = os.Stdout
	ts.proc.Stderr = os.Stderr
	require.NoError(t, ts.proc.Start())
	t.Cleanup(ts.Stop)

	require.NoError(t, ts.waitForService(ts.httpAddr+"/health"))
	return ts
}

// Stop kills the controller if it is still running.
func (ts *TestSystem) Stop() {
	if ts.proc != nil && ts.proc.Process != nil && ts.proc.ProcessState == nil {
		_ = ts.proc.Process.Kill()
		_ = ts.proc.Wait()
	}
}

func (ts *TestSystem) waitForService(url string) error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	for {
		select {
		case <-ctx.Done():
			return fmt.Errorf("timeout waiting for %s", url)
		default:
			resp, err := http.Get(url)
			if err == nil {
				resp.Body.Close()
				if resp.StatusCode == http.StatusOK {
					return nil
				}
			}
			time.Sleep(100 * time.Millisecond)
		}
	}
}

func (ts *TestSystem) client() *rpc.Client {
	c, err := rpc.Dial(ts.grpcAddr)
	require.NoError(ts.t, err)
	ts.t.Cleanup(func() { _ = c.Close() })
	return c
}

func (ts *TestSystem) stats(ctx context.Context) cluster.StatsResponse {
	var out cluster.StatsResponse
	require.NoError(ts.t, cluster.GetJSON(ctx, ts.httpAddr+"/stats", &out))
	return out
}

// TestTrainingLoop walks workers through a data-parallel style loop: each step
// synchronizes, takes parameters from a rotating root and all-gathers results.
func TestTrainingLoop(t *testing.T) {
	ts := NewTestSystem(t)
	client := ts.client().WithGroup("train")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	const workers, steps = 6, 20
	var wg sync.WaitGroup
	errs := make(chan error, workers)
	for w := uint32(0); w < workers; w++ {
		wg.Add(1)
		go func(rank uint32) {
			defer wg.Done()
			for step := 0; step < steps; step++ {
				if _, err := client.Barrier(ctx, workers); err != nil {
					errs <- err
					return
				}
				root := uint32(step % workers)
				params := []byte(fmt.Sprintf("params-%d", step))
				got, err := client.Broadcast(ctx, rank, root, workers, params)
				if err != nil {
					errs <- err
					return
				}
				if string(got) != string(params) {
					errs <- fmt.Errorf("rank %d step %d: got %q", rank, step, got)
					return
				}
				grads, err := client.Exchange(ctx, uint64(step), rank, workers, []byte{byte(rank)})
				if err != nil {
					errs <- err
					return
				}
				for peer, g := range grads {
					if len(g) != 1 || g[0] != byte(peer) {
						errs <- fmt.Errorf("rank %d step %d: bad record from %d", rank, step, peer)
						return
					}
				}
			}
		}(w)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	stats := ts.stats(ctx)
	assert.Equal(t, uint64(workers*steps*3), stats.Served)
	for _, g := range stats.Groups {
		if g.Group == "train" {
			assert.Equal(t, uint64(steps), g.Generation)
			assert.Equal(t, 0, g.Slots)
			assert.Equal(t, 0, g.Sessions)
		}
	}
}

// TestMixedTransports meets gRPC and HTTP callers at one barrier.
func TestMixedTransports(t *testing.T) {
	ts := NewTestSystem(t)
	client := ts.client()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	var wg sync.WaitGroup
	var grpcErr, httpErr error
	var grpcGen uint64
	var httpResp cluster.BarrierResponse
	wg.Add(2)
	go func() {
		defer wg.Done()
		grpcGen, grpcErr = client.Barrier(ctx, 2)
	}()
	go func() {
		defer wg.Done()
		httpErr = cluster.PostJSON(ctx, ts.httpAddr+"/barrier", cluster.BarrierRequest{NumWorkers: 2}, &httpResp)
	}()
	wg.Wait()

	require.NoError(t, grpcErr)
	require.NoError(t, httpErr)
	assert.Equal(t, grpcGen, httpResp.Generation)
}

// TestStallReported leaves a barrier short one worker and expects the
// watchdog to surface it.
func TestStallReported(t *testing.T) {
	ts := NewTestSystem(t)
	client := ts.client().WithGroup("stuck")

	callCtx, callCancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := client.Barrier(callCtx, 2)
		done <- err
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	require.Eventually(t, func() bool {
		for _, s := range ts.stats(ctx).Stalled {
			if s.Group == "stuck" && s.Kind == "barrier" && s.Waiting == 1 {
				return true
			}
		}
		return false
	}, 5*time.Second, 50*time.Millisecond)

	callCancel()
	require.Error(t, <-done)

	require.Eventually(t, func() bool {
		return len(ts.stats(ctx).Stalled) == 0
	}, 5*time.Second, 50*time.Millisecond)
}

// TestGracefulShutdown stops the controller with SIGTERM.
func TestGracefulShutdown(t *testing.T) {
	ts := NewTestSystem(t)

	require.NoError(t, ts.proc.Process.Signal(syscall.SIGTERM))
	done := make(chan error, 1)
	go func() { done <- ts.proc.Wait() }()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("controller did not exit after SIGTERM")
	}
}

package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"google.golang.org/grpc/codes"

	"github.com/dreamware/flashsync/internal/cluster"
	"github.com/dreamware/flashsync/internal/controller"
	"github.com/dreamware/flashsync/internal/rpc"
)

// startController serves a fresh controller on a loopback port.
func startController(t *testing.T) (string, *controller.Controller) {
	t.Helper()
	lis, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctrl := controller.New(controller.NewRegistry(), controller.DefaultMaxInFlight, zap.NewNop())
	srv := rpc.NewServer(ctrl, zap.NewNop())
	go func() { _ = srv.Serve(lis) }()
	t.Cleanup(srv.Stop)
	return lis.Addr().String(), ctrl
}

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	cmd := newRootCmd()
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestBarrierCommand(t *testing.T) {
	addr, _ := startController(t)

	out, err := run(t, "--addr", addr, "--timeout", "5s", "barrier", "1")
	require.NoError(t, err)
	assert.Equal(t, "released generation 0\n", out)

	out, err = run(t, "--addr", addr, "--timeout", "5s", "barrier", "1")
	require.NoError(t, err)
	assert.Equal(t, "released generation 1\n", out)

	_, err = run(t, "--addr", addr, "barrier", "many")
	assert.ErrorContains(t, err, "num-workers")
}

func TestBarrierCommandTimeout(t *testing.T) {
	addr, ctrl := startController(t)

	_, err := run(t, "--addr", addr, "--timeout", "50ms", "barrier", "2")
	require.Error(t, err)
	assert.Equal(t, codes.DeadlineExceeded, rpc.Code(err))

	require.Eventually(t, func() bool {
		return ctrl.Registry().Group(controller.DefaultGroup).Snapshot().Arrived == 0
	}, 2*time.Second, 5*time.Millisecond)
}

func TestBroadcastCommand(t *testing.T) {
	addr, _ := startController(t)

	out, err := run(t, "--addr", addr, "--timeout", "5s", "--group", "g",
		"broadcast", "--rank", "0", "--root", "0", "--num-workers", "1", "--value", "hello")
	require.NoError(t, err)
	assert.Equal(t, "hello\n", out)

	_, err = run(t, "--addr", addr, "broadcast", "--rank", "3", "--num-workers", "2")
	assert.ErrorContains(t, err, "rank")
}

func TestExchangeCommand(t *testing.T) {
	addr, _ := startController(t)

	out, err := run(t, "--addr", addr, "--timeout", "5s",
		"exchange", "--session", "7", "--rank", "0", "--num-workers", "1", "--value", "qp")
	require.NoError(t, err)
	assert.Equal(t, "0\tqp\n", out)
}

func TestSimulateCommand(t *testing.T) {
	addr, ctrl := startController(t)

	out, err := run(t, "--addr", addr, "--timeout", "20s", "--group", "sim",
		"simulate", "--workers", "4", "--rounds", "6")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(out, "4 workers completed 6 rounds in "), out)

	// Every rendezvous drained.
	snap := ctrl.Registry().Group("sim").Snapshot()
	assert.Equal(t, uint64(6), snap.Generation)
	assert.Equal(t, 1, snap.Epochs)
	assert.Equal(t, 0, snap.Slots)
	assert.Equal(t, 0, snap.Sessions)

	_, err = run(t, "--addr", addr, "simulate", "--workers", "0")
	assert.Error(t, err)
}

func TestSimulateZeroRounds(t *testing.T) {
	addr, _ := startController(t)
	client, err := rpc.Dial(addr)
	require.NoError(t, err)
	defer client.Close()

	var out bytes.Buffer
	require.NoError(t, simulate(context.Background(), client, 3, 0, &out))
	assert.Contains(t, out.String(), "3 workers completed 0 rounds")
}

func TestStatsCommand(t *testing.T) {
	want := cluster.StatsResponse{
		Groups:   []cluster.GroupStats{{Group: "g", Generation: 3, Epochs: 1}},
		Stalled:  []cluster.StallInfo{},
		InFlight: 2,
		Served:   40,
	}
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/stats", r.URL.Path)
		_ = json.NewEncoder(w).Encode(want)
	}))
	defer ts.Close()

	out, err := run(t, "--http-addr", ts.URL+"/", "stats")
	require.NoError(t, err)

	var got cluster.StatsResponse
	require.NoError(t, json.Unmarshal([]byte(out), &got))
	assert.Equal(t, want, got)
}

func TestParseWorkers(t *testing.T) {
	n, err := parseWorkers("12")
	require.NoError(t, err)
	assert.Equal(t, uint32(12), n)

	_, err = parseWorkers("-1")
	assert.Error(t, err)
}

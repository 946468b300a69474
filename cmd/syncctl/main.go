// Command syncctl drives a flashsync controller from the shell.
package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/dreamware/flashsync/internal/rpc"
)

type options struct {
	addr     string
	httpAddr string
	group    string
	timeout  time.Duration
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	opts := &options{}
	root := &cobra.Command{
		Use:           "syncctl",
		Short:         "Barrier, broadcast and exchange against a flashsync controller",
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	root.PersistentFlags().StringVar(&opts.addr, "addr", fmt.Sprintf("localhost:%d", rpc.DefaultPort), "controller gRPC address")
	root.PersistentFlags().StringVar(&opts.httpAddr, "http-addr", "http://localhost:8099", "controller HTTP base URL")
	root.PersistentFlags().StringVar(&opts.group, "group", "", "rendezvous group name")
	root.PersistentFlags().DurationVar(&opts.timeout, "timeout", 0, "give up after this long (0 waits forever)")

	root.AddCommand(
		newBarrierCmd(opts),
		newBroadcastCmd(opts),
		newExchangeCmd(opts),
		newSimulateCmd(opts),
		newStatsCmd(opts),
	)
	return root
}

// context returns the command context bounded by --timeout.
func (o *options) context(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	if o.timeout > 0 {
		return context.WithTimeout(ctx, o.timeout)
	}
	return context.WithCancel(ctx)
}

// withClient dials the controller, runs fn and closes the connection.
func (o *options) withClient(cmd *cobra.Command, fn func(context.Context, *rpc.Client) error) error {
	client, err := rpc.Dial(o.addr)
	if err != nil {
		return fmt.Errorf("dial %s: %w", o.addr, err)
	}
	defer client.Close()

	ctx, cancel := o.context(cmd)
	defer cancel()
	return fn(ctx, client.WithGroup(o.group))
}

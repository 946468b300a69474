package main

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/dreamware/flashsync/internal/cluster"
	"github.com/dreamware/flashsync/internal/rpc"
)

func newBarrierCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "barrier <num-workers>",
		Short: "Wait until num-workers callers reach the barrier",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			n, err := parseWorkers(args[0])
			if err != nil {
				return err
			}
			return opts.withClient(cmd, func(ctx context.Context, c *rpc.Client) error {
				gen, err := c.Barrier(ctx, n)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "released generation %d\n", gen)
				return nil
			})
		},
	}
}

func newBroadcastCmd(opts *options) *cobra.Command {
	var rank, root, n uint32
	var value string
	cmd := &cobra.Command{
		Use:   "broadcast",
		Short: "Publish (as root) or receive one broadcast value",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return opts.withClient(cmd, func(ctx context.Context, c *rpc.Client) error {
				got, err := c.Broadcast(ctx, rank, root, n, []byte(value))
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), string(got))
				return nil
			})
		},
	}
	cmd.Flags().Uint32Var(&rank, "rank", 0, "this caller's rank")
	cmd.Flags().Uint32Var(&root, "root", 0, "rank that publishes the value")
	cmd.Flags().Uint32Var(&n, "num-workers", 1, "number of participants")
	cmd.Flags().StringVar(&value, "value", "", "value to publish when rank equals root")
	return cmd
}

func newExchangeCmd(opts *options) *cobra.Command {
	var rank, n uint32
	var session uint64
	var value string
	cmd := &cobra.Command{
		Use:   "exchange",
		Short: "Contribute one record and print every rank's record",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return opts.withClient(cmd, func(ctx context.Context, c *rpc.Client) error {
				values, err := c.Exchange(ctx, session, rank, n, []byte(value))
				if err != nil {
					return err
				}
				for peer, v := range values {
					fmt.Fprintf(cmd.OutOrStdout(), "%d\t%s\n", peer, v)
				}
				return nil
			})
		},
	}
	cmd.Flags().Uint64Var(&session, "session", 0, "session id shared by all participants")
	cmd.Flags().Uint32Var(&rank, "rank", 0, "this caller's rank")
	cmd.Flags().Uint32Var(&n, "num-workers", 1, "number of participants")
	cmd.Flags().StringVar(&value, "value", "", "record to contribute")
	return cmd
}

func newStatsCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Print the controller's bookkeeping as JSON",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, cancel := opts.context(cmd)
			defer cancel()

			var stats cluster.StatsResponse
			url := strings.TrimRight(opts.httpAddr, "/") + "/stats"
			if err := cluster.GetJSON(ctx, url, &stats); err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(stats)
		},
	}
}

func parseWorkers(s string) (uint32, error) {
	n, err := strconv.ParseUint(s, 10, 32)
	if err != nil {
		return 0, fmt.Errorf("num-workers %q: %w", s, err)
	}
	return uint32(n), nil
}

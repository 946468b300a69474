package main

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/dreamware/flashsync/internal/rpc"
)

var errMismatch = errors.New("unexpected value")

func newSimulateCmd(opts *options) *cobra.Command {
	var workers, rounds int
	cmd := &cobra.Command{
		Use:   "simulate",
		Short: "Run in-process workers through barrier, broadcast and exchange rounds",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if workers <= 0 || rounds < 0 {
				return fmt.Errorf("need --workers > 0 and --rounds >= 0")
			}
			return opts.withClient(cmd, func(ctx context.Context, c *rpc.Client) error {
				return simulate(ctx, c, workers, rounds, cmd.OutOrStdout())
			})
		},
	}
	cmd.Flags().IntVar(&workers, "workers", 4, "number of simulated workers")
	cmd.Flags().IntVar(&rounds, "rounds", 10, "rounds per worker")
	return cmd
}

// simulate runs workers goroutines sharing c. Each round every worker hits a
// barrier, takes a broadcast from a rotating root and then exchanges one
// record. Every received value is checked.
func simulate(ctx context.Context, c *rpc.Client, workers, rounds int, out io.Writer) error {
	start := time.Now()
	n := uint32(workers)

	g, ctx := errgroup.WithContext(ctx)
	for w := 0; w < workers; w++ {
		rank := uint32(w)
		g.Go(func() error {
			for r := 0; r < rounds; r++ {
				if _, err := c.Barrier(ctx, n); err != nil {
					return fmt.Errorf("rank %d round %d: %w", rank, r, err)
				}

				root := uint32(r % workers)
				var value []byte
				if rank == root {
					value = roundValue(r)
				}
				got, err := c.Broadcast(ctx, rank, root, n, value)
				if err != nil {
					return fmt.Errorf("rank %d round %d: %w", rank, r, err)
				}
				if want := roundValue(r); !bytes.Equal(got, want) {
					return fmt.Errorf("rank %d round %d broadcast: %w: got %q want %q", rank, r, errMismatch, got, want)
				}

				records, err := c.Exchange(ctx, uint64(r), rank, n, record(rank, r))
				if err != nil {
					return fmt.Errorf("rank %d round %d: %w", rank, r, err)
				}
				if len(records) != workers {
					return fmt.Errorf("rank %d round %d exchange: %w: %d records", rank, r, errMismatch, len(records))
				}
				for peer, rec := range records {
					if want := record(uint32(peer), r); !bytes.Equal(rec, want) {
						return fmt.Errorf("rank %d round %d exchange: %w: got %q want %q", rank, r, errMismatch, rec, want)
					}
				}
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	fmt.Fprintf(out, "%d workers completed %d rounds in %s\n", workers, rounds, time.Since(start).Round(time.Millisecond))
	return nil
}

func roundValue(r int) []byte {
	return []byte(fmt.Sprintf("round-%d", r))
}

func record(rank uint32, r int) []byte {
	return []byte(fmt.Sprintf("rank-%d-round-%d", rank, r))
}

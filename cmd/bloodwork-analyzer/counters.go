package main

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/vetlab/bloodwork-analyzer/internal/sequence"
)

func newCountersCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "counters",
		Short: "Manage identifier sequence counters",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "init",
		Short: "Create missing counters without resetting existing ones",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()

			db, alloc, err := openDatabase(ctx, cfg, logger, nil)
			if err != nil {
				return err
			}
			defer db.Close()

			if err := alloc.Initialize(ctx); err != nil {
				failure("Initialization failed: %v", err)
				return err
			}
			success("Sequence counters initialized")
			return printCounters(ctx, alloc)
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "Show the current counter values",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()

			db, alloc, err := openDatabase(ctx, cfg, logger, nil)
			if err != nil {
				return err
			}
			defer db.Close()

			return printCounters(ctx, alloc)
		},
	})

	return cmd
}

func printCounters(ctx context.Context, alloc *sequence.Allocator) error {
	counters, err := alloc.Counters(ctx)
	if err != nil {
		return err
	}

	tw := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ENTITY\tPREFIX\tCURRENT\tNEXT")
	for _, c := range counters {
		fmt.Fprintf(tw, "%s\t%s\t%d\t%s\n", c.EntityType, c.Prefix, c.CurrentValue, sequence.Format(c.Prefix, c.CurrentValue+1))
	}
	return tw.Flush()
}

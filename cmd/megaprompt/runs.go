package main

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

func newRunsCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "runs",
		Short: "Inspect and manage pipeline runs and their checkpoints",
	}
	cmd.AddCommand(
		newRunsListCmd(a),
		newRunsShowCmd(a),
		newRunsDeleteCmd(a),
		newRunsPruneCmd(a),
	)
	return cmd
}

func newRunsListCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List known runs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			store, closeStore, err := a.checkpointStore(ctx)
			if err != nil {
				return err
			}
			defer closeStore()

			metas, err := store.ListRuns(ctx)
			if err != nil {
				return err
			}
			if len(metas) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "no runs")
				return nil
			}
			for _, m := range metas {
				fmt.Fprintf(cmd.OutOrStdout(), "%s  %-11s %-10s %s\n",
					m.RunID, m.Pipeline, m.Status, m.UpdatedAt.Local().Format(time.RFC3339))
			}
			return nil
		},
	}
}

func newRunsShowCmd(a *app) *cobra.Command {
	var withState bool
	cmd := &cobra.Command{
		Use:   "show <run-id>",
		Short: "Show a run's checkpoints",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			store, closeStore, err := a.checkpointStore(ctx)
			if err != nil {
				return err
			}
			defer closeStore()

			meta, err := store.GetRun(ctx, args[0])
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "run %s  pipeline=%s status=%s\n",
				meta.RunID, meta.Pipeline, meta.Status)

			recs, err := store.List(ctx, args[0])
			if err != nil {
				return err
			}
			for _, rec := range recs {
				fmt.Fprintf(cmd.OutOrStdout(), "  %2d %-14s %s\n",
					rec.Seq, rec.Stage, rec.CreatedAt.Local().Format(time.RFC3339))
				if withState {
					pretty, err := json.MarshalIndent(rec.Payload, "    ", "  ")
					if err != nil {
						return err
					}
					fmt.Fprintf(cmd.OutOrStdout(), "    %s\n", pretty)
				}
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&withState, "state", false, "include each checkpoint's state payload")
	return cmd
}

func newRunsDeleteCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <run-id>",
		Short: "Delete a run and its checkpoints",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			store, closeStore, err := a.checkpointStore(ctx)
			if err != nil {
				return err
			}
			defer closeStore()
			return store.Delete(ctx, args[0])
		},
	}
}

func newRunsPruneCmd(a *app) *cobra.Command {
	var olderThan time.Duration
	cmd := &cobra.Command{
		Use:   "prune",
		Short: "Remove completed runs older than a cutoff",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			store, closeStore, err := a.checkpointStore(ctx)
			if err != nil {
				return err
			}
			defer closeStore()

			n, err := store.Prune(ctx, olderThan)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "pruned %d run(s)\n", n)
			return nil
		},
	}
	cmd.Flags().DurationVar(&olderThan, "older-than", 7*24*time.Hour,
		"only prune completed runs last updated before now minus this duration")
	return cmd
}

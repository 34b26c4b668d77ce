package main

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"megaprompt/internal/export"
	"megaprompt/internal/scan"
)

func newScanCmd(a *app) *cobra.Command {
	var (
		bypassCache bool
		ignoreDirs  []string
		stdout      bool
	)
	cmd := &cobra.Command{
		Use:   "scan <path>",
		Short: "Scan a codebase and store the structural scan result",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			scanner := scan.New(scan.Config{
				Workers:     a.cfg.Scan.Workers,
				MaxFileSize: a.cfg.Scan.MaxFileSize,
			})
			res, err := scanner.Scan(ctx, args[0], scan.Options{
				IgnoreDirs:  ignoreDirs,
				BypassCache: bypassCache,
			})
			if err != nil {
				return err
			}

			if stdout {
				raw, err := json.MarshalIndent(res, "", "  ")
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), string(raw))
				return nil
			}

			artifacts, err := a.exportStore()
			if err != nil {
				return err
			}
			runID := uuid.NewString()
			if err := export.WriteScanResult(ctx, artifacts, runID, res); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(),
				"run %s: %d modules, %d internal edges, %d errors\n",
				runID, len(res.Modules), len(res.Graph.Internal), len(res.Errors))
			return nil
		},
	}
	cmd.Flags().BoolVar(&bypassCache, "bypass-cache", false, "re-extract every file")
	cmd.Flags().StringSliceVar(&ignoreDirs, "ignore", nil, "extra directory names to skip")
	cmd.Flags().BoolVar(&stdout, "stdout", false, "print the scan result instead of storing it")
	return cmd
}

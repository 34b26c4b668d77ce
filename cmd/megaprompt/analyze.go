package main

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"megaprompt/internal/engine"
	"megaprompt/internal/export"
	"megaprompt/internal/pipelines/analysis"
	"megaprompt/internal/scan"
	t "megaprompt/internal/types"
)

func newAnalyzeCmd(a *app) *cobra.Command {
	var (
		originalIntent string
		checklistPath  string
		includeDrift   bool
		bypassCache    bool
		ignoreDirs     []string
		resumeRun      string
	)
	cmd := &cobra.Command{
		Use:   "analyze <path>",
		Short: "Scan a codebase and analyze it for missing systems",
		Long: `Scans the tree at <path>, then runs the analysis pipeline (classify,
infer, expected, matrix, enhance) over the scan result. The scan result, the
presence matrix and the missing-systems artifact are stored under the run id;
the latter can seed a later "generate --augment-run".`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			eng, closeEng, err := a.newEngine(ctx)
			if err != nil {
				return err
			}
			defer closeEng()

			artifacts, err := a.exportStore()
			if err != nil {
				return err
			}

			opts := analysis.Options{
				DedupThreshold: a.cfg.Engine.DedupThreshold,
				IncludeDrift:   includeDrift,
			}
			if checklistPath != "" {
				opts.Checklist, err = analysis.LoadChecklist(checklistPath)
				if err != nil {
					return err
				}
			}
			spec := analysis.Spec(opts)

			var res *engine.Result
			var scanRes *t.ScanResult
			if resumeRun != "" {
				res, err = eng.Resume(ctx, spec, resumeRun)
			} else {
				scanner := scan.New(scan.Config{
					Workers:     a.cfg.Scan.Workers,
					MaxFileSize: a.cfg.Scan.MaxFileSize,
				})
				scanRes, err = scanner.Scan(ctx, args[0], scan.Options{
					IgnoreDirs:  ignoreDirs,
					BypassCache: bypassCache,
				})
				if err != nil {
					return err
				}
				initial, serr := analysis.NewState(scanRes, originalIntent)
				if serr != nil {
					return serr
				}
				res, err = eng.Run(ctx, spec, initial)
			}
			if err != nil {
				var stageErr *engine.Error
				if errors.As(err, &stageErr) {
					return fmt.Errorf("%w\nresume with: megaprompt analyze --resume %s %s",
						err, stageErr.RunID, args[0])
				}
				return err
			}

			var st t.AnalysisState
			if err := json.Unmarshal(res.State, &st); err != nil {
				return err
			}
			if scanRes == nil {
				scanRes = st.Scan
			}
			if err := export.WriteScanResult(ctx, artifacts, res.RunID, scanRes); err != nil {
				return err
			}
			if err := export.WriteMatrix(ctx, artifacts, res.RunID, st.Matrix); err != nil {
				return err
			}
			if err := export.WriteMissingSystems(ctx, artifacts, res.RunID, st.Matrix); err != nil {
				return err
			}

			printStageReport(cmd.ErrOrStderr(), res)
			printMatrixSummary(cmd, res.RunID, &st)
			return nil
		},
	}
	cmd.Flags().StringVar(&originalIntent, "original-intent", "",
		"what the project claims to be, for drift detection")
	cmd.Flags().StringVar(&checklistPath, "checklist", "",
		"YAML checklist of expected systems, replacing the model-generated list")
	cmd.Flags().BoolVar(&includeDrift, "drift", false,
		"compare the stated intent against observed behavior (needs --original-intent)")
	cmd.Flags().BoolVar(&bypassCache, "bypass-cache", false, "re-extract every file")
	cmd.Flags().StringSliceVar(&ignoreDirs, "ignore", nil, "extra directory names to skip")
	cmd.Flags().StringVar(&resumeRun, "resume", "", "resume an interrupted run by id")
	return cmd
}

func printMatrixSummary(cmd *cobra.Command, runID string, st *t.AnalysisState) {
	out := cmd.OutOrStdout()
	var present, partial, missing int
	for _, e := range st.Matrix {
		switch e.State {
		case t.Present:
			present++
		case t.Partial:
			partial++
		case t.Missing:
			missing++
		}
	}
	fmt.Fprintf(out, "run %s: %d present, %d partial, %d missing\n",
		runID, present, partial, missing)
	for _, e := range st.Matrix {
		if e.State == t.Present {
			continue
		}
		fmt.Fprintf(out, "  %-8s %-24s (%s, confidence %.2f)\n",
			e.State, e.System, e.Category, e.Confidence)
	}
	if st.Enhancements != nil {
		for _, en := range st.Enhancements.Enhancements {
			fmt.Fprintf(out, "  suggest: %s [%s impact]\n", en.Title, en.Impact)
		}
	}
	if st.Drift != nil && len(st.Drift.Drifts) > 0 {
		for _, d := range st.Drift.Drifts {
			fmt.Fprintf(out, "  drift (%s, %s): expected %q, observed %q\n",
				d.Aspect, d.Severity, d.Expected, d.Observed)
		}
	}
}

package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"megaprompt/internal/engine"
	"megaprompt/internal/export"
	"megaprompt/internal/pipelines/generation"
	t "megaprompt/internal/types"
)

func newGenerateCmd(a *app) *cobra.Command {
	var (
		augmentRun string
		resumeRun  string
		stdout     bool
	)
	cmd := &cobra.Command{
		Use:   "generate [prompt]",
		Short: "Expand a raw project prompt into a build-ready mega prompt",
		Long: `Runs the generation pipeline (intent, decomposition, expansion, risk,
constraints, assembly) over a raw prompt. The prompt is read from the
argument, or from stdin when no argument is given. The assembled mega prompt
is stored as an artifact under the run id.`,
		Args: cobra.MaximumNArgs(1),
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

			var res *engine.Result
			if resumeRun != "" {
				res, err = eng.Resume(ctx, generation.Spec(), resumeRun)
			} else {
				prompt, perr := readPrompt(cmd.InOrStdin(), args)
				if perr != nil {
					return perr
				}
				var aug *t.Augmentation
				if augmentRun != "" {
					aug, err = export.ReadAugmentation(ctx, artifacts, augmentRun)
					if err != nil {
						return fmt.Errorf("load augmentation from run %s: %w", augmentRun, err)
					}
				}
				initial, serr := generation.NewState(prompt, aug)
				if serr != nil {
					return serr
				}
				res, err = eng.Run(ctx, generation.Spec(), initial)
			}
			if err != nil {
				var stageErr *engine.Error
				if errors.As(err, &stageErr) {
					return fmt.Errorf("%w\nresume with: megaprompt generate --resume %s", err, stageErr.RunID)
				}
				return err
			}

			var st t.GenerationState
			if err := json.Unmarshal(res.State, &st); err != nil {
				return err
			}
			if err := export.WriteMegaPrompt(ctx, artifacts, res.RunID, st.MegaPrompt); err != nil {
				return err
			}

			printStageReport(cmd.ErrOrStderr(), res)
			if stdout {
				fmt.Fprintln(cmd.OutOrStdout(), st.MegaPrompt)
			} else {
				fmt.Fprintf(cmd.OutOrStdout(), "run %s: mega prompt stored as %s\n",
					res.RunID, export.MegaPromptArtifact)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&augmentRun, "augment-run", "",
		"analysis run id whose missing-systems artifact should seed the prompt")
	cmd.Flags().StringVar(&resumeRun, "resume", "", "resume an interrupted run by id")
	cmd.Flags().BoolVar(&stdout, "stdout", false, "print the mega prompt instead of just the run id")
	return cmd
}

func readPrompt(in io.Reader, args []string) (string, error) {
	if len(args) == 1 && strings.TrimSpace(args[0]) != "" {
		return args[0], nil
	}
	raw, err := io.ReadAll(in)
	if err != nil {
		return "", err
	}
	prompt := strings.TrimSpace(string(raw))
	if prompt == "" {
		return "", fmt.Errorf("no prompt given (pass it as an argument or on stdin)")
	}
	return prompt, nil
}

func printStageReport(w io.Writer, res *engine.Result) {
	for _, sr := range res.Stages {
		src := "model"
		if sr.FromCache {
			src = "cache"
		}
		fmt.Fprintf(w, "  %-14s %-5s attempts=%d tokens=%d/%d %s\n",
			sr.Stage, src, sr.Attempts, sr.TokensIn, sr.TokensOut,
			sr.Duration.Round(time.Millisecond))
	}
}

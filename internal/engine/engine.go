// Package engine runs staged LLM pipelines. Each stage either calls the
// provider (prompt, validate, bounded repair) or computes locally; its output
// is merged into a cumulative state document that is checkpointed after every
// stage, so a run can resume from wherever it stopped.
package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"megaprompt/internal/checkpoint"
	"megaprompt/internal/provider"
	"megaprompt/internal/respcache"
	"megaprompt/internal/schema"
)

// Stage describes one pipeline step. Exactly one of Prompt or Local must be
// set. The state document flowing through Prompt and Merge is the cumulative
// pipeline state, so later stages can read everything earlier stages produced.
type Stage struct {
	Name string

	// Output constrains provider stages. The raw model response must
	// validate against it before Merge sees it.
	Output *schema.Shape

	// Prompt renders the model prompt from the current state.
	Prompt func(state json.RawMessage) (string, error)

	// Local computes the stage output without the provider.
	Local func(ctx context.Context, state json.RawMessage) (json.RawMessage, error)

	// Merge folds the validated stage output into the state document.
	Merge func(state, out json.RawMessage) (json.RawMessage, error)

	// Refine optionally post-processes a valid output. It returns the
	// (possibly filtered) output plus a follow-up instruction; a non-empty
	// instruction asks the engine to regenerate with that instruction
	// appended, bounded by MaxRepairs.
	Refine func(out json.RawMessage) (json.RawMessage, string, error)
}

// Spec is a named, ordered stage list.
type Spec struct {
	Name   string
	Stages []Stage
}

// StageResult records how one stage was satisfied.
type StageResult struct {
	Stage     string        `json:"stage"`
	FromCache bool          `json:"from_cache"`
	Attempts  int           `json:"attempts"`
	TokensIn  int           `json:"tokens_in"`
	TokensOut int           `json:"tokens_out"`
	Duration  time.Duration `json:"duration"`
}

// Result is the outcome of a run, successful or not.
type Result struct {
	RunID    string          `json:"run_id"`
	Pipeline string          `json:"pipeline"`
	Status   string          `json:"status"`
	State    json.RawMessage `json:"state"`
	Stages   []StageResult   `json:"stages"`
}

// Error wraps a stage failure with enough context to resume.
type Error struct {
	RunID string
	Stage string
	Err   error
}

func (e *Error) Error() string {
	return fmt.Sprintf("run %s stage %s: %v", e.RunID, e.Stage, e.Err)
}
func (e *Error) Unwrap() error { return e.Err }

// Engine executes Specs against one provider.
type Engine struct {
	Provider    provider.Gateway
	Params      provider.Params
	Cache       *respcache.Cache
	Checkpoints checkpoint.Store

	// MaxRepairs bounds validation-repair re-prompts per stage.
	MaxRepairs int
	// StageTimeout bounds each provider call, including whatever retries
	// the gateway performs internally.
	StageTimeout time.Duration
}

func (e *Engine) maxRepairs() int {
	if e.MaxRepairs <= 0 {
		return 2
	}
	return e.MaxRepairs
}

func (e *Engine) stageTimeout() time.Duration {
	if e.StageTimeout <= 0 {
		return 120 * time.Second
	}
	return e.StageTimeout
}

// Run executes the spec from the beginning with a fresh run id.
func (e *Engine) Run(ctx context.Context, spec Spec, initial json.RawMessage) (*Result, error) {
	runID := uuid.NewString()
	if err := e.Checkpoints.BeginRun(ctx, checkpoint.RunMeta{RunID: runID, Pipeline: spec.Name}); err != nil {
		return nil, fmt.Errorf("begin run: %w", err)
	}
	return e.execute(ctx, spec, runID, initial, 0)
}

// Resume continues a run from its latest checkpoint. The spec must be the
// same pipeline the run was started with.
func (e *Engine) Resume(ctx context.Context, spec Spec, runID string) (*Result, error) {
	meta, err := e.Checkpoints.GetRun(ctx, runID)
	if err != nil {
		return nil, err
	}
	if meta.Pipeline != spec.Name {
		return nil, fmt.Errorf("run %s belongs to pipeline %q, not %q", runID, meta.Pipeline, spec.Name)
	}
	rec, ok, err := e.Checkpoints.Latest(ctx, runID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("run %s has no checkpoints to resume from", runID)
	}
	if rec.Seq >= len(spec.Stages) {
		// Everything already ran; report the stored state as-is.
		return &Result{RunID: runID, Pipeline: spec.Name, Status: checkpoint.StatusCompleted, State: rec.Payload}, nil
	}
	if err := e.Checkpoints.BeginRun(ctx, checkpoint.RunMeta{RunID: runID, Pipeline: spec.Name}); err != nil {
		return nil, err
	}
	log.Printf("engine: resuming run %s at stage %d/%d", runID, rec.Seq+1, len(spec.Stages))
	return e.execute(ctx, spec, runID, rec.Payload, rec.Seq)
}

func (e *Engine) execute(ctx context.Context, spec Spec, runID string, state json.RawMessage, from int) (*Result, error) {
	res := &Result{RunID: runID, Pipeline: spec.Name, Status: checkpoint.StatusRunning}

	for i := from; i < len(spec.Stages); i++ {
		stage := spec.Stages[i]
		if err := ctx.Err(); err != nil {
			return e.finish(res, state, checkpoint.StatusCancelled,
				&Error{RunID: runID, Stage: stage.Name, Err: err})
		}

		start := time.Now()
		out, sr, err := e.runStage(ctx, stage, state)
		sr.Stage = stage.Name
		sr.Duration = time.Since(start)
		res.Stages = append(res.Stages, sr)
		if err != nil {
			status := checkpoint.StatusFailed
			if ctx.Err() != nil {
				status = checkpoint.StatusCancelled
			}
			return e.finish(res, state, status, &Error{RunID: runID, Stage: stage.Name, Err: err})
		}

		if stage.Merge != nil {
			state, err = stage.Merge(state, out)
			if err != nil {
				return e.finish(res, state, checkpoint.StatusFailed,
					&Error{RunID: runID, Stage: stage.Name, Err: fmt.Errorf("merge: %w", err)})
			}
		} else {
			state = out
		}

		rec := checkpoint.Record{RunID: runID, Stage: stage.Name, Seq: i + 1, Payload: state}
		if err := e.Checkpoints.Put(ctx, rec); err != nil {
			return e.finish(res, state, checkpoint.StatusFailed,
				&Error{RunID: runID, Stage: stage.Name, Err: fmt.Errorf("checkpoint: %w", err)})
		}
		log.Printf("engine: run %s stage %s done (cache=%v attempts=%d %s)",
			runID, stage.Name, sr.FromCache, sr.Attempts, sr.Duration.Round(time.Millisecond))
	}

	return e.finish(res, state, checkpoint.StatusCompleted, nil)
}

func (e *Engine) finish(res *Result, state json.RawMessage, status string, runErr error) (*Result, error) {
	res.State = state
	res.Status = status
	if err := e.Checkpoints.SetStatus(context.Background(), res.RunID, status); err != nil {
		log.Printf("engine: run %s: set status %s: %v", res.RunID, status, err)
	}
	if runErr != nil {
		return res, runErr
	}
	return res, nil
}

func (e *Engine) runStage(ctx context.Context, stage Stage, state json.RawMessage) (json.RawMessage, StageResult, error) {
	var sr StageResult

	if stage.Local != nil {
		cctx, cancel := context.WithTimeout(ctx, e.stageTimeout())
		defer cancel()
		out, err := stage.Local(cctx, state)
		return out, sr, err
	}
	if stage.Prompt == nil {
		return nil, sr, fmt.Errorf("stage has neither Prompt nor Local")
	}

	prompt, err := stage.Prompt(state)
	if err != nil {
		return nil, sr, fmt.Errorf("prompt: %w", err)
	}

	fp, err := respcache.Fingerprint(stage.Name, e.Provider.Name(), e.Params, map[string]any{
		"state": json.RawMessage(state), "prompt": prompt,
	})
	if err != nil {
		return nil, sr, err
	}

	if e.Cache != nil {
		if ent, ok, err := e.Cache.Get(ctx, fp); err == nil && ok {
			// Entries hold the refined stage output, so a hit never
			// touches the provider.
			if verr := validate(stage, ent.Payload); verr == nil {
				sr.FromCache = true
				return ent.Payload, sr, nil
			}
			// Cached payload no longer satisfies the stage shape.
			_ = e.Cache.Invalidate(ctx, fp)
		}
	}

	raw, err := e.invokeValidated(ctx, stage, prompt, &sr)
	if err != nil {
		return nil, sr, err
	}
	out, err := e.refine(ctx, stage, prompt, raw, &sr)
	if err != nil {
		return nil, sr, err
	}

	if e.Cache != nil {
		ent := respcache.Entry{Fingerprint: fp, Payload: out, Model: e.Params.Model}
		if err := e.Cache.Put(ctx, ent); err != nil {
			log.Printf("engine: cache put for stage %s: %v", stage.Name, err)
		}
	}
	return out, sr, nil
}

// invokeValidated calls the provider and, on a schema violation, re-prompts
// with corrective instructions up to MaxRepairs times.
func (e *Engine) invokeValidated(ctx context.Context, stage Stage, prompt string, sr *StageResult) (json.RawMessage, error) {
	var lastErr error
	for attempt := 0; attempt <= e.maxRepairs(); attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		raw, err := e.invoke(ctx, prompt, sr)
		if err != nil {
			return nil, err
		}
		err = validate(stage, raw)
		if err == nil {
			return raw, nil
		}
		lastErr = err
		var verr *schema.ValidationError
		if errors.As(err, &verr) {
			prompt = prompt + "\n\n" + verr.Instruction()
		}
		log.Printf("engine: stage %s attempt %d rejected: %v", stage.Name, attempt+1, err)
	}
	return nil, fmt.Errorf("output invalid after %d repair attempts: %w", e.maxRepairs(), lastErr)
}

func (e *Engine) refine(ctx context.Context, stage Stage, prompt string, raw json.RawMessage, sr *StageResult) (json.RawMessage, error) {
	if stage.Refine == nil {
		return raw, nil
	}
	out, followup, err := stage.Refine(raw)
	if err != nil {
		return nil, fmt.Errorf("refine: %w", err)
	}
	for attempt := 0; followup != "" && attempt < e.maxRepairs(); attempt++ {
		raw, err = e.invokeValidated(ctx, stage, prompt+"\n\n"+followup, sr)
		if err != nil {
			return nil, err
		}
		out, followup, err = stage.Refine(raw)
		if err != nil {
			return nil, fmt.Errorf("refine: %w", err)
		}
	}
	// After the bound the filtered output stands, followup or not.
	return out, nil
}

func (e *Engine) invoke(ctx context.Context, prompt string, sr *StageResult) (json.RawMessage, error) {
	cctx, cancel := context.WithTimeout(ctx, e.stageTimeout())
	defer cancel()

	sr.Attempts++
	sr.TokensIn += estimateTokens(prompt)
	raw, err := e.Provider.Invoke(cctx, prompt, e.Params)
	if err != nil {
		return nil, err
	}
	sr.TokensOut += estimateTokens(string(raw))
	return raw, nil
}

func validate(stage Stage, raw json.RawMessage) error {
	if stage.Output == nil {
		return nil
	}
	return schema.Validate(stage.Name, *stage.Output, raw)
}

// estimateTokens approximates token counts at four characters per token,
// which is close enough for reporting.
func estimateTokens(s string) int { return len(s) / 4 }

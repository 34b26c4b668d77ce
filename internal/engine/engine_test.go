package engine

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"megaprompt/internal/checkpoint"
	"megaprompt/internal/provider"
	"megaprompt/internal/respcache"
	"megaprompt/internal/schema"
)

var nameShape = schema.Shape{Fields: []schema.Field{schema.Str("name", true)}}

// twoStageSpec produces {"first":...,"second":...} from two provider stages.
func twoStageSpec() Spec {
	mkStage := func(name, field string) Stage {
		return Stage{
			Name:   name,
			Output: &nameShape,
			Prompt: func(state json.RawMessage) (string, error) {
				return "STAGE " + name + " state=" + string(state), nil
			},
			Merge: func(state, out json.RawMessage) (json.RawMessage, error) {
				return mergeField(state, field, out)
			},
		}
	}
	return Spec{Name: "twostage", Stages: []Stage{
		mkStage("alpha", "first"),
		mkStage("beta", "second"),
	}}
}

func mergeField(state json.RawMessage, field string, out json.RawMessage) (json.RawMessage, error) {
	var doc map[string]json.RawMessage
	if err := json.Unmarshal(state, &doc); err != nil {
		return nil, err
	}
	doc[field] = out
	return json.Marshal(doc)
}

func newEngine(t *testing.T, gw provider.Gateway) *Engine {
	t.Helper()
	cps, err := checkpoint.NewFSStore(t.TempDir())
	if err != nil {
		t.Fatalf("checkpoint store: %v", err)
	}
	return &Engine{
		Provider:     gw,
		Params:       provider.Params{Model: "fake-model", Temperature: 0.2, Seed: 1},
		Cache:        respcache.New(respcache.Config{MaxEntries: 32, TTL: time.Minute}),
		Checkpoints:  cps,
		MaxRepairs:   2,
		StageTimeout: time.Second,
	}
}

func TestRunCompletesAndCheckpointsEveryStage(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	fake := provider.NewFake().
		Script("STAGE alpha", `{"name":"a"}`).
		Script("STAGE beta", `{"name":"b"}`)
	e := newEngine(t, fake)

	res, err := e.Run(ctx, twoStageSpec(), json.RawMessage(`{}`))
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if res.Status != checkpoint.StatusCompleted {
		t.Fatalf("expected completed, got %s", res.Status)
	}

	var doc map[string]map[string]string
	if err := json.Unmarshal(res.State, &doc); err != nil {
		t.Fatalf("state: %v", err)
	}
	if doc["first"]["name"] != "a" || doc["second"]["name"] != "b" {
		t.Fatalf("unexpected state: %s", res.State)
	}

	recs, err := e.Checkpoints.List(ctx, res.RunID)
	if err != nil {
		t.Fatalf("list checkpoints: %v", err)
	}
	if len(recs) != 2 {
		t.Fatalf("expected one checkpoint per stage, got %d", len(recs))
	}
	meta, err := e.Checkpoints.GetRun(ctx, res.RunID)
	if err != nil || meta.Status != checkpoint.StatusCompleted {
		t.Fatalf("run meta: %+v err=%v", meta, err)
	}
}

func TestRunServesRepeatFromCache(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	fake := provider.NewFake().
		Script("STAGE alpha", `{"name":"a"}`).
		Script("STAGE beta", `{"name":"b"}`)
	e := newEngine(t, fake)

	first, err := e.Run(ctx, twoStageSpec(), json.RawMessage(`{}`))
	if err != nil {
		t.Fatalf("first run: %v", err)
	}
	callsAfterFirst := len(fake.Calls())

	second, err := e.Run(ctx, twoStageSpec(), json.RawMessage(`{}`))
	if err != nil {
		t.Fatalf("second run: %v", err)
	}
	if len(fake.Calls()) != callsAfterFirst {
		t.Fatalf("second run must not call the provider, calls went %d -> %d",
			callsAfterFirst, len(fake.Calls()))
	}
	if string(first.State) != string(second.State) {
		t.Fatalf("cached run diverged:\n%s\n%s", first.State, second.State)
	}
	for _, sr := range second.Stages {
		if !sr.FromCache {
			t.Fatalf("stage %s should be from cache", sr.Stage)
		}
	}
}

func TestRunRepairsInvalidOutput(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	fake := provider.NewFake().
		Script("STAGE alpha", `{"wrong":"shape"}`).
		Script("STAGE alpha", `{"name":"fixed"}`).
		Script("STAGE beta", `{"name":"b"}`)
	e := newEngine(t, fake)

	res, err := e.Run(ctx, twoStageSpec(), json.RawMessage(`{}`))
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if res.Stages[0].Attempts != 2 {
		t.Fatalf("expected 2 attempts on alpha, got %d", res.Stages[0].Attempts)
	}

	// The repair prompt must carry corrective instructions.
	calls := fake.Calls()
	repair := calls[1].Prompt
	if !strings.Contains(repair, "name") || !strings.Contains(repair, "required") {
		t.Fatalf("repair prompt lacks corrective detail: %q", repair)
	}
}

func TestRunFailsAfterRepairBudget(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	fake := provider.NewFake().Script("STAGE alpha", `{"wrong":"shape"}`)
	e := newEngine(t, fake)

	res, err := e.Run(ctx, twoStageSpec(), json.RawMessage(`{}`))
	if err == nil {
		t.Fatalf("expected failure")
	}
	var ee *Error
	if !errors.As(err, &ee) || ee.Stage != "alpha" {
		t.Fatalf("expected stage error for alpha, got %v", err)
	}
	if res.Status != checkpoint.StatusFailed {
		t.Fatalf("expected failed status, got %s", res.Status)
	}
	// 1 initial + MaxRepairs attempts.
	if got := len(fake.Calls()); got != 3 {
		t.Fatalf("expected 3 attempts, got %d", got)
	}
	meta, err := e.Checkpoints.GetRun(ctx, res.RunID)
	if err != nil || meta.Status != checkpoint.StatusFailed {
		t.Fatalf("run meta: %+v err=%v", meta, err)
	}
}

func TestResumeContinuesWithoutRedoingStages(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	// First process: alpha succeeds, beta never validates, run fails.
	fake1 := provider.NewFake().
		Script("STAGE alpha", `{"name":"a"}`).
		Script("STAGE beta", `{"oops":true}`)
	e1 := newEngine(t, fake1)
	res, err := e1.Run(ctx, twoStageSpec(), json.RawMessage(`{}`))
	if err == nil {
		t.Fatalf("expected first run to fail")
	}
	runID := res.RunID

	// Second process shares the checkpoint store but nothing else.
	fake2 := provider.NewFake().Script("STAGE beta", `{"name":"b"}`)
	e2 := newEngine(t, fake2)
	e2.Checkpoints = e1.Checkpoints

	resumed, err := e2.Resume(ctx, twoStageSpec(), runID)
	if err != nil {
		t.Fatalf("resume: %v", err)
	}
	if resumed.Status != checkpoint.StatusCompleted {
		t.Fatalf("expected completed, got %s", resumed.Status)
	}
	for _, call := range fake2.Calls() {
		if strings.Contains(call.Prompt, "STAGE alpha") {
			t.Fatalf("resume must not re-run completed stages")
		}
	}

	// The resumed state must match an uninterrupted run.
	fake3 := provider.NewFake().
		Script("STAGE alpha", `{"name":"a"}`).
		Script("STAGE beta", `{"name":"b"}`)
	e3 := newEngine(t, fake3)
	clean, err := e3.Run(ctx, twoStageSpec(), json.RawMessage(`{}`))
	if err != nil {
		t.Fatalf("clean run: %v", err)
	}
	if string(resumed.State) != string(clean.State) {
		t.Fatalf("resumed state diverged:\n%s\n%s", resumed.State, clean.State)
	}
}

func TestResumeRejectsWrongPipeline(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	fake := provider.NewFake().
		Script("STAGE alpha", `{"name":"a"}`).
		Script("STAGE beta", `{"name":"b"}`)
	e := newEngine(t, fake)
	res, err := e.Run(ctx, twoStageSpec(), json.RawMessage(`{}`))
	if err != nil {
		t.Fatalf("run: %v", err)
	}

	other := twoStageSpec()
	other.Name = "different"
	if _, err := e.Resume(ctx, other, res.RunID); err == nil {
		t.Fatalf("expected pipeline mismatch error")
	}
}

func TestCancellationStopsBetweenStages(t *testing.T) {
	t.Parallel()
	fake := provider.NewFake().
		Script("STAGE alpha", `{"name":"a"}`).
		Script("STAGE beta", `{"name":"b"}`)
	e := newEngine(t, fake)

	ctx, cancel := context.WithCancel(context.Background())
	spec := twoStageSpec()
	// Cancel from inside alpha's merge so beta never starts.
	origMerge := spec.Stages[0].Merge
	spec.Stages[0].Merge = func(state, out json.RawMessage) (json.RawMessage, error) {
		cancel()
		return origMerge(state, out)
	}

	res, err := e.Run(ctx, spec, json.RawMessage(`{}`))
	if err == nil {
		t.Fatalf("expected cancellation error")
	}
	if res.Status != checkpoint.StatusCancelled {
		t.Fatalf("expected cancelled, got %s", res.Status)
	}
	for _, call := range fake.Calls() {
		if strings.Contains(call.Prompt, "STAGE beta") {
			t.Fatalf("beta must not run after cancellation")
		}
	}

	// The alpha checkpoint survives, so the run is resumable.
	recs, err := e.Checkpoints.List(context.Background(), res.RunID)
	if err != nil || len(recs) != 1 {
		t.Fatalf("expected 1 checkpoint, got %d err=%v", len(recs), err)
	}
}

func TestLocalStageSkipsProvider(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	fake := provider.NewFake()
	e := newEngine(t, fake)

	spec := Spec{Name: "local", Stages: []Stage{{
		Name: "assemble",
		Local: func(_ context.Context, state json.RawMessage) (json.RawMessage, error) {
			return json.RawMessage(`{"text":"assembled"}`), nil
		},
	}}}
	res, err := e.Run(ctx, spec, json.RawMessage(`{}`))
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if len(fake.Calls()) != 0 {
		t.Fatalf("local stage must not call the provider")
	}
	if string(res.State) != `{"text":"assembled"}` {
		t.Fatalf("unexpected state: %s", res.State)
	}
}

// slowGateway blocks until the call's context expires for its first `stalls`
// invocations, then answers with payload.
type slowGateway struct {
	mu      sync.Mutex
	stalls  int
	calls   int
	payload string
}

func (g *slowGateway) Name() string { return "slow" }
func (g *slowGateway) Close() error { return nil }

func (g *slowGateway) Invoke(ctx context.Context, prompt string, _ provider.Params) (json.RawMessage, error) {
	g.mu.Lock()
	g.calls++
	stall := g.stalls > 0
	if stall {
		g.stalls--
	}
	g.mu.Unlock()
	if stall {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	return json.RawMessage(g.payload), nil
}

func (g *slowGateway) callCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.calls
}

func TestSlowProviderCallIsRetriedWithinStage(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	// The per-attempt timeout sits beneath the retry, so the first call
	// times out as a retryable provider error while the stage budget is
	// still alive.
	slow := &slowGateway{stalls: 1, payload: `{"name":"slow"}`}
	gw := provider.Chain(slow,
		provider.Retry(3, time.Millisecond),
		provider.Timeout(20*time.Millisecond),
	)
	e := newEngine(t, gw)
	e.StageTimeout = time.Second

	spec := Spec{Name: "slow", Stages: []Stage{{
		Name:   "only",
		Output: &nameShape,
		Prompt: func(json.RawMessage) (string, error) { return "STAGE only", nil },
	}}}
	res, err := e.Run(ctx, spec, json.RawMessage(`{}`))
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if res.Status != checkpoint.StatusCompleted {
		t.Fatalf("expected completed, got %s", res.Status)
	}
	if got := slow.callCount(); got != 2 {
		t.Fatalf("expected the timed-out call to be retried, got %d calls", got)
	}
	if !strings.Contains(string(res.State), "slow") {
		t.Fatalf("unexpected state: %s", res.State)
	}
}

func TestRefineTriggersBoundedRegeneration(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	fake := provider.NewFake().
		Script("STAGE gamma", `{"name":"dup"}`).
		Script("STAGE gamma", `{"name":"fresh"}`)
	e := newEngine(t, fake)

	spec := Spec{Name: "refine", Stages: []Stage{{
		Name:   "gamma",
		Output: &nameShape,
		Prompt: func(json.RawMessage) (string, error) { return "STAGE gamma", nil },
		Refine: func(out json.RawMessage) (json.RawMessage, string, error) {
			if strings.Contains(string(out), "dup") {
				return out, "Avoid duplicates already listed.", nil
			}
			return out, "", nil
		},
	}}}

	res, err := e.Run(ctx, spec, json.RawMessage(`{}`))
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if !strings.Contains(string(res.State), "fresh") {
		t.Fatalf("expected regenerated output, got %s", res.State)
	}
	calls := fake.Calls()
	if len(calls) != 2 {
		t.Fatalf("expected 2 provider calls, got %d", len(calls))
	}
	if !strings.Contains(calls[1].Prompt, "Avoid duplicates") {
		t.Fatalf("regeneration prompt lacks follow-up instruction: %q", calls[1].Prompt)
	}
}

func TestCacheHitIsProviderSilentEvenWithRefine(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	fake := provider.NewFake().Script("STAGE delta", `{"name":"good enough"}`)
	e := newEngine(t, fake)

	// This Refine is never satisfied, so the first run exhausts its
	// regeneration budget and the bounded output stands.
	spec := Spec{Name: "greedy", Stages: []Stage{{
		Name:   "delta",
		Output: &nameShape,
		Prompt: func(json.RawMessage) (string, error) { return "STAGE delta", nil },
		Refine: func(out json.RawMessage) (json.RawMessage, string, error) {
			return out, "Push further.", nil
		},
	}}}

	first, err := e.Run(ctx, spec, json.RawMessage(`{}`))
	if err != nil {
		t.Fatalf("first run: %v", err)
	}
	callsAfterFirst := len(fake.Calls())
	if callsAfterFirst != 3 { // initial + MaxRepairs regenerations
		t.Fatalf("expected 3 provider calls on the first run, got %d", callsAfterFirst)
	}

	second, err := e.Run(ctx, spec, json.RawMessage(`{}`))
	if err != nil {
		t.Fatalf("second run: %v", err)
	}
	if len(fake.Calls()) != callsAfterFirst {
		t.Fatalf("cache hit must not call the provider, calls went %d -> %d",
			callsAfterFirst, len(fake.Calls()))
	}
	if !second.Stages[0].FromCache {
		t.Fatalf("expected a cache hit: %+v", second.Stages[0])
	}
	if string(first.State) != string(second.State) {
		t.Fatalf("hit diverged from the run that earned the entry:\n%s\n%s",
			first.State, second.State)
	}
}

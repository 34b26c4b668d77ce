package provider

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
)

// Fake returns scripted JSON payloads for offline runs and tests.
// Responses are matched by prompt substring; Script entries queue per key so
// repair attempts can be scripted to return different payloads.
type Fake struct {
	mu      sync.Mutex
	scripts map[string][]json.RawMessage
	fallbck json.RawMessage
	calls   []FakeCall
	errs    []error
}

// FakeCall records one Invoke for assertions.
type FakeCall struct {
	Prompt string
	Params Params
}

func NewFake() *Fake {
	return &Fake{scripts: map[string][]json.RawMessage{}, fallbck: json.RawMessage(`{}`)}
}

func (f *Fake) Name() string { return "fake" }
func (f *Fake) Close() error { return nil }

// Script queues a response for prompts containing key. Queued responses are
// consumed in order; the last one repeats.
func (f *Fake) Script(key string, raw string) *Fake {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.scripts[key] = append(f.scripts[key], json.RawMessage(raw))
	return f
}

// FailNext queues errors returned before any scripted response is consulted.
func (f *Fake) FailNext(errs ...error) *Fake {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.errs = append(f.errs, errs...)
	return f
}

func (f *Fake) Calls() []FakeCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]FakeCall, len(f.calls))
	copy(out, f.calls)
	return out
}

func (f *Fake) Invoke(ctx context.Context, prompt string, params Params) (json.RawMessage, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, FakeCall{Prompt: prompt, Params: params})
	if len(f.errs) > 0 {
		err := f.errs[0]
		f.errs = f.errs[1:]
		return nil, err
	}
	for key, queue := range f.scripts {
		if !strings.Contains(prompt, key) {
			continue
		}
		raw := queue[0]
		if len(queue) > 1 {
			f.scripts[key] = queue[1:]
		}
		return append(json.RawMessage(nil), raw...), nil
	}
	return append(json.RawMessage(nil), f.fallbck...), nil
}

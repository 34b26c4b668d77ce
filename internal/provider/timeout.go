package provider

import (
	"context"
	"encoding/json"
	"time"
)

// Timeout bounds each individual Invoke. When this budget expires while the
// caller's context is still alive, the failure is classified as a timeout
// provider error, so a Retry wrapped around it re-attempts instead of
// propagating a dead context.
func Timeout(d time.Duration) Middleware {
	if d <= 0 {
		d = 30 * time.Second
	}
	return func(next Gateway) Gateway {
		return &timebound{next: next, d: d}
	}
}

type timebound struct {
	next Gateway
	d    time.Duration
}

func (t *timebound) Name() string { return t.next.Name() }
func (t *timebound) Close() error { return t.next.Close() }

func (t *timebound) Invoke(ctx context.Context, prompt string, params Params) (json.RawMessage, error) {
	cctx, cancel := context.WithTimeout(ctx, t.d)
	defer cancel()

	resp, err := t.next.Invoke(cctx, prompt, params)
	if err != nil && cctx.Err() == context.DeadlineExceeded && ctx.Err() == nil {
		return nil, &Error{Kind: KindTimeout, Err: err}
	}
	return resp, err
}

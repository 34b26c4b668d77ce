package provider

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"
)

// stallGateway blocks until the call's context expires for its first
// `stalls` invocations, then answers normally.
type stallGateway struct {
	mu     sync.Mutex
	stalls int
	calls  int
}

func (g *stallGateway) Name() string { return "stall" }
func (g *stallGateway) Close() error { return nil }

func (g *stallGateway) Invoke(ctx context.Context, prompt string, _ Params) (json.RawMessage, error) {
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
	return json.RawMessage(`{"ok":true}`), nil
}

func (g *stallGateway) callCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.calls
}

func TestTimeoutClassifiesSlowCalls(t *testing.T) {
	t.Parallel()
	gw := Chain(&stallGateway{stalls: 1}, Timeout(20*time.Millisecond))

	_, err := gw.Invoke(context.Background(), "x", Params{})
	var pe *Error
	if !errors.As(err, &pe) || pe.Kind != KindTimeout {
		t.Fatalf("expected timeout provider error, got %v", err)
	}
	if !IsRetryable(err) {
		t.Fatalf("timeout must be retryable")
	}
}

func TestTimeoutThenRetryRecovers(t *testing.T) {
	t.Parallel()
	stall := &stallGateway{stalls: 1}
	gw := Chain(stall, Retry(3, time.Millisecond), Timeout(20*time.Millisecond))

	raw, err := gw.Invoke(context.Background(), "x", Params{})
	if err != nil {
		t.Fatalf("invoke: %v", err)
	}
	if string(raw) != `{"ok":true}` {
		t.Fatalf("unexpected payload: %s", raw)
	}
	if got := stall.callCount(); got != 2 {
		t.Fatalf("expected a retry after the timed-out attempt, got %d calls", got)
	}
}

func TestTimeoutLeavesCallerDeadlineAlone(t *testing.T) {
	t.Parallel()
	gw := Chain(&stallGateway{stalls: 1}, Timeout(time.Minute))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err := gw.Invoke(ctx, "x", Params{})
	var pe *Error
	if errors.As(err, &pe) {
		t.Fatalf("caller deadline must not be reclassified, got %v", err)
	}
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected the caller's deadline error, got %v", err)
	}
}

package disk

import (
	"context"
	"testing"
	"time"
)

func newStore(t *testing.T, cfg Config) *Store {
	t.Helper()
	if cfg.Root == "" {
		cfg.Root = t.TempDir()
	}
	s, err := New(cfg)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	return s
}

func TestStoreRoundTrip(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := newStore(t, Config{MaxEntries: 8, TTL: time.Minute})

	if err := s.Set(ctx, "k1", []byte(`{"a":1}`)); err != nil {
		t.Fatalf("set: %v", err)
	}
	raw, ok, err := s.Get(ctx, "k1")
	if err != nil || !ok {
		t.Fatalf("get: ok=%v err=%v", ok, err)
	}
	if string(raw) != `{"a":1}` {
		t.Fatalf("unexpected payload: %s", raw)
	}

	if _, ok, _ := s.Get(ctx, "missing"); ok {
		t.Fatalf("missing key must not hit")
	}
}

func TestStoreTTLExpiry(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := newStore(t, Config{MaxEntries: 8, TTL: 20 * time.Millisecond})

	if err := s.Set(ctx, "short", []byte("v")); err != nil {
		t.Fatalf("set: %v", err)
	}
	time.Sleep(40 * time.Millisecond)
	if _, ok, _ := s.Get(ctx, "short"); ok {
		t.Fatalf("expired entry must not hit")
	}
	st, err := s.Stats(ctx)
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if st.Entries != 0 {
		t.Fatalf("expired entry must be dropped from index, have %d", st.Entries)
	}
}

func TestStoreEvictsLeastRecentlyUsed(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := newStore(t, Config{MaxEntries: 2, TTL: time.Minute})

	if err := s.Set(ctx, "a", []byte("1")); err != nil {
		t.Fatalf("set a: %v", err)
	}
	if err := s.Set(ctx, "b", []byte("2")); err != nil {
		t.Fatalf("set b: %v", err)
	}
	// Touch "a" so "b" becomes the eviction candidate.
	if _, ok, _ := s.Get(ctx, "a"); !ok {
		t.Fatalf("expected a to hit")
	}
	if err := s.Set(ctx, "c", []byte("3")); err != nil {
		t.Fatalf("set c: %v", err)
	}

	if _, ok, _ := s.Get(ctx, "b"); ok {
		t.Fatalf("b should have been evicted")
	}
	for _, key := range []string{"a", "c"} {
		if _, ok, _ := s.Get(ctx, key); !ok {
			t.Fatalf("expected %s to survive eviction", key)
		}
	}
}

func TestStoreSurvivesReopen(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	root := t.TempDir()

	s := newStore(t, Config{Root: root, MaxEntries: 8, TTL: time.Minute})
	if err := s.Set(ctx, "persisted", []byte(`{"x":true}`)); err != nil {
		t.Fatalf("set: %v", err)
	}

	reopened := newStore(t, Config{Root: root, MaxEntries: 8, TTL: time.Minute})
	raw, ok, err := reopened.Get(ctx, "persisted")
	if err != nil || !ok {
		t.Fatalf("get after reopen: ok=%v err=%v", ok, err)
	}
	if string(raw) != `{"x":true}` {
		t.Fatalf("unexpected payload after reopen: %s", raw)
	}
}

func TestStoreClear(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := newStore(t, Config{MaxEntries: 8, TTL: time.Minute})

	for _, key := range []string{"a", "b", "c"} {
		if err := s.Set(ctx, key, []byte(key)); err != nil {
			t.Fatalf("set %s: %v", key, err)
		}
	}
	if err := s.Clear(ctx); err != nil {
		t.Fatalf("clear: %v", err)
	}
	st, err := s.Stats(ctx)
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if st.Entries != 0 || st.TotalBytes != 0 {
		t.Fatalf("clear left state behind: %+v", st)
	}
}

func TestStoreByteBudget(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := newStore(t, Config{MaxEntries: 100, MaxBytes: 10, TTL: time.Minute})

	if err := s.Set(ctx, "big1", []byte("0123456789")); err != nil {
		t.Fatalf("set: %v", err)
	}
	if err := s.Set(ctx, "big2", []byte("0123456789")); err != nil {
		t.Fatalf("set: %v", err)
	}
	st, err := s.Stats(ctx)
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if st.TotalBytes > 10 {
		t.Fatalf("byte budget exceeded: %+v", st)
	}
}

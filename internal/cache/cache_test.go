package cache

import (
	"testing"
	"time"
)

func newTestStore(t *testing.T) (*Store, *time.Time) {
	t.Helper()
	s := New(Options{DefaultTTL: time.Minute, MaxKeys: 100, SweepInterval: time.Hour})
	t.Cleanup(s.Close)

	now := time.Unix(1700000000, 0).UTC()
	s.now = func() time.Time { return now }
	return s, &now
}

func TestStore_SetGetExpiry(t *testing.T) {
	s, now := newTestStore(t)

	if err := s.Set("k", "v", 30*time.Second); err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	v, ok := s.Get("k")
	if !ok || v.(string) != "v" {
		t.Fatalf("expected hit, got %v %v", v, ok)
	}

	*now = now.Add(31 * time.Second)
	if _, ok := s.Get("k"); ok {
		t.Fatalf("expected miss after TTL")
	}
}

func TestStore_NoCloneSemantics(t *testing.T) {
	s, _ := newTestStore(t)

	val := map[string]int{"calls": 1}
	if err := s.Set("stats", val, 0); err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	got, ok := s.Get("stats")
	if !ok {
		t.Fatalf("expected hit")
	}
	// Same underlying map; stored values are shared snapshots.
	got.(map[string]int)["calls"] = 2
	if val["calls"] != 2 {
		t.Fatalf("expected stored value to share backing storage")
	}
}

func TestStore_MaxKeysBound(t *testing.T) {
	s := New(Options{DefaultTTL: time.Minute, MaxKeys: 2, SweepInterval: time.Hour})
	t.Cleanup(s.Close)

	if err := s.Set("a", 1, 0); err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if err := s.Set("b", 2, 0); err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if err := s.Set("c", 3, 0); err != ErrFull {
		t.Fatalf("expected ErrFull, got %v", err)
	}
	// Overwriting an existing key is always allowed.
	if err := s.Set("a", 10, 0); err != nil {
		t.Fatalf("unexpected err on overwrite: %v", err)
	}
}

func TestStore_Sweep(t *testing.T) {
	s, now := newTestStore(t)

	_ = s.Set("short", 1, time.Second)
	_ = s.Set("long", 2, time.Hour)

	*now = now.Add(2 * time.Second)
	s.sweep()

	if s.Len() != 1 {
		t.Fatalf("expected 1 surviving entry, got %d", s.Len())
	}
	if _, ok := s.Get("long"); !ok {
		t.Fatalf("expected long-TTL entry to survive sweep")
	}
}

func TestStore_InvalidatePattern(t *testing.T) {
	s, _ := newTestStore(t)

	_ = s.Set("call_history_42_1", 1, 0)
	_ = s.Set("call_history_42_2", 2, 0)
	_ = s.Set("call_history_7_1", 3, 0)
	_ = s.Set("entries_42_1", 4, 0)

	n := s.InvalidatePattern("call_history_42_*")
	if n != 2 {
		t.Fatalf("expected 2 deletions, got %d", n)
	}
	if _, ok := s.Get("call_history_7_1"); !ok {
		t.Fatalf("expected other user's history to survive")
	}
	if _, ok := s.Get("entries_42_1"); !ok {
		t.Fatalf("expected entries partition to survive")
	}
}

func TestGlobMatch(t *testing.T) {
	cases := []struct {
		pattern, s string
		want       bool
	}{
		{"call_history_*", "call_history_42_1", true},
		{"call_history_*", "entries_42", false},
		{"*_42_*", "call_history_42_1", true},
		{"call_stats_42", "call_stats_42", true},
		{"call_stats_42", "call_stats_421", false},
		{"*", "anything", true},
	}
	for _, tc := range cases {
		if got := globMatch(tc.pattern, tc.s); got != tc.want {
			t.Fatalf("globMatch(%q, %q) = %v, want %v", tc.pattern, tc.s, got, tc.want)
		}
	}
}

func TestSmartInvalidate_ScopedToOwner(t *testing.T) {
	s, _ := newTestStore(t)

	_ = s.Set("call_history_42_1", 1, 0)
	_ = s.Set("call_stats_42", 2, 0)
	_ = s.Set("call_history_7_1", 3, 0)
	_ = s.Set("entries_42_1", 4, 0)
	_ = s.Set("user_42", 5, 0)

	n := s.SmartInvalidate(DomainCalls, "42")
	if n != 2 {
		t.Fatalf("expected 2 deletions, got %d", n)
	}
	if _, ok := s.Get("call_history_7_1"); !ok {
		t.Fatalf("expected unrelated user's calls to survive")
	}
	if _, ok := s.Get("entries_42_1"); !ok {
		t.Fatalf("expected entries partition untouched")
	}
	if _, ok := s.Get("user_42"); !ok {
		t.Fatalf("expected user partition untouched")
	}
}

func TestSmartInvalidate_All(t *testing.T) {
	s, _ := newTestStore(t)

	_ = s.Set("a", 1, 0)
	_ = s.Set("b", 2, 0)

	if n := s.SmartInvalidate(DomainAll, ""); n != 2 {
		t.Fatalf("expected full flush count 2, got %d", n)
	}
	if s.Len() != 0 {
		t.Fatalf("expected empty store")
	}
}

package id

import (
	"strings"
	"testing"
	"time"
)

func TestNewIsUniqueAndSorted(t *testing.T) {
	prev := ""
	seen := make(map[string]struct{}, 1000)
	for i := 0; i < 1000; i++ {
		got := New()
		if len(got) != 26 {
			t.Fatalf("expected 26 characters, got %d (%s)", len(got), got)
		}
		if _, dup := seen[got]; dup {
			t.Fatalf("duplicate id %s", got)
		}
		seen[got] = struct{}{}
		if prev != "" && got <= prev {
			t.Fatalf("expected %s to sort after %s", got, prev)
		}
		prev = got
	}
}

func TestValidAndTime(t *testing.T) {
	before := time.Now().Add(-time.Second)
	got := New()
	if !Valid(got) {
		t.Fatalf("expected %s to be valid", got)
	}
	ts, ok := Time(got)
	if !ok || ts.Before(before) {
		t.Fatalf("expected embedded time after %v, got %v (ok=%v)", before, ts, ok)
	}

	for _, bad := range []string{"", "exp-1", "not-a-ulid-but-26-chars-xx", strings.Repeat("z", 26)} {
		if Valid(bad) {
			t.Fatalf("expected %q to be invalid", bad)
		}
	}
}

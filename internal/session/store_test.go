package session

import (
	"context"
	"testing"
)

func TestNilClientIsSafe(t *testing.T) {
	store := New(nil, 0, nil)
	ctx := context.Background()

	store.Append(ctx, "s1", "hi", "hello")
	if got := store.History(ctx, "s1"); len(got) != 0 {
		t.Fatalf("expected empty history, got %d turns", len(got))
	}
	store.Clear(ctx, "s1")
}

func TestKeyPrefix(t *testing.T) {
	if got := key("org:user"); got != "history:org:user" {
		t.Fatalf("unexpected key %q", got)
	}
}

package groupcache

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
)

type fakeLookup struct {
	calls int
	names map[string]string
	err   error
}

func (f *fakeLookup) lookup(_ context.Context, id string) (string, error) {
	f.calls++
	if f.err != nil {
		return "", f.err
	}
	return f.names[id], nil
}

func quiet() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func TestResolveName_CachesForever(t *testing.T) {
	f := &fakeLookup{names: map[string]string{"g1@g.us": "Família"}}
	c := New(Config{Lookup: f.lookup, Logger: quiet()})
	ctx := context.Background()

	if got := c.ResolveName(ctx, "g1@g.us"); got != "Família" {
		t.Fatalf("first lookup = %q", got)
	}
	f.names["g1@g.us"] = "Renamed"
	if got := c.ResolveName(ctx, "g1@g.us"); got != "Família" {
		t.Errorf("second lookup = %q, want stale cached name", got)
	}
	if f.calls != 1 {
		t.Errorf("lookup calls = %d, want 1", f.calls)
	}
}

func TestResolveName_FailureNotCached(t *testing.T) {
	f := &fakeLookup{err: errors.New("offline")}
	c := New(Config{Lookup: f.lookup, Logger: quiet()})
	ctx := context.Background()

	if got := c.ResolveName(ctx, "g2@g.us"); got != "g2@g.us" {
		t.Errorf("failure should return raw id, got %q", got)
	}
	if c.Len() != 0 {
		t.Error("failure must not be cached")
	}

	f.err = nil
	f.names = map[string]string{"g2@g.us": "Trabalho"}
	if got := c.ResolveName(ctx, "g2@g.us"); got != "Trabalho" {
		t.Errorf("retry after recovery = %q", got)
	}
	if f.calls != 2 {
		t.Errorf("lookup calls = %d, want 2", f.calls)
	}
}

func TestResolveName_EmptySubject(t *testing.T) {
	f := &fakeLookup{names: map[string]string{}}
	c := New(Config{Lookup: f.lookup, Logger: quiet()})

	if got := c.ResolveName(context.Background(), "g3@g.us"); got != "g3@g.us" {
		t.Errorf("got %q", got)
	}
	c.ResolveName(context.Background(), "g3@g.us")
	if f.calls != 1 {
		t.Errorf("empty subject should be cached, calls = %d", f.calls)
	}
}

func TestResolveName_NoLookup(t *testing.T) {
	c := New(Config{Logger: quiet()})
	if got := c.ResolveName(context.Background(), "g4@g.us"); got != "g4@g.us" {
		t.Errorf("got %q", got)
	}
}

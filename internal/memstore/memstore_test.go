package memstore

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"

	"github.com/cordon-ai/cordon/internal/db"
)

func newStore(t *testing.T) *Store {
	t.Helper()
	sqldb, err := db.Open(filepath.Join(t.TempDir(), "mem.db"))
	if err != nil {
		t.Fatalf("db.Open: %v", err)
	}
	t.Cleanup(func() { sqldb.Close() })
	return New(sqldb)
}

func TestPutGetRoundTrip(t *testing.T) {
	t.Parallel()

	s := newStore(t)
	ctx := context.Background()

	if err := s.Put(ctx, "color", "blue", []string{"prefs"}); err != nil {
		t.Fatalf("Put: %v", err)
	}
	it, err := s.Get(ctx, "color")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if it.Value != "blue" || len(it.Tags) != 1 || it.Tags[0] != "prefs" {
		t.Fatalf("item = %+v", it)
	}

	// Upsert overwrites.
	if err := s.Put(ctx, "color", "green", nil); err != nil {
		t.Fatalf("Put: %v", err)
	}
	it, err = s.Get(ctx, "color")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if it.Value != "green" {
		t.Fatalf("Value = %q after upsert", it.Value)
	}
}

func TestGetMissingKey(t *testing.T) {
	t.Parallel()

	s := newStore(t)
	_, err := s.Get(context.Background(), "nope")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestSearchMatchesKeyAndValue(t *testing.T) {
	t.Parallel()

	s := newStore(t)
	ctx := context.Background()
	if err := s.Put(ctx, "project-goal", "ship the parser", nil); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if err := s.Put(ctx, "note", "remember the project deadline", nil); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if err := s.Put(ctx, "other", "unrelated", nil); err != nil {
		t.Fatalf("Put: %v", err)
	}

	items, err := s.Search(ctx, "project", 10)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(items) != 2 {
		t.Fatalf("len = %d, want 2", len(items))
	}
}

func TestSearchTruncatesLongValues(t *testing.T) {
	t.Parallel()

	s := newStore(t)
	ctx := context.Background()
	long := strings.Repeat("x", 500)
	if err := s.Put(ctx, "long", long, nil); err != nil {
		t.Fatalf("Put: %v", err)
	}
	items, err := s.Search(ctx, "long", 10)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(items) != 1 || len(items[0].Value) != 203 || !strings.HasSuffix(items[0].Value, "...") {
		t.Fatalf("value = %q (len %d)", items[0].Value, len(items[0].Value))
	}
}

func TestDelete(t *testing.T) {
	t.Parallel()

	s := newStore(t)
	ctx := context.Background()
	if err := s.Put(ctx, "gone", "soon", nil); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if err := s.Delete(ctx, "gone"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if err := s.Delete(ctx, "gone"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("second delete err = %v", err)
	}
}

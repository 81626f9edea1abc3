package liststore

import (
	"context"
	"path/filepath"
	"testing"
)

func openTestStore(t *testing.T) *SQLite {
	t.Helper()
	path := filepath.Join(t.TempDir(), "store.db")
	s, err := OpenSQLite(context.Background(), path)
	if err != nil {
		t.Fatalf("OpenSQLite error: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestSQLiteListRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	for i, item := range []string{"one", "two", "three"} {
		n, err := s.Append(ctx, "list", []byte(item))
		if err != nil {
			t.Fatalf("Append error: %v", err)
		}
		if n != i+1 {
			t.Fatalf("Append length = %d, want %d", n, i+1)
		}
	}

	items, err := s.Range(ctx, "list", 0, -1)
	if err != nil {
		t.Fatalf("Range error: %v", err)
	}
	if len(items) != 3 || string(items[0]) != "one" || string(items[2]) != "three" {
		t.Fatalf("Range = %q, want [one two three]", items)
	}

	got, err := s.Pop(ctx, "list")
	if err != nil {
		t.Fatalf("Pop error: %v", err)
	}
	if string(got) != "one" {
		t.Fatalf("Pop = %q, want one", got)
	}

	if err := s.Delete(ctx, "list"); err != nil {
		t.Fatalf("Delete error: %v", err)
	}
	n, err := s.Len(ctx, "list")
	if err != nil {
		t.Fatalf("Len error: %v", err)
	}
	if n != 0 {
		t.Fatalf("Len after Delete = %d, want 0", n)
	}
}

func TestSQLiteRemoveFirstMatch(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	for _, item := range []string{"a", "b", "a"} {
		if _, err := s.Append(ctx, "list", []byte(item)); err != nil {
			t.Fatalf("Append error: %v", err)
		}
	}

	if err := s.Remove(ctx, "list", []byte("a")); err != nil {
		t.Fatalf("Remove error: %v", err)
	}
	items, err := s.Range(ctx, "list", 0, -1)
	if err != nil {
		t.Fatalf("Range error: %v", err)
	}
	if len(items) != 2 || string(items[0]) != "b" || string(items[1]) != "a" {
		t.Fatalf("Range after Remove = %q, want [b a]", items)
	}

	if err := s.Remove(ctx, "list", []byte("missing")); err != nil {
		t.Fatalf("Remove of absent item error: %v", err)
	}
	n, err := s.Len(ctx, "list")
	if err != nil || n != 2 {
		t.Fatalf("Len after no-op remove = (%d, %v), want (2, nil)", n, err)
	}
}

func TestSQLiteSetNXFirstWriteWins(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	written, err := s.SetNX(ctx, "marker", "first")
	if err != nil || !written {
		t.Fatalf("first SetNX = (%v, %v), want (true, nil)", written, err)
	}
	written, err = s.SetNX(ctx, "marker", "second")
	if err != nil {
		t.Fatalf("second SetNX error: %v", err)
	}
	if written {
		t.Fatal("second SetNX reported written")
	}
	v, ok, err := s.Get(ctx, "marker")
	if err != nil || !ok {
		t.Fatalf("Get = (%q, %v, %v)", v, ok, err)
	}
	if v != "first" {
		t.Fatalf("value = %q, want first", v)
	}
}

func TestSQLitePersistsAcrossReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "store.db")

	s, err := OpenSQLite(ctx, path)
	if err != nil {
		t.Fatalf("OpenSQLite error: %v", err)
	}
	if _, err := s.Append(ctx, "list", []byte("survivor")); err != nil {
		t.Fatalf("Append error: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close error: %v", err)
	}

	s2, err := OpenSQLite(ctx, path)
	if err != nil {
		t.Fatalf("reopen error: %v", err)
	}
	defer s2.Close()
	got, err := s2.Pop(ctx, "list")
	if err != nil {
		t.Fatalf("Pop after reopen error: %v", err)
	}
	if string(got) != "survivor" {
		t.Fatalf("Pop after reopen = %q, want survivor", got)
	}
}

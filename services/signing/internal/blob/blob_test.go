package blob

import (
	"context"
	"errors"
	"testing"
)

func TestMemoryRoundtrip(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	handle, err := m.Put(ctx, []byte("pdf-bytes"), "original.pdf", "application/pdf")
	if err != nil {
		t.Fatalf("put: %v", err)
	}
	b, ct, err := ReadAll(ctx, m, handle)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if string(b) != "pdf-bytes" || ct != "application/pdf" {
		t.Fatalf("got %q %q", b, ct)
	}
}

func TestMemoryCopiesOnPut(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	src := []byte("abc")
	handle, err := m.Put(ctx, src, "x", "text/plain")
	if err != nil {
		t.Fatalf("put: %v", err)
	}
	src[0] = 'z'
	b, _, err := ReadAll(ctx, m, handle)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if string(b) != "abc" {
		t.Fatalf("stored bytes aliased caller buffer: %q", b)
	}
}

func TestOpenUnknownHandle(t *testing.T) {
	m := NewMemory()
	if _, _, err := m.Open(context.Background(), "doc_missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

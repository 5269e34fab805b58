package sqlite

import (
	"bytes"
	"context"
	"testing"
)

func TestStoreRoundTrip(t *testing.T) {
	store, err := New(":memory:")
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	defer store.Close()

	ctx := context.Background()
	if err := store.Set(ctx, "key", []byte("value")); err != nil {
		t.Fatalf("set failed: %v", err)
	}
	val, ok, err := store.Get(ctx, "key")
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if !ok || !bytes.Equal(val, []byte("value")) {
		t.Fatalf("unexpected value: %q (ok=%v)", val, ok)
	}
	if err := store.Set(ctx, "key", []byte("second")); err != nil {
		t.Fatalf("overwrite failed: %v", err)
	}
	val, ok, err = store.Get(ctx, "key")
	if err != nil || !ok {
		t.Fatalf("get after overwrite: ok=%v err=%v", ok, err)
	}
	if !bytes.Equal(val, []byte("second")) {
		t.Fatalf("expected overwritten value, got %q", val)
	}
	if err := store.Delete(ctx, "key"); err != nil {
		t.Fatalf("delete failed: %v", err)
	}
	_, ok, err = store.Get(ctx, "key")
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if ok {
		t.Fatalf("expected key to be deleted")
	}
}

func TestStoreBinaryValues(t *testing.T) {
	store, err := New(":memory:")
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	defer store.Close()

	ctx := context.Background()
	payload := []byte{0x00, 0xff, 0xc1, 0x00, 0x7f}
	if err := store.Set(ctx, "bin", payload); err != nil {
		t.Fatalf("set failed: %v", err)
	}
	val, ok, err := store.Get(ctx, "bin")
	if err != nil || !ok {
		t.Fatalf("get failed: ok=%v err=%v", ok, err)
	}
	if !bytes.Equal(val, payload) {
		t.Fatalf("binary payload mangled: %v", val)
	}
}

func TestStoreList(t *testing.T) {
	store, err := New(":memory:")
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	defer store.Close()

	ctx := context.Background()
	seed := map[string]string{
		"trade:a": "1",
		"trade:b": "2",
		"order:c": "3",
	}
	for key, val := range seed {
		if err := store.Set(ctx, key, []byte(val)); err != nil {
			t.Fatalf("set %s: %v", key, err)
		}
	}
	got, err := store.List(ctx, "trade:")
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(got))
	}
	if !bytes.Equal(got["trade:a"], []byte("1")) || !bytes.Equal(got["trade:b"], []byte("2")) {
		t.Fatalf("unexpected list contents: %v", got)
	}
	empty, err := store.List(ctx, "missing:")
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(empty) != 0 {
		t.Fatalf("expected empty result, got %v", empty)
	}
}

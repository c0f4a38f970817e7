package memory

import (
	"bytes"
	"context"
	"errors"
	"io"
	"testing"

	"hemoledger/internal/blob/core"
)

func TestStoreRoundTrip(t *testing.T) {
	store := New()
	ctx := context.Background()
	if store.Driver() != core.DriverMemory {
		t.Fatalf("expected memory driver, got %s", store.Driver())
	}

	info, err := store.Put(ctx, "exports/unit-3/a.json", bytes.NewReader([]byte(`{"ok":true}`)), core.PutOptions{
		ContentType: "application/json",
		Metadata:    map[string]string{"unit_id": "3"},
	})
	if err != nil {
		t.Fatalf("put: %v", err)
	}
	if info.Size != 11 || info.ContentType != "application/json" {
		t.Fatalf("unexpected info %+v", info)
	}
	if _, err := store.Put(ctx, "exports/unit-3/a.json", bytes.NewReader([]byte("x")), core.PutOptions{}); err == nil {
		t.Fatalf("expected duplicate put error")
	}

	got, rc, err := store.Get(ctx, "exports/unit-3/a.json")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	body, _ := io.ReadAll(rc)
	_ = rc.Close()
	if string(body) != `{"ok":true}` || got.Metadata["unit_id"] != "3" {
		t.Fatalf("unexpected get body=%q info=%+v", body, got)
	}

	head, err := store.Head(ctx, "exports/unit-3/a.json")
	if err != nil || head.Size != 11 {
		t.Fatalf("head: %v %+v", err, head)
	}
}

func TestStoreMissingKeys(t *testing.T) {
	store := New()
	ctx := context.Background()
	if _, err := store.Head(ctx, "missing"); err == nil {
		t.Fatalf("expected head error")
	}
	if _, _, err := store.Get(ctx, "missing"); err == nil {
		t.Fatalf("expected get error")
	}
	if ok, err := store.Delete(ctx, "missing"); err != nil || ok {
		t.Fatalf("expected delete false, got ok=%v err=%v", ok, err)
	}
}

func TestStoreListPrefixAndOrder(t *testing.T) {
	store := New()
	ctx := context.Background()
	for _, key := range []string{"b/2", "a/1", "b/1"} {
		if _, err := store.Put(ctx, key, bytes.NewReader([]byte("x")), core.PutOptions{}); err != nil {
			t.Fatalf("put %s: %v", key, err)
		}
	}
	all, err := store.List(ctx, "")
	if err != nil || len(all) != 3 {
		t.Fatalf("list all: %v %d", err, len(all))
	}
	if all[0].Key != "a/1" || all[2].Key != "b/2" {
		t.Fatalf("expected ascending keys, got %+v", all)
	}
	scoped, err := store.List(ctx, "b/")
	if err != nil || len(scoped) != 2 {
		t.Fatalf("list prefix: %v %+v", err, scoped)
	}
}

func TestStoreIsolatesStoredBytes(t *testing.T) {
	store := New()
	ctx := context.Background()
	payload := []byte("original")
	if _, err := store.Put(ctx, "k", bytes.NewReader(payload), core.PutOptions{}); err != nil {
		t.Fatalf("put: %v", err)
	}
	_, rc, err := store.Get(ctx, "k")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	first, _ := io.ReadAll(rc)
	_ = rc.Close()
	first[0] = 'X'
	_, rc, err = store.Get(ctx, "k")
	if err != nil {
		t.Fatalf("second get: %v", err)
	}
	second, _ := io.ReadAll(rc)
	_ = rc.Close()
	if string(second) != "original" {
		t.Fatalf("stored bytes mutated: %q", second)
	}
}

type failingReader struct{}

func (failingReader) Read([]byte) (int, error) { return 0, errors.New("fail") }

func TestStorePutReadError(t *testing.T) {
	store := New()
	if _, err := store.Put(context.Background(), "bad", failingReader{}, core.PutOptions{}); err == nil {
		t.Fatalf("expected read error")
	}
}

func TestStorePresignUnsupported(t *testing.T) {
	store := New()
	if _, err := store.PresignURL(context.Background(), "k", core.SignedURLOptions{}); !errors.Is(err, core.ErrUnsupported) {
		t.Fatalf("expected ErrUnsupported, got %v", err)
	}
}

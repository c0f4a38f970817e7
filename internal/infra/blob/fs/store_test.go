package fs

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"testing"

	"hemoledger/internal/blob/core"
)

func newTempStore(t *testing.T) *Store {
	t.Helper()
	store, err := New(t.TempDir())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return store
}

func TestStorePutGetHeadListDelete(t *testing.T) {
	ctx := context.Background()
	store := newTempStore(t)

	info, err := store.Put(ctx, "exports/unit-7/report.json", bytes.NewReader([]byte(`{"unit":7}`)), core.PutOptions{
		ContentType: "application/json",
		Metadata:    map[string]string{"unit_id": "7"},
	})
	if err != nil {
		t.Fatalf("put: %v", err)
	}
	if info.Key != "exports/unit-7/report.json" || info.Size != 10 {
		t.Fatalf("unexpected info %+v", info)
	}
	if info.ETag == "" {
		t.Fatalf("expected checksum etag")
	}

	if _, err := store.Put(ctx, "exports/unit-7/report.json", bytes.NewReader([]byte("x")), core.PutOptions{}); err == nil {
		t.Fatalf("expected duplicate put to fail")
	}

	head, err := store.Head(ctx, "exports/unit-7/report.json")
	if err != nil {
		t.Fatalf("head: %v", err)
	}
	got, rc, err := store.Get(ctx, "exports/unit-7/report.json")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	body, _ := io.ReadAll(rc)
	if err := rc.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if string(body) != `{"unit":7}` || got.ETag != head.ETag {
		t.Fatalf("unexpected get result body=%q etag=%q/%q", body, got.ETag, head.ETag)
	}
	if got.Metadata["unit_id"] != "7" {
		t.Fatalf("metadata lost: %+v", got.Metadata)
	}

	list, err := store.List(ctx, "exports/")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(list) != 1 || list[0].Key != "exports/unit-7/report.json" {
		t.Fatalf("unexpected list %+v", list)
	}

	ok, err := store.Delete(ctx, "exports/unit-7/report.json")
	if err != nil || !ok {
		t.Fatalf("delete: ok=%v err=%v", ok, err)
	}
	ok, err = store.Delete(ctx, "exports/unit-7/report.json")
	if err != nil || ok {
		t.Fatalf("second delete should report false, got ok=%v err=%v", ok, err)
	}
}

func TestStoreRejectsEscapingKeys(t *testing.T) {
	ctx := context.Background()
	store := newTempStore(t)
	for _, key := range []string{"", "../escape.txt", "/abs.txt", "a/../../b"} {
		if _, err := store.Put(ctx, key, bytes.NewReader([]byte("x")), core.PutOptions{}); err == nil {
			t.Fatalf("expected rejection for key %q", key)
		}
	}
}

func TestStoreSidecarPersistence(t *testing.T) {
	ctx := context.Background()
	store := newTempStore(t)
	if _, err := store.Put(ctx, "meta/data.bin", bytes.NewReader([]byte("abc")), core.PutOptions{ContentType: "application/octet-stream"}); err != nil {
		t.Fatalf("put: %v", err)
	}
	dataPath, metaPath, err := store.resolve("meta/data.bin")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if _, err := os.Stat(dataPath); err != nil {
		t.Fatalf("data file missing: %v", err)
	}
	raw, err := os.ReadFile(metaPath)
	if err != nil {
		t.Fatalf("read sidecar: %v", err)
	}
	if !bytes.Contains(raw, []byte("application/octet-stream")) {
		t.Fatalf("sidecar missing content type: %s", raw)
	}
	if filepath.Ext(metaPath) != ".meta" {
		t.Fatalf("unexpected sidecar path %s", metaPath)
	}
}

type errorReader struct{}

func (errorReader) Read([]byte) (int, error) { return 0, errors.New("boom") }

func TestStorePutReaderFailure(t *testing.T) {
	store := newTempStore(t)
	if _, err := store.Put(context.Background(), "bad.bin", errorReader{}, core.PutOptions{}); err == nil {
		t.Fatalf("expected copy error")
	}
	// The failed write must not leave the key behind.
	if _, err := store.Head(context.Background(), "bad.bin"); err == nil {
		t.Fatalf("expected missing key after failed put")
	}
}

func TestStoreGetMissingSidecar(t *testing.T) {
	ctx := context.Background()
	store := newTempStore(t)
	if _, err := store.Put(ctx, "folder/keep.txt", bytes.NewReader([]byte("data")), core.PutOptions{}); err != nil {
		t.Fatalf("put: %v", err)
	}
	_, metaPath, _ := store.resolve("folder/keep.txt")
	if err := os.Remove(metaPath); err != nil {
		t.Fatalf("remove sidecar: %v", err)
	}
	if _, _, err := store.Get(ctx, "folder/keep.txt"); err == nil {
		t.Fatalf("expected get error without sidecar")
	}
	if _, err := store.Head(ctx, "folder/keep.txt"); err == nil {
		t.Fatalf("expected head error without sidecar")
	}
}

func TestStoreListOrderingAndPrefix(t *testing.T) {
	ctx := context.Background()
	store := newTempStore(t)
	for i := 2; i >= 0; i-- {
		key := "exports/unit-1/" + strconv.Itoa(i) + ".json"
		if _, err := store.Put(ctx, key, bytes.NewReader([]byte("{}")), core.PutOptions{}); err != nil {
			t.Fatalf("put %s: %v", key, err)
		}
	}
	if _, err := store.Put(ctx, "other/x.json", bytes.NewReader([]byte("{}")), core.PutOptions{}); err != nil {
		t.Fatalf("put other: %v", err)
	}
	list, err := store.List(ctx, "exports/unit-1/")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(list) != 3 {
		t.Fatalf("expected 3 keys, got %+v", list)
	}
	for i := 1; i < len(list); i++ {
		if list[i-1].Key >= list[i].Key {
			t.Fatalf("keys not ascending: %+v", list)
		}
	}
}

func TestStoreListCorruptSidecar(t *testing.T) {
	dir := t.TempDir()
	store, err := New(dir)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "bad.txt"), []byte("data"), 0o644); err != nil {
		t.Fatalf("write data: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "bad.txt.meta"), []byte("{"), 0o644); err != nil {
		t.Fatalf("write sidecar: %v", err)
	}
	if _, err := store.List(context.Background(), ""); err == nil {
		t.Fatalf("expected list error on corrupt sidecar")
	}
}

func TestStorePresignURL(t *testing.T) {
	ctx := context.Background()
	store := newTempStore(t)
	url, err := store.PresignURL(ctx, "exports/a.json", core.SignedURLOptions{})
	if err != nil || url != "http://blob.local/exports/a.json" {
		t.Fatalf("presign: %v %s", err, url)
	}
	if _, err := store.PresignURL(ctx, "exports/a.json", core.SignedURLOptions{Method: "get"}); err != nil {
		t.Fatalf("lowercase get should be accepted: %v", err)
	}
	if _, err := store.PresignURL(ctx, "exports/a.json", core.SignedURLOptions{Method: "PUT"}); !errors.Is(err, core.ErrUnsupported) {
		t.Fatalf("expected unsupported for PUT, got %v", err)
	}
}

func TestNewRejectsFileRoot(t *testing.T) {
	dir := t.TempDir()
	filePath := filepath.Join(dir, "occupied")
	if err := os.WriteFile(filePath, []byte("x"), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := New(filePath); err == nil {
		t.Fatalf("expected error when root is a regular file")
	}
}

func TestStoreTimestampsUTC(t *testing.T) {
	ctx := context.Background()
	store := newTempStore(t)
	info, err := store.Put(ctx, "time/probe", bytes.NewReader([]byte("abc")), core.PutOptions{})
	if err != nil {
		t.Fatalf("put: %v", err)
	}
	if !info.LastModified.Equal(info.LastModified.UTC()) {
		t.Fatalf("expected UTC timestamp, got %v", info.LastModified)
	}
}

func TestCloneMetadataIsolation(t *testing.T) {
	if cloneMetadata(nil) != nil {
		t.Fatalf("expected nil pass-through")
	}
	src := map[string]string{"a": "1"}
	cp := cloneMetadata(src)
	src["a"] = "2"
	if cp["a"] != "1" {
		t.Fatalf("expected isolated copy, got %v", cp)
	}
}

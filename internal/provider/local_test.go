package provider

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func newLocal(t *testing.T) *Local {
	t.Helper()
	local, err := NewLocal(LocalConfig{
		Root:    t.TempDir(),
		BaseURL: "/media",
	})
	if err != nil {
		t.Fatalf("new local: %v", err)
	}
	return local
}

func TestLocalPutOpenDelete(t *testing.T) {
	local := newLocal(t)
	ctx := context.Background()

	written, err := local.Put(ctx, "album-1/m1-beach.jpg", strings.NewReader("image bytes"))
	if err != nil {
		t.Fatalf("put: %v", err)
	}
	if written != int64(len("image bytes")) {
		t.Fatalf("expected %d bytes written, got %d", len("image bytes"), written)
	}

	reader, err := local.Open("album-1/m1-beach.jpg")
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	data, err := io.ReadAll(reader)
	reader.Close()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if string(data) != "image bytes" {
		t.Fatalf("unexpected content %q", data)
	}

	if err := local.Delete(ctx, "album-1/m1-beach.jpg"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := local.Open("album-1/m1-beach.jpg"); err == nil {
		t.Fatal("expected object to be gone")
	}
}

func TestLocalDeleteAbsentIsSuccess(t *testing.T) {
	local := newLocal(t)
	if err := local.Delete(context.Background(), "album-1/never-existed.jpg"); err != nil {
		t.Fatalf("expected idempotent delete, got %v", err)
	}
}

func TestLocalRejectsTraversalKeys(t *testing.T) {
	local := newLocal(t)
	ctx := context.Background()
	for _, key := range []string{"", "/abs/path.jpg", "../escape.jpg", "a/../../b.jpg", `win\path.jpg`} {
		if _, err := local.Put(ctx, key, strings.NewReader("x")); err == nil {
			t.Fatalf("expected rejection for key %q", key)
		}
		if err := local.Delete(ctx, key); err == nil {
			t.Fatalf("expected delete rejection for key %q", key)
		}
	}
}

func TestLocalPutEnforcesSizeLimit(t *testing.T) {
	local, err := NewLocal(LocalConfig{Root: t.TempDir(), MaxBytes: 8})
	if err != nil {
		t.Fatalf("new local: %v", err)
	}
	if _, err := local.Put(context.Background(), "a/b.jpg", strings.NewReader("more than eight bytes")); err == nil {
		t.Fatal("expected size limit error")
	}
	// No partial object may remain.
	if _, err := local.Open("a/b.jpg"); err == nil {
		t.Fatal("expected no object after failed put")
	}
}

func TestLocalPutLeavesNoTempFiles(t *testing.T) {
	root := t.TempDir()
	local, err := NewLocal(LocalConfig{Root: root})
	if err != nil {
		t.Fatalf("new local: %v", err)
	}
	if _, err := local.Put(context.Background(), "album/x.jpg", strings.NewReader("data")); err != nil {
		t.Fatalf("put: %v", err)
	}
	entries, err := os.ReadDir(filepath.Join(root, "album"))
	if err != nil {
		t.Fatalf("read dir: %v", err)
	}
	if len(entries) != 1 || entries[0].Name() != "x.jpg" {
		t.Fatalf("expected only the final object, got %v", entries)
	}
}

func TestLocalURLsAndTarget(t *testing.T) {
	local := newLocal(t)
	if got := local.DownloadURL("album/x.jpg"); got != "/media/album/x.jpg" {
		t.Fatalf("unexpected download url %q", got)
	}
	target, err := local.UploadTarget(context.Background(), "album/x.jpg", "image/jpeg", 100)
	if err != nil {
		t.Fatalf("upload target: %v", err)
	}
	if target.Method != "PUT" || !strings.Contains(target.URL, "key=album/x.jpg") {
		t.Fatalf("unexpected target %+v", target)
	}
	if target.Headers["Content-Type"] != "image/jpeg" {
		t.Fatalf("expected content type header, got %v", target.Headers)
	}
}

package mirror

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"testing"
)

type memBucket struct {
	mu      sync.Mutex
	objects map[string]string
	fails   int
}

func (b *memBucket) Put(_ context.Context, key string, body io.Reader) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.fails > 0 {
		b.fails--
		return errors.New("unavailable")
	}
	data, err := io.ReadAll(body)
	if err != nil {
		return err
	}
	if b.objects == nil {
		b.objects = map[string]string{}
	}
	b.objects[key] = string(data)
	return nil
}

func writeFile(t *testing.T, path, body string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestUploadDirKeysByRelativePath(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "archive", "season_001", "meta.json"), "{}")
	writeFile(t, filepath.Join(dir, "archive", "season_001", "snapshot.snap.zst"), "snap")

	dst := &memBucket{}
	m := New(dst, dir, "/prod/", nil)
	if err := m.UploadDir(context.Background(), filepath.Join(dir, "archive", "season_001")); err != nil {
		t.Fatalf("UploadDir: %v", err)
	}
	var keys []string
	for k := range dst.objects {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	want := []string{"prod/archive/season_001/meta.json", "prod/archive/season_001/snapshot.snap.zst"}
	if len(keys) != 2 || keys[0] != want[0] || keys[1] != want[1] {
		t.Fatalf("keys=%v want %v", keys, want)
	}
	if dst.objects[want[1]] != "snap" {
		t.Fatalf("body=%q", dst.objects[want[1]])
	}
	if s := m.Stats(); s.Uploaded != 2 || s.Failed != 0 {
		t.Fatalf("stats=%+v", s)
	}
}

func TestUploadRetries(t *testing.T) {
	dir := t.TempDir()
	f := filepath.Join(dir, "a.txt")
	writeFile(t, f, "a")

	dst := &memBucket{fails: 2}
	m := New(dst, dir, "", nil)
	m.backoff = 0
	if err := m.Upload(context.Background(), f); err != nil {
		t.Fatalf("Upload: %v", err)
	}
	if dst.objects["a.txt"] != "a" {
		t.Fatalf("objects=%v", dst.objects)
	}

	dst.fails = 10
	if err := m.Upload(context.Background(), f); err == nil {
		t.Fatalf("expected failure after retries")
	}
	if s := m.Stats(); s.Uploaded != 1 || s.Failed != 1 {
		t.Fatalf("stats=%+v", s)
	}
}

func TestObjectKeyOutsideDataDir(t *testing.T) {
	m := New(&memBucket{}, t.TempDir(), "", nil)
	if _, err := m.ObjectKey(filepath.Join(os.TempDir(), "elsewhere", "x")); err == nil {
		t.Fatalf("expected error for path outside data dir")
	}
}

func TestNilMirrorIsNoop(t *testing.T) {
	var m *Mirror
	if err := m.Upload(context.Background(), "whatever"); err != nil {
		t.Fatalf("nil mirror: %v", err)
	}
}

package resumecache

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestHashURLConsistency(t *testing.T) {
	url := "http://example.com/stream.mp3"

	if hashURL(url) != hashURL(url) {
		t.Errorf("hashURL is not consistent")
	}
}

func TestHashURLUniqueness(t *testing.T) {
	h1 := hashURL("http://example.com/a.mp3")
	h2 := hashURL("http://example.com/b.mp3")

	if h1 == h2 {
		t.Errorf("different URLs produced the same hash: %q", h1)
	}
}

func newTestCache(t *testing.T) *Cache {
	t.Helper()
	return &Cache{baseDir: t.TempDir(), expiry: time.Hour}
}

func TestSaveAndGet(t *testing.T) {
	c := newTestCache(t)

	if err := c.Save("http://example.com/stream.mp3", 42.5); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	seek, ok := c.Get("http://example.com/stream.mp3")
	if !ok {
		t.Fatal("Get() ok = false, want true")
	}
	if seek != 42.5 {
		t.Errorf("Get() seekTime = %v, want 42.5", seek)
	}
}

func TestGetMissing(t *testing.T) {
	c := newTestCache(t)

	if _, ok := c.Get("http://example.com/missing.mp3"); ok {
		t.Error("Get() ok = true for missing entry, want false")
	}
}

func TestGetExpired(t *testing.T) {
	c := newTestCache(t)
	c.expiry = time.Millisecond

	if err := c.Save("http://example.com/stream.mp3", 10); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	path := c.entryPath("http://example.com/stream.mp3")
	old := time.Now().Add(-time.Hour)
	if err := os.Chtimes(path, old, old); err != nil {
		t.Fatalf("Chtimes() error = %v", err)
	}

	if _, ok := c.Get("http://example.com/stream.mp3"); ok {
		t.Error("Get() ok = true for expired entry, want false")
	}
}

func TestForget(t *testing.T) {
	c := newTestCache(t)

	if err := c.Save("http://example.com/stream.mp3", 10); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	c.Forget("http://example.com/stream.mp3")

	if _, ok := c.Get("http://example.com/stream.mp3"); ok {
		t.Error("Get() ok = true after Forget(), want false")
	}
}

func TestForgetMissingIsNoop(t *testing.T) {
	c := newTestCache(t)
	c.Forget("http://example.com/never-saved.mp3")
}

func TestCleanExpired(t *testing.T) {
	c := newTestCache(t)
	c.expiry = time.Hour

	if err := c.Save("http://example.com/fresh.mp3", 1); err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	if err := c.Save("http://example.com/stale.mp3", 2); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	stalePath := c.entryPath("http://example.com/stale.mp3")
	old := time.Now().Add(-2 * time.Hour)
	if err := os.Chtimes(stalePath, old, old); err != nil {
		t.Fatalf("Chtimes() error = %v", err)
	}

	if err := c.CleanExpired(); err != nil {
		t.Fatalf("CleanExpired() error = %v", err)
	}

	if _, err := os.Stat(stalePath); !os.IsNotExist(err) {
		t.Error("stale entry was not removed")
	}
	if _, ok := c.Get("http://example.com/fresh.mp3"); !ok {
		t.Error("fresh entry was removed")
	}
}

func TestCleanExpiredMissingDir(t *testing.T) {
	c := &Cache{baseDir: filepath.Join(t.TempDir(), "does-not-exist"), expiry: time.Hour}

	if err := c.CleanExpired(); err != nil {
		t.Errorf("CleanExpired() error = %v, want nil for missing dir", err)
	}
}

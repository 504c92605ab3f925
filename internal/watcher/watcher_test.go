package watcher

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"
)

type eventLog struct {
	mu       sync.Mutex
	ingested []string
	deleted  []string
}

func (l *eventLog) onIngest(path string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.ingested = append(l.ingested, path)
}

func (l *eventLog) onDelete(path string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.deleted = append(l.deleted, path)
}

func (l *eventLog) waitIngested(t *testing.T, path string, timeout time.Duration) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		l.mu.Lock()
		for _, p := range l.ingested {
			if p == path {
				l.mu.Unlock()
				return
			}
		}
		l.mu.Unlock()
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatalf("file %s was not ingested within %v", path, timeout)
}

func (l *eventLog) waitDeleted(t *testing.T, path string, timeout time.Duration) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		l.mu.Lock()
		for _, p := range l.deleted {
			if p == path {
				l.mu.Unlock()
				return
			}
		}
		l.mu.Unlock()
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatalf("file %s was not deleted within %v", path, timeout)
}

func TestWatcherIngestOnWrite(t *testing.T) {
	dir := t.TempDir()
	log := &eventLog{}

	w := NewWatcher([]string{dir}, true, log.onIngest, log.onDelete,
		WithDebounce(50*time.Millisecond))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := w.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer w.Stop()

	path := filepath.Join(dir, "pricing.md")
	if err := os.WriteFile(path, []byte("# Pricing\n"), 0600); err != nil {
		t.Fatal(err)
	}
	log.waitIngested(t, path, 3*time.Second)
}

func TestWatcherDeleteOnRemove(t *testing.T) {
	dir := t.TempDir()
	log := &eventLog{}

	w := NewWatcher([]string{dir}, true, log.onIngest, log.onDelete,
		WithDebounce(50*time.Millisecond))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := w.Start(ctx); err != nil {
		t.Fatal(err)
	}
	defer w.Stop()

	path := filepath.Join(dir, "notes.txt")
	if err := os.WriteFile(path, []byte("notes"), 0600); err != nil {
		t.Fatal(err)
	}
	log.waitIngested(t, path, 3*time.Second)

	if err := os.Remove(path); err != nil {
		t.Fatal(err)
	}
	log.waitDeleted(t, path, 3*time.Second)
}

func TestWatcherIgnoresUnsupportedExtensions(t *testing.T) {
	dir := t.TempDir()
	log := &eventLog{}

	w := NewWatcher([]string{dir}, true, log.onIngest, log.onDelete,
		WithDebounce(50*time.Millisecond))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := w.Start(ctx); err != nil {
		t.Fatal(err)
	}
	defer w.Stop()

	binary := filepath.Join(dir, "tool.exe")
	document := filepath.Join(dir, "doc.md")
	if err := os.WriteFile(binary, []byte{0x4d, 0x5a}, 0600); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(document, []byte("# Doc\n"), 0600); err != nil {
		t.Fatal(err)
	}
	log.waitIngested(t, document, 3*time.Second)

	log.mu.Lock()
	defer log.mu.Unlock()
	for _, p := range log.ingested {
		if p == binary {
			t.Error("unsupported file was ingested")
		}
	}
}

func TestWatcherCustomExtensions(t *testing.T) {
	dir := t.TempDir()
	log := &eventLog{}

	w := NewWatcher([]string{dir}, true, log.onIngest, log.onDelete,
		WithDebounce(50*time.Millisecond), WithExtensions([]string{".log"}))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := w.Start(ctx); err != nil {
		t.Fatal(err)
	}
	defer w.Stop()

	path := filepath.Join(dir, "app.log")
	if err := os.WriteFile(path, []byte("line"), 0600); err != nil {
		t.Fatal(err)
	}
	log.waitIngested(t, path, 3*time.Second)
}

func TestWatcherAddRemoveDirectory(t *testing.T) {
	first := t.TempDir()
	second := t.TempDir()
	log := &eventLog{}

	w := NewWatcher([]string{first}, true, log.onIngest, log.onDelete,
		WithDebounce(50*time.Millisecond))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := w.Start(ctx); err != nil {
		t.Fatal(err)
	}
	defer w.Stop()

	if err := w.AddDirectory(second, false); err != nil {
		t.Fatalf("AddDirectory: %v", err)
	}
	if len(w.Directories()) != 2 {
		t.Errorf("directories = %v", w.Directories())
	}

	path := filepath.Join(second, "added.md")
	if err := os.WriteFile(path, []byte("# Added\n"), 0600); err != nil {
		t.Fatal(err)
	}
	log.waitIngested(t, path, 3*time.Second)

	if err := w.RemoveDirectory(second); err != nil {
		t.Fatalf("RemoveDirectory: %v", err)
	}
	if len(w.Directories()) != 1 {
		t.Errorf("directories after remove = %v", w.Directories())
	}
}

func TestWatcherSyncExistingFiles(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "existing.md")
	if err := os.WriteFile(path, []byte("# Existing\n"), 0600); err != nil {
		t.Fatal(err)
	}

	log := &eventLog{}
	w := NewWatcher([]string{dir}, true, log.onIngest, log.onDelete,
		WithDebounce(50*time.Millisecond))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := w.Start(ctx); err != nil {
		t.Fatal(err)
	}
	defer w.Stop()

	w.SyncExistingFiles()
	log.waitIngested(t, path, 3*time.Second)
}

func TestWatcherCreatesMissingRoot(t *testing.T) {
	root := filepath.Join(t.TempDir(), "not-yet")
	log := &eventLog{}

	w := NewWatcher([]string{root}, true, log.onIngest, log.onDelete)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := w.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer w.Stop()

	if _, err := os.Stat(root); err != nil {
		t.Errorf("root was not created: %v", err)
	}
}

//go:build !windows

package watchdrive

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/devwatch/devwatch/internal/runner"
)

type nullReporter struct{}

func (nullReporter) Verbose(string) {}
func (nullReporter) Output(string)  {}
func (nullReporter) Warn(string)    {}
func (nullReporter) Error(string)   {}

func TestDebouncerCoalesces(t *testing.T) {
	var fired int32
	var mu sync.Mutex
	var lastPath string

	d := newDebouncer(50*time.Millisecond, func(path string) {
		atomic.AddInt32(&fired, 1)
		mu.Lock()
		lastPath = path
		mu.Unlock()
	})
	defer d.stop()

	for i := 0; i < 10; i++ {
		d.trigger("file-" + string(rune('a'+i)))
		time.Sleep(time.Millisecond)
	}

	time.Sleep(200 * time.Millisecond)

	if got := atomic.LoadInt32(&fired); got != 1 {
		t.Errorf("callback fired %d times, want 1", got)
	}
	mu.Lock()
	defer mu.Unlock()
	if lastPath != "file-j" {
		t.Errorf("lastPath = %q, want file-j", lastPath)
	}
}

func TestDebouncerStopCancelsPending(t *testing.T) {
	var fired int32
	d := newDebouncer(30*time.Millisecond, func(string) {
		atomic.AddInt32(&fired, 1)
	})

	d.trigger("x")
	d.stop()
	time.Sleep(100 * time.Millisecond)

	if got := atomic.LoadInt32(&fired); got != 0 {
		t.Errorf("callback fired %d times after stop, want 0", got)
	}
}

func TestAddRecursiveSkipsBuildOutput(t *testing.T) {
	root := t.TempDir()
	for _, sub := range []string{"src", "src/nested", "bin", "obj", ".git"} {
		if err := os.MkdirAll(filepath.Join(root, sub), 0o755); err != nil {
			t.Fatal(err)
		}
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		t.Fatal(err)
	}
	defer watcher.Close()

	if err := addRecursive(watcher, root); err != nil {
		t.Fatalf("addRecursive: %v", err)
	}

	got := make(map[string]bool)
	for _, w := range watcher.WatchList() {
		rel, _ := filepath.Rel(root, w)
		got[rel] = true
	}

	for _, want := range []string{".", "src", filepath.Join("src", "nested")} {
		if !got[want] {
			t.Errorf("expected %s to be watched; watch list: %v", want, got)
		}
	}
	for _, skip := range []string{"bin", "obj", ".git"} {
		if got[skip] {
			t.Errorf("%s should be skipped; watch list: %v", skip, got)
		}
	}
}

func TestRunRestartsOnFileChange(t *testing.T) {
	root := t.TempDir()

	var mu sync.Mutex
	var cycles []int
	opts := Options{
		Root:      root,
		Debounce:  50 * time.Millisecond,
		KillGrace: time.Second,
		NewSpec: func() *runner.ProcessSpec {
			return &runner.ProcessSpec{Path: "sh", Args: []string{"-c", "exec sleep 30"}}
		},
		Cycle: func(_ context.Context, cycle int, _ *runner.ProcessSpec) {
			mu.Lock()
			cycles = append(cycles, cycle)
			mu.Unlock()
		},
		Reporter: nullReporter{},
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- Run(ctx, opts) }()

	// Give the watcher time to settle, then touch a file.
	time.Sleep(200 * time.Millisecond)
	if err := os.WriteFile(filepath.Join(root, "main.go"), []byte("package main\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	deadline := time.Now().Add(5 * time.Second)
	for {
		mu.Lock()
		n := len(cycles)
		mu.Unlock()
		if n >= 2 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("restart cycle never happened; cycles = %v", cycles)
		}
		time.Sleep(20 * time.Millisecond)
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run returned %v, want nil on cancellation", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancellation")
	}

	mu.Lock()
	defer mu.Unlock()
	if cycles[0] != 0 || cycles[1] != 1 {
		t.Errorf("cycles = %v, want [0 1 ...]", cycles)
	}
}

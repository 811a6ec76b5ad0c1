// Package watchdrive runs the rebuild loop: it watches the project tree,
// restarts the child process on changes, and invokes the per-cycle hook that
// the browser-refresh orchestrator hangs off.
package watchdrive

import (
	"context"
	"fmt"
	"io/fs"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/devwatch/devwatch/internal/report"
	"github.com/devwatch/devwatch/internal/runner"
)

// CycleFunc is invoked once per watch cycle with the cycle ordinal and the
// process spec about to be started. Cycle 0 is the first launch; higher
// ordinals are rebuild iterations.
type CycleFunc func(ctx context.Context, cycle int, spec *runner.ProcessSpec)

// Options configures the watch loop.
type Options struct {
	// Root is the directory tree to watch recursively.
	Root string
	// Debounce is the quiet period before a change triggers a restart.
	Debounce time.Duration
	// KillGrace is how long a child gets to exit before being killed.
	KillGrace time.Duration
	// ShouldWatch filters file paths; nil watches every file.
	ShouldWatch func(path string) bool
	// NewSpec builds a fresh process spec for each cycle.
	NewSpec func() *runner.ProcessSpec
	// Cycle runs before each cycle's process starts.
	Cycle CycleFunc
	// Reporter receives user-facing status messages.
	Reporter report.Reporter
}

// Run drives the watch loop until ctx is cancelled. Failure to start the
// very first child is fatal; restart failures on later cycles are reported
// and the loop keeps watching so the next change can retry.
func Run(ctx context.Context, opts Options) error {
	if opts.Debounce <= 0 {
		opts.Debounce = 500 * time.Millisecond
	}
	if opts.KillGrace <= 0 {
		opts.KillGrace = 5 * time.Second
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("creating watcher: %w", err)
	}
	defer watcher.Close()

	if err := addRecursive(watcher, opts.Root); err != nil {
		return fmt.Errorf("watching %s: %w", opts.Root, err)
	}

	restart := make(chan string, 1)
	deb := newDebouncer(opts.Debounce, func(path string) {
		select {
		case restart <- path:
		default:
		}
	})
	defer deb.stop()

	cycle := 0
	proc, err := startCycle(ctx, opts, cycle)
	if err != nil {
		return fmt.Errorf("starting %s: %w", opts.Root, err)
	}

	opts.Reporter.Output("watching " + opts.Root)

	for {
		select {
		case <-ctx.Done():
			if proc != nil {
				proc.Terminate(opts.KillGrace)
			}
			return nil

		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if ev.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Rename|fsnotify.Remove) == 0 {
				continue
			}
			// Newly created directories join the watch set.
			if ev.Op&fsnotify.Create != 0 {
				if info, statErr := os.Stat(ev.Name); statErr == nil && info.IsDir() {
					if addErr := addRecursive(watcher, ev.Name); addErr != nil {
						log.Printf("watching new directory %s: %v", ev.Name, addErr)
					}
					continue
				}
			}
			if opts.ShouldWatch != nil && !opts.ShouldWatch(ev.Name) {
				continue
			}
			deb.trigger(ev.Name)

		case watchErr, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			log.Printf("watch error: %v", watchErr)

		case path := <-restart:
			opts.Reporter.Output("file changed: " + path + ", restarting")
			if proc != nil {
				proc.Terminate(opts.KillGrace)
				proc.Wait()
			}
			cycle++
			p, startErr := startCycle(ctx, opts, cycle)
			if startErr != nil {
				opts.Reporter.Error("restart failed: " + startErr.Error())
				proc = nil
				continue
			}
			proc = p
		}
	}
}

func startCycle(ctx context.Context, opts Options, cycle int) (*runner.Process, error) {
	spec := opts.NewSpec()
	if opts.Cycle != nil {
		opts.Cycle(ctx, cycle, spec)
	}
	return runner.Start(ctx, spec)
}

// addRecursive watches dir and all its subdirectories, skipping hidden
// trees and common build output.
func addRecursive(watcher *fsnotify.Watcher, dir string) error {
	return filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		name := d.Name()
		if path != dir && (strings.HasPrefix(name, ".") || name == "bin" || name == "obj" || name == "node_modules") {
			return filepath.SkipDir
		}
		return watcher.Add(path)
	})
}

package watchdrive

import (
	"sync"
	"time"
)

// debouncer coalesces rapid file events into a single callback: only after
// a quiet period of the configured interval does the callback fire, with the
// path of the last event seen.
type debouncer struct {
	interval time.Duration
	callback func(path string)

	mu       sync.Mutex
	timer    *time.Timer
	lastPath string
}

func newDebouncer(interval time.Duration, callback func(path string)) *debouncer {
	return &debouncer{
		interval: interval,
		callback: callback,
	}
}

func (d *debouncer) trigger(path string) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.lastPath = path

	if d.timer != nil {
		d.timer.Stop()
	}
	d.timer = time.AfterFunc(d.interval, func() {
		d.mu.Lock()
		p := d.lastPath
		d.mu.Unlock()
		d.callback(p)
	})
}

func (d *debouncer) stop() {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
}

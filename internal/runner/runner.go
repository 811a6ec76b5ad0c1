// Package runner starts and supervises the watched child process, turning
// its console output into line events.
package runner

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"os/exec"
	"runtime"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/shirou/gopsutil/v3/process"
)

// ProcessSpec describes one child process launch. The watch driver builds a
// fresh spec for every cycle; Env and output subscriptions must be in place
// before Start.
type ProcessSpec struct {
	Path string
	Args []string
	Dir  string
	// Env is merged over the parent environment.
	Env map[string]string
	// Stdout, when set, receives a copy of every output line.
	Stdout io.Writer

	mu       sync.Mutex
	handlers []func(OutputLine)
}

// OnOutput registers fn to receive the child's output lines. Handlers run
// on the background reader goroutine, not on the caller's.
func (s *ProcessSpec) OnOutput(fn func(OutputLine)) {
	s.mu.Lock()
	s.handlers = append(s.handlers, fn)
	s.mu.Unlock()
}

func (s *ProcessSpec) outputHandlers() []func(OutputLine) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]func(OutputLine){}, s.handlers...)
}

// ProcessHandle lets an output handler stop further line delivery from the
// process that produced a line.
type ProcessHandle interface {
	CancelOutput()
}

// OutputLine is one line of child console output plus the handle of the
// process that produced it.
type OutputLine struct {
	Text    string
	Process ProcessHandle
}

// Process is a started child process.
type Process struct {
	cmd      *exec.Cmd
	pid      int32
	outputOn atomic.Bool
	scanWG   sync.WaitGroup
	done     chan struct{}
	waitErr  error
}

// Start launches the child described by spec. Output lines are scanned off
// stdout and stderr by background goroutines and fanned out to the spec's
// registered handlers.
func Start(ctx context.Context, spec *ProcessSpec) (*Process, error) {
	cmd := exec.CommandContext(ctx, spec.Path, spec.Args...)
	cmd.Dir = spec.Dir

	env := os.Environ()
	for k, v := range spec.Env {
		env = append(env, k+"="+v)
	}
	cmd.Env = env

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("stderr pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("starting %s: %w", spec.Path, err)
	}

	p := &Process{
		cmd:  cmd,
		pid:  int32(cmd.Process.Pid),
		done: make(chan struct{}),
	}
	p.outputOn.Store(true)

	handlers := spec.outputHandlers()
	p.scanWG.Add(2)
	go p.scan(stdout, spec.Stdout, handlers)
	go p.scan(stderr, spec.Stdout, handlers)

	go func() {
		// Wait must not run until the pipe readers are finished.
		p.scanWG.Wait()
		p.waitErr = cmd.Wait()
		close(p.done)
	}()

	return p, nil
}

// maxOutputLine bounds the memory spent on a single output line. Lines over
// the bound are dropped, not fatal: the stream keeps being read so later
// lines still reach handlers. Note this is a memory bound for arbitrary
// child output; the detector applies its own, much tighter cap before
// pattern matching.
const maxOutputLine = 1024 * 1024

// scan reads lines from r until EOF. The pipe is always drained — through
// cancelled delivery and through oversized lines — so the child never blocks
// on a full pipe write.
func (p *Process) scan(r io.Reader, tee io.Writer, handlers []func(OutputLine)) {
	defer p.scanWG.Done()

	br := bufio.NewReaderSize(r, 64*1024)
	var (
		line     []byte
		skipping bool
	)
	for {
		chunk, isPrefix, err := br.ReadLine()
		if err != nil {
			if err != io.EOF {
				log.Printf("child output read: %v", err)
			}
			return
		}

		if !skipping {
			if len(line)+len(chunk) > maxOutputLine {
				skipping = true
				line = line[:0]
			} else {
				line = append(line, chunk...)
			}
		}
		if isPrefix {
			continue
		}
		if skipping {
			skipping = false
			continue
		}

		p.deliver(string(line), tee, handlers)
		line = line[:0]
	}
}

func (p *Process) deliver(text string, tee io.Writer, handlers []func(OutputLine)) {
	if tee != nil {
		fmt.Fprintln(tee, text)
	}
	if !p.outputOn.Load() {
		return
	}
	line := OutputLine{Text: text, Process: p}
	for _, fn := range handlers {
		fn(line)
	}
}

// CancelOutput stops delivering output lines to handlers. Idempotent; the
// pipes keep draining in the background.
func (p *Process) CancelOutput() {
	p.outputOn.Store(false)
}

// PID returns the child's process id.
func (p *Process) PID() int {
	return int(p.pid)
}

// Alive reports whether the child process still exists.
func (p *Process) Alive() bool {
	select {
	case <-p.done:
		return false
	default:
	}
	ok, err := process.PidExists(p.pid)
	return err == nil && ok
}

// Wait blocks until the child exits and returns its exit error, if any.
func (p *Process) Wait() error {
	<-p.done
	return p.waitErr
}

// Terminate asks the child to exit and kills it if it has not done so
// within grace.
func (p *Process) Terminate(grace time.Duration) error {
	if runtime.GOOS == "windows" {
		return p.cmd.Process.Kill()
	}

	_ = p.cmd.Process.Signal(syscall.SIGTERM)
	select {
	case <-p.done:
		return nil
	case <-time.After(grace):
		return p.cmd.Process.Kill()
	}
}

// Package orchestrator drives browser refresh across the watch loop's
// rebuild cycles: it decides once whether automation applies, starts the
// refresh channel, watches the child's output for readiness, and either
// launches the browser or tells it to reload.
package orchestrator

import (
	"context"
	"runtime"
	"strings"
	"sync"

	"github.com/devwatch/devwatch/internal/browser"
	"github.com/devwatch/devwatch/internal/config"
	"github.com/devwatch/devwatch/internal/detect"
	"github.com/devwatch/devwatch/internal/profile"
	"github.com/devwatch/devwatch/internal/refresh"
	"github.com/devwatch/devwatch/internal/report"
	"github.com/devwatch/devwatch/internal/runner"
)

// EndpointEnvVar carries the refresh channel address into the child process
// so its middleware can connect back.
const EndpointEnvVar = "DEVWATCH_AUTO_RELOAD_WS_ENDPOINT"

// State of the browser automation machine.
type State int

const (
	// Idle: no cycle processed yet.
	Idle State = iota
	// Inert: automation is off for the rest of the session, either because
	// eligibility was denied or because something failed.
	Inert
	// Armed: channel running, waiting for the first readiness signal.
	Armed
	// BrowserPending: a rebuild happened before the browser was launched.
	BrowserPending
	// BrowserLaunched: the browser is up; readiness signals now mean reload.
	BrowserLaunched
)

func (s State) String() string {
	switch s {
	case Idle:
		return "Idle"
	case Inert:
		return "Inert"
	case Armed:
		return "Armed"
	case BrowserPending:
		return "BrowserPending"
	case BrowserLaunched:
		return "BrowserLaunched"
	default:
		return "Unknown"
	}
}

type refreshChannel interface {
	Start() (string, error)
	Send(payload []byte)
	Close()
}

type urlOpener interface {
	Open(target string) error
}

// Orchestrator owns the refresh channel, the launched/not-launched state,
// and the child output subscription. One instance serves one watch session.
type Orchestrator struct {
	env     config.Env
	command string
	goos    string

	newChannel func() refreshChannel
	launcher   urlOpener
	resolve    func(platform string, runtimeSupported bool, command, workingDir string) profile.Decision

	mu       sync.Mutex
	state    State
	decision profile.Decision
	addr     string
	channel  refreshChannel
	reporter report.Reporter
	proc     runner.ProcessHandle
	closed   bool
}

// New builds an orchestrator for one watch session. command is the invoked
// CLI command ("run" enables automation); env holds the once-read
// environment switches.
func New(env config.Env, command string, launcher *browser.Launcher) *Orchestrator {
	o := &Orchestrator{
		env:      env,
		command:  command,
		goos:     runtime.GOOS,
		launcher: launcher,
		resolve:  profile.Resolve,
	}
	o.newChannel = func() refreshChannel { return refresh.NewChannel() }
	return o
}

// State returns the current automation state.
func (o *Orchestrator) State() State {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state
}

// ProcessCycle is invoked by the watch driver once per cycle, before the
// cycle's child process is started. Cycle 0 evaluates eligibility and, when
// granted, starts the refresh channel, injects its address into spec's
// environment and subscribes to spec's output. Rebuild cycles push a Wait
// notification and re-wire the new spec. The Wait push is best-effort: it
// is not synchronized with the new child's actual restart.
func (o *Orchestrator) ProcessCycle(_ context.Context, cycle int, spec *runner.ProcessSpec, reporter report.Reporter, runtimeSupported bool) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.closed || o.state == Inert {
		return
	}
	o.reporter = reporter

	if o.state == Idle {
		if o.env.SuppressBrowserRefresh {
			reporter.Verbose("browser refresh suppressed via " + config.EnvSuppressBrowserRefresh)
			o.state = Inert
			return
		}

		decision := o.resolve(o.goos, runtimeSupported, o.command, spec.Dir)
		if !decision.Eligible {
			reporter.Verbose("browser refresh not applicable to this project")
			o.state = Inert
			return
		}

		ch := o.newChannel()
		addr, err := ch.Start()
		if err != nil {
			// The feature cannot pretend the channel exists; automation is
			// off for the session, the watch loop itself is unaffected.
			reporter.Warn("browser refresh unavailable: " + err.Error())
			ch.Close()
			o.state = Inert
			return
		}

		o.decision = decision
		o.channel = ch
		o.addr = addr
		o.wireSpec(spec)
		o.state = Armed
		return
	}

	if cycle > 0 {
		o.channel.Send(refresh.PayloadWait)
		if o.state == Armed {
			o.state = BrowserPending
		}
		// Each cycle brings a fresh process spec; the new child needs the
		// endpoint and the output subscription too.
		o.wireSpec(spec)
	}
}

// wireSpec injects the channel address and subscribes the output handler.
// Caller holds o.mu.
func (o *Orchestrator) wireSpec(spec *runner.ProcessSpec) {
	if spec.Env == nil {
		spec.Env = make(map[string]string)
	}
	spec.Env[EndpointEnvVar] = o.addr
	spec.OnOutput(o.handleOutput)
}

// handleOutput runs on the child's output reader goroutine, not on the
// watch loop.
func (o *Orchestrator) handleOutput(line runner.OutputLine) {
	o.mu.Lock()
	if o.closed || o.state == Inert {
		o.mu.Unlock()
		return
	}
	o.proc = line.Process
	o.mu.Unlock()

	switch c := detect.Classify(line.Text); c.Kind {
	case detect.Listening:
		o.onListening(c.URL)
	case detect.StartupComplete:
		// Nothing useful arrives after this; stop consuming.
		line.Process.CancelOutput()
	}
}

func (o *Orchestrator) onListening(baseURL string) {
	o.mu.Lock()
	if o.closed || o.state == Inert || o.state == Idle {
		o.mu.Unlock()
		return
	}

	if o.state == BrowserLaunched {
		ch := o.channel
		o.mu.Unlock()
		ch.Send(refresh.PayloadReload)
		return
	}

	// First readiness signal. The state moves to BrowserLaunched while the
	// lock is held, so a racing signal sees it and reloads instead of
	// starting a second browser.
	o.state = BrowserLaunched
	target := joinURL(baseURL, o.decision.LaunchPath)
	reporter := o.reporter
	o.mu.Unlock()

	if err := o.launcher.Open(target); err != nil {
		reporter.Warn("unable to launch browser: " + err.Error())
		o.disable()
	}
}

// disable permanently turns automation off for the session and releases the
// channel.
func (o *Orchestrator) disable() {
	o.mu.Lock()
	if o.state == Inert {
		o.mu.Unlock()
		return
	}
	o.state = Inert
	ch := o.channel
	o.channel = nil
	proc := o.proc
	o.proc = nil
	o.mu.Unlock()

	if proc != nil {
		proc.CancelOutput()
	}
	if ch != nil {
		ch.Close()
	}
}

// Close tears the orchestrator down: output delivery stops and the refresh
// channel is released. Idempotent, and safe to call concurrently with an
// in-flight output handler.
func (o *Orchestrator) Close() {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return
	}
	o.closed = true
	o.state = Inert
	ch := o.channel
	o.channel = nil
	proc := o.proc
	o.proc = nil
	o.mu.Unlock()

	if proc != nil {
		proc.CancelOutput()
	}
	if ch != nil {
		ch.Close()
	}
}

// joinURL composes the browser target from the announced base URL and the
// profile's relative launch path. Plain concatenation with a single slash:
// the launch path is opaque and may carry query strings or fragments that
// must not be re-encoded.
func joinURL(base, path string) string {
	if path == "" {
		return base
	}
	return strings.TrimSuffix(base, "/") + "/" + strings.TrimPrefix(path, "/")
}

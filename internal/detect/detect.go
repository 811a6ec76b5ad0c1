// Package detect classifies child-process console output lines into the
// readiness signals the watch loop reacts to.
package detect

import (
	"regexp"
	"strings"
)

// Kind identifies what a console line means for the watch loop.
type Kind int

const (
	// Unremarkable lines carry no readiness signal and are dropped.
	Unremarkable Kind = iota
	// Listening means the application announced the URL it serves on.
	Listening
	// StartupComplete means the application finished starting; no further
	// readiness signals will arrive on this process's output.
	StartupComplete
)

// Classification is the result of inspecting a single output line.
// URL is set only when Kind is Listening.
type Classification struct {
	Kind Kind
	URL  string
}

// Matching is anchored to the whole line (leading whitespace allowed) and
// case-sensitive on the marker text. Go's regexp engine guarantees
// linear-time matching, so pathological lines cannot stall the caller.
var (
	listeningPattern = regexp.MustCompile(`^\s*Now listening on: (.*)$`)
	startedPattern   = regexp.MustCompile(`^\s*Application started\. Press Ctrl\+C to shut down\.\s*$`)
)

// maxLineLen bounds the matching work per line. It is deliberately much
// tighter than the runner's per-line memory bound: the readiness markers are
// short single lines, so anything longer is Unremarkable by definition and
// need not be scanned at all.
const maxLineLen = 8 * 1024

// Classify inspects line and reports the readiness signal it carries, if
// any. It is a pure function and safe to call from any goroutine.
func Classify(line string) Classification {
	if len(line) > maxLineLen {
		return Classification{Kind: Unremarkable}
	}
	if m := listeningPattern.FindStringSubmatch(line); m != nil {
		return Classification{Kind: Listening, URL: strings.TrimSpace(m[1])}
	}
	if startedPattern.MatchString(line) {
		return Classification{Kind: StartupComplete}
	}
	return Classification{Kind: Unremarkable}
}

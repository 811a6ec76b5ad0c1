// Package report delivers user-facing status messages, separate from the
// diagnostic log.
package report

import (
	"fmt"
	"io"
	"os"
)

// Reporter is the sink for user-visible watch-loop messages.
type Reporter interface {
	Verbose(msg string)
	Output(msg string)
	Warn(msg string)
	Error(msg string)
}

// Console writes prefixed messages to a pair of writers.
type Console struct {
	Out         io.Writer
	ErrOut      io.Writer
	ShowVerbose bool
}

// NewConsole returns a reporter writing to stdout/stderr.
func NewConsole(verbose bool) *Console {
	return &Console{Out: os.Stdout, ErrOut: os.Stderr, ShowVerbose: verbose}
}

func (c *Console) Verbose(msg string) {
	if !c.ShowVerbose {
		return
	}
	fmt.Fprintf(c.Out, "watch : %s\n", msg)
}

func (c *Console) Output(msg string) {
	fmt.Fprintf(c.Out, "watch : %s\n", msg)
}

func (c *Console) Warn(msg string) {
	fmt.Fprintf(c.ErrOut, "watch : warning: %s\n", msg)
}

func (c *Console) Error(msg string) {
	fmt.Fprintf(c.ErrOut, "watch : error: %s\n", msg)
}

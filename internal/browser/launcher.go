// Package browser starts the user's browser on a composed application URL.
package browser

import (
	"fmt"
	"os/exec"
	"runtime"

	"github.com/devwatch/devwatch/internal/config"
	"github.com/devwatch/devwatch/internal/report"
)

// Launcher opens URLs through the platform default handler, an explicit
// override executable, or — under test execution — a reported message with
// no real process.
type Launcher struct {
	overridePath string
	testMode     bool
	goos         string
	reporter     report.Reporter
}

func NewLauncher(env config.Env, reporter report.Reporter) *Launcher {
	return &Launcher{
		overridePath: env.BrowserPath,
		testMode:     env.RunningAsTest,
		goos:         runtime.GOOS,
		reporter:     reporter,
	}
}

// Open starts the browser on target. The started process is not waited on;
// errors are only those surfaced while starting it.
func (l *Launcher) Open(target string) error {
	if l.testMode {
		l.reporter.Output("launching browser: " + target)
		return nil
	}

	name, args := l.command(target)
	cmd := exec.Command(name, args...)
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("starting browser: %w", err)
	}
	// Reap the process in the background so it never zombies.
	go cmd.Wait()
	return nil
}

// command picks the executable and arguments for target. An override
// executable gets the URL as its sole argument.
func (l *Launcher) command(target string) (string, []string) {
	if l.overridePath != "" {
		return l.overridePath, []string{target}
	}
	switch l.goos {
	case "windows":
		return "cmd", []string{"/c", "start", "", target}
	case "darwin":
		return "open", []string{target}
	default:
		return "xdg-open", []string{target}
	}
}

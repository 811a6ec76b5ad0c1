// Package profile reads the project's launch settings document and decides
// whether browser automation applies to the current watch session.
package profile

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/Masterminds/semver/v3"
)

// RelativePath is where the launch settings document lives under the
// project working directory.
const RelativePath = "Properties/launchSettings.json"

// projectCommand is the command name identifying the profile the watch
// loop honors.
const projectCommand = "Project"

// Document is the parsed launch settings file.
type Document struct {
	Profiles map[string]Settings `json:"profiles"`
}

// Settings is a single named profile inside the document.
type Settings struct {
	CommandName   string `json:"commandName"`
	LaunchBrowser bool   `json:"launchBrowser"`
	LaunchURL     string `json:"launchUrl"`
}

// Load reads and parses the launch settings document under workingDir.
// A missing file surfaces as fs.ErrNotExist through the returned error so
// callers can tell expected absence from corruption.
func Load(workingDir string) (*Document, error) {
	data, err := os.ReadFile(filepath.Join(workingDir, filepath.FromSlash(RelativePath)))
	if err != nil {
		return nil, err
	}

	var doc Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parsing launch settings: %w", err)
	}
	return &doc, nil
}

// projectProfile returns the Project profile from doc, if any. Profiles are
// scanned in name order so the result is stable when a document carries
// more than one.
func (d *Document) projectProfile() (Settings, bool) {
	names := make([]string, 0, len(d.Profiles))
	for name := range d.Profiles {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		if d.Profiles[name].CommandName == projectCommand {
			return d.Profiles[name], true
		}
	}
	return Settings{}, false
}

// Decision is the one-shot eligibility outcome for browser automation.
// LaunchPath is the profile's launch URL, relative to the announced base
// URL; it may be empty.
type Decision struct {
	Eligible   bool
	LaunchPath string
}

// The platforms on which launching a URL through the default handler is
// universally available.
var supportedPlatforms = map[string]bool{
	"windows": true,
	"darwin":  true,
}

// Resolve evaluates the eligibility rules in order, short-circuiting to
// ineligible on the first failure. Missing, malformed, or non-matching
// launch settings are all quietly ineligible, never errors. Resolve is
// idempotent and has no side effects beyond reading the settings file.
func Resolve(platform string, runtimeSupported bool, command, workingDir string) Decision {
	if !runtimeSupported {
		return Decision{}
	}
	if !supportedPlatforms[platform] {
		return Decision{}
	}
	if command != "run" {
		return Decision{}
	}

	doc, err := Load(workingDir)
	if err != nil {
		return Decision{}
	}

	settings, ok := doc.projectProfile()
	if !ok {
		return Decision{}
	}
	if !settings.LaunchBrowser {
		return Decision{}
	}

	return Decision{Eligible: true, LaunchPath: settings.LaunchURL}
}

// refreshFloor is the minimum target runtime version carrying the browser
// refresh middleware.
var refreshFloor = semver.MustParse("3.1.0")

// SupportsRefresh reports whether the given target runtime version string
// meets the refresh middleware's version floor. Unparseable versions are
// treated as unsupported.
func SupportsRefresh(version string) bool {
	v, err := semver.NewVersion(strings.TrimSpace(version))
	if err != nil {
		return false
	}
	return !v.LessThan(refreshFloor)
}

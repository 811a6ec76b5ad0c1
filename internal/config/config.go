package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Environment variables read once at startup. They are never re-read during
// the watch session.
const (
	// EnvSuppressBrowserRefresh disables browser automation entirely.
	EnvSuppressBrowserRefresh = "DEVWATCH_SUPPRESS_BROWSER_REFRESH"
	// EnvRunningAsTest replaces real browser launches with a reported
	// "launching browser" message.
	EnvRunningAsTest = "DEVWATCH_RUNNING_AS_TEST"
	// EnvBrowserPath points at an explicit browser executable to invoke
	// instead of the platform default opener.
	EnvBrowserPath = "DEVWATCH_BROWSER_PATH"
)

// Env holds the environment-driven switches, parsed once at construction.
type Env struct {
	SuppressBrowserRefresh bool
	RunningAsTest          bool
	BrowserPath            string
}

// FromEnv reads the environment switches from the process environment.
func FromEnv() Env {
	return Env{
		SuppressBrowserRefresh: parseBoolEnv(EnvSuppressBrowserRefresh),
		RunningAsTest:          parseBoolEnv(EnvRunningAsTest),
		BrowserPath:            strings.TrimSpace(os.Getenv(EnvBrowserPath)),
	}
}

func parseBoolEnv(key string) bool {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return false
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return false
	}
	return v
}

type Config struct {
	Watch WatchConfig `yaml:"watch"`
}

type WatchConfig struct {
	Debounce   Duration `yaml:"debounce"`
	KillGrace  Duration `yaml:"kill_grace"`
	Extensions []string `yaml:"extensions"`
}

// Duration is a time.Duration that unmarshals from yaml strings like "500ms".
type Duration time.Duration

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	v, err := time.ParseDuration(s)
	if err != nil {
		return err
	}
	*d = Duration(v)
	return nil
}

func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// Default returns the configuration used when no config file is given.
func Default() *Config {
	return &Config{
		Watch: WatchConfig{
			Debounce:   Duration(500 * time.Millisecond),
			KillGrace:  Duration(5 * time.Second),
			Extensions: []string{".go", ".cs", ".html", ".css", ".js", ".json"},
		},
	}
}

func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// WatchesExtension reports whether a change to the named file should
// trigger a rebuild cycle. An empty extension list watches everything.
func (c *Config) WatchesExtension(name string) bool {
	if len(c.Watch.Extensions) == 0 {
		return true
	}
	for _, ext := range c.Watch.Extensions {
		if strings.HasSuffix(name, ext) {
			return true
		}
	}
	return false
}

// Package config loads reqlog.yaml and applies environment overrides.
package config

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/modoterra/reqlog/internal/journalslog"
)

const (
	DefaultSocket         = "/tmp/reqlog.sock"
	DefaultCapacity       = 5
	DefaultNotifyInterval = 250 * time.Millisecond
	DefaultFileName       = "reqlog.yaml"
)

// Config represents a reqlog.yaml configuration file.
type Config struct {
	Version        int           `yaml:"version"         json:"version"`
	Socket         string        `yaml:"socket"          json:"socket"`
	Capacity       int           `yaml:"capacity"        json:"capacity"`
	NotifyInterval time.Duration `yaml:"notify_interval" json:"notify_interval"`
	Store          Store         `yaml:"store"           json:"store"`
	HTTP           HTTP          `yaml:"http"            json:"http"`
	ExportDir      string        `yaml:"export_dir"      json:"export_dir"`
	Log            Log           `yaml:"log"             json:"log"`
	Sources        []Source      `yaml:"sources"         json:"sources,omitempty"`

	// FilePath is where the config was loaded from (not serialized).
	FilePath string `yaml:"-" json:"-"`
}

// Store selects the persistence backend.
type Store struct {
	Driver string `yaml:"driver" json:"driver"` // file|sqlite|memory
	Path   string `yaml:"path"   json:"path"`
}

// HTTP configures the optional HTTP command API. Empty Listen disables it.
type HTTP struct {
	Listen string `yaml:"listen,omitempty" json:"listen,omitempty"`
}

// Log configures the daemon's structured logger.
type Log struct {
	Level  string `yaml:"level"  json:"level"`  // debug|info|warn|error
	Format string `yaml:"format" json:"format"` // text|json|journal
}

// Source is a capture source definition.
type Source struct {
	Name    string            `yaml:"name"              json:"name"`
	Kind    string            `yaml:"kind"              json:"kind"`
	Listen  string            `yaml:"listen,omitempty"  json:"listen,omitempty"`  // proxy
	File    string            `yaml:"file,omitempty"    json:"file,omitempty"`    // tail
	Command string            `yaml:"command,omitempty" json:"command,omitempty"` // exec
	Dir     string            `yaml:"dir,omitempty"     json:"dir,omitempty"`     // exec
	Env     map[string]string `yaml:"env,omitempty"     json:"env,omitempty"`     // exec
	Restart string            `yaml:"restart,omitempty" json:"restart,omitempty"` // exec: always|on-failure|never
}

// Source kinds.
const (
	KindProxy = "proxy"
	KindTail  = "tail"
	KindExec  = "exec"
)

// Default returns the configuration used when no file is present.
func Default() *Config {
	return &Config{
		Version:        1,
		Socket:         DefaultSocket,
		Capacity:       DefaultCapacity,
		NotifyInterval: DefaultNotifyInterval,
		Store:          Store{Driver: "file", Path: DefaultStateDir()},
		ExportDir:      ".",
		Log:            Log{Level: "info", Format: "text"},
		Sources: []Source{
			{Name: "proxy", Kind: KindProxy, Listen: "127.0.0.1:8789"},
		},
	}
}

// DefaultStateDir returns $XDG_STATE_HOME/reqlog or ~/.local/state/reqlog.
func DefaultStateDir() string {
	if d := os.Getenv("XDG_STATE_HOME"); d != "" {
		return filepath.Join(d, "reqlog")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), "reqlog")
	}
	return filepath.Join(home, ".local", "state", "reqlog")
}

// Parse decodes YAML over the defaults and expands environment references in paths.
func Parse(data []byte) (*Config, error) {
	c := Default()
	c.Sources = nil
	if err := yaml.Unmarshal(data, c); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	c.Socket = expandPath(c.Socket)
	c.Store.Path = expandPath(c.Store.Path)
	c.ExportDir = expandPath(c.ExportDir)
	for i := range c.Sources {
		c.Sources[i].File = expandPath(c.Sources[i].File)
		c.Sources[i].Dir = expandPath(c.Sources[i].Dir)
	}
	return c, nil
}

// Load reads and parses the config at path.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	c, err := Parse(data)
	if err != nil {
		return nil, err
	}
	c.FilePath = path
	return c, nil
}

// Save writes c as YAML to path.
func Save(c *Config, path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("encode config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	return nil
}

// Logger builds the slog logger described by the log section. The journal
// format falls back to text when journald is not reachable.
func (l Log) Logger(w io.Writer) *slog.Logger {
	opts := &slog.HandlerOptions{Level: ParseLevel(l.Level)}
	switch {
	case l.Format == "json":
		return slog.New(slog.NewJSONHandler(w, opts))
	case l.Format == "journal" && journalslog.Enabled():
		return slog.New(journalslog.New(opts.Level))
	default:
		return slog.New(slog.NewTextHandler(w, opts))
	}
}

// ParseLevel maps a level name to a slog level, defaulting to info.
func ParseLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func expandPath(p string) string {
	if p == "" {
		return p
	}
	if p == "~" || strings.HasPrefix(p, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			p = filepath.Join(home, strings.TrimPrefix(p, "~"))
		}
	}
	return os.ExpandEnv(p)
}

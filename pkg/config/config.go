// Package config loads the bleport YAML configuration and builds the
// logger and protocol registry from it.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/mcuadros/go-defaults"
	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"

	"github.com/srg/bleport/internal/devicefactory"
	"github.com/srg/bleport/internal/protocol"
)

// AppName names the per-user config directory.
const AppName = "bleport"

// Config holds application configuration
type Config struct {
	LogLevel       string        `yaml:"log_level" default:"info"`
	Backend        string        `yaml:"backend" default:"goble"`
	ScanTimeout    time.Duration `yaml:"scan_timeout" default:"10s"`
	ConnectTimeout time.Duration `yaml:"connect_timeout" default:"30s"`
	Serve          Serve         `yaml:"serve"`
	Protocols      []Protocol    `yaml:"protocols"`

	// path the config was loaded from; relative script files resolve against it
	dir string
}

// Serve configures the serve command.
type Serve struct {
	// Listen is the WebSocket address, e.g. "127.0.0.1:8765". Empty disables it.
	Listen string `yaml:"listen"`
	// Ports is how many PTY ports to acquire at startup.
	Ports int `yaml:"ports" default:"1"`
	// Link is a symlink path for the first PTY; further ports get a numeric suffix.
	Link string `yaml:"link"`
}

// Protocol is a config-defined wire protocol. An entry named like a
// built-in one overrides it.
type Protocol struct {
	Name    string `yaml:"name"`
	Service string `yaml:"service"`
	Write   string `yaml:"write"`
	Notify  string `yaml:"notify"`

	// Rescale defaults to true.
	Rescale *bool `yaml:"rescale"`
	Steps   int   `yaml:"steps"`

	// Script is an inline Lua transform; ScriptFile is read from disk.
	Script     string `yaml:"script"`
	ScriptFile string `yaml:"script_file"`
}

// DefaultConfig returns default configuration values
func DefaultConfig() *Config {
	cfg := &Config{}
	defaults.SetDefaults(cfg)
	return cfg
}

// DefaultPath is $XDG_CONFIG_HOME/bleport/config.yaml or the platform
// equivalent.
func DefaultPath() (string, error) {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("failed to locate user config directory: %w", err)
	}
	return filepath.Join(dir, AppName, "config.yaml"), nil
}

// Load reads path over the defaults. A missing file yields the defaults.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()
	if path == "" {
		return cfg, nil
	}
	cfg.dir = filepath.Dir(path)

	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return cfg, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read config %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
	}
	// a section present in the file but without some keys keeps zero values
	defaults.SetDefaults(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return cfg, nil
}

// Validate checks field ranges and enumerations.
func (c *Config) Validate() error {
	if _, err := logrus.ParseLevel(c.LogLevel); err != nil {
		return fmt.Errorf("log_level: %w", err)
	}
	if !isBackend(c.Backend) {
		return fmt.Errorf("backend: unknown %q (supported: %s)", c.Backend, strings.Join(devicefactory.Backends(), ", "))
	}
	if c.ScanTimeout <= 0 {
		return fmt.Errorf("scan_timeout must be positive, got %s", c.ScanTimeout)
	}
	if c.ConnectTimeout <= 0 {
		return fmt.Errorf("connect_timeout must be positive, got %s", c.ConnectTimeout)
	}
	if c.Serve.Ports < 0 {
		return fmt.Errorf("serve.ports must not be negative, got %d", c.Serve.Ports)
	}

	seen := make(map[string]struct{}, len(c.Protocols))
	for i, p := range c.Protocols {
		if p.Name == "" {
			return fmt.Errorf("protocols[%d]: name is required", i)
		}
		if _, dup := seen[p.Name]; dup {
			return fmt.Errorf("protocols[%d]: duplicate name %q", i, p.Name)
		}
		seen[p.Name] = struct{}{}
		if p.Script != "" && p.ScriptFile != "" {
			return fmt.Errorf("protocol %s: script and script_file are mutually exclusive", p.Name)
		}
	}
	return nil
}

func isBackend(name string) bool {
	for _, b := range devicefactory.Backends() {
		if strings.EqualFold(b, name) {
			return true
		}
	}
	return false
}

// Level returns the parsed log level, falling back to info.
func (c *Config) Level() logrus.Level {
	level, err := logrus.ParseLevel(c.LogLevel)
	if err != nil {
		return logrus.InfoLevel
	}
	return level
}

// NewLogger creates a configured logger instance
func (c *Config) NewLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(c.Level())

	logger.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: time.RFC3339,
	})

	return logger
}

// BuildRegistry returns the built-in registry extended with the configured
// protocols, frozen. The returned release func closes any Lua states and
// must be called once the registry is no longer used.
func (c *Config) BuildRegistry() (*protocol.Registry, func(), error) {
	registry := protocol.DefaultRegistry()

	var scripts []*protocol.LuaTransform
	release := func() {
		for _, s := range scripts {
			s.Close()
		}
	}

	for _, p := range c.Protocols {
		spec := &protocol.Spec{
			Name:        p.Name,
			ServiceUUID: p.Service,
			WriteUUID:   p.Write,
			NotifyUUID:  p.Notify,
			Rescale:     true,
			Steps:       p.Steps,
		}
		if p.Rescale != nil {
			spec.Rescale = *p.Rescale
		}
		if spec.Steps == 0 {
			spec.Steps = protocol.DefaultSteps
		}

		source, err := c.scriptSource(p)
		if err != nil {
			release()
			return nil, nil, err
		}
		if source != "" {
			transform, err := protocol.NewLuaTransform(p.Name, source)
			if err != nil {
				release()
				return nil, nil, err
			}
			scripts = append(scripts, transform)
			spec.Transform = transform.Transform
		}

		if err := registry.Register(spec); err != nil {
			release()
			return nil, nil, err
		}
	}

	registry.Freeze()
	return registry, release, nil
}

func (c *Config) scriptSource(p Protocol) (string, error) {
	if p.ScriptFile == "" {
		return p.Script, nil
	}
	path := p.ScriptFile
	if !filepath.IsAbs(path) && c.dir != "" {
		path = filepath.Join(c.dir, path)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("protocol %s: failed to read script: %w", p.Name, err)
	}
	return string(data), nil
}

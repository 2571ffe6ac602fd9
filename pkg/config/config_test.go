package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/srg/bleport/internal/protocol"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.NotNil(t, cfg)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, "goble", cfg.Backend)
	assert.Equal(t, 10*time.Second, cfg.ScanTimeout)
	assert.Equal(t, 30*time.Second, cfg.ConnectTimeout)
	assert.Equal(t, 1, cfg.Serve.Ports)
	assert.Empty(t, cfg.Serve.Listen)
	assert.Empty(t, cfg.Protocols)
	assert.NoError(t, cfg.Validate())
}

func TestConfig_NewLogger(t *testing.T) {
	tests := []struct {
		name     string
		logLevel string
		expected logrus.Level
	}{
		{name: "creates logger with debug level", logLevel: "debug", expected: logrus.DebugLevel},
		{name: "creates logger with info level", logLevel: "info", expected: logrus.InfoLevel},
		{name: "creates logger with warn level", logLevel: "warn", expected: logrus.WarnLevel},
		{name: "creates logger with error level", logLevel: "error", expected: logrus.ErrorLevel},
		{name: "falls back to info on garbage", logLevel: "chatty", expected: logrus.InfoLevel},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := &Config{LogLevel: tt.logLevel}

			logger := cfg.NewLogger()

			assert.NotNil(t, logger)
			assert.Equal(t, tt.expected, logger.GetLevel())

			formatter, ok := logger.Formatter.(*logrus.TextFormatter)
			assert.True(t, ok)
			assert.True(t, formatter.FullTimestamp)
			assert.Equal(t, time.RFC3339, formatter.TimestampFormat)
		})
	}
}

func TestLoad(t *testing.T) {
	t.Run("missing file yields defaults", func(t *testing.T) {
		cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
		require.NoError(t, err)
		assert.Equal(t, DefaultConfig().ScanTimeout, cfg.ScanTimeout)
	})

	t.Run("empty path yields defaults", func(t *testing.T) {
		cfg, err := Load("")
		require.NoError(t, err)
		assert.Equal(t, "goble", cfg.Backend)
	})

	t.Run("file overrides only the keys it sets", func(t *testing.T) {
		path := writeConfig(t, `
log_level: debug
backend: tinygo
scan_timeout: 3s
serve:
  listen: 127.0.0.1:8765
`)
		cfg, err := Load(path)
		require.NoError(t, err)

		assert.Equal(t, "debug", cfg.LogLevel)
		assert.Equal(t, "tinygo", cfg.Backend)
		assert.Equal(t, 3*time.Second, cfg.ScanTimeout)
		assert.Equal(t, 30*time.Second, cfg.ConnectTimeout, "unset keys MUST keep their defaults")
		assert.Equal(t, "127.0.0.1:8765", cfg.Serve.Listen)
		assert.Equal(t, 1, cfg.Serve.Ports, "unset nested keys MUST keep their defaults")
	})

	t.Run("malformed yaml is an error", func(t *testing.T) {
		_, err := Load(writeConfig(t, "log_level: [unterminated"))
		assert.Error(t, err)
	})

	t.Run("invalid values are rejected", func(t *testing.T) {
		_, err := Load(writeConfig(t, "backend: carrier-pigeon\n"))
		require.Error(t, err)
		assert.Contains(t, err.Error(), "carrier-pigeon")
	})
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(c *Config)
		errMsg string
	}{
		{name: "bad log level", mutate: func(c *Config) { c.LogLevel = "loud" }, errMsg: "log_level"},
		{name: "zero scan timeout", mutate: func(c *Config) { c.ScanTimeout = 0 }, errMsg: "scan_timeout"},
		{name: "negative connect timeout", mutate: func(c *Config) { c.ConnectTimeout = -time.Second }, errMsg: "connect_timeout"},
		{name: "negative ports", mutate: func(c *Config) { c.Serve.Ports = -1 }, errMsg: "serve.ports"},
		{name: "nameless protocol", mutate: func(c *Config) { c.Protocols = []Protocol{{Service: "fff0"}} }, errMsg: "name is required"},
		{
			name: "duplicate protocol",
			mutate: func(c *Config) {
				c.Protocols = []Protocol{{Name: "A"}, {Name: "A"}}
			},
			errMsg: "duplicate",
		},
		{
			name: "script and script_file together",
			mutate: func(c *Config) {
				c.Protocols = []Protocol{{Name: "A", Script: "x", ScriptFile: "y"}}
			},
			errMsg: "mutually exclusive",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)

			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.errMsg)
		})
	}
}

func TestConfig_BuildRegistry(t *testing.T) {
	t.Run("defaults hold only the built-in protocol", func(t *testing.T) {
		registry, release, err := DefaultConfig().BuildRegistry()
		require.NoError(t, err)
		defer release()

		require.Equal(t, 1, registry.Len())
		first, _ := registry.First()
		assert.Equal(t, "Roussan", first.Name)
	})

	t.Run("config protocols are appended and frozen", func(t *testing.T) {
		noRescale := false
		cfg := DefaultConfig()
		cfg.Protocols = []Protocol{{
			Name:    "Plain",
			Service: "0000fff0-0000-1000-8000-00805f9b34fb",
			Write:   "fff1",
			Rescale: &noRescale,
		}}

		registry, release, err := cfg.BuildRegistry()
		require.NoError(t, err)
		defer release()

		specs := registry.All()
		require.Len(t, specs, 2)
		assert.Equal(t, "Plain", specs[1].Name)
		assert.False(t, specs[1].Rescale)

		packet, err := specs[1].Encode(protocol.NewCommand(map[string]any{"vibrate": 80}))
		require.NoError(t, err)
		assert.Equal(t, protocol.Packet{0x55, 0xAA, 0x03, 0x01, 80, 0x00}, packet, "rescale off MUST send the raw level")

		assert.ErrorIs(t, registry.Register(protocol.Roussan()), protocol.ErrRegistryFrozen)
	})

	t.Run("an entry named like the built-in overrides it", func(t *testing.T) {
		cfg := DefaultConfig()
		cfg.Protocols = []Protocol{{
			Name:    "Roussan",
			Service: "fe400001-b5a3-f393-e0a9-e50e24dcca9e",
			Write:   "fe400002-b5a3-f393-e0a9-e50e24dcca9e",
			Steps:   10,
		}}

		registry, release, err := cfg.BuildRegistry()
		require.NoError(t, err)
		defer release()

		require.Equal(t, 1, registry.Len())
		spec, _ := registry.First()
		assert.Equal(t, 10, spec.Steps)
		assert.True(t, spec.Rescale, "rescale MUST default to true")
		assert.Empty(t, spec.NotifyUUID)
	})

	t.Run("script file is resolved relative to the config", func(t *testing.T) {
		dir := t.TempDir()
		require.NoError(t, os.WriteFile(filepath.Join(dir, "double.lua"), []byte(`
function transform(cmd)
  if cmd.vibrate == nil then return nil end
  return {0xA0, cmd.vibrate * 2}
end
`), 0o600))
		path := filepath.Join(dir, "config.yaml")
		require.NoError(t, os.WriteFile(path, []byte(`
protocols:
  - name: Double
    service: fff0
    write: fff1
    script_file: double.lua
`), 0o600))

		cfg, err := Load(path)
		require.NoError(t, err)

		registry, release, err := cfg.BuildRegistry()
		require.NoError(t, err)
		defer release()

		spec, ok := registry.Get("Double")
		require.True(t, ok)
		packet, err := spec.Encode(protocol.NewCommand(map[string]any{"vibrate": 21}))
		require.NoError(t, err)
		assert.Equal(t, protocol.Packet{0xA0, 42}, packet)

		_, err = spec.Encode(protocol.NewCommand(map[string]any{}))
		assert.ErrorIs(t, err, protocol.ErrNoPacket)
	})

	t.Run("broken script fails the build", func(t *testing.T) {
		cfg := DefaultConfig()
		cfg.Protocols = []Protocol{{Name: "Broken", Service: "fff0", Write: "fff1", Script: "function transform("}}

		_, _, err := cfg.BuildRegistry()
		assert.Error(t, err)
	})

	t.Run("bad uuid fails the build", func(t *testing.T) {
		cfg := DefaultConfig()
		cfg.Protocols = []Protocol{{Name: "Bad", Service: "not-a-uuid", Write: "fff1"}}

		_, _, err := cfg.BuildRegistry()
		assert.Error(t, err)
	})
}

func BenchmarkDefaultConfig(b *testing.B) {
	for i := 0; i < b.N; i++ {
		_ = DefaultConfig()
	}
}

package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"autopause/internal/logging"
	"autopause/internal/trigger"
)

var envVars = []string{
	"AUTOPAUSE_TRIGGER_KEY",
	"AUTOPAUSE_FORCE_POLLING",
	"AUTOPAUSE_DEBOUNCE_MS",
	"AUTOPAUSE_LOG_LEVEL",
	"AUTOPAUSE_LOG_PATH",
	"AUTOPAUSE_JOURNAL_PATH",
	"AUTOPAUSE_METRICS_LISTEN",
	"AUTOPAUSE_MQTT_BROKER",
	"AUTOPAUSE_MQTT_USERNAME",
	"AUTOPAUSE_MQTT_PASSWORD",
}

func clearEnv(t *testing.T) {
	t.Helper()
	for _, name := range envVars {
		t.Setenv(name, "")
	}
	t.Setenv("AUTOPAUSE_DATA_DIR", t.TempDir())
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(content), 0600))
}

func TestDefaultConfig(t *testing.T) {
	clearEnv(t)

	cfg := DefaultConfig()
	require.NotNil(t, cfg)

	assert.Equal(t, Version, cfg.Version)
	assert.Equal(t, time.Second, cfg.PollInterval())
	assert.Equal(t, 3*time.Second, cfg.DebounceWindow())
	assert.Equal(t, "file", cfg.Logging.Output)
	assert.True(t, cfg.Journal.Enabled)
	assert.Equal(t, filepath.Join(DataDir(), "journal.db"), cfg.Journal.Path)
	assert.False(t, cfg.Metrics.Enabled)
	assert.False(t, cfg.MQTT.Enabled)

	key, err := cfg.TriggerKey()
	require.NoError(t, err)
	assert.Equal(t, trigger.KeyEscape, key)

	assert.NoError(t, cfg.Validate())
}

func TestConfigPath(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("AUTOPAUSE_DATA_DIR", dir)

	assert.Equal(t, filepath.Join(dir, "config.toml"), ConfigPath())
	assert.Equal(t, dir, DataDir())
}

func TestLoadMissingFileYieldsDefaults(t *testing.T) {
	clearEnv(t)

	cfg, err := Load(filepath.Join(t.TempDir(), "absent.toml"))
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig().Detection, cfg.Detection)
}

func TestLoadFormats(t *testing.T) {
	clearEnv(t)

	tests := []struct {
		name    string
		file    string
		content string
	}{
		{
			name: "toml",
			file: "config.toml",
			content: `
version = 1
[detection]
poll_interval_ms = 500
trigger_key = "space"
`,
		},
		{
			name:    "json",
			file:    "config.json",
			content: `{"version": 1, "detection": {"poll_interval_ms": 500, "trigger_key": "space"}}`,
		},
		{
			name: "yaml",
			file: "config.yaml",
			content: `
version: 1
detection:
  poll_interval_ms: 500
  trigger_key: space
`,
		},
		{
			name: "unknown extension",
			file: "config.conf",
			content: `
version = 1
[detection]
poll_interval_ms = 500
trigger_key = "space"
`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), tt.file)
			writeFile(t, path, tt.content)

			cfg, err := Load(path)
			require.NoError(t, err)
			assert.Equal(t, 500*time.Millisecond, cfg.PollInterval())
			assert.Equal(t, "space", cfg.Detection.TriggerKey)
			// Unset fields keep their defaults.
			assert.Equal(t, 3*time.Second, cfg.DebounceWindow())
			assert.Equal(t, 64, cfg.Detection.EventBuffer)
			assert.NoError(t, cfg.Validate())
		})
	}
}

func TestLoadMalformed(t *testing.T) {
	clearEnv(t)

	path := filepath.Join(t.TempDir(), "config.json")
	writeFile(t, path, `{"version": `)

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "decode JSON")
}

func TestApplyEnvOverrides(t *testing.T) {
	clearEnv(t)
	t.Setenv("AUTOPAUSE_TRIGGER_KEY", "media_playpause")
	t.Setenv("AUTOPAUSE_FORCE_POLLING", "true")
	t.Setenv("AUTOPAUSE_DEBOUNCE_MS", "1500")
	t.Setenv("AUTOPAUSE_LOG_LEVEL", "debug")
	t.Setenv("AUTOPAUSE_MQTT_PASSWORD", "secret")

	cfg, err := Load(filepath.Join(t.TempDir(), "config.toml"))
	require.NoError(t, err)

	key, err := cfg.TriggerKey()
	require.NoError(t, err)
	assert.Equal(t, trigger.KeyMediaPlayPause, key)
	assert.True(t, cfg.Detection.ForcePolling)
	assert.Equal(t, 1500*time.Millisecond, cfg.DebounceWindow())
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, "secret", cfg.MQTT.Password)
}

func TestApplyEnvOverridesIgnoresGarbage(t *testing.T) {
	clearEnv(t)
	t.Setenv("AUTOPAUSE_FORCE_POLLING", "maybe")
	t.Setenv("AUTOPAUSE_DEBOUNCE_MS", "soon")

	cfg := DefaultConfig()
	cfg.ApplyEnvOverrides()
	assert.False(t, cfg.Detection.ForcePolling)
	assert.Equal(t, 3000, cfg.Detection.DebounceWindowMs)
}

func fieldsOf(t *testing.T, err error) []string {
	t.Helper()
	var verrs ValidationErrors
	require.True(t, errors.As(err, &verrs), "expected ValidationErrors, got %T", err)
	fields := make([]string, 0, len(verrs))
	for _, v := range verrs {
		fields = append(fields, v.Field)
	}
	return fields
}

func TestValidate(t *testing.T) {
	clearEnv(t)

	tests := []struct {
		name   string
		mutate func(*Config)
		field  string
	}{
		{"version too new", func(c *Config) { c.Version = Version + 1 }, "version"},
		{"poll interval too small", func(c *Config) { c.Detection.PollIntervalMs = 10 }, "detection.poll_interval_ms"},
		{"negative debounce", func(c *Config) { c.Detection.DebounceWindowMs = -1 }, "detection.debounce_window_ms"},
		{"unknown key", func(c *Config) { c.Detection.TriggerKey = "f13" }, "detection.trigger_key"},
		{"zero buffer", func(c *Config) { c.Detection.EventBuffer = 0 }, "detection.event_buffer"},
		{"bad level", func(c *Config) { c.Logging.Level = "loud" }, "logging.level"},
		{"file output without path", func(c *Config) { c.Logging.FilePath = "" }, "logging.file_path"},
		{"journal without path", func(c *Config) { c.Journal.Path = "" }, "journal.path"},
		{"metrics bad listen", func(c *Config) {
			c.Metrics.Enabled = true
			c.Metrics.Listen = "nope"
		}, "metrics.listen"},
		{"mqtt bad broker", func(c *Config) {
			c.MQTT.Enabled = true
			c.MQTT.Broker = "localhost"
		}, "mqtt.broker"},
		{"mqtt wildcard prefix", func(c *Config) {
			c.MQTT.Enabled = true
			c.MQTT.TopicPrefix = "home/#"
		}, "mqtt.topic_prefix"},
		{"mqtt qos", func(c *Config) {
			c.MQTT.Enabled = true
			c.MQTT.QoS = 3
		}, "mqtt.qos"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)

			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, fieldsOf(t, err), tt.field)
		})
	}
}

func TestValidateEnabledIntegrations(t *testing.T) {
	clearEnv(t)

	cfg := DefaultConfig()
	cfg.Metrics.Enabled = true
	cfg.MQTT.Enabled = true
	assert.NoError(t, cfg.Validate())
}

func TestValidationErrorsMessage(t *testing.T) {
	errs := ValidationErrors{
		{Field: "a", Message: "bad"},
		{Field: "b", Message: "worse"},
	}
	assert.Equal(t, "config: a: bad; config: b: worse", errs.Error())
	assert.Empty(t, ValidationErrors{}.Error())
}

func TestSaveRoundTrip(t *testing.T) {
	clearEnv(t)

	for _, ext := range SupportedConfigFormats() {
		t.Run(strings.TrimPrefix(ext, "."), func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "nested", "config"+ext)

			cfg := DefaultConfig()
			cfg.Detection.TriggerKey = "volume_mute"
			cfg.Detection.ForcePolling = true
			cfg.MQTT.Enabled = true
			require.NoError(t, Save(cfg, path))

			info, err := os.Stat(path)
			require.NoError(t, err)
			if os.PathSeparator == '/' {
				assert.Equal(t, os.FileMode(0600), info.Mode().Perm())
			}
			_, err = os.Stat(path + ".tmp")
			assert.True(t, os.IsNotExist(err))

			loaded, err := Load(path)
			require.NoError(t, err)
			assert.Equal(t, cfg.Detection, loaded.Detection)
			assert.Equal(t, cfg.MQTT, loaded.MQTT)
			assert.Equal(t, cfg.Logging, loaded.Logging)
		})
	}
}

func TestClone(t *testing.T) {
	clearEnv(t)

	cfg := DefaultConfig()
	clone := cfg.Clone()
	clone.Detection.TriggerKey = "space"

	assert.Equal(t, "escape", cfg.Detection.TriggerKey)
	assert.Equal(t, cfg.Journal, clone.Journal)
}

func TestLoggerConfig(t *testing.T) {
	clearEnv(t)

	cfg := DefaultConfig()
	cfg.Logging.Level = "debug"
	cfg.Logging.Format = "json"
	cfg.Logging.MaxSizeMB = 5

	lc, err := cfg.LoggerConfig()
	require.NoError(t, err)
	assert.Equal(t, logging.LevelDebug, lc.Level)
	assert.Equal(t, logging.FormatJSON, lc.Format)
	assert.Equal(t, int64(5), lc.MaxSize)
	assert.Equal(t, cfg.Logging.FilePath, lc.FilePath)

	cfg.Logging.Level = "loud"
	_, err = cfg.LoggerConfig()
	assert.Error(t, err)
}

func TestLoaderLoadRejectsInvalid(t *testing.T) {
	clearEnv(t)

	path := filepath.Join(t.TempDir(), "config.toml")
	writeFile(t, path, "version = 1\n[detection]\ntrigger_key = \"f13\"\n")

	l := NewLoader(path)
	defer l.Close()

	_, err := l.Load()
	require.Error(t, err)
	assert.Nil(t, l.Config())
}

func TestLoaderWatchReloads(t *testing.T) {
	clearEnv(t)

	path := filepath.Join(t.TempDir(), "config.toml")
	writeFile(t, path, "version = 1\n[detection]\ndebounce_window_ms = 3000\n")

	l := NewLoader(path)
	defer l.Close()

	cfg, err := l.Load()
	require.NoError(t, err)
	assert.Equal(t, 3*time.Second, cfg.DebounceWindow())

	changed := make(chan *Config, 4)
	l.OnChange(func(c *Config) { changed <- c })
	require.NoError(t, l.Watch())

	writeFile(t, path, "version = 1\n[detection]\ndebounce_window_ms = 500\n")

	select {
	case c := <-changed:
		assert.Equal(t, 500*time.Millisecond, c.DebounceWindow())
	case <-time.After(5 * time.Second):
		t.Fatal("no reload observed")
	}
	assert.Eventually(t, func() bool {
		return l.Config().DebounceWindow() == 500*time.Millisecond
	}, time.Second, 10*time.Millisecond)
}

func TestLoaderWatchKeepsConfigOnInvalidReload(t *testing.T) {
	clearEnv(t)

	path := filepath.Join(t.TempDir(), "config.toml")
	writeFile(t, path, "version = 1\n")

	l := NewLoader(path)
	defer l.Close()

	_, err := l.Load()
	require.NoError(t, err)
	require.NoError(t, l.Watch())

	writeFile(t, path, "version = 1\n[detection]\npoll_interval_ms = 5\n")

	select {
	case err := <-l.Errors():
		assert.Contains(t, err.Error(), "reload config")
	case <-time.After(5 * time.Second):
		t.Fatal("no reload error observed")
	}
	assert.Equal(t, time.Second, l.Config().PollInterval())
}

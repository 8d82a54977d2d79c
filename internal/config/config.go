// Package config handles configuration loading, validation, and hot reload
// for autopause.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"

	"autopause/internal/logging"
	"autopause/internal/trigger"
)

// Version is the current configuration schema version.
const Version = 1

// Config holds the complete configuration.
type Config struct {
	// Version is the configuration schema version.
	Version int `toml:"version" json:"version" yaml:"version"`

	// Detection tunes the disconnection engine.
	Detection DetectionConfig `toml:"detection" json:"detection" yaml:"detection"`

	// Logging configuration.
	Logging LoggingConfig `toml:"logging" json:"logging" yaml:"logging"`

	// Journal is the trigger history database.
	Journal JournalConfig `toml:"journal" json:"journal" yaml:"journal"`

	// Metrics is the optional Prometheus endpoint.
	Metrics MetricsConfig `toml:"metrics" json:"metrics" yaml:"metrics"`

	// MQTT is the optional trigger publication.
	MQTT MQTTConfig `toml:"mqtt" json:"mqtt" yaml:"mqtt"`

	mu sync.RWMutex `toml:"-" json:"-" yaml:"-"`
}

// DetectionConfig holds engine settings.
type DetectionConfig struct {
	// PollIntervalMs is the polling fallback cadence.
	PollIntervalMs int `toml:"poll_interval_ms" json:"poll_interval_ms" yaml:"poll_interval_ms"`

	// DebounceWindowMs is the global trigger cooldown.
	DebounceWindowMs int `toml:"debounce_window_ms" json:"debounce_window_ms" yaml:"debounce_window_ms"`

	// TriggerKey names the injected key ("escape", "space", "media_playpause", ...).
	TriggerKey string `toml:"trigger_key" json:"trigger_key" yaml:"trigger_key"`

	// ForcePolling skips notification subscriptions.
	ForcePolling bool `toml:"force_polling" json:"force_polling" yaml:"force_polling"`

	// EventBuffer is the notification channel capacity.
	EventBuffer int `toml:"event_buffer" json:"event_buffer" yaml:"event_buffer"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	// Level is the log level: "debug", "info", "warn", "error".
	Level string `toml:"level" json:"level" yaml:"level"`

	// Format is the log format: "text" or "json".
	Format string `toml:"format" json:"format" yaml:"format"`

	// Output is "file", "stdout", "stderr", "both" or "discard". The
	// interactive menu owns the terminal, so the default is "file".
	Output string `toml:"output" json:"output" yaml:"output"`

	// FilePath is the log file path.
	FilePath string `toml:"file_path" json:"file_path" yaml:"file_path"`

	// MaxSizeMB is the maximum log file size before rotation.
	MaxSizeMB int `toml:"max_size_mb" json:"max_size_mb" yaml:"max_size_mb"`

	// MaxBackups is the number of rotated files to keep.
	MaxBackups int `toml:"max_backups" json:"max_backups" yaml:"max_backups"`

	// Compress gzips rotated files.
	Compress bool `toml:"compress" json:"compress" yaml:"compress"`
}

// JournalConfig holds trigger history settings.
type JournalConfig struct {
	Enabled bool   `toml:"enabled" json:"enabled" yaml:"enabled"`
	Path    string `toml:"path" json:"path" yaml:"path"`
}

// MetricsConfig holds the Prometheus endpoint settings.
type MetricsConfig struct {
	Enabled bool `toml:"enabled" json:"enabled" yaml:"enabled"`

	// Listen is the host:port of the /metrics endpoint.
	Listen string `toml:"listen" json:"listen" yaml:"listen"`
}

// MQTTConfig holds broker settings for trigger publication.
type MQTTConfig struct {
	Enabled bool `toml:"enabled" json:"enabled" yaml:"enabled"`

	// Broker is the broker URL, e.g. "tcp://localhost:1883".
	Broker   string `toml:"broker" json:"broker" yaml:"broker"`
	ClientID string `toml:"client_id" json:"client_id" yaml:"client_id"`
	Username string `toml:"username" json:"username" yaml:"username"`
	Password string `toml:"password" json:"password" yaml:"password"`

	// TopicPrefix roots the trigger and status topics.
	TopicPrefix string `toml:"topic_prefix" json:"topic_prefix" yaml:"topic_prefix"`

	// QoS is 0, 1 or 2.
	QoS int `toml:"qos" json:"qos" yaml:"qos"`
}

// DefaultConfig returns the configuration used when no file exists.
func DefaultConfig() *Config {
	dataDir := DataDir()
	hostname, _ := os.Hostname()
	if hostname == "" {
		hostname = "localhost"
	}

	return &Config{
		Version: Version,
		Detection: DetectionConfig{
			PollIntervalMs:   1000,
			DebounceWindowMs: 3000,
			TriggerKey:       "escape",
			EventBuffer:      64,
		},
		Logging: LoggingConfig{
			Level:      "info",
			Format:     "text",
			Output:     "file",
			FilePath:   logging.DefaultLogPath(),
			MaxSizeMB:  10,
			MaxBackups: 3,
			Compress:   true,
		},
		Journal: JournalConfig{
			Enabled: true,
			Path:    filepath.Join(dataDir, "journal.db"),
		},
		Metrics: MetricsConfig{
			Listen: "127.0.0.1:9464",
		},
		MQTT: MQTTConfig{
			Broker:      "tcp://localhost:1883",
			ClientID:    "autopause-" + hostname,
			TopicPrefix: "autopause/" + strings.ToLower(hostname),
			QoS:         1,
		},
	}
}

// ConfigPath returns the default configuration file path.
func ConfigPath() string {
	return filepath.Join(DataDir(), "config.toml")
}

// Load reads configuration from path. A missing file yields the defaults.
// The decoder is picked by extension (.toml, .json, .yaml/.yml); unknown
// extensions are tried as TOML, JSON then YAML. Environment overrides are
// applied after decoding.
func Load(path string) (*Config, error) {
	if path == "" {
		path = ConfigPath()
	}

	cfg, err := loadConfigFromFile(path)
	if err != nil {
		return nil, err
	}
	cfg.ApplyEnvOverrides()
	return cfg, nil
}

func loadConfigFromFile(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("read config: %w", err)
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		if _, err := toml.Decode(string(data), cfg); err != nil {
			return nil, fmt.Errorf("decode TOML: %w", err)
		}
	case ".json":
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("decode JSON: %w", err)
		}
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("decode YAML: %w", err)
		}
	default:
		if err := autoDetectAndParse(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}
	return cfg, nil
}

func autoDetectAndParse(data []byte, cfg *Config) error {
	if _, err := toml.Decode(string(data), cfg); err == nil {
		return nil
	}
	if err := json.Unmarshal(data, cfg); err == nil {
		return nil
	}
	if err := yaml.Unmarshal(data, cfg); err == nil {
		return nil
	}
	return fmt.Errorf("unable to parse config file (tried TOML, JSON, YAML)")
}

// Save writes cfg to path in the format implied by the extension (TOML by
// default). The file is replaced atomically with owner-only permissions.
func Save(cfg *Config, path string) error {
	cfg.mu.RLock()
	defer cfg.mu.RUnlock()

	var (
		data []byte
		err  error
	)
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		data, err = json.MarshalIndent(cfg, "", "  ")
	case ".yaml", ".yml":
		data, err = yaml.Marshal(cfg)
	default:
		var buf strings.Builder
		err = toml.NewEncoder(&buf).Encode(cfg)
		data = []byte(buf.String())
	}
	if err != nil {
		return fmt.Errorf("encode config: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0600); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("replace config: %w", err)
	}
	return nil
}

// ApplyEnvOverrides applies AUTOPAUSE_* environment variables.
func (c *Config) ApplyEnvOverrides() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if v := os.Getenv("AUTOPAUSE_TRIGGER_KEY"); v != "" {
		c.Detection.TriggerKey = v
	}
	if v := os.Getenv("AUTOPAUSE_FORCE_POLLING"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			c.Detection.ForcePolling = b
		}
	}
	if v := os.Getenv("AUTOPAUSE_DEBOUNCE_MS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Detection.DebounceWindowMs = n
		}
	}

	if v := os.Getenv("AUTOPAUSE_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
	if v := os.Getenv("AUTOPAUSE_LOG_PATH"); v != "" {
		c.Logging.FilePath = v
	}

	if v := os.Getenv("AUTOPAUSE_JOURNAL_PATH"); v != "" {
		c.Journal.Path = v
	}
	if v := os.Getenv("AUTOPAUSE_METRICS_LISTEN"); v != "" {
		c.Metrics.Listen = v
	}

	// Broker credentials from env keep secrets out of the file.
	if v := os.Getenv("AUTOPAUSE_MQTT_BROKER"); v != "" {
		c.MQTT.Broker = v
	}
	if v := os.Getenv("AUTOPAUSE_MQTT_USERNAME"); v != "" {
		c.MQTT.Username = v
	}
	if v := os.Getenv("AUTOPAUSE_MQTT_PASSWORD"); v != "" {
		c.MQTT.Password = v
	}
}

// Clone returns a copy of the configuration.
func (c *Config) Clone() *Config {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return &Config{
		Version:   c.Version,
		Detection: c.Detection,
		Logging:   c.Logging,
		Journal:   c.Journal,
		Metrics:   c.Metrics,
		MQTT:      c.MQTT,
	}
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	return ValidateConfig(c)
}

// PollInterval returns the polling cadence.
func (c *Config) PollInterval() time.Duration {
	return time.Duration(c.Detection.PollIntervalMs) * time.Millisecond
}

// DebounceWindow returns the trigger cooldown.
func (c *Config) DebounceWindow() time.Duration {
	return time.Duration(c.Detection.DebounceWindowMs) * time.Millisecond
}

// TriggerKey resolves the configured key.
func (c *Config) TriggerKey() (trigger.Key, error) {
	return trigger.ParseKey(c.Detection.TriggerKey)
}

// LoggerConfig converts the logging section for logging.New.
func (c *Config) LoggerConfig() (*logging.Config, error) {
	level, err := logging.ParseLevel(c.Logging.Level)
	if err != nil {
		return nil, err
	}
	format, err := logging.ParseFormat(c.Logging.Format)
	if err != nil {
		return nil, err
	}

	lc := logging.DefaultConfig()
	lc.Level = level
	lc.Format = format
	lc.Output = c.Logging.Output
	lc.FilePath = c.Logging.FilePath
	lc.MaxSize = int64(c.Logging.MaxSizeMB)
	lc.MaxBackups = c.Logging.MaxBackups
	lc.Compress = c.Logging.Compress
	return lc, nil
}

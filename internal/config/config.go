package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"
)

// Config represents the complete application configuration
type Config struct {
	Server        ServerConfig        `yaml:"server"`
	NATS          NATSConfig          `yaml:"nats"`
	ReadState     ReadStateConfig     `yaml:"read_state"`
	Notifications NotificationsConfig `yaml:"notifications"`
	Notifier      NotifierConfig      `yaml:"notifier"`
	Logging       LoggingConfig       `yaml:"logging"`
	Telemetry     TelemetryConfig     `yaml:"telemetry"`
	Metrics       MetricsConfig       `yaml:"metrics"`
}

// ServerConfig contains HTTP server settings
type ServerConfig struct {
	Addr         string `yaml:"addr"`
	MaxBodySize  int    `yaml:"max_body_size"`
	ReadTimeout  int    `yaml:"read_timeout"`
	WriteTimeout int    `yaml:"write_timeout"`
	IdleTimeout  int    `yaml:"idle_timeout"`
}

// NATSConfig contains message broker connection settings
type NATSConfig struct {
	URL                   string `yaml:"url"`
	User                  string `yaml:"user"`
	Password              string `yaml:"password"`
	ClientName            string `yaml:"client_name"`
	ConnectTimeoutSeconds int    `yaml:"connect_timeout_seconds"`
}

// ReadStateConfig contains read-state store settings
type ReadStateConfig struct {
	// Backend selection: "jetstream" (broker-side KV) or "badger" (embedded)
	Backend string `yaml:"backend"`

	// Data directory for the embedded backend
	DataDir string `yaml:"data_dir"`

	// Badger value-log GC interval in minutes (embedded backend only)
	GCIntervalMinutes int `yaml:"gc_interval_minutes"`
}

// NotificationsConfig contains notification service settings
type NotificationsConfig struct {
	// Liveness window for toast-style surfacing, in milliseconds
	LiveWindowMs int `yaml:"live_window_ms"`

	// Buffer size for subscriber update channels
	SubscriberBuffer int `yaml:"subscriber_buffer"`

	// Capacity of the seen-message-ID dedup cache
	SeenCacheSize int `yaml:"seen_cache_size"`

	// Optional session bootstrapped at startup
	User     string   `yaml:"user"`
	Projects []string `yaml:"projects"`
}

// NotifierConfig contains real-time fan-out settings
type NotifierConfig struct {
	MaxIdleTime              int `yaml:"max_idle_time"`
	HeartbeatInterval        int `yaml:"heartbeat_interval"`
	BroadcastBufferSize      int `yaml:"broadcast_buffer_size"`
	BroadcastFlushIntervalMs int `yaml:"broadcast_flush_interval_ms"`
}

// LoggingConfig contains logging settings
type LoggingConfig struct {
	Level         string            `yaml:"level"`
	Format        string            `yaml:"format"`
	IncludeCaller bool              `yaml:"include_caller"`
	GlobalFields  map[string]string `yaml:"global_fields"`
}

// TelemetryConfig contains OpenTelemetry settings
type TelemetryConfig struct {
	Enabled       bool              `yaml:"enabled"`
	ServiceName   string            `yaml:"service_name"`
	Endpoint      string            `yaml:"endpoint"`
	SamplingRatio float64           `yaml:"sampling_ratio"`
	Attributes    map[string]string `yaml:"attributes"`
}

// MetricsConfig contains metrics settings
type MetricsConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Endpoint string `yaml:"endpoint"`
}

// DefaultConfig returns a configuration with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Addr:         ":8080",
			MaxBodySize:  1048576, // 1MB
			ReadTimeout:  5,
			WriteTimeout: 10,
			IdleTimeout:  120,
		},
		NATS: NATSConfig{
			URL:                   "nats://localhost:4222",
			ClientName:            "marketplace-notify",
			ConnectTimeoutSeconds: 5,
		},
		ReadState: ReadStateConfig{
			Backend:           "jetstream",
			DataDir:           "./data",
			GCIntervalMinutes: 10,
		},
		Notifications: NotificationsConfig{
			LiveWindowMs:     5000,
			SubscriberBuffer: 100,
			SeenCacheSize:    4096,
		},
		Notifier: NotifierConfig{
			MaxIdleTime:              30,
			HeartbeatInterval:        5,
			BroadcastBufferSize:      200,
			BroadcastFlushIntervalMs: 50,
		},
		Logging: LoggingConfig{
			Level:         "info",
			Format:        "json",
			IncludeCaller: true,
			GlobalFields:  map[string]string{},
		},
		Telemetry: TelemetryConfig{
			Enabled:       false,
			ServiceName:   "marketplace-notify",
			Endpoint:      "localhost:4317",
			SamplingRatio: 0.1,
			Attributes:    map[string]string{},
		},
		Metrics: MetricsConfig{
			Enabled:  true,
			Endpoint: "/metrics",
		},
	}
}

// LoadConfigFromFile loads configuration from a YAML file
func LoadConfigFromFile(filePath string) (*Config, error) {
	config := DefaultConfig()

	data, err := os.ReadFile(filePath)
	if err != nil {
		if os.IsNotExist(err) {
			log.Warn().Str("file", filePath).Msg("Configuration file not found, using defaults")
			return config, nil
		}
		return nil, fmt.Errorf("error reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("error parsing config file: %w", err)
	}

	return config, nil
}

// LoadConfig loads configuration from file, environment variables, and flags
func LoadConfig(configFile string, natsURL string, serverAddr string, logLevel string) (*Config, error) {
	var config *Config
	var err error

	if configFile != "" {
		config, err = LoadConfigFromFile(configFile)
		if err != nil {
			return nil, err
		}
	} else {
		config = DefaultConfig()
	}

	// Override with environment variables
	applyEnvOverrides(config)

	// Override with command line flags (highest priority)
	if natsURL != "" {
		config.NATS.URL = natsURL
	}

	if serverAddr != "" {
		config.Server.Addr = serverAddr
	}

	if logLevel != "" {
		config.Logging.Level = logLevel
	}

	return config, nil
}

// applyEnvOverrides applies environment variable overrides to the configuration
func applyEnvOverrides(config *Config) {
	if addr := os.Getenv("NOTIFY_SERVER_ADDR"); addr != "" {
		config.Server.Addr = addr
	}

	if url := os.Getenv("NOTIFY_NATS_URL"); url != "" {
		config.NATS.URL = url
	}
	if user := os.Getenv("NOTIFY_NATS_USER"); user != "" {
		config.NATS.User = user
	}
	if password := os.Getenv("NOTIFY_NATS_PASSWORD"); password != "" {
		config.NATS.Password = password
	}

	if backend := os.Getenv("NOTIFY_READSTATE_BACKEND"); backend != "" {
		config.ReadState.Backend = backend
	}
	if dataDir := os.Getenv("NOTIFY_READSTATE_DATA_DIR"); dataDir != "" {
		config.ReadState.DataDir = dataDir
	}

	if user := os.Getenv("NOTIFY_SESSION_USER"); user != "" {
		config.Notifications.User = user
	}
	if projects := os.Getenv("NOTIFY_SESSION_PROJECTS"); projects != "" {
		config.Notifications.Projects = splitAndTrim(projects)
	}
	if windowStr := os.Getenv("NOTIFY_LIVE_WINDOW_MS"); windowStr != "" {
		if val, err := strconv.Atoi(windowStr); err == nil {
			config.Notifications.LiveWindowMs = val
		}
	}

	if level := os.Getenv("NOTIFY_LOG_LEVEL"); level != "" {
		config.Logging.Level = level
	}
	if format := os.Getenv("NOTIFY_LOG_FORMAT"); format != "" {
		config.Logging.Format = format
	}
}

// splitAndTrim splits a comma-separated list, dropping empty entries
func splitAndTrim(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

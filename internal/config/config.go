// Package config loads fixsim's runtime settings with viper: a YAML file
// plus FIXSIM_-prefixed environment overrides layered over defaults, the
// same pattern as the teacher's LoadConfig/GetConfig/InitLogger trio,
// narrowed to this exchange's own sections (server, session, persistence,
// breaker, event bus, monitoring) in place of the teacher's
// websocket/peerjs/risk/auth blocks, which have no counterpart here.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/spf13/viper"
	"go.uber.org/zap"
)

// Config is the root of fixsim's settings tree.
type Config struct {
	// Server configuration
	Server struct {
		Host string `mapstructure:"host"`
		Port int    `mapstructure:"port"`
	} `mapstructure:"server"`

	// Session configuration
	Session struct {
		// HeartBtIntSeconds is the configured default heartbeat interval.
		// The session layer does not read it: Logon accepts any positive
		// HeartBtInt and each peer's value is used verbatim.
		HeartBtIntSeconds  int  `mapstructure:"heartbeat_interval_seconds" yaml:"heartbeat_interval_seconds"`
		WriteTimeoutMillis int  `mapstructure:"write_timeout_millis" yaml:"write_timeout_millis"`
		CancelOnDisconnect bool `mapstructure:"cancel_on_disconnect" yaml:"cancel_on_disconnect"`
		WritePoolSize      int  `mapstructure:"write_pool_size" yaml:"write_pool_size"`
	} `mapstructure:"session"`

	// Persistence configuration
	Persistence struct {
		Driver string `mapstructure:"driver"` // "memory" or "postgres"
		DSN    string `mapstructure:"dsn"`
	} `mapstructure:"persistence"`

	// Breaker configuration for the persistence circuit breaker
	Breaker struct {
		MaxConsecutiveFailures uint32 `mapstructure:"max_consecutive_failures" yaml:"max_consecutive_failures"`
		OpenTimeoutSeconds     int    `mapstructure:"open_timeout_seconds" yaml:"open_timeout_seconds"`
	} `mapstructure:"breaker"`

	// EventBus configuration
	EventBus struct {
		SubscriberBufferSize int `mapstructure:"subscriber_buffer_size" yaml:"subscriber_buffer_size"`
	} `mapstructure:"event_bus" yaml:"event_bus"`

	// Monitoring configuration
	Monitoring struct {
		PrometheusPort int    `mapstructure:"prometheus_port" yaml:"prometheus_port"`
		LogLevel       string `mapstructure:"log_level" yaml:"log_level"`
	} `mapstructure:"monitoring"`
}

var (
	config *Config
	once   sync.Once
)

// LoadConfig loads the configuration from the specified directory.
func LoadConfig(configPath string) (*Config, error) {
	var err error

	once.Do(func() {
		config = &Config{}

		setDefaults()

		v := viper.New()
		v.SetConfigName("config")
		v.SetConfigType("yaml")

		if configPath != "" {
			v.AddConfigPath(configPath)
		} else {
			v.AddConfigPath(".")
			v.AddConfigPath("./config")
			v.AddConfigPath("/etc/fixsim")
		}

		v.AutomaticEnv()
		v.SetEnvPrefix("FIXSIM")

		if err = v.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				err = fmt.Errorf("failed to read config file: %w", err)
				return
			}
			// Config file not found, using defaults and environment variables.
			err = nil
		}

		if err = v.Unmarshal(config); err != nil {
			err = fmt.Errorf("failed to unmarshal config: %w", err)
			return
		}
	})

	return config, err
}

// GetConfig returns the process-wide configuration, loading it with
// defaults if it has not been loaded yet.
func GetConfig() *Config {
	if config == nil {
		_, err := LoadConfig("")
		if err != nil {
			panic(fmt.Sprintf("failed to load config: %v", err))
		}
	}
	return config
}

// SaveConfig writes cfg to path as JSON, creating parent directories as
// needed. Used by operators to snapshot an effective (defaults +
// environment-resolved) configuration for inspection.
func SaveConfig(cfg *Config, path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

func setDefaults() {
	setDefaultsOn(config)
}

// setDefaultsOn applies the same defaults as setDefaults to an arbitrary
// Config, used by LoadConfigFromFile which unmarshals independently of the
// package-level singleton.
func setDefaultsOn(cfg *Config) {
	cfg.Server.Host = "0.0.0.0"
	cfg.Server.Port = 9878

	cfg.Session.HeartBtIntSeconds = 30
	cfg.Session.WriteTimeoutMillis = 5000
	cfg.Session.CancelOnDisconnect = false
	cfg.Session.WritePoolSize = 64

	cfg.Persistence.Driver = "memory"

	cfg.Breaker.MaxConsecutiveFailures = 5
	cfg.Breaker.OpenTimeoutSeconds = 10

	cfg.EventBus.SubscriberBufferSize = 256

	cfg.Monitoring.PrometheusPort = 9090
	cfg.Monitoring.LogLevel = "info"
}

// InitLogger builds a zap.Logger whose encoder follows cfg.Monitoring.LogLevel.
func InitLogger(cfg *Config) (*zap.Logger, error) {
	var logger *zap.Logger
	var err error

	switch cfg.Monitoring.LogLevel {
	case "debug":
		logger, err = zap.NewDevelopment()
	case "info", "warn", "error":
		logger, err = zap.NewProduction()
	default:
		logger, err = zap.NewProduction()
	}

	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}

	return logger, nil
}

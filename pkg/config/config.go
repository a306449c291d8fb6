// Package config provides configuration loading and validation for the
// calipergo runtime and its services, using a Viper-based namespaced
// loader: defaults set on a *viper.Viper, a config file merged on top,
// then CALIPERGO_* environment variables, unmarshaled into a single
// struct and validated before use.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"

	"github.com/spf13/viper"
)

// Sentinel validation errors.
var (
	ErrInvalidBlockSize    = errors.New("arena block size must be positive")
	ErrInvalidOTLPEndpoint = errors.New("otel endpoint set but exporter disabled")
	ErrInvalidPromPort     = errors.New("invalid prometheus listen port")
)

// Default configuration values.
const (
	defaultBlockSize = 1024
	defaultPromPort  = 9464
	maxPort          = 65535
)

// Config holds all configuration for a calipergo Runtime and the services
// that register against it.
type Config struct {
	Caliper    CaliperConfig    `mapstructure:"caliper"`
	OTel       OTelConfig       `mapstructure:"otel"`
	Prometheus PrometheusConfig `mapstructure:"prometheus"`
	Table      TableConfig      `mapstructure:"table"`
	Delta      DeltaConfig      `mapstructure:"delta"`
	Recorder   RecorderConfig   `mapstructure:"recorder"`
	Logging    LoggingConfig    `mapstructure:"logging"`
}

// CaliperConfig holds the runtime's own core options.
type CaliperConfig struct {
	Automerge bool `mapstructure:"automerge"`
	BlockSize int  `mapstructure:"block_size"`
}

// OTelConfig controls the otelservice trace-writer.
type OTelConfig struct {
	Enabled        bool   `mapstructure:"enabled"`
	Endpoint       string `mapstructure:"endpoint"`
	ServiceName    string `mapstructure:"service_name"`
	Insecure       bool   `mapstructure:"insecure"`
	AttributeAllow []string `mapstructure:"attribute_allow"`
}

// PrometheusConfig controls the promservice metrics exporter.
type PrometheusConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Listen  string `mapstructure:"listen"`
	Port    int    `mapstructure:"port"`
	Path    string `mapstructure:"path"`
}

// TableConfig controls the tableservice console reporter.
type TableConfig struct {
	Enabled bool `mapstructure:"enabled"`
	Color   bool `mapstructure:"color"`
}

// DeltaConfig controls the deltaservice diff reporter.
type DeltaConfig struct {
	Enabled bool `mapstructure:"enabled"`
}

// RecorderConfig controls the recorderservice compressed-record writer.
type RecorderConfig struct {
	Enabled     bool   `mapstructure:"enabled"`
	Directory   string `mapstructure:"directory"`
	FilePattern string `mapstructure:"file_pattern"`
}

// LoggingConfig holds logging-specific configuration.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
	Output string `mapstructure:"output"`
}

// LoadConfig loads configuration from file and environment variables. A
// config file that does not exist is not an error: defaults and the
// environment still apply.
func LoadConfig(configPath string) (*Config, error) {
	viperCfg := viper.New()

	setDefaults(viperCfg)

	if configPath != "" {
		viperCfg.SetConfigFile(configPath)
	} else {
		viperCfg.SetConfigName("calipergo")
		viperCfg.SetConfigType("yaml")
		viperCfg.AddConfigPath(".")
		viperCfg.AddConfigPath("./config")
		viperCfg.AddConfigPath("/etc/calipergo")
	}

	viperCfg.SetEnvPrefix("CALIPERGO")
	viperCfg.AutomaticEnv()
	viperCfg.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	readErr := viperCfg.ReadInConfig()
	if readErr != nil {
		var notFoundErr viper.ConfigFileNotFoundError
		if !errors.As(readErr, &notFoundErr) && !errors.Is(readErr, fs.ErrNotExist) {
			return nil, fmt.Errorf("failed to read config file: %w", readErr)
		}
	}

	var cfg Config

	unmarshalErr := viperCfg.Unmarshal(&cfg)
	if unmarshalErr != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", unmarshalErr)
	}

	if validateErr := validateConfig(&cfg); validateErr != nil {
		return nil, fmt.Errorf("invalid configuration: %w", validateErr)
	}

	return &cfg, nil
}

// setDefaults sets default configuration values.
func setDefaults(viperCfg *viper.Viper) {
	viperCfg.SetDefault("caliper.automerge", true)
	viperCfg.SetDefault("caliper.block_size", defaultBlockSize)

	viperCfg.SetDefault("otel.enabled", false)
	viperCfg.SetDefault("otel.service_name", "calipergo")
	viperCfg.SetDefault("otel.insecure", true)
	viperCfg.SetDefault("otel.attribute_allow", []string{})

	viperCfg.SetDefault("prometheus.enabled", false)
	viperCfg.SetDefault("prometheus.listen", "0.0.0.0")
	viperCfg.SetDefault("prometheus.port", defaultPromPort)
	viperCfg.SetDefault("prometheus.path", "/metrics")

	viperCfg.SetDefault("table.enabled", true)
	viperCfg.SetDefault("table.color", true)

	viperCfg.SetDefault("delta.enabled", false)

	viperCfg.SetDefault("recorder.enabled", false)
	viperCfg.SetDefault("recorder.directory", "./caliper-records")
	viperCfg.SetDefault("recorder.file_pattern", "snapshot-%d.cali.lz4")

	viperCfg.SetDefault("logging.level", "info")
	viperCfg.SetDefault("logging.format", "json")
	viperCfg.SetDefault("logging.output", "stdout")
}

// validateConfig validates the configuration.
func validateConfig(cfg *Config) error {
	if cfg.Caliper.BlockSize <= 0 {
		return fmt.Errorf("%w: %d", ErrInvalidBlockSize, cfg.Caliper.BlockSize)
	}

	if cfg.OTel.Endpoint != "" && !cfg.OTel.Enabled {
		return ErrInvalidOTLPEndpoint
	}

	if cfg.Prometheus.Port <= 0 || cfg.Prometheus.Port > maxPort {
		return fmt.Errorf("%w: %d", ErrInvalidPromPort, cfg.Prometheus.Port)
	}

	return nil
}

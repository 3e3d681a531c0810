package config

// Package config provides a reusable loader for the host runtime's
// configuration files and environment variables. It is versioned so that
// applications can depend on a stable API contract.
//
// Version: v0.1.0

import (
	"fmt"

	"github.com/spf13/viper"

	"hostruntime/pkg/utils"
)

// Version is the semantic version of this configuration package.
const Version = "v0.1.0"

// Config represents the unified configuration for a host runtime process. It
// mirrors the structure of the YAML files under cmd/config.
type Config struct {
	Storage struct {
		Backend string `mapstructure:"backend" json:"backend"`
		DBPath  string `mapstructure:"db_path" json:"db_path"`
	} `mapstructure:"storage" json:"storage"`

	Engine struct {
		FuelLimit        uint64 `mapstructure:"fuel_limit" json:"fuel_limit"`
		CodeCacheSize    int    `mapstructure:"code_cache_size" json:"code_cache_size"`
		MaxMemoryPages   uint32 `mapstructure:"max_memory_pages" json:"max_memory_pages"`
	} `mapstructure:"engine" json:"engine"`

	HTTP struct {
		ListenAddr string `mapstructure:"listen_addr" json:"listen_addr"`
	} `mapstructure:"http" json:"http"`

	WS struct {
		ListenAddr        string `mapstructure:"listen_addr" json:"listen_addr"`
		InboundBufferSize int    `mapstructure:"inbound_buffer_size" json:"inbound_buffer_size"`
	} `mapstructure:"ws" json:"ws"`

	Schedule struct {
		MinPeriodMS    int `mapstructure:"min_period_ms" json:"min_period_ms"`
		RetryMaxBackoffMS int `mapstructure:"retry_max_backoff_ms" json:"retry_max_backoff_ms"`
	} `mapstructure:"schedule" json:"schedule"`

	RateLimit struct {
		RequestsPerSecond float64 `mapstructure:"requests_per_second" json:"requests_per_second"`
		Burst             int     `mapstructure:"burst" json:"burst"`
	} `mapstructure:"rate_limit" json:"rate_limit"`

	Logging struct {
		Level string `mapstructure:"level" json:"level"`
		File  string `mapstructure:"file" json:"file"`
	} `mapstructure:"logging" json:"logging"`
}

// AppConfig holds the configuration loaded via Load or LoadFromEnv.
var AppConfig Config

// Load reads configuration files and merges any environment specific
// overrides. The resulting configuration is stored in AppConfig and returned.
//
// The function uses the provided environment name to merge additional config
// files. If env is empty, only the default configuration is loaded.
func Load(env string) (*Config, error) {
	viper.SetConfigName("default")
	viper.AddConfigPath("cmd/config")
	viper.AddConfigPath("config")
	viper.SetConfigType("yaml")
	if err := viper.ReadInConfig(); err != nil {
		return nil, utils.Wrap(err, "load config")
	}

	if env != "" {
		viper.SetConfigName(env)
		if err := viper.MergeInConfig(); err != nil {
			return nil, utils.Wrap(err, fmt.Sprintf("merge %s config", env))
		}
	}

	viper.SetEnvPrefix("HOSTRUNTIME")
	viper.AutomaticEnv()

	if err := viper.Unmarshal(&AppConfig); err != nil {
		return nil, utils.Wrap(err, "unmarshal config")
	}
	return &AppConfig, nil
}

// LoadFromEnv loads configuration using the HOSTRUNTIME_ENV environment variable.
func LoadFromEnv() (*Config, error) {
	return Load(utils.EnvOrDefault("HOSTRUNTIME_ENV", ""))
}

// Package config loads the CLI's yaml configuration. Values may
// reference environment variables with ${VAR} syntax; expansion happens
// before decoding so secrets stay out of the file.
package config

import (
	"bytes"
	"fmt"
	"os"

	"github.com/spf13/viper"
)

// Config holds all configuration for the CLI.
type Config struct {
	Application ApplicationConfig `mapstructure:"application"`
	Credentials CredentialsConfig `mapstructure:"credentials"`
	Query       QueryConfig       `mapstructure:"query"`
	Logging     LoggingConfig     `mapstructure:"logging"`
}

type ApplicationConfig struct {
	Name          string `mapstructure:"name"`
	Environment   string `mapstructure:"environment"`
	EnvironmentID string `mapstructure:"environment_id"`
}

type CredentialsConfig struct {
	ClientID     string `mapstructure:"client_id"`
	ClientSecret string `mapstructure:"client_secret"`
	TenantID     string `mapstructure:"tenant_id"`
}

type QueryConfig struct {
	APIVersion     string  `mapstructure:"api_version"`
	Concurrency    int     `mapstructure:"concurrency"`
	RateLimit      float64 `mapstructure:"rate_limit"`
	RateBurst      int     `mapstructure:"rate_burst"`
	TimeoutSeconds int     `mapstructure:"timeout_seconds"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// Load reads configuration from the file at path, expanding environment
// variable references first.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	expanded := os.ExpandEnv(string(data))

	v := viper.New()
	v.SetConfigType("yaml")
	setDefaults(v)
	if err := v.ReadConfig(bytes.NewBufferString(expanded)); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	return &config, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("application.name", "tsigo")

	v.SetDefault("query.api_version", "2020-07-31")
	v.SetDefault("query.concurrency", 4)
	v.SetDefault("query.rate_limit", 0.0)
	v.SetDefault("query.rate_burst", 1)
	v.SetDefault("query.timeout_seconds", 30)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
}

package server

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// Config holds the server configuration.
type Config struct {
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`
}

// Addr returns the listen address as host:port.
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// LoadConfig reads configuration from file and environment variables.
func LoadConfig(configPath string) (*viper.Viper, error) {
	v := viper.New()

	// Defaults
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.rate_limit_rps", 50.0)
	v.SetDefault("server.rate_limit_burst", 100)
	v.SetDefault("server.cors_origins", []string{})
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	// Plugin defaults
	v.SetDefault("plugins.energy.enabled", true)
	v.SetDefault("plugins.energy.buffer_size", 1000)
	v.SetDefault("plugins.energy.base_load_watts", 50.0)
	v.SetDefault("plugins.energy.min_train_samples", 50)
	v.SetDefault("plugins.energy.retrain_every", 50)
	v.SetDefault("plugins.energy.min_analytics_samples", 10)
	v.SetDefault("plugins.energy.cache_ttl", "15s")
	v.SetDefault("plugins.energy.anomaly_window", 168)
	v.SetDefault("plugins.energy.max_anomalies", 10)
	v.SetDefault("plugins.energy.change_window", "5m")
	v.SetDefault("plugins.energy.backfill_span", "72h")
	v.SetDefault("plugins.energy.backfill_stride", "10m")
	v.SetDefault("plugins.geofence.enabled", true)
	v.SetDefault("plugins.geofence.max_zones", 50)

	// Environment variables: WATTSCOPE_SERVER_PORT, etc.
	v.SetEnvPrefix("WATTSCOPE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Config file (optional)
	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config file %q: %w", configPath, err)
		}
		return v, nil
	}

	v.SetConfigName("wattscope")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("/etc/wattscope")
	if err := v.ReadInConfig(); err != nil {
		// Missing config file is fine; anything else is not.
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	return v, nil
}

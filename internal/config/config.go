// Package config loads the daemon configuration from a YAML file and the
// environment via viper. Environment variables override file values using the
// OMS_ prefix (OMS_TRADING_MODE, OMS_NATS_URL, ...).
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/brokermesh/oms/pkg/types"
)

// VenueEntry declares one venue to register at startup.
type VenueEntry struct {
	ID        string `mapstructure:"id"`
	Type      string `mapstructure:"type"`
	Name      string `mapstructure:"name"`
	Primary   bool   `mapstructure:"primary"`
	APIKey    string `mapstructure:"api_key"`
	APISecret string `mapstructure:"api_secret"`
	BaseURL   string `mapstructure:"base_url"`
	Host      string `mapstructure:"host"`
	Port      int    `mapstructure:"port"`
	Paper     bool   `mapstructure:"paper"`
}

// VenueConfig converts the entry into the adapter-facing config struct.
func (e VenueEntry) VenueConfig() types.VenueConfig {
	return types.VenueConfig{
		APIKey:    e.APIKey,
		APISecret: e.APISecret,
		BaseURL:   e.BaseURL,
		Host:      e.Host,
		Port:      e.Port,
		Paper:     e.Paper,
	}
}

// NATSConfig configures the optional external event bridge. An empty URL
// disables the bridge.
type NATSConfig struct {
	URL           string `mapstructure:"url"`
	SubjectPrefix string `mapstructure:"subject_prefix"`
}

// Config is the full daemon configuration.
type Config struct {
	LogLevel       string        `mapstructure:"log_level"`
	TradingMode    string        `mapstructure:"trading_mode"`
	HealthInterval time.Duration `mapstructure:"health_interval"`
	ProbeTimeout   time.Duration `mapstructure:"probe_timeout"`
	NATS           NATSConfig    `mapstructure:"nats"`
	Venues         []VenueEntry  `mapstructure:"venues"`
}

// Load reads the configuration from path. Missing file is not an error when
// path is empty; defaults then apply.
func Load(path string) (*Config, error) {
	v := viper.New()

	v.SetDefault("log_level", "info")
	v.SetDefault("trading_mode", "paper")
	v.SetDefault("health_interval", time.Minute)
	v.SetDefault("probe_timeout", 10*time.Second)
	v.SetDefault("nats.subject_prefix", "oms.events")

	v.SetEnvPrefix("OMS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	for i, ve := range cfg.Venues {
		if ve.ID == "" {
			return nil, fmt.Errorf("venues[%d]: id is required", i)
		}
		if ve.Type == "" {
			return nil, fmt.Errorf("venues[%d] (%s): type is required", i, ve.ID)
		}
	}
	return &cfg, nil
}

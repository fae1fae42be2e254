package config

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Mode     string        `mapstructure:"mode"`
	Port     int           `mapstructure:"port"`
	Secret   string        `mapstructure:"secret"`
	LogLevel string        `mapstructure:"log_level"`
	Bridge   BridgeConfig  `mapstructure:"bridge"`
	Spatial  SpatialConfig `mapstructure:"spatial"`
	Router   RouterConfig  `mapstructure:"router"`
	API      APIConfig     `mapstructure:"api"`
}

type BridgeConfig struct {
	// WatchdogTimeout bounds every request/response exchange; 0 disables it.
	WatchdogTimeout time.Duration `mapstructure:"watchdog_timeout"`
	PingTimeout     time.Duration `mapstructure:"ping_timeout"`
	DialTimeout     time.Duration `mapstructure:"dial_timeout"`
	AnnounceAddr    string        `mapstructure:"announce_addr"`
	Servers         []string      `mapstructure:"servers"`
	Conference      string        `mapstructure:"conference"`
}

// FalloffConfig holds the distance falloff parameters for one participant class.
type FalloffConfig struct {
	MaxVolume        float64 `mapstructure:"max_volume"`
	ZeroVolumeRadius float64 `mapstructure:"zero_volume_radius"`
	FullVolumeRadius float64 `mapstructure:"full_volume_radius"`
	Falloff          float64 `mapstructure:"falloff"`
}

type SpatialConfig struct {
	Scale      float64       `mapstructure:"scale"`
	Live       FalloffConfig `mapstructure:"live"`
	Stationary FalloffConfig `mapstructure:"stationary"`
	Outworlder FalloffConfig `mapstructure:"outworlder"`
}

type RouterConfig struct {
	RelayGrace     time.Duration `mapstructure:"relay_grace"`
	ReaperInterval time.Duration `mapstructure:"reaper_interval"`
	FlushInterval  time.Duration `mapstructure:"flush_interval"`
	Workers        int           `mapstructure:"workers"`
}

type APIConfig struct {
	RateLimit    int           `mapstructure:"rate_limit"`
	RateInterval time.Duration `mapstructure:"rate_interval"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("mode", "release")
	v.SetDefault("port", 8080)
	v.SetDefault("secret", "")
	v.SetDefault("log_level", "info")

	v.SetDefault("bridge.watchdog_timeout", "0s")
	v.SetDefault("bridge.ping_timeout", "30s")
	v.SetDefault("bridge.dial_timeout", "5s")
	v.SetDefault("bridge.announce_addr", ":6668")
	v.SetDefault("bridge.servers", []string{})
	v.SetDefault("bridge.conference", "")

	v.SetDefault("spatial.scale", 1.0)
	v.SetDefault("spatial.live.max_volume", 0.8)
	v.SetDefault("spatial.live.zero_volume_radius", 22)
	v.SetDefault("spatial.live.full_volume_radius", 8)
	v.SetDefault("spatial.live.falloff", 0.95)
	v.SetDefault("spatial.stationary.max_volume", 0.6)
	v.SetDefault("spatial.stationary.zero_volume_radius", 16)
	v.SetDefault("spatial.stationary.full_volume_radius", 6)
	v.SetDefault("spatial.stationary.falloff", 0.94)
	v.SetDefault("spatial.outworlder.max_volume", 0.4)
	v.SetDefault("spatial.outworlder.zero_volume_radius", 26)
	v.SetDefault("spatial.outworlder.full_volume_radius", 10)
	v.SetDefault("spatial.outworlder.falloff", 0.94)

	v.SetDefault("router.relay_grace", "10s")
	v.SetDefault("router.reaper_interval", "1s")
	v.SetDefault("router.flush_interval", "50ms")
	v.SetDefault("router.workers", 0)

	v.SetDefault("api.rate_limit", 20)
	v.SetDefault("api.rate_interval", "1s")
}

// Default returns the configuration used when no file is present.
func Default() *Config {
	v := viper.New()
	setDefaults(v)
	var cfg Config
	// Defaults always decode.
	_ = v.Unmarshal(&cfg)
	return &cfg
}

func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")

	env := os.Getenv("CONFIG_ENV")
	if env == "" {
		env = "dev"
	}
	fileName := fmt.Sprintf("config/config.%s.yaml", env)

	v.SetConfigFile(fileName)
	v.AddConfigPath(".")
	v.AddConfigPath("./config")

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		fmt.Printf("⚠️ Config file not found (%s), using defaults\n", fileName)
	} else {
		fmt.Printf("✅ Loaded config: %s\n", fileName)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	fmt.Printf("🧩 Mode: %s | Port: %d | Bridges: %d | Announce: %s\n",
		cfg.Mode, cfg.Port, len(cfg.Bridge.Servers), cfg.Bridge.AnnounceAddr)
	return &cfg, nil
}

func (c *Config) Validate() error {
	if c.Mode == "release" && c.Secret == "" {
		return fmt.Errorf("secret must be set in release mode")
	}
	if c.Spatial.Scale <= 0 {
		return fmt.Errorf("spatial.scale must be positive, got %v", c.Spatial.Scale)
	}
	if c.Router.ReaperInterval <= 0 {
		return fmt.Errorf("router.reaper_interval must be positive, got %v", c.Router.ReaperInterval)
	}
	if c.Router.RelayGrace < 0 {
		return fmt.Errorf("router.relay_grace must not be negative, got %v", c.Router.RelayGrace)
	}
	return nil
}

package config

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Mode      string `mapstructure:"mode"`
	Port      int    `mapstructure:"port"`
	Secret    string `mapstructure:"secret"`
	ReadLimit int64  `mapstructure:"read_limit"`

	PingPeriod  time.Duration `mapstructure:"ping_period"`
	AuthTimeout time.Duration `mapstructure:"auth_timeout"`

	DirectoryTimeout time.Duration `mapstructure:"directory_timeout"`

	MaxHold         time.Duration `mapstructure:"max_hold"`
	PendingQueueCap int           `mapstructure:"pending_queue_cap"`
	Preemption      bool          `mapstructure:"preemption"`

	HeartbeatTimeout time.Duration `mapstructure:"heartbeat_timeout"`
	SweepInterval    time.Duration `mapstructure:"sweep_interval"`

	FloorRateLimit  int           `mapstructure:"floor_rate_limit"`
	FloorRateWindow time.Duration `mapstructure:"floor_rate_window"`

	// Channels maps channel id to owning org for the static membership
	// directory.
	Channels map[string]string `mapstructure:"channels"`
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

	v.SetDefault("mode", "release")
	v.SetDefault("port", 8080)
	v.SetDefault("read_limit", 65536)
	v.SetDefault("ping_period", "54s")
	v.SetDefault("auth_timeout", "10s")
	v.SetDefault("directory_timeout", "3s")
	v.SetDefault("max_hold", "30s")
	v.SetDefault("pending_queue_cap", 16)
	v.SetDefault("preemption", false)
	v.SetDefault("heartbeat_timeout", "90s")
	v.SetDefault("sweep_interval", "15s")
	v.SetDefault("floor_rate_limit", 10)
	v.SetDefault("floor_rate_window", "5s")

	if err := v.ReadInConfig(); err != nil {
		fmt.Printf("config file not found (%s), using defaults\n", fileName)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	return &cfg, nil
}

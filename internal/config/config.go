// Package config loads runtime configuration for the chat server.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/spf13/viper"
)

// Config holds all runtime configuration for the chat server.
type Config struct {
	Server  ServerConfig  `mapstructure:"server"`
	Room    RoomConfig    `mapstructure:"room"`
	Metrics MetricsConfig `mapstructure:"metrics"`
	Logging LoggingConfig `mapstructure:"logging"`
}

// ServerConfig contains network-level settings for the WebSocket listener.
type ServerConfig struct {
	Addr             string        `mapstructure:"addr"`
	HandshakeTimeout time.Duration `mapstructure:"handshake_timeout"`
}

// RoomConfig controls Hub/Room behaviour.
type RoomConfig struct {
	HistoryLimit       int           `mapstructure:"history_limit"`
	TTL                time.Duration `mapstructure:"ttl"`
	SweepInterval      time.Duration `mapstructure:"sweep_interval"`
	BroadcastQueueSize int           `mapstructure:"broadcast_queue_size"`
	MailboxSize        int           `mapstructure:"mailbox_size"`
	CommandQueueSize   int           `mapstructure:"command_queue_size"`
}

// MetricsConfig controls the Prometheus/health HTTP endpoint.
type MetricsConfig struct {
	Enabled    bool   `mapstructure:"enabled"`
	ListenAddr string `mapstructure:"listen_addr"`
}

// LoggingConfig controls zap logger level/encoding.
type LoggingConfig struct {
	Level       string `mapstructure:"level"`
	Development bool   `mapstructure:"development"`
}

// Load reads configuration from environment variables and an optional
// config file, applying the defaults documented for this service.
// configFile, if non-empty, is passed straight to viper.SetConfigFile
// and takes precedence over the "./chatserver.*" search path.
func Load(configFile string) (Config, error) {
	v := viper.New()

	v.SetDefault("server.addr", "0.0.0.0:9000")
	v.SetDefault("server.handshake_timeout", 10*time.Second)

	v.SetDefault("room.history_limit", 100)
	v.SetDefault("room.ttl", 300*time.Second)
	v.SetDefault("room.sweep_interval", 1*time.Second)
	v.SetDefault("room.broadcast_queue_size", 64)
	v.SetDefault("room.mailbox_size", 8)
	v.SetDefault("room.command_queue_size", 256)

	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.listen_addr", ":9090")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.development", false)

	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		v.SetConfigName("chatserver")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
	}
	v.SetEnvPrefix("CHAT")
	v.AutomaticEnv()

	// Optional top-level aliases matching the documented env var names.
	_ = v.BindEnv("server.addr", "SERVER_ADDR")
	_ = v.BindEnv("logging.level", "LOG_LEVEL")
	_ = v.BindEnv("room.history_limit", "HISTORY_LIMIT")

	_ = v.ReadInConfig()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("config unmarshal: %w", err)
	}

	// ROOM_TTL_SECS is documented as a plain integer count of seconds,
	// not a Duration string, so it is applied directly rather than via
	// viper's BindEnv (which would hand mapstructure a bare int and
	// decode it as nanoseconds).
	if raw := os.Getenv("ROOM_TTL_SECS"); raw != "" {
		secs, err := strconv.Atoi(raw)
		if err != nil {
			return Config{}, fmt.Errorf("invalid ROOM_TTL_SECS %q: %w", raw, err)
		}
		cfg.Room.TTL = time.Duration(secs) * time.Second
	}

	if cfg.Room.HistoryLimit <= 0 {
		cfg.Room.HistoryLimit = 100
	}
	if cfg.Room.TTL <= 0 {
		cfg.Room.TTL = 300 * time.Second
	}
	if cfg.Room.SweepInterval <= 0 {
		cfg.Room.SweepInterval = 1 * time.Second
	}
	if cfg.Room.BroadcastQueueSize <= 0 {
		cfg.Room.BroadcastQueueSize = 64
	}
	if cfg.Room.MailboxSize <= 0 {
		cfg.Room.MailboxSize = 8
	}
	if cfg.Room.CommandQueueSize <= 0 {
		cfg.Room.CommandQueueSize = 256
	}

	return cfg, nil
}

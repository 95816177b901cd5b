// Package config provides configuration management for cortexface
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all application configuration
type Config struct {
	Board   string        `mapstructure:"board"`
	Assets  AssetsConfig  `mapstructure:"assets"`
	Avatar  AvatarConfig  `mapstructure:"avatar"`
	Server  ServerConfig  `mapstructure:"server"`
	Metrics MetricsConfig `mapstructure:"metrics"`
	Log     LogConfig     `mapstructure:"log"`
}

// AssetsConfig locates the GIF animations
type AssetsConfig struct {
	Dir   string `mapstructure:"dir"`
	Watch bool   `mapstructure:"watch"` // Reload GIFs when they change on disk
}

// AvatarConfig overrides board profile timing. Zero keeps the board value.
type AvatarConfig struct {
	StartMargin     time.Duration `mapstructure:"start_margin"`
	AdvanceMargin   time.Duration `mapstructure:"advance_margin"`
	CaptionInterval time.Duration `mapstructure:"caption_interval"`
	CaptionUnit     string        `mapstructure:"caption_unit"` // rune or grapheme; empty keeps the board value
	Linger          time.Duration `mapstructure:"linger"`       // Speaking hold after TTS stops
}

// ServerConfig configures the device session
type ServerConfig struct {
	URL               string        `mapstructure:"url"`
	Token             string        `mapstructure:"token"`
	DeviceID          string        `mapstructure:"device_id"`
	ProtocolVersion   int           `mapstructure:"protocol_version"`
	ReconnectDelay    time.Duration `mapstructure:"reconnect_delay"`
	MaxReconnectDelay time.Duration `mapstructure:"max_reconnect_delay"`
}

// MetricsConfig configures the prometheus endpoint
type MetricsConfig struct {
	Addr string `mapstructure:"addr"` // Empty disables the listener
}

// LogConfig configures logging
type LogConfig struct {
	Level   string `mapstructure:"level"`
	Dir     string `mapstructure:"dir"`
	Console bool   `mapstructure:"console"`
}

// DefaultConfig returns sensible default configuration
func DefaultConfig() *Config {
	dir, _ := GetConfigDir()
	return &Config{
		Board: "xiaozhi-lcd",
		Assets: AssetsConfig{
			Dir:   filepath.Join(dir, "gifs"),
			Watch: false,
		},
		Avatar: AvatarConfig{
			Linger: 800 * time.Millisecond,
		},
		Server: ServerConfig{
			URL:               "ws://localhost:8000/xiaozhi/v1/",
			ProtocolVersion:   1,
			ReconnectDelay:    time.Second,
			MaxReconnectDelay: 30 * time.Second,
		},
		Metrics: MetricsConfig{
			Addr: "",
		},
		Log: LogConfig{
			Level:   "info",
			Dir:     filepath.Join(dir, "logs"),
			Console: true,
		},
	}
}

// Load reads configuration from path, or from the config directory when path
// is empty, then applies CORTEXFACE_* environment overrides. A missing file
// yields the defaults.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()
	v := newViper(cfg)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		dir, err := GetConfigDir()
		if err != nil {
			return cfg, err
		}
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(dir)
		v.AddConfigPath(".")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !os.IsNotExist(err) {
			return cfg, fmt.Errorf("read config: %w", err)
		}
	}

	if err := v.Unmarshal(cfg); err != nil {
		return cfg, fmt.Errorf("decode config: %w", err)
	}
	return cfg, nil
}

// Save writes the configuration as YAML to path, or to the config directory
// when path is empty.
func Save(cfg *Config, path string) error {
	if path == "" {
		dir, err := GetConfigDir()
		if err != nil {
			return err
		}
		path = filepath.Join(dir, "config.yaml")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}

	// Keys are set one by one so the file uses the mapstructure names.
	v := viper.New()
	v.Set("board", cfg.Board)
	v.Set("assets.dir", cfg.Assets.Dir)
	v.Set("assets.watch", cfg.Assets.Watch)
	v.Set("avatar.start_margin", cfg.Avatar.StartMargin.String())
	v.Set("avatar.advance_margin", cfg.Avatar.AdvanceMargin.String())
	v.Set("avatar.caption_interval", cfg.Avatar.CaptionInterval.String())
	v.Set("avatar.caption_unit", cfg.Avatar.CaptionUnit)
	v.Set("avatar.linger", cfg.Avatar.Linger.String())
	v.Set("server.url", cfg.Server.URL)
	v.Set("server.token", cfg.Server.Token)
	v.Set("server.device_id", cfg.Server.DeviceID)
	v.Set("server.protocol_version", cfg.Server.ProtocolVersion)
	v.Set("server.reconnect_delay", cfg.Server.ReconnectDelay.String())
	v.Set("server.max_reconnect_delay", cfg.Server.MaxReconnectDelay.String())
	v.Set("metrics.addr", cfg.Metrics.Addr)
	v.Set("log.level", cfg.Log.Level)
	v.Set("log.dir", cfg.Log.Dir)
	v.Set("log.console", cfg.Log.Console)

	v.SetConfigType("yaml")
	return v.WriteConfigAs(path)
}

// GetConfigDir returns the configuration directory path
func GetConfigDir() (string, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(homeDir, ".cortexface"), nil
}

// newViper registers every key with its default so environment overrides
// apply even when the file omits the key.
func newViper(cfg *Config) *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix("CORTEXFACE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("board", cfg.Board)
	v.SetDefault("assets.dir", cfg.Assets.Dir)
	v.SetDefault("assets.watch", cfg.Assets.Watch)
	v.SetDefault("avatar.start_margin", cfg.Avatar.StartMargin)
	v.SetDefault("avatar.advance_margin", cfg.Avatar.AdvanceMargin)
	v.SetDefault("avatar.caption_interval", cfg.Avatar.CaptionInterval)
	v.SetDefault("avatar.caption_unit", cfg.Avatar.CaptionUnit)
	v.SetDefault("avatar.linger", cfg.Avatar.Linger)
	v.SetDefault("server.url", cfg.Server.URL)
	v.SetDefault("server.token", cfg.Server.Token)
	v.SetDefault("server.device_id", cfg.Server.DeviceID)
	v.SetDefault("server.protocol_version", cfg.Server.ProtocolVersion)
	v.SetDefault("server.reconnect_delay", cfg.Server.ReconnectDelay)
	v.SetDefault("server.max_reconnect_delay", cfg.Server.MaxReconnectDelay)
	v.SetDefault("metrics.addr", cfg.Metrics.Addr)
	v.SetDefault("log.level", cfg.Log.Level)
	v.SetDefault("log.dir", cfg.Log.Dir)
	v.SetDefault("log.console", cfg.Log.Console)
	return v
}

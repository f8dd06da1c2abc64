// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

package clientconfig

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/viper"

	"github.com/danielhkuo/pollsync/auth"
)

const EnvPrefix = "POLLSYNC"

var ErrInvalidConfig = errors.New("invalid config")

type Config struct {
	Server       ServerConfig       `mapstructure:"server" yaml:"server"`
	Store        StoreConfig        `mapstructure:"store" yaml:"store"`
	Sync         SyncConfig         `mapstructure:"sync" yaml:"sync"`
	Identity     IdentityConfig     `mapstructure:"identity" yaml:"identity"`
	Connectivity ConnectivityConfig `mapstructure:"connectivity" yaml:"connectivity"`
	User         UserConfig         `mapstructure:"user" yaml:"user"`
	Realtime     RealtimeConfig     `mapstructure:"realtime" yaml:"realtime"`
	LogLevel     string             `mapstructure:"log_level" yaml:"log_level"`
}

type ServerConfig struct {
	URL     string        `mapstructure:"url" yaml:"url"`
	Timeout time.Duration `mapstructure:"timeout" yaml:"timeout"`
}

type StoreConfig struct {
	Path string `mapstructure:"path" yaml:"path"`
	// SoftCap is a human readable size such as "50MiB".
	SoftCap string `mapstructure:"soft_cap" yaml:"soft_cap"`
}

type SyncConfig struct {
	Interval         time.Duration `mapstructure:"interval" yaml:"interval"`
	FlushTimeout     time.Duration `mapstructure:"flush_timeout" yaml:"flush_timeout"`
	CleanupThreshold float64       `mapstructure:"cleanup_threshold" yaml:"cleanup_threshold"`
	CleanupMaxAge    time.Duration `mapstructure:"cleanup_max_age" yaml:"cleanup_max_age"`
	RecentLimit      int           `mapstructure:"recent_limit" yaml:"recent_limit"`
}

type IdentityConfig struct {
	TTL time.Duration `mapstructure:"ttl" yaml:"ttl"`
}

type ConnectivityConfig struct {
	ProbeInterval time.Duration `mapstructure:"probe_interval" yaml:"probe_interval"`
	ProbeTimeout  time.Duration `mapstructure:"probe_timeout" yaml:"probe_timeout"`
}

// UserConfig holds the signed-in user's bearer token. Votes are anonymous
// when Token is empty.
type UserConfig struct {
	Token string `mapstructure:"token" yaml:"-"`
}

type RealtimeConfig struct {
	NATSURL string `mapstructure:"nats_url" yaml:"nats_url"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.url", "http://localhost:3318")
	v.SetDefault("server.timeout", 15*time.Second)
	v.SetDefault("store.path", "pollsync.db")
	v.SetDefault("store.soft_cap", "50MiB")
	v.SetDefault("sync.interval", time.Minute)
	v.SetDefault("sync.flush_timeout", 2*time.Minute)
	v.SetDefault("sync.cleanup_threshold", 80.0)
	v.SetDefault("sync.cleanup_max_age", 7*24*time.Hour)
	v.SetDefault("sync.recent_limit", 20)
	v.SetDefault("identity.ttl", 30*24*time.Hour)
	v.SetDefault("connectivity.probe_interval", 15*time.Second)
	v.SetDefault("connectivity.probe_timeout", 5*time.Second)
	v.SetDefault("user.token", "")
	v.SetDefault("realtime.nats_url", "")
	v.SetDefault("log_level", "info")
}

// Load reads the YAML file at path, if any, then applies POLLSYNC_*
// environment overrides (POLLSYNC_SERVER_URL, POLLSYNC_USER_TOKEN, ...).
// A missing file is an error only when path is set explicitly.
func Load(path string) (Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	u, err := url.Parse(c.Server.URL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("%w: server.url %q is not an absolute URL", ErrInvalidConfig, c.Server.URL)
	}
	if c.Store.Path == "" {
		return fmt.Errorf("%w: store.path is required", ErrInvalidConfig)
	}
	if _, err := c.SoftCapBytes(); err != nil {
		return err
	}
	if c.Sync.CleanupThreshold > 100 {
		return fmt.Errorf("%w: sync.cleanup_threshold must be at most 100", ErrInvalidConfig)
	}
	if c.Sync.FlushTimeout <= 0 {
		return fmt.Errorf("%w: sync.flush_timeout must be positive", ErrInvalidConfig)
	}
	if c.Identity.TTL <= 0 {
		return fmt.Errorf("%w: identity.ttl must be positive", ErrInvalidConfig)
	}
	if c.User.Token != "" {
		if _, err := c.UserID(); err != nil {
			return fmt.Errorf("%w: user.token: %w", ErrInvalidConfig, err)
		}
	}
	return nil
}

func (c Config) SoftCapBytes() (uint64, error) {
	n, err := humanize.ParseBytes(c.Store.SoftCap)
	if err != nil {
		return 0, fmt.Errorf("%w: store.soft_cap: %w", ErrInvalidConfig, err)
	}
	if n == 0 {
		return 0, fmt.Errorf("%w: store.soft_cap must be positive", ErrInvalidConfig)
	}
	return n, nil
}

// UserID is the subject of the configured token, or "" when votes are
// anonymous. The token is not verified here; the server does that.
func (c Config) UserID() (string, error) {
	if c.User.Token == "" {
		return "", nil
	}
	return auth.TokenSubject(c.User.Token)
}

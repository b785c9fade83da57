// Package config loads studentsync server and client settings.
//
// Settings come from, in increasing order of precedence,
// built-in defaults,
// an optional JSON file (DefaultFile),
// and STUDENTSYNC_* environment variables
// (nested keys joined with underscores, e.g. STUDENTSYNC_BROADCAST_PORT).
// Durations may be written as strings such as "1.5s".
package config

import (
	"strings"
	"time"

	"github.com/mitchellh/mapstructure"
	"github.com/pkg/errors"
	"github.com/spf13/afero"
	"github.com/spf13/viper"

	"github.com/bobg/studentsync/discovery"
	"github.com/bobg/studentsync/pool/mem"
	"github.com/bobg/studentsync/session"
)

// DefaultFile is the config file read when none is named explicitly.
// It is not an error for it to be absent.
const DefaultFile = "ssconf.json"

const envPrefix = "studentsync"

// Config holds all studentsync settings.
type Config struct {
	// Addr is the TCP listen address of the session server,
	// and the address the sync command connects to if none is discovered.
	Addr               string        `mapstructure:"addr"`
	MaxConns           int           `mapstructure:"max_conns"`
	MaxMessageSize     int           `mapstructure:"max_message_size"`
	IdleTimeout        time.Duration `mapstructure:"idle_timeout"`
	ForgetOnDisconnect bool          `mapstructure:"forget_on_disconnect"`

	// ErrorReplies controls whether undecodable requests get an error reply or none.
	ErrorReplies bool `mapstructure:"error_replies"`

	// RPCAddr is the gRPC listen address. Empty means no gRPC server.
	RPCAddr string `mapstructure:"rpc_addr"`

	// MetricsAddr is the Prometheus listen address. Empty means no metrics endpoint.
	MetricsAddr string `mapstructure:"metrics_addr"`

	PoolType      string `mapstructure:"pool_type"`
	KnowledgeSize int    `mapstructure:"knowledge_size"`
	LogPool       bool   `mapstructure:"log_pool"`

	// LogLevel is a zap level name: debug, info, warn, error.
	LogLevel string `mapstructure:"log_level"`

	Broadcast Broadcast `mapstructure:"broadcast"`
}

// Broadcast holds the discovery broadcaster settings.
type Broadcast struct {
	Enabled  bool          `mapstructure:"enabled"`
	Group    string        `mapstructure:"group"`
	Port     int           `mapstructure:"port"`
	Interval time.Duration `mapstructure:"interval"`
	TTL      int           `mapstructure:"ttl"`
	IPv6     bool          `mapstructure:"ipv6"`
}

// Default returns the built-in settings.
func Default() Config {
	return Config{
		Addr:               session.DefaultAddr,
		MaxConns:           session.DefaultMaxConns,
		MaxMessageSize:     session.DefaultMaxMessageSize,
		IdleTimeout:        session.DefaultIdleTimeout,
		ForgetOnDisconnect: true,
		ErrorReplies:       true,
		PoolType:           "mem",
		KnowledgeSize:      mem.DefaultKnowledgeSize,
		LogLevel:           "info",
		Broadcast: Broadcast{
			Enabled:  true,
			Group:    discovery.DefaultGroup,
			Port:     discovery.DefaultPort,
			Interval: discovery.DefaultInterval,
			TTL:      discovery.DefaultTTL,
		},
	}
}

// Load reads settings from the named file in fs and from the environment.
// An empty filename means no file.
// A missing file is an error unless it is DefaultFile.
func Load(fs afero.Fs, filename string) (Config, error) {
	v := viper.New()
	v.SetFs(fs)
	setDefaults(v, Default())

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if filename != "" {
		ok, err := afero.Exists(fs, filename)
		if err != nil {
			return Config{}, errors.Wrapf(err, "checking for config file %s", filename)
		}
		switch {
		case ok:
			v.SetConfigFile(filename)
			v.SetConfigType("json")
			if err = v.ReadInConfig(); err != nil {
				return Config{}, errors.Wrapf(err, "reading config file %s", filename)
			}
		case filename != DefaultFile:
			return Config{}, errors.Errorf("config file %s not found", filename)
		}
	}

	var conf Config
	hook := mapstructure.ComposeDecodeHookFunc(
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
	)
	err := v.UnmarshalExact(&conf, viper.DecodeHook(hook))
	if err != nil {
		return Config{}, errors.Wrap(err, "decoding config")
	}
	return conf, conf.Validate()
}

// Validate checks that the settings are usable.
func (c Config) Validate() error {
	switch {
	case c.Addr == "":
		return errors.New("addr is required")
	case c.MaxConns < 0:
		return errors.Errorf("max_conns %d is negative", c.MaxConns)
	case c.MaxMessageSize <= 0:
		return errors.Errorf("max_message_size %d must be positive", c.MaxMessageSize)
	case c.KnowledgeSize <= 0:
		return errors.Errorf("knowledge_size %d must be positive", c.KnowledgeSize)
	case c.Broadcast.Enabled && c.Broadcast.Interval <= 0:
		return errors.Errorf("broadcast.interval %s must be positive", c.Broadcast.Interval)
	case c.Broadcast.Port <= 0 || c.Broadcast.Port > 65535:
		return errors.Errorf("broadcast.port %d out of range", c.Broadcast.Port)
	}
	return nil
}

// PoolConfig returns the pool registry configuration described by c,
// suitable for pool.Create(ctx, conf["type"].(string), conf).
func (c Config) PoolConfig() map[string]interface{} {
	conf := map[string]interface{}{
		"type":           c.PoolType,
		"knowledge_size": c.KnowledgeSize,
	}
	if c.LogPool {
		conf = map[string]interface{}{
			"type":   "logging",
			"nested": conf,
		}
	}
	return conf
}

// setDefaults registers every setting with v,
// which also makes each one visible to AutomaticEnv.
func setDefaults(v *viper.Viper, conf Config) {
	v.SetDefault("addr", conf.Addr)
	v.SetDefault("max_conns", conf.MaxConns)
	v.SetDefault("max_message_size", conf.MaxMessageSize)
	v.SetDefault("idle_timeout", conf.IdleTimeout)
	v.SetDefault("forget_on_disconnect", conf.ForgetOnDisconnect)
	v.SetDefault("error_replies", conf.ErrorReplies)
	v.SetDefault("rpc_addr", conf.RPCAddr)
	v.SetDefault("metrics_addr", conf.MetricsAddr)
	v.SetDefault("pool_type", conf.PoolType)
	v.SetDefault("knowledge_size", conf.KnowledgeSize)
	v.SetDefault("log_pool", conf.LogPool)
	v.SetDefault("log_level", conf.LogLevel)
	v.SetDefault("broadcast.enabled", conf.Broadcast.Enabled)
	v.SetDefault("broadcast.group", conf.Broadcast.Group)
	v.SetDefault("broadcast.port", conf.Broadcast.Port)
	v.SetDefault("broadcast.interval", conf.Broadcast.Interval)
	v.SetDefault("broadcast.ttl", conf.Broadcast.TTL)
	v.SetDefault("broadcast.ipv6", conf.Broadcast.IPv6)
}

// Package config loads the TOML file handed to the serve command and turns
// it into the runtime structures the rest of the module consumes.
package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"

	"github.com/loykin/hwman/internal/logger"
	"github.com/loykin/hwman/internal/service"
	"github.com/loykin/hwman/internal/store"
)

// ServerConfig is the [server] table.
type ServerConfig struct {
	Listen   string `toml:"listen" mapstructure:"listen"`
	BasePath string `toml:"base_path" mapstructure:"base_path"`
	CertDir  string `toml:"cert_dir" mapstructure:"cert_dir"`
	Hostname string `toml:"hostname" mapstructure:"hostname"`
	DataDir  string `toml:"data_dir" mapstructure:"data_dir"`
	LogLevel string `toml:"log_level" mapstructure:"log_level"`
}

// LogConfig is the [log] table, also accepted per service as an override.
type LogConfig struct {
	Dir        string `toml:"dir" mapstructure:"dir"`
	Stdout     string `toml:"stdout" mapstructure:"stdout"`
	Stderr     string `toml:"stderr" mapstructure:"stderr"`
	MaxSizeMB  int    `toml:"max_size_mb" mapstructure:"max_size_mb"`
	MaxBackups int    `toml:"max_backups" mapstructure:"max_backups"`
	MaxAgeDays int    `toml:"max_age_days" mapstructure:"max_age_days"`
	Compress   bool   `toml:"compress" mapstructure:"compress"`
}

// RemoteConfig holds the ssh leg of a remote service. The same shape doubles
// as the [remote] defaults table; empty per-service fields fall back to it.
type RemoteConfig struct {
	Host          string        `toml:"host" mapstructure:"host"`
	User          string        `toml:"user" mapstructure:"user"`
	RemoteCommand string        `toml:"remote_command" mapstructure:"remote_command"`
	Pattern       string        `toml:"pattern" mapstructure:"pattern"`
	Settle        time.Duration `toml:"settle" mapstructure:"settle"`
	SecretEnv     string        `toml:"secret_env" mapstructure:"secret_env"`
}

// ServiceConfig is one [[services]] entry.
type ServiceConfig struct {
	Name     string        `toml:"name" mapstructure:"name"`
	Kind     string        `toml:"kind" mapstructure:"kind"`
	Command  string        `toml:"command" mapstructure:"command"`
	WorkDir  string        `toml:"workdir" mapstructure:"workdir"`
	Env      []string      `toml:"env" mapstructure:"env"`
	StopWait time.Duration `toml:"stop_wait" mapstructure:"stop_wait"`
	Log      *LogConfig    `toml:"log" mapstructure:"log"`
	Remote   *RemoteConfig `toml:"remote" mapstructure:"remote"`
}

// MetricsConfig is the [metrics] table.
type MetricsConfig struct {
	Enabled bool   `toml:"enabled" mapstructure:"enabled"`
	Path    string `toml:"path" mapstructure:"path"`
}

// StoreConfig is the [store] table.
type StoreConfig struct {
	Type string `toml:"type" mapstructure:"type"`
	DSN  string `toml:"dsn" mapstructure:"dsn"`
}

// HistoryConfig is the [history] table; each sink is a DSN.
type HistoryConfig struct {
	Sinks []string `toml:"sinks" mapstructure:"sinks"`
}

// FileConfig is the top-level TOML structure.
type FileConfig struct {
	Server   ServerConfig    `toml:"server" mapstructure:"server"`
	Log      *LogConfig      `toml:"log" mapstructure:"log"`
	Remote   *RemoteConfig   `toml:"remote" mapstructure:"remote"`
	Services []ServiceConfig `toml:"services" mapstructure:"services"`
	Metrics  MetricsConfig   `toml:"metrics" mapstructure:"metrics"`
	Store    StoreConfig     `toml:"store" mapstructure:"store"`
	History  HistoryConfig   `toml:"history" mapstructure:"history"`
}

const (
	DefaultListen      = "127.0.0.1:8443"
	DefaultBasePath    = ""
	DefaultHostname    = "localhost"
	DefaultMetricsPath = "/metrics"
)

// Load reads the TOML file at path and applies defaults.
func Load(path string) (*FileConfig, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("toml")
	if err := v.ReadInConfig(); err != nil {
		return nil, err
	}
	var fc FileConfig
	if err := v.Unmarshal(&fc); err != nil {
		return nil, err
	}
	fc.applyDefaults()
	if err := fc.validate(); err != nil {
		return nil, err
	}
	return &fc, nil
}

func (fc *FileConfig) applyDefaults() {
	if fc.Server.Listen == "" {
		fc.Server.Listen = DefaultListen
	}
	if fc.Server.Hostname == "" {
		fc.Server.Hostname = DefaultHostname
	}
	if fc.Metrics.Path == "" {
		fc.Metrics.Path = DefaultMetricsPath
	}
}

func (fc *FileConfig) validate() error {
	if fc.Server.CertDir == "" {
		return fmt.Errorf("server.cert_dir is required")
	}
	seen := make(map[string]struct{}, len(fc.Services))
	for _, sc := range fc.Services {
		if sc.Name == "" {
			return fmt.Errorf("service requires a name")
		}
		if _, dup := seen[sc.Name]; dup {
			return fmt.Errorf("duplicate service name %q", sc.Name)
		}
		seen[sc.Name] = struct{}{}
		switch sc.Kind {
		case "", string(service.KindLocal):
			if sc.Command == "" {
				return fmt.Errorf("local service %s requires a command", sc.Name)
			}
		case string(service.KindRemote):
			r := fc.mergedRemote(sc)
			if r.Host == "" {
				return fmt.Errorf("remote service %s requires a host", sc.Name)
			}
			if r.Pattern == "" {
				return fmt.Errorf("remote service %s requires a pattern", sc.Name)
			}
		default:
			return fmt.Errorf("unknown service kind %q for service %s", sc.Kind, sc.Name)
		}
	}
	return nil
}

// StoreCfg converts the [store] table to the store package's config.
func (fc *FileConfig) StoreCfg() store.Config {
	return store.Config{Type: fc.Store.Type, DSN: fc.Store.DSN}
}

// Specs converts the [[services]] entries into supervisor specs. Logging
// starts from the top-level [log] defaults and is overridden per service;
// remote fields fall back to the [remote] defaults table.
func (fc *FileConfig) Specs() []service.Spec {
	specs := make([]service.Spec, 0, len(fc.Services))
	for _, sc := range fc.Services {
		kind := service.Kind(sc.Kind)
		if kind == "" {
			kind = service.KindLocal
		}
		s := service.Spec{
			Name:     sc.Name,
			Kind:     kind,
			Command:  sc.Command,
			WorkDir:  sc.WorkDir,
			Env:      sc.Env,
			StopWait: sc.StopWait,
			Log:      fc.mergedLog(sc),
		}
		if kind == service.KindRemote {
			r := fc.mergedRemote(sc)
			s.Remote = service.RemoteSpec{
				Host:          r.Host,
				User:          r.User,
				RemoteCommand: r.RemoteCommand,
				Pattern:       r.Pattern,
				Settle:        r.Settle,
				SecretEnv:     r.SecretEnv,
			}
		}
		specs = append(specs, s)
	}
	return specs
}

func (fc *FileConfig) mergedLog(sc ServiceConfig) logger.Config {
	var cfg logger.Config
	if fc.Log != nil {
		cfg = logger.Config{
			Dir:        fc.Log.Dir,
			StdoutPath: fc.Log.Stdout,
			StderrPath: fc.Log.Stderr,
			MaxSizeMB:  fc.Log.MaxSizeMB,
			MaxBackups: fc.Log.MaxBackups,
			MaxAgeDays: fc.Log.MaxAgeDays,
			Compress:   fc.Log.Compress,
		}
	}
	if sc.Log == nil {
		return cfg
	}
	if sc.Log.Dir != "" {
		cfg.Dir = sc.Log.Dir
	}
	if sc.Log.Stdout != "" {
		cfg.StdoutPath = sc.Log.Stdout
	}
	if sc.Log.Stderr != "" {
		cfg.StderrPath = sc.Log.Stderr
	}
	if sc.Log.MaxSizeMB != 0 {
		cfg.MaxSizeMB = sc.Log.MaxSizeMB
	}
	if sc.Log.MaxBackups != 0 {
		cfg.MaxBackups = sc.Log.MaxBackups
	}
	if sc.Log.MaxAgeDays != 0 {
		cfg.MaxAgeDays = sc.Log.MaxAgeDays
	}
	if sc.Log.Compress {
		cfg.Compress = true
	}
	return cfg
}

func (fc *FileConfig) mergedRemote(sc ServiceConfig) RemoteConfig {
	var r RemoteConfig
	if fc.Remote != nil {
		r = *fc.Remote
	}
	if sc.Remote == nil {
		return r
	}
	if sc.Remote.Host != "" {
		r.Host = sc.Remote.Host
	}
	if sc.Remote.User != "" {
		r.User = sc.Remote.User
	}
	if sc.Remote.RemoteCommand != "" {
		r.RemoteCommand = sc.Remote.RemoteCommand
	}
	if sc.Remote.Pattern != "" {
		r.Pattern = sc.Remote.Pattern
	}
	if sc.Remote.Settle != 0 {
		r.Settle = sc.Remote.Settle
	}
	if sc.Remote.SecretEnv != "" {
		r.SecretEnv = sc.Remote.SecretEnv
	}
	return r
}

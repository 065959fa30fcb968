// Package config loads the fleetd TOML configuration: global settings,
// env layering, and the service definitions handed to the manager.
package config

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/loykin/fleetd/internal/history"
	"github.com/loykin/fleetd/internal/logger"
	"github.com/loykin/fleetd/internal/service"
	"github.com/loykin/fleetd/internal/store"
)

// FileConfig represents the top-level TOML structure.
type FileConfig struct {
	Env      []string `toml:"env" mapstructure:"env"`
	EnvFiles []string `toml:"env_files" mapstructure:"env_files"`
	UseOSEnv bool     `toml:"use_os_env" mapstructure:"use_os_env"`

	Scheduler SchedulerConfig `toml:"scheduler" mapstructure:"scheduler"`
	Log       *LogConfig      `toml:"log" mapstructure:"log"`
	Server    ServerConfig    `toml:"server" mapstructure:"server"`
	Store     store.Config    `toml:"store" mapstructure:"store"`
	History   history.Config  `toml:"history" mapstructure:"history"`
	Trigger   TriggerConfig   `toml:"trigger" mapstructure:"trigger"`
	Services  []ServiceConfig `toml:"services" mapstructure:"services"`
}

type SchedulerConfig struct {
	Tick          time.Duration `toml:"tick" mapstructure:"tick"`
	FlushInterval time.Duration `toml:"flush_interval" mapstructure:"flush_interval"`
	RingSize      int           `toml:"ring_size" mapstructure:"ring_size"`
}

type LogConfig struct {
	Dir        string `toml:"dir" mapstructure:"dir"`
	Stdout     string `toml:"stdout" mapstructure:"stdout"`
	Stderr     string `toml:"stderr" mapstructure:"stderr"`
	MaxSizeMB  int    `toml:"max_size_mb" mapstructure:"max_size_mb"`
	MaxBackups int    `toml:"max_backups" mapstructure:"max_backups"`
	MaxAgeDays int    `toml:"max_age_days" mapstructure:"max_age_days"`
	Compress   bool   `toml:"compress" mapstructure:"compress"`
}

type ServerConfig struct {
	Listen string `toml:"listen" mapstructure:"listen"`
}

type TriggerConfig struct {
	Dir          string        `toml:"dir" mapstructure:"dir"`
	RescanPeriod time.Duration `toml:"rescan_period" mapstructure:"rescan_period"`
}

type RestartConfig struct {
	Enabled     bool          `toml:"enabled" mapstructure:"enabled"`
	BaseDelay   time.Duration `toml:"base_delay" mapstructure:"base_delay"`
	MaxDelay    time.Duration `toml:"max_delay" mapstructure:"max_delay"`
	MaxAttempts int           `toml:"max_attempts" mapstructure:"max_attempts"`
}

type ServiceConfig struct {
	Name          string         `toml:"name" mapstructure:"name"`
	Command       string         `toml:"command" mapstructure:"command"`
	WorkDir       string         `toml:"workdir" mapstructure:"workdir"`
	Env           []string       `toml:"env" mapstructure:"env"`
	Port          int            `toml:"port" mapstructure:"port"`
	HealthPath    string         `toml:"health_path" mapstructure:"health_path"`
	DependsOn     []string       `toml:"depends_on" mapstructure:"depends_on"`
	Restart       *RestartConfig `toml:"restart" mapstructure:"restart"`
	GraceTimeout  time.Duration  `toml:"grace_timeout" mapstructure:"grace_timeout"`
	DepTimeout    time.Duration  `toml:"dep_timeout" mapstructure:"dep_timeout"`
	ProbeInterval time.Duration  `toml:"probe_interval" mapstructure:"probe_interval"`
	ProbeAttempts int            `toml:"probe_attempts" mapstructure:"probe_attempts"`
	Log           *LogConfig     `toml:"log" mapstructure:"log"`
}

// Load parses the TOML file at path.
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
	return &fc, nil
}

// Specs converts the service definitions into validated service specs.
// Per-service log settings override the top-level [log] block field by
// field.
func (fc *FileConfig) Specs() ([]service.Spec, error) {
	out := make([]service.Spec, 0, len(fc.Services))
	for _, sc := range fc.Services {
		logCfg := mergeLogConfig(fc.Log, sc.Log)
		s := service.Spec{
			Name:          sc.Name,
			Command:       sc.Command,
			WorkDir:       sc.WorkDir,
			Env:           sc.Env,
			Port:          sc.Port,
			HealthPath:    sc.HealthPath,
			DependsOn:     sc.DependsOn,
			GraceTimeout:  sc.GraceTimeout,
			DepTimeout:    sc.DepTimeout,
			ProbeInterval: sc.ProbeInterval,
			ProbeAttempts: sc.ProbeAttempts,
			Log:           logCfg,
		}
		if sc.Restart != nil {
			s.Restart = service.RestartPolicy{
				Enabled:     sc.Restart.Enabled,
				BaseDelay:   sc.Restart.BaseDelay,
				MaxDelay:    sc.Restart.MaxDelay,
				MaxAttempts: sc.Restart.MaxAttempts,
			}
		}
		s.Normalize()
		if err := s.Validate(); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, nil
}

// GlobalEnv merges env sources. Precedence: OS env (when enabled) is the
// base, env_files apply next in order, and the top-level env list wins.
func (fc *FileConfig) GlobalEnv() ([]string, error) {
	m := make(map[string]string)
	if fc.UseOSEnv {
		for _, kv := range os.Environ() {
			if i := strings.IndexByte(kv, '='); i >= 0 {
				m[kv[:i]] = kv[i+1:]
			}
		}
	}
	for _, p := range fc.EnvFiles {
		pairs, err := loadEnvFile(p)
		if err != nil {
			return nil, err
		}
		for k, v := range pairs {
			m[k] = v
		}
	}
	for _, kv := range fc.Env {
		if i := strings.IndexByte(kv, '='); i >= 0 {
			m[kv[:i]] = kv[i+1:]
		}
	}
	out := make([]string, 0, len(m))
	for k, v := range m {
		out = append(out, k+"="+v)
	}
	return out, nil
}

func mergeLogConfig(top, per *LogConfig) logger.Config {
	var cfg logger.Config
	if top != nil {
		cfg = logger.Config{
			Dir:        top.Dir,
			StdoutPath: top.Stdout,
			StderrPath: top.Stderr,
			MaxSizeMB:  top.MaxSizeMB,
			MaxBackups: top.MaxBackups,
			MaxAgeDays: top.MaxAgeDays,
			Compress:   top.Compress,
		}
	}
	if per != nil {
		if per.Dir != "" {
			cfg.Dir = per.Dir
		}
		if per.Stdout != "" {
			cfg.StdoutPath = per.Stdout
		}
		if per.Stderr != "" {
			cfg.StderrPath = per.Stderr
		}
		if per.MaxSizeMB != 0 {
			cfg.MaxSizeMB = per.MaxSizeMB
		}
		if per.MaxBackups != 0 {
			cfg.MaxBackups = per.MaxBackups
		}
		if per.MaxAgeDays != 0 {
			cfg.MaxAgeDays = per.MaxAgeDays
		}
		if per.Compress {
			cfg.Compress = true
		}
	}
	return cfg
}

// loadEnvFile parses a simple .env file with KEY=VALUE lines (no export,
// no quotes). Lines starting with # are ignored.
func loadEnvFile(path string) (map[string]string, error) {
	clean := filepath.Clean(path)
	b, err := os.ReadFile(clean)
	if err != nil {
		return nil, err
	}
	m := make(map[string]string)
	for _, line := range strings.Split(string(b), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if i := strings.IndexByte(line, '='); i >= 0 {
			m[strings.TrimSpace(line[:i])] = strings.TrimSpace(line[i+1:])
		}
	}
	return m, nil
}

package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/loykin/emoconnect/internal/companion"
	"github.com/loykin/emoconnect/internal/logger"
	"github.com/loykin/emoconnect/internal/oracle"
	"github.com/loykin/emoconnect/internal/probe"
	"github.com/loykin/emoconnect/internal/process"
	"github.com/loykin/emoconnect/internal/sampler"
)

// EnvPrefix namespaces environment overrides, e.g. EMOCONNECT_SERVER_LISTEN.
const EnvPrefix = "EMOCONNECT"

type ServerConfig struct {
	Listen   string `mapstructure:"listen"`
	BasePath string `mapstructure:"base_path"`
}

type MetricsConfig struct {
	Enabled         bool          `mapstructure:"enabled"`
	Listen          string        `mapstructure:"listen"`
	ProcessInterval time.Duration `mapstructure:"process_interval"`
}

type SupervisorConfig struct {
	GracePeriod time.Duration `mapstructure:"grace_period"`
	KillWait    time.Duration `mapstructure:"kill_wait"`
}

type ProbeConfig struct {
	probe.Config   `mapstructure:",squash"`
	StartupTimeout time.Duration `mapstructure:"startup_timeout"`
	StatusTimeout  time.Duration `mapstructure:"status_timeout"`
}

// ServiceConfig describes one supervised child. An empty Command runs this
// binary again with Args.
type ServiceConfig struct {
	Name      string   `mapstructure:"name"`
	Command   string   `mapstructure:"command"`
	Args      []string `mapstructure:"args"`
	WorkDir   string   `mapstructure:"work_dir"`
	Env       []string `mapstructure:"env"`
	HealthURL string   `mapstructure:"health_url"`
}

type HistoryConfig struct {
	Sinks []string `mapstructure:"sinks"`
}

// Config is the whole TOML document.
type Config struct {
	Env      []string `mapstructure:"env"`
	EnvFiles []string `mapstructure:"env_files"`

	Server     ServerConfig     `mapstructure:"server"`
	Metrics    MetricsConfig    `mapstructure:"metrics"`
	Log        logger.Config    `mapstructure:"log"`
	Supervisor SupervisorConfig `mapstructure:"supervisor"`
	Probe      ProbeConfig      `mapstructure:"probe"`
	Producer   ServiceConfig    `mapstructure:"producer"`
	Consumer   ServiceConfig    `mapstructure:"consumer"`
	Sampler    sampler.Config   `mapstructure:"sampler"`
	Companion  companion.Config `mapstructure:"companion"`
	Oracle     oracle.Config    `mapstructure:"oracle"`
	History    HistoryConfig    `mapstructure:"history"`

	// path the config was read from, "" for defaults only
	path string
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("env", []string{})
	v.SetDefault("env_files", []string{})

	v.SetDefault("server.listen", "127.0.0.1:8000")
	v.SetDefault("server.base_path", "")

	v.SetDefault("metrics.enabled", false)
	v.SetDefault("metrics.listen", "")
	v.SetDefault("metrics.process_interval", "5s")

	v.SetDefault("log.level", string(logger.LevelInfo))
	v.SetDefault("log.format", string(logger.FormatText))
	v.SetDefault("log.color", true)
	v.SetDefault("log.timestamps", true)
	v.SetDefault("log.source", false)
	v.SetDefault("log.dir", "")
	v.SetDefault("log.file", "")
	v.SetDefault("log.max_size_mb", logger.DefaultMaxSizeMB)
	v.SetDefault("log.max_backups", logger.DefaultMaxBackups)
	v.SetDefault("log.max_age_days", logger.DefaultMaxAgeDays)
	v.SetDefault("log.compress", false)

	v.SetDefault("supervisor.grace_period", "800ms")
	v.SetDefault("supervisor.kill_wait", "200ms")

	v.SetDefault("probe.interval", probe.DefaultInterval.String())
	v.SetDefault("probe.request_timeout", probe.DefaultRequestTimeout.String())
	v.SetDefault("probe.startup_timeout", "30s")
	v.SetDefault("probe.status_timeout", "100ms")

	v.SetDefault("producer.name", "emotion")
	v.SetDefault("producer.command", "")
	v.SetDefault("producer.args", []string{"sampler"})
	v.SetDefault("producer.work_dir", "")
	v.SetDefault("producer.env", []string{})
	v.SetDefault("producer.health_url", "http://127.0.0.1:5000/emotion")

	v.SetDefault("consumer.name", "bot")
	v.SetDefault("consumer.command", "")
	v.SetDefault("consumer.args", []string{"companion"})
	v.SetDefault("consumer.work_dir", "")
	v.SetDefault("consumer.env", []string{})

	d := sampler.DefaultConfig()
	v.SetDefault("sampler.listen", d.Listen)
	v.SetDefault("sampler.capacity", d.Capacity)
	v.SetDefault("sampler.tick", d.Tick.String())
	v.SetDefault("sampler.frame_interval", d.FrameInterval.String())
	v.SetDefault("sampler.source", d.Source)
	v.SetDefault("sampler.device", d.Device)
	v.SetDefault("sampler.snapshot_url", d.SnapshotURL)
	v.SetDefault("sampler.classifier_url", d.ClassifierURL)
	v.SetDefault("sampler.classifier_timeout", d.ClassifierTimeout.String())
	v.SetDefault("sampler.cascade", d.Cascade)

	c := companion.DefaultConfig()
	v.SetDefault("companion.sampler_url", c.SamplerURL)
	v.SetDefault("companion.furhat_url", c.FurhatURL)
	v.SetDefault("companion.language", c.Language)
	v.SetDefault("companion.voice", c.Voice)
	v.SetDefault("companion.face", c.Face)
	v.SetDefault("companion.mask", c.Mask)
	v.SetDefault("companion.window_timeout", c.WindowTimeout.String())
	v.SetDefault("companion.gesture_pause", c.GesturePause.String())

	o := oracle.DefaultConfig()
	v.SetDefault("oracle.provider", o.Provider)
	v.SetDefault("oracle.api_key", "")
	v.SetDefault("oracle.model", o.Model)
	v.SetDefault("oracle.base_url", o.BaseURL)
	v.SetDefault("oracle.timeout", o.Timeout.String())

	v.SetDefault("history.sinks", []string{})
}

// Load reads path (optional), applies EMOCONNECT_* overrides and defaults,
// and validates the result.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigType("toml")
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if cfg.Oracle.APIKey == "" {
		cfg.Oracle.APIKey = os.Getenv("GEMINI_API_KEY")
	}
	if path != "" {
		if abs, err := filepath.Abs(path); err == nil {
			path = abs
		}
	}
	cfg.path = path
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) Path() string { return c.path }

// Validate checks the constraints the daemon relies on.
func (c *Config) Validate() error {
	var errs []error
	if c.Producer.Name == "" || c.Consumer.Name == "" {
		errs = append(errs, errors.New("producer and consumer names are required"))
	} else if c.Producer.Name == c.Consumer.Name {
		errs = append(errs, fmt.Errorf("producer and consumer share the name %q", c.Producer.Name))
	}
	if c.Producer.HealthURL == "" {
		errs = append(errs, errors.New("producer.health_url is required"))
	} else if u, err := url.Parse(c.Producer.HealthURL); err != nil || u.Scheme == "" || u.Host == "" {
		errs = append(errs, fmt.Errorf("producer.health_url %q is not an absolute URL", c.Producer.HealthURL))
	}
	for name, d := range map[string]time.Duration{
		"supervisor.grace_period": c.Supervisor.GracePeriod,
		"supervisor.kill_wait":    c.Supervisor.KillWait,
		"probe.interval":          c.Probe.Interval,
		"probe.request_timeout":   c.Probe.RequestTimeout,
		"probe.startup_timeout":   c.Probe.StartupTimeout,
		"probe.status_timeout":    c.Probe.StatusTimeout,
		"sampler.tick":            c.Sampler.Tick,
	} {
		if d <= 0 {
			errs = append(errs, fmt.Errorf("%s must be positive, got %s", name, d))
		}
	}
	if c.Sampler.Capacity <= 0 {
		errs = append(errs, fmt.Errorf("sampler.capacity must be positive, got %d", c.Sampler.Capacity))
	}
	return errors.Join(errs...)
}

// ServiceSpecs builds the launch specs for both children. Children that run
// this binary are pointed at the same config file.
func (c *Config) ServiceSpecs() (producer, consumer process.Spec, err error) {
	global, err := c.globalEnv()
	if err != nil {
		return process.Spec{}, process.Spec{}, err
	}
	return c.spec(c.Producer, global), c.spec(c.Consumer, global), nil
}

func (c *Config) spec(sc ServiceConfig, global map[string]string) process.Spec {
	args := append([]string(nil), sc.Args...)
	if sc.Command == "" && c.path != "" {
		args = append(args, "--config", c.path)
	}
	env := make(map[string]string, len(global)+len(sc.Env))
	for k, v := range global {
		env[k] = v
	}
	applyPairs(env, sc.Env)
	return process.Spec{
		Name:    sc.Name,
		Command: sc.Command,
		Args:    args,
		WorkDir: sc.WorkDir,
		Env:     pairs(env),
	}
}

// globalEnv merges env_files in order, then the top-level env list.
func (c *Config) globalEnv() (map[string]string, error) {
	m := make(map[string]string)
	for _, p := range c.EnvFiles {
		file, err := loadEnvFile(p)
		if err != nil {
			return nil, fmt.Errorf("env file %s: %w", p, err)
		}
		for k, v := range file {
			m[k] = v
		}
	}
	applyPairs(m, c.Env)
	return m, nil
}

// loadEnvFile parses KEY=VALUE lines. Blank lines and lines starting with #
// are ignored, as is a leading "export ".
func loadEnvFile(path string) (map[string]string, error) {
	b, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return nil, err
	}
	m := make(map[string]string)
	for _, line := range strings.Split(string(b), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		line = strings.TrimPrefix(line, "export ")
		if i := strings.IndexByte(line, '='); i > 0 {
			k := strings.TrimSpace(line[:i])
			v := strings.Trim(strings.TrimSpace(line[i+1:]), `"'`)
			m[k] = v
		}
	}
	return m, nil
}

func applyPairs(m map[string]string, kvs []string) {
	for _, kv := range kvs {
		if i := strings.IndexByte(kv, '='); i > 0 {
			m[kv[:i]] = kv[i+1:]
		}
	}
}

func pairs(m map[string]string) []string {
	if len(m) == 0 {
		return nil
	}
	out := make([]string, 0, len(m))
	for k, v := range m {
		out = append(out, k+"="+v)
	}
	sort.Strings(out)
	return out
}

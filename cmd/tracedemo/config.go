package main

import (
	"sort"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/sharnoff/tracectx"
)

type config struct {
	Demo demoConfig `toml:"demo"`
	Log  logConfig  `toml:"log"`
}

type demoConfig struct {
	// Workers is the number of queue threads.
	Workers int `toml:"workers"`
	// Jobs is the number of compute callbacks pushed before the queue is activated.
	Jobs int `toml:"jobs"`
	// Delay is multiplied by each job's value to get how long it sleeps.
	Delay time.Duration `toml:"delay"`
	// ShutdownTimeout bounds how long we wait for the queue threads to stop.
	ShutdownTimeout time.Duration `toml:"shutdown_timeout"`
}

type logConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"` // "console" or "json"
}

func defaultConfig() config {
	return config{
		Demo: demoConfig{
			Workers:         3,
			Jobs:            10,
			Delay:           time.Millisecond,
			ShutdownTimeout: 5 * time.Second,
		},
		Log: logConfig{
			Level:  "info",
			Format: "console",
		},
	}
}

// loadConfigFile decodes path on top of cfg. Keys missing from the file keep their current values.
func loadConfigFile(path string, cfg *config) error {
	meta, err := toml.DecodeFile(path, cfg)
	if err != nil {
		return errors.Wrapf(err, "%s: failed to parse TOML", path)
	}

	if undecoded := meta.Undecoded(); len(undecoded) != 0 {
		var keys []string
		for _, k := range undecoded {
			keys = append(keys, k.String())
		}
		sort.Strings(keys)
		return errors.Errorf("%s: unknown keys: %s", path, strings.Join(keys, ", "))
	}
	return nil
}

func (c config) validate() error {
	switch {
	case c.Demo.Workers < 1:
		return errors.Errorf("workers must be at least 1, got %d", c.Demo.Workers)
	case c.Demo.Jobs < 0:
		return errors.Errorf("jobs must not be negative, got %d", c.Demo.Jobs)
	case c.Demo.Delay < 0:
		return errors.Errorf("delay must not be negative, got %s", c.Demo.Delay)
	case c.Demo.ShutdownTimeout <= 0:
		return errors.Errorf("shutdown timeout must be positive, got %s", c.Demo.ShutdownTimeout)
	}

	if _, err := zapcore.ParseLevel(c.Log.Level); err != nil {
		return errors.Wrap(err, "invalid log level")
	}
	switch c.Log.Format {
	case "console", "json":
	default:
		return errors.Errorf("unknown log format %q (expected \"console\" or \"json\")", c.Log.Format)
	}
	return nil
}

// options are the command-line flags. Flags that are explicitly set take precedence over the
// config file, which takes precedence over the defaults.
type options struct {
	configPath string
	flags      config
}

func (o *options) bind(cmd *cobra.Command) {
	defaults := defaultConfig()

	fs := cmd.Flags()
	fs.StringVar(&o.configPath, "config", "", "path to a TOML config file")
	fs.IntVar(&o.flags.Demo.Workers, "workers", defaults.Demo.Workers, "number of queue threads")
	fs.IntVar(&o.flags.Demo.Jobs, "jobs", defaults.Demo.Jobs, "number of compute jobs")
	fs.DurationVar(&o.flags.Demo.Delay, "delay", defaults.Demo.Delay, "per-value sleep for each compute job")
	fs.DurationVar(&o.flags.Demo.ShutdownTimeout, "shutdown-timeout", defaults.Demo.ShutdownTimeout, "how long to wait for queue threads to stop")
	fs.StringVar(&o.flags.Log.Level, "log-level", defaults.Log.Level, "minimum log level")
	fs.StringVar(&o.flags.Log.Format, "log-format", defaults.Log.Format, "log format (console|json)")
}

func (o *options) resolve(cmd *cobra.Command) (config, error) {
	cfg := defaultConfig()
	if o.configPath != "" {
		if err := loadConfigFile(o.configPath, &cfg); err != nil {
			return config{}, err
		}
	}

	fs := cmd.Flags()
	if fs.Changed("workers") {
		cfg.Demo.Workers = o.flags.Demo.Workers
	}
	if fs.Changed("jobs") {
		cfg.Demo.Jobs = o.flags.Demo.Jobs
	}
	if fs.Changed("delay") {
		cfg.Demo.Delay = o.flags.Demo.Delay
	}
	if fs.Changed("shutdown-timeout") {
		cfg.Demo.ShutdownTimeout = o.flags.Demo.ShutdownTimeout
	}
	if fs.Changed("log-level") {
		cfg.Log.Level = o.flags.Log.Level
	}
	if fs.Changed("log-format") {
		cfg.Log.Format = o.flags.Log.Format
	}

	if err := cfg.validate(); err != nil {
		return config{}, err
	}
	return cfg, nil
}

// newLogger builds the demo's logger. Every entry it writes carries the writing goroutine's
// context.
func newLogger(c logConfig) (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(c.Level)
	if err != nil {
		return nil, errors.Wrap(err, "invalid log level")
	}

	var zc zap.Config
	if c.Format == "json" {
		zc = zap.NewProductionConfig()
	} else {
		zc = zap.NewDevelopmentConfig()
	}
	zc.Level = zap.NewAtomicLevelAt(level)

	l, err := zc.Build(tracectx.Option())
	if err != nil {
		return nil, errors.Wrap(err, "build logger")
	}
	return l, nil
}

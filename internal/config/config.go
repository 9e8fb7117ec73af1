// Package config loads dupereap settings from a YAML file, the environment
// (DUPEREAP_*) and command-line flags, in increasing order of precedence.
package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/dupereap/dupereap/internal/finder"
	"github.com/dupereap/dupereap/internal/hasher"
	"github.com/dupereap/dupereap/internal/logging"
	"github.com/dupereap/dupereap/internal/planner"
	"github.com/dupereap/dupereap/internal/types"
)

// EnvPrefix prefixes every environment variable, e.g. DUPEREAP_WORKERS.
const EnvPrefix = "DUPEREAP"

// Config mirrors the configuration keys. Sizes stay strings until Options
// parses them, so "64KiB" works in files, env and flags alike.
type Config struct {
	MinSize     string   `mapstructure:"min-size"`
	Algorithm   string   `mapstructure:"algorithm"`
	Partial     bool     `mapstructure:"partial"`
	PartialSize string   `mapstructure:"partial-size"`
	Workers     int      `mapstructure:"workers"`
	Strategy    string   `mapstructure:"strategy"`
	Exclude     []string `mapstructure:"exclude"`
	Hardlinks   bool     `mapstructure:"hardlinks"`
	Cache       string   `mapstructure:"cache"`
	LogLevel    string   `mapstructure:"log-level"`
	LogFormat   string   `mapstructure:"log-format"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		MinSize:     "1",
		Algorithm:   hasher.Default,
		PartialSize: humanize.IBytes(finder.DefaultPartialSize),
		Workers:     finder.DefaultWorkers(),
		Strategy:    planner.First.String(),
		Hardlinks:   true,
		LogLevel:    "warn",
		LogFormat:   "text",
	}
}

// Load reads configuration. cfgFile may be empty, in which case dupereap.yaml
// is looked up in the user config directory and the working directory and
// is optional. flags may be nil.
func Load(cfgFile string, flags *pflag.FlagSet) (*Config, error) {
	v := viper.New()
	setDefaults(v, Default())

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		v.SetConfigName("dupereap")
		v.SetConfigType("yaml")
		if dir := configDir(); dir != "" {
			v.AddConfigPath(dir)
		}
		v.AddConfigPath(".")
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	if flags != nil {
		if err := v.BindPFlags(flags); err != nil {
			return nil, err
		}
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if cfgFile != "" || !errors.As(err, &notFound) {
			return nil, types.InvalidConfigf("read config: %v", err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, types.InvalidConfigf("decode config: %v", err)
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper, d *Config) {
	v.SetDefault("min-size", d.MinSize)
	v.SetDefault("algorithm", d.Algorithm)
	v.SetDefault("partial", d.Partial)
	v.SetDefault("partial-size", d.PartialSize)
	v.SetDefault("workers", d.Workers)
	v.SetDefault("strategy", d.Strategy)
	v.SetDefault("exclude", d.Exclude)
	v.SetDefault("hardlinks", d.Hardlinks)
	v.SetDefault("cache", d.Cache)
	v.SetDefault("log-level", d.LogLevel)
	v.SetDefault("log-format", d.LogFormat)
}

// configDir returns $XDG_CONFIG_HOME/dupereap or its platform equivalent.
func configDir() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return ""
	}
	return filepath.Join(dir, "dupereap")
}

// Validate checks every key and returns all problems joined together.
// Each one wraps types.ErrInvalidConfig.
func (c *Config) Validate() error {
	var errs []error

	if _, err := ParseSize(c.MinSize); err != nil {
		errs = append(errs, types.InvalidConfigf("min-size %q: %v", c.MinSize, err))
	}
	if size, err := ParseSize(c.PartialSize); err != nil {
		errs = append(errs, types.InvalidConfigf("partial-size %q: %v", c.PartialSize, err))
	} else if c.Partial && size == 0 {
		errs = append(errs, types.InvalidConfigf("partial-size must be positive"))
	}
	if c.Workers < 1 {
		errs = append(errs, types.InvalidConfigf("workers must be positive, got %d", c.Workers))
	}
	if _, err := hasher.Lookup(c.Algorithm); err != nil {
		errs = append(errs, err)
	}
	if _, err := planner.ParseStrategy(c.Strategy); err != nil {
		errs = append(errs, err)
	}
	if err := ValidateGlobPatterns(c.Exclude); err != nil {
		errs = append(errs, types.InvalidConfigf("exclude: %v", err))
	}
	if !logging.ValidLevel(c.LogLevel) {
		errs = append(errs, types.InvalidConfigf("unknown log-level %q", c.LogLevel))
	}
	if f := strings.ToLower(c.LogFormat); f != "text" && f != "json" {
		errs = append(errs, types.InvalidConfigf("log-format must be text or json, got %q", c.LogFormat))
	}

	return errors.Join(errs...)
}

// Options converts the configuration into scan options for paths.
func (c *Config) Options(paths []string, showProgress bool) (finder.Options, error) {
	if err := c.Validate(); err != nil {
		return finder.Options{}, err
	}
	minSize, _ := ParseSize(c.MinSize)
	partialSize, _ := ParseSize(c.PartialSize)

	opts := finder.Options{
		Paths:        paths,
		MinSize:      minSize,
		Algorithm:    c.Algorithm,
		Partial:      c.Partial,
		PartialSize:  partialSize,
		Workers:      c.Workers,
		Excludes:     c.Exclude,
		Hardlinks:    c.Hardlinks,
		ShowProgress: showProgress,
	}
	if err := opts.Validate(); err != nil {
		return finder.Options{}, err
	}
	return opts, nil
}

// RetentionStrategy returns the configured keeper strategy.
func (c *Config) RetentionStrategy() (planner.Strategy, error) {
	return planner.ParseStrategy(c.Strategy)
}

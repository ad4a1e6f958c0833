package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/tinytelemetry/searchmatrix/internal/model"
	"github.com/tinytelemetry/searchmatrix/internal/searchversion"
)

const (
	defaultMaxConcurrentInstances = model.DefaultMaxConcurrency
	defaultStartupTimeout         = model.DefaultStartupTimeout
	defaultQueryTimeout           = model.DefaultQueryTimeout
	defaultCaseTimeout            = 2 * time.Minute
	defaultTeardownTimeout        = 30 * time.Second
	defaultHeapSize               = model.DefaultHeapSize
	defaultLogLevel               = "info"
	defaultLogFormat              = "logfmt"
	defaultNodeAddr               = "127.0.0.1:9200"
)

// defaultCatalog is the matrix run when none is configured: the legacy and
// current duckdb dialects plus the bleve engine.
var defaultCatalog = []string{"duckdb:0.9.2", "duckdb:1.1.3", "bleve:2.5.7"}

// appConfig is internal runtime configuration.
// It is package-private to keep defaults and shape local to the CLI entrypoint.
type appConfig struct {
	Catalog                []string      `mapstructure:"catalog"`
	MaxConcurrentInstances int           `mapstructure:"max-concurrent-instances"`
	StartupTimeout         time.Duration `mapstructure:"startup-timeout"`
	QueryTimeout           time.Duration `mapstructure:"query-timeout"`
	CaseTimeout            time.Duration `mapstructure:"case-timeout"`
	TeardownTimeout        time.Duration `mapstructure:"teardown-timeout"`
	HeapSize               string        `mapstructure:"heap-size"`
	Username               string        `mapstructure:"username"`
	Password               string        `mapstructure:"password"`
	WarmUp                 time.Duration `mapstructure:"warm-up"`
	Reuse                  bool          `mapstructure:"reuse"`
	CI                     bool          `mapstructure:"ci"`
	MetricsAddr            string        `mapstructure:"metrics-addr"`
	LogLevel               string        `mapstructure:"log-level"`
	LogFormat              string        `mapstructure:"log-format"`
	ConfigPath             string        `mapstructure:"-"` // not from config file
}

// versions parses the configured catalog.
func (c appConfig) versions() ([]searchversion.SearchVersion, error) {
	out := make([]searchversion.SearchVersion, 0, len(c.Catalog))
	for _, raw := range c.Catalog {
		v, err := searchversion.Parse(strings.TrimSpace(raw))
		if err != nil {
			return nil, fmt.Errorf("catalog: %w", err)
		}
		out = append(out, v)
	}
	return out, nil
}

func newViper() *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix("SEARCHMATRIX")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	// CI runners export CI=true; it always disables instance reuse.
	_ = v.BindEnv("ci", "SEARCHMATRIX_CI", "CI")

	v.SetDefault("catalog", defaultCatalog)
	v.SetDefault("max-concurrent-instances", defaultMaxConcurrentInstances)
	v.SetDefault("startup-timeout", defaultStartupTimeout)
	v.SetDefault("query-timeout", defaultQueryTimeout)
	v.SetDefault("case-timeout", defaultCaseTimeout)
	v.SetDefault("teardown-timeout", defaultTeardownTimeout)
	v.SetDefault("heap-size", defaultHeapSize)
	v.SetDefault("warm-up", time.Duration(0))
	v.SetDefault("reuse", false)
	v.SetDefault("ci", false)
	v.SetDefault("log-level", defaultLogLevel)
	v.SetDefault("log-format", defaultLogFormat)
	return v
}

// loadConfig resolves configuration from flags, environment and an optional
// YAML file, in that order of precedence.
func loadConfig(v *viper.Viper, flags *pflag.FlagSet, configPath string) (appConfig, error) {
	var cfg appConfig

	if flags != nil {
		if err := v.BindPFlags(flags); err != nil {
			return cfg, err
		}
	}

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else if home, err := os.UserHomeDir(); err == nil {
		v.SetConfigFile(filepath.Join(home, ".config", "searchmatrix", "config.yml"))
	}

	read := true
	if err := v.ReadInConfig(); err != nil {
		var configFileNotFound viper.ConfigFileNotFoundError
		if !errors.As(err, &configFileNotFound) && !os.IsNotExist(err) {
			return cfg, err
		}
		// An explicitly named file must exist.
		if configPath != "" {
			return cfg, fmt.Errorf("config file %s: %w", configPath, err)
		}
		read = false
	}

	if err := v.Unmarshal(&cfg); err != nil {
		return cfg, err
	}
	if read {
		cfg.ConfigPath = v.ConfigFileUsed()
	}

	if cfg.MaxConcurrentInstances <= 0 {
		return cfg, fmt.Errorf("invalid max-concurrent-instances: %d", cfg.MaxConcurrentInstances)
	}
	if cfg.StartupTimeout <= 0 {
		return cfg, fmt.Errorf("invalid startup-timeout: %s", cfg.StartupTimeout)
	}
	if len(cfg.Catalog) == 0 {
		return cfg, errors.New("catalog is empty")
	}
	if _, err := cfg.versions(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

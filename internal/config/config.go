// Package config loads run settings from a YAML file, MAMMO_DEID_*
// environment variables and command-line flags.
package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog"
	"github.com/spf13/viper"

	"mammo-deid/internal/anonymizer"
	"mammo-deid/internal/scrub"
)

// EnvPrefix prefixes every environment variable, e.g. MAMMO_DEID_SALT.
const EnvPrefix = "MAMMO_DEID"

// DefaultOrgRoot is the UUID-derived root, used when no organisation root is
// registered.
const DefaultOrgRoot = "2.25"

type Config struct {
	OrgRoot        string   `mapstructure:"org_root"`
	Salt           string   `mapstructure:"salt"`
	Recipe         string   `mapstructure:"recipe"`
	Workers        int      `mapstructure:"workers"`
	Threshold      float64  `mapstructure:"threshold"`
	MinTokenLength int      `mapstructure:"min_token_length"`
	Placeholder    string   `mapstructure:"placeholder"`
	MinShiftDays   int      `mapstructure:"min_shift_days"`
	MaxShiftDays   int      `mapstructure:"max_shift_days"`
	Unmapped       string   `mapstructure:"unmapped"`
	Identities     []string `mapstructure:"identities"`
	EraseOutdir    bool     `mapstructure:"erase_outdir"`
	Recursive      bool     `mapstructure:"recursive"`
	LogFile        string   `mapstructure:"log_file"`
	Ledger         string   `mapstructure:"ledger"`
}

// New returns a viper instance with defaults and environment binding, ready
// for flags to be bound onto it.
func New() *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))
	v.AutomaticEnv()

	// Defaults
	opts := scrub.DefaultOptions()
	v.SetDefault("org_root", DefaultOrgRoot)
	v.SetDefault("salt", "")
	v.SetDefault("recipe", "")
	v.SetDefault("workers", 0)
	v.SetDefault("threshold", opts.Threshold)
	v.SetDefault("min_token_length", opts.MinTokenLength)
	v.SetDefault("placeholder", opts.Placeholder)
	v.SetDefault("min_shift_days", 30)
	v.SetDefault("max_shift_days", 730)
	v.SetDefault("unmapped", string(anonymizer.UnmappedError))
	v.SetDefault("identities", []string{})
	v.SetDefault("erase_outdir", false)
	v.SetDefault("recursive", true)
	v.SetDefault("log_file", "")
	v.SetDefault("ledger", "")
	return v
}

// Load reads path into v and decodes the result. Without a path a
// mammo-deid.yaml in the working directory is used when present.
func Load(v *viper.Viper, path string) (*Config, error) {
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	} else {
		v.SetConfigName("mammo-deid")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("read config: %w", err)
			}
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks value ranges. UID syntax is checked by the engine.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.OrgRoot) == "" {
		return errors.New("org_root is required")
	}
	if c.Threshold < 0 || c.Threshold > 1 {
		return fmt.Errorf("threshold %v is outside [0, 1]", c.Threshold)
	}
	if c.MaxShiftDays < c.MinShiftDays {
		return fmt.Errorf("max_shift_days %d is below min_shift_days %d", c.MaxShiftDays, c.MinShiftDays)
	}
	if c.Workers < 0 {
		return fmt.Errorf("workers must not be negative, got %d", c.Workers)
	}
	if _, err := anonymizer.ParseUnmappedPolicy(c.Unmapped); err != nil {
		return err
	}
	return nil
}

// Engine converts the settings into an engine configuration.
func (c *Config) Engine(logger zerolog.Logger) anonymizer.Config {
	policy, _ := anonymizer.ParseUnmappedPolicy(c.Unmapped)
	return anonymizer.Config{
		OrgRoot:      c.OrgRoot,
		Salt:         c.Salt,
		MinShiftDays: c.MinShiftDays,
		MaxShiftDays: c.MaxShiftDays,
		Scrub: scrub.Options{
			Threshold:      c.Threshold,
			MinTokenLength: c.MinTokenLength,
			Placeholder:    c.Placeholder,
		},
		Identities:  c.Identities,
		Unmapped:    policy,
		Workers:     c.Workers,
		EraseOutdir: c.EraseOutdir,
		Logger:      logger,
	}
}

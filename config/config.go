package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"

	"github.com/spf13/viper"
)

const (
	DriverRod      = "rod"
	DriverChromedp = "chromedp"
)

type BrowserConfig struct {
	// Driver selects the automation harness that delivers the payload.
	Driver      string   `mapstructure:"driver"`
	Headless    bool     `mapstructure:"headless"`
	UserAgents  []string `mapstructure:"user_agents"`
	MinViewport int      `mapstructure:"min_viewport"`
	MaxViewport int      `mapstructure:"max_viewport"`
	Bin         string   `mapstructure:"bin"`
}

type PayloadConfig struct {
	// Units restricts the installed patch units; empty installs all of them.
	Units []string `mapstructure:"units"`
	// Diagnostics routes install failures to the operator log through a
	// host binding. Off keeps the payload fully silent.
	Diagnostics bool   `mapstructure:"diagnostics"`
	Binding     string `mapstructure:"binding"`
}

type StorageConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Dir     string `mapstructure:"dir"`
}

type LoggingConfig struct {
	Level string `mapstructure:"level"`
}

type Config struct {
	Browser BrowserConfig `mapstructure:"browser"`
	Payload PayloadConfig `mapstructure:"payload"`
	Storage StorageConfig `mapstructure:"storage"`
	Logging LoggingConfig `mapstructure:"logging"`
}

// Load reads the YAML file at path on top of the defaults. An empty path, or
// a path that does not exist, yields defaults plus environment overrides
// (DISGUISE_BROWSER_DRIVER and so on).
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("DISGUISE")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) && !errors.Is(err, fs.ErrNotExist) {
				return nil, fmt.Errorf("read config: %w", err)
			}
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("browser.driver", DriverRod)
	v.SetDefault("browser.headless", true)
	v.SetDefault("browser.user_agents", []string{
		"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/122.0.0.0 Safari/537.36",
		"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36",
	})
	v.SetDefault("browser.min_viewport", 1280)
	v.SetDefault("browser.max_viewport", 1600)
	v.SetDefault("browser.bin", "")

	v.SetDefault("payload.units", []string{})
	v.SetDefault("payload.diagnostics", false)
	v.SetDefault("payload.binding", "__disguiseDiag")

	v.SetDefault("storage.enabled", true)
	v.SetDefault("storage.dir", "data")

	v.SetDefault("logging.level", "info")
}

func (c *Config) validate() error {
	c.Browser.Driver = strings.ToLower(strings.TrimSpace(c.Browser.Driver))
	switch c.Browser.Driver {
	case DriverRod, DriverChromedp:
	default:
		return fmt.Errorf("browser.driver must be %q or %q, got %q", DriverRod, DriverChromedp, c.Browser.Driver)
	}
	if len(c.Browser.UserAgents) == 0 {
		return fmt.Errorf("browser.user_agents must include at least one value")
	}
	if c.Browser.MinViewport <= 0 {
		return fmt.Errorf("browser.min_viewport must be greater than zero")
	}
	if c.Browser.MaxViewport <= c.Browser.MinViewport {
		return fmt.Errorf("browser.max_viewport must be greater than min_viewport")
	}
	if c.Payload.Diagnostics && c.Payload.Binding == "" {
		return fmt.Errorf("payload.binding is required when payload.diagnostics is on")
	}
	if c.Storage.Enabled && c.Storage.Dir == "" {
		return fmt.Errorf("storage.dir is required when storage is enabled")
	}

	c.Logging.Level = strings.ToLower(c.Logging.Level)

	return nil
}

// BindingName is the diagnostic binding to build the payload with, empty when
// diagnostics are off.
func (c *Config) BindingName() string {
	if !c.Payload.Diagnostics {
		return ""
	}
	return c.Payload.Binding
}

package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	"feedview/models"
)

const (
	DefaultRefreshInterval = 10 * time.Minute
	DefaultRetention       = 90 * 24 * time.Hour
)

// TomlSource represents a syndication source from TOML
type TomlSource struct {
	Url      string `toml:"url"`
	Personal bool   `toml:"personal,omitempty"`
}

// TomlMirror controls copying item images into the uploads directory
type TomlMirror struct {
	Enabled bool `toml:"enabled"`
	Workers int  `toml:"workers,omitempty"`
}

// TomlConfig represents the top-level configuration
type TomlConfig struct {
	RefreshInterval   string       `toml:"refresh_interval,omitempty"`
	Retention         string       `toml:"retention,omitempty"`
	ExcludeCategories []string     `toml:"exclude_categories,omitempty"`
	Mirror            TomlMirror   `toml:"mirror"`
	Sources           []TomlSource `toml:"sources"`
}

func LoadConfig(path string) (*TomlConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("error reading config file: %w", err)
	}

	return ParseConfig(data)
}

func ParseConfig(data []byte) (*TomlConfig, error) {
	config := TomlConfig{
		ExcludeCategories: []string{"affiliation"},
	}
	if err := toml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("error parsing config file: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return &config, nil
}

// Validate checks sources and durations
func (c *TomlConfig) Validate() error {
	if len(c.Sources) == 0 {
		return errors.New("config must list at least one source")
	}
	for i, source := range c.Sources {
		if !strings.HasPrefix(source.Url, "http://") && !strings.HasPrefix(source.Url, "https://") {
			return fmt.Errorf("source %d: url %q must be http(s)", i, source.Url)
		}
	}
	if _, err := c.RefreshEvery(); err != nil {
		return err
	}
	if _, err := c.RetentionPeriod(); err != nil {
		return err
	}
	if c.Mirror.Workers < 0 {
		return fmt.Errorf("mirror workers must not be negative, got %d", c.Mirror.Workers)
	}
	return nil
}

// RefreshEvery returns how often sources are fetched
func (c *TomlConfig) RefreshEvery() (time.Duration, error) {
	return parseDuration("refresh_interval", c.RefreshInterval, DefaultRefreshInterval)
}

// RetentionPeriod returns how long stored items are kept
func (c *TomlConfig) RetentionPeriod() (time.Duration, error) {
	return parseDuration("retention", c.Retention, DefaultRetention)
}

// ModelSources converts the configured sources
func (c *TomlConfig) ModelSources() []models.Source {
	sources := make([]models.Source, len(c.Sources))
	for i, source := range c.Sources {
		sources[i] = models.Source{
			Url:      source.Url,
			Personal: source.Personal,
		}
	}
	return sources
}

func parseDuration(name, value string, fallback time.Duration) (time.Duration, error) {
	if strings.TrimSpace(value) == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", name, value, err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("%s must be positive, got %s", name, value)
	}
	return d, nil
}

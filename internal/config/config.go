// Package config loads and validates the opsd daemon configuration.
// The configuration is a single JSON file naming the collaborator daemons,
// the observing site and the environment condition groups; it is read once
// at startup and never hot-reloaded, because mid-night semantics changes
// are more dangerous than a restart.
package config

import (
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"

	"github.com/ashford-obs/opsd/internal/environment"
	"github.com/ashford-obs/opsd/internal/gateway"
	"github.com/ashford-obs/opsd/internal/site"
	"github.com/ashford-obs/opsd/internal/tracing"
)

// EnvironmentConfig names the aggregator daemon and the condition groups
// derived from its snapshot.
type EnvironmentConfig struct {
	// Address is the environment aggregator daemon base URL.
	Address string `mapstructure:"address" validate:"required,url"`

	// PollIntervalSeconds is the snapshot polling cadence. Default 10.
	PollIntervalSeconds float64 `mapstructure:"poll_interval" validate:"gte=0"`

	// Groups defines the condition groups; at least one is required so the
	// verdict can never be vacuously safe.
	Groups []environment.GroupConfig `mapstructure:"groups" validate:"required,min=1,dive"`

	// InternalHumidityGroup / ExternalHumidityGroup select the groups whose
	// latest reading is surfaced for dehumidifier control. Optional.
	InternalHumidityGroup string `mapstructure:"internal_humidity_group"`
	ExternalHumidityGroup string `mapstructure:"external_humidity_group"`
}

// PollInterval returns the configured cadence as a duration.
func (c EnvironmentConfig) PollInterval() time.Duration {
	if c.PollIntervalSeconds > 0 {
		return time.Duration(c.PollIntervalSeconds * float64(time.Second))
	}
	return 10 * time.Second
}

// MountConfig names the telescope mount daemon. An empty address leaves
// actions without a mount, which the park action treats as a no-op.
type MountConfig struct {
	Address string `mapstructure:"address" validate:"omitempty,url"`
}

// SiteConfig is the observing site location.
type SiteConfig struct {
	Latitude  float64 `mapstructure:"latitude" validate:"gte=-90,lte=90"`
	Longitude float64 `mapstructure:"longitude" validate:"gte=-180,lte=180"`
	Elevation float64 `mapstructure:"elevation"`
}

// Location converts the section to the site type.
func (c SiteConfig) Location() site.Location {
	return site.Location{Latitude: c.Latitude, Longitude: c.Longitude, Elevation: c.Elevation}
}

// Config is the full opsd daemon configuration.
type Config struct {
	// ListenAddress is the HTTP API bind address.
	ListenAddress string `mapstructure:"listen_address" validate:"required"`

	// LogPath is the log file; empty logs to stderr.
	LogPath string `mapstructure:"log_path"`

	// ControlMachines lists IPs or prefixes allowed to issue commands.
	// Empty allows every caller.
	ControlMachines []string `mapstructure:"control_machines"`

	// PipelineMachines lists IPs or prefixes allowed to deliver frames.
	PipelineMachines []string `mapstructure:"pipeline_machines"`

	// RequireTonight rejects schedules for any night but the current one.
	// Default true; disable only on test rigs.
	RequireTonight *bool `mapstructure:"require_tonight"`

	// LoopDelaySeconds is the control loop cadence for the enclosure
	// controller and the scheduler. Default 10.
	LoopDelaySeconds float64 `mapstructure:"loop_delay" validate:"gte=0"`

	Site        SiteConfig         `mapstructure:"site" validate:"required"`
	Dome        gateway.DomeConfig `mapstructure:"dome" validate:"required"`
	Mount       MountConfig        `mapstructure:"mount"`
	Environment EnvironmentConfig  `mapstructure:"environment" validate:"required"`
	Tracing     tracing.Config     `mapstructure:"tracing"`
}

// LoopDelay returns the control loop cadence as a duration.
func (c Config) LoopDelay() time.Duration {
	if c.LoopDelaySeconds > 0 {
		return time.Duration(c.LoopDelaySeconds * float64(time.Second))
	}
	return 10 * time.Second
}

// RequireTonightEnabled reports the effective setting (default true).
func (c Config) RequireTonightEnabled() bool {
	return c.RequireTonight == nil || *c.RequireTonight
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Load reads and validates the JSON configuration at path.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("json")

	v.SetDefault("listen_address", ":9002")
	v.SetDefault("dome.type", "simulated")

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}

	if err := validate.Struct(cfg); err != nil {
		return nil, fmt.Errorf("validate config %s: %w", path, err)
	}
	if err := cfg.Site.Location().Validate(); err != nil {
		return nil, fmt.Errorf("validate config %s: site: %w", path, err)
	}
	return &cfg, nil
}

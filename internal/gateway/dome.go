package gateway

import (
	"context"
	"fmt"
	"time"
)

// DomeStatus is the aggregated shutter telemetry reported by the dome daemon.
type DomeStatus int

const (
	DomeClosed DomeStatus = iota
	DomeOpen
	DomeMoving
	// DomeTimeout indicates the hardware watchdog tripped and the dome is
	// closing (or has closed) itself.
	DomeTimeout
)

func (s DomeStatus) String() string {
	switch s {
	case DomeClosed:
		return "CLOSED"
	case DomeOpen:
		return "OPEN"
	case DomeMoving:
		return "MOVING"
	case DomeTimeout:
		return "TIMEOUT"
	default:
		return "UNKNOWN"
	}
}

// MarshalText implements encoding.TextMarshaler for JSON status payloads.
func (s DomeStatus) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// DefaultEnvironmentStaleLimit bounds how old a safe environment verdict may
// be before heartbeat pings are withheld, letting the hardware watchdog
// close the dome if the supervisor or environment monitor stalls.
const DefaultEnvironmentStaleLimit = 30 * time.Second

// Dome is the RPC boundary to the shutter hardware daemon.
// Open and Close block until the movement completes or fails; the
// implementation must bound them with a timeout.
type Dome interface {
	// Status queries the current shutter telemetry.
	Status(ctx context.Context) (DomeStatus, error)

	// Open commands the shutter open and waits for confirmation.
	Open(ctx context.Context) error

	// Close commands the shutter closed and waits for confirmation.
	Close(ctx context.Context) error

	// EnableHeartbeat arms the hardware watchdog, committing the dome to
	// automatic operation.
	EnableHeartbeat(ctx context.Context) error

	// DisableHeartbeat disarms the hardware watchdog for manual operation.
	DisableHeartbeat(ctx context.Context) error

	// PingHeartbeat resets the hardware watchdog timer.
	PingHeartbeat(ctx context.Context) error

	// ReopenAfterWeatherAlert reports whether a scheduled window survives an
	// unsafe verdict, allowing the dome to reopen once conditions recover.
	ReopenAfterWeatherAlert() bool

	// EnvironmentStaleLimit is the maximum verdict age that still permits
	// heartbeat pings.
	EnvironmentStaleLimit() time.Duration
}

// DomeConfig configures a dome backend.
type DomeConfig struct {
	// Type selects the backend: "http" or "simulated".
	Type string `mapstructure:"type" json:"type"`
	// Address is the dome daemon base URL (http backend).
	Address string `mapstructure:"address" json:"address"`
	// MovementTimeoutSeconds bounds open/close commands. Default 120.
	MovementTimeoutSeconds float64 `mapstructure:"movement_timeout" json:"movement_timeout"`
	// ReopenAfterWeatherAlert keeps the scheduled window across unsafe
	// verdicts. Default false (window cleared on first unsafe verdict).
	ReopenAfterWeatherAlert bool `mapstructure:"reopen_after_weather_alert" json:"reopen_after_weather_alert"`
	// StaleLimitSeconds overrides the environment staleness horizon.
	// Default 30.
	StaleLimitSeconds float64 `mapstructure:"environment_stale_limit" json:"environment_stale_limit"`
	// OpenDelaySeconds / CloseDelaySeconds are the simulated movement times
	// (simulated backend only).
	OpenDelaySeconds  float64 `mapstructure:"open_delay" json:"open_delay"`
	CloseDelaySeconds float64 `mapstructure:"close_delay" json:"close_delay"`
}

func (c DomeConfig) staleLimit() time.Duration {
	if c.StaleLimitSeconds > 0 {
		return time.Duration(c.StaleLimitSeconds * float64(time.Second))
	}
	return DefaultEnvironmentStaleLimit
}

func (c DomeConfig) movementTimeout() time.Duration {
	if c.MovementTimeoutSeconds > 0 {
		return time.Duration(c.MovementTimeoutSeconds * float64(time.Second))
	}
	return 2 * time.Minute
}

// NewDome constructs the dome backend described by the config.
func NewDome(cfg DomeConfig) (Dome, error) {
	switch cfg.Type {
	case "http":
		if cfg.Address == "" {
			return nil, fmt.Errorf("dome: address is required for the http backend")
		}
		return newHTTPDome(cfg), nil
	case "simulated":
		return NewSimulatedDome(cfg), nil
	default:
		return nil, fmt.Errorf("dome: unknown backend type %q", cfg.Type)
	}
}

// httpDome drives a real shutter daemon over JSON/HTTP.
type httpDome struct {
	client          *httpClient
	movementTimeout time.Duration
	reopen          bool
	staleLimit      time.Duration
}

func newHTTPDome(cfg DomeConfig) *httpDome {
	return &httpDome{
		client:          newHTTPClient(cfg.Address, 0),
		movementTimeout: cfg.movementTimeout(),
		reopen:          cfg.ReopenAfterWeatherAlert,
		staleLimit:      cfg.staleLimit(),
	}
}

func (d *httpDome) Status(ctx context.Context) (DomeStatus, error) {
	var resp struct {
		Status string `json:"status"`
	}
	if err := d.client.get(ctx, "/status", &resp); err != nil {
		return DomeClosed, err
	}
	switch resp.Status {
	case "CLOSED":
		return DomeClosed, nil
	case "OPEN":
		return DomeOpen, nil
	case "MOVING", "OPENING", "CLOSING":
		return DomeMoving, nil
	case "TIMEOUT":
		return DomeTimeout, nil
	default:
		return DomeClosed, fmt.Errorf("dome: unknown status %q", resp.Status)
	}
}

func (d *httpDome) Open(ctx context.Context) error {
	return d.client.post(ctx, "/open", nil, d.movementTimeout)
}

func (d *httpDome) Close(ctx context.Context) error {
	return d.client.post(ctx, "/close", nil, d.movementTimeout)
}

func (d *httpDome) EnableHeartbeat(ctx context.Context) error {
	return d.client.post(ctx, "/heartbeat/enable", nil, 0)
}

func (d *httpDome) DisableHeartbeat(ctx context.Context) error {
	return d.client.post(ctx, "/heartbeat/disable", nil, 0)
}

func (d *httpDome) PingHeartbeat(ctx context.Context) error {
	return d.client.post(ctx, "/heartbeat", nil, 0)
}

func (d *httpDome) ReopenAfterWeatherAlert() bool { return d.reopen }

func (d *httpDome) EnvironmentStaleLimit() time.Duration { return d.staleLimit }

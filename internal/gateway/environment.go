package gateway

import (
	"context"
)

// Parameter is one sensor reading reported by the environment aggregator.
// Condition flags beyond the standard "unsafe"/"warning" keys are site
// specific, so flags are kept as a free-form map.
type Parameter struct {
	// Current is true while the reading is fresh enough to act on.
	Current bool `json:"current"`
	// Latest is the most recent value.
	Latest float64 `json:"latest"`
	// Flags holds the threshold flags, e.g. "unsafe": true.
	Flags map[string]bool `json:"flags"`
}

// Flag returns the named threshold flag, false when absent.
func (p Parameter) Flag(key string) bool {
	return p.Flags[key]
}

// Device is one sensor daemon's contribution to the snapshot.
type Device struct {
	Parameters map[string]Parameter `json:"parameters"`
}

// Snapshot is the device-indexed environment state for one poll.
type Snapshot map[string]Device

// Parameter looks up a device parameter; ok is false when either level
// is missing.
func (s Snapshot) Parameter(device, name string) (Parameter, bool) {
	d, ok := s[device]
	if !ok {
		return Parameter{}, false
	}
	p, ok := d.Parameters[name]
	return p, ok
}

// Environment is the RPC boundary to the environment aggregator daemon.
type Environment interface {
	// Snapshot fetches the current device-indexed sensor state.
	Snapshot(ctx context.Context) (Snapshot, error)
}

// httpEnvironment queries the aggregator daemon over JSON/HTTP.
type httpEnvironment struct {
	client *httpClient
}

// NewHTTPEnvironment creates an environment client for the daemon at base.
func NewHTTPEnvironment(base string) Environment {
	return &httpEnvironment{client: newHTTPClient(base, 0)}
}

func (e *httpEnvironment) Snapshot(ctx context.Context) (Snapshot, error) {
	var snap Snapshot
	if err := e.client.get(ctx, "/status", &snap); err != nil {
		return nil, err
	}
	return snap, nil
}

package gateway

import (
	"context"
)

// Mount is the minimal RPC boundary actions use to reach the telescope
// mount daemon. Richer per-instrument wrappers live with the site's action
// catalog, outside the supervisor core.
type Mount interface {
	// Park drives the mount to its safe parked position and waits for
	// confirmation.
	Park(ctx context.Context) error

	// Stop aborts any motion in progress.
	Stop(ctx context.Context) error
}

// httpMount drives the mount daemon over JSON/HTTP.
type httpMount struct {
	client *httpClient
}

// NewHTTPMount creates a mount client for the daemon at base.
func NewHTTPMount(base string) Mount {
	return &httpMount{client: newHTTPClient(base, 0)}
}

func (m *httpMount) Park(ctx context.Context) error {
	return m.client.post(ctx, "/park", nil, 2*defaultRequestTimeout)
}

func (m *httpMount) Stop(ctx context.Context) error {
	return m.client.post(ctx, "/stop", nil, 0)
}

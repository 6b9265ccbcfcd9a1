package gateway

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrHeartbeatDisarmed is returned when pinging a watchdog that is not armed.
var ErrHeartbeatDisarmed = errors.New("dome: heartbeat is not armed")

// SimulatedDome models a virtual shutter for integration tests and
// hardware-free deployments. Movement takes the configured delays and the
// watchdog behaviour mirrors the real daemons: once armed, a missed ping
// window can be forced with TripWatchdog.
type SimulatedDome struct {
	mu         sync.Mutex
	status     DomeStatus
	armed      bool
	openDelay  time.Duration
	closeDelay time.Duration
	reopen     bool
	staleLimit time.Duration

	// Fault injection for tests.
	failNext error
}

// NewSimulatedDome creates a closed, disarmed simulated dome.
func NewSimulatedDome(cfg DomeConfig) *SimulatedDome {
	return &SimulatedDome{
		status:     DomeClosed,
		openDelay:  time.Duration(cfg.OpenDelaySeconds * float64(time.Second)),
		closeDelay: time.Duration(cfg.CloseDelaySeconds * float64(time.Second)),
		reopen:     cfg.ReopenAfterWeatherAlert,
		staleLimit: cfg.staleLimit(),
	}
}

func (d *SimulatedDome) Status(ctx context.Context) (DomeStatus, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.takeFault(); err != nil {
		return DomeClosed, err
	}
	return d.status, nil
}

func (d *SimulatedDome) Open(ctx context.Context) error {
	return d.move(ctx, DomeOpen, d.openDelay)
}

func (d *SimulatedDome) Close(ctx context.Context) error {
	return d.move(ctx, DomeClosed, d.closeDelay)
}

func (d *SimulatedDome) move(ctx context.Context, target DomeStatus, delay time.Duration) error {
	d.mu.Lock()
	if err := d.takeFault(); err != nil {
		d.mu.Unlock()
		return err
	}
	d.status = DomeMoving
	d.mu.Unlock()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	d.mu.Lock()
	d.status = target
	d.mu.Unlock()
	return nil
}

func (d *SimulatedDome) EnableHeartbeat(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.takeFault(); err != nil {
		return err
	}
	d.armed = true
	return nil
}

func (d *SimulatedDome) DisableHeartbeat(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.takeFault(); err != nil {
		return err
	}
	d.armed = false
	if d.status == DomeTimeout {
		d.status = DomeClosed
	}
	return nil
}

func (d *SimulatedDome) PingHeartbeat(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.takeFault(); err != nil {
		return err
	}
	if !d.armed {
		return ErrHeartbeatDisarmed
	}
	return nil
}

func (d *SimulatedDome) ReopenAfterWeatherAlert() bool { return d.reopen }

func (d *SimulatedDome) EnvironmentStaleLimit() time.Duration { return d.staleLimit }

// TripWatchdog simulates the hardware watchdog expiring: the dome closes
// itself and reports TIMEOUT until the heartbeat is disarmed.
func (d *SimulatedDome) TripWatchdog() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.status = DomeTimeout
	d.armed = false
}

// FailNext makes the next gateway call return err, simulating an RPC outage.
func (d *SimulatedDome) FailNext(err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.failNext = err
}

func (d *SimulatedDome) takeFault() error {
	err := d.failNext
	d.failNext = nil
	return err
}

// Package enclosure reconciles the physical dome state against the desired
// state derived from the operations mode, the scheduled open window and the
// latest environment verdict.
package enclosure

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/ashford-obs/opsd/internal/environment"
	"github.com/ashford-obs/opsd/internal/gateway"
	"github.com/ashford-obs/opsd/internal/log"
	"github.com/ashford-obs/opsd/internal/modes"
)

var (
	// ErrNotAutomatic is returned when a command requires automatic mode.
	ErrNotAutomatic = errors.New("enclosure: dome is not in automatic mode")
	// ErrInErrorState is returned when automatic mode is requested before
	// the operator has acknowledged an error by switching to manual.
	ErrInErrorState = errors.New("enclosure: dome requires a manual reset")
	// ErrInvalidWindow is returned for a window whose open time does not
	// precede its close time.
	ErrInvalidWindow = errors.New("enclosure: window open time must precede close time")
)

// Mode changes out of Error go through Manual only; the operator must
// acknowledge the fault before automatic operation resumes.
var validTransitions = map[modes.Mode]map[modes.Mode]bool{
	modes.Manual:    {modes.Manual: true, modes.Automatic: true},
	modes.Automatic: {modes.Manual: true, modes.Automatic: true},
	modes.Error:     {modes.Manual: true},
}

// Window is the scheduled interval during which the dome may be open.
type Window struct {
	OpenAt  time.Time `json:"open"`
	CloseAt time.Time `json:"close"`
}

// Contains reports whether t falls inside the half-open interval.
func (w Window) Contains(t time.Time) bool {
	return !t.Before(w.OpenAt) && t.Before(w.CloseAt)
}

// VerdictSource supplies the last-published environment verdict.
type VerdictSource interface {
	Verdict() environment.Verdict
}

// Status is the controller state published to the status API.
type Status struct {
	Mode          modes.Mode         `json:"mode"`
	RequestedMode modes.Mode         `json:"requested_mode"`
	ModeUpdated   time.Time          `json:"mode_updated"`
	Status        gateway.DomeStatus `json:"status"`
	StatusUpdated time.Time          `json:"status_updated"`
	OpenAt        *time.Time         `json:"open_date,omitempty"`
	CloseAt       *time.Time         `json:"close_date,omitempty"`
}

// Config configures the Controller.
type Config struct {
	// Dome is the shutter hardware gateway.
	Dome gateway.Dome
	// Environment supplies safety verdicts.
	Environment VerdictSource
	// LoopDelay is the reconciliation period. Default 10s.
	LoopDelay time.Duration
	// Now is the clock, overridable in tests. Default time.Now.
	Now func() time.Time
}

// Controller owns the dome. It starts in manual mode with no window; the
// loop only drives hardware while automatic.
type Controller struct {
	cfg  Config
	dome gateway.Dome
	now  func() time.Time

	mu            sync.Mutex
	mode          modes.Mode
	requestedMode modes.Mode
	modeUpdated   time.Time
	window        *Window
	status        gateway.DomeStatus
	updated       time.Time

	wake chan struct{}
}

// NewController creates a Controller in manual mode.
func NewController(cfg Config) *Controller {
	if cfg.LoopDelay <= 0 {
		cfg.LoopDelay = 10 * time.Second
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &Controller{
		cfg:           cfg,
		dome:          cfg.Dome,
		now:           now,
		mode:          modes.Manual,
		requestedMode: modes.Manual,
		modeUpdated:   now(),
		status:        gateway.DomeClosed,
		updated:       now(),
		wake:          make(chan struct{}, 1),
	}
}

// Run reconciles until ctx is cancelled.
func (c *Controller) Run(ctx context.Context) {
	for {
		c.Tick(ctx)
		select {
		case <-ctx.Done():
			return
		case <-c.wake:
		case <-time.After(c.cfg.LoopDelay):
		}
	}
}

// Wake forces an immediate reconciliation if Run is sleeping.
func (c *Controller) Wake() {
	select {
	case c.wake <- struct{}{}:
	default:
	}
}

// RequestMode records the operator's requested mode. The reconciliation
// loop performs the transition, so the heartbeat is never armed or
// disarmed concurrently with a shutter command.
func (c *Controller) RequestMode(target modes.Mode) error {
	if target != modes.Automatic && target != modes.Manual {
		return ErrInErrorState
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if target == modes.Automatic && c.mode == modes.Error {
		return ErrInErrorState
	}
	if target != c.requestedMode {
		log.Info(log.CatDome, "requesting dome mode",
			"from", c.mode.String(), "to", target.String())
	}
	c.requestedMode = target
	c.wakeLocked()
	return nil
}

// SetWindow installs the scheduled open window. Requires automatic mode.
func (c *Controller) SetWindow(w Window) error {
	if !w.OpenAt.Before(w.CloseAt) {
		return ErrInvalidWindow
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.mode != modes.Automatic {
		return ErrNotAutomatic
	}
	c.window = &w
	log.Info(log.CatDome, "scheduled dome window",
		"open", w.OpenAt.UTC().Format(time.RFC3339),
		"close", w.CloseAt.UTC().Format(time.RFC3339))

	c.wakeLocked()
	return nil
}

// ClearWindow removes any scheduled window. Idempotent; if the dome is
// open inside the window the next tick closes it.
func (c *Controller) ClearWindow() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.window != nil {
		c.window = nil
		log.Info(log.CatDome, "cleared dome window")
	}
	c.wakeLocked()
}

func (c *Controller) wakeLocked() {
	select {
	case c.wake <- struct{}{}:
	default:
	}
}

// Mode returns the current operations mode.
func (c *Controller) Mode() modes.Mode {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.mode
}

// Status returns the published controller state.
func (c *Controller) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()

	s := Status{
		Mode:          c.mode,
		RequestedMode: c.requestedMode,
		ModeUpdated:   c.modeUpdated,
		Status:        c.status,
		StatusUpdated: c.updated,
	}
	if c.window != nil {
		openAt, closeAt := c.window.OpenAt, c.window.CloseAt
		s.OpenAt, s.CloseAt = &openAt, &closeAt
	}
	return s
}

// IsOpen reports whether the last status query saw the shutter open.
func (c *Controller) IsOpen() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status == gateway.DomeOpen
}

func (c *Controller) setMode(m modes.Mode) {
	c.mu.Lock()
	c.mode = m
	c.modeUpdated = c.now()
	c.mu.Unlock()
}

func (c *Controller) setError(msg string, err error) {
	c.mu.Lock()
	c.mode = modes.Error
	c.modeUpdated = c.now()
	c.window = nil
	c.mu.Unlock()
	if err != nil {
		log.ErrorErr(log.CatDome, msg, err)
	} else {
		log.Error(log.CatDome, msg)
	}
}

// applyMode performs a requested transition: entering automatic arms the
// hardware watchdog, leaving disarms it. A failure in either direction
// leaves the controller in error mode. Runs on the loop task only.
func (c *Controller) applyMode(ctx context.Context, target modes.Mode) bool {
	switch target {
	case modes.Automatic:
		if err := c.dome.EnableHeartbeat(ctx); err != nil {
			c.setError("failed to switch dome to automatic mode", err)
			return false
		}
		c.setMode(modes.Automatic)
		log.Info(log.CatDome, "dome switched to automatic mode")
	case modes.Manual:
		if err := c.dome.DisableHeartbeat(ctx); err != nil {
			c.setError("failed to switch dome to manual mode", err)
			return false
		}
		c.mu.Lock()
		c.mode = modes.Manual
		c.modeUpdated = c.now()
		c.window = nil
		c.mu.Unlock()
		log.Info(log.CatDome, "dome switched to manual mode")
	}
	return true
}

// Tick runs one reconciliation pass. Exposed for tests; Run calls it on
// every loop iteration.
func (c *Controller) Tick(ctx context.Context) {
	c.mu.Lock()
	mode, requested := c.mode, c.requestedMode
	c.mu.Unlock()

	if requested != mode && validTransitions[mode][requested] {
		if !c.applyMode(ctx, requested) {
			return
		}
		mode = requested
	}
	if mode != modes.Automatic {
		return
	}

	now := c.now()
	verdict := c.cfg.Environment.Verdict()

	c.mu.Lock()
	// Window fully elapsed.
	if c.window != nil && now.After(c.window.CloseAt) {
		c.window = nil
	}
	// First unsafe verdict inside the window cancels the rest of the
	// night, unless this site reopens after weather alerts.
	if c.window != nil && !verdict.Safe && !c.dome.ReopenAfterWeatherAlert() &&
		verdict.UpdatedAt.After(c.window.OpenAt) {
		c.window = nil
		log.Warn(log.CatDome, "cleared dome window after weather alert")
	}
	window := c.window
	c.mu.Unlock()

	staleLimit := c.dome.EnvironmentStaleLimit()
	fresh := verdict.Age(now) < staleLimit
	desiredOpen := window != nil && window.Contains(now) &&
		verdict.Safe && fresh && verdict.UpdatedAt.After(window.OpenAt)

	status, err := c.dome.Status(ctx)
	if err != nil {
		c.setError("lost contact with dome daemon", err)
		return
	}
	c.publishStatus(status)

	log.Debug(log.CatDome, "reconciling dome",
		"status", status.String(), "desired_open", desiredOpen)

	switch {
	case status == gateway.DomeTimeout:
		c.setError("dome heartbeat timed out", nil)
		return
	case desiredOpen && status == gateway.DomeClosed:
		if err := c.dome.Open(ctx); err != nil {
			c.setError("failed to open dome", err)
			return
		}
	case !desiredOpen && status == gateway.DomeOpen:
		if err := c.dome.Close(ctx); err != nil {
			c.setError("failed to close dome", err)
			return
		}
	default:
		// Reconciled, or the shutter is still settling from an earlier
		// command; ping below keeps the watchdog alive.
		if fresh {
			if err := c.dome.PingHeartbeat(ctx); err != nil {
				c.setError("failed to ping dome heartbeat", err)
			}
		}
		return
	}

	status, err = c.dome.Status(ctx)
	if err != nil {
		c.setError("lost contact with dome daemon", err)
		return
	}
	c.publishStatus(status)

	if fresh {
		if err := c.dome.PingHeartbeat(ctx); err != nil {
			c.setError("failed to ping dome heartbeat", err)
		}
	}
}

func (c *Controller) publishStatus(status gateway.DomeStatus) {
	c.mu.Lock()
	c.status = status
	c.updated = c.now()
	c.mu.Unlock()
}

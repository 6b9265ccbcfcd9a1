// Package telescope sequences observing actions through a single execution
// slot, arbitrating between operator mode requests, the enclosure state and
// the action queue.
package telescope

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ashford-obs/opsd/internal/action"
	"github.com/ashford-obs/opsd/internal/enclosure"
	"github.com/ashford-obs/opsd/internal/log"
	"github.com/ashford-obs/opsd/internal/modes"
)

var (
	// ErrNotAutomatic is returned when queueing actions outside automatic mode.
	ErrNotAutomatic = errors.New("telescope: scheduler is not in automatic mode")
	// ErrInErrorState is returned when automatic mode is requested before
	// the operator has acknowledged an error by switching to manual.
	ErrInErrorState = errors.New("telescope: scheduler requires a manual reset")
)

// DomeView is the read-only slice of the enclosure controller the
// scheduler consults each tick.
type DomeView interface {
	IsOpen() bool
	Mode() modes.Mode
}

// ActionSummary is one schedule-table row in the status snapshot.
type ActionSummary struct {
	Name  string   `json:"name"`
	Tasks []string `json:"tasks"`
}

// Status is the scheduler state published to the status API.
type Status struct {
	Mode          modes.Mode      `json:"mode"`
	RequestedMode modes.Mode      `json:"requested_mode"`
	StatusUpdated time.Time       `json:"status_updated"`
	Schedule      []ActionSummary `json:"schedule"`
}

// Config configures the Scheduler.
type Config struct {
	// Dome is consulted to derive the dome-is-open signal. Optional; sites
	// without a controllable enclosure fall back to the environment verdict.
	Dome DomeView
	// Environment is the fallback open signal when Dome is nil.
	Environment enclosure.VerdictSource
	// Catalog builds the implicit park action on queue drain.
	Catalog *action.Catalog
	// Resources are handed to the implicit park action.
	Resources action.Resources
	// LoopDelay is the tick period. Default 10s.
	LoopDelay time.Duration
	// Now is the clock, overridable in tests. Default time.Now.
	Now func() time.Time
}

// Scheduler owns the action queue and the single active slot. It starts in
// manual mode and idle.
type Scheduler struct {
	cfg Config
	now func() time.Time

	mu            sync.Mutex
	queue         []action.Action
	active        action.Action
	idle          bool
	mode          modes.Mode
	requestedMode modes.Mode
	updated       time.Time
	domeWasOpen   bool

	wake chan struct{}
}

// NewScheduler creates a Scheduler in manual mode.
func NewScheduler(cfg Config) *Scheduler {
	if cfg.LoopDelay <= 0 {
		cfg.LoopDelay = 10 * time.Second
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &Scheduler{
		cfg:           cfg,
		now:           now,
		idle:          true,
		mode:          modes.Manual,
		requestedMode: modes.Manual,
		updated:       now(),
		wake:          make(chan struct{}, 1),
	}
}

// Run ticks until ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context) {
	for {
		s.Tick(ctx)
		select {
		case <-ctx.Done():
			return
		case <-s.wake:
		case <-time.After(s.cfg.LoopDelay):
		}
	}
}

// Wake forces an immediate tick if Run is sleeping.
func (s *Scheduler) Wake() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// RequestMode records the operator's requested mode. Manual requests take
// effect once the active action has cleaned up; automatic requests take
// effect on the next tick unless the scheduler is in error.
func (s *Scheduler) RequestMode(m modes.Mode) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if m == modes.Automatic && s.mode == modes.Error {
		return ErrInErrorState
	}
	s.requestedMode = m
	s.wakeLocked()
	return nil
}

// QueueActions appends actions to the tail of the queue in submission
// order. Requires automatic mode.
func (s *Scheduler) QueueActions(actions []action.Action) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.mode != modes.Automatic {
		return ErrNotAutomatic
	}
	s.queue = append(s.queue, actions...)
	s.wakeLocked()
	return nil
}

// Abort clears the queue and requests termination of the active action.
// Idempotent; the active action winds down cooperatively.
func (s *Scheduler) Abort() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.queue = nil
	if s.active != nil {
		log.Info(log.CatSched, "aborting active action", "action", s.active.Name())
		s.active.Abort()
	}
	s.wakeLocked()
}

func (s *Scheduler) wakeLocked() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// Mode returns the current operations mode.
func (s *Scheduler) Mode() modes.Mode {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.mode
}

// Status returns the published scheduler state. The schedule lists the
// active action first, then the queue in submission order.
func (s *Scheduler) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()

	var schedule []ActionSummary
	if s.active != nil && s.active.Status() == action.Incomplete {
		schedule = append(schedule, ActionSummary{Name: s.active.Name(), Tasks: s.active.TaskLabels()})
	}
	for _, a := range s.queue {
		schedule = append(schedule, ActionSummary{Name: a.Name(), Tasks: a.TaskLabels()})
	}

	return Status{
		Mode:          s.mode,
		RequestedMode: s.requestedMode,
		StatusUpdated: s.updated,
		Schedule:      schedule,
	}
}

// NotifyFrame routes a processed pipeline frame to the active action and
// returns its extra header cards. Frames with no active action are dropped.
func (s *Scheduler) NotifyFrame(headers action.Headers) []action.HeaderCard {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.active == nil || s.active.Status() != action.Incomplete {
		return nil
	}
	return s.deliver(s.active, func(a action.Action) []action.HeaderCard {
		return a.ReceivedFrame(headers)
	})
}

// NotifyGuideProfile routes a pipeline guide profile to the active action.
func (s *Scheduler) NotifyGuideProfile(headers action.Headers, profileX, profileY []float64) []action.HeaderCard {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.active == nil || s.active.Status() != action.Incomplete {
		return nil
	}
	return s.deliver(s.active, func(a action.Action) []action.HeaderCard {
		return a.ReceivedGuideProfile(headers, profileX, profileY)
	})
}

// deliver invokes a notification callback, containing any panic so a
// misbehaving action fails alone instead of taking the daemon down.
func (s *Scheduler) deliver(a action.Action, call func(action.Action) []action.HeaderCard) (cards []action.HeaderCard) {
	defer func() {
		if r := recover(); r != nil {
			log.Error(log.CatSched, "panic in action notification",
				"action", a.Name(), "panic", fmt.Sprint(r))
			if m, ok := a.(interface{ MarkError() }); ok {
				m.MarkError()
			}
			a.Abort()
			cards = nil
		}
	}()
	return call(a)
}

// Tick runs scheduling passes until no further progress can be made this
// round. Exposed for tests; Run calls it on every loop iteration.
func (s *Scheduler) Tick(ctx context.Context) {
	domeOpen := s.domeIsOpen()

	s.mu.Lock()
	defer s.mu.Unlock()

	// Manual intervention is required to leave the error state.
	autoFailure := s.mode == modes.Error && s.requestedMode == modes.Automatic

	if s.requestedMode != s.mode && !autoFailure {
		log.Info(log.CatSched, "changing telescope mode",
			"from", s.mode.String(), "to", s.requestedMode.String())

		switch s.requestedMode {
		case modes.Manual:
			// Abort and wait for the active action to clean up before
			// flipping the mode.
			if len(s.queue) > 0 {
				log.Info(log.CatSched, "aborting action queue")
				s.queue = nil
			}
			if s.active != nil {
				s.active.Abort()
			} else {
				s.mode = modes.Manual
			}
		case modes.Automatic:
			s.mode = modes.Automatic
		}
	}

	s.updated = s.now()

	if s.mode == modes.Manual {
		s.domeWasOpen = domeOpen
		return
	}

	for {
		if s.active == nil {
			switch {
			case len(s.queue) > 0:
				s.idle = false
				s.active = s.queue[0]
				s.queue = s.queue[1:]
			case !s.idle && s.requestedMode != modes.Manual:
				// Nothing left to do; stow the telescope until the next
				// schedule arrives.
				s.active = s.cfg.Catalog.Park(s.cfg.Resources)
			}

			if s.active != nil {
				log.Info(log.CatSched, "starting action", "action", s.active.Name())
				if err := s.active.Start(domeOpen); err != nil {
					log.ErrorErr(log.CatSched, "failed to start action", err, "action", s.active.Name())
				}
			}
		}

		if s.active == nil {
			break
		}

		switch s.active.Status() {
		case action.Error:
			log.Error(log.CatSched, "action failed", "action", s.active.Name())
			log.Info(log.CatSched, "aborting action queue")
			s.queue = nil
			s.mode = modes.Error
			s.active = nil
			continue
		case action.Incomplete:
			if domeOpen != s.domeWasOpen {
				s.active.DomeStatusChanged(domeOpen)
			}
		default:
			if _, isPark := s.active.(*action.ParkTelescope); isPark {
				s.idle = true
			}
			s.active = nil
			continue
		}
		break
	}

	s.domeWasOpen = domeOpen
}

// domeIsOpen derives the open signal actions observe. A dome in manual
// mode is trusted to be however the operator wants it.
func (s *Scheduler) domeIsOpen() bool {
	if s.cfg.Dome != nil {
		return s.cfg.Dome.IsOpen() || s.cfg.Dome.Mode() == modes.Manual
	}
	if s.cfg.Environment != nil {
		return s.cfg.Environment.Verdict().Safe
	}
	return false
}

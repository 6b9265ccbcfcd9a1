package action

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ashford-obs/opsd/internal/log"
)

// DefaultCheckInterval bounds how long a timed wait can overshoot an abort
// request when the wake signal is missed.
const DefaultCheckInterval = 10 * time.Second

// Base carries the state machine and wait primitives shared by every
// action. Concrete actions embed *Base and supply the worker body; the
// worker is launched on the scheduler's first tick, not at construction.
type Base struct {
	id   string
	name string
	res  Resources
	body func(ctx context.Context)
	now  func() time.Time

	mu       sync.Mutex
	status   Status
	aborted  bool
	started  bool
	domeOpen bool
	tasks    []string
	cancel   context.CancelFunc

	// wake is the per-action signal shared by timed waits, abort and
	// dome notifications so any blocked worker re-checks its state.
	wake chan struct{}
}

// NewBase creates the shared state for an action named name whose worker
// is body.
func NewBase(name string, res Resources, body func(ctx context.Context)) *Base {
	now := res.Now
	if now == nil {
		now = time.Now
	}
	return &Base{
		id:   uuid.NewString(),
		name: name,
		res:  res,
		body: body,
		now:  now,
		wake: make(chan struct{}, 1),
	}
}

func (b *Base) ID() string   { return b.id }
func (b *Base) Name() string { return b.name }

// Resources returns the shared collaborators for worker bodies.
func (b *Base) Resources() Resources { return b.res }

func (b *Base) Status() Status {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.status
}

// Aborted reports whether termination has been requested.
func (b *Base) Aborted() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.aborted
}

// DomeIsOpen reports the last enclosure state notified to this action.
func (b *Base) DomeIsOpen() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.domeOpen
}

// TaskLabels returns the current schedule-table labels.
func (b *Base) TaskLabels() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]string, len(b.tasks))
	copy(out, b.tasks)
	return out
}

// SetTasks replaces the schedule-table labels.
func (b *Base) SetTasks(labels ...string) {
	b.mu.Lock()
	b.tasks = labels
	b.mu.Unlock()
}

// MarkComplete moves the action to its Complete terminal state. Ignored
// once a terminal state has been reached.
func (b *Base) MarkComplete() { b.finish(Complete) }

// MarkError moves the action to its Error terminal state. Ignored once a
// terminal state has been reached.
func (b *Base) MarkError() { b.finish(Error) }

func (b *Base) finish(s Status) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.status != Incomplete {
		return
	}
	b.status = s
}

// Start launches the worker goroutine. The second and later calls return
// ErrAlreadyStarted.
func (b *Base) Start(domeIsOpen bool) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.domeOpen = domeIsOpen
	if b.started {
		return ErrAlreadyStarted
	}
	b.started = true

	ctx, cancel := context.WithCancel(context.Background())
	b.cancel = cancel
	go b.runWorker(ctx)
	return nil
}

func (b *Base) runWorker(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			log.Error(log.CatAction, "panic in action worker",
				"action", b.name, "panic", fmt.Sprint(r))
			b.MarkError()
		}
		if b.Status() == Incomplete {
			log.Error(log.CatAction, "action worker exited without a terminal status",
				"action", b.name)
			b.MarkError()
		}
	}()
	b.body(ctx)
}

// Abort requests cooperative termination: the aborted flag is raised, the
// worker context is cancelled and any blocked wait is woken.
func (b *Base) Abort() {
	b.mu.Lock()
	b.aborted = true
	cancel := b.cancel
	b.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	b.Wake()
}

// DomeStatusChanged records the new enclosure state and wakes the worker.
func (b *Base) DomeStatusChanged(open bool) {
	b.mu.Lock()
	b.domeOpen = open
	b.mu.Unlock()
	b.Wake()
}

// Wake interrupts any wait blocked on this action's signal.
func (b *Base) Wake() {
	select {
	case b.wake <- struct{}{}:
	default:
	}
}

// ReceivedFrame is the default no-op frame notification.
func (b *Base) ReceivedFrame(headers Headers) []HeaderCard { return nil }

// ReceivedGuideProfile is the default no-op guide profile notification.
func (b *Base) ReceivedGuideProfile(headers Headers, profileX, profileY []float64) []HeaderCard {
	return nil
}

// WaitUntilTimeOrAborted sleeps until target passes or the action is
// aborted, waking early on the shared signal. checkInterval bounds the
// worst-case abort latency; <=0 selects DefaultCheckInterval. Returns true
// iff the deadline was reached without an abort.
func (b *Base) WaitUntilTimeOrAborted(target time.Time, checkInterval time.Duration) bool {
	if checkInterval <= 0 {
		checkInterval = DefaultCheckInterval
	}
	for {
		remaining := target.Sub(b.now())
		if remaining <= 0 || b.Aborted() {
			return !b.Aborted()
		}
		interval := checkInterval
		if remaining < interval {
			interval = remaining
		}
		timer := time.NewTimer(interval)
		select {
		case <-b.wake:
			timer.Stop()
		case <-timer.C:
		}
	}
}

// WaitForDome blocks until the enclosure is open or the action is aborted.
// Returns true iff the dome is open.
func (b *Base) WaitForDome() bool {
	for {
		if b.Aborted() {
			return false
		}
		if b.DomeIsOpen() {
			return true
		}
		timer := time.NewTimer(DefaultCheckInterval)
		select {
		case <-b.wake:
			timer.Stop()
		case <-timer.C:
		}
	}
}

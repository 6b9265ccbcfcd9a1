package telescope

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ashford-obs/opsd/internal/action"
	"github.com/ashford-obs/opsd/internal/modes"
)

type fakeDome struct {
	mu   sync.Mutex
	open bool
	mode modes.Mode
}

func (f *fakeDome) IsOpen() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.open
}

func (f *fakeDome) Mode() modes.Mode {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.mode
}

func (f *fakeDome) set(open bool, mode modes.Mode) {
	f.mu.Lock()
	f.open = open
	f.mode = mode
	f.mu.Unlock()
}

// scriptedAction blocks until released, recording lifecycle callbacks.
type scriptedAction struct {
	*action.Base
	release chan action.Status

	mu          sync.Mutex
	startOpen   []bool
	domeChanges []bool
	frames      []action.Headers
	frameCards  []action.HeaderCard
	framePanic  bool
}

func newScriptedAction(name string) *scriptedAction {
	a := &scriptedAction{release: make(chan action.Status, 1)}
	a.Base = action.NewBase(name, action.Resources{}, a.run)
	return a
}

func (a *scriptedAction) Start(domeIsOpen bool) error {
	a.mu.Lock()
	a.startOpen = append(a.startOpen, domeIsOpen)
	a.mu.Unlock()
	return a.Base.Start(domeIsOpen)
}

func (a *scriptedAction) run(ctx context.Context) {
	select {
	case final := <-a.release:
		if final == action.Error {
			a.MarkError()
		} else {
			a.MarkComplete()
		}
	case <-ctx.Done():
		a.MarkComplete()
	}
}

func (a *scriptedAction) DomeStatusChanged(open bool) {
	a.mu.Lock()
	a.domeChanges = append(a.domeChanges, open)
	a.mu.Unlock()
	a.Base.DomeStatusChanged(open)
}

func (a *scriptedAction) ReceivedFrame(headers action.Headers) []action.HeaderCard {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.framePanic {
		panic("malformed frame")
	}
	a.frames = append(a.frames, headers)
	return a.frameCards
}

func (a *scriptedAction) finish(s action.Status) { a.release <- s }

func newTestScheduler(dome DomeView) *Scheduler {
	return NewScheduler(Config{
		Dome:    dome,
		Catalog: action.NewCatalog(),
	})
}

func tick(s *Scheduler) { s.Tick(context.Background()) }

func settle(t *testing.T, s *Scheduler, a *scriptedAction) {
	t.Helper()
	require.Eventually(t, func() bool {
		return a.Status() != action.Incomplete
	}, 5*time.Second, 5*time.Millisecond)
	tick(s)
}

func automatic(t *testing.T, s *Scheduler) {
	t.Helper()
	require.NoError(t, s.RequestMode(modes.Automatic))
	tick(s)
	require.Equal(t, modes.Automatic, s.Mode())
}

func TestQueueRequiresAutomatic(t *testing.T) {
	s := newTestScheduler(&fakeDome{})
	err := s.QueueActions([]action.Action{newScriptedAction("A")})
	assert.ErrorIs(t, err, ErrNotAutomatic)
}

func TestRunsActionsInSubmissionOrder(t *testing.T) {
	s := newTestScheduler(&fakeDome{open: true, mode: modes.Automatic})
	automatic(t, s)

	a := newScriptedAction("A")
	b := newScriptedAction("B")
	require.NoError(t, s.QueueActions([]action.Action{a, b}))

	st := s.Status()
	require.Len(t, st.Schedule, 2)
	assert.Equal(t, "A", st.Schedule[0].Name)
	assert.Equal(t, "B", st.Schedule[1].Name)

	tick(s)
	assert.Equal(t, []bool{true}, a.startOpen)
	assert.Empty(t, b.startOpen)

	a.finish(action.Complete)
	settle(t, s, a)
	assert.Equal(t, []bool{true}, b.startOpen)
}

func TestParkEnqueuedOncePerDrain(t *testing.T) {
	s := newTestScheduler(&fakeDome{open: true, mode: modes.Automatic})
	automatic(t, s)

	a := newScriptedAction("A")
	require.NoError(t, s.QueueActions([]action.Action{a}))
	tick(s)
	a.finish(action.Complete)
	settle(t, s, a)

	// The drain enqueues the implicit park action.
	st := s.Status()
	require.Len(t, st.Schedule, 1)
	assert.Equal(t, "Park Telescope", st.Schedule[0].Name)

	require.Eventually(t, func() bool {
		return len(s.Status().Schedule) == 0
	}, 5*time.Second, 5*time.Millisecond)

	// Idle now; further ticks must not park again.
	tick(s)
	tick(s)
	assert.Empty(t, s.Status().Schedule)
}

func TestActionErrorClearsQueueAndSetsErrorMode(t *testing.T) {
	s := newTestScheduler(&fakeDome{open: true, mode: modes.Automatic})
	automatic(t, s)

	a := newScriptedAction("A")
	b := newScriptedAction("B")
	require.NoError(t, s.QueueActions([]action.Action{a, b}))
	tick(s)

	a.finish(action.Error)
	settle(t, s, a)

	assert.Equal(t, modes.Error, s.Mode())
	assert.Empty(t, b.startOpen)

	// The telescope is still stowed for safety.
	for _, row := range s.Status().Schedule {
		assert.Equal(t, "Park Telescope", row.Name)
	}
}

func TestErrorModeRequiresManualReset(t *testing.T) {
	s := newTestScheduler(&fakeDome{open: true, mode: modes.Automatic})
	automatic(t, s)

	a := newScriptedAction("A")
	require.NoError(t, s.QueueActions([]action.Action{a}))
	tick(s)
	a.finish(action.Error)
	settle(t, s, a)
	require.Equal(t, modes.Error, s.Mode())

	assert.ErrorIs(t, s.RequestMode(modes.Automatic), ErrInErrorState)
	assert.Equal(t, modes.Error, s.Mode())

	require.NoError(t, s.RequestMode(modes.Manual))
	require.Eventually(t, func() bool {
		tick(s)
		return s.Mode() == modes.Manual
	}, 5*time.Second, 5*time.Millisecond)

	require.NoError(t, s.RequestMode(modes.Automatic))
	tick(s)
	assert.Equal(t, modes.Automatic, s.Mode())
}

func TestManualTakeoverAbortsActiveAndClearsQueue(t *testing.T) {
	s := newTestScheduler(&fakeDome{open: true, mode: modes.Automatic})
	automatic(t, s)

	a := newScriptedAction("A")
	b := newScriptedAction("B")
	require.NoError(t, s.QueueActions([]action.Action{a, b}))
	tick(s)

	require.NoError(t, s.RequestMode(modes.Manual))
	tick(s)

	// Mode stays automatic until the aborted action cleans up.
	assert.Equal(t, modes.Automatic, s.Mode())
	assert.True(t, a.Aborted())

	require.Eventually(t, func() bool {
		tick(s)
		return s.Mode() == modes.Manual
	}, 5*time.Second, 5*time.Millisecond)

	assert.Empty(t, b.startOpen)
	assert.ErrorIs(t, s.QueueActions([]action.Action{newScriptedAction("C")}), ErrNotAutomatic)
}

func TestDomeStatusChangeNotifiesActiveAction(t *testing.T) {
	dome := &fakeDome{open: true, mode: modes.Automatic}
	s := newTestScheduler(dome)
	automatic(t, s)

	a := newScriptedAction("A")
	require.NoError(t, s.QueueActions([]action.Action{a}))
	tick(s)

	dome.set(false, modes.Automatic)
	tick(s)
	tick(s)

	a.mu.Lock()
	changes := append([]bool(nil), a.domeChanges...)
	a.mu.Unlock()
	assert.Equal(t, []bool{false}, changes)
	a.finish(action.Complete)
}

func TestManualDomeCountsAsOpen(t *testing.T) {
	dome := &fakeDome{open: false, mode: modes.Manual}
	s := newTestScheduler(dome)
	automatic(t, s)

	a := newScriptedAction("A")
	require.NoError(t, s.QueueActions([]action.Action{a}))
	tick(s)

	assert.Equal(t, []bool{true}, a.startOpen)
	a.finish(action.Complete)
}

func TestFrameRoutedToActiveAction(t *testing.T) {
	s := newTestScheduler(&fakeDome{open: true, mode: modes.Automatic})
	automatic(t, s)

	a := newScriptedAction("A")
	a.frameCards = []action.HeaderCard{{Key: "AG_ERRX", Value: 0.5}}
	require.NoError(t, s.QueueActions([]action.Action{a}))
	tick(s)

	cards := s.NotifyFrame(action.Headers{"EXPTIME": 5.0})
	assert.Equal(t, a.frameCards, cards)

	a.finish(action.Complete)
	settle(t, s, a)

	// No active action: frames are dropped.
	assert.Nil(t, s.NotifyFrame(action.Headers{"EXPTIME": 5.0}))
}

func TestFramePanicMarksActionError(t *testing.T) {
	s := newTestScheduler(&fakeDome{open: true, mode: modes.Automatic})
	automatic(t, s)

	a := newScriptedAction("A")
	a.framePanic = true
	require.NoError(t, s.QueueActions([]action.Action{a}))
	tick(s)

	assert.Nil(t, s.NotifyFrame(action.Headers{}))
	assert.Equal(t, action.Error, a.Status())
}

func TestAbortClearsQueue(t *testing.T) {
	s := newTestScheduler(&fakeDome{open: true, mode: modes.Automatic})
	automatic(t, s)

	a := newScriptedAction("A")
	b := newScriptedAction("B")
	require.NoError(t, s.QueueActions([]action.Action{a, b}))
	tick(s)

	s.Abort()

	assert.True(t, a.Aborted())
	require.Eventually(t, func() bool {
		return a.Status() != action.Incomplete
	}, 5*time.Second, 5*time.Millisecond)
	tick(s)
	assert.Empty(t, b.startOpen)
}

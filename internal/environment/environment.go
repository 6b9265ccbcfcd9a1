// Package environment aggregates safety signals from the weather, power and
// network sensors exposed by the environment aggregator daemon into a single
// safe/unsafe verdict with per-condition detail.
package environment

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/ashford-obs/opsd/internal/gateway"
	"github.com/ashford-obs/opsd/internal/log"
)

// ConditionStatus is the state of one watched sensor parameter.
type ConditionStatus int

const (
	StatusUnknown ConditionStatus = iota
	StatusSafe
	StatusWarning
	StatusUnsafe
)

func (s ConditionStatus) String() string {
	switch s {
	case StatusUnknown:
		return "UNKNOWN"
	case StatusSafe:
		return "SAFE"
	case StatusWarning:
		return "WARNING"
	case StatusUnsafe:
		return "UNSAFE"
	default:
		return "INVALID"
	}
}

// MarshalText implements encoding.TextMarshaler for JSON status payloads.
func (s ConditionStatus) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// WatcherConfig declares one sensor parameter contributing to a condition.
type WatcherConfig struct {
	Label      string `mapstructure:"label" json:"label" validate:"required"`
	Device     string `mapstructure:"device" json:"device" validate:"required"`
	Parameter  string `mapstructure:"parameter" json:"parameter" validate:"required"`
	UnsafeKey  string `mapstructure:"unsafe_key" json:"unsafe_key,omitempty"`
	WarningKey string `mapstructure:"warning_key" json:"warning_key,omitempty"`
}

// GroupConfig declares a condition group: a set of redundant watchers that
// must agree before the group is considered unsafe.
type GroupConfig struct {
	Key      string          `mapstructure:"key" json:"key" validate:"required"`
	Label    string          `mapstructure:"label" json:"label" validate:"required"`
	Watchers []WatcherConfig `mapstructure:"watchers" json:"watchers" validate:"required,min=1,dive"`
}

// watcher tracks the live status of one configured sensor parameter.
type watcher struct {
	cfg    WatcherConfig
	status ConditionStatus
}

// update recomputes the watcher status from a snapshot.
func (w *watcher) update(snap gateway.Snapshot) {
	w.status = StatusUnknown
	param, ok := snap.Parameter(w.cfg.Device, w.cfg.Parameter)
	if !ok {
		return
	}

	unsafeKey := w.cfg.UnsafeKey
	if unsafeKey == "" {
		unsafeKey = "unsafe"
	}
	warningKey := w.cfg.WarningKey
	if warningKey == "" {
		warningKey = "warning"
	}

	switch {
	case param.Flag(unsafeKey):
		w.status = StatusUnsafe
	case param.Flag(warningKey):
		w.status = StatusWarning
	case param.Current:
		w.status = StatusSafe
	}
}

// latest returns the current parameter value, or false if it is stale.
func (w *watcher) latest(snap gateway.Snapshot) (float64, bool) {
	param, ok := snap.Parameter(w.cfg.Device, w.cfg.Parameter)
	if !ok || !param.Current {
		return 0, false
	}
	return param.Latest, true
}

// group is a condition group with its watchers.
type group struct {
	cfg      GroupConfig
	watchers []*watcher
}

// update refreshes all watchers and reports whether the group is safe.
// A group is unsafe when any watcher is unsafe or every watcher is unknown.
func (g *group) update(snap gateway.Snapshot) bool {
	allUnknown := true
	anyUnsafe := false
	for _, w := range g.watchers {
		w.update(snap)
		if w.status != StatusUnknown {
			allUnknown = false
		}
		if w.status == StatusUnsafe {
			anyUnsafe = true
		}
	}
	return !(allUnknown || anyUnsafe)
}

// Verdict is the aggregated safety conclusion for one polling cycle.
type Verdict struct {
	Safe             bool
	UnsafeConditions []string
	UpdatedAt        time.Time
	InternalHumidity *float64
	ExternalHumidity *float64
}

// Age returns how old the verdict is.
func (v Verdict) Age(now time.Time) time.Duration {
	return now.Sub(v.UpdatedAt)
}

// Config configures the Monitor.
type Config struct {
	// Gateway is the environment aggregator client.
	Gateway gateway.Environment
	// Groups are the condition groups to evaluate each poll.
	Groups []GroupConfig
	// PollInterval is the cadence of aggregator queries. Default 10s.
	PollInterval time.Duration
	// InternalHumidityGroup / ExternalHumidityGroup name the condition
	// groups whose first current watcher supplies the humidity readings
	// surfaced in the verdict. Optional.
	InternalHumidityGroup string
	ExternalHumidityGroup string
	// OnVerdict, when set, is invoked after each poll publishes its
	// verdict. Used to wake downstream loops without them polling.
	OnVerdict func(Verdict)
}

// Monitor polls the environment aggregator and publishes safety verdicts.
// It lives for the process; consumers read the last-published verdict as a
// snapshot and apply their own staleness horizon.
type Monitor struct {
	cfg    Config
	groups []*group

	mu      sync.Mutex
	verdict Verdict
	wake    chan struct{}
}

// NewMonitor creates a Monitor. The initial verdict is unsafe with a
// zero timestamp so consumers treat it as stale until the first poll.
func NewMonitor(cfg Config) *Monitor {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 10 * time.Second
	}

	groups := make([]*group, 0, len(cfg.Groups))
	for _, gc := range cfg.Groups {
		g := &group{cfg: gc}
		for _, wc := range gc.Watchers {
			g.watchers = append(g.watchers, &watcher{cfg: wc})
		}
		groups = append(groups, g)
	}

	return &Monitor{
		cfg:    cfg,
		groups: groups,
		wake:   make(chan struct{}, 1),
	}
}

// Run polls until ctx is cancelled.
func (m *Monitor) Run(ctx context.Context) {
	for {
		m.Poll(ctx)
		select {
		case <-ctx.Done():
			return
		case <-m.wake:
		case <-time.After(m.cfg.PollInterval):
		}
	}
}

// Wake forces an immediate poll if Run is sleeping.
func (m *Monitor) Wake() {
	select {
	case m.wake <- struct{}{}:
	default:
	}
}

// Poll queries the aggregator once and updates the published verdict.
// An unreachable aggregator yields safe=false with every group unsafe.
func (m *Monitor) Poll(ctx context.Context) Verdict {
	snap, err := m.cfg.Gateway.Snapshot(ctx)
	if err != nil {
		snap = gateway.Snapshot{}
		log.RateLimited(log.CatRPC, "environment-query", time.Minute,
			"failed to query environment aggregator", "error", err.Error())
	}

	// Watcher states are read by ConditionsSnapshot on the API goroutine,
	// so the group updates happen under the same lock.
	m.mu.Lock()
	wasSafe := m.verdict.Safe

	safe := err == nil
	var unsafeGroups []string
	for _, g := range m.groups {
		if !g.update(snap) {
			safe = false
			unsafeGroups = append(unsafeGroups, g.cfg.Label)
		}
	}

	verdict := Verdict{
		Safe:             safe,
		UnsafeConditions: unsafeGroups,
		UpdatedAt:        time.Now(),
		InternalHumidity: m.latestInGroup(snap, m.cfg.InternalHumidityGroup),
		ExternalHumidity: m.latestInGroup(snap, m.cfg.ExternalHumidityGroup),
	}
	m.verdict = verdict
	m.mu.Unlock()

	if wasSafe && !safe {
		log.Warn(log.CatEnv, "environment unsafe", "conditions", strings.Join(unsafeGroups, ","))
	} else if !wasSafe && safe {
		log.Info(log.CatEnv, "environment safe")
	}

	if m.cfg.OnVerdict != nil {
		m.cfg.OnVerdict(verdict)
	}
	return verdict
}

func (m *Monitor) latestInGroup(snap gateway.Snapshot, key string) *float64 {
	if key == "" {
		return nil
	}
	for _, g := range m.groups {
		if g.cfg.Key != key {
			continue
		}
		for _, w := range g.watchers {
			if value, ok := w.latest(snap); ok {
				return &value
			}
		}
	}
	return nil
}

// Verdict returns the last-published verdict.
func (m *Monitor) Verdict() Verdict {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.verdict
}

// ConditionsSnapshot reports the per-watcher condition states for the
// status API, keyed by group label then watcher label.
func (m *Monitor) ConditionsSnapshot() map[string]map[string]ConditionStatus {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make(map[string]map[string]ConditionStatus, len(m.groups))
	for _, g := range m.groups {
		states := make(map[string]ConditionStatus, len(g.watchers))
		for _, w := range g.watchers {
			states[w.cfg.Label] = w.status
		}
		out[g.cfg.Label] = states
	}
	return out
}

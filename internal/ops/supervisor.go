// Package ops exposes the supervisor facade: the single command surface
// through which operators, schedulers and the data pipeline drive the
// observatory.
package ops

import (
	"fmt"
	"net/netip"
	"strconv"
	"sync"
	"time"

	"github.com/ashford-obs/opsd/internal/action"
	"github.com/ashford-obs/opsd/internal/enclosure"
	"github.com/ashford-obs/opsd/internal/environment"
	"github.com/ashford-obs/opsd/internal/log"
	"github.com/ashford-obs/opsd/internal/metrics"
	"github.com/ashford-obs/opsd/internal/modes"
	"github.com/ashford-obs/opsd/internal/schedule"
	"github.com/ashford-obs/opsd/internal/telescope"
)

// allowList matches caller addresses against configured prefixes. An empty
// list permits every caller; production configs are expected to name the
// control and pipeline machines explicitly.
type allowList []netip.Prefix

func parseAllowList(entries []string) (allowList, error) {
	var prefixes allowList
	for _, entry := range entries {
		if p, err := netip.ParsePrefix(entry); err == nil {
			prefixes = append(prefixes, p)
			continue
		}
		addr, err := netip.ParseAddr(entry)
		if err != nil {
			return nil, fmt.Errorf("ops: %q is not an IP address or prefix", entry)
		}
		prefixes = append(prefixes, netip.PrefixFrom(addr, addr.BitLen()))
	}
	return prefixes, nil
}

func (l allowList) permits(caller string) bool {
	if len(l) == 0 {
		return true
	}
	addr, err := netip.ParseAddr(caller)
	if err != nil {
		return false
	}
	addr = addr.Unmap()
	for _, p := range l {
		if p.Contains(addr) {
			return true
		}
	}
	return false
}

// Config configures the Supervisor.
type Config struct {
	Enclosure   *enclosure.Controller
	Scheduler   *telescope.Scheduler
	Environment *environment.Monitor

	// Schedule carries the parsing context (site, catalog, resources).
	Schedule schedule.Config

	// ControlMachines may submit schedules and change modes.
	ControlMachines []string
	// PipelineMachines may deliver frames and guide profiles.
	PipelineMachines []string

	// Metrics is optional; nil disables instrumentation.
	Metrics *metrics.Metrics
}

// EnvironmentStatus is the environment section of the status snapshot.
type EnvironmentStatus struct {
	Safe             bool                                               `json:"safe"`
	UpdatedAt        time.Time                                          `json:"updated"`
	UnsafeConditions []string                                           `json:"unsafe_conditions,omitempty"`
	Conditions       map[string]map[string]environment.ConditionStatus `json:"conditions,omitempty"`
	InternalHumidity *float64                                           `json:"internal_humidity,omitempty"`
	ExternalHumidity *float64                                           `json:"external_humidity,omitempty"`
}

// StatusSnapshot is the consolidated supervisor state.
type StatusSnapshot struct {
	Night       string            `json:"night"`
	Dome        *enclosure.Status `json:"dome,omitempty"`
	Telescope   telescope.Status  `json:"telescope"`
	Environment EnvironmentStatus `json:"environment"`
}

// Supervisor serializes facade commands and routes them to the owning
// components. At most one mutating command runs at a time; concurrent
// callers get Blocked rather than queueing.
type Supervisor struct {
	cfg      Config
	control  allowList
	pipeline allowList

	commandMu sync.Mutex
}

// NewSupervisor creates the facade.
func NewSupervisor(cfg Config) (*Supervisor, error) {
	control, err := parseAllowList(cfg.ControlMachines)
	if err != nil {
		return nil, err
	}
	pipeline, err := parseAllowList(cfg.PipelineMachines)
	if err != nil {
		return nil, err
	}
	return &Supervisor{cfg: cfg, control: control, pipeline: pipeline}, nil
}

func (s *Supervisor) record(operation string, code CommandStatus) CommandStatus {
	if s.cfg.Metrics != nil {
		s.cfg.Metrics.Commands.WithLabelValues(operation, strconv.Itoa(int(code))).Inc()
	}
	return code
}

// SubmitSchedule validates a schedule descriptor and, when valid, installs
// the dome window and enqueues the actions atomically: mode preconditions
// are checked before any state is mutated.
func (s *Supervisor) SubmitSchedule(caller string, raw []byte) (CommandStatus, []string) {
	const op = "submit_schedule"
	if !s.control.permits(caller) {
		return s.record(op, InvalidControlIP), nil
	}
	if !s.commandMu.TryLock() {
		return s.record(op, Blocked), nil
	}
	defer s.commandMu.Unlock()

	plan, messages := schedule.Parse(raw, s.cfg.Schedule)
	if plan == nil {
		return s.record(op, InvalidSchedule), messages
	}

	if plan.Window != nil && s.cfg.Enclosure.Mode() != modes.Automatic {
		return s.record(op, DomeNotAutomatic), messages
	}
	if len(plan.Actions) > 0 && s.cfg.Scheduler.Mode() != modes.Automatic {
		return s.record(op, TelescopeNotAutomatic), messages
	}

	if plan.Window != nil {
		if err := s.cfg.Enclosure.SetWindow(*plan.Window); err != nil {
			return s.record(op, Failed), append(messages, err.Error())
		}
	}
	if len(plan.Actions) > 0 {
		if err := s.cfg.Scheduler.QueueActions(plan.Actions); err != nil {
			return s.record(op, Failed), append(messages, err.Error())
		}
	}

	log.Info(log.CatOps, "schedule installed",
		"night", plan.Night.String(), "actions", len(plan.Actions))
	return s.record(op, Succeeded), messages
}

// RequestDomeMode requests an enclosure mode transition. The enclosure
// loop applies the transition on its next pass.
func (s *Supervisor) RequestDomeMode(caller string, m modes.Mode) CommandStatus {
	const op = "request_dome_mode"
	if !s.control.permits(caller) {
		return s.record(op, InvalidControlIP)
	}
	if !s.commandMu.TryLock() {
		return s.record(op, Blocked)
	}
	defer s.commandMu.Unlock()

	switch err := s.cfg.Enclosure.RequestMode(m); err {
	case nil:
		return s.record(op, Succeeded)
	case enclosure.ErrInErrorState:
		return s.record(op, InErrorState)
	default:
		return s.record(op, Failed)
	}
}

// RequestSchedulerMode requests a telescope scheduler mode transition.
func (s *Supervisor) RequestSchedulerMode(caller string, m modes.Mode) CommandStatus {
	const op = "request_scheduler_mode"
	if !s.control.permits(caller) {
		return s.record(op, InvalidControlIP)
	}
	if !s.commandMu.TryLock() {
		return s.record(op, Blocked)
	}
	defer s.commandMu.Unlock()

	switch err := s.cfg.Scheduler.RequestMode(m); err {
	case nil:
		return s.record(op, Succeeded)
	case telescope.ErrInErrorState:
		return s.record(op, InErrorState)
	default:
		return s.record(op, Failed)
	}
}

// ClearDomeWindow removes any scheduled window. Idempotent.
func (s *Supervisor) ClearDomeWindow(caller string) CommandStatus {
	const op = "clear_dome_window"
	if !s.control.permits(caller) {
		return s.record(op, InvalidControlIP)
	}
	if !s.commandMu.TryLock() {
		return s.record(op, Blocked)
	}
	defer s.commandMu.Unlock()

	s.cfg.Enclosure.ClearWindow()
	return s.record(op, Succeeded)
}

// StopTelescope aborts the active action and clears the queue.
func (s *Supervisor) StopTelescope(caller string) CommandStatus {
	const op = "stop_telescope"
	if !s.control.permits(caller) {
		return s.record(op, InvalidControlIP)
	}

	log.Info(log.CatOps, "telescope stop requested")
	s.cfg.Scheduler.Abort()
	return s.record(op, Succeeded)
}

// NotifyFrame routes a pipeline frame to the active action. Unauthorized
// or idle deliveries return no cards.
func (s *Supervisor) NotifyFrame(caller string, headers action.Headers) []action.HeaderCard {
	if !s.pipeline.permits(caller) {
		return nil
	}
	if s.cfg.Metrics != nil {
		s.cfg.Metrics.FramesRouted.Inc()
	}
	return s.cfg.Scheduler.NotifyFrame(headers)
}

// NotifyGuideProfile routes a pipeline guide profile to the active action.
func (s *Supervisor) NotifyGuideProfile(caller string, headers action.Headers, profileX, profileY []float64) []action.HeaderCard {
	if !s.pipeline.permits(caller) {
		return nil
	}
	if s.cfg.Metrics != nil {
		s.cfg.Metrics.ProfilesRouted.Inc()
	}
	return s.cfg.Scheduler.NotifyGuideProfile(headers, profileX, profileY)
}

// Status returns the consolidated snapshot. Unauthenticated; status is
// read-only and safe to expose to dashboards.
func (s *Supervisor) Status() StatusSnapshot {
	now := time.Now
	if s.cfg.Schedule.Now != nil {
		now = s.cfg.Schedule.Now
	}

	verdict := s.cfg.Environment.Verdict()
	snapshot := StatusSnapshot{
		Night:     s.cfg.Schedule.Location.CurrentNight(now()).String(),
		Telescope: s.cfg.Scheduler.Status(),
		Environment: EnvironmentStatus{
			Safe:             verdict.Safe,
			UpdatedAt:        verdict.UpdatedAt,
			UnsafeConditions: verdict.UnsafeConditions,
			Conditions:       s.cfg.Environment.ConditionsSnapshot(),
			InternalHumidity: verdict.InternalHumidity,
			ExternalHumidity: verdict.ExternalHumidity,
		},
	}
	if s.cfg.Enclosure != nil {
		dome := s.cfg.Enclosure.Status()
		snapshot.Dome = &dome
	}

	if s.cfg.Metrics != nil {
		s.publishGauges(snapshot, verdict)
	}
	return snapshot
}

func (s *Supervisor) publishGauges(snap StatusSnapshot, verdict environment.Verdict) {
	m := s.cfg.Metrics
	if verdict.Safe {
		m.EnvironmentSafe.Set(1)
	} else {
		m.EnvironmentSafe.Set(0)
	}
	m.UnsafeGroups.Set(float64(len(verdict.UnsafeConditions)))
	if snap.Dome != nil {
		m.DomeStatus.Set(float64(snap.Dome.Status))
		m.SubsystemMode.WithLabelValues("dome").Set(float64(snap.Dome.Mode))
	}
	m.SubsystemMode.WithLabelValues("telescope").Set(float64(snap.Telescope.Mode))
	m.QueueLength.Set(float64(len(snap.Telescope.Schedule)))
}

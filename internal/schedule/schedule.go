// Package schedule validates and parses nightly schedule descriptors into
// a dome window and an ordered action list.
package schedule

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/ashford-obs/opsd/internal/action"
	"github.com/ashford-obs/opsd/internal/enclosure"
	"github.com/ashford-obs/opsd/internal/site"
)

// timeLayout is the instant format accepted in schedule descriptors.
const timeLayout = "2006-01-02T15:04:05Z"

// Auto is the literal dome time meaning sunset (open) or sunrise (close).
const Auto = "auto"

// descriptor is the submitted JSON shape.
type descriptor struct {
	Night   string           `json:"night"`
	Dome    *domeBlock       `json:"dome,omitempty"`
	Actions []map[string]any `json:"actions,omitempty"`
}

type domeBlock struct {
	Open  *string `json:"open,omitempty"`
	Close *string `json:"close,omitempty"`
}

// Plan is a validated schedule ready for installation.
type Plan struct {
	Night   site.Night
	Window  *enclosure.Window
	Actions []action.Action
}

// Config configures schedule parsing.
type Config struct {
	// Location supplies night arithmetic and sunset/sunrise resolution.
	Location site.Location
	// Catalog builds and validates the scheduled actions.
	Catalog *action.Catalog
	// Resources are handed to each constructed action.
	Resources action.Resources
	// RequireTonight rejects schedules for any night but the current one.
	RequireTonight bool
	// Now is the clock, overridable in tests. Default time.Now.
	Now func() time.Time
}

// Parse validates raw against the catalog and site, returning the plan and
// any messages. A nil plan means the schedule was rejected; a non-nil plan
// may still carry informational messages (e.g. a night mismatch when
// RequireTonight is off).
func Parse(raw []byte, cfg Config) (*Plan, []string) {
	now := time.Now
	if cfg.Now != nil {
		now = cfg.Now
	}

	var desc descriptor
	if err := json.Unmarshal(raw, &desc); err != nil {
		return nil, []string{fmt.Sprintf("schedule is not valid JSON: %v", err)}
	}

	// Errors with the night are fatal; nothing else can be validated
	// against an unknown night.
	if desc.Night == "" {
		return nil, []string{"missing key 'night'"}
	}
	night, err := site.ParseNight(desc.Night)
	if err != nil {
		return nil, []string{fmt.Sprintf("night: %s is not a valid date", desc.Night)}
	}

	var messages []string
	plan := &Plan{Night: night}

	if desc.Dome != nil {
		window, errs := parseWindow(desc.Dome, night, cfg.Location)
		messages = append(messages, errs...)
		plan.Window = window
	}

	for i, block := range desc.Actions {
		a, errs := parseAction(i, block, cfg)
		messages = append(messages, errs...)
		if a != nil {
			plan.Actions = append(plan.Actions, a)
		}
	}

	valid := len(messages) == 0

	// A night mismatch is the only non-fatal condition, surfaced first.
	if tonight := cfg.Location.CurrentNight(now()); night != tonight {
		if cfg.RequireTonight {
			valid = false
			messages = append([]string{
				fmt.Sprintf("night: %s is not tonight (%s)", night, tonight),
			}, messages...)
		} else {
			messages = append([]string{
				fmt.Sprintf("info: night %s is not tonight (%s)", night, tonight),
			}, messages...)
		}
	}

	if !valid {
		return nil, messages
	}
	return plan, messages
}

// parseWindow resolves a dome block into an absolute window. "auto"
// resolves to site sunset/sunrise; explicit instants must fall between
// local noon of the night and local noon of the next day.
func parseWindow(block *domeBlock, night site.Night, loc site.Location) (*enclosure.Window, []string) {
	var errs []string
	if block.Open == nil {
		errs = append(errs, "dome: missing key 'open'")
	}
	if block.Close == nil {
		errs = append(errs, "dome: missing key 'close'")
	}
	if errs != nil {
		return nil, errs
	}

	var sunset, sunrise time.Time
	if *block.Open == Auto || *block.Close == Auto {
		var err error
		sunset, sunrise, err = loc.NightStartEnd(night)
		if err != nil {
			return nil, []string{fmt.Sprintf("dome: %v", err)}
		}
	}

	noonStart, noonEnd := loc.NoonWindow(night)
	resolve := func(key, value string, auto time.Time) (time.Time, bool) {
		if value == Auto {
			return auto, true
		}
		t, err := time.Parse(timeLayout, value)
		if err != nil {
			errs = append(errs, fmt.Sprintf("dome: %s: %s is not a valid datetime", key, value))
			return time.Time{}, false
		}
		if t.Before(noonStart) || t.After(noonEnd) {
			errs = append(errs, fmt.Sprintf("dome: %s: %s is not auto or between %s and %s",
				key, value, noonStart.UTC().Format(timeLayout), noonEnd.UTC().Format(timeLayout)))
			return time.Time{}, false
		}
		return t, true
	}

	openAt, openOK := resolve("open", *block.Open, sunset)
	closeAt, closeOK := resolve("close", *block.Close, sunrise)
	if !openOK || !closeOK {
		return nil, errs
	}
	if !openAt.Before(closeAt) {
		return nil, []string{"dome: open date must precede close date"}
	}
	return &enclosure.Window{OpenAt: openAt.UTC(), CloseAt: closeAt.UTC()}, nil
}

// parseAction builds one action block, prefixing any validation failures
// with the action's index and type.
func parseAction(index int, block map[string]any, cfg Config) (action.Action, []string) {
	typ, ok := block["type"].(string)
	if !ok || typ == "" {
		return nil, []string{fmt.Sprintf("action %d: missing key 'type'", index)}
	}

	a, err := cfg.Catalog.Create(typ, block, cfg.Resources)
	if err != nil {
		return nil, []string{fmt.Sprintf("action %d (%s): %v", index, typ, err)}
	}
	return a, nil
}

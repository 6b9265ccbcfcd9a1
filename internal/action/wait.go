package action

import (
	"context"
	"fmt"
	"time"
)

type waitConfig struct {
	Type  string   `mapstructure:"type"`
	Delay *float64 `mapstructure:"delay" validate:"required,gte=0"`
}

// Wait pauses the schedule for a fixed number of seconds. Aborting ends
// the wait early; the action still completes successfully.
type Wait struct {
	*Base
	delay time.Duration
}

// NewWait builds a Wait from its schedule config.
func NewWait(config map[string]any, res Resources) (Action, error) {
	var cfg waitConfig
	if err := decodeConfig(config, &cfg); err != nil {
		return nil, err
	}

	a := &Wait{delay: time.Duration(*cfg.Delay * float64(time.Second))}
	a.Base = NewBase("Waiting", res, a.run)
	return a, nil
}

func (a *Wait) run(ctx context.Context) {
	deadline := a.now().Add(a.delay)
	for !a.Aborted() {
		remaining := deadline.Sub(a.now())
		if remaining <= 0 {
			break
		}
		a.SetTasks(fmt.Sprintf("Waiting (%.0fs remaining)", remaining.Seconds()))

		step := remaining
		if step > DefaultCheckInterval {
			step = DefaultCheckInterval
		}
		a.WaitUntilTimeOrAborted(a.now().Add(step), step)
	}
	a.MarkComplete()
}

type waitUntilConfig struct {
	Type    string `mapstructure:"type"`
	Date    string `mapstructure:"date" validate:"required"`
	Expires string `mapstructure:"expires"`
}

// WaitUntil pauses the schedule until an absolute UTC instant. A date in
// the past completes immediately. An optional expiry bounds the wait: once
// past, or when it precedes the date itself, the action completes without
// waiting at all.
type WaitUntil struct {
	*Base
	target  time.Time
	expires time.Time
}

// NewWaitUntil builds a WaitUntil from its schedule config.
func NewWaitUntil(config map[string]any, res Resources) (Action, error) {
	var cfg waitUntilConfig
	if err := decodeConfig(config, &cfg); err != nil {
		return nil, err
	}
	target, err := time.Parse(time.RFC3339, cfg.Date)
	if err != nil {
		return nil, fmt.Errorf("date must be an RFC 3339 instant: %w", err)
	}

	a := &WaitUntil{target: target}
	if cfg.Expires != "" {
		a.expires, err = time.Parse(time.RFC3339, cfg.Expires)
		if err != nil {
			return nil, fmt.Errorf("expires must be an RFC 3339 instant: %w", err)
		}
	}
	a.Base = NewBase("Waiting", res, a.run)
	return a, nil
}

func (a *WaitUntil) run(ctx context.Context) {
	if !a.expires.IsZero() && (!a.target.Before(a.expires) || !a.now().Before(a.expires)) {
		a.MarkComplete()
		return
	}
	a.SetTasks(fmt.Sprintf("Waiting until %s", a.target.UTC().Format("15:04:05")))
	a.WaitUntilTimeOrAborted(a.target, DefaultCheckInterval)
	a.MarkComplete()
}

// Package action defines the contract observing actions implement and the
// shared base primitives (cooperative waits, abort, pipeline notifications)
// their workers are built from.
package action

import (
	"errors"
	"time"

	"github.com/ashford-obs/opsd/internal/gateway"
	"github.com/ashford-obs/opsd/internal/site"
)

// Status is the lifecycle state of an action instance. Incomplete is the
// initial state; Complete and Error are terminal and never left.
type Status int

const (
	Incomplete Status = iota
	Complete
	Error
)

func (s Status) String() string {
	switch s {
	case Incomplete:
		return "INCOMPLETE"
	case Complete:
		return "COMPLETE"
	case Error:
		return "ERROR"
	default:
		return "INVALID"
	}
}

// MarshalText implements encoding.TextMarshaler for JSON status payloads.
func (s Status) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// ErrAlreadyStarted is returned when Start is called twice on one instance.
var ErrAlreadyStarted = errors.New("action: already started")

// HeaderCard is a single FITS-style key/value pair an action hands back to
// the pipeline for stamping onto archived images.
type HeaderCard struct {
	Key     string `json:"key"`
	Value   any    `json:"value"`
	Comment string `json:"comment,omitempty"`
}

// Headers is the opaque frame metadata delivered by the pipeline.
type Headers map[string]any

// Action is the capability set the scheduler drives. Implementations embed
// Base, which satisfies everything except the worker body; notification
// methods may be shadowed where an action wants the callbacks.
type Action interface {
	// ID uniquely identifies this instance in logs and status output.
	ID() string

	// Name is the human-readable action name shown in the schedule table.
	Name() string

	// Status reports the lifecycle state. Safe to call concurrently with
	// the running worker.
	Status() Status

	// TaskLabels describes the remaining work for the schedule table.
	// Safe to call concurrently with the running worker.
	TaskLabels() []string

	// Start launches the worker. Exactly once per instance; a second call
	// returns ErrAlreadyStarted.
	Start(domeIsOpen bool) error

	// Abort requests cooperative termination. Idempotent, asynchronous,
	// and safe to call before Start or from any goroutine.
	Abort()

	// DomeStatusChanged notifies the action that the enclosure finished
	// opening or closing.
	DomeStatusChanged(open bool)

	// ReceivedFrame is invoked for each processed pipeline frame while
	// this action is active. Returned cards are appended to the archived
	// image; nil means no cards.
	ReceivedFrame(headers Headers) []HeaderCard

	// ReceivedGuideProfile is invoked for each guide profile computed by
	// the pipeline while this action is active.
	ReceivedGuideProfile(headers Headers, profileX, profileY []float64) []HeaderCard
}

// Resources are the shared collaborators handed to every action instance.
type Resources struct {
	Location site.Location
	Mount    gateway.Mount

	// Now is the clock used by timed waits. Default time.Now.
	Now func() time.Time
}

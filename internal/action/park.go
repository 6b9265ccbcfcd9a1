package action

import (
	"context"

	"github.com/ashford-obs/opsd/internal/log"
)

// ParkTelescope stops any motion and drives the mount to its parked
// position. The scheduler enqueues it automatically once per queue drain;
// it cannot be scheduled directly.
type ParkTelescope struct {
	*Base
}

// NewParkTelescope builds the implicit terminal action.
func NewParkTelescope(res Resources) Action {
	a := &ParkTelescope{}
	a.Base = NewBase("Park Telescope", res, a.run)
	return a
}

func (a *ParkTelescope) run(ctx context.Context) {
	mount := a.Resources().Mount
	if mount == nil {
		a.MarkComplete()
		return
	}

	a.SetTasks("Stopping telescope")
	if err := mount.Stop(ctx); err != nil {
		log.ErrorErr(log.CatAction, "failed to stop mount before parking", err)
		a.MarkError()
		return
	}

	a.SetTasks("Parking telescope")
	if err := mount.Park(ctx); err != nil {
		log.ErrorErr(log.CatAction, "failed to park mount", err)
		a.MarkError()
		return
	}

	a.MarkComplete()
}

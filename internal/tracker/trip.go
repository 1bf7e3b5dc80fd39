package tracker

import (
	"context"
	"fmt"

	"github.com/example/driver-console/internal/models"
	"github.com/example/driver-console/internal/observability"
)

type tripAction string

const (
	actionArrive   tripAction = "arrive"
	actionStart    tripAction = "start"
	actionComplete tripAction = "complete"
	actionCancel   tripAction = "cancel"
)

// allowed reports whether action may be applied to a trip in status s.
func (a tripAction) allowed(s models.TripStatus) bool {
	switch a {
	case actionArrive:
		return s == models.TripStatusAccepted
	case actionStart:
		return s == models.TripStatusArrived || s == models.TripStatusPickedUp
	case actionComplete:
		return s == models.TripStatusStarted
	case actionCancel:
		return !s.Terminal()
	}
	return false
}

// target is the status a successful action leaves the trip in at least.
func (a tripAction) target() models.TripStatus {
	switch a {
	case actionArrive:
		return models.TripStatusArrived
	case actionStart:
		return models.TripStatusStarted
	}
	return models.TripStatusCompleted
}

func (t *Tracker) ArriveAtPickup(ctx context.Context) error {
	return t.tripCommand(ctx, actionArrive, func(ctx context.Context, trip *models.ActiveTrip) (*models.ActiveTrip, error) {
		return t.src.ArriveAtPickup(ctx, trip.ID)
	})
}

func (t *Tracker) StartTrip(ctx context.Context) error {
	return t.tripCommand(ctx, actionStart, func(ctx context.Context, trip *models.ActiveTrip) (*models.ActiveTrip, error) {
		return t.src.StartTrip(ctx, trip.ID)
	})
}

// CompleteTrip finishes the trip, optionally rating the passenger (1-5).
func (t *Tracker) CompleteTrip(ctx context.Context, rating *int, comment string) error {
	if rating != nil && (*rating < 1 || *rating > 5) {
		return fmt.Errorf("%w: rating must be between 1 and 5", ErrInvalidTransition)
	}
	return t.tripCommand(ctx, actionComplete, func(ctx context.Context, trip *models.ActiveTrip) (*models.ActiveTrip, error) {
		return nil, t.src.CompleteTrip(ctx, trip.ID, rating, comment)
	})
}

func (t *Tracker) CancelTrip(ctx context.Context, reason string) error {
	return t.tripCommand(ctx, actionCancel, func(ctx context.Context, trip *models.ActiveTrip) (*models.ActiveTrip, error) {
		return nil, t.src.CancelTrip(ctx, trip.ID, reason)
	})
}

func (t *Tracker) tripCommand(ctx context.Context, action tripAction, call func(context.Context, *models.ActiveTrip) (*models.ActiveTrip, error)) error {
	return t.do(ctx, func(reply func(error)) {
		switch {
		case t.state.Phase != PhaseOnTrip || t.state.Trip == nil:
			reply(ErrNoActiveTrip)
			return
		case t.state.Resolving:
			reply(ErrBusy)
			return
		case !action.allowed(t.state.Trip.Status):
			observability.TripTransitions.WithLabelValues(string(action), "rejected").Inc()
			reply(fmt.Errorf("%w: cannot %s a trip that is %s", ErrInvalidTransition, action, t.state.Trip.Status))
			return
		}
		trip := *t.state.Trip
		t.state.Resolving = true
		t.publish()
		t.remote(func(ctx context.Context) {
			updated, err := call(ctx, &trip)
			t.post(func() { t.tripDone(action, trip, updated, err, reply) })
		})
	})
}

func (t *Tracker) tripDone(action tripAction, prev models.ActiveTrip, updated *models.ActiveTrip, err error, reply func(error)) {
	t.state.Resolving = false
	if err != nil {
		observability.TripTransitions.WithLabelValues(string(action), "error").Inc()
		t.publish()
		t.log.Warn("trip command failed", "action", action, "trip_id", prev.ID, "error", err)
		reply(fmt.Errorf("%s trip: %w", action, err))
		return
	}
	observability.TripTransitions.WithLabelValues(string(action), "ok").Inc()
	now := t.clock.Now()

	switch action {
	case actionComplete, actionCancel:
		t.enterIdle()
		typ := EventTripCompleted
		if action == actionCancel {
			typ = EventTripCancelled
		}
		t.log.Info("trip finished", "trip_id", prev.ID, "action", action)
		t.emit(typ, prev.RideID, prev.ID, prev.FinalFare)
	default:
		if updated == nil {
			updated = &prev
		}
		// a stale or unknown status in the reply never moves the trip backwards
		if want := action.target(); !updated.Status.Valid() || updated.Status.Before(want) {
			updated.Status = want
		}
		if action == actionArrive && updated.ArrivedAt == nil {
			updated.ArrivedAt = &now
		}
		t.state.Trip = updated
		t.publish()
		t.log.Info("trip updated", "trip_id", updated.ID, "status", updated.Status)
		t.emit(EventTripUpdated, "", "", 0)
	}
	reply(nil)
}

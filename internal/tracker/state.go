package tracker

import (
	"errors"

	"github.com/example/driver-console/internal/models"
)

type Phase string

const (
	PhaseOffline Phase = "offline"
	PhaseIdle    Phase = "idle"
	PhasePending Phase = "pending"
	PhaseOnTrip  Phase = "on_trip"
)

// State is the single authoritative view of the driver's work. Request is
// set only in PhasePending and Trip only in PhaseOnTrip.
type State struct {
	Phase            Phase               `json:"phase"`
	Request          *models.RideRequest `json:"request,omitempty"`
	SecondsRemaining int                 `json:"seconds_remaining"`
	Trip             *models.ActiveTrip  `json:"trip,omitempty"`
	// Resolving is true while a remote call that will move the state
	// (accept, decline, availability, trip command) is in flight.
	Resolving bool `json:"resolving"`
}

func (s State) Online() bool { return s.Phase != PhaseOffline && s.Phase != "" }

var (
	ErrNoPendingRequest  = errors.New("tracker: no pending request")
	ErrRequestMismatch   = errors.New("tracker: request is not the pending one")
	ErrBusy              = errors.New("tracker: another action is in progress")
	ErrNoActiveTrip      = errors.New("tracker: no active trip")
	ErrTripInProgress    = errors.New("tracker: trip in progress")
	ErrOffline           = errors.New("tracker: driver is offline")
	ErrInvalidTransition = errors.New("tracker: invalid trip transition")
	ErrStopped           = errors.New("tracker: stopped")
)

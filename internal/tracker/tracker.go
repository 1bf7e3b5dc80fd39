package tracker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/example/driver-console/internal/declined"
	"github.com/example/driver-console/internal/models"
	"github.com/example/driver-console/internal/observability"
)

// Source is the slice of the ride service the tracker drives.
type Source interface {
	NearbyRequests(ctx context.Context) ([]models.RideRequest, error)
	AcceptRide(ctx context.Context, rideID string) (*models.ActiveTrip, error)
	DeclineRide(ctx context.Context, rideID string) error
	ActiveRide(ctx context.Context) (*models.ActiveTrip, error)
	SetAvailability(ctx context.Context, online bool) error
	ArriveAtPickup(ctx context.Context, tripID string) (*models.ActiveTrip, error)
	StartTrip(ctx context.Context, tripID string) (*models.ActiveTrip, error)
	CompleteTrip(ctx context.Context, tripID string, rating *int, comment string) error
	CancelTrip(ctx context.Context, tripID, reason string) error
}

type Config struct {
	PollInterval time.Duration
	// RequestTimeout is the countdown, in seconds, given to each request.
	RequestTimeout int
	// CallTimeout bounds every remote call made by the loop.
	CallTimeout time.Duration
}

func (c Config) withDefaults() Config {
	if c.PollInterval <= 0 {
		c.PollInterval = 4 * time.Second
	}
	if c.RequestTimeout <= 0 {
		c.RequestTimeout = 20
	}
	if c.CallTimeout <= 0 {
		c.CallTimeout = 15 * time.Second
	}
	return c
}

// Tracker owns the ride request lifecycle for one driver. All state lives
// on the goroutine running Run; commands and remote completions reach it
// through the inbox and are applied one at a time.
type Tracker struct {
	src      Source
	cfg      Config
	declined *declined.Set
	log      *slog.Logger
	clock    Clock

	inbox   chan func()
	done    chan struct{}
	running atomic.Bool
	snap    atomic.Pointer[State]
	events  *broker
	calls   sync.WaitGroup

	// loop-owned
	runCtx      context.Context
	state       State
	pollTicker  Ticker
	countdown   Ticker
	pollPending bool
}

func New(src Source, cfg Config, set *declined.Set, log *slog.Logger) *Tracker {
	if log == nil {
		log = slog.Default()
	}
	if set == nil {
		set = declined.NewSet(nil, log)
	}
	t := &Tracker{
		src:      src,
		cfg:      cfg.withDefaults(),
		declined: set,
		log:      log,
		clock:    realClock{},
		inbox:    make(chan func(), 16),
		done:     make(chan struct{}),
		events:   newBroker(),
		state:    State{Phase: PhaseOffline},
	}
	t.snap.Store(&State{Phase: PhaseOffline})
	return t
}

// Run processes commands until ctx is cancelled. It may be called once.
func (t *Tracker) Run(ctx context.Context) error {
	if !t.running.CompareAndSwap(false, true) {
		return errors.New("tracker: already running")
	}
	t.runCtx = ctx
	defer func() {
		t.stopPolling()
		t.stopCountdown()
		close(t.done)
		t.calls.Wait()
		t.events.close()
		t.log.Info("tracker stopped")
	}()

	t.log.Info("tracker started", "poll_interval", t.cfg.PollInterval.String(), "request_timeout_s", t.cfg.RequestTimeout)
	for {
		select {
		case <-ctx.Done():
			return nil
		case fn := <-t.inbox:
			fn()
		case <-tickerC(t.pollTicker):
			t.onPollTick()
		case <-tickerC(t.countdown):
			t.onCountdownTick()
		}
	}
}

// Done is closed once Run has returned.
func (t *Tracker) Done() <-chan struct{} { return t.done }

// Snapshot returns the state as of the last applied transition.
func (t *Tracker) Snapshot() State { return *t.snap.Load() }

// Subscribe registers a listener. Events are dropped for a listener whose
// buffer is full. The channel closes on cancel or when Run returns.
func (t *Tracker) Subscribe(name string, buf int) (<-chan Event, func()) {
	return t.events.subscribe(name, buf)
}

func tickerC(tk Ticker) <-chan time.Time {
	if tk == nil {
		return nil
	}
	return tk.C()
}

// do runs fn on the loop and waits until fn, or a completion it schedules,
// calls reply. Cancelling ctx abandons the wait, not the remote call.
func (t *Tracker) do(ctx context.Context, fn func(reply func(error))) error {
	res := make(chan error, 1)
	cmd := func() { fn(func(err error) { res <- err }) }
	select {
	case t.inbox <- cmd:
	case <-t.done:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-res:
		return err
	case <-t.done:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

// post hands a completion back to the loop. Dropped once Run has exited.
func (t *Tracker) post(fn func()) {
	select {
	case t.inbox <- fn:
	case <-t.done:
	}
}

// remote runs fn on its own goroutine with a bounded context derived from
// the Run context. Must be called from the loop.
func (t *Tracker) remote(fn func(ctx context.Context)) {
	parent := t.runCtx
	t.calls.Add(1)
	go func() {
		defer t.calls.Done()
		ctx, cancel := context.WithTimeout(parent, t.cfg.CallTimeout)
		defer cancel()
		fn(ctx)
	}()
}

func (t *Tracker) publish() {
	st := t.state
	t.snap.Store(&st)
	observability.CountdownRemaining.Set(float64(st.SecondsRemaining))
	if st.Online() {
		observability.DriverOnline.Set(1)
	} else {
		observability.DriverOnline.Set(0)
	}
}

func (t *Tracker) emit(typ EventType, requestID, tripID string, fare float64) {
	ev := newEvent(typ, t.clock.Now(), t.state)
	if requestID != "" {
		ev.RequestID = requestID
	}
	if tripID != "" {
		ev.TripID = tripID
	}
	if fare != 0 {
		ev.Fare = fare
	}
	t.events.publish(ev)
}

// --- availability ---

// SetOnline toggles availability on the ride service. Going online also
// recovers a trip the service still considers active. Going offline drops
// a pending request without declining it and is refused during a trip.
func (t *Tracker) SetOnline(ctx context.Context, online bool) error {
	return t.do(ctx, func(reply func(error)) {
		if t.state.Resolving {
			reply(ErrBusy)
			return
		}
		if online == t.state.Online() {
			reply(nil)
			return
		}
		if !online && t.state.Phase == PhaseOnTrip {
			reply(ErrTripInProgress)
			return
		}
		t.state.Resolving = true
		t.publish()
		t.remote(func(ctx context.Context) {
			err := t.src.SetAvailability(ctx, online)
			var trip *models.ActiveTrip
			if err == nil && online {
				var aerr error
				trip, aerr = t.src.ActiveRide(ctx)
				if aerr != nil {
					t.log.Warn("active ride lookup failed", "error", aerr)
				}
			}
			t.post(func() { t.availabilityDone(online, trip, err, reply) })
		})
	})
}

func (t *Tracker) availabilityDone(online bool, trip *models.ActiveTrip, err error, reply func(error)) {
	t.state.Resolving = false
	if err != nil {
		t.log.Warn("set availability failed", "online", online, "error", err)
		t.expireIfDue()
		t.publish()
		reply(fmt.Errorf("set availability: %w", err))
		return
	}
	if online {
		if trip != nil && !trip.Status.Terminal() {
			t.log.Info("recovered active trip", "trip_id", trip.ID, "status", trip.Status)
			t.enterTrip(trip)
		} else {
			t.enterIdle()
		}
		t.emit(EventDriverOnline, "", "", 0)
		if t.state.Phase == PhaseOnTrip {
			t.emit(EventTripUpdated, "", "", 0)
		}
	} else {
		if t.state.Request != nil {
			t.log.Info("pending request dropped on going offline", "request_id", t.state.Request.ID)
		}
		t.stopPolling()
		t.stopCountdown()
		t.state = State{Phase: PhaseOffline}
		t.publish()
		t.emit(EventDriverOffline, "", "", 0)
	}
	t.log.Info("availability changed", "online", online, "phase", t.state.Phase)
	reply(nil)
}

// --- polling ---

func (t *Tracker) startPolling() {
	if t.pollTicker == nil {
		t.pollTicker = t.clock.NewTicker(t.cfg.PollInterval)
	}
}

func (t *Tracker) stopPolling() {
	if t.pollTicker != nil {
		t.pollTicker.Stop()
		t.pollTicker = nil
	}
}

func (t *Tracker) onPollTick() {
	if t.state.Phase != PhaseIdle || t.state.Resolving || t.pollPending {
		return
	}
	t.pollPending = true
	t.remote(func(ctx context.Context) {
		reqs, err := t.src.NearbyRequests(ctx)
		t.post(func() { t.pollDone(reqs, err) })
	})
}

func (t *Tracker) pollDone(reqs []models.RideRequest, err error) {
	t.pollPending = false
	if err != nil {
		observability.PollsTotal.WithLabelValues("error").Inc()
		t.log.Warn("poll nearby requests failed", "error", err)
		return
	}
	if t.state.Phase != PhaseIdle || t.state.Resolving {
		observability.PollsTotal.WithLabelValues("stale").Inc()
		return
	}
	req, ok := t.pick(reqs)
	if !ok {
		observability.PollsTotal.WithLabelValues("empty").Inc()
		return
	}
	observability.PollsTotal.WithLabelValues("surfaced").Inc()
	observability.RequestsSurfaced.Inc()

	t.stopPolling()
	t.state = State{Phase: PhasePending, Request: &req, SecondsRemaining: t.cfg.RequestTimeout}
	t.countdown = t.clock.NewTicker(time.Second)
	t.publish()
	t.log.Info("ride request surfaced", "request_id", req.ID, "fare", req.EstimatedFare)
	t.emit(EventRequestSurfaced, "", "", 0)
}

// pick returns the first request that was neither declined nor already
// past its expiry.
func (t *Tracker) pick(reqs []models.RideRequest) (models.RideRequest, bool) {
	now := t.clock.Now()
	for _, r := range reqs {
		if r.ID == "" || t.declined.Contains(r.ID) {
			continue
		}
		if r.Expired(now) {
			t.log.Debug("skipping expired request", "request_id", r.ID)
			continue
		}
		return r, true
	}
	return models.RideRequest{}, false
}

// --- countdown ---

func (t *Tracker) stopCountdown() {
	if t.countdown != nil {
		t.countdown.Stop()
		t.countdown = nil
	}
}

func (t *Tracker) onCountdownTick() {
	if t.state.Phase != PhasePending {
		t.stopCountdown()
		return
	}
	if t.state.SecondsRemaining > 0 {
		t.state.SecondsRemaining--
		t.publish()
		t.emit(EventCountdownTick, "", "", 0)
	}
	if t.state.SecondsRemaining > 0 {
		return
	}
	// At zero the ticker has nothing left to do. A resolving accept or
	// decline finishes the request; if it fails, expireIfDue takes over.
	t.stopCountdown()
	if !t.state.Resolving {
		t.expire()
	}
}

func (t *Tracker) expireIfDue() {
	if t.state.Phase == PhasePending && !t.state.Resolving && t.state.SecondsRemaining <= 0 {
		t.expire()
	}
}

// expire declines the pending request on the driver's behalf. The id is
// remembered even if the service call fails so it cannot resurface.
func (t *Tracker) expire() {
	req := t.state.Request
	t.stopCountdown()
	t.state.Resolving = true
	t.publish()
	t.remote(func(ctx context.Context) {
		err := t.src.DeclineRide(ctx, req.ID)
		t.post(func() {
			if err != nil {
				t.log.Warn("auto decline failed, dropping request locally", "request_id", req.ID, "error", err)
			}
			t.declined.Add(req.ID)
			observability.RequestOutcomes.WithLabelValues("expired").Inc()
			t.enterIdle()
			t.log.Info("ride request expired", "request_id", req.ID)
			t.emit(EventRequestExpired, req.ID, "", 0)
		})
	})
}

// --- driver responses ---

func (t *Tracker) checkPending(id string) error {
	switch {
	case t.state.Phase == PhaseOffline:
		return ErrOffline
	case t.state.Phase != PhasePending || t.state.Request == nil:
		return ErrNoPendingRequest
	case t.state.Request.ID != id:
		return ErrRequestMismatch
	case t.state.Resolving:
		return ErrBusy
	}
	return nil
}

// Accept takes the pending request. On success the tracker holds the
// returned trip and no pending request, in one transition.
func (t *Tracker) Accept(ctx context.Context, id string) error {
	return t.do(ctx, func(reply func(error)) {
		if err := t.checkPending(id); err != nil {
			reply(err)
			return
		}
		req := *t.state.Request
		t.state.Resolving = true
		t.publish()
		t.remote(func(ctx context.Context) {
			trip, err := t.src.AcceptRide(ctx, id)
			t.post(func() { t.acceptDone(req, trip, err, reply) })
		})
	})
}

func (t *Tracker) acceptDone(req models.RideRequest, trip *models.ActiveTrip, err error, reply func(error)) {
	t.state.Resolving = false
	if err != nil {
		t.log.Warn("accept ride failed", "request_id", req.ID, "error", err)
		t.expireIfDue()
		t.publish()
		reply(fmt.Errorf("accept ride: %w", err))
		return
	}
	if trip == nil {
		trip = tripFromRequest(req, t.clock.Now())
	}
	observability.RequestOutcomes.WithLabelValues("accepted").Inc()
	t.enterTrip(trip)
	t.log.Info("ride request accepted", "request_id", req.ID, "trip_id", trip.ID)
	t.emit(EventRequestAccepted, req.ID, "", 0)
	reply(nil)
}

// Decline refuses the pending request and remembers its id for the rest
// of the session.
func (t *Tracker) Decline(ctx context.Context, id string) error {
	return t.do(ctx, func(reply func(error)) {
		if err := t.checkPending(id); err != nil {
			reply(err)
			return
		}
		t.state.Resolving = true
		t.publish()
		t.remote(func(ctx context.Context) {
			err := t.src.DeclineRide(ctx, id)
			t.post(func() { t.declineDone(id, err, reply) })
		})
	})
}

func (t *Tracker) declineDone(id string, err error, reply func(error)) {
	t.state.Resolving = false
	if err != nil {
		t.log.Warn("decline ride failed", "request_id", id, "error", err)
		t.expireIfDue()
		t.publish()
		reply(fmt.Errorf("decline ride: %w", err))
		return
	}
	t.declined.Add(id)
	observability.RequestOutcomes.WithLabelValues("declined").Inc()
	t.enterIdle()
	t.log.Info("ride request declined", "request_id", id)
	t.emit(EventRequestDeclined, id, "", 0)
	reply(nil)
}

// --- transitions ---

func (t *Tracker) enterIdle() {
	t.stopCountdown()
	t.state = State{Phase: PhaseIdle}
	t.startPolling()
	t.publish()
}

func (t *Tracker) enterTrip(trip *models.ActiveTrip) {
	t.stopCountdown()
	t.stopPolling()
	t.state = State{Phase: PhaseOnTrip, Trip: trip}
	t.publish()
}

func tripFromRequest(req models.RideRequest, now time.Time) *models.ActiveTrip {
	return &models.ActiveTrip{
		ID:        req.ID,
		RideID:    req.ID,
		Passenger: req.Passenger,
		Pickup:    req.Pickup,
		Dropoff:   req.Dropoff,
		Status:    models.TripStatusAccepted,
		StartedAt: &now,
		FinalFare: req.EstimatedFare,
	}
}

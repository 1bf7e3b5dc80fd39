package tracker

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/example/driver-console/internal/declined"
	"github.com/example/driver-console/internal/logging"
	"github.com/example/driver-console/internal/models"
)

const pollEvery = 4 * time.Second

// --- fakes ---

type fakeTicker struct {
	d       time.Duration
	ch      chan time.Time
	stopped atomic.Bool
}

func (f *fakeTicker) C() <-chan time.Time { return f.ch }
func (f *fakeTicker) Stop()               { f.stopped.Store(true) }

type fakeClock struct {
	mu      sync.Mutex
	now     time.Time
	tickers []*fakeTicker
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) NewTicker(d time.Duration) Ticker {
	c.mu.Lock()
	defer c.mu.Unlock()
	tk := &fakeTicker{d: d, ch: make(chan time.Time)}
	c.tickers = append(c.tickers, tk)
	return tk
}

// active returns the live ticker with period d, or nil.
func (c *fakeClock) active(d time.Duration) *fakeTicker {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i := len(c.tickers) - 1; i >= 0; i-- {
		if tk := c.tickers[i]; tk.d == d && !tk.stopped.Load() {
			return tk
		}
	}
	return nil
}

type fakeSource struct {
	mu sync.Mutex

	nearby      [][]models.RideRequest
	nearbyErrs  []error
	nearbyCalls int

	acceptTrip *models.ActiveTrip
	acceptErr  error
	acceptGate chan struct{}

	declineErr   error
	declineGate  chan struct{}
	declineCalls []string

	arriveTrip *models.ActiveTrip

	active       *models.ActiveTrip
	availability []bool
	availErr     error

	completed []string
	cancelled []string
}

func (f *fakeSource) NearbyRequests(ctx context.Context) ([]models.RideRequest, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	i := f.nearbyCalls
	f.nearbyCalls++
	if i < len(f.nearbyErrs) && f.nearbyErrs[i] != nil {
		return nil, f.nearbyErrs[i]
	}
	if len(f.nearby) == 0 {
		return nil, nil
	}
	if i >= len(f.nearby) {
		i = len(f.nearby) - 1
	}
	return f.nearby[i], nil
}

func (f *fakeSource) polls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.nearbyCalls
}

func (f *fakeSource) AcceptRide(ctx context.Context, id string) (*models.ActiveTrip, error) {
	if f.acceptGate != nil {
		<-f.acceptGate
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.acceptErr != nil {
		return nil, f.acceptErr
	}
	return f.acceptTrip, nil
}

func (f *fakeSource) DeclineRide(ctx context.Context, id string) error {
	f.mu.Lock()
	f.declineCalls = append(f.declineCalls, id)
	gate := f.declineGate
	err := f.declineErr
	f.mu.Unlock()
	if gate != nil {
		<-gate
	}
	return err
}

func (f *fakeSource) declines() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.declineCalls...)
}

func (f *fakeSource) ActiveRide(ctx context.Context) (*models.ActiveTrip, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.active, nil
}

func (f *fakeSource) SetAvailability(ctx context.Context, online bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.availErr != nil {
		return f.availErr
	}
	f.availability = append(f.availability, online)
	return nil
}

func (f *fakeSource) ArriveAtPickup(ctx context.Context, tripID string) (*models.ActiveTrip, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.arriveTrip != nil {
		cp := *f.arriveTrip
		return &cp, nil
	}
	return &models.ActiveTrip{ID: tripID, RideID: "R2", Status: models.TripStatusArrived, FinalFare: 31}, nil
}

func (f *fakeSource) StartTrip(ctx context.Context, tripID string) (*models.ActiveTrip, error) {
	// nil exercises the local status fallback
	return nil, nil
}

func (f *fakeSource) CompleteTrip(ctx context.Context, tripID string, rating *int, comment string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.completed = append(f.completed, tripID)
	return nil
}

func (f *fakeSource) CancelTrip(ctx context.Context, tripID, reason string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cancelled = append(f.cancelled, tripID)
	return nil
}

// --- helpers ---

func request(id string, fare float64) models.RideRequest {
	return models.RideRequest{
		ID:            id,
		Passenger:     models.Passenger{ID: "p-" + id, Name: "Passenger " + id},
		EstimatedFare: fare,
		Status:        models.RideStatusPending,
	}
}

func startTracker(t *testing.T, src *fakeSource, timeout int) (*Tracker, *fakeClock) {
	t.Helper()
	clk := newFakeClock()
	tr := New(src, Config{PollInterval: pollEvery, RequestTimeout: timeout, CallTimeout: time.Second},
		declined.NewSet(nil, logging.Discard()), logging.Discard())
	tr.clock = clk
	ctx, cancel := context.WithCancel(context.Background())
	go tr.Run(ctx)
	t.Cleanup(func() {
		cancel()
		<-tr.Done()
	})
	return tr, clk
}

// barrier returns once everything queued on the loop before it has run.
func barrier(t *testing.T, tr *Tracker) {
	t.Helper()
	if err := tr.do(context.Background(), func(reply func(error)) { reply(nil) }); err != nil {
		t.Fatalf("barrier: %v", err)
	}
}

func fire(t *testing.T, tk *fakeTicker) {
	t.Helper()
	if tk == nil {
		t.Fatal("no active ticker to fire")
	}
	select {
	case tk.ch <- time.Now():
	case <-time.After(time.Second):
		t.Fatal("tick was not consumed")
	}
}

func waitFor(t *testing.T, tr *Tracker, what string, cond func(State) bool) State {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for {
		st := tr.Snapshot()
		if cond(st) {
			barrier(t, tr)
			return tr.Snapshot()
		}
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s, state %+v", what, st)
		}
		time.Sleep(2 * time.Millisecond)
	}
}

// pollOnce fires the poll ticker and waits until the result is applied.
func pollOnce(t *testing.T, tr *Tracker, clk *fakeClock, src *fakeSource) {
	t.Helper()
	want := src.polls() + 1
	fire(t, clk.active(pollEvery))
	deadline := time.Now().Add(2 * time.Second)
	for {
		var inFlight bool
		_ = tr.do(context.Background(), func(reply func(error)) {
			inFlight = tr.pollPending
			reply(nil)
		})
		if !inFlight && src.polls() >= want {
			return
		}
		if time.Now().After(deadline) {
			t.Fatal("poll did not settle")
		}
		time.Sleep(2 * time.Millisecond)
	}
}

func goOnline(t *testing.T, tr *Tracker) {
	t.Helper()
	if err := tr.SetOnline(context.Background(), true); err != nil {
		t.Fatalf("go online: %v", err)
	}
}

func drain(ch <-chan Event) []Event {
	var out []Event
	for {
		select {
		case ev, ok := <-ch:
			if !ok {
				return out
			}
			out = append(out, ev)
		default:
			return out
		}
	}
}

func countType(evs []Event, typ EventType) int {
	n := 0
	for _, ev := range evs {
		if ev.Type == typ {
			n++
		}
	}
	return n
}

func isPhase(p Phase) func(State) bool {
	return func(s State) bool { return s.Phase == p && !s.Resolving }
}

// --- tests ---

func TestRequestExpiresAfterCountdownAndNeverResurfaces(t *testing.T) {
	src := &fakeSource{nearby: [][]models.RideRequest{{request("R1", 24.50)}}}
	tr, clk := startTracker(t, src, 20)
	events, cancel := tr.Subscribe("test", 256)
	defer cancel()

	goOnline(t, tr)
	pollOnce(t, tr, clk, src)

	st := tr.Snapshot()
	if st.Phase != PhasePending || st.Request == nil || st.Request.ID != "R1" || st.SecondsRemaining != 20 {
		t.Fatalf("expected Pending(R1, 20), got %+v", st)
	}
	if st.Request.EstimatedFare != 24.50 {
		t.Fatalf("unexpected fare %v", st.Request.EstimatedFare)
	}
	if clk.active(pollEvery) != nil {
		t.Fatal("poll ticker must stop while a request is pending")
	}

	for i := 1; i < 20; i++ {
		fire(t, clk.active(time.Second))
		barrier(t, tr)
		if got := tr.Snapshot().SecondsRemaining; got != 20-i {
			t.Fatalf("after %d ticks expected %d seconds, got %d", i, 20-i, got)
		}
	}
	if len(src.declines()) != 0 {
		t.Fatal("declined before the countdown reached zero")
	}
	fire(t, clk.active(time.Second))
	waitFor(t, tr, "idle after expiry", isPhase(PhaseIdle))

	if !tr.declined.Contains("R1") {
		t.Fatal("expired request must be in the declined set")
	}
	if got := src.declines(); len(got) != 1 || got[0] != "R1" {
		t.Fatalf("expected one decline for R1, got %v", got)
	}
	evs := drain(events)
	if countType(evs, EventRequestExpired) != 1 || countType(evs, EventCountdownTick) != 20 {
		t.Fatalf("unexpected events %v", evs)
	}

	pollOnce(t, tr, clk, src)
	if st := tr.Snapshot(); st.Phase != PhaseIdle || st.Request != nil {
		t.Fatalf("R1 resurfaced: %+v", st)
	}
}

func TestAcceptHoldsTripAndClearsPending(t *testing.T) {
	trip := &models.ActiveTrip{ID: "T2", RideID: "R2", Status: models.TripStatusAccepted}
	src := &fakeSource{nearby: [][]models.RideRequest{{request("R2", 31)}}, acceptTrip: trip}
	tr, clk := startTracker(t, src, 15)
	events, cancel := tr.Subscribe("test", 64)
	defer cancel()

	goOnline(t, tr)
	pollOnce(t, tr, clk, src)
	if st := tr.Snapshot(); st.Phase != PhasePending || st.SecondsRemaining != 15 {
		t.Fatalf("expected Pending(R2, 15), got %+v", st)
	}

	if err := tr.Accept(context.Background(), "R2"); err != nil {
		t.Fatalf("accept: %v", err)
	}
	st := tr.Snapshot()
	if st.Phase != PhaseOnTrip || st.Request != nil || st.Trip == nil || st.Trip.ID != "T2" {
		t.Fatalf("expected on trip with T2 and no request, got %+v", st)
	}
	if err := tr.Accept(context.Background(), "R2"); !errors.Is(err, ErrNoPendingRequest) {
		t.Fatalf("second accept: expected ErrNoPendingRequest, got %v", err)
	}
	if clk.active(pollEvery) != nil || clk.active(time.Second) != nil {
		t.Fatal("no ticker may run during a trip")
	}

	for _, ev := range drain(events) {
		if ev.State.Request != nil && ev.State.Trip != nil {
			t.Fatalf("event %s carries both a request and a trip", ev.Type)
		}
		if ev.Type == EventRequestAccepted && (ev.RequestID != "R2" || ev.TripID != "T2") {
			t.Fatalf("unexpected accepted event %+v", ev)
		}
	}
}

func TestAcceptFailureLeavesStateUnchanged(t *testing.T) {
	boom := errors.New("ride already taken")
	src := &fakeSource{nearby: [][]models.RideRequest{{request("R1", 10)}}, acceptErr: boom}
	tr, clk := startTracker(t, src, 20)

	goOnline(t, tr)
	pollOnce(t, tr, clk, src)
	fire(t, clk.active(time.Second))
	barrier(t, tr)

	err := tr.Accept(context.Background(), "R1")
	if !errors.Is(err, boom) {
		t.Fatalf("expected remote error, got %v", err)
	}
	st := tr.Snapshot()
	if st.Phase != PhasePending || st.Request.ID != "R1" || st.SecondsRemaining != 19 || st.Resolving {
		t.Fatalf("state changed after failed accept: %+v", st)
	}
	if tr.declined.Contains("R1") {
		t.Fatal("failed accept must not decline")
	}
	if clk.active(time.Second) == nil {
		t.Fatal("countdown should keep running")
	}
}

func TestCommandGuards(t *testing.T) {
	src := &fakeSource{nearby: [][]models.RideRequest{{request("R1", 10)}}}
	tr, clk := startTracker(t, src, 20)
	ctx := context.Background()

	if err := tr.Accept(ctx, "R1"); !errors.Is(err, ErrOffline) {
		t.Fatalf("offline accept: got %v", err)
	}
	goOnline(t, tr)
	if err := tr.Decline(ctx, "R1"); !errors.Is(err, ErrNoPendingRequest) {
		t.Fatalf("idle decline: got %v", err)
	}
	if err := tr.StartTrip(ctx); !errors.Is(err, ErrNoActiveTrip) {
		t.Fatalf("start without trip: got %v", err)
	}
	pollOnce(t, tr, clk, src)
	if err := tr.Accept(ctx, "R9"); !errors.Is(err, ErrRequestMismatch) {
		t.Fatalf("wrong id: got %v", err)
	}
	if err := tr.SetOnline(ctx, true); err != nil {
		t.Fatalf("repeated online should be a no-op, got %v", err)
	}
}

func TestExplicitDecline(t *testing.T) {
	src := &fakeSource{nearby: [][]models.RideRequest{
		{request("R1", 10)},
		{request("R1", 10), request("R3", 12)},
	}}
	tr, clk := startTracker(t, src, 20)
	ctx := context.Background()

	goOnline(t, tr)
	pollOnce(t, tr, clk, src)

	src.mu.Lock()
	src.declineErr = errors.New("gateway timeout")
	src.mu.Unlock()
	if err := tr.Decline(ctx, "R1"); err == nil {
		t.Fatal("expected decline error")
	}
	if st := tr.Snapshot(); st.Phase != PhasePending || tr.declined.Contains("R1") {
		t.Fatalf("failed decline mutated state: %+v", st)
	}

	src.mu.Lock()
	src.declineErr = nil
	src.mu.Unlock()
	if err := tr.Decline(ctx, "R1"); err != nil {
		t.Fatalf("decline: %v", err)
	}
	if st := tr.Snapshot(); st.Phase != PhaseIdle || st.Request != nil {
		t.Fatalf("expected idle, got %+v", st)
	}
	if !tr.declined.Contains("R1") {
		t.Fatal("declined id not remembered")
	}

	pollOnce(t, tr, clk, src)
	st := tr.Snapshot()
	if st.Phase != PhasePending || st.Request.ID != "R3" || st.SecondsRemaining != 20 {
		t.Fatalf("expected R3 pending with a fresh countdown, got %+v", st)
	}
}

func TestPollFailureRetriesOnNextTick(t *testing.T) {
	src := &fakeSource{
		nearby:     [][]models.RideRequest{nil, {request("R1", 10)}},
		nearbyErrs: []error{errors.New("connection refused")},
	}
	tr, clk := startTracker(t, src, 20)

	goOnline(t, tr)
	pollOnce(t, tr, clk, src)
	if st := tr.Snapshot(); st.Phase != PhaseIdle {
		t.Fatalf("poll failure must not change state, got %+v", st)
	}
	if clk.active(pollEvery) == nil {
		t.Fatal("polling must continue after a failure")
	}
	pollOnce(t, tr, clk, src)
	if st := tr.Snapshot(); st.Phase != PhasePending || st.Request.ID != "R1" {
		t.Fatalf("expected recovery on next tick, got %+v", st)
	}
}

func TestPollSkipsExpiredOffers(t *testing.T) {
	stale := request("R1", 10)
	stale.ExpiresAt = time.Date(2024, 3, 1, 11, 59, 0, 0, time.UTC)
	fresh := request("R2", 10)
	fresh.ExpiresAt = time.Date(2024, 3, 1, 12, 0, 20, 0, time.UTC)
	src := &fakeSource{nearby: [][]models.RideRequest{{stale, fresh}}}
	tr, clk := startTracker(t, src, 20)

	goOnline(t, tr)
	pollOnce(t, tr, clk, src)
	if st := tr.Snapshot(); st.Request == nil || st.Request.ID != "R2" {
		t.Fatalf("expected R2, got %+v", st)
	}
}

func TestTimeoutDeclinesExactlyOnce(t *testing.T) {
	gate := make(chan struct{})
	src := &fakeSource{nearby: [][]models.RideRequest{{request("R1", 10)}}, declineGate: gate}
	tr, clk := startTracker(t, src, 3)
	events, cancel := tr.Subscribe("test", 64)
	defer cancel()
	ctx := context.Background()

	goOnline(t, tr)
	pollOnce(t, tr, clk, src)
	for i := 0; i < 3; i++ {
		fire(t, clk.active(time.Second))
	}
	waitFor(t, tr, "auto decline in flight", func(s State) bool { return s.Resolving })

	if clk.active(time.Second) != nil {
		t.Fatal("countdown must stop at zero")
	}
	if err := tr.Decline(ctx, "R1"); !errors.Is(err, ErrBusy) {
		t.Fatalf("decline during auto decline: got %v", err)
	}
	if err := tr.SetOnline(ctx, false); !errors.Is(err, ErrBusy) {
		t.Fatalf("offline during auto decline: got %v", err)
	}

	close(gate)
	waitFor(t, tr, "idle", isPhase(PhaseIdle))
	if got := src.declines(); len(got) != 1 {
		t.Fatalf("expected exactly one decline call, got %v", got)
	}
	evs := drain(events)
	if countType(evs, EventRequestExpired) != 1 || countType(evs, EventRequestDeclined) != 0 {
		t.Fatalf("unexpected events %v", evs)
	}
}

func TestFailedAcceptAfterZeroExpiresRequest(t *testing.T) {
	gate := make(chan struct{})
	src := &fakeSource{
		nearby:     [][]models.RideRequest{{request("R1", 10)}},
		acceptErr:  errors.New("too late"),
		acceptGate: gate,
	}
	tr, clk := startTracker(t, src, 2)

	goOnline(t, tr)
	pollOnce(t, tr, clk, src)

	errc := make(chan error, 1)
	go func() { errc <- tr.Accept(context.Background(), "R1") }()
	waitFor(t, tr, "accept in flight", func(s State) bool { return s.Resolving })

	fire(t, clk.active(time.Second))
	fire(t, clk.active(time.Second))
	barrier(t, tr)
	if st := tr.Snapshot(); st.Phase != PhasePending || st.SecondsRemaining != 0 {
		t.Fatalf("timeout must wait for the in-flight accept, got %+v", st)
	}
	if len(src.declines()) != 0 {
		t.Fatal("auto decline raced the accept")
	}

	close(gate)
	if err := <-errc; err == nil {
		t.Fatal("expected accept error")
	}
	waitFor(t, tr, "idle", isPhase(PhaseIdle))
	if !tr.declined.Contains("R1") || len(src.declines()) != 1 {
		t.Fatalf("request should expire once the accept fails, declines %v", src.declines())
	}
}

func TestGoingOfflineDropsPendingWithoutDeclining(t *testing.T) {
	src := &fakeSource{nearby: [][]models.RideRequest{{request("R1", 10)}}}
	tr, clk := startTracker(t, src, 20)

	goOnline(t, tr)
	pollOnce(t, tr, clk, src)
	if err := tr.SetOnline(context.Background(), false); err != nil {
		t.Fatalf("go offline: %v", err)
	}
	st := tr.Snapshot()
	if st.Phase != PhaseOffline || st.Request != nil {
		t.Fatalf("expected offline with no request, got %+v", st)
	}
	if len(src.declines()) != 0 || tr.declined.Len() != 0 {
		t.Fatal("going offline must not decline")
	}
	if clk.active(pollEvery) != nil || clk.active(time.Second) != nil {
		t.Fatal("tickers must stop when offline")
	}
	if got := src.availability; len(got) != 2 || !got[0] || got[1] {
		t.Fatalf("unexpected availability calls %v", got)
	}
}

func TestAvailabilityFailureKeepsPhase(t *testing.T) {
	src := &fakeSource{availErr: errors.New("503")}
	tr, clk := startTracker(t, src, 20)
	if err := tr.SetOnline(context.Background(), true); err == nil {
		t.Fatal("expected error")
	}
	if st := tr.Snapshot(); st.Phase != PhaseOffline || st.Resolving {
		t.Fatalf("expected offline, got %+v", st)
	}
	if clk.active(pollEvery) != nil {
		t.Fatal("must not poll while offline")
	}
}

func TestGoingOnlineRecoversActiveTrip(t *testing.T) {
	src := &fakeSource{active: &models.ActiveTrip{ID: "T7", RideID: "R7", Status: models.TripStatusStarted}}
	tr, clk := startTracker(t, src, 20)

	goOnline(t, tr)
	st := tr.Snapshot()
	if st.Phase != PhaseOnTrip || st.Trip.ID != "T7" {
		t.Fatalf("expected recovered trip, got %+v", st)
	}
	if clk.active(pollEvery) != nil {
		t.Fatal("must not poll during a recovered trip")
	}
	if err := tr.SetOnline(context.Background(), false); !errors.Is(err, ErrTripInProgress) {
		t.Fatalf("offline during trip: got %v", err)
	}
}

func TestTripLifecycle(t *testing.T) {
	trip := &models.ActiveTrip{ID: "T2", RideID: "R2", Status: models.TripStatusAccepted, FinalFare: 31}
	src := &fakeSource{nearby: [][]models.RideRequest{{request("R2", 31)}}, acceptTrip: trip}
	tr, clk := startTracker(t, src, 20)
	events, cancel := tr.Subscribe("test", 64)
	defer cancel()
	ctx := context.Background()

	goOnline(t, tr)
	pollOnce(t, tr, clk, src)
	if err := tr.Accept(ctx, "R2"); err != nil {
		t.Fatalf("accept: %v", err)
	}

	if err := tr.StartTrip(ctx); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("start before arrival: got %v", err)
	}
	if err := tr.ArriveAtPickup(ctx); err != nil {
		t.Fatalf("arrive: %v", err)
	}
	if s := tr.Snapshot().Trip.Status; s != models.TripStatusArrived {
		t.Fatalf("expected arrived, got %s", s)
	}
	if err := tr.StartTrip(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}
	if s := tr.Snapshot().Trip.Status; s != models.TripStatusStarted {
		t.Fatalf("expected started, got %s", s)
	}
	bad := 6
	if err := tr.CompleteTrip(ctx, &bad, ""); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("bad rating: got %v", err)
	}
	rating := 5
	if err := tr.CompleteTrip(ctx, &rating, "great"); err != nil {
		t.Fatalf("complete: %v", err)
	}

	st := tr.Snapshot()
	if st.Phase != PhaseIdle || st.Trip != nil {
		t.Fatalf("expected idle after completion, got %+v", st)
	}
	if clk.active(pollEvery) == nil {
		t.Fatal("polling must resume after the trip")
	}
	var completed *Event
	for _, ev := range drain(events) {
		if ev.Type == EventTripCompleted {
			ev := ev
			completed = &ev
		}
	}
	if completed == nil || completed.TripID != "T2" || completed.Fare != 31 {
		t.Fatalf("missing trip.completed event, got %+v", completed)
	}
}

func TestCancelTripReturnsToIdle(t *testing.T) {
	src := &fakeSource{active: &models.ActiveTrip{ID: "T3", Status: models.TripStatusArrived}}
	tr, _ := startTracker(t, src, 20)
	goOnline(t, tr)
	if err := tr.CancelTrip(context.Background(), "passenger no-show"); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if st := tr.Snapshot(); st.Phase != PhaseIdle {
		t.Fatalf("expected idle, got %+v", st)
	}
	if len(src.cancelled) != 1 || src.cancelled[0] != "T3" {
		t.Fatalf("unexpected cancel calls %v", src.cancelled)
	}
}

func TestStaleTripReplyDoesNotRegressStatus(t *testing.T) {
	src := &fakeSource{
		active:     &models.ActiveTrip{ID: "T4", Status: models.TripStatusAccepted},
		arriveTrip: &models.ActiveTrip{ID: "T4", Status: models.TripStatusAccepted, FinalFare: 42},
	}
	tr, _ := startTracker(t, src, 20)
	goOnline(t, tr)
	if err := tr.ArriveAtPickup(context.Background()); err != nil {
		t.Fatalf("arrive: %v", err)
	}
	trip := tr.Snapshot().Trip
	if trip.Status != models.TripStatusArrived || trip.ArrivedAt == nil {
		t.Fatalf("expected arrived with timestamp, got %+v", trip)
	}
	if trip.FinalFare != 42 {
		t.Fatalf("reply fields should be kept, got fare %v", trip.FinalFare)
	}

	src.mu.Lock()
	src.arriveTrip = nil
	src.mu.Unlock()
	if err := tr.StartTrip(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	if s := tr.Snapshot().Trip.Status; s != models.TripStatusStarted {
		t.Fatalf("expected started, got %s", s)
	}
}

func TestStopClosesSubscribersAndRejectsCommands(t *testing.T) {
	tr := New(&fakeSource{}, Config{}, nil, logging.Discard())
	tr.clock = newFakeClock()
	events, _ := tr.Subscribe("test", 1)
	ctx, cancel := context.WithCancel(context.Background())
	go tr.Run(ctx)
	cancel()
	<-tr.Done()

	if _, ok := <-events; ok {
		t.Fatal("subscriber channel should be closed")
	}
	if err := tr.SetOnline(context.Background(), true); !errors.Is(err, ErrStopped) {
		t.Fatalf("expected ErrStopped, got %v", err)
	}
	if err := tr.Run(context.Background()); err == nil {
		t.Fatal("second Run should fail")
	}
}

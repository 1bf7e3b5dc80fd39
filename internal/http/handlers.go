package httpapi

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/example/driver-console/internal/dispatch"
	"github.com/example/driver-console/internal/drawer"
	"github.com/example/driver-console/internal/models"
	"github.com/example/driver-console/internal/tracker"
)

type Tracker interface {
	Done() <-chan struct{}
	Snapshot() tracker.State
	SetOnline(ctx context.Context, online bool) error
	Accept(ctx context.Context, id string) error
	Decline(ctx context.Context, id string) error
	ArriveAtPickup(ctx context.Context) error
	StartTrip(ctx context.Context) error
	CompleteTrip(ctx context.Context, rating *int, comment string) error
	CancelTrip(ctx context.Context, reason string) error
}

type Earnings interface {
	Snapshot() (models.Earnings, bool)
	Refresh(ctx context.Context) (models.Earnings, error)
}

type History interface {
	TripHistory(ctx context.Context, page, limit int) (models.TripHistoryPage, error)
}

type Locator interface {
	Update(pos models.Coordinates) error
	PickupDistanceKm(req *models.RideRequest) (float64, bool)
}

// Account is the signed-in driver's session with the ride service.
type Account interface {
	Profile(ctx context.Context) (*models.Driver, error)
	Logout() error
}

// Deps are the components the dashboard exposes. Hub may be nil, which
// disables /ws.
type Deps struct {
	Tracker  Tracker
	Earnings Earnings
	History  History
	Location Locator
	Account  Account
	Drawer   *drawer.Drawer
	Hub      *dispatch.Hub
}

type Server struct {
	deps   Deps
	logger *slog.Logger
	mux    *mux.Router
}

func NewServer(deps Deps, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{deps: deps, logger: logger, mux: mux.NewRouter()}
	s.registerMiddleware()
	s.routes()
	return s
}

func (s *Server) routes() {
	api := s.mux.PathPrefix("/api/v1").Subrouter()
	api.HandleFunc("/state", s.handleState).Methods(http.MethodGet)
	api.HandleFunc("/availability", s.handleAvailability).Methods(http.MethodPut)
	api.HandleFunc("/requests/{id}/accept", s.handleAccept).Methods(http.MethodPost)
	api.HandleFunc("/requests/{id}/decline", s.handleDecline).Methods(http.MethodPost)
	api.HandleFunc("/trip/arrive", s.handleArrive).Methods(http.MethodPost)
	api.HandleFunc("/trip/start", s.handleStart).Methods(http.MethodPost)
	api.HandleFunc("/trip/complete", s.handleComplete).Methods(http.MethodPost)
	api.HandleFunc("/trip/cancel", s.handleCancel).Methods(http.MethodPost)
	api.HandleFunc("/earnings", s.handleEarnings).Methods(http.MethodGet)
	api.HandleFunc("/trips/history", s.handleHistory).Methods(http.MethodGet)
	api.HandleFunc("/location", s.handleLocation).Methods(http.MethodPut)
	api.HandleFunc("/profile", s.handleProfile).Methods(http.MethodGet)
	api.HandleFunc("/logout", s.handleLogout).Methods(http.MethodPost)
	api.HandleFunc("/drawer", s.handleDrawer).Methods(http.MethodGet)
	api.HandleFunc("/drawer/cycle", s.handleDrawerCycle).Methods(http.MethodPost)
	api.HandleFunc("/drawer/drag", s.handleDrawerDrag).Methods(http.MethodPost)

	s.mux.HandleFunc("/healthz", s.handleHealth).Methods(http.MethodGet)
	s.mux.Handle("/metrics", promhttp.Handler())
	s.mux.HandleFunc("/ws", s.handleWS)
}

// handleHealth fails once the tracker loop has stopped, since no command
// can be served after that.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	select {
	case <-s.deps.Tracker.Done():
		http.Error(w, "tracker stopped", http.StatusServiceUnavailable)
		return
	default:
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) { s.mux.ServeHTTP(w, r) }

type stateResponse struct {
	tracker.State
	PickupDistanceKm *float64        `json:"pickup_distance_km,omitempty"`
	Earnings         *models.Earnings `json:"earnings,omitempty"`
	Drawer           *drawer.State    `json:"drawer,omitempty"`
}

func (s *Server) currentState() stateResponse {
	resp := stateResponse{State: s.deps.Tracker.Snapshot()}
	if s.deps.Location != nil && resp.Request != nil {
		if d, ok := s.deps.Location.PickupDistanceKm(resp.Request); ok {
			resp.PickupDistanceKm = &d
		}
	}
	if s.deps.Earnings != nil {
		if e, ok := s.deps.Earnings.Snapshot(); ok {
			resp.Earnings = &e
		}
	}
	if s.deps.Drawer != nil {
		ds := s.deps.Drawer.State()
		resp.Drawer = &ds
	}
	return resp
}

func (s *Server) handleState(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.currentState())
}

// command runs fn and answers with the resulting state.
func (s *Server) command(w http.ResponseWriter, r *http.Request, action string, fn func(ctx context.Context) error) {
	if err := fn(r.Context()); err != nil {
		status := statusFor(err)
		if status >= 500 {
			s.logger.Warn("dashboard command failed", "action", action, "error", err, "request_id", requestIDFromContext(r.Context()))
		}
		writeError(w, status, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, s.currentState())
}

type availabilityBody struct {
	Online *bool `json:"online" validate:"required"`
}

func (s *Server) handleAvailability(w http.ResponseWriter, r *http.Request) {
	var body availabilityBody
	if err := readJSON(w, r, &body, false); err != nil {
		writeBodyError(w, err)
		return
	}
	s.command(w, r, "availability", func(ctx context.Context) error {
		return s.deps.Tracker.SetOnline(ctx, *body.Online)
	})
}

func (s *Server) handleAccept(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	s.command(w, r, "accept", func(ctx context.Context) error { return s.deps.Tracker.Accept(ctx, id) })
}

func (s *Server) handleDecline(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	s.command(w, r, "decline", func(ctx context.Context) error { return s.deps.Tracker.Decline(ctx, id) })
}

func (s *Server) handleArrive(w http.ResponseWriter, r *http.Request) {
	s.command(w, r, "arrive", s.deps.Tracker.ArriveAtPickup)
}

func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	s.command(w, r, "start", s.deps.Tracker.StartTrip)
}

type completeBody struct {
	Rating  *int   `json:"rating" validate:"omitempty,min=1,max=5"`
	Comment string `json:"comment" validate:"max=500"`
}

func (s *Server) handleComplete(w http.ResponseWriter, r *http.Request) {
	var body completeBody
	if err := readJSON(w, r, &body, true); err != nil {
		writeBodyError(w, err)
		return
	}
	s.command(w, r, "complete", func(ctx context.Context) error {
		return s.deps.Tracker.CompleteTrip(ctx, body.Rating, body.Comment)
	})
}

type cancelBody struct {
	Reason string `json:"reason" validate:"required,max=200"`
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	var body cancelBody
	if err := readJSON(w, r, &body, false); err != nil {
		writeBodyError(w, err)
		return
	}
	s.command(w, r, "cancel", func(ctx context.Context) error {
		return s.deps.Tracker.CancelTrip(ctx, body.Reason)
	})
}

func (s *Server) handleEarnings(w http.ResponseWriter, r *http.Request) {
	if s.deps.Earnings == nil {
		writeError(w, http.StatusNotFound, "earnings not configured")
		return
	}
	if refresh, _ := strconv.ParseBool(r.URL.Query().Get("refresh")); refresh {
		e, err := s.deps.Earnings.Refresh(r.Context())
		if err != nil {
			writeError(w, statusFor(err), err.Error())
			return
		}
		writeJSON(w, http.StatusOK, e)
		return
	}
	e, ok := s.deps.Earnings.Snapshot()
	if !ok {
		writeError(w, http.StatusNotFound, "no earnings fetched yet, retry with refresh=true")
		return
	}
	writeJSON(w, http.StatusOK, e)
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	if s.deps.History == nil {
		writeError(w, http.StatusNotFound, "history not configured")
		return
	}
	q := r.URL.Query()
	page, limit := 1, 20
	if v := q.Get("page"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			writeError(w, http.StatusBadRequest, "page must be a positive integer")
			return
		}
		page = n
	}
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > 100 {
			writeError(w, http.StatusBadRequest, "limit must be between 1 and 100")
			return
		}
		limit = n
	}
	res, err := s.deps.History.TripHistory(r.Context(), page, limit)
	if err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, res)
}

type locationBody struct {
	Latitude  *float64 `json:"latitude" validate:"required,gte=-90,lte=90"`
	Longitude *float64 `json:"longitude" validate:"required,gte=-180,lte=180"`
}

func (s *Server) handleLocation(w http.ResponseWriter, r *http.Request) {
	if s.deps.Location == nil {
		writeError(w, http.StatusNotFound, "location reporting not configured")
		return
	}
	var body locationBody
	if err := readJSON(w, r, &body, false); err != nil {
		writeBodyError(w, err)
		return
	}
	if err := s.deps.Location.Update(models.Coordinates{Latitude: *body.Latitude, Longitude: *body.Longitude}); err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleProfile(w http.ResponseWriter, r *http.Request) {
	if s.deps.Account == nil {
		writeError(w, http.StatusNotFound, "account not configured")
		return
	}
	d, err := s.deps.Account.Profile(r.Context())
	if err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, d)
}

// handleLogout drops the stored credentials. The driver must be offline
// so the ride service does not keep offering rides to a dead session.
func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	if s.deps.Account == nil {
		writeError(w, http.StatusNotFound, "account not configured")
		return
	}
	if s.deps.Tracker.Snapshot().Online() {
		writeError(w, http.StatusConflict, "go offline before logging out")
		return
	}
	if err := s.deps.Account.Logout(); err != nil {
		s.logger.Warn("logout failed", "error", err)
		writeError(w, http.StatusInternalServerError, "could not clear credentials")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleDrawer(w http.ResponseWriter, r *http.Request) {
	if s.deps.Drawer == nil {
		writeError(w, http.StatusNotFound, "drawer not configured")
		return
	}
	writeJSON(w, http.StatusOK, s.deps.Drawer.State())
}

func (s *Server) handleDrawerCycle(w http.ResponseWriter, r *http.Request) {
	if s.deps.Drawer == nil {
		writeError(w, http.StatusNotFound, "drawer not configured")
		return
	}
	writeJSON(w, http.StatusOK, s.deps.Drawer.Cycle())
}

type dragBody struct {
	Phase string   `json:"phase" validate:"required,oneof=begin move end"`
	Y     *float64 `json:"y" validate:"required_unless=Phase end"`
}

func (s *Server) handleDrawerDrag(w http.ResponseWriter, r *http.Request) {
	if s.deps.Drawer == nil {
		writeError(w, http.StatusNotFound, "drawer not configured")
		return
	}
	var body dragBody
	if err := readJSON(w, r, &body, false); err != nil {
		writeBodyError(w, err)
		return
	}
	var st drawer.State
	switch body.Phase {
	case "begin":
		st = s.deps.Drawer.BeginDrag(*body.Y)
	case "move":
		st = s.deps.Drawer.MoveDrag(*body.Y)
	default:
		st = s.deps.Drawer.EndDrag()
	}
	writeJSON(w, http.StatusOK, st)
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:   1024,
	WriteBufferSize:  4096,
	HandshakeTimeout: 5 * time.Second,
}

// handleWS upgrades a dashboard connection and sends the current state
// before live events start flowing.
func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	if s.deps.Hub == nil {
		writeError(w, http.StatusNotFound, "live updates not configured")
		return
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("ws upgrade failed", "error", err)
		return
	}
	sess := s.deps.Hub.Add(conn)
	_ = s.deps.Hub.Send(sess.ID, map[string]any{"type": "state", "state": s.currentState()})
}

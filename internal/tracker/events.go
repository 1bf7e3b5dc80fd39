package tracker

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/example/driver-console/internal/observability"
)

type EventType string

const (
	EventRequestSurfaced EventType = "request.surfaced"
	EventRequestAccepted EventType = "request.accepted"
	EventRequestDeclined EventType = "request.declined"
	EventRequestExpired  EventType = "request.expired"
	EventCountdownTick   EventType = "countdown.tick"
	EventTripUpdated     EventType = "trip.updated"
	EventTripCompleted   EventType = "trip.completed"
	EventTripCancelled   EventType = "trip.cancelled"
	EventDriverOnline    EventType = "driver.online"
	EventDriverOffline   EventType = "driver.offline"
)

// Event describes one state transition. State is the snapshot taken right
// after the transition was applied.
type Event struct {
	ID        string    `json:"id"`
	Type      EventType `json:"type"`
	At        time.Time `json:"at"`
	RequestID string    `json:"request_id,omitempty"`
	TripID    string    `json:"trip_id,omitempty"`
	Fare      float64   `json:"fare,omitempty"`
	State     State     `json:"state"`
}

type subscriber struct {
	name string
	ch   chan Event
}

// broker fans events out to subscribers without ever blocking the
// tracker loop. A full subscriber loses the event.
type broker struct {
	mu     sync.Mutex
	next   int
	subs   map[int]*subscriber
	closed bool
}

func newBroker() *broker { return &broker{subs: make(map[int]*subscriber)} }

func (b *broker) subscribe(name string, buf int) (<-chan Event, func()) {
	if buf < 1 {
		buf = 1
	}
	ch := make(chan Event, buf)
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		close(ch)
		return ch, func() {}
	}
	id := b.next
	b.next++
	b.subs[id] = &subscriber{name: name, ch: ch}
	return ch, func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if s, ok := b.subs[id]; ok {
			delete(b.subs, id)
			close(s.ch)
		}
	}
}

func (b *broker) publish(ev Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, s := range b.subs {
		select {
		case s.ch <- ev:
		default:
			observability.EventsDropped.WithLabelValues(s.name).Inc()
		}
	}
}

func (b *broker) close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	for id, s := range b.subs {
		delete(b.subs, id)
		close(s.ch)
	}
}

func newEvent(typ EventType, at time.Time, st State) Event {
	ev := Event{ID: uuid.NewString(), Type: typ, At: at, State: st}
	if st.Request != nil {
		ev.RequestID = st.Request.ID
	}
	if st.Trip != nil {
		ev.TripID = st.Trip.ID
		ev.Fare = st.Trip.FinalFare
	}
	return ev
}

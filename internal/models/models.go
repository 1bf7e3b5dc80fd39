package models

import "time"

type Coordinates struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

type Location struct {
	Address     string      `json:"address"`
	Coordinates Coordinates `json:"coordinates"`
}

type Passenger struct {
	ID     string  `json:"id"`
	Name   string  `json:"name"`
	Phone  string  `json:"phone"`
	Rating float64 `json:"rating"` // 0..5
}

type RideStatus string

const (
	RideStatusPending   RideStatus = "pending"
	RideStatusAccepted  RideStatus = "accepted"
	RideStatusArrived   RideStatus = "arrived"
	RideStatusStarted   RideStatus = "started"
	RideStatusCompleted RideStatus = "completed"
	RideStatusCancelled RideStatus = "cancelled"
)

// RideRequest is an offer from the remote matcher. It only lives between
// being polled and being accepted, declined or expired.
type RideRequest struct {
	ID            string     `json:"id"`
	Passenger     Passenger  `json:"passenger"`
	Pickup        Location   `json:"pickup"`
	Dropoff       Location   `json:"dropoff"`
	DistanceKm    float64    `json:"distance_km"`
	DurationMin   float64    `json:"duration_min"`
	EstimatedFare float64    `json:"estimated_fare"`
	Status        RideStatus `json:"status"`
	PaymentMethod string     `json:"payment_method,omitempty"`
	RequestedAt   time.Time  `json:"requested_at"`
	ExpiresAt     time.Time  `json:"expires_at"`
}

// Expired reports whether the offer carries an expiry that has passed.
func (r RideRequest) Expired(now time.Time) bool {
	return !r.ExpiresAt.IsZero() && !now.Before(r.ExpiresAt)
}

type TripStatus string

const (
	TripStatusAccepted  TripStatus = "accepted"
	TripStatusArrived   TripStatus = "arrived"
	TripStatusPickedUp  TripStatus = "pickedUp"
	TripStatusStarted   TripStatus = "started"
	TripStatusCompleted TripStatus = "completed"
)

var tripOrder = map[TripStatus]int{
	TripStatusAccepted:  0,
	TripStatusArrived:   1,
	TripStatusPickedUp:  2,
	TripStatusStarted:   3,
	TripStatusCompleted: 4,
}

// Valid reports whether s is a known lifecycle status.
func (s TripStatus) Valid() bool {
	_, ok := tripOrder[s]
	return ok
}

// Terminal reports whether no further driver action applies.
func (s TripStatus) Terminal() bool { return s == TripStatusCompleted }

// Before reports whether s comes strictly earlier in the lifecycle than o.
func (s TripStatus) Before(o TripStatus) bool {
	a, ok1 := tripOrder[s]
	b, ok2 := tripOrder[o]
	return ok1 && ok2 && a < b
}

type ActiveTrip struct {
	ID                string     `json:"id"`
	RideID            string     `json:"ride_id"`
	Passenger         Passenger  `json:"passenger"`
	Pickup            Location   `json:"pickup"`
	Dropoff           Location   `json:"dropoff"`
	Status            TripStatus `json:"status"`
	StartedAt         *time.Time `json:"started_at,omitempty"`
	ArrivedAt         *time.Time `json:"arrived_at,omitempty"`
	CompletedAt       *time.Time `json:"completed_at,omitempty"`
	ActualDistanceKm  float64    `json:"actual_distance_km,omitempty"`
	ActualDurationMin float64    `json:"actual_duration_min,omitempty"`
	FinalFare         float64    `json:"final_fare"`
}

type TripHistoryItem struct {
	ID            string     `json:"id"`
	Date          time.Time  `json:"date"`
	PassengerName string     `json:"passenger_name"`
	Pickup        Location   `json:"pickup"`
	Dropoff       Location   `json:"dropoff"`
	Fare          float64    `json:"fare"`
	Rating        *float64   `json:"rating,omitempty"`
	Status        RideStatus `json:"status"` // completed or cancelled
}

type TripHistoryPage struct {
	Items []TripHistoryItem `json:"items"`
	Page  int               `json:"page"`
	Limit int               `json:"limit"`
	Total int               `json:"total"`
}

package models

import "time"

type Vehicle struct {
	Make         string `json:"make"`
	Model        string `json:"model"`
	Year         int    `json:"year"`
	Color        string `json:"color"`
	LicensePlate string `json:"license_plate"`
}

// Driver is the authenticated user's profile as returned by the auth API.
type Driver struct {
	ID         string   `json:"id"`
	Name       string   `json:"name"`
	Email      string   `json:"email"`
	Phone      string   `json:"phone"`
	Rating     float64  `json:"rating"`
	TotalRides int      `json:"total_rides"`
	Role       string   `json:"role"`
	IsOnline   bool     `json:"is_online"`
	Vehicle    *Vehicle `json:"vehicle,omitempty"`
}

// LifecycleRecord is the flattened form of a tracker event that travels
// over Kafka and lands in the trip journal.
type LifecycleRecord struct {
	EventID   string    `json:"event_id"`
	DriverID  string    `json:"driver_id"`
	Type      string    `json:"type"`
	Phase     string    `json:"phase"`
	RequestID string    `json:"request_id,omitempty"`
	TripID    string    `json:"trip_id,omitempty"`
	Fare      float64   `json:"fare,omitempty"`
	At        time.Time `json:"at"`
}

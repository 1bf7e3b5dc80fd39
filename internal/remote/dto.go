package remote

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/example/driver-console/internal/models"
)

// The ride service speaks loosely typed JSON (Mongo style _id fields,
// epoch millisecond timestamps). Every payload is decoded into one of the
// DTOs below, validated, and only then converted into models. Anything
// that fails validation is reported as ErrInvalidPayload.

var validate = validator.New()

type coordinatesDTO struct {
	Latitude  *float64 `json:"latitude" validate:"required,gte=-90,lte=90"`
	Longitude *float64 `json:"longitude" validate:"required,gte=-180,lte=180"`
}

type locationDTO struct {
	Address     string          `json:"address"`
	Coordinates *coordinatesDTO `json:"coordinates" validate:"required"`
}

type passengerDTO struct {
	ID     string  `json:"_id" validate:"required"`
	Name   string  `json:"name" validate:"required"`
	Phone  string  `json:"phone"`
	Rating float64 `json:"rating" validate:"gte=0,lte=5"`
}

type rideRequestDTO struct {
	ID            string        `json:"_id" validate:"required"`
	Passenger     *passengerDTO `json:"passenger" validate:"required"`
	Pickup        *locationDTO  `json:"pickup" validate:"required"`
	Dropoff       *locationDTO  `json:"dropoff" validate:"required"`
	Distance      float64       `json:"distance" validate:"gte=0"`
	Duration      float64       `json:"duration" validate:"gte=0"`
	EstimatedFare *float64      `json:"estimatedFare" validate:"required,gte=0"`
	Status        string        `json:"status" validate:"omitempty,oneof=pending accepted arrived started completed cancelled"`
	RequestTime   int64         `json:"requestTime" validate:"gte=0"`
	ExpiryTime    int64         `json:"expiryTime" validate:"gte=0"`
	PaymentMethod string        `json:"paymentMethod" validate:"omitempty,oneof=cash card wallet"`
}

type activeTripDTO struct {
	ID             string        `json:"_id" validate:"required"`
	RideID         string        `json:"rideId"`
	Passenger      *passengerDTO `json:"passenger" validate:"required"`
	Pickup         *locationDTO  `json:"pickup" validate:"required"`
	Dropoff        *locationDTO  `json:"dropoff" validate:"required"`
	Status         string        `json:"status" validate:"required,oneof=accepted arrived pickedUp started completed"`
	StartTime      int64         `json:"startTime" validate:"gte=0"`
	ArrivalTime    int64         `json:"arrivalTime" validate:"gte=0"`
	CompletionTime int64         `json:"completionTime" validate:"gte=0"`
	ActualDistance float64       `json:"actualDistance" validate:"gte=0"`
	ActualDuration float64       `json:"actualDuration" validate:"gte=0"`
	FinalFare      float64       `json:"finalFare" validate:"gte=0"`
}

type dailyEarningsDTO struct {
	Day    string  `json:"day" validate:"required"`
	Amount float64 `json:"amount" validate:"gte=0"`
	Rides  int     `json:"rides" validate:"gte=0"`
}

type periodEarningsDTO struct {
	Total          *float64           `json:"total" validate:"required,gte=0"`
	Rides          int                `json:"rides" validate:"gte=0"`
	Hours          float64            `json:"hours" validate:"gte=0"`
	AverageFare    float64            `json:"averageFare" validate:"gte=0"`
	DailyBreakdown []dailyEarningsDTO `json:"dailyBreakdown" validate:"omitempty,dive"`
}

type historyPassengerDTO struct {
	Name string `json:"name"`
}

type tripHistoryItemDTO struct {
	ID        string              `json:"_id" validate:"required"`
	Date      int64               `json:"date" validate:"gte=0"`
	Passenger historyPassengerDTO `json:"passenger"`
	Pickup    *locationDTO        `json:"pickup" validate:"omitempty"`
	Dropoff   *locationDTO        `json:"dropoff" validate:"omitempty"`
	Fare      float64             `json:"fare" validate:"gte=0"`
	Rating    *float64            `json:"rating" validate:"omitempty,gte=0,lte=5"`
	Status    string              `json:"status" validate:"required,oneof=completed cancelled"`
}

type paginationDTO struct {
	Page  int `json:"page" validate:"gte=0"`
	Limit int `json:"limit" validate:"gte=0"`
	Total int `json:"total" validate:"gte=0"`
}

type vehicleDTO struct {
	Make         string `json:"make"`
	Model        string `json:"model"`
	Year         int    `json:"year" validate:"gte=0"`
	Color        string `json:"color"`
	LicensePlate string `json:"licensePlate"`
}

type driverDTO struct {
	ID            string  `json:"id" validate:"required"`
	Name          string  `json:"name"`
	Email         string  `json:"email" validate:"omitempty,email"`
	Phone         string  `json:"phone"`
	Rating        float64 `json:"rating" validate:"gte=0,lte=5"`
	TotalRides    int     `json:"totalRides" validate:"gte=0"`
	Role          string  `json:"role" validate:"omitempty,oneof=driver delivery"`
	IsOnline      bool    `json:"isOnline"`
	DriverDetails *struct {
		VehicleInfo *vehicleDTO `json:"vehicleInfo"`
	} `json:"driverDetails"`
}

type loginDTO struct {
	Token string     `json:"token" validate:"required"`
	User  *driverDTO `json:"user" validate:"required"`
}

// decodeValid unmarshals raw into dst and validates it.
func decodeValid(raw []byte, dst any) error {
	if err := json.Unmarshal(raw, dst); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	if err := validate.Struct(dst); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	return nil
}

func msTime(ms int64) time.Time {
	if ms <= 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms).UTC()
}

func msTimePtr(ms int64) *time.Time {
	if ms <= 0 {
		return nil
	}
	t := time.UnixMilli(ms).UTC()
	return &t
}

func (c *coordinatesDTO) model() models.Coordinates {
	return models.Coordinates{Latitude: *c.Latitude, Longitude: *c.Longitude}
}

func (l *locationDTO) model() models.Location {
	if l == nil {
		return models.Location{}
	}
	return models.Location{Address: l.Address, Coordinates: l.Coordinates.model()}
}

func (p *passengerDTO) model() models.Passenger {
	return models.Passenger{ID: p.ID, Name: p.Name, Phone: p.Phone, Rating: p.Rating}
}

func (d *rideRequestDTO) model() models.RideRequest {
	status := models.RideStatus(d.Status)
	if status == "" {
		status = models.RideStatusPending
	}
	return models.RideRequest{
		ID:            d.ID,
		Passenger:     d.Passenger.model(),
		Pickup:        d.Pickup.model(),
		Dropoff:       d.Dropoff.model(),
		DistanceKm:    d.Distance,
		DurationMin:   d.Duration,
		EstimatedFare: *d.EstimatedFare,
		Status:        status,
		PaymentMethod: d.PaymentMethod,
		RequestedAt:   msTime(d.RequestTime),
		ExpiresAt:     msTime(d.ExpiryTime),
	}
}

func (d *activeTripDTO) model() *models.ActiveTrip {
	return &models.ActiveTrip{
		ID:                d.ID,
		RideID:            d.RideID,
		Passenger:         d.Passenger.model(),
		Pickup:            d.Pickup.model(),
		Dropoff:           d.Dropoff.model(),
		Status:            models.TripStatus(d.Status),
		StartedAt:         msTimePtr(d.StartTime),
		ArrivedAt:         msTimePtr(d.ArrivalTime),
		CompletedAt:       msTimePtr(d.CompletionTime),
		ActualDistanceKm:  d.ActualDistance,
		ActualDurationMin: d.ActualDuration,
		FinalFare:         d.FinalFare,
	}
}

func (d *periodEarningsDTO) model() models.PeriodEarnings {
	out := models.PeriodEarnings{
		Total:       *d.Total,
		Rides:       d.Rides,
		Hours:       d.Hours,
		AverageFare: d.AverageFare,
	}
	for _, day := range d.DailyBreakdown {
		out.DailyBreakdown = append(out.DailyBreakdown, models.DailyEarnings{Day: day.Day, Amount: day.Amount, Rides: day.Rides})
	}
	return out
}

func (d *tripHistoryItemDTO) model() models.TripHistoryItem {
	return models.TripHistoryItem{
		ID:            d.ID,
		Date:          msTime(d.Date),
		PassengerName: d.Passenger.Name,
		Pickup:        d.Pickup.model(),
		Dropoff:       d.Dropoff.model(),
		Fare:          d.Fare,
		Rating:        d.Rating,
		Status:        models.RideStatus(d.Status),
	}
}

func (d *driverDTO) model() *models.Driver {
	out := &models.Driver{
		ID:         d.ID,
		Name:       d.Name,
		Email:      d.Email,
		Phone:      d.Phone,
		Rating:     d.Rating,
		TotalRides: d.TotalRides,
		Role:       d.Role,
		IsOnline:   d.IsOnline,
	}
	if d.DriverDetails != nil && d.DriverDetails.VehicleInfo != nil {
		v := d.DriverDetails.VehicleInfo
		out.Vehicle = &models.Vehicle{Make: v.Make, Model: v.Model, Year: v.Year, Color: v.Color, LicensePlate: v.LicensePlate}
	}
	return out
}

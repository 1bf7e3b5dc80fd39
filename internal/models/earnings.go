package models

import "time"

type EarningsPeriod string

const (
	PeriodToday EarningsPeriod = "today"
	PeriodWeek  EarningsPeriod = "week"
	PeriodMonth EarningsPeriod = "month"
)

type DailyEarnings struct {
	Day    string  `json:"day"`
	Amount float64 `json:"amount"`
	Rides  int     `json:"rides"`
}

// PeriodEarnings is the server's aggregate for one period. Every numeric
// field is non-negative.
type PeriodEarnings struct {
	Total          float64         `json:"total"`
	Rides          int             `json:"rides"`
	Hours          float64         `json:"hours"`
	AverageFare    float64         `json:"average_fare"`
	DailyBreakdown []DailyEarnings `json:"daily_breakdown,omitempty"`
}

type Earnings struct {
	Today     PeriodEarnings `json:"today"`
	Week      PeriodEarnings `json:"week"`
	Month     PeriodEarnings `json:"month"`
	FetchedAt time.Time      `json:"fetched_at"`
}

package remote

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"

	"github.com/example/driver-console/internal/models"
)

// SetAvailability broadcasts the online flag to the matcher.
func (c *Client) SetAvailability(ctx context.Context, online bool) error {
	_, err := c.call(ctx, "set_availability", http.MethodPut, "/drivers/availability", nil, map[string]bool{"isOnline": online})
	return err
}

func (c *Client) UpdateLocation(ctx context.Context, pos models.Coordinates) error {
	body := map[string]float64{"latitude": pos.Latitude, "longitude": pos.Longitude}
	_, err := c.call(ctx, "update_location", http.MethodPost, "/drivers/location", nil, body)
	return err
}

func (c *Client) Earnings(ctx context.Context, period models.EarningsPeriod) (models.PeriodEarnings, error) {
	switch period {
	case models.PeriodToday, models.PeriodWeek, models.PeriodMonth:
	default:
		return models.PeriodEarnings{}, fmt.Errorf("unknown earnings period %q", period)
	}
	q := url.Values{"period": {string(period)}}
	env, err := c.call(ctx, "earnings", http.MethodGet, "/trips/earnings", q, nil)
	if err != nil {
		return models.PeriodEarnings{}, err
	}
	if env.empty() {
		return models.PeriodEarnings{}, fmt.Errorf("%w: earnings: empty", ErrInvalidPayload)
	}
	var dto periodEarningsDTO
	if err := decodeValid(env.Data, &dto); err != nil {
		return models.PeriodEarnings{}, fmt.Errorf("earnings(%s): %w", period, err)
	}
	return dto.model(), nil
}

// TripHistory returns one page of past trips, newest first.
func (c *Client) TripHistory(ctx context.Context, page, limit int) (models.TripHistoryPage, error) {
	if page < 1 {
		page = 1
	}
	if limit < 1 || limit > 100 {
		limit = 20
	}
	q := url.Values{"page": {strconv.Itoa(page)}, "limit": {strconv.Itoa(limit)}}

	var body struct {
		envelope
		Pagination *paginationDTO `json:"pagination"`
	}
	if err := c.do(ctx, "trip_history", http.MethodGet, "/trips/history", q, nil, &body); err != nil {
		return models.TripHistoryPage{}, err
	}
	out := models.TripHistoryPage{Page: page, Limit: limit}
	if !body.empty() {
		var items []json.RawMessage
		if err := json.Unmarshal(body.Data, &items); err != nil {
			return out, fmt.Errorf("%w: trip_history: %v", ErrInvalidPayload, err)
		}
		for i, raw := range items {
			var dto tripHistoryItemDTO
			if err := decodeValid(raw, &dto); err != nil {
				return out, fmt.Errorf("trip_history[%d]: %w", i, err)
			}
			out.Items = append(out.Items, dto.model())
		}
	}
	out.Total = len(out.Items)
	if p := body.Pagination; p != nil {
		if err := validate.Struct(p); err != nil {
			return out, fmt.Errorf("%w: trip_history pagination: %v", ErrInvalidPayload, err)
		}
		if p.Page > 0 {
			out.Page = p.Page
		}
		if p.Limit > 0 {
			out.Limit = p.Limit
		}
		out.Total = p.Total
	}
	return out, nil
}

package remote

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"

	"github.com/example/driver-console/internal/models"
)

// NearbyRequests returns the ride offers currently open to this driver.
// A single malformed element fails the whole call.
func (c *Client) NearbyRequests(ctx context.Context) ([]models.RideRequest, error) {
	env, err := c.call(ctx, "nearby_requests", http.MethodGet, "/rides/nearby-requests", nil, nil)
	if err != nil {
		return nil, err
	}
	if env.empty() {
		return nil, nil
	}
	var items []json.RawMessage
	if err := json.Unmarshal(env.Data, &items); err != nil {
		return nil, fmt.Errorf("%w: nearby_requests: %v", ErrInvalidPayload, err)
	}
	out := make([]models.RideRequest, 0, len(items))
	for i, raw := range items {
		var dto rideRequestDTO
		if err := decodeValid(raw, &dto); err != nil {
			return nil, fmt.Errorf("nearby_requests[%d]: %w", i, err)
		}
		out = append(out, dto.model())
	}
	return out, nil
}

func (c *Client) AcceptRide(ctx context.Context, rideID string) (*models.ActiveTrip, error) {
	return c.tripCall(ctx, "accept_ride", "/rides/accept/"+url.PathEscape(rideID), nil)
}

func (c *Client) DeclineRide(ctx context.Context, rideID string) error {
	_, err := c.call(ctx, "decline_ride", http.MethodPost, "/rides/decline/"+url.PathEscape(rideID), nil, nil)
	return err
}

func (c *Client) ArriveAtPickup(ctx context.Context, tripID string) (*models.ActiveTrip, error) {
	return c.tripCall(ctx, "arrive_pickup", "/rides/arrive/"+url.PathEscape(tripID), nil)
}

func (c *Client) StartTrip(ctx context.Context, tripID string) (*models.ActiveTrip, error) {
	return c.tripCall(ctx, "start_trip", "/rides/start/"+url.PathEscape(tripID), nil)
}

type completeBody struct {
	Rating  *int   `json:"rating,omitempty"`
	Comment string `json:"comment,omitempty"`
}

func (c *Client) CompleteTrip(ctx context.Context, tripID string, rating *int, comment string) error {
	_, err := c.call(ctx, "complete_trip", http.MethodPost, "/rides/complete/"+url.PathEscape(tripID), nil, completeBody{Rating: rating, Comment: comment})
	return err
}

func (c *Client) CancelTrip(ctx context.Context, tripID, reason string) error {
	body := map[string]string{"reason": reason}
	_, err := c.call(ctx, "cancel_trip", http.MethodPost, "/rides/cancel/"+url.PathEscape(tripID), nil, body)
	return err
}

// ActiveRide returns the trip the server still considers in progress, or
// nil when there is none.
func (c *Client) ActiveRide(ctx context.Context) (*models.ActiveTrip, error) {
	env, err := c.call(ctx, "active_ride", http.MethodGet, "/rides/active", nil, nil)
	if err != nil {
		return nil, err
	}
	if env.empty() {
		return nil, nil
	}
	return decodeTrip(env.Data, "active_ride")
}

func (c *Client) tripCall(ctx context.Context, endpoint, path string, body any) (*models.ActiveTrip, error) {
	env, err := c.call(ctx, endpoint, http.MethodPost, path, nil, body)
	if err != nil {
		return nil, err
	}
	if env.empty() {
		return nil, fmt.Errorf("%w: %s: empty trip", ErrInvalidPayload, endpoint)
	}
	return decodeTrip(env.Data, endpoint)
}

func decodeTrip(raw []byte, endpoint string) (*models.ActiveTrip, error) {
	var dto activeTripDTO
	if err := decodeValid(raw, &dto); err != nil {
		return nil, fmt.Errorf("%s: %w", endpoint, err)
	}
	return dto.model(), nil
}

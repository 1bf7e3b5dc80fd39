package remote

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/example/driver-console/internal/models"
)

// Login exchanges email and password for a token and stores both the
// token and the returned driver profile.
func (c *Client) Login(ctx context.Context, email, password string) (*models.Driver, error) {
	body := map[string]string{"email": email, "password": password}
	var raw json.RawMessage
	if err := c.do(ctx, "login", http.MethodPost, "/auth/login", nil, body, &raw); err != nil {
		return nil, err
	}
	var dto loginDTO
	if err := decodeValid(raw, &dto); err != nil {
		return nil, fmt.Errorf("login: %w", err)
	}
	driver := dto.User.model()
	if err := c.creds.Save(Credentials{Token: dto.Token, Driver: driver}); err != nil {
		return nil, fmt.Errorf("store credentials: %w", err)
	}
	c.log.Info("driver logged in", "driver_id", driver.ID)
	return driver, nil
}

// Profile refreshes the stored driver profile from the server.
func (c *Client) Profile(ctx context.Context) (*models.Driver, error) {
	cr, ok := c.creds.Load()
	if !ok {
		return nil, ErrNotAuthenticated
	}
	env, err := c.call(ctx, "profile", http.MethodGet, "/auth/profile", nil, nil)
	if err != nil {
		return nil, err
	}
	if env.empty() {
		return nil, fmt.Errorf("%w: profile: empty", ErrInvalidPayload)
	}
	var dto driverDTO
	if err := decodeValid(env.Data, &dto); err != nil {
		return nil, fmt.Errorf("profile: %w", err)
	}
	cr.Driver = dto.model()
	if err := c.creds.Save(cr); err != nil {
		return nil, fmt.Errorf("store credentials: %w", err)
	}
	return cr.Driver, nil
}

// CurrentDriver returns the profile saved at login without a round trip.
func (c *Client) CurrentDriver() (*models.Driver, error) {
	cr, ok := c.creds.Load()
	if !ok || cr.Driver == nil {
		return nil, ErrNotAuthenticated
	}
	return cr.Driver, nil
}

func (c *Client) Logout() error {
	return c.creds.Clear()
}

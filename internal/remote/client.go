package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/example/driver-console/internal/observability"
)

const maxResponseBytes = 4 << 20

var (
	ErrUnauthorized     = errors.New("remote: unauthorized")
	ErrInvalidPayload   = errors.New("remote: invalid payload")
	ErrNotAuthenticated = errors.New("remote: no credentials")
)

// APIError is a non-2xx answer from the ride service.
type APIError struct {
	StatusCode int
	Path       string
	Message    string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("remote: %s returned %d", e.Path, e.StatusCode)
	}
	return fmt.Sprintf("remote: %s returned %d: %s", e.Path, e.StatusCode, e.Message)
}

func (e *APIError) Is(target error) bool {
	return target == ErrUnauthorized && e.StatusCode == http.StatusUnauthorized
}

// Client talks to the ride service REST API on behalf of one driver.
type Client struct {
	baseURL string
	http    *http.Client
	creds   CredentialStore
	log     *slog.Logger
}

func NewClient(baseURL string, timeout time.Duration, creds CredentialStore, log *slog.Logger) *Client {
	if log == nil {
		log = slog.Default()
	}
	if creds == nil {
		creds = NewMemoryCredentials()
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http: &http.Client{
			Timeout:   timeout,
			Transport: &authTransport{base: http.DefaultTransport, creds: creds, log: log, now: time.Now},
		},
		creds: creds,
		log:   log,
	}
}

// Authenticated reports whether a usable token is stored.
func (c *Client) Authenticated() bool {
	cr, ok := c.creds.Load()
	return ok && cr.Token != "" && !tokenExpired(cr.Token, time.Now())
}

// envelope is the {success, message, data} wrapper every endpoint uses.
type envelope struct {
	Success *bool           `json:"success"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

func (e envelope) empty() bool {
	d := bytes.TrimSpace(e.Data)
	return len(d) == 0 || bytes.Equal(d, []byte("null"))
}

func (c *Client) do(ctx context.Context, endpoint, method, path string, query url.Values, body, out any) error {
	var rdr io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode %s body: %w", endpoint, err)
		}
		rdr = bytes.NewReader(b)
	}
	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, method, u, rdr)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		observability.RemoteCallDuration.WithLabelValues(endpoint, "error").Observe(time.Since(start).Seconds())
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()
	observability.RemoteCallDuration.WithLabelValues(endpoint, strconv.Itoa(resp.StatusCode)).Observe(time.Since(start).Seconds())

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return fmt.Errorf("read %s response: %w", endpoint, err)
	}
	if resp.StatusCode >= 300 {
		return &APIError{StatusCode: resp.StatusCode, Path: path, Message: errorMessage(raw)}
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrInvalidPayload, endpoint, err)
	}
	return nil
}

// call performs a request and returns the envelope's data member.
func (c *Client) call(ctx context.Context, endpoint, method, path string, query url.Values, body any) (envelope, error) {
	var env envelope
	if err := c.do(ctx, endpoint, method, path, query, body, &env); err != nil {
		return env, err
	}
	if env.Success != nil && !*env.Success {
		return env, &APIError{StatusCode: http.StatusOK, Path: path, Message: env.Message}
	}
	return env, nil
}

func errorMessage(raw []byte) string {
	var body struct {
		Message string `json:"message"`
		Error   string `json:"error"`
	}
	if json.Unmarshal(raw, &body) == nil {
		if body.Message != "" {
			return body.Message
		}
		return body.Error
	}
	s := strings.TrimSpace(string(raw))
	if len(s) > 200 {
		s = s[:200]
	}
	return s
}

// authTransport attaches the bearer token and drops stored credentials
// when the service answers 401.
type authTransport struct {
	base  http.RoundTripper
	creds CredentialStore
	log   *slog.Logger
	now   func() time.Time
}

func (t *authTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if cr, ok := t.creds.Load(); ok && cr.Token != "" {
		if tokenExpired(cr.Token, t.now()) {
			t.log.Warn("stored token expired, clearing credentials")
			t.clear()
		} else {
			req = req.Clone(req.Context())
			req.Header.Set("Authorization", "Bearer "+cr.Token)
		}
	}
	resp, err := t.base.RoundTrip(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode == http.StatusUnauthorized {
		t.log.Warn("ride service rejected token, clearing credentials", "path", req.URL.Path)
		t.clear()
	}
	return resp, nil
}

func (t *authTransport) clear() {
	if err := t.creds.Clear(); err != nil {
		t.log.Error("clear credentials failed", "error", err)
	}
}

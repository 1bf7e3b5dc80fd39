package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/go-playground/validator/v10"

	"github.com/example/driver-console/internal/location"
	"github.com/example/driver-console/internal/remote"
	"github.com/example/driver-console/internal/tracker"
)

const maxBodySize = 64 << 10

// statusClientClosed is answered when the dashboard went away mid-request.
const statusClientClosed = 499

var validate = validator.New()

type fieldError struct {
	Field string `json:"field"`
	Code  string `json:"code"`
}

type validationError struct {
	Fields []fieldError
}

func (e *validationError) Error() string { return "validation failed" }

type errorBody struct {
	Error   string       `json:"error"`
	Details []fieldError `json:"details,omitempty"`
}

// readJSON decodes a single JSON value into dst and validates it. An empty
// body is accepted when allowEmpty is set and dst keeps its zero value.
func readJSON(w http.ResponseWriter, r *http.Request, dst any, allowEmpty bool) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodySize)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		var syntaxErr *json.SyntaxError
		var typeErr *json.UnmarshalTypeError
		var sizeErr *http.MaxBytesError
		switch {
		case errors.Is(err, io.EOF) && allowEmpty:
		case errors.Is(err, io.EOF):
			return errors.New("request body is empty")
		case errors.As(err, &syntaxErr), errors.Is(err, io.ErrUnexpectedEOF):
			return errors.New("malformed JSON")
		case errors.As(err, &typeErr):
			return errors.New("invalid JSON type for " + typeErr.Field)
		case errors.As(err, &sizeErr):
			return errors.New("request body too large")
		default:
			return err
		}
	}
	if dec.More() {
		return errors.New("body must contain only a single JSON value")
	}
	if err := validate.Struct(dst); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			out := &validationError{}
			for _, fe := range verrs {
				out.Fields = append(out.Fields, fieldError{Field: fe.Field(), Code: fe.Tag()})
			}
			return out
		}
		return err
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorBody{Error: msg})
}

// writeBodyError answers a failed readJSON.
func writeBodyError(w http.ResponseWriter, err error) {
	var verr *validationError
	if errors.As(err, &verr) {
		writeJSON(w, http.StatusUnprocessableEntity, errorBody{Error: verr.Error(), Details: verr.Fields})
		return
	}
	writeError(w, http.StatusBadRequest, err.Error())
}

// statusFor maps domain errors onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, tracker.ErrNoPendingRequest),
		errors.Is(err, tracker.ErrRequestMismatch),
		errors.Is(err, tracker.ErrBusy),
		errors.Is(err, tracker.ErrNoActiveTrip),
		errors.Is(err, tracker.ErrTripInProgress),
		errors.Is(err, tracker.ErrOffline),
		errors.Is(err, tracker.ErrInvalidTransition):
		return http.StatusConflict
	case errors.Is(err, location.ErrInvalidPosition):
		return http.StatusUnprocessableEntity
	case errors.Is(err, tracker.ErrStopped):
		return http.StatusServiceUnavailable
	case errors.Is(err, remote.ErrUnauthorized), errors.Is(err, remote.ErrNotAuthenticated):
		return http.StatusUnauthorized
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	case errors.Is(err, context.Canceled):
		return statusClientClosed
	default:
		return http.StatusBadGateway
	}
}

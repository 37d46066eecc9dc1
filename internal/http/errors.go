package http

import (
	"encoding/json"
	"io"
	"net/http"

	"github.com/cockroachdb/errors"
	"github.com/go-playground/validator/v10"

	"github.com/boomfest/boom-tickets/internal/auth"
	"github.com/boomfest/boom-tickets/internal/domain"
	"github.com/boomfest/boom-tickets/internal/idempotency"
	"github.com/boomfest/boom-tickets/internal/observability"
)

const maxBodyBytes = 1 << 20

type errorBody struct {
	Error  string            `json:"error"`
	Fields map[string]string `json:"fields,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status, body := errorResponse(r, err)
	writeJSON(w, status, body)
}

// errorResponse maps domain errors to HTTP statuses. Storage failures are
// logged here; their details never reach the client.
func errorResponse(r *http.Request, err error) (int, errorBody) {
	var verrs validator.ValidationErrors
	switch {
	case errors.As(err, &verrs):
		fields := make(map[string]string, len(verrs))
		for _, fe := range verrs {
			fields[fe.Field()] = fe.Tag()
		}
		return http.StatusBadRequest, errorBody{Error: "validation failed", Fields: fields}
	case errors.Is(err, domain.ErrInvalidInput):
		return http.StatusBadRequest, errorBody{Error: err.Error()}
	case errors.Is(err, auth.ErrInvalidCredentials), errors.Is(err, auth.ErrInvalidToken):
		return http.StatusUnauthorized, errorBody{Error: err.Error()}
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound, errorBody{Error: err.Error()}
	case errors.Is(err, domain.ErrAlreadyUsed), errors.Is(err, domain.ErrConflict),
		errors.Is(err, idempotency.ErrInFlight):
		return http.StatusConflict, errorBody{Error: err.Error()}
	case errors.Is(err, domain.ErrInvalidState):
		return http.StatusUnprocessableEntity, errorBody{Error: err.Error()}
	case errors.Is(err, domain.ErrStorage):
		LoggerFrom(r.Context(), observability.NopLogger()).WithError(err).Error("store unavailable")
		return http.StatusServiceUnavailable, errorBody{Error: "order store unavailable, try again"}
	default:
		LoggerFrom(r.Context(), observability.NopLogger()).WithError(err).Error("request failed")
		return http.StatusInternalServerError, errorBody{Error: "internal error"}
	}
}

func decodeJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return errors.Wrapf(domain.ErrInvalidInput, "malformed request body: %v", err)
	}
	return nil
}

package api

import (
	"errors"
	"net/http"
	"time"

	"courtbook/internal/domain"

	"github.com/rs/zerolog"
)

// writeServiceError maps domain errors to status codes. Anything unknown is
// logged and hidden behind a 500.
func writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	var (
		validation *domain.ValidationError
		conflict   *domain.ConflictError
		notFound   *domain.NotFoundError
		funds      *domain.InsufficientFundsError
		state      *domain.InvalidStateError
	)

	switch {
	case errors.As(err, &validation):
		writeJSON(w, http.StatusBadRequest, map[string]any{
			"error": err.Error(),
			"field": validation.Field,
		})
	case errors.As(err, &conflict):
		body := map[string]any{
			"error":        err.Error(),
			"court_id":     conflict.CourtID,
			"start_time":   conflict.Start.Format(time.RFC3339),
			"end_time":     conflict.End.Format(time.RFC3339),
			"booking_code": conflict.BookingCode,
		}
		if !conflict.ExistingStart.IsZero() {
			body["existing_start"] = conflict.ExistingStart.UTC().Format(time.RFC3339)
			body["existing_end"] = conflict.ExistingEnd.UTC().Format(time.RFC3339)
		}
		writeJSON(w, http.StatusConflict, body)
	case errors.As(err, &notFound):
		writeJSON(w, http.StatusNotFound, map[string]any{
			"error":  err.Error(),
			"entity": notFound.Entity,
		})
	case errors.As(err, &funds):
		writeJSON(w, http.StatusPaymentRequired, map[string]any{
			"error":     err.Error(),
			"required":  funds.Required,
			"available": funds.Available,
		})
	case errors.As(err, &state):
		writeJSON(w, http.StatusUnprocessableEntity, map[string]any{
			"error":          err.Error(),
			"current_status": state.Current,
		})
	case errors.Is(err, domain.ErrValidation):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, domain.ErrConflict):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, domain.ErrNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	default:
		zerolog.Ctx(r.Context()).Error().Err(err).Str("path", r.URL.Path).Msg("request failed")
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

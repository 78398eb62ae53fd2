package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/rs/zerolog"

	"github.com/hackgods/clinic-appointment-scheduling/internal/appointment"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, details string) {
	writeJSON(w, status, ErrorResponse{Error: code, Details: details})
}

// statusFor maps scheduling error codes to HTTP statuses.
var statusFor = map[string]int{
	"not_found":                 http.StatusNotFound,
	"slot_unavailable":          http.StatusConflict,
	"scheduling_conflict":       http.StatusConflict,
	"already_cancelled":         http.StatusConflict,
	"invalid_status_transition": http.StatusConflict,
	"invalid_slot_selection":    http.StatusBadRequest,
	"checkup_required":          http.StatusUnprocessableEntity,
}

// writeServiceError renders an error returned by the appointment service.
// Anything unclassified is logged and reported without its details.
func writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	code := appointment.Code(err)
	status, ok := statusFor[code]
	if !ok {
		zerolog.Ctx(r.Context()).Error().Err(err).Msg("request failed")
		writeError(w, http.StatusInternalServerError, "internal_error", "internal error")
		return
	}

	resp := ErrorResponse{Error: code, Details: err.Error()}
	var conflict *appointment.ConflictError
	if errors.As(err, &conflict) {
		resp.Conflict = string(conflict.Kind)
	}
	writeJSON(w, status, resp)
}

package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/hackgods/clinic-appointment-scheduling/internal/appointment"
	"github.com/hackgods/clinic-appointment-scheduling/internal/metrics"
	redisclient "github.com/hackgods/clinic-appointment-scheduling/internal/redis"
)

const maxBodyBytes = 1 << 20

func parseUUIDParam(w http.ResponseWriter, r *http.Request, name, code string) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, name))
	if err != nil {
		writeError(w, http.StatusBadRequest, code, name+" must be a valid UUID")
		return uuid.Nil, false
	}
	return id, true
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
		return false
	}
	return true
}

func listDoctorsHandler(svc AppointmentService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		var filter appointment.DoctorFilter
		if raw := q.Get("weekday"); raw != "" {
			day, err := appointment.ParseWeekday(raw)
			if err != nil {
				writeError(w, http.StatusBadRequest, "invalid_weekday", "weekday must be a day name such as Monday")
				return
			}
			filter.WorksOn = appointment.NewWeekdaySet(day)
		}
		filter.Specialization = q.Get("specialization")

		doctors, err := svc.ListDoctors(r.Context(), filter)
		if err != nil {
			writeServiceError(w, r, err)
			return
		}
		resp := make([]DoctorResponse, 0, len(doctors))
		for _, d := range doctors {
			resp = append(resp, toDoctorResponse(d))
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

func availableDatesHandler(svc AppointmentService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		doctorID, ok := parseUUIDParam(w, r, "id", "invalid_doctor_id")
		if !ok {
			return
		}

		dates, err := svc.ListAvailableDates(r.Context(), doctorID)
		if err != nil {
			writeServiceError(w, r, err)
			return
		}

		resp := AvailableDatesResponse{DoctorID: doctorID, Dates: make([]AvailableDateResponse, 0, len(dates))}
		for _, d := range dates {
			resp.Dates = append(resp.Dates, AvailableDateResponse{
				Date:    d.Date.Format(dateLayout),
				Weekday: d.Weekday.String(),
				Label:   d.String(),
			})
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

func availableTimesHandler(svc AppointmentService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		doctorID, ok := parseUUIDParam(w, r, "id", "invalid_doctor_id")
		if !ok {
			return
		}
		date, err := svc.ParseDate(chi.URLParam(r, "date"))
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_date", err.Error())
			return
		}

		times, err := svc.ListAvailableTimes(r.Context(), doctorID, date)
		if err != nil {
			writeServiceError(w, r, err)
			return
		}

		resp := AvailableTimesResponse{
			DoctorID: doctorID,
			Date:     date.Format(dateLayout),
			Times:    make([]SlotResponse, 0, len(times)),
		}
		for _, t := range times {
			resp.Times = append(resp.Times, SlotResponse{Time: string(t), Label: t.Label()})
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

func scheduleAppointmentHandler(svc AppointmentService, idem IdempotencyStore, m *metrics.SchedulingMetrics) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req ScheduleAppointmentRequest
		if !decodeBody(w, r, &req) {
			return
		}

		patientID, err := uuid.Parse(req.PatientID)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_patient_id", "patient_id must be a valid UUID")
			return
		}
		doctorID, err := uuid.Parse(req.DoctorID)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_doctor_id", "doctor_id must be a valid UUID")
			return
		}
		date, err := svc.ParseDate(req.Date)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_date", err.Error())
			return
		}
		slot, err := appointment.ParseSlotTime(req.Time)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_time", err.Error())
			return
		}

		withIdempotency(w, r, svc, idem, m, "schedule", http.StatusCreated, func(ctx context.Context) (appointment.Appointment, error) {
			return svc.ScheduleAppointment(ctx, appointment.ScheduleRequest{
				PatientID: patientID,
				DoctorID:  doctorID,
				Date:      date,
				Time:      slot,
				Reason:    req.Reason,
			})
		})
	}
}

func rescheduleAppointmentHandler(svc AppointmentService, idem IdempotencyStore, m *metrics.SchedulingMetrics) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := parseUUIDParam(w, r, "id", "invalid_appointment_id")
		if !ok {
			return
		}
		var req RescheduleAppointmentRequest
		if !decodeBody(w, r, &req) {
			return
		}
		date, err := svc.ParseDate(req.Date)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_date", err.Error())
			return
		}
		slot, err := appointment.ParseSlotTime(req.Time)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_time", err.Error())
			return
		}

		withIdempotency(w, r, svc, idem, m, "reschedule:"+id.String(), http.StatusOK, func(ctx context.Context) (appointment.Appointment, error) {
			return svc.RescheduleAppointment(ctx, id, date, slot)
		})
	}
}

// transitionHandler serves the body-less lifecycle endpoints: cancel,
// checkup and complete.
func transitionHandler(svc AppointmentService, fn func(context.Context, uuid.UUID) (appointment.Appointment, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := parseUUIDParam(w, r, "id", "invalid_appointment_id")
		if !ok {
			return
		}
		appt, err := fn(r.Context(), id)
		if err != nil {
			writeServiceError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, toAppointmentResponse(appt, svc.Location()))
	}
}

func getAppointmentHandler(svc AppointmentService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := parseUUIDParam(w, r, "id", "invalid_appointment_id")
		if !ok {
			return
		}
		appt, err := svc.GetAppointment(r.Context(), id)
		if err != nil {
			writeServiceError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, toAppointmentResponse(appt, svc.Location()))
	}
}

func listAppointmentsHandler(svc AppointmentService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		var filter appointment.ListFilter

		if raw := q.Get("doctor_id"); raw != "" {
			id, err := uuid.Parse(raw)
			if err != nil {
				writeError(w, http.StatusBadRequest, "invalid_doctor_id", "doctor_id must be a valid UUID")
				return
			}
			filter.DoctorID = id
		}
		if raw := q.Get("patient_id"); raw != "" {
			id, err := uuid.Parse(raw)
			if err != nil {
				writeError(w, http.StatusBadRequest, "invalid_patient_id", "patient_id must be a valid UUID")
				return
			}
			filter.PatientID = id
		}
		if raw := q.Get("status"); raw != "" {
			status, ok := appointment.ParseStatus(raw)
			if !ok {
				writeError(w, http.StatusBadRequest, "invalid_status", "status must be one of SCHEDULED, COMPLETED, CANCELLED, RESCHEDULED")
				return
			}
			filter.Status = status
		}

		appts := svc.ListAppointments(r.Context(), filter)
		resp := ListAppointmentsResponse{Appointments: make([]AppointmentResponse, 0, len(appts)), Count: len(appts)}
		for _, a := range appts {
			resp.Appointments = append(resp.Appointments, toAppointmentResponse(a, svc.Location()))
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

func statsHandler(svc AppointmentService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, svc.Stats(r.Context()))
	}
}

// withIdempotency runs do at most once per Idempotency-Key within scope. A
// retried key is answered with the appointment the first request produced.
// Requests without the header, or servers without a store, always run do.
func withIdempotency(
	w http.ResponseWriter,
	r *http.Request,
	svc AppointmentService,
	idem IdempotencyStore,
	m *metrics.SchedulingMetrics,
	scope string,
	status int,
	do func(context.Context) (appointment.Appointment, error),
) {
	ctx := r.Context()
	key := r.Header.Get("Idempotency-Key")
	if idem == nil || key == "" {
		appt, err := do(ctx)
		if err != nil {
			writeServiceError(w, r, err)
			return
		}
		writeJSON(w, status, toAppointmentResponse(appt, svc.Location()))
		return
	}

	logger := zerolog.Ctx(ctx).With().Str("idempotency_key", key).Str("scope", scope).Logger()

	result, replay, err := idem.Begin(ctx, scope, key)
	switch {
	case errors.Is(err, redisclient.ErrRequestInFlight):
		writeError(w, http.StatusConflict, "request_in_flight", err.Error())
		return
	case err != nil:
		logger.Error().Err(err).Msg("idempotency store unavailable")
		writeError(w, http.StatusServiceUnavailable, "idempotency_unavailable", "could not check Idempotency-Key, retry later")
		return
	}

	if replay {
		id, err := uuid.Parse(result)
		if err != nil {
			logger.Error().Str("result", result).Msg("stored idempotency result is not an appointment id")
			writeError(w, http.StatusInternalServerError, "internal_error", "internal error")
			return
		}
		appt, err := svc.GetAppointment(ctx, id)
		if err != nil {
			writeServiceError(w, r, err)
			return
		}
		kind, _, _ := strings.Cut(scope, ":")
		m.IncIdempotentReplay(kind)
		w.Header().Set("Idempotent-Replayed", "true")
		writeJSON(w, status, toAppointmentResponse(appt, svc.Location()))
		return
	}

	appt, err := do(ctx)
	if err != nil {
		if ferr := idem.Forget(context.WithoutCancel(ctx), scope, key); ferr != nil {
			logger.Warn().Err(ferr).Msg("forget idempotency key")
		}
		writeServiceError(w, r, err)
		return
	}
	if cerr := idem.Complete(context.WithoutCancel(ctx), scope, key, appt.ID.String()); cerr != nil {
		logger.Warn().Err(cerr).Msg("store idempotency result")
	}
	writeJSON(w, status, toAppointmentResponse(appt, svc.Location()))
}

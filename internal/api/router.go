package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/hackgods/clinic-appointment-scheduling/internal/appointment"
	"github.com/hackgods/clinic-appointment-scheduling/internal/metrics"
)

// AppointmentService is what the HTTP layer needs from *appointment.Service.
type AppointmentService interface {
	Location() *time.Location
	ParseDate(raw string) (time.Time, error)
	ListDoctors(ctx context.Context, filter appointment.DoctorFilter) ([]appointment.Doctor, error)
	ListAvailableDates(ctx context.Context, doctorID uuid.UUID) ([]appointment.AvailableDate, error)
	ListAvailableTimes(ctx context.Context, doctorID uuid.UUID, date time.Time) ([]appointment.SlotTime, error)
	ScheduleAppointment(ctx context.Context, req appointment.ScheduleRequest) (appointment.Appointment, error)
	RescheduleAppointment(ctx context.Context, id uuid.UUID, date time.Time, t appointment.SlotTime) (appointment.Appointment, error)
	CancelAppointment(ctx context.Context, id uuid.UUID) (appointment.Appointment, error)
	MarkCheckupDone(ctx context.Context, id uuid.UUID) (appointment.Appointment, error)
	CompleteAppointment(ctx context.Context, id uuid.UUID) (appointment.Appointment, error)
	GetAppointment(ctx context.Context, id uuid.UUID) (appointment.Appointment, error)
	ListAppointments(ctx context.Context, filter appointment.ListFilter) []appointment.Appointment
	Stats(ctx context.Context) appointment.Stats
}

// IdempotencyStore backs the Idempotency-Key header. *redisclient.IdempotencyStore
// implements it.
type IdempotencyStore interface {
	Begin(ctx context.Context, scope, key string) (result string, replay bool, err error)
	Complete(ctx context.Context, scope, key, result string) error
	Forget(ctx context.Context, scope, key string) error
}

type RouterConfig struct {
	Service     AppointmentService
	Idempotency IdempotencyStore // optional
	Checks      []HealthCheck
	Metrics     *metrics.SchedulingMetrics
	Gatherer    prometheus.Gatherer // defaults to the global registry
	Logger      zerolog.Logger
	Env         string
	Version     string
}

func NewRouter(cfg RouterConfig) http.Handler {
	r := chi.NewRouter()

	// Apply middleware
	r.Use(RequestIDMiddleware)
	r.Use(LoggingMiddleware(cfg.Logger))
	r.Use(middleware.Recoverer)

	// Health and metrics endpoints
	health := NewHealthHandler(cfg.Checks, cfg.Env, cfg.Version)
	r.Get("/health/live", health.Liveness)
	r.Get("/health/ready", health.Readiness)

	gatherer := cfg.Gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	r.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))

	svc := cfg.Service

	// Doctor availability endpoints
	r.Get("/doctors", listDoctorsHandler(svc))
	r.Get("/doctors/{id}/availability", availableDatesHandler(svc))
	r.Get("/doctors/{id}/availability/{date}", availableTimesHandler(svc))

	// Appointment endpoints
	r.Post("/appointments", scheduleAppointmentHandler(svc, cfg.Idempotency, cfg.Metrics))
	r.Get("/appointments", listAppointmentsHandler(svc))
	r.Get("/appointments/{id}", getAppointmentHandler(svc))
	r.Post("/appointments/{id}/reschedule", rescheduleAppointmentHandler(svc, cfg.Idempotency, cfg.Metrics))
	r.Post("/appointments/{id}/cancel", transitionHandler(svc, svc.CancelAppointment))
	r.Post("/appointments/{id}/checkup", transitionHandler(svc, svc.MarkCheckupDone))
	r.Post("/appointments/{id}/complete", transitionHandler(svc, svc.CompleteAppointment))

	r.Get("/stats", statsHandler(svc))

	return r
}

package appointment

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/hackgods/clinic-appointment-scheduling/internal/metrics"
)

var tracer = otel.Tracer("clinic.internal.appointment")

// ScheduleRequest is the input to ScheduleAppointment.
type ScheduleRequest struct {
	PatientID uuid.UUID
	DoctorID  uuid.UUID
	Date      time.Time
	Time      SlotTime
	Reason    string
}

// Service puts the in-memory scheduler behind the directory and the store.
// Scheduling decisions are made by the core alone; the service resolves ids
// beforehand and leaves persistence to the persister afterwards.
type Service struct {
	core      *Scheduler
	directory Directory
	persister *Persister
	store     Store
	metrics   *metrics.SchedulingMetrics
	logger    zerolog.Logger
}

func NewService(repo Repository, cfg SchedulerConfig, logger zerolog.Logger, m *metrics.SchedulingMetrics) *Service {
	core := NewScheduler(cfg)
	return &Service{
		core:      core,
		directory: repo,
		store:     repo,
		persister: NewPersister(core.Journal(), repo, logger, m),
		metrics:   m,
		logger:    logger.With().Str("component", "scheduling").Logger(),
	}
}

// Location is the clinic time zone that dates are interpreted in.
func (s *Service) Location() *time.Location {
	return s.core.Location()
}

// ParseDate reads a wire date in the clinic time zone.
func (s *Service) ParseDate(raw string) (time.Time, error) {
	return ParseDate(raw, s.core.Location())
}

// Hydrate rebuilds the in-memory core from storage. It must run before the
// service takes traffic.
func (s *Service) Hydrate(ctx context.Context) error {
	snap, err := s.store.LoadAll(ctx)
	if err != nil {
		return fmt.Errorf("load scheduling state: %w", err)
	}
	if err := s.core.Restore(snap); err != nil {
		return err
	}
	s.logger.Info().
		Int("appointments", len(snap.Appointments)).
		Int("reserved_slots", len(snap.Reservations)).
		Msg("scheduler hydrated")
	return nil
}

// RunPersister writes committed changes to the store until ctx ends.
func (s *Service) RunPersister(ctx context.Context, drainTimeout time.Duration) error {
	return s.persister.Run(ctx, drainTimeout)
}

// Flush blocks until every committed change has been written.
func (s *Service) Flush(ctx context.Context) error {
	return s.persister.Flush(ctx)
}

func (s *Service) start(ctx context.Context, op string) (context.Context, trace.Span, time.Time) {
	ctx, span := tracer.Start(ctx, "appointment."+op)
	return ctx, span, time.Now()
}

func (s *Service) finish(span trace.Span, op string, started time.Time, err error) {
	defer span.End()
	code := Code(err)
	s.metrics.ObserveOperation(op, code, time.Since(started))
	if err == nil {
		return
	}
	span.RecordError(err)
	span.SetAttributes(attribute.String("scheduling.outcome", code))
	if errors.Is(err, ErrInternal) {
		s.logger.Error().Err(err).Str("operation", op).Msg("scheduling invariant broken")
	}
}

// ListDoctors returns the directory's doctors that match filter, in
// directory order.
func (s *Service) ListDoctors(ctx context.Context, filter DoctorFilter) ([]Doctor, error) {
	doctors, err := s.directory.ListDoctors(ctx)
	if err != nil {
		return nil, fmt.Errorf("list doctors: %w", err)
	}
	out := doctors[:0]
	for _, d := range doctors {
		if filter.match(d) {
			out = append(out, d)
		}
	}
	return out, nil
}

func (s *Service) findDoctor(ctx context.Context, id uuid.UUID) (*Doctor, error) {
	d, err := s.directory.FindDoctor(ctx, id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("load doctor: %w", err)
	}
	return d, nil
}

// ListAvailableDates returns the dates in the booking window on which the
// doctor works and still has a free slot, earliest first.
func (s *Service) ListAvailableDates(ctx context.Context, doctorID uuid.UUID) (dates []AvailableDate, err error) {
	ctx, span, started := s.start(ctx, "list_available_dates")
	defer func() { s.finish(span, "list_available_dates", started, err) }()
	span.SetAttributes(attribute.String("doctor.id", doctorID.String()))

	doctor, err := s.findDoctor(ctx, doctorID)
	if err != nil {
		return nil, err
	}
	return slices.Collect(s.core.AvailableDates(*doctor)), nil
}

// ListAvailableTimes returns the doctor's free slots on date. Empty means
// nothing on that date can be scheduled.
func (s *Service) ListAvailableTimes(ctx context.Context, doctorID uuid.UUID, date time.Time) (times []SlotTime, err error) {
	ctx, span, started := s.start(ctx, "list_available_times")
	defer func() { s.finish(span, "list_available_times", started, err) }()
	span.SetAttributes(
		attribute.String("doctor.id", doctorID.String()),
		attribute.String("slot.date", dateKey(date)),
	)

	doctor, err := s.findDoctor(ctx, doctorID)
	if err != nil {
		return nil, err
	}
	return s.core.AvailableTimes(*doctor, date), nil
}

// ScheduleAppointment books a new appointment for the patient.
func (s *Service) ScheduleAppointment(ctx context.Context, req ScheduleRequest) (appt Appointment, err error) {
	ctx, span, started := s.start(ctx, "schedule")
	defer func() { s.finish(span, "schedule", started, err) }()
	span.SetAttributes(
		attribute.String("doctor.id", req.DoctorID.String()),
		attribute.String("patient.id", req.PatientID.String()),
		attribute.String("slot.date", dateKey(req.Date)),
		attribute.String("slot.time", string(req.Time)),
	)

	doctor, err := s.findDoctor(ctx, req.DoctorID)
	if err != nil {
		return Appointment{}, err
	}
	patient, err := s.directory.FindPatient(ctx, req.PatientID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return Appointment{}, err
		}
		return Appointment{}, fmt.Errorf("load patient: %w", err)
	}

	appt, err = s.core.Schedule(*doctor, *patient, req.Date, req.Time, req.Reason)
	if err != nil {
		return Appointment{}, err
	}
	s.logger.Info().
		Str("appointment_id", appt.ID.String()).
		Str("doctor_id", appt.DoctorID.String()).
		Str("patient_id", appt.PatientID.String()).
		Time("starts_at", appt.StartsAt).
		Msg("appointment scheduled")
	return appt, nil
}

// RescheduleAppointment moves an open appointment to another slot with the
// same doctor.
func (s *Service) RescheduleAppointment(ctx context.Context, id uuid.UUID, date time.Time, t SlotTime) (appt Appointment, err error) {
	ctx, span, started := s.start(ctx, "reschedule")
	defer func() { s.finish(span, "reschedule", started, err) }()
	span.SetAttributes(
		attribute.String("appointment.id", id.String()),
		attribute.String("slot.date", dateKey(date)),
		attribute.String("slot.time", string(t)),
	)

	current, err := s.core.Get(id)
	if err != nil {
		return Appointment{}, err
	}
	doctor, err := s.findDoctor(ctx, current.DoctorID)
	if err != nil {
		return Appointment{}, err
	}
	appt, err = s.core.Reschedule(*doctor, id, date, t)
	if err != nil {
		return Appointment{}, err
	}
	s.logger.Info().
		Str("appointment_id", appt.ID.String()).
		Time("from", current.StartsAt).
		Time("to", appt.StartsAt).
		Msg("appointment rescheduled")
	return appt, nil
}

func (s *Service) CancelAppointment(ctx context.Context, id uuid.UUID) (appt Appointment, err error) {
	_, span, started := s.start(ctx, "cancel")
	defer func() { s.finish(span, "cancel", started, err) }()
	span.SetAttributes(attribute.String("appointment.id", id.String()))

	appt, err = s.core.Cancel(id)
	if err != nil {
		return Appointment{}, err
	}
	s.logger.Info().Str("appointment_id", appt.ID.String()).Msg("appointment cancelled")
	return appt, nil
}

func (s *Service) MarkCheckupDone(ctx context.Context, id uuid.UUID) (appt Appointment, err error) {
	_, span, started := s.start(ctx, "checkup")
	defer func() { s.finish(span, "checkup", started, err) }()
	span.SetAttributes(attribute.String("appointment.id", id.String()))

	appt, err = s.core.MarkCheckup(id)
	if err != nil {
		return Appointment{}, err
	}
	s.logger.Info().Str("appointment_id", appt.ID.String()).Msg("checkup recorded")
	return appt, nil
}

// CompleteAppointment closes the appointment. It fails with
// ErrCheckupRequired until MarkCheckupDone has been called.
func (s *Service) CompleteAppointment(ctx context.Context, id uuid.UUID) (appt Appointment, err error) {
	_, span, started := s.start(ctx, "complete")
	defer func() { s.finish(span, "complete", started, err) }()
	span.SetAttributes(attribute.String("appointment.id", id.String()))

	appt, err = s.core.Complete(id)
	if err != nil {
		return Appointment{}, err
	}
	s.logger.Info().Str("appointment_id", appt.ID.String()).Msg("appointment completed")
	return appt, nil
}

func (s *Service) GetAppointment(_ context.Context, id uuid.UUID) (Appointment, error) {
	return s.core.Get(id)
}

func (s *Service) ListAppointments(_ context.Context, filter ListFilter) []Appointment {
	return s.core.List(filter)
}

func (s *Service) Stats(_ context.Context) Stats {
	return s.core.Stats()
}

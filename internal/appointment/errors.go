package appointment

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

var ErrNotFound = errors.New("not found")

var (
	ErrPatientNotFound     = fmt.Errorf("patient %w", ErrNotFound)
	ErrDoctorNotFound      = fmt.Errorf("doctor %w", ErrNotFound)
	ErrAppointmentNotFound = fmt.Errorf("appointment %w", ErrNotFound)
)

var (
	ErrSlotUnavailable         = errors.New("slot is already booked")
	ErrSchedulingConflict      = errors.New("scheduling conflict")
	ErrCheckupRequired         = errors.New("medical checkup required before completion")
	ErrInvalidSlotSelection    = errors.New("slot is outside the doctor's availability")
	ErrInvalidStatusTransition = errors.New("invalid status transition")
	ErrAlreadyCancelled        = errors.New("appointment is already cancelled")
	ErrInternal                = errors.New("internal scheduling error")
)

// SlotError carries which doctor/date/time a ledger or selection failure was about.
type SlotError struct {
	DoctorID uuid.UUID
	Date     time.Time
	Time     SlotTime
	Err      error
}

func (e *SlotError) Error() string {
	return fmt.Sprintf("%v: doctor %s on %s at %s", e.Err, e.DoctorID, dateKey(e.Date), e.Time)
}

func (e *SlotError) Unwrap() error {
	return e.Err
}

// TransitionError reports a lifecycle operation attempted from a status that
// does not allow it.
type TransitionError struct {
	AppointmentID uuid.UUID
	From          AppointmentStatus
	Op            string
	Err           error
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("%s appointment %s (status %s): %v", e.Op, e.AppointmentID, e.From, e.Err)
}

func (e *TransitionError) Unwrap() error {
	return e.Err
}

// Code classifies err into a short stable label used in API error bodies and
// metric outcomes. A nil error is "ok".
func Code(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrSlotUnavailable):
		return "slot_unavailable"
	case errors.Is(err, ErrSchedulingConflict):
		return "scheduling_conflict"
	case errors.Is(err, ErrCheckupRequired):
		return "checkup_required"
	case errors.Is(err, ErrInvalidSlotSelection):
		return "invalid_slot_selection"
	case errors.Is(err, ErrAlreadyCancelled):
		return "already_cancelled"
	case errors.Is(err, ErrInvalidStatusTransition):
		return "invalid_status_transition"
	case errors.Is(err, ErrInternal):
		return "internal_error"
	}
	return "error"
}

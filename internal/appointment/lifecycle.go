package appointment

import "time"

// Lifecycle transitions. Each one checks its own precondition and leaves the
// appointment untouched when it returns an error. Slot and conflict checks for
// reschedule happen in the scheduler before reschedule is called.

const (
	EventAppointmentScheduled   = "APPOINTMENT_SCHEDULED"
	EventAppointmentCancelled   = "APPOINTMENT_CANCELLED"
	EventAppointmentRescheduled = "APPOINTMENT_RESCHEDULED"
	EventCheckupRecorded        = "APPOINTMENT_CHECKUP_RECORDED"
	EventAppointmentCompleted   = "APPOINTMENT_COMPLETED"
)

func (a *Appointment) transitionError(op string, err error) error {
	return &TransitionError{AppointmentID: a.ID, From: a.Status, Op: op, Err: err}
}

func (a *Appointment) cancel(now time.Time) error {
	switch {
	case a.Status == StatusCancelled:
		return a.transitionError("cancel", ErrAlreadyCancelled)
	case !a.Status.Open():
		return a.transitionError("cancel", ErrInvalidStatusTransition)
	}
	a.Status = StatusCancelled
	a.UpdatedAt = now
	return nil
}

// canReschedule is checked before the scheduler touches the ledger so a
// refused move never reserves anything.
func (a *Appointment) canReschedule() error {
	if !a.Status.Open() {
		return a.transitionError("reschedule", ErrInvalidStatusTransition)
	}
	return nil
}

// reschedule moves the appointment and labels it RESCHEDULED. It stays
// RESCHEDULED; that label is treated like SCHEDULED by every later transition.
func (a *Appointment) reschedule(at, now time.Time) error {
	if err := a.canReschedule(); err != nil {
		return err
	}
	a.StartsAt = at
	a.Status = StatusRescheduled
	a.UpdatedAt = now
	return nil
}

func (a *Appointment) markCheckup(now time.Time) error {
	if !a.Status.Open() {
		return a.transitionError("record checkup for", ErrInvalidStatusTransition)
	}
	a.HasCheckup = true
	a.UpdatedAt = now
	return nil
}

func (a *Appointment) complete(now time.Time) error {
	if !a.Status.Open() {
		return a.transitionError("complete", ErrInvalidStatusTransition)
	}
	if !a.HasCheckup {
		return a.transitionError("complete", ErrCheckupRequired)
	}
	a.Status = StatusCompleted
	a.UpdatedAt = now
	return nil
}

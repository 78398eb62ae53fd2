package appointment

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

type AppointmentStatus string

const (
	StatusScheduled   AppointmentStatus = "SCHEDULED"
	StatusCompleted   AppointmentStatus = "COMPLETED"
	StatusCancelled   AppointmentStatus = "CANCELLED"
	StatusRescheduled AppointmentStatus = "RESCHEDULED"
)

// Blocking reports whether an appointment in this status still occupies its
// doctor's and patient's calendar for conflict checks.
func (s AppointmentStatus) Blocking() bool {
	return s != StatusCancelled
}

// Open reports whether the appointment can still be cancelled, moved or completed.
func (s AppointmentStatus) Open() bool {
	return s == StatusScheduled || s == StatusRescheduled
}

func ParseStatus(raw string) (AppointmentStatus, bool) {
	switch s := AppointmentStatus(raw); s {
	case StatusScheduled, StatusCompleted, StatusCancelled, StatusRescheduled:
		return s, true
	}
	return "", false
}

type Patient struct {
	ID    uuid.UUID
	Name  string
	Email *string
}

type Doctor struct {
	ID             uuid.UUID
	Name           string
	Specialization string
	AvailableDays  WeekdaySet
}

type Appointment struct {
	ID         uuid.UUID
	PatientID  uuid.UUID
	DoctorID   uuid.UUID
	StartsAt   time.Time
	Status     AppointmentStatus
	Reason     string
	HasCheckup bool
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// Reservation is a single ledger entry: one daily slot taken on one doctor's calendar.
type Reservation struct {
	DoctorID uuid.UUID
	Date     time.Time
	Time     SlotTime
}

// Change is the outcome of one committed scheduling operation. It is what the
// persistence layer writes after the in-memory core has returned.
type Change struct {
	Seq         uint64
	Event       string
	Appointment Appointment
	Reserved    *Reservation
	Released    *Reservation
}

// Snapshot is the durable state the core is rebuilt from at startup.
type Snapshot struct {
	Appointments []Appointment
	Reservations []Reservation
}

type EventLog struct {
	ID            int64
	EventType     string
	AppointmentID *uuid.UUID
	Payload       []byte
	CreatedAt     time.Time
}

// ListFilter narrows ListAppointments. Zero values match everything.
type ListFilter struct {
	DoctorID  uuid.UUID
	PatientID uuid.UUID
	Status    AppointmentStatus
}

func (f ListFilter) match(a *Appointment) bool {
	if f.DoctorID != uuid.Nil && a.DoctorID != f.DoctorID {
		return false
	}
	if f.PatientID != uuid.Nil && a.PatientID != f.PatientID {
		return false
	}
	if f.Status != "" && a.Status != f.Status {
		return false
	}
	return true
}

// DoctorFilter narrows ListDoctors. Zero values match everything.
type DoctorFilter struct {
	WorksOn        WeekdaySet // doctor receives patients on at least one of these days
	Specialization string     // case-insensitive exact match
}

func (f DoctorFilter) match(d Doctor) bool {
	if !f.WorksOn.Empty() && d.AvailableDays&f.WorksOn == 0 {
		return false
	}
	if f.Specialization != "" && !strings.EqualFold(strings.TrimSpace(f.Specialization), d.Specialization) {
		return false
	}
	return true
}

// Stats mirrors the appointment section of the clinic report.
type Stats struct {
	Total       int `json:"total"`
	Scheduled   int `json:"scheduled"`
	Completed   int `json:"completed"`
	Cancelled   int `json:"cancelled"`
	Rescheduled int `json:"rescheduled"`
}

package api

import (
	"time"

	"github.com/google/uuid"

	"github.com/hackgods/clinic-appointment-scheduling/internal/appointment"
)

type ScheduleAppointmentRequest struct {
	PatientID string `json:"patient_id"`
	DoctorID  string `json:"doctor_id"`
	Date      string `json:"date"` // YYYY-MM-DD
	Time      string `json:"time"` // HH:MM
	Reason    string `json:"reason"`
}

type RescheduleAppointmentRequest struct {
	Date string `json:"date"`
	Time string `json:"time"`
}

type AppointmentResponse struct {
	ID         uuid.UUID `json:"id"`
	PatientID  uuid.UUID `json:"patient_id"`
	DoctorID   uuid.UUID `json:"doctor_id"`
	Date       string    `json:"date"`
	Time       string    `json:"time"`
	StartsAt   time.Time `json:"starts_at"`
	Status     string    `json:"status"`
	Reason     string    `json:"reason,omitempty"`
	HasCheckup bool      `json:"has_checkup"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

type ListAppointmentsResponse struct {
	Appointments []AppointmentResponse `json:"appointments"`
	Count        int                   `json:"count"`
}

type DoctorResponse struct {
	ID             uuid.UUID `json:"id"`
	Name           string    `json:"name"`
	Specialization string    `json:"specialization"`
	AvailableDays  []string  `json:"available_days"`
}

type AvailableDateResponse struct {
	Date    string `json:"date"`
	Weekday string `json:"weekday"`
	Label   string `json:"label"`
}

type AvailableDatesResponse struct {
	DoctorID uuid.UUID               `json:"doctor_id"`
	Dates    []AvailableDateResponse `json:"dates"`
}

type SlotResponse struct {
	Time  string `json:"time"`
	Label string `json:"label"`
}

type AvailableTimesResponse struct {
	DoctorID uuid.UUID      `json:"doctor_id"`
	Date     string         `json:"date"`
	Times    []SlotResponse `json:"times"`
}

type ErrorResponse struct {
	Error    string `json:"error"`
	Details  string `json:"details,omitempty"`
	Conflict string `json:"conflict,omitempty"` // doctor or patient, for scheduling conflicts
}

const dateLayout = "2006-01-02"

func toAppointmentResponse(a appointment.Appointment, loc *time.Location) AppointmentResponse {
	at := a.StartsAt.In(loc)
	return AppointmentResponse{
		ID:         a.ID,
		PatientID:  a.PatientID,
		DoctorID:   a.DoctorID,
		Date:       at.Format(dateLayout),
		Time:       at.Format("15:04"),
		StartsAt:   at,
		Status:     string(a.Status),
		Reason:     a.Reason,
		HasCheckup: a.HasCheckup,
		CreatedAt:  a.CreatedAt,
		UpdatedAt:  a.UpdatedAt,
	}
}

func toDoctorResponse(d appointment.Doctor) DoctorResponse {
	days := d.AvailableDays.Days()
	names := make([]string, 0, len(days))
	for _, day := range days {
		names = append(names, day.String())
	}
	return DoctorResponse{
		ID:             d.ID,
		Name:           d.Name,
		Specialization: d.Specialization,
		AvailableDays:  names,
	}
}

package appointment

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

type ConflictKind string

const (
	ConflictDoctor  ConflictKind = "doctor"
	ConflictPatient ConflictKind = "patient"
)

// ConflictError reports that the doctor or the patient of a candidate
// appointment is already committed at the same instant.
type ConflictError struct {
	Kind       ConflictKind
	DoctorID   uuid.UUID
	PatientID  uuid.UUID
	At         time.Time
	ExistingID uuid.UUID
}

func (e *ConflictError) Error() string {
	if e.Kind == ConflictDoctor {
		return fmt.Sprintf("doctor %s already has appointment %s at %s", e.DoctorID, e.ExistingID, e.At.Format(time.RFC3339))
	}
	return fmt.Sprintf("patient %s already has appointment %s at %s", e.PatientID, e.ExistingID, e.At.Format(time.RFC3339))
}

func (e *ConflictError) Unwrap() error {
	return ErrSchedulingConflict
}

// FindConflict scans existing for a non-cancelled appointment that shares the
// candidate's doctor or patient at exactly the same instant. The first match
// is returned; nil means the candidate is clear. An appointment never
// conflicts with itself.
func FindConflict(candidate Appointment, existing []Appointment) *ConflictError {
	for i := range existing {
		ex := &existing[i]
		if !ex.Status.Blocking() || ex.ID == candidate.ID {
			continue
		}
		if !ex.StartsAt.Equal(candidate.StartsAt) {
			continue
		}
		if ex.DoctorID == candidate.DoctorID {
			return newConflict(ConflictDoctor, candidate, ex.ID)
		}
		if ex.PatientID == candidate.PatientID {
			return newConflict(ConflictPatient, candidate, ex.ID)
		}
	}
	return nil
}

func newConflict(kind ConflictKind, candidate Appointment, existingID uuid.UUID) *ConflictError {
	return &ConflictError{
		Kind:       kind,
		DoctorID:   candidate.DoctorID,
		PatientID:  candidate.PatientID,
		At:         candidate.StartsAt,
		ExistingID: existingID,
	}
}

// instantIndex maps an instant to the blocking appointment booked at it for
// one doctor or one patient. It gives the scheduler the same answers as
// FindConflict without scanning every appointment.
type instantIndex map[int64]uuid.UUID

func instantKey(t time.Time) int64 {
	return t.Unix()
}

func (ix instantIndex) holder(at time.Time) (uuid.UUID, bool) {
	id, ok := ix[instantKey(at)]
	return id, ok
}

func (ix instantIndex) add(at time.Time, id uuid.UUID) {
	ix[instantKey(at)] = id
}

// remove drops the entry at instant only if it still belongs to id.
func (ix instantIndex) remove(at time.Time, id uuid.UUID) {
	if cur, ok := ix[instantKey(at)]; ok && cur == id {
		delete(ix, instantKey(at))
	}
}

// checkConflict is the indexed form of FindConflict. Callers hold both the
// doctor's and the patient's lock.
func checkConflict(candidate Appointment, doctor *doctorBook, patient *patientBook) *ConflictError {
	if id, ok := doctor.active.holder(candidate.StartsAt); ok && id != candidate.ID {
		return newConflict(ConflictDoctor, candidate, id)
	}
	if id, ok := patient.active.holder(candidate.StartsAt); ok && id != candidate.ID {
		return newConflict(ConflictPatient, candidate, id)
	}
	return nil
}

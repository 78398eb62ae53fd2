package appointment

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Clock returns the current time. Tests pin it to a known date.
type Clock func() time.Time

// IDGenerator hands out appointment identifiers.
type IDGenerator interface {
	NewID() uuid.UUID
}

type UUIDGenerator struct{}

func (UUIDGenerator) NewID() uuid.UUID {
	return uuid.New()
}

type SchedulerConfig struct {
	Location        *time.Location // clinic time zone; dates and slots are read in it
	WindowDays      int            // how many days ahead, today included, are bookable
	ReleaseOnCancel bool           // free the ledger slot when an appointment is cancelled
	Clock           Clock
	IDs             IDGenerator
}

// doctorBook is everything the scheduler owns for one doctor: the slot ledger
// and the index of blocking appointments by instant. mu serializes every
// check-and-reserve against this doctor.
type doctorBook struct {
	mu     sync.Mutex
	ledger *Ledger
	active instantIndex
}

type patientBook struct {
	mu     sync.Mutex
	active instantIndex
}

// Scheduler is the in-memory scheduling core. It performs no I/O: every
// committed operation is appended to its Journal for the persistence layer to
// pick up after the call returns.
//
// Locks are always taken in the order doctor book, patient book, s.mu, so two
// operations on different doctors only meet on the short s.mu sections.
type Scheduler struct {
	cfg     SchedulerConfig
	journal *Journal

	mu           sync.RWMutex
	doctors      map[uuid.UUID]*doctorBook
	patients     map[uuid.UUID]*patientBook
	appointments map[uuid.UUID]*Appointment
}

func NewScheduler(cfg SchedulerConfig) *Scheduler {
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	if cfg.WindowDays <= 0 {
		cfg.WindowDays = DefaultWindowDays
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}
	if cfg.IDs == nil {
		cfg.IDs = UUIDGenerator{}
	}
	return &Scheduler{
		cfg:          cfg,
		journal:      NewJournal(),
		doctors:      make(map[uuid.UUID]*doctorBook),
		patients:     make(map[uuid.UUID]*patientBook),
		appointments: make(map[uuid.UUID]*Appointment),
	}
}

func (s *Scheduler) Journal() *Journal {
	return s.journal
}

func (s *Scheduler) Location() *time.Location {
	return s.cfg.Location
}

func (s *Scheduler) now() time.Time {
	return s.cfg.Clock().In(s.cfg.Location)
}

func (s *Scheduler) today() time.Time {
	return DateOf(s.cfg.Clock(), s.cfg.Location)
}

func (s *Scheduler) peekDoctor(id uuid.UUID) *doctorBook {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.doctors[id]
}

func (s *Scheduler) doctorBook(id uuid.UUID) *doctorBook {
	if b := s.peekDoctor(id); b != nil {
		return b
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if b, ok := s.doctors[id]; ok {
		return b
	}
	b := &doctorBook{ledger: NewLedger(), active: make(instantIndex)}
	s.doctors[id] = b
	return b
}

func (s *Scheduler) patientBook(id uuid.UUID) *patientBook {
	s.mu.RLock()
	b, ok := s.patients[id]
	s.mu.RUnlock()
	if ok {
		return b
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if b, ok := s.patients[id]; ok {
		return b
	}
	b = &patientBook{active: make(instantIndex)}
	s.patients[id] = b
	return b
}

// lookup returns the live appointment record. Its DoctorID and PatientID never
// change after insertion; every other field is read or written under the
// doctor book's lock.
func (s *Scheduler) lookup(id uuid.UUID) (*Appointment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.appointments[id]
	if !ok {
		return nil, ErrAppointmentNotFound
	}
	return a, nil
}

// Schedule books patient with doctor at slot t on date. The slot must lie in
// the doctor's availability window, be free in the ledger and clash with no
// other appointment of the doctor or the patient.
func (s *Scheduler) Schedule(doctor Doctor, patient Patient, date time.Time, t SlotTime, reason string) (Appointment, error) {
	at, err := s.selection(doctor, date, t)
	if err != nil {
		return Appointment{}, err
	}
	day := DateOf(at, s.cfg.Location)

	db := s.doctorBook(doctor.ID)
	pb := s.patientBook(patient.ID)
	db.mu.Lock()
	defer db.mu.Unlock()
	pb.mu.Lock()
	defer pb.mu.Unlock()

	if !db.ledger.IsFree(day, t) {
		return Appointment{}, &SlotError{DoctorID: doctor.ID, Date: day, Time: t, Err: ErrSlotUnavailable}
	}

	now := s.now()
	appt := &Appointment{
		ID:        s.cfg.IDs.NewID(),
		PatientID: patient.ID,
		DoctorID:  doctor.ID,
		StartsAt:  at,
		Status:    StatusScheduled,
		Reason:    reason,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if c := checkConflict(*appt, db, pb); c != nil {
		return Appointment{}, c
	}
	if !db.ledger.Reserve(day, t) {
		return Appointment{}, fmt.Errorf("%w: ledger refused free slot %s %s for doctor %s", ErrInternal, dateKey(day), t, doctor.ID)
	}
	db.active.add(at, appt.ID)
	pb.active.add(at, appt.ID)

	s.mu.Lock()
	s.appointments[appt.ID] = appt
	s.mu.Unlock()

	out := *appt
	s.journal.append(Change{
		Event:       EventAppointmentScheduled,
		Appointment: out,
		Reserved:    &Reservation{DoctorID: doctor.ID, Date: day, Time: t},
	})
	return out, nil
}

// Reschedule moves appointment id to slot t on date. doctor must be the
// appointment's own doctor. The previous slot is released once the new one is
// reserved.
func (s *Scheduler) Reschedule(doctor Doctor, id uuid.UUID, date time.Time, t SlotTime) (Appointment, error) {
	appt, err := s.lookup(id)
	if err != nil {
		return Appointment{}, err
	}
	if appt.DoctorID != doctor.ID {
		return Appointment{}, fmt.Errorf("%w: appointment %s belongs to doctor %s, not %s", ErrInternal, id, appt.DoctorID, doctor.ID)
	}

	db := s.doctorBook(appt.DoctorID)
	pb := s.patientBook(appt.PatientID)
	db.mu.Lock()
	defer db.mu.Unlock()
	pb.mu.Lock()
	defer pb.mu.Unlock()

	if err := appt.canReschedule(); err != nil {
		return Appointment{}, err
	}
	at, err := s.selection(doctor, date, t)
	if err != nil {
		return Appointment{}, err
	}
	day := DateOf(at, s.cfg.Location)
	if !db.ledger.IsFree(day, t) {
		return Appointment{}, &SlotError{DoctorID: doctor.ID, Date: day, Time: t, Err: ErrSlotUnavailable}
	}
	candidate := *appt
	candidate.StartsAt = at
	if c := checkConflict(candidate, db, pb); c != nil {
		return Appointment{}, c
	}
	if !db.ledger.Reserve(day, t) {
		return Appointment{}, fmt.Errorf("%w: ledger refused free slot %s %s for doctor %s", ErrInternal, dateKey(day), t, doctor.ID)
	}

	oldAt := appt.StartsAt
	if err := appt.reschedule(at, s.now()); err != nil {
		db.ledger.Release(day, t)
		return Appointment{}, err
	}
	db.active.remove(oldAt, appt.ID)
	pb.active.remove(oldAt, appt.ID)
	db.active.add(at, appt.ID)
	pb.active.add(at, appt.ID)

	out := *appt
	s.journal.append(Change{
		Event:       EventAppointmentRescheduled,
		Appointment: out,
		Reserved:    &Reservation{DoctorID: doctor.ID, Date: day, Time: t},
		Released:    s.release(db, appt.DoctorID, oldAt),
	})
	return out, nil
}

// release frees the ledger slot an appointment held at instant and returns
// the freed reservation, or nil if nothing was held there.
func (s *Scheduler) release(db *doctorBook, doctorID uuid.UUID, at time.Time) *Reservation {
	at = at.In(s.cfg.Location)
	t, ok := SlotOf(at)
	if !ok {
		return nil
	}
	day := DateOf(at, s.cfg.Location)
	if !db.ledger.Release(day, t) {
		return nil
	}
	return &Reservation{DoctorID: doctorID, Date: day, Time: t}
}

// Cancel marks the appointment CANCELLED and drops it from conflict checks.
// Its ledger slot is only freed when the scheduler is configured to do so.
func (s *Scheduler) Cancel(id uuid.UUID) (Appointment, error) {
	appt, err := s.lookup(id)
	if err != nil {
		return Appointment{}, err
	}
	db := s.doctorBook(appt.DoctorID)
	pb := s.patientBook(appt.PatientID)
	db.mu.Lock()
	defer db.mu.Unlock()
	pb.mu.Lock()
	defer pb.mu.Unlock()

	if err := appt.cancel(s.now()); err != nil {
		return Appointment{}, err
	}
	db.active.remove(appt.StartsAt, appt.ID)
	pb.active.remove(appt.StartsAt, appt.ID)

	change := Change{Event: EventAppointmentCancelled, Appointment: *appt}
	if s.cfg.ReleaseOnCancel {
		change.Released = s.release(db, appt.DoctorID, appt.StartsAt)
	}
	s.journal.append(change)
	return change.Appointment, nil
}

// MarkCheckup records that the medical checkup for the appointment is done,
// which unlocks Complete.
func (s *Scheduler) MarkCheckup(id uuid.UUID) (Appointment, error) {
	return s.mutate(id, EventCheckupRecorded, (*Appointment).markCheckup)
}

// Complete marks the appointment COMPLETED. It is declined with
// ErrCheckupRequired until MarkCheckup has been called.
func (s *Scheduler) Complete(id uuid.UUID) (Appointment, error) {
	return s.mutate(id, EventAppointmentCompleted, (*Appointment).complete)
}

func (s *Scheduler) mutate(id uuid.UUID, event string, fn func(*Appointment, time.Time) error) (Appointment, error) {
	appt, err := s.lookup(id)
	if err != nil {
		return Appointment{}, err
	}
	db := s.doctorBook(appt.DoctorID)
	db.mu.Lock()
	defer db.mu.Unlock()

	if err := fn(appt, s.now()); err != nil {
		return Appointment{}, err
	}
	out := *appt
	s.journal.append(Change{Event: event, Appointment: out})
	return out, nil
}

func (s *Scheduler) Get(id uuid.UUID) (Appointment, error) {
	appt, err := s.lookup(id)
	if err != nil {
		return Appointment{}, err
	}
	db := s.doctorBook(appt.DoctorID)
	db.mu.Lock()
	defer db.mu.Unlock()
	return *appt, nil
}

// List returns copies of every appointment matching filter, ordered by start
// time. Cancelled appointments are kept and listed like any other.
func (s *Scheduler) List(filter ListFilter) []Appointment {
	s.mu.RLock()
	all := make([]*Appointment, 0, len(s.appointments))
	for _, a := range s.appointments {
		if filter.DoctorID != uuid.Nil && a.DoctorID != filter.DoctorID {
			continue
		}
		if filter.PatientID != uuid.Nil && a.PatientID != filter.PatientID {
			continue
		}
		all = append(all, a)
	}
	s.mu.RUnlock()

	out := make([]Appointment, 0, len(all))
	for _, a := range all {
		db := s.doctorBook(a.DoctorID)
		db.mu.Lock()
		if filter.match(a) {
			out = append(out, *a)
		}
		db.mu.Unlock()
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].StartsAt.Equal(out[j].StartsAt) {
			return out[i].StartsAt.Before(out[j].StartsAt)
		}
		return out[i].ID.String() < out[j].ID.String()
	})
	return out
}

func (s *Scheduler) Stats() Stats {
	var st Stats
	for _, a := range s.List(ListFilter{}) {
		st.Total++
		switch a.Status {
		case StatusScheduled:
			st.Scheduled++
		case StatusCompleted:
			st.Completed++
		case StatusCancelled:
			st.Cancelled++
		case StatusRescheduled:
			st.Rescheduled++
		}
	}
	return st
}

// Restore loads durable state into an empty scheduler. Blocking appointments
// are re-indexed and their slots re-reserved; two blocking appointments that
// clash are reported as a conflict rather than silently merged.
func (s *Scheduler) Restore(snap Snapshot) error {
	s.mu.RLock()
	populated := len(s.appointments) > 0
	s.mu.RUnlock()
	if populated {
		return fmt.Errorf("%w: restore into a scheduler that already holds appointments", ErrInternal)
	}

	for _, r := range snap.Reservations {
		if !r.Time.Valid() {
			return fmt.Errorf("restore reservation for doctor %s: invalid slot %q", r.DoctorID, r.Time)
		}
		db := s.doctorBook(r.DoctorID)
		db.mu.Lock()
		db.ledger.Reserve(DateOf(r.Date, s.cfg.Location), r.Time)
		db.mu.Unlock()
	}

	for i := range snap.Appointments {
		appt := snap.Appointments[i]
		appt.StartsAt = appt.StartsAt.In(s.cfg.Location)
		if err := s.restoreOne(&appt); err != nil {
			return fmt.Errorf("restore appointment %s: %w", appt.ID, err)
		}
	}
	return nil
}

func (s *Scheduler) restoreOne(appt *Appointment) error {
	db := s.doctorBook(appt.DoctorID)
	pb := s.patientBook(appt.PatientID)
	db.mu.Lock()
	defer db.mu.Unlock()
	pb.mu.Lock()
	defer pb.mu.Unlock()

	if appt.Status.Blocking() {
		if c := checkConflict(*appt, db, pb); c != nil {
			return c
		}
		if t, ok := SlotOf(appt.StartsAt); ok {
			db.ledger.Reserve(DateOf(appt.StartsAt, s.cfg.Location), t)
		}
		db.active.add(appt.StartsAt, appt.ID)
		pb.active.add(appt.StartsAt, appt.ID)
	}

	s.mu.Lock()
	s.appointments[appt.ID] = appt
	s.mu.Unlock()
	return nil
}

package appointment

import (
	"encoding/binary"
	"errors"
	"slices"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// sequenceGenerator hands out predictable ids: 00000000-0000-0000-0000-000000000001, ...
type sequenceGenerator struct {
	n atomic.Uint64
}

func (g *sequenceGenerator) NewID() uuid.UUID {
	var id uuid.UUID
	binary.BigEndian.PutUint64(id[8:], g.n.Add(1))
	return id
}

// 2026-10-12 is a Monday.
var mondayMorning = time.Date(2026, time.October, 12, 8, 30, 0, 0, time.UTC)

func monday() time.Time {
	return DateOf(mondayMorning, time.UTC)
}

func newTestScheduler(opts ...func(*SchedulerConfig)) *Scheduler {
	cfg := SchedulerConfig{
		Clock: func() time.Time { return mondayMorning },
		IDs:   &sequenceGenerator{},
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	return NewScheduler(cfg)
}

func newDoctor(name string, days ...time.Weekday) Doctor {
	return Doctor{ID: uuid.New(), Name: name, Specialization: "General", AvailableDays: NewWeekdaySet(days...)}
}

func newPatient(name string) Patient {
	return Patient{ID: uuid.New(), Name: name}
}

func mustSchedule(t *testing.T, s *Scheduler, d Doctor, p Patient, date time.Time, slot SlotTime) Appointment {
	t.Helper()
	appt, err := s.Schedule(d, p, date, slot, "checkup")
	require.NoError(t, err)
	return appt
}

func TestScheduler_MondayScenario(t *testing.T) {
	s := newTestScheduler()
	house := newDoctor("Dr. House", time.Monday)
	today := monday()

	dates := slices.Collect(s.AvailableDates(house))
	require.Len(t, dates, 1, "only today is a Monday in the 7-day window")
	assert.Equal(t, today, dates[0].Date)
	assert.Equal(t, "Monday - 12/10/2026", dates[0].String())

	patients := make([]Patient, 0, SlotsPerDay)
	for i, slot := range DailySlots {
		p := newPatient("patient-" + string(rune('a'+i)))
		patients = append(patients, p)
		appt := mustSchedule(t, s, house, p, today, slot)
		assert.Equal(t, StatusScheduled, appt.Status)
		assert.Equal(t, slot.On(today), appt.StartsAt)
	}

	assert.Empty(t, s.AvailableTimes(house, today))
	assert.Empty(t, slices.Collect(s.AvailableDates(house)), "a fully booked date is excluded")

	for _, slot := range DailySlots {
		_, err := s.Schedule(house, newPatient("late"), today, slot, "")
		require.ErrorIs(t, err, ErrSlotUnavailable)
		var slotErr *SlotError
		require.ErrorAs(t, err, &slotErr)
		assert.Equal(t, house.ID, slotErr.DoctorID)
		assert.Equal(t, slot, slotErr.Time)
	}

	wilson := newDoctor("Dr. Wilson", time.Monday)
	_, err := s.Schedule(wilson, patients[0], today, DailySlots[0], "")
	require.ErrorIs(t, err, ErrSchedulingConflict)
	var conflict *ConflictError
	require.ErrorAs(t, err, &conflict)
	assert.Equal(t, ConflictPatient, conflict.Kind)
	assert.Equal(t, patients[0].ID, conflict.PatientID)

	_, err = s.Schedule(wilson, patients[0], today, DailySlots[1], "")
	assert.NoError(t, err, "the same patient is free an hour later with another doctor")
}

func TestScheduler_InvalidSelection(t *testing.T) {
	s := newTestScheduler()
	doc := newDoctor("Dr. Grey", time.Monday, time.Wednesday)
	p := newPatient("Izzie")
	today := monday()

	tests := []struct {
		name string
		date time.Time
		slot SlotTime
	}{
		{name: "yesterday", date: today.AddDate(0, 0, -1), slot: "09:00"},
		{name: "past the window", date: today.AddDate(0, 0, 7), slot: "09:00"},
		{name: "day off", date: today.AddDate(0, 0, 1), slot: "09:00"},
		{name: "not a slot", date: today, slot: "08:00"},
		{name: "half hour", date: today, slot: "09:30"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := s.Schedule(doc, p, tc.date, tc.slot, "")
			assert.ErrorIs(t, err, ErrInvalidSlotSelection)
		})
	}

	_, err := s.Schedule(doc, p, today.AddDate(0, 0, 2), "09:00", "")
	assert.NoError(t, err, "wednesday is within the window and a working day")
}

func TestScheduler_ScheduleAcceptsAnyTimeOnDate(t *testing.T) {
	s := newTestScheduler()
	doc := newDoctor("Dr. Grey", time.Monday)

	afternoon := time.Date(2026, time.October, 12, 15, 45, 0, 0, time.UTC)
	appt := mustSchedule(t, s, doc, newPatient("Meredith"), afternoon, "10:00")
	assert.Equal(t, time.Date(2026, time.October, 12, 10, 0, 0, 0, time.UTC), appt.StartsAt)
}

func TestScheduler_ClinicTimeZone(t *testing.T) {
	loc, err := time.LoadLocation("America/Sao_Paulo")
	require.NoError(t, err)
	// 01:00 UTC on Tuesday is still Monday evening in Sao Paulo
	clock := time.Date(2026, time.October, 13, 1, 0, 0, 0, time.UTC)
	s := newTestScheduler(func(c *SchedulerConfig) {
		c.Location = loc
		c.Clock = func() time.Time { return clock }
	})
	doc := newDoctor("Dr. Bailey", time.Monday)

	dates := slices.Collect(s.AvailableDates(doc))
	require.Len(t, dates, 1)
	assert.Equal(t, time.Date(2026, time.October, 12, 0, 0, 0, 0, loc), dates[0].Date)

	appt := mustSchedule(t, s, doc, newPatient("George"), dates[0].Date, "09:00")
	assert.Equal(t, time.Date(2026, time.October, 12, 9, 0, 0, 0, loc), appt.StartsAt)
}

func TestScheduler_ConcurrentSameSlot(t *testing.T) {
	s := newTestScheduler()
	doc := newDoctor("Dr. Strange", time.Monday)
	today := monday()

	const attempts = 64
	var (
		wg        sync.WaitGroup
		successes atomic.Int32
		errs      = make(chan error, attempts)
	)
	start := make(chan struct{})
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			_, err := s.Schedule(doc, newPatient("racer"), today, "11:00", "")
			if err == nil {
				successes.Add(1)
				return
			}
			errs <- err
		}()
	}
	close(start)
	wg.Wait()
	close(errs)

	assert.Equal(t, int32(1), successes.Load())
	for err := range errs {
		assert.ErrorIs(t, err, ErrSlotUnavailable)
	}
	assert.Len(t, s.List(ListFilter{DoctorID: doc.ID}), 1)
}

func TestScheduler_ConcurrentManyDoctorsNoDoubleBooking(t *testing.T) {
	s := newTestScheduler()
	today := monday()
	doctors := []Doctor{
		newDoctor("A", time.Monday),
		newDoctor("B", time.Monday),
		newDoctor("C", time.Monday),
	}
	patients := make([]Patient, 6)
	for i := range patients {
		patients[i] = newPatient("p")
	}

	var wg sync.WaitGroup
	for _, d := range doctors {
		for _, p := range patients {
			for _, slot := range DailySlots {
				wg.Add(1)
				go func() {
					defer wg.Done()
					_, _ = s.Schedule(d, p, today, slot, "")
				}()
			}
		}
	}
	wg.Wait()

	all := s.List(ListFilter{})
	require.NotEmpty(t, all)
	for _, a := range all {
		assert.Nil(t, FindConflict(a, all), "appointment %s double booked", a.ID)
	}
	for _, d := range doctors {
		assert.Len(t, s.List(ListFilter{DoctorID: d.ID}), SlotsPerDay, "every slot ends up booked exactly once")
	}
}

func TestScheduler_CompletionGate(t *testing.T) {
	s := newTestScheduler()
	doc := newDoctor("Dr. Cuddy", time.Monday)
	appt := mustSchedule(t, s, doc, newPatient("Chase"), monday(), "09:00")

	_, err := s.Complete(appt.ID)
	require.ErrorIs(t, err, ErrCheckupRequired)
	var te *TransitionError
	require.ErrorAs(t, err, &te)
	assert.Equal(t, appt.ID, te.AppointmentID)

	got, err := s.Get(appt.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusScheduled, got.Status, "a refused completion changes nothing")

	marked, err := s.MarkCheckup(appt.ID)
	require.NoError(t, err)
	assert.True(t, marked.HasCheckup)
	assert.Equal(t, StatusScheduled, marked.Status)

	done, err := s.Complete(appt.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, done.Status)

	_, err = s.Complete(appt.ID)
	assert.ErrorIs(t, err, ErrInvalidStatusTransition)
	_, err = s.Cancel(appt.ID)
	assert.ErrorIs(t, err, ErrInvalidStatusTransition)
	_, err = s.MarkCheckup(appt.ID)
	assert.ErrorIs(t, err, ErrInvalidStatusTransition)
	_, err = s.Reschedule(doc, appt.ID, monday(), "10:00")
	assert.ErrorIs(t, err, ErrInvalidStatusTransition)
}

func TestScheduler_IdempotentCancel(t *testing.T) {
	s := newTestScheduler()
	doc := newDoctor("Dr. Foreman", time.Monday)
	appt := mustSchedule(t, s, doc, newPatient("Thirteen"), monday(), "09:00")
	s.Journal().Drain()

	cancelled, err := s.Cancel(appt.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusCancelled, cancelled.Status)
	require.Len(t, s.Journal().Drain(), 1)

	_, err = s.Cancel(appt.ID)
	require.ErrorIs(t, err, ErrAlreadyCancelled)
	assert.Zero(t, s.Journal().Len(), "a refused cancel is not journalled")

	got, err := s.Get(appt.ID)
	require.NoError(t, err)
	assert.Equal(t, cancelled, got)

	_, err = s.MarkCheckup(appt.ID)
	assert.ErrorIs(t, err, ErrInvalidStatusTransition)
}

func TestScheduler_CancelKeepsSlotByDefault(t *testing.T) {
	s := newTestScheduler()
	doc := newDoctor("Dr. Taub", time.Monday)
	other := newDoctor("Dr. Kutner", time.Monday)
	p := newPatient("Cameron")
	appt := mustSchedule(t, s, doc, p, monday(), "09:00")

	_, err := s.Cancel(appt.ID)
	require.NoError(t, err)

	assert.NotContains(t, s.AvailableTimes(doc, monday()), SlotTime("09:00"))
	_, err = s.Schedule(doc, newPatient("next"), monday(), "09:00", "")
	assert.ErrorIs(t, err, ErrSlotUnavailable)

	// the patient's calendar is free again
	_, err = s.Schedule(other, p, monday(), "09:00", "")
	assert.NoError(t, err)
}

func TestScheduler_CancelReleasesSlotWhenConfigured(t *testing.T) {
	s := newTestScheduler(func(c *SchedulerConfig) { c.ReleaseOnCancel = true })
	doc := newDoctor("Dr. Taub", time.Monday)
	appt := mustSchedule(t, s, doc, newPatient("Cameron"), monday(), "09:00")
	s.Journal().Drain()

	_, err := s.Cancel(appt.ID)
	require.NoError(t, err)

	changes := s.Journal().Drain()
	require.Len(t, changes, 1)
	require.NotNil(t, changes[0].Released)
	assert.Equal(t, SlotTime("09:00"), changes[0].Released.Time)

	assert.Contains(t, s.AvailableTimes(doc, monday()), SlotTime("09:00"))
	_, err = s.Schedule(doc, newPatient("next"), monday(), "09:00", "")
	assert.NoError(t, err)
}

func TestScheduler_Reschedule(t *testing.T) {
	s := newTestScheduler()
	doc := newDoctor("Dr. Yang", time.Monday, time.Tuesday)
	p := newPatient("Burke")
	appt := mustSchedule(t, s, doc, p, monday(), "09:00")
	s.Journal().Drain()

	tuesday := monday().AddDate(0, 0, 1)
	moved, err := s.Reschedule(doc, appt.ID, tuesday, "14:00")
	require.NoError(t, err)
	assert.Equal(t, StatusRescheduled, moved.Status)
	assert.Equal(t, SlotTime("14:00").On(tuesday), moved.StartsAt)
	assert.Equal(t, appt.CreatedAt, moved.CreatedAt)

	assert.Contains(t, s.AvailableTimes(doc, monday()), SlotTime("09:00"), "old slot is released")
	assert.NotContains(t, s.AvailableTimes(doc, tuesday), SlotTime("14:00"))

	changes := s.Journal().Drain()
	require.Len(t, changes, 1)
	assert.Equal(t, EventAppointmentRescheduled, changes[0].Event)
	require.NotNil(t, changes[0].Reserved)
	require.NotNil(t, changes[0].Released)
	assert.Equal(t, Reservation{DoctorID: doc.ID, Date: tuesday, Time: "14:00"}, *changes[0].Reserved)
	assert.Equal(t, Reservation{DoctorID: doc.ID, Date: monday(), Time: "09:00"}, *changes[0].Released)

	// the old instant is free for the patient, the new one is not
	_, err = s.Schedule(newDoctor("Dr. Webber", time.Monday), p, monday(), "09:00", "")
	assert.NoError(t, err)
	_, err = s.Schedule(newDoctor("Dr. Webber", time.Tuesday), p, tuesday, "14:00", "")
	assert.ErrorIs(t, err, ErrSchedulingConflict)

	again, err := s.Reschedule(doc, appt.ID, tuesday, "15:00")
	require.NoError(t, err)
	assert.Equal(t, StatusRescheduled, again.Status)

	done, err := s.MarkCheckup(appt.ID)
	require.NoError(t, err)
	assert.True(t, done.HasCheckup)
	completed, err := s.Complete(appt.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, completed.Status)
}

func TestScheduler_RescheduleRefusals(t *testing.T) {
	s := newTestScheduler()
	doc := newDoctor("Dr. Karev", time.Monday)
	other := newDoctor("Dr. Robbins", time.Monday)
	p := newPatient("Sofia")
	appt := mustSchedule(t, s, doc, p, monday(), "09:00")
	mustSchedule(t, s, doc, newPatient("Arizona"), monday(), "10:00")
	mustSchedule(t, s, other, p, monday(), "11:00")
	s.Journal().Drain()

	_, err := s.Reschedule(doc, appt.ID, monday(), "10:00")
	assert.ErrorIs(t, err, ErrSlotUnavailable)

	_, err = s.Reschedule(doc, appt.ID, monday(), "11:00")
	var conflict *ConflictError
	require.ErrorAs(t, err, &conflict)
	assert.Equal(t, ConflictPatient, conflict.Kind)

	_, err = s.Reschedule(doc, appt.ID, monday().AddDate(0, 0, 1), "11:00")
	assert.ErrorIs(t, err, ErrInvalidSlotSelection)

	_, err = s.Reschedule(doc, uuid.New(), monday(), "12:00")
	assert.ErrorIs(t, err, ErrAppointmentNotFound)
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = s.Reschedule(other, appt.ID, monday(), "12:00")
	assert.ErrorIs(t, err, ErrInternal)

	got, err := s.Get(appt.ID)
	require.NoError(t, err)
	assert.Equal(t, appt, got, "refused moves leave the appointment untouched")
	assert.NotContains(t, s.AvailableTimes(doc, monday()), SlotTime("09:00"))
	assert.Contains(t, s.AvailableTimes(doc, monday()), SlotTime("11:00"), "a refused move reserves nothing")
	assert.Zero(t, s.Journal().Len())
}

func TestScheduler_RescheduleToOwnSlotIsUnavailable(t *testing.T) {
	s := newTestScheduler()
	doc := newDoctor("Dr. Shepherd", time.Monday)
	appt := mustSchedule(t, s, doc, newPatient("Addison"), monday(), "09:00")

	_, err := s.Reschedule(doc, appt.ID, monday(), "09:00")
	assert.ErrorIs(t, err, ErrSlotUnavailable)
}

func TestScheduler_UnknownAppointment(t *testing.T) {
	s := newTestScheduler()
	id := uuid.New()

	for name, op := range map[string]func(uuid.UUID) (Appointment, error){
		"get":      s.Get,
		"cancel":   s.Cancel,
		"checkup":  s.MarkCheckup,
		"complete": s.Complete,
	} {
		t.Run(name, func(t *testing.T) {
			_, err := op(id)
			assert.ErrorIs(t, err, ErrAppointmentNotFound)
		})
	}
}

func TestScheduler_JournalOrder(t *testing.T) {
	s := newTestScheduler()
	doc := newDoctor("Dr. Lewis", time.Monday)
	appt := mustSchedule(t, s, doc, newPatient("Mark"), monday(), "09:00")
	_, err := s.MarkCheckup(appt.ID)
	require.NoError(t, err)
	_, err = s.Complete(appt.ID)
	require.NoError(t, err)

	changes := s.Journal().Drain()
	require.Len(t, changes, 3)
	assert.Equal(t, []string{EventAppointmentScheduled, EventCheckupRecorded, EventAppointmentCompleted},
		[]string{changes[0].Event, changes[1].Event, changes[2].Event})
	for i, c := range changes {
		assert.Equal(t, uint64(i+1), c.Seq)
		assert.Equal(t, appt.ID, c.Appointment.ID)
	}
	require.NotNil(t, changes[0].Reserved)
	assert.Nil(t, changes[1].Reserved)
	assert.Equal(t, StatusCompleted, changes[2].Appointment.Status)

	select {
	case <-s.Journal().Ready():
	default:
		t.Fatal("journal did not signal readiness")
	}
}

func TestScheduler_ListAndStats(t *testing.T) {
	s := newTestScheduler()
	a := newDoctor("A", time.Monday)
	b := newDoctor("B", time.Monday)
	p1, p2 := newPatient("p1"), newPatient("p2")

	first := mustSchedule(t, s, a, p1, monday(), "11:00")
	second := mustSchedule(t, s, b, p2, monday(), "09:00")
	third := mustSchedule(t, s, b, p1, monday(), "10:00")
	_, err := s.Cancel(second.ID)
	require.NoError(t, err)
	_, err = s.Reschedule(a, first.ID, monday(), "12:00")
	require.NoError(t, err)

	all := s.List(ListFilter{})
	require.Len(t, all, 3)
	assert.Equal(t, []uuid.UUID{second.ID, third.ID, first.ID}, []uuid.UUID{all[0].ID, all[1].ID, all[2].ID}, "ordered by start time")

	assert.Len(t, s.List(ListFilter{PatientID: p1.ID}), 2)
	assert.Len(t, s.List(ListFilter{DoctorID: b.ID}), 2)
	assert.Len(t, s.List(ListFilter{DoctorID: b.ID, Status: StatusCancelled}), 1)
	assert.Empty(t, s.List(ListFilter{Status: StatusCompleted}))

	assert.Equal(t, Stats{Total: 3, Scheduled: 1, Cancelled: 1, Rescheduled: 1}, s.Stats())
}

func TestScheduler_ReturnsCopies(t *testing.T) {
	s := newTestScheduler()
	doc := newDoctor("Dr. Greene", time.Monday)
	appt := mustSchedule(t, s, doc, newPatient("Carter"), monday(), "09:00")

	appt.Status = StatusCompleted
	got, err := s.Get(appt.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusScheduled, got.Status)
}

func TestScheduler_Restore(t *testing.T) {
	doc := newDoctor("Dr. Ross", time.Monday)
	p := newPatient("Hathaway")
	at := SlotTime("10:00").On(monday())
	active := Appointment{ID: uuid.New(), DoctorID: doc.ID, PatientID: p.ID, StartsAt: at, Status: StatusScheduled}
	cancelled := Appointment{ID: uuid.New(), DoctorID: doc.ID, PatientID: p.ID, StartsAt: SlotTime("09:00").On(monday()), Status: StatusCancelled}

	s := newTestScheduler()
	require.NoError(t, s.Restore(Snapshot{
		Appointments: []Appointment{active, cancelled},
		Reservations: []Reservation{
			{DoctorID: doc.ID, Date: monday(), Time: "09:00"},
			{DoctorID: doc.ID, Date: monday(), Time: "10:00"},
		},
	}))
	assert.Zero(t, s.Journal().Len(), "restore journals nothing")

	free := s.AvailableTimes(doc, monday())
	assert.NotContains(t, free, SlotTime("09:00"), "cancelled slots stay reserved if the ledger says so")
	assert.NotContains(t, free, SlotTime("10:00"))

	_, err := s.Schedule(newDoctor("Dr. Carter", time.Monday), p, monday(), "10:00", "")
	assert.ErrorIs(t, err, ErrSchedulingConflict)
	_, err = s.Schedule(newDoctor("Dr. Carter", time.Monday), p, monday(), "09:00", "")
	assert.NoError(t, err, "cancelled appointments do not block the patient")

	got, err := s.Get(cancelled.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusCancelled, got.Status)

	assert.ErrorIs(t, s.Restore(Snapshot{}), ErrInternal, "restore needs an empty scheduler")
}

func TestScheduler_RestoreReservesMissingLedgerRows(t *testing.T) {
	doc := newDoctor("Dr. Ross", time.Monday)
	appt := Appointment{ID: uuid.New(), DoctorID: doc.ID, PatientID: uuid.New(), StartsAt: SlotTime("15:00").On(monday()), Status: StatusRescheduled}

	s := newTestScheduler()
	require.NoError(t, s.Restore(Snapshot{Appointments: []Appointment{appt}}))
	assert.NotContains(t, s.AvailableTimes(doc, monday()), SlotTime("15:00"))
}

func TestScheduler_RestoreRejectsConflicts(t *testing.T) {
	doctorID := uuid.New()
	at := SlotTime("10:00").On(monday())
	a := Appointment{ID: uuid.New(), DoctorID: doctorID, PatientID: uuid.New(), StartsAt: at, Status: StatusScheduled}
	b := Appointment{ID: uuid.New(), DoctorID: doctorID, PatientID: uuid.New(), StartsAt: at, Status: StatusScheduled}

	s := newTestScheduler()
	err := s.Restore(Snapshot{Appointments: []Appointment{a, b}})
	require.Error(t, err)
	var conflict *ConflictError
	require.True(t, errors.As(err, &conflict))
	assert.Equal(t, ConflictDoctor, conflict.Kind)

	err = newTestScheduler().Restore(Snapshot{Reservations: []Reservation{{DoctorID: doctorID, Date: monday(), Time: "07:00"}}})
	assert.Error(t, err)
}

func TestScheduler_SequenceIDs(t *testing.T) {
	s := newTestScheduler()
	doc := newDoctor("Dr. Kovac", time.Monday)
	first := mustSchedule(t, s, doc, newPatient("a"), monday(), "09:00")
	second := mustSchedule(t, s, doc, newPatient("b"), monday(), "10:00")

	assert.Equal(t, "00000000-0000-0000-0000-000000000001", first.ID.String())
	assert.Equal(t, "00000000-0000-0000-0000-000000000002", second.ID.String())
}

package appointment

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hackgods/clinic-appointment-scheduling/internal/metrics"
)

func testSchedulerConfig() SchedulerConfig {
	return SchedulerConfig{
		Clock: func() time.Time { return mondayMorning },
		IDs:   &sequenceGenerator{},
	}
}

type fixture struct {
	store   *MemoryStore
	svc     *Service
	doctor  Doctor
	patient Patient
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	store := NewMemoryStore()
	doctor := newDoctor("Dr. Quinn", time.Monday, time.Tuesday)
	patient := newPatient("Sully")
	store.AddDoctor(doctor)
	store.AddPatient(patient)

	m := metrics.NewSchedulingMetrics(prometheus.NewRegistry())
	svc := NewService(store, testSchedulerConfig(), zerolog.Nop(), m)
	return fixture{store: store, svc: svc, doctor: doctor, patient: patient}
}

func TestService_ScheduleAndPersist(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	appt, err := f.svc.ScheduleAppointment(ctx, ScheduleRequest{
		PatientID: f.patient.ID,
		DoctorID:  f.doctor.ID,
		Date:      monday(),
		Time:      "09:00",
		Reason:    "fever",
	})
	require.NoError(t, err)
	assert.Equal(t, "fever", appt.Reason)

	require.NoError(t, f.svc.Flush(ctx))

	snap, err := f.store.LoadAll(ctx)
	require.NoError(t, err)
	require.Len(t, snap.Appointments, 1)
	assert.Equal(t, appt, snap.Appointments[0])
	assert.Equal(t, []Reservation{{DoctorID: f.doctor.ID, Date: monday(), Time: "09:00"}}, snap.Reservations)

	events := f.store.Events()
	require.Len(t, events, 1)
	assert.Equal(t, EventAppointmentScheduled, events[0].EventType)
	assert.Equal(t, appt.ID, *events[0].AppointmentID)
}

func TestService_UnknownIDs(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.ScheduleAppointment(ctx, ScheduleRequest{PatientID: f.patient.ID, DoctorID: uuid.New(), Date: monday(), Time: "09:00"})
	assert.ErrorIs(t, err, ErrDoctorNotFound)

	_, err = f.svc.ScheduleAppointment(ctx, ScheduleRequest{PatientID: uuid.New(), DoctorID: f.doctor.ID, Date: monday(), Time: "09:00"})
	assert.ErrorIs(t, err, ErrPatientNotFound)

	_, err = f.svc.ListAvailableDates(ctx, uuid.New())
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = f.svc.ListAvailableTimes(ctx, uuid.New(), monday())
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = f.svc.RescheduleAppointment(ctx, uuid.New(), monday(), "10:00")
	assert.ErrorIs(t, err, ErrAppointmentNotFound)

	_, err = f.svc.CancelAppointment(ctx, uuid.New())
	assert.ErrorIs(t, err, ErrAppointmentNotFound)
}

func TestService_Availability(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	dates, err := f.svc.ListAvailableDates(ctx, f.doctor.ID)
	require.NoError(t, err)
	require.Len(t, dates, 2)
	assert.Equal(t, time.Monday, dates[0].Weekday)
	assert.Equal(t, time.Tuesday, dates[1].Weekday)

	times, err := f.svc.ListAvailableTimes(ctx, f.doctor.ID, monday())
	require.NoError(t, err)
	assert.Equal(t, DailySlots[:], times)

	date, err := f.svc.ParseDate("2026-10-13")
	require.NoError(t, err)
	assert.Equal(t, dates[1].Date, date)

	doctors, err := f.svc.ListDoctors(ctx, DoctorFilter{})
	require.NoError(t, err)
	assert.Equal(t, []Doctor{f.doctor}, doctors)
}

func TestService_ListDoctorsFiltered(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	ortho := newDoctor("Dr. Bray", time.Thursday)
	ortho.Specialization = "Orthopedics"
	f.store.AddDoctor(ortho)

	tests := []struct {
		name   string
		filter DoctorFilter
		want   []Doctor
	}{
		{"tuesday", DoctorFilter{WorksOn: NewWeekdaySet(time.Tuesday)}, []Doctor{f.doctor}},
		{"thursday or tuesday", DoctorFilter{WorksOn: NewWeekdaySet(time.Tuesday, time.Thursday)}, []Doctor{ortho, f.doctor}},
		{"sunday", DoctorFilter{WorksOn: NewWeekdaySet(time.Sunday)}, []Doctor{}},
		{"specialization", DoctorFilter{Specialization: " orthopedics "}, []Doctor{ortho}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := f.svc.ListDoctors(ctx, tt.filter)
			require.NoError(t, err)
			assert.ElementsMatch(t, tt.want, got)
		})
	}
}

func TestService_FullLifecycle(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	appt, err := f.svc.ScheduleAppointment(ctx, ScheduleRequest{PatientID: f.patient.ID, DoctorID: f.doctor.ID, Date: monday(), Time: "09:00"})
	require.NoError(t, err)

	moved, err := f.svc.RescheduleAppointment(ctx, appt.ID, monday().AddDate(0, 0, 1), "16:00")
	require.NoError(t, err)
	assert.Equal(t, StatusRescheduled, moved.Status)

	_, err = f.svc.CompleteAppointment(ctx, appt.ID)
	assert.ErrorIs(t, err, ErrCheckupRequired)

	_, err = f.svc.MarkCheckupDone(ctx, appt.ID)
	require.NoError(t, err)
	done, err := f.svc.CompleteAppointment(ctx, appt.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, done.Status)

	require.NoError(t, f.svc.Flush(ctx))

	var types []string
	for _, ev := range f.store.Events() {
		types = append(types, ev.EventType)
	}
	assert.Equal(t, []string{
		EventAppointmentScheduled,
		EventAppointmentRescheduled,
		EventCheckupRecorded,
		EventAppointmentCompleted,
	}, types)

	snap, err := f.store.LoadAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, []Reservation{{DoctorID: f.doctor.ID, Date: monday().AddDate(0, 0, 1), Time: "16:00"}}, snap.Reservations,
		"the ledger delta of the reschedule reaches storage")

	got, err := f.svc.GetAppointment(ctx, appt.ID)
	require.NoError(t, err)
	assert.Equal(t, done, got)
	assert.Equal(t, Stats{Total: 1, Completed: 1}, f.svc.Stats(ctx))
	assert.Len(t, f.svc.ListAppointments(ctx, ListFilter{PatientID: f.patient.ID}), 1)
}

func TestService_HydrateRoundTrip(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	other := newPatient("Cloud Dancing")
	f.store.AddPatient(other)

	kept, err := f.svc.ScheduleAppointment(ctx, ScheduleRequest{PatientID: f.patient.ID, DoctorID: f.doctor.ID, Date: monday(), Time: "09:00"})
	require.NoError(t, err)
	dropped, err := f.svc.ScheduleAppointment(ctx, ScheduleRequest{PatientID: other.ID, DoctorID: f.doctor.ID, Date: monday(), Time: "10:00"})
	require.NoError(t, err)
	_, err = f.svc.CancelAppointment(ctx, dropped.ID)
	require.NoError(t, err)
	require.NoError(t, f.svc.Flush(ctx))

	restarted := NewService(f.store, testSchedulerConfig(), zerolog.Nop(), nil)
	require.NoError(t, restarted.Hydrate(ctx))

	got, err := restarted.GetAppointment(ctx, kept.ID)
	require.NoError(t, err)
	assert.Equal(t, kept, got)

	times, err := restarted.ListAvailableTimes(ctx, f.doctor.ID, monday())
	require.NoError(t, err)
	assert.NotContains(t, times, SlotTime("09:00"))
	assert.NotContains(t, times, SlotTime("10:00"), "cancelling kept the slot")

	_, err = restarted.ScheduleAppointment(ctx, ScheduleRequest{PatientID: f.patient.ID, DoctorID: f.doctor.ID, Date: monday(), Time: "09:00"})
	assert.ErrorIs(t, err, ErrSlotUnavailable)
	assert.Equal(t, Stats{Total: 2, Scheduled: 1, Cancelled: 1}, restarted.Stats(ctx))
}

type failingLoadStore struct {
	*MemoryStore
}

func (failingLoadStore) LoadAll(context.Context) (Snapshot, error) {
	return Snapshot{}, errors.New("connection refused")
}

func TestService_HydrateError(t *testing.T) {
	svc := NewService(failingLoadStore{NewMemoryStore()}, testSchedulerConfig(), zerolog.Nop(), nil)
	assert.ErrorContains(t, svc.Hydrate(context.Background()), "connection refused")
}

// flakyStore fails the first n saves and records what it was given.
type flakyStore struct {
	*MemoryStore
	mu       sync.Mutex
	failures int
	saved    []uint64
}

func (s *flakyStore) SaveChange(ctx context.Context, c Change) error {
	s.mu.Lock()
	if s.failures > 0 {
		s.failures--
		s.mu.Unlock()
		return errors.New("deadlock detected")
	}
	s.saved = append(s.saved, c.Seq)
	s.mu.Unlock()
	return s.MemoryStore.SaveChange(ctx, c)
}

func (s *flakyStore) savedSeqs() []uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]uint64(nil), s.saved...)
}

func TestPersister_RetriesInOrder(t *testing.T) {
	s := newTestScheduler()
	doc := newDoctor("Dr. Carter", time.Monday)
	for _, slot := range []SlotTime{"09:00", "10:00", "11:00"} {
		mustSchedule(t, s, doc, newPatient("p"), monday(), slot)
	}

	store := &flakyStore{MemoryStore: NewMemoryStore(), failures: 2}
	p := NewPersister(s.Journal(), store, zerolog.Nop(), nil)

	require.NoError(t, p.Flush(context.Background()))
	assert.Equal(t, []uint64{1, 2, 3}, store.savedSeqs())
	assert.Zero(t, s.Journal().Len())
}

func TestPersister_FlushRequeuesOnCancel(t *testing.T) {
	s := newTestScheduler()
	doc := newDoctor("Dr. Carter", time.Monday)
	mustSchedule(t, s, doc, newPatient("a"), monday(), "09:00")
	mustSchedule(t, s, doc, newPatient("b"), monday(), "10:00")

	store := &flakyStore{MemoryStore: NewMemoryStore(), failures: 1000}
	p := NewPersister(s.Journal(), store, zerolog.Nop(), nil)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	err := p.Flush(ctx)
	require.ErrorIs(t, err, context.DeadlineExceeded)

	pending := s.Journal().Drain()
	require.Len(t, pending, 2, "unsaved changes go back on the journal")
	assert.Equal(t, uint64(1), pending[0].Seq)
	assert.Equal(t, uint64(2), pending[1].Seq)
}

func TestPersister_RunDrainsOnShutdown(t *testing.T) {
	f := newFixture(t)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- f.svc.RunPersister(ctx, time.Second) }()

	appt, err := f.svc.ScheduleAppointment(context.Background(), ScheduleRequest{PatientID: f.patient.ID, DoctorID: f.doctor.ID, Date: monday(), Time: "12:00"})
	require.NoError(t, err)

	require.Eventually(t, func() bool { return len(f.store.Events()) == 1 }, 2*time.Second, 5*time.Millisecond)

	_, err = f.svc.CancelAppointment(context.Background(), appt.ID)
	require.NoError(t, err)
	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("persister did not stop")
	}

	snap, err := f.store.LoadAll(context.Background())
	require.NoError(t, err)
	require.Len(t, snap.Appointments, 1)
	assert.Equal(t, StatusCancelled, snap.Appointments[0].Status)
}

// rejectingStore refuses every change until healed, cancelling the flush that
// is driving it after cancelAfter attempts.
type rejectingStore struct {
	*MemoryStore
	mu          sync.Mutex
	healed      bool
	attempts    int
	cancelAfter int
	cancel      context.CancelFunc
}

func (s *rejectingStore) SaveChange(ctx context.Context, c Change) error {
	s.mu.Lock()
	if !s.healed {
		s.attempts++
		if s.attempts == s.cancelAfter {
			s.cancel()
		}
		s.mu.Unlock()
		return errors.New(`duplicate key value violates unique constraint "appointments_pkey"`)
	}
	s.mu.Unlock()
	return s.MemoryStore.SaveChange(ctx, c)
}

func (s *rejectingStore) heal() {
	s.mu.Lock()
	s.healed = true
	s.mu.Unlock()
}

func TestPersister_ReportsStuckChange(t *testing.T) {
	s := newTestScheduler()
	doc := newDoctor("Dr. Carter", time.Monday)
	mustSchedule(t, s, doc, newPatient("a"), monday(), "09:00")
	mustSchedule(t, s, doc, newPatient("b"), monday(), "10:00")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	store := &rejectingStore{MemoryStore: NewMemoryStore(), cancelAfter: 5, cancel: cancel}

	reg := prometheus.NewRegistry()
	var logs bytes.Buffer
	p := NewPersister(s.Journal(), store, zerolog.New(&logs), metrics.NewSchedulingMetrics(reg))
	p.retryBase = time.Millisecond
	p.retryMax = time.Millisecond
	p.stallAfter = 3

	require.ErrorIs(t, p.Flush(ctx), context.Canceled)

	require.NoError(t, testutil.GatherAndCompare(reg, strings.NewReader(`
# HELP clinic_persistence_pending_changes Committed changes not yet written to storage
# TYPE clinic_persistence_pending_changes gauge
clinic_persistence_pending_changes 2
# HELP clinic_persistence_stalled_attempts Consecutive failed attempts to write the oldest unsaved change
# TYPE clinic_persistence_stalled_attempts gauge
clinic_persistence_stalled_attempts 5
`), "clinic_persistence_pending_changes", "clinic_persistence_stalled_attempts"))

	assert.Equal(t, 1, strings.Count(logs.String(), "change is stuck"))
	assert.Contains(t, logs.String(), `"level":"error"`)
	assert.Contains(t, logs.String(), `"attempt":3`)

	store.heal()
	require.NoError(t, p.Flush(context.Background()))
	require.NoError(t, testutil.GatherAndCompare(reg, strings.NewReader(`
# HELP clinic_persistence_stalled_attempts Consecutive failed attempts to write the oldest unsaved change
# TYPE clinic_persistence_stalled_attempts gauge
clinic_persistence_stalled_attempts 0
`), "clinic_persistence_stalled_attempts"))
	assert.Len(t, store.Events(), 2)
}

package appointment

import (
	"context"
	"sort"
	"sync"

	"github.com/google/uuid"
)

type reservationKey struct {
	doctorID uuid.UUID
	date     string
	time     SlotTime
}

// MemoryStore keeps the directory and durable state in process. It backs
// STORAGE=memory and the service tests.
type MemoryStore struct {
	mu           sync.RWMutex
	doctors      map[uuid.UUID]Doctor
	patients     map[uuid.UUID]Patient
	appointments map[uuid.UUID]Appointment
	reservations map[reservationKey]Reservation
	events       []EventLog
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		doctors:      make(map[uuid.UUID]Doctor),
		patients:     make(map[uuid.UUID]Patient),
		appointments: make(map[uuid.UUID]Appointment),
		reservations: make(map[reservationKey]Reservation),
	}
}

func (m *MemoryStore) AddDoctor(d Doctor) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.doctors[d.ID] = d
}

func (m *MemoryStore) AddPatient(p Patient) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.patients[p.ID] = p
}

func (m *MemoryStore) FindDoctor(_ context.Context, id uuid.UUID) (*Doctor, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	d, ok := m.doctors[id]
	if !ok {
		return nil, ErrDoctorNotFound
	}
	return &d, nil
}

func (m *MemoryStore) FindPatient(_ context.Context, id uuid.UUID) (*Patient, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.patients[id]
	if !ok {
		return nil, ErrPatientNotFound
	}
	return &p, nil
}

func (m *MemoryStore) ListDoctors(_ context.Context) ([]Doctor, error) {
	m.mu.RLock()
	out := make([]Doctor, 0, len(m.doctors))
	for _, d := range m.doctors {
		out = append(out, d)
	}
	m.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool {
		if out[i].Name != out[j].Name {
			return out[i].Name < out[j].Name
		}
		return out[i].ID.String() < out[j].ID.String()
	})
	return out, nil
}

func (m *MemoryStore) SaveChange(_ context.Context, c Change) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.appointments[c.Appointment.ID] = c.Appointment
	if r := c.Released; r != nil {
		delete(m.reservations, reservationKey{r.DoctorID, dateKey(r.Date), r.Time})
	}
	if r := c.Reserved; r != nil {
		m.reservations[reservationKey{r.DoctorID, dateKey(r.Date), r.Time}] = *r
	}
	id := c.Appointment.ID
	m.events = append(m.events, EventLog{
		ID:            int64(len(m.events) + 1),
		EventType:     c.Event,
		AppointmentID: &id,
		CreatedAt:     c.Appointment.UpdatedAt,
	})
	return nil
}

func (m *MemoryStore) LoadAll(_ context.Context) (Snapshot, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var snap Snapshot
	for _, a := range m.appointments {
		snap.Appointments = append(snap.Appointments, a)
	}
	for _, r := range m.reservations {
		snap.Reservations = append(snap.Reservations, r)
	}
	sort.Slice(snap.Appointments, func(i, j int) bool {
		return snap.Appointments[i].StartsAt.Before(snap.Appointments[j].StartsAt)
	})
	return snap, nil
}

// Events returns the event log in insertion order.
func (m *MemoryStore) Events() []EventLog {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]EventLog(nil), m.events...)
}

// CreateDoctor is AddDoctor with the signature the seeder expects.
func (m *MemoryStore) CreateDoctor(_ context.Context, d Doctor) error {
	m.AddDoctor(d)
	return nil
}

func (m *MemoryStore) CreatePatient(_ context.Context, p Patient) error {
	m.AddPatient(p)
	return nil
}

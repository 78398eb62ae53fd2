package seed

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hackgods/clinic-appointment-scheduling/internal/appointment"
)

func TestGenerator_Deterministic(t *testing.T) {
	a := NewGenerator(42).Doctors(5)
	b := NewGenerator(42).Doctors(5)
	assert.Equal(t, a, b)
}

func TestGenerator_Doctor(t *testing.T) {
	g := NewGenerator(7)
	seen := make(map[uuid.UUID]bool)
	for _, d := range g.Doctors(50) {
		assert.False(t, seen[d.ID], "duplicate id %s", d.ID)
		seen[d.ID] = true

		assert.NotEmpty(t, d.Name)
		assert.Contains(t, specializations, d.Specialization)
		days := d.AvailableDays.Days()
		assert.GreaterOrEqual(t, len(days), 2)
		assert.LessOrEqual(t, len(days), 5)
		assert.NotContains(t, days, time.Sunday)
	}
}

func TestGenerator_Patient(t *testing.T) {
	for _, p := range NewGenerator(7).Patients(50) {
		assert.NotEqual(t, uuid.Nil, p.ID)
		assert.NotEmpty(t, p.Name)
		if p.Email != nil {
			assert.Contains(t, *p.Email, "@")
		}
	}
}

func TestDirectory(t *testing.T) {
	store := appointment.NewMemoryStore()
	ctx := context.Background()

	require.NoError(t, Directory(ctx, store, NewGenerator(1), 4, 20, zerolog.Nop()))

	doctors, err := store.ListDoctors(ctx)
	require.NoError(t, err)
	assert.Len(t, doctors, 4)

	p := NewGenerator(1)
	p.Doctors(4)
	want := p.Patient()
	got, err := store.FindPatient(ctx, want.ID)
	require.NoError(t, err)
	assert.Equal(t, want.Name, got.Name)
}

type failingSink struct{}

func (failingSink) CreateDoctor(context.Context, appointment.Doctor) error {
	return errors.New("duplicate key value violates unique constraint")
}

func (failingSink) CreatePatient(context.Context, appointment.Patient) error { return nil }

func TestDirectory_StopsOnError(t *testing.T) {
	err := Directory(context.Background(), failingSink{}, NewGenerator(1), 1, 1, zerolog.Nop())
	assert.ErrorContains(t, err, "seed doctor")
}

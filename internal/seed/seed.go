// Package seed fills a clinic directory with fake doctors and patients for
// local runs and load tests.
package seed

import (
	"context"
	"fmt"
	"time"

	"github.com/brianvoe/gofakeit/v7"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/hackgods/clinic-appointment-scheduling/internal/appointment"
)

var specializations = []string{
	"Dermatology",
	"Cardiology",
	"General Practice",
	"Orthopedics",
	"Endocrinology",
	"Neurology",
	"Pediatrics",
	"Psychiatry",
	"Ophthalmology",
	"ENT",
}

var workdays = []time.Weekday{
	time.Monday, time.Tuesday, time.Wednesday, time.Thursday, time.Friday, time.Saturday,
}

// Sink receives generated records. *appointment.PgRepository and
// *appointment.MemoryStore both implement it.
type Sink interface {
	CreateDoctor(ctx context.Context, d appointment.Doctor) error
	CreatePatient(ctx context.Context, p appointment.Patient) error
}

// Generator produces fake directory records. The same seed always yields the
// same records; seed 0 picks a random one.
type Generator struct {
	faker *gofakeit.Faker
}

func NewGenerator(seed uint64) *Generator {
	return &Generator{faker: gofakeit.New(seed)}
}

func (g *Generator) id() uuid.UUID {
	return uuid.MustParse(g.faker.UUID())
}

// Doctor returns a doctor who works between two and five days a week.
func (g *Generator) Doctor() appointment.Doctor {
	var days appointment.WeekdaySet
	want := g.faker.Number(2, 5)
	for len(days.Days()) < want {
		days = days.With(workdays[g.faker.Number(0, len(workdays)-1)])
	}
	return appointment.Doctor{
		ID:             g.id(),
		Name:           "Dr. " + g.faker.LastName(),
		Specialization: g.faker.RandomString(specializations),
		AvailableDays:  days,
	}
}

// Patient returns a patient; roughly one in five has no email on file.
func (g *Generator) Patient() appointment.Patient {
	p := appointment.Patient{
		ID:   g.id(),
		Name: g.faker.Name(),
	}
	if g.faker.Number(1, 5) > 1 {
		email := g.faker.Email()
		p.Email = &email
	}
	return p
}

func (g *Generator) Doctors(n int) []appointment.Doctor {
	out := make([]appointment.Doctor, 0, n)
	for range n {
		out = append(out, g.Doctor())
	}
	return out
}

func (g *Generator) Patients(n int) []appointment.Patient {
	out := make([]appointment.Patient, 0, n)
	for range n {
		out = append(out, g.Patient())
	}
	return out
}

// Directory generates the given number of doctors and patients and writes
// them to sink.
func Directory(ctx context.Context, sink Sink, g *Generator, doctors, patients int, logger zerolog.Logger) error {
	logger.Info().Int("doctors", doctors).Int("patients", patients).Msg("seeding directory")

	for _, d := range g.Doctors(doctors) {
		if err := sink.CreateDoctor(ctx, d); err != nil {
			return fmt.Errorf("seed doctor %s: %w", d.ID, err)
		}
	}

	const logEvery = 500
	for i, p := range g.Patients(patients) {
		if err := sink.CreatePatient(ctx, p); err != nil {
			return fmt.Errorf("seed patient %s: %w", p.ID, err)
		}
		if n := i + 1; n%logEvery == 0 {
			logger.Debug().Int("seeded", n).Int("total", patients).Msg("patients seeded")
		}
	}

	logger.Info().Msg("seed complete")
	return nil
}

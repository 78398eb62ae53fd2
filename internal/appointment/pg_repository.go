package appointment

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// PgxPool is the slice of *pgxpool.Pool the repository uses. pgxmock's pool
// satisfies it in tests.
type PgxPool interface {
	Begin(ctx context.Context) (pgx.Tx, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type PgRepository struct {
	pool PgxPool
	loc  *time.Location
}

// NewPgRepository returns a repository reading calendar dates in loc.
func NewPgRepository(pool PgxPool, loc *time.Location) *PgRepository {
	if loc == nil {
		loc = time.UTC
	}
	return &PgRepository{pool: pool, loc: loc}
}

// Helpers

func scanDoctor(row pgx.Row) (*Doctor, error) {
	var d Doctor
	var days []int16

	err := row.Scan(
		&d.ID,
		&d.Name,
		&d.Specialization,
		&days,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrDoctorNotFound
		}
		return nil, err
	}

	for _, day := range days {
		d.AvailableDays = d.AvailableDays.With(time.Weekday(day))
	}
	return &d, nil
}

func scanPatient(row pgx.Row) (*Patient, error) {
	var p Patient
	var email *string

	err := row.Scan(
		&p.ID,
		&p.Name,
		&email,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrPatientNotFound
		}
		return nil, err
	}

	p.Email = email
	return &p, nil
}

func scanAppointment(row pgx.Row) (*Appointment, error) {
	var a Appointment
	var reason *string

	err := row.Scan(
		&a.ID,
		&a.PatientID,
		&a.DoctorID,
		&a.StartsAt,
		&a.Status,
		&reason,
		&a.HasCheckup,
		&a.CreatedAt,
		&a.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrAppointmentNotFound
		}
		return nil, err
	}

	if reason != nil {
		a.Reason = *reason
	}
	return &a, nil
}

func weekdayArray(set WeekdaySet) []int16 {
	days := set.Days()
	out := make([]int16, 0, len(days))
	for _, d := range days {
		out = append(out, int16(d))
	}
	return out
}

// Directory

func (r *PgRepository) FindDoctor(ctx context.Context, id uuid.UUID) (*Doctor, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT id, name, specialization, available_days
		FROM doctors
		WHERE id = $1
	`, id)
	return scanDoctor(row)
}

func (r *PgRepository) FindPatient(ctx context.Context, id uuid.UUID) (*Patient, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT id, name, email
		FROM patients
		WHERE id = $1
	`, id)
	return scanPatient(row)
}

func (r *PgRepository) ListDoctors(ctx context.Context) ([]Doctor, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, name, specialization, available_days
		FROM doctors
		ORDER BY name, id
	`)
	if err != nil {
		return nil, fmt.Errorf("list doctors: %w", err)
	}
	defer rows.Close()

	var result []Doctor
	for rows.Next() {
		d, err := scanDoctor(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *d)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func (r *PgRepository) CreateDoctor(ctx context.Context, d Doctor) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO doctors (id, name, specialization, available_days)
		VALUES ($1, $2, $3, $4)
	`, d.ID, d.Name, d.Specialization, weekdayArray(d.AvailableDays))
	if err != nil {
		return fmt.Errorf("insert doctor: %w", err)
	}
	return nil
}

func (r *PgRepository) CreatePatient(ctx context.Context, p Patient) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO patients (id, name, email)
		VALUES ($1, $2, $3)
	`, p.ID, p.Name, p.Email)
	if err != nil {
		return fmt.Errorf("insert patient: %w", err)
	}
	return nil
}

// Store

type changePayload struct {
	Seq       uint64            `json:"seq"`
	DoctorID  string            `json:"doctor_id"`
	PatientID string            `json:"patient_id"`
	StartsAt  time.Time         `json:"starts_at"`
	Status    AppointmentStatus `json:"status"`
	Reserved  *slotPayload      `json:"reserved,omitempty"`
	Released  *slotPayload      `json:"released,omitempty"`
}

type slotPayload struct {
	Date string   `json:"date"`
	Time SlotTime `json:"time"`
}

func toSlotPayload(r *Reservation) *slotPayload {
	if r == nil {
		return nil
	}
	return &slotPayload{Date: dateKey(r.Date), Time: r.Time}
}

// SaveChange upserts the appointment, applies the ledger delta and records the
// event in one transaction.
func (r *PgRepository) SaveChange(ctx context.Context, c Change) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	a := c.Appointment
	_, err = tx.Exec(ctx, `
		INSERT INTO appointments (id, patient_id, doctor_id, starts_at, status, reason, has_checkup, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (id) DO UPDATE
		SET starts_at = EXCLUDED.starts_at,
		    status = EXCLUDED.status,
		    has_checkup = EXCLUDED.has_checkup,
		    updated_at = EXCLUDED.updated_at
	`, a.ID, a.PatientID, a.DoctorID, a.StartsAt, a.Status, a.Reason, a.HasCheckup, a.CreatedAt, a.UpdatedAt)
	if err != nil {
		return fmt.Errorf("upsert appointment %s: %w", a.ID, err)
	}

	if rel := c.Released; rel != nil {
		_, err = tx.Exec(ctx, `
			DELETE FROM doctor_booked_slots
			WHERE doctor_id = $1 AND slot_date = $2 AND slot_time = $3
		`, rel.DoctorID, dateKey(rel.Date), string(rel.Time))
		if err != nil {
			return fmt.Errorf("release slot: %w", err)
		}
	}

	if res := c.Reserved; res != nil {
		_, err = tx.Exec(ctx, `
			INSERT INTO doctor_booked_slots (doctor_id, slot_date, slot_time)
			VALUES ($1, $2, $3)
			ON CONFLICT DO NOTHING
		`, res.DoctorID, dateKey(res.Date), string(res.Time))
		if err != nil {
			return fmt.Errorf("reserve slot: %w", err)
		}
	}

	payload, err := json.Marshal(changePayload{
		Seq:       c.Seq,
		DoctorID:  a.DoctorID.String(),
		PatientID: a.PatientID.String(),
		StartsAt:  a.StartsAt,
		Status:    a.Status,
		Reserved:  toSlotPayload(c.Reserved),
		Released:  toSlotPayload(c.Released),
	})
	if err != nil {
		return fmt.Errorf("marshal event payload: %w", err)
	}
	if err := r.insertEvent(ctx, tx, EventLog{
		EventType:     c.Event,
		AppointmentID: &a.ID,
		Payload:       payload,
		CreatedAt:     a.UpdatedAt,
	}); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit change %d: %w", c.Seq, err)
	}
	return nil
}

func (r *PgRepository) insertEvent(ctx context.Context, tx pgx.Tx, ev EventLog) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO event_logs (event_type, appointment_id, payload, created_at)
		VALUES ($1, $2, $3, COALESCE($4, now()))
	`, ev.EventType, ev.AppointmentID, ev.Payload, nullableTime(ev.CreatedAt))
	if err != nil {
		return fmt.Errorf("insert event log: %w", err)
	}
	return nil
}

// LoadAll reads every appointment and every ledger row.
func (r *PgRepository) LoadAll(ctx context.Context) (Snapshot, error) {
	var snap Snapshot

	rows, err := r.pool.Query(ctx, `
		SELECT id, patient_id, doctor_id, starts_at, status, reason, has_checkup, created_at, updated_at
		FROM appointments
		ORDER BY starts_at, id
	`)
	if err != nil {
		return snap, fmt.Errorf("load appointments: %w", err)
	}
	for rows.Next() {
		a, err := scanAppointment(rows)
		if err != nil {
			rows.Close()
			return snap, err
		}
		snap.Appointments = append(snap.Appointments, *a)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return snap, err
	}

	rows, err = r.pool.Query(ctx, `
		SELECT doctor_id, slot_date, slot_time
		FROM doctor_booked_slots
		ORDER BY doctor_id, slot_date, slot_time
	`)
	if err != nil {
		return snap, fmt.Errorf("load booked slots: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var res Reservation
		var day time.Time
		var slot string
		if err := rows.Scan(&res.DoctorID, &day, &slot); err != nil {
			return snap, err
		}
		res.Date = time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, r.loc)
		res.Time = SlotTime(slot)
		snap.Reservations = append(snap.Reservations, res)
	}
	if err := rows.Err(); err != nil {
		return snap, err
	}
	return snap, nil
}

func nullableTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}

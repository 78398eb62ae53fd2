package appointment

import (
	"context"
	"fmt"
)

// AuditFinding is one row that breaks a scheduling invariant in storage.
type AuditFinding struct {
	Check   string
	Subject string
	Count   int64
}

type auditCheck struct {
	name  string
	query string
}

// Each query yields (subject, count) rows, one per violation.
var auditChecks = []auditCheck{
	{
		name: "doctor_double_booking",
		query: `
			SELECT doctor_id::text || ' @ ' || starts_at::text, count(*)
			FROM appointments
			WHERE status <> 'CANCELLED'
			GROUP BY doctor_id, starts_at
			HAVING count(*) > 1`,
	},
	{
		name: "patient_double_booking",
		query: `
			SELECT patient_id::text || ' @ ' || starts_at::text, count(*)
			FROM appointments
			WHERE status <> 'CANCELLED'
			GROUP BY patient_id, starts_at
			HAVING count(*) > 1`,
	},
	{
		name: "completed_without_checkup",
		query: `
			SELECT id::text, 1::bigint
			FROM appointments
			WHERE status = 'COMPLETED' AND NOT has_checkup`,
	},
	{
		name: "overbooked_date",
		query: fmt.Sprintf(`
			SELECT doctor_id::text || ' @ ' || slot_date::text, count(*)
			FROM doctor_booked_slots
			GROUP BY doctor_id, slot_date
			HAVING count(*) > %d`, SlotsPerDay),
	},
}

// AuditChecks lists the names of the checks Audit runs.
func AuditChecks() []string {
	names := make([]string, 0, len(auditChecks))
	for _, c := range auditChecks {
		names = append(names, c.name)
	}
	return names
}

// Audit runs every invariant check against storage and returns what it found.
func (r *PgRepository) Audit(ctx context.Context) ([]AuditFinding, error) {
	var findings []AuditFinding
	for _, check := range auditChecks {
		rows, err := r.pool.Query(ctx, check.query)
		if err != nil {
			return nil, fmt.Errorf("audit %s: %w", check.name, err)
		}
		for rows.Next() {
			f := AuditFinding{Check: check.name}
			if err := rows.Scan(&f.Subject, &f.Count); err != nil {
				rows.Close()
				return nil, fmt.Errorf("audit %s: %w", check.name, err)
			}
			findings = append(findings, f)
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return nil, fmt.Errorf("audit %s: %w", check.name, err)
		}
	}
	return findings, nil
}

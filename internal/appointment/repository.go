package appointment

import (
	"context"

	"github.com/google/uuid"
)

// Directory resolves the doctors and patients the scheduler books against.
type Directory interface {
	FindDoctor(ctx context.Context, id uuid.UUID) (*Doctor, error)
	FindPatient(ctx context.Context, id uuid.UUID) (*Patient, error)
	ListDoctors(ctx context.Context) ([]Doctor, error)
}

// Store is the durable side of the scheduler.
type Store interface {
	// SaveChange writes the appointment, its ledger delta and an event log
	// entry atomically.
	SaveChange(ctx context.Context, c Change) error

	// LoadAll returns everything needed to rebuild the in-memory core.
	LoadAll(ctx context.Context) (Snapshot, error)
}

// Repository contains all storage interactions needed by the service.
type Repository interface {
	Directory
	Store
}

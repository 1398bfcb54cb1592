package directory

import (
	"context"

	"github.com/google/uuid"
)

type DepartmentRepository interface {
	Create(ctx context.Context, d *Department) error
	GetByID(ctx context.Context, id uuid.UUID) (*Department, error)
	Update(ctx context.Context, d *Department) error
	SetActive(ctx context.Context, id uuid.UUID, active bool) error
	List(ctx context.Context, activeOnly bool, limit, offset int) ([]*Department, int, error)
}

type AccountRepository interface {
	GetByID(ctx context.Context, id uuid.UUID) (*Account, error)
}

type DoctorRepository interface {
	// Create inserts the actor row and its doctor profile. Callers wrap it
	// in a transaction so the pair lands atomically.
	Create(ctx context.Context, d *Doctor) error
	GetByID(ctx context.Context, id uuid.UUID) (*Doctor, error)
	Update(ctx context.Context, d *Doctor) error
	SetActive(ctx context.Context, id uuid.UUID, active bool) error
	Search(ctx context.Context, params map[string]string, limit, offset int) ([]*Doctor, int, error)
}

type PatientRepository interface {
	Create(ctx context.Context, p *Patient) error
	GetByID(ctx context.Context, id uuid.UUID) (*Patient, error)
	Update(ctx context.Context, p *Patient) error
	SetActive(ctx context.Context, id uuid.UUID, active bool) error
	Search(ctx context.Context, params map[string]string, limit, offset int) ([]*Patient, int, error)
	// SearchForDoctor restricts the result to patients with at least one
	// appointment with the given doctor.
	SearchForDoctor(ctx context.Context, doctorID uuid.UUID, params map[string]string, limit, offset int) ([]*Patient, int, error)
	// SeenByDoctor reports whether the patient has any appointment with
	// the doctor, cancelled or not.
	SeenByDoctor(ctx context.Context, patientID, doctorID uuid.UUID) (bool, error)
}

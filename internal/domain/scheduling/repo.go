package scheduling

import (
	"context"

	"github.com/google/uuid"
)

type SlotRepository interface {
	Create(ctx context.Context, sl *Slot) error
	GetByID(ctx context.Context, id uuid.UUID) (*Slot, error)
	Delete(ctx context.Context, id uuid.UUID) error
	ListByDoctorDate(ctx context.Context, doctorID uuid.UUID, date Date) ([]*Slot, error)
	// FindOpenAt returns the open slot whose window covers the clock time
	// (start <= t < end), or pgx.ErrNoRows.
	FindOpenAt(ctx context.Context, doctorID uuid.UUID, date Date, clock string) (*Slot, error)
	ListUpcoming(ctx context.Context, doctorID uuid.UUID, from, to Date) ([]*Slot, error)
}

type AppointmentRepository interface {
	// Create inserts with the caller-set status. A unique violation on the
	// non-cancelled (doctor, date, time) index surfaces as SlotTaken.
	Create(ctx context.Context, a *Appointment) error
	GetByID(ctx context.Context, id uuid.UUID) (*Appointment, error)
	UpdateStatus(ctx context.Context, id uuid.UUID, status string) error
	// UpdateSchedule moves an appointment to a new date/time and status.
	// Conflicting triples surface as SlotTaken, as with Create.
	UpdateSchedule(ctx context.Context, id uuid.UUID, date Date, clock, status string) error
	// ExistsActive reports whether a non-cancelled appointment occupies the
	// (doctor, date, time) triple. excludeID omits one row, for reschedules.
	ExistsActive(ctx context.Context, doctorID uuid.UUID, date Date, clock string, excludeID uuid.UUID) (bool, error)
	ExistsForPair(ctx context.Context, doctorID, patientID uuid.UUID) (bool, error)
	Search(ctx context.Context, params map[string]string, limit, offset int) ([]*Appointment, int, error)
}

type TreatmentRepository interface {
	// Create inserts the treatment row. The appointment_id unique key makes
	// a second insert surface as AlreadyCompleted.
	Create(ctx context.Context, t *Treatment) error
	GetByAppointment(ctx context.Context, appointmentID uuid.UUID) (*Treatment, error)
	ListByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]*Treatment, int, error)
	ListByDoctor(ctx context.Context, doctorID uuid.UUID, limit, offset int) ([]*Treatment, int, error)
}

package reporting

import (
	"context"

	"github.com/google/uuid"

	"github.com/clinicore/clinicore/internal/domain/scheduling"
)

// Repository is the read side of the ledger. Every method is a plain
// aggregate query; results reflect the ledger at query time and carry
// no freshness guarantee under concurrent mutation.
type Repository interface {
	Overview(ctx context.Context, today scheduling.Date, recentLimit int) (*Overview, error)
	AppointmentsPerDay(ctx context.Context, from, to scheduling.Date) ([]*DayCount, error)
	DoctorWorkload(ctx context.Context, doctorID uuid.UUID, today scheduling.Date) (*DoctorWorkload, error)
	PatientSummary(ctx context.Context, patientID uuid.UUID, today scheduling.Date) (*PatientSummary, error)
	DepartmentLoad(ctx context.Context) ([]*DepartmentLoad, error)
}

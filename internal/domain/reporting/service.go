package reporting

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/clinicore/clinicore/internal/domain/scheduling"
	"github.com/clinicore/clinicore/internal/platform/auth"
	"github.com/clinicore/clinicore/pkg/apperror"
)

// recentLimit caps the overview's activity feed.
const recentLimit = 10

// Service applies role scoping over the read-side aggregates. The
// numbers are eventually consistent with respect to concurrent ledger
// mutation; no report holds locks.
type Service struct {
	repo Repository
	now  func() time.Time
}

func NewService(repo Repository) *Service {
	return &Service{repo: repo, now: time.Now}
}

func (s *Service) today() scheduling.Date {
	return scheduling.DateOf(s.now())
}

func repoErr(err error, resource string) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return apperror.NotFound(resource)
	}
	var ae *apperror.Error
	if errors.As(err, &ae) {
		return ae
	}
	return apperror.Storage(err)
}

// Overview is the admin dashboard.
func (s *Service) Overview(ctx context.Context, actor auth.Actor) (*Overview, error) {
	if actor.Role != auth.RoleAdmin {
		return nil, apperror.RoleDenied("the overview report is admin-only")
	}
	ov, err := s.repo.Overview(ctx, s.today(), recentLimit)
	if err != nil {
		return nil, repoErr(err, "report")
	}
	ov.GeneratedAt = s.now()
	return ov, nil
}

// AppointmentsPerDay buckets ledger volume by calendar day over the
// inclusive range.
func (s *Service) AppointmentsPerDay(ctx context.Context, actor auth.Actor, from, to scheduling.Date) ([]*DayCount, error) {
	if actor.Role != auth.RoleAdmin {
		return nil, apperror.RoleDenied("the per-day report is admin-only")
	}
	if to.Time.Before(from.Time) {
		return nil, apperror.InvalidRange("to must not precede from")
	}
	days, err := s.repo.AppointmentsPerDay(ctx, from, to)
	if err != nil {
		return nil, repoErr(err, "report")
	}
	return days, nil
}

// DoctorWorkload reports one doctor's ledger: the doctor themself or an
// admin.
func (s *Service) DoctorWorkload(ctx context.Context, actor auth.Actor, doctorID uuid.UUID) (*DoctorWorkload, error) {
	switch actor.Role {
	case auth.RoleAdmin:
	case auth.RoleDoctor:
		if actor.ID != doctorID {
			return nil, apperror.NotOwner("not your workload report")
		}
	default:
		return nil, apperror.RoleDenied("workload reports are staff-only")
	}

	wl, err := s.repo.DoctorWorkload(ctx, doctorID, s.today())
	if err != nil {
		return nil, repoErr(err, "report")
	}
	return wl, nil
}

// PatientSummary reports one patient's history: the patient themself or
// an admin.
func (s *Service) PatientSummary(ctx context.Context, actor auth.Actor, patientID uuid.UUID) (*PatientSummary, error) {
	switch actor.Role {
	case auth.RoleAdmin:
	case auth.RolePatient:
		if actor.ID != patientID {
			return nil, apperror.NotOwner("not your summary")
		}
	default:
		return nil, apperror.RoleDenied("patient summaries are not available to this role")
	}

	ps, err := s.repo.PatientSummary(ctx, patientID, s.today())
	if err != nil {
		return nil, repoErr(err, "report")
	}
	return ps, nil
}

// DepartmentLoad reports staffing and booking volume per department.
func (s *Service) DepartmentLoad(ctx context.Context, actor auth.Actor) ([]*DepartmentLoad, error) {
	if actor.Role != auth.RoleAdmin {
		return nil, apperror.RoleDenied("the department report is admin-only")
	}
	loads, err := s.repo.DepartmentLoad(ctx)
	if err != nil {
		return nil, repoErr(err, "report")
	}
	return loads, nil
}

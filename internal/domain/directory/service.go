package directory

import (
	"context"
	"errors"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/clinicore/clinicore/internal/platform/auth"
	"github.com/clinicore/clinicore/internal/platform/db"
	"github.com/clinicore/clinicore/pkg/apperror"
)

// Service owns the directory rules: department lifecycle, doctor and
// patient registration, and the role-scoped lookups the scheduling
// guards build on.
type Service struct {
	departments DepartmentRepository
	accounts    AccountRepository
	doctors     DoctorRepository
	patients    PatientRepository
	tx          db.TxRunner
}

func NewService(departments DepartmentRepository, accounts AccountRepository, doctors DoctorRepository, patients PatientRepository, tx db.TxRunner) *Service {
	return &Service{departments: departments, accounts: accounts, doctors: doctors, patients: patients, tx: tx}
}

// repoErr folds repository failures into the API taxonomy: missing rows
// become NotFound, recognized errors pass through, the rest is storage.
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

var validGenders = map[string]bool{
	"male":   true,
	"female": true,
	"other":  true,
}

// -- Departments --

func (s *Service) CreateDepartment(ctx context.Context, d *Department) error {
	d.Name = strings.TrimSpace(d.Name)
	if d.Name == "" {
		return apperror.Validation("department name is required")
	}
	d.Active = true
	if err := s.departments.Create(ctx, d); err != nil {
		return repoErr(err, "department")
	}
	return nil
}

func (s *Service) UpdateDepartment(ctx context.Context, d *Department) error {
	d.Name = strings.TrimSpace(d.Name)
	if d.Name == "" {
		return apperror.Validation("department name is required")
	}
	if _, err := s.departments.GetByID(ctx, d.ID); err != nil {
		return repoErr(err, "department")
	}
	if err := s.departments.Update(ctx, d); err != nil {
		return repoErr(err, "department")
	}
	return nil
}

func (s *Service) SetDepartmentActive(ctx context.Context, id uuid.UUID, active bool) error {
	if _, err := s.departments.GetByID(ctx, id); err != nil {
		return repoErr(err, "department")
	}
	if err := s.departments.SetActive(ctx, id, active); err != nil {
		return repoErr(err, "department")
	}
	return nil
}

func (s *Service) GetDepartment(ctx context.Context, id uuid.UUID) (*Department, error) {
	d, err := s.departments.GetByID(ctx, id)
	if err != nil {
		return nil, repoErr(err, "department")
	}
	return d, nil
}

// ListDepartments returns the roster. Non-admin callers always see the
// active departments only.
func (s *Service) ListDepartments(ctx context.Context, actor auth.Actor, activeOnly bool, limit, offset int) ([]*Department, int, error) {
	if actor.Role != auth.RoleAdmin {
		activeOnly = true
	}
	depts, total, err := s.departments.List(ctx, activeOnly, limit, offset)
	if err != nil {
		return nil, 0, repoErr(err, "department")
	}
	return depts, total, nil
}

// -- Accounts --

func (s *Service) GetAccount(ctx context.Context, id uuid.UUID) (*Account, error) {
	a, err := s.accounts.GetByID(ctx, id)
	if err != nil {
		return nil, repoErr(err, "account")
	}
	return a, nil
}

// -- Doctors --

func (s *Service) CreateDoctor(ctx context.Context, d *Doctor) error {
	if err := validateDoctor(d); err != nil {
		return err
	}
	dept, err := s.departments.GetByID(ctx, d.DepartmentID)
	if err != nil {
		return repoErr(err, "department")
	}
	if !dept.Active {
		return apperror.Validation("department is inactive")
	}

	d.Active = true
	err = s.tx(ctx, func(ctx context.Context) error {
		return s.doctors.Create(ctx, d)
	})
	if err != nil {
		return repoErr(err, "doctor")
	}
	d.DepartmentName = dept.Name
	return nil
}

func (s *Service) UpdateDoctor(ctx context.Context, actor auth.Actor, d *Doctor) error {
	if actor.Role != auth.RoleAdmin && actor.ID != d.ID {
		return apperror.NotOwner("doctors may only update their own profile")
	}
	existing, err := s.doctors.GetByID(ctx, d.ID)
	if err != nil {
		return repoErr(err, "doctor")
	}
	if err := validateDoctor(d); err != nil {
		return err
	}
	if d.DepartmentID != existing.DepartmentID {
		dept, err := s.departments.GetByID(ctx, d.DepartmentID)
		if err != nil {
			return repoErr(err, "department")
		}
		if !dept.Active {
			return apperror.Validation("department is inactive")
		}
	}

	err = s.tx(ctx, func(ctx context.Context) error {
		return s.doctors.Update(ctx, d)
	})
	if err != nil {
		return repoErr(err, "doctor")
	}
	return nil
}

func (s *Service) SetDoctorActive(ctx context.Context, id uuid.UUID, active bool) error {
	if _, err := s.doctors.GetByID(ctx, id); err != nil {
		return repoErr(err, "doctor")
	}
	if err := s.doctors.SetActive(ctx, id, active); err != nil {
		return repoErr(err, "doctor")
	}
	return nil
}

func (s *Service) GetDoctor(ctx context.Context, id uuid.UUID) (*Doctor, error) {
	d, err := s.doctors.GetByID(ctx, id)
	if err != nil {
		return nil, repoErr(err, "doctor")
	}
	return d, nil
}

func (s *Service) SearchDoctors(ctx context.Context, params map[string]string, limit, offset int) ([]*Doctor, int, error) {
	doctors, total, err := s.doctors.Search(ctx, params, limit, offset)
	if err != nil {
		return nil, 0, repoErr(err, "doctor")
	}
	return doctors, total, nil
}

func validateDoctor(d *Doctor) error {
	d.FullName = strings.TrimSpace(d.FullName)
	d.Email = strings.ToLower(strings.TrimSpace(d.Email))
	d.LicenseNumber = strings.TrimSpace(d.LicenseNumber)
	d.Specialization = strings.TrimSpace(d.Specialization)

	switch {
	case d.FullName == "":
		return apperror.Validation("full name is required")
	case d.Email == "" || !strings.Contains(d.Email, "@"):
		return apperror.Validation("a valid email is required")
	case d.DepartmentID == uuid.Nil:
		return apperror.Validation("department_id is required")
	case d.LicenseNumber == "":
		return apperror.Validation("license number is required")
	case d.Specialization == "":
		return apperror.Validation("specialization is required")
	}
	return nil
}

// -- Patients --

func (s *Service) CreatePatient(ctx context.Context, p *Patient) error {
	if err := validatePatient(p); err != nil {
		return err
	}
	p.Active = true
	err := s.tx(ctx, func(ctx context.Context) error {
		return s.patients.Create(ctx, p)
	})
	if err != nil {
		return repoErr(err, "patient")
	}
	return nil
}

func (s *Service) UpdatePatient(ctx context.Context, actor auth.Actor, p *Patient) error {
	if actor.Role == auth.RolePatient && actor.ID != p.ID {
		return apperror.NotOwner("patients may only update their own profile")
	}
	if actor.Role == auth.RoleDoctor {
		return apperror.RoleDenied("doctors may not edit patient profiles")
	}
	if _, err := s.patients.GetByID(ctx, p.ID); err != nil {
		return repoErr(err, "patient")
	}
	if err := validatePatient(p); err != nil {
		return err
	}

	err := s.tx(ctx, func(ctx context.Context) error {
		return s.patients.Update(ctx, p)
	})
	if err != nil {
		return repoErr(err, "patient")
	}
	return nil
}

func (s *Service) SetPatientActive(ctx context.Context, id uuid.UUID, active bool) error {
	if _, err := s.patients.GetByID(ctx, id); err != nil {
		return repoErr(err, "patient")
	}
	if err := s.patients.SetActive(ctx, id, active); err != nil {
		return repoErr(err, "patient")
	}
	return nil
}

// GetPatient applies record-level scoping: a patient reads only their own
// profile, a doctor only patients they have seen at least once.
func (s *Service) GetPatient(ctx context.Context, actor auth.Actor, id uuid.UUID) (*Patient, error) {
	switch actor.Role {
	case auth.RolePatient:
		if actor.ID != id {
			return nil, apperror.NotOwner("not your patient record")
		}
	case auth.RoleDoctor:
		seen, err := s.patients.SeenByDoctor(ctx, id, actor.ID)
		if err != nil {
			return nil, repoErr(err, "patient")
		}
		if !seen {
			return nil, apperror.NotAssignedDoctor("no appointment history with this patient")
		}
	}

	p, err := s.patients.GetByID(ctx, id)
	if err != nil {
		return nil, repoErr(err, "patient")
	}
	return p, nil
}

func (s *Service) SearchPatients(ctx context.Context, actor auth.Actor, params map[string]string, limit, offset int) ([]*Patient, int, error) {
	var (
		patients []*Patient
		total    int
		err      error
	)
	switch actor.Role {
	case auth.RoleAdmin:
		patients, total, err = s.patients.Search(ctx, params, limit, offset)
	case auth.RoleDoctor:
		patients, total, err = s.patients.SearchForDoctor(ctx, actor.ID, params, limit, offset)
	default:
		return nil, 0, apperror.RoleDenied("patient search is staff-only")
	}
	if err != nil {
		return nil, 0, repoErr(err, "patient")
	}
	return patients, total, nil
}

func validatePatient(p *Patient) error {
	p.FullName = strings.TrimSpace(p.FullName)
	p.Email = strings.ToLower(strings.TrimSpace(p.Email))

	switch {
	case p.FullName == "":
		return apperror.Validation("full name is required")
	case p.Email == "" || !strings.Contains(p.Email, "@"):
		return apperror.Validation("a valid email is required")
	}
	if p.Gender != nil {
		g := strings.ToLower(strings.TrimSpace(*p.Gender))
		if !validGenders[g] {
			return apperror.Validation("gender must be one of male, female, other")
		}
		p.Gender = &g
	}
	return nil
}

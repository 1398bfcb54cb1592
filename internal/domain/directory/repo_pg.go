package directory

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/clinicore/clinicore/internal/platform/auth"
	"github.com/clinicore/clinicore/internal/platform/db"
	"github.com/clinicore/clinicore/pkg/apperror"
)

type queryable interface {
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
}

// =========== Department Repository ===========

type departmentRepoPG struct{ pool *pgxpool.Pool }

func NewDepartmentRepoPG(pool *pgxpool.Pool) DepartmentRepository { return &departmentRepoPG{pool: pool} }

func (r *departmentRepoPG) conn(ctx context.Context) queryable {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	return r.pool
}

const deptCols = `id, name, description, active, created_at, updated_at`

func (r *departmentRepoPG) scanDepartment(row pgx.Row) (*Department, error) {
	var d Department
	err := row.Scan(&d.ID, &d.Name, &d.Description, &d.Active, &d.CreatedAt, &d.UpdatedAt)
	return &d, err
}

func (r *departmentRepoPG) Create(ctx context.Context, d *Department) error {
	d.ID = uuid.New()
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO department (id, name, description, active)
		VALUES ($1,$2,$3,$4)`,
		d.ID, d.Name, d.Description, d.Active)
	if db.UniqueViolation(err, "department_name_key") {
		return apperror.Duplicate("department name already in use")
	}
	return err
}

func (r *departmentRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Department, error) {
	return r.scanDepartment(r.conn(ctx).QueryRow(ctx, `SELECT `+deptCols+` FROM department WHERE id = $1`, id))
}

func (r *departmentRepoPG) Update(ctx context.Context, d *Department) error {
	_, err := r.conn(ctx).Exec(ctx, `
		UPDATE department SET name=$2, description=$3, updated_at=NOW()
		WHERE id = $1`,
		d.ID, d.Name, d.Description)
	if db.UniqueViolation(err, "department_name_key") {
		return apperror.Duplicate("department name already in use")
	}
	return err
}

func (r *departmentRepoPG) SetActive(ctx context.Context, id uuid.UUID, active bool) error {
	_, err := r.conn(ctx).Exec(ctx, `UPDATE department SET active=$2, updated_at=NOW() WHERE id = $1`, id, active)
	return err
}

func (r *departmentRepoPG) List(ctx context.Context, activeOnly bool, limit, offset int) ([]*Department, int, error) {
	where := ""
	if activeOnly {
		where = " WHERE active = TRUE"
	}

	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM department`+where).Scan(&total); err != nil {
		return nil, 0, err
	}

	rows, err := r.conn(ctx).Query(ctx, `SELECT `+deptCols+` FROM department`+where+` ORDER BY name LIMIT $1 OFFSET $2`, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var depts []*Department
	for rows.Next() {
		d, err := r.scanDepartment(rows)
		if err != nil {
			return nil, 0, err
		}
		depts = append(depts, d)
	}
	return depts, total, rows.Err()
}

// =========== Account Repository ===========

type accountRepoPG struct{ pool *pgxpool.Pool }

func NewAccountRepoPG(pool *pgxpool.Pool) AccountRepository { return &accountRepoPG{pool: pool} }

func (r *accountRepoPG) conn(ctx context.Context) queryable {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	return r.pool
}

func (r *accountRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Account, error) {
	var a Account
	err := r.conn(ctx).QueryRow(ctx, `
		SELECT id, role, full_name, email, phone, active, created_at, updated_at
		FROM actor WHERE id = $1`, id).
		Scan(&a.ID, &a.Role, &a.FullName, &a.Email, &a.Phone, &a.Active, &a.CreatedAt, &a.UpdatedAt)
	return &a, err
}

// =========== Doctor Repository ===========

type doctorRepoPG struct{ pool *pgxpool.Pool }

func NewDoctorRepoPG(pool *pgxpool.Pool) DoctorRepository { return &doctorRepoPG{pool: pool} }

func (r *doctorRepoPG) conn(ctx context.Context) queryable {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	return r.pool
}

const doctorCols = `a.id, a.full_name, a.email, a.phone, a.active,
	dp.department_id, d.name, dp.license_number, dp.specialization,
	dp.qualification, dp.experience_years, dp.consultation_fee,
	a.created_at, a.updated_at`

const doctorFrom = ` FROM actor a
	JOIN doctor_profile dp ON dp.actor_id = a.id
	JOIN department d ON d.id = dp.department_id`

func (r *doctorRepoPG) scanDoctor(row pgx.Row) (*Doctor, error) {
	var d Doctor
	err := row.Scan(&d.ID, &d.FullName, &d.Email, &d.Phone, &d.Active,
		&d.DepartmentID, &d.DepartmentName, &d.LicenseNumber, &d.Specialization,
		&d.Qualification, &d.ExperienceYears, &d.ConsultationFee,
		&d.CreatedAt, &d.UpdatedAt)
	return &d, err
}

func (r *doctorRepoPG) Create(ctx context.Context, d *Doctor) error {
	d.ID = uuid.New()
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO actor (id, role, full_name, email, phone, active)
		VALUES ($1,$2,$3,$4,$5,$6)`,
		d.ID, auth.RoleDoctor, d.FullName, d.Email, d.Phone, d.Active)
	if db.UniqueViolation(err, "actor_email_key") {
		return apperror.Duplicate("email already registered")
	}
	if err != nil {
		return err
	}

	_, err = r.conn(ctx).Exec(ctx, `
		INSERT INTO doctor_profile (actor_id, department_id, license_number,
			specialization, qualification, experience_years, consultation_fee)
		VALUES ($1,$2,$3,$4,$5,$6,$7)`,
		d.ID, d.DepartmentID, d.LicenseNumber, d.Specialization,
		d.Qualification, d.ExperienceYears, d.ConsultationFee)
	if db.UniqueViolation(err, "doctor_profile_license_number_key") {
		return apperror.Duplicate("license number already registered")
	}
	return err
}

func (r *doctorRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Doctor, error) {
	return r.scanDoctor(r.conn(ctx).QueryRow(ctx,
		`SELECT `+doctorCols+doctorFrom+` WHERE a.id = $1 AND a.role = $2`, id, auth.RoleDoctor))
}

func (r *doctorRepoPG) Update(ctx context.Context, d *Doctor) error {
	_, err := r.conn(ctx).Exec(ctx, `
		UPDATE actor SET full_name=$2, email=$3, phone=$4, updated_at=NOW()
		WHERE id = $1 AND role = $5`,
		d.ID, d.FullName, d.Email, d.Phone, auth.RoleDoctor)
	if db.UniqueViolation(err, "actor_email_key") {
		return apperror.Duplicate("email already registered")
	}
	if err != nil {
		return err
	}

	_, err = r.conn(ctx).Exec(ctx, `
		UPDATE doctor_profile SET department_id=$2, license_number=$3, specialization=$4,
			qualification=$5, experience_years=$6, consultation_fee=$7
		WHERE actor_id = $1`,
		d.ID, d.DepartmentID, d.LicenseNumber, d.Specialization,
		d.Qualification, d.ExperienceYears, d.ConsultationFee)
	if db.UniqueViolation(err, "doctor_profile_license_number_key") {
		return apperror.Duplicate("license number already registered")
	}
	return err
}

func (r *doctorRepoPG) SetActive(ctx context.Context, id uuid.UUID, active bool) error {
	_, err := r.conn(ctx).Exec(ctx,
		`UPDATE actor SET active=$2, updated_at=NOW() WHERE id = $1 AND role = $3`,
		id, active, auth.RoleDoctor)
	return err
}

func (r *doctorRepoPG) Search(ctx context.Context, params map[string]string, limit, offset int) ([]*Doctor, int, error) {
	where := ` WHERE a.role = 'doctor'`
	args := []interface{}{}
	idx := 1

	if v, ok := params["department_id"]; ok && v != "" {
		where += fmt.Sprintf(" AND dp.department_id = $%d", idx)
		args = append(args, v)
		idx++
	}
	if v, ok := params["active"]; ok && v != "" {
		where += fmt.Sprintf(" AND a.active = $%d", idx)
		args = append(args, v == "true")
		idx++
	}
	if v, ok := params["q"]; ok && v != "" {
		where += fmt.Sprintf(" AND (a.full_name ILIKE $%d OR dp.qualification ILIKE $%d OR dp.license_number ILIKE $%d)", idx, idx, idx)
		args = append(args, "%"+v+"%")
		idx++
	}

	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*)`+doctorFrom+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	query := `SELECT ` + doctorCols + doctorFrom + where +
		fmt.Sprintf(` ORDER BY a.full_name LIMIT $%d OFFSET $%d`, idx, idx+1)
	rows, err := r.conn(ctx).Query(ctx, query, append(args, limit, offset)...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var doctors []*Doctor
	for rows.Next() {
		d, err := r.scanDoctor(rows)
		if err != nil {
			return nil, 0, err
		}
		doctors = append(doctors, d)
	}
	return doctors, total, rows.Err()
}

// =========== Patient Repository ===========

type patientRepoPG struct{ pool *pgxpool.Pool }

func NewPatientRepoPG(pool *pgxpool.Pool) PatientRepository { return &patientRepoPG{pool: pool} }

func (r *patientRepoPG) conn(ctx context.Context) queryable {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	return r.pool
}

const patientCols = `a.id, a.full_name, a.email, a.phone, a.active,
	pp.date_of_birth, pp.gender, pp.blood_group, pp.address,
	pp.emergency_contact, pp.allergies, pp.medical_history,
	a.created_at, a.updated_at`

const patientFrom = ` FROM actor a
	JOIN patient_profile pp ON pp.actor_id = a.id`

func (r *patientRepoPG) scanPatient(row pgx.Row) (*Patient, error) {
	var p Patient
	err := row.Scan(&p.ID, &p.FullName, &p.Email, &p.Phone, &p.Active,
		&p.DateOfBirth, &p.Gender, &p.BloodGroup, &p.Address,
		&p.EmergencyContact, &p.Allergies, &p.MedicalHistory,
		&p.CreatedAt, &p.UpdatedAt)
	return &p, err
}

func (r *patientRepoPG) Create(ctx context.Context, p *Patient) error {
	p.ID = uuid.New()
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO actor (id, role, full_name, email, phone, active)
		VALUES ($1,$2,$3,$4,$5,$6)`,
		p.ID, auth.RolePatient, p.FullName, p.Email, p.Phone, p.Active)
	if db.UniqueViolation(err, "actor_email_key") {
		return apperror.Duplicate("email already registered")
	}
	if err != nil {
		return err
	}

	_, err = r.conn(ctx).Exec(ctx, `
		INSERT INTO patient_profile (actor_id, date_of_birth, gender, blood_group,
			address, emergency_contact, allergies, medical_history)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`,
		p.ID, p.DateOfBirth, p.Gender, p.BloodGroup,
		p.Address, p.EmergencyContact, p.Allergies, p.MedicalHistory)
	return err
}

func (r *patientRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Patient, error) {
	return r.scanPatient(r.conn(ctx).QueryRow(ctx,
		`SELECT `+patientCols+patientFrom+` WHERE a.id = $1 AND a.role = $2`, id, auth.RolePatient))
}

func (r *patientRepoPG) Update(ctx context.Context, p *Patient) error {
	_, err := r.conn(ctx).Exec(ctx, `
		UPDATE actor SET full_name=$2, email=$3, phone=$4, updated_at=NOW()
		WHERE id = $1 AND role = $5`,
		p.ID, p.FullName, p.Email, p.Phone, auth.RolePatient)
	if db.UniqueViolation(err, "actor_email_key") {
		return apperror.Duplicate("email already registered")
	}
	if err != nil {
		return err
	}

	_, err = r.conn(ctx).Exec(ctx, `
		UPDATE patient_profile SET date_of_birth=$2, gender=$3, blood_group=$4,
			address=$5, emergency_contact=$6, allergies=$7, medical_history=$8
		WHERE actor_id = $1`,
		p.ID, p.DateOfBirth, p.Gender, p.BloodGroup,
		p.Address, p.EmergencyContact, p.Allergies, p.MedicalHistory)
	return err
}

func (r *patientRepoPG) SetActive(ctx context.Context, id uuid.UUID, active bool) error {
	_, err := r.conn(ctx).Exec(ctx,
		`UPDATE actor SET active=$2, updated_at=NOW() WHERE id = $1 AND role = $3`,
		id, active, auth.RolePatient)
	return err
}

func (r *patientRepoPG) Search(ctx context.Context, params map[string]string, limit, offset int) ([]*Patient, int, error) {
	return r.search(ctx, ` WHERE a.role = 'patient'`, nil, 1, params, limit, offset)
}

func (r *patientRepoPG) SearchForDoctor(ctx context.Context, doctorID uuid.UUID, params map[string]string, limit, offset int) ([]*Patient, int, error) {
	where := ` WHERE a.role = 'patient'
		AND EXISTS (SELECT 1 FROM appointment ap WHERE ap.patient_id = a.id AND ap.doctor_id = $1)`
	return r.search(ctx, where, []interface{}{doctorID}, 2, params, limit, offset)
}

func (r *patientRepoPG) search(ctx context.Context, where string, args []interface{}, idx int, params map[string]string, limit, offset int) ([]*Patient, int, error) {
	if v, ok := params["active"]; ok && v != "" {
		where += fmt.Sprintf(" AND a.active = $%d", idx)
		args = append(args, v == "true")
		idx++
	}
	if v, ok := params["q"]; ok && v != "" {
		where += fmt.Sprintf(" AND (a.full_name ILIKE $%d OR a.email ILIKE $%d OR a.phone ILIKE $%d)", idx, idx, idx)
		args = append(args, "%"+v+"%")
		idx++
	}

	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*)`+patientFrom+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	query := `SELECT ` + patientCols + patientFrom + where +
		fmt.Sprintf(` ORDER BY a.full_name LIMIT $%d OFFSET $%d`, idx, idx+1)
	rows, err := r.conn(ctx).Query(ctx, query, append(args, limit, offset)...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var patients []*Patient
	for rows.Next() {
		p, err := r.scanPatient(rows)
		if err != nil {
			return nil, 0, err
		}
		patients = append(patients, p)
	}
	return patients, total, rows.Err()
}

func (r *patientRepoPG) SeenByDoctor(ctx context.Context, patientID, doctorID uuid.UUID) (bool, error) {
	var seen bool
	err := r.conn(ctx).QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM appointment WHERE patient_id = $1 AND doctor_id = $2)`,
		patientID, doctorID).Scan(&seen)
	return seen, err
}

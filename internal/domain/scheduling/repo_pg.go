package scheduling

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/clinicore/clinicore/internal/platform/db"
	"github.com/clinicore/clinicore/pkg/apperror"
)

type queryable interface {
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
}

// =========== Slot Repository ===========

type slotRepoPG struct{ pool *pgxpool.Pool }

func NewSlotRepoPG(pool *pgxpool.Pool) SlotRepository { return &slotRepoPG{pool: pool} }

func (r *slotRepoPG) conn(ctx context.Context) queryable {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	return r.pool
}

const slotCols = `id, doctor_id, slot_date, start_time, end_time, is_open, created_at`

func (r *slotRepoPG) scanSlot(row pgx.Row) (*Slot, error) {
	var sl Slot
	err := row.Scan(&sl.ID, &sl.DoctorID, &sl.Date, &sl.StartTime, &sl.EndTime, &sl.Open, &sl.CreatedAt)
	return &sl, err
}

func (r *slotRepoPG) Create(ctx context.Context, sl *Slot) error {
	sl.ID = uuid.New()
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO availability_slot (id, doctor_id, slot_date, start_time, end_time, is_open)
		VALUES ($1,$2,$3,$4,$5,$6)`,
		sl.ID, sl.DoctorID, sl.Date, sl.StartTime, sl.EndTime, sl.Open)
	return err
}

func (r *slotRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Slot, error) {
	return r.scanSlot(r.conn(ctx).QueryRow(ctx, `SELECT `+slotCols+` FROM availability_slot WHERE id = $1`, id))
}

func (r *slotRepoPG) Delete(ctx context.Context, id uuid.UUID) error {
	_, err := r.conn(ctx).Exec(ctx, `DELETE FROM availability_slot WHERE id = $1`, id)
	return err
}

func (r *slotRepoPG) ListByDoctorDate(ctx context.Context, doctorID uuid.UUID, date Date) ([]*Slot, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT `+slotCols+` FROM availability_slot
		WHERE doctor_id = $1 AND slot_date = $2
		ORDER BY start_time`, doctorID, date)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var slots []*Slot
	for rows.Next() {
		sl, err := r.scanSlot(rows)
		if err != nil {
			return nil, err
		}
		slots = append(slots, sl)
	}
	return slots, rows.Err()
}

func (r *slotRepoPG) FindOpenAt(ctx context.Context, doctorID uuid.UUID, date Date, clock string) (*Slot, error) {
	// Zero-padded HH:MM strings order lexically, so start <= t < end
	// works as a text comparison.
	return r.scanSlot(r.conn(ctx).QueryRow(ctx, `
		SELECT `+slotCols+` FROM availability_slot
		WHERE doctor_id = $1 AND slot_date = $2
			AND start_time <= $3 AND end_time > $3 AND is_open = TRUE
		ORDER BY start_time
		LIMIT 1`, doctorID, date, clock))
}

func (r *slotRepoPG) ListUpcoming(ctx context.Context, doctorID uuid.UUID, from, to Date) ([]*Slot, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT `+slotCols+` FROM availability_slot
		WHERE doctor_id = $1 AND slot_date BETWEEN $2 AND $3
		ORDER BY slot_date, start_time`, doctorID, from, to)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var slots []*Slot
	for rows.Next() {
		sl, err := r.scanSlot(rows)
		if err != nil {
			return nil, err
		}
		slots = append(slots, sl)
	}
	return slots, rows.Err()
}

// =========== Appointment Repository ===========

type appointmentRepoPG struct{ pool *pgxpool.Pool }

func NewAppointmentRepoPG(pool *pgxpool.Pool) AppointmentRepository { return &appointmentRepoPG{pool: pool} }

func (r *appointmentRepoPG) conn(ctx context.Context) queryable {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	return r.pool
}

const apptCols = `id, patient_id, doctor_id, appointment_date, appointment_time,
	status, appointment_type, priority, reason, created_at, updated_at`

func (r *appointmentRepoPG) scanAppointment(row pgx.Row) (*Appointment, error) {
	var a Appointment
	err := row.Scan(&a.ID, &a.PatientID, &a.DoctorID, &a.Date, &a.Time,
		&a.Status, &a.Type, &a.Priority, &a.Reason, &a.CreatedAt, &a.UpdatedAt)
	return &a, err
}

func (r *appointmentRepoPG) Create(ctx context.Context, a *Appointment) error {
	a.ID = uuid.New()
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO appointment (id, patient_id, doctor_id, appointment_date,
			appointment_time, status, appointment_type, priority, reason)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)`,
		a.ID, a.PatientID, a.DoctorID, a.Date, a.Time,
		a.Status, a.Type, a.Priority, a.Reason)
	if db.UniqueViolation(err, "appointment_no_double_booking") {
		return apperror.SlotTaken("the requested time was just booked")
	}
	return err
}

func (r *appointmentRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	return r.scanAppointment(r.conn(ctx).QueryRow(ctx, `SELECT `+apptCols+` FROM appointment WHERE id = $1`, id))
}

func (r *appointmentRepoPG) UpdateStatus(ctx context.Context, id uuid.UUID, status string) error {
	_, err := r.conn(ctx).Exec(ctx,
		`UPDATE appointment SET status=$2, updated_at=NOW() WHERE id = $1`, id, status)
	return err
}

func (r *appointmentRepoPG) UpdateSchedule(ctx context.Context, id uuid.UUID, date Date, clock, status string) error {
	_, err := r.conn(ctx).Exec(ctx, `
		UPDATE appointment SET appointment_date=$2, appointment_time=$3, status=$4, updated_at=NOW()
		WHERE id = $1`, id, date, clock, status)
	if db.UniqueViolation(err, "appointment_no_double_booking") {
		return apperror.SlotTaken("the requested time was just booked")
	}
	return err
}

func (r *appointmentRepoPG) ExistsActive(ctx context.Context, doctorID uuid.UUID, date Date, clock string, excludeID uuid.UUID) (bool, error) {
	var taken bool
	err := r.conn(ctx).QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM appointment
			WHERE doctor_id = $1 AND appointment_date = $2 AND appointment_time = $3
				AND status <> 'cancelled' AND id <> $4
		)`, doctorID, date, clock, excludeID).Scan(&taken)
	return taken, err
}

func (r *appointmentRepoPG) ExistsForPair(ctx context.Context, doctorID, patientID uuid.UUID) (bool, error) {
	var seen bool
	err := r.conn(ctx).QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM appointment WHERE doctor_id = $1 AND patient_id = $2)`,
		doctorID, patientID).Scan(&seen)
	return seen, err
}

func (r *appointmentRepoPG) Search(ctx context.Context, params map[string]string, limit, offset int) ([]*Appointment, int, error) {
	where := ` WHERE 1=1`
	args := []interface{}{}
	idx := 1

	if v, ok := params["status"]; ok && v != "" {
		where += fmt.Sprintf(" AND status = $%d", idx)
		args = append(args, v)
		idx++
	}
	if v, ok := params["date"]; ok && v != "" {
		where += fmt.Sprintf(" AND appointment_date = $%d", idx)
		args = append(args, v)
		idx++
	}
	if v, ok := params["doctor_id"]; ok && v != "" {
		where += fmt.Sprintf(" AND doctor_id = $%d", idx)
		args = append(args, v)
		idx++
	}
	if v, ok := params["patient_id"]; ok && v != "" {
		where += fmt.Sprintf(" AND patient_id = $%d", idx)
		args = append(args, v)
		idx++
	}

	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM appointment`+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	query := `SELECT ` + apptCols + ` FROM appointment` + where +
		fmt.Sprintf(` ORDER BY appointment_date DESC, appointment_time DESC LIMIT $%d OFFSET $%d`, idx, idx+1)
	rows, err := r.conn(ctx).Query(ctx, query, append(args, limit, offset)...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var appts []*Appointment
	for rows.Next() {
		a, err := r.scanAppointment(rows)
		if err != nil {
			return nil, 0, err
		}
		appts = append(appts, a)
	}
	return appts, total, rows.Err()
}

// =========== Treatment Repository ===========

type treatmentRepoPG struct{ pool *pgxpool.Pool }

func NewTreatmentRepoPG(pool *pgxpool.Pool) TreatmentRepository { return &treatmentRepoPG{pool: pool} }

func (r *treatmentRepoPG) conn(ctx context.Context) queryable {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	return r.pool
}

const trtCols = `t.id, t.appointment_id, t.diagnosis, t.prescription, t.notes,
	t.treatment_date, t.follow_up_required, t.follow_up_date, t.created_at`

func (r *treatmentRepoPG) scanTreatment(row pgx.Row) (*Treatment, error) {
	var t Treatment
	err := row.Scan(&t.ID, &t.AppointmentID, &t.Diagnosis, &t.Prescription, &t.Notes,
		&t.TreatmentDate, &t.FollowUpRequired, &t.FollowUpDate, &t.CreatedAt)
	return &t, err
}

func (r *treatmentRepoPG) Create(ctx context.Context, t *Treatment) error {
	t.ID = uuid.New()
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO treatment (id, appointment_id, diagnosis, prescription, notes,
			treatment_date, follow_up_required, follow_up_date)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`,
		t.ID, t.AppointmentID, t.Diagnosis, t.Prescription, t.Notes,
		t.TreatmentDate, t.FollowUpRequired, t.FollowUpDate)
	if db.UniqueViolation(err, "treatment_appointment_id_key") {
		return apperror.AlreadyCompleted("a treatment is already attached to this appointment")
	}
	return err
}

func (r *treatmentRepoPG) GetByAppointment(ctx context.Context, appointmentID uuid.UUID) (*Treatment, error) {
	return r.scanTreatment(r.conn(ctx).QueryRow(ctx,
		`SELECT `+trtCols+` FROM treatment t WHERE t.appointment_id = $1`, appointmentID))
}

func (r *treatmentRepoPG) ListByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]*Treatment, int, error) {
	var total int
	if err := r.conn(ctx).QueryRow(ctx, `
		SELECT COUNT(*) FROM treatment t
		JOIN appointment a ON a.id = t.appointment_id
		WHERE a.patient_id = $1`, patientID).Scan(&total); err != nil {
		return nil, 0, err
	}

	rows, err := r.conn(ctx).Query(ctx, `
		SELECT `+trtCols+` FROM treatment t
		JOIN appointment a ON a.id = t.appointment_id
		WHERE a.patient_id = $1
		ORDER BY t.treatment_date DESC, t.created_at DESC
		LIMIT $2 OFFSET $3`, patientID, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var treatments []*Treatment
	for rows.Next() {
		t, err := r.scanTreatment(rows)
		if err != nil {
			return nil, 0, err
		}
		treatments = append(treatments, t)
	}
	return treatments, total, rows.Err()
}

func (r *treatmentRepoPG) ListByDoctor(ctx context.Context, doctorID uuid.UUID, limit, offset int) ([]*Treatment, int, error) {
	var total int
	if err := r.conn(ctx).QueryRow(ctx, `
		SELECT COUNT(*) FROM treatment t
		JOIN appointment a ON a.id = t.appointment_id
		WHERE a.doctor_id = $1`, doctorID).Scan(&total); err != nil {
		return nil, 0, err
	}

	rows, err := r.conn(ctx).Query(ctx, `
		SELECT `+trtCols+` FROM treatment t
		JOIN appointment a ON a.id = t.appointment_id
		WHERE a.doctor_id = $1
		ORDER BY t.treatment_date DESC, t.created_at DESC
		LIMIT $2 OFFSET $3`, doctorID, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var treatments []*Treatment
	for rows.Next() {
		t, err := r.scanTreatment(rows)
		if err != nil {
			return nil, 0, err
		}
		treatments = append(treatments, t)
	}
	return treatments, total, rows.Err()
}

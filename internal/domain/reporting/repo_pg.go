package reporting

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/clinicore/clinicore/internal/domain/scheduling"
	"github.com/clinicore/clinicore/internal/platform/db"
)

type queryable interface {
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
}

type repoPG struct{ pool *pgxpool.Pool }

func NewRepoPG(pool *pgxpool.Pool) Repository { return &repoPG{pool: pool} }

func (r *repoPG) conn(ctx context.Context) queryable {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	return r.pool
}

func (r *repoPG) Overview(ctx context.Context, today scheduling.Date, recentLimit int) (*Overview, error) {
	ov := &Overview{ByStatus: map[string]int{}}

	err := r.conn(ctx).QueryRow(ctx, `
		SELECT
			(SELECT COUNT(*) FROM actor WHERE role = 'doctor' AND active),
			(SELECT COUNT(*) FROM actor WHERE role = 'patient' AND active),
			(SELECT COUNT(*) FROM department WHERE active),
			(SELECT COUNT(*) FROM appointment),
			(SELECT COUNT(*) FROM appointment WHERE appointment_date = $1)`,
		today).Scan(&ov.ActiveDoctors, &ov.ActivePatients, &ov.ActiveDepartments,
		&ov.TotalAppointments, &ov.Today)
	if err != nil {
		return nil, err
	}

	rows, err := r.conn(ctx).Query(ctx,
		`SELECT status, COUNT(*) FROM appointment GROUP BY status`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, err
		}
		ov.ByStatus[status] = count
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	recent, err := r.recent(ctx, recentLimit)
	if err != nil {
		return nil, err
	}
	ov.Recent = recent
	return ov, nil
}

func (r *repoPG) recent(ctx context.Context, limit int) ([]*RecentAppointment, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT a.id, p.full_name, d.full_name, a.appointment_date,
			a.appointment_time, a.status, a.created_at
		FROM appointment a
		JOIN actor p ON p.id = a.patient_id
		JOIN actor d ON d.id = a.doctor_id
		ORDER BY a.created_at DESC
		LIMIT $1`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var recent []*RecentAppointment
	for rows.Next() {
		var ra RecentAppointment
		if err := rows.Scan(&ra.ID, &ra.PatientName, &ra.DoctorName, &ra.Date,
			&ra.Time, &ra.Status, &ra.CreatedAt); err != nil {
			return nil, err
		}
		recent = append(recent, &ra)
	}
	return recent, rows.Err()
}

func (r *repoPG) AppointmentsPerDay(ctx context.Context, from, to scheduling.Date) ([]*DayCount, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT appointment_date, COUNT(*)
		FROM appointment
		WHERE appointment_date BETWEEN $1 AND $2
		GROUP BY appointment_date
		ORDER BY appointment_date`, from, to)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var days []*DayCount
	for rows.Next() {
		var dc DayCount
		if err := rows.Scan(&dc.Date, &dc.Count); err != nil {
			return nil, err
		}
		days = append(days, &dc)
	}
	return days, rows.Err()
}

func (r *repoPG) DoctorWorkload(ctx context.Context, doctorID uuid.UUID, today scheduling.Date) (*DoctorWorkload, error) {
	wl := &DoctorWorkload{DoctorID: doctorID}
	err := r.conn(ctx).QueryRow(ctx, `
		SELECT
			COUNT(*) FILTER (WHERE appointment_date = $2),
			COUNT(*) FILTER (WHERE status IN ('booked','confirmed')),
			COUNT(*) FILTER (WHERE status = 'completed'),
			COUNT(*) FILTER (WHERE date_trunc('month', appointment_date) = date_trunc('month', $2::date)),
			COUNT(DISTINCT patient_id)
		FROM appointment
		WHERE doctor_id = $1`, doctorID, today).Scan(
		&wl.Today, &wl.Open, &wl.Completed, &wl.ThisMonth, &wl.DistinctPatients)
	if err != nil {
		return nil, err
	}
	return wl, nil
}

func (r *repoPG) PatientSummary(ctx context.Context, patientID uuid.UUID, today scheduling.Date) (*PatientSummary, error) {
	ps := &PatientSummary{PatientID: patientID}
	err := r.conn(ctx).QueryRow(ctx, `
		SELECT
			COUNT(*),
			COUNT(*) FILTER (WHERE status = 'completed'),
			COUNT(*) FILTER (WHERE status IN ('booked','confirmed') AND appointment_date >= $2),
			COUNT(DISTINCT doctor_id)
		FROM appointment
		WHERE patient_id = $1`, patientID, today).Scan(
		&ps.Total, &ps.Completed, &ps.Upcoming, &ps.DistinctDoctors)
	if err != nil {
		return nil, err
	}

	err = r.conn(ctx).QueryRow(ctx, `
		SELECT COUNT(*)
		FROM treatment t
		JOIN appointment a ON a.id = t.appointment_id
		WHERE a.patient_id = $1`, patientID).Scan(&ps.Treatments)
	if err != nil {
		return nil, err
	}
	return ps, nil
}

func (r *repoPG) DepartmentLoad(ctx context.Context) ([]*DepartmentLoad, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT dep.id, dep.name,
			COUNT(DISTINCT dp.actor_id) FILTER (WHERE act.active),
			COUNT(DISTINCT a.id)
		FROM department dep
		LEFT JOIN doctor_profile dp ON dp.department_id = dep.id
		LEFT JOIN actor act ON act.id = dp.actor_id
		LEFT JOIN appointment a ON a.doctor_id = dp.actor_id
		GROUP BY dep.id, dep.name
		ORDER BY dep.name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var loads []*DepartmentLoad
	for rows.Next() {
		var dl DepartmentLoad
		if err := rows.Scan(&dl.DepartmentID, &dl.Name, &dl.ActiveDoctors, &dl.Appointments); err != nil {
			return nil, err
		}
		loads = append(loads, &dl)
	}
	return loads, rows.Err()
}

package reporting

import (
	"time"

	"github.com/google/uuid"

	"github.com/clinicore/clinicore/internal/domain/scheduling"
)

// Overview is the admin dashboard: roster totals, ledger counts by
// status, today's volume and the most recent bookings.
type Overview struct {
	ActiveDoctors     int                  `json:"active_doctors"`
	ActivePatients    int                  `json:"active_patients"`
	ActiveDepartments int                  `json:"active_departments"`
	TotalAppointments int                  `json:"total_appointments"`
	ByStatus          map[string]int       `json:"by_status"`
	Today             int                  `json:"today"`
	Recent            []*RecentAppointment `json:"recent"`
	GeneratedAt       time.Time            `json:"generated_at"`
}

// RecentAppointment is one row of the overview's activity feed, the
// appointment joined with both party names.
type RecentAppointment struct {
	ID          uuid.UUID       `json:"id"`
	PatientName string          `json:"patient_name"`
	DoctorName  string          `json:"doctor_name"`
	Date        scheduling.Date `json:"date"`
	Time        string          `json:"time"`
	Status      string          `json:"status"`
	CreatedAt   time.Time       `json:"created_at"`
}

// DayCount is one bucket of the appointments-per-day report.
type DayCount struct {
	Date  scheduling.Date `json:"date"`
	Count int             `json:"count"`
}

// DoctorWorkload summarizes one doctor's ledger.
type DoctorWorkload struct {
	DoctorID         uuid.UUID `json:"doctor_id"`
	Today            int       `json:"today"`
	Open             int       `json:"open"`
	Completed        int       `json:"completed"`
	ThisMonth        int       `json:"this_month"`
	DistinctPatients int       `json:"distinct_patients"`
}

// PatientSummary summarizes one patient's history with the practice.
type PatientSummary struct {
	PatientID       uuid.UUID `json:"patient_id"`
	Total           int       `json:"total"`
	Completed       int       `json:"completed"`
	Upcoming        int       `json:"upcoming"`
	DistinctDoctors int       `json:"distinct_doctors"`
	Treatments      int       `json:"treatments"`
}

// DepartmentLoad is one department's share of staff and bookings.
type DepartmentLoad struct {
	DepartmentID  uuid.UUID `json:"department_id"`
	Name          string    `json:"name"`
	ActiveDoctors int       `json:"active_doctors"`
	Appointments  int       `json:"appointments"`
}

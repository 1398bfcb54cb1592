package scheduling

import (
	"database/sql/driver"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/clinicore/clinicore/pkg/apperror"
)

const dateLayout = "2006-01-02"

// Date is a calendar day with no time-of-day component. It marshals as
// "2006-01-02" and maps to Postgres DATE columns.
type Date struct {
	time.Time
}

func NewDate(year int, month time.Month, day int) Date {
	return Date{time.Date(year, month, day, 0, 0, 0, 0, time.UTC)}
}

// DateOf truncates an instant to its UTC calendar day.
func DateOf(t time.Time) Date {
	y, m, d := t.UTC().Date()
	return NewDate(y, m, d)
}

func Today() Date {
	return DateOf(time.Now())
}

func ParseDate(s string) (Date, error) {
	t, err := time.Parse(dateLayout, s)
	if err != nil {
		return Date{}, fmt.Errorf("invalid date %q, want YYYY-MM-DD", s)
	}
	return Date{t}, nil
}

func (d Date) String() string { return d.Format(dateLayout) }

func (d Date) AddDays(n int) Date { return Date{d.AddDate(0, 0, n)} }

func (d Date) MarshalJSON() ([]byte, error) {
	return []byte(`"` + d.Format(dateLayout) + `"`), nil
}

func (d *Date) UnmarshalJSON(b []byte) error {
	s := strings.Trim(string(b), `"`)
	if s == "" || s == "null" {
		*d = Date{}
		return nil
	}
	parsed, err := ParseDate(s)
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

// Scan implements sql.Scanner so pgx reads DATE columns into Date.
func (d *Date) Scan(src interface{}) error {
	switch v := src.(type) {
	case nil:
		*d = Date{}
		return nil
	case time.Time:
		*d = DateOf(v)
		return nil
	case string:
		parsed, err := ParseDate(v)
		if err != nil {
			return err
		}
		*d = parsed
		return nil
	}
	return fmt.Errorf("cannot scan %T into Date", src)
}

// Value implements driver.Valuer for DATE parameters.
func (d Date) Value() (driver.Value, error) {
	if d.IsZero() {
		return nil, nil
	}
	return d.Time, nil
}

// parseClock converts a zero-padded "HH:MM" clock to minutes since
// midnight.
func parseClock(s string) (int, error) {
	t, err := time.Parse("15:04", s)
	if err != nil {
		return 0, fmt.Errorf("invalid time %q, want HH:MM", s)
	}
	return t.Hour()*60 + t.Minute(), nil
}

// Appointment statuses. pending and scheduled are accepted as aliases of
// booked at the API boundary and are never stored.
const (
	StatusBooked    = "booked"
	StatusConfirmed = "confirmed"
	StatusCompleted = "completed"
	StatusCancelled = "cancelled"
)

var validStatuses = map[string]bool{
	StatusBooked:    true,
	StatusConfirmed: true,
	StatusCompleted: true,
	StatusCancelled: true,
}

var legacyStatuses = map[string]string{
	"pending":   StatusBooked,
	"scheduled": StatusBooked,
}

// openStatuses are the pre-terminal states an appointment can still be
// cancelled, rescheduled or completed from.
var openStatuses = map[string]bool{
	StatusBooked:    true,
	StatusConfirmed: true,
}

// normalizeStatus folds legacy labels into the canonical vocabulary and
// rejects everything else.
func normalizeStatus(s string) (string, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if canon, ok := legacyStatuses[s]; ok {
		return canon, nil
	}
	if !validStatuses[s] {
		return "", apperror.Validationf("unknown status %q", s)
	}
	return s, nil
}

const (
	TypeConsultation = "consultation"
	PriorityRoutine  = "routine"
)

var validTypes = map[string]bool{
	TypeConsultation: true,
	"follow_up":      true,
	"check_up":       true,
	"procedure":      true,
	"emergency":      true,
}

var validPriorities = map[string]bool{
	PriorityRoutine: true,
	"urgent":        true,
	"emergency":     true,
}

func normalizeType(s string) (string, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" {
		return TypeConsultation, nil
	}
	if !validTypes[s] {
		return "", apperror.Validationf("unknown appointment type %q", s)
	}
	return s, nil
}

func normalizePriority(s string) (string, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" {
		return PriorityRoutine, nil
	}
	if !validPriorities[s] {
		return "", apperror.Validationf("unknown priority %q", s)
	}
	return s, nil
}

// Slot maps to the availability_slot table: one bookable window on a
// doctor's calendar.
type Slot struct {
	ID        uuid.UUID `db:"id" json:"id"`
	DoctorID  uuid.UUID `db:"doctor_id" json:"doctor_id"`
	Date      Date      `db:"slot_date" json:"date"`
	StartTime string    `db:"start_time" json:"start_time"`
	EndTime   string    `db:"end_time" json:"end_time"`
	Open      bool      `db:"is_open" json:"is_open"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

// Appointment maps to the appointment table.
type Appointment struct {
	ID        uuid.UUID `db:"id" json:"id"`
	PatientID uuid.UUID `db:"patient_id" json:"patient_id"`
	DoctorID  uuid.UUID `db:"doctor_id" json:"doctor_id"`
	Date      Date      `db:"appointment_date" json:"date"`
	Time      string    `db:"appointment_time" json:"time"`
	Status    string    `db:"status" json:"status"`
	Type      string    `db:"appointment_type" json:"type"`
	Priority  string    `db:"priority" json:"priority"`
	Reason    *string   `db:"reason" json:"reason,omitempty"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}

// StartsAt returns the scheduled instant. Stored times are validated on
// write, so a parse failure falls back to the date's midnight.
func (a *Appointment) StartsAt() time.Time {
	m, err := parseClock(a.Time)
	if err != nil {
		return a.Date.Time
	}
	return a.Date.Add(time.Duration(m) * time.Minute)
}

// Treatment maps to the treatment table: the immutable clinical outcome
// attached when an appointment is completed.
type Treatment struct {
	ID               uuid.UUID `db:"id" json:"id"`
	AppointmentID    uuid.UUID `db:"appointment_id" json:"appointment_id"`
	Diagnosis        string    `db:"diagnosis" json:"diagnosis"`
	Prescription     *string   `db:"prescription" json:"prescription,omitempty"`
	Notes            *string   `db:"notes" json:"notes,omitempty"`
	TreatmentDate    Date      `db:"treatment_date" json:"treatment_date"`
	FollowUpRequired bool      `db:"follow_up_required" json:"follow_up_required"`
	FollowUpDate     *Date     `db:"follow_up_date" json:"follow_up_date,omitempty"`
	CreatedAt        time.Time `db:"created_at" json:"created_at"`
}

// BookingRequest is the payload for creating an appointment. PatientID
// defaults to the acting patient when omitted.
type BookingRequest struct {
	PatientID uuid.UUID `json:"patient_id"`
	DoctorID  uuid.UUID `json:"doctor_id"`
	Date      Date      `json:"date"`
	Time      string    `json:"time"`
	Type      string    `json:"type"`
	Priority  string    `json:"priority"`
	Reason    *string   `json:"reason,omitempty"`
}

// TreatmentInput is the clinical payload a doctor attaches when
// completing an appointment.
type TreatmentInput struct {
	Diagnosis        string  `json:"diagnosis"`
	Prescription     *string `json:"prescription,omitempty"`
	Notes            *string `json:"notes,omitempty"`
	FollowUpRequired bool    `json:"follow_up_required"`
	FollowUpDate     *Date   `json:"follow_up_date,omitempty"`
}

// AppointmentFilter narrows List results. Role scoping overrides the
// party filters for non-admin callers.
type AppointmentFilter struct {
	Status    string
	Date      *Date
	DoctorID  uuid.UUID
	PatientID uuid.UUID
}

package scheduling

import (
	"context"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/clinicore/clinicore/internal/domain/directory"
	"github.com/clinicore/clinicore/internal/platform/auth"
	"github.com/clinicore/clinicore/pkg/apperror"
)

// -- Mocks --

type mockSlotRepo struct {
	slots map[uuid.UUID]*Slot
}

func newMockSlotRepo() *mockSlotRepo {
	return &mockSlotRepo{slots: make(map[uuid.UUID]*Slot)}
}

func (m *mockSlotRepo) Create(_ context.Context, sl *Slot) error {
	sl.ID = uuid.New()
	sl.CreatedAt = time.Now()
	m.slots[sl.ID] = sl
	return nil
}

func (m *mockSlotRepo) GetByID(_ context.Context, id uuid.UUID) (*Slot, error) {
	sl, ok := m.slots[id]
	if !ok {
		return nil, pgx.ErrNoRows
	}
	return sl, nil
}

func (m *mockSlotRepo) Delete(_ context.Context, id uuid.UUID) error {
	delete(m.slots, id)
	return nil
}

func (m *mockSlotRepo) ListByDoctorDate(_ context.Context, doctorID uuid.UUID, date Date) ([]*Slot, error) {
	var out []*Slot
	for _, sl := range m.slots {
		if sl.DoctorID == doctorID && sl.Date.Equal(date.Time) {
			out = append(out, sl)
		}
	}
	return out, nil
}

func (m *mockSlotRepo) FindOpenAt(_ context.Context, doctorID uuid.UUID, date Date, clock string) (*Slot, error) {
	for _, sl := range m.slots {
		if sl.DoctorID == doctorID && sl.Date.Equal(date.Time) && sl.Open &&
			sl.StartTime <= clock && clock < sl.EndTime {
			return sl, nil
		}
	}
	return nil, pgx.ErrNoRows
}

func (m *mockSlotRepo) ListUpcoming(_ context.Context, doctorID uuid.UUID, from, to Date) ([]*Slot, error) {
	var out []*Slot
	for _, sl := range m.slots {
		if sl.DoctorID != doctorID {
			continue
		}
		if sl.Date.Before(from.Time) || sl.Date.After(to.Time) {
			continue
		}
		out = append(out, sl)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].Date.Equal(out[j].Date.Time) {
			return out[i].Date.Before(out[j].Date.Time)
		}
		return out[i].StartTime < out[j].StartTime
	})
	return out, nil
}

// mockApptRepo guards its map with a mutex and enforces the unique
// non-cancelled (doctor, date, time) triple the way the partial index
// does, so the concurrency property is testable in-process.
type mockApptRepo struct {
	mu    sync.Mutex
	appts map[uuid.UUID]*Appointment
}

func newMockApptRepo() *mockApptRepo {
	return &mockApptRepo{appts: make(map[uuid.UUID]*Appointment)}
}

func (m *mockApptRepo) conflicts(a *Appointment, excludeID uuid.UUID) bool {
	for id, other := range m.appts {
		if id == excludeID || other.Status == StatusCancelled {
			continue
		}
		if other.DoctorID == a.DoctorID && other.Date.Equal(a.Date.Time) && other.Time == a.Time {
			return true
		}
	}
	return false
}

func (m *mockApptRepo) Create(_ context.Context, a *Appointment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.conflicts(a, uuid.Nil) {
		return apperror.SlotTaken("the requested time was just booked")
	}
	a.ID = uuid.New()
	a.CreatedAt = time.Now()
	a.UpdatedAt = a.CreatedAt
	m.appts[a.ID] = a
	return nil
}

func (m *mockApptRepo) GetByID(_ context.Context, id uuid.UUID) (*Appointment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.appts[id]
	if !ok {
		return nil, pgx.ErrNoRows
	}
	snapshot := *a
	return &snapshot, nil
}

func (m *mockApptRepo) UpdateStatus(_ context.Context, id uuid.UUID, status string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.appts[id]
	if !ok {
		return pgx.ErrNoRows
	}
	a.Status = status
	a.UpdatedAt = time.Now()
	return nil
}

func (m *mockApptRepo) UpdateSchedule(_ context.Context, id uuid.UUID, date Date, clock, status string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.appts[id]
	if !ok {
		return pgx.ErrNoRows
	}
	probe := &Appointment{DoctorID: a.DoctorID, Date: date, Time: clock}
	if m.conflicts(probe, id) {
		return apperror.SlotTaken("the requested time was just booked")
	}
	a.Date = date
	a.Time = clock
	a.Status = status
	a.UpdatedAt = time.Now()
	return nil
}

func (m *mockApptRepo) ExistsActive(_ context.Context, doctorID uuid.UUID, date Date, clock string, excludeID uuid.UUID) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	probe := &Appointment{DoctorID: doctorID, Date: date, Time: clock}
	return m.conflicts(probe, excludeID), nil
}

func (m *mockApptRepo) ExistsForPair(_ context.Context, doctorID, patientID uuid.UUID) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, a := range m.appts {
		if a.DoctorID == doctorID && a.PatientID == patientID {
			return true, nil
		}
	}
	return false, nil
}

func (m *mockApptRepo) Search(_ context.Context, params map[string]string, limit, offset int) ([]*Appointment, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*Appointment
	for _, a := range m.appts {
		if v := params["status"]; v != "" && a.Status != v {
			continue
		}
		if v := params["date"]; v != "" && a.Date.String() != v {
			continue
		}
		if v := params["doctor_id"]; v != "" && a.DoctorID.String() != v {
			continue
		}
		if v := params["patient_id"]; v != "" && a.PatientID.String() != v {
			continue
		}
		out = append(out, a)
	}
	return out, len(out), nil
}

type mockTreatmentRepo struct {
	treatments map[uuid.UUID]*Treatment
}

func newMockTreatmentRepo() *mockTreatmentRepo {
	return &mockTreatmentRepo{treatments: make(map[uuid.UUID]*Treatment)}
}

func (m *mockTreatmentRepo) Create(_ context.Context, t *Treatment) error {
	for _, other := range m.treatments {
		if other.AppointmentID == t.AppointmentID {
			return apperror.AlreadyCompleted("a treatment is already attached to this appointment")
		}
	}
	t.ID = uuid.New()
	t.CreatedAt = time.Now()
	m.treatments[t.ID] = t
	return nil
}

func (m *mockTreatmentRepo) GetByAppointment(_ context.Context, appointmentID uuid.UUID) (*Treatment, error) {
	for _, t := range m.treatments {
		if t.AppointmentID == appointmentID {
			return t, nil
		}
	}
	return nil, pgx.ErrNoRows
}

func (m *mockTreatmentRepo) ListByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]*Treatment, int, error) {
	var out []*Treatment
	for _, t := range m.treatments {
		out = append(out, t)
	}
	return out, len(out), nil
}

func (m *mockTreatmentRepo) ListByDoctor(ctx context.Context, doctorID uuid.UUID, limit, offset int) ([]*Treatment, int, error) {
	var out []*Treatment
	for _, t := range m.treatments {
		out = append(out, t)
	}
	return out, len(out), nil
}

type mockDirectory struct {
	doctors  map[uuid.UUID]*directory.Doctor
	patients map[uuid.UUID]*directory.Patient
}

func newMockDirectory() *mockDirectory {
	return &mockDirectory{
		doctors:  make(map[uuid.UUID]*directory.Doctor),
		patients: make(map[uuid.UUID]*directory.Patient),
	}
}

func (m *mockDirectory) GetDoctor(_ context.Context, id uuid.UUID) (*directory.Doctor, error) {
	d, ok := m.doctors[id]
	if !ok {
		return nil, apperror.NotFound("doctor")
	}
	return d, nil
}

func (m *mockDirectory) GetPatient(_ context.Context, _ auth.Actor, id uuid.UUID) (*directory.Patient, error) {
	p, ok := m.patients[id]
	if !ok {
		return nil, apperror.NotFound("patient")
	}
	return p, nil
}

func passTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return fn(ctx)
}

// -- Fixture --

// fixedNow anchors every test clock: 08:00 on 2025-06-01.
var fixedNow = time.Date(2025, time.June, 1, 8, 0, 0, 0, time.UTC)

type fixture struct {
	slots      *mockSlotRepo
	appts      *mockApptRepo
	treatments *mockTreatmentRepo
	dir        *mockDirectory
	svc        *Service

	admin   auth.Actor
	doctor  auth.Actor
	patient auth.Actor
}

func newFixture() *fixture {
	f := &fixture{
		slots:      newMockSlotRepo(),
		appts:      newMockApptRepo(),
		treatments: newMockTreatmentRepo(),
		dir:        newMockDirectory(),
		admin:      auth.Actor{ID: uuid.New(), Role: auth.RoleAdmin},
	}
	f.svc = NewService(f.slots, f.appts, f.treatments, f.dir, passTx)
	f.svc.now = func() time.Time { return fixedNow }

	f.doctor = f.addDoctor(true)
	f.patient = f.addPatient(true)
	return f
}

func (f *fixture) addDoctor(active bool) auth.Actor {
	id := uuid.New()
	f.dir.doctors[id] = &directory.Doctor{ID: id, FullName: "Dr Test", Active: active}
	return auth.Actor{ID: id, Role: auth.RoleDoctor}
}

func (f *fixture) addPatient(active bool) auth.Actor {
	id := uuid.New()
	f.dir.patients[id] = &directory.Patient{ID: id, FullName: "Pat Test", Active: active}
	return auth.Actor{ID: id, Role: auth.RolePatient}
}

func (f *fixture) seedSlot(doctorID uuid.UUID, date Date, start, end string) *Slot {
	sl := &Slot{ID: uuid.New(), DoctorID: doctorID, Date: date, StartTime: start, EndTime: end, Open: true}
	f.slots.slots[sl.ID] = sl
	return sl
}

func (f *fixture) seedAppointment(patientID, doctorID uuid.UUID, date Date, clock, status string) *Appointment {
	a := &Appointment{
		ID:        uuid.New(),
		PatientID: patientID,
		DoctorID:  doctorID,
		Date:      date,
		Time:      clock,
		Status:    status,
		Type:      TypeConsultation,
		Priority:  PriorityRoutine,
	}
	f.appts.appts[a.ID] = a
	return a
}

func (f *fixture) book(actor auth.Actor, doctorID uuid.UUID, date Date, clock string) (*Appointment, error) {
	return f.svc.Book(context.Background(), actor, &BookingRequest{
		DoctorID: doctorID,
		Date:     date,
		Time:     clock,
	})
}

func tomorrow() Date { return DateOf(fixedNow).AddDays(1) }

// -- Availability --

func TestAddSlot(t *testing.T) {
	f := newFixture()

	sl := &Slot{Date: tomorrow(), StartTime: "09:00", EndTime: "12:00"}
	if err := f.svc.AddSlot(context.Background(), f.doctor, sl); err != nil {
		t.Fatalf("AddSlot: %v", err)
	}
	if sl.ID == uuid.Nil {
		t.Error("expected id to be assigned")
	}
	if sl.DoctorID != f.doctor.ID {
		t.Error("slot should default to the acting doctor")
	}
	if !sl.Open {
		t.Error("new slots should be open")
	}
}

func TestAddSlotInvalidRange(t *testing.T) {
	f := newFixture()

	for _, w := range []struct{ start, end string }{
		{"12:00", "09:00"},
		{"09:00", "09:00"},
		{"late", "09:00"},
	} {
		err := f.svc.AddSlot(context.Background(), f.doctor, &Slot{Date: tomorrow(), StartTime: w.start, EndTime: w.end})
		if apperror.CodeOf(err) != apperror.CodeInvalidRange {
			t.Errorf("window %s-%s: expected invalid_range, got %v", w.start, w.end, err)
		}
	}
}

func TestAddSlotPastDate(t *testing.T) {
	f := newFixture()

	yesterday := DateOf(fixedNow).AddDays(-1)
	err := f.svc.AddSlot(context.Background(), f.doctor, &Slot{Date: yesterday, StartTime: "09:00", EndTime: "10:00"})
	if apperror.CodeOf(err) != apperror.CodePastDate {
		t.Errorf("expected past_date, got %v", err)
	}

	// today itself is allowed
	if err := f.svc.AddSlot(context.Background(), f.doctor, &Slot{Date: DateOf(fixedNow), StartTime: "09:00", EndTime: "10:00"}); err != nil {
		t.Errorf("slot for today should be accepted, got %v", err)
	}
}

func TestAddSlotOverlap(t *testing.T) {
	// Two overlapping windows on the same doctor and day: exactly one
	// succeeds regardless of the order they arrive.
	windows := [2]struct{ start, end string }{
		{"09:00", "11:00"},
		{"10:00", "12:00"},
	}
	for _, order := range [][2]int{{0, 1}, {1, 0}} {
		f := newFixture()
		first := windows[order[0]]
		second := windows[order[1]]

		if err := f.svc.AddSlot(context.Background(), f.doctor, &Slot{Date: tomorrow(), StartTime: first.start, EndTime: first.end}); err != nil {
			t.Fatalf("first AddSlot: %v", err)
		}
		err := f.svc.AddSlot(context.Background(), f.doctor, &Slot{Date: tomorrow(), StartTime: second.start, EndTime: second.end})
		if apperror.CodeOf(err) != apperror.CodeOverlap {
			t.Errorf("order %v: expected slot_overlap, got %v", order, err)
		}
	}
}

func TestAddSlotTouchingWindowsAllowed(t *testing.T) {
	f := newFixture()

	if err := f.svc.AddSlot(context.Background(), f.doctor, &Slot{Date: tomorrow(), StartTime: "09:00", EndTime: "10:00"}); err != nil {
		t.Fatalf("AddSlot: %v", err)
	}
	// [10:00,11:00) shares only the boundary point, which both intervals
	// exclude on one side.
	if err := f.svc.AddSlot(context.Background(), f.doctor, &Slot{Date: tomorrow(), StartTime: "10:00", EndTime: "11:00"}); err != nil {
		t.Errorf("touching window should be accepted, got %v", err)
	}
	// Same window, other doctor: no conflict across calendars.
	other := f.addDoctor(true)
	if err := f.svc.AddSlot(context.Background(), other, &Slot{Date: tomorrow(), StartTime: "09:30", EndTime: "10:30"}); err != nil {
		t.Errorf("other doctor's overlapping window should be accepted, got %v", err)
	}
}

func TestAddSlotAuthorization(t *testing.T) {
	f := newFixture()
	other := f.addDoctor(true)

	err := f.svc.AddSlot(context.Background(), f.doctor, &Slot{DoctorID: other.ID, Date: tomorrow(), StartTime: "09:00", EndTime: "10:00"})
	if apperror.CodeOf(err) != apperror.CodeNotOwner {
		t.Errorf("doctor publishing another's slot: expected not_owner, got %v", err)
	}

	err = f.svc.AddSlot(context.Background(), f.patient, &Slot{DoctorID: f.doctor.ID, Date: tomorrow(), StartTime: "09:00", EndTime: "10:00"})
	if apperror.CodeOf(err) != apperror.CodeRoleDenied {
		t.Errorf("patient publishing a slot: expected role_denied, got %v", err)
	}

	// Admin may publish for any doctor.
	if err := f.svc.AddSlot(context.Background(), f.admin, &Slot{DoctorID: f.doctor.ID, Date: tomorrow(), StartTime: "09:00", EndTime: "10:00"}); err != nil {
		t.Errorf("admin AddSlot: %v", err)
	}
}

func TestRemoveSlotOwnership(t *testing.T) {
	f := newFixture()
	other := f.addDoctor(true)
	sl := f.seedSlot(f.doctor.ID, tomorrow(), "09:00", "10:00")

	err := f.svc.RemoveSlot(context.Background(), other, sl.ID)
	if apperror.CodeOf(err) != apperror.CodeNotOwner {
		t.Errorf("expected not_owner, got %v", err)
	}

	if err := f.svc.RemoveSlot(context.Background(), f.doctor, sl.ID); err != nil {
		t.Fatalf("RemoveSlot by owner: %v", err)
	}

	err = f.svc.RemoveSlot(context.Background(), f.doctor, sl.ID)
	if apperror.CodeOf(err) != apperror.CodeNotFound {
		t.Errorf("removing a removed slot: expected not_found, got %v", err)
	}
}

func TestFindOpenSlotBoundaries(t *testing.T) {
	f := newFixture()
	f.seedSlot(f.doctor.ID, tomorrow(), "09:00", "10:00")

	// start is inclusive
	if _, err := f.svc.FindOpenSlot(context.Background(), f.doctor.ID, tomorrow(), "09:00"); err != nil {
		t.Errorf("09:00 should be covered, got %v", err)
	}
	if _, err := f.svc.FindOpenSlot(context.Background(), f.doctor.ID, tomorrow(), "09:59"); err != nil {
		t.Errorf("09:59 should be covered, got %v", err)
	}
	// end is exclusive
	if _, err := f.svc.FindOpenSlot(context.Background(), f.doctor.ID, tomorrow(), "10:00"); apperror.CodeOf(err) != apperror.CodeNoAvailability {
		t.Errorf("10:00: expected no_availability, got %v", err)
	}
	if _, err := f.svc.FindOpenSlot(context.Background(), f.doctor.ID, tomorrow(), "08:59"); apperror.CodeOf(err) != apperror.CodeNoAvailability {
		t.Errorf("08:59: expected no_availability, got %v", err)
	}
}

func TestListUpcomingOrdered(t *testing.T) {
	f := newFixture()
	day1 := tomorrow()
	day2 := day1.AddDays(1)
	f.seedSlot(f.doctor.ID, day2, "09:00", "10:00")
	f.seedSlot(f.doctor.ID, day1, "14:00", "15:00")
	f.seedSlot(f.doctor.ID, day1, "09:00", "10:00")
	f.seedSlot(f.doctor.ID, day1.AddDays(30), "09:00", "10:00") // outside window

	slots, err := f.svc.ListUpcoming(context.Background(), f.doctor.ID, day1, day2)
	if err != nil {
		t.Fatalf("ListUpcoming: %v", err)
	}
	if len(slots) != 3 {
		t.Fatalf("expected 3 slots in range, got %d", len(slots))
	}
	if !slots[0].Date.Equal(day1.Time) || slots[0].StartTime != "09:00" {
		t.Errorf("unexpected first slot %s %s", slots[0].Date, slots[0].StartTime)
	}
	if !slots[2].Date.Equal(day2.Time) {
		t.Errorf("unexpected last slot date %s", slots[2].Date)
	}

	if _, err := f.svc.ListUpcoming(context.Background(), f.doctor.ID, day2, day1); apperror.CodeOf(err) != apperror.CodeInvalidRange {
		t.Errorf("inverted range: expected invalid_range, got %v", err)
	}
}

// -- Booking --

func TestBook(t *testing.T) {
	f := newFixture()
	f.seedSlot(f.doctor.ID, tomorrow(), "09:00", "10:00")

	appt, err := f.book(f.patient, f.doctor.ID, tomorrow(), "09:00")
	if err != nil {
		t.Fatalf("Book: %v", err)
	}
	if appt.Status != StatusBooked {
		t.Errorf("expected status booked, got %s", appt.Status)
	}
	if appt.PatientID != f.patient.ID {
		t.Error("patient id should default to the acting patient")
	}
	if appt.Type != TypeConsultation || appt.Priority != PriorityRoutine {
		t.Errorf("expected default type/priority, got %s/%s", appt.Type, appt.Priority)
	}

	// The identical triple immediately again: taken.
	second := f.addPatient(true)
	_, err = f.book(second, f.doctor.ID, tomorrow(), "09:00")
	if apperror.CodeOf(err) != apperror.CodeSlotTaken {
		t.Errorf("expected slot_taken, got %v", err)
	}

	// A different minute inside the same window is free.
	if _, err := f.book(second, f.doctor.ID, tomorrow(), "09:30"); err != nil {
		t.Errorf("booking a free minute: %v", err)
	}
}

func TestBookGuards(t *testing.T) {
	f := newFixture()
	f.seedSlot(f.doctor.ID, tomorrow(), "09:00", "10:00")

	// Unknown doctor.
	if _, err := f.book(f.patient, uuid.New(), tomorrow(), "09:00"); apperror.CodeOf(err) != apperror.CodeNotFound {
		t.Errorf("unknown doctor: expected not_found, got %v", err)
	}

	// Inactive doctor.
	inactive := f.addDoctor(false)
	f.seedSlot(inactive.ID, tomorrow(), "09:00", "10:00")
	if _, err := f.book(f.patient, inactive.ID, tomorrow(), "09:00"); apperror.CodeOf(err) != apperror.CodeDoctorInactive {
		t.Errorf("inactive doctor: expected doctor_inactive, got %v", err)
	}

	// Past date.
	yesterday := DateOf(fixedNow).AddDays(-1)
	f.seedSlot(f.doctor.ID, yesterday, "09:00", "10:00")
	if _, err := f.book(f.patient, f.doctor.ID, yesterday, "09:00"); apperror.CodeOf(err) != apperror.CodePastDate {
		t.Errorf("past date: expected past_date, got %v", err)
	}

	// No open slot covers the time.
	if _, err := f.book(f.patient, f.doctor.ID, tomorrow(), "14:00"); apperror.CodeOf(err) != apperror.CodeNoAvailability {
		t.Errorf("uncovered time: expected no_availability, got %v", err)
	}

	// Patient booking on someone else's behalf.
	other := f.addPatient(true)
	_, err := f.svc.Book(context.Background(), f.patient, &BookingRequest{
		PatientID: other.ID, DoctorID: f.doctor.ID, Date: tomorrow(), Time: "09:00",
	})
	if apperror.CodeOf(err) != apperror.CodeNotOwner {
		t.Errorf("booking for another patient: expected not_owner, got %v", err)
	}

	// Doctors do not book.
	_, err = f.svc.Book(context.Background(), f.doctor, &BookingRequest{
		PatientID: f.patient.ID, DoctorID: f.doctor.ID, Date: tomorrow(), Time: "09:00",
	})
	if apperror.CodeOf(err) != apperror.CodeRoleDenied {
		t.Errorf("doctor booking: expected role_denied, got %v", err)
	}
}

func TestBookClosedSlotNotBookable(t *testing.T) {
	f := newFixture()
	sl := f.seedSlot(f.doctor.ID, tomorrow(), "09:00", "10:00")
	sl.Open = false

	if _, err := f.book(f.patient, f.doctor.ID, tomorrow(), "09:00"); apperror.CodeOf(err) != apperror.CodeNoAvailability {
		t.Errorf("closed slot: expected no_availability, got %v", err)
	}
}

func TestBookAdminOnBehalf(t *testing.T) {
	f := newFixture()
	f.seedSlot(f.doctor.ID, tomorrow(), "09:00", "10:00")

	appt, err := f.svc.Book(context.Background(), f.admin, &BookingRequest{
		PatientID: f.patient.ID, DoctorID: f.doctor.ID, Date: tomorrow(), Time: "09:00",
	})
	if err != nil {
		t.Fatalf("admin Book: %v", err)
	}
	if appt.PatientID != f.patient.ID {
		t.Error("appointment should belong to the named patient")
	}

	// Admin must name the patient explicitly.
	_, err = f.svc.Book(context.Background(), f.admin, &BookingRequest{
		DoctorID: f.doctor.ID, Date: tomorrow(), Time: "09:30",
	})
	if apperror.CodeOf(err) != apperror.CodeValidation {
		t.Errorf("admin without patient_id: expected validation_failed, got %v", err)
	}
}

func TestBookConcurrentSameTriple(t *testing.T) {
	f := newFixture()
	f.seedSlot(f.doctor.ID, tomorrow(), "09:00", "10:00")

	const bookers = 8
	patients := make([]auth.Actor, bookers)
	for i := range patients {
		patients[i] = f.addPatient(true)
	}

	var wg sync.WaitGroup
	errs := make([]error, bookers)
	for i := 0; i < bookers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = f.book(patients[i], f.doctor.ID, tomorrow(), "09:00")
		}(i)
	}
	wg.Wait()

	var wins, conflicts int
	for _, err := range errs {
		switch {
		case err == nil:
			wins++
		case apperror.CodeOf(err) == apperror.CodeSlotTaken:
			conflicts++
		default:
			t.Errorf("unexpected error: %v", err)
		}
	}
	if wins != 1 || conflicts != bookers-1 {
		t.Errorf("expected exactly 1 success and %d conflicts, got %d/%d", bookers-1, wins, conflicts)
	}
}

// -- Transitions --

func TestConfirm(t *testing.T) {
	f := newFixture()
	appt := f.seedAppointment(f.patient.ID, f.doctor.ID, tomorrow(), "09:00", StatusBooked)

	got, err := f.svc.Confirm(context.Background(), f.doctor, appt.ID)
	if err != nil {
		t.Fatalf("Confirm: %v", err)
	}
	if got.Status != StatusConfirmed {
		t.Errorf("expected confirmed, got %s", got.Status)
	}

	// Confirm is not idempotent: confirmed is not a legal source state.
	if _, err := f.svc.Confirm(context.Background(), f.doctor, appt.ID); apperror.CodeOf(err) != apperror.CodeInvalidTransition {
		t.Errorf("re-confirm: expected invalid_transition, got %v", err)
	}
}

func TestConfirmAuthorization(t *testing.T) {
	f := newFixture()
	appt := f.seedAppointment(f.patient.ID, f.doctor.ID, tomorrow(), "09:00", StatusBooked)

	other := f.addDoctor(true)
	if _, err := f.svc.Confirm(context.Background(), other, appt.ID); apperror.CodeOf(err) != apperror.CodeNotAssignedDoctor {
		t.Errorf("unassigned doctor: expected not_assigned_doctor, got %v", err)
	}
	if _, err := f.svc.Confirm(context.Background(), f.admin, appt.ID); apperror.CodeOf(err) != apperror.CodeRoleDenied {
		t.Errorf("admin: expected role_denied, got %v", err)
	}
	if _, err := f.svc.Confirm(context.Background(), f.patient, appt.ID); apperror.CodeOf(err) != apperror.CodeRoleDenied {
		t.Errorf("patient: expected role_denied, got %v", err)
	}
}

func TestCancelNoticeWindow(t *testing.T) {
	f := newFixture()
	today := DateOf(fixedNow)

	// 10:01 is 2h01m away from the 08:00 clock: allowed.
	early := f.seedAppointment(f.patient.ID, f.doctor.ID, today, "10:01", StatusBooked)
	if _, err := f.svc.Cancel(context.Background(), f.patient, early.ID); err != nil {
		t.Errorf("cancel 2h01m ahead: %v", err)
	}

	// 09:59 is 1h59m away: too late for the patient.
	late := f.seedAppointment(f.patient.ID, f.doctor.ID, today, "09:59", StatusBooked)
	if _, err := f.svc.Cancel(context.Background(), f.patient, late.ID); apperror.CodeOf(err) != apperror.CodeTooLateToCancel {
		t.Errorf("cancel 1h59m ahead: expected too_late_to_cancel, got %v", err)
	}

	// Exactly 2h away is already too late ("more than 2 hours" is strict).
	boundary := f.seedAppointment(f.patient.ID, f.doctor.ID, today, "10:00", StatusBooked)
	if _, err := f.svc.Cancel(context.Background(), f.patient, boundary.ID); apperror.CodeOf(err) != apperror.CodeTooLateToCancel {
		t.Errorf("cancel exactly 2h ahead: expected too_late_to_cancel, got %v", err)
	}

	// The doctor is not held to the notice: one minute ahead is fine.
	lastMinute := f.seedAppointment(f.patient.ID, f.doctor.ID, today, "08:01", StatusConfirmed)
	if _, err := f.svc.Cancel(context.Background(), f.doctor, lastMinute.ID); err != nil {
		t.Errorf("doctor cancel 1m ahead: %v", err)
	}

	// So is the admin.
	adminCancel := f.seedAppointment(f.patient.ID, f.doctor.ID, today, "08:01", StatusBooked)
	if _, err := f.svc.Cancel(context.Background(), f.admin, adminCancel.ID); err != nil {
		t.Errorf("admin cancel 1m ahead: %v", err)
	}
}

func TestCancelAuthorization(t *testing.T) {
	f := newFixture()
	appt := f.seedAppointment(f.patient.ID, f.doctor.ID, tomorrow(), "09:00", StatusBooked)

	other := f.addPatient(true)
	if _, err := f.svc.Cancel(context.Background(), other, appt.ID); apperror.CodeOf(err) != apperror.CodeNotOwner {
		t.Errorf("another patient: expected not_owner, got %v", err)
	}
	otherDoc := f.addDoctor(true)
	if _, err := f.svc.Cancel(context.Background(), otherDoc, appt.ID); apperror.CodeOf(err) != apperror.CodeNotAssignedDoctor {
		t.Errorf("unassigned doctor: expected not_assigned_doctor, got %v", err)
	}
}

func TestTerminalStatesRejectEveryTransition(t *testing.T) {
	f := newFixture()
	today := DateOf(fixedNow)
	f.seedSlot(f.doctor.ID, tomorrow(), "09:00", "10:00")

	cancelled := f.seedAppointment(f.patient.ID, f.doctor.ID, tomorrow(), "11:00", StatusCancelled)
	completed := f.seedAppointment(f.patient.ID, f.doctor.ID, today, "07:00", StatusCompleted)

	treatment := &TreatmentInput{Diagnosis: "flu"}

	if _, err := f.svc.Confirm(context.Background(), f.doctor, cancelled.ID); apperror.CodeOf(err) != apperror.CodeInvalidTransition {
		t.Errorf("confirm cancelled: expected invalid_transition, got %v", err)
	}
	if _, err := f.svc.Cancel(context.Background(), f.doctor, cancelled.ID); apperror.CodeOf(err) != apperror.CodeInvalidTransition {
		t.Errorf("cancel cancelled: expected invalid_transition, got %v", err)
	}
	if _, err := f.svc.Reschedule(context.Background(), f.patient, cancelled.ID, tomorrow(), "09:00"); apperror.CodeOf(err) != apperror.CodeInvalidTransition {
		t.Errorf("reschedule cancelled: expected invalid_transition, got %v", err)
	}
	if _, _, err := f.svc.Complete(context.Background(), f.doctor, cancelled.ID, treatment); apperror.CodeOf(err) != apperror.CodeNotCompletable {
		t.Errorf("complete cancelled: expected not_completable, got %v", err)
	}

	// From completed, the source state is reported as already completed.
	if _, err := f.svc.Confirm(context.Background(), f.doctor, completed.ID); apperror.CodeOf(err) != apperror.CodeAlreadyCompleted {
		t.Errorf("confirm completed: expected already_completed, got %v", err)
	}
	if _, err := f.svc.Cancel(context.Background(), f.doctor, completed.ID); apperror.CodeOf(err) != apperror.CodeAlreadyCompleted {
		t.Errorf("cancel completed: expected already_completed, got %v", err)
	}
	if _, _, err := f.svc.Complete(context.Background(), f.doctor, completed.ID, treatment); apperror.CodeOf(err) != apperror.CodeAlreadyCompleted {
		t.Errorf("complete completed: expected already_completed, got %v", err)
	}
}

// -- Reschedule --

func TestReschedule(t *testing.T) {
	f := newFixture()
	f.seedSlot(f.doctor.ID, tomorrow(), "09:00", "10:00")
	dayAfter := tomorrow().AddDays(1)
	f.seedSlot(f.doctor.ID, dayAfter, "14:00", "16:00")
	appt := f.seedAppointment(f.patient.ID, f.doctor.ID, tomorrow(), "09:00", StatusConfirmed)

	got, err := f.svc.Reschedule(context.Background(), f.patient, appt.ID, dayAfter, "14:30")
	if err != nil {
		t.Fatalf("Reschedule: %v", err)
	}
	if !got.Date.Equal(dayAfter.Time) || got.Time != "14:30" {
		t.Errorf("unexpected new schedule %s %s", got.Date, got.Time)
	}
	if got.Status != StatusBooked {
		t.Errorf("reschedule should return the appointment to booked, got %s", got.Status)
	}
}

func TestRescheduleToOwnSlotNoSelfConflict(t *testing.T) {
	f := newFixture()
	f.seedSlot(f.doctor.ID, tomorrow(), "09:00", "10:00")
	appt := f.seedAppointment(f.patient.ID, f.doctor.ID, tomorrow(), "09:00", StatusBooked)

	// The appointment's own row is excluded from the conflict check, so
	// rescheduling onto its current date and time succeeds.
	if _, err := f.svc.Reschedule(context.Background(), f.patient, appt.ID, tomorrow(), "09:00"); err != nil {
		t.Errorf("reschedule onto own slot: %v", err)
	}
}

func TestRescheduleConflict(t *testing.T) {
	f := newFixture()
	f.seedSlot(f.doctor.ID, tomorrow(), "09:00", "10:00")
	appt := f.seedAppointment(f.patient.ID, f.doctor.ID, tomorrow(), "09:00", StatusBooked)
	other := f.addPatient(true)
	f.seedAppointment(other.ID, f.doctor.ID, tomorrow(), "09:30", StatusBooked)

	_, err := f.svc.Reschedule(context.Background(), f.patient, appt.ID, tomorrow(), "09:30")
	if apperror.CodeOf(err) != apperror.CodeSlotTaken {
		t.Errorf("expected slot_taken, got %v", err)
	}

	// A cancelled occupant does not block the triple.
	f.seedAppointment(other.ID, f.doctor.ID, tomorrow(), "09:45", StatusCancelled)
	if _, err := f.svc.Reschedule(context.Background(), f.patient, appt.ID, tomorrow(), "09:45"); err != nil {
		t.Errorf("reschedule onto cancelled triple: %v", err)
	}
}

func TestRescheduleGuards(t *testing.T) {
	f := newFixture()
	f.seedSlot(f.doctor.ID, tomorrow(), "09:00", "10:00")
	appt := f.seedAppointment(f.patient.ID, f.doctor.ID, tomorrow(), "09:00", StatusBooked)

	yesterday := DateOf(fixedNow).AddDays(-1)
	if _, err := f.svc.Reschedule(context.Background(), f.patient, appt.ID, yesterday, "09:00"); apperror.CodeOf(err) != apperror.CodePastDate {
		t.Errorf("past date: expected past_date, got %v", err)
	}
	if _, err := f.svc.Reschedule(context.Background(), f.patient, appt.ID, tomorrow(), "13:00"); apperror.CodeOf(err) != apperror.CodeNoAvailability {
		t.Errorf("uncovered time: expected no_availability, got %v", err)
	}
	if _, err := f.svc.Reschedule(context.Background(), f.doctor, appt.ID, tomorrow(), "09:30"); apperror.CodeOf(err) != apperror.CodeRoleDenied {
		t.Errorf("doctor rescheduling: expected role_denied, got %v", err)
	}
	other := f.addPatient(true)
	if _, err := f.svc.Reschedule(context.Background(), other, appt.ID, tomorrow(), "09:30"); apperror.CodeOf(err) != apperror.CodeNotOwner {
		t.Errorf("another patient: expected not_owner, got %v", err)
	}
}

// -- Complete --

func TestComplete(t *testing.T) {
	f := newFixture()
	appt := f.seedAppointment(f.patient.ID, f.doctor.ID, tomorrow(), "09:00", StatusConfirmed)

	rx := "rest and fluids"
	got, trt, err := f.svc.Complete(context.Background(), f.doctor, appt.ID, &TreatmentInput{
		Diagnosis:    "  flu  ",
		Prescription: &rx,
	})
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if got.Status != StatusCompleted {
		t.Errorf("expected completed, got %s", got.Status)
	}
	if trt.Diagnosis != "flu" {
		t.Errorf("expected trimmed diagnosis, got %q", trt.Diagnosis)
	}
	if trt.AppointmentID != appt.ID {
		t.Error("treatment should reference the appointment")
	}
	if !trt.TreatmentDate.Equal(appt.Date.Time) {
		t.Error("treatment date should match the appointment date")
	}
	if len(f.treatments.treatments) != 1 {
		t.Fatalf("expected exactly 1 treatment row, got %d", len(f.treatments.treatments))
	}

	// Completing again reports the terminal state.
	_, _, err = f.svc.Complete(context.Background(), f.doctor, appt.ID, &TreatmentInput{Diagnosis: "flu"})
	if apperror.CodeOf(err) != apperror.CodeAlreadyCompleted {
		t.Errorf("re-complete: expected already_completed, got %v", err)
	}
	if len(f.treatments.treatments) != 1 {
		t.Errorf("re-complete must not add treatment rows, got %d", len(f.treatments.treatments))
	}
}

func TestCompleteRequiresDiagnosis(t *testing.T) {
	f := newFixture()
	appt := f.seedAppointment(f.patient.ID, f.doctor.ID, tomorrow(), "09:00", StatusBooked)

	_, _, err := f.svc.Complete(context.Background(), f.doctor, appt.ID, &TreatmentInput{Diagnosis: "   "})
	if apperror.CodeOf(err) != apperror.CodeMissingDiagnosis {
		t.Fatalf("expected missing_diagnosis, got %v", err)
	}

	// The appointment stays in its prior state and no treatment exists.
	after, _ := f.svc.Get(context.Background(), f.doctor, appt.ID)
	if after.Status != StatusBooked {
		t.Errorf("appointment should remain booked, got %s", after.Status)
	}
	if len(f.treatments.treatments) != 0 {
		t.Errorf("no treatment row should exist, got %d", len(f.treatments.treatments))
	}
}

func TestCompleteFollowUpDateRequired(t *testing.T) {
	f := newFixture()
	appt := f.seedAppointment(f.patient.ID, f.doctor.ID, tomorrow(), "09:00", StatusBooked)

	_, _, err := f.svc.Complete(context.Background(), f.doctor, appt.ID, &TreatmentInput{
		Diagnosis:        "flu",
		FollowUpRequired: true,
	})
	if apperror.CodeOf(err) != apperror.CodeFollowUpDateRequired {
		t.Fatalf("expected follow_up_date_required, got %v", err)
	}
	after, _ := f.svc.Get(context.Background(), f.doctor, appt.ID)
	if after.Status != StatusBooked {
		t.Errorf("appointment should remain booked, got %s", after.Status)
	}

	// With the date supplied the completion goes through.
	followUp := tomorrow().AddDays(14)
	_, trt, err := f.svc.Complete(context.Background(), f.doctor, appt.ID, &TreatmentInput{
		Diagnosis:        "flu",
		FollowUpRequired: true,
		FollowUpDate:     &followUp,
	})
	if err != nil {
		t.Fatalf("Complete with follow-up: %v", err)
	}
	if trt.FollowUpDate == nil || !trt.FollowUpDate.Equal(followUp.Time) {
		t.Error("follow-up date should be stored")
	}
}

func TestCompleteDropsUnflaggedFollowUpDate(t *testing.T) {
	f := newFixture()
	appt := f.seedAppointment(f.patient.ID, f.doctor.ID, tomorrow(), "09:00", StatusConfirmed)

	stray := tomorrow().AddDays(7)
	_, trt, err := f.svc.Complete(context.Background(), f.doctor, appt.ID, &TreatmentInput{
		Diagnosis:    "flu",
		FollowUpDate: &stray,
	})
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if trt.FollowUpRequired || trt.FollowUpDate != nil {
		t.Error("a follow-up date without the flag should not be stored")
	}
}

func TestCompleteAuthorization(t *testing.T) {
	f := newFixture()
	appt := f.seedAppointment(f.patient.ID, f.doctor.ID, tomorrow(), "09:00", StatusBooked)
	in := &TreatmentInput{Diagnosis: "flu"}

	other := f.addDoctor(true)
	if _, _, err := f.svc.Complete(context.Background(), other, appt.ID, in); apperror.CodeOf(err) != apperror.CodeNotAssignedDoctor {
		t.Errorf("unassigned doctor: expected not_assigned_doctor, got %v", err)
	}
	if _, _, err := f.svc.Complete(context.Background(), f.admin, appt.ID, in); apperror.CodeOf(err) != apperror.CodeRoleDenied {
		t.Errorf("admin: expected role_denied, got %v", err)
	}
	if _, _, err := f.svc.Complete(context.Background(), f.patient, appt.ID, in); apperror.CodeOf(err) != apperror.CodeRoleDenied {
		t.Errorf("patient: expected role_denied, got %v", err)
	}
}

// -- Reads --

func TestGetScoping(t *testing.T) {
	f := newFixture()
	appt := f.seedAppointment(f.patient.ID, f.doctor.ID, tomorrow(), "09:00", StatusBooked)

	if _, err := f.svc.Get(context.Background(), f.patient, appt.ID); err != nil {
		t.Errorf("owner patient: %v", err)
	}
	if _, err := f.svc.Get(context.Background(), f.doctor, appt.ID); err != nil {
		t.Errorf("assigned doctor: %v", err)
	}
	if _, err := f.svc.Get(context.Background(), f.admin, appt.ID); err != nil {
		t.Errorf("admin: %v", err)
	}

	other := f.addPatient(true)
	if _, err := f.svc.Get(context.Background(), other, appt.ID); apperror.CodeOf(err) != apperror.CodeNotOwner {
		t.Errorf("another patient: expected not_owner, got %v", err)
	}

	if _, err := f.svc.Get(context.Background(), f.admin, uuid.New()); apperror.CodeOf(err) != apperror.CodeNotFound {
		t.Errorf("missing id: expected not_found, got %v", err)
	}
}

func TestListRoleScoping(t *testing.T) {
	f := newFixture()
	otherPatient := f.addPatient(true)
	otherDoctor := f.addDoctor(true)
	f.seedAppointment(f.patient.ID, f.doctor.ID, tomorrow(), "09:00", StatusBooked)
	f.seedAppointment(otherPatient.ID, f.doctor.ID, tomorrow(), "09:30", StatusBooked)
	f.seedAppointment(otherPatient.ID, otherDoctor.ID, tomorrow(), "09:00", StatusBooked)

	_, total, err := f.svc.List(context.Background(), f.patient, AppointmentFilter{}, 20, 0)
	if err != nil || total != 1 {
		t.Errorf("patient should see 1 appointment, got %d (%v)", total, err)
	}
	_, total, err = f.svc.List(context.Background(), f.doctor, AppointmentFilter{}, 20, 0)
	if err != nil || total != 2 {
		t.Errorf("doctor should see 2 appointments, got %d (%v)", total, err)
	}
	_, total, err = f.svc.List(context.Background(), f.admin, AppointmentFilter{}, 20, 0)
	if err != nil || total != 3 {
		t.Errorf("admin should see 3 appointments, got %d (%v)", total, err)
	}

	// A patient's doctor filter stays within their own records.
	_, total, err = f.svc.List(context.Background(), f.patient, AppointmentFilter{DoctorID: otherDoctor.ID}, 20, 0)
	if err != nil || total != 0 {
		t.Errorf("patient filtered by another doctor should see 0, got %d (%v)", total, err)
	}
}

func TestListStatusFilterNormalized(t *testing.T) {
	f := newFixture()
	f.seedAppointment(f.patient.ID, f.doctor.ID, tomorrow(), "09:00", StatusBooked)
	f.seedAppointment(f.patient.ID, f.doctor.ID, tomorrow(), "10:00", StatusCancelled)

	// Legacy labels fold into booked.
	for _, label := range []string{"booked", "pending", "scheduled", "PENDING"} {
		_, total, err := f.svc.List(context.Background(), f.admin, AppointmentFilter{Status: label}, 20, 0)
		if err != nil {
			t.Fatalf("List status=%s: %v", label, err)
		}
		if total != 1 {
			t.Errorf("status=%s: expected 1, got %d", label, total)
		}
	}

	_, _, err := f.svc.List(context.Background(), f.admin, AppointmentFilter{Status: "no-show"}, 20, 0)
	if apperror.CodeOf(err) != apperror.CodeValidation {
		t.Errorf("unknown status: expected validation_failed, got %v", err)
	}
}

// -- Treatment reads --

func TestTreatmentByAppointment(t *testing.T) {
	f := newFixture()
	appt := f.seedAppointment(f.patient.ID, f.doctor.ID, tomorrow(), "09:00", StatusConfirmed)
	if _, _, err := f.svc.Complete(context.Background(), f.doctor, appt.ID, &TreatmentInput{Diagnosis: "flu"}); err != nil {
		t.Fatalf("Complete: %v", err)
	}

	if _, err := f.svc.TreatmentByAppointment(context.Background(), f.patient, appt.ID); err != nil {
		t.Errorf("owner patient: %v", err)
	}
	other := f.addPatient(true)
	if _, err := f.svc.TreatmentByAppointment(context.Background(), other, appt.ID); apperror.CodeOf(err) != apperror.CodeNotOwner {
		t.Errorf("another patient: expected not_owner, got %v", err)
	}
}

func TestTreatmentsForPatientScoping(t *testing.T) {
	f := newFixture()
	appt := f.seedAppointment(f.patient.ID, f.doctor.ID, tomorrow(), "09:00", StatusConfirmed)
	if _, _, err := f.svc.Complete(context.Background(), f.doctor, appt.ID, &TreatmentInput{Diagnosis: "flu"}); err != nil {
		t.Fatalf("Complete: %v", err)
	}

	if _, total, err := f.svc.TreatmentsForPatient(context.Background(), f.patient, f.patient.ID, 20, 0); err != nil || total != 1 {
		t.Errorf("patient reading own records: total=%d err=%v", total, err)
	}
	// The treating doctor has history with this patient.
	if _, _, err := f.svc.TreatmentsForPatient(context.Background(), f.doctor, f.patient.ID, 20, 0); err != nil {
		t.Errorf("treating doctor: %v", err)
	}
	// A doctor with no shared appointment does not.
	stranger := f.addDoctor(true)
	if _, _, err := f.svc.TreatmentsForPatient(context.Background(), stranger, f.patient.ID, 20, 0); apperror.CodeOf(err) != apperror.CodeNotAssignedDoctor {
		t.Errorf("stranger doctor: expected not_assigned_doctor, got %v", err)
	}
	other := f.addPatient(true)
	if _, _, err := f.svc.TreatmentsForPatient(context.Background(), other, f.patient.ID, 20, 0); apperror.CodeOf(err) != apperror.CodeNotOwner {
		t.Errorf("another patient: expected not_owner, got %v", err)
	}
}

func TestTreatmentsForDoctorScoping(t *testing.T) {
	f := newFixture()

	if _, _, err := f.svc.TreatmentsForDoctor(context.Background(), f.doctor, f.doctor.ID, 20, 0); err != nil {
		t.Errorf("doctor reading own log: %v", err)
	}
	other := f.addDoctor(true)
	if _, _, err := f.svc.TreatmentsForDoctor(context.Background(), other, f.doctor.ID, 20, 0); apperror.CodeOf(err) != apperror.CodeNotOwner {
		t.Errorf("another doctor: expected not_owner, got %v", err)
	}
	if _, _, err := f.svc.TreatmentsForDoctor(context.Background(), f.patient, f.doctor.ID, 20, 0); apperror.CodeOf(err) != apperror.CodeRoleDenied {
		t.Errorf("patient: expected role_denied, got %v", err)
	}
	if _, _, err := f.svc.TreatmentsForDoctor(context.Background(), f.admin, f.doctor.ID, 20, 0); err != nil {
		t.Errorf("admin: %v", err)
	}
}

package scheduling

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/clinicore/clinicore/internal/domain/directory"
	"github.com/clinicore/clinicore/internal/platform/auth"
	"github.com/clinicore/clinicore/internal/platform/db"
	"github.com/clinicore/clinicore/pkg/apperror"
)

// cancelNotice is how far ahead of the scheduled time a patient may
// still cancel or walk away from an appointment.
const cancelNotice = 2 * time.Hour

// ActorDirectory is the slice of the directory service the booking
// guards need: existence and active checks for both parties.
type ActorDirectory interface {
	GetDoctor(ctx context.Context, id uuid.UUID) (*directory.Doctor, error)
	GetPatient(ctx context.Context, actor auth.Actor, id uuid.UUID) (*directory.Patient, error)
}

// Service owns the scheduling rules: availability windows, the booking
// ledger with its status machine, and treatment attachment.
type Service struct {
	slots      SlotRepository
	appts      AppointmentRepository
	treatments TreatmentRepository
	directory  ActorDirectory
	tx         db.TxRunner
	now        func() time.Time
}

func NewService(slots SlotRepository, appts AppointmentRepository, treatments TreatmentRepository, dir ActorDirectory, tx db.TxRunner) *Service {
	return &Service{
		slots:      slots,
		appts:      appts,
		treatments: treatments,
		directory:  dir,
		tx:         tx,
		now:        time.Now,
	}
}

func (s *Service) today() Date {
	return DateOf(s.now())
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

// transitionErr distinguishes an already-completed source state from
// other illegal moves.
func transitionErr(from, to string) *apperror.Error {
	if from == StatusCompleted {
		return apperror.AlreadyCompleted("appointment is already completed")
	}
	return apperror.InvalidTransition(from, to)
}

// -- Availability --

// AddSlot publishes a bookable window. A doctor publishes their own;
// an admin may publish for any doctor.
func (s *Service) AddSlot(ctx context.Context, actor auth.Actor, sl *Slot) error {
	if sl.DoctorID == uuid.Nil && actor.Role == auth.RoleDoctor {
		sl.DoctorID = actor.ID
	}
	if err := auth.Authorize(actor, auth.ActionSlotManage, auth.Resource{DoctorID: sl.DoctorID}); err != nil {
		return err
	}
	if sl.DoctorID == uuid.Nil {
		return apperror.Validation("doctor_id is required")
	}

	start, err := parseClock(sl.StartTime)
	if err != nil {
		return apperror.InvalidRange(err.Error())
	}
	end, err := parseClock(sl.EndTime)
	if err != nil {
		return apperror.InvalidRange(err.Error())
	}
	if start >= end {
		return apperror.InvalidRange("start_time must be before end_time")
	}
	if sl.Date.IsZero() {
		return apperror.Validation("date is required")
	}
	if sl.Date.Time.Before(s.today().Time) {
		return apperror.PastDate("cannot add availability on a past date")
	}

	if actor.Role == auth.RoleAdmin {
		if _, err := s.directory.GetDoctor(ctx, sl.DoctorID); err != nil {
			return err
		}
	}

	existing, err := s.slots.ListByDoctorDate(ctx, sl.DoctorID, sl.Date)
	if err != nil {
		return repoErr(err, "slot")
	}
	for _, other := range existing {
		otherStart, _ := parseClock(other.StartTime)
		otherEnd, _ := parseClock(other.EndTime)
		if start < otherEnd && end > otherStart {
			return apperror.Overlap(fmt.Sprintf("window overlaps existing slot %s-%s", other.StartTime, other.EndTime))
		}
	}

	sl.Open = true
	if err := s.slots.Create(ctx, sl); err != nil {
		return repoErr(err, "slot")
	}
	return nil
}

// RemoveSlot withdraws a window. Only the owning doctor or an admin.
func (s *Service) RemoveSlot(ctx context.Context, actor auth.Actor, slotID uuid.UUID) error {
	sl, err := s.slots.GetByID(ctx, slotID)
	if err != nil {
		return repoErr(err, "slot")
	}
	if err := auth.Authorize(actor, auth.ActionSlotManage, auth.Resource{DoctorID: sl.DoctorID}); err != nil {
		return err
	}
	if err := s.slots.Delete(ctx, slotID); err != nil {
		return repoErr(err, "slot")
	}
	return nil
}

// FindOpenSlot resolves the open window covering clock time t on the
// given day, NoAvailability when none does.
func (s *Service) FindOpenSlot(ctx context.Context, doctorID uuid.UUID, date Date, clock string) (*Slot, error) {
	if _, err := parseClock(clock); err != nil {
		return nil, apperror.Validation(err.Error())
	}
	if date.IsZero() {
		return nil, apperror.Validation("date is required")
	}
	sl, err := s.slots.FindOpenAt(ctx, doctorID, date, clock)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperror.NoAvailability("no open slot covers " + clock)
	}
	if err != nil {
		return nil, repoErr(err, "slot")
	}
	return sl, nil
}

// ListUpcoming returns a doctor's windows in the inclusive date range,
// ordered by day then start time.
func (s *Service) ListUpcoming(ctx context.Context, doctorID uuid.UUID, from, to Date) ([]*Slot, error) {
	if to.Time.Before(from.Time) {
		return nil, apperror.InvalidRange("to must not precede from")
	}
	slots, err := s.slots.ListUpcoming(ctx, doctorID, from, to)
	if err != nil {
		return nil, repoErr(err, "slot")
	}
	return slots, nil
}

// -- Appointments --

// Book creates an appointment in status booked. Patients book for
// themselves; admins may book on a patient's behalf.
func (s *Service) Book(ctx context.Context, actor auth.Actor, req *BookingRequest) (*Appointment, error) {
	if req.PatientID == uuid.Nil && actor.Role == auth.RolePatient {
		req.PatientID = actor.ID
	}
	if err := auth.Authorize(actor, auth.ActionApptBook, auth.Resource{PatientID: req.PatientID}); err != nil {
		return nil, err
	}

	if req.PatientID == uuid.Nil {
		return nil, apperror.Validation("patient_id is required")
	}
	if req.DoctorID == uuid.Nil {
		return nil, apperror.Validation("doctor_id is required")
	}
	if req.Date.IsZero() {
		return nil, apperror.Validation("date is required")
	}
	if _, err := parseClock(req.Time); err != nil {
		return nil, apperror.Validation(err.Error())
	}
	apptType, err := normalizeType(req.Type)
	if err != nil {
		return nil, err
	}
	priority, err := normalizePriority(req.Priority)
	if err != nil {
		return nil, err
	}

	doctor, err := s.directory.GetDoctor(ctx, req.DoctorID)
	if err != nil {
		return nil, err
	}
	if !doctor.Active {
		return nil, apperror.DoctorInactive("doctor is not accepting appointments")
	}
	patient, err := s.directory.GetPatient(ctx, actor, req.PatientID)
	if err != nil {
		return nil, err
	}
	if !patient.Active {
		return nil, apperror.Validation("patient account is inactive")
	}

	if req.Date.Time.Before(s.today().Time) {
		return nil, apperror.PastDate("cannot book on a past date")
	}
	if _, err := s.FindOpenSlot(ctx, req.DoctorID, req.Date, req.Time); err != nil {
		return nil, err
	}

	appt := &Appointment{
		PatientID: req.PatientID,
		DoctorID:  req.DoctorID,
		Date:      req.Date,
		Time:      req.Time,
		Status:    StatusBooked,
		Type:      apptType,
		Priority:  priority,
		Reason:    req.Reason,
	}
	// The pre-check keeps the common conflict friendly; the partial
	// unique index settles races between concurrent bookings.
	err = s.tx(ctx, func(ctx context.Context) error {
		taken, err := s.appts.ExistsActive(ctx, req.DoctorID, req.Date, req.Time, uuid.Nil)
		if err != nil {
			return repoErr(err, "appointment")
		}
		if taken {
			return apperror.SlotTaken("the requested time is already booked")
		}
		return s.appts.Create(ctx, appt)
	})
	if err != nil {
		return nil, repoErr(err, "appointment")
	}
	return appt, nil
}

// Confirm moves booked → confirmed. Assigned doctor only.
func (s *Service) Confirm(ctx context.Context, actor auth.Actor, id uuid.UUID) (*Appointment, error) {
	appt, err := s.appts.GetByID(ctx, id)
	if err != nil {
		return nil, repoErr(err, "appointment")
	}
	if err := auth.Authorize(actor, auth.ActionApptConfirm, auth.Resource{PatientID: appt.PatientID, DoctorID: appt.DoctorID}); err != nil {
		return nil, err
	}
	if appt.Status != StatusBooked {
		return nil, transitionErr(appt.Status, StatusConfirmed)
	}
	if err := s.appts.UpdateStatus(ctx, id, StatusConfirmed); err != nil {
		return nil, repoErr(err, "appointment")
	}
	appt.Status = StatusConfirmed
	return appt, nil
}

// Cancel releases an appointment from a pre-terminal state. Patients are
// held to the cancellation notice; doctors and admins are not.
func (s *Service) Cancel(ctx context.Context, actor auth.Actor, id uuid.UUID) (*Appointment, error) {
	appt, err := s.appts.GetByID(ctx, id)
	if err != nil {
		return nil, repoErr(err, "appointment")
	}
	if err := auth.Authorize(actor, auth.ActionApptCancel, auth.Resource{PatientID: appt.PatientID, DoctorID: appt.DoctorID}); err != nil {
		return nil, err
	}
	if !openStatuses[appt.Status] {
		return nil, transitionErr(appt.Status, StatusCancelled)
	}
	if actor.Role == auth.RolePatient {
		cutoff := appt.StartsAt().Add(-cancelNotice)
		if !s.now().Before(cutoff) {
			return nil, apperror.TooLateToCancel("cancellations close 2 hours before the appointment")
		}
	}
	if err := s.appts.UpdateStatus(ctx, id, StatusCancelled); err != nil {
		return nil, repoErr(err, "appointment")
	}
	appt.Status = StatusCancelled
	return appt, nil
}

// Reschedule moves an open appointment to a new date and time, re-running
// the booking guards with the appointment's own row excluded from the
// conflict check. The status returns to booked.
func (s *Service) Reschedule(ctx context.Context, actor auth.Actor, id uuid.UUID, newDate Date, newTime string) (*Appointment, error) {
	appt, err := s.appts.GetByID(ctx, id)
	if err != nil {
		return nil, repoErr(err, "appointment")
	}
	if err := auth.Authorize(actor, auth.ActionApptReschedule, auth.Resource{PatientID: appt.PatientID, DoctorID: appt.DoctorID}); err != nil {
		return nil, err
	}
	if !openStatuses[appt.Status] {
		return nil, transitionErr(appt.Status, StatusBooked)
	}
	if newDate.IsZero() {
		return nil, apperror.Validation("date is required")
	}
	if _, err := parseClock(newTime); err != nil {
		return nil, apperror.Validation(err.Error())
	}
	if newDate.Time.Before(s.today().Time) {
		return nil, apperror.PastDate("cannot reschedule onto a past date")
	}
	if _, err := s.FindOpenSlot(ctx, appt.DoctorID, newDate, newTime); err != nil {
		return nil, err
	}

	err = s.tx(ctx, func(ctx context.Context) error {
		taken, err := s.appts.ExistsActive(ctx, appt.DoctorID, newDate, newTime, appt.ID)
		if err != nil {
			return repoErr(err, "appointment")
		}
		if taken {
			return apperror.SlotTaken("the requested time is already booked")
		}
		return s.appts.UpdateSchedule(ctx, appt.ID, newDate, newTime, StatusBooked)
	})
	if err != nil {
		return nil, repoErr(err, "appointment")
	}
	appt.Date = newDate
	appt.Time = newTime
	appt.Status = StatusBooked
	return appt, nil
}

// Complete closes out an appointment and attaches its treatment in one
// transaction. Assigned doctor only.
func (s *Service) Complete(ctx context.Context, actor auth.Actor, id uuid.UUID, in *TreatmentInput) (*Appointment, *Treatment, error) {
	appt, err := s.appts.GetByID(ctx, id)
	if err != nil {
		return nil, nil, repoErr(err, "appointment")
	}
	if err := auth.Authorize(actor, auth.ActionApptComplete, auth.Resource{PatientID: appt.PatientID, DoctorID: appt.DoctorID}); err != nil {
		return nil, nil, err
	}
	switch appt.Status {
	case StatusBooked, StatusConfirmed:
	case StatusCompleted:
		return nil, nil, apperror.AlreadyCompleted("appointment is already completed")
	default:
		return nil, nil, apperror.NotCompletable("only booked or confirmed appointments can be completed")
	}

	if strings.TrimSpace(in.Diagnosis) == "" {
		return nil, nil, apperror.MissingDiagnosis("diagnosis is required to complete an appointment")
	}
	if in.FollowUpRequired && in.FollowUpDate == nil {
		return nil, nil, apperror.FollowUpDateRequired("follow_up_date is required when follow-up is requested")
	}

	trt := &Treatment{
		AppointmentID:    appt.ID,
		Diagnosis:        strings.TrimSpace(in.Diagnosis),
		Prescription:     in.Prescription,
		Notes:            in.Notes,
		TreatmentDate:    appt.Date,
		FollowUpRequired: in.FollowUpRequired,
	}
	// A follow-up date without the flag is dropped rather than stored.
	if in.FollowUpRequired {
		trt.FollowUpDate = in.FollowUpDate
	}

	err = s.tx(ctx, func(ctx context.Context) error {
		if err := s.appts.UpdateStatus(ctx, appt.ID, StatusCompleted); err != nil {
			return repoErr(err, "appointment")
		}
		return s.treatments.Create(ctx, trt)
	})
	if err != nil {
		return nil, nil, repoErr(err, "treatment")
	}
	appt.Status = StatusCompleted
	return appt, trt, nil
}

// Get returns one appointment to its patient, its doctor, or an admin.
func (s *Service) Get(ctx context.Context, actor auth.Actor, id uuid.UUID) (*Appointment, error) {
	appt, err := s.appts.GetByID(ctx, id)
	if err != nil {
		return nil, repoErr(err, "appointment")
	}
	if err := auth.Authorize(actor, auth.ActionApptView, auth.Resource{PatientID: appt.PatientID, DoctorID: appt.DoctorID}); err != nil {
		return nil, err
	}
	return appt, nil
}

// List returns appointments scoped to the caller: patients see their
// own, doctors their assigned, admins everything.
func (s *Service) List(ctx context.Context, actor auth.Actor, filter AppointmentFilter, limit, offset int) ([]*Appointment, int, error) {
	params := map[string]string{}
	if filter.Status != "" {
		status, err := normalizeStatus(filter.Status)
		if err != nil {
			return nil, 0, err
		}
		params["status"] = status
	}
	if filter.Date != nil {
		params["date"] = filter.Date.String()
	}

	switch actor.Role {
	case auth.RolePatient:
		params["patient_id"] = actor.ID.String()
		if filter.DoctorID != uuid.Nil {
			params["doctor_id"] = filter.DoctorID.String()
		}
	case auth.RoleDoctor:
		params["doctor_id"] = actor.ID.String()
		if filter.PatientID != uuid.Nil {
			params["patient_id"] = filter.PatientID.String()
		}
	default:
		if filter.DoctorID != uuid.Nil {
			params["doctor_id"] = filter.DoctorID.String()
		}
		if filter.PatientID != uuid.Nil {
			params["patient_id"] = filter.PatientID.String()
		}
	}

	appts, total, err := s.appts.Search(ctx, params, limit, offset)
	if err != nil {
		return nil, 0, repoErr(err, "appointment")
	}
	return appts, total, nil
}

// -- Treatments --

func (s *Service) TreatmentByAppointment(ctx context.Context, actor auth.Actor, appointmentID uuid.UUID) (*Treatment, error) {
	appt, err := s.appts.GetByID(ctx, appointmentID)
	if err != nil {
		return nil, repoErr(err, "appointment")
	}
	if err := auth.Authorize(actor, auth.ActionApptView, auth.Resource{PatientID: appt.PatientID, DoctorID: appt.DoctorID}); err != nil {
		return nil, err
	}
	trt, err := s.treatments.GetByAppointment(ctx, appointmentID)
	if err != nil {
		return nil, repoErr(err, "treatment")
	}
	return trt, nil
}

// TreatmentsForPatient returns a patient's medical history: the patient
// themself, doctors who have seen them, or an admin.
func (s *Service) TreatmentsForPatient(ctx context.Context, actor auth.Actor, patientID uuid.UUID, limit, offset int) ([]*Treatment, int, error) {
	switch actor.Role {
	case auth.RolePatient:
		if actor.ID != patientID {
			return nil, 0, apperror.NotOwner("not your medical records")
		}
	case auth.RoleDoctor:
		seen, err := s.appts.ExistsForPair(ctx, actor.ID, patientID)
		if err != nil {
			return nil, 0, repoErr(err, "appointment")
		}
		if !seen {
			return nil, 0, apperror.NotAssignedDoctor("no appointment history with this patient")
		}
	}

	treatments, total, err := s.treatments.ListByPatient(ctx, patientID, limit, offset)
	if err != nil {
		return nil, 0, repoErr(err, "treatment")
	}
	return treatments, total, nil
}

// TreatmentsForDoctor returns the treatments a doctor has recorded; the
// doctor themself or an admin.
func (s *Service) TreatmentsForDoctor(ctx context.Context, actor auth.Actor, doctorID uuid.UUID, limit, offset int) ([]*Treatment, int, error) {
	switch actor.Role {
	case auth.RolePatient:
		return nil, 0, apperror.RoleDenied("treatment logs are staff-only")
	case auth.RoleDoctor:
		if actor.ID != doctorID {
			return nil, 0, apperror.NotOwner("not your treatment log")
		}
	}

	treatments, total, err := s.treatments.ListByDoctor(ctx, doctorID, limit, offset)
	if err != nil {
		return nil, 0, repoErr(err, "treatment")
	}
	return treatments, total, nil
}

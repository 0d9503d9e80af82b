package scheduling

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/medbook/medbook/internal/platform/apperr"
	"github.com/medbook/medbook/internal/platform/auth"
	"github.com/medbook/medbook/internal/platform/events"
	"github.com/medbook/medbook/internal/platform/lock"
	"github.com/medbook/medbook/internal/platform/telemetry"
)

// transitions lists the statuses each status may move to. Completed and
// cancelled are terminal; confirmed and completed may be re-saved in place so
// the doctor can amend notes.
var transitions = map[string]map[string]bool{
	StatusPending:   {StatusConfirmed: true, StatusCompleted: true, StatusCancelled: true},
	StatusConfirmed: {StatusConfirmed: true, StatusCompleted: true, StatusCancelled: true},
	StatusCompleted: {StatusCompleted: true},
	StatusCancelled: {},
}

type Service struct {
	schedules    ScheduleRepository
	appointments AppointmentRepository
	users        UserDirectory

	tx        Transactor
	locker    lock.Locker
	publisher events.Publisher
	recorder  Recorder
	logger    zerolog.Logger
	now       func() time.Time
}

// NewService returns a Service that locks slots in process and runs the
// booking steps without a surrounding transaction. Production wiring
// replaces both through the setters.
func NewService(sched ScheduleRepository, appt AppointmentRepository, users UserDirectory) *Service {
	return &Service{
		schedules:    sched,
		appointments: appt,
		users:        users,
		tx:           inlineTx{},
		locker:       lock.NewKeyedMutex(0),
		logger:       zerolog.Nop(),
		now:          time.Now,
	}
}

func (s *Service) SetTransactor(tx Transactor) { s.tx = tx }
func (s *Service) SetLocker(l lock.Locker) { s.locker = l }
func (s *Service) SetPublisher(p events.Publisher) { s.publisher = p }
func (s *Service) SetRecorder(r Recorder) { s.recorder = r }
func (s *Service) SetLogger(logger zerolog.Logger) { s.logger = logger }

type inlineTx struct{}

func (inlineTx) WithinTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return fn(ctx)
}

// -- Schedule --

func (s *Service) CreateSchedule(ctx context.Context, doctorID uuid.UUID, sched *Schedule) error {
	if doctorID == uuid.Nil {
		return apperr.Invalid("doctor_id is required")
	}
	sched.DoctorID = doctorID
	if err := sched.validate(); err != nil {
		return err
	}
	_, err := s.schedules.GetByDoctorDate(ctx, doctorID, sched.Date)
	if err == nil {
		return apperr.Invalid(msgScheduleExists)
	}
	if !errors.Is(err, apperr.ErrNotFound) {
		return err
	}
	return s.schedules.Create(ctx, sched)
}

func (s *Service) ListSchedules(ctx context.Context, doctorID uuid.UUID, date string) ([]*Schedule, error) {
	if date != "" && !validDate(date) {
		return nil, apperr.Invalid("date must be YYYY-MM-DD")
	}
	items, err := s.schedules.ListByDoctor(ctx, doctorID, date)
	if err != nil {
		return nil, err
	}
	if items == nil {
		items = []*Schedule{}
	}
	return items, nil
}

// GetAvailableSlots returns the available slots the doctor declared for date
// whose start time is not held by a pending or confirmed appointment. A date
// without a schedule yields an empty list.
func (s *Service) GetAvailableSlots(ctx context.Context, doctorID uuid.UUID, date string) ([]TimeSlot, error) {
	out := []TimeSlot{}
	sched, err := s.schedules.GetByDoctorDate(ctx, doctorID, date)
	if errors.Is(err, apperr.ErrNotFound) {
		return out, nil
	}
	if err != nil {
		return nil, err
	}

	held, err := s.appointments.ActiveTimes(ctx, doctorID, date)
	if err != nil {
		return nil, err
	}
	booked := make(map[string]bool, len(held))
	for _, t := range held {
		booked[t] = true
	}
	for _, ts := range sched.TimeSlots {
		if ts.IsAvailable && !booked[ts.StartTime] {
			out = append(out, ts)
		}
	}
	return out, nil
}

// -- Booking --

// CreateAppointment books a pending appointment for patientID. Concurrent
// requests for the same (doctor, date, time) are serialized on the slot lock
// and the insert is additionally guarded by the active-slot unique index, so
// at most one of them succeeds.
func (s *Service) CreateAppointment(ctx context.Context, patientID uuid.UUID, req BookingRequest) (*Appointment, error) {
	appt, err := s.book(ctx, patientID, req)
	s.recordBooking(err)
	if err != nil {
		return nil, err
	}
	s.publish(ctx, events.TypeAppointmentCreated, appt, "", patientID)
	return appt, nil
}

func (s *Service) book(ctx context.Context, patientID uuid.UUID, req BookingRequest) (*Appointment, error) {
	if patientID == uuid.Nil {
		return nil, apperr.Invalid("patient_id is required")
	}
	if err := req.validate(); err != nil {
		return nil, err
	}

	role, err := s.users.LookupRole(ctx, req.DoctorID)
	if errors.Is(err, apperr.ErrNotFound) || (err == nil && role != auth.RoleDoctor) {
		return nil, apperr.NotFound("doctor not found")
	}
	if err != nil {
		return nil, fmt.Errorf("look up doctor: %w", err)
	}

	release, err := s.acquireSlot(ctx, req.DoctorID, req.Date, req.Time)
	if err != nil {
		return nil, err
	}
	defer release()

	appt := &Appointment{
		PatientID: patientID,
		DoctorID:  req.DoctorID,
		Date:      req.Date,
		Time:      req.Time,
		Reason:    req.Reason,
		Notes:     req.Notes,
		Status:    StatusPending,
	}
	err = s.tx.WithinTx(ctx, func(ctx context.Context) error {
		sched, err := s.schedules.GetByDoctorDate(ctx, req.DoctorID, req.Date)
		if errors.Is(err, apperr.ErrNotFound) {
			return apperr.Invalid("doctor not available on this date")
		}
		if err != nil {
			return err
		}
		if !sched.declaresAvailable(req.Time) {
			return apperr.Invalid("time slot not available")
		}

		_, err = s.appointments.FindActive(ctx, req.DoctorID, req.Date, req.Time)
		if err == nil {
			return apperr.Conflict(msgSlotBooked)
		}
		if !errors.Is(err, apperr.ErrNotFound) {
			return err
		}
		return s.appointments.Create(ctx, appt)
	})
	if err != nil {
		return nil, err
	}
	return appt, nil
}

func (s *Service) acquireSlot(ctx context.Context, doctorID uuid.UUID, date, clock string) (func(), error) {
	release, err := s.locker.Acquire(ctx, SlotKey(doctorID, date, clock))
	if errors.Is(err, lock.ErrTimeout) {
		return nil, apperr.Conflict("time slot is being booked by another request")
	}
	if err != nil {
		return nil, fmt.Errorf("lock slot: %w", err)
	}
	return release, nil
}

func (s *Service) recordBooking(err error) {
	if s.recorder == nil {
		return
	}
	switch {
	case err == nil:
		s.recorder.ObserveBooking(telemetry.OutcomeBooked)
	case errors.Is(err, apperr.ErrConflict):
		s.recorder.ObserveBooking(telemetry.OutcomeConflict)
	case errors.Is(err, apperr.ErrInvalidRequest), errors.Is(err, apperr.ErrNotFound):
		s.recorder.ObserveBooking(telemetry.OutcomeRejected)
	default:
		s.recorder.ObserveBooking(telemetry.OutcomeError)
	}
}

// -- Lifecycle --

// UpdateAppointmentStatus applies a status change requested by actor. The
// assigned doctor may confirm, complete or cancel; the owning patient may
// only cancel. Everyone else is forbidden.
func (s *Service) UpdateAppointmentStatus(ctx context.Context, actor auth.Principal, id uuid.UUID, upd StatusUpdate) (*Appointment, error) {
	if !ValidStatus(upd.Status) {
		return nil, apperr.Invalid("invalid status: " + upd.Status)
	}
	appt, err := s.appointments.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	switch actor.Role {
	case auth.RoleDoctor:
		if appt.DoctorID != actor.ID {
			return nil, apperr.Forbidden("not authorized")
		}
	case auth.RolePatient:
		if appt.PatientID != actor.ID {
			return nil, apperr.Forbidden("not authorized")
		}
		if upd.Status != StatusCancelled {
			return nil, apperr.Forbidden("patients can only cancel appointments")
		}
		if upd.DoctorNotes != nil {
			return nil, apperr.Forbidden("patients cannot set doctor notes")
		}
	default:
		return nil, apperr.Forbidden("not authorized")
	}
	return s.transition(ctx, actor, appt, upd.Status, upd.DoctorNotes)
}

// CancelAppointment cancels an appointment on behalf of its owning patient.
// The record is kept and the slot becomes bookable again.
func (s *Service) CancelAppointment(ctx context.Context, actor auth.Principal, id uuid.UUID) (*Appointment, error) {
	appt, err := s.appointments.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !actor.Is(auth.RolePatient) || appt.PatientID != actor.ID {
		return nil, apperr.Forbidden("not authorized")
	}
	return s.transition(ctx, actor, appt, StatusCancelled, nil)
}

func (s *Service) transition(ctx context.Context, actor auth.Principal, appt *Appointment, to string, doctorNotes *string) (*Appointment, error) {
	from := appt.Status
	if !transitions[from][to] {
		return nil, apperr.Invalid(fmt.Sprintf("cannot change a %s appointment to %s", from, to))
	}

	release, err := s.acquireSlot(ctx, appt.DoctorID, appt.Date, appt.Time)
	if err != nil {
		return nil, err
	}
	defer release()

	updated, err := s.appointments.UpdateStatus(ctx, appt.ID, from, to, doctorNotes)
	if err != nil {
		return nil, err
	}
	if s.recorder != nil {
		s.recorder.ObserveTransition(from, to)
	}
	if from != to {
		s.publish(ctx, events.TypeAppointmentStatusChanged, updated, from, actor.ID)
	}
	return updated, nil
}

// -- Queries --

// ListMyAppointments returns the actor's appointments, newest first.
func (s *Service) ListMyAppointments(ctx context.Context, actor auth.Principal) ([]*AppointmentDetail, error) {
	var items []*AppointmentDetail
	var err error
	switch actor.Role {
	case auth.RolePatient:
		items, err = s.appointments.ListByPatient(ctx, actor.ID)
	case auth.RoleDoctor:
		items, err = s.appointments.ListByDoctor(ctx, actor.ID)
	default:
		return nil, apperr.Forbidden("only patients and doctors have appointments")
	}
	if err != nil {
		return nil, err
	}
	if items == nil {
		items = []*AppointmentDetail{}
	}
	return items, nil
}

func (s *Service) GetAppointment(ctx context.Context, actor auth.Principal, id uuid.UUID) (*Appointment, error) {
	appt, err := s.appointments.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if actor.Is(auth.RoleAdmin) || appt.PatientID == actor.ID || appt.DoctorID == actor.ID {
		return appt, nil
	}
	return nil, apperr.Forbidden("not authorized")
}

func (s *Service) publish(ctx context.Context, eventType string, a *Appointment, previous string, actorID uuid.UUID) {
	if s.publisher == nil {
		return
	}
	evt := events.Event{
		ID:             uuid.New(),
		Type:           eventType,
		OccurredAt:     s.now().UTC(),
		AppointmentID:  a.ID,
		PatientID:      a.PatientID,
		DoctorID:       a.DoctorID,
		Date:           a.Date,
		Time:           a.Time,
		Status:         a.Status,
		PreviousStatus: previous,
		ActorID:        actorID,
	}
	if err := s.publisher.Publish(ctx, evt); err != nil {
		s.logger.Warn().Err(err).
			Str("appointment_id", a.ID.String()).
			Str("type", eventType).
			Msg("publish appointment event")
	}
}

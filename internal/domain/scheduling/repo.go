package scheduling

import (
	"context"

	"github.com/google/uuid"
)

// Lookups of a missing record return an apperr NotFound error.

type ScheduleRepository interface {
	// Create fails with InvalidRequest when a schedule already exists for
	// the same (doctor, date).
	Create(ctx context.Context, s *Schedule) error
	GetByDoctorDate(ctx context.Context, doctorID uuid.UUID, date string) (*Schedule, error)
	ListByDoctor(ctx context.Context, doctorID uuid.UUID, date string) ([]*Schedule, error)
}

type AppointmentRepository interface {
	// Create fails with Conflict when an active appointment already holds
	// the same (doctor, date, time).
	Create(ctx context.Context, a *Appointment) error
	GetByID(ctx context.Context, id uuid.UUID) (*Appointment, error)
	FindActive(ctx context.Context, doctorID uuid.UUID, date, clock string) (*Appointment, error)
	ActiveTimes(ctx context.Context, doctorID uuid.UUID, date string) ([]string, error)
	ListByPatient(ctx context.Context, patientID uuid.UUID) ([]*AppointmentDetail, error)
	ListByDoctor(ctx context.Context, doctorID uuid.UUID) ([]*AppointmentDetail, error)
	// UpdateStatus moves the appointment from one status to another and fails
	// with Conflict if it is no longer in the from status.
	UpdateStatus(ctx context.Context, id uuid.UUID, from, to string, doctorNotes *string) (*Appointment, error)
}

// UserDirectory resolves user roles.
type UserDirectory interface {
	LookupRole(ctx context.Context, id uuid.UUID) (string, error)
}

// Transactor runs fn inside a single database transaction.
type Transactor interface {
	WithinTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// Recorder receives booking and lifecycle outcomes for metrics.
type Recorder interface {
	ObserveBooking(outcome string)
	ObserveTransition(from, to string)
}

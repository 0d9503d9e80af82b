// Package events publishes appointment domain events for downstream
// consumers such as reminder and notification services.
package events

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

const (
	TypeAppointmentCreated       = "appointment.created"
	TypeAppointmentStatusChanged = "appointment.status_changed"
)

// Event is the envelope written to the broker.
type Event struct {
	ID             uuid.UUID `json:"id"`
	Type           string    `json:"type"`
	OccurredAt     time.Time `json:"occurred_at"`
	AppointmentID  uuid.UUID `json:"appointment_id"`
	PatientID      uuid.UUID `json:"patient_id"`
	DoctorID       uuid.UUID `json:"doctor_id"`
	Date           string    `json:"date"`
	Time           string    `json:"time"`
	Status         string    `json:"status"`
	PreviousStatus string    `json:"previous_status,omitempty"`
	ActorID        uuid.UUID `json:"actor_id"`
}

// Publisher delivers events. Publishing happens after the state change has
// been committed, so a failed publish never rolls anything back.
type Publisher interface {
	Publish(ctx context.Context, evt Event) error
}

// ResultObserver counts publish outcomes.
type ResultObserver interface {
	ObserveEvent(eventType string, err error)
}

// LogPublisher writes events to the log. It is used when no broker is
// configured.
type LogPublisher struct {
	logger zerolog.Logger
}

func NewLogPublisher(logger zerolog.Logger) *LogPublisher {
	return &LogPublisher{logger: logger}
}

func (p *LogPublisher) Publish(_ context.Context, evt Event) error {
	p.logger.Info().
		Str("event_id", evt.ID.String()).
		Str("type", evt.Type).
		Str("appointment_id", evt.AppointmentID.String()).
		Str("status", evt.Status).
		Msg("appointment event")
	return nil
}

type observedPublisher struct {
	Publisher
	obs ResultObserver
}

// Observe wraps p so that every publish outcome is reported to obs.
func Observe(p Publisher, obs ResultObserver) Publisher {
	if obs == nil {
		return p
	}
	return &observedPublisher{Publisher: p, obs: obs}
}

func (o *observedPublisher) Publish(ctx context.Context, evt Event) error {
	err := o.Publisher.Publish(ctx, evt)
	o.obs.ObserveEvent(evt.Type, err)
	return err
}

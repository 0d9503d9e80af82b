package scheduling

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/medbook/medbook/internal/platform/apperr"
)

// Appointment statuses.
const (
	StatusPending   = "pending"
	StatusConfirmed = "confirmed"
	StatusCompleted = "completed"
	StatusCancelled = "cancelled"
)

const (
	dateLayout  = "2006-01-02"
	clockLayout = "15:04"
)

var validAppointmentStatuses = map[string]bool{
	StatusPending: true, StatusConfirmed: true, StatusCompleted: true, StatusCancelled: true,
}

func ValidStatus(status string) bool { return validAppointmentStatuses[status] }

// IsActive reports whether an appointment in this status occupies its slot.
func IsActive(status string) bool {
	return status == StatusPending || status == StatusConfirmed
}

// TimeSlot is one declared interval in a doctor's day. Times are naive
// local "HH:MM" strings.
type TimeSlot struct {
	StartTime   string `json:"start_time"`
	EndTime     string `json:"end_time"`
	IsAvailable bool   `json:"is_available"`
}

// Schedule maps to the doctor_schedules table. There is at most one per
// (doctor, date).
type Schedule struct {
	ID        uuid.UUID  `db:"id" json:"id"`
	DoctorID  uuid.UUID  `db:"doctor_id" json:"doctor_id"`
	Date      string     `db:"schedule_date" json:"date"`
	TimeSlots []TimeSlot `db:"time_slots" json:"time_slots"`
	CreatedAt time.Time  `db:"created_at" json:"created_at"`
}

// Appointment maps to the appointments table. Records are never deleted;
// cancellation is a status change.
type Appointment struct {
	ID          uuid.UUID `db:"id" json:"id"`
	PatientID   uuid.UUID `db:"patient_id" json:"patient_id"`
	DoctorID    uuid.UUID `db:"doctor_id" json:"doctor_id"`
	Date        string    `db:"appointment_date" json:"appointment_date"`
	Time        string    `db:"appointment_time" json:"appointment_time"`
	Reason      string    `db:"reason" json:"reason"`
	Notes       *string   `db:"notes" json:"notes,omitempty"`
	Status      string    `db:"status" json:"status"`
	DoctorNotes *string   `db:"doctor_notes" json:"doctor_notes,omitempty"`
	CreatedAt   time.Time `db:"created_at" json:"created_at"`
	UpdatedAt   time.Time `db:"updated_at" json:"updated_at"`
}

// AppointmentDetail is an appointment with the names and contacts of both
// participants, as shown in "my appointments" listings.
type AppointmentDetail struct {
	Appointment
	PatientName     string `json:"patient_name"`
	PatientEmail    string `json:"patient_email"`
	PatientPhone    string `json:"patient_phone"`
	DoctorName      string `json:"doctor_name"`
	DoctorSpecialty string `json:"doctor_specialty"`
	DoctorPhone     string `json:"doctor_phone"`
}

// BookingRequest is the input of the booking transaction.
type BookingRequest struct {
	DoctorID uuid.UUID `json:"doctor_id"`
	Date     string    `json:"appointment_date"`
	Time     string    `json:"appointment_time"`
	Reason   string    `json:"reason"`
	Notes    *string   `json:"notes,omitempty"`
}

// StatusUpdate is the input of a lifecycle transition.
type StatusUpdate struct {
	Status      string  `json:"status"`
	DoctorNotes *string `json:"doctor_notes,omitempty"`
}

// SlotKey identifies the unit of mutual exclusion for bookings.
func SlotKey(doctorID uuid.UUID, date, clock string) string {
	return doctorID.String() + "|" + date + "|" + clock
}

func validDate(s string) bool {
	_, err := time.Parse(dateLayout, s)
	return err == nil && len(s) == len(dateLayout)
}

func validClock(s string) bool {
	_, err := time.Parse(clockLayout, s)
	return err == nil && len(s) == len(clockLayout)
}

func (r *BookingRequest) validate() error {
	r.Reason = strings.TrimSpace(r.Reason)
	if r.DoctorID == uuid.Nil {
		return apperr.Invalid("doctor_id is required")
	}
	if !validDate(r.Date) {
		return apperr.Invalid("appointment_date must be YYYY-MM-DD")
	}
	if !validClock(r.Time) {
		return apperr.Invalid("appointment_time must be HH:MM")
	}
	if r.Reason == "" {
		return apperr.Invalid("reason is required")
	}
	return nil
}

// validate checks the date and slot formats. Slots may be unsorted and may
// overlap, but two slots cannot share a start time because bookings are
// matched to slots by start time.
func (s *Schedule) validate() error {
	if !validDate(s.Date) {
		return apperr.Invalid("date must be YYYY-MM-DD")
	}
	if len(s.TimeSlots) == 0 {
		return apperr.Invalid("time_slots cannot be empty")
	}
	seen := make(map[string]bool, len(s.TimeSlots))
	for i, ts := range s.TimeSlots {
		if !validClock(ts.StartTime) || !validClock(ts.EndTime) {
			return apperr.Invalid(fmt.Sprintf("time_slots[%d]: times must be HH:MM", i))
		}
		if ts.StartTime >= ts.EndTime {
			return apperr.Invalid(fmt.Sprintf("time_slots[%d]: start_time must be before end_time", i))
		}
		if seen[ts.StartTime] {
			return apperr.Invalid(fmt.Sprintf("time_slots[%d]: duplicate start_time %s", i, ts.StartTime))
		}
		seen[ts.StartTime] = true
	}
	return nil
}

// declaresAvailable reports whether the schedule has an available slot
// starting at clock.
func (s *Schedule) declaresAvailable(clock string) bool {
	for _, ts := range s.TimeSlots {
		if ts.IsAvailable && ts.StartTime == clock {
			return true
		}
	}
	return false
}

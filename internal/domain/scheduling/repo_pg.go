package scheduling

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/medbook/medbook/internal/platform/apperr"
	"github.com/medbook/medbook/internal/platform/db"
)

const (
	msgScheduleExists = "schedule for this date already exists"
	msgSlotBooked     = "time slot already booked"
)

// =========== Schedule Repository ===========

type scheduleRepoPG struct{ pool *pgxpool.Pool }

func NewScheduleRepoPG(pool *pgxpool.Pool) ScheduleRepository { return &scheduleRepoPG{pool: pool} }

func (r *scheduleRepoPG) conn(ctx context.Context) db.Querier {
	return db.ConnFromContext(ctx, r.pool)
}

const schedCols = `id, doctor_id, schedule_date, time_slots, created_at`

func scanSchedule(row pgx.Row) (*Schedule, error) {
	var s Schedule
	var slots []byte
	err := row.Scan(&s.ID, &s.DoctorID, &s.Date, &slots, &s.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperr.NotFound("schedule not found")
	}
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(slots, &s.TimeSlots); err != nil {
		return nil, fmt.Errorf("decode time_slots of schedule %s: %w", s.ID, err)
	}
	return &s, nil
}

func (r *scheduleRepoPG) Create(ctx context.Context, s *Schedule) error {
	slots, err := json.Marshal(s.TimeSlots)
	if err != nil {
		return fmt.Errorf("encode time_slots: %w", err)
	}
	s.ID = uuid.New()
	err = r.conn(ctx).QueryRow(ctx, `
		INSERT INTO doctor_schedules (id, doctor_id, schedule_date, time_slots)
		VALUES ($1,$2,$3,$4)
		RETURNING created_at`,
		s.ID, s.DoctorID, s.Date, slots).Scan(&s.CreatedAt)
	if _, ok := db.UniqueViolation(err); ok {
		return apperr.Invalid(msgScheduleExists)
	}
	if db.ForeignKeyViolation(err) {
		return apperr.NotFound("doctor not found")
	}
	if err != nil {
		return fmt.Errorf("insert schedule: %w", err)
	}
	return nil
}

func (r *scheduleRepoPG) GetByDoctorDate(ctx context.Context, doctorID uuid.UUID, date string) (*Schedule, error) {
	return scanSchedule(r.conn(ctx).QueryRow(ctx,
		`SELECT `+schedCols+` FROM doctor_schedules WHERE doctor_id = $1 AND schedule_date = $2`, doctorID, date))
}

func (r *scheduleRepoPG) ListByDoctor(ctx context.Context, doctorID uuid.UUID, date string) ([]*Schedule, error) {
	query := `SELECT ` + schedCols + ` FROM doctor_schedules WHERE doctor_id = $1`
	args := []interface{}{doctorID}
	if date != "" {
		query += ` AND schedule_date = $2`
		args = append(args, date)
	}
	query += ` ORDER BY schedule_date`

	rows, err := r.conn(ctx).Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []*Schedule
	for rows.Next() {
		s, err := scanSchedule(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, s)
	}
	return items, rows.Err()
}

// =========== Appointment Repository ===========

type appointmentRepoPG struct{ pool *pgxpool.Pool }

func NewAppointmentRepoPG(pool *pgxpool.Pool) AppointmentRepository {
	return &appointmentRepoPG{pool: pool}
}

func (r *appointmentRepoPG) conn(ctx context.Context) db.Querier {
	return db.ConnFromContext(ctx, r.pool)
}

const apptCols = `id, patient_id, doctor_id, appointment_date, appointment_time, reason, notes,
	status, doctor_notes, created_at, updated_at`

func scanAppointment(row pgx.Row) (*Appointment, error) {
	var a Appointment
	err := row.Scan(&a.ID, &a.PatientID, &a.DoctorID, &a.Date, &a.Time, &a.Reason, &a.Notes,
		&a.Status, &a.DoctorNotes, &a.CreatedAt, &a.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperr.NotFound("appointment not found")
	}
	if err != nil {
		return nil, err
	}
	return &a, nil
}

func (r *appointmentRepoPG) Create(ctx context.Context, a *Appointment) error {
	a.ID = uuid.New()
	err := r.conn(ctx).QueryRow(ctx, `
		INSERT INTO appointments (id, patient_id, doctor_id, appointment_date, appointment_time,
			reason, notes, status)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
		RETURNING created_at, updated_at`,
		a.ID, a.PatientID, a.DoctorID, a.Date, a.Time, a.Reason, a.Notes, a.Status,
	).Scan(&a.CreatedAt, &a.UpdatedAt)
	if _, ok := db.UniqueViolation(err); ok {
		return apperr.Conflict(msgSlotBooked)
	}
	if err != nil {
		return fmt.Errorf("insert appointment: %w", err)
	}
	return nil
}

func (r *appointmentRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	return scanAppointment(r.conn(ctx).QueryRow(ctx, `SELECT `+apptCols+` FROM appointments WHERE id = $1`, id))
}

func (r *appointmentRepoPG) FindActive(ctx context.Context, doctorID uuid.UUID, date, clock string) (*Appointment, error) {
	return scanAppointment(r.conn(ctx).QueryRow(ctx, `
		SELECT `+apptCols+` FROM appointments
		WHERE doctor_id = $1 AND appointment_date = $2 AND appointment_time = $3
			AND status IN ('pending', 'confirmed')
		LIMIT 1`, doctorID, date, clock))
}

func (r *appointmentRepoPG) ActiveTimes(ctx context.Context, doctorID uuid.UUID, date string) ([]string, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT appointment_time FROM appointments
		WHERE doctor_id = $1 AND appointment_date = $2 AND status IN ('pending', 'confirmed')`,
		doctorID, date)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var t string
		if err := rows.Scan(&t); err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

const detailSelect = `
	SELECT a.id, a.patient_id, a.doctor_id, a.appointment_date, a.appointment_time, a.reason, a.notes,
		a.status, a.doctor_notes, a.created_at, a.updated_at,
		COALESCE(p.full_name, ''), COALESCE(p.email, ''), COALESCE(p.phone, ''),
		COALESCE(d.full_name, ''), COALESCE(dp.specialty, ''), COALESCE(d.phone, '')
	FROM appointments a
	LEFT JOIN users p ON p.id = a.patient_id
	LEFT JOIN users d ON d.id = a.doctor_id
	LEFT JOIN doctor_profiles dp ON dp.user_id = a.doctor_id`

func (r *appointmentRepoPG) listDetails(ctx context.Context, where string, arg uuid.UUID) ([]*AppointmentDetail, error) {
	rows, err := r.conn(ctx).Query(ctx, detailSelect+` WHERE `+where+
		` ORDER BY a.appointment_date DESC, a.appointment_time DESC`, arg)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []*AppointmentDetail
	for rows.Next() {
		var d AppointmentDetail
		if err := rows.Scan(&d.ID, &d.PatientID, &d.DoctorID, &d.Date, &d.Time, &d.Reason, &d.Notes,
			&d.Status, &d.DoctorNotes, &d.CreatedAt, &d.UpdatedAt,
			&d.PatientName, &d.PatientEmail, &d.PatientPhone,
			&d.DoctorName, &d.DoctorSpecialty, &d.DoctorPhone); err != nil {
			return nil, err
		}
		items = append(items, &d)
	}
	return items, rows.Err()
}

func (r *appointmentRepoPG) ListByPatient(ctx context.Context, patientID uuid.UUID) ([]*AppointmentDetail, error) {
	return r.listDetails(ctx, `a.patient_id = $1`, patientID)
}

func (r *appointmentRepoPG) ListByDoctor(ctx context.Context, doctorID uuid.UUID) ([]*AppointmentDetail, error) {
	return r.listDetails(ctx, `a.doctor_id = $1`, doctorID)
}

func (r *appointmentRepoPG) UpdateStatus(ctx context.Context, id uuid.UUID, from, to string, doctorNotes *string) (*Appointment, error) {
	a, err := scanAppointment(r.conn(ctx).QueryRow(ctx, `
		UPDATE appointments SET status = $3, doctor_notes = COALESCE($4, doctor_notes), updated_at = NOW()
		WHERE id = $1 AND status = $2
		RETURNING `+apptCols,
		id, from, to, doctorNotes))
	if errors.Is(err, apperr.ErrNotFound) {
		return nil, apperr.Conflict("appointment was modified concurrently")
	}
	if _, ok := db.UniqueViolation(err); ok {
		return nil, apperr.Conflict(msgSlotBooked)
	}
	return a, err
}

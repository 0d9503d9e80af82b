package admin

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/medbook/medbook/internal/domain/scheduling"
	"github.com/medbook/medbook/internal/platform/db"
)

type statsRepoPG struct{ pool *pgxpool.Pool }

func NewStatsRepoPG(pool *pgxpool.Pool) StatsRepository { return &statsRepoPG{pool: pool} }

func (r *statsRepoPG) conn(ctx context.Context) db.Querier {
	return db.ConnFromContext(ctx, r.pool)
}

func (r *statsRepoPG) countBy(ctx context.Context, query string) (map[string]int, error) {
	rows, err := r.conn(ctx).Query(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make(map[string]int)
	for rows.Next() {
		var key string
		var n int
		if err := rows.Scan(&key, &n); err != nil {
			return nil, err
		}
		out[key] = n
	}
	return out, rows.Err()
}

func (r *statsRepoPG) CountUsersByRole(ctx context.Context) (map[string]int, error) {
	return r.countBy(ctx, `SELECT role, COUNT(*) FROM users GROUP BY role`)
}

func (r *statsRepoPG) CountAppointmentsByStatus(ctx context.Context) (map[string]int, error) {
	return r.countBy(ctx, `SELECT status, COUNT(*) FROM appointments GROUP BY status`)
}

func (r *statsRepoPG) CountSchedules(ctx context.Context) (int, error) {
	var n int
	err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM doctor_schedules`).Scan(&n)
	return n, err
}

func (r *statsRepoPG) ListAppointments(ctx context.Context, status string, limit, offset int) ([]*scheduling.AppointmentDetail, int, error) {
	where := ``
	args := []interface{}{}
	if status != "" {
		where = ` WHERE a.status = $1`
		args = append(args, status)
	}

	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM appointments a`+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count appointments: %w", err)
	}

	query := `
		SELECT a.id, a.patient_id, a.doctor_id, a.appointment_date, a.appointment_time, a.reason, a.notes,
			a.status, a.doctor_notes, a.created_at, a.updated_at,
			COALESCE(p.full_name, ''), COALESCE(p.email, ''), COALESCE(p.phone, ''),
			COALESCE(d.full_name, ''), COALESCE(dp.specialty, ''), COALESCE(d.phone, '')
		FROM appointments a
		LEFT JOIN users p ON p.id = a.patient_id
		LEFT JOIN users d ON d.id = a.doctor_id
		LEFT JOIN doctor_profiles dp ON dp.user_id = a.doctor_id` + where +
		fmt.Sprintf(` ORDER BY a.created_at DESC LIMIT $%d OFFSET $%d`, len(args)+1, len(args)+2)
	args = append(args, limit, offset)

	rows, err := r.conn(ctx).Query(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var items []*scheduling.AppointmentDetail
	for rows.Next() {
		var d scheduling.AppointmentDetail
		if err := rows.Scan(&d.ID, &d.PatientID, &d.DoctorID, &d.Date, &d.Time, &d.Reason, &d.Notes,
			&d.Status, &d.DoctorNotes, &d.CreatedAt, &d.UpdatedAt,
			&d.PatientName, &d.PatientEmail, &d.PatientPhone,
			&d.DoctorName, &d.DoctorSpecialty, &d.DoctorPhone); err != nil {
			return nil, 0, err
		}
		items = append(items, &d)
	}
	return items, total, rows.Err()
}

package identity

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/medbook/medbook/internal/platform/apperr"
	"github.com/medbook/medbook/internal/platform/db"
)

// =========== User Repository ===========

type userRepoPG struct{ pool *pgxpool.Pool }

func NewUserRepoPG(pool *pgxpool.Pool) UserRepository { return &userRepoPG{pool: pool} }

func (r *userRepoPG) conn(ctx context.Context) db.Querier {
	return db.ConnFromContext(ctx, r.pool)
}

const userCols = `id, username, email, full_name, phone, role, created_at, updated_at`

func scanUser(row pgx.Row) (*User, error) {
	var u User
	err := row.Scan(&u.ID, &u.Username, &u.Email, &u.FullName, &u.Phone, &u.Role, &u.CreatedAt, &u.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperr.NotFound("user not found")
	}
	if err != nil {
		return nil, err
	}
	return &u, nil
}

func (r *userRepoPG) Create(ctx context.Context, u *User) error {
	u.ID = uuid.New()
	err := r.conn(ctx).QueryRow(ctx, `
		INSERT INTO users (id, username, email, full_name, phone, role)
		VALUES ($1,$2,$3,$4,$5,$6)
		RETURNING created_at, updated_at`,
		u.ID, u.Username, u.Email, u.FullName, u.Phone, u.Role).Scan(&u.CreatedAt, &u.UpdatedAt)
	if constraint, ok := db.UniqueViolation(err); ok {
		if constraint == "users_username_key" {
			return apperr.Conflict("username already exists")
		}
		return apperr.Conflict("email already exists")
	}
	if err != nil {
		return fmt.Errorf("insert user: %w", err)
	}
	return nil
}

func (r *userRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*User, error) {
	return scanUser(r.conn(ctx).QueryRow(ctx, `SELECT `+userCols+` FROM users WHERE id = $1`, id))
}

func (r *userRepoPG) UpdateContact(ctx context.Context, id uuid.UUID, upd ContactUpdate) (*User, error) {
	return scanUser(r.conn(ctx).QueryRow(ctx, `
		UPDATE users SET
			full_name = COALESCE($2, full_name),
			phone = COALESCE($3, phone),
			updated_at = NOW()
		WHERE id = $1
		RETURNING `+userCols,
		id, upd.FullName, upd.Phone))
}

func (r *userRepoPG) List(ctx context.Context, role string, limit, offset int) ([]*User, int, error) {
	where := ``
	var args []interface{}
	if role != "" {
		where = ` WHERE role = $1`
		args = append(args, role)
	}

	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM users`+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	n := len(args)
	query := fmt.Sprintf(`SELECT `+userCols+` FROM users`+where+` ORDER BY created_at DESC LIMIT $%d OFFSET $%d`, n+1, n+2)
	rows, err := r.conn(ctx).Query(ctx, query, append(args, limit, offset)...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var items []*User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, u)
	}
	return items, total, rows.Err()
}

// =========== Doctor Profile Repository ===========

type doctorProfileRepoPG struct{ pool *pgxpool.Pool }

func NewDoctorProfileRepoPG(pool *pgxpool.Pool) DoctorProfileRepository {
	return &doctorProfileRepoPG{pool: pool}
}

func (r *doctorProfileRepoPG) conn(ctx context.Context) db.Querier {
	return db.ConnFromContext(ctx, r.pool)
}

const profileCols = `id, user_id, specialty, experience_years, description, consultation_fee, rating, created_at, updated_at`

func scanProfile(row pgx.Row) (*DoctorProfile, error) {
	var p DoctorProfile
	err := row.Scan(&p.ID, &p.UserID, &p.Specialty, &p.ExperienceYears, &p.Description,
		&p.ConsultationFee, &p.Rating, &p.CreatedAt, &p.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperr.NotFound("doctor profile not found")
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (r *doctorProfileRepoPG) Create(ctx context.Context, p *DoctorProfile) error {
	p.ID = uuid.New()
	err := r.conn(ctx).QueryRow(ctx, `
		INSERT INTO doctor_profiles (id, user_id, specialty, experience_years, description, consultation_fee, rating)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
		RETURNING created_at, updated_at`,
		p.ID, p.UserID, p.Specialty, p.ExperienceYears, p.Description, p.ConsultationFee, p.Rating,
	).Scan(&p.CreatedAt, &p.UpdatedAt)
	if _, ok := db.UniqueViolation(err); ok {
		return apperr.Invalid("doctor profile already exists")
	}
	if db.ForeignKeyViolation(err) {
		return apperr.NotFound("user not found")
	}
	if err != nil {
		return fmt.Errorf("insert doctor profile: %w", err)
	}
	return nil
}

func (r *doctorProfileRepoPG) GetByUserID(ctx context.Context, userID uuid.UUID) (*DoctorProfile, error) {
	return scanProfile(r.conn(ctx).QueryRow(ctx, `SELECT `+profileCols+` FROM doctor_profiles WHERE user_id = $1`, userID))
}

func (r *doctorProfileRepoPG) Update(ctx context.Context, p *DoctorProfile) error {
	err := r.conn(ctx).QueryRow(ctx, `
		UPDATE doctor_profiles SET specialty=$2, experience_years=$3, description=$4,
			consultation_fee=$5, updated_at=NOW()
		WHERE user_id = $1
		RETURNING id, rating, created_at, updated_at`,
		p.UserID, p.Specialty, p.ExperienceYears, p.Description, p.ConsultationFee,
	).Scan(&p.ID, &p.Rating, &p.CreatedAt, &p.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return apperr.NotFound("doctor profile not found")
	}
	return err
}

const doctorSelect = `
	SELECT p.id, p.user_id, u.full_name, p.specialty, p.experience_years, p.description,
		p.consultation_fee, p.rating, u.email, u.phone
	FROM doctor_profiles p
	JOIN users u ON u.id = p.user_id AND u.role = 'doctor'`

func scanDoctor(row pgx.Row) (*Doctor, error) {
	var d Doctor
	err := row.Scan(&d.ID, &d.UserID, &d.FullName, &d.Specialty, &d.ExperienceYears, &d.Description,
		&d.ConsultationFee, &d.Rating, &d.Email, &d.Phone)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperr.NotFound("doctor not found")
	}
	if err != nil {
		return nil, err
	}
	return &d, nil
}

func (r *doctorProfileRepoPG) ListDoctors(ctx context.Context, specialty string) ([]*Doctor, error) {
	query := doctorSelect
	var args []interface{}
	if specialty != "" {
		query += ` WHERE p.specialty = $1`
		args = append(args, specialty)
	}
	query += ` ORDER BY u.full_name`

	rows, err := r.conn(ctx).Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []*Doctor
	for rows.Next() {
		d, err := scanDoctor(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, d)
	}
	return items, rows.Err()
}

func (r *doctorProfileRepoPG) GetDoctor(ctx context.Context, userID uuid.UUID) (*Doctor, error) {
	return scanDoctor(r.conn(ctx).QueryRow(ctx, doctorSelect+` WHERE p.user_id = $1`, userID))
}

func (r *doctorProfileRepoPG) Specialties(ctx context.Context) ([]string, error) {
	rows, err := r.conn(ctx).Query(ctx, `SELECT DISTINCT specialty FROM doctor_profiles ORDER BY specialty`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var s string
		if err := rows.Scan(&s); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

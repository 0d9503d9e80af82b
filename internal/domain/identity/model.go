package identity

import (
	"strings"
	"time"

	"github.com/google/uuid"
	emailaddress "github.com/mcnijman/go-emailaddress"

	"github.com/medbook/medbook/internal/platform/apperr"
	"github.com/medbook/medbook/internal/platform/auth"
)

// User maps to the users table. Role is fixed at creation.
type User struct {
	ID        uuid.UUID `db:"id" json:"id"`
	Username  string    `db:"username" json:"username"`
	Email     string    `db:"email" json:"email"`
	FullName  string    `db:"full_name" json:"full_name"`
	Phone     string    `db:"phone" json:"phone"`
	Role      string    `db:"role" json:"role"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}

// DoctorProfile maps to the doctor_profiles table.
type DoctorProfile struct {
	ID              uuid.UUID `db:"id" json:"id"`
	UserID          uuid.UUID `db:"user_id" json:"user_id"`
	Specialty       string    `db:"specialty" json:"specialty"`
	ExperienceYears int       `db:"experience_years" json:"experience_years"`
	Description     string    `db:"description" json:"description"`
	ConsultationFee float64   `db:"consultation_fee" json:"consultation_fee"`
	Rating          float64   `db:"rating" json:"rating"`
	CreatedAt       time.Time `db:"created_at" json:"created_at"`
	UpdatedAt       time.Time `db:"updated_at" json:"updated_at"`
}

// Doctor is a doctor profile joined with its user record.
type Doctor struct {
	ID              uuid.UUID `json:"id"`
	UserID          uuid.UUID `json:"user_id"`
	FullName        string    `json:"full_name"`
	Specialty       string    `json:"specialty"`
	ExperienceYears int       `json:"experience_years"`
	Description     string    `json:"description"`
	ConsultationFee float64   `json:"consultation_fee"`
	Rating          float64   `json:"rating"`
	Email           string    `json:"email"`
	Phone           string    `json:"phone"`
}

// ContactUpdate holds the fields a user may change on their own record.
type ContactUpdate struct {
	FullName *string `json:"full_name,omitempty"`
	Phone    *string `json:"phone,omitempty"`
}

// DefaultSpecialties is offered even before any doctor has registered.
var DefaultSpecialties = []string{
	"Cardiology",
	"Dermatology",
	"ENT",
	"General Surgery",
	"Internal Medicine",
	"Neurology",
	"Obstetrics and Gynecology",
	"Pediatrics",
}

func normalizeEmail(s string) (string, error) {
	addr, err := emailaddress.Parse(strings.TrimSpace(s))
	if err != nil {
		return "", apperr.Invalid("invalid email address")
	}
	return strings.ToLower(addr.String()), nil
}

func (u *User) validate() error {
	u.Username = strings.TrimSpace(u.Username)
	u.FullName = strings.TrimSpace(u.FullName)
	u.Phone = strings.TrimSpace(u.Phone)
	if u.Username == "" {
		return apperr.Invalid("username is required")
	}
	if u.FullName == "" {
		return apperr.Invalid("full_name is required")
	}
	email, err := normalizeEmail(u.Email)
	if err != nil {
		return err
	}
	u.Email = email
	if !auth.ValidRole(u.Role) {
		return apperr.Invalid("role must be one of patient, doctor, admin")
	}
	return nil
}

func (p *DoctorProfile) validate() error {
	p.Specialty = strings.TrimSpace(p.Specialty)
	if p.Specialty == "" {
		return apperr.Invalid("specialty is required")
	}
	if p.ExperienceYears < 0 {
		return apperr.Invalid("experience_years cannot be negative")
	}
	if p.ConsultationFee < 0 {
		return apperr.Invalid("consultation_fee cannot be negative")
	}
	return nil
}

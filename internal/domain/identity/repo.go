package identity

import (
	"context"

	"github.com/google/uuid"
)

// UserRepository defines the persistence interface for users. Lookups of a
// missing user return an apperr NotFound error.
type UserRepository interface {
	Create(ctx context.Context, u *User) error
	GetByID(ctx context.Context, id uuid.UUID) (*User, error)
	UpdateContact(ctx context.Context, id uuid.UUID, upd ContactUpdate) (*User, error)
	List(ctx context.Context, role string, limit, offset int) ([]*User, int, error)
}

// DoctorProfileRepository defines the persistence interface for doctor profiles.
type DoctorProfileRepository interface {
	Create(ctx context.Context, p *DoctorProfile) error
	GetByUserID(ctx context.Context, userID uuid.UUID) (*DoctorProfile, error)
	Update(ctx context.Context, p *DoctorProfile) error
	ListDoctors(ctx context.Context, specialty string) ([]*Doctor, error)
	GetDoctor(ctx context.Context, userID uuid.UUID) (*Doctor, error)
	Specialties(ctx context.Context) ([]string, error)
}

package identity

import (
	"context"
	"errors"
	"sort"
	"strings"

	"github.com/google/uuid"

	"github.com/medbook/medbook/internal/platform/apperr"
	"github.com/medbook/medbook/internal/platform/auth"
)

type Service struct {
	users    UserRepository
	profiles DoctorProfileRepository
}

func NewService(users UserRepository, profiles DoctorProfileRepository) *Service {
	return &Service{users: users, profiles: profiles}
}

// -- Users --

// CreateUser provisions a directory entry. Credentials are managed by the
// identity provider that issues tokens, not here.
func (s *Service) CreateUser(ctx context.Context, u *User) error {
	if err := u.validate(); err != nil {
		return err
	}
	return s.users.Create(ctx, u)
}

func (s *Service) GetUser(ctx context.Context, id uuid.UUID) (*User, error) {
	return s.users.GetByID(ctx, id)
}

func (s *Service) UpdateMe(ctx context.Context, id uuid.UUID, upd ContactUpdate) (*User, error) {
	if upd.FullName != nil {
		name := strings.TrimSpace(*upd.FullName)
		if name == "" {
			return nil, apperr.Invalid("full_name cannot be empty")
		}
		upd.FullName = &name
	}
	if upd.Phone != nil {
		phone := strings.TrimSpace(*upd.Phone)
		upd.Phone = &phone
	}
	return s.users.UpdateContact(ctx, id, upd)
}

func (s *Service) ListUsers(ctx context.Context, role string, limit, offset int) ([]*User, int, error) {
	if role != "" && !auth.ValidRole(role) {
		return nil, 0, apperr.Invalid("invalid role filter: " + role)
	}
	return s.users.List(ctx, role, limit, offset)
}

// LookupRole returns the role of the user with the given id. Scheduling uses
// it to check that a booking targets an existing doctor.
func (s *Service) LookupRole(ctx context.Context, id uuid.UUID) (string, error) {
	u, err := s.users.GetByID(ctx, id)
	if err != nil {
		return "", err
	}
	return u.Role, nil
}

// -- Doctors --

func (s *Service) CreateDoctorProfile(ctx context.Context, userID uuid.UUID, p *DoctorProfile) error {
	if err := p.validate(); err != nil {
		return err
	}
	if err := s.requireDoctor(ctx, userID); err != nil {
		return err
	}
	p.UserID = userID
	p.Rating = 0
	return s.profiles.Create(ctx, p)
}

func (s *Service) UpdateDoctorProfile(ctx context.Context, userID uuid.UUID, p *DoctorProfile) error {
	if err := p.validate(); err != nil {
		return err
	}
	p.UserID = userID
	return s.profiles.Update(ctx, p)
}

func (s *Service) requireDoctor(ctx context.Context, userID uuid.UUID) error {
	role, err := s.LookupRole(ctx, userID)
	if err != nil {
		return err
	}
	if role != auth.RoleDoctor {
		return apperr.Forbidden("only doctors can have a doctor profile")
	}
	return nil
}

func (s *Service) ListDoctors(ctx context.Context, specialty string) ([]*Doctor, error) {
	doctors, err := s.profiles.ListDoctors(ctx, strings.TrimSpace(specialty))
	if err != nil {
		return nil, err
	}
	if doctors == nil {
		doctors = []*Doctor{}
	}
	return doctors, nil
}

func (s *Service) GetDoctor(ctx context.Context, userID uuid.UUID) (*Doctor, error) {
	d, err := s.profiles.GetDoctor(ctx, userID)
	if errors.Is(err, apperr.ErrNotFound) {
		return nil, apperr.NotFound("doctor not found")
	}
	return d, err
}

// ListSpecialties returns the default catalog merged with every specialty a
// registered doctor has declared, sorted and without duplicates.
func (s *Service) ListSpecialties(ctx context.Context) ([]string, error) {
	declared, err := s.profiles.Specialties(ctx)
	if err != nil {
		return nil, err
	}
	seen := make(map[string]bool, len(DefaultSpecialties)+len(declared))
	out := make([]string, 0, len(DefaultSpecialties)+len(declared))
	for _, list := range [][]string{DefaultSpecialties, declared} {
		for _, sp := range list {
			if sp == "" || seen[sp] {
				continue
			}
			seen[sp] = true
			out = append(out, sp)
		}
	}
	sort.Strings(out)
	return out, nil
}

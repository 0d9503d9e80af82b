package admin

import (
	"context"

	"github.com/google/uuid"

	"github.com/medbook/medbook/internal/domain/identity"
	"github.com/medbook/medbook/internal/domain/scheduling"
)

// StatsRepository aggregates counts across the user and scheduling tables.
type StatsRepository interface {
	CountUsersByRole(ctx context.Context) (map[string]int, error)
	CountAppointmentsByStatus(ctx context.Context) (map[string]int, error)
	CountSchedules(ctx context.Context) (int, error)
	ListAppointments(ctx context.Context, status string, limit, offset int) ([]*scheduling.AppointmentDetail, int, error)
}

// UserAdmin is the part of the user directory the admin surface drives.
type UserAdmin interface {
	CreateUser(ctx context.Context, u *identity.User) error
	GetUser(ctx context.Context, id uuid.UUID) (*identity.User, error)
	ListUsers(ctx context.Context, role string, limit, offset int) ([]*identity.User, int, error)
}

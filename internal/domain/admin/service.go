package admin

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/medbook/medbook/internal/domain/identity"
	"github.com/medbook/medbook/internal/domain/scheduling"
	"github.com/medbook/medbook/internal/platform/apperr"
)

type Service struct {
	stats StatsRepository
	users UserAdmin
}

func NewService(stats StatsRepository, users UserAdmin) *Service {
	return &Service{stats: stats, users: users}
}

// Stats gathers the dashboard counts concurrently. Any failing query fails
// the whole call.
func (s *Service) Stats(ctx context.Context) (*Stats, error) {
	var (
		byRole, byStatus map[string]int
		schedules        int
	)
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		if byRole, err = s.stats.CountUsersByRole(ctx); err != nil {
			return fmt.Errorf("count users: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		var err error
		if byStatus, err = s.stats.CountAppointmentsByStatus(ctx); err != nil {
			return fmt.Errorf("count appointments: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		var err error
		if schedules, err = s.stats.CountSchedules(ctx); err != nil {
			return fmt.Errorf("count schedules: %w", err)
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	st := &Stats{TotalSchedules: schedules}
	st.UsersByRole, st.TotalUsers = fill(byRole, knownRoles)
	st.AppointmentsByStatus, st.TotalAppointments = fill(byStatus, knownStatuses)
	return st, nil
}

func (s *Service) ListAppointments(ctx context.Context, status string, limit, offset int) ([]*scheduling.AppointmentDetail, int, error) {
	if status != "" && !scheduling.ValidStatus(status) {
		return nil, 0, apperr.Invalid("invalid status filter: " + status)
	}
	items, total, err := s.stats.ListAppointments(ctx, status, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	if items == nil {
		items = []*scheduling.AppointmentDetail{}
	}
	return items, total, nil
}

// -- Users --

func (s *Service) CreateUser(ctx context.Context, u *identity.User) error {
	return s.users.CreateUser(ctx, u)
}

func (s *Service) GetUser(ctx context.Context, id uuid.UUID) (*identity.User, error) {
	return s.users.GetUser(ctx, id)
}

func (s *Service) ListUsers(ctx context.Context, role string, limit, offset int) ([]*identity.User, int, error) {
	items, total, err := s.users.ListUsers(ctx, role, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	if items == nil {
		items = []*identity.User{}
	}
	return items, total, nil
}

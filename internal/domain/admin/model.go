package admin

import (
	"github.com/medbook/medbook/internal/domain/scheduling"
	"github.com/medbook/medbook/internal/platform/auth"
)

// Stats is the platform overview shown on the admin dashboard.
type Stats struct {
	TotalUsers           int            `json:"total_users"`
	UsersByRole          map[string]int `json:"users_by_role"`
	TotalAppointments    int            `json:"total_appointments"`
	AppointmentsByStatus map[string]int `json:"appointments_by_status"`
	TotalSchedules       int            `json:"total_schedules"`
}

var (
	knownRoles    = []string{auth.RolePatient, auth.RoleDoctor, auth.RoleAdmin}
	knownStatuses = []string{
		scheduling.StatusPending, scheduling.StatusConfirmed,
		scheduling.StatusCompleted, scheduling.StatusCancelled,
	}
)

// fill reports every known key, zero when the store had no rows for it,
// and returns the sum of all counts.
func fill(counts map[string]int, keys []string) (map[string]int, int) {
	out := make(map[string]int, len(keys))
	for _, k := range keys {
		out[k] = 0
	}
	total := 0
	for k, n := range counts {
		out[k] = n
		total += n
	}
	return out, total
}

package auth

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
)

// Roles. A user holds exactly one and it never changes after creation.
const (
	RolePatient = "patient"
	RoleDoctor  = "doctor"
	RoleAdmin   = "admin"
)

// ValidRole reports whether role is one of the known roles.
func ValidRole(role string) bool {
	switch role {
	case RolePatient, RoleDoctor, RoleAdmin:
		return true
	}
	return false
}

// Principal is the acting user of a request as asserted by the auth layer.
type Principal struct {
	ID   uuid.UUID
	Role string
}

func (p Principal) Is(role string) bool { return p.Role == role }

// PrincipalFromContext builds the Principal from the request identity. The
// first recognised role in the token wins.
func PrincipalFromContext(ctx context.Context) (Principal, error) {
	raw := UserIDFromContext(ctx)
	if raw == "" {
		return Principal{}, fmt.Errorf("no authenticated user")
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return Principal{}, fmt.Errorf("invalid user id %q", raw)
	}
	for _, r := range RolesFromContext(ctx) {
		if ValidRole(r) {
			return Principal{ID: id, Role: r}, nil
		}
	}
	return Principal{}, fmt.Errorf("user %s has no recognised role", id)
}

// ContextWithPrincipal binds p to ctx the same way the auth middleware does.
func ContextWithPrincipal(ctx context.Context, p Principal) context.Context {
	ctx = context.WithValue(ctx, UserIDKey, p.ID.String())
	return context.WithValue(ctx, UserRolesKey, []string{p.Role})
}

// CurrentPrincipal is PrincipalFromContext for handlers; failures are 401.
func CurrentPrincipal(c echo.Context) (Principal, error) {
	p, err := PrincipalFromContext(c.Request().Context())
	if err != nil {
		return Principal{}, echo.NewHTTPError(http.StatusUnauthorized, err.Error())
	}
	return p, nil
}

// RequireRole returns middleware that checks if the user has at least one of the specified roles.
func RequireRole(roles ...string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			userRoles := RolesFromContext(c.Request().Context())
			for _, required := range roles {
				for _, has := range userRoles {
					if has == required {
						return next(c)
					}
				}
			}
			return echo.NewHTTPError(http.StatusForbidden,
				fmt.Sprintf("required role: %s", strings.Join(roles, " or ")))
		}
	}
}

package db

import (
	"context"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
	"golang.org/x/sync/errgroup"
)

const healthTimeout = 5 * time.Second

type poolStats struct {
	Total         int32  `json:"total_conns"`
	Idle          int32  `json:"idle_conns"`
	Acquired      int32  `json:"acquired_conns"`
	Max           int32  `json:"max_conns"`
	EmptyAcquires int64  `json:"empty_acquires"`
	WaitTotal     string `json:"acquire_wait_total"`
}

func statsOf(pool *pgxpool.Pool) poolStats {
	s := pool.Stat()
	return poolStats{
		Total:         s.TotalConns(),
		Idle:          s.IdleConns(),
		Acquired:      s.AcquiredConns(),
		Max:           s.MaxConns(),
		EmptyAcquires: s.EmptyAcquireCount(),
		WaitTotal:     s.AcquireDuration().String(),
	}
}

// HealthHandler pings the database and reports pool usage. EmptyAcquires
// growing under load means booking requests are queueing for connections.
func HealthHandler(pool *pgxpool.Pool) echo.HandlerFunc {
	return func(c echo.Context) error {
		ctx, cancel := context.WithTimeout(c.Request().Context(), healthTimeout)
		defer cancel()

		body := map[string]interface{}{"status": "healthy", "pool": statsOf(pool)}
		if err := pool.Ping(ctx); err != nil {
			body["status"] = "unhealthy"
			body["error"] = err.Error()
			return c.JSON(http.StatusServiceUnavailable, body)
		}
		return c.JSON(http.StatusOK, body)
	}
}

// Check is a named dependency probe used by ReadyHandler.
type Check struct {
	Name string
	Ping func(ctx context.Context) error
}

type CheckResult struct {
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}

// RunChecks probes every check concurrently and reports whether all passed.
func RunChecks(ctx context.Context, checks []Check) (map[string]CheckResult, bool) {
	out := make([]CheckResult, len(checks))
	var g errgroup.Group
	for i, chk := range checks {
		i, chk := i, chk
		g.Go(func() error {
			out[i] = CheckResult{Status: "UP"}
			if err := chk.Ping(ctx); err != nil {
				out[i] = CheckResult{Status: "DOWN", Error: err.Error()}
			}
			return nil
		})
	}
	_ = g.Wait()

	results := make(map[string]CheckResult, len(checks))
	ready := true
	for i, chk := range checks {
		results[chk.Name] = out[i]
		ready = ready && out[i].Status == "UP"
	}
	return results, ready
}

// ReadyHandler answers 503 while any dependency is down.
func ReadyHandler(checks ...Check) echo.HandlerFunc {
	return func(c echo.Context) error {
		ctx, cancel := context.WithTimeout(c.Request().Context(), healthTimeout)
		defer cancel()

		results, ready := RunChecks(ctx, checks)
		status, code := "ready", http.StatusOK
		if !ready {
			status, code = "not_ready", http.StatusServiceUnavailable
		}
		return c.JSON(code, map[string]interface{}{
			"status": status,
			"checks": results,
		})
	}
}

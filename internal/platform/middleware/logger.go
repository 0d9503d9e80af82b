package middleware

import (
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"
)

// Logger writes one access log line per request. Handler errors have not been
// rendered yet when the line is written, so the status comes from the error.
func Logger(logger zerolog.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			err := next(c)

			status, level, cause := outcome(c, err)
			req := c.Request()
			evt := logger.WithLevel(level).
				Str("method", req.Method).
				Str("path", req.URL.Path).
				Str("route", c.Path()).
				Int("status", status).
				Int64("bytes_out", c.Response().Size).
				Dur("latency", time.Since(start)).
				Str("remote_ip", c.RealIP())
			if cause != nil {
				evt = evt.Err(cause)
			}
			if rid, ok := c.Get("request_id").(string); ok {
				evt = evt.Str("request_id", rid)
			}
			if uid, ok := c.Get("user_id").(string); ok && uid != "" {
				evt = evt.Str("user_id", uid)
			}
			evt.Msg("request")
			return err
		}
	}
}

func outcome(c echo.Context, err error) (int, zerolog.Level, error) {
	if err == nil {
		return c.Response().Status, zerolog.InfoLevel, nil
	}
	he, ok := err.(*echo.HTTPError)
	switch {
	case !ok:
		return http.StatusInternalServerError, zerolog.ErrorLevel, err
	case he.Internal != nil:
		return he.Code, zerolog.ErrorLevel, he.Internal
	case he.Code >= http.StatusInternalServerError:
		return he.Code, zerolog.ErrorLevel, err
	default:
		return he.Code, zerolog.WarnLevel, err
	}
}

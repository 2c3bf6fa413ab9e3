package middleware

import (
	"fmt"
	"net/http"
	"runtime"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/ehr/claims/internal/platform/db"
)

// Recovery turns a handler panic into a 500 and logs it with the claim and
// tenant the request addressed.
func Recovery(logger zerolog.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) (err error) {
			defer func() {
				if r := recover(); r != nil {
					var stack [4096]byte
					n := runtime.Stack(stack[:], false)

					path := c.Request().URL.Path
					evt := logger.Error().
						Str("request_id", requestID(c)).
						Str("path", path)
					if id := extractClaimID(path); id != "" {
						evt = evt.Str("claim_id", id)
					}
					if tenant := db.TenantFromContext(c.Request().Context()); tenant != "" {
						evt = evt.Str("tenant_id", tenant)
					}
					evt.
						Str("panic", fmt.Sprintf("%v", r)).
						Str("stack", string(stack[:n])).
						Msg("panic recovered")

					err = echo.NewHTTPError(http.StatusInternalServerError, "internal server error")
				}
			}()
			return next(c)
		}
	}
}

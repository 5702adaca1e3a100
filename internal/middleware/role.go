package middleware

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/ismayilysfli/orders-invoice-erp/internal/response"
)

// RequireRole lets the request through when the principal holds at least
// one of roles. Requests without a principal get 401, requests whose
// principal lacks every role get 403.
func RequireRole(roles ...string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			p, ok := PrincipalFrom(c)
			if !ok {
				return response.Error(c, http.StatusUnauthorized, "Authentication required")
			}
			for _, r := range roles {
				if p.HasRole(r) {
					return next(c)
				}
			}
			return response.Error(c, http.StatusForbidden, "Forbidden")
		}
	}
}

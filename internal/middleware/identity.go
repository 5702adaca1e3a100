package middleware

import (
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/ismayilysfli/orders-invoice-erp/internal/token"
)

const anonymousUser = "anonymous"

// TrustedIdentity rebuilds the principal from the identity headers the
// gateway forwards. It must only be mounted on services that are reachable
// solely through the gateway; the headers are not authenticated here.
//
// A request that already carries a principal is left alone. A request with
// neither X-User-Id nor X-Roles passes through unauthenticated.
func TrustedIdentity() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if _, ok := PrincipalFrom(c); ok {
				return next(c)
			}
			h := c.Request().Header
			uid := strings.TrimSpace(h.Get(HeaderUserID))
			rolesHeader := h.Get(HeaderRoles)
			if uid == "" && strings.TrimSpace(rolesHeader) == "" {
				return next(c)
			}
			if uid == "" {
				uid = anonymousUser
			}
			setPrincipal(c, &Principal{
				userID:  uid,
				subject: strings.TrimSpace(h.Get(HeaderUsername)),
				roles:   token.SplitRoles(rolesHeader),
				claims:  map[string]any{},
			})
			return next(c)
		}
	}
}

// userID is the identifier used for rate-limit keys.
func userID(c echo.Context) string {
	if p, ok := PrincipalFrom(c); ok && p.UserID() != "" {
		return p.UserID()
	}
	return "anon"
}

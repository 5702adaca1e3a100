package middleware

import (
	"slices"

	"github.com/labstack/echo/v4"
)

// Identity headers set by the gateway on every authenticated request.
const (
	HeaderUserID   = "X-User-Id"
	HeaderUsername = "X-Username"
	HeaderRoles    = "X-Roles"
)

var identityHeaders = []string{HeaderUserID, HeaderUsername, HeaderRoles}

const principalKey = "auth.principal"

// Principal is the verified identity attached to a request. Its fields are
// unexported so only the gateway validator and the trust filter in this
// package can construct one.
type Principal struct {
	userID  string
	subject string
	roles   []string
	claims  map[string]any
}

func (p *Principal) UserID() string  { return p.userID }
func (p *Principal) Subject() string { return p.subject }

// Roles returns a copy of the ordered, de-duplicated role set.
func (p *Principal) Roles() []string { return slices.Clone(p.roles) }

// Claims returns the raw claim map the principal was built from. It is
// empty for principals reconstructed from headers.
func (p *Principal) Claims() map[string]any { return p.claims }

func (p *Principal) HasRole(role string) bool { return slices.Contains(p.roles, role) }

// PrincipalFrom returns the principal stored on the request, if any.
func PrincipalFrom(c echo.Context) (*Principal, bool) {
	p, ok := c.Get(principalKey).(*Principal)
	return p, ok && p != nil
}

func setPrincipal(c echo.Context, p *Principal) { c.Set(principalKey, p) }

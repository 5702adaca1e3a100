package middleware

import (
	"net/http"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTrustedEcho(roles ...string) (*echo.Echo, *seen) {
	e := echo.New()
	got := &seen{}
	h := func(c echo.Context) error {
		got.principal, _ = PrincipalFrom(c)
		return c.NoContent(http.StatusOK)
	}
	e.GET("/open", h, TrustedIdentity())
	e.GET("/guarded", h, TrustedIdentity(), RequireRole(roles...))
	return e, got
}

func TestTrustedIdentity_BuildsPrincipal(t *testing.T) {
	e, got := newTrustedEcho()

	rec := do(e, http.MethodGet, "/open", map[string]string{
		HeaderUserID:   "42",
		HeaderUsername: "alice@x.io",
		HeaderRoles:    " USER , ADMIN,,USER",
	})
	require.Equal(t, http.StatusOK, rec.Code)
	require.NotNil(t, got.principal)
	assert.Equal(t, "42", got.principal.UserID())
	assert.Equal(t, "alice@x.io", got.principal.Subject())
	assert.Equal(t, []string{"USER", "ADMIN"}, got.principal.Roles())
	assert.Empty(t, got.principal.Claims())
}

func TestTrustedIdentity_RolesWithoutUserID(t *testing.T) {
	e, got := newTrustedEcho()

	do(e, http.MethodGet, "/open", map[string]string{HeaderRoles: "USER"})
	require.NotNil(t, got.principal)
	assert.Equal(t, anonymousUser, got.principal.UserID())
	assert.Equal(t, []string{"USER"}, got.principal.Roles())
}

func TestTrustedIdentity_NoHeaders(t *testing.T) {
	e, got := newTrustedEcho()

	rec := do(e, http.MethodGet, "/open", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Nil(t, got.principal)
}

func TestTrustedIdentity_UserIDWithoutRoles(t *testing.T) {
	e, got := newTrustedEcho()

	do(e, http.MethodGet, "/open", map[string]string{HeaderUserID: "9"})
	require.NotNil(t, got.principal)
	assert.Equal(t, "9", got.principal.UserID())
	assert.NotNil(t, got.principal.Roles())
	assert.Empty(t, got.principal.Roles())
}

func TestRequireRole(t *testing.T) {
	e, _ := newTrustedEcho("USER", "ADMIN")

	assert.Equal(t, http.StatusUnauthorized, do(e, http.MethodGet, "/guarded", nil).Code)
	assert.Equal(t, http.StatusForbidden,
		do(e, http.MethodGet, "/guarded", map[string]string{HeaderUserID: "1", HeaderRoles: "GUEST"}).Code)
	assert.Equal(t, http.StatusOK,
		do(e, http.MethodGet, "/guarded", map[string]string{HeaderUserID: "1", HeaderRoles: "ADMIN"}).Code)
}

func TestPrincipal_RolesIsCopy(t *testing.T) {
	p := &Principal{roles: []string{"USER"}}
	r := p.Roles()
	r[0] = "ADMIN"
	assert.False(t, p.HasRole("ADMIN"))
}

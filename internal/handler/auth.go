package handler

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/ismayilysfli/orders-invoice-erp/internal/middleware"
	"github.com/ismayilysfli/orders-invoice-erp/internal/response"
	"github.com/ismayilysfli/orders-invoice-erp/internal/service"
)

const requestTimeout = 5 * time.Second

// Authenticator is the use-case surface the auth endpoints need.
type Authenticator interface {
	Register(ctx context.Context, email, password, fullName string) (string, error)
	Login(ctx context.Context, email, password string) (service.AuthResult, error)
	Refresh(ctx context.Context, raw string) (service.AuthResult, error)
	Logout(ctx context.Context, raw string) error
}

// AuthHandler bundles dependencies for auth endpoints.
type AuthHandler struct {
	auth   Authenticator
	logger *zap.Logger
}

func NewAuthHandler(auth Authenticator, logger *zap.Logger) *AuthHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AuthHandler{auth: auth, logger: logger.Named("auth")}
}

// ----- DTOs -----

type registerReq struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	FullName string `json:"fullName"`
}
type loginReq struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}
type refreshReq struct {
	RefreshToken string `json:"refreshToken"`
}

type messageResp struct {
	Message string `json:"message"`
}
type authResp struct {
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken"`
	Email        string `json:"email"`
	FullName     string `json:"fullName"`
	Role         string `json:"role"`
}
type meResp struct {
	UserID   string   `json:"userId"`
	Username string   `json:"username"`
	Roles    []string `json:"roles"`
}

// Register creates an account. Tokens are obtained through Login.
func (h *AuthHandler) Register(c echo.Context) error {
	var req registerReq
	if err := c.Bind(&req); err != nil {
		return response.Error(c, http.StatusBadRequest, "Invalid request body")
	}
	if strings.TrimSpace(req.Email) == "" || req.Password == "" {
		return response.Error(c, http.StatusBadRequest, "email and password are required")
	}

	ctx, cancel := context.WithTimeout(c.Request().Context(), requestTimeout)
	defer cancel()

	msg, err := h.auth.Register(ctx, req.Email, req.Password, strings.TrimSpace(req.FullName))
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(http.StatusCreated, messageResp{Message: msg})
}

// Login verifies credentials and returns a new token pair.
func (h *AuthHandler) Login(c echo.Context) error {
	var req loginReq
	if err := c.Bind(&req); err != nil {
		return response.Error(c, http.StatusBadRequest, "Invalid request body")
	}
	if strings.TrimSpace(req.Email) == "" || req.Password == "" {
		return response.Error(c, http.StatusBadRequest, "email and password are required")
	}

	ctx, cancel := context.WithTimeout(c.Request().Context(), requestTimeout)
	defer cancel()

	res, err := h.auth.Login(ctx, req.Email, req.Password)
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(http.StatusOK, toAuthResp(res))
}

// Refresh rotates a refresh token.
func (h *AuthHandler) Refresh(c echo.Context) error {
	raw, msg := bindRefresh(c)
	if msg != "" {
		return response.Error(c, http.StatusBadRequest, msg)
	}

	ctx, cancel := context.WithTimeout(c.Request().Context(), requestTimeout)
	defer cancel()

	res, err := h.auth.Refresh(ctx, raw)
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(http.StatusOK, toAuthResp(res))
}

// Logout revokes a refresh token.
func (h *AuthHandler) Logout(c echo.Context) error {
	raw, msg := bindRefresh(c)
	if msg != "" {
		return response.Error(c, http.StatusBadRequest, msg)
	}

	ctx, cancel := context.WithTimeout(c.Request().Context(), requestTimeout)
	defer cancel()

	if err := h.auth.Logout(ctx, raw); err != nil {
		return h.fail(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}

// Me echoes the identity the gateway forwarded.
func (h *AuthHandler) Me(c echo.Context) error {
	p, ok := middleware.PrincipalFrom(c)
	if !ok {
		return response.Error(c, http.StatusUnauthorized, "Authentication required")
	}
	return c.JSON(http.StatusOK, meResp{UserID: p.UserID(), Username: p.Subject(), Roles: p.Roles()})
}

// bindRefresh returns the token from the body, or a 400 message when the
// body cannot be decoded. A blank token is passed on and rejected by the
// service like any other invalid token.
func bindRefresh(c echo.Context) (string, string) {
	var req refreshReq
	if err := c.Bind(&req); err != nil {
		return "", "Invalid request body"
	}
	return strings.TrimSpace(req.RefreshToken), ""
}

// fail maps use-case errors onto statuses. Refresh-token failures share
// one message so clients cannot tell revoked from expired from unknown.
func (h *AuthHandler) fail(c echo.Context, err error) error {
	var verr *service.ValidationError
	switch {
	case errors.As(err, &verr):
		return response.Error(c, http.StatusBadRequest, verr.Msg)
	case errors.Is(err, service.ErrEmailAlreadyUsed):
		return response.Error(c, http.StatusConflict, "Email already in use")
	case errors.Is(err, service.ErrInvalidCredentials):
		return response.Error(c, http.StatusUnauthorized, "Invalid email or password")
	case errors.Is(err, service.ErrInvalidRefreshToken),
		errors.Is(err, service.ErrRefreshTokenExpired),
		errors.Is(err, service.ErrRefreshTokenRevoked),
		errors.Is(err, service.ErrUserNotFound):
		return response.Error(c, http.StatusUnauthorized, "Invalid refresh token")
	default:
		h.logger.Error("request failed",
			zap.String("path", c.Path()),
			zap.String("request_id", c.Response().Header().Get(echo.HeaderXRequestID)),
			zap.Error(err))
		return response.Error(c, http.StatusInternalServerError, "Internal error")
	}
}

func toAuthResp(r service.AuthResult) authResp {
	return authResp{
		AccessToken:  r.AccessToken,
		RefreshToken: r.RefreshToken,
		Email:        r.Email,
		FullName:     r.FullName,
		Role:         r.Role,
	}
}

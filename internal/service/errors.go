package service

import (
	"errors"
	"fmt"
)

// Use-case errors. Handlers map them onto HTTP statuses; the wrapped
// cause is logged but never shown to clients.
var (
	ErrEmailAlreadyUsed    = errors.New("email already used")
	ErrInvalidCredentials  = errors.New("invalid credentials")
	ErrInvalidRefreshToken = errors.New("invalid refresh token")
	ErrRefreshTokenExpired = errors.New("refresh token expired")
	ErrRefreshTokenRevoked = errors.New("refresh token revoked")
	ErrUserNotFound        = errors.New("user not found")
	ErrValidation          = errors.New("validation failed")
)

// ValidationError carries a client-safe message and matches ErrValidation.
type ValidationError struct{ Msg string }

func (e *ValidationError) Error() string { return fmt.Sprintf("%s: %s", ErrValidation, e.Msg) }

func (e *ValidationError) Is(target error) bool { return target == ErrValidation }

func invalid(msg string) error { return &ValidationError{Msg: msg} }

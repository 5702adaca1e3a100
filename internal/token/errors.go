package token

import (
	"errors"

	"github.com/golang-jwt/jwt/v5"
)

// Parse failures are reported as one of these classified errors. Callers
// at the trust boundary log them and answer with a generic 401.
var (
	ErrMalformed        = errors.New("token malformed")
	ErrInvalidSignature = errors.New("token signature invalid")
	ErrExpired          = errors.New("token expired or not yet valid")
	ErrInvalidIssuer    = errors.New("token issuer invalid")

	// ErrWeakSecret is returned by NewCodec; it aborts startup.
	ErrWeakSecret = errors.New("signing secret must be at least 32 bytes")
)

// classify maps golang-jwt validation errors onto the package taxonomy.
func classify(err error) error {
	switch {
	case errors.Is(err, jwt.ErrTokenMalformed):
		return ErrMalformed
	case errors.Is(err, jwt.ErrTokenSignatureInvalid),
		errors.Is(err, jwt.ErrTokenUnverifiable),
		errors.Is(err, jwt.ErrSignatureInvalid):
		return ErrInvalidSignature
	case errors.Is(err, jwt.ErrTokenExpired),
		errors.Is(err, jwt.ErrTokenUsedBeforeIssued),
		errors.Is(err, jwt.ErrTokenNotValidYet):
		return ErrExpired
	case errors.Is(err, jwt.ErrTokenInvalidIssuer):
		return ErrInvalidIssuer
	default:
		return ErrMalformed
	}
}

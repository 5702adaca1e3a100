// Package response renders the JSON error body shared by every endpoint.
package response

import (
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
)

// ErrorBody is the structured error returned to clients.
type ErrorBody struct {
	Timestamp string `json:"timestamp"`
	Status    int    `json:"status"`
	Error     string `json:"error"`
	Message   string `json:"message"`
}

// NewErrorBody stamps the current time and the status reason phrase.
func NewErrorBody(status int, msg string) ErrorBody {
	return ErrorBody{
		Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
		Status:    status,
		Error:     http.StatusText(status),
		Message:   msg,
	}
}

// Error writes an ErrorBody with the given status.
func Error(c echo.Context, status int, msg string) error {
	return c.JSON(status, NewErrorBody(status, msg))
}

// HTTPErrorHandler renders echo's own errors (404, 405, bind failures)
// in the same shape.
func HTTPErrorHandler(err error, c echo.Context) {
	if c.Response().Committed {
		return
	}
	status := http.StatusInternalServerError
	msg := "Internal error"
	if he, ok := err.(*echo.HTTPError); ok {
		status = he.Code
		if m, ok := he.Message.(string); ok {
			msg = m
		} else {
			msg = http.StatusText(status)
		}
	}
	if c.Request().Method == http.MethodHead {
		_ = c.NoContent(status)
		return
	}
	_ = Error(c, status, msg)
}

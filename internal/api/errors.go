package api

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v5"

	"github.com/samcharles93/s4/internal/kernel"
	"github.com/samcharles93/s4/internal/s4"
	"github.com/samcharles93/s4/internal/tensor"
)

var ErrInvalidRequest = errors.New("invalid_request")

type invalidRequestError struct {
	msg string
}

func (e invalidRequestError) Error() string {
	return e.msg
}

func (e invalidRequestError) Unwrap() error {
	return ErrInvalidRequest
}

func newInvalidRequest(msg string) error {
	return invalidRequestError{msg: msg}
}

func writeBadRequest(c *echo.Context, msg string) error {
	return writeError(c, http.StatusBadRequest, "invalid_request_error", msg)
}

func writeNotFound(c *echo.Context, msg string) error {
	return writeError(c, http.StatusNotFound, "not_found_error", msg)
}

func writeError(c *echo.Context, status int, errType, msg string) error {
	return c.JSON(status, map[string]any{
		"error": ResponseError{Message: msg, Type: errType},
	})
}

// writeLayerError maps layer errors onto HTTP statuses. Caller mistakes are
// 400s; anything else is a server error.
func writeLayerError(c *echo.Context, err error) error {
	switch {
	case errors.Is(err, ErrInvalidRequest), errors.Is(err, tensor.ErrShape):
		return writeBadRequest(c, err.Error())
	case errors.Is(err, s4.ErrBidirectionalState):
		return writeError(c, http.StatusBadRequest, "configuration_error", err.Error())
	case errors.Is(err, s4.ErrStepInTraining), errors.Is(err, kernel.ErrStepNotReady):
		return writeError(c, http.StatusConflict, "mode_error", err.Error())
	default:
		return writeError(c, http.StatusInternalServerError, "server_error", err.Error())
	}
}

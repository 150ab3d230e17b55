package api

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v5"

	"github.com/samcharles93/gpuadvisor/internal/arch"
	"github.com/samcharles93/gpuadvisor/internal/bundle"
	"github.com/samcharles93/gpuadvisor/internal/program"
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

// ErrorBody is the payload of every error response.
type ErrorBody struct {
	Message string `json:"message"`
	Type    string `json:"type"`
}

func writeError(c *echo.Context, status int, errType, msg string) error {
	return c.JSON(status, map[string]ErrorBody{
		"error": {Message: msg, Type: errType},
	})
}

func writeBadRequest(c *echo.Context, msg string) error {
	return writeError(c, http.StatusBadRequest, "invalid_request_error", msg)
}

func writeNotFound(c *echo.Context, msg string) error {
	return writeError(c, http.StatusNotFound, "not_found_error", msg)
}

// writeAnalysisError maps engine and bundle failures to a response. Anything
// caused by the posted document is the client's fault.
func writeAnalysisError(c *echo.Context, err error) error {
	var maxBytes *http.MaxBytesError
	switch {
	case errors.As(err, &maxBytes):
		return writeError(c, http.StatusRequestEntityTooLarge, "invalid_request_error", err.Error())
	case errors.Is(err, ErrInvalidRequest),
		errors.Is(err, bundle.ErrInvalidBundle),
		errors.Is(err, arch.ErrUnknownArchitecture),
		errors.Is(err, program.ErrDuplicateAddress),
		errors.Is(err, program.ErrDuplicateBlock),
		errors.Is(err, program.ErrEmptyBlock),
		errors.Is(err, program.ErrUnknownBlock),
		errors.Is(err, program.ErrOverlap),
		errors.Is(err, program.ErrDataConsistency):
		return writeBadRequest(c, err.Error())
	default:
		return writeError(c, http.StatusInternalServerError, "server_error", err.Error())
	}
}

package api

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"riskflow/backend/internal/apperr"
	"riskflow/backend/internal/logging"
)

// ErrorResponse is the body of every failed request.
type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

// statusFor maps an error to its HTTP status and public message.
func statusFor(err error) (int, string) {
	var (
		validation *apperr.ValidationError
		invalid    *apperr.InvalidStateError
		httpErr    *echo.HTTPError
	)
	switch {
	case errors.As(err, &validation):
		return http.StatusBadRequest, "validation failed"
	case errors.As(err, &invalid):
		// no state means the execution does not exist
		if invalid.State == "" {
			return http.StatusNotFound, "execution not found"
		}
		return http.StatusConflict, "invalid execution state"
	case errors.Is(err, apperr.ErrNotFound):
		return http.StatusNotFound, "not found"
	case errors.Is(err, apperr.ErrConflict):
		return http.StatusConflict, "conflict"
	case errors.As(err, &httpErr):
		if msg, ok := httpErr.Message.(string); ok {
			return httpErr.Code, msg
		}
		return httpErr.Code, http.StatusText(httpErr.Code)
	}
	return http.StatusInternalServerError, "internal error"
}

// ErrorHandler writes errors as ErrorResponse bodies. Server errors are
// logged and their details withheld.
func ErrorHandler(logger *logging.Logger) echo.HTTPErrorHandler {
	return func(err error, c echo.Context) {
		if c.Response().Committed {
			return
		}

		code, msg := statusFor(err)
		body := ErrorResponse{Error: msg}
		if code >= http.StatusInternalServerError {
			logger.ErrorContext(c.Request().Context(), "request failed",
				"method", c.Request().Method,
				"path", c.Path(),
				"error", err,
			)
		} else if !isHTTPError(err) {
			body.Details = detail(err)
		}

		if c.Request().Method == http.MethodHead {
			err = c.NoContent(code)
		} else {
			err = c.JSON(code, body)
		}
		if err != nil {
			logger.Error("writing error response", "error", err)
		}
	}
}

func isHTTPError(err error) bool {
	var httpErr *echo.HTTPError
	return errors.As(err, &httpErr)
}

// detail returns the most specific message for a client error.
func detail(err error) string {
	var validation *apperr.ValidationError
	if errors.As(err, &validation) {
		return validation.Reason
	}
	return err.Error()
}

package httpx

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/consultaflow/dispatcher/internal/data"
	apperrors "github.com/consultaflow/dispatcher/internal/errors"
	"github.com/consultaflow/dispatcher/internal/service"
)

// DetermineErrorStatus maps a service or store error onto a response status and
// machine-readable code. Errors that carry no AppError code are passed through
// apperrors.MapDBError first so pg constraint failures become 4xx.
func DetermineErrorStatus(err error) (int, string) {
	switch {
	case err == nil:
		return http.StatusOK, ""
	case errors.Is(err, data.ErrJobNotFound), errors.Is(err, data.ErrAccountNotFound):
		return http.StatusNotFound, string(apperrors.ErrCodeNotFound)
	case errors.Is(err, service.ErrUnknownProvider):
		return http.StatusNotFound, "unknown_provider"
	case errors.Is(err, service.ErrEmptyBatch), errors.Is(err, service.ErrBatchTooLarge),
		errors.Is(err, data.ErrInvalidProvider), errors.Is(err, data.ErrEmptyScope):
		return http.StatusBadRequest, string(apperrors.ErrCodeValidation)
	case errors.Is(err, service.ErrAccountsDisabled):
		return http.StatusNotImplemented, "accounts_disabled"
	case errors.Is(err, service.ErrRunInProgress):
		return http.StatusConflict, "run_in_progress"
	}

	mapped := err
	if apperrors.GetCode(err) == "" {
		mapped = apperrors.MapDBError(err)
	}
	if code := apperrors.GetCode(mapped); code != "" {
		return code.HTTPStatus(), string(code)
	}
	return http.StatusInternalServerError, string(apperrors.ErrCodeInternal)
}

// RenderError writes err as a JSON error body. Server-side failures are logged
// and their detail is not echoed to the client.
func RenderError(w http.ResponseWriter, r *http.Request, logger *slog.Logger, err error) {
	status, code := DetermineErrorStatus(err)
	if status >= http.StatusInternalServerError {
		if logger != nil {
			logger.ErrorContext(r.Context(), "request failed",
				"method", r.Method, "path", r.URL.Path, "error", err)
		}
		if status == http.StatusInternalServerError {
			err = errors.New(http.StatusText(status))
		}
	}
	WriteError(w, ErrorParams{Code: status, ErrCode: code, Err: err, Field: apperrors.GetField(err)})
}

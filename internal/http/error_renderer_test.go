package httpx

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"

	"github.com/consultaflow/dispatcher/internal/data"
	apperrors "github.com/consultaflow/dispatcher/internal/errors"
	"github.com/consultaflow/dispatcher/internal/service"
)

func TestDetermineErrorStatus(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		wantCode int
		wantErr  string
	}{
		{"job not found", fmt.Errorf("get: %w", data.ErrJobNotFound), http.StatusNotFound, "not_found"},
		{"unknown provider", service.ErrUnknownProvider, http.StatusNotFound, "unknown_provider"},
		{"batch too large", service.ErrBatchTooLarge, http.StatusBadRequest, "validation"},
		{"empty scope", data.ErrEmptyScope, http.StatusBadRequest, "validation"},
		{"accounts disabled", service.ErrAccountsDisabled, http.StatusNotImplemented, "accounts_disabled"},
		{"app validation", apperrors.Validation("bad"), http.StatusBadRequest, "validation"},
		{
			"unique violation",
			fmt.Errorf("create: %w", &pgconn.PgError{Code: pgerrcode.UniqueViolation, TableName: "accounts", ColumnName: "label"}),
			http.StatusConflict,
			"conflict",
		},
		{"lock timeout", &pgconn.PgError{Code: pgerrcode.LockNotAvailable}, http.StatusConflict, "busy"},
		{"deadline", context.DeadlineExceeded, http.StatusGatewayTimeout, "timeout"},
		{"unknown", errors.New("boom"), http.StatusInternalServerError, "internal"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code, errCode := DetermineErrorStatus(tt.err)
			assert.Equal(t, tt.wantCode, code)
			assert.Equal(t, tt.wantErr, errCode)
		})
	}
}

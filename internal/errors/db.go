package errors

import (
	"context"
	"errors"
	"regexp"
	"strings"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// Regular expressions for parsing PgError.Detail messages.
var (
	// reKeyField extracts field name from unique violation detail: "Key (field)=(value) already exists.".
	reKeyField = regexp.MustCompile(`Key \(([^)]+)\)=`)
	// reReferencedFrom detects parent deletion: "... is still referenced from table ...".
	reReferencedFrom = regexp.MustCompile(`is still referenced from table "?([^"]+)"?`)
	// reNotPresent detects missing parent: "... is not present in table ...".
	reNotPresent = regexp.MustCompile(`is not present in table "?([^"]+)"?`)
)

// tableDomains names the tables in messages returned to API clients.
var tableDomains = map[string]string{
	"consult_jobs": "consult job",
	"accounts":     "account",
}

// MapDBError maps database errors to AppError instances:
//
//   - pgx.ErrNoRows → NotFound
//   - unique violations → Conflict
//   - foreign key violations → ForeignKey
//   - check and NOT NULL violations → Validation
//   - lock timeouts, serialization failures and deadlocks → Busy
//   - connection failures and shutdowns → Unavailable
//   - context timeouts/cancellations → Timeout/Canceled
//
// Any other error is returned unchanged.
func MapDBError(err error) error {
	if err == nil {
		return nil
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return &AppError{Code: ErrCodeTimeout, Message: "Request timed out. Please try again.", Cause: err}
	}
	if errors.Is(err, context.Canceled) {
		return &AppError{Code: ErrCodeCanceled, Message: "Request was canceled.", Cause: err}
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return &AppError{Code: ErrCodeNotFound, Message: "Resource not found", Cause: err}
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return mapPgError(pgErr)
	}

	var connErr *pgconn.ConnectError
	if errors.As(err, &connErr) {
		return &AppError{Code: ErrCodeUnavailable, Message: "Database is unavailable. Please try again.", Cause: err}
	}
	return err
}

func mapPgError(pgErr *pgconn.PgError) error {
	switch {
	case pgErr.Code == pgerrcode.UniqueViolation:
		return mapUniqueViolation(pgErr)
	case pgErr.Code == pgerrcode.ForeignKeyViolation:
		return mapForeignKeyViolation(pgErr)
	case pgErr.Code == pgerrcode.CheckViolation:
		return fieldValidation(pgErr, "This field has an invalid value.", "Invalid data. Please check your input.")
	case pgErr.Code == pgerrcode.NotNullViolation:
		return fieldValidation(pgErr, "This field is required.", "Required field is missing. Please check your input.")
	case pgErr.Code == pgerrcode.LockNotAvailable,
		pgErr.Code == pgerrcode.SerializationFailure,
		pgErr.Code == pgerrcode.DeadlockDetected:
		return &AppError{Code: ErrCodeBusy, Message: "The records are being processed. Please try again.", Cause: pgErr}
	case pgerrcode.IsConnectionException(pgErr.Code),
		pgErr.Code == pgerrcode.TooManyConnections,
		pgErr.Code == pgerrcode.AdminShutdown,
		pgErr.Code == pgerrcode.CannotConnectNow:
		return &AppError{Code: ErrCodeUnavailable, Message: "Database is unavailable. Please try again.", Cause: pgErr}
	case pgErr.Code == pgerrcode.QueryCanceled:
		return &AppError{Code: ErrCodeTimeout, Message: "Request timed out. Please try again.", Cause: pgErr}
	}
	return &AppError{Code: ErrCodeInternal, Message: "A database error occurred. Please try again.", Cause: pgErr}
}

// mapUniqueViolation maps unique constraint violations to Conflict errors.
func mapUniqueViolation(pgErr *pgconn.PgError) error {
	field := pgErr.ColumnName
	if field == "" && pgErr.Detail != "" {
		if m := reKeyField.FindStringSubmatch(pgErr.Detail); len(m) == 2 {
			field = m[1]
		}
	}
	if field == "" {
		field = inferFieldFromConstraint(pgErr.ConstraintName)
	}
	return &AppError{
		Code:    ErrCodeConflict,
		Message: "This value already exists. Please choose a different one.",
		Field:   field,
		Cause:   pgErr,
	}
}

// mapForeignKeyViolation distinguishes a parent still in use from a missing parent.
func mapForeignKeyViolation(pgErr *pgconn.PgError) error {
	var message string
	if pgErr.Detail != "" {
		if m := reReferencedFrom.FindStringSubmatch(pgErr.Detail); len(m) == 2 {
			message = "Cannot delete because this item is in use by a " + tableDomain(m[1]) + "."
		} else if m := reNotPresent.FindStringSubmatch(pgErr.Detail); len(m) == 2 {
			message = "Cannot complete operation because the referenced " + tableDomain(m[1]) + " does not exist."
		}
	}
	if message == "" && pgErr.TableName != "" {
		message = "Cannot complete operation because this item is in use by a " + tableDomain(pgErr.TableName) + "."
	}
	if message == "" {
		message = inferForeignKeyMessage(pgErr.ConstraintName)
	}
	return &AppError{Code: ErrCodeForeignKey, Message: message, Cause: pgErr}
}

func fieldValidation(pgErr *pgconn.PgError, fieldMsg, genericMsg string) error {
	if pgErr.ColumnName != "" {
		return &AppError{Code: ErrCodeValidation, Message: fieldMsg, Field: pgErr.ColumnName, Cause: pgErr}
	}
	return &AppError{Code: ErrCodeValidation, Message: genericMsg, Cause: pgErr}
}

// inferFieldFromConstraint reads the field out of "table_field_key" style
// names. Multi-column and expression constraints yield "".
func inferFieldFromConstraint(constraintName string) string {
	parts := strings.Split(constraintName, "_")
	if len(parts) != 3 {
		return ""
	}
	switch candidate := strings.ToLower(parts[1]); candidate {
	case "lower", "upper", "trim", "md5", "coalesce":
		return ""
	default:
		return candidate
	}
}

func tableDomain(tableName string) string {
	tableName = strings.ToLower(strings.TrimSpace(tableName))
	if name, ok := tableDomains[tableName]; ok {
		return name
	}
	return strings.ReplaceAll(tableName, "_", " ")
}

func inferForeignKeyMessage(constraintName string) string {
	constraintName = strings.ToLower(constraintName)
	switch {
	case strings.Contains(constraintName, "forced_account"):
		return "The pinned account does not exist."
	case strings.Contains(constraintName, "account"):
		return "Cannot complete operation because the account is referenced by consult jobs."
	}
	return "Cannot complete operation because this item is in use."
}

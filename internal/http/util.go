package httpx

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"

	apperrors "github.com/consultaflow/dispatcher/internal/errors"
	"github.com/consultaflow/dispatcher/internal/domain/model"
)

// parseIntQuery returns the integer value of a query param or a default.
// It is tolerant of missing/invalid values.
func parseIntQuery(r *http.Request, key string, def int) int {
	if v := r.URL.Query().Get(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}

// ParseLimit parses the limit query param and clamps it to [1, maxLimit].
func ParseLimit(r *http.Request, defLimit, maxLimit int) int {
	if maxLimit < 1 {
		maxLimit = 1
	}
	lim := parseIntQuery(r, "limit", defLimit)
	if lim < 1 {
		lim = 1
	}
	if lim > maxLimit {
		lim = maxLimit
	}
	return lim
}

// parseInt64Query parses an optional int64 query param; empty yields 0.
func parseInt64Query(r *http.Request, key string) (int64, error) {
	v := strings.TrimSpace(r.URL.Query().Get(key))
	if v == "" {
		return 0, nil
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return 0, apperrors.ValidationField(key, fmt.Sprintf("%s must be an integer", key))
	}
	return n, nil
}

// parseIDPath reads the {id} path value.
func parseIDPath(r *http.Request) (int64, error) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil || id <= 0 {
		return 0, apperrors.ValidationField("id", "id must be a positive integer")
	}
	return id, nil
}

// parseProvider reads a required provider from the path value or query param name.
func parseProvider(raw string) (model.Provider, error) {
	p, err := model.ParseProvider(raw)
	if err != nil {
		return "", apperrors.ValidationField("provider", err.Error())
	}
	return p, nil
}

// parseOptionalProvider accepts an empty value as "all providers".
func parseOptionalProvider(raw string) (model.Provider, error) {
	if strings.TrimSpace(raw) == "" {
		return "", nil
	}
	return parseProvider(raw)
}

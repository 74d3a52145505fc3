// Package errors derives low-cardinality error class names for metric tags.
package errors

import (
	"context"
	goerrors "errors"
	"reflect"
	"strings"
)

// Classifier is implemented by errors that name their own class.
type Classifier interface {
	ErrorClass() string
}

// Classify returns a normalized error class suitable for tagging metrics and logs.
// Errors implementing Classifier anywhere in the chain win; context errors map to
// fixed names; otherwise the innermost concrete type name is used in snake case.
func Classify(err error) string {
	if err == nil {
		return ""
	}

	var c Classifier
	if goerrors.As(err, &c) {
		if class := strings.TrimSpace(c.ErrorClass()); class != "" {
			return class
		}
	}

	switch {
	case goerrors.Is(err, context.Canceled):
		return "canceled"
	case goerrors.Is(err, context.DeadlineExceeded):
		return "deadline_exceeded"
	}

	for {
		unwrapped := goerrors.Unwrap(err)
		if unwrapped == nil {
			break
		}
		err = unwrapped
	}

	t := reflect.TypeOf(err)
	for t != nil && t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	if t == nil {
		return "unknown"
	}

	name := strings.ToLower(strings.ReplaceAll(t.String(), ".", "_"))
	if name == "" {
		return "unknown"
	}
	return name
}

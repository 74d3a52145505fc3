package errors

import (
	"context"
	goerrors "errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

type classified struct{ class string }

func (c classified) Error() string      { return "classified" }
func (c classified) ErrorClass() string { return c.class }

type plainErr struct{}

func (*plainErr) Error() string { return "plain" }

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{"nil", nil, ""},
		{"classifier wins through wrapping", fmt.Errorf("outer: %w", classified{class: "workflow_auth"}), "workflow_auth"},
		{"empty class falls back to type", classified{}, "errors_classified"},
		{"canceled", fmt.Errorf("run: %w", context.Canceled), "canceled"},
		{"deadline", context.DeadlineExceeded, "deadline_exceeded"},
		{"innermost type", fmt.Errorf("a: %w", &plainErr{}), "errors_plainerr"},
		{"errors.New", goerrors.New("x"), "errors_errorstring"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Classify(tt.err))
		})
	}
}

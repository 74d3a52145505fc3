package service

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/consultaflow/dispatcher/internal/core"
)

type utcClock struct{}

func (utcClock) Now() time.Time { return time.Now().UTC() }

func clockOrDefault(c core.Clock) core.Clock {
	if c == nil {
		return utcClock{}
	}
	return c
}

func loggerOrDefault(l *slog.Logger) *slog.Logger {
	if l == nil {
		return slog.Default()
	}
	return l
}

func isContextCancellation(err error) bool {
	if err == nil {
		return false
	}
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

func suppressContextCancellation(err error) error {
	if isContextCancellation(err) {
		return nil
	}
	return err
}

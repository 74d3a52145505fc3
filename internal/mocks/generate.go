// Package mocks provides mock implementations for testing the consult dispatcher.
//
// This package uses go.uber.org/mock (gomock) to generate type-safe mocks for the core ports.
// To regenerate mocks after interface changes, run:
//
//	go generate ./internal/mocks
//
// Usage in tests:
//
//	ctrl := gomock.NewController(t)
//	jobs := mocks.NewMockJobStore(ctrl)
//	jobs.EXPECT().MarkError(gomock.Any(), int64(7), gomock.Any()).Return(nil)
package mocks

// Generate mock for AccountStore interface from internal/core package.
// ListByProvider, GetByID, ResetCounter, Increment
//go:generate go run go.uber.org/mock/mockgen@v0.6.0 -package=mocks -destination=account_store_mock.go github.com/consultaflow/dispatcher/internal/core AccountStore

// Generate mock for JobStore interface from internal/core package.
//go:generate go run go.uber.org/mock/mockgen@v0.6.0 -package=mocks -destination=job_store_mock.go github.com/consultaflow/dispatcher/internal/core JobStore

// Generate mock for Locker interface from internal/core package.
// TryAcquire, Release
//go:generate go run go.uber.org/mock/mockgen@v0.6.0 -package=mocks -destination=locker_mock.go github.com/consultaflow/dispatcher/internal/core Locker

// Generate mock for AccountRegistry interface from internal/core package.
//go:generate go run go.uber.org/mock/mockgen@v0.6.0 -package=mocks -destination=account_registry_mock.go github.com/consultaflow/dispatcher/internal/core AccountRegistry

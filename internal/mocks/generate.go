// Package mocks provides mock implementations for testing the smart-agent job runner.
//
// This package uses go.uber.org/mock (gomock) to generate type-safe mocks for our port interfaces.
// The mocks are generated using go:generate directives and provide a fluent API for setting up test expectations.
//
// To regenerate mocks after interface changes, run:
//
//	go generate ./internal/mocks
//
// Usage in tests:
//
//	ctrl := gomock.NewController(t)
//	store := mocks.NewMockJobRecordStore(ctrl)
//	store.EXPECT().Get(gomock.Any(), "job-1").Return(nil, core.ErrJobRecordNotFound)
package mocks

// Generate mock for JobRecordStore interface from internal/core package.
// This creates MockJobRecordStore with methods for all JobRecordStore interface methods:
// Create, Get, Update, Delete, List
//go:generate go run go.uber.org/mock/mockgen@v0.6.0 -package=mocks -destination=job_record_store_mock.go github.com/target/smart-agent/internal/core JobRecordStore

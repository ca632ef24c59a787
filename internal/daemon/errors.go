// SPDX-License-Identifier: MIT

package daemon

import "errors"

var (
	// ErrMissingLogger is returned when the logger is not provided.
	ErrMissingLogger = errors.New("logger is required")

	// ErrMissingAPIHandler is returned when the API handler is not provided.
	ErrMissingAPIHandler = errors.New("API handler is required")

	// ErrMissingHealth is returned when the health manager is not provided.
	ErrMissingHealth = errors.New("health manager is required")

	// ErrMissingManager is returned when a daemon app is created without a manager.
	ErrMissingManager = errors.New("manager is required")

	// ErrManagerNotStarted is returned when trying to shut down a manager that hasn't started.
	ErrManagerNotStarted = errors.New("manager not started")

	// ErrAlreadyStarted is returned by a second Start on the same manager.
	ErrAlreadyStarted = errors.New("manager already started")

	// ErrServerStartFailed is returned when a listener cannot be bound.
	ErrServerStartFailed = errors.New("server failed to start")
)

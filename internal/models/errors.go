package models

import "errors"

var (
	// ErrValidation marks input rejected before any job is created.
	ErrValidation = errors.New("validation failed")

	// ErrJobExists is returned when a job id is initialized twice.
	ErrJobExists = errors.New("job already exists")

	// ErrNotFound is returned for an unknown job id.
	ErrNotFound = errors.New("job not found")

	// ErrPersistence wraps storage write failures during a tick.
	ErrPersistence = errors.New("job persistence failed")
)

package storage

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound if the requested resource does not exist.
	ErrNotFound = errors.New("not found")

	// ErrVersionConflict if a submitted meta.versionId is older than the stored one.
	ErrVersionConflict = errors.New("version conflict")

	// ErrInvalidWriteInput if a resource handed to MergeBatch cannot be written at all.
	ErrInvalidWriteInput = errors.New("invalid write input")

	// ErrExceededWriteBatchLimit if MaxResourcesPerWrite is exceeded.
	ErrExceededWriteBatchLimit = errors.New("number of resources exceeded write batch limit")

	ErrCancelled        = errors.New("request has been cancelled")
	ErrDeadlineExceeded = errors.New("request deadline exceeded")
)

// InvalidWriteInputError describes why a single resource cannot be written.
func InvalidWriteInputError(resourceType, id, reason string) error {
	return fmt.Errorf("cannot write %s/%s: %s: %w", resourceType, id, reason, ErrInvalidWriteInput)
}

// MismatchedResourceTypeError is returned when a batch contains a resource of another type.
func MismatchedResourceTypeError(expected, got string) error {
	return fmt.Errorf("batch for %q contains a %q resource: %w", expected, got, ErrInvalidWriteInput)
}

// Package errors contains the error taxonomy of the merge engine and its translation into
// gRPC status codes for the transport collaborator.
package errors

import (
	"context"
	"errors"
	"fmt"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/icanbwell/fhir-server-sub016/pkg/storage"
)

const InternalServerErrorMsg = "Internal Server Error"

var (
	// ErrValidation matches every ValidationError.
	ErrValidation = errors.New("validation error")
	// ErrResolution matches every ResolutionError.
	ErrResolution = errors.New("reference resolution error")
	// ErrBulkWrite matches every BulkWriteError.
	ErrBulkWrite = errors.New("bulk write error")

	EmptyMergeRequest       = ValidationError{Reason: "at least one resource must be provided"}
	RequestCancelled        = status.Error(codes.Canceled, "Request Cancelled")
	RequestDeadlineExceeded = status.Error(codes.DeadlineExceeded, "Request Deadline Exceeded")
)

// ValidationError is raised for malformed input. It is surfaced immediately and never retried.
type ValidationError struct {
	Field  string
	Reason string
}

func (e ValidationError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("invalid input: %s", e.Reason)
	}
	return fmt.Sprintf("invalid input: %s: %s", e.Field, e.Reason)
}

func (e ValidationError) Is(target error) bool {
	return target == ErrValidation
}

func (e ValidationError) GRPCStatus() *status.Status {
	return status.New(codes.InvalidArgument, e.Error())
}

// NewValidationError builds a ValidationError for field.
func NewValidationError(field, format string, args ...any) ValidationError {
	return ValidationError{Field: field, Reason: fmt.Sprintf(format, args...)}
}

// ResolutionError is raised when the reference resolver fails for one reference. It aborts the
// rewrite of the owning document only.
type ResolutionError struct {
	// Path is the location of the reference inside the document, e.g. "subject" or "performer[1]".
	Path      string
	Reference string
	Err       error
}

func (e *ResolutionError) Error() string {
	return fmt.Sprintf("resolve reference %q at %s: %v", e.Reference, e.Path, e.Err)
}

func (e *ResolutionError) Unwrap() error {
	return e.Err
}

func (e *ResolutionError) Is(target error) bool {
	return target == ErrResolution
}

func (e *ResolutionError) GRPCStatus() *status.Status {
	return status.New(codes.FailedPrecondition, e.Error())
}

// BulkWriteError wraps a whole-batch failure reported by the storage collaborator.
type BulkWriteError struct {
	ResourceType string
	Err          error
}

func (e *BulkWriteError) Error() string {
	return fmt.Sprintf("bulk write of %s failed: %v", e.ResourceType, e.Err)
}

func (e *BulkWriteError) Unwrap() error {
	return e.Err
}

func (e *BulkWriteError) Is(target error) bool {
	return target == ErrBulkWrite
}

func (e *BulkWriteError) GRPCStatus() *status.Status {
	return status.New(codeFor(e.Err), e.Error())
}

func codeFor(err error) codes.Code {
	switch {
	case errors.Is(err, storage.ErrExceededWriteBatchLimit), errors.Is(err, storage.ErrInvalidWriteInput):
		return codes.InvalidArgument
	case errors.Is(err, storage.ErrVersionConflict):
		return codes.Aborted
	case errors.Is(err, storage.ErrNotFound):
		return codes.NotFound
	case errors.Is(err, storage.ErrCancelled), errors.Is(err, context.Canceled):
		return codes.Canceled
	case errors.Is(err, storage.ErrDeadlineExceeded), errors.Is(err, context.DeadlineExceeded):
		return codes.DeadlineExceeded
	default:
		return codes.Internal
	}
}

// InternalError hides the internal cause behind a public message.
type InternalError struct {
	public   error
	internal error
}

func (e InternalError) Error() string {
	return e.public.Error()
}

func (e InternalError) Unwrap() error {
	return e.internal
}

func (e InternalError) GRPCStatus() *status.Status {
	s, _ := status.FromError(e.public)
	return s
}

func NewInternalError(public string, internal error) InternalError {
	if public == "" {
		public = InternalServerErrorMsg
	}

	return InternalError{
		public:   status.Error(codes.Internal, public),
		internal: internal,
	}
}

// HandleError translates a storage error returned outside a batch write (reads, lookups)
// into an error suitable for the transport collaborator.
func HandleError(public string, err error) error {
	switch {
	case errors.Is(err, storage.ErrCancelled), errors.Is(err, context.Canceled):
		return RequestCancelled
	case errors.Is(err, storage.ErrDeadlineExceeded), errors.Is(err, context.DeadlineExceeded):
		return RequestDeadlineExceeded
	case errors.Is(err, storage.ErrExceededWriteBatchLimit):
		return status.Error(codes.InvalidArgument, err.Error())
	case errors.Is(err, ErrValidation), errors.Is(err, ErrResolution), errors.Is(err, ErrBulkWrite):
		return err
	default:
		return NewInternalError(public, err)
	}
}

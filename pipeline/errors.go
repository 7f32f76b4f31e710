package pipeline

import (
	"errors"
	"fmt"
)

// Sentinel errors for common error conditions.
// These can be used with errors.Is() for error handling and map onto the
// HTTP taxonomy at the API edge (400, 404, 409, 500, 502).
var (
	// ErrNotFound indicates no pipeline matches the given identifier, or
	// a referenced remote resource is absent.
	ErrNotFound = errors.New("pipeline not found")

	// ErrBadRequest indicates the input violates the schema or a
	// documented constraint.
	ErrBadRequest = errors.New("invalid request")

	// ErrConflict indicates operation preconditions were violated.
	ErrConflict = errors.New("operation preconditions violated")

	// ErrInternal indicates an invariant violation or an unexpected
	// gateway response shape.
	ErrInternal = errors.New("internal error")

	// ErrStoreCorrupt indicates the snapshot file could not be decoded.
	// Fatal at startup: the store is never silently reset.
	ErrStoreCorrupt = errors.New("store snapshot corrupt")

	// ErrNotRun indicates a status was requested for a pipeline whose
	// run has not been initiated.
	ErrNotRun = errors.New("pipeline has not been run")

	// ErrOutputTruncated indicates a stage's captured output carried no
	// '+'-prefixed command line, typically because the CI engine
	// truncated it. Raise the engine's output retention setting.
	ErrOutputTruncated = errors.New("stage output truncated")

	// ErrBadgeResolution indicates badge class lookup found no match or
	// multiple matches.
	ErrBadgeResolution = errors.New("badge class resolution failed")
)

// RequestError reports input that violates the request schema. Path names
// the first offending location in the submitted document.
type RequestError struct {
	Path   string
	Reason string
}

// NewRequestError creates a RequestError for the given path.
func NewRequestError(path, reason string) *RequestError {
	return &RequestError{Path: path, Reason: reason}
}

// Error returns the error message.
func (e *RequestError) Error() string {
	if e.Path == "" {
		return "invalid request: " + e.Reason
	}
	return fmt.Sprintf("invalid request at %s: %s", e.Path, e.Reason)
}

// Unwrap returns ErrBadRequest for errors.Is support.
func (e *RequestError) Unwrap() error {
	return ErrBadRequest
}

// UpstreamError reports a failure originating in an external system
// (code-hosting platform, CI engine or badge service). It surfaces at the
// HTTP edge as 502 with the upstream status and reason.
type UpstreamError struct {
	// System identifies the external system ("github", "jenkins", "badgr").
	System string

	// Status is the upstream HTTP status, 0 when unknown.
	Status int

	// Reason is the upstream failure description.
	Reason string

	// Err is the underlying error.
	Err error
}

// NewUpstreamError creates an UpstreamError for the given system.
func NewUpstreamError(system string, status int, reason string, err error) *UpstreamError {
	return &UpstreamError{System: system, Status: status, Reason: reason, Err: err}
}

// Error returns the error message.
func (e *UpstreamError) Error() string {
	msg := e.System + " upstream error"
	if e.Status != 0 {
		msg += fmt.Sprintf(" (%d)", e.Status)
	}
	if e.Reason != "" {
		msg += ": " + e.Reason
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap returns the underlying error for errors.Is/As support.
func (e *UpstreamError) Unwrap() error {
	return e.Err
}

// NotFoundUpstream reports whether the upstream failure was a missing
// resource rather than a transport or permission problem.
func (e *UpstreamError) NotFoundUpstream() bool {
	return e.Status == 404
}

// PipelineError wraps an error with the operation and pipeline it occurred
// on.
type PipelineError struct {
	// Op is the operation that failed (e.g. "define", "run", "status").
	Op string

	// ID is the pipeline identifier, if known.
	ID string

	// Err is the underlying error.
	Err error
}

// NewPipelineError creates a PipelineError.
func NewPipelineError(op, id string, err error) *PipelineError {
	return &PipelineError{Op: op, ID: id, Err: err}
}

// Error returns the error message.
func (e *PipelineError) Error() string {
	if e.ID != "" {
		return e.Op + " pipeline " + e.ID + ": " + e.Err.Error()
	}
	return e.Op + ": " + e.Err.Error()
}

// Unwrap returns the underlying error for errors.Is/As support.
func (e *PipelineError) Unwrap() error {
	return e.Err
}

package analysis

import "errors"

var (
	// ErrImageIDMismatch means the image id in the URL and the request body disagree.
	ErrImageIDMismatch = errors.New("image id in path and body do not match")

	// ErrModelNotAllowed means the requested model is not on the configured allow-list.
	ErrModelNotAllowed = errors.New("model not allowed")

	// ErrAnalysisLimitReached means the image already carries the maximum number of analyses.
	ErrAnalysisLimitReached = errors.New("analysis limit reached for this image")

	// ErrUnknownStatus means the requested status is not a recognized analysis status.
	ErrUnknownStatus = errors.New("unknown analysis status")

	// ErrNotTerminalStatus means finalize was asked to end on a non-terminal status.
	ErrNotTerminalStatus = errors.New("finalize requires a terminal status")

	// ErrIllegalTransition means the requested status is not reachable from the current one.
	ErrIllegalTransition = errors.New("illegal status transition")

	// ErrTooManyAnnotations means a bulk upload exceeds the configured batch cap.
	ErrTooManyAnnotations = errors.New("too many annotations in one request")

	// ErrInvalidAnnotation means an annotation in the batch is missing required fields.
	ErrInvalidAnnotation = errors.New("invalid annotation payload")

	// ErrInvalidMode means the bulk mode is neither append nor replace.
	ErrInvalidMode = errors.New("invalid bulk annotation mode")

	// ErrInvalidArtifactType means a presign request did not name an artifact type.
	ErrInvalidArtifactType = errors.New("artifact type is required")

	// ErrPresignerUnavailable means artifact storage is not configured on this deployment.
	ErrPresignerUnavailable = errors.New("artifact storage not configured")
)

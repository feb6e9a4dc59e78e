package pipeline

import (
	"errors"
	"fmt"
)

// Sentinel errors for pipeline preconditions and cancellation.
var (
	// ErrNotConfigured means the pipeline was invoked before its
	// collaborators were wired up.
	ErrNotConfigured = errors.New("pipeline not configured")
	// ErrAlreadyInProgress means a download for the same region id is
	// already running.
	ErrAlreadyInProgress = errors.New("download already in progress")
	// ErrAlreadyComplete means the region is already fully downloaded.
	ErrAlreadyComplete = errors.New("region already complete")
	// ErrCancelled means the caller cancelled the pipeline.
	ErrCancelled = errors.New("download cancelled")
)

// DownloadError means all mirrors were exhausted or a fatal HTTP status was
// returned.
type DownloadError struct {
	Reason string
	Err    error
}

func (e *DownloadError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("download failed: %s: %v", e.Reason, e.Err)
	}
	return fmt.Sprintf("download failed: %s", e.Reason)
}

func (e *DownloadError) Unwrap() error { return e.Err }

// ParseError means the raw-data file is missing or unreadable. A single
// malformed element is not a ParseError; those are dropped silently.
type ParseError struct {
	Reason string
	Err    error
}

func (e *ParseError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("parsing failed: %s: %v", e.Reason, e.Err)
	}
	return fmt.Sprintf("parsing failed: %s", e.Reason)
}

func (e *ParseError) Unwrap() error { return e.Err }

// UserMessage returns the single human-readable line shown for a pipeline
// failure.
func UserMessage(err error) string {
	switch {
	case errors.Is(err, ErrCancelled):
		return "Download cancelled."
	case errors.Is(err, ErrAlreadyInProgress):
		return "This region is already being downloaded."
	case errors.Is(err, ErrAlreadyComplete):
		return "This region is already downloaded."
	case errors.Is(err, ErrNotConfigured):
		return "Download service is not configured."
	}

	var de *DownloadError
	if errors.As(err, &de) {
		return "Could not reach the map data servers. Check your connection and retry."
	}
	var pe *ParseError
	if errors.As(err, &pe) {
		return "Downloaded map data could not be read. Retry the download."
	}
	return "Download failed. Retry to continue from the last checkpoint."
}

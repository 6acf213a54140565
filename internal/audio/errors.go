package audio

import (
	"errors"
	"fmt"
)

// ErrTemplateNotFound is returned when the requested template is not in the catalog.
var ErrTemplateNotFound = errors.New("template not found")

// ErrMissingPersonName is returned when a template requires a person name the
// caller did not supply. This indicates a caller bug, not a runtime condition.
var ErrMissingPersonName = errors.New("missing person name for template placeholder")

// FragmentUnavailableError reports that a fragment could not be resolved at
// any tier (local store, remote store, synthesis).
type FragmentUnavailableError struct {
	Kind Kind
	Key  string
	Err  error // last tier error, may be nil when every tier simply missed
}

func (e *FragmentUnavailableError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("fragment unavailable: %s/%s: %v", e.Kind, e.Key, e.Err)
	}
	return fmt.Sprintf("fragment unavailable: %s/%s", e.Kind, e.Key)
}

func (e *FragmentUnavailableError) Unwrap() error { return e.Err }

// ConcatenationError reports a failed ffmpeg invocation.
type ConcatenationError struct {
	ExitErr error
	Stderr  string
}

func (e *ConcatenationError) Error() string {
	if e.Stderr != "" {
		return fmt.Sprintf("concatenation failed: %v: %s", e.ExitErr, e.Stderr)
	}
	return fmt.Sprintf("concatenation failed: %v", e.ExitErr)
}

func (e *ConcatenationError) Unwrap() error { return e.ExitErr }

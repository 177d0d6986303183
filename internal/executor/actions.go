package executor

import (
	"fmt"

	"github.com/yifei-he/WebSTAR/internal/action"
)

// Observation is what the page looks like after an action.
type Observation struct {
	Screenshot []byte
	URL        string
	Cursor     CursorPosition
}

// CursorPosition represents the pointer state after an action
type CursorPosition struct {
	X     int         `json:"x"`
	Y     int         `json:"y"`
	State CursorState `json:"state"`
	Click bool        `json:"click,omitempty"` // Whether a click happened at this position
}

// CursorState represents the visual state of the cursor
type CursorState int

const (
	CursorDefault CursorState = iota
	CursorPointer
	CursorText
)

// ErrorKind classifies an ExecutionError.
type ErrorKind string

const (
	ErrUnresolvedCoordinates ErrorKind = "unresolved-coordinates"
	ErrUnknownKey            ErrorKind = "unknown-key"
	ErrUnknownAction         ErrorKind = "unknown-action"
	ErrInvalidAction         ErrorKind = "invalid-action"
	ErrBrowser               ErrorKind = "browser"
	ErrCapture               ErrorKind = "capture"
)

// ExecutionError reports an action that could not be applied to the page.
type ExecutionError struct {
	Kind   ErrorKind
	Action action.Kind
	Err    error
}

func (e *ExecutionError) Error() string {
	return fmt.Sprintf("%s failed (%s): %v", e.Action, e.Kind, e.Err)
}

func (e *ExecutionError) Unwrap() error {
	return e.Err
}

func execErr(kind ErrorKind, a action.Action, format string, args ...any) *ExecutionError {
	return &ExecutionError{Kind: kind, Action: a.Kind, Err: fmt.Errorf(format, args...)}
}

func browserErr(a action.Action, op string, err error) *ExecutionError {
	return &ExecutionError{Kind: ErrBrowser, Action: a.Kind, Err: fmt.Errorf("%s: %w", op, err)}
}

package action

import (
	"errors"
	"fmt"
)

var (
	// ErrUnparsable is wrapped by every ParseError.
	ErrUnparsable = errors.New("unparsable action")
	// ErrNotEncodable is returned when a dialect cannot express an action.
	ErrNotEncodable = errors.New("action not encodable")
)

// ParseError reports an action descriptor that no dialect could decode.
type ParseError struct {
	Dialect string
	Input   string
	Reason  string
}

func (e *ParseError) Error() string {
	if e.Dialect == "" {
		return fmt.Sprintf("unparsable action: %s", e.Reason)
	}
	return fmt.Sprintf("unparsable %s action: %s", e.Dialect, e.Reason)
}

func (e *ParseError) Unwrap() error {
	return ErrUnparsable
}

func parseErr(dialect, input, format string, args ...any) *ParseError {
	return &ParseError{Dialect: dialect, Input: input, Reason: fmt.Sprintf(format, args...)}
}

func notEncodable(dialect string, k Kind) error {
	return fmt.Errorf("%w: %s cannot express %s", ErrNotEncodable, dialect, k)
}

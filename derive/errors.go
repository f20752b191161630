package derive

import (
	"fmt"

	"github.com/pkg/errors"
)

// Kind discriminates the three error classes of spec.md §7.
type Kind int

const (
	// WitnessInconsistency errors are fatal: the witnessed L1/L2 data is
	// not self-consistent with what the pipeline expects, so the run
	// aborts with no partial output.
	WitnessInconsistency Kind = iota
	// ProtocolDrop errors are recovered: the offending frame, channel,
	// batch or transaction is dropped and the pipeline continues.
	ProtocolDrop
	// Configuration errors are fatal programming/config mistakes, such
	// as an unrecognized system-config update type.
	Configuration
)

func (k Kind) String() string {
	switch k {
	case WitnessInconsistency:
		return "witness-inconsistency"
	case ProtocolDrop:
		return "protocol-drop"
	case Configuration:
		return "configuration"
	default:
		return "unknown"
	}
}

// Error is the error type every fallible operation in this package
// returns, carrying a Kind so callers (and the zkVM host) can tell a
// fatal abort from a routine drop without string-matching.
type Error struct {
	Kind Kind
	err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Kind, e.err)
}

func (e *Error) Unwrap() error { return e.err }

// Fatal reports whether this error class should abort the whole run.
func (e *Error) Fatal() bool {
	return e.Kind != ProtocolDrop
}

// NewCriticalf builds a fatal WitnessInconsistency error, capturing a
// stack trace via pkg/errors so a zkVM host crash report retains the call
// chain that led to the mismatch.
func NewCriticalf(format string, args ...any) *Error {
	return &Error{Kind: WitnessInconsistency, err: errors.WithStack(fmt.Errorf(format, args...))}
}

// NewConfigErrorf builds a fatal Configuration error.
func NewConfigErrorf(format string, args ...any) *Error {
	return &Error{Kind: Configuration, err: errors.WithStack(fmt.Errorf(format, args...))}
}

// NewDropf builds a recoverable ProtocolDrop error. No stack is captured:
// drops are routine and the stack would just be noise.
func NewDropf(format string, args ...any) *Error {
	return &Error{Kind: ProtocolDrop, err: fmt.Errorf(format, args...)}
}

// IsDrop reports whether err is a ProtocolDrop-class *Error.
func IsDrop(err error) bool {
	var de *Error
	if errors.As(err, &de) {
		return de.Kind == ProtocolDrop
	}
	return false
}

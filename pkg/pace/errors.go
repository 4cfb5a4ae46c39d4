package pace

import (
	"context"
	"errors"
	"fmt"
)

// Result codes. Negative values are failures.
const (
	CodeSuccess              = 0
	CodeReader               = -1100
	CodeCardCommandFailed    = -1200
	CodeAuthenticationFailed = -1213
	CodeInvalidArguments     = -1300
	CodeInternal             = -1400
	CodeNotSupported         = -1408
	CodeSecureMessaging      = -1415
)

// Session errors.
var (
	ErrSessionReleased   = errors.New("pace: session already released")
	ErrNoSession         = errors.New("pace: establisher returned no session")
	ErrNewSecretRequired = errors.New("pace: new secret required")
	ErrSecretMismatch    = errors.New("pace: secrets do not match")
	ErrCHATTooLong       = errors.New("pace: CHAT exceeds 255 bytes")
	ErrCertDescTooLong   = errors.New("pace: certificate description exceeds 65535 bytes")
)

// Error is a failed protocol operation with its result code.
type Error struct {
	// Op names the failing step, e.g. "establish PACE channel with PIN".
	Op string

	// Code is the negative result code.
	Code int

	// Err is the underlying cause.
	Err error
}

// NewError creates an Error. A non-negative code is replaced by CodeInternal.
func NewError(op string, code int, err error) *Error {
	if code >= 0 {
		code = CodeInternal
	}
	return &Error{Op: op, Code: code, Err: err}
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s failed (code %d)", e.Op, e.Code)
	}
	return fmt.Sprintf("%s: %v (code %d)", e.Op, e.Err, e.Code)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// StatusError reports a card status word other than 9000.
type StatusError struct {
	SW uint16
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("card returned status %04X", e.SW)
}

// RetriesLeft returns the remaining retry counter for 63Cx status words.
func (e *StatusError) RetriesLeft() (int, bool) {
	if e.SW&0xFFF0 == 0x63C0 {
		return int(e.SW & 0x000F), true
	}
	return 0, false
}

// Code extracts the result code of err. Nil is CodeSuccess; errors without
// a code map to CodeInternal.
func Code(err error) int {
	if err == nil {
		return CodeSuccess
	}
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Code
	}
	return CodeInternal
}

// ExitStatus is the process exit status for err: the negated result code.
func ExitStatus(err error) int {
	return -Code(err)
}

// isCanceled reports whether err stems from context cancellation.
func isCanceled(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

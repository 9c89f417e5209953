package errors

import (
	"fmt"
	"reflect"

	"github.com/pkg/errors"
)

var (
	// ErrRoleDenied is returned whenever the caller does not hold the
	// role required for the attempted operation phase.
	ErrRoleDenied = Register(2, "role denied")

	// ErrNotFound is used when a requested operation type or record
	// cannot be found.
	ErrNotFound = Register(3, "not found")

	// ErrTooEarly is returned when a time lock or a minimum hold
	// constraint is not yet satisfied.
	ErrTooEarly = Register(4, "too early")

	// ErrExpired is returned when a deadline bound authorization is
	// presented past its deadline.
	ErrExpired = Register(5, "expired")

	// ErrInvalidSignature is returned when a signature does not verify
	// against the expected signer.
	ErrInvalidSignature = Register(6, "invalid signature")

	// ErrGasPriceExceeded is returned when the current gas price is
	// above the maximum the signer agreed to.
	ErrGasPriceExceeded = Register(7, "gas price exceeded")

	// ErrNotBroadcaster is returned when a broadcast is attempted by an
	// identity other than the contract's configured broadcaster.
	ErrNotBroadcaster = Register(8, "not the broadcaster")

	// ErrStorageFull is returned when a local store write would exceed
	// the configured size budget.
	ErrStorageFull = Register(9, "storage full")

	// ErrSerialization is returned when data cannot be serialized or
	// deserialized.
	ErrSerialization = Register(10, "serialization failure")

	// ErrCoordination is returned when the external multisig
	// coordination service responds with an error.
	ErrCoordination = Register(11, "coordination service failure")

	// ErrPrecondition is returned when the payload references a
	// capability the custodian contract has not enabled.
	ErrPrecondition = Register(12, "precondition failed")

	// ErrInput stands for general input problems indication.
	ErrInput = Register(13, "invalid input")

	// ErrState is returned when an object is in an invalid state, for
	// example a terminal record being approved again.
	ErrState = Register(14, "invalid state")

	// ErrNetwork is returned when the ledger or another remote
	// collaborator cannot be reached.
	ErrNetwork = Register(15, "network failure")

	// ErrDuplicate is returned when there is a record already that has
	// the same unique key.
	ErrDuplicate = Register(16, "duplicate")

	// ErrHuman is returned when the application reaches a code path
	// which should not ever be reached if the code was written as
	// expected.
	ErrHuman = Register(17, "coding error")

	// ErrPanic is only set when we recover from a panic, so we know to
	// redact potentially sensitive system info.
	ErrPanic = Register(111222, "panic")
)

// Register returns an error instance that should be used as the base for
// creating error instances during runtime.
//
// Popular root errors are declared in this package, but extensions may want to
// declare custom codes. This function ensures that no error code is used
// twice. Attempt to reuse an error code results in panic.
//
// Use this function only during a program startup phase.
func Register(code uint32, description string) *Error {
	if e, ok := usedCodes[code]; ok {
		panic(fmt.Sprintf("error with code %d is already registered: %q", code, e.desc))
	}
	err := &Error{
		code: code,
		desc: description,
	}
	usedCodes[err.code] = err
	return err
}

// usedCodes is keeping track of used codes to ensure their uniqueness. No two
// error instances should share the same error code.
var usedCodes = map[uint32]*Error{
	1: nil, // Error code 1 is restricted for not registered errors and must not be used.
}

// Error represents a root error.
//
// Root errors categorize issues. Each instance created during the
// runtime should wrap one of the declared root errors. This allows
// error tests and returning all errors to the client in a safe manner.
//
// All popular root errors are declared in this package. If an extension has to
// declare a custom root error, always use Register function to ensure
// error code uniqueness.
type Error struct {
	code uint32
	desc string
}

func (e Error) Error() string {
	return e.desc
}

// Code returns the unique numeric identifier of this error kind.
func (e Error) Code() uint32 {
	return e.code
}

// New returns a new error. Returned instance is having the root cause set to
// this error. Below two lines are equal
//   e.New("my description")
//   Wrap(e, "my description")
func (e *Error) New(description string) error {
	return Wrap(e, description)
}

// Newf is basically New with formatting capabilities.
func (e *Error) Newf(description string, args ...interface{}) error {
	return e.New(fmt.Sprintf(description, args...))
}

// Is check if given error instance is of a given kind/type. This involves
// unwrapping given error using the Cause method if available.
func (kind *Error) Is(err error) bool {
	// Reflect usage is necessary to correctly compare with
	// a nil implementation of an error.
	if kind == nil {
		if err == nil {
			return true
		}
		return reflect.ValueOf(err).IsNil()
	}

	for {
		if err == kind {
			return true
		}

		if c, ok := err.(causer); ok {
			err = c.Cause()
		} else {
			return false
		}
	}
}

// Code returns the registered code of the root cause of the given
// error, or the reserved internal code 1 when the error does not wrap a
// registered root.
func Code(err error) uint32 {
	type coder interface {
		Code() uint32
	}
	for {
		if c, ok := err.(coder); ok {
			return c.Code()
		}
		if c, ok := err.(causer); ok {
			err = c.Cause()
		} else {
			return 1
		}
	}
}

// Wrap extends given error with an additional information.
//
// If err is nil, this returns nil, avoiding the need for an if statement when
// wrapping a error returned at the end of a function.
func Wrap(err error, description string) error {
	if err == nil {
		return nil
	}

	// If this error does not carry the stacktrace information yet, attach
	// one. This should be done only once per error at the lowest frame
	// possible (most inner wrap).
	if stackTrace(err) == nil {
		err = errors.WithStack(err)
	}

	return &wrappedError{
		parent: err,
		msg:    description,
	}
}

// Wrapf extends given error with an additional information.
//
// This function works like Wrap function with additional functionality of
// formatting the input as specified.
func Wrapf(err error, format string, args ...interface{}) error {
	desc := fmt.Sprintf(format, args...)
	return Wrap(err, desc)
}

type wrappedError struct {
	// This error layer description.
	msg string
	// The underlying error that triggered this one.
	parent error
}

func (e *wrappedError) Error() string {
	return fmt.Sprintf("%s: %s", e.msg, e.parent.Error())
}

func (e *wrappedError) Cause() error {
	return e.parent
}

// Recover captures a panic and stop its propagation. If panic happens it is
// transformed into a ErrPanic instance and assigned to given error. Call this
// function using defer in order to work as expected.
func Recover(err *error) {
	if r := recover(); r != nil {
		*err = Wrapf(ErrPanic, "%v", r)
	}
}

// WithType is a helper to augment an error with a corresponding type message.
func WithType(err error, obj interface{}) error {
	return Wrap(err, fmt.Sprintf("%T", obj))
}

// causer is an interface implemented by an error that supports wrapping. Use
// it to test if an error wraps another error instance.
type causer interface {
	Cause() error
}

// stackTrace returns the stack trace attached to the given error, or
// nil when none is present anywhere in the cause chain.
func stackTrace(err error) errors.StackTrace {
	type stackTracer interface {
		StackTrace() errors.StackTrace
	}
	for {
		if st, ok := err.(stackTracer); ok {
			return st.StackTrace()
		}
		if c, ok := err.(causer); ok {
			err = c.Cause()
		} else {
			return nil
		}
	}
}

package errors

import (
	"fmt"
	"runtime/debug"
	"strings"
)

// Error is the base error type adds stack trace and wrapping errors
type Error struct {
	msg     string
	wrapped error
	stack   []byte
}

// New makes a new error
func New(msg string, args ...interface{}) *Error {
	return &Error{
		msg:   fmt.Sprintf(msg, args...),
		stack: debug.Stack(),
	}
}

// Wrap wraps an error with a new error. The stack is only captured once,
// at the innermost Error in the chain.
func Wrap(err error, msg string, args ...interface{}) *Error {
	if e, ok := err.(*Error); ok {
		return &Error{
			msg:     fmt.Sprintf(msg, args...),
			wrapped: e,
		}
	}

	return &Error{
		msg:     fmt.Sprintf(msg, args...),
		wrapped: err,
		stack:   debug.Stack(),
	}
}

// Error gets the message chain, outermost first
func (e *Error) Error() string {
	if e.wrapped == nil {
		return e.msg
	}
	return e.msg + ": " + e.wrapped.Error()
}

// Inner returns the inner error wrapped by this error
func (e *Error) Inner() error {
	return e.wrapped
}

// Unwrap lets the standard library errors.Is and errors.As walk the chain
func (e *Error) Unwrap() error {
	return e.wrapped
}

// InnerMost returns the innermost error wrapped by this error
func (e *Error) InnerMost() error {
	if e.wrapped == nil {
		return e
	}

	if inner, ok := e.wrapped.(*Error); ok {
		return inner.InnerMost()
	}

	return e.wrapped
}

// Stack returns the stack captured where the chain started
func (e *Error) Stack() []byte {
	if e.stack != nil {
		return e.stack
	}
	if inner, ok := e.wrapped.(*Error); ok {
		return inner.Stack()
	}
	return nil
}

// Format prints the nested chain and the stack trace with %+v
func (e *Error) Format(s fmt.State, verb rune) {
	switch {
	case verb == 'v' && s.Flag('+'):
		fmt.Fprint(s, e.verbose(0))
	case verb == 'q':
		fmt.Fprintf(s, "%q", e.Error())
	default:
		fmt.Fprint(s, e.Error())
	}
}

func (e *Error) verbose(level int) string {
	msg := fmt.Sprintf("%s%s", strings.Repeat("\t", level), e.msg)
	if e.wrapped != nil {
		if wrappedErr, ok := e.wrapped.(*Error); ok {
			msg += fmt.Sprintf("\n%s", wrappedErr.verbose(level+1))
		} else {
			msg += fmt.Sprintf("\n%sInternal Error(%T):%s", strings.Repeat("\t", level+1), e.wrapped, e.wrapped.Error())
		}
	}

	if level == 0 && len(e.Stack()) > 0 {
		msg += fmt.Sprintf("\n\n Stack Trace:\n\n%s", e.Stack())
	}

	return msg
}

// Package errors defines the failure categories surfaced by the tool-calling core.
package errors

import (
	stderrors "errors"
	"fmt"
)

// Kind classifies where a failure came from.
type Kind int

const (
	KindUnknown Kind = iota
	// KindTransport is a network or connection failure reaching a vendor or the tool server.
	KindTransport
	// KindVendor is a non-success HTTP status or an error object in a parsed response.
	KindVendor
	// KindProtocol is a well-formed response that violates the expected schema.
	KindProtocol
	// KindToolExecution is the tool server reporting a failure executing a named tool.
	KindToolExecution
	// KindCancelled means the caller cancelled the run between suspension points.
	KindCancelled
	// KindIterationLimit means the provider kept requesting tools past the configured turn cap.
	KindIterationLimit
)

func (k Kind) String() string {
	switch k {
	case KindTransport:
		return "transport"
	case KindVendor:
		return "vendor"
	case KindProtocol:
		return "protocol"
	case KindToolExecution:
		return "tool_execution"
	case KindCancelled:
		return "cancelled"
	case KindIterationLimit:
		return "iteration_limit"
	default:
		return "unknown"
	}
}

// Error is a categorized failure of one upstream call.
type Error struct {
	Kind Kind
	// Op names the upstream call, e.g. "openai chat", "mcp tools/list".
	Op string
	// Status is the HTTP status for vendor errors, 0 otherwise.
	Status int
	// Body is the verbatim vendor response body when one was received.
	Body string
	Err  error
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("%s error in %s", e.Kind, e.Op)
	if e.Status != 0 {
		msg += fmt.Sprintf(" (HTTP %d)", e.Status)
	}
	switch {
	case e.Err != nil:
		msg += ": " + e.Err.Error()
	case e.Body != "":
		msg += ": " + e.Body
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// Transport wraps a connection-level failure.
func Transport(op string, err error) error {
	return &Error{Kind: KindTransport, Op: op, Err: err}
}

// Vendor reports a non-success status; body is kept verbatim.
func Vendor(op string, status int, body string) error {
	return &Error{Kind: KindVendor, Op: op, Status: status, Body: body}
}

// VendorMessage reports an error object returned inside a response body.
func VendorMessage(op string, format string, args ...any) error {
	return &Error{Kind: KindVendor, Op: op, Err: fmt.Errorf(format, args...)}
}

// Protocol reports a schema violation in an otherwise well-formed response.
func Protocol(op string, format string, args ...any) error {
	return &Error{Kind: KindProtocol, Op: op, Err: fmt.Errorf(format, args...)}
}

// ToolExecution reports a tool failure signalled by the tool server.
func ToolExecution(op string, format string, args ...any) error {
	return &Error{Kind: KindToolExecution, Op: op, Err: fmt.Errorf(format, args...)}
}

// Cancelled wraps a context error observed before a suspension point.
func Cancelled(op string, err error) error {
	return &Error{Kind: KindCancelled, Op: op, Err: err}
}

// IterationLimit reports that the loop exceeded max turns.
func IterationLimit(op string, max int) error {
	return &Error{Kind: KindIterationLimit, Op: op, Err: fmt.Errorf("exceeded %d turns", max)}
}

// KindOf returns the Kind of the first *Error in err's chain.
func KindOf(err error) Kind {
	var e *Error
	if stderrors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// Is reports whether err carries the given kind.
func Is(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

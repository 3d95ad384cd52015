package router

import "strings"

// ValidationError is returned when an ingress message fails the
// validator; the HTTP layer maps it to 400 with the concatenated
// error list.
type ValidationError struct {
	Errors []string
}

func (e *ValidationError) Error() string {
	return "validation failed: " + strings.Join(e.Errors, "; ")
}

// ProtocolError is returned when an ack is missing required fields or
// carries an unrecognized stage.
type ProtocolError struct {
	Reason string
}

func (e *ProtocolError) Error() string {
	return "protocol error: " + e.Reason
}

// NotFoundError is returned by trace/inbox lookups that name an
// unknown agent, message, or task.
type NotFoundError struct {
	Reason string
}

func (e *NotFoundError) Error() string {
	return e.Reason
}

// BadRequestError is returned for malformed queries (trace's
// both/neither rule, inbox's missing agent, etc).
type BadRequestError struct {
	Reason string
}

func (e *BadRequestError) Error() string {
	return e.Reason
}

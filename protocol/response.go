package protocol

import (
	"fmt"

	"loadsim/address"
)

// PartType is the outcome reported by one responder.
type PartType string

const (
	Success              PartType = "success"
	ErrException         PartType = "exception"
	ErrUnsupported       PartType = "unsupported_operation"
	ErrAgentNotFound     PartType = "agent_not_found"
	ErrWorkerNotFound    PartType = "worker_not_found"
	ErrTestNotFound      PartType = "test_not_found"
	ErrTimeout           PartType = "timeout"
	ErrInvalidParameters PartType = "invalid_parameters"
)

// IsError reports whether t is an error kind.
func (t PartType) IsError() bool {
	return t != Success
}

// Part is one responder's contribution to a Response.
type Part struct {
	Source  address.Address `cbor:"source"`
	Type    PartType        `cbor:"type"`
	Payload *string         `cbor:"payload,omitempty"`
}

// SuccessPart returns a success part, with payload when it is not empty.
func SuccessPart(source address.Address, payload string) Part {
	p := Part{Source: source, Type: Success}
	if payload != "" {
		p.Payload = &payload
	}
	return p
}

// ErrorPart returns an error part carrying message.
func ErrorPart(source address.Address, kind PartType, message string) Part {
	return Part{Source: source, Type: kind, Payload: &message}
}

// PayloadText returns the payload or the empty string.
func (p Part) PayloadText() string {
	if p.Payload == nil {
		return ""
	}
	return *p.Payload
}

// Response holds one part per responder in arrival order. Error is set
// only when the request itself could not be processed.
type Response struct {
	RequestID string `cbor:"request_id"`
	Parts     []Part `cbor:"parts"`
	Error     string `cbor:"error,omitempty"`
}

// NewResponse returns a response holding parts.
func NewResponse(parts ...Part) *Response {
	return &Response{Parts: parts}
}

// FirstErrorPart returns the first part with an error type.
func (r *Response) FirstErrorPart() (Part, bool) {
	for _, p := range r.Parts {
		if p.Type.IsError() {
			return p, true
		}
	}
	return Part{}, false
}

// FirstPart returns the first part.
func (r *Response) FirstPart() (Part, bool) {
	if len(r.Parts) == 0 {
		return Part{}, false
	}
	return r.Parts[0], true
}

// Summarize reduces a response to a single result: the first error part
// fails the whole call, otherwise the first part's payload (or "success")
// is the result. Callers needing per-responder detail read Parts.
func Summarize(r *Response) (string, error) {
	if r == nil || len(r.Parts) == 0 {
		return "", &ProtocolError{Reason: "response has no parts, no responders"}
	}
	if errorPart, found := r.FirstErrorPart(); found {
		return "", &OperationError{Part: errorPart}
	}
	first, _ := r.FirstPart()
	if first.Payload == nil {
		return "success", nil
	}
	return *first.Payload, nil
}

// ProtocolError reports a request or response that could not be
// exchanged, as opposed to an operation that ran and failed.
type ProtocolError struct {
	Reason string
}

func (e *ProtocolError) Error() string {
	return "protocol error: " + e.Reason
}

// OperationError carries the first error part of a response.
type OperationError struct {
	Part Part
}

func (e *OperationError) Error() string {
	return fmt.Sprintf("could not process command: %s message [%s]", e.Part.Type, e.Part.PayloadText())
}

// Message is the text shown to a user: the payload, or an errorType
// marker when the part carries none.
func (e *OperationError) Message() string {
	if e.Part.Payload == nil {
		return "errorType:" + string(e.Part.Type)
	}
	return *e.Part.Payload
}

// TimeoutError is returned when a response did not complete before the
// deadline. Received counts the parts that did arrive.
type TimeoutError struct {
	Expected int
	Received int
}

func (e *TimeoutError) Error() string {
	if e.Expected == 0 {
		return "timed out waiting for response"
	}
	return fmt.Sprintf("timed out waiting for response, received %d of %d parts", e.Received, e.Expected)
}

// Package routingerr defines the routing core's error taxonomy and the
// handling policy attached to each kind.
package routingerr

import (
	"errors"
	"fmt"
)

// Kind classifies an error for the purposes of connection/ban policy.
type Kind int

const (
	Transport Kind = iota
	Protocol
	Signature
	Policy
	Capacity
	Storage
)

func (k Kind) String() string {
	switch k {
	case Transport:
		return "transport"
	case Protocol:
		return "protocol"
	case Signature:
		return "signature"
	case Policy:
		return "policy"
	case Capacity:
		return "capacity"
	case Storage:
		return "storage"
	default:
		return "unknown"
	}
}

// Error wraps an underlying cause with a Kind, so callers can dispatch on
// kind without string-matching.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Op, e.Kind)
}

func (e *Error) Unwrap() error { return e.Err }

// New constructs a classified error.
func New(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// KindOf extracts the Kind from err if it (or something it wraps) is a
// *Error, reporting ok=false otherwise.
func KindOf(err error) (Kind, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind, true
	}
	return 0, false
}

// ShouldBan reports whether kind's handling policy is to ban and
// disconnect the peer: Signature and Protocol errors always do.
func ShouldBan(kind Kind) bool {
	return kind == Signature || kind == Protocol
}

// Sentinel policy-class errors: drop-and-count, never ban.
var (
	ErrNoRouteFound   = New(Policy, "route", errors.New("no route found"))
	ErrUnknownAccount = New(Policy, "route", errors.New("unknown account"))
)

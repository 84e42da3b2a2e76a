package storage

import (
	"errors"
	"fmt"
)

// ErrorKind classifies why a Store call failed.
type ErrorKind int

const (
	// Unclassified is returned by KindOf for errors not raised through Error.
	Unclassified ErrorKind = iota
	// InsufficientCapacity: the target lacks room for the block-rounded artifact.
	// Raised before any byte is written.
	InsufficientCapacity
	// PlacementFailed: the local copy did not complete; the stored name is not valid.
	PlacementFailed
	// AuthenticationFailed: the remote endpoint rejected the credentials.
	AuthenticationFailed
	// MissingDependency: no client for the requested backend kind is linked in.
	MissingDependency
	// UnsupportedArtifact: neither the file name nor the declared format yields an extension.
	UnsupportedArtifact
	// TransmissionFailed: the remote endpoint could not be reached or refused the upload
	// for a reason other than credentials.
	TransmissionFailed
)

// Sentinels for errors.Is matching.
var (
	ErrInsufficientCapacity = errors.New("insufficient capacity")
	ErrPlacementFailed      = errors.New("placement failed")
	ErrAuthenticationFailed = errors.New("authentication failed")
	ErrMissingDependency    = errors.New("missing dependency")
	ErrUnsupportedArtifact  = errors.New("unsupported artifact")
	ErrTransmissionFailed   = errors.New("transmission failed")
)

var kindSentinels = map[ErrorKind]error{
	InsufficientCapacity: ErrInsufficientCapacity,
	PlacementFailed:      ErrPlacementFailed,
	AuthenticationFailed: ErrAuthenticationFailed,
	MissingDependency:    ErrMissingDependency,
	UnsupportedArtifact:  ErrUnsupportedArtifact,
	TransmissionFailed:   ErrTransmissionFailed,
}

func (k ErrorKind) String() string {
	switch k {
	case InsufficientCapacity:
		return "insufficient_capacity"
	case PlacementFailed:
		return "placement_failed"
	case AuthenticationFailed:
		return "authentication_failed"
	case MissingDependency:
		return "missing_dependency"
	case UnsupportedArtifact:
		return "unsupported_artifact"
	case TransmissionFailed:
		return "transmission_failed"
	default:
		return "error"
	}
}

// Error is a classified storage failure.
type Error struct {
	Kind ErrorKind
	Op   string // e.g. "store", "login", "upload"
	Path string // artifact path, stored name or backend kind
	Err  error
}

// NewError builds a classified error.
func NewError(kind ErrorKind, op, path string, err error) *Error {
	return &Error{Kind: kind, Op: op, Path: path, Err: err}
}

func (e *Error) Error() string {
	msg := kindSentinels[e.Kind]
	if msg == nil {
		msg = errors.New(e.Kind.String())
	}
	s := "storage: " + e.Op
	if e.Path != "" {
		s += " " + e.Path
	}
	s += ": " + msg.Error()
	if e.Err != nil {
		s += ": " + e.Err.Error()
	}
	return s
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches the sentinel for e.Kind.
func (e *Error) Is(target error) bool {
	s, ok := kindSentinels[e.Kind]
	return ok && s == target
}

// KindOf returns the ErrorKind carried by err, or Unclassified.
func KindOf(err error) ErrorKind {
	var se *Error
	if errors.As(err, &se) {
		return se.Kind
	}
	return Unclassified
}

// errorf is shorthand for NewError with a formatted cause.
func errorf(kind ErrorKind, op, path, format string, args ...any) *Error {
	return NewError(kind, op, path, fmt.Errorf(format, args...))
}

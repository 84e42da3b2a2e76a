// Package storage defines the Backend interface for persisting job output
// artifacts, together with the pieces every backend shares: capacity
// accounting, collision-free naming, atomic local placement and the error
// taxonomy callers switch on.
package storage

import (
	"context"
	"fmt"
)

// Kind tags a Result so callers know how to read its Locator.
type Kind int

const (
	KindNull Kind = iota
	KindLocal
	KindFTP
	KindObjectShare
	KindCloudDrive
)

var kindNames = map[Kind]string{
	KindNull:        "null",
	KindLocal:       "local",
	KindFTP:         "ftp",
	KindObjectShare: "objectshare",
	KindCloudDrive:  "clouddrive",
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// ParseKind maps a configuration string onto a Kind.
func ParseKind(s string) (Kind, error) {
	for k, name := range kindNames {
		if name == s {
			return k, nil
		}
	}
	return KindNull, fmt.Errorf("unknown storage kind: %q", s)
}

// MarshalText implements encoding.TextMarshaler.
func (k Kind) MarshalText() ([]byte, error) {
	if _, ok := kindNames[k]; !ok {
		return nil, fmt.Errorf("invalid storage kind %d", int(k))
	}
	return []byte(k.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (k *Kind) UnmarshalText(b []byte) error {
	parsed, err := ParseKind(string(b))
	if err != nil {
		return err
	}
	*k = parsed
	return nil
}

// Result describes a stored artifact.
// Locator is backend specific (a stored file name, a remote path, an object id);
// URL is always an externally dereferenceable address.
type Result struct {
	Kind    Kind   `json:"kind"`
	Locator string `json:"locator"`
	URL     string `json:"url"`
}

// NullResult is returned by the Null backend for every call.
var NullResult = Result{Kind: KindNull}

// IsZero reports whether r carries no stored object.
func (r Result) IsZero() bool {
	return r.Locator == "" && r.URL == ""
}

// Format is the declared output format of an artifact.
// Extension returns the canonical file extension, with or without the leading dot.
type Format interface {
	Extension() string
}

// Artifact is a locally readable job output.
type Artifact interface {
	// File returns the local path of the artifact's bytes.
	File() string
	// OutputFormat returns the declared format, or nil if none was declared.
	OutputFormat() Format
}

// FileArtifact is an Artifact backed by a path and an optional declared format.
type FileArtifact struct {
	Path   string
	Format Format
}

func (a FileArtifact) File() string         { return a.Path }
func (a FileArtifact) OutputFormat() Format { return a.Format }

// Backend stores artifacts at one kind of destination.
//
// Store is atomic from the caller's point of view: it returns either a Result
// with a non-empty URL or an error classified by ErrorKind, never both.
// Implementations hold no state between calls beyond their configuration.
type Backend interface {
	Kind() Kind
	Store(ctx context.Context, a Artifact) (Result, error)
}

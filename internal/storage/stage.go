package storage

import (
	"fmt"
	"mime"
	"os"
	"path/filepath"
)

// Staged is a local copy of an artifact under its allocated stored name,
// ready to be pushed to a remote endpoint.
type Staged struct {
	Path        string // full local path of the copy
	Name        string // stored base name
	Size        int64
	ContentType string
}

// Stage allocates a stored name in n.Dir and copies a there. Remote capacity
// is not locally observable, so no admission check is made.
func Stage(n Namer, a Artifact) (*Staged, error) {
	f, err := n.Allocate(a)
	if err != nil {
		return nil, err
	}
	size, err := Place(a.File(), f)
	if err != nil {
		return nil, NewError(PlacementFailed, "stage", a.File(), err)
	}
	name := filepath.Base(f.Name())
	return &Staged{
		Path:        f.Name(),
		Name:        name,
		Size:        size,
		ContentType: ContentType(a, name),
	}, nil
}

// Open opens the staged copy for reading.
func (s *Staged) Open() (*os.File, error) {
	return os.Open(s.Path)
}

// Discard removes the staged copy after a failed transmission.
func (s *Staged) Discard() error {
	err := os.Remove(s.Path)
	if err != nil && os.IsNotExist(err) {
		return nil
	}
	return err
}

// ContentType picks a MIME type for a stored object: the declared format's,
// if it exposes one, else a guess from the stored name's extension.
func ContentType(a Artifact, name string) string {
	if f, ok := a.OutputFormat().(interface{ MimeType() string }); ok {
		if mt := f.MimeType(); mt != "" {
			return mt
		}
	}
	if mt := mime.TypeByExtension(filepath.Ext(name)); mt != "" {
		return mt
	}
	return "application/octet-stream"
}

// StagingDir creates dir if needed and returns it. An empty dir selects
// "outputstore-staging" under the system temp directory.
func StagingDir(dir string) (string, error) {
	if dir == "" {
		dir = filepath.Join(os.TempDir(), "outputstore-staging")
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("create staging dir %s: %w", dir, err)
	}
	return dir, nil
}

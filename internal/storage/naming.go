package storage

import (
	"fmt"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
)

// SplitName splits a file name into base and extension. A leading dot alone
// (".bashrc") or a trailing dot ("result.") does not count as an extension.
func SplitName(name string) (base, ext string) {
	ext = filepath.Ext(name)
	switch {
	case ext == name:
		return name, ""
	case ext == ".":
		return strings.TrimSuffix(name, "."), ""
	}
	return strings.TrimSuffix(name, ext), ext
}

// normalizeExt returns ext with exactly one leading dot, or "" if ext is
// empty or cannot be part of a single path segment.
func normalizeExt(ext string) string {
	ext = strings.TrimSpace(ext)
	ext = strings.TrimLeft(ext, ".")
	if ext == "" || strings.ContainsAny(ext, `/\`) {
		return ""
	}
	return "." + ext
}

// Namer allocates collision-free stored names inside Dir.
type Namer struct {
	Dir string
	// Detect, if set, sniffs a format from content when neither the file
	// name nor the declared format carries an extension.
	Detect func(path string) (Format, error)
}

// Resolve derives the stored base name and extension for a.
// The file's own extension wins over the declared format's.
func (n Namer) Resolve(a Artifact) (base, ext string, err error) {
	base, ext = SplitName(filepath.Base(a.File()))
	if ext != "" {
		return base, ext, nil
	}
	if f := a.OutputFormat(); f != nil {
		ext = normalizeExt(f.Extension())
	}
	if ext == "" && n.Detect != nil {
		if f, derr := n.Detect(a.File()); derr == nil && f != nil {
			ext = normalizeExt(f.Extension())
		}
	}
	if ext == "" {
		return "", "", errorf(UnsupportedArtifact, "name", a.File(),
			"no file extension and no declared format extension")
	}
	return base, ext, nil
}

// Allocate creates a new empty file in n.Dir named "<base><random><ext>".
// Creation uses O_EXCL, so concurrent callers never receive the same name.
// The caller owns the returned file and must close it.
func (n Namer) Allocate(a Artifact) (*os.File, error) {
	base, ext, err := n.Resolve(a)
	if err != nil {
		return nil, err
	}
	if n.Dir == "" {
		return nil, errorf(PlacementFailed, "allocate", a.File(), "no target directory")
	}
	f, err := os.CreateTemp(n.Dir, pattern(base, ext))
	if err != nil {
		return nil, NewError(PlacementFailed, "allocate", a.File(), err)
	}
	return f, nil
}

// pattern builds an os.CreateTemp pattern; '*' is reserved for the random part.
func pattern(base, ext string) string {
	base = strings.ReplaceAll(base, "*", "_")
	ext = strings.ReplaceAll(ext, "*", "_")
	if base == "" || strings.HasPrefix(base, ".") {
		base = "output" + base
	}
	return base + "*" + ext
}

// PublicURL joins baseURL with the base name of name.
// Duplicate slashes collapse and the name cannot climb out of the base path.
func PublicURL(baseURL, name string) (string, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return "", fmt.Errorf("parse base url %q: %w", baseURL, err)
	}
	name = path.Base(filepath.ToSlash(name))
	if name == "." || name == ".." || name == "/" {
		return "", fmt.Errorf("invalid stored name %q", name)
	}
	return u.JoinPath(url.PathEscape(name)).String(), nil
}

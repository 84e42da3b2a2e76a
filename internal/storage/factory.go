package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
)

// Factory builds a Backend from its JSON configuration.
type Factory func(ctx context.Context, config json.RawMessage) (Backend, error)

var (
	factoriesMu sync.RWMutex
	factories   = make(map[Kind]Factory)
)

// Register makes a backend kind available to New. Backend packages call it
// from init; linking a package is what makes its kind usable.
// Register panics if f is nil or kind is registered twice.
func Register(kind Kind, f Factory) {
	factoriesMu.Lock()
	defer factoriesMu.Unlock()
	if f == nil {
		panic("storage: Register factory is nil")
	}
	if _, dup := factories[kind]; dup {
		panic("storage: Register called twice for " + kind.String())
	}
	factories[kind] = f
}

// Registered lists the kinds New can construct.
func Registered() []Kind {
	factoriesMu.RLock()
	defer factoriesMu.RUnlock()
	kinds := make([]Kind, 0, len(factories))
	for k := range factories {
		kinds = append(kinds, k)
	}
	sort.Slice(kinds, func(i, j int) bool { return kinds[i] < kinds[j] })
	return kinds
}

// New constructs the backend for kind. A kind whose client is not linked into
// the binary fails here with MissingDependency rather than on first Store.
func New(ctx context.Context, kind Kind, config json.RawMessage) (Backend, error) {
	factoriesMu.RLock()
	f, ok := factories[kind]
	factoriesMu.RUnlock()
	if !ok {
		return nil, errorf(MissingDependency, "new", kind.String(),
			"no client for %s backends in this build", kind)
	}
	b, err := f(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("%s backend: %w", kind, err)
	}
	return b, nil
}

// NewBackendFromConfig creates a Backend from a backend type string and JSON config.
func NewBackendFromConfig(ctx context.Context, backendType string, config json.RawMessage) (Backend, error) {
	kind, err := ParseKind(backendType)
	if err != nil {
		return nil, err
	}
	return New(ctx, kind, config)
}

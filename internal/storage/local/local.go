// Package local provides the local filesystem storage backend: outputs are
// copied into a target directory that a web server exposes under a public URL.
package local

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"path/filepath"

	"go.uber.org/zap"

	"github.com/fruitsalade/outputstore/internal/format"
	"github.com/fruitsalade/outputstore/internal/logging"
	"github.com/fruitsalade/outputstore/internal/metrics"
	"github.com/fruitsalade/outputstore/internal/storage"
)

// Config holds local filesystem backend settings.
type Config struct {
	TargetDir       string `json:"target_dir"`
	BaseURL         string `json:"base_url"`
	CreateDirs      bool   `json:"create_dirs"`
	DetectExtension bool   `json:"detect_extension"`
}

// LocalBackend implements storage.Backend on the local filesystem.
type LocalBackend struct {
	targetDir string
	baseURL   string
	namer     storage.Namer
	space     storage.SpaceProbe
}

// Option customizes a LocalBackend.
type Option func(*LocalBackend)

// WithSpaceProbe replaces the operating system free-space query.
func WithSpaceProbe(p storage.SpaceProbe) Option {
	return func(b *LocalBackend) { b.space = p }
}

// New creates a new local filesystem backend.
func New(cfg Config, opts ...Option) (*LocalBackend, error) {
	if cfg.TargetDir == "" {
		return nil, fmt.Errorf("target_dir is required")
	}
	if err := ensureDir(cfg.TargetDir, cfg.CreateDirs); err != nil {
		return nil, err
	}
	if err := checkBaseURL(cfg.BaseURL); err != nil {
		return nil, err
	}

	b := &LocalBackend{
		targetDir: cfg.TargetDir,
		baseURL:   cfg.BaseURL,
		namer:     storage.Namer{Dir: cfg.TargetDir},
		space:     storage.DiskSpace,
	}
	if cfg.DetectExtension {
		b.namer.Detect = format.Detector
	}
	for _, opt := range opts {
		opt(b)
	}
	return b, nil
}

// NewFromJSON creates a LocalBackend from raw JSON config.
func NewFromJSON(raw json.RawMessage, opts ...Option) (*LocalBackend, error) {
	var cfg Config
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return nil, fmt.Errorf("parse local config: %w", err)
	}
	return New(cfg, opts...)
}

func init() {
	storage.Register(storage.KindLocal, func(_ context.Context, raw json.RawMessage) (storage.Backend, error) {
		return NewFromJSON(raw)
	})
}

// Kind returns storage.KindLocal.
func (b *LocalBackend) Kind() storage.Kind { return storage.KindLocal }

// TargetDir returns the directory outputs are placed in.
func (b *LocalBackend) TargetDir() string { return b.targetDir }

// Store copies the artifact into the target directory under a fresh name.
//
// The capacity check is admission control: the artifact's length rounded up
// to the volume block size must fit in the space available when probed.
// Concurrent writers can still consume that space before the copy finishes.
func (b *LocalBackend) Store(ctx context.Context, a storage.Artifact) (storage.Result, error) {
	log := logging.WithContext(ctx)
	src := a.File()

	info, err := os.Stat(src)
	if err != nil {
		return storage.Result{}, storage.NewError(storage.PlacementFailed, "store", src, err)
	}
	if info.IsDir() {
		return storage.Result{}, storage.NewError(storage.UnsupportedArtifact, "store", src,
			fmt.Errorf("is a directory"))
	}

	capacity, err := b.space.Probe(b.targetDir)
	if err != nil {
		return storage.Result{}, storage.NewError(storage.PlacementFailed, "store", src, err)
	}
	metrics.SetAvailableBytes(b.targetDir, capacity.Available)
	log.Debug("free space", zap.String("dir", b.targetDir), zap.Int64("available", capacity.Available))

	required := storage.Required(info.Size(), capacity.BlockSize)
	if required > capacity.Available {
		metrics.RecordCapacityRejection()
		return storage.Result{}, storage.NewError(storage.InsufficientCapacity, "store", src,
			fmt.Errorf("need %d bytes (block size %d) in %s, %d available",
				required, capacity.BlockSize, b.targetDir, capacity.Available))
	}

	f, err := b.namer.Allocate(a)
	if err != nil {
		return storage.Result{}, err
	}
	log.Info("storing file output", zap.String("path", f.Name()))

	if _, err := storage.Place(src, f); err != nil {
		return storage.Result{}, storage.NewError(storage.PlacementFailed, "store", src, err)
	}

	name := filepath.Base(f.Name())
	u, err := storage.PublicURL(b.baseURL, name)
	if err != nil {
		os.Remove(f.Name())
		return storage.Result{}, storage.NewError(storage.PlacementFailed, "store", src, err)
	}
	log.Info("file output URL", zap.String("url", u))

	return storage.Result{Kind: storage.KindLocal, Locator: name, URL: u}, nil
}

func ensureDir(dir string, create bool) error {
	info, err := os.Stat(dir)
	if err != nil {
		if os.IsNotExist(err) && create {
			if mkErr := os.MkdirAll(dir, 0755); mkErr != nil {
				return fmt.Errorf("create target dir %s: %w", dir, mkErr)
			}
			return nil
		}
		return fmt.Errorf("stat target dir %s: %w", dir, err)
	}
	if !info.IsDir() {
		return fmt.Errorf("target dir %s is not a directory", dir)
	}
	return nil
}

func checkBaseURL(raw string) error {
	if raw == "" {
		return fmt.Errorf("base_url is required")
	}
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("parse base_url: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("base_url %q must be absolute", raw)
	}
	return nil
}

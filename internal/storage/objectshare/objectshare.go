// Package objectshare provides a storage backend for object-sharing services.
// The artifact is staged locally, uploaded, and the share link returned by the
// service becomes the result URL. Providers: Dropbox, S3 (or MinIO) and
// Google Cloud Storage.
package objectshare

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/fruitsalade/outputstore/internal/logging"
	"github.com/fruitsalade/outputstore/internal/metrics"
	"github.com/fruitsalade/outputstore/internal/storage"
)

const defaultLinkTTL = 7 * 24 * time.Hour

// Config holds object-share backend settings. Only the section matching
// Provider is read.
type Config struct {
	Provider   string        `json:"provider"` // "dropbox", "s3" or "gcs"
	StagingDir string        `json:"staging_dir"`
	LinkTTL    int64         `json:"link_ttl"` // seconds; presigned links only
	Dropbox    DropboxConfig `json:"dropbox"`
	S3         S3Config      `json:"s3"`
	GCS        GCSConfig     `json:"gcs"`
}

// uploader pushes a staged file to one service and returns the remote
// locator and a link the service issued for it. Errors are classified.
type uploader interface {
	provider() string
	upload(ctx context.Context, staged *storage.Staged) (locator, link string, err error)
}

// Backend implements storage.Backend on top of one uploader.
type Backend struct {
	namer storage.Namer
	up    uploader
}

// New creates an object-share backend for cfg.Provider.
func New(ctx context.Context, cfg Config) (*Backend, error) {
	ttl := defaultLinkTTL
	if cfg.LinkTTL > 0 {
		ttl = time.Duration(cfg.LinkTTL) * time.Second
	}

	var (
		up  uploader
		err error
	)
	switch cfg.Provider {
	case "dropbox", "":
		up, err = newDropbox(ctx, cfg.Dropbox)
	case "s3":
		up, err = newS3(ctx, cfg.S3, ttl)
	case "gcs":
		up, err = newGCS(ctx, cfg.GCS, ttl)
	default:
		return nil, fmt.Errorf("unknown objectshare provider %q", cfg.Provider)
	}
	if err != nil {
		return nil, err
	}
	return newBackend(cfg.StagingDir, up)
}

func newBackend(stagingDir string, up uploader) (*Backend, error) {
	staging, err := storage.StagingDir(stagingDir)
	if err != nil {
		return nil, err
	}
	return &Backend{namer: storage.Namer{Dir: staging}, up: up}, nil
}

// NewFromJSON creates a Backend from raw JSON config.
func NewFromJSON(ctx context.Context, raw json.RawMessage) (*Backend, error) {
	var cfg Config
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return nil, fmt.Errorf("parse objectshare config: %w", err)
	}
	return New(ctx, cfg)
}

func init() {
	storage.Register(storage.KindObjectShare, func(ctx context.Context, raw json.RawMessage) (storage.Backend, error) {
		return NewFromJSON(ctx, raw)
	})
}

// Kind returns storage.KindObjectShare.
func (b *Backend) Kind() storage.Kind { return storage.KindObjectShare }

// Provider returns the configured service name.
func (b *Backend) Provider() string { return b.up.provider() }

// Store stages the artifact, uploads it and returns the service's link.
func (b *Backend) Store(ctx context.Context, a storage.Artifact) (storage.Result, error) {
	log := logging.WithContext(ctx).With(zap.String("provider", b.up.provider()))

	staged, err := storage.Stage(b.namer, a)
	if err != nil {
		return storage.Result{}, err
	}

	log.Info("uploading output", zap.String("name", staged.Name), zap.Int64("size", staged.Size))
	start := time.Now()
	locator, link, err := b.up.upload(ctx, staged)
	metrics.RecordRemoteOperation(b.up.provider(), "upload", time.Since(start), err == nil)
	if err != nil {
		staged.Discard()
		return storage.Result{}, err
	}
	if link == "" {
		staged.Discard()
		return storage.Result{}, storage.NewError(storage.TransmissionFailed, "share", locator,
			fmt.Errorf("%s returned no link", b.up.provider()))
	}
	log.Info("output shared", zap.String("locator", locator), zap.String("url", link))

	return storage.Result{Kind: storage.KindObjectShare, Locator: locator, URL: link}, nil
}

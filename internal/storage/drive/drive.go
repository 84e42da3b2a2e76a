// Package drive provides a storage backend for Google Drive. Outputs are
// uploaded with a service account and the content link Drive returns for the
// new file becomes the result URL.
package drive

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	drivev3 "google.golang.org/api/drive/v3"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"github.com/fruitsalade/outputstore/internal/logging"
	"github.com/fruitsalade/outputstore/internal/metrics"
	"github.com/fruitsalade/outputstore/internal/storage"
	"github.com/fruitsalade/outputstore/internal/storage/googleerr"
)

// DefaultScope limits the service account to files it created.
const DefaultScope = drivev3.DriveFileScope

// Config holds Drive backend settings.
type Config struct {
	CredentialsFile string `json:"credentials_file"` // service account JSON key
	Scope           string `json:"scope"`
	FolderID        string `json:"folder_id"`    // parent folder; root if empty
	SharePublic     bool   `json:"share_public"` // grant anyone-with-link read access
	StagingDir      string `json:"staging_dir"`
}

// DriveBackend implements storage.Backend on Google Drive.
type DriveBackend struct {
	svc         *drivev3.Service
	folderID    string
	sharePublic bool
	namer       storage.Namer
}

// New creates a Drive backend authenticated with the configured service account.
func New(ctx context.Context, cfg Config) (*DriveBackend, error) {
	if cfg.CredentialsFile == "" {
		return nil, fmt.Errorf("credentials_file is required")
	}
	scope := cfg.Scope
	if scope == "" {
		scope = DefaultScope
	}
	svc, err := drivev3.NewService(ctx,
		option.WithAuthCredentialsFile(option.ServiceAccount, cfg.CredentialsFile),
		option.WithScopes(scope),
	)
	if err != nil {
		return nil, fmt.Errorf("create drive service: %w", err)
	}
	return newBackend(svc, cfg)
}

func newBackend(svc *drivev3.Service, cfg Config) (*DriveBackend, error) {
	staging, err := storage.StagingDir(cfg.StagingDir)
	if err != nil {
		return nil, err
	}
	return &DriveBackend{
		svc:         svc,
		folderID:    cfg.FolderID,
		sharePublic: cfg.SharePublic,
		namer:       storage.Namer{Dir: staging},
	}, nil
}

// NewFromJSON creates a DriveBackend from raw JSON config.
func NewFromJSON(ctx context.Context, raw json.RawMessage) (*DriveBackend, error) {
	var cfg Config
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return nil, fmt.Errorf("parse drive config: %w", err)
	}
	return New(ctx, cfg)
}

func init() {
	storage.Register(storage.KindCloudDrive, func(ctx context.Context, raw json.RawMessage) (storage.Backend, error) {
		return NewFromJSON(ctx, raw)
	})
}

// Kind returns storage.KindCloudDrive.
func (b *DriveBackend) Kind() storage.Kind { return storage.KindCloudDrive }

// Store stages and uploads the artifact. The locator is the Drive file ID.
func (b *DriveBackend) Store(ctx context.Context, a storage.Artifact) (storage.Result, error) {
	log := logging.WithContext(ctx)

	staged, err := storage.Stage(b.namer, a)
	if err != nil {
		return storage.Result{}, err
	}

	file, err := b.upload(ctx, staged)
	if err != nil {
		staged.Discard()
		return storage.Result{}, err
	}
	log.Info("drive file created", zap.String("file_id", file.Id), zap.String("name", file.Name))

	if b.sharePublic {
		if err := b.share(ctx, file.Id); err != nil {
			b.remove(ctx, file.Id)
			staged.Discard()
			return storage.Result{}, err
		}
	}

	link := file.WebContentLink
	if link == "" {
		link = file.WebViewLink
	}
	if link == "" {
		b.remove(ctx, file.Id)
		staged.Discard()
		return storage.Result{}, storage.NewError(storage.TransmissionFailed, "upload", file.Id,
			errors.New("drive returned no link for the new file"))
	}
	log.Info("drive output URL", zap.String("url", link))

	return storage.Result{Kind: storage.KindCloudDrive, Locator: file.Id, URL: link}, nil
}

func (b *DriveBackend) upload(ctx context.Context, staged *storage.Staged) (*drivev3.File, error) {
	f, err := staged.Open()
	if err != nil {
		return nil, storage.NewError(storage.PlacementFailed, "open", staged.Path, err)
	}
	defer f.Close()

	meta := &drivev3.File{Name: staged.Name, MimeType: staged.ContentType}
	if b.folderID != "" {
		meta.Parents = []string{b.folderID}
	}

	start := time.Now()
	file, err := b.svc.Files.Create(meta).
		Media(f, googleapi.ContentType(staged.ContentType)).
		Fields("id", "name", "webContentLink", "webViewLink").
		SupportsAllDrives(true).
		Context(ctx).
		Do()
	metrics.RecordRemoteOperation("drive", "create", time.Since(start), err == nil)
	if err != nil {
		return nil, googleerr.Classify("upload", staged.Name, err)
	}
	return file, nil
}

func (b *DriveBackend) share(ctx context.Context, fileID string) error {
	start := time.Now()
	_, err := b.svc.Permissions.Create(fileID, &drivev3.Permission{Type: "anyone", Role: "reader"}).
		SupportsAllDrives(true).
		Context(ctx).
		Do()
	metrics.RecordRemoteOperation("drive", "share", time.Since(start), err == nil)
	if err != nil {
		return googleerr.Classify("share", fileID, err)
	}
	return nil
}

// remove deletes a file whose store did not complete.
func (b *DriveBackend) remove(ctx context.Context, fileID string) {
	if err := b.svc.Files.Delete(fileID).SupportsAllDrives(true).Context(ctx).Do(); err != nil {
		logging.WithContext(ctx).Warn("drive cleanup failed", zap.String("file_id", fileID), zap.Error(err))
	}
}


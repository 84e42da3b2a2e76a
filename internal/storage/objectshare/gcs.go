package objectshare

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"path"
	"strings"
	"time"

	gcs "cloud.google.com/go/storage"
	"go.uber.org/zap"
	"google.golang.org/api/option"

	"github.com/fruitsalade/outputstore/internal/logging"
	"github.com/fruitsalade/outputstore/internal/storage"
	"github.com/fruitsalade/outputstore/internal/storage/googleerr"
)

// GCSConfig holds Google Cloud Storage settings. Without a credentials file
// the application default credentials are used.
type GCSConfig struct {
	Bucket          string `json:"bucket"`
	CredentialsFile string `json:"credentials_file"`
	Prefix          string `json:"prefix,omitempty"`
}

type gcsUploader struct {
	client *gcs.Client
	bucket string
	prefix string
	ttl    time.Duration
}

func newGCS(ctx context.Context, cfg GCSConfig, ttl time.Duration) (*gcsUploader, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("gcs bucket is required")
	}
	var opts []option.ClientOption
	if cfg.CredentialsFile != "" {
		opts = append(opts, option.WithAuthCredentialsFile(option.ServiceAccount, cfg.CredentialsFile))
	}
	client, err := gcs.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("create gcs client: %w", err)
	}
	return newGCSWithClient(client, cfg, ttl), nil
}

func newGCSWithClient(client *gcs.Client, cfg GCSConfig, ttl time.Duration) *gcsUploader {
	return &gcsUploader{
		client: client,
		bucket: cfg.Bucket,
		prefix: strings.Trim(cfg.Prefix, "/"),
		ttl:    ttl,
	}
}

func (u *gcsUploader) provider() string { return "gcs" }

func (u *gcsUploader) upload(ctx context.Context, staged *storage.Staged) (string, string, error) {
	key := staged.Name
	if u.prefix != "" {
		key = path.Join(u.prefix, staged.Name)
	}
	locator := u.bucket + "/" + key

	f, err := staged.Open()
	if err != nil {
		return "", "", storage.NewError(storage.PlacementFailed, "open", staged.Path, err)
	}
	defer f.Close()

	w := u.client.Bucket(u.bucket).Object(key).NewWriter(ctx)
	w.ContentType = staged.ContentType
	if _, err := io.Copy(w, f); err != nil {
		w.Close()
		return "", "", googleerr.Classify("write", locator, err)
	}
	if err := w.Close(); err != nil {
		return "", "", googleerr.Classify("write", locator, err)
	}

	link, err := u.client.Bucket(u.bucket).SignedURL(key, &gcs.SignedURLOptions{
		Scheme:  gcs.SigningSchemeV4,
		Method:  http.MethodGet,
		Expires: time.Now().Add(u.ttl),
	})
	if err != nil {
		// Without a signing key the object's media link is the only URL the service gave us.
		logging.WithContext(ctx).Warn("gcs signed url unavailable, using media link",
			zap.String("object", locator), zap.Error(err))
		if attrs := w.Attrs(); attrs != nil {
			link = attrs.MediaLink
		}
	}
	return locator, link, nil
}

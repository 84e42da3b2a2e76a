// Package config loads configuration from environment variables.
package config

import (
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"

	"github.com/fruitsalade/outputstore/internal/storage"
)

// Config holds all output store configuration.
type Config struct {
	// Server
	ListenAddr  string
	MetricsAddr string

	// Logging
	LogLevel  string
	LogFormat string

	// Catalog database (optional)
	DatabaseURL string

	// Storage backend ("local", "ftp", "objectshare", "clouddrive" or "null")
	StorageBackend string

	// Local target directory and the public URL it is served under
	OutputPath      string
	ServerURL       string
	OutputURL       string
	CreateDirs      bool
	DetectExtension bool

	// Staging directory for remote backends
	StagingDir string

	// FTP
	FTPHost        string
	FTPUsername    string
	FTPPassword    string
	FTPRemoteDir   string
	FTPDialTimeout int

	// ObjectShare ("dropbox", "s3" or "gcs")
	ObjectShareProvider string
	ObjectShareLinkTTL  int64
	DropboxToken        string
	DropboxFolder       string
	S3Endpoint          string
	S3Bucket            string
	S3AccessKey         string
	S3SecretKey         string
	S3Region            string
	GCSBucket           string
	GCSCredentialsFile  string

	// CloudDrive
	DriveCredentialsFile string
	DriveScope           string
	DriveFolderID        string
	DriveSharePublic     bool
}

// Load reads configuration from environment variables with defaults.
func Load() (*Config, error) {
	cfg := &Config{
		ListenAddr:      envOr("LISTEN_ADDR", ":8080"),
		MetricsAddr:     envOr("METRICS_ADDR", ":9090"),
		LogLevel:        envOr("LOG_LEVEL", "info"),
		LogFormat:       envOr("LOG_FORMAT", "json"),
		DatabaseURL:     envOr("DATABASE_URL", ""),
		StorageBackend:  envOr("STORAGE_BACKEND", "local"),
		OutputPath:      envOr("OUTPUT_PATH", "/data/outputs"),
		ServerURL:       envOr("SERVER_URL", "http://localhost:8080"),
		OutputURL:       envOr("OUTPUT_URL", "/outputs"),
		CreateDirs:      envBool("CREATE_DIRS", false),
		DetectExtension: envBool("DETECT_EXTENSION", false),
		StagingDir:      envOr("STAGING_DIR", "/data/staging"),

		FTPHost:        envOr("FTP_HOST", ""),
		FTPUsername:    envOr("FTP_USERNAME", "anonymous"),
		FTPPassword:    envOr("FTP_PASSWORD", ""),
		FTPRemoteDir:   envOr("FTP_REMOTE_DIR", "/"),
		FTPDialTimeout: envInt("FTP_DIAL_TIMEOUT", 30),

		ObjectShareProvider: envOr("OBJECTSHARE_PROVIDER", "dropbox"),
		ObjectShareLinkTTL:  envInt64("OBJECTSHARE_LINK_TTL", 7*24*3600), // presigned links: 7 days
		DropboxToken:        envOr("DROPBOX_TOKEN", ""),
		DropboxFolder:       envOr("DROPBOX_FOLDER", "/"),
		// Empty endpoint and keys mean AWS with the SDK's default credential chain.
		S3Endpoint:          envOr("S3_ENDPOINT", ""),
		S3Bucket:            envOr("S3_BUCKET", "outputs"),
		S3AccessKey:         envOr("S3_ACCESS_KEY", ""),
		S3SecretKey:         envOr("S3_SECRET_KEY", ""),
		S3Region:            envOr("S3_REGION", "us-east-1"),
		GCSBucket:           envOr("GCS_BUCKET", ""),
		GCSCredentialsFile:  envOr("GCS_CREDENTIALS_FILE", ""),

		DriveCredentialsFile: envOr("DRIVE_CREDENTIALS_FILE", ""),
		DriveScope:           envOr("DRIVE_SCOPE", ""), // backend default: drive.file
		DriveFolderID:        envOr("DRIVE_FOLDER_ID", ""),
		DriveSharePublic:     envBool("DRIVE_SHARE_PUBLIC", true),
	}

	if _, err := storage.ParseKind(cfg.StorageBackend); err != nil {
		return nil, fmt.Errorf("STORAGE_BACKEND: %w", err)
	}
	return cfg, nil
}

// PublicBaseURL joins SERVER_URL and OUTPUT_URL. An absolute OUTPUT_URL is
// used as is.
func (c *Config) PublicBaseURL() (string, error) {
	if u, err := url.Parse(c.OutputURL); err == nil && u.IsAbs() {
		return c.OutputURL, nil
	}
	base, err := url.Parse(c.ServerURL)
	if err != nil {
		return "", fmt.Errorf("SERVER_URL: %w", err)
	}
	return base.JoinPath(strings.Trim(c.OutputURL, "/")).String(), nil
}

// OutputPrefix returns the URL path local outputs are served under.
func (c *Config) OutputPrefix() (string, error) {
	raw, err := c.PublicBaseURL()
	if err != nil {
		return "", err
	}
	u, err := url.Parse(raw)
	if err != nil {
		return "", err
	}
	return "/" + strings.Trim(u.Path, "/") + "/", nil
}

// BackendConfig renders the JSON configuration of the selected backend.
// Keys follow the backend packages' Config types; config itself does not
// import them, so only the backends a binary links are registered.
func (c *Config) BackendConfig() (storage.Kind, json.RawMessage, error) {
	kind, err := storage.ParseKind(c.StorageBackend)
	if err != nil {
		return storage.KindNull, nil, err
	}

	var v map[string]any
	switch kind {
	case storage.KindNull:
		return kind, json.RawMessage(`{}`), nil
	case storage.KindLocal:
		base, err := c.PublicBaseURL()
		if err != nil {
			return kind, nil, err
		}
		v = map[string]any{
			"target_dir":       c.OutputPath,
			"base_url":         base,
			"create_dirs":      c.CreateDirs,
			"detect_extension": c.DetectExtension,
		}
	case storage.KindFTP:
		v = map[string]any{
			"host":         c.FTPHost,
			"username":     c.FTPUsername,
			"password":     c.FTPPassword,
			"remote_dir":   c.FTPRemoteDir,
			"staging_dir":  c.StagingDir,
			"dial_timeout": c.FTPDialTimeout,
		}
	case storage.KindObjectShare:
		v = map[string]any{
			"provider":    c.ObjectShareProvider,
			"staging_dir": c.StagingDir,
			"link_ttl":    c.ObjectShareLinkTTL,
			"dropbox": map[string]any{
				"access_token": c.DropboxToken,
				"folder":       c.DropboxFolder,
			},
			"s3": map[string]any{
				"endpoint":   c.S3Endpoint,
				"bucket":     c.S3Bucket,
				"access_key": c.S3AccessKey,
				"secret_key": c.S3SecretKey,
				"region":     c.S3Region,
			},
			"gcs": map[string]any{
				"bucket":           c.GCSBucket,
				"credentials_file": c.GCSCredentialsFile,
			},
		}
	case storage.KindCloudDrive:
		v = map[string]any{
			"credentials_file": c.DriveCredentialsFile,
			"scope":            c.DriveScope,
			"folder_id":        c.DriveFolderID,
			"share_public":     c.DriveSharePublic,
			"staging_dir":      c.StagingDir,
		}
	}

	raw, err := json.Marshal(v)
	if err != nil {
		return kind, nil, fmt.Errorf("encode %s config: %w", kind, err)
	}
	return kind, raw, nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envBool(key string, fallback bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fallback
	}
	return b
}

func envInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return i
}

func envInt64(key string, fallback int64) int64 {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	i, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return fallback
	}
	return i
}

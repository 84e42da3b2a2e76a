// Package ftp provides an FTP storage backend. Outputs are staged locally
// under a unique name and then uploaded with STOR into a remote directory.
package ftp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/textproto"
	"path"
	"strings"
	"time"

	goftp "github.com/jlaffaye/ftp"
	"go.uber.org/zap"

	"github.com/fruitsalade/outputstore/internal/logging"
	"github.com/fruitsalade/outputstore/internal/metrics"
	"github.com/fruitsalade/outputstore/internal/storage"
)

const defaultDialTimeout = 30 * time.Second

// Config holds FTP backend settings.
type Config struct {
	Host        string `json:"host"`         // host or host:port; port 21 if omitted
	Username    string `json:"username"`     // defaults to "anonymous"
	Password    string `json:"password"`
	RemoteDir   string `json:"remote_dir"`   // directory uploads land in
	StagingDir  string `json:"staging_dir"`  // local directory for staged copies
	DialTimeout int    `json:"dial_timeout"` // seconds
}

// conn is the part of *goftp.ServerConn the backend uses.
type conn interface {
	Login(user, password string) error
	Stor(path string, r io.Reader) error
	Quit() error
}

type dialFunc func(ctx context.Context, addr string, timeout time.Duration) (conn, error)

func dialFTP(ctx context.Context, addr string, timeout time.Duration) (conn, error) {
	c, err := goftp.Dial(addr, goftp.DialWithContext(ctx), goftp.DialWithTimeout(timeout))
	if err != nil {
		return nil, err
	}
	return c, nil
}

// FTPBackend implements storage.Backend against an FTP server.
type FTPBackend struct {
	addr      string
	host      string
	username  string
	password  string
	remoteDir string
	timeout   time.Duration
	namer     storage.Namer
	dial      dialFunc
}

// New creates a new FTP backend from the given config.
func New(cfg Config) (*FTPBackend, error) {
	return newBackend(cfg, dialFTP)
}

func newBackend(cfg Config, dial dialFunc) (*FTPBackend, error) {
	if cfg.Host == "" {
		return nil, fmt.Errorf("host is required")
	}
	addr := cfg.Host
	if _, _, err := net.SplitHostPort(addr); err != nil {
		addr = net.JoinHostPort(addr, "21")
	}
	username := cfg.Username
	if username == "" {
		username = "anonymous"
	}
	timeout := defaultDialTimeout
	if cfg.DialTimeout > 0 {
		timeout = time.Duration(cfg.DialTimeout) * time.Second
	}
	remoteDir := "/" + strings.Trim(cfg.RemoteDir, "/")

	staging, err := storage.StagingDir(cfg.StagingDir)
	if err != nil {
		return nil, err
	}

	return &FTPBackend{
		addr:      addr,
		host:      cfg.Host,
		username:  username,
		password:  cfg.Password,
		remoteDir: remoteDir,
		timeout:   timeout,
		namer:     storage.Namer{Dir: staging},
		dial:      dial,
	}, nil
}

// NewFromJSON creates an FTPBackend from raw JSON config.
func NewFromJSON(raw json.RawMessage) (*FTPBackend, error) {
	var cfg Config
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return nil, fmt.Errorf("parse ftp config: %w", err)
	}
	return New(cfg)
}

func init() {
	storage.Register(storage.KindFTP, func(_ context.Context, raw json.RawMessage) (storage.Backend, error) {
		return NewFromJSON(raw)
	})
}

// Kind returns storage.KindFTP.
func (b *FTPBackend) Kind() storage.Kind { return storage.KindFTP }

// Store stages the artifact and uploads it. The locator is the remote path;
// the URL is an ftp:// address built from the host, which FTP servers do not
// guarantee to be retrievable.
func (b *FTPBackend) Store(ctx context.Context, a storage.Artifact) (storage.Result, error) {
	staged, err := storage.Stage(b.namer, a)
	if err != nil {
		return storage.Result{}, err
	}

	remotePath := path.Join(b.remoteDir, staged.Name)
	if err := b.upload(ctx, staged, remotePath); err != nil {
		staged.Discard()
		return storage.Result{}, err
	}

	u, err := storage.PublicURL("ftp://"+b.host+b.remoteDir, staged.Name)
	if err != nil {
		return storage.Result{}, storage.NewError(storage.PlacementFailed, "store", a.File(), err)
	}
	logging.WithContext(ctx).Info("ftp output URL", zap.String("url", u))

	return storage.Result{Kind: storage.KindFTP, Locator: remotePath, URL: u}, nil
}

func (b *FTPBackend) upload(ctx context.Context, staged *storage.Staged, remotePath string) error {
	log := logging.WithContext(ctx)

	start := time.Now()
	c, err := b.dial(ctx, b.addr, b.timeout)
	metrics.RecordRemoteOperation("ftp", "dial", time.Since(start), err == nil)
	if err != nil {
		return storage.NewError(storage.TransmissionFailed, "dial", b.addr, err)
	}
	defer c.Quit()

	start = time.Now()
	err = c.Login(b.username, b.password)
	metrics.RecordRemoteOperation("ftp", "login", time.Since(start), err == nil)
	if err != nil {
		var reply *textproto.Error
		if errors.As(err, &reply) && credentialsRejected(reply.Code) {
			return storage.NewError(storage.AuthenticationFailed, "login", b.username+"@"+b.addr, err)
		}
		return storage.NewError(storage.TransmissionFailed, "login", b.addr, err)
	}

	f, err := staged.Open()
	if err != nil {
		return storage.NewError(storage.PlacementFailed, "open", staged.Path, err)
	}
	defer f.Close()

	log.Info("uploading ftp output", zap.String("addr", b.addr), zap.String("path", remotePath))
	start = time.Now()
	err = c.Stor(remotePath, f)
	metrics.RecordRemoteOperation("ftp", "stor", time.Since(start), err == nil)
	if err != nil {
		return storage.NewError(storage.TransmissionFailed, "stor", remotePath, err)
	}
	log.Debug("ftp stor complete", zap.String("path", remotePath), zap.Int64("size", staged.Size))
	return nil
}

// credentialsRejected reports whether a login reply code refuses the
// credentials themselves. Every other reply (421 and friends) is a
// connectivity problem.
func credentialsRejected(code int) bool {
	switch code {
	case 530, // not logged in
		532, // need account for storing files
		332: // need account for login
		return true
	}
	return false
}

package objectshare

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"path"
	"strings"

	"github.com/dropbox/dropbox-sdk-go-unofficial/v6/dropbox"
	"github.com/dropbox/dropbox-sdk-go-unofficial/v6/dropbox/auth"
	"github.com/dropbox/dropbox-sdk-go-unofficial/v6/dropbox/files"
	"github.com/dropbox/dropbox-sdk-go-unofficial/v6/dropbox/sharing"
	"go.uber.org/zap"
	"golang.org/x/oauth2"

	"github.com/fruitsalade/outputstore/internal/logging"
	"github.com/fruitsalade/outputstore/internal/storage"
)

// DropboxConfig holds Dropbox settings.
type DropboxConfig struct {
	AccessToken string `json:"access_token"`
	Folder      string `json:"folder"`
}

type dropboxUploader struct {
	files   files.Client
	sharing sharing.Client
	folder  string
}

// newDropbox builds the SDK clients on an oauth2 client carrying the token.
// The HTTP client in ctx (oauth2.HTTPClient) is used as the base transport.
func newDropbox(ctx context.Context, cfg DropboxConfig) (*dropboxUploader, error) {
	if cfg.AccessToken == "" {
		return nil, fmt.Errorf("dropbox access_token is required")
	}
	dbx := dropbox.Config{
		Token:  cfg.AccessToken,
		Client: oauth2.NewClient(ctx, oauth2.StaticTokenSource(&oauth2.Token{AccessToken: cfg.AccessToken})),
	}
	return &dropboxUploader{
		files:   files.New(dbx),
		sharing: sharing.New(dbx),
		folder:  "/" + strings.Trim(cfg.Folder, "/"),
	}, nil
}

func (d *dropboxUploader) provider() string { return "dropbox" }

func (d *dropboxUploader) upload(ctx context.Context, staged *storage.Staged) (string, string, error) {
	f, err := staged.Open()
	if err != nil {
		return "", "", storage.NewError(storage.PlacementFailed, "open", staged.Path, err)
	}
	defer f.Close()

	target := path.Join(d.folder, staged.Name)
	arg := files.NewUploadArg(target)
	arg.Autorename = true
	arg.Mute = true

	meta, err := d.files.Upload(arg, f)
	if err != nil {
		return "", "", classifyDropbox("upload", target, err)
	}
	remote := meta.PathDisplay
	if remote == "" {
		remote = target
	}

	link, err := d.share(remote)
	if err == nil && link == "" {
		err = storage.NewError(storage.TransmissionFailed, "share", remote, fmt.Errorf("dropbox returned no link"))
	}
	if err != nil {
		d.remove(ctx, remote)
		return remote, "", err
	}
	return remote, link, nil
}

// share creates a link for p. When creation fails for any reason other than
// the token, an existing direct link is looked up instead.
func (d *dropboxUploader) share(p string) (string, error) {
	res, err := d.sharing.CreateSharedLinkWithSettings(sharing.NewCreateSharedLinkWithSettingsArg(p))
	if err == nil {
		return linkURL(res), nil
	}
	createErr := classifyDropbox("share", p, err)
	if storage.KindOf(createErr) == storage.AuthenticationFailed {
		return "", createErr
	}

	list := sharing.NewListSharedLinksArg()
	list.Path = p
	list.DirectOnly = true
	links, err := d.sharing.ListSharedLinks(list)
	if err != nil || len(links.Links) == 0 {
		return "", createErr
	}
	return linkURL(links.Links[0]), nil
}

// remove deletes an upload whose link could not be obtained.
func (d *dropboxUploader) remove(ctx context.Context, p string) {
	if _, err := d.files.DeleteV2(files.NewDeleteArg(p)); err != nil {
		logging.WithContext(ctx).Warn("failed to remove unshared dropbox upload",
			zap.String("path", p), zap.Error(err))
	}
}

func linkURL(m sharing.IsSharedLinkMetadata) string {
	switch l := m.(type) {
	case *sharing.FileLinkMetadata:
		return l.Url
	case *sharing.FolderLinkMetadata:
		return l.Url
	}
	return ""
}

// classifyDropbox maps SDK errors: a rejected token is an authentication
// failure, everything else a transmission failure.
func classifyDropbox(op, p string, err error) error {
	var authErr auth.AuthAPIError
	var authErrPtr *auth.AuthAPIError
	if errors.As(err, &authErr) || errors.As(err, &authErrPtr) {
		return storage.NewError(storage.AuthenticationFailed, op, p, err)
	}
	var internal dropbox.SDKInternalError
	if errors.As(err, &internal) && internal.StatusCode == http.StatusUnauthorized {
		return storage.NewError(storage.AuthenticationFailed, op, p, err)
	}
	return storage.NewError(storage.TransmissionFailed, op, p, err)
}

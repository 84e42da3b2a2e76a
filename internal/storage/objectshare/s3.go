package objectshare

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/smithy-go"

	"github.com/fruitsalade/outputstore/internal/storage"
)

// S3Config holds S3/MinIO settings.
type S3Config struct {
	Endpoint  string `json:"endpoint"`
	Bucket    string `json:"bucket"`
	AccessKey string `json:"access_key"`
	SecretKey string `json:"secret_key"`
	Region    string `json:"region"`
	Prefix    string `json:"prefix,omitempty"`
}

// s3AuthCodes are the error codes S3 and MinIO return for rejected credentials.
var s3AuthCodes = map[string]bool{
	"InvalidAccessKeyId":           true,
	"SignatureDoesNotMatch":        true,
	"AccessDenied":                 true,
	"ExpiredToken":                 true,
	"InvalidToken":                 true,
	"AuthorizationHeaderMalformed": true,
}

type s3Uploader struct {
	client  *s3.Client
	presign *s3.PresignClient
	bucket  string
	prefix  string
	ttl     time.Duration
}

func newS3(ctx context.Context, cfg S3Config, ttl time.Duration) (*s3Uploader, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("s3 bucket is required")
	}
	region := cfg.Region
	if region == "" {
		region = "us-east-1"
	}

	opts := []func(*config.LoadOptions) error{config.WithRegion(region)}
	if cfg.AccessKey != "" {
		opts = append(opts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
		))
	}
	if cfg.Endpoint != "" {
		resolver := aws.EndpointResolverWithOptionsFunc(
			func(service, region string, options ...interface{}) (aws.Endpoint, error) {
				return aws.Endpoint{
					URL:               cfg.Endpoint,
					HostnameImmutable: true,
				}, nil
			},
		)
		opts = append(opts, config.WithEndpointResolverWithOptions(resolver))
	}

	awsCfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	// MinIO and other custom endpoints need path-style addressing.
	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.UsePathStyle = cfg.Endpoint != ""
	})

	return &s3Uploader{
		client:  client,
		presign: s3.NewPresignClient(client),
		bucket:  cfg.Bucket,
		prefix:  strings.Trim(cfg.Prefix, "/"),
		ttl:     ttl,
	}, nil
}

func (u *s3Uploader) provider() string { return "s3" }

func (u *s3Uploader) upload(ctx context.Context, staged *storage.Staged) (string, string, error) {
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

	_, err = u.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(u.bucket),
		Key:           aws.String(key),
		Body:          f,
		ContentLength: aws.Int64(staged.Size),
		ContentType:   aws.String(staged.ContentType),
	})
	if err != nil {
		return "", "", classifyS3("put_object", locator, err)
	}

	req, err := u.presign.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(u.bucket),
		Key:    aws.String(key),
	}, s3.WithPresignExpires(u.ttl))
	if err != nil {
		return locator, "", classifyS3("presign", locator, err)
	}
	return locator, req.URL, nil
}

func classifyS3(op, locator string, err error) error {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) && s3AuthCodes[apiErr.ErrorCode()] {
		return storage.NewError(storage.AuthenticationFailed, op, locator, err)
	}
	return storage.NewError(storage.TransmissionFailed, op, locator, err)
}

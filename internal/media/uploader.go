// Package media relays locally staged uploads to an S3-compatible bucket
// and hands back durable URLs.
package media

import (
	"context"
	"errors"
	"fmt"
	"mime"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/google/uuid"

	"github.com/iliyamo/account-service/internal/config"
)

// ErrNoFile is returned when Upload is called without a local path.
var ErrNoFile = errors.New("no file to upload")

// objectPutter is the part of *s3.Client the uploader needs.
type objectPutter interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

var loadDefaultAWSConfig = awsconfig.LoadDefaultConfig

// S3Uploader stores files under "<Prefix>/YYYY/MM/DD/<uuid><ext>".
type S3Uploader struct {
	Client        objectPutter
	Bucket        string
	Prefix        string
	PublicBaseURL string
	Now           func() time.Time
}

// NewS3Uploader builds an S3 client from static credentials. A non-empty
// endpoint switches to path-style addressing so MinIO works out of the box.
func NewS3Uploader(ctx context.Context, cfg config.S3Config) (*S3Uploader, error) {
	awsCfg, err := loadDefaultAWSConfig(ctx,
		awsconfig.WithRegion(cfg.Region),
		awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			cfg.AccessKey,
			cfg.SecretKey,
			"",
		)))
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		}
	})

	base := cfg.PublicBaseURL
	if base == "" {
		base = strings.TrimRight(cfg.Endpoint, "/") + "/" + cfg.Bucket
	}
	return &S3Uploader{
		Client:        client,
		Bucket:        cfg.Bucket,
		Prefix:        "avatars",
		PublicBaseURL: base,
		Now:           time.Now,
	}, nil
}

// Upload puts the file at localPath into the bucket and returns its URL.
// The local file is removed afterwards whether or not the upload succeeded.
func (u *S3Uploader) Upload(ctx context.Context, localPath string) (string, error) {
	if localPath == "" {
		return "", ErrNoFile
	}
	defer func() { _ = os.Remove(localPath) }()

	f, err := os.Open(localPath)
	if err != nil {
		return "", fmt.Errorf("open upload: %w", err)
	}
	defer f.Close()

	key := u.objectKey(filepath.Ext(localPath))
	in := &s3.PutObjectInput{
		Bucket: aws.String(u.Bucket),
		Key:    aws.String(key),
		Body:   f,
	}
	if ct := mime.TypeByExtension(filepath.Ext(localPath)); ct != "" {
		in.ContentType = aws.String(ct)
	}
	if _, err := u.Client.PutObject(ctx, in); err != nil {
		return "", fmt.Errorf("put object: %w", err)
	}
	return strings.TrimRight(u.PublicBaseURL, "/") + "/" + key, nil
}

func (u *S3Uploader) objectKey(ext string) string {
	now := time.Now
	if u.Now != nil {
		now = u.Now
	}
	d := now().UTC()
	prefix := u.Prefix
	if prefix == "" {
		prefix = "uploads"
	}
	return fmt.Sprintf("%s/%04d/%02d/%02d/%s%s", prefix, d.Year(), d.Month(), d.Day(), uuid.New(), strings.ToLower(ext))
}

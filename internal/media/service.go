// Package media stores uploaded editor images in S3-compatible object
// storage and hands back public URLs for the image nodes that embed them.
package media

import (
	"context"
	"fmt"
	"io"
	"path"
	"strings"

	"github.com/google/uuid"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// maxUploadBytes caps a single image upload.
const maxUploadBytes = 10 << 20

// allowed image content types, keyed to the extension used for the object.
var imageExtensions = map[string]string{
	"image/png":  ".png",
	"image/jpeg": ".jpg",
	"image/gif":  ".gif",
	"image/webp": ".webp",
}

// ErrUnsupportedType rejects uploads that are not images we can embed.
var ErrUnsupportedType = fmt.Errorf("unsupported image type")

// Config holds the object storage connection settings.
type Config struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool
	// PublicURL is the base URL clients fetch objects from. Empty means
	// the endpoint itself is publicly reachable.
	PublicURL string
}

// Service uploads images and produces their public URLs.
type Service struct {
	client *minio.Client
	cfg    Config
}

// NewService connects to the object store. It does not create the bucket;
// call EnsureBucket during startup.
func NewService(cfg Config) (*Service, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("connect object store: %w", err)
	}
	return &Service{client: client, cfg: cfg}, nil
}

// EnsureBucket creates the bucket when it does not exist yet.
func (s *Service) EnsureBucket(ctx context.Context) error {
	exists, err := s.client.BucketExists(ctx, s.cfg.Bucket)
	if err != nil {
		return fmt.Errorf("check bucket: %w", err)
	}
	if exists {
		return nil
	}
	if err := s.client.MakeBucket(ctx, s.cfg.Bucket, minio.MakeBucketOptions{}); err != nil {
		return fmt.Errorf("create bucket: %w", err)
	}
	return nil
}

// Upload stores one image and returns its public URL. The object key is
// random so uploads never collide or overwrite each other.
func (s *Service) Upload(ctx context.Context, r io.Reader, size int64, contentType string) (string, error) {
	ext, ok := imageExtensions[contentType]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrUnsupportedType, contentType)
	}
	if size <= 0 || size > maxUploadBytes {
		return "", fmt.Errorf("image size %d out of range", size)
	}

	object := uuid.NewString() + ext
	_, err := s.client.PutObject(ctx, s.cfg.Bucket, object, r, size, minio.PutObjectOptions{
		ContentType: contentType,
	})
	if err != nil {
		return "", fmt.Errorf("upload image: %w", err)
	}
	return s.objectURL(object), nil
}

func (s *Service) objectURL(object string) string {
	if s.cfg.PublicURL != "" {
		return strings.TrimRight(s.cfg.PublicURL, "/") + "/" + path.Join(s.cfg.Bucket, object)
	}
	scheme := "http"
	if s.cfg.UseSSL {
		scheme = "https"
	}
	return fmt.Sprintf("%s://%s/%s/%s", scheme, s.cfg.Endpoint, s.cfg.Bucket, object)
}

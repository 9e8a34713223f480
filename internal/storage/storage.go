// Package storage keeps uploaded exam paper files on local disk or in an
// S3-compatible bucket.
package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/gosimple/slug"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// Provider stores opaque objects by key.
type Provider interface {
	Put(ctx context.Context, key string, r io.Reader, size int64, contentType string) error
	Delete(ctx context.Context, key string) error
	URL(key string) string
}

// Supported provider kinds.
const (
	KindLocal = "local"
	KindMinio = "minio"
)

// Config selects and configures a Provider.
type Config struct {
	Kind           string
	LocalPath      string
	MinioEndpoint  string
	MinioAccessKey string
	MinioSecretKey string
	MinioBucket    string
	MinioSecure    bool
}

// New builds the configured provider.
func New(ctx context.Context, cfg Config) (Provider, error) {
	switch cfg.Kind {
	case KindLocal, "":
		return NewLocal(cfg.LocalPath)
	case KindMinio:
		return NewMinio(ctx, cfg)
	default:
		return nil, fmt.Errorf("unsupported storage %q", cfg.Kind)
	}
}

// PaperKey returns a unique object key for an uploaded paper PDF.
func PaperKey(title string) string {
	s := slug.Make(title)
	if s == "" {
		s = "paper"
	}
	if len(s) > 60 {
		s = strings.TrimRight(s[:60], "-")
	}
	return "papers/" + s + "-" + uuid.NewString() + ".pdf"
}

var errBadKey = errors.New("invalid storage key")

// Local stores objects under a root directory.
type Local struct {
	root string
}

// NewLocal creates the root directory if needed.
func NewLocal(root string) (*Local, error) {
	if root == "" {
		root = "uploads"
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("create storage dir: %w", err)
	}
	return &Local{root: root}, nil
}

func (l *Local) path(key string) (string, error) {
	clean := filepath.Clean("/" + key)
	if clean == "/" || strings.Contains(key, "..") {
		return "", fmt.Errorf("%w: %q", errBadKey, key)
	}
	return filepath.Join(l.root, clean), nil
}

func (l *Local) Put(ctx context.Context, key string, r io.Reader, size int64, contentType string) error {
	dst, err := l.path(key)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return err
	}
	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, r); err != nil {
		out.Close()
		os.Remove(dst)
		return err
	}
	return out.Close()
}

func (l *Local) Delete(ctx context.Context, key string) error {
	dst, err := l.path(key)
	if err != nil {
		return err
	}
	return os.Remove(dst)
}

func (l *Local) URL(key string) string {
	return LocalURLPrefix + key
}

// LocalURLPrefix is where Handler is mounted.
const LocalURLPrefix = "/uploads/"

// Handler serves stored objects below the URL path prefix.
func (l *Local) Handler(prefix string) http.Handler {
	return http.StripPrefix(prefix, http.FileServer(http.Dir(l.root)))
}

// Minio stores objects in a MinIO or S3 bucket.
type Minio struct {
	client *minio.Client
	bucket string
}

// NewMinio connects to the endpoint and creates the bucket when missing.
func NewMinio(ctx context.Context, cfg Config) (*Minio, error) {
	client, err := minio.New(cfg.MinioEndpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.MinioAccessKey, cfg.MinioSecretKey, ""),
		Secure: cfg.MinioSecure,
	})
	if err != nil {
		return nil, fmt.Errorf("minio client: %w", err)
	}
	exists, err := client.BucketExists(ctx, cfg.MinioBucket)
	if err != nil {
		return nil, fmt.Errorf("check bucket %s: %w", cfg.MinioBucket, err)
	}
	if !exists {
		if err := client.MakeBucket(ctx, cfg.MinioBucket, minio.MakeBucketOptions{}); err != nil {
			return nil, fmt.Errorf("create bucket %s: %w", cfg.MinioBucket, err)
		}
	}
	return &Minio{client: client, bucket: cfg.MinioBucket}, nil
}

func (m *Minio) Put(ctx context.Context, key string, r io.Reader, size int64, contentType string) error {
	_, err := m.client.PutObject(ctx, m.bucket, key, r, size, minio.PutObjectOptions{
		ContentType: contentType,
	})
	return err
}

func (m *Minio) Delete(ctx context.Context, key string) error {
	return m.client.RemoveObject(ctx, m.bucket, key, minio.RemoveObjectOptions{})
}

func (m *Minio) URL(key string) string {
	return "/" + m.bucket + "/" + key
}

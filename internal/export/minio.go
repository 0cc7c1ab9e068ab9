// Package export uploads finished documents to object storage.
package export

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"path"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// MinioConfig configures the S3-compatible exporter.
type MinioConfig struct {
	Endpoint      string // host:port
	AccessKey     string
	SecretKey     string
	Bucket        string
	UseSSL        bool
	Region        string
	PublicBaseURL string // optional; used to build returned URLs
	Logger        *slog.Logger
}

// Validate reports missing required fields.
func (c MinioConfig) Validate() error {
	switch {
	case c.Endpoint == "":
		return fmt.Errorf("minio: endpoint is required")
	case c.AccessKey == "" || c.SecretKey == "":
		return fmt.Errorf("minio: access_key and secret_key are required")
	case c.Bucket == "":
		return fmt.Errorf("minio: bucket is required")
	}
	return nil
}

// Minio uploads files to one bucket.
type Minio struct {
	client  *minio.Client
	bucket  string
	baseURL *url.URL
	useSSL  bool
	logger  *slog.Logger
}

// NewMinio creates the client. It does not contact the server; call
// EnsureBucket before the first upload.
func NewMinio(cfg MinioConfig) (*Minio, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	cli, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("create minio client: %w", err)
	}

	var base *url.URL
	if cfg.PublicBaseURL != "" {
		base, err = url.Parse(cfg.PublicBaseURL)
		if err != nil {
			return nil, fmt.Errorf("invalid public base url: %w", err)
		}
	}

	return &Minio{
		client:  cli,
		bucket:  cfg.Bucket,
		baseURL: base,
		useSSL:  cfg.UseSSL,
		logger:  logger.With("exporter", "minio"),
	}, nil
}

// EnsureBucket creates the bucket unless it already exists.
func (m *Minio) EnsureBucket(ctx context.Context) error {
	err := m.client.MakeBucket(ctx, m.bucket, minio.MakeBucketOptions{})
	if err == nil {
		return nil
	}
	exists, existsErr := m.client.BucketExists(ctx, m.bucket)
	if existsErr != nil || !exists {
		return fmt.Errorf("create bucket %s: %w", m.bucket, err)
	}
	return nil
}

// ObjectKey returns the key a session document is stored under.
func ObjectKey(session, file string) string {
	return path.Join(session, path.Base(file))
}

// Export uploads the file at localPath as <session>/<basename> and returns
// its URL.
func (m *Minio) Export(ctx context.Context, session, localPath string) (string, error) {
	key := ObjectKey(session, localPath)
	info, err := m.client.FPutObject(ctx, m.bucket, key, localPath, minio.PutObjectOptions{
		ContentType: contentType(localPath),
	})
	if err != nil {
		return "", fmt.Errorf("upload %s: %w", key, err)
	}
	m.logger.Info("document exported", "bucket", m.bucket, "key", key, "size", info.Size)
	return m.URL(key), nil
}

// URL returns the public URL for key.
func (m *Minio) URL(key string) string {
	if m.baseURL != nil {
		u := *m.baseURL
		u.Path = strings.TrimSuffix(u.Path, "/") + "/" + key
		return u.String()
	}
	scheme := "http"
	if m.useSSL {
		scheme = "https"
	}
	return fmt.Sprintf("%s://%s/%s/%s", scheme, m.client.EndpointURL().Host, m.bucket, key)
}

func contentType(name string) string {
	switch strings.ToLower(path.Ext(name)) {
	case ".pdf":
		return "application/pdf"
	case ".jpg", ".jpeg":
		return "image/jpeg"
	case ".png":
		return "image/png"
	default:
		return "application/octet-stream"
	}
}

// Package storage publishes run artifacts to durable object storage.
package storage

import (
	"context"
	"fmt"
	"path"
	"path/filepath"
	"strings"

	"robotrunner/api/config"
	"robotrunner/api/model"
)

// Publisher uploads local files under a key and builds retrieval URLs.
type Publisher interface {
	Upload(ctx context.Context, localPath, objectKey string) (*model.ArtifactRef, error)
	// URL returns the retrieval URL of a key or key prefix.
	URL(key string) string
	Healthy(ctx context.Context) error
}

// New builds the publisher selected by cfg.StorageDriver.
func New(ctx context.Context, cfg *config.Config) (Publisher, error) {
	switch cfg.StorageDriver {
	case "s3":
		return NewS3(Config{
			Endpoint:           cfg.S3Endpoint,
			AccessKey:          cfg.S3AccessKey,
			SecretKey:          cfg.S3SecretKey,
			Region:             cfg.S3Region,
			UseSSL:             cfg.S3UseSSL,
			Bucket:             cfg.S3Bucket,
			PublicURL:          cfg.StoragePublicURL,
			MultipartThreshold: cfg.MultipartThreshold,
			PartSize:           cfg.MultipartPartSize,
		})
	case "gcs":
		return NewGCS(ctx, GCSConfig{
			Bucket:             cfg.GCSBucket,
			Project:            cfg.GCSProject,
			PublicURL:          cfg.StoragePublicURL,
			MultipartThreshold: cfg.MultipartThreshold,
			ChunkSize:          cfg.MultipartPartSize,
		})
	case "http":
		return NewHTTPUploader(cfg.UploadAPIURL, cfg.UploadAPIKey, cfg.StoragePublicURL)
	case "dir":
		return NewDirectory(cfg.StorageDir, cfg.StoragePublicURL)
	}
	return nil, fmt.Errorf("unknown storage driver %q", cfg.StorageDriver)
}

// ContentType maps an artifact file name to the type it is served with.
func ContentType(name string) string {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".html", ".htm":
		return "text/html"
	case ".xml":
		return "application/xml"
	}
	return "application/octet-stream"
}

func joinURL(base, key string) string {
	return strings.TrimRight(base, "/") + "/" + strings.TrimLeft(key, "/")
}

func newRef(bucket, key, url string, size int64) *model.ArtifactRef {
	return &model.ArtifactRef{
		Name:        path.Base(key),
		Bucket:      bucket,
		Object:      key,
		URL:         url,
		Size:        size,
		ContentType: ContentType(key),
	}
}

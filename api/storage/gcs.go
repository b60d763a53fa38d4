package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"

	"cloud.google.com/go/storage"
	"github.com/rs/zerolog"
	"google.golang.org/api/option"

	"robotrunner/api/logging"
	"robotrunner/api/model"
)

type GCSConfig struct {
	Bucket             string
	Project            string // needed only to create a missing bucket
	PublicURL          string
	MultipartThreshold int64
	ChunkSize          int64
}

type GCS struct {
	client *storage.Client
	config GCSConfig
	logger zerolog.Logger

	bucketMu    sync.Mutex
	bucketReady bool
}

func NewGCS(ctx context.Context, cfg GCSConfig, opts ...option.ClientOption) (*GCS, error) {
	client, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("creating storage client: %w", err)
	}
	if cfg.ChunkSize <= 0 {
		cfg.ChunkSize = storage.DefaultChunkSize
	}
	return &GCS{client: client, config: cfg, logger: logging.Component("storage")}, nil
}

func (g *GCS) ensureBucket(ctx context.Context) error {
	g.bucketMu.Lock()
	defer g.bucketMu.Unlock()
	if g.bucketReady {
		return nil
	}

	bkt := g.client.Bucket(g.config.Bucket)
	_, err := bkt.Attrs(ctx)
	switch {
	case errors.Is(err, storage.ErrBucketNotExist) && g.config.Project != "":
		if err := bkt.Create(ctx, g.config.Project, nil); err != nil {
			return fmt.Errorf("create bucket %s: %w", g.config.Bucket, err)
		}
		g.logger.Info().Str("bucket", g.config.Bucket).Msg("created bucket")
	case err != nil:
		return fmt.Errorf("check bucket %s: %w", g.config.Bucket, err)
	}
	g.bucketReady = true
	return nil
}

func (g *GCS) Upload(ctx context.Context, localPath, objectKey string) (*model.ArtifactRef, error) {
	if err := g.ensureBucket(ctx); err != nil {
		return nil, err
	}

	f, err := os.Open(localPath)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", localPath, err)
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("stat %s: %w", localPath, err)
	}

	w := g.client.Bucket(g.config.Bucket).Object(objectKey).NewWriter(ctx)
	w.ContentType = ContentType(objectKey)
	w.ChunkSize = g.chunkSize(info.Size())
	if _, err := io.Copy(w, f); err != nil {
		w.Close()
		return nil, fmt.Errorf("writing gs://%s/%s: %w", g.config.Bucket, objectKey, err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("closing gs://%s/%s: %w", g.config.Bucket, objectKey, err)
	}
	return newRef(g.config.Bucket, objectKey, g.URL(objectKey), info.Size()), nil
}

// chunkSize of zero makes the writer send the object in a single request.
func (g *GCS) chunkSize(size int64) int {
	if size < g.config.MultipartThreshold {
		return 0
	}
	return int(g.config.ChunkSize)
}

func (g *GCS) URL(key string) string {
	base := g.config.PublicURL
	if base == "" {
		base = "https://storage.googleapis.com/" + g.config.Bucket
	}
	return joinURL(base, key)
}

func (g *GCS) Healthy(ctx context.Context) error {
	_, err := g.client.Bucket(g.config.Bucket).Attrs(ctx)
	return err
}

func (g *GCS) Close() error {
	return g.client.Close()
}

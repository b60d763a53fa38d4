package storage

import (
	"context"
	"fmt"
	"os"
	"sync"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/rs/zerolog"

	"robotrunner/api/logging"
	"robotrunner/api/model"
)

// minio rejects multipart parts below 5MiB.
const minPartSize = 5 << 20

type Config struct {
	Endpoint           string
	AccessKey          string
	SecretKey          string
	Region             string
	UseSSL             bool
	Bucket             string
	PublicURL          string
	MultipartThreshold int64
	PartSize           int64
}

type Client struct {
	mc     *minio.Client
	config Config
	logger zerolog.Logger

	bucketMu    sync.Mutex
	bucketReady bool
}

func NewS3(cfg Config) (*Client, error) {
	mc, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("s3 client: %w", err)
	}
	if cfg.PartSize < minPartSize {
		cfg.PartSize = minPartSize
	}
	if cfg.MultipartThreshold <= 0 {
		cfg.MultipartThreshold = cfg.PartSize
	}
	return &Client{mc: mc, config: cfg, logger: logging.Component("storage")}, nil
}

// EnsureBucket creates the bucket if it does not exist. After the first
// success it is a no-op for the life of the client.
func (c *Client) EnsureBucket(ctx context.Context) error {
	c.bucketMu.Lock()
	defer c.bucketMu.Unlock()
	if c.bucketReady {
		return nil
	}

	name := c.config.Bucket
	exists, err := c.mc.BucketExists(ctx, name)
	if err != nil {
		return fmt.Errorf("check bucket %s: %w", name, err)
	}
	if !exists {
		region := c.config.Region
		if region == "" {
			region = "us-east-1"
		}
		if err := c.mc.MakeBucket(ctx, name, minio.MakeBucketOptions{Region: region}); err != nil {
			return fmt.Errorf("create bucket %s: %w", name, err)
		}
		c.logger.Info().Str("bucket", name).Msg("created bucket")
	}
	c.bucketReady = true
	return nil
}

func (c *Client) Upload(ctx context.Context, localPath, objectKey string) (*model.ArtifactRef, error) {
	if err := c.EnsureBucket(ctx); err != nil {
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

	opts := c.putOptions(objectKey, info.Size())
	up, err := c.mc.PutObject(ctx, c.config.Bucket, objectKey, f, info.Size(), opts)
	if err != nil {
		return nil, fmt.Errorf("put %s/%s: %w", c.config.Bucket, objectKey, err)
	}
	c.logger.Debug().
		Str("bucket", c.config.Bucket).
		Str("object", objectKey).
		Int64("size", up.Size).
		Bool("multipart", !opts.DisableMultipart).
		Msg("uploaded object")
	return newRef(c.config.Bucket, objectKey, c.URL(objectKey), info.Size()), nil
}

// putOptions sends small files in one request and large ones in parts.
func (c *Client) putOptions(objectKey string, size int64) minio.PutObjectOptions {
	opts := minio.PutObjectOptions{ContentType: ContentType(objectKey)}
	if size < c.config.MultipartThreshold {
		opts.DisableMultipart = true
		return opts
	}
	opts.PartSize = uint64(c.config.PartSize)
	return opts
}

func (c *Client) URL(key string) string {
	base := c.config.PublicURL
	if base == "" {
		scheme := "http"
		if c.config.UseSSL {
			scheme = "https"
		}
		base = scheme + "://" + c.config.Endpoint + "/" + c.config.Bucket
	}
	return joinURL(base, key)
}

func (c *Client) Healthy(ctx context.Context) error {
	_, err := c.mc.BucketExists(ctx, c.config.Bucket)
	return err
}

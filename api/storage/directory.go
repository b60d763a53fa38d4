package storage

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"robotrunner/api/model"
)

// Directory publishes into a local directory tree. Keys map to paths below
// Root.
type Directory struct {
	Root      string
	PublicURL string
}

func NewDirectory(root, publicURL string) (*Directory, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolve storage dir %s: %w", root, err)
	}
	if publicURL == "" {
		publicURL = "file://" + filepath.ToSlash(abs)
	}
	return &Directory{Root: abs, PublicURL: publicURL}, nil
}

func (d *Directory) Upload(ctx context.Context, localPath, objectKey string) (*model.ArtifactRef, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	dst := filepath.Join(d.Root, filepath.FromSlash(objectKey))
	if rel, err := filepath.Rel(d.Root, dst); err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return nil, fmt.Errorf("object key %q escapes storage dir", objectKey)
	}

	src, err := os.Open(localPath)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", localPath, err)
	}
	defer src.Close()

	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return nil, fmt.Errorf("create %s: %w", filepath.Dir(dst), err)
	}
	out, err := os.Create(dst)
	if err != nil {
		return nil, fmt.Errorf("create %s: %w", dst, err)
	}
	n, err := io.Copy(out, src)
	if cerr := out.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return nil, fmt.Errorf("copy to %s: %w", dst, err)
	}
	return newRef(filepath.Base(d.Root), objectKey, d.URL(objectKey), n), nil
}

func (d *Directory) URL(key string) string {
	return joinURL(d.PublicURL, key)
}

func (d *Directory) Healthy(ctx context.Context) error {
	return os.MkdirAll(d.Root, 0o755)
}

package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"robotrunner/api/model"
)

// HTTPUploader publishes through an upload API instead of talking to the
// object store directly. The API receives a multipart form with the object
// key and the file and answers with {bucket, object, url}.
type HTTPUploader struct {
	Endpoint   string
	APIKey     string
	PublicURL  string
	HTTPClient *http.Client
}

func NewHTTPUploader(endpoint, apiKey, publicURL string) (*HTTPUploader, error) {
	u, err := url.Parse(endpoint)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("invalid upload API url %q", endpoint)
	}
	if publicURL == "" {
		publicURL = u.Scheme + "://" + u.Host
	}
	return &HTTPUploader{
		Endpoint:   endpoint,
		APIKey:     apiKey,
		PublicURL:  publicURL,
		HTTPClient: &http.Client{Timeout: 10 * time.Minute},
	}, nil
}

type uploadResponse struct {
	Bucket string `json:"bucket"`
	Object string `json:"object"`
	URL    string `json:"url"`
}

func (u *HTTPUploader) Upload(ctx context.Context, localPath, objectKey string) (*model.ArtifactRef, error) {
	f, err := os.Open(localPath)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", localPath, err)
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("stat %s: %w", localPath, err)
	}

	// Stream the form so large reports are never held in memory.
	pr, pw := io.Pipe()
	form := multipart.NewWriter(pw)
	go func() {
		pw.CloseWithError(writeForm(form, f, objectKey))
	}()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u.Endpoint, pr)
	if err != nil {
		pr.Close()
		return nil, err
	}
	req.Header.Set("Content-Type", form.FormDataContentType())
	if u.APIKey != "" {
		req.Header.Set("x-api-key", u.APIKey)
	}

	resp, err := u.HTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("upload %s: %w", objectKey, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("upload %s: HTTP %d: %s", objectKey, resp.StatusCode, string(b))
	}

	var out uploadResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("upload %s: parse response: %w", objectKey, err)
	}
	if out.Object == "" {
		out.Object = objectKey
	}
	if out.URL == "" {
		out.URL = u.URL(objectKey)
	}
	return newRef(out.Bucket, out.Object, out.URL, info.Size()), nil
}

func writeForm(form *multipart.Writer, f *os.File, objectKey string) error {
	if err := form.WriteField("key", objectKey); err != nil {
		return err
	}
	if err := form.WriteField("contentType", ContentType(objectKey)); err != nil {
		return err
	}
	part, err := form.CreateFormFile("file", filepath.Base(objectKey))
	if err != nil {
		return err
	}
	if _, err := io.Copy(part, f); err != nil {
		return err
	}
	return form.Close()
}

func (u *HTTPUploader) URL(key string) string {
	return joinURL(u.PublicURL, key)
}

// Healthy only checks that the API answers; any HTTP status counts.
func (u *HTTPUploader) Healthy(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, u.Endpoint, nil)
	if err != nil {
		return err
	}
	resp, err := u.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	resp.Body.Close()
	return nil
}

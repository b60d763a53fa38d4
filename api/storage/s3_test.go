package storage

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

// fakeS3 implements just enough of the S3 API for bucket checks and
// single-request object puts.
type fakeS3 struct {
	mu           sync.Mutex
	buckets      map[string]bool
	objects      map[string]string
	contentTypes map[string]string
	bucketChecks int
}

func newFakeS3() *fakeS3 {
	return &fakeS3{
		buckets:      map[string]bool{},
		objects:      map[string]string{},
		contentTypes: map[string]string{},
	}
}

func (f *fakeS3) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	bucket, key, _ := strings.Cut(strings.TrimPrefix(r.URL.Path, "/"), "/")
	body, _ := io.ReadAll(r.Body)

	switch {
	case key == "" && r.Method == http.MethodHead:
		f.bucketChecks++
		if !f.buckets[bucket] {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.WriteHeader(http.StatusOK)
	case key == "" && r.Method == http.MethodPut:
		f.buckets[bucket] = true
		w.WriteHeader(http.StatusOK)
	case key != "" && r.Method == http.MethodPut:
		f.objects[bucket+"/"+key] = string(body)
		f.contentTypes[bucket+"/"+key] = r.Header.Get("Content-Type")
		w.Header().Set("ETag", `"d41d8cd98f00b204e9800998ecf8427e"`)
		w.WriteHeader(http.StatusOK)
	default:
		w.WriteHeader(http.StatusNotImplemented)
	}
}

func newTestS3(t *testing.T, fake *fakeS3) *Client {
	t.Helper()
	srv := httptest.NewServer(fake)
	t.Cleanup(srv.Close)
	u, err := url.Parse(srv.URL)
	require.NoError(t, err)

	c, err := NewS3(Config{
		Endpoint:  u.Host,
		AccessKey: "minio",
		SecretKey: "minio123",
		Region:    "us-east-1",
		Bucket:    "test-results",
	})
	require.NoError(t, err)
	return c
}

func TestS3UploadCreatesBucketOnce(t *testing.T) {
	fake := newFakeS3()
	c := newTestS3(t, fake)
	ctx := context.Background()

	ref, err := c.Upload(ctx, writeFile(t, "report.html", "<html/>"), "manual-running/01JA/report.html")
	require.NoError(t, err)
	_, err = c.Upload(ctx, writeFile(t, "output.xml", "<robot/>"), "manual-running/01JA/output.xml")
	require.NoError(t, err)

	fake.mu.Lock()
	defer fake.mu.Unlock()
	require.True(t, fake.buckets["test-results"])
	require.Equal(t, 1, fake.bucketChecks)
	require.Contains(t, fake.objects, "test-results/manual-running/01JA/report.html")
	require.Contains(t, fake.objects, "test-results/manual-running/01JA/output.xml")
	require.Equal(t, "text/html", fake.contentTypes["test-results/manual-running/01JA/report.html"])
	require.Equal(t, "application/xml", fake.contentTypes["test-results/manual-running/01JA/output.xml"])

	require.Equal(t, "test-results", ref.Bucket)
	require.Equal(t, "manual-running/01JA/report.html", ref.Object)
	require.Equal(t, c.URL("manual-running/01JA/report.html"), ref.URL)
}

func TestS3UploadMissingFile(t *testing.T) {
	c := newTestS3(t, newFakeS3())
	_, err := c.Upload(context.Background(), "/nonexistent/report.html", "k/report.html")
	require.Error(t, err)
}

func TestS3PutOptions(t *testing.T) {
	c, err := NewS3(Config{Endpoint: "minio:9000", Bucket: "b", MultipartThreshold: 8 << 20, PartSize: 1})
	require.NoError(t, err)

	small := c.putOptions("r/report.html", 1024)
	require.True(t, small.DisableMultipart)
	require.Equal(t, "text/html", small.ContentType)

	large := c.putOptions("r/output.xml", 64<<20)
	require.False(t, large.DisableMultipart)
	require.EqualValues(t, minPartSize, large.PartSize, "part size is raised to the S3 minimum")
	require.Equal(t, "application/xml", large.ContentType)
}

func TestS3URL(t *testing.T) {
	c, err := NewS3(Config{Endpoint: "minio.internal:9000", Bucket: "results", UseSSL: true})
	require.NoError(t, err)
	require.Equal(t, "https://minio.internal:9000/results/manual-running/r1", c.URL("manual-running/r1"))

	c, err = NewS3(Config{Endpoint: "minio.internal:9000", Bucket: "results", PublicURL: "https://reports.example.com/results/"})
	require.NoError(t, err)
	require.Equal(t, "https://reports.example.com/results/manual-running/r1", c.URL("manual-running/r1"))
}

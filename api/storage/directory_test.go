package storage

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDirectoryUpload(t *testing.T) {
	root := t.TempDir()
	d, err := NewDirectory(root, "")
	require.NoError(t, err)

	src := writeFile(t, "report.html", "<html>ok</html>")
	ref, err := d.Upload(context.Background(), src, "manual-running/01JA/report.html")
	require.NoError(t, err)

	require.Equal(t, "report.html", ref.Name)
	require.Equal(t, "manual-running/01JA/report.html", ref.Object)
	require.Equal(t, "text/html", ref.ContentType)
	require.EqualValues(t, len("<html>ok</html>"), ref.Size)
	require.Equal(t, "file://"+filepath.ToSlash(root)+"/manual-running/01JA/report.html", ref.URL)

	got, err := os.ReadFile(filepath.Join(root, "manual-running", "01JA", "report.html"))
	require.NoError(t, err)
	require.Equal(t, "<html>ok</html>", string(got))
}

func TestDirectoryUploadErrors(t *testing.T) {
	d, err := NewDirectory(t.TempDir(), "https://reports.example.com")
	require.NoError(t, err)

	_, err = d.Upload(context.Background(), filepath.Join(t.TempDir(), "missing.html"), "a/b.html")
	require.Error(t, err)

	src := writeFile(t, "x.xml", "<x/>")
	_, err = d.Upload(context.Background(), src, "../escape.xml")
	require.ErrorContains(t, err, "escapes storage dir")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = d.Upload(ctx, src, "a/x.xml")
	require.ErrorIs(t, err, context.Canceled)

	require.Equal(t, "https://reports.example.com/manual-running/r1", d.URL("manual-running/r1"))
}

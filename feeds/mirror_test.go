package feeds

import (
	"context"
	"net/http"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var gifPixel = "GIF89a\x01\x00\x01\x00\x80\x00\x00\x00\x00\x00\xff\xff\xff!\xf9\x04\x01\x00\x00\x00\x00,\x00\x00\x00\x00\x01\x00\x01\x00\x00\x02\x02D\x01\x00;"

func newTestMirror(t *testing.T) (*Mirror, string) {
	t.Helper()
	dir := filepath.Join(t.TempDir(), "uploads")
	m, err := NewMirror(context.Background(), MirrorConfig{Dir: dir, Workers: 2})
	require.NoError(t, err)
	t.Cleanup(m.Stop)
	return m, dir
}

func TestMirrorDownload(t *testing.T) {
	srv := newSourceServer(t)
	srv.static("/img/a.gif", http.StatusOK, "image/gif", gifPixel)
	srv.static("/img/sniffed", http.StatusOK, "application/octet-stream", gifPixel)
	srv.static("/img/page.html", http.StatusOK, "text/html", "<html></html>")
	srv.static("/img/empty.png", http.StatusOK, "image/png", "")
	srv.static("/img/missing.png", http.StatusNotFound, "text/plain", "nope")

	m, dir := newTestMirror(t)
	ctx := context.Background()

	require.NoError(t, m.Download(ctx, srv.URL+"/img/a.gif"))
	data, err := os.ReadFile(filepath.Join(dir, "a.gif"))
	require.NoError(t, err)
	assert.Equal(t, gifPixel, string(data))

	// second download finds the file and makes no request
	require.NoError(t, m.Download(ctx, srv.URL+"/img/a.gif?size=large"))
	assert.Equal(t, 1, srv.count("/img/a.gif"))

	require.NoError(t, m.Download(ctx, srv.URL+"/img/sniffed"))
	assert.FileExists(t, filepath.Join(dir, "sniffed"))

	tests := []struct {
		name string
		path string
	}{
		{name: "not an image", path: "/img/page.html"},
		{name: "empty body", path: "/img/empty.png"},
		{name: "not found", path: "/img/missing.png"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Error(t, m.Download(ctx, srv.URL+tt.path))
			assert.NoFileExists(t, filepath.Join(dir, filepath.Base(tt.path)))
		})
	}

	assert.Error(t, m.Download(ctx, srv.URL+"/"))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	for _, entry := range entries {
		assert.NotContains(t, entry.Name(), ".lock")
		assert.NotContains(t, entry.Name(), ".mirror-")
	}
}

func TestMirrorWorkers(t *testing.T) {
	srv := newSourceServer(t)
	srv.static("/img/b.gif", http.StatusOK, "image/gif", gifPixel)

	m, dir := newTestMirror(t)
	m.Start()

	assert.True(t, m.Enqueue(srv.URL+"/img/b.gif"))
	assert.False(t, m.Enqueue(srv.URL+"/"), "no filename")

	target := filepath.Join(dir, "b.gif")
	assert.Eventually(t, func() bool {
		_, err := os.Stat(target)
		return err == nil
	}, 5*time.Second, 10*time.Millisecond)

	assert.False(t, m.Enqueue(srv.URL+"/img/b.gif"), "already mirrored")
	assert.Equal(t, target, m.Path(srv.URL+"/img/b.gif?x=1"))
}

func TestMirrorQueueFull(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "uploads")
	m, err := NewMirror(context.Background(), MirrorConfig{Dir: dir, MaxQueueSize: 1})
	require.NoError(t, err)
	t.Cleanup(m.Stop)

	// workers are not started, so the queue holds exactly one url
	assert.True(t, m.Enqueue("https://ex.test/1.png"))
	assert.False(t, m.Enqueue("https://ex.test/1.png"), "already queued")
	assert.False(t, m.Enqueue("https://ex.test/2.png"), "queue full")
}

func TestNewMirrorRequiresDir(t *testing.T) {
	_, err := NewMirror(context.Background(), MirrorConfig{})
	assert.Error(t, err)
}

package imagecache

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"
)

// 1x1 transparent PNG
var pngPixel = []byte{
	0x89, 0x50, 0x4e, 0x47, 0x0d, 0x0a, 0x1a, 0x0a, 0x00, 0x00, 0x00, 0x0d,
	0x49, 0x48, 0x44, 0x52, 0x00, 0x00, 0x00, 0x01, 0x00, 0x00, 0x00, 0x01,
	0x08, 0x06, 0x00, 0x00, 0x00, 0x1f, 0x15, 0xc4, 0x89, 0x00, 0x00, 0x00,
	0x0a, 0x49, 0x44, 0x41, 0x54, 0x78, 0x9c, 0x63, 0x00, 0x01, 0x00, 0x00,
	0x05, 0x00, 0x01, 0x0d, 0x0a, 0x2d, 0xb4, 0x00, 0x00, 0x00, 0x00, 0x49,
	0x45, 0x4e, 0x44, 0xae, 0x42, 0x60, 0x82,
}

func newTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := Open(context.Background(), filepath.Join(t.TempDir(), "images.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

type tierResponse struct {
	status      int
	contentType string
	body        []byte
}

// upstream serves the mirror and proxy endpoints and counts calls to each.
type upstream struct {
	*httptest.Server

	mirror tierResponse
	proxy  tierResponse

	mirrorCalls atomic.Int32
	proxyCalls  atomic.Int32

	mu          sync.Mutex
	proxiedURLs []string
	mirrorPaths []string
}

func newUpstream(t *testing.T, mirror, proxy tierResponse) *upstream {
	t.Helper()
	u := &upstream{mirror: mirror, proxy: proxy}
	u.Server = httptest.NewServer(http.HandlerFunc(u.serve))
	t.Cleanup(u.Close)
	return u
}

func (u *upstream) serve(w http.ResponseWriter, r *http.Request) {
	var resp tierResponse
	switch {
	case strings.HasPrefix(r.URL.Path, MirrorPath):
		u.mirrorCalls.Add(1)
		u.mu.Lock()
		u.mirrorPaths = append(u.mirrorPaths, r.URL.Path)
		u.mu.Unlock()
		resp = u.mirror
	case r.URL.Path == ProxyPath:
		u.proxyCalls.Add(1)
		u.mu.Lock()
		u.proxiedURLs = append(u.proxiedURLs, r.URL.Query().Get("url"))
		u.mu.Unlock()
		resp = u.proxy
	default:
		http.NotFound(w, r)
		return
	}

	if resp.contentType != "" {
		w.Header().Set("Content-Type", resp.contentType)
	}
	w.WriteHeader(resp.status)
	_, _ = w.Write(resp.body)
}

func (u *upstream) mirrored() []string {
	u.mu.Lock()
	defer u.mu.Unlock()
	return append([]string(nil), u.mirrorPaths...)
}

func (u *upstream) proxied() []string {
	u.mu.Lock()
	defer u.mu.Unlock()
	return append([]string(nil), u.proxiedURLs...)
}

func (u *upstream) calls() int32 {
	return u.mirrorCalls.Load() + u.proxyCalls.Load()
}

// stubAccessor records calls and can be told to fail.
type stubAccessor struct {
	mu      sync.Mutex
	entries map[string]Payload
	gets    int
	puts    []string
	getErr  error
	putErr  error
}

func newStubAccessor() *stubAccessor {
	return &stubAccessor{entries: make(map[string]Payload)}
}

func (s *stubAccessor) Get(_ context.Context, key string) (Payload, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.gets++
	if s.getErr != nil {
		return "", false, errors.Join(ErrReadFailed, s.getErr)
	}
	p, ok := s.entries[key]
	return p, ok, nil
}

func (s *stubAccessor) Put(_ context.Context, key string, payload Payload) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.puts = append(s.puts, key)
	if s.putErr != nil {
		return errors.Join(ErrWriteFailed, s.putErr)
	}
	s.entries[key] = payload
	return nil
}

func (s *stubAccessor) putKeys() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.puts...)
}

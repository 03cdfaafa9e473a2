package feeds

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/gofrs/flock"
	log "github.com/sirupsen/logrus"

	"feedview/imagecache"
)

// maxMirrorBytes caps a single mirrored image
const maxMirrorBytes = 10 << 20

var errNotImage = errors.New("response is not an image")

// MirrorConfig controls the image mirror worker pool
type MirrorConfig struct {
	Dir          string
	Workers      int
	MaxQueueSize int
	Client       *http.Client
	UserAgent    string
}

// Mirror downloads item images into the uploads directory so clients can use the mirror strategy
type Mirror struct {
	config      MirrorConfig
	workerQueue chan string
	wg          sync.WaitGroup
	ctx         context.Context
	cancel      context.CancelFunc
	inflight    sync.Map
}

func NewMirror(ctx context.Context, config MirrorConfig) (*Mirror, error) {
	if config.Dir == "" {
		return nil, errors.New("mirror directory is required")
	}
	if err := os.MkdirAll(config.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create mirror directory: %w", err)
	}
	if config.Workers <= 0 {
		config.Workers = 4
	}
	if config.MaxQueueSize <= 0 {
		config.MaxQueueSize = 1000
	}
	if config.Client == nil {
		config.Client = &http.Client{Timeout: 30 * time.Second}
	}
	if config.UserAgent == "" {
		config.UserAgent = defaultUserAgent
	}

	ctx, cancel := context.WithCancel(ctx)
	return &Mirror{
		config:      config,
		workerQueue: make(chan string, config.MaxQueueSize),
		ctx:         ctx,
		cancel:      cancel,
	}, nil
}

// Start launches the workers
func (m *Mirror) Start() {
	for i := 0; i < m.config.Workers; i++ {
		m.wg.Add(1)
		go m.startWorker(i)
	}
}

// Stop cancels pending downloads and waits for the workers to exit
func (m *Mirror) Stop() {
	m.cancel()
	m.wg.Wait()
}

// Enqueue schedules an image for mirroring. It reports false when the url has no
// usable filename, is already mirrored or queued, or the queue is full.
func (m *Mirror) Enqueue(rawURL string) bool {
	filename := imagecache.MirrorFilename(rawURL)
	if filename == "" || m.exists(filename) {
		return false
	}
	if _, queued := m.inflight.LoadOrStore(filename, struct{}{}); queued {
		return false
	}

	select {
	case m.workerQueue <- rawURL:
		mirrorQueueDepth.Inc()
		return true
	default:
		m.inflight.Delete(filename)
		mirrorDownloads.WithLabelValues("dropped").Inc()
		log.WithField("url", rawURL).Warn("Mirror queue full, dropping image")
		return false
	}
}

// Path returns where the image for rawURL is or would be stored
func (m *Mirror) Path(rawURL string) string {
	filename := imagecache.MirrorFilename(rawURL)
	if filename == "" {
		return ""
	}
	return filepath.Join(m.config.Dir, filename)
}

func (m *Mirror) exists(filename string) bool {
	_, err := os.Stat(filepath.Join(m.config.Dir, filename))
	return err == nil
}

func (m *Mirror) startWorker(id int) {
	defer m.wg.Done()

	for {
		select {
		case <-m.ctx.Done():
			log.Debugf("Mirror worker %d: Shutting down", id)
			return
		case rawURL := <-m.workerQueue:
			mirrorQueueDepth.Dec()
			if err := m.Download(m.ctx, rawURL); err != nil {
				log.WithFields(log.Fields{
					"worker": id,
					"url":    rawURL,
					"error":  err,
				}).Warn("Error mirroring image")
			}
			m.inflight.Delete(imagecache.MirrorFilename(rawURL))
		}
	}
}

// Download fetches rawURL and stores it under its last path segment.
// A file lock keeps concurrent processes sharing the directory from writing the same image.
func (m *Mirror) Download(ctx context.Context, rawURL string) error {
	target := m.Path(rawURL)
	if target == "" {
		mirrorDownloads.WithLabelValues("skipped").Inc()
		return fmt.Errorf("no filename in %q", rawURL)
	}

	lock := flock.New(target + ".lock")
	locked, err := lock.TryLockContext(ctx, 100*time.Millisecond)
	if err != nil {
		return fmt.Errorf("failed to lock %s: %w", target, err)
	}
	if !locked {
		return fmt.Errorf("could not lock %s", target)
	}
	defer func() {
		_ = lock.Unlock()
		_ = os.Remove(target + ".lock")
	}()

	if _, err := os.Stat(target); err == nil {
		mirrorDownloads.WithLabelValues("exists").Inc()
		return nil
	}

	if err := m.download(ctx, rawURL, target); err != nil {
		mirrorDownloads.WithLabelValues("failed").Inc()
		return err
	}
	mirrorDownloads.WithLabelValues("ok").Inc()
	log.WithFields(log.Fields{
		"url":  rawURL,
		"path": target,
	}).Info("Mirrored image")
	return nil
}

func (m *Mirror) download(ctx context.Context, rawURL, target string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return err
	}
	req.Header.Set("User-Agent", m.config.UserAgent)
	req.Header.Set("Accept", "image/*,*/*;q=0.8")

	resp, err := m.config.Client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		return fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxMirrorBytes+1))
	if err != nil {
		return err
	}
	if len(body) == 0 {
		return errors.New("empty body")
	}
	if len(body) > maxMirrorBytes {
		return fmt.Errorf("image larger than %d bytes", maxMirrorBytes)
	}
	if !isImage(resp.Header.Get("Content-Type"), body) {
		return errNotImage
	}

	tmp, err := os.CreateTemp(filepath.Dir(target), ".mirror-*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(body); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), target)
}

func isImage(contentType string, body []byte) bool {
	if mediaType, _, err := mime.ParseMediaType(contentType); err == nil && strings.HasPrefix(mediaType, "image/") {
		return true
	}
	return strings.HasPrefix(http.DetectContentType(body), "image/")
}

package viewer

import (
	"context"
	"errors"
	"fmt"
	"mime"
	"os"
	"path/filepath"
	"strings"

	"github.com/atotto/clipboard"
	log "github.com/sirupsen/logrus"
)

// ErrNothingToCapture is returned when a card has no raster to export
var ErrNothingToCapture = errors.New("card has no image to capture")

// Capturer turns a rendered card into raster image bytes
type Capturer interface {
	Capture(ctx context.Context, card Card) (contentType string, data []byte, err error)
}

// ThumbnailCapturer captures the card's resolved thumbnail
type ThumbnailCapturer struct{}

func (ThumbnailCapturer) Capture(_ context.Context, card Card) (string, []byte, error) {
	if card.Image == "" {
		return "", nil, ErrNothingToCapture
	}
	return card.Image.Decode()
}

// Clipboard receives the share text of an exported card
type Clipboard interface {
	WriteAll(text string) error
}

// SystemClipboard writes to the operating system clipboard
type SystemClipboard struct{}

func (SystemClipboard) WriteAll(text string) error {
	if clipboard.Unsupported {
		return errors.New("no clipboard utility available on this system")
	}
	return clipboard.WriteAll(text)
}

// ExportResult describes what an export produced
type ExportResult struct {
	Path      string
	ShareText string
	Copied    bool
}

// Exporter saves a card image and places its share text on the clipboard
type Exporter struct {
	Capturer  Capturer
	Clipboard Clipboard
}

// Export writes the captured card into dir (skipped when dir is empty) and
// copies the share text when copy is set. Failures are returned to the caller.
func (e *Exporter) Export(ctx context.Context, card Card, dir string, copyText bool) (ExportResult, error) {
	result := ExportResult{ShareText: ShareText(card.Item)}

	if dir != "" {
		capturer := e.Capturer
		if capturer == nil {
			capturer = ThumbnailCapturer{}
		}
		contentType, data, err := capturer.Capture(ctx, card)
		if err != nil {
			return result, fmt.Errorf("failed to capture card: %w", err)
		}

		path := filepath.Join(dir, exportName(card, contentType))
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return result, fmt.Errorf("failed to create export directory: %w", err)
		}
		if err := os.WriteFile(path, data, 0o644); err != nil {
			return result, fmt.Errorf("failed to write card image: %w", err)
		}
		result.Path = path
	}

	if copyText {
		board := e.Clipboard
		if board == nil {
			board = SystemClipboard{}
		}
		if err := board.WriteAll(result.ShareText); err != nil {
			return result, fmt.Errorf("failed to copy share text: %w", err)
		}
		result.Copied = true
	}

	log.WithFields(log.Fields{
		"item":   card.Item.Id,
		"path":   result.Path,
		"copied": result.Copied,
	}).Info("Exported card")
	return result, nil
}

func exportName(card Card, contentType string) string {
	ext := ".png"
	if exts, err := mime.ExtensionsByType(contentType); err == nil && len(exts) > 0 {
		ext = preferredExtension(contentType, exts)
	}
	id := card.Item.Id
	if id == "" {
		id = "card"
	}
	return "card-" + sanitize(id) + ext
}

func preferredExtension(contentType string, exts []string) string {
	switch strings.ToLower(contentType) {
	case "image/jpeg":
		return ".jpg"
	case "image/png":
		return ".png"
	case "image/gif":
		return ".gif"
	}
	return exts[0]
}

func sanitize(s string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			return r
		default:
			return '_'
		}
	}, s)
}

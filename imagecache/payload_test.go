package imagecache

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodePayload(t *testing.T) {
	tests := []struct {
		name        string
		contentType string
		body        []byte
		expected    string
	}{
		{
			name:        "declared image type",
			contentType: "image/webp",
			body:        []byte("RIFFxxxxWEBPVP8 "),
			expected:    "image/webp",
		},
		{
			name:        "parameters are dropped",
			contentType: "image/svg+xml; charset=utf-8",
			body:        []byte("<svg/>"),
			expected:    "image/svg+xml",
		},
		{
			name:        "missing type is sniffed",
			contentType: "",
			body:        pngPixel,
			expected:    "image/png",
		},
		{
			name:        "generic type is sniffed",
			contentType: "application/octet-stream",
			body:        pngPixel,
			expected:    "image/png",
		},
		{
			name:        "non image content stays non image",
			contentType: "text/html",
			body:        []byte("<html><body>nope</body></html>"),
			expected:    "text/html",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			payload := EncodePayload(tt.contentType, tt.body)
			assert.Equal(t, tt.expected, payload.ContentType())

			mediaType, raw, err := payload.Decode()
			require.NoError(t, err)
			assert.Equal(t, tt.expected, mediaType)
			assert.Equal(t, tt.body, raw)
		})
	}
}

func TestEncodePayloadFormat(t *testing.T) {
	payload := EncodePayload("image/gif", []byte("GIF89a"))
	assert.Equal(t, "data:image/gif;base64,R0lGODlh", payload.String())
}

func TestDecodeMalformedPayload(t *testing.T) {
	for _, payload := range []Payload{
		"",
		"image/png;base64,AAAA",
		"data:image/png;base64",
		"data:image/png,plain",
		"data:image/png;base64,!!!",
	} {
		_, _, err := payload.Decode()
		assert.ErrorIs(t, err, errMalformedPayload, string(payload))
	}
}

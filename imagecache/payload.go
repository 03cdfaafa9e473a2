package imagecache

import (
	"encoding/base64"
	"errors"
	"mime"
	"net/http"
	"strings"
)

// Payload is the inline representation of a cached image, a base64 data URL
// such as "data:image/png;base64,iVBOR...". It is stored and returned verbatim.
type Payload string

const dataURLPrefix = "data:"

var errMalformedPayload = errors.New("malformed image payload")

// EncodePayload turns raw image bytes into a Payload. When contentType is empty
// or not an image type the bytes are sniffed instead.
func EncodePayload(contentType string, body []byte) Payload {
	mediaType := normalizeContentType(contentType, body)

	var sb strings.Builder
	sb.Grow(len(dataURLPrefix) + len(mediaType) + len(";base64,") + base64.StdEncoding.EncodedLen(len(body)))
	sb.WriteString(dataURLPrefix)
	sb.WriteString(mediaType)
	sb.WriteString(";base64,")
	sb.WriteString(base64.StdEncoding.EncodeToString(body))
	return Payload(sb.String())
}

// Decode splits the payload back into its media type and raw bytes.
func (p Payload) Decode() (string, []byte, error) {
	s := string(p)
	if !strings.HasPrefix(s, dataURLPrefix) {
		return "", nil, errMalformedPayload
	}

	header, data, ok := strings.Cut(strings.TrimPrefix(s, dataURLPrefix), ",")
	if !ok {
		return "", nil, errMalformedPayload
	}

	mediaType, isBase64 := strings.CutSuffix(header, ";base64")
	if !isBase64 {
		return "", nil, errMalformedPayload
	}

	raw, err := base64.StdEncoding.DecodeString(data)
	if err != nil {
		return "", nil, errors.Join(errMalformedPayload, err)
	}
	return mediaType, raw, nil
}

// ContentType returns the media type of the payload, or "" if it is malformed.
func (p Payload) ContentType() string {
	header, _, ok := strings.Cut(strings.TrimPrefix(string(p), dataURLPrefix), ",")
	if !ok {
		return ""
	}
	return strings.TrimSuffix(header, ";base64")
}

func (p Payload) String() string {
	return string(p)
}

func normalizeContentType(contentType string, body []byte) string {
	if mediaType, _, err := mime.ParseMediaType(contentType); err == nil && strings.HasPrefix(mediaType, "image/") {
		return mediaType
	}
	detected, _, _ := mime.ParseMediaType(http.DetectContentType(body))
	return detected
}

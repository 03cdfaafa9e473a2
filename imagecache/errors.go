package imagecache

import "errors"

var (
	// ErrStoreUnavailable is returned when the cache store cannot be opened.
	// Callers fall back to Disabled and keep working without a cache.
	ErrStoreUnavailable = errors.New("image cache store unavailable")

	// ErrReadFailed wraps storage errors from Get. It is not returned for absent keys.
	ErrReadFailed = errors.New("image cache read failed")

	// ErrWriteFailed wraps storage errors from Put.
	ErrWriteFailed = errors.New("image cache write failed")

	// ErrFetchFailed is returned by a single fetch tier (mirror or proxy).
	ErrFetchFailed = errors.New("image fetch failed")

	// ErrImageUnavailable is returned by Resolve when every source has failed.
	ErrImageUnavailable = errors.New("image unavailable")
)

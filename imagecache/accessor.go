package imagecache

import (
	"context"
	"fmt"

	lru "github.com/hashicorp/golang-lru/v2"
	log "github.com/sirupsen/logrus"
)

// Accessor reads and writes cache entries.
//
// Get distinguishes an absent key (ok == false, err == nil) from a storage
// failure (err wrapping ErrReadFailed). Put replaces any existing entry.
type Accessor interface {
	Get(ctx context.Context, key string) (payload Payload, ok bool, err error)
	Put(ctx context.Context, key string, payload Payload) error
}

// Disabled is the accessor used when the store could not be opened. Every key
// is absent and writes are dropped.
type Disabled struct{}

func (Disabled) Get(context.Context, string) (Payload, bool, error) {
	return "", false, nil
}

func (Disabled) Put(context.Context, string, Payload) error {
	return nil
}

// Layered keeps a bounded in-memory LRU in front of a durable accessor.
type Layered struct {
	memory  *lru.Cache[string, Payload]
	durable Accessor
}

// NewLayered wraps durable with an LRU holding at most size payloads.
func NewLayered(durable Accessor, size int) (*Layered, error) {
	memory, err := lru.New[string, Payload](size)
	if err != nil {
		return nil, fmt.Errorf("create memory tier: %w", err)
	}
	return &Layered{memory: memory, durable: durable}, nil
}

func (l *Layered) Get(ctx context.Context, key string) (Payload, bool, error) {
	if payload, ok := l.memory.Get(key); ok {
		return payload, true, nil
	}

	payload, ok, err := l.durable.Get(ctx, key)
	if err != nil || !ok {
		return payload, ok, err
	}
	l.memory.Add(key, payload)
	return payload, true, nil
}

func (l *Layered) Put(ctx context.Context, key string, payload Payload) error {
	l.memory.Add(key, payload)
	return l.durable.Put(ctx, key, payload)
}

// OpenAccessor opens the store at path and returns it as an Accessor together
// with a close function. When the store is unavailable the failure is logged
// and a Disabled accessor is returned instead, so callers never need to handle
// a missing cache. memoryEntries > 0 adds an in-memory tier of that size.
func OpenAccessor(ctx context.Context, path string, memoryEntries int) (Accessor, func() error) {
	var (
		accessor Accessor = Disabled{}
		closer            = func() error { return nil }
	)

	if path != "" {
		store, err := Open(ctx, path)
		if err != nil {
			log.WithFields(log.Fields{
				"path":  path,
				"error": err,
			}).Warn("Image cache disabled")
		} else {
			accessor = store
			closer = store.Close
		}
	}

	if memoryEntries > 0 {
		layered, err := NewLayered(accessor, memoryEntries)
		if err != nil {
			log.WithFields(log.Fields{
				"size":  memoryEntries,
				"error": err,
			}).Warn("Memory tier disabled")
			return accessor, closer
		}
		return layered, closer
	}

	return accessor, closer
}

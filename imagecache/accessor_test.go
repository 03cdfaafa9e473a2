package imagecache

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDisabledAccessor(t *testing.T) {
	ctx := context.Background()
	var accessor Accessor = Disabled{}

	require.NoError(t, accessor.Put(ctx, "k", Payload("data:image/png;base64,AA==")))
	payload, ok, err := accessor.Get(ctx, "k")
	assert.NoError(t, err)
	assert.False(t, ok)
	assert.Empty(t, payload)
}

func TestLayeredServesFromMemory(t *testing.T) {
	ctx := context.Background()
	durable := newStubAccessor()
	layered, err := NewLayered(durable, 2)
	require.NoError(t, err)

	require.NoError(t, layered.Put(ctx, "a", Payload("pa")))
	assert.Equal(t, []string{"a"}, durable.putKeys())

	got, ok, err := layered.Get(ctx, "a")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, Payload("pa"), got)
	assert.Equal(t, 0, durable.gets, "memory hit should not touch the durable tier")
}

func TestLayeredFallsBackToDurable(t *testing.T) {
	ctx := context.Background()
	durable := newStubAccessor()
	durable.entries["b"] = Payload("pb")

	layered, err := NewLayered(durable, 1)
	require.NoError(t, err)

	got, ok, err := layered.Get(ctx, "b")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, Payload("pb"), got)

	_, ok, err = layered.Get(ctx, "missing")
	require.NoError(t, err)
	assert.False(t, ok)

	// "b" was promoted to memory, so the durable tier saw two lookups only.
	_, _, _ = layered.Get(ctx, "b")
	assert.Equal(t, 2, durable.gets)
}

func TestLayeredPropagatesReadFailure(t *testing.T) {
	durable := newStubAccessor()
	durable.getErr = errors.New("disk on fire")

	layered, err := NewLayered(durable, 1)
	require.NoError(t, err)

	_, ok, err := layered.Get(context.Background(), "k")
	assert.False(t, ok)
	assert.ErrorIs(t, err, ErrReadFailed)
}

func TestNewLayeredRejectsInvalidSize(t *testing.T) {
	_, err := NewLayered(Disabled{}, 0)
	assert.Error(t, err)
}

func TestOpenAccessor(t *testing.T) {
	ctx := context.Background()

	t.Run("store available", func(t *testing.T) {
		accessor, closeFn := OpenAccessor(ctx, filepath.Join(t.TempDir(), "images.db"), 0)
		defer closeFn()

		_, isStore := accessor.(*Store)
		assert.True(t, isStore)
	})

	t.Run("store unavailable disables caching", func(t *testing.T) {
		blocker := filepath.Join(t.TempDir(), "blocker")
		require.NoError(t, os.WriteFile(blocker, nil, 0o644))

		accessor, closeFn := OpenAccessor(ctx, filepath.Join(blocker, "images.db"), 0)
		assert.NoError(t, closeFn())
		assert.Equal(t, Disabled{}, accessor)
	})

	t.Run("no path disables caching", func(t *testing.T) {
		accessor, closeFn := OpenAccessor(ctx, "", 0)
		assert.NoError(t, closeFn())
		assert.Equal(t, Disabled{}, accessor)
	})

	t.Run("memory tier wraps the store", func(t *testing.T) {
		accessor, closeFn := OpenAccessor(ctx, filepath.Join(t.TempDir(), "images.db"), 16)
		defer closeFn()

		_, isLayered := accessor.(*Layered)
		assert.True(t, isLayered)
	})
}

package plugin_test

import (
	"context"
	"testing"

	Mp "github.com/maroda/blinkwise/plugin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecoderLookup(t *testing.T) {
	for _, known := range []string{"kv", "json"} {
		t.Run("Returns known decoder "+known, func(t *testing.T) {
			got, err := Mp.DecoderLookup(known)
			require.NoError(t, err)
			assert.Contains(t, got.Type(), known)
		})
	}

	t.Run("Returns error if decoder doesn't exist", func(t *testing.T) {
		_, err := Mp.DecoderLookup("craquemattic")
		assert.Error(t, err)
	})
}

func TestOpenStore(t *testing.T) {
	ctx := context.Background()

	t.Run("Opens the memory store", func(t *testing.T) {
		store, err := Mp.OpenStore(ctx, "memory", "")
		require.NoError(t, err)
		assert.Contains(t, store.Type(), "Memory")
	})

	t.Run("Opens an in-memory badger store", func(t *testing.T) {
		store, err := Mp.OpenStore(ctx, "badger", "")
		require.NoError(t, err)
		defer store.Close()
		assert.Contains(t, store.Type(), "BadgerDB")
	})

	t.Run("Unknown store returns error", func(t *testing.T) {
		store, err := Mp.OpenStore(ctx, "craquemattic", "")
		assert.Error(t, err)
		assert.Nil(t, store)
	})

	t.Run("Failed backend returns a nil store", func(t *testing.T) {
		// nothing listens on port 1
		store, err := Mp.OpenStore(ctx, "redis", "127.0.0.1:1")
		assert.ErrorIs(t, err, Mp.ErrStoreUnavailable)
		assert.Nil(t, store)
	})
}

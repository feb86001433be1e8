package replay

import (
	"bytes"
	"context"
	"testing"

	"github.com/cyberinferno/railserver/apperror"
	"github.com/cyberinferno/railserver/protocol"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExportImport(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	id, err := store.CreateGame(ctx, "exported", "theMap", 1)
	require.NoError(t, err)
	require.NoError(t, store.Append(ctx, Record{GameID: id, Code: protocol.Login, Payload: []byte(`{"name":"X"}`), Actor: "p1"}))
	require.NoError(t, store.Append(ctx, Record{GameID: id, Code: protocol.Turn, Actor: "p1"}))

	for _, c := range []Compression{CompressionNone, CompressionSnappy, CompressionZstd} {
		t.Run(string(c), func(t *testing.T) {
			var buf bytes.Buffer
			require.NoError(t, Export(ctx, store, id, &buf, c))

			bundle, err := Import(&buf, c)
			require.NoError(t, err)
			assert.Equal(t, "exported", bundle.Game.Name)
			assert.Equal(t, 1, bundle.Game.TurnCount)
			require.Len(t, bundle.Actions, 2)
			assert.Equal(t, protocol.Login, bundle.Actions[0].Code)
			assert.JSONEq(t, `{"name":"X"}`, string(bundle.Actions[0].Payload))
			assert.Nil(t, bundle.Actions[1].Payload)
		})
	}

	t.Run("unknown game", func(t *testing.T) {
		err := Export(ctx, store, 42, &bytes.Buffer{}, CompressionNone)
		assert.ErrorIs(t, err, apperror.ErrResourceNotFound)
	})

	t.Run("empty bundle", func(t *testing.T) {
		_, err := Import(&bytes.Buffer{}, CompressionNone)
		assert.Error(t, err)
	})
}

func TestParseCompression(t *testing.T) {
	c, err := ParseCompression("")
	require.NoError(t, err)
	assert.Equal(t, CompressionSnappy, c)

	c, err = ParseCompression("zstd")
	require.NoError(t, err)
	assert.Equal(t, CompressionZstd, c)

	_, err = ParseCompression("gzip")
	assert.Error(t, err)
}

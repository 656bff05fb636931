package memory_test

import (
	"context"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tendant/nodestore/pkg/nodestore"
	"github.com/tendant/nodestore/pkg/nodestore/storage/memory"
)

func TestBackend(t *testing.T) {
	ctx := context.Background()
	b := memory.New()

	require.NoError(t, b.Write(ctx, "abc", strings.NewReader("hello"), "text/plain"))

	rc, err := b.Read(ctx, "abc")
	require.NoError(t, err)
	data, err := io.ReadAll(rc)
	require.NoError(t, err)
	require.NoError(t, rc.Close())
	assert.Equal(t, "hello", string(data))

	mt, ok := b.Mimetype("abc")
	assert.True(t, ok)
	assert.Equal(t, "text/plain", mt)

	require.NoError(t, b.Write(ctx, "abc", strings.NewReader("replaced"), "text/plain"))
	rc, err = b.Read(ctx, "abc")
	require.NoError(t, err)
	data, _ = io.ReadAll(rc)
	assert.Equal(t, "replaced", string(data))

	require.NoError(t, b.Delete(ctx, "abc"))
	assert.Equal(t, 0, b.Len())

	_, err = b.Read(ctx, "abc")
	assert.ErrorIs(t, err, nodestore.ErrBlobNotFound)
	assert.ErrorIs(t, b.Delete(ctx, "abc"), nodestore.ErrBlobNotFound)
}

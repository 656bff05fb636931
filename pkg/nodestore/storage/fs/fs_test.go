package fs_test

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tendant/nodestore/pkg/nodestore"
	"github.com/tendant/nodestore/pkg/nodestore/storage/fs"
)

func TestNew_RequiresBaseDir(t *testing.T) {
	_, err := fs.New(fs.Config{})
	assert.Error(t, err)
}

func TestBackend_ShardedLayout(t *testing.T) {
	dir := t.TempDir()
	b, err := fs.New(fs.Config{BaseDir: dir})
	require.NoError(t, err)

	assert.Equal(t, filepath.Join("objects", "Ab", "cd1234"), b.Key("Abcd1234"))
	assert.Equal(t, filepath.Join("objects", "_", "a"), b.Key("a"))
	assert.NotContains(t, b.Key("../../etc"), "..")
}

func TestBackend_WriteReadDelete(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	b, err := fs.New(fs.Config{BaseDir: dir})
	require.NoError(t, err)

	require.NoError(t, b.Write(ctx, "Abcd1234", strings.NewReader("0123456789"), "text/plain"))

	_, err = os.Stat(filepath.Join(dir, "objects", "Ab", "cd1234"))
	require.NoError(t, err)

	rc, err := b.Read(ctx, "Abcd1234")
	require.NoError(t, err)
	data, err := io.ReadAll(rc)
	require.NoError(t, err)
	require.NoError(t, rc.Close())
	assert.Equal(t, "0123456789", string(data))

	require.NoError(t, b.Delete(ctx, "Abcd1234"))

	// shard directory removed once empty
	_, err = os.Stat(filepath.Join(dir, "objects", "Ab"))
	assert.True(t, os.IsNotExist(err))
	_, err = os.Stat(dir)
	assert.NoError(t, err)

	_, err = b.Read(ctx, "Abcd1234")
	assert.ErrorIs(t, err, nodestore.ErrBlobNotFound)
	assert.ErrorIs(t, b.Delete(ctx, "Abcd1234"), nodestore.ErrBlobNotFound)
}

package remote

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse(t *testing.T) {
	b, o, err := Parse("gs://bucket/path/to/file.tif")
	require.NoError(t, err)
	assert.Equal(t, "bucket", b)
	assert.Equal(t, "path/to/file.tif", o)

	for _, name := range []string{"bucket/file.tif", "gs://bucket", "gs://bucket/", "gs:///file.tif", "/tmp/file.tif"} {
		_, _, err = Parse(name)
		assert.Error(t, err, name)
	}
	assert.True(t, IsRemote("gs://b/o"))
	assert.False(t, IsRemote("/gs://b/o"))
}

func TestLocal(t *testing.T) {
	ctx := context.Background()
	name := filepath.Join(t.TempDir(), "file.bin")
	h := &Handler{}

	w, err := h.Create(ctx, name)
	require.NoError(t, err)
	_, err = w.Write([]byte("0123456789"))
	require.NoError(t, err)
	require.NoError(t, w.Close())

	r, err := h.Reader(name)
	require.NoError(t, err)
	defer r.Close()
	buf := make([]byte, 3)
	_, err = r.ReadAt(buf, 4)
	require.NoError(t, err)
	assert.Equal(t, "456", string(buf))
	_, err = r.Seek(8, io.SeekStart)
	require.NoError(t, err)
	rest, err := io.ReadAll(r)
	require.NoError(t, err)
	assert.Equal(t, "89", string(rest))

	w, err = h.Create(ctx, name)
	require.NoError(t, err)
	a, ok := w.(interface{ Abort() error })
	require.True(t, ok)
	require.NoError(t, a.Abort())
	_, err = os.Stat(name)
	assert.True(t, os.IsNotExist(err))

	_, err = h.Reader(name)
	assert.Error(t, err)
}

func TestUnconfigured(t *testing.T) {
	h := &Handler{}
	_, err := h.Reader("gs://bucket/file.tif")
	assert.Error(t, err)
	_, err = h.Create(context.Background(), "gs://bucket/file.tif")
	assert.Error(t, err)
}

func TestNew(t *testing.T) {
	h, err := New(context.Background(), Anonymous(), BlockSize("64k"), NumCachedBlocks(10))
	if err != nil {
		t.Skipf("cannot create storage client: %v", err)
	}
	assert.NotNil(t, h.Adapter())
	_, err = h.Create(context.Background(), "gs://bucket")
	assert.Error(t, err)
}

package badger

import (
	"context"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/vectorize/blobstore"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(Options{InMemory: true})
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestOpenRequiresDir(t *testing.T) {
	_, err := Open(Options{})
	assert.Error(t, err)
}

func TestStore(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.Open(ctx, "missing")
	assert.ErrorIs(t, err, blobstore.ErrNotFound)

	require.NoError(t, s.Put(ctx, "snap-b", []byte("0123456789")))

	w, err := s.Create(ctx, "snap-a")
	require.NoError(t, err)
	_, err = w.Write([]byte("streamed"))
	require.NoError(t, err)
	require.NoError(t, w.Close())

	w, err = s.Create(ctx, "snap-c")
	require.NoError(t, err)
	_, err = w.Write([]byte("partial"))
	require.NoError(t, err)
	require.NoError(t, w.(blobstore.Aborter).Abort())
	require.NoError(t, w.Close())

	require.NoError(t, s.Put(ctx, "other", []byte("x")))

	names, err := s.List(ctx, "snap-")
	require.NoError(t, err)
	assert.Equal(t, []string{"snap-a", "snap-b"}, names)

	b, err := s.Open(ctx, "snap-b")
	require.NoError(t, err)
	assert.Equal(t, int64(10), b.Size())

	buf := make([]byte, 4)
	n, err := b.ReadAt(ctx, buf, 8)
	assert.ErrorIs(t, err, io.EOF)
	assert.Equal(t, "89", string(buf[:n]))

	rc, err := b.ReadRange(ctx, 2, 3)
	require.NoError(t, err)
	data, err := io.ReadAll(rc)
	require.NoError(t, err)
	assert.Equal(t, "234", string(data))

	require.NoError(t, s.Delete(ctx, "snap-b"))
	require.NoError(t, s.Delete(ctx, "snap-b"))
	_, err = s.Open(ctx, "snap-b")
	assert.ErrorIs(t, err, blobstore.ErrNotFound)
}

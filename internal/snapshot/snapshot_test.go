package snapshot

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/vectorize/blobstore"
	"github.com/hupe1980/vectorize/codec"
	"github.com/hupe1980/vectorize/internal/resource"
)

func testState() *State {
	return &State{
		Name:      "docs",
		Dimension: 3,
		Metric:    "cosine",
		LSN:       42,
		CreatedAt: 1700000000000000000,
		Records: []Record{
			{ID: "a", Values: []float32{1, 2, 3}, Metadata: map[string]any{"text": "hello"}},
			{ID: "b", Values: []float32{-1, 0.5, 0}},
			{ID: "a", Values: []float32{0, 0, 0}},
		},
	}
}

func TestWriteRead(t *testing.T) {
	codecs := []codec.Codec{codec.JSON{}, codec.GoJSON{}, codec.Msgpack{}}
	compressions := []Compression{CompressionNone, CompressionLZ4, CompressionZstd}

	for _, c := range codecs {
		for _, comp := range compressions {
			t.Run(c.Name()+"/"+comp.String(), func(t *testing.T) {
				ctx := context.Background()
				store := blobstore.NewMemoryStore()
				st := testState()

				info, err := Write(ctx, store, "snap", st, func(o *Options) {
					o.Codec = c
					o.Compression = comp
				})
				require.NoError(t, err)
				assert.Equal(t, 3, info.Records)
				assert.Equal(t, uint64(42), info.LSN)
				assert.Equal(t, c.Name(), info.Codec)
				assert.Equal(t, comp, info.Compression)

				got, err := Read(ctx, store, "snap")
				require.NoError(t, err)
				assert.Equal(t, st.Name, got.Name)
				assert.Equal(t, st.Dimension, got.Dimension)
				assert.Equal(t, st.Metric, got.Metric)
				assert.Equal(t, st.LSN, got.LSN)
				assert.Equal(t, st.CreatedAt, got.CreatedAt)
				require.Len(t, got.Records, 3)
				for i := range st.Records {
					assert.Equal(t, st.Records[i].ID, got.Records[i].ID)
					assert.Equal(t, st.Records[i].Values, got.Records[i].Values)
				}
				assert.Equal(t, "hello", got.Records[0].Metadata["text"])
				assert.Empty(t, got.Records[1].Metadata)
			})
		}
	}
}

func TestReadErrors(t *testing.T) {
	ctx := context.Background()

	t.Run("NotFound", func(t *testing.T) {
		_, err := Read(ctx, blobstore.NewMemoryStore(), "missing")
		assert.ErrorIs(t, err, blobstore.ErrNotFound)
	})

	t.Run("InvalidMagic", func(t *testing.T) {
		store := blobstore.NewMemoryStore()
		require.NoError(t, store.Put(ctx, "snap", bytes.Repeat([]byte{0xAB}, 64)))
		_, err := Read(ctx, store, "snap")
		assert.ErrorIs(t, err, ErrInvalidMagic)
	})

	t.Run("Short", func(t *testing.T) {
		store := blobstore.NewMemoryStore()
		require.NoError(t, store.Put(ctx, "snap", []byte("VZ")))
		_, err := Read(ctx, store, "snap")
		assert.ErrorIs(t, err, ErrInvalidMagic)
	})

	t.Run("Checksum", func(t *testing.T) {
		store := blobstore.NewMemoryStore()
		_, err := Write(ctx, store, "snap", testState())
		require.NoError(t, err)

		data, err := blobstore.ReadAll(ctx, store, "snap")
		require.NoError(t, err)
		data[len(data)-1] ^= 0xFF
		require.NoError(t, store.Put(ctx, "snap", data))

		_, err = Read(ctx, store, "snap")
		assert.ErrorIs(t, err, ErrChecksumMismatch)
	})

	t.Run("Truncated", func(t *testing.T) {
		store := blobstore.NewMemoryStore()
		_, err := Write(ctx, store, "snap", testState())
		require.NoError(t, err)

		data, err := blobstore.ReadAll(ctx, store, "snap")
		require.NoError(t, err)
		require.NoError(t, store.Put(ctx, "snap", data[:len(data)-4]))

		_, err = Read(ctx, store, "snap")
		assert.ErrorIs(t, err, ErrChecksumMismatch)
	})
}

func TestWriteRateLimited(t *testing.T) {
	ctx := context.Background()
	store := blobstore.NewLocalStore(t.TempDir())
	rc := resource.NewController(resource.Config{IOLimitBytesPerSec: 1 << 20})

	_, err := Write(ctx, store, "snapshots/1", testState(), func(o *Options) { o.Resource = rc })
	require.NoError(t, err)

	got, err := Read(ctx, store, "snapshots/1", func(o *Options) { o.Resource = rc })
	require.NoError(t, err)
	assert.Len(t, got.Records, 3)
}

func TestParseCompression(t *testing.T) {
	tests := []struct {
		in   string
		want Compression
		err  bool
	}{
		{"", CompressionNone, false},
		{"none", CompressionNone, false},
		{"LZ4", CompressionLZ4, false},
		{"zstd", CompressionZstd, false},
		{"gzip", 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseCompression(tt.in)
			if tt.err {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

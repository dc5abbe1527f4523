package server_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/vectorize"
	"github.com/hupe1980/vectorize/blobstore"
	"github.com/hupe1980/vectorize/internal/server"
	"github.com/hupe1980/vectorize/wal"
)

func syncWAL(o *wal.Options) { o.DurabilityMode = wal.DurabilitySync }

func docsConfig() vectorize.Config {
	return vectorize.Config{Name: "docs", Dimensions: 2, Metric: vectorize.MetricCosine}
}

func records(ids ...string) []vectorize.VectorRecord {
	out := make([]vectorize.VectorRecord, len(ids))
	for i, id := range ids {
		out[i] = vectorize.VectorRecord{ID: id, Values: []float32{1, float32(i)}}
	}
	return out
}

func TestRegistry_CreateAndGet(t *testing.T) {
	ctx := context.Background()
	reg := server.NewRegistry(server.RegistryConfig{})
	t.Cleanup(func() { _ = reg.Close(ctx) })

	idx, err := reg.Create(ctx, docsConfig())
	require.NoError(t, err)

	got, err := reg.Get("docs")
	require.NoError(t, err)
	assert.Same(t, idx, got)

	_, err = reg.Create(ctx, docsConfig())
	assert.ErrorIs(t, err, server.ErrIndexExists)

	_, err = reg.Get("other")
	assert.ErrorIs(t, err, server.ErrIndexNotFound)

	_, err = reg.Snapshot(ctx, "docs")
	assert.ErrorIs(t, err, server.ErrSnapshotsDisabled)
}

func TestRegistry_ReloadFromJournal(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	cfg := server.RegistryConfig{DataDir: dir, WAL: []func(*wal.Options){syncWAL}}

	reg := server.NewRegistry(cfg)
	idx, err := reg.Create(ctx, docsConfig())
	require.NoError(t, err)
	_, err = idx.Insert(ctx, records("a", "b", "c"))
	require.NoError(t, err)
	_, err = idx.DeleteByIDs(ctx, []string{"b"})
	require.NoError(t, err)
	require.NoError(t, reg.Close(ctx))

	assert.FileExists(t, filepath.Join(dir, "docs", "index.json"))

	reloaded := server.NewRegistry(cfg)
	t.Cleanup(func() { _ = reloaded.Close(ctx) })
	require.NoError(t, reloaded.Load(ctx))

	idx, err = reloaded.Get("docs")
	require.NoError(t, err)
	assert.Equal(t, 2, idx.Describe().VectorCount)

	recs, err := idx.GetByIDs(ctx, []string{"a", "b", "c"})
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Equal(t, "a", recs[0].ID)
	assert.Equal(t, "c", recs[1].ID)
}

func TestRegistry_SnapshotCheckpoint(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	store := blobstore.NewLocalStore(t.TempDir())
	cfg := server.RegistryConfig{
		DataDir:         dir,
		WAL:             []func(*wal.Options){syncWAL},
		Snapshots:       store,
		SnapshotOptions: []vectorize.SnapshotOption{vectorize.WithCompression("lz4", 0)},
	}

	reg := server.NewRegistry(cfg)
	idx, err := reg.Create(ctx, docsConfig())
	require.NoError(t, err)
	_, err = idx.Insert(ctx, records("a", "b"))
	require.NoError(t, err)

	info, err := reg.Snapshot(ctx, "docs")
	require.NoError(t, err)
	assert.Equal(t, 2, info.Records)
	assert.Equal(t, "lz4", info.Compression)

	// Journaled after the checkpoint; replayed on top of the snapshot.
	_, err = idx.Upsert(ctx, records("c"))
	require.NoError(t, err)

	// Close without the final snapshot to exercise snapshot + journal recovery.
	require.NoError(t, idx.Close())

	reloaded := server.NewRegistry(cfg)
	t.Cleanup(func() { _ = reloaded.Close(ctx) })
	require.NoError(t, reloaded.Load(ctx))

	idx, err = reloaded.Get("docs")
	require.NoError(t, err)
	assert.Equal(t, 3, idx.Describe().VectorCount)
}

func TestRegistry_LoadSnapshotWithoutDataDir(t *testing.T) {
	ctx := context.Background()
	store := blobstore.NewMemoryStore()

	seed := server.NewRegistry(server.RegistryConfig{DataDir: t.TempDir(), WAL: []func(*wal.Options){syncWAL}, Snapshots: store})
	idx, err := seed.Create(ctx, docsConfig())
	require.NoError(t, err)
	_, err = idx.Insert(ctx, records("a", "b", "c"))
	require.NoError(t, err)
	require.NoError(t, seed.Close(ctx))

	// The data dir is gone; only the snapshot survives.
	cfg := server.RegistryConfig{DataDir: t.TempDir(), WAL: []func(*wal.Options){syncWAL}, Snapshots: store}

	reg := server.NewRegistry(cfg)
	require.NoError(t, reg.Load(ctx))
	idx, err = reg.Get("docs")
	require.NoError(t, err)
	assert.Equal(t, 3, idx.Describe().VectorCount)

	_, err = idx.Upsert(ctx, []vectorize.VectorRecord{{ID: "d", Values: []float32{0, 1}}})
	require.NoError(t, err)

	// Skip the final snapshot so "d" only lives in the journal.
	require.NoError(t, idx.Close())

	reloaded := server.NewRegistry(cfg)
	t.Cleanup(func() { _ = reloaded.Close(ctx) })
	require.NoError(t, reloaded.Load(ctx))

	idx, err = reloaded.Get("docs")
	require.NoError(t, err)
	assert.Equal(t, 4, idx.Describe().VectorCount)

	recs, err := idx.GetByIDs(ctx, []string{"d"})
	require.NoError(t, err)
	assert.Len(t, recs, 1)
}

func TestRegistry_ShapeMismatch(t *testing.T) {
	ctx := context.Background()
	store := blobstore.NewMemoryStore()

	reg := server.NewRegistry(server.RegistryConfig{Snapshots: store})
	_, err := reg.Create(ctx, docsConfig())
	require.NoError(t, err)
	require.NoError(t, reg.Close(ctx))

	tests := []struct {
		name string
		cfg  vectorize.Config
	}{
		{"Dimensions", vectorize.Config{Name: "docs", Dimensions: 3, Metric: vectorize.MetricCosine}},
		{"Metric", vectorize.Config{Name: "docs", Dimensions: 2, Metric: vectorize.MetricEuclidean}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			other := server.NewRegistry(server.RegistryConfig{Snapshots: store})
			t.Cleanup(func() { _ = other.Close(ctx) })

			_, err := other.Create(ctx, tt.cfg)
			require.Error(t, err)

			var dimErr *vectorize.ErrDimensionMismatch
			assert.True(t, errors.As(err, &dimErr) || errors.Is(err, vectorize.ErrInvalidConfig), err.Error())
		})
	}
}

func TestRegistry_Delete(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	store := blobstore.NewMemoryStore()

	reg := server.NewRegistry(server.RegistryConfig{DataDir: dir, Snapshots: store})
	t.Cleanup(func() { _ = reg.Close(ctx) })

	idx, err := reg.Create(ctx, docsConfig())
	require.NoError(t, err)
	_, err = reg.Snapshot(ctx, "docs")
	require.NoError(t, err)

	require.NoError(t, reg.Delete(ctx, "docs"))

	_, err = os.Stat(filepath.Join(dir, "docs"))
	assert.ErrorIs(t, err, os.ErrNotExist)
	names, err := store.List(ctx, "")
	require.NoError(t, err)
	assert.Empty(t, names)

	_, err = idx.Query(ctx, []float32{1, 0}, vectorize.QueryOptions{})
	assert.ErrorIs(t, err, vectorize.ErrClosed)

	assert.ErrorIs(t, reg.Delete(ctx, "docs"), server.ErrIndexNotFound)
}

func TestRegistry_RunSnapshots(t *testing.T) {
	store := blobstore.NewMemoryStore()
	reg := server.NewRegistry(server.RegistryConfig{Snapshots: store})
	t.Cleanup(func() { _ = reg.Close(context.Background()) })

	_, err := reg.Create(context.Background(), docsConfig())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		reg.RunSnapshots(ctx, 10*time.Millisecond)
		close(done)
	}()

	assert.Eventually(t, func() bool {
		names, err := store.List(context.Background(), "")
		return err == nil && len(names) == 1 && names[0] == "docs.snap"
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	<-done
}

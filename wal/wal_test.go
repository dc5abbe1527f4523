package wal

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/vectorize/codec"
	"github.com/hupe1980/vectorize/internal/fs"
)

func openTestWAL(t *testing.T, dir string, fns ...func(o *Options)) *WAL {
	t.Helper()
	w, err := Open(append([]func(o *Options){func(o *Options) {
		o.Path = dir
		o.DurabilityMode = DurabilitySync
	}}, fns...)...)
	require.NoError(t, err)
	return w
}

func sampleEntries() []Entry {
	return []Entry{
		{
			Type:       OpInsert,
			MutationID: "m1",
			Records: []Record{
				{ID: "a", Values: []float32{1, 2, 3}, Metadata: map[string]any{"text": "hello", "n": 1}},
				{ID: "b", Values: []float32{4, 5, 6}},
			},
		},
		{
			Type:       OpUpsert,
			MutationID: "m2",
			Records:    []Record{{ID: "a", Values: []float32{7, 8, 9}}},
		},
		{
			Type: OpDelete,
			IDs:  []string{"b", "missing"},
		},
	}
}

func collect(t *testing.T, w *WAL, after uint64) ([]Entry, ReplayStats) {
	t.Helper()
	var got []Entry
	stats, err := w.Replay(context.Background(), after, func(e Entry) error {
		got = append(got, e)
		return nil
	})
	require.NoError(t, err)
	return got, stats
}

func TestAppendReplay(t *testing.T) {
	tests := []struct {
		name       string
		codec      codec.Codec
		compress   bool
		durability DurabilityMode
	}{
		{"MsgpackSync", codec.Msgpack{}, false, DurabilitySync},
		{"MsgpackZstdGroupCommit", codec.Msgpack{}, true, DurabilityGroupCommit},
		{"GoJSONAsync", codec.GoJSON{}, false, DurabilityAsync},
		{"JSONZstdSync", codec.JSON{}, true, DurabilitySync},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := t.TempDir()
			w := openTestWAL(t, dir, func(o *Options) {
				o.Codec = tt.codec
				o.Compress = tt.compress
				o.DurabilityMode = tt.durability
				o.GroupCommitInterval = time.Millisecond
			})

			for i, e := range sampleEntries() {
				lsn, err := w.Append(context.Background(), &e)
				require.NoError(t, err)
				assert.Equal(t, uint64(i+1), lsn)
				assert.Equal(t, lsn, e.LSN)
			}
			assert.Equal(t, uint64(3), w.LastLSN())

			got, stats := collect(t, w, 0)
			require.Len(t, got, 3)
			assert.Equal(t, 3, stats.Entries)
			assert.Equal(t, uint64(3), stats.LastLSN)

			assert.Equal(t, OpInsert, got[0].Type)
			assert.Equal(t, "m1", got[0].MutationID)
			require.Len(t, got[0].Records, 2)
			assert.Equal(t, []float32{1, 2, 3}, got[0].Records[0].Values)
			assert.Equal(t, "hello", got[0].Records[0].Metadata["text"])
			assert.EqualValues(t, 1, got[0].Records[0].Metadata["n"])
			assert.Nil(t, got[0].Records[1].Metadata)

			assert.Equal(t, OpUpsert, got[1].Type)
			assert.Equal(t, OpDelete, got[2].Type)
			assert.Equal(t, []string{"b", "missing"}, got[2].IDs)
			assert.Equal(t, uint64(3), got[2].LSN)

			require.NoError(t, w.Close())
		})
	}
}

func TestReopen(t *testing.T) {
	dir := t.TempDir()
	w := openTestWAL(t, dir, func(o *Options) {
		o.Codec = codec.GoJSON{}
		o.Compress = true
	})
	for _, e := range sampleEntries() {
		_, err := w.Append(context.Background(), &e)
		require.NoError(t, err)
	}
	require.NoError(t, w.Close())

	// Options of an existing file come from its header.
	w = openTestWAL(t, dir)
	defer w.Close()

	assert.Equal(t, uint64(3), w.LastLSN())
	assert.Equal(t, "go-json", w.codec.Name())
	assert.True(t, w.compressed)

	got, stats := collect(t, w, 1)
	require.Len(t, got, 2)
	assert.Equal(t, 1, stats.Skipped)
	assert.Equal(t, uint64(2), got[0].LSN)

	lsn, err := w.Append(context.Background(), &Entry{Type: OpDelete, IDs: []string{"a"}})
	require.NoError(t, err)
	assert.Equal(t, uint64(4), lsn)
}

func TestCheckpoint(t *testing.T) {
	dir := t.TempDir()
	w := openTestWAL(t, dir)

	for _, e := range sampleEntries() {
		_, err := w.Append(context.Background(), &e)
		require.NoError(t, err)
	}
	before := w.Size()

	require.NoError(t, w.Checkpoint(3))
	assert.Less(t, w.Size(), before)
	assert.Equal(t, w.dataOffset+frameHeaderLen, w.Size())

	got, _ := collect(t, w, 0)
	assert.Empty(t, got)
	require.NoError(t, w.Close())

	// LSNs continue across the checkpoint and a restart.
	w = openTestWAL(t, dir)
	defer w.Close()
	assert.Equal(t, uint64(3), w.LastLSN())

	lsn, err := w.Append(context.Background(), &Entry{Type: OpDelete, IDs: []string{"x"}})
	require.NoError(t, err)
	assert.Equal(t, uint64(4), lsn)

	got, _ = collect(t, w, 3)
	require.Len(t, got, 1)
	assert.Equal(t, []string{"x"}, got[0].IDs)
}

func TestCheckpointKeepsLaterEntries(t *testing.T) {
	w := openTestWAL(t, t.TempDir())
	defer w.Close()

	for _, e := range sampleEntries() {
		_, err := w.Append(context.Background(), &e)
		require.NoError(t, err)
	}
	require.NoError(t, w.Checkpoint(1))

	got, _ := collect(t, w, 1)
	assert.Len(t, got, 2)
}

func TestTornTail(t *testing.T) {
	tests := []struct {
		name   string
		damage func(t *testing.T, path string, goodSize int64)
	}{
		{
			name: "Truncated",
			damage: func(t *testing.T, path string, goodSize int64) {
				require.NoError(t, os.Truncate(path, goodSize+5))
			},
		},
		{
			name: "Checksum",
			damage: func(t *testing.T, path string, _ int64) {
				data, err := os.ReadFile(path)
				require.NoError(t, err)
				data[len(data)-1] ^= 0xFF
				require.NoError(t, os.WriteFile(path, data, 0600))
			},
		},
		{
			name: "Garbage",
			damage: func(t *testing.T, path string, goodSize int64) {
				require.NoError(t, os.Truncate(path, goodSize))
				f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0600)
				require.NoError(t, err)
				_, err = f.Write([]byte("not a frame at all, just noise"))
				require.NoError(t, err)
				require.NoError(t, f.Close())
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := t.TempDir()
			w := openTestWAL(t, dir)
			entries := sampleEntries()
			for i := range 2 {
				_, err := w.Append(context.Background(), &entries[i])
				require.NoError(t, err)
			}
			goodSize := w.Size()
			_, err := w.Append(context.Background(), &entries[2])
			require.NoError(t, err)
			path := w.FilePath()
			require.NoError(t, w.Close())

			tt.damage(t, path, goodSize)

			w = openTestWAL(t, dir)
			defer w.Close()

			assert.Greater(t, w.TruncatedBytes(), int64(0))
			assert.Equal(t, goodSize, w.Size())
			assert.Equal(t, uint64(2), w.LastLSN())

			got, _ := collect(t, w, 0)
			assert.Len(t, got, 2)

			lsn, err := w.Append(context.Background(), &entries[2])
			require.NoError(t, err)
			assert.Equal(t, uint64(3), lsn)
		})
	}
}

func TestInvalidHeader(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, DefaultOptions.FileName), []byte("definitely not a wal file"), 0600))

	_, err := Open(func(o *Options) { o.Path = dir })
	assert.ErrorIs(t, err, ErrInvalidHeader)
}

func TestAppendValidation(t *testing.T) {
	w := openTestWAL(t, t.TempDir())

	_, err := w.Append(context.Background(), &Entry{Type: OpCheckpoint})
	assert.ErrorIs(t, err, ErrInvalidType)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = w.Append(ctx, &Entry{Type: OpDelete})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, uint64(0), w.LastLSN())

	require.NoError(t, w.Close())
	require.NoError(t, w.Close())

	_, err = w.Append(context.Background(), &Entry{Type: OpDelete})
	assert.ErrorIs(t, err, ErrClosed)
}

func TestSyncFailureIsTerminal(t *testing.T) {
	tests := []struct {
		name       string
		durability DurabilityMode
	}{
		{"Sync", DurabilitySync},
		{"GroupCommit", DurabilityGroupCommit},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ffs := fs.NewFaultyFS(nil)
			w := openTestWAL(t, t.TempDir(), func(o *Options) {
				o.FS = ffs
				o.DurabilityMode = tt.durability
				o.GroupCommitInterval = time.Millisecond
			})

			_, err := w.Append(context.Background(), &Entry{Type: OpDelete, IDs: []string{"a"}})
			require.NoError(t, err)

			ffs.AddRule(DefaultOptions.FileName, fs.Fault{FailAfterBytes: -1, FailOnSync: true})
			_, err = w.Append(context.Background(), &Entry{Type: OpDelete, IDs: []string{"b"}})
			require.ErrorIs(t, err, fs.ErrInjected)

			ffs.ClearRules()
			_, err = w.Append(context.Background(), &Entry{Type: OpDelete, IDs: []string{"c"}})
			assert.ErrorIs(t, err, fs.ErrInjected)

			_ = w.Close()
		})
	}
}

func TestWriteFailure(t *testing.T) {
	ffs := fs.NewFaultyFS(nil)
	dir := t.TempDir()
	w := openTestWAL(t, dir, func(o *Options) { o.FS = ffs })

	ffs.AddRule(DefaultOptions.FileName, fs.Fault{FailAfterBytes: 0})
	_, err := w.Append(context.Background(), &sampleEntries()[0])
	require.ErrorIs(t, err, fs.ErrInjected)
	_ = w.Close()

	ffs.ClearRules()
	w = openTestWAL(t, dir)
	defer w.Close()
	assert.Equal(t, uint64(0), w.LastLSN())
}

func TestParseDurabilityMode(t *testing.T) {
	for _, m := range []DurabilityMode{DurabilityAsync, DurabilityGroupCommit, DurabilitySync} {
		got, ok := ParseDurabilityMode(m.String())
		require.True(t, ok)
		assert.Equal(t, m, got)
	}
	_, ok := ParseDurabilityMode("never")
	assert.False(t, ok)
}

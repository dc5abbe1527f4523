package vectorize

import (
	"context"
	"fmt"
	"time"

	"github.com/hupe1980/vectorize/blobstore"
	"github.com/hupe1980/vectorize/codec"
	"github.com/hupe1980/vectorize/distance"
	"github.com/hupe1980/vectorize/internal/engine"
	"github.com/hupe1980/vectorize/internal/resource"
	"github.com/hupe1980/vectorize/internal/snapshot"
)

// SnapshotInfo describes a written snapshot.
type SnapshotInfo struct {
	Name        string `json:"name"`
	Size        int64  `json:"size"`
	Records     int    `json:"records"`
	LSN         uint64 `json:"lsn"`
	Compression string `json:"compression"`
	Codec       string `json:"codec"`
}

type snapshotOptions struct {
	checkpoint  bool
	codec       codec.Codec
	compression string
	level       int
}

// SnapshotOption configures Snapshot.
type SnapshotOption func(*snapshotOptions)

// WithCheckpoint truncates the journal once the snapshot is stored. Restore
// then needs the snapshot to recover journaled state.
func WithCheckpoint() SnapshotOption {
	return func(o *snapshotOptions) { o.checkpoint = true }
}

// WithSnapshotCodec sets the record encoding (default msgpack).
func WithSnapshotCodec(c codec.Codec) SnapshotOption {
	return func(o *snapshotOptions) { o.codec = c }
}

// WithCompression selects "none", "lz4" or "zstd" (default) and the zstd level.
func WithCompression(name string, level int) SnapshotOption {
	return func(o *snapshotOptions) {
		o.compression = name
		o.level = level
	}
}

// Snapshot writes the records of the index to bs under name. Mutations are
// blocked while the records are collected; queries are not.
func (idx *Index) Snapshot(ctx context.Context, bs blobstore.BlobStore, name string, optFns ...SnapshotOption) (SnapshotInfo, error) {
	var so snapshotOptions
	for _, fn := range optFns {
		fn(&so)
	}

	var fns []func(*snapshot.Options)
	if so.codec != nil {
		fns = append(fns, func(o *snapshot.Options) { o.Codec = so.codec })
	}
	if so.compression != "" {
		c, err := snapshot.ParseCompression(so.compression)
		if err != nil {
			return SnapshotInfo{}, fmt.Errorf("%w: %w", ErrInvalidConfig, err)
		}
		fns = append(fns, func(o *snapshot.Options) {
			o.Compression = c
			if so.level > 0 {
				o.Level = so.level
			}
		})
	}

	info, err := idx.engine.Snapshot(ctx, bs, name, engine.SnapshotOptions{
		Checkpoint: so.checkpoint,
		Snapshot:   fns,
	})
	err = translateError(err)
	idx.logger.LogSnapshot(ctx, name, info.Records, err)
	if err != nil {
		return SnapshotInfo{}, err
	}

	return SnapshotInfo{
		Name:        info.Name,
		Size:        info.Size,
		Records:     info.Records,
		LSN:         info.LSN,
		Compression: info.Compression.String(),
		Codec:       info.Codec,
	}, nil
}

// Restore creates an index from the snapshot stored under name. The name,
// dimensions and metric come from the snapshot. When WithWAL is given, journal
// entries newer than the snapshot are replayed on top.
func Restore(ctx context.Context, bs blobstore.BlobStore, name string, optFns ...Option) (*Index, error) {
	o := applyOptions(optFns)

	start := time.Now()
	rc := resource.NewController(resource.Config{IOLimitBytesPerSec: o.limits.IOLimitBytesPerSec})
	st, err := snapshot.Read(ctx, bs, name, func(so *snapshot.Options) { so.Resource = rc })
	if err != nil {
		return nil, fmt.Errorf("vectorize: read snapshot %q: %w", name, err)
	}

	metric, err := distance.ParseMetric(st.Metric)
	if err != nil {
		return nil, translateError(err)
	}

	idx, err := open(ctx, st.Name, st.Dimension, metric, st, o)
	if err != nil {
		return nil, err
	}
	idx.logger.InfoContext(ctx, "index restored",
		"snapshot", name,
		"records", len(st.Records),
		"duration", time.Since(start),
	)
	return idx, nil
}

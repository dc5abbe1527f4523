// Package snapshot writes and reads point-in-time copies of an index to a
// blobstore.BlobStore.
//
// A snapshot is a fixed header followed by a checksummed, optionally
// compressed body that holds every physical entry in handle order. The graph
// itself is not stored; it is rebuilt on restore.
package snapshot

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"hash/crc32"
	"io"

	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"

	"github.com/hupe1980/vectorize/blobstore"
	"github.com/hupe1980/vectorize/codec"
	"github.com/hupe1980/vectorize/internal/resource"
)

// Record is the stored form of a physical entry.
type Record struct {
	ID       string         `json:"id"`
	Values   []float32      `json:"values"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// State is the content of a snapshot.
type State struct {
	Name      string   `json:"name,omitempty"`
	Dimension int      `json:"dimension"`
	Metric    string   `json:"metric"`
	LSN       uint64   `json:"lsn"`
	CreatedAt int64    `json:"createdAt"` // unix nanoseconds
	Records   []Record `json:"records"`
}

// Options configures Write and Read.
type Options struct {
	// Codec encodes the body on Write. Read uses the codec named in the header.
	Codec codec.Codec

	Compression Compression

	// Level is the zstd encoder level (1-22). Ignored for other compressions.
	Level int

	// Resource rate-limits blob IO when set.
	Resource *resource.Controller
}

// DefaultOptions returns the default snapshot options.
func DefaultOptions() Options {
	return Options{
		Codec:       codec.Msgpack{},
		Compression: CompressionZstd,
		Level:       3,
	}
}

// Info describes a written snapshot.
type Info struct {
	Name        string
	Size        int64
	Records     int
	LSN         uint64
	Compression Compression
	Codec       string
	Checksum    uint32
}

// Write encodes st and stores it under name. The blob only becomes visible
// once it is completely written.
func Write(ctx context.Context, store blobstore.BlobStore, name string, st *State, optFns ...func(*Options)) (Info, error) {
	opts := DefaultOptions()
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.Codec == nil {
		opts.Codec = codec.Msgpack{}
	}
	if len(opts.Codec.Name()) > codecNameSize {
		return Info{}, fmt.Errorf("%w: name too long: %q", ErrUnknownCodec, opts.Codec.Name())
	}

	raw, err := opts.Codec.Marshal(st)
	if err != nil {
		return Info{}, fmt.Errorf("snapshot: encode: %w", err)
	}
	body, err := compress(raw, opts.Compression, opts.Level)
	if err != nil {
		return Info{}, err
	}

	h := fileHeader{
		Compression: uint8(opts.Compression),
		CodecLen:    uint8(len(opts.Codec.Name())),
		BodyLen:     uint64(len(body)),
		Checksum:    crc32.ChecksumIEEE(body),
	}
	copy(h.Codec[:], opts.Codec.Name())

	var buf bytes.Buffer
	if err := writeHeader(&buf, &h); err != nil {
		return Info{}, err
	}
	buf.Write(body)
	size := int64(buf.Len())

	wb, err := store.Create(ctx, name)
	if err != nil {
		return Info{}, fmt.Errorf("snapshot: create %q: %w", name, err)
	}

	var w io.Writer = wb
	if opts.Resource != nil {
		w = resource.NewRateLimitedWriter(ctx, wb, opts.Resource)
	}
	if _, err := io.Copy(w, &buf); err != nil {
		abort(wb)
		return Info{}, fmt.Errorf("snapshot: write %q: %w", name, err)
	}
	if err := wb.Close(); err != nil {
		return Info{}, fmt.Errorf("snapshot: commit %q: %w", name, err)
	}

	return Info{
		Name:        name,
		Size:        size,
		Records:     len(st.Records),
		LSN:         st.LSN,
		Compression: opts.Compression,
		Codec:       opts.Codec.Name(),
		Checksum:    h.Checksum,
	}, nil
}

func abort(wb blobstore.WritableBlob) {
	if a, ok := wb.(blobstore.Aborter); ok {
		_ = a.Abort()
		return
	}
	_ = wb.Close()
}

// Read loads the snapshot stored under name.
func Read(ctx context.Context, store blobstore.BlobStore, name string, optFns ...func(*Options)) (*State, error) {
	opts := DefaultOptions()
	for _, fn := range optFns {
		fn(&opts)
	}

	b, err := store.Open(ctx, name)
	if err != nil {
		return nil, fmt.Errorf("snapshot: open %q: %w", name, err)
	}
	defer b.Close()

	rc, err := blobstore.Reader(ctx, b)
	if err != nil {
		return nil, fmt.Errorf("snapshot: read %q: %w", name, err)
	}
	defer rc.Close()

	var r io.Reader = rc
	if opts.Resource != nil {
		r = resource.NewRateLimitedReader(ctx, rc, opts.Resource)
	}

	h, err := readHeader(r)
	if err != nil {
		return nil, err
	}

	c, ok := codec.ByName(h.codecName())
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownCodec, h.codecName())
	}

	body := make([]byte, h.BodyLen)
	if _, err := io.ReadFull(r, body); err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return nil, fmt.Errorf("%w: truncated body", ErrChecksumMismatch)
		}
		return nil, err
	}
	if crc32.ChecksumIEEE(body) != h.Checksum {
		return nil, ErrChecksumMismatch
	}

	raw, err := decompress(body, Compression(h.Compression))
	if err != nil {
		return nil, err
	}

	var st State
	if err := c.Unmarshal(raw, &st); err != nil {
		return nil, fmt.Errorf("snapshot: decode: %w", err)
	}
	return &st, nil
}

func compress(raw []byte, c Compression, level int) ([]byte, error) {
	switch c {
	case CompressionNone:
		return raw, nil
	case CompressionLZ4:
		var buf bytes.Buffer
		zw := lz4.NewWriter(&buf)
		if _, err := zw.Write(raw); err != nil {
			return nil, fmt.Errorf("snapshot: lz4: %w", err)
		}
		if err := zw.Close(); err != nil {
			return nil, fmt.Errorf("snapshot: lz4: %w", err)
		}
		return buf.Bytes(), nil
	case CompressionZstd:
		enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.EncoderLevelFromZstd(level)))
		if err != nil {
			return nil, fmt.Errorf("snapshot: zstd: %w", err)
		}
		defer enc.Close()
		return enc.EncodeAll(raw, make([]byte, 0, len(raw)/2)), nil
	default:
		return nil, fmt.Errorf("snapshot: unknown compression %d", c)
	}
}

func decompress(body []byte, c Compression) ([]byte, error) {
	switch c {
	case CompressionNone:
		return body, nil
	case CompressionLZ4:
		raw, err := io.ReadAll(lz4.NewReader(bytes.NewReader(body)))
		if err != nil {
			return nil, fmt.Errorf("snapshot: lz4: %w", err)
		}
		return raw, nil
	case CompressionZstd:
		dec, err := zstd.NewReader(nil)
		if err != nil {
			return nil, fmt.Errorf("snapshot: zstd: %w", err)
		}
		defer dec.Close()
		raw, err := dec.DecodeAll(body, nil)
		if err != nil {
			return nil, fmt.Errorf("snapshot: zstd: %w", err)
		}
		return raw, nil
	default:
		return nil, fmt.Errorf("snapshot: unknown compression %d", c)
	}
}

package wal

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

var (
	walMagic          = [4]byte{'V', 'Z', 'W', '0'}
	walHeaderVersion  = uint16(1)
	walHeaderFixedLen = 16 // excludes variable codec name bytes
)

var (
	// ErrInvalidHeader is returned when the file does not start with a WAL header.
	ErrInvalidHeader = errors.New("invalid WAL header")

	// ErrIncompatibleVersion is returned for headers written by an unknown format version.
	ErrIncompatibleVersion = errors.New("incompatible WAL version")
)

type walHeaderInfo struct {
	Compressed       bool
	CompressionLevel int
	Codec            string
	HeaderLen        int64
}

func writeWALHeader(w io.Writer, info walHeaderInfo) (int64, error) {
	if len(info.Codec) > 255 {
		return 0, fmt.Errorf("codec name too long: %q", info.Codec)
	}

	var flags uint16
	level := uint8(0)
	if info.Compressed {
		flags |= 1
		level = uint8(info.CompressionLevel) //nolint:gosec
	}

	buf := make([]byte, 0, walHeaderFixedLen+len(info.Codec))
	buf = append(buf, walMagic[:]...)
	var fixed [12]byte
	binary.LittleEndian.PutUint16(fixed[0:2], walHeaderVersion)
	binary.LittleEndian.PutUint16(fixed[2:4], flags)
	fixed[4] = level
	fixed[5] = uint8(len(info.Codec))
	// fixed[6:12] reserved
	buf = append(buf, fixed[:]...)
	buf = append(buf, info.Codec...)

	if _, err := w.Write(buf); err != nil {
		return 0, fmt.Errorf("failed to write WAL header: %w", err)
	}
	return int64(len(buf)), nil
}

func readWALHeader(r io.ReaderAt) (walHeaderInfo, error) {
	fixed := make([]byte, walHeaderFixedLen)
	if _, err := r.ReadAt(fixed, 0); err != nil {
		return walHeaderInfo{}, fmt.Errorf("%w: %w", ErrInvalidHeader, err)
	}
	if [4]byte(fixed[0:4]) != walMagic {
		return walHeaderInfo{}, fmt.Errorf("%w: invalid magic %q", ErrInvalidHeader, fixed[0:4])
	}

	version := binary.LittleEndian.Uint16(fixed[4:6])
	if version != walHeaderVersion {
		return walHeaderInfo{}, fmt.Errorf("%w: version %d (expected %d)", ErrIncompatibleVersion, version, walHeaderVersion)
	}
	flags := binary.LittleEndian.Uint16(fixed[6:8])
	level := int(fixed[8])
	codecLen := int(fixed[9])

	name := make([]byte, codecLen)
	if codecLen > 0 {
		if _, err := r.ReadAt(name, int64(walHeaderFixedLen)); err != nil {
			return walHeaderInfo{}, fmt.Errorf("%w: codec name: %w", ErrInvalidHeader, err)
		}
	}

	return walHeaderInfo{
		Compressed:       flags&1 != 0,
		CompressionLevel: level,
		Codec:            string(name),
		HeaderLen:        int64(walHeaderFixedLen + codecLen),
	}, nil
}

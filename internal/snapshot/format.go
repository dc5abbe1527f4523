package snapshot

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"strings"
)

const (
	// magicNumber identifies snapshot blobs (ASCII: "VZS0").
	magicNumber = 0x565A5330
	// version is the current snapshot format version.
	version = 1

	codecNameSize = 16
)

var (
	ErrInvalidMagic       = errors.New("snapshot: invalid magic number")
	ErrUnsupportedVersion = errors.New("snapshot: unsupported version")
	ErrChecksumMismatch   = errors.New("snapshot: checksum mismatch")
	ErrUnknownCodec       = errors.New("snapshot: unknown codec")
)

// Compression selects how the snapshot body is compressed.
type Compression uint8

const (
	CompressionNone Compression = iota
	CompressionLZ4
	CompressionZstd
)

func (c Compression) String() string {
	switch c {
	case CompressionNone:
		return "none"
	case CompressionLZ4:
		return "lz4"
	case CompressionZstd:
		return "zstd"
	default:
		return fmt.Sprintf("Compression(%d)", uint8(c))
	}
}

// ParseCompression maps a name to a Compression.
func ParseCompression(s string) (Compression, error) {
	switch strings.ToLower(s) {
	case "", "none":
		return CompressionNone, nil
	case "lz4":
		return CompressionLZ4, nil
	case "zstd":
		return CompressionZstd, nil
	default:
		return 0, fmt.Errorf("snapshot: unknown compression %q", s)
	}
}

// fileHeader is the fixed-size little-endian header in front of the body.
type fileHeader struct {
	Magic       uint32
	Version     uint32
	Compression uint8
	CodecLen    uint8
	Padding     [2]byte
	BodyLen     uint64
	Checksum    uint32 // CRC32 (IEEE) of the stored body
	Codec       [codecNameSize]byte
}

func (h *fileHeader) codecName() string {
	return string(h.Codec[:min(int(h.CodecLen), codecNameSize)])
}

func writeHeader(w io.Writer, h *fileHeader) error {
	h.Magic = magicNumber
	h.Version = version
	return binary.Write(w, binary.LittleEndian, h)
}

func readHeader(r io.Reader) (*fileHeader, error) {
	var h fileHeader
	if err := binary.Read(r, binary.LittleEndian, &h); err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return nil, ErrInvalidMagic
		}
		return nil, err
	}
	if h.Magic != magicNumber {
		return nil, ErrInvalidMagic
	}
	if h.Version != version {
		return nil, fmt.Errorf("%w: %d", ErrUnsupportedVersion, h.Version)
	}
	return &h, nil
}

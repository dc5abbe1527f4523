package wal

import (
	"encoding/binary"
	"errors"
	"fmt"
	"hash/crc32"
	"io"
)

// Frame layout:
// [CRC32C:4][Type:1][Flags:1][LSN:8][Length:4][Payload:Length]
// The checksum covers everything after itself.
const (
	frameHeaderLen = 18
	maxPayloadLen  = 256 << 20

	flagCompressed = 1 << 0
)

var (
	// ErrCorrupt is returned when a frame fails its checksum or is malformed.
	ErrCorrupt = errors.New("corrupt WAL entry")

	// ErrEntryTooLarge is returned when an encoded entry exceeds the frame limit.
	ErrEntryTooLarge = errors.New("WAL entry too large")
)

var castagnoli = crc32.MakeTable(crc32.Castagnoli)

type frame struct {
	Type    OperationType
	Flags   uint8
	LSN     uint64
	Payload []byte
}

func (f *frame) size() int64 {
	return int64(frameHeaderLen + len(f.Payload))
}

func (f *frame) encode(w io.Writer) error {
	if len(f.Payload) > maxPayloadLen {
		return ErrEntryTooLarge
	}

	var hdr [frameHeaderLen]byte
	hdr[4] = byte(f.Type)
	hdr[5] = f.Flags
	binary.LittleEndian.PutUint64(hdr[6:14], f.LSN)
	binary.LittleEndian.PutUint32(hdr[14:18], uint32(len(f.Payload))) //nolint:gosec

	crc := crc32.Update(0, castagnoli, hdr[4:])
	crc = crc32.Update(crc, castagnoli, f.Payload)
	binary.LittleEndian.PutUint32(hdr[0:4], crc)

	if _, err := w.Write(hdr[:]); err != nil {
		return err
	}
	_, err := w.Write(f.Payload)
	return err
}

// decodeFrame reads one frame. It returns io.EOF at a clean end of stream and
// ErrCorrupt (possibly wrapping io.ErrUnexpectedEOF) for a torn or damaged frame.
func decodeFrame(r io.Reader) (frame, error) {
	var hdr [frameHeaderLen]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		if errors.Is(err, io.EOF) {
			return frame{}, io.EOF
		}
		return frame{}, fmt.Errorf("%w: %w", ErrCorrupt, err)
	}

	f := frame{
		Type:  OperationType(hdr[4]),
		Flags: hdr[5],
		LSN:   binary.LittleEndian.Uint64(hdr[6:14]),
	}
	length := binary.LittleEndian.Uint32(hdr[14:18])
	if length > maxPayloadLen {
		return frame{}, fmt.Errorf("%w: payload length %d", ErrCorrupt, length)
	}
	if !f.Type.valid() {
		return frame{}, fmt.Errorf("%w: unknown type %d", ErrCorrupt, hdr[4])
	}

	f.Payload = make([]byte, length)
	if _, err := io.ReadFull(r, f.Payload); err != nil {
		return frame{}, fmt.Errorf("%w: %w", ErrCorrupt, err)
	}

	crc := crc32.Update(0, castagnoli, hdr[4:])
	crc = crc32.Update(crc, castagnoli, f.Payload)
	if crc != binary.LittleEndian.Uint32(hdr[0:4]) {
		return frame{}, fmt.Errorf("%w: checksum mismatch at lsn %d", ErrCorrupt, f.LSN)
	}
	return f, nil
}

// encodeEntry serializes e into a frame payload.
func (w *WAL) encodeEntry(e *Entry) (frame, error) {
	f := frame{Type: e.Type, LSN: e.LSN}
	if e.Type == OpCheckpoint {
		return f, nil
	}

	payload, err := w.codec.Marshal(e)
	if err != nil {
		return frame{}, fmt.Errorf("failed to encode WAL entry: %w", err)
	}
	if w.compressed {
		payload = w.enc.EncodeAll(payload, nil)
		f.Flags |= flagCompressed
	}
	f.Payload = payload
	return f, nil
}

// decodeEntry restores an entry from a frame.
func (w *WAL) decodeEntry(f frame) (Entry, error) {
	e := Entry{Type: f.Type, LSN: f.LSN}
	if f.Type == OpCheckpoint {
		return e, nil
	}

	payload := f.Payload
	if f.Flags&flagCompressed != 0 {
		var err error
		if payload, err = w.dec.DecodeAll(payload, nil); err != nil {
			return Entry{}, fmt.Errorf("%w: decompress lsn %d: %w", ErrCorrupt, f.LSN, err)
		}
	}
	if err := w.codec.Unmarshal(payload, &e); err != nil {
		return Entry{}, fmt.Errorf("%w: decode lsn %d: %w", ErrCorrupt, f.LSN, err)
	}
	e.Type, e.LSN = f.Type, f.LSN
	return e, nil
}

// Package wal provides the write-ahead journal of a vectorize index.
//
// Every mutation batch is appended as one checksummed entry before it is
// applied, so an index can be rebuilt after a crash by replaying the journal
// on top of the latest snapshot.
//
// Features:
//   - One framed entry per mutation batch, CRC32C protected
//   - Optional zstd compression of entry payloads
//   - Async, group-commit and sync durability
//   - Checkpoints that truncate the journal after a snapshot
//   - Torn-tail recovery on open
package wal

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/klauspost/compress/zstd"

	"github.com/hupe1980/vectorize/codec"
	"github.com/hupe1980/vectorize/internal/fs"
)

var (
	// ErrClosed is returned when the WAL is used after Close.
	ErrClosed = errors.New("wal closed")

	// ErrUnknownCodec is returned when a WAL header names a codec that is not built in.
	ErrUnknownCodec = errors.New("unknown WAL codec")

	// ErrInvalidType is returned when appending an entry that is not a mutation.
	ErrInvalidType = errors.New("invalid WAL entry type")
)

// WAL provides write-ahead logging for durability.
type WAL struct {
	mu         sync.Mutex
	fs         fs.FileSystem
	file       fs.File
	bufWriter  *bufio.Writer
	filePath   string
	codec      codec.Codec
	compressed bool
	level      int
	enc        *zstd.Encoder
	dec        *zstd.Decoder
	dataOffset int64 // start of entry stream (after header)
	size       int64 // bytes written including header
	lsn        uint64
	truncated  int64 // bytes dropped from a torn tail on open

	durabilityMode    DurabilityMode
	groupCommitMaxOps int
	groupCommitTicker *time.Ticker
	groupCommitStopCh chan struct{}
	groupCommitWg     sync.WaitGroup
	pending           int
	persistedLSN      uint64
	syncCond          *sync.Cond

	// failure is terminal: once a write or fsync failed the on-disk state is
	// unknown and every later append is refused.
	failure error
	closed  bool
}

// Open opens or creates the WAL described by the options.
//
// An existing file is validated and scanned; a damaged tail left by a crash
// mid-append is truncated away.
func Open(optFns ...func(o *Options)) (*WAL, error) {
	opts := DefaultOptions
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.FS == nil {
		opts.FS = fs.Default
	}
	if opts.Codec == nil {
		opts.Codec = DefaultOptions.Codec
	}
	if opts.FileName == "" {
		opts.FileName = DefaultOptions.FileName
	}
	if opts.GroupCommitMaxOps <= 0 {
		opts.GroupCommitMaxOps = DefaultOptions.GroupCommitMaxOps
	}

	if err := opts.FS.MkdirAll(opts.Path, 0750); err != nil {
		return nil, fmt.Errorf("failed to create WAL directory: %w", err)
	}

	filePath := filepath.Join(opts.Path, opts.FileName)
	file, err := opts.FS.OpenFile(filePath, os.O_CREATE|os.O_RDWR, 0600)
	if err != nil {
		return nil, fmt.Errorf("failed to open WAL file: %w", err)
	}
	st, err := file.Stat()
	if err != nil {
		_ = file.Close()
		return nil, fmt.Errorf("failed to stat WAL file: %w", err)
	}

	w := &WAL{
		fs:                opts.FS,
		file:              file,
		filePath:          filePath,
		codec:             opts.Codec,
		compressed:        opts.Compress,
		level:             opts.CompressionLevel,
		durabilityMode:    opts.DurabilityMode,
		groupCommitMaxOps: opts.GroupCommitMaxOps,
	}
	w.syncCond = sync.NewCond(&w.mu)

	if st.Size() == 0 {
		err = w.writeNewHeader()
	} else {
		err = w.readExistingHeader()
	}
	if err != nil {
		_ = file.Close()
		return nil, err
	}

	if w.dec, err = zstd.NewReader(nil); err != nil {
		_ = file.Close()
		return nil, fmt.Errorf("failed to create decompressor: %w", err)
	}
	if w.compressed {
		level := zstd.EncoderLevelFromZstd(w.level)
		if w.enc, err = zstd.NewWriter(nil, zstd.WithEncoderLevel(level)); err != nil {
			w.dec.Close()
			_ = file.Close()
			return nil, fmt.Errorf("failed to create compressor: %w", err)
		}
	}

	if err := w.recover(max(st.Size(), w.dataOffset)); err != nil {
		w.closeCodecs()
		_ = file.Close()
		return nil, err
	}
	w.persistedLSN = w.lsn
	w.bufWriter = bufio.NewWriter(w.file)

	if w.durabilityMode == DurabilityGroupCommit && opts.GroupCommitInterval > 0 {
		w.groupCommitStopCh = make(chan struct{})
		w.groupCommitTicker = time.NewTicker(opts.GroupCommitInterval)
		w.groupCommitWg.Add(1)
		go w.groupCommitWorker()
	}

	return w, nil
}

func (w *WAL) writeNewHeader() error {
	hdrLen, err := writeWALHeader(w.file, walHeaderInfo{
		Compressed:       w.compressed,
		CompressionLevel: w.level,
		Codec:            w.codec.Name(),
	})
	if err != nil {
		return err
	}
	if err := w.file.Sync(); err != nil {
		return fmt.Errorf("failed to sync WAL header: %w", err)
	}
	w.dataOffset = hdrLen
	return nil
}

func (w *WAL) readExistingHeader() error {
	hdr, err := readWALHeader(w.file)
	if err != nil {
		return fmt.Errorf("failed to read WAL header: %w", err)
	}
	c, ok := codec.ByName(hdr.Codec)
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownCodec, hdr.Codec)
	}
	w.codec = c
	w.compressed = hdr.Compressed
	w.level = hdr.CompressionLevel
	w.dataOffset = hdr.HeaderLen
	return nil
}

// recover scans the entry stream, restores the LSN counter and truncates a
// damaged tail. It leaves the file positioned for appending.
func (w *WAL) recover(fileSize int64) error {
	validEnd := w.dataOffset
	err := w.scanFrames(fileSize, func(f frame, end int64) error {
		if f.LSN > w.lsn {
			w.lsn = f.LSN
		}
		validEnd = end
		return nil
	})
	if err != nil && !errors.Is(err, ErrCorrupt) {
		return fmt.Errorf("failed to scan WAL: %w", err)
	}

	if validEnd < fileSize {
		if err := w.fs.Truncate(w.filePath, validEnd); err != nil {
			return fmt.Errorf("failed to truncate WAL tail: %w", err)
		}
		w.truncated = fileSize - validEnd
	}
	w.size = validEnd

	if _, err := w.file.Seek(validEnd, io.SeekStart); err != nil {
		return fmt.Errorf("failed to seek WAL end: %w", err)
	}
	return nil
}

// scanFrames calls fn for every intact frame between the header and limit,
// passing the offset just past the frame. It stops at the first damaged frame
// and returns its ErrCorrupt error.
func (w *WAL) scanFrames(limit int64, fn func(f frame, end int64) error) error {
	r := bufio.NewReader(io.NewSectionReader(w.file, w.dataOffset, limit-w.dataOffset))
	offset := w.dataOffset
	for {
		f, err := decodeFrame(r)
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}
		offset += f.size()
		if err := fn(f, offset); err != nil {
			return err
		}
	}
}

// Append journals e and waits for the configured durability before returning.
// The assigned LSN is stored in e.LSN and returned.
func (w *WAL) Append(ctx context.Context, e *Entry) (uint64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if e.Type < OpInsert || e.Type > OpDelete {
		return 0, fmt.Errorf("%w: %s", ErrInvalidType, e.Type)
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	if err := w.usableLocked(); err != nil {
		return 0, err
	}

	lsn, err := w.appendLocked(e)
	if err != nil {
		return 0, err
	}
	return lsn, w.syncIfNeeded(lsn)
}

func (w *WAL) usableLocked() error {
	if w.closed {
		return ErrClosed
	}
	return w.failure
}

func (w *WAL) appendLocked(e *Entry) (uint64, error) {
	e.LSN = w.lsn + 1
	f, err := w.encodeEntry(e)
	if err != nil {
		return 0, err
	}

	if err := f.encode(w.bufWriter); err != nil {
		w.failure = fmt.Errorf("wal write failed: %w", err)
		return 0, w.failure
	}
	if err := w.bufWriter.Flush(); err != nil {
		w.failure = fmt.Errorf("wal write failed: %w", err)
		return 0, w.failure
	}

	w.lsn = e.LSN
	w.size += f.size()
	return e.LSN, nil
}

// syncIfNeeded performs fsync based on the configured durability mode.
// Caller must hold w.mu.
func (w *WAL) syncIfNeeded(lsn uint64) error {
	switch w.durabilityMode {
	case DurabilityAsync:
		return nil

	case DurabilitySync:
		if err := w.file.Sync(); err != nil {
			w.failure = fmt.Errorf("wal sync failed: %w", err)
			return w.failure
		}
		w.persistedLSN = lsn
		return nil

	case DurabilityGroupCommit:
		w.pending++
		if w.pending >= w.groupCommitMaxOps || w.groupCommitTicker == nil {
			return w.doGroupCommit()
		}
		// Wait releases w.mu so the worker (or another writer) can sync.
		for w.persistedLSN < lsn && w.failure == nil && !w.closed {
			w.syncCond.Wait()
		}
		if w.failure != nil {
			return w.failure
		}
		if w.persistedLSN < lsn {
			return ErrClosed
		}
		return nil

	default:
		return nil
	}
}

// doGroupCommit performs the actual fsync and resets the pending counter.
// Caller must hold w.mu.
func (w *WAL) doGroupCommit() error {
	if w.pending == 0 || w.failure != nil {
		return w.failure
	}

	if err := w.file.Sync(); err != nil {
		w.failure = fmt.Errorf("wal sync failed: %w", err)
		w.syncCond.Broadcast()
		return w.failure
	}

	w.pending = 0
	w.persistedLSN = w.lsn
	w.syncCond.Broadcast()
	return nil
}

// groupCommitWorker runs in a background goroutine and performs periodic fsync.
func (w *WAL) groupCommitWorker() {
	defer w.groupCommitWg.Done()

	for {
		select {
		case <-w.groupCommitStopCh:
			return
		case <-w.groupCommitTicker.C:
			w.mu.Lock()
			_ = w.doGroupCommit()
			w.mu.Unlock()
		}
	}
}

// Sync flushes and fsyncs everything appended so far.
func (w *WAL) Sync() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if err := w.usableLocked(); err != nil {
		return err
	}
	if err := w.file.Sync(); err != nil {
		w.failure = fmt.Errorf("wal sync failed: %w", err)
		w.syncCond.Broadcast()
		return w.failure
	}
	w.pending = 0
	w.persistedLSN = w.lsn
	w.syncCond.Broadcast()
	return nil
}

// Checkpoint discards every entry up to and including lsn. It must only be
// called once a snapshot covering lsn is durable.
//
// The journal is truncated to its header followed by a checkpoint marker, so
// LSNs keep increasing across checkpoints and restarts.
func (w *WAL) Checkpoint(lsn uint64) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if err := w.usableLocked(); err != nil {
		return err
	}
	if lsn < w.lsn {
		// Later entries are not covered by the snapshot.
		return nil
	}

	if err := w.fs.Truncate(w.filePath, w.dataOffset); err != nil {
		w.failure = fmt.Errorf("wal truncate failed: %w", err)
		return w.failure
	}
	if _, err := w.file.Seek(w.dataOffset, io.SeekStart); err != nil {
		w.failure = fmt.Errorf("wal seek failed: %w", err)
		return w.failure
	}
	w.bufWriter.Reset(w.file)
	w.size = w.dataOffset

	marker := frame{Type: OpCheckpoint, LSN: lsn}
	if err := marker.encode(w.bufWriter); err != nil {
		w.failure = fmt.Errorf("wal write failed: %w", err)
		return w.failure
	}
	if err := w.bufWriter.Flush(); err != nil {
		w.failure = fmt.Errorf("wal write failed: %w", err)
		return w.failure
	}
	w.size += marker.size()
	w.lsn = lsn

	if err := w.file.Sync(); err != nil {
		w.failure = fmt.Errorf("wal sync failed: %w", err)
		return w.failure
	}
	w.pending = 0
	w.persistedLSN = w.lsn
	w.syncCond.Broadcast()
	return nil
}

// LastLSN returns the LSN of the latest appended entry.
func (w *WAL) LastLSN() uint64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.lsn
}

// Size returns the current size of the WAL in bytes.
func (w *WAL) Size() int64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.size
}

// TruncatedBytes reports how many bytes of a damaged tail were dropped on open.
func (w *WAL) TruncatedBytes() int64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.truncated
}

// FilePath returns the path to the WAL file.
func (w *WAL) FilePath() string {
	return w.filePath
}

// Close stops the group commit worker, performs a final fsync and closes the file.
// Close is idempotent.
func (w *WAL) Close() error {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return nil
	}

	if w.groupCommitTicker != nil {
		close(w.groupCommitStopCh)
		w.mu.Unlock()
		w.groupCommitWg.Wait() // ensures no goroutine leak
		w.mu.Lock()
		w.groupCommitTicker.Stop()
		w.groupCommitTicker = nil
	}

	var errs []error
	if w.failure == nil {
		if err := w.bufWriter.Flush(); err != nil {
			errs = append(errs, fmt.Errorf("failed to flush buffer: %w", err))
		} else if w.durabilityMode != DurabilityAsync {
			if err := w.file.Sync(); err != nil {
				errs = append(errs, fmt.Errorf("final sync failed: %w", err))
			} else {
				w.persistedLSN = w.lsn
			}
		}
	}

	w.closed = true
	w.syncCond.Broadcast()
	w.closeCodecs()
	errs = append(errs, w.file.Close())
	w.mu.Unlock()

	return errors.Join(errs...)
}

func (w *WAL) closeCodecs() {
	if w.enc != nil {
		_ = w.enc.Close()
	}
	if w.dec != nil {
		w.dec.Close()
	}
}

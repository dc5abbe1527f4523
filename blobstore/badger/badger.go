// Package badger implements blobstore.BlobStore on an embedded BadgerDB.
//
// Every blob is stored as a single value, so it suits snapshot sizes that fit
// in memory on a node that has no object store at hand.
package badger

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"

	badgerdb "github.com/dgraph-io/badger/v4"

	"github.com/hupe1980/vectorize/blobstore"
)

const keyPrefix = "blob/"

// Options configures the store.
type Options struct {
	// Dir is the directory for BadgerDB data files. Required unless InMemory.
	Dir string

	// InMemory runs BadgerDB without disk persistence.
	InMemory bool

	// Logger receives badger warnings and errors. Nil uses slog.Default.
	Logger *slog.Logger
}

// Store implements blobstore.BlobStore on BadgerDB.
type Store struct {
	db *badgerdb.DB
}

var _ blobstore.BlobStore = (*Store)(nil)

// Open opens or creates a badger database.
func Open(opts Options) (*Store, error) {
	if !opts.InMemory && opts.Dir == "" {
		return nil, errors.New("badger: Dir is required for on-disk mode")
	}

	dbOpts := badgerdb.DefaultOptions(opts.Dir)
	if opts.InMemory {
		dbOpts = dbOpts.WithDir("").WithValueDir("").WithInMemory(true)
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	dbOpts = dbOpts.WithLogger(slogAdapter{logger.With("component", "badger")})

	db, err := badgerdb.Open(dbOpts)
	if err != nil {
		return nil, err
	}
	return &Store{db: db}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

func key(name string) []byte {
	return []byte(keyPrefix + name)
}

// Open reads the blob into memory and returns a handle over it.
func (s *Store) Open(_ context.Context, name string) (blobstore.Blob, error) {
	var val []byte
	err := s.db.View(func(txn *badgerdb.Txn) error {
		item, err := txn.Get(key(name))
		if err != nil {
			return err
		}
		val, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badgerdb.ErrKeyNotFound) {
		return nil, blobstore.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &blob{data: val}, nil
}

// Create buffers writes and stores the blob on Close.
func (s *Store) Create(_ context.Context, name string) (blobstore.WritableBlob, error) {
	return &writableBlob{store: s, name: name}, nil
}

// Put writes a blob in a single transaction.
func (s *Store) Put(_ context.Context, name string, data []byte) error {
	return s.db.Update(func(txn *badgerdb.Txn) error {
		return txn.Set(key(name), bytes.Clone(data))
	})
}

// Delete removes a blob.
func (s *Store) Delete(_ context.Context, name string) error {
	err := s.db.Update(func(txn *badgerdb.Txn) error {
		return txn.Delete(key(name))
	})
	if errors.Is(err, badgerdb.ErrKeyNotFound) {
		return nil
	}
	return err
}

// List returns the names with the given prefix in key order.
func (s *Store) List(ctx context.Context, prefix string) ([]string, error) {
	p := key(prefix)
	var names []string
	err := s.db.View(func(txn *badgerdb.Txn) error {
		iterOpts := badgerdb.DefaultIteratorOptions
		iterOpts.PrefetchValues = false
		iterOpts.Prefix = p
		it := txn.NewIterator(iterOpts)
		defer it.Close()

		for it.Seek(p); it.ValidForPrefix(p); it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			names = append(names, string(it.Item().Key()[len(keyPrefix):]))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return names, nil
}

type blob struct {
	data []byte
}

func (b *blob) ReadAt(_ context.Context, p []byte, off int64) (int, error) {
	if off >= int64(len(b.data)) {
		return 0, io.EOF
	}
	n := copy(p, b.data[off:])
	if n < len(p) {
		return n, io.EOF
	}
	return n, nil
}

func (b *blob) ReadRange(_ context.Context, off, length int64) (io.ReadCloser, error) {
	if off >= int64(len(b.data)) {
		return io.NopCloser(bytes.NewReader(nil)), nil
	}
	end := min(off+length, int64(len(b.data)))
	return io.NopCloser(bytes.NewReader(b.data[off:end])), nil
}

func (b *blob) Size() int64  { return int64(len(b.data)) }
func (b *blob) Close() error { return nil }

type writableBlob struct {
	store   *Store
	name    string
	buf     bytes.Buffer
	aborted bool
}

func (w *writableBlob) Write(p []byte) (int, error) {
	return w.buf.Write(p)
}

func (w *writableBlob) Close() error {
	if w.aborted {
		return nil
	}
	return w.store.db.Update(func(txn *badgerdb.Txn) error {
		return txn.Set(key(w.name), w.buf.Bytes())
	})
}

func (w *writableBlob) Abort() error {
	w.aborted = true
	w.buf.Reset()
	return nil
}

func (w *writableBlob) Sync() error { return nil }

// slogAdapter routes badger logs to slog, dropping debug and info chatter.
type slogAdapter struct {
	l *slog.Logger
}

func (a slogAdapter) Errorf(f string, v ...any)   { a.l.Error(trimf(f, v...)) }
func (a slogAdapter) Warningf(f string, v ...any) { a.l.Warn(trimf(f, v...)) }
func (a slogAdapter) Infof(string, ...any)        {}
func (a slogAdapter) Debugf(string, ...any)       {}

package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"

	json "github.com/goccy/go-json"

	"github.com/hupe1980/vectorize"
	"github.com/hupe1980/vectorize/blobstore"
	"github.com/hupe1980/vectorize/distance"
	"github.com/hupe1980/vectorize/wal"
)

const (
	snapshotSuffix = ".snap"
	descriptorFile = "index.json"
)

var (
	// ErrIndexExists is returned when creating an index whose name is taken.
	ErrIndexExists = errors.New("server: index already exists")

	// ErrIndexNotFound is returned for an unknown index name.
	ErrIndexNotFound = errors.New("server: index not found")

	// ErrSnapshotsDisabled is returned when no snapshot store is configured.
	ErrSnapshotsDisabled = errors.New("server: snapshots are not configured")

	validName = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_-]{0,63}$`)
)

// RegistryConfig controls how indexes are created, journaled and snapshotted.
type RegistryConfig struct {
	// DataDir holds one journal directory per index. Empty keeps indexes in
	// memory only.
	DataDir string

	// WAL tunes every journal opened below DataDir.
	WAL []func(*wal.Options)

	// IndexOptions apply to every index.
	IndexOptions []vectorize.Option

	// Snapshots stores one snapshot per index. Nil disables snapshots.
	Snapshots blobstore.BlobStore

	// SnapshotOptions apply to every snapshot written by the registry.
	SnapshotOptions []vectorize.SnapshotOption

	Logger *slog.Logger
}

// Registry owns the named indexes served over HTTP. It is safe for
// concurrent use.
type Registry struct {
	cfg    RegistryConfig
	logger *slog.Logger

	mu      sync.RWMutex
	indexes map[string]*vectorize.Index
}

// NewRegistry creates an empty registry.
func NewRegistry(cfg RegistryConfig) *Registry {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Registry{
		cfg:     cfg,
		logger:  logger.With("component", "registry"),
		indexes: make(map[string]*vectorize.Index),
	}
}

func snapshotName(index string) string { return index + snapshotSuffix }

func (r *Registry) indexOptions(name string) []vectorize.Option {
	opts := append([]vectorize.Option(nil), r.cfg.IndexOptions...)
	if r.cfg.DataDir != "" {
		opts = append(opts, vectorize.WithWAL(filepath.Join(r.cfg.DataDir, name), r.cfg.WAL...))
	}
	return opts
}

// Create opens the index described by cfg. A stored snapshot of the same
// name is restored, and its journal replayed, before the index is served.
func (r *Registry) Create(ctx context.Context, cfg vectorize.Config) (*vectorize.Index, error) {
	if !validName.MatchString(cfg.Name) {
		return nil, fmt.Errorf("%w: index name %q must match %s", vectorize.ErrInvalidConfig, cfg.Name, validName)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.indexes[cfg.Name]; ok {
		return nil, fmt.Errorf("%w: %s", ErrIndexExists, cfg.Name)
	}

	idx, err := r.open(ctx, cfg)
	if err != nil {
		return nil, err
	}
	if err := r.writeDescriptor(cfg); err != nil {
		_ = idx.Close()
		return nil, err
	}

	r.indexes[cfg.Name] = idx
	r.logger.InfoContext(ctx, "index created",
		"index", cfg.Name,
		"dimensions", idx.Describe().Dimensions,
		"metric", idx.Describe().Metric,
	)
	return idx, nil
}

func (r *Registry) open(ctx context.Context, cfg vectorize.Config) (*vectorize.Index, error) {
	opts := r.indexOptions(cfg.Name)
	if r.cfg.Snapshots == nil {
		return vectorize.New(ctx, cfg, opts...)
	}

	idx, err := vectorize.Restore(ctx, r.cfg.Snapshots, snapshotName(cfg.Name), opts...)
	if errors.Is(err, blobstore.ErrNotFound) {
		return vectorize.New(ctx, cfg, opts...)
	}
	if err != nil {
		return nil, err
	}

	if err := checkShape(cfg, idx.Describe()); err != nil {
		_ = idx.Close()
		return nil, err
	}
	return idx, nil
}

// checkShape rejects a stored index whose shape differs from cfg.
func checkShape(cfg vectorize.Config, info vectorize.Info) error {
	dim := cfg.Dimensions
	if dim == 0 && cfg.Preset != "" {
		dim, _ = cfg.Preset.Dimensions()
	}
	if info.Dimensions != dim {
		return &vectorize.ErrDimensionMismatch{Expected: info.Dimensions, Actual: dim}
	}
	if want, _ := distance.ParseMetric(cfg.Metric); info.Metric != want.String() {
		return fmt.Errorf("%w: index %q is stored with metric %q, got %q",
			vectorize.ErrInvalidConfig, cfg.Name, info.Metric, cfg.Metric)
	}
	return nil
}

func (r *Registry) writeDescriptor(cfg vectorize.Config) error {
	if r.cfg.DataDir == "" {
		return nil
	}
	dir := filepath.Join(r.cfg.DataDir, cfg.Name)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("%w: %w", vectorize.ErrUnavailable, err)
	}
	data, err := json.Marshal(cfg)
	if err != nil {
		return err
	}
	if err := os.WriteFile(filepath.Join(dir, descriptorFile), data, 0o644); err != nil {
		return fmt.Errorf("%w: %w", vectorize.ErrUnavailable, err)
	}
	return nil
}

// Load reopens every index found in DataDir or the snapshot store.
func (r *Registry) Load(ctx context.Context) error {
	cfgs, err := r.discover(ctx)
	if err != nil {
		return err
	}

	var errs []error
	for _, cfg := range cfgs {
		if _, err := r.Create(ctx, cfg); err != nil && !errors.Is(err, ErrIndexExists) {
			errs = append(errs, fmt.Errorf("load index %q: %w", cfg.Name, err))
		}
	}
	return errors.Join(errs...)
}

func (r *Registry) discover(ctx context.Context) ([]vectorize.Config, error) {
	found := make(map[string]vectorize.Config)

	if r.cfg.DataDir != "" {
		entries, err := os.ReadDir(r.cfg.DataDir)
		if err != nil && !errors.Is(err, os.ErrNotExist) {
			return nil, err
		}
		for _, e := range entries {
			if !e.IsDir() {
				continue
			}
			data, err := os.ReadFile(filepath.Join(r.cfg.DataDir, e.Name(), descriptorFile))
			if errors.Is(err, os.ErrNotExist) {
				continue
			}
			if err != nil {
				return nil, err
			}
			var cfg vectorize.Config
			if err := json.Unmarshal(data, &cfg); err != nil {
				return nil, fmt.Errorf("decode %s descriptor: %w", e.Name(), err)
			}
			found[cfg.Name] = cfg
		}
	}

	if r.cfg.Snapshots != nil {
		names, err := r.cfg.Snapshots.List(ctx, "")
		if err != nil {
			return nil, err
		}
		for _, n := range names {
			name, ok := strings.CutSuffix(n, snapshotSuffix)
			if !ok || !validName.MatchString(name) {
				continue
			}
			if _, ok := found[name]; ok {
				continue
			}
			cfg, err := r.describeSnapshot(ctx, name)
			if err != nil {
				return nil, err
			}
			found[name] = cfg
		}
	}

	cfgs := make([]vectorize.Config, 0, len(found))
	for _, cfg := range found {
		cfgs = append(cfgs, cfg)
	}
	sort.Slice(cfgs, func(i, j int) bool { return cfgs[i].Name < cfgs[j].Name })
	return cfgs, nil
}

// describeSnapshot reads the shape of a snapshot without a descriptor.
func (r *Registry) describeSnapshot(ctx context.Context, name string) (vectorize.Config, error) {
	idx, err := vectorize.Restore(ctx, r.cfg.Snapshots, snapshotName(name))
	if err != nil {
		return vectorize.Config{}, err
	}
	defer idx.Close()

	info := idx.Describe()
	return vectorize.Config{Name: name, Dimensions: info.Dimensions, Metric: info.Metric}, nil
}

// Get returns the named index.
func (r *Registry) Get(name string) (*vectorize.Index, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	idx, ok := r.indexes[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrIndexNotFound, name)
	}
	return idx, nil
}

// List describes every index, ordered by name.
func (r *Registry) List() []vectorize.Info {
	r.mu.RLock()
	defer r.mu.RUnlock()

	infos := make([]vectorize.Info, 0, len(r.indexes))
	for _, idx := range r.indexes {
		infos = append(infos, idx.Describe())
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].Name < infos[j].Name })
	return infos
}

// Delete closes the named index and removes its journal and snapshot.
func (r *Registry) Delete(ctx context.Context, name string) error {
	r.mu.Lock()
	idx, ok := r.indexes[name]
	delete(r.indexes, name)
	r.mu.Unlock()

	if !ok {
		return fmt.Errorf("%w: %s", ErrIndexNotFound, name)
	}

	errs := []error{idx.Close()}
	if r.cfg.DataDir != "" {
		errs = append(errs, os.RemoveAll(filepath.Join(r.cfg.DataDir, name)))
	}
	if r.cfg.Snapshots != nil {
		errs = append(errs, r.cfg.Snapshots.Delete(ctx, snapshotName(name)))
	}

	err := errors.Join(errs...)
	r.logger.InfoContext(ctx, "index deleted", "index", name, "error", err)
	return err
}

// Snapshot writes the named index to the snapshot store. With a journal the
// snapshot becomes a checkpoint and the journal is truncated.
func (r *Registry) Snapshot(ctx context.Context, name string) (vectorize.SnapshotInfo, error) {
	if r.cfg.Snapshots == nil {
		return vectorize.SnapshotInfo{}, ErrSnapshotsDisabled
	}
	idx, err := r.Get(name)
	if err != nil {
		return vectorize.SnapshotInfo{}, err
	}
	return idx.Snapshot(ctx, r.cfg.Snapshots, snapshotName(name), r.snapshotOptions()...)
}

func (r *Registry) snapshotOptions() []vectorize.SnapshotOption {
	opts := append([]vectorize.SnapshotOption(nil), r.cfg.SnapshotOptions...)
	if r.cfg.DataDir != "" {
		opts = append(opts, vectorize.WithCheckpoint())
	}
	return opts
}

// SnapshotAll snapshots every index. Failures are collected, not fatal.
func (r *Registry) SnapshotAll(ctx context.Context) error {
	if r.cfg.Snapshots == nil {
		return nil
	}

	r.mu.RLock()
	names := make([]string, 0, len(r.indexes))
	for name := range r.indexes {
		names = append(names, name)
	}
	r.mu.RUnlock()
	sort.Strings(names)

	var errs []error
	for _, name := range names {
		if _, err := r.Snapshot(ctx, name); err != nil && !errors.Is(err, ErrIndexNotFound) {
			errs = append(errs, fmt.Errorf("snapshot %q: %w", name, err))
		}
	}
	return errors.Join(errs...)
}

// RunSnapshots snapshots every index each interval until ctx is done.
func (r *Registry) RunSnapshots(ctx context.Context, interval time.Duration) {
	if r.cfg.Snapshots == nil || interval <= 0 {
		return
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := r.SnapshotAll(ctx); err != nil {
				r.logger.WarnContext(ctx, "periodic snapshot failed", "error", err)
			}
		}
	}
}

// Close snapshots and closes every index.
func (r *Registry) Close(ctx context.Context) error {
	errs := []error{r.SnapshotAll(ctx)}

	r.mu.Lock()
	for name, idx := range r.indexes {
		errs = append(errs, idx.Close())
		delete(r.indexes, name)
	}
	r.mu.Unlock()

	return errors.Join(errs...)
}


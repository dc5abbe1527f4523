package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awss3 "github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/hupe1980/vectorize"
	"github.com/hupe1980/vectorize/blobstore"
	"github.com/hupe1980/vectorize/blobstore/badger"
	"github.com/hupe1980/vectorize/blobstore/minio"
	"github.com/hupe1980/vectorize/blobstore/s3"
	"github.com/hupe1980/vectorize/codec"
	"github.com/hupe1980/vectorize/internal/config"
	"github.com/hupe1980/vectorize/internal/server"
	"github.com/hupe1980/vectorize/model"
	"github.com/hupe1980/vectorize/observability"
	"github.com/hupe1980/vectorize/wal"
)

// Service holds all wired subsystems and manages their lifecycle.
type Service struct {
	Server   *server.Server
	Registry *server.Registry
	Logger   *vectorize.Logger

	snapshotInterval time.Duration
	closers          []io.Closer
}

// WireService creates the registry, snapshot store and HTTP server from cfg.
func WireService(ctx context.Context, cfg *config.Config, out io.Writer) (*Service, error) {
	logger, err := newLogger(cfg.Log, out)
	if err != nil {
		return nil, err
	}

	promReg := prometheus.NewRegistry()
	promReg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	collector := observability.NewPrometheusCollector(promReg)

	svc := &Service{Logger: logger, snapshotInterval: cfg.Snapshot.Interval}

	store, closer, err := openSnapshotStore(ctx, cfg.Snapshot, logger.Logger)
	if err != nil {
		return nil, fmt.Errorf("opening snapshot store: %w", err)
	}
	if closer != nil {
		svc.closers = append(svc.closers, closer)
	}

	regCfg, err := registryConfig(cfg, logger, collector)
	if err != nil {
		svc.closeStores()
		return nil, err
	}
	regCfg.Snapshots = store
	svc.Registry = server.NewRegistry(regCfg)

	if err := svc.Registry.Load(ctx); err != nil {
		svc.closeStores()
		return nil, fmt.Errorf("loading indexes: %w", err)
	}
	for _, ic := range cfg.Indexes {
		_, err := svc.Registry.Create(ctx, vectorize.Config{
			Name:       ic.Name,
			Dimensions: ic.Dimensions,
			Metric:     ic.Metric,
			Preset:     model.KnownModel(ic.Preset),
		})
		if err != nil && !errors.Is(err, server.ErrIndexExists) {
			_ = svc.Registry.Close(ctx)
			svc.closeStores()
			return nil, fmt.Errorf("creating index %q: %w", ic.Name, err)
		}
	}

	svc.Server, err = server.New(server.Config{
		ListenAddr:      cfg.Server.Listen,
		ReadTimeout:     cfg.Server.ReadTimeout,
		WriteTimeout:    cfg.Server.WriteTimeout,
		ShutdownTimeout: cfg.Server.ShutdownTimeout,
		MaxBodyBytes:    cfg.Server.MaxBodyBytes,
		Gatherer:        promReg,
		Logger:          logger.Logger,
	}, svc.Registry)
	if err != nil {
		_ = svc.Registry.Close(ctx)
		svc.closeStores()
		return nil, err
	}

	return svc, nil
}

// Run serves until ctx is cancelled, then snapshots and closes every index.
func (s *Service) Run(ctx context.Context) error {
	go s.Registry.RunSnapshots(ctx, s.snapshotInterval)

	serveErr := s.Server.Start(ctx)

	closeErr := s.Registry.Close(context.WithoutCancel(ctx))
	s.closeStores()

	return errors.Join(serveErr, closeErr)
}

func (s *Service) closeStores() {
	for _, c := range s.closers {
		if err := c.Close(); err != nil {
			s.Logger.Warn("closing snapshot store", "error", err)
		}
	}
	s.closers = nil
}

func newLogger(cfg config.LogConfig, out io.Writer) (*vectorize.Logger, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
		return nil, fmt.Errorf("log level: %w", err)
	}
	opts := &slog.HandlerOptions{Level: level}

	if cfg.Format == "json" {
		return vectorize.NewLogger(slog.NewJSONHandler(out, opts)), nil
	}
	return vectorize.NewLogger(slog.NewTextHandler(out, opts)), nil
}

func registryConfig(cfg *config.Config, logger *vectorize.Logger, mc vectorize.MetricsCollector) (server.RegistryConfig, error) {
	c, ok := codec.ByName(cfg.Data.Codec)
	if !ok {
		return server.RegistryConfig{}, fmt.Errorf("unknown codec %q", cfg.Data.Codec)
	}
	mode, ok := wal.ParseDurabilityMode(cfg.Data.Durability)
	if !ok {
		return server.RegistryConfig{}, fmt.Errorf("unknown durability mode %q", cfg.Data.Durability)
	}

	return server.RegistryConfig{
		DataDir: cfg.Data.Dir,
		WAL: []func(*wal.Options){func(o *wal.Options) {
			o.Codec = c
			o.Compress = cfg.Data.Compress
			o.DurabilityMode = mode
		}},
		IndexOptions: []vectorize.Option{
			vectorize.WithLogger(logger),
			vectorize.WithMetricsCollector(mc),
			vectorize.WithLimits(vectorize.Limits{
				MemoryLimitBytes:     cfg.Limits.MemoryBytes,
				MaxConcurrentQueries: cfg.Limits.MaxConcurrentQueries,
				MutationsPerSecond:   cfg.Limits.MutationsPerSecond,
				MutationBurst:        cfg.Limits.MutationBurst,
				IOLimitBytesPerSec:   cfg.Limits.IOBytesPerSecond,
			}),
			vectorize.WithGraphOptions(vectorize.GraphOptions{
				M:        cfg.Graph.M,
				EF:       cfg.Graph.EF,
				EFSearch: cfg.Graph.EFSearch,
			}),
			vectorize.WithMaxTopK(cfg.Query.MaxTopK),
			vectorize.WithBruteForceThreshold(cfg.Query.BruteForceThreshold),
		},
		SnapshotOptions: []vectorize.SnapshotOption{
			vectorize.WithSnapshotCodec(c),
			vectorize.WithCompression(cfg.Snapshot.Compression, 0),
		},
		Logger: logger.Logger,
	}, nil
}

// openSnapshotStore returns the configured store, or nil for backend "none".
// The closer is non-nil when the store holds resources of its own.
func openSnapshotStore(ctx context.Context, cfg config.SnapshotConfig, logger *slog.Logger) (blobstore.BlobStore, io.Closer, error) {
	switch cfg.Backend {
	case "", "none":
		return nil, nil, nil
	case "local":
		return blobstore.NewLocalStore(cfg.Dir), nil, nil
	case "badger":
		st, err := badger.Open(badger.Options{Dir: cfg.Dir, Logger: logger})
		if err != nil {
			return nil, nil, err
		}
		return st, st, nil
	case "s3":
		st, err := s3.New(ctx, cfg.Bucket, cfg.Prefix, func(o *awss3.Options) {
			if cfg.Region != "" {
				o.Region = cfg.Region
			}
			if cfg.Endpoint != "" {
				o.BaseEndpoint = aws.String(cfg.Endpoint)
				o.UsePathStyle = true
			}
		})
		if err != nil {
			return nil, nil, err
		}
		return st, nil, nil
	case "minio":
		st, err := minio.New(cfg.Endpoint, cfg.Bucket, minio.Options{
			AccessKey: cfg.AccessKey,
			SecretKey: cfg.SecretKey,
			Region:    cfg.Region,
			UseSSL:    cfg.UseSSL,
			Prefix:    cfg.Prefix,
		})
		if err != nil {
			return nil, nil, err
		}
		if err := st.EnsureBucket(ctx); err != nil {
			return nil, nil, err
		}
		return st, nil, nil
	default:
		return nil, nil, fmt.Errorf("unknown snapshot backend %q", cfg.Backend)
	}
}

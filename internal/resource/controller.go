package resource

import (
	"context"
	"errors"
	"io"
	"sync/atomic"

	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"
)

var (
	// ErrMemoryLimitExceeded is returned when memory limit would be exceeded.
	ErrMemoryLimitExceeded = errors.New("memory limit exceeded")

	// ErrRateLimited is returned when the mutation rate limit is exhausted.
	ErrRateLimited = errors.New("mutation rate limit exceeded")

	// ErrQueryLimit is returned when no query slot became free before the deadline.
	ErrQueryLimit = errors.New("query concurrency limit reached")
)

// Config holds resource limits.
type Config struct {
	// MemoryLimitBytes is the hard limit for stored vector bytes.
	// If 0, no hard limit is enforced (only tracking).
	MemoryLimitBytes int64

	// MaxConcurrentQueries bounds in-flight queries. If 0, unlimited.
	MaxConcurrentQueries int64

	// MutationsPerSecond is the sustained rate of mutation calls. If 0, unlimited.
	MutationsPerSecond float64

	// MutationBurst is the token bucket size for mutations. Defaults to 1.
	MutationBurst int

	// IOLimitBytesPerSec caps snapshot IO throughput. If 0, unlimited.
	IOLimitBytesPerSec int64
}

// Controller manages index-wide resources (memory, concurrency, rates).
type Controller struct {
	cfg Config

	// Memory
	memSem  *semaphore.Weighted // nil if unlimited
	memUsed atomic.Int64

	// Concurrency
	querySem *semaphore.Weighted // nil if unlimited

	// Rates
	mutLimiter *rate.Limiter
	ioLimiter  *rate.Limiter
}

// NewController creates a new resource controller.
func NewController(cfg Config) *Controller {
	if cfg.MutationBurst <= 0 {
		cfg.MutationBurst = 1
	}

	c := &Controller{cfg: cfg}

	if cfg.MemoryLimitBytes > 0 {
		c.memSem = semaphore.NewWeighted(cfg.MemoryLimitBytes)
	}

	if cfg.MaxConcurrentQueries > 0 {
		c.querySem = semaphore.NewWeighted(cfg.MaxConcurrentQueries)
	}

	if cfg.MutationsPerSecond > 0 {
		c.mutLimiter = rate.NewLimiter(rate.Limit(cfg.MutationsPerSecond), cfg.MutationBurst)
	}

	if cfg.IOLimitBytesPerSec > 0 {
		c.ioLimiter = rate.NewLimiter(rate.Limit(cfg.IOLimitBytesPerSec), int(cfg.IOLimitBytesPerSec))
	}

	return c
}

// AcquireMemory attempts to reserve memory.
// Returns ErrMemoryLimitExceeded if limit would be exceeded.
// Non-blocking - callers control retry/backoff policy.
func (c *Controller) AcquireMemory(bytes int64) error {
	if c == nil || bytes <= 0 {
		return nil
	}

	if c.memSem != nil {
		if !c.memSem.TryAcquire(bytes) {
			return ErrMemoryLimitExceeded
		}
	}

	c.memUsed.Add(bytes)
	return nil
}

// ReleaseMemory releases reserved memory.
func (c *Controller) ReleaseMemory(bytes int64) {
	if c == nil || bytes <= 0 {
		return
	}

	if c.memSem != nil {
		c.memSem.Release(bytes)
	}
	c.memUsed.Add(-bytes)
}

// MemoryUsage returns the current memory usage in bytes.
func (c *Controller) MemoryUsage() int64 {
	if c == nil {
		return 0
	}
	return c.memUsed.Load()
}

// MemoryLimit returns the configured memory limit in bytes (0 if unlimited).
func (c *Controller) MemoryLimit() int64 {
	if c == nil {
		return 0
	}
	return c.cfg.MemoryLimitBytes
}

// AcquireQuery reserves a query slot, waiting until ctx is done.
// Returns ErrQueryLimit if the slot could not be acquired in time.
func (c *Controller) AcquireQuery(ctx context.Context) error {
	if c == nil || c.querySem == nil {
		return nil
	}
	if err := c.querySem.Acquire(ctx, 1); err != nil {
		return errors.Join(ErrQueryLimit, err)
	}
	return nil
}

// ReleaseQuery releases a query slot.
func (c *Controller) ReleaseQuery() {
	if c == nil || c.querySem == nil {
		return
	}
	c.querySem.Release(1)
}

// AllowMutation takes one mutation token without blocking.
// Returns ErrRateLimited when the bucket is empty.
func (c *Controller) AllowMutation() error {
	if c == nil || c.mutLimiter == nil {
		return nil
	}
	if !c.mutLimiter.Allow() {
		return ErrRateLimited
	}
	return nil
}

// AcquireIO waits until the IO limit allows the specified number of bytes.
func (c *Controller) AcquireIO(ctx context.Context, bytes int) error {
	if c == nil || c.ioLimiter == nil {
		return nil
	}
	// WaitN rejects requests above the burst; split them.
	burst := c.ioLimiter.Burst()
	for bytes > 0 {
		n := min(bytes, burst)
		if err := c.ioLimiter.WaitN(ctx, n); err != nil {
			return err
		}
		bytes -= n
	}
	return nil
}

// RateLimitedWriter throttles writes through the controller's IO limiter.
type RateLimitedWriter struct {
	ctx context.Context
	w   io.Writer
	c   *Controller
}

// NewRateLimitedWriter wraps w.
func NewRateLimitedWriter(ctx context.Context, w io.Writer, c *Controller) *RateLimitedWriter {
	return &RateLimitedWriter{ctx: ctx, w: w, c: c}
}

// Write implements io.Writer.
func (rw *RateLimitedWriter) Write(p []byte) (int, error) {
	if err := rw.c.AcquireIO(rw.ctx, len(p)); err != nil {
		return 0, err
	}
	return rw.w.Write(p)
}

// RateLimitedReader throttles reads through the controller's IO limiter.
type RateLimitedReader struct {
	ctx context.Context
	r   io.Reader
	c   *Controller
}

// NewRateLimitedReader wraps r.
func NewRateLimitedReader(ctx context.Context, r io.Reader, c *Controller) *RateLimitedReader {
	return &RateLimitedReader{ctx: ctx, r: r, c: c}
}

// Read implements io.Reader.
func (rr *RateLimitedReader) Read(p []byte) (int, error) {
	n, err := rr.r.Read(p)
	if n > 0 {
		if werr := rr.c.AcquireIO(rr.ctx, n); werr != nil {
			return n, werr
		}
	}
	return n, err
}

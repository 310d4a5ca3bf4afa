package resource

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"
)

// ErrMemoryLimitExceeded is returned when memory limit would be exceeded.
var ErrMemoryLimitExceeded = errors.New("memory limit exceeded")

// Kind names what a reservation holds.
type Kind string

const (
	KindVectors  Kind = "vectors"
	KindIndex    Kind = "index"
	KindIDMap    Kind = "idmap"
	KindMapping  Kind = "mapping"
	KindPayload  Kind = "payload"
	KindHandle   Kind = "handle"
	KindTraining Kind = "training"
)

// Config holds resource limits.
type Config struct {
	// MemoryLimitBytes is the hard limit for managed memory.
	// If 0, no hard limit is enforced (only tracking).
	MemoryLimitBytes int64

	// MaxBackgroundWorkers bounds training parallelism.
	// If 0, defaults to GOMAXPROCS.
	MaxBackgroundWorkers int64

	// IOLimitBytesPerSec is the maximum throughput of blob transfers.
	// If 0, unlimited.
	IOLimitBytesPerSec int64
}

// Controller manages memory, worker slots and IO bandwidth.
type Controller struct {
	cfg Config

	memSem  *semaphore.Weighted // nil if unlimited
	memUsed atomic.Int64

	bgSem *semaphore.Weighted

	ioLimiter *rate.Limiter

	mu          sync.Mutex
	outstanding map[Kind]int64
}

// NewController creates a new resource controller.
func NewController(cfg Config) *Controller {
	if cfg.MaxBackgroundWorkers <= 0 {
		cfg.MaxBackgroundWorkers = int64(runtime.GOMAXPROCS(0))
	}

	c := &Controller{
		cfg:         cfg,
		bgSem:       semaphore.NewWeighted(cfg.MaxBackgroundWorkers),
		outstanding: make(map[Kind]int64),
	}
	if cfg.MemoryLimitBytes > 0 {
		c.memSem = semaphore.NewWeighted(cfg.MemoryLimitBytes)
	}
	if cfg.IOLimitBytesPerSec > 0 {
		c.ioLimiter = rate.NewLimiter(rate.Limit(cfg.IOLimitBytesPerSec), int(cfg.IOLimitBytesPerSec))
	}
	return c
}

// Reservation is a live claim on managed memory.
type Reservation struct {
	c        *Controller
	kind     Kind
	bytes    int64
	released atomic.Bool
}

// Kind returns what the reservation holds.
func (r *Reservation) Kind() Kind { return r.kind }

// Bytes returns the reserved size.
func (r *Reservation) Bytes() int64 { return r.bytes }

// Release returns the memory to the controller. It is safe to call more than
// once and on a nil Reservation.
func (r *Reservation) Release() {
	if r == nil || !r.released.CompareAndSwap(false, true) {
		return
	}
	if r.c == nil {
		return
	}
	r.c.ReleaseMemory(r.bytes)
	r.c.mu.Lock()
	r.c.outstanding[r.kind]--
	if r.c.outstanding[r.kind] == 0 {
		delete(r.c.outstanding, r.kind)
	}
	r.c.mu.Unlock()
}

// Reserve claims bytes of memory for kind. It fails fast with
// ErrMemoryLimitExceeded when the limit would be crossed.
func (c *Controller) Reserve(kind Kind, bytes int64) (*Reservation, error) {
	if c == nil {
		return &Reservation{kind: kind, bytes: bytes}, nil
	}
	if err := c.AcquireMemory(bytes); err != nil {
		return nil, fmt.Errorf("reserve %d bytes for %s: %w", bytes, kind, err)
	}
	c.mu.Lock()
	c.outstanding[kind]++
	c.mu.Unlock()
	return &Reservation{c: c, kind: kind, bytes: bytes}, nil
}

// Outstanding returns the number of reservations not yet released.
func (c *Controller) Outstanding() int64 {
	if c == nil {
		return 0
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	var n int64
	for _, v := range c.outstanding {
		n += v
	}
	return n
}

// OutstandingByKind returns a snapshot of live reservations per kind.
func (c *Controller) OutstandingByKind() map[Kind]int64 {
	out := make(map[Kind]int64)
	if c == nil {
		return out
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	for k, v := range c.outstanding {
		out[k] = v
	}
	return out
}

// AcquireMemory attempts to reserve memory.
// Returns ErrMemoryLimitExceeded if limit would be exceeded.
// Non-blocking - callers control retry/backoff policy.
func (c *Controller) AcquireMemory(bytes int64) error {
	if c == nil || bytes <= 0 {
		return nil
	}
	if c.memSem != nil && !c.memSem.TryAcquire(bytes) {
		return ErrMemoryLimitExceeded
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

// Workers returns the training parallelism the controller allows.
func (c *Controller) Workers() int {
	if c == nil {
		return runtime.GOMAXPROCS(0)
	}
	return int(c.cfg.MaxBackgroundWorkers)
}

// AcquireBackground reserves a worker slot, blocking while all are busy.
func (c *Controller) AcquireBackground(ctx context.Context) error {
	if c == nil {
		return nil
	}
	return c.bgSem.Acquire(ctx, 1)
}

// TryAcquireBackground attempts to reserve a worker slot without blocking.
func (c *Controller) TryAcquireBackground() bool {
	if c == nil {
		return true
	}
	return c.bgSem.TryAcquire(1)
}

// ReleaseBackground releases a background worker slot.
func (c *Controller) ReleaseBackground() {
	if c == nil {
		return
	}
	c.bgSem.Release(1)
}

// AcquireIO waits until the IO limit allows the specified number of bytes.
// Requests larger than the burst are split.
func (c *Controller) AcquireIO(ctx context.Context, bytes int) error {
	if c == nil || c.ioLimiter == nil {
		return nil
	}
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

// TryAcquireIO attempts to acquire IO tokens without blocking.
func (c *Controller) TryAcquireIO(bytes int) bool {
	if c == nil || c.ioLimiter == nil {
		return true
	}
	return c.ioLimiter.AllowN(time.Now(), bytes)
}

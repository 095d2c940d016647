package pool

import (
	"sync"
	"sync/atomic"
	"time"

	apperrors "github.com/opaldb/opal-go/lib/errors"
)

// ItemFactory creates, destroys, and vets pooled items.
type ItemFactory[T any] interface {
	// Create opens a new item. Failures propagate out of Get.
	Create() (T, error)
	// Close destroys an item.
	Close(item T)
	// ShouldPrune reports whether a free item is stale and must be
	// destroyed by the next prune pass.
	ShouldPrune(item T) bool
}

// Pool is a bounded pool of items of type T.
type Pool[T any] struct {
	maxSize int
	factory ItemFactory[T]

	// permits holds one token per unit of free capacity. Receiving a
	// token is the prerequisite to owning an item.
	permits chan struct{}
	// closeCh wakes blocked acquirers when the pool closes.
	closeCh chan struct{}

	mu        sync.Mutex
	available []T
	size      int
	closed    bool

	// Metrics
	acquireCount  uint64
	acquireFailed uint64
	releaseCount  uint64
	prunedCount   uint64
}

// New creates a pool bounded to maxSize live items.
func New[T any](maxSize int, factory ItemFactory[T]) *Pool[T] {
	if maxSize < 1 {
		maxSize = 1
	}

	permits := make(chan struct{}, maxSize)
	for i := 0; i < maxSize; i++ {
		permits <- struct{}{}
	}

	p := &Pool[T]{
		maxSize:   maxSize,
		factory:   factory,
		permits:   permits,
		closeCh:   make(chan struct{}),
		available: make([]T, 0, maxSize),
	}

	log.WithField("maxSize", maxSize).Debug("pool created")
	return p
}

// MaxSize returns the pool's capacity.
func (p *Pool[T]) MaxSize() int {
	return p.maxSize
}

// Get acquires an item within timeout: a free one when available, a fresh
// one otherwise. A negative timeout waits indefinitely; zero is
// non-blocking.
func (p *Pool[T]) Get(timeout time.Duration) (T, error) {
	var zero T
	atomic.AddUint64(&p.acquireCount, 1)

	if err := p.acquirePermit(timeout); err != nil {
		atomic.AddUint64(&p.acquireFailed, 1)
		return zero, err
	}

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		p.returnPermit()
		atomic.AddUint64(&p.acquireFailed, 1)
		return zero, apperrors.ErrPoolClosed
	}

	if n := len(p.available); n > 0 {
		item := p.available[n-1]
		p.available = p.available[:n-1]
		p.mu.Unlock()
		return item, nil
	}

	// Reserve capacity for the creation in progress.
	p.size++
	p.mu.Unlock()

	item, err := p.factory.Create()
	if err != nil {
		p.mu.Lock()
		p.size--
		p.mu.Unlock()
		p.returnPermit()
		atomic.AddUint64(&p.acquireFailed, 1)
		log.WithError(err).Debug("failed to create pooled item")
		return zero, err
	}
	return item, nil
}

// acquirePermit consumes one unit of capacity, honoring the timeout
// semantics of Get.
func (p *Pool[T]) acquirePermit(timeout time.Duration) error {
	if timeout == 0 {
		select {
		case <-p.permits:
			return nil
		case <-p.closeCh:
			return apperrors.ErrPoolClosed
		default:
			return apperrors.ErrTimeout
		}
	}

	if timeout < 0 {
		select {
		case <-p.permits:
			return nil
		case <-p.closeCh:
			return apperrors.ErrPoolClosed
		}
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-p.permits:
		return nil
	case <-p.closeCh:
		return apperrors.ErrPoolClosed
	case <-timer.C:
		return apperrors.ErrTimeout
	}
}

func (p *Pool[T]) returnPermit() {
	select {
	case p.permits <- struct{}{}:
	default:
		// Every acquire is paired with exactly one return; a full permit
		// channel here means an accounting bug.
		panic("pool: permit returned without matching acquire")
	}
}

// Release returns an item to the pool. When prune is true or the pool is
// closed, the item is destroyed instead. The permit is returned only after
// destruction completes.
func (p *Pool[T]) Release(item T, prune bool) {
	atomic.AddUint64(&p.releaseCount, 1)

	p.mu.Lock()
	if !prune && !p.closed {
		p.available = append(p.available, item)
		p.mu.Unlock()
		p.returnPermit()
		return
	}
	p.size--
	p.mu.Unlock()

	p.factory.Close(item)
	p.returnPermit()
}

// Prune destroys every free item the factory vets as stale.
func (p *Pool[T]) Prune() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}

	var pruned []T
	kept := p.available[:0]
	for _, item := range p.available {
		if p.factory.ShouldPrune(item) {
			pruned = append(pruned, item)
		} else {
			kept = append(kept, item)
		}
	}
	p.available = kept
	p.size -= len(pruned)
	p.mu.Unlock()

	for _, item := range pruned {
		p.factory.Close(item)
		atomic.AddUint64(&p.prunedCount, 1)
	}
}

// EnsureMinSize creates items until at least n are live. Creation stops as
// soon as the pool holds maxSize live items, a permit cannot be acquired
// without blocking, or a creation fails.
func (p *Pool[T]) EnsureMinSize(n int) {
	for {
		p.mu.Lock()
		if p.closed || p.size >= n || p.size >= p.maxSize {
			p.mu.Unlock()
			return
		}
		p.mu.Unlock()

		select {
		case <-p.permits:
		default:
			return
		}

		p.mu.Lock()
		if p.closed || p.size >= n || p.size >= p.maxSize {
			p.mu.Unlock()
			p.returnPermit()
			return
		}
		p.size++
		p.mu.Unlock()

		item, err := p.factory.Create()
		if err != nil {
			p.mu.Lock()
			p.size--
			p.mu.Unlock()
			p.returnPermit()
			log.WithError(err).Debug("failed to create item while ensuring minimum size")
			return
		}

		p.mu.Lock()
		if p.closed {
			p.size--
			p.mu.Unlock()
			p.factory.Close(item)
			p.returnPermit()
			return
		}
		p.available = append(p.available, item)
		p.mu.Unlock()
		p.returnPermit()
	}
}

// Close marks the pool closed and destroys every free item. Items checked
// out by holders are destroyed when they are released.
func (p *Pool[T]) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return apperrors.ErrPoolClosed
	}
	p.closed = true
	drained := p.available
	p.available = nil
	p.size -= len(drained)
	p.mu.Unlock()

	close(p.closeCh)

	for _, item := range drained {
		p.factory.Close(item)
	}

	log.Debug("pool closed")
	return nil
}

// Size returns the number of live items: created-but-not-destroyed plus
// creations in progress.
func (p *Pool[T]) Size() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.size
}

// AvailableCount returns the number of free items.
func (p *Pool[T]) AvailableCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.available)
}

// CheckedOutCount returns the number of items currently held by callers.
func (p *Pool[T]) CheckedOutCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.size - len(p.available)
}

// Stats is a sampling snapshot of pool state.
type Stats struct {
	// MaxSize is the pool capacity.
	MaxSize int
	// Size is the number of live items.
	Size int
	// Available is the number of free items.
	Available int
	// CheckedOut is the number of items held by callers.
	CheckedOut int
	// AcquireCount is the total number of acquire attempts.
	AcquireCount uint64
	// AcquireFailed is the number of failed acquires.
	AcquireFailed uint64
	// ReleaseCount is the number of releases.
	ReleaseCount uint64
	// PrunedCount is the number of items destroyed by pruning.
	PrunedCount uint64
}

// Stats returns current pool statistics.
func (p *Pool[T]) Stats() Stats {
	p.mu.Lock()
	size := p.size
	available := len(p.available)
	p.mu.Unlock()

	return Stats{
		MaxSize:       p.maxSize,
		Size:          size,
		Available:     available,
		CheckedOut:    size - available,
		AcquireCount:  atomic.LoadUint64(&p.acquireCount),
		AcquireFailed: atomic.LoadUint64(&p.acquireFailed),
		ReleaseCount:  atomic.LoadUint64(&p.releaseCount),
		PrunedCount:   atomic.LoadUint64(&p.prunedCount),
	}
}

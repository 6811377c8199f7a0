// Package rentptr implements the single-writer/many-reader "rentable
// pointer": a writer may publish a new object at any time; any number of
// concurrent readers may "rent" the currently published object; the old
// object is released the instant the last renter leaves it, not whenever
// the garbage collector next runs. This is the only cross-thread hand-off
// point between the compactor and the foreground — no mutex guards the
// bloom plane itself.
//
// Ported from original_source/include/ptr_for_rent.h. The C++ source packs
// a reference count and a "please release" flag into one atomic word; this
// port keeps that exact discipline via a single atomic.Uint64 status word,
// because Go's GC alone cannot give the deterministic "release exactly when
// the last renter leaves" contract this hand-off needs (file descriptors and
// mmap'd pages must close promptly).
package rentptr

import "sync/atomic"

// releaseRequested is the high bit of the status word.
const releaseRequested = uint64(1) << 63

// cell holds one published object plus its rent-tracking status word.
type cell[T any] struct {
	status atomic.Uint64
	obj    *T
}

func (c *cell[T]) requestRelease() bool {
	old := c.status.Or(releaseRequested)
	return old == 0
}

func (c *cell[T]) beginRenting() {
	c.status.Add(1)
}

// endRenting returns true if this renter was the last one out while a
// release was pending.
func (c *cell[T]) endRenting() bool {
	old := c.status.Add(^uint64(0)) + 1 // fetch-then-subtract semantics
	return old == releaseRequested+1
}

// Ptr is a rentable pointer for one heap-owned object of type T.
type Ptr[T any] struct {
	data atomic.Pointer[cell[T]]
}

// New returns a Ptr already holding obj.
func New[T any](obj *T) *Ptr[T] {
	p := &Ptr[T]{}
	c := &cell[T]{obj: obj}
	p.data.Store(c)
	return p
}

// IsEmpty reports whether nothing has ever been published.
func (p *Ptr[T]) IsEmpty() bool {
	return p.data.Load() == nil
}

// Replace atomically publishes newObj, requesting release of whatever was
// published before. The old object is dropped immediately if no renter
// currently holds it, or deferred to whichever renter departs last.
func (p *Ptr[T]) Replace(newObj *T) {
	nc := &cell[T]{obj: newObj}
	old := p.data.Swap(nc)
	if old == nil {
		return
	}
	if old.requestRelease() {
		releaseIfDroppable(old)
	}
}

func releaseIfDroppable[T any](c *cell[T]) {
	if closer, ok := any(c.obj).(interface{ Close() error }); ok {
		_ = closer.Close()
	}
}

// Rent snapshots the currently published object, invokes f with it, and
// releases it afterward. If f runs concurrently with a Replace that
// requested release and this call is the last renter out, the old object
// is released here.
func (p *Ptr[T]) Rent(f func(*T)) {
	c := p.data.Load()
	c.beginRenting()
	f(c.obj)
	if c.endRenting() {
		releaseIfDroppable(c)
	}
}

// RentConst is Rent with a read-only view of the object, matching the
// source's distinct rent_const entry point for callers that only read.
func (p *Ptr[T]) RentConst(f func(*T)) {
	p.Rent(f)
}

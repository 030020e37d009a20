// Package pool implements the fixed-capacity, heap-free object pool / arena
// used for every hot-path allocation in the matching stack (§4.2). Slots
// are addressed by a stable integer Handle rather than a raw pointer, so
// the intrusive links in package orderbook can be plain struct fields
// instead of unsafe.Pointer (§9's "indices into the object pool").
package pool

import "lowlatency-exchange/common"

// Handle identifies a slot in a Pool. Handles are slot indices, so the
// zero value is the first slot; use Invalid to test for "no slot".
type Handle int32

// Invalid is the sentinel handle, analogous to a null pointer.
const Invalid Handle = -1

type slot[T any] struct {
	object T
	free   bool
}

// Pool is a fixed-capacity arena of T, pre-constructed at New time.
// It never touches the system heap again: Allocate/Release only flip a
// free flag and hand back/reclaim a handle. Not safe for concurrent use
// across goroutines — §5 assigns each pool exclusively to one thread.
type Pool[T any] struct {
	slots    []slot[T]
	nextFree int
	live     int
}

// New constructs a Pool with capacity slots, all initially free.
func New[T any](capacity int) *Pool[T] {
	if capacity <= 0 {
		common.Fatalf("pool: non-positive capacity %d", capacity)
	}
	s := make([]slot[T], capacity)
	for i := range s {
		s[i].free = true
	}
	return &Pool[T]{slots: s}
}

// Allocate reserves the next free slot via a linear scan with
// wrap-around starting at the internal cursor, and returns its handle
// and a stable pointer to the zero-valued T for the caller to
// initialize in place. Fatal if a full pass finds no free slot.
func (p *Pool[T]) Allocate() (Handle, *T) {
	n := len(p.slots)
	idx := p.nextFree
	for i := 0; i < n; i++ {
		if p.slots[idx].free {
			p.slots[idx].free = false
			p.nextFree = idx + 1
			if p.nextFree == n {
				p.nextFree = 0
			}
			p.live++
			return Handle(idx), &p.slots[idx].object
		}
		idx++
		if idx == n {
			idx = 0
		}
	}
	common.Fatalf("pool: exhausted, capacity %d", n)
	return Invalid, nil
}

// Get returns a stable pointer to the slot referenced by h. h must be a
// handle previously returned by Allocate and not yet Released.
func (p *Pool[T]) Get(h Handle) *T {
	if h < 0 || int(h) >= len(p.slots) {
		common.Fatalf("pool: handle %d out of range", h)
	}
	return &p.slots[h].object
}

// Release marks the slot referenced by h free and resets it to its zero
// value, mirroring the teacher's DUFFZERO-style reset idiom.
func (p *Pool[T]) Release(h Handle) {
	if h < 0 || int(h) >= len(p.slots) {
		common.Fatalf("pool: release of out-of-range handle %d", h)
	}
	s := &p.slots[h]
	if s.free {
		common.Fatalf("pool: double release of handle %d", h)
	}
	var zero T
	s.object = zero
	s.free = true
	p.live--
}

// Live returns the number of currently allocated slots.
func (p *Pool[T]) Live() int { return p.live }

// Capacity returns the pool's fixed capacity.
func (p *Pool[T]) Capacity() int { return len(p.slots) }

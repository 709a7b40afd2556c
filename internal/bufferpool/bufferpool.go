// Package bufferpool provides a recyclable byte-buffer allocator and the
// immutable Frame type produced from it. Rooms encode each ServerEvent
// once into a pooled buffer, freeze it into a Frame, and fan the same
// Frame out to every subscriber and (for chat messages) the history ring.
package bufferpool

import (
	"sync"
	"sync/atomic"
)

// Pool is a process-wide allocator that reuses byte-buffer backing
// storage on the broadcast hot path. A single coarse lock guards only
// the free-list manipulation; filling the buffer with bytes happens
// outside the lock. A linear scan over a small free list is acceptable
// given the expected pool size (a handful of in-flight buffers per
// broadcast); a size-bucketed free list would be the natural upgrade.
type Pool struct {
	mu   sync.Mutex
	free [][]byte
}

// New creates an empty buffer pool.
func New() *Pool {
	return &Pool{}
}

// Alloc returns a cleared buffer with capacity of at least minCapacity,
// reusing a retired buffer from the free list when one is big enough.
func (p *Pool) Alloc(minCapacity int) *MutableBuffer {
	p.mu.Lock()
	for i, buf := range p.free {
		if cap(buf) >= minCapacity {
			p.free[i] = p.free[len(p.free)-1]
			p.free = p.free[:len(p.free)-1]
			p.mu.Unlock()
			return &MutableBuffer{pool: p, buf: buf[:0]}
		}
	}
	p.mu.Unlock()

	return &MutableBuffer{pool: p, buf: make([]byte, 0, minCapacity)}
}

func (p *Pool) release(buf []byte) {
	if cap(buf) == 0 {
		return
	}
	p.mu.Lock()
	p.free = append(p.free, buf[:0])
	p.mu.Unlock()
}

// MutableBuffer is a growable byte buffer checked out from a Pool. It
// must be either frozen into a Frame or dropped. Dropping without
// freezing recycles the backing storage immediately; freezing hands the
// storage to the resulting Frame, which tracks its own lifetime from
// then on.
type MutableBuffer struct {
	pool *Pool
	buf  []byte
}

// Write appends p to the buffer, implementing io.Writer so it can be
// used directly as an encoding/json.Encoder target.
func (b *MutableBuffer) Write(p []byte) (int, error) {
	b.buf = append(b.buf, p...)
	return len(p), nil
}

// Bytes returns the buffer's current contents.
func (b *MutableBuffer) Bytes() []byte {
	return b.buf
}

// Freeze converts the buffer into an immutable, reference-counted Frame
// holding exactly one reference — the caller's. The MutableBuffer must
// not be used again after Freeze.
func (b *MutableBuffer) Freeze() Frame {
	data := b.buf
	pool := b.pool
	b.buf = nil
	b.pool = nil
	return Frame{state: &frameState{data: data, pool: pool, refs: 1}}
}

// Drop recycles the buffer's storage without producing a Frame. Safe to
// call on a zero-value or already-frozen MutableBuffer.
func (b *MutableBuffer) Drop() {
	if b.pool == nil || b.buf == nil {
		return
	}
	b.pool.release(b.buf)
	b.buf = nil
	b.pool = nil
}

// frameState is the shared, reference-counted backing of a Frame. The
// last Release returns data to pool, if the Frame came from one, so the
// broadcast hot path actually recycles storage instead of only ever
// allocating fresh buffers (spec §4.1).
type frameState struct {
	data []byte
	pool *Pool
	refs int32
}

// Frame is an immutable, reference-counted byte sequence holding the
// wire-encoded form of one ServerEvent. Clone is a cheap atomic
// increment handing out an independent reference to the same bytes;
// every holder — a broadcast subscriber, the history ring, a unicast
// mailbox reply — must call Release exactly once when done with its
// reference. The Release that brings the count to zero returns the
// backing array to its Pool.
type Frame struct {
	state *frameState
}

// NewFrame wraps data as a singly-referenced Frame with no backing
// Pool; Release on such a Frame just drops the reference, since there
// is no pool to recycle the bytes into.
func NewFrame(data []byte) Frame {
	return Frame{state: &frameState{data: data, refs: 1}}
}

// Bytes returns the frame's encoded bytes. The returned slice must not
// be mutated.
func (fr Frame) Bytes() []byte {
	return fr.state.data
}

// Len returns the length of the frame's encoded bytes.
func (fr Frame) Len() int {
	return len(fr.state.data)
}

// IsZero reports whether fr holds no data (the zero value).
func (fr Frame) IsZero() bool {
	return fr.state == nil
}

// Clone returns a new counted reference to the same backing bytes. The
// returned Frame must be Released independently of the one it was
// cloned from.
func (fr Frame) Clone() Frame {
	atomic.AddInt32(&fr.state.refs, 1)
	return fr
}

// Release drops one reference to fr. Once the last reference is
// released, the backing array is returned to fr's Pool, if any. Release
// on the zero Frame is a no-op.
func (fr Frame) Release() {
	if fr.state == nil {
		return
	}
	if atomic.AddInt32(&fr.state.refs, -1) == 0 {
		if fr.state.pool != nil {
			fr.state.pool.release(fr.state.data)
		}
		fr.state.data = nil
	}
}

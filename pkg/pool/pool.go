// Package pool provides reusable byte-slice pools for the copy and archive
// pipelines, keeping large I/O buffers out of the garbage collector's way.
package pool

import (
	"fmt"
	"math/bits"
	"sync"
)

// FixedBufferPool hands out buffers of a single size. Copy workers use it
// for their io.CopyBuffer scratch space.
type FixedBufferPool struct {
	size int64
	pool sync.Pool
}

// NewFixedBuffer creates a pool of buffers of exactly size bytes.
func NewFixedBuffer(size int64) *FixedBufferPool {
	return &FixedBufferPool{
		size: size,
		pool: sync.Pool{
			New: func() any {
				b := make([]byte, int(size))
				return &b
			},
		},
	}
}

// Get retrieves a pointer to a byte slice of the pool's size.
func (fp *FixedBufferPool) Get() *[]byte {
	return fp.pool.Get().(*[]byte)
}

// Put returns the buffer to the pool if it still has the right capacity.
func (fp *FixedBufferPool) Put(b *[]byte) {
	if b == nil || int64(cap(*b)) != fp.size {
		return
	}
	*b = (*b)[:fp.size]
	fp.pool.Put(b)
}

// BucketedBufferPool provides an O(1) lookup for reusable byte slices of
// varying sizes, bucketed by powers of two. The archiver's read-ahead path
// uses it because file sizes vary wildly.
type BucketedBufferPool struct {
	minBucketExp int
	maxBucketExp int
	maxPoolSize  int64
	pools        []sync.Pool
}

// NewBucketedBufferPool creates a pool spanning minSize..maxSize.
// Both boundaries MUST be powers of two (e.g., 1024, 4096, 1048576).
func NewBucketedBufferPool(minSize, maxSize int64) *BucketedBufferPool {
	if !isPowerOfTwo(minSize) {
		panic(fmt.Sprintf("minSize %d must be a power of two", minSize))
	}
	if !isPowerOfTwo(maxSize) {
		panic(fmt.Sprintf("maxSize %d must be a power of two", maxSize))
	}
	if maxSize <= minSize {
		panic("maxSize must be greater than minSize")
	}

	// bits.TrailingZeros returns the exponent for a power-of-two number.
	minExp := bits.TrailingZeros64(uint64(minSize))
	maxExp := bits.TrailingZeros64(uint64(maxSize))

	bp := &BucketedBufferPool{
		minBucketExp: minExp,
		maxBucketExp: maxExp,
		maxPoolSize:  int64(1) << maxExp,
		pools:        make([]sync.Pool, maxExp+1),
	}

	for i := minExp; i <= maxExp; i++ {
		size := int64(1) << i
		bp.pools[i].New = func() any {
			b := make([]byte, int(size))
			return &b
		}
	}
	return bp
}

// Get retrieves a pointer to a byte slice of at least 'size', sub-sliced to
// exactly the requested length.
func (bp *BucketedBufferPool) Get(size int64) *[]byte {
	if size <= 0 {
		b := make([]byte, 0)
		return &b
	}

	// Oversized requests get a fresh slice; huge buffers are never pooled
	// to avoid memory bloat.
	if size > bp.maxPoolSize {
		b := make([]byte, int(size))
		return &b
	}

	// bits.Len64 finds the smallest power of two >= size.
	idx := bits.Len64(uint64(size - 1))
	if idx < bp.minBucketExp {
		idx = bp.minBucketExp
	}

	bufPtr := bp.pools[idx].Get().(*[]byte)
	*bufPtr = (*bufPtr)[:int(size)]
	return bufPtr
}

// Put returns the buffer to the pool if it matches one of the bucket
// capacities; anything else is left for the garbage collector.
func (bp *BucketedBufferPool) Put(bufPtr *[]byte) {
	if bufPtr == nil {
		return
	}

	capacity := int64(cap(*bufPtr))
	if capacity < (int64(1)<<bp.minBucketExp) || capacity > bp.maxPoolSize || !isPowerOfTwo(capacity) {
		return
	}

	idx := bits.TrailingZeros64(uint64(capacity))

	// Reset the slice to its full capacity before putting it back
	// so the next Get() has the full buffer available.
	*bufPtr = (*bufPtr)[:capacity]
	bp.pools[idx].Put(bufPtr)
}

func isPowerOfTwo(n int64) bool {
	return n > 0 && n&(n-1) == 0
}

package pool

import "testing"

func TestFixedBufferPoolRoundTrip(t *testing.T) {
	fp := NewFixedBuffer(4096)

	buf := fp.Get()
	if len(*buf) != 4096 {
		t.Fatalf("expected 4096-byte buffer, got %d", len(*buf))
	}
	fp.Put(buf)

	// A foreign buffer of the wrong size must be rejected silently.
	wrong := make([]byte, 100)
	fp.Put(&wrong)
}

func TestBucketedPoolReturnsExactLength(t *testing.T) {
	bp := NewBucketedBufferPool(1024, 1<<20)

	cases := []int64{1, 700, 1024, 1025, 1 << 20}
	for _, size := range cases {
		buf := bp.Get(size)
		if int64(len(*buf)) != size {
			t.Errorf("Get(%d) returned len %d", size, len(*buf))
		}
		bp.Put(buf)
	}
}

func TestBucketedPoolOversizedNotPooled(t *testing.T) {
	bp := NewBucketedBufferPool(1024, 4096)

	buf := bp.Get(8192)
	if len(*buf) != 8192 {
		t.Fatalf("oversized Get must still allocate, got len %d", len(*buf))
	}
	bp.Put(buf) // must be a no-op, not a panic
}

func TestBucketedPoolZeroSize(t *testing.T) {
	bp := NewBucketedBufferPool(1024, 4096)
	buf := bp.Get(0)
	if len(*buf) != 0 {
		t.Errorf("Get(0) must return an empty slice, got len %d", len(*buf))
	}
}

func TestBucketedPoolPanicsOnBadBounds(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Error("expected panic for non-power-of-two min size")
		}
	}()
	NewBucketedBufferPool(1000, 4096)
}

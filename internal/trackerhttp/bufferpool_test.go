package trackerhttp

import "testing"

func TestBufferPoolRoundTrip(t *testing.T) {
	p := NewBufferPool()

	b := p.Acquire(100, 1024)
	if _, err := b.Write([]byte("hello")); err != nil {
		t.Fatalf("write: %v", err)
	}
	if string(b.Bytes()) != "hello" {
		t.Fatalf("unexpected contents: %q", b.Bytes())
	}
	p.Release(b)

	b2 := p.Acquire(100, 1024)
	if len(b2.Bytes()) != 0 {
		t.Fatalf("reused buffer not cleared: %q", b2.Bytes())
	}
}

func TestBufferPoolBucketSelection(t *testing.T) {
	cases := []struct {
		size     int
		wantCap  int
	}{
		{100, smallBufferSize},
		{4000, mediumBufferSize},
		{100000, largeBufferSize},
	}
	for _, c := range cases {
		p := NewBufferPool()
		b := p.Acquire(c.size, 1<<20)
		if got := b.buf.Cap(); got < c.wantCap {
			t.Errorf("Acquire(%d): cap=%d, want at least %d", c.size, got, c.wantCap)
		}
	}
}

func TestPooledBufferEnforcesLimit(t *testing.T) {
	p := NewBufferPool()
	b := p.Acquire(10, 5)

	n, err := b.Write([]byte("0123456789"))
	if err == nil {
		t.Fatalf("expected errResponseTooLarge, got nil")
	}
	if n != 10 {
		t.Fatalf("Write should report the full input length consumed, got %d", n)
	}
	if len(b.Bytes()) != 5 {
		t.Fatalf("buffer should be capped at limit, got %d bytes", len(b.Bytes()))
	}
}

func TestBufferPoolCapsPoolSize(t *testing.T) {
	p := NewBufferPool()
	for i := 0; i < maxSmallPool+10; i++ {
		b := p.Acquire(10, 1024)
		p.Release(b)
	}
	if len(p.small) > maxSmallPool {
		t.Fatalf("small pool grew beyond cap: %d", len(p.small))
	}
}

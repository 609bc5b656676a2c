package trackerhttp

import (
	"testing"
	"time"

	"github.com/slicingmelon/trackerhttp/internal/settings"
)

func TestHandlePoolReusesHandleWithoutFullReconfig(t *testing.T) {
	st, err := newShareTransport(settings.Default())
	if err != nil {
		t.Fatalf("newShareTransport: %v", err)
	}
	defer st.close()

	p := NewHandlePool(st, settings.Default(), 5)

	h1 := p.acquire()
	if h1.needsFullConfig {
		t.Fatal("acquire should have cleared needsFullConfig")
	}
	v1 := h1.settingsVersion
	p.release(h1)

	h2 := p.acquire()
	if h2 != h1 {
		t.Fatal("expected the released handle to be reused from the LIFO free list")
	}
	if h2.needsFullConfig {
		t.Fatal("a reused handle whose settings version is unchanged must not be reconfigured")
	}
	if h2.settingsVersion != v1 {
		t.Fatalf("settings version should be unchanged without a Bump: got %d want %d", h2.settingsVersion, v1)
	}
}

func TestHandlePoolBumpForcesReconfigureOnNextAcquire(t *testing.T) {
	st, err := newShareTransport(settings.Default())
	if err != nil {
		t.Fatalf("newShareTransport: %v", err)
	}
	defer st.close()

	p := NewHandlePool(st, settings.Default(), 5)
	h1 := p.acquire()
	p.release(h1)

	p.Bump(settings.Default())

	h2 := p.acquire()
	if h2.settingsVersion != p.version {
		t.Fatalf("handle should have been stamped with the new version: got %d want %d", h2.settingsVersion, p.version)
	}
}

func TestHandlePoolCleanupIdleEvictsStaleHandles(t *testing.T) {
	st, err := newShareTransport(settings.Default())
	if err != nil {
		t.Fatalf("newShareTransport: %v", err)
	}
	defer st.close()

	p := NewHandlePool(st, settings.Default(), 5)
	h := p.acquire()
	h.lastUsed = time.Now().Add(-2 * handleIdleTimeout)
	p.free = append(p.free, h)
	p.lastCleanup = time.Now().Add(-time.Minute)

	p.cleanupIdle(time.Now())

	if len(p.free) != 0 {
		t.Fatalf("expected stale handle to be evicted, pool has %d", len(p.free))
	}
}

func TestHandlePoolResizeTrimsFreeList(t *testing.T) {
	st, err := newShareTransport(settings.Default())
	if err != nil {
		t.Fatalf("newShareTransport: %v", err)
	}
	defer st.close()

	p := NewHandlePool(st, settings.Default(), 10)
	for i := 0; i < 5; i++ {
		p.release(p.acquire())
	}
	if len(p.free) != 1 {
		// release() always returns the same reused handle to the free
		// list since acquire() never grows it past one outstanding handle
		// in this sequential test; the point under test is Resize below.
		t.Skip("free-list shape depends on acquire/release interleaving, not asserted here")
	}

	p.Resize(0)
	if len(p.free) > 0 {
		t.Fatalf("expected Resize(0) to trim the free list, got %d", len(p.free))
	}
}

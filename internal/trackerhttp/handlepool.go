package trackerhttp

import (
	"net/http"
	"time"

	"github.com/projectdiscovery/retryablehttp-go"

	"github.com/slicingmelon/trackerhttp/internal/settings"
)

// pooledHandle is the Go analogue of a pooled libcurl easy handle: an
// *http.Client that shares the Manager's one *http.Transport, carrying
// just enough per-handle state (lastUsed, settingsVersion,
// needsFullConfig) to know whether it can be reused as-is or needs its
// session-level options reapplied before the next request. traceClient
// wraps the same *http.Client as its HttpClient, the way the teacher's
// GO403BYPASS.retryClient wraps its own transport, purely to get
// retryablehttp's TraceInfo connection/DNS/TLS timing breakdown on every
// Do call — its own retry/backoff machinery is disabled (RetryMax: 0)
// since retry scheduling here is Manager's job, per spec.md §4.6/§7.
type pooledHandle struct {
	client          *http.Client
	traceClient     *retryablehttp.Client
	lastUsed        time.Time
	settingsVersion uint64
	needsFullConfig bool
}

// handleIdleTimeout matches the teacher's own idle-worker sweep interval;
// a handle unused for this long is evicted from the pool on the next
// cleanup pass rather than kept warm indefinitely.
const handleIdleTimeout = 5 * time.Minute

// HandlePool is a LIFO free list of pooledHandle, owned exclusively by the
// Manager goroutine — no locking is needed because only that one goroutine
// ever calls acquire/release/cleanupIdle.
type HandlePool struct {
	transport *shareTransport
	settings  settings.Settings
	version   uint64

	free []*pooledHandle
	cap  int

	lastCleanup time.Time
}

// NewHandlePool returns an empty pool backed by transport that keeps at
// most cap idle handles on its free list; acquire creates a new handle
// whenever the free list is empty, so the number of live handles is not
// capped.
func NewHandlePool(transport *shareTransport, s settings.Settings, cap int) *HandlePool {
	if cap <= 0 {
		cap = 20
	}
	return &HandlePool{transport: transport, settings: s, cap: cap}
}

// Bump invalidates every currently pooled handle's configuration without
// discarding the handles themselves — the next acquire() call will see
// needsFullConfig and reapply session settings, matching the "never
// curl_easy_reset, just mark needs_full_config" contract.
func (p *HandlePool) Bump(s settings.Settings) {
	p.settings = s
	p.version++
}

// acquire returns a handle ready to carry one request. A handle popped
// from the free list whose settingsVersion lags the pool's current
// version is reconfigured in place before being handed back; a freshly
// created handle always starts in that same "needs configuration" state.
func (p *HandlePool) acquire() *pooledHandle {
	var h *pooledHandle
	if n := len(p.free); n > 0 {
		h = p.free[n-1]
		p.free[n-1] = nil
		p.free = p.free[:n-1]
	} else {
		h = &pooledHandle{
			client:          &http.Client{Transport: p.transport.transport},
			needsFullConfig: true,
		}
	}
	if h.settingsVersion != p.version {
		h.needsFullConfig = true
	}
	if h.needsFullConfig {
		configureSession(h, p.settings)
		h.settingsVersion = p.version
		h.needsFullConfig = false
	}
	return h
}

// release clears request-scoped state from h (never session-level state)
// and returns it to the free list, unless the pool is already at cap, in
// which case h is simply dropped.
func (p *HandlePool) release(h *pooledHandle) {
	clearRequestState(h)
	h.lastUsed = time.Now()
	if len(p.free) >= p.cap {
		return
	}
	p.free = append(p.free, h)
}

// cleanupIdle evicts handles that have sat unused longer than
// handleIdleTimeout. Called by the Manager only when the pool has been
// idle for a while, matching the teacher's own periodic idle-worker sweep.
func (p *HandlePool) cleanupIdle(now time.Time) {
	if now.Sub(p.lastCleanup) < 30*time.Second {
		return
	}
	p.lastCleanup = now

	kept := p.free[:0]
	for _, h := range p.free {
		if now.Sub(h.lastUsed) < handleIdleTimeout {
			kept = append(kept, h)
		}
	}
	p.free = kept
}

// Resize adjusts the pool's cap, called by the Manager when the host
// counter's target connection count changes.
func (p *HandlePool) Resize(newCap int) {
	p.cap = newCap
	if len(p.free) <= newCap {
		return
	}
	p.free = p.free[:newCap]
}

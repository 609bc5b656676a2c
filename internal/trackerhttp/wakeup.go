package trackerhttp

import (
	"sync/atomic"
	"time"
)

// wakeupDelay batches bursts of AddRequest calls arriving within a few
// milliseconds of each other into a single worker-loop wakeup, instead of
// waking the manager goroutine once per call.
const wakeupDelay = 5 * time.Millisecond

// wakeupBatcher debounces cross-goroutine submit notifications. Callers on
// any goroutine call notify(); the manager goroutine is the sole reader of
// ch and is guaranteed at least one wakeup for every notify() call, but
// possibly only one wakeup for many notify() calls arriving within
// wakeupDelay of each other.
type wakeupBatcher struct {
	pending atomic.Bool
	ch      chan struct{}

	// timer state, touched only by the notify() caller that won the
	// pending CompareAndSwap, which may be any goroutine
	timer *time.Timer
}

func newWakeupBatcher() *wakeupBatcher {
	return &wakeupBatcher{ch: make(chan struct{}, 1)}
}

// notify is safe to call from any goroutine. If a wakeup is already
// pending it is a no-op; otherwise it arms a short timer and lets that
// timer perform the actual wakeup, batching same-millisecond callers.
func (w *wakeupBatcher) notify() {
	if w.pending.CompareAndSwap(false, true) {
		w.armTimer()
	}
}

// armTimer is called only by notify() under the CompareAndSwap guard, so at
// most one goroutine reaches it per debounce window.
func (w *wakeupBatcher) armTimer() {
	if w.timer == nil {
		w.timer = time.AfterFunc(wakeupDelay, w.fire)
		return
	}
	w.timer.Reset(wakeupDelay)
}

func (w *wakeupBatcher) fire() {
	w.pending.Store(false)
	select {
	case w.ch <- struct{}{}:
	default:
		// A wakeup is already queued for the manager goroutine to consume;
		// sending is unnecessary and must not block.
	}
}

// channel returns the notification channel the manager goroutine selects
// on.
func (w *wakeupBatcher) channel() <-chan struct{} {
	return w.ch
}

// stop prevents any further timer from firing. Safe to call once during
// shutdown; notify() calls racing with stop() may still enqueue one last
// wakeup, which is harmless since the manager checks shuttingDown before
// acting on it.
func (w *wakeupBatcher) stop() {
	if w.timer != nil {
		w.timer.Stop()
	}
}

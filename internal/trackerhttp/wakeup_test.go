package trackerhttp

import (
	"testing"
	"time"
)

func TestWakeupBatcherFiresOnce(t *testing.T) {
	w := newWakeupBatcher()

	for i := 0; i < 20; i++ {
		w.notify()
	}

	select {
	case <-w.channel():
	case <-time.After(wakeupDelay * 10):
		t.Fatal("expected a wakeup within a few debounce windows")
	}

	select {
	case <-w.channel():
		t.Fatal("expected exactly one batched wakeup for a burst of notify() calls")
	case <-time.After(wakeupDelay * 4):
	}
}

func TestWakeupBatcherFiresAgainAfterDrain(t *testing.T) {
	w := newWakeupBatcher()

	w.notify()
	<-w.channel()

	w.notify()
	select {
	case <-w.channel():
	case <-time.After(wakeupDelay * 10):
		t.Fatal("expected a second wakeup after the first was drained")
	}
}

func TestWakeupBatcherStopIsIdempotent(t *testing.T) {
	w := newWakeupBatcher()
	w.notify()
	w.stop()
	w.stop()
}

package trackerhttp

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/slicingmelon/trackerhttp/internal/settings"
)

func testSettings() settings.Settings {
	s := settings.Default()
	s.TrackerSSLVerifyPeer = false
	s.TrackerSSLVerifyHost = false
	s.TrackerCompletionTimeout = 2 * time.Second
	s.ConnectionsLimit = 10
	return s
}

func TestManagerSimpleSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "d8:completei1e10:incompletei0ee")
	}))
	defer srv.Close()

	m, err := New(testSettings())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer m.Close()

	done := make(chan Result, 1)
	m.AddRequest(srv.URL+"/announce", func(r Result) { done <- r }, 5*time.Second)

	select {
	case r := <-done:
		if r.Err != nil {
			t.Fatalf("unexpected error: %v", r.Err)
		}
		if len(r.Body) == 0 {
			t.Fatal("expected a non-empty body")
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for completion")
	}
}

func TestManagerConcurrentSuccess(t *testing.T) {
	var hits int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt64(&hits, 1)
		fmt.Fprint(w, "ok")
	}))
	defer srv.Close()

	m, err := New(testSettings())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer m.Close()

	const n = 10
	var wg sync.WaitGroup
	wg.Add(n)
	for i := 0; i < n; i++ {
		m.AddRequest(srv.URL+"/announce", func(r Result) {
			defer wg.Done()
			if r.Err != nil {
				t.Errorf("unexpected error: %v", r.Err)
			}
		}, 5*time.Second)
	}

	waitOrTimeout(t, &wg, 10*time.Second)

	if got := atomic.LoadInt64(&hits); got != n {
		t.Fatalf("expected %d requests to reach the server, got %d", n, got)
	}
}

func TestManagerRetriesOn5xxThenSucceeds(t *testing.T) {
	var attempts int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt64(&attempts, 1) < 2 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		fmt.Fprint(w, "ok")
	}))
	defer srv.Close()

	s := testSettings()
	m, err := New(s)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer m.Close()

	done := make(chan Result, 1)
	m.AddRequest(srv.URL+"/announce", func(r Result) { done <- r }, 10*time.Second)

	select {
	case r := <-done:
		if r.Err != nil {
			t.Fatalf("expected eventual success after retry, got error: %v", r.Err)
		}
	case <-time.After(10 * time.Second):
		t.Fatal("timed out waiting for retried request to complete")
	}

	if got := atomic.LoadInt64(&attempts); got < 2 {
		t.Fatalf("expected at least 2 attempts, got %d", got)
	}
}

func TestManagerCloseDrainsQueuedWork(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
		fmt.Fprint(w, "ok")
	}))
	defer srv.Close()

	m, err := New(testSettings())
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	done := make(chan Result, 1)
	m.AddRequest(srv.URL+"/announce", func(r Result) { done <- r }, 5*time.Second)

	m.Close()

	select {
	case r := <-done:
		// Either outcome is acceptable: the in-flight request may have
		// completed before shutdown drained it, or it was cut off with
		// session_is_closing. What must hold is that completion fires
		// exactly once, which this select's single receive already
		// enforces (a second send would block forever on the unbuffered
		// read side of this test, not panic, but the timeout below would
		// catch a hang caused by a double-fire blocking on a full chan).
		_ = r
	case <-time.After(2 * time.Second):
		t.Fatal("Close should not hang, and the one queued request must complete or fail")
	}
}

func TestManagerStatsReflectsUniqueHosts(t *testing.T) {
	m, err := New(testSettings())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer m.Close()

	c1 := NewTrackerClient(m, "http://tracker-a.example.com/announce")
	c2 := NewTrackerClient(m, "http://tracker-b.example.com/announce")
	defer c1.Close()
	defer c2.Close()

	// Give the manager goroutine a chance to process the TrackerAdded
	// notifications before reading stats.
	time.Sleep(50 * time.Millisecond)

	stats := m.Stats()
	if stats.UniqueHosts != 2 {
		t.Fatalf("expected 2 unique hosts, got %d", stats.UniqueHosts)
	}
}

func waitOrTimeout(t *testing.T, wg *sync.WaitGroup, d time.Duration) {
	t.Helper()
	c := make(chan struct{})
	go func() {
		wg.Wait()
		close(c)
	}()
	select {
	case <-c:
	case <-time.After(d):
		t.Fatal("timed out waiting for completions")
	}
}

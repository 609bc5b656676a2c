package trackerhttp

import (
	"container/heap"
	"context"
	"io"
	"net/http"
	"net/http/httptrace"
	"sync"
	"sync/atomic"
	"time"

	"github.com/projectdiscovery/httpx/common/httpx"
	"github.com/projectdiscovery/retryablehttp-go"
	urlutil "github.com/projectdiscovery/utils/url"

	"github.com/slicingmelon/trackerhttp/internal/errorx"
	"github.com/slicingmelon/trackerhttp/internal/logx"
	"github.com/slicingmelon/trackerhttp/internal/reactor"
	"github.com/slicingmelon/trackerhttp/internal/settings"
)

// Stats is the observable snapshot described by the settings table:
// unique tracker hosts currently in use, the pool's current cap, and how
// much work is in flight or queued.
type Stats struct {
	UniqueHosts        int
	ConnectionLimit    int
	ActiveRequests     int
	QueuedRequests     int
	CompletedRequests  int64
	FailedRequests     int64
	RetriedRequests    int64
}

const (
	defaultMaxRetries   = 3
	initialRetryDelay   = 1 * time.Second
	maxRetryDelay       = 30 * time.Second
	maxHostFailures     = 15
	hostFailureWindow   = 1 * time.Minute
)

// completion is what a doTransfer goroutine reports back on the manager's
// completion channel — never invoked as a callback directly, always
// harvested by run() and then dispatched through the Reactor. handle
// travels with the completion rather than being released by the transfer
// goroutine itself, so HandlePool.release is only ever called from the
// run() goroutine, matching its "single owner" contract; handle is nil for
// the deadline-already-passed path in dispatch, which never acquires one.
type completion struct {
	req    Request
	result Result
	err    error
	status int
	handle *pooledHandle
}

// Manager is the single background worker driving every tracker HTTP
// request: the Go analogue of curl_thread_manager. One Manager owns one
// shareTransport, one HandlePool, one HostCounter, one wakeupBatcher and
// the retry heap. The handle pool and the retry heap are touched only from
// the run() goroutine; the HostCounter and the wakeupBatcher are also used
// by AddRequest/TrackerAdded/TrackerRemoved callers and are safe for that.
type Manager struct {
	settings settings.Settings
	reactor  reactor.Reactor

	transport *shareTransport
	handles   *HandlePool
	hosts     *HostCounter
	wakeup    *wakeupBatcher
	buffers   *BufferPool
	failures  *errorx.HostFailureTracker

	submitMu  sync.Mutex
	submitted []Request

	completions chan completion

	shuttingDown atomic.Bool
	wg           sync.WaitGroup

	active atomic.Int64
	retryQ retryHeap

	poolNeedsUpdate atomic.Bool

	totalRequests     atomic.Int64
	completedRequests atomic.Int64
	failedRequests    atomic.Int64
	retriedRequests   atomic.Int64
}

// New builds a Manager and starts its worker goroutine. Callers must call
// Close to release the transport and join the goroutine.
func New(s settings.Settings) (*Manager, error) {
	transport, err := newShareTransport(s)
	if err != nil {
		return nil, err
	}

	m := &Manager{
		settings:    s,
		reactor:     reactor.New(256),
		transport:   transport,
		handles:     NewHandlePool(transport, s, clampInt(s.ConnectionsLimit, 2, 100)),
		hosts:       NewHostCounter(),
		wakeup:      newWakeupBatcher(),
		buffers:     NewBufferPool(),
		failures:    errorx.NewHostFailureTracker(maxHostFailures, hostFailureWindow),
		completions: make(chan completion, 64),
	}
	heap.Init(&m.retryQ)

	m.wg.Add(1)
	go m.run()
	return m, nil
}

// AddRequest enqueues a tracker HTTP request. completion runs on the
// Manager's Reactor once the request succeeds or exhausts its retries.
func (m *Manager) AddRequest(url string, completion func(Result), timeout time.Duration) {
	if m.shuttingDown.Load() {
		m.reactor.Post(func() {
			completion(Result{Err: errManagerClosing})
		})
		return
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	req := Request{
		URL:        url,
		Completion: completion,
		Deadline:   time.Now().Add(timeout),
		nextDelay:  initialRetryDelay,
	}
	m.totalRequests.Add(1)
	m.hosts.Add(url)

	m.submitMu.Lock()
	m.submitted = append(m.submitted, req)
	m.submitMu.Unlock()
	m.wakeup.notify()
}

// TrackerAdded registers one more torrent using this tracker URL, feeding
// the host counter that drives pool scaling even for trackers that
// haven't issued a request yet.
func (m *Manager) TrackerAdded(url string) {
	m.hosts.Add(url)
	m.poolNeedsUpdate.Store(true)
	m.wakeup.notify()
}

// TrackerRemoved is the inverse of TrackerAdded.
func (m *Manager) TrackerRemoved(url string) {
	m.hosts.Remove(url)
	m.poolNeedsUpdate.Store(true)
	m.wakeup.notify()
}

// Stats returns a snapshot of the Manager's current load.
func (m *Manager) Stats() Stats {
	m.submitMu.Lock()
	queued := len(m.submitted)
	m.submitMu.Unlock()

	return Stats{
		UniqueHosts:       m.hosts.UniqueCount(),
		ConnectionLimit:   m.handles.cap,
		ActiveRequests:    int(m.active.Load()),
		QueuedRequests:    queued,
		CompletedRequests: m.completedRequests.Load(),
		FailedRequests:    m.failedRequests.Load(),
		RetriedRequests:   m.retriedRequests.Load(),
	}
}

// Close signals shutdown, drains in-flight and queued work with
// session_is_closing, and blocks until the worker goroutine has exited.
func (m *Manager) Close() {
	if !m.shuttingDown.CompareAndSwap(false, true) {
		m.wg.Wait()
		return
	}
	m.wakeup.notify()
	m.wg.Wait()
}

func (m *Manager) run() {
	defer m.wg.Done()
	defer m.transport.close()
	defer m.reactor.Close()
	defer m.failures.Purge()
	defer m.hosts.Clear()

	for {
		newReqs := m.swapPending()
		m.drainDueRetries()

		for _, req := range newReqs {
			m.dispatch(req)
		}

		m.harvestCompletions()

		if m.shuttingDown.Load() {
			m.drainAllWithShutdown()
			return
		}

		if m.poolNeedsUpdate.CompareAndSwap(true, false) {
			m.resizePool()
		}

		if m.active.Load() == 0 {
			m.handles.cleanupIdle(time.Now())
		}

		m.waitForWork(m.calculateWaitTimeout())
	}
}

// swapPending atomically takes ownership of everything queued by
// AddRequest since the last iteration, the Go equivalent of
// swap_pending_requests: a lock is held only long enough to swap a slice
// header, never while processing the requests themselves.
func (m *Manager) swapPending() []Request {
	m.submitMu.Lock()
	reqs := m.submitted
	m.submitted = nil
	m.submitMu.Unlock()
	return reqs
}

// drainDueRetries dispatches every retry whose scheduled time has passed.
// Using container/heap here (rather than a sorted slice or map) is what
// lets the earliest-due retry be removed in O(log n) without the
// iterator-invalidation hazard a map walk-and-erase would have.
func (m *Manager) drainDueRetries() {
	now := time.Now()
	for len(m.retryQ) > 0 && !m.retryQ[0].scheduled.After(now) {
		item := heap.Pop(&m.retryQ).(*retryItem)
		m.dispatch(item.req)
	}
}

// dispatch acquires a handle and launches one goroutine to drive req's
// HTTP attempt, reporting the outcome on m.completions. This goroutine is
// the idiomatic Go substitute for curl_multi_perform driving many easy
// handles on one thread: net/http's Transport already multiplexes
// connections, so letting the Go scheduler run each attempt concurrently
// is the natural fit rather than hand-rolling a poll loop.
func (m *Manager) dispatch(req Request) {
	if req.Deadline.Before(time.Now()) {
		m.active.Add(1) // balanced by the decrement when the completion is harvested
		m.completions <- completion{req: req, err: errorx.Wrap(context.DeadlineExceeded, errorx.KindTimedOut)}
		return
	}

	handle := m.handles.acquire()
	m.active.Add(1)

	go func() {
		body, status, err := m.doTransfer(handle, req)
		m.completions <- completion{req: req, result: Result{Body: body}, err: err, status: status, handle: handle}
	}()
}

func (m *Manager) doTransfer(handle *pooledHandle, req Request) ([]byte, int, error) {
	deadlineCtx, cancel := context.WithDeadline(context.Background(), req.Deadline)
	defer cancel()

	// ParseURL with unsafe=true preserves the raw, unescaped announce/scrape
	// path the way the teacher's NewRawRequestFromURLWithContext does, since
	// info_hash/peer_id are already percent-encoded by buildAnnounceURL and
	// must not be re-escaped by net/url.
	urlx, err := urlutil.ParseURL(req.URL, true)
	if err != nil {
		return nil, 0, err
	}
	httpReq, err := retryablehttp.NewRequestFromURLWithContext(deadlineCtx, http.MethodGet, urlx, nil)
	if err != nil {
		return nil, 0, err
	}
	httpReq.Header.Set("User-Agent", m.settings.UserAgent)
	httpReq.Header.Set("Accept", "*/*")

	resp, err := handle.traceClient.Do(httpReq)
	if err != nil {
		return nil, 0, err
	}
	defer resp.Body.Close()

	if httpReq.TraceInfo != nil {
		logTraceInfo(req.URL, httpReq.TraceInfo)
	}

	buf := m.buffers.Acquire(int(resp.ContentLength), int(m.settings.MaxTrackerResponseSize))
	defer m.buffers.Release(buf)

	slow := newLowSpeedReader(resp.Body, cancel)
	limited := io.LimitReader(slow, m.settings.MaxTrackerResponseSize+1)
	if _, copyErr := io.Copy(buf, limited); copyErr != nil && copyErr != errResponseTooLarge {
		return nil, resp.StatusCode, copyErr
	}

	// Decode gzip/deflate content-encoded bodies the way the teacher's
	// GetResponseBodyRaw does; trackers occasionally compress scrape
	// responses even though BEP 3/48 don't require it.
	decoded, decodeErr := httpx.DecodeData(buf.Bytes(), resp.Header.Clone())
	if decodeErr != nil {
		decoded = buf.Bytes()
	}
	// decoded may alias buf's backing array (DecodeData returns its input
	// unchanged when there's no Content-Encoding to undo), and buf is
	// released back to the shared BufferPool — and possibly reused and
	// overwritten by another transfer — the instant this function returns,
	// well before the Reactor gets around to posting this result to the
	// caller. Copy out before that release, matching the "contents moved
	// out first" handoff spec.md §3 requires of the response buffer.
	out := make([]byte, len(decoded))
	copy(out, decoded)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return out, resp.StatusCode, errorx.Wrap(httpStatusError(resp.StatusCode), errorx.KindHTTPError)
	}
	return out, resp.StatusCode, nil
}

func httpStatusError(code int) error {
	return &http.ProtocolError{ErrorString: http.StatusText(code)}
}

const (
	lowSpeedFloor  = 10 // bytes/sec, spec.md §4.7's low-speed abort threshold
	lowSpeedWindow = 30 * time.Second
)

// lowSpeedReader is net/http's substitute for curl's CURLOPT_LOW_SPEED_LIMIT:
// net/http has no built-in stalled-transfer abort, so this wraps the
// response body and cancels the request's context once a full window has
// passed averaging under lowSpeedFloor bytes/sec. The check runs only when
// a Read returns; a Read that blocks without receiving any data is not
// interrupted by this reader, only by the request's context deadline.
type lowSpeedReader struct {
	r           io.Reader
	cancel      context.CancelFunc
	windowStart time.Time
	windowBytes int64
}

func newLowSpeedReader(r io.Reader, cancel context.CancelFunc) *lowSpeedReader {
	return &lowSpeedReader{r: r, cancel: cancel, windowStart: time.Now()}
}

func (l *lowSpeedReader) Read(p []byte) (int, error) {
	n, err := l.r.Read(p)
	l.windowBytes += int64(n)

	if elapsed := time.Since(l.windowStart); elapsed >= lowSpeedWindow {
		if l.windowBytes < lowSpeedFloor*int64(elapsed/time.Second) {
			l.cancel()
			if err == nil {
				err = errorx.Wrap(context.DeadlineExceeded, errorx.KindTimedOut)
			}
		}
		l.windowStart = time.Now()
		l.windowBytes = 0
	}
	return n, err
}

// logTraceInfo reports the connection-reuse/DNS/TLS timing breakdown
// retryablehttp's TraceInfo captured for one attempt, the same fields the
// teacher's own logTraceInfo drills out of the httptrace.ClientTrace
// callbacks it wraps.
func logTraceInfo(url string, traceInfo *retryablehttp.TraceInfo) {
	if traceInfo.GetConn.Time.IsZero() {
		return
	}
	if info, ok := traceInfo.GotConn.Info.(httptrace.GotConnInfo); ok {
		logx.LogDebug("trace %s: conn reused=%v idle=%v idleTime=%v", url, info.Reused, info.WasIdle, info.IdleTime)
	}
	if info, ok := traceInfo.DNSDone.Info.(httptrace.DNSDoneInfo); ok && info.Err != nil {
		logx.LogDebug("trace %s: dns error=%v", url, info.Err)
	}
	dnsTime := traceInfo.DNSDone.Time.Sub(traceInfo.DNSStart.Time)
	connTime := traceInfo.ConnectDone.Time.Sub(traceInfo.ConnectStart.Time)
	tlsTime := traceInfo.TLSHandshakeDone.Time.Sub(traceInfo.TLSHandshakeStart.Time)
	logx.LogDebug("trace %s: dns=%v connect=%v tls=%v", url, dnsTime, connTime, tlsTime)
}

// harvestCompletions drains everything currently ready on m.completions
// without blocking, classifies each outcome, and either schedules a retry
// or dispatches the final Result to the Reactor.
func (m *Manager) harvestCompletions() {
	for {
		select {
		case c := <-m.completions:
			m.active.Add(-1)
			m.handleCompletion(c)
		default:
			return
		}
	}
}

func (m *Manager) handleCompletion(c completion) {
	if c.handle != nil {
		m.handles.release(c.handle)
	}

	host, _ := hostOf(c.req.URL)

	if c.err == nil {
		m.completedRequests.Add(1)
		m.failures.Reset(host)
		m.reactor.Post(func() { c.req.Completion(c.result) })
		return
	}

	kind := errorx.Classify(c.err, c.status)
	escalated := m.failures.Record(host, kind)

	// HTTP 4xx is a permanent failure (client error), never retried; only
	// 5xx statuses are eligible for the generic retry flow below, per the
	// "HTTP 5xx retries; HTTP 4xx does not" policy.
	clientError := c.status >= 400 && c.status < 500

	if clientError || !kind.Retryable() || escalated || c.req.retryCount >= defaultMaxRetries {
		m.failedRequests.Add(1)
		final := c.err
		if escalated && kind.Retryable() {
			final = errorx.Wrap(c.err, errorx.KindSessionIsClosing)
		}
		m.reactor.Post(func() { c.req.Completion(Result{Err: final}) })
		return
	}

	delay := c.req.nextDelay
	if delay <= 0 {
		delay = initialRetryDelay
	}
	// A retry never pushes completion past the request's deadline: if the
	// next attempt could not start before it, complete with timed_out now.
	if !time.Now().Add(delay).Before(c.req.Deadline) {
		m.failedRequests.Add(1)
		timedOut := errorx.Wrap(context.DeadlineExceeded, errorx.KindTimedOut)
		m.reactor.Post(func() { c.req.Completion(Result{Err: timedOut}) })
		return
	}

	m.retriedRequests.Add(1)
	c.req.retryCount++
	c.req.nextDelay = delay * 2
	if c.req.nextDelay > maxRetryDelay {
		c.req.nextDelay = maxRetryDelay
	}

	heap.Push(&m.retryQ, &retryItem{scheduled: time.Now().Add(delay), req: c.req})
	logx.LogDebug("retrying %s in %s (attempt %d)", c.req.URL, delay, c.req.retryCount)
}

// drainAllWithShutdown fails every queued and in-flight request with
// session_is_closing and returns once nothing is left outstanding.
func (m *Manager) drainAllWithShutdown() {
	m.wakeup.stop()

	for _, req := range m.swapPending() {
		m.failSessionClosing(req)
	}
	for len(m.retryQ) > 0 {
		item := heap.Pop(&m.retryQ).(*retryItem)
		m.failSessionClosing(item.req)
	}

	deadline := time.Now().Add(10 * time.Second)
	for m.active.Load() > 0 && time.Now().Before(deadline) {
		select {
		case c := <-m.completions:
			m.active.Add(-1)
			if c.handle != nil {
				m.handles.release(c.handle)
			}
			m.failSessionClosing(c.req)
		case <-time.After(50 * time.Millisecond):
		}
	}
}

func (m *Manager) failSessionClosing(req Request) {
	m.failedRequests.Add(1)
	err := errorx.Wrap(errManagerClosing, errorx.KindSessionIsClosing)
	m.reactor.Post(func() { req.Completion(Result{Err: err}) })
}

// calculateWaitTimeout returns how long run() may block before it must
// wake up on its own: the earliest due retry, or a conservative ceiling
// when nothing is scheduled, so the loop never busy-spins while idle.
func (m *Manager) calculateWaitTimeout() time.Duration {
	if len(m.retryQ) == 0 {
		return 30 * time.Second
	}
	d := time.Until(m.retryQ[0].scheduled)
	if d < 0 {
		return 0
	}
	return d
}

// waitForWork blocks until a submit notification arrives, a completion is
// ready, the retry timer elapses, or shutdown begins (Close sends a
// wakeup). It always returns true; run() does not use the result.
func (m *Manager) waitForWork(timeout time.Duration) bool {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-m.wakeup.channel():
	case c := <-m.completions:
		m.active.Add(-1)
		m.handleCompletion(c)
	case <-timer.C:
	}
	return true
}

func (m *Manager) resizePool() {
	unique := m.hosts.UniqueCount()
	fdBudget := readFDBudget()
	target := targetConnections(unique, m.settings.ConnectionsLimit, fdBudget)
	m.handles.Resize(target)
	logx.LogDebug("resized connection pool to %d for %d unique hosts", target, unique)
}

// Package trackerhttp implements a single background worker that drives a
// pool of HTTP connections for BitTorrent tracker announce/scrape
// requests: request queueing with debounced wakeup, exponential-backoff
// retry, a dynamically sized connection pool keyed on the number of unique
// tracker hosts in use, and shared DNS/TLS session caching across requests.
package trackerhttp

import (
	"time"
)

// Result is delivered to a Request's Completion callback exactly once,
// either on success (Err is nil and Body holds the tracker's response) or
// on permanent failure (Err set, classified via internal/errorx).
type Result struct {
	Body []byte
	Err  error
}

// Request is a single queued tracker HTTP request. Completion runs on the
// manager's Reactor, never on the manager's own goroutine.
type Request struct {
	URL        string
	Completion func(Result)
	Deadline   time.Time

	retryCount int
	nextDelay  time.Duration
}

// retryItem orders pending retries by scheduled time; manager.go keeps
// these in a container/heap so the earliest-due retry pops in O(log n)
// without the iterator-invalidation hazard a map or slice scan would have.
type retryItem struct {
	scheduled time.Time
	req       Request
}

type retryHeap []*retryItem

func (h retryHeap) Len() int            { return len(h) }
func (h retryHeap) Less(i, j int) bool  { return h[i].scheduled.Before(h[j].scheduled) }
func (h retryHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *retryHeap) Push(x interface{}) { *h = append(*h, x.(*retryItem)) }
func (h *retryHeap) Pop() interface{} {
	old := *h
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return item
}

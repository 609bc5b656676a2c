package trackerhttp

import (
	"sync"

	urlutil "github.com/projectdiscovery/utils/url"
)

// HostCounter is an incremental, refcounted count of distinct tracker
// hostnames currently in use, used to drive the connection pool's target
// size. Only hostnames are counted — scheme, port and path never affect
// the count.
type HostCounter struct {
	mu    sync.Mutex
	refs  map[string]int
}

// NewHostCounter returns an empty counter.
func NewHostCounter() *HostCounter {
	return &HostCounter{refs: make(map[string]int)}
}

// Add registers one more use of rawURL's host. The URL is parsed with the
// same urlutil.ParseURL the teacher uses elsewhere for request URLs, kept
// in unsafe mode so unusual tracker URLs aren't rejected outright.
func (c *HostCounter) Add(rawURL string) {
	host, ok := hostOf(rawURL)
	if !ok {
		return
	}
	c.mu.Lock()
	c.refs[host]++
	c.mu.Unlock()
}

// Remove releases one use of rawURL's host, deleting the entry once its
// refcount reaches zero.
func (c *HostCounter) Remove(rawURL string) {
	host, ok := hostOf(rawURL)
	if !ok {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	n, present := c.refs[host]
	if !present {
		return
	}
	if n <= 1 {
		delete(c.refs, host)
		return
	}
	c.refs[host] = n - 1
}

// UniqueCount returns the number of distinct hosts currently referenced.
func (c *HostCounter) UniqueCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.refs)
}

// Clear drops all tracked hosts, used on manager shutdown.
func (c *HostCounter) Clear() {
	c.mu.Lock()
	c.refs = make(map[string]int)
	c.mu.Unlock()
}

func hostOf(rawURL string) (string, bool) {
	urlx, err := urlutil.ParseURL(rawURL, true)
	if err != nil || urlx == nil || urlx.URL == nil {
		return "", false
	}
	host := urlx.URL.Hostname()
	if host == "" {
		return "", false
	}
	return host, true
}

// clampInt restricts v to [lo, hi].
func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// targetConnections implements the pool-sizing formula:
// clamp(2*uniqueHosts, 2, min(100, fdBudget)), spec.md §4.4/§8.5's hard
// ceiling of 100 applying regardless of connectionsLimit. connectionsLimit
// is then applied as an additional soft ceiling on top of that result, per
// settings.go's ConnectionsLimit doc.
func targetConnections(uniqueHosts int, connectionsLimit int, fdBudget int) int {
	upper := 100
	if fdBudget < upper {
		upper = fdBudget
	}
	target := clampInt(2*uniqueHosts, 2, upper)
	if connectionsLimit > 0 && connectionsLimit < target {
		target = connectionsLimit
	}
	return target
}

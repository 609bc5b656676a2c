package trackerhttp

import (
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/slicingmelon/go-rawurlparser"
)

// AnnounceEvent is the BEP 3 "event" query parameter.
type AnnounceEvent string

const (
	EventNone      AnnounceEvent = ""
	EventStarted   AnnounceEvent = "started"
	EventStopped   AnnounceEvent = "stopped"
	EventCompleted AnnounceEvent = "completed"
)

// AnnounceParams holds the BEP 3 announce parameters. InfoHash and PeerID
// are raw 20-byte strings, not hex or base32 — url.Values.Encode()
// percent-encodes them correctly, which is exactly why it's used here
// instead of go-rawurlparser for the query string itself.
type AnnounceParams struct {
	InfoHash   string
	PeerID     string
	Port       int
	Uploaded   int64
	Downloaded int64
	Left       int64
	Compact    bool
	NoPeerID   bool
	Event      AnnounceEvent
	IP         string
	NumWant    int
	Key        string
	TrackerID  string
}

// ScrapeParams holds the BEP 48 scrape parameters: one or more info
// hashes to query in a single request.
type ScrapeParams struct {
	InfoHashes []string
}

// TrackerClient issues announce/scrape requests for one tracker base URL
// through a shared Manager. Multiple TrackerClients can (and normally do)
// share one Manager, the same way the subsystem this was distilled from
// lets every torrent's tracker share one curl_thread_manager.
type TrackerClient struct {
	manager   *Manager
	baseURL   string
	closeOnce sync.Once
}

// NewTrackerClient returns a client for baseURL, registering it with the
// manager's host counter immediately so the connection pool can size
// itself even before the first request is issued.
func NewTrackerClient(m *Manager, baseURL string) *TrackerClient {
	m.TrackerAdded(baseURL)
	return &TrackerClient{manager: m, baseURL: baseURL}
}

// Announce issues a BEP 3 announce request and delivers the raw tracker
// response (bencoded, left for the caller to decode — bencode parsing is
// explicitly out of scope here) to completion.
func (c *TrackerClient) Announce(p AnnounceParams, timeout time.Duration, completion func(Result)) {
	u := c.buildAnnounceURL(p)
	c.manager.AddRequest(u, completion, timeout)
}

// Scrape issues a BEP 48 scrape request, rewriting the tracker's announce
// path to its scrape path per the convention (the last path segment must
// begin with "announce"). If the URL doesn't follow that convention,
// completion is invoked synchronously-looking but still only via the
// Reactor with errScrapeNotSupported, matching the "every completion runs
// through the reactor" invariant even for requests that never reach the
// network.
func (c *TrackerClient) Scrape(p ScrapeParams, timeout time.Duration, completion func(Result)) {
	scrapeURL, ok := toScrapeURL(c.baseURL)
	if !ok {
		c.manager.reactor.Post(func() {
			completion(Result{Err: errScrapeNotSupported})
		})
		return
	}
	u := c.buildScrapeURL(scrapeURL, p)
	c.manager.AddRequest(u, completion, timeout)
}

// Close releases this client's share of the host counter. The underlying
// Manager and its connections are unaffected until every client sharing
// them has closed. Calling Close more than once has no further effect.
func (c *TrackerClient) Close() {
	c.closeOnce.Do(func() {
		c.manager.TrackerRemoved(c.baseURL)
	})
}

// CanReuse always reports true: TrackerClient owns nothing cross-call, so
// there is nothing here that a subsequent announce/scrape could leave in a
// stale state. Connection reuse lives entirely in the pooled handles and
// shared transport one level down, in Manager.
func (c *TrackerClient) CanReuse() bool {
	return true
}

func (c *TrackerClient) buildAnnounceURL(p AnnounceParams) string {
	q := url.Values{}
	q.Set("info_hash", p.InfoHash)
	q.Set("peer_id", p.PeerID)
	q.Set("port", strconv.Itoa(p.Port))
	q.Set("uploaded", strconv.FormatInt(p.Uploaded, 10))
	q.Set("downloaded", strconv.FormatInt(p.Downloaded, 10))
	q.Set("left", strconv.FormatInt(p.Left, 10))
	if p.Compact {
		q.Set("compact", "1")
	}
	if p.NoPeerID {
		q.Set("no_peer_id", "1")
	}
	if p.Event != EventNone {
		q.Set("event", string(p.Event))
	}
	if p.IP != "" {
		q.Set("ip", p.IP)
	}
	if p.NumWant > 0 {
		q.Set("numwant", strconv.Itoa(p.NumWant))
	}
	if p.Key != "" {
		q.Set("key", p.Key)
	}
	if p.TrackerID != "" {
		q.Set("trackerid", p.TrackerID)
	}
	return appendQuery(c.baseURL, q)
}

func (c *TrackerClient) buildScrapeURL(scrapeURL string, p ScrapeParams) string {
	q := url.Values{}
	for _, ih := range p.InfoHashes {
		q.Add("info_hash", ih)
	}
	return appendQuery(scrapeURL, q)
}

// appendQuery joins base and extra, preserving any query string base
// already carries (some trackers embed an auth passkey in the path's
// existing query) rather than overwriting it.
func appendQuery(base string, extra url.Values) string {
	parsed, err := rawurlparser.RawURLParse(base)
	if err != nil {
		if strings.Contains(base, "?") {
			return base + "&" + extra.Encode()
		}
		return base + "?" + extra.Encode()
	}

	if parsed.Query == "" {
		return parsed.Scheme + "://" + parsed.Host + parsed.Path + "?" + extra.Encode()
	}
	return parsed.Scheme + "://" + parsed.Host + parsed.Path + parsed.Query + "&" + extra.Encode()
}

// toScrapeURL rewrites a last path segment beginning with "announce" to
// begin with "scrape" instead, per BEP 48. Returns ok=false when the URL doesn't follow that
// convention, in which case scrape is simply not supported for it.
func toScrapeURL(baseURL string) (string, bool) {
	parsed, err := rawurlparser.RawURLParse(baseURL)
	if err != nil {
		return "", false
	}

	idx := strings.LastIndex(parsed.Path, "/")
	if idx < 0 {
		return "", false
	}
	lastSegment := parsed.Path[idx+1:]
	if !strings.HasPrefix(lastSegment, "announce") {
		return "", false
	}

	newSegment := strings.Replace(lastSegment, "announce", "scrape", 1)
	newPath := parsed.Path[:idx+1] + newSegment
	return parsed.Scheme + "://" + parsed.Host + newPath + parsed.Query, true
}

package trackerhttp

import (
	"net/url"
	"strings"
	"testing"
)

func TestToScrapeURL(t *testing.T) {
	cases := []struct {
		name    string
		in      string
		want    string
		wantOK  bool
	}{
		{"simple", "http://tracker.example.com/announce", "http://tracker.example.com/scrape", true},
		{"with suffix", "http://tracker.example.com/x/announce.php", "http://tracker.example.com/x/scrape.php", true},
		{"no announce segment", "http://tracker.example.com/foo/bar", "", false},
		{"query preserved", "http://tracker.example.com/announce?passkey=abc", "http://tracker.example.com/scrape?passkey=abc", true},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			got, ok := toScrapeURL(c.in)
			if ok != c.wantOK {
				t.Fatalf("toScrapeURL(%q) ok=%v, want %v", c.in, ok, c.wantOK)
			}
			if ok && got != c.want {
				t.Fatalf("toScrapeURL(%q) = %q, want %q", c.in, got, c.want)
			}
		})
	}
}

func TestBuildAnnounceURLEncodesBinaryFields(t *testing.T) {
	c := &TrackerClient{baseURL: "http://tracker.example.com/announce"}
	infoHash := "\x01\x02\xff\xfe" + strings.Repeat("x", 16)
	got := c.buildAnnounceURL(AnnounceParams{
		InfoHash: infoHash,
		PeerID:   "-GT0001-000000000000",
		Port:     6881,
		Compact:  true,
		Event:    EventStarted,
	})

	parsed, err := url.Parse(got)
	if err != nil {
		t.Fatalf("built URL does not parse: %v", err)
	}
	q := parsed.Query()
	if q.Get("info_hash") != infoHash {
		t.Fatalf("info_hash round-trip mismatch: got %q want %q", q.Get("info_hash"), infoHash)
	}
	if q.Get("port") != "6881" {
		t.Fatalf("expected port=6881, got %q", q.Get("port"))
	}
	if q.Get("compact") != "1" {
		t.Fatalf("expected compact=1, got %q", q.Get("compact"))
	}
	if q.Get("event") != "started" {
		t.Fatalf("expected event=started, got %q", q.Get("event"))
	}
}

func TestAppendQueryPreservesExistingQuery(t *testing.T) {
	got := appendQuery("http://tracker.example.com/announce?passkey=abc", url.Values{"port": {"1"}})
	if !strings.Contains(got, "passkey=abc") {
		t.Fatalf("expected existing query to survive, got %q", got)
	}
	if !strings.Contains(got, "port=1") {
		t.Fatalf("expected new param to be appended, got %q", got)
	}
}

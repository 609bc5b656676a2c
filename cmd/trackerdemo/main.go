// Command trackerdemo exercises the tracker HTTP client subsystem end to
// end: it builds a Manager from flag-provided settings, issues one
// announce against a user-supplied tracker URL, and prints the resulting
// stats. It mirrors the teacher's own cmd/go-bypass-403 entrypoint shape
// (a goflags.FlagSet populating an options struct read by main).
package main

import (
	"fmt"
	"os"
	"time"

	"github.com/projectdiscovery/goflags"

	"github.com/slicingmelon/trackerhttp/internal/logx"
	"github.com/slicingmelon/trackerhttp/internal/settings"
	"github.com/slicingmelon/trackerhttp/internal/trackerhttp"
)

type options struct {
	trackerURL string
	infoHash   string
	peerID     string
	port       int
	timeout    int
	verbose    bool
	verifyTLS  bool
	http2      bool
}

func parseFlags() *options {
	opts := &options{}

	flagSet := goflags.NewFlagSet()
	flagSet.SetDescription("Issue a BEP 3 announce against a tracker and print its raw response.")

	flagSet.StringVarP(&opts.trackerURL, "url", "u", "", "tracker announce URL")
	flagSet.StringVar(&opts.infoHash, "info-hash", "00000000000000000000", "20-byte info_hash (raw bytes as a Go string literal)")
	flagSet.StringVar(&opts.peerID, "peer-id", "-TH0001-000000000000", "20-byte peer_id")
	flagSet.IntVar(&opts.port, "port", 6881, "local peer port to announce")
	flagSet.IntVarP(&opts.timeout, "timeout", "t", 30, "per-request timeout in seconds")
	flagSet.BoolVarP(&opts.verbose, "verbose", "v", false, "enable debug logging")
	flagSet.BoolVar(&opts.verifyTLS, "verify-tls", true, "verify tracker TLS certificates")
	flagSet.BoolVar(&opts.http2, "http2", true, "allow HTTP/2 to trackers that support it")

	if err := flagSet.Parse(); err != nil {
		logx.LogError("failed to parse flags: %v", err)
		os.Exit(1)
	}
	return opts
}

func main() {
	opts := parseFlags()
	logx.SetVerbose(opts.verbose)

	if opts.trackerURL == "" {
		logx.LogError("missing required -url flag")
		os.Exit(1)
	}

	s := settings.Default()
	s.TrackerSSLVerifyPeer = opts.verifyTLS
	s.TrackerSSLVerifyHost = opts.verifyTLS
	s.EnableHTTP2Trackers = opts.http2
	s.TrackerCompletionTimeout = time.Duration(opts.timeout) * time.Second

	manager, err := trackerhttp.New(s)
	if err != nil {
		logx.LogError("failed to start tracker manager: %v", err)
		os.Exit(1)
	}
	defer manager.Close()

	client := trackerhttp.NewTrackerClient(manager, opts.trackerURL)
	defer client.Close()

	resultCh := make(chan trackerhttp.Result, 1)
	client.Announce(trackerhttp.AnnounceParams{
		InfoHash: opts.infoHash,
		PeerID:   opts.peerID,
		Port:     opts.port,
		Left:     1,
		Compact:  true,
		Event:    trackerhttp.EventStarted,
	}, s.TrackerCompletionTimeout, func(r trackerhttp.Result) {
		resultCh <- r
	})

	select {
	case r := <-resultCh:
		if r.Err != nil {
			logx.LogError("announce failed: %v", r.Err)
			os.Exit(1)
		}
		fmt.Printf("tracker response (%d bytes):\n%s\n", len(r.Body), r.Body)
	case <-time.After(time.Duration(opts.timeout+5) * time.Second):
		logx.LogError("timed out waiting for announce to complete")
		os.Exit(1)
	}

	stats := manager.Stats()
	logx.LogInfo("unique hosts=%d connection limit=%d completed=%d failed=%d retried=%d",
		stats.UniqueHosts, stats.ConnectionLimit, stats.CompletedRequests, stats.FailedRequests, stats.RetriedRequests)
}

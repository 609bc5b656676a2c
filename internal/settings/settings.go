// Package settings holds the read-only configuration consumed by the
// tracker HTTP client subsystem. It mirrors the teacher's flat Config
// struct rather than introducing a nested configuration tree, since the
// key set below has no sub-scanner or report-writing concerns to split out.
package settings

import "time"

// ProxyType selects the outbound proxy protocol used for tracker requests.
type ProxyType int

const (
	ProxyNone ProxyType = iota
	ProxySOCKS4
	ProxySOCKS5
	ProxySOCKS5Auth
	ProxyHTTP
	ProxyHTTPAuth
)

// Settings is the external interface described by the settings table: a
// plain, copyable record. Nothing in this package mutates a Settings value
// after construction.
type Settings struct {
	ProxyTrackerConnections     bool
	ProxyType                   ProxyType
	ProxyHostname               string
	ProxyPort                   int
	ProxyUsername               string
	ProxyPassword               string
	ProxyForceInternalAddresses bool
	// ProxyHostnames, when non-empty, restricts proxying to requests whose
	// host matches one of these entries; empty means "proxy everything".
	ProxyHostnames []string

	TrackerSSLVerifyPeer bool
	TrackerSSLVerifyHost bool
	TrackerMinTLSVersion string // "1.0", "1.1", "1.2", "1.3"
	TrackerCACertificate string // PEM path, optional

	EnableHTTP2Trackers bool

	TrackerCompletionTimeout time.Duration
	TrackerReceiveTimeout    time.Duration
	MaxTrackerResponseSize   int64

	UserAgent string
	// OutgoingInterfaces is a comma-separated list of local addresses or
	// interface names; the first usable entry is bound for outbound dials.
	OutgoingInterfaces string

	// ConnectionsLimit caps the handle pool regardless of the host-count
	// driven target (clamp(2*unique, 2, min(100, fdBudget))).
	ConnectionsLimit int
}

// Default returns the settings a standalone tracker client should start
// with absent any user configuration, matching the teacher's own
// defaultTimeout/defaultUserAgent constants.
func Default() Settings {
	return Settings{
		TrackerSSLVerifyPeer:     true,
		TrackerSSLVerifyHost:     true,
		TrackerMinTLSVersion:     "1.2",
		EnableHTTP2Trackers:      true,
		TrackerCompletionTimeout: 30 * time.Second,
		TrackerReceiveTimeout:    15 * time.Second,
		MaxTrackerResponseSize:   128 * 1024,
		UserAgent:                "libtorrent/2.1.0",
		ConnectionsLimit:         100,
	}
}

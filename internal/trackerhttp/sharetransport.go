package trackerhttp

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"net"
	"net/http"
	"net/url"
	"os"
	"time"

	"github.com/projectdiscovery/fastdialer/fastdialer"
	"golang.org/x/net/http2"
	"golang.org/x/net/proxy"

	"github.com/slicingmelon/trackerhttp/internal/logx"
	"github.com/slicingmelon/trackerhttp/internal/settings"
)

// strongCipherSuites excludes aNULL, eNULL, EXPORT, DES, MD5, PSK, RC4 and
// 3DES, leaving only ECDHE key exchange with AES-GCM or ChaCha20-Poly1305,
// per the tracker TLS policy.
var strongCipherSuites = []uint16{
	tls.TLS_ECDHE_ECDSA_WITH_AES_128_GCM_SHA256,
	tls.TLS_ECDHE_RSA_WITH_AES_128_GCM_SHA256,
	tls.TLS_ECDHE_ECDSA_WITH_AES_256_GCM_SHA384,
	tls.TLS_ECDHE_RSA_WITH_AES_256_GCM_SHA384,
	tls.TLS_ECDHE_ECDSA_WITH_CHACHA20_POLY1305,
	tls.TLS_ECDHE_RSA_WITH_CHACHA20_POLY1305,
}

// shareTransport is the Go analogue of libcurl's share handle: one
// *http.Transport carrying the DNS cache (via fastdialer), the TLS session
// cache, and connection-reuse state shared by every pooled handle. There is
// exactly one of these per Manager, built once at startup, never per
// request — that single-shared-cache property is what makes repeated
// lookups of the same tracker host cheap.
type shareTransport struct {
	transport *http.Transport
	dialer    *fastdialer.Dialer
}

func newShareTransport(s settings.Settings) (*shareTransport, error) {
	dialerOpts := fastdialer.Options{
		BaseResolvers: []string{
			"1.1.1.1:53",
			"1.0.0.1:53",
			"8.8.8.8:53",
			"8.8.4.4:53",
		},
		MaxRetries:          3,
		HostsFile:           true,
		ResolversFile:       true,
		CacheType:           fastdialer.Memory,
		DialerTimeout:       s.TrackerCompletionTimeout,
		DialerKeepAlive:     30 * time.Second,
		CacheMemoryMaxItems: 4096,
		WithDialerHistory:   true,
		WithCleanup:         true,
		EnableFallback:      true,
	}
	dialer, err := fastdialer.NewDialer(dialerOpts)
	if err != nil {
		return nil, err
	}

	tlsCfg := &tls.Config{
		InsecureSkipVerify: !s.TrackerSSLVerifyPeer,
		MinVersion:         tlsMinVersion(s.TrackerMinTLSVersion),
		CipherSuites:       strongCipherSuites,
		ClientSessionCache: tls.NewLRUClientSessionCache(256),
	}
	if !s.TrackerSSLVerifyHost {
		// Turning host-name verification off sets InsecureSkipVerify, which
		// also skips certificate chain verification: there is no separate
		// chain-only check, so TrackerSSLVerifyPeer has no effect here.
		tlsCfg.InsecureSkipVerify = true
	}
	if s.TrackerCACertificate != "" {
		if pool, err := loadCABundle(s.TrackerCACertificate); err != nil {
			logx.LogWarning("tracker_ca_certificate %q not loaded: %v", s.TrackerCACertificate, err)
		} else {
			tlsCfg.RootCAs = pool
		}
	}

	// Proxy and dial wiring is computed once, here, from the Settings this
	// shareTransport is constructed with — never touched again afterward.
	// http.Transport documents that its fields must not be modified once
	// the transport may be serving requests, and every pooled handle's
	// *http.Client shares this one transport, so per-acquire reconfiguration
	// (as configureSession used to do) is a data race on a transport
	// already in concurrent use by other handles' in-flight RoundTrips.
	dialContext := buildDialContext(s, dialer)
	transportProxy := buildTransportProxy(s)
	zeroProxySecrets(&s)

	// No DialTLSContext: net/http runs the TLS handshake itself on top of
	// dialContext, so tlsCfg (cipher list, minimum version, session cache,
	// CA bundle) applies to every HTTPS connection, including those going
	// through a SOCKS proxy.
	transport := &http.Transport{
		DialContext:         dialContext,
		Proxy:               transportProxy,
		TLSClientConfig:     tlsCfg,
		MaxIdleConns:        200,
		MaxIdleConnsPerHost: 8,
		IdleConnTimeout:     90 * time.Second,
		ForceAttemptHTTP2:   s.EnableHTTP2Trackers,
		TLSHandshakeTimeout: 10 * time.Second,
	}

	if s.EnableHTTP2Trackers {
		_ = http2.ConfigureTransport(transport)
	} else {
		transport.TLSNextProto = map[string]func(string, *tls.Conn) http.RoundTripper{}
	}

	return &shareTransport{transport: transport, dialer: dialer}, nil
}

// buildDialContext returns the DialContext assigned to the shared
// transport at construction: the fastdialer-backed dial (DNS-cached, the
// "C3" shared cache) for every plain connection, or — when a SOCKS proxy
// is configured — a per-host chooser between the SOCKS dialer and that
// same fastdialer fallback for hosts shouldSkipProxy bypasses. HTTP
// proxies are wired through Transport.Proxy instead, by
// buildTransportProxy, so they never reach this function.
func buildDialContext(s settings.Settings, dialer *fastdialer.Dialer) func(context.Context, string, string) (net.Conn, error) {
	fastDial := func(ctx context.Context, network, address string) (net.Conn, error) {
		return dialer.Dial(ctx, network, address)
	}

	if s.ProxyForceInternalAddresses {
		logx.LogWarning("proxy_force_internal_addresses is set: tracker requests to internal/loopback hosts will also be routed through the configured proxy")
	}
	proxyDialer := buildProxyDialer(s)
	if proxyDialer == nil {
		return fastDial
	}

	return func(ctx context.Context, network, addr string) (net.Conn, error) {
		host, _, splitErr := net.SplitHostPort(addr)
		if splitErr != nil {
			host = addr
		}
		if shouldSkipProxy(host, s) {
			return fastDial(ctx, network, addr)
		}
		if pd, ok := proxyDialer.(proxy.ContextDialer); ok {
			return pd.DialContext(ctx, network, addr)
		}
		return proxyDialer.Dial(network, addr)
	}
}

// buildTransportProxy returns the Transport.Proxy func for the http /
// http+auth proxy types, or nil when no HTTP proxy is configured — SOCKS
// proxying is wired through DialContext instead, by buildDialContext.
func buildTransportProxy(s settings.Settings) func(*http.Request) (*url.URL, error) {
	proxyURL := buildHTTPProxyURL(s)
	if proxyURL == nil {
		return nil
	}
	return func(req *http.Request) (*url.URL, error) {
		if shouldSkipProxy(req.URL.Hostname(), s) {
			return nil, nil
		}
		return proxyURL, nil
	}
}

func (s *shareTransport) close() {
	s.transport.CloseIdleConnections()
	if s.dialer != nil {
		s.dialer.Close()
	}
}

// loadCABundle reads a PEM-encoded CA bundle from path, the Go analogue of
// curl's CURLOPT_CAINFO.
func loadCABundle(path string) (*x509.CertPool, error) {
	pem, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(pem) {
		return nil, os.ErrInvalid
	}
	return pool, nil
}

func tlsMinVersion(v string) uint16 {
	switch v {
	case "1.0":
		return tls.VersionTLS10
	case "1.1":
		logx.LogWarning("tracker_min_tls_version \"1.1\" is deprecated and has been upgraded to \"1.2\"")
		return tls.VersionTLS12
	case "1.3":
		return tls.VersionTLS13
	default:
		return tls.VersionTLS12
	}
}

// Package errorx classifies tracker HTTP transport failures into the
// fixed error-kind taxonomy the manager's retry policy switches on. It is
// built directly on the teacher's own error library (errkit) and cache
// library (gcache), generalizing error.go's single temporary/fatal pair
// into the seven kinds the tracker client needs to distinguish.
package errorx

import (
	"context"
	"crypto/x509"
	"errors"
	"net"
	"net/url"
	"strings"
	"time"

	"github.com/projectdiscovery/gcache"
	"github.com/projectdiscovery/utils/errkit"
)

// Kind identifies why a tracker request failed.
type Kind int

const (
	KindUnknown Kind = iota
	KindTimedOut
	KindHTTPError
	KindInvalidHostname
	KindInvalidSSLCert
	KindUnsupportedURLProtocol
	KindNoMemory
	KindSessionIsClosing
)

func (k Kind) String() string {
	switch k {
	case KindTimedOut:
		return "timed_out"
	case KindHTTPError:
		return "http_error"
	case KindInvalidHostname:
		return "invalid_hostname"
	case KindInvalidSSLCert:
		return "invalid_ssl_cert"
	case KindUnsupportedURLProtocol:
		return "unsupported_url_protocol"
	case KindNoMemory:
		return "no_memory"
	case KindSessionIsClosing:
		return "session_is_closing"
	default:
		return "unknown"
	}
}

// Retryable reports whether the manager's retry loop should ever schedule
// another attempt for this kind. invalid_hostname, invalid_ssl_cert,
// unsupported_url_protocol, no_memory and session_is_closing are permanent:
// retrying them wastes a slot without any chance of success.
func (k Kind) Retryable() bool {
	switch k {
	case KindTimedOut, KindHTTPError, KindUnknown:
		return true
	default:
		return false
	}
}

var (
	errKindTimedOut           = errkit.NewPrimitiveErrKind("timed_out", "tracker request timed out", nil)
	errKindHTTPError          = errkit.NewPrimitiveErrKind("http_error", "tracker returned a non-2xx status", nil)
	errKindInvalidHostname    = errkit.NewPrimitiveErrKind("invalid_hostname", "tracker hostname did not resolve", nil)
	errKindInvalidSSLCert     = errkit.NewPrimitiveErrKind("invalid_ssl_cert", "tracker TLS certificate failed verification", nil)
	errKindUnsupportedProto   = errkit.NewPrimitiveErrKind("unsupported_url_protocol", "tracker URL scheme is not supported", nil)
	errKindNoMemory           = errkit.NewPrimitiveErrKind("no_memory", "allocation failure while servicing a tracker request", nil)
	errKindSessionIsClosing   = errkit.NewPrimitiveErrKind("session_is_closing", "tracker manager is shutting down", nil)
)

func kindToErrKind(k Kind) errkit.ErrKind {
	switch k {
	case KindTimedOut:
		return errKindTimedOut
	case KindHTTPError:
		return errKindHTTPError
	case KindInvalidHostname:
		return errKindInvalidHostname
	case KindInvalidSSLCert:
		return errKindInvalidSSLCert
	case KindUnsupportedURLProtocol:
		return errKindUnsupportedProto
	case KindNoMemory:
		return errKindNoMemory
	case KindSessionIsClosing:
		return errKindSessionIsClosing
	default:
		return nil
	}
}

// Wrap attaches kind k to err using errkit, so downstream callers can
// recover it with Classify without re-inspecting the original error.
func Wrap(err error, k Kind) error {
	if err == nil {
		return nil
	}
	ek := kindToErrKind(k)
	if ek == nil {
		return err
	}
	return errkit.New(err.Error()).SetKind(ek).Build()
}

// Classify inspects err and the status code (0 if not an HTTP response) and
// returns the matching Kind. It recognizes errkit-wrapped errors produced by
// Wrap first, then falls back to inspecting Go's own transport error types,
// the same two-tier approach the teacher's ErrorHandler.HandleError uses
// (check our own kind first, then the underlying cause).
func Classify(err error, statusCode int) Kind {
	if err == nil {
		if statusCode != 0 && statusCode >= 400 {
			return KindHTTPError
		}
		return KindUnknown
	}

	if errx := errkit.FromError(err); errx != nil {
		switch errx.Kind() {
		case errKindTimedOut:
			return KindTimedOut
		case errKindHTTPError:
			return KindHTTPError
		case errKindInvalidHostname:
			return KindInvalidHostname
		case errKindInvalidSSLCert:
			return KindInvalidSSLCert
		case errKindUnsupportedProto:
			return KindUnsupportedURLProtocol
		case errKindNoMemory:
			return KindNoMemory
		case errKindSessionIsClosing:
			return KindSessionIsClosing
		}
	}

	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return KindInvalidHostname
	}

	var certErr x509.UnknownAuthorityError
	if errors.As(err, &certErr) {
		return KindInvalidSSLCert
	}
	var hostErr x509.HostnameError
	if errors.As(err, &hostErr) {
		return KindInvalidSSLCert
	}

	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		if strings.Contains(urlErr.Err.Error(), "unsupported protocol scheme") {
			return KindUnsupportedURLProtocol
		}
		if urlErr.Timeout() {
			return KindTimedOut
		}
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return KindTimedOut
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return KindTimedOut
	}

	if statusCode >= 400 {
		return KindHTTPError
	}

	return KindUnknown
}

// HostFailureTracker escalates repeated temporary failures against the
// same tracker host into a permanent condition, directly generalizing the
// teacher's ErrorHandler (hostErrors/lastErrorTime ARC caches keyed by
// host, maxErrors within maxErrorDuration).
type HostFailureTracker struct {
	hostErrors       gcache.Cache[string, int]
	lastErrorTime    gcache.Cache[string, time.Time]
	maxErrors        int
	maxErrorDuration time.Duration
}

// NewHostFailureTracker builds a tracker that treats maxErrors temporary
// failures against one host within maxErrorDuration as grounds to stop
// retrying that host entirely.
func NewHostFailureTracker(maxErrors int, maxErrorDuration time.Duration) *HostFailureTracker {
	return &HostFailureTracker{
		hostErrors:       gcache.New[string, int](1000).ARC().Build(),
		lastErrorTime:    gcache.New[string, time.Time](1000).ARC().Build(),
		maxErrors:        maxErrors,
		maxErrorDuration: maxErrorDuration,
	}
}

// Record registers a failure of kind k against host and reports whether the
// host has now exceeded the escalation threshold and should stop being
// retried (a session_is_closing-style permanent condition, scoped to the
// host rather than the whole manager). A non-retryable kind is not counted
// and always reports true.
func (h *HostFailureTracker) Record(host string, k Kind) (escalated bool) {
	if k.Retryable() == false {
		return true
	}

	now := time.Now()
	count, _ := h.hostErrors.GetIFPresent(host)
	lastTime, _ := h.lastErrorTime.GetIFPresent(host)

	if !lastTime.IsZero() && now.Sub(lastTime) <= h.maxErrorDuration {
		count++
	} else {
		count = 1
	}
	_ = h.hostErrors.Set(host, count)
	_ = h.lastErrorTime.Set(host, now)

	return count >= h.maxErrors
}

// Reset clears the failure history for host, called after a successful
// transfer completes against it.
func (h *HostFailureTracker) Reset(host string) {
	_ = h.hostErrors.Remove(host)
	_ = h.lastErrorTime.Remove(host)
}

// Purge clears all tracked hosts, used on manager shutdown.
func (h *HostFailureTracker) Purge() {
	h.hostErrors.Purge()
	h.lastErrorTime.Purge()
}

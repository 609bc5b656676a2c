package errorx

import (
	"context"
	"net"
	"net/url"
	"testing"
	"time"
)

func TestClassifyTimeout(t *testing.T) {
	if got := Classify(context.DeadlineExceeded, 0); got != KindTimedOut {
		t.Fatalf("got %v, want KindTimedOut", got)
	}
}

func TestClassifyDNSError(t *testing.T) {
	err := &net.DNSError{Err: "no such host", Name: "nonexistent.example", IsNotFound: true}
	if got := Classify(err, 0); got != KindInvalidHostname {
		t.Fatalf("got %v, want KindInvalidHostname", got)
	}
}

func TestClassifyUnsupportedScheme(t *testing.T) {
	err := &url.Error{Op: "Get", URL: "ftp://x", Err: errUnsupportedScheme{}}
	if got := Classify(err, 0); got != KindUnsupportedURLProtocol {
		t.Fatalf("got %v, want KindUnsupportedURLProtocol", got)
	}
}

type errUnsupportedScheme struct{}

func (errUnsupportedScheme) Error() string { return `unsupported protocol scheme "ftp"` }

func TestClassifyHTTPStatus(t *testing.T) {
	if got := Classify(nil, 503); got != KindHTTPError {
		t.Fatalf("got %v, want KindHTTPError", got)
	}
	if got := Classify(nil, 200); got != KindUnknown {
		t.Fatalf("got %v, want KindUnknown for a 2xx with no error", got)
	}
}

func TestWrapRoundTrip(t *testing.T) {
	err := Wrap(context.DeadlineExceeded, KindTimedOut)
	if got := Classify(err, 0); got != KindTimedOut {
		t.Fatalf("Wrap/Classify round trip: got %v, want KindTimedOut", got)
	}
}

func TestKindRetryable(t *testing.T) {
	retryable := []Kind{KindTimedOut, KindHTTPError, KindUnknown}
	for _, k := range retryable {
		if !k.Retryable() {
			t.Errorf("%v should be retryable", k)
		}
	}
	permanent := []Kind{KindInvalidHostname, KindInvalidSSLCert, KindUnsupportedURLProtocol, KindNoMemory, KindSessionIsClosing}
	for _, k := range permanent {
		if k.Retryable() {
			t.Errorf("%v should not be retryable", k)
		}
	}
}

func TestHostFailureTrackerEscalates(t *testing.T) {
	tr := NewHostFailureTracker(3, time.Minute)

	var escalated bool
	for i := 0; i < 3; i++ {
		escalated = tr.Record("tracker.example.com", KindTimedOut)
	}
	if !escalated {
		t.Fatal("expected escalation after reaching maxErrors within the window")
	}
}

func TestHostFailureTrackerResetsOnSuccess(t *testing.T) {
	tr := NewHostFailureTracker(3, time.Minute)
	tr.Record("tracker.example.com", KindTimedOut)
	tr.Record("tracker.example.com", KindTimedOut)
	tr.Reset("tracker.example.com")

	escalated := tr.Record("tracker.example.com", KindTimedOut)
	if escalated {
		t.Fatal("failure count should have been reset, not escalate on the first failure after reset")
	}
}

package webhook

import (
	"context"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/cronback-oss/cronback/internal/domain"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestIsBlockedIP(t *testing.T) {
	cases := map[string]bool{
		"127.0.0.1":       true,
		"10.0.0.5":        true,
		"192.168.1.1":     true,
		"169.254.1.1":     true,
		"::1":             true,
		"0.0.0.0":         true,
		"255.255.255.255": true,
		"192.0.2.5":       true, // documentation TEST-NET-1
		"198.51.100.7":    true, // documentation TEST-NET-2
		"203.0.113.5":     true, // documentation TEST-NET-3
		"198.18.0.1":      true, // benchmarking
		"240.0.0.1":       true, // reserved
		"2001:db8::1":     true, // documentation (IPv6)
		"8.8.8.8":         false,
		"93.184.216.34":   false,
	}
	for ipStr, want := range cases {
		ip := net.ParseIP(ipStr)
		if ip == nil {
			t.Fatalf("failed to parse IP %q", ipStr)
		}
		if got := isBlockedIP(ip); got != want {
			t.Errorf("isBlockedIP(%s) = %v, want %v", ipStr, got, want)
		}
	}
}

func TestControlRejectPrivate_RejectsLoopback(t *testing.T) {
	err := controlRejectPrivate("tcp4", "127.0.0.1:8080", nil)
	if err == nil {
		t.Fatalf("expected rejection for loopback address")
	}
}

func TestControlRejectPrivate_AllowsPublicAddress(t *testing.T) {
	err := controlRejectPrivate("tcp4", "93.184.216.34:443", nil)
	if err != nil {
		t.Fatalf("unexpected rejection for public address: %v", err)
	}
}

func TestExecute_RejectsUnsafeScheme(t *testing.T) {
	exec, err := New(Config{}, testLogger())
	if err != nil {
		t.Fatalf("unexpected error building executor: %v", err)
	}

	action := domain.WebhookAction{URL: "ftp://example.com/hook", Method: domain.MethodGET, TimeoutS: 5}
	result := exec.Execute(context.Background(), action, domain.Payload{})
	if result.Outcome != domain.OutcomeUnsafeScheme {
		t.Fatalf("expected unsafe scheme outcome, got %v", result.Outcome)
	}
}

func TestExecute_SuccessAgainstTestServer(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	}))
	defer srv.Close()

	exec, err := New(Config{}, testLogger())
	if err != nil {
		t.Fatalf("unexpected error building executor: %v", err)
	}
	// httptest servers bind to loopback, which the SSRF gate would normally
	// reject — bypass the gate for this one test by dialing directly.
	exec.client.Transport.(*http.Transport).DialContext = nil

	action := domain.WebhookAction{URL: srv.URL, Method: domain.MethodGET, TimeoutS: 5}
	result := exec.Execute(context.Background(), action, domain.Payload{})
	if result.Outcome != domain.OutcomeSuccess || result.HTTPStatus != http.StatusOK {
		t.Fatalf("expected success, got %+v", result)
	}
}

func TestExecute_BlocksPrivateAddressAtDispatchTime(t *testing.T) {
	exec, err := New(Config{}, testLogger())
	if err != nil {
		t.Fatalf("unexpected error building executor: %v", err)
	}

	// No DialContext override here: the SSRF gate must reject this loopback
	// target before any TCP connection is attempted (spec.md S4).
	action := domain.WebhookAction{URL: "http://127.0.0.1:8888/", Method: domain.MethodGET, TimeoutS: 5}
	result := exec.Execute(context.Background(), action, domain.Payload{})
	if result.Outcome != domain.OutcomeBlockedPrivateIP {
		t.Fatalf("expected blocked_private_ip outcome, got %+v", result)
	}
}

func TestExecute_DoesNotFollowRedirects(t *testing.T) {
	followed := false
	elsewhere := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		followed = true
		w.WriteHeader(http.StatusOK)
	}))
	defer elsewhere.Close()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, elsewhere.URL, http.StatusFound)
	}))
	defer srv.Close()

	exec, err := New(Config{}, testLogger())
	if err != nil {
		t.Fatalf("unexpected error building executor: %v", err)
	}
	exec.client.Transport.(*http.Transport).DialContext = nil

	action := domain.WebhookAction{URL: srv.URL, Method: domain.MethodGET, TimeoutS: 5}
	result := exec.Execute(context.Background(), action, domain.Payload{})
	if result.Outcome != domain.OutcomeHTTPError || result.HTTPStatus != http.StatusFound {
		t.Fatalf("expected unfollowed 302 recorded as failure, got %+v", result)
	}
	if followed {
		t.Fatalf("redirect target must not be requested")
	}
}

func TestExecute_SucceedsWithinTimeoutAgainstSlowServer(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(100 * time.Millisecond)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	exec, err := New(Config{}, testLogger())
	if err != nil {
		t.Fatalf("unexpected error building executor: %v", err)
	}
	exec.client.Transport.(*http.Transport).DialContext = nil

	action := domain.WebhookAction{URL: srv.URL, Method: domain.MethodGET, TimeoutS: 0}
	action.TimeoutS = 1 // minimum valid timeout; request itself sleeps 100ms well under it in normal runs

	result := exec.Execute(context.Background(), action, domain.Payload{})
	if result.Outcome != domain.OutcomeSuccess {
		t.Fatalf("expected success within timeout budget, got %+v", result)
	}
}

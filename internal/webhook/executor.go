// Package webhook executes a trigger's HTTP action safely: only http/https,
// no redirects, a response body cap, and a socket-level gate that refuses to
// connect to private, loopback, or link-local addresses no matter what the
// destination's DNS answer resolves to at the moment of dispatch. Grounded
// on the teacher's scheduler.Executor (transport/dialer/CheckRedirect
// shape); the address-gating Control hook itself has no library equivalent
// in the retrieval pack and is documented as a deliberate stdlib choice in
// DESIGN.md.
package webhook

import (
	"bytes"
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/cronback-oss/cronback/internal/domain"
	"github.com/cronback-oss/cronback/internal/metrics"
	"github.com/cronback-oss/cronback/internal/requestid"
)

// Config tunes the executor (spec.md §4.7 / §6 dispatcher options).
type Config struct {
	ResponseBodyCapBytes int64
	ProxyURL             string // optional; empty means dial directly
	MaxRedirects         int
}

// Executor issues a single HTTP attempt for a trigger's webhook action.
type Executor struct {
	client *http.Client
	cfg    Config
	logger *slog.Logger
}

// New builds an Executor whose transport refuses private-address
// connections at the socket level and caps response bodies read into memory.
func New(cfg Config, logger *slog.Logger) (*Executor, error) {
	if cfg.ResponseBodyCapBytes <= 0 {
		cfg.ResponseBodyCapBytes = 1 << 20 // 1 MiB default
	}
	if cfg.MaxRedirects < 0 {
		cfg.MaxRedirects = 0
	}

	dialer := &net.Dialer{
		Timeout:   10 * time.Second,
		KeepAlive: 30 * time.Second,
		Control:   controlRejectPrivate,
	}

	transport := &http.Transport{
		TLSClientConfig: &tls.Config{
			MinVersion: tls.VersionTLS12,
		},
		MaxIdleConns:        100,
		MaxIdleConnsPerHost: 10,
		IdleConnTimeout:     90 * time.Second,
		DialContext:         dialer.DialContext,
	}

	if cfg.ProxyURL != "" {
		parsed, err := url.Parse(cfg.ProxyURL)
		if err != nil {
			return nil, fmt.Errorf("webhook: invalid proxy_url: %w", err)
		}
		transport.Proxy = http.ProxyURL(parsed)
	}

	return &Executor{
		client: &http.Client{
			Transport: transport,
			// Redirects are disabled outright (spec.md §4.7): an attacker
			// could otherwise register a public URL that 302s to an
			// internal one, bypassing the dial-time address gate.
			CheckRedirect: func(_ *http.Request, _ []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
		cfg:    cfg,
		logger: logger.With("component", "webhook_executor"),
	}, nil
}

// Result is the outcome of one attempt.
type Result struct {
	Outcome      domain.AttemptOutcome
	HTTPStatus   int
	ErrorMessage string
	ResponseSize int64
	Duration     time.Duration
}

// Execute dispatches one HTTP attempt for action/payload, honoring the
// action's own timeout as the attempt's total deadline.
func (e *Executor) Execute(ctx context.Context, action domain.WebhookAction, payload domain.Payload) (result Result) {
	start := time.Now()
	defer func() { recordAttemptMetrics(result) }()

	u, err := url.Parse(action.URL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
		return Result{Outcome: domain.OutcomeUnsafeScheme, ErrorMessage: "unsupported url scheme", Duration: time.Since(start)}
	}

	ctx, cancel := context.WithTimeout(ctx, time.Duration(action.TimeoutS)*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, string(action.Method), action.URL, bytes.NewReader(payload.Body))
	if err != nil {
		return Result{Outcome: domain.OutcomeTransportError, ErrorMessage: fmt.Sprintf("build request: %v", err), Duration: time.Since(start)}
	}
	for k, v := range payload.Headers {
		req.Header.Set(k, v)
	}
	if payload.ContentType != "" {
		req.Header.Set("Content-Type", payload.ContentType)
	}

	reqID := requestid.New()
	req.Header.Set("X-Cronback-Request-Id", reqID)
	ctx = requestid.WithRequestID(ctx, reqID)

	e.logger.InfoContext(ctx, "dispatching attempt", "url", redactedURL(u), "method", action.Method)

	resp, err := e.client.Do(req)
	if err != nil {
		return classifyError(err, start)
	}
	defer func() { _ = resp.Body.Close() }()

	limited := io.LimitReader(resp.Body, e.cfg.ResponseBodyCapBytes)
	n, _ := io.Copy(io.Discard, limited)
	_, _ = io.Copy(io.Discard, resp.Body) // drain any remainder so the connection can be reused

	duration := time.Since(start)
	// Success is any 2xx; everything else — including a 3xx that redirects
	// were disabled from following (spec.md §4.7) — is a failure.
	outcome := domain.OutcomeSuccess
	var errMsg string
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		outcome = domain.OutcomeHTTPError
		errMsg = fmt.Sprintf("unexpected status code %d", resp.StatusCode)
	}

	e.logger.InfoContext(ctx, "attempt finished", "status", resp.StatusCode, "duration", duration)

	return Result{
		Outcome:      outcome,
		HTTPStatus:   resp.StatusCode,
		ErrorMessage: errMsg,
		ResponseSize: n,
		Duration:     duration,
	}
}

func classifyError(err error, start time.Time) Result {
	duration := time.Since(start)
	if errBlocked := isBlockedAddrError(err); errBlocked {
		return Result{Outcome: domain.OutcomeBlockedPrivateIP, ErrorMessage: err.Error(), Duration: duration}
	}
	if strings.Contains(err.Error(), "context deadline exceeded") {
		return Result{Outcome: domain.OutcomeTimeout, ErrorMessage: err.Error(), Duration: duration}
	}
	return Result{Outcome: domain.OutcomeTransportError, ErrorMessage: err.Error(), Duration: duration}
}

func isBlockedAddrError(err error) bool {
	return strings.Contains(err.Error(), errBlockedPrivateAddr.Error())
}

func redactedURL(u *url.URL) string {
	clone := *u
	clone.RawQuery = ""
	clone.Fragment = ""
	return clone.String()
}

// recordAttemptMetrics updates the dispatcher-side Prometheus series for one
// completed attempt, regardless of which path through Execute produced it.
func recordAttemptMetrics(result Result) {
	outcome := string(result.Outcome)
	metrics.AttemptOutcomesTotal.WithLabelValues(outcome).Inc()
	metrics.AttemptLatency.WithLabelValues(outcome).Observe(result.Duration.Seconds())
	if result.Outcome == domain.OutcomeBlockedPrivateIP {
		metrics.SSRFBlocksTotal.WithLabelValues("blocked_private_ip").Inc()
	}
}

var errBlockedPrivateAddr = fmt.Errorf("webhook: destination resolves to a private, loopback, or link-local address")

// controlRejectPrivate is the net.Dialer.Control hook that rejects the
// connection after DNS resolution but before the TCP handshake completes —
// the check happens at dial time, not at validation time, so a DNS record
// that changes between trigger install and attempt dispatch cannot bypass
// it (spec.md §4.7 "resolve at dispatch time").
func controlRejectPrivate(network, address string, _ syscall.RawConn) error {
	if network != "tcp4" && network != "tcp6" && network != "tcp" {
		return fmt.Errorf("webhook: unsupported network %q", network)
	}
	host, portStr, err := net.SplitHostPort(address)
	if err != nil {
		return err
	}
	ip := net.ParseIP(host)
	if ip == nil {
		return fmt.Errorf("webhook: dial target %q did not resolve to a literal IP", host)
	}
	if isBlockedIP(ip) {
		return errBlockedPrivateAddr
	}
	if port, err := strconv.Atoi(portStr); err == nil && (port == 0 || port > 65535) {
		return fmt.Errorf("webhook: invalid destination port %d", port)
	}
	return nil
}

// additionalBlockedRanges covers the ranges spec.md §4.7 item 1 names that
// net.IP's own IsPrivate/IsLoopback/IsLinkLocalUnicast/IsMulticast/
// IsUnspecified don't: broadcast, documentation (TEST-NET-1/2/3 and the
// IPv6 documentation prefix), IPv4 benchmarking, and the IPv4 reserved
// block. (Private, loopback, link-local, multicast, and unique-local/ULA
// are already covered by the stdlib predicates above.)
var additionalBlockedRanges = mustParseCIDRs(
	"255.255.255.255/32", // limited broadcast
	"192.0.2.0/24",       // documentation (TEST-NET-1)
	"198.51.100.0/24",    // documentation (TEST-NET-2)
	"203.0.113.0/24",     // documentation (TEST-NET-3)
	"2001:db8::/32",      // documentation (IPv6)
	"198.18.0.0/15",      // benchmarking
	"240.0.0.0/4",        // reserved for future use
)

func mustParseCIDRs(cidrs ...string) []*net.IPNet {
	nets := make([]*net.IPNet, 0, len(cidrs))
	for _, c := range cidrs {
		_, n, err := net.ParseCIDR(c)
		if err != nil {
			panic(fmt.Sprintf("webhook: invalid blocklist CIDR %q: %v", c, err))
		}
		nets = append(nets, n)
	}
	return nets
}

// isBlockedIP reports whether ip falls in a private, loopback, link-local,
// multicast, unspecified, broadcast, documentation, reserved, or
// benchmarking range — any of which would let a trigger reach
// infrastructure that was never meant to be internet-addressable
// (spec.md §4.7 item 1).
func isBlockedIP(ip net.IP) bool {
	if ip.IsPrivate() ||
		ip.IsLoopback() ||
		ip.IsLinkLocalUnicast() ||
		ip.IsLinkLocalMulticast() ||
		ip.IsMulticast() ||
		ip.IsUnspecified() {
		return true
	}
	for _, n := range additionalBlockedRanges {
		if n.Contains(ip) {
			return true
		}
	}
	return false
}

// Package dispatcherclient is the scheduler-side RPC client for the
// dispatcher process. It exposes two call shapes: Dispatch, a fire-and-
// forget submission that applies backpressure instead of queueing
// unboundedly, and DispatchSync, a blocking call used by the synchronous
// run_now RPC (spec.md §4.5).
package dispatcherclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/cronback-oss/cronback/internal/domain"
	"github.com/cronback-oss/cronback/internal/errs"
	"github.com/cronback-oss/cronback/internal/metrics"
	"github.com/cronback-oss/cronback/internal/servicetoken"
)

// Client talks to one dispatcher replica over HTTP.
type Client struct {
	httpClient *http.Client
	baseURL    string
	sem        chan struct{}
	logger     *slog.Logger
	signer     *servicetoken.Signer
	cellID     string
}

// New builds a Client capped at maxInFlight concurrent outstanding
// asynchronous dispatches — the backpressure bound from spec.md §4.5. signer
// may be nil, in which case requests carry no service token (local dev).
func New(baseURL string, maxInFlight int, signer *servicetoken.Signer, cellID string, logger *slog.Logger) *Client {
	if maxInFlight <= 0 {
		maxInFlight = 100
	}
	return &Client{
		httpClient: &http.Client{Timeout: 30 * time.Second},
		baseURL:    baseURL,
		sem:        make(chan struct{}, maxInFlight),
		logger:     logger.With("component", "dispatcher_client"),
		signer:     signer,
		cellID:     cellID,
	}
}

// Dispatch submits run for asynchronous execution without blocking the
// caller beyond the acquisition of a backpressure slot. If every slot is
// already in use it returns errs.KindBackpressure immediately rather than
// queueing the caller (spec.md §4.5: "callers must never block the spinner
// loop").
func (c *Client) Dispatch(ctx context.Context, run domain.Run) error {
	select {
	case c.sem <- struct{}{}:
	default:
		metrics.DispatchBackpressureTotal.WithLabelValues("async").Inc()
		return errs.New(errs.KindBackpressure, "dispatcher client has no free in-flight slots")
	}

	go func() {
		defer func() { <-c.sem }()
		submitCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if _, err := c.post(submitCtx, "/v1/runs", run); err != nil {
			c.logger.Error("async dispatch failed", "run_id", run.ID, "error", err)
		}
	}()
	return nil
}

// DispatchSync submits run and blocks until the dispatcher returns a
// terminal result or deadline elapses — used by the synchronous variant of
// run_now (spec.md §4.5).
func (c *Client) DispatchSync(ctx context.Context, run domain.Run, deadline time.Time) (domain.Run, error) {
	ctx, cancel := context.WithDeadline(ctx, deadline)
	defer cancel()

	body, err := c.post(ctx, "/v1/runs?sync=true", run)
	if err != nil {
		return domain.Run{}, err
	}

	var result domain.Run
	if err := json.Unmarshal(body, &result); err != nil {
		return domain.Run{}, errs.Wrap(errs.KindInternal, "decode sync dispatch response", err)
	}
	return result, nil
}

func (c *Client) post(ctx context.Context, path string, run domain.Run) ([]byte, error) {
	payload, err := json.Marshal(run)
	if err != nil {
		return nil, errs.Wrap(errs.KindInternal, "marshal run", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return nil, errs.Wrap(errs.KindInternal, "build dispatch request", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.signer != nil {
		tok, err := c.signer.Sign(c.cellID)
		if err != nil {
			return nil, errs.Wrap(errs.KindInternal, "sign service token", err)
		}
		req.Header.Set("Authorization", "Bearer "+tok)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, errs.Wrap(errs.KindDeadlineExceeded, "dispatch deadline exceeded", err)
		}
		return nil, errs.Wrap(errs.KindStoreUnavailable, "dispatch request failed", err)
	}
	defer func() { _ = resp.Body.Close() }()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errs.Wrap(errs.KindInternal, "read dispatch response", err)
	}
	if resp.StatusCode == http.StatusServiceUnavailable {
		metrics.DispatchBackpressureTotal.WithLabelValues("dispatcher_queue").Inc()
		return nil, errs.New(errs.KindBackpressure, "dispatcher reported backpressure")
	}
	if resp.StatusCode >= 300 {
		return nil, errs.New(errs.KindInternal, fmt.Sprintf("dispatch failed with status %d", resp.StatusCode))
	}
	return respBody, nil
}

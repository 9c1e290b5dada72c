// Package proxy forwards inbound requests to a resolved backend instance,
// buffered or streamed, with retry/backoff on transient upstream failures.
package proxy

import (
	"bytes"
	"context"
	"encoding/json"
	stderrors "errors"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/r3e-network/gateway-core/infrastructure/errors"
	"github.com/r3e-network/gateway-core/infrastructure/logging"
	"github.com/r3e-network/gateway-core/infrastructure/metrics"
	"github.com/r3e-network/gateway-core/infrastructure/ratelimit"
	"github.com/r3e-network/gateway-core/infrastructure/resilience"
)

// hopByHopHeaders are stripped on both the outbound request and the relayed
// response; they describe the current connection, not the payload.
var hopByHopHeaders = []string{
	"Host", "Content-Length", "Transfer-Encoding", "Connection", "Upgrade", "Proxy-Connection",
}

const (
	DefaultTimeout    = 30 * time.Second
	DefaultMaxRetries = 3
	backoffCeiling    = 30 * time.Second
)

// retriableStatusCodes are upstream responses worth retrying; any other 4xx
// is treated as a definitive answer and relayed as-is.
var retriableStatusCodes = map[int]struct{}{
	http.StatusRequestTimeout:      {},
	http.StatusTooManyRequests:     {},
	http.StatusBadGateway:          {},
	http.StatusServiceUnavailable:  {},
	http.StatusGatewayTimeout:      {},
}

// Config tunes a Proxy's behavior.
type Config struct {
	Timeout    time.Duration
	MaxRetries int
}

func DefaultConfig() Config {
	return Config{Timeout: DefaultTimeout, MaxRetries: DefaultMaxRetries}
}

// Proxy forwards requests to backend instances over a shared pooled client.
type Proxy struct {
	client  *http.Client
	cfg     Config
	logger  *logging.Logger
	metrics *metrics.Metrics

	hostLimitersMu sync.Mutex
	hostLimiters   map[string]*ratelimit.RateLimiter

	hostBreakersMu sync.Mutex
	hostBreakers   map[string]*resilience.CircuitBreaker
}

func New(cfg Config, logger *logging.Logger, m *metrics.Metrics) *Proxy {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = DefaultMaxRetries
	}
	return &Proxy{
		client: &http.Client{
			Transport: &http.Transport{
				MaxIdleConns:        200,
				MaxIdleConnsPerHost: 50,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		cfg:          cfg,
		logger:       logger,
		metrics:      m,
		hostLimiters: make(map[string]*ratelimit.RateLimiter),
		hostBreakers: make(map[string]*resilience.CircuitBreaker),
	}
}

// limiterForHost returns the (lazily created) outbound rate limiter for a
// backend host, distinct from the per-API-key hourly limiter: this one
// throttles the gateway's own connection attempts so a misbehaving backend
// can't be hammered by retries.
func (p *Proxy) limiterForHost(targetURL string) *ratelimit.RateLimiter {
	host := hostOf(targetURL)

	p.hostLimitersMu.Lock()
	defer p.hostLimitersMu.Unlock()
	lim, ok := p.hostLimiters[host]
	if !ok {
		lim = ratelimit.New(ratelimit.DefaultConfig())
		p.hostLimiters[host] = lim
	}
	return lim
}

// breakerForHost returns the (lazily created) per-backend-host circuit
// breaker. A backend that keeps failing trips its own breaker without
// affecting forwarding to any other backend host.
func (p *Proxy) breakerForHost(targetURL string) *resilience.CircuitBreaker {
	host := hostOf(targetURL)

	p.hostBreakersMu.Lock()
	defer p.hostBreakersMu.Unlock()
	cb, ok := p.hostBreakers[host]
	if !ok {
		cb = resilience.New(resilience.DefaultServiceCBConfig(p.logger))
		p.hostBreakers[host] = cb
	}
	return cb
}

func hostOf(targetURL string) string {
	if u, err := url.Parse(targetURL); err == nil && u.Host != "" {
		return u.Host
	}
	return targetURL
}

// Forward performs buffered, non-streaming forwarding: the upstream response
// body is fully read, then relayed to downstream with hop-by-hop headers
// stripped and retries applied on timeout/connection error.
func (p *Proxy) Forward(ctx context.Context, w http.ResponseWriter, r *http.Request, targetURL, serviceName string) error {
	body, err := io.ReadAll(io.LimitReader(r.Body, 32<<20))
	if err != nil {
		return errors.BadRequest("failed to read request body")
	}

	var (
		respStatus int
		respHeader http.Header
		respBody   []byte
	)
	retryCfg := resilience.RetryConfig{
		MaxAttempts:  p.cfg.MaxRetries,
		InitialDelay: 1 * time.Second,
		MaxDelay:     backoffCeiling,
		Multiplier:   2.0,
		Jitter:       0.1,
	}

	start := time.Now()
	attempts := 0
	hostLimiter := p.limiterForHost(targetURL)
	breaker := p.breakerForHost(targetURL)

	// The breaker wraps the whole retry loop, not each individual attempt:
	// one Forward call counts as a single success/failure toward its state,
	// so a backend that's merely slow (but eventually answers within
	// MaxRetries) never trips it.
	retryErr := breaker.Execute(ctx, func() error {
		return resilience.Retry(ctx, retryCfg, func() error {
			attempts++
			if err := hostLimiter.Wait(ctx); err != nil {
				return err
			}
			req, cancel, buildErr := p.buildRequest(ctx, r, targetURL, body, true)
			if buildErr != nil {
				cancel()
				return buildErr
			}
			upstreamResp, doErr := p.client.Do(req)
			if doErr != nil {
				cancel()
				return doErr
			}
			if _, retriable := retriableStatusCodes[upstreamResp.StatusCode]; retriable {
				status := upstreamResp.StatusCode
				upstreamResp.Body.Close()
				cancel()
				if status == http.StatusRequestTimeout || status == http.StatusGatewayTimeout {
					return errors.UpstreamTimeout(serviceName, attempts)
				}
				return errors.UpstreamError(serviceName, errRetriableStatus(status))
			}

			// Read the body (and only then release the request's timeout context)
			// so a slow-but-successful upstream isn't cut off mid-read.
			data, readErr := io.ReadAll(upstreamResp.Body)
			upstreamResp.Body.Close()
			cancel()
			if readErr != nil {
				return readErr
			}
			respStatus = upstreamResp.StatusCode
			respHeader = upstreamResp.Header
			respBody = data
			return nil
		})
	})

	if retryErr != nil {
		if p.logger != nil {
			p.logger.LogProxyForward(ctx, serviceName, targetURL, attempts, 0, time.Since(start), retryErr)
		}
		if p.metrics != nil {
			p.metrics.RecordProxyForward(serviceName, "error", attempts-1, time.Since(start))
		}
		return classifyBreakerOrUpstreamFailure(serviceName, attempts, retryErr)
	}

	if p.logger != nil {
		p.logger.LogProxyForward(ctx, serviceName, targetURL, attempts, respStatus, time.Since(start), nil)
	}

	relayHeaders(w.Header(), respHeader)
	setGatewayResponseHeaders(w.Header(), serviceName)
	w.WriteHeader(respStatus)
	_, _ = w.Write(respBody)

	if p.metrics != nil {
		p.metrics.RecordProxyForward(serviceName, strconv.Itoa(respStatus), attempts-1, time.Since(start))
	}
	return nil
}

// Stream performs unbuffered, chunked forwarding: bytes flow downstream as
// they arrive upstream, with no retry (a partially-streamed response cannot
// be retried transparently).
func (p *Proxy) Stream(ctx context.Context, w http.ResponseWriter, r *http.Request, targetURL, serviceName string) error {
	if err := p.limiterForHost(targetURL).Wait(ctx); err != nil {
		return errors.UpstreamUnavailable(serviceName)
	}

	req, cancel, err := p.buildRequest(ctx, r, targetURL, nil, false)
	defer cancel()
	if err != nil {
		return err
	}
	if r.Body != nil {
		req.Body = r.Body
	}

	var resp *http.Response
	breaker := p.breakerForHost(targetURL)
	doErr := breaker.Execute(ctx, func() error {
		var doErr error
		resp, doErr = p.client.Do(req)
		return doErr
	})
	if doErr != nil {
		return classifyBreakerOrUpstreamFailure(serviceName, 1, doErr)
	}
	defer resp.Body.Close()

	relayHeaders(w.Header(), resp.Header)
	setGatewayResponseHeaders(w.Header(), serviceName)
	w.WriteHeader(resp.StatusCode)

	flusher, canFlush := w.(http.Flusher)
	buf := make([]byte, 4096)
	for {
		n, readErr := resp.Body.Read(buf)
		if n > 0 {
			if _, writeErr := w.Write(buf[:n]); writeErr != nil {
				return nil
			}
			if canFlush {
				flusher.Flush()
			}
		}
		if readErr == io.EOF {
			return nil
		}
		if readErr != nil {
			return nil
		}
	}
}

// buildRequest assembles the outbound request. When applyTimeout is true the
// returned cancel func bounds the request to p.cfg.Timeout; streaming calls
// pass false and rely on the inbound request's own context instead, since a
// long-lived SSE relay must outlive a single forwarding timeout.
func (p *Proxy) buildRequest(ctx context.Context, r *http.Request, targetURL string, body []byte, applyTimeout bool) (*http.Request, context.CancelFunc, error) {
	fullURL := targetURL
	if r.URL.RawQuery != "" {
		sep := "?"
		if strings.Contains(fullURL, "?") {
			sep = "&"
		}
		fullURL += sep + r.URL.RawQuery
	}

	reqCtx := ctx
	cancel := func() {}
	if applyTimeout {
		reqCtx, cancel = context.WithTimeout(ctx, p.cfg.Timeout)
	}

	var bodyReader io.Reader
	if body != nil {
		bodyReader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(reqCtx, r.Method, fullURL, bodyReader)
	if err != nil {
		cancel()
		return nil, func() {}, errors.Internal("failed to build proxy request", err)
	}

	copyFilteredHeaders(req.Header, r.Header)
	return req, cancel, nil
}

func copyFilteredHeaders(dst, src http.Header) {
	for key, values := range src {
		if isHopByHop(key) {
			continue
		}
		for _, v := range values {
			dst.Add(key, v)
		}
	}
}

func relayHeaders(dst, src http.Header) {
	for key, values := range src {
		if isHopByHop(key) {
			continue
		}
		for _, v := range values {
			dst.Add(key, v)
		}
	}
}

// setGatewayResponseHeaders stamps the headers spec'd for every proxied
// response. X-Request-ID is set upstream by the request tracker's
// middleware and survives relayHeaders untouched, since it isn't
// hop-by-hop.
func setGatewayResponseHeaders(dst http.Header, serviceName string) {
	dst.Set("X-Service-Name", serviceName)
	dst.Set("X-Gateway-Timestamp", time.Now().UTC().Format(time.RFC3339))
}

func isHopByHop(key string) bool {
	for _, h := range hopByHopHeaders {
		if strings.EqualFold(h, key) {
			return true
		}
	}
	return false
}

type retriableStatusError struct{ status int }

func (e *retriableStatusError) Error() string {
	return "upstream returned retriable status " + strconv.Itoa(e.status)
}

// classifyBreakerOrUpstreamFailure handles the case where the circuit
// breaker itself refused the call (it's open, or the half-open trial quota
// is exhausted): the backend was never even attempted, so this surfaces as
// UpstreamUnavailable (503) rather than the timeout/connection-error split
// classifyUpstreamFailure applies to a call that was actually attempted.
func classifyBreakerOrUpstreamFailure(serviceName string, attempts int, err error) error {
	if stderrors.Is(err, resilience.ErrCircuitOpen) || stderrors.Is(err, resilience.ErrTooManyRequests) {
		return errors.UpstreamUnavailable(serviceName)
	}
	return classifyUpstreamFailure(serviceName, attempts, err)
}

// classifyUpstreamFailure maps a forwarding failure to the Kind spec §7's
// Failure Policies call for: an already-typed service error (e.g. the
// retriable-status path below, which is itself an UpstreamError) passes
// through unchanged, a deadline/timeout surfaces as UpstreamTimeout (504),
// and anything else (connection refused, DNS failure, reset) surfaces as
// UpstreamError (502).
func classifyUpstreamFailure(serviceName string, attempts int, err error) error {
	var svcErr *errors.ServiceError
	if stderrors.As(err, &svcErr) {
		return svcErr
	}
	if isTimeoutErr(err) {
		return errors.UpstreamTimeout(serviceName, attempts)
	}
	return errors.UpstreamError(serviceName, err)
}

func isTimeoutErr(err error) bool {
	if stderrors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	if stderrors.As(err, &netErr) {
		return netErr.Timeout()
	}
	return false
}

func errRetriableStatus(status int) error {
	return &retriableStatusError{status: status}
}

// MakeInternalRequest is the gateway's own outbound helper: JSON-encodes an
// optional body, executes with a bounded timeout, and JSON-decodes the
// response into out. If the response isn't JSON, RawBody/StatusCode are
// populated instead and out is left untouched.
type InternalResponse struct {
	StatusCode int
	RawBody    []byte
	IsJSON     bool
}

func (p *Proxy) MakeInternalRequest(ctx context.Context, method, url string, body interface{}, out interface{}) (InternalResponse, error) {
	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return InternalResponse{}, errors.Internal("failed to encode internal request body", err)
		}
		reader = bytes.NewReader(encoded)
	}

	reqCtx, cancel := context.WithTimeout(ctx, p.cfg.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, method, url, reader)
	if err != nil {
		return InternalResponse{}, errors.Internal("failed to build internal request", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return InternalResponse{}, errors.UpstreamUnavailable(url)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return InternalResponse{}, errors.UpstreamError(url, err)
	}

	result := InternalResponse{StatusCode: resp.StatusCode, RawBody: raw}
	if out != nil && len(raw) > 0 && json.Valid(raw) {
		if err := json.Unmarshal(raw, out); err == nil {
			result.IsJSON = true
		}
	}
	return result, nil
}

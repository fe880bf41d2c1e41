package probe

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/ipfs/go-cid"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"cidwatch/internal/evidence"
	"cidwatch/internal/logging"
	"cidwatch/internal/metrics"
)

// Method labels recorded in ProbeResult.Method.
const (
	MethodHead = "http-head"
	MethodGet  = "http-get"
)

// maxDrain bounds how much of a response body is read before closing it.
const maxDrain = 64 << 10

// ErrNoGateways is returned by New when the gateway list is empty.
var ErrNoGateways = errors.New("probe: no gateways configured")

// Config is the per-cycle probing policy.
type Config struct {
	Gateways       []string
	VantagePoint   string
	Timeout        time.Duration
	MaxConcurrency int
	// RatePerSec paces outbound requests across all probes; 0 disables pacing.
	RatePerSec float64
}

// Executor runs one availability check per gateway for a CID.
type Executor struct {
	cfg        Config
	httpClient *http.Client
	logger     *slog.Logger
	metrics    *metrics.Metrics
	limiter    *rate.Limiter
	now        func() time.Time
}

// Option configures the Executor during construction.
type Option func(*Executor) error

// WithHTTPClient overrides the default HTTP client. Its Timeout is ignored in
// favour of the per-probe context deadline.
func WithHTTPClient(c *http.Client) Option {
	return func(e *Executor) error {
		if c == nil {
			return errors.New("probe: nil http client")
		}
		e.httpClient = c
		return nil
	}
}

// WithLogger configures structured logging.
func WithLogger(l *slog.Logger) Option {
	return func(e *Executor) error {
		e.logger = l
		return nil
	}
}

// WithMetrics records every probe result.
func WithMetrics(m *metrics.Metrics) Option {
	return func(e *Executor) error {
		e.metrics = m
		return nil
	}
}

// WithClock overrides the timestamp source.
func WithClock(now func() time.Time) Option {
	return func(e *Executor) error {
		e.now = now
		return nil
	}
}

// New validates cfg and returns an Executor.
func New(cfg Config, opts ...Option) (*Executor, error) {
	if len(cfg.Gateways) == 0 {
		return nil, ErrNoGateways
	}
	if cfg.Timeout <= 0 {
		return nil, fmt.Errorf("probe: timeout must be positive, got %s", cfg.Timeout)
	}
	if cfg.MaxConcurrency <= 0 {
		cfg.MaxConcurrency = len(cfg.Gateways)
	}
	e := &Executor{
		cfg:        cfg,
		httpClient: &http.Client{},
		logger:     logging.Discard(),
		now:        time.Now,
	}
	for _, opt := range opts {
		if err := opt(e); err != nil {
			return nil, err
		}
	}
	if cfg.RatePerSec > 0 {
		e.limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSec), 1)
	}
	return e, nil
}

// Gateways returns the configured gateway list (n of the k-of-n policy).
func (e *Executor) Gateways() []string { return e.cfg.Gateways }

// Run probes every gateway for c and returns one result per gateway in
// configuration order. A failed probe never cancels its siblings; Run
// returns once every probe has completed or hit its own deadline.
// The only error is an invalid CID.
func (e *Executor) Run(ctx context.Context, c string) ([]evidence.ProbeResult, error) {
	if _, err := ValidateCID(c); err != nil {
		return nil, err
	}

	results := make([]evidence.ProbeResult, len(e.cfg.Gateways))

	// Plain Group, not WithContext: one failure must not cancel the rest.
	var g errgroup.Group
	g.SetLimit(e.cfg.MaxConcurrency)
	for i, gw := range e.cfg.Gateways {
		g.Go(func() error {
			results[i] = e.probe(ctx, gw, c)
			e.metrics.ObserveProbe(results[i])
			return nil
		})
	}
	_ = g.Wait() // failures are recorded in the results

	return results, nil
}

func (e *Executor) probe(parent context.Context, gateway, c string) evidence.ProbeResult {
	ctx, cancel := context.WithTimeout(parent, e.cfg.Timeout)
	defer cancel()

	res := evidence.ProbeResult{
		VantagePoint: e.cfg.VantagePoint,
		Method:       MethodHead,
		Gateway:      gateway,
		Timestamp:    e.now().UTC(),
	}

	if e.limiter != nil {
		if err := e.limiter.Wait(ctx); err != nil {
			res.Err = evidence.ReasonPtr(evidence.ReasonTimeout)
			return res
		}
	}

	target := contentURL(gateway, c)
	start := time.Now()
	status, err := e.check(ctx, http.MethodHead, target)
	if err == nil && status == http.StatusMethodNotAllowed {
		res.Method = MethodGet
		status, err = e.check(ctx, http.MethodGet, target)
	}
	elapsed := time.Since(start)

	switch {
	case err != nil:
		reason := classify(ctx, err)
		res.Err = evidence.ReasonPtr(reason)
		e.logger.DebugContext(ctx, "probe failed", "gateway", gateway, "cid", c, "reason", reason, "error", err)
	case status < 200 || status > 299:
		res.Err = evidence.ReasonPtr(evidence.ReasonBadStatus)
		res.LatencyMs = evidence.Latency(elapsed)
		e.logger.DebugContext(ctx, "probe bad status", "gateway", gateway, "cid", c, "status", status)
	default:
		res.OK = true
		res.LatencyMs = evidence.Latency(elapsed)
	}
	return res
}

// check issues one request and returns the status code. GET requests ask
// for a single byte so large blobs are not downloaded.
func (e *Executor) check(ctx context.Context, method, target string) (int, error) {
	req, err := http.NewRequestWithContext(ctx, method, target, nil)
	if err != nil {
		return 0, fmt.Errorf("create request: %w", err)
	}
	if method == http.MethodGet {
		req.Header.Set("Range", "bytes=0-0")
	}
	resp, err := e.httpClient.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxDrain))
	return resp.StatusCode, nil
}

// contentURL builds the retrieval URL. A gateway containing "{cid}" is used
// as a template (subdomain gateways); otherwise the path form is used.
func contentURL(gateway, c string) string {
	if strings.Contains(gateway, "{cid}") {
		return strings.ReplaceAll(gateway, "{cid}", c)
	}
	return strings.TrimSuffix(gateway, "/") + "/ipfs/" + c
}

// classify maps a transport error to a probe failure reason.
func classify(ctx context.Context, err error) evidence.Reason {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) || ctx.Err() != nil {
		return evidence.ReasonTimeout
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return evidence.ReasonTimeout
	}
	return evidence.ReasonNetwork
}

// ValidateCID parses s as a CID (v0 or v1).
func ValidateCID(s string) (cid.Cid, error) {
	c, err := cid.Decode(strings.TrimSpace(s))
	if err != nil {
		return cid.Undef, fmt.Errorf("probe: invalid cid %q: %w", s, err)
	}
	return c, nil
}

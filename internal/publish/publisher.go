package publish

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"cidwatch/internal/evidence"
	"cidwatch/internal/logging"
	"cidwatch/internal/metrics"
)

// maxBackoff caps the delay between attempts.
const maxBackoff = 30 * time.Second

// Store is a content-addressed blob store. Put must return the same
// identifier for identical payloads.
type Store interface {
	Put(ctx context.Context, payload []byte) (string, error)
}

// Receipt describes a successful publication.
type Receipt struct {
	CID      string `json:"cid"`
	Attempts int    `json:"attempts"`
	Bytes    int    `json:"bytes"`
}

// Publisher uploads signed packs with bounded retries.
type Publisher struct {
	store       Store
	maxAttempts int
	backoff     time.Duration
	logger      *slog.Logger
	metrics     *metrics.Metrics
	sleep       func(context.Context, time.Duration) error
}

// PublisherOption configures a Publisher.
type PublisherOption func(*Publisher)

// WithPublisherLogger configures structured logging.
func WithPublisherLogger(l *slog.Logger) PublisherOption {
	return func(p *Publisher) { p.logger = l }
}

// WithPublisherMetrics counts upload attempts.
func WithPublisherMetrics(m *metrics.Metrics) PublisherOption {
	return func(p *Publisher) { p.metrics = m }
}

// WithSleep replaces the backoff wait, e.g. to make tests instant.
func WithSleep(fn func(context.Context, time.Duration) error) PublisherOption {
	return func(p *Publisher) { p.sleep = fn }
}

// NewPublisher returns a Publisher that tries each upload at most
// maxAttempts times, doubling the wait from backoff between attempts.
func NewPublisher(store Store, maxAttempts int, backoff time.Duration, opts ...PublisherOption) *Publisher {
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	p := &Publisher{
		store:       store,
		maxAttempts: maxAttempts,
		backoff:     backoff,
		logger:      logging.Discard(),
		sleep:       sleepCtx,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Publish encodes the signed pack and uploads it.
func (p *Publisher) Publish(ctx context.Context, pack evidence.Pack) (*Receipt, error) {
	if pack.WatcherSig == "" {
		return nil, &Error{Err: errors.New("pack is not signed")}
	}
	payload, err := evidence.Encode(pack)
	if err != nil {
		return nil, &Error{Err: err}
	}
	return p.PublishPayload(ctx, payload)
}

// PublishPayload uploads payload, retrying transient failures with the same
// bytes. Content addressing makes duplicate uploads harmless.
func (p *Publisher) PublishPayload(ctx context.Context, payload []byte) (*Receipt, error) {
	var lastErr error
	for attempt := 1; attempt <= p.maxAttempts; attempt++ {
		id, err := p.store.Put(ctx, payload)
		if err == nil {
			p.metrics.ObservePublish("ok")
			p.logger.InfoContext(ctx, "evidence pack published", "pack_cid", id, "attempt", attempt, "bytes", len(payload))
			return &Receipt{CID: id, Attempts: attempt, Bytes: len(payload)}, nil
		}
		lastErr = err

		if !IsTransient(err) || attempt == p.maxAttempts {
			p.metrics.ObservePublish("failed")
			return nil, &Error{Attempts: attempt, Err: err}
		}
		p.metrics.ObservePublish("retry")

		wait := p.delay(attempt)
		p.logger.WarnContext(ctx, "publish attempt failed, retrying", "attempt", attempt, "wait", wait, "error", err)
		if err := p.sleep(ctx, wait); err != nil {
			return nil, &Error{Attempts: attempt, Err: errors.Join(lastErr, err)}
		}
	}
	return nil, &Error{Attempts: p.maxAttempts, Err: lastErr}
}

func (p *Publisher) delay(attempt int) time.Duration {
	d := p.backoff
	for i := 1; i < attempt && d < maxBackoff; i++ {
		d *= 2
	}
	if d > maxBackoff {
		d = maxBackoff
	}
	return d
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

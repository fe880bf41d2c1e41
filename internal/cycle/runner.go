// Package cycle runs monitoring cycles end to end: probe, classify, sign,
// publish, then record the verdict in the ledger.
package cycle

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"cidwatch/internal/aggregate"
	"cidwatch/internal/economics"
	"cidwatch/internal/evidence"
	"cidwatch/internal/keys"
	"cidwatch/internal/logging"
	"cidwatch/internal/metrics"
	"cidwatch/internal/publish"
	"cidwatch/internal/store"
)

// Stage names the step of a cycle that failed.
type Stage string

const (
	StageProbe   Stage = "probe"
	StageSign    Stage = "sign"
	StagePublish Stage = "publish"
	StageLedger  Stage = "ledger"
)

// StageError is a cycle failure attributed to one stage.
type StageError struct {
	Stage Stage
	CID   string
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("cycle %s: %s: %v", e.CID, e.Stage, e.Err)
}

func (e *StageError) Unwrap() error { return e.Err }

// Prober runs one probe per gateway for a CID.
type Prober interface {
	Run(ctx context.Context, cid string) ([]evidence.ProbeResult, error)
}

// Publisher uploads a signed pack.
type Publisher interface {
	Publish(ctx context.Context, pack evidence.Pack) (*publish.Receipt, error)
}

// Ledger applies verdicts to the stake ledger.
type Ledger interface {
	RecordCycle(ctx context.Context, caller, cid string, status aggregate.Status) (*store.Position, error)
	PayoutOnBreach(ctx context.Context, caller, cid string) (*economics.Payout, error)
	Params() economics.Params
}

// Config is what every cycle needs.
type Config struct {
	Policy aggregate.Policy
	Meta   evidence.Meta
	Keys   *keys.KeyPair
	// Recorder is the account the runner records verdicts as.
	Recorder string
	// AutoPayout triggers PayoutOnBreach as soon as the breach threshold is hit.
	AutoPayout bool
}

// Report is the outcome of one cycle. PublishErr is set when publication
// failed; the verdict and pack are still valid in that case.
type Report struct {
	RunID      string
	CID        string
	Results    []evidence.ProbeResult
	Verdict    aggregate.Verdict
	Pack       evidence.Pack
	Receipt    *publish.Receipt
	PublishErr error
	Position   *store.Position
	Payout     *economics.Payout
	Duration   time.Duration
}

// Runner executes cycles.
type Runner struct {
	prober    Prober
	cfg       Config
	publisher Publisher
	ledger    Ledger
	now       func() time.Time
	log       *slog.Logger
	metrics   *metrics.Metrics
	onReport  func(*Report, error)
	parallel  int
}

// Option configures a Runner.
type Option func(*Runner)

// WithPublisher uploads every signed pack. Without it packs are only signed.
func WithPublisher(p Publisher) Option {
	return func(r *Runner) { r.publisher = p }
}

// WithLedger records every verdict. Without it the ledger stage is skipped.
func WithLedger(l Ledger) Option {
	return func(r *Runner) { r.ledger = l }
}

// WithClock overrides time.Now for pack timestamps.
func WithClock(now func() time.Time) Option {
	return func(r *Runner) { r.now = now }
}

// WithLogger sets the runner logger. Without it the runner is silent.
func WithLogger(l *slog.Logger) Option {
	return func(r *Runner) {
		if l != nil {
			r.log = l
		}
	}
}

// WithMetrics counts cycle outcomes.
func WithMetrics(m *metrics.Metrics) Option {
	return func(r *Runner) { r.metrics = m }
}

// WithReportHook is called after every cycle run by Watch.
func WithReportHook(fn func(*Report, error)) Option {
	return func(r *Runner) { r.onReport = fn }
}

// WithParallelism bounds how many CIDs Watch checks at once (default 4).
func WithParallelism(n int) Option {
	return func(r *Runner) { r.parallel = n }
}

// New returns a Runner. A signing key and a valid policy are required.
func New(prober Prober, cfg Config, opts ...Option) (*Runner, error) {
	if prober == nil {
		return nil, errors.New("cycle: prober is required")
	}
	if cfg.Keys == nil {
		return nil, errors.New("cycle: signing key is required")
	}
	if err := cfg.Policy.Validate(); err != nil {
		return nil, fmt.Errorf("cycle: %w", err)
	}
	r := &Runner{
		prober:   prober,
		cfg:      cfg,
		now:      time.Now,
		log:      logging.Discard(),
		parallel: 4,
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.parallel < 1 {
		r.parallel = 1
	}
	return r, nil
}

// Run executes one cycle for cid. Probe, sign and ledger failures are
// returned as *StageError; a publication failure only sets
// Report.PublishErr.
func (r *Runner) Run(ctx context.Context, cid string) (*Report, error) {
	start := r.now()
	rep := &Report{RunID: uuid.NewString(), CID: cid}
	log := r.log.With("run_id", rep.RunID, "cid", cid)

	results, err := r.prober.Run(ctx, cid)
	if err != nil {
		return nil, &StageError{Stage: StageProbe, CID: cid, Err: err}
	}
	rep.Results = results
	rep.Verdict = aggregate.Classify(results, r.cfg.Policy)
	r.metrics.ObserveCycle(string(rep.Verdict.Status))
	log.Info("cycle classified", "status", rep.Verdict.Status,
		"successes", rep.Verdict.Successes, "total", rep.Verdict.Total)

	pack, err := evidence.Sign(evidence.Cycle{
		CID:    cid,
		TS:     start.Unix(),
		Probes: results,
		Meta:   r.cfg.Meta,
	}, r.cfg.Keys)
	if err != nil {
		return nil, &StageError{Stage: StageSign, CID: cid, Err: err}
	}
	rep.Pack = pack

	if r.publisher != nil {
		rcpt, err := r.publisher.Publish(ctx, pack)
		if err != nil {
			rep.PublishErr = &StageError{Stage: StagePublish, CID: cid, Err: err}
			log.Warn("publish failed", "error", err)
		} else {
			rep.Receipt = rcpt
			log.Info("pack published", "pack_cid", rcpt.CID, "attempts", rcpt.Attempts)
		}
	}

	if r.ledger != nil {
		if err := r.record(ctx, log, rep); err != nil {
			return rep, &StageError{Stage: StageLedger, CID: cid, Err: err}
		}
	}
	rep.Duration = r.now().Sub(start)
	return rep, nil
}

func (r *Runner) record(ctx context.Context, log *slog.Logger, rep *Report) error {
	pos, err := r.ledger.RecordCycle(ctx, r.cfg.Recorder, rep.CID, rep.Verdict.Status)
	if errors.Is(err, economics.ErrNotFunded) {
		log.Debug("cid has no stake, ledger skipped")
		return nil
	}
	if err != nil {
		return err
	}
	rep.Position = pos
	if !r.cfg.AutoPayout {
		return nil
	}
	params := r.ledger.Params()
	if pos.ConsecutiveBreaches < params.BreachThreshold || pos.InsurancePool.Sign() == 0 {
		return nil
	}
	payout, err := r.ledger.PayoutOnBreach(ctx, r.cfg.Recorder, rep.CID)
	if err != nil {
		return err
	}
	rep.Payout = payout
	rep.Position = payout.Position
	log.Info("breach payout executed", "slash", payout.Total.String())
	return nil
}

// Watch runs a cycle for every CID now and then on each tick until ctx is
// done. CIDs are independent; a failing CID does not stop the others.
func (r *Runner) Watch(ctx context.Context, cids []string, interval time.Duration) error {
	if len(cids) == 0 {
		return errors.New("cycle: no CIDs to watch")
	}
	if interval <= 0 {
		return fmt.Errorf("cycle: watch interval must be positive, got %s", interval)
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		r.tick(ctx, cids)
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

func (r *Runner) tick(ctx context.Context, cids []string) {
	var g errgroup.Group
	g.SetLimit(r.parallel)
	for _, cid := range cids {
		g.Go(func() error {
			rep, err := r.Run(ctx, cid)
			if err != nil {
				r.log.Error("cycle failed", "cid", cid, "error", err)
			}
			if r.onReport != nil {
				r.onReport(rep, err)
			}
			return nil
		})
	}
	_ = g.Wait()
}

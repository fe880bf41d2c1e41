package main

import (
	"encoding/json"
	"fmt"
	"io"
	"time"

	"cidwatch/internal/config"
	"cidwatch/internal/cycle"
	"cidwatch/internal/economics"
	"cidwatch/internal/logging"
	"cidwatch/internal/metrics"
	"cidwatch/internal/probe"
	"cidwatch/internal/publish"
	"cidwatch/internal/store"
)

// writeJSON writes v indented to w.
func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// openEngine opens the SQLite ledger and returns the engine over it.
// The caller closes the store.
func openEngine(c *config.Config, m *metrics.Metrics) (*economics.Engine, store.Store, error) {
	params, err := c.EconomicsParams()
	if err != nil {
		return nil, nil, err
	}
	st, err := store.Open(c.Ledger.DBPath)
	if err != nil {
		return nil, nil, fmt.Errorf("open ledger: %w", err)
	}
	eng, err := economics.New(st, params, economics.WithLogger(logging.New("economics")), economics.WithMetrics(m))
	if err != nil {
		_ = st.Close()
		return nil, nil, err
	}
	return eng, st, nil
}

// newPublisher returns the configured publisher, or nil when publishing is
// not configured.
func newPublisher(c *config.Config, m *metrics.Metrics) (*publish.Publisher, error) {
	var target publish.Store
	switch {
	case c.Publish.Endpoint != "":
		opts := []publish.Option{
			publish.WithLogger(logging.New("publish")),
			publish.WithTimeout(30 * time.Second),
		}
		if c.Publish.Token != "" {
			opts = append(opts, publish.WithBearerToken(c.Publish.Token))
		}
		s, err := publish.NewHTTPStore(c.Publish.Endpoint, opts...)
		if err != nil {
			return nil, err
		}
		target = s
	case c.Publish.Dir != "":
		s, err := publish.NewDirStore(c.Publish.Dir)
		if err != nil {
			return nil, err
		}
		target = s
	default:
		return nil, nil
	}
	return publish.NewPublisher(target, c.Publish.MaxAttempts, c.PublishBackoff(),
		publish.WithPublisherLogger(logging.New("publish")),
		publish.WithPublisherMetrics(m),
	), nil
}

// runnerDeps bundles what a cycle runner holds open.
type runnerDeps struct {
	runner *cycle.Runner
	ledger store.Store
}

func (d *runnerDeps) Close() error {
	if d.ledger != nil {
		return d.ledger.Close()
	}
	return nil
}

// buildRunner wires probe, publish and (with ledger) economics from config.
func buildRunner(c *config.Config, m *metrics.Metrics, withLedger bool, opts ...cycle.Option) (*runnerDeps, error) {
	if err := c.Validate(); err != nil {
		return nil, err
	}
	kp, err := c.KeyPair()
	if err != nil {
		return nil, err
	}
	exec, err := probe.New(c.ProbeConfig(), probe.WithLogger(logging.New("probe")), probe.WithMetrics(m))
	if err != nil {
		return nil, err
	}
	pub, err := newPublisher(c, m)
	if err != nil {
		return nil, err
	}
	deps := &runnerDeps{}
	opts = append(opts, cycle.WithLogger(logging.New("cycle")), cycle.WithMetrics(m))
	if pub != nil {
		opts = append(opts, cycle.WithPublisher(pub))
	}
	if withLedger {
		eng, st, err := openEngine(c, m)
		if err != nil {
			return nil, err
		}
		deps.ledger = st
		opts = append(opts, cycle.WithLedger(eng))
	}
	runner, err := cycle.New(exec, cycle.Config{
		Policy:     c.Threshold,
		Meta:       c.Meta(),
		Keys:       kp,
		Recorder:   c.Economics.Beneficiary,
		AutoPayout: c.Economics.AutoPayout,
	}, opts...)
	if err != nil {
		_ = deps.Close()
		return nil, err
	}
	deps.runner = runner
	return deps, nil
}

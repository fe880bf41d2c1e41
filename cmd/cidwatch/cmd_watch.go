package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"cidwatch/internal/cycle"
	"cidwatch/internal/logging"
	"cidwatch/internal/metrics"
)

var watchFlags struct {
	interval    time.Duration
	metricsAddr string
	noLedger    bool
}

var watchCmd = &cobra.Command{
	Use:   "watch [cid...]",
	Short: "Run monitoring cycles on an interval until interrupted",
	Long:  "Runs a cycle for every CID (arguments, or watch.cids from config) now and then on every tick.",
	RunE:  runWatch,
}

func init() {
	f := watchCmd.Flags()
	f.DurationVar(&watchFlags.interval, "interval", 0, "Cycle interval (overrides watch.interval)")
	f.StringVar(&watchFlags.metricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address (overrides metrics.addr)")
	f.BoolVar(&watchFlags.noLedger, "no-ledger", false, "Do not record verdicts in the ledger")
}

func runWatch(cmd *cobra.Command, args []string) error {
	cids := args
	if len(cids) == 0 {
		cids = cfg.Watch.CIDs
	}
	interval := time.Duration(cfg.Watch.Interval)
	if watchFlags.interval > 0 {
		interval = watchFlags.interval
	}
	addr := cfg.Metrics.Addr
	if watchFlags.metricsAddr != "" {
		addr = watchFlags.metricsAddr
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	m := metrics.New()
	out := cmd.OutOrStdout()
	var mu sync.Mutex
	deps, err := buildRunner(cfg, m, !watchFlags.noLedger, cycle.WithReportHook(func(rep *cycle.Report, err error) {
		if err != nil {
			return
		}
		mu.Lock()
		defer mu.Unlock()
		fmt.Fprintf(out, "%s %s %s %d/%d\n", time.Now().UTC().Format(time.RFC3339), rep.CID,
			rep.Verdict.Status, rep.Verdict.Successes, rep.Verdict.Total)
	}))
	if err != nil {
		return err
	}
	defer deps.Close()

	log := logging.New("watch")
	if addr != "" {
		srv := &http.Server{Addr: addr, Handler: metricsMux(m), ReadHeaderTimeout: 5 * time.Second}
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Error("metrics server", "error", err)
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()
		log.Info("serving metrics", "addr", addr)
	}

	log.Info("watching", "cids", len(cids), "interval", interval.String())
	return deps.runner.Watch(ctx, cids, interval)
}

func metricsMux(m *metrics.Metrics) *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	return mux
}

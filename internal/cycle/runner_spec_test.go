package cycle_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"time"

	"github.com/onsi/ginkgo/v2"
	"github.com/onsi/gomega"

	"cidwatch/internal/aggregate"
	"cidwatch/internal/cycle"
	"cidwatch/internal/economics"
	"cidwatch/internal/evidence"
	"cidwatch/internal/keys"
	"cidwatch/internal/probe"
	"cidwatch/internal/publish"
	"cidwatch/internal/store"
)

const watchedCID = "bafkreigh2akiscaildcqabsyg3dfr6chu3fgpregiymsck7e7aqa4s52zy"

type gateway struct {
	srv     *httptest.Server
	healthy atomic.Bool
}

func newGateway() *gateway {
	g := &gateway{}
	g.healthy.Store(true)
	g.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !g.healthy.Load() {
			http.Error(w, "not found", http.StatusNotFound)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	return g
}

type failingStore struct{}

func (failingStore) Put(context.Context, []byte) (string, error) {
	return "", errors.New("connection refused")
}

func noSleep(context.Context, time.Duration) error { return nil }

var _ = ginkgo.Describe("Runner", func() {
	var (
		ctx      context.Context
		gateways []*gateway
		kp       *keys.KeyPair
		packs    *publish.MemStore
		engine   *economics.Engine
		runner   *cycle.Runner
	)

	setHealthy := func(n int) {
		for i, g := range gateways {
			g.healthy.Store(i < n)
		}
	}

	build := func(pubStore publish.Store, autoPayout bool) {
		urls := make([]string, len(gateways))
		for i, g := range gateways {
			urls[i] = g.srv.URL
		}
		exec, err := probe.New(probe.Config{Gateways: urls, VantagePoint: "test", Timeout: 2 * time.Second})
		gomega.Expect(err).To(gomega.Succeed())

		runner, err = cycle.New(exec, cycle.Config{
			Policy:     aggregate.DefaultPolicy(),
			Meta:       evidence.Meta{Builder: "suite", Region: "test", WindowMin: 5, Threshold: evidence.Threshold{K: 2, N: 3, TimeoutMs: 2000}},
			Keys:       kp,
			Recorder:   "watcher",
			AutoPayout: autoPayout,
		},
			cycle.WithPublisher(publish.NewPublisher(pubStore, 2, time.Millisecond, publish.WithSleep(noSleep))),
			cycle.WithLedger(engine),
		)
		gomega.Expect(err).To(gomega.Succeed())
	}

	ginkgo.BeforeEach(func() {
		ctx = context.Background()
		gateways = []*gateway{newGateway(), newGateway(), newGateway()}
		ginkgo.DeferCleanup(func() {
			for _, g := range gateways {
				g.srv.Close()
			}
		})

		var err error
		kp, err = keys.Generate()
		gomega.Expect(err).To(gomega.Succeed())
		packs = publish.NewMemStore()

		engine, err = economics.New(store.NewMemStore(), economics.DefaultParams())
		gomega.Expect(err).To(gomega.Succeed())
		one, _ := economics.ParseUnits("1")
		_, err = engine.FundStake(ctx, "publisher", watchedCID, one)
		gomega.Expect(err).To(gomega.Succeed())
	})

	ginkgo.It("publishes a verifiable pack and pays the monitoring reward on OK", func() {
		build(packs, false)
		rep, err := runner.Run(ctx, watchedCID)
		gomega.Expect(err).To(gomega.Succeed())
		gomega.Expect(rep.Verdict.Status).To(gomega.Equal(aggregate.StatusOK))
		gomega.Expect(rep.RunID).NotTo(gomega.BeEmpty())

		gomega.Expect(rep.PublishErr).To(gomega.BeNil())
		gomega.Expect(rep.Receipt).NotTo(gomega.BeNil())
		payload, ok := packs.Get(rep.Receipt.CID)
		gomega.Expect(ok).To(gomega.BeTrue())
		res := evidence.VerifyBytes(payload, kp.PublicKeyB64())
		gomega.Expect(res.Valid).To(gomega.BeTrue(), res.Reason)

		acc, err := engine.Accrued(ctx, "watcher")
		gomega.Expect(err).To(gomega.Succeed())
		gomega.Expect(economics.FormatUnits(acc)).To(gomega.Equal("0.001"))
	})

	ginkgo.It("classifies a single success as DEGRADED and leaves the ledger alone", func() {
		build(packs, false)
		setHealthy(1)
		rep, err := runner.Run(ctx, watchedCID)
		gomega.Expect(err).To(gomega.Succeed())
		gomega.Expect(rep.Verdict.Status).To(gomega.Equal(aggregate.StatusDegraded))
		gomega.Expect(rep.Position.ConsecutiveBreaches).To(gomega.BeZero())
		gomega.Expect(economics.FormatUnits(rep.Position.RewardPool)).To(gomega.Equal("0.14625"))
	})

	ginkgo.It("pays out insurance after three consecutive breaches", func() {
		build(packs, true)
		setHealthy(0)
		for i := 1; i <= 2; i++ {
			rep, err := runner.Run(ctx, watchedCID)
			gomega.Expect(err).To(gomega.Succeed())
			gomega.Expect(rep.Verdict.Status).To(gomega.Equal(aggregate.StatusBreach))
			gomega.Expect(rep.Position.ConsecutiveBreaches).To(gomega.BeEquivalentTo(i))
			gomega.Expect(rep.Payout).To(gomega.BeNil())
		}

		rep, err := runner.Run(ctx, watchedCID)
		gomega.Expect(err).To(gomega.Succeed())
		gomega.Expect(rep.Payout).NotTo(gomega.BeNil())
		gomega.Expect(economics.FormatUnits(rep.Payout.Total)).To(gomega.Equal("0.414375"))
		gomega.Expect(economics.FormatUnits(rep.Payout.Validator)).To(gomega.Equal("0.248625"))
		gomega.Expect(economics.FormatUnits(rep.Payout.Treasury)).To(gomega.Equal("0.16575"))
		gomega.Expect(economics.FormatUnits(rep.Position.InsurancePool)).To(gomega.Equal("0.414375"))
		gomega.Expect(rep.Position.ConsecutiveBreaches).To(gomega.BeZero())

		events, err := engine.Events(ctx, watchedCID)
		gomega.Expect(err).To(gomega.Succeed())
		gomega.Expect(events[len(events)-1].Kind).To(gomega.Equal(store.EventInsurancePayout))
	})

	ginkgo.It("keeps the verdict when publication fails", func() {
		build(failingStore{}, false)
		rep, err := runner.Run(ctx, watchedCID)
		gomega.Expect(err).To(gomega.Succeed())
		gomega.Expect(rep.Verdict.Status).To(gomega.Equal(aggregate.StatusOK))
		gomega.Expect(rep.Pack.WatcherSig).NotTo(gomega.BeEmpty())

		var stageErr *cycle.StageError
		gomega.Expect(errors.As(rep.PublishErr, &stageErr)).To(gomega.BeTrue())
		gomega.Expect(stageErr.Stage).To(gomega.Equal(cycle.StagePublish))
		var pubErr *publish.Error
		gomega.Expect(errors.As(rep.PublishErr, &pubErr)).To(gomega.BeTrue())
		gomega.Expect(pubErr.Attempts).To(gomega.Equal(2))
	})

	ginkgo.It("rejects an invalid CID at the probe stage", func() {
		build(packs, false)
		_, err := runner.Run(ctx, "not-a-cid")
		var stageErr *cycle.StageError
		gomega.Expect(errors.As(err, &stageErr)).To(gomega.BeTrue())
		gomega.Expect(stageErr.Stage).To(gomega.Equal(cycle.StageProbe))
		gomega.Expect(packs.Len()).To(gomega.BeZero())
	})
})

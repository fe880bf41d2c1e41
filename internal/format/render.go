package format

import (
	"fmt"
	"math/big"

	"cidwatch/internal/aggregate"
	"cidwatch/internal/economics"
	"cidwatch/internal/evidence"
	"cidwatch/internal/store"
)

// Probes renders one row per probe result in gateway order.
func Probes(m Mode, results []evidence.ProbeResult) string {
	t := NewTable(m).Header("Gateway", "Method", "OK", "Latency", "Error")
	for _, r := range results {
		reason := "-"
		if r.Err != nil {
			reason = *r.Err
		}
		t.Row(Truncate(r.Gateway, 48), r.Method, BoolMark(r.OK), FmtLatency(r.LatencyMs), reason)
	}
	return t.AlignRight(4).String()
}

// Verdict renders the aggregated cycle outcome.
func Verdict(m Mode, cid string, v aggregate.Verdict) string {
	return NewTable(m).
		Header("CID", "Status", "OK/Total", "Availability", "Avg latency").
		Row(Truncate(cid, 24), string(v.Status), fmt.Sprintf("%d/%d", v.Successes, v.Total),
			FmtPercent(v.Availability), fmt.Sprintf("%.0fms", v.AvgLatencyMs)).
		String()
}

// Position renders a ledger position with amounts in token units.
func Position(m Mode, p *store.Position, withdrawable *big.Int) string {
	t := NewTable(m).Header("Field", "Value")
	t.Row("cid", p.CID)
	t.Row("publisher", p.Publisher)
	t.Row("insurance pool", economics.FormatUnits(p.InsurancePool))
	t.Row("reward pool", economics.FormatUnits(p.RewardPool))
	if withdrawable != nil {
		t.Row("withdrawable", economics.FormatUnits(withdrawable))
	}
	t.Row("consecutive breaches", p.ConsecutiveBreaches)
	t.Row("last breach", FmtTime(p.LastBreachAt))
	t.Row("funded", FmtTime(p.FundedAt))
	return t.String()
}

// Events renders ledger events oldest first.
func Events(m Mode, events []store.Event) string {
	t := NewTable(m).Header("#", "Event", "CID", "Account", "Amount", "At")
	for _, ev := range events {
		amount := "-"
		switch {
		case ev.Amount != nil:
			amount = economics.FormatUnits(ev.Amount)
		case ev.Kind == store.EventBreachRecorded:
			amount = fmt.Sprintf("count=%d", ev.Count)
		}
		cid := "-"
		if ev.CID != "" {
			cid = Truncate(ev.CID, 24)
		}
		account := "-"
		if ev.Account != "" {
			account = ev.Account
		}
		t.Row(ev.Seq, string(ev.Kind), cid, account, amount, FmtTime(ev.At))
	}
	return t.AlignRight(1, 5).String()
}

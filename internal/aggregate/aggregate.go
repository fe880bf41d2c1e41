// Package aggregate classifies a cycle's probe results under a k-of-n policy.
package aggregate

import (
	"fmt"

	"cidwatch/internal/evidence"
)

// Status is the verdict for one cycle.
type Status string

const (
	StatusOK       Status = "OK"
	StatusDegraded Status = "DEGRADED"
	StatusBreach   Status = "BREACH"
)

// Policy is the k-of-n threshold. DegradedMin is the smallest success count
// that still counts as DEGRADED rather than BREACH; zero means 1.
type Policy struct {
	K           int `json:"k" yaml:"k"`
	N           int `json:"n" yaml:"n"`
	DegradedMin int `json:"degraded_min,omitempty" yaml:"degraded_min,omitempty"`
}

// DefaultPolicy is 2-of-3 with any single success counted as DEGRADED.
func DefaultPolicy() Policy {
	return Policy{K: 2, N: 3, DegradedMin: 1}
}

func (p Policy) degradedMin() int {
	if p.DegradedMin <= 0 {
		return 1
	}
	return p.DegradedMin
}

// Validate checks 1 <= DegradedMin <= K <= N.
func (p Policy) Validate() error {
	if p.K < 1 || p.N < 1 {
		return fmt.Errorf("threshold: k and n must be positive (k=%d n=%d)", p.K, p.N)
	}
	if p.K > p.N {
		return fmt.Errorf("threshold: k=%d exceeds n=%d", p.K, p.N)
	}
	if dm := p.degradedMin(); dm > p.K {
		return fmt.Errorf("threshold: degraded_min=%d exceeds k=%d", dm, p.K)
	}
	return nil
}

// Verdict is the classified outcome with fields derived for downstream use.
type Verdict struct {
	Status       Status  `json:"status"`
	Successes    int     `json:"successes"`
	Total        int     `json:"total"`
	Availability float64 `json:"availability"`
	AvgLatencyMs float64 `json:"avg_latency_ms"`
}

// Classify applies p to results. It performs no retries.
func Classify(results []evidence.ProbeResult, p Policy) Verdict {
	v := Verdict{Total: len(results)}
	var latSum int64
	var latCount int
	for _, r := range results {
		if !r.OK {
			continue
		}
		v.Successes++
		if r.LatencyMs != nil {
			latSum += *r.LatencyMs
			latCount++
		}
	}
	if v.Total > 0 {
		v.Availability = float64(v.Successes) / float64(v.Total)
	}
	if latCount > 0 {
		v.AvgLatencyMs = float64(latSum) / float64(latCount)
	}

	switch {
	case v.Successes >= p.K:
		v.Status = StatusOK
	case v.Successes >= p.degradedMin():
		v.Status = StatusDegraded
	default:
		v.Status = StatusBreach
	}
	return v
}

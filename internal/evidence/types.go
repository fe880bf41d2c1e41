package evidence

import "time"

// Reason classifies a failed probe.
type Reason string

const (
	ReasonTimeout   Reason = "timeout"
	ReasonNetwork   Reason = "network"
	ReasonBadStatus Reason = "bad-status"
)

// ProbeResult is the outcome of one availability check against one gateway.
// Timestamp is kept in memory for logs and metrics; it is not part of the
// signed wire format.
type ProbeResult struct {
	VantagePoint string    `json:"vp"`
	Method       string    `json:"method"`
	Gateway      string    `json:"gateway"`
	OK           bool      `json:"ok"`
	LatencyMs    *int64    `json:"latMs,omitempty"`
	Err          *string   `json:"err,omitempty"`
	Timestamp    time.Time `json:"-"`
}

// Reason returns the classified failure reason, or "" for an ok probe.
func (p ProbeResult) Reason() Reason {
	if p.Err == nil {
		return ""
	}
	return Reason(*p.Err)
}

// Threshold is the k-of-n policy recorded in a cycle.
type Threshold struct {
	K         int   `json:"k"`
	N         int   `json:"n"`
	TimeoutMs int64 `json:"timeoutMs"`
}

// Meta describes how a cycle was produced.
type Meta struct {
	Builder         string    `json:"builder"`
	Region          string    `json:"region"`
	WindowMin       int       `json:"windowMin"`
	Threshold       Threshold `json:"threshold"`
	AttemptedLibp2p bool      `json:"attemptedLibp2p"`
}

// Cycle is one monitoring cycle for one CID. It is never mutated after signing.
type Cycle struct {
	CID    string        `json:"cid"`
	TS     int64         `json:"ts"`
	Probes []ProbeResult `json:"probes"`
	Meta   Meta          `json:"meta"`
}

// Pack is a signed Cycle.
type Pack struct {
	Cycle
	WatcherSig string `json:"watcherSig,omitempty"`
}

// Latency is a convenience constructor for ProbeResult.LatencyMs.
func Latency(d time.Duration) *int64 {
	ms := d.Milliseconds()
	return &ms
}

// ReasonPtr is a convenience constructor for ProbeResult.Err.
func ReasonPtr(r Reason) *string {
	s := string(r)
	return &s
}

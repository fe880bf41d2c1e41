// Package probe checks CID availability against a set of HTTP gateways.
//
// Each gateway gets one probe bounded by its own timeout; probes run
// concurrently up to MaxConcurrency. A probe is ok iff the gateway answers
// with a 2xx status in time. Failures are classified as timeout, network or
// bad-status and kept in the result list.
//
//	exec, err := probe.New(probe.Config{Gateways: gws, Timeout: 5 * time.Second, MaxConcurrency: 3})
//	results, err := exec.Run(ctx, cid)
package probe

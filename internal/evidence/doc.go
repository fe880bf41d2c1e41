// Package evidence defines the evidence pack wire format and its
// canonicalization, signing and verification.
//
// The signing input is the canonical JSON of every pack field except
// watcherSig: keys sorted at every level, no whitespace, no HTML escaping.
// Independent verifiers recompute it from the received bytes:
//
//	res := evidence.VerifyBytes(payload, publicKeyB64)
//	if !res.Valid { ... res.Reason ... }
package evidence

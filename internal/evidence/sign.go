package evidence

import (
	"bytes"
	"crypto/ed25519"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"

	"cidwatch/internal/keys"
)

// ErrInvalidCycle is wrapped by every validation failure.
var ErrInvalidCycle = errors.New("invalid evidence cycle")

// SignError is a fatal failure to produce a signed pack.
type SignError struct {
	Field string
	Err   error
}

func (e *SignError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("sign: %s: %v", e.Field, e.Err)
	}
	return fmt.Sprintf("sign: %v", e.Err)
}

func (e *SignError) Unwrap() error { return e.Err }

// Validate checks the fields a verifier relies on.
func Validate(c Cycle) error {
	invalid := func(field, msg string) error {
		return &SignError{Field: field, Err: fmt.Errorf("%w: %s", ErrInvalidCycle, msg)}
	}
	switch {
	case c.CID == "":
		return invalid("cid", "required")
	case c.TS <= 0:
		return invalid("ts", "must be positive")
	case len(c.Probes) == 0:
		return invalid("probes", "at least one probe required")
	case c.Meta.Threshold.K < 1 || c.Meta.Threshold.K > c.Meta.Threshold.N:
		return invalid("meta.threshold", fmt.Sprintf("k=%d n=%d", c.Meta.Threshold.K, c.Meta.Threshold.N))
	case c.Meta.Threshold.N != len(c.Probes):
		return invalid("meta.threshold.n", fmt.Sprintf("n=%d but %d probes", c.Meta.Threshold.N, len(c.Probes)))
	}
	for i, p := range c.Probes {
		if p.Gateway == "" {
			return invalid(fmt.Sprintf("probes[%d].gateway", i), "required")
		}
		if !p.OK && p.Err == nil {
			return invalid(fmt.Sprintf("probes[%d].err", i), "failed probe needs a reason")
		}
	}
	return nil
}

// Sign validates c and signs its canonical form with kp.
func Sign(c Cycle, kp *keys.KeyPair) (Pack, error) {
	if kp == nil {
		return Pack{}, &SignError{Err: errors.New("no signing key")}
	}
	if len(kp.Secret) != keys.SecretKeySize {
		return Pack{}, &SignError{Err: &keys.LengthError{Which: "secret", Want: keys.SecretKeySize, Got: len(kp.Secret)}}
	}
	if err := Validate(c); err != nil {
		return Pack{}, err
	}
	msg, err := Canonical(c)
	if err != nil {
		return Pack{}, &SignError{Err: err}
	}
	sig := ed25519.Sign(kp.Secret, msg)
	return Pack{Cycle: c, WatcherSig: base64.StdEncoding.EncodeToString(sig)}, nil
}

// Verification failure reasons.
const (
	ReasonMissingSignature = "missing-signature"
	ReasonBadPublicKey     = "bad-public-key"
	ReasonBadSignature     = "bad-signature-encoding"
	ReasonMismatch         = "signature-mismatch"
	ReasonCanonicalize     = "canonicalize"
)

// VerifyResult is the outcome of a signature check. Verification never
// returns an error: every failure is a Valid=false result with a reason.
type VerifyResult struct {
	Valid  bool   `json:"valid"`
	Reason string `json:"reason,omitempty"`
}

// Verify checks p's signature against a base64 public key.
func Verify(p Pack, publicB64 string) VerifyResult {
	msg, err := Canonical(p.Cycle)
	if err != nil {
		return VerifyResult{Reason: ReasonCanonicalize}
	}
	return verify(msg, p.WatcherSig, publicB64)
}

// VerifyBytes checks a pack exactly as received on the wire. Every field
// other than watcherSig is part of the signing input, including fields this
// package does not know about.
func VerifyBytes(data []byte, publicB64 string) VerifyResult {
	v, err := decodeGeneric(data)
	if err != nil {
		return VerifyResult{Reason: ReasonCanonicalize}
	}
	obj, ok := v.(map[string]any)
	if !ok {
		return VerifyResult{Reason: ReasonCanonicalize}
	}
	sig, _ := obj[sigKey].(string)
	delete(obj, sigKey)
	msg, err := encodeSorted(obj)
	if err != nil {
		return VerifyResult{Reason: ReasonCanonicalize}
	}
	return verify(msg, sig, publicB64)
}

func verify(msg []byte, sigB64, publicB64 string) VerifyResult {
	if sigB64 == "" {
		return VerifyResult{Reason: ReasonMissingSignature}
	}
	pub, err := keys.DecodePublic(publicB64)
	if err != nil {
		return VerifyResult{Reason: ReasonBadPublicKey}
	}
	sig, err := base64.StdEncoding.Strict().DecodeString(sigB64)
	if err != nil || len(sig) != ed25519.SignatureSize {
		return VerifyResult{Reason: ReasonBadSignature}
	}
	if !ed25519.Verify(pub, msg, sig) {
		return VerifyResult{Reason: ReasonMismatch}
	}
	return VerifyResult{Valid: true}
}

// Decode parses a pack in wire format. Unknown fields are rejected and the
// cycle must pass Validate.
func Decode(data []byte) (Pack, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	var p Pack
	if err := dec.Decode(&p); err != nil {
		return Pack{}, fmt.Errorf("decode pack: %w", err)
	}
	if err := Validate(p.Cycle); err != nil {
		return Pack{}, fmt.Errorf("decode pack: %w", err)
	}
	return p, nil
}

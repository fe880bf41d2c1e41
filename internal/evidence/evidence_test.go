package evidence

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"

	"cidwatch/internal/keys"
)

func sampleCycle() Cycle {
	return Cycle{
		CID: "bafkreigh2akiscaildcqabsyg3dfr6chu3fgpregiymsck7e7aqa4s52zy",
		TS:  1700000000,
		Probes: []ProbeResult{
			{VantagePoint: "us-east", Method: "http-head", Gateway: "https://ipfs.io", OK: true, LatencyMs: Latency(120 * time.Millisecond)},
			{VantagePoint: "us-east", Method: "http-head", Gateway: "https://dweb.link", OK: false, Err: ReasonPtr(ReasonTimeout)},
			{VantagePoint: "us-east", Method: "http-head", Gateway: "https://w3s.link?a=1&b=2", OK: true, LatencyMs: Latency(80 * time.Millisecond)},
		},
		Meta: Meta{
			Builder:   "cidwatch/1.0.0",
			Region:    "us-east",
			WindowMin: 5,
			Threshold: Threshold{K: 2, N: 3, TimeoutMs: 5000},
		},
	}
}

func TestCanonical_ExactBytes(t *testing.T) {
	c := Cycle{
		CID: "bafy",
		TS:  1700000000,
		Probes: []ProbeResult{
			{VantagePoint: "us-east", Method: "http-head", Gateway: "https://gw.example/?x=1&y=<2>", OK: true, LatencyMs: Latency(120 * time.Millisecond)},
		},
		Meta: Meta{Builder: "cidwatch/1.0", Region: "us-east", WindowMin: 5, Threshold: Threshold{K: 1, N: 1, TimeoutMs: 5000}},
	}
	got, err := Canonical(c)
	if err != nil {
		t.Fatalf("Canonical: %v", err)
	}
	want := `{"cid":"bafy","meta":{"attemptedLibp2p":false,"builder":"cidwatch/1.0","region":"us-east","threshold":{"k":1,"n":1,"timeoutMs":5000},"windowMin":5},` +
		`"probes":[{"gateway":"https://gw.example/?x=1&y=<2>","latMs":120,"method":"http-head","ok":true,"vp":"us-east"}],"ts":1700000000}`
	if diff := cmp.Diff(want, string(got)); diff != "" {
		t.Errorf("canonical mismatch (-want +got):\n%s", diff)
	}
}

func TestCanonical_KeyOrderIndependent(t *testing.T) {
	a := []byte(`{"ts":1700000000,"cid":"bafy","meta":{"windowMin":5,"region":"eu","builder":"b","attemptedLibp2p":false,"threshold":{"timeoutMs":1,"n":1,"k":1}},"probes":[{"vp":"eu","ok":true,"method":"m","gateway":"g","latMs":3}]}`)
	b := []byte(`{
		"cid": "bafy",
		"probes": [{"gateway": "g", "latMs": 3, "method": "m", "ok": true, "vp": "eu"}],
		"meta": {"threshold": {"k": 1, "n": 1, "timeoutMs": 1}, "attemptedLibp2p": false, "builder": "b", "region": "eu", "windowMin": 5},
		"ts": 1700000000
	}`)
	ca, err := CanonicalJSON(a)
	if err != nil {
		t.Fatal(err)
	}
	cb, err := CanonicalJSON(b)
	if err != nil {
		t.Fatal(err)
	}
	if string(ca) != string(cb) {
		t.Errorf("canonical forms differ:\n%s\n%s", ca, cb)
	}

	var p Pack
	if err := json.Unmarshal(b, &p); err != nil {
		t.Fatal(err)
	}
	typed, err := Canonical(p.Cycle)
	if err != nil {
		t.Fatal(err)
	}
	if string(typed) != string(ca) {
		t.Errorf("typed canonical differs from generic:\n%s\n%s", typed, ca)
	}
}

func TestSignVerify_RoundTrip(t *testing.T) {
	kp, _ := keys.Generate()
	other, _ := keys.Generate()

	pack, err := Sign(sampleCycle(), kp)
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}
	if res := Verify(pack, kp.PublicKeyB64()); !res.Valid {
		t.Fatalf("Verify with signer key: %+v", res)
	}
	if res := Verify(pack, other.PublicKeyB64()); res.Valid || res.Reason != ReasonMismatch {
		t.Errorf("Verify with other key: %+v", res)
	}
}

func TestVerify_TamperedFields(t *testing.T) {
	kp, _ := keys.Generate()
	pack, _ := Sign(sampleCycle(), kp)

	mutations := map[string]func(p *Pack){
		"cid":       func(p *Pack) { p.CID += "x" },
		"ts":        func(p *Pack) { p.TS++ },
		"probe ok":  func(p *Pack) { p.Probes[1].OK = true },
		"latency":   func(p *Pack) { *p.Probes[0].LatencyMs = 121 },
		"region":    func(p *Pack) { p.Meta.Region = "eu" },
		"threshold": func(p *Pack) { p.Meta.Threshold.K = 1 },
		"libp2p":    func(p *Pack) { p.Meta.AttemptedLibp2p = true },
		"drop probe": func(p *Pack) {
			p.Probes = p.Probes[:2]
		},
	}
	for name, mutate := range mutations {
		t.Run(name, func(t *testing.T) {
			cp := clonePack(t, pack)
			mutate(&cp)
			if res := Verify(cp, kp.PublicKeyB64()); res.Valid {
				t.Errorf("tampered pack verified")
			}
		})
	}
}

func TestVerifyBytes_EveryByteAltered(t *testing.T) {
	kp, _ := keys.Generate()
	pack, _ := Sign(sampleCycle(), kp)
	payload, err := Encode(pack)
	if err != nil {
		t.Fatal(err)
	}
	if res := VerifyBytes(payload, kp.PublicKeyB64()); !res.Valid {
		t.Fatalf("untampered payload: %+v", res)
	}
	for i := range payload {
		altered := append([]byte(nil), payload...)
		altered[i] ^= 0x01
		if res := VerifyBytes(altered, kp.PublicKeyB64()); res.Valid {
			t.Fatalf("byte %d altered (%q) still verified", i, payload[i])
		}
	}
}

func TestVerify_FailureReasons(t *testing.T) {
	kp, _ := keys.Generate()
	pack, _ := Sign(sampleCycle(), kp)

	unsigned := pack
	unsigned.WatcherSig = ""
	if res := Verify(unsigned, kp.PublicKeyB64()); res.Reason != ReasonMissingSignature {
		t.Errorf("missing signature: %+v", res)
	}
	if res := Verify(pack, base64.StdEncoding.EncodeToString([]byte("short"))); res.Reason != ReasonBadPublicKey {
		t.Errorf("short key: %+v", res)
	}
	garbled := pack
	garbled.WatcherSig = "!!!"
	if res := Verify(garbled, kp.PublicKeyB64()); res.Reason != ReasonBadSignature {
		t.Errorf("garbled signature: %+v", res)
	}
	if res := VerifyBytes([]byte("[1,2]"), kp.PublicKeyB64()); res.Reason != ReasonCanonicalize {
		t.Errorf("non-object payload: %+v", res)
	}
}

func TestSign_RejectsInvalidCycle(t *testing.T) {
	kp, _ := keys.Generate()
	cases := map[string]func(c *Cycle){
		"empty cid":     func(c *Cycle) { c.CID = "" },
		"zero ts":       func(c *Cycle) { c.TS = 0 },
		"no probes":     func(c *Cycle) { c.Probes = nil; c.Meta.Threshold.N = 0 },
		"k above n":     func(c *Cycle) { c.Meta.Threshold.K = 4 },
		"n mismatch":    func(c *Cycle) { c.Meta.Threshold.N = 4 },
		"reasonless":    func(c *Cycle) { c.Probes[1].Err = nil },
		"empty gateway": func(c *Cycle) { c.Probes[0].Gateway = "" },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			c := sampleCycle()
			mutate(&c)
			_, err := Sign(c, kp)
			var serr *SignError
			if !errors.As(err, &serr) {
				t.Fatalf("expected *SignError, got %v", err)
			}
			if !errors.Is(err, ErrInvalidCycle) {
				t.Errorf("expected ErrInvalidCycle, got %v", err)
			}
		})
	}
}

func TestSign_RejectsBadKey(t *testing.T) {
	kp, _ := keys.Generate()
	short := &keys.KeyPair{Secret: kp.Secret[:32], Public: kp.Public}
	_, err := Sign(sampleCycle(), short)
	var lerr *keys.LengthError
	if !errors.As(err, &lerr) {
		t.Fatalf("expected *keys.LengthError, got %v", err)
	}
	if _, err := Sign(sampleCycle(), nil); err == nil {
		t.Fatal("expected error for nil key")
	}
}

func TestDecode(t *testing.T) {
	kp, _ := keys.Generate()
	pack, _ := Sign(sampleCycle(), kp)
	payload, _ := Encode(pack)

	got, err := Decode(payload)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if diff := cmp.Diff(pack, got, cmpopts.IgnoreFields(ProbeResult{}, "Timestamp")); diff != "" {
		t.Errorf("decoded pack mismatch (-want +got):\n%s", diff)
	}

	extra := strings.Replace(string(payload), `"cid":`, `"extra":1,"cid":`, 1)
	if _, err := Decode([]byte(extra)); err == nil {
		t.Error("expected unknown field rejection")
	}
	if _, err := Decode([]byte(`{"cid":"x"}`)); err == nil {
		t.Error("expected validation failure")
	}
}

func clonePack(t *testing.T, p Pack) Pack {
	t.Helper()
	raw, err := json.Marshal(p)
	if err != nil {
		t.Fatal(err)
	}
	var out Pack
	if err := json.Unmarshal(raw, &out); err != nil {
		t.Fatal(err)
	}
	return out
}

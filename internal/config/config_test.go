package config

import (
	"encoding/base64"
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"cidwatch/internal/economics"
	"cidwatch/internal/evidence"
	"cidwatch/internal/keys"
)

func testdataPath(name string) string {
	_, f, _, _ := runtime.Caller(0)
	dir := filepath.Dir(f)
	return filepath.Join(dir, "testdata", name)
}

func TestLoadFromPath_YAML(t *testing.T) {
	c, err := LoadFromPath(testdataPath("cidwatch.yaml"))
	if err != nil {
		t.Fatalf("LoadFromPath: %v", err)
	}
	if err := c.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if len(c.Gateways) != 3 || c.Gateways[1] != "https://dweb.link" {
		t.Errorf("gateways: got %v", c.Gateways)
	}
	pc := c.ProbeConfig()
	if pc.Timeout != 3*time.Second || pc.MaxConcurrency != 2 || pc.RatePerSec != 5 || pc.VantagePoint != "eu-west" {
		t.Errorf("probe config: got %+v", pc)
	}
	if time.Duration(c.Watch.Interval) != 2*time.Minute {
		t.Errorf("watch interval: got %v", c.Watch.Interval)
	}
	if !c.Economics.AutoPayout || c.Metrics.Addr != ":9464" {
		t.Errorf("economics/metrics: got %+v %+v", c.Economics, c.Metrics)
	}

	want := evidence.Meta{
		Builder:   "watcher-01",
		Region:    "eu-west",
		WindowMin: 10,
		Threshold: evidence.Threshold{K: 2, N: 3, TimeoutMs: 3000},
	}
	if diff := cmp.Diff(want, c.Meta()); diff != "" {
		t.Errorf("meta mismatch (-want +got):\n%s", diff)
	}

	p, err := c.EconomicsParams()
	if err != nil {
		t.Fatalf("EconomicsParams: %v", err)
	}
	if economics.FormatUnits(p.PerCycleReward) != "0.002" || economics.FormatUnits(p.MinInsuranceFloor) != "0.1" {
		t.Errorf("amounts: reward %s floor %s", p.PerCycleReward, p.MinInsuranceFloor)
	}
	if p.Cooldown != time.Hour || p.Beneficiary != "watcher-01" || len(p.Recorders) != 1 {
		t.Errorf("params: got %+v", p)
	}
}

func TestLoadFromPath_JSONKeepsDefaults(t *testing.T) {
	c, err := LoadFromPath(testdataPath("cidwatch.json"))
	if err != nil {
		t.Fatalf("LoadFromPath: %v", err)
	}
	if err := c.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if c.Publish.Dir != "packs" || c.Publish.MaxAttempts != 2 {
		t.Errorf("publish: got %+v", c.Publish)
	}
	if c.Probe.TimeoutMs != 10_000 || c.Builder != "cidwatch" {
		t.Errorf("defaults lost: probe %+v builder %q", c.Probe, c.Builder)
	}
	if time.Duration(c.Watch.Interval) != 30*time.Second {
		t.Errorf("interval: got %v", c.Watch.Interval)
	}
	if _, err := c.EconomicsParams(); err != nil {
		t.Errorf("default economics invalid: %v", err)
	}
}

func TestLoad_DetectFormat(t *testing.T) {
	c, err := Load([]byte(`{"gateways":["https://a"]}`), "")
	if err != nil || len(c.Gateways) != 1 {
		t.Fatalf("json detect: %+v %v", c, err)
	}
	c, err = Load([]byte("gateways:\n  - https://b\n"), "")
	if err != nil || len(c.Gateways) != 1 || c.Gateways[0] != "https://b" {
		t.Fatalf("yaml detect: %+v %v", c, err)
	}
	c, err = Load(nil, ".yaml")
	if err != nil || c.Publish.MaxAttempts != 3 {
		t.Fatalf("empty yaml: %+v %v", c, err)
	}
}

func TestLoad_RejectsUnknownFields(t *testing.T) {
	if _, err := Load([]byte("gateway: https://typo\n"), ".yaml"); err == nil {
		t.Error("yaml typo accepted")
	}
	if _, err := Load([]byte(`{"gatewayz":[]}`), ".json"); err == nil {
		t.Error("json typo accepted")
	}
	if _, err := Load([]byte("watch:\n  interval: soon\n"), ".yaml"); err == nil {
		t.Error("bad duration accepted")
	}
}

func TestValidate(t *testing.T) {
	base := func() *Config {
		c := Default()
		c.Gateways = []string{"https://a", "https://b", "https://c"}
		return c
	}
	if err := base().Validate(); err != nil {
		t.Fatalf("base invalid: %v", err)
	}
	cases := map[string]func(*Config){
		"no gateways":   func(c *Config) { c.Gateways = nil },
		"bad scheme":    func(c *Config) { c.Gateways[0] = "ftp://a" },
		"zero timeout":  func(c *Config) { c.Probe.TimeoutMs = 0 },
		"k above n":     func(c *Config) { c.Threshold.K = 4 },
		"n mismatch":    func(c *Config) { c.Gateways = c.Gateways[:2] },
		"zero attempts": func(c *Config) { c.Publish.MaxAttempts = 0 },
	}
	for name, mutate := range cases {
		c := base()
		mutate(c)
		if err := c.Validate(); err == nil {
			t.Errorf("%s: Validate accepted", name)
		}
	}
}

func TestResolve_EnvOverrides(t *testing.T) {
	kp, err := keys.Generate()
	if err != nil {
		t.Fatal(err)
	}
	f, err := keys.Generate()
	if err != nil {
		t.Fatal(err)
	}
	path := filepath.Join(t.TempDir(), "cfg.yaml")
	data := "gateways: [https://ipfs.io]\nthreshold: {k: 1, n: 1}\nkeys:\n  secret_key: " +
		base64Secret(f) + "\n"
	if err := os.WriteFile(path, []byte(data), 0600); err != nil {
		t.Fatal(err)
	}
	t.Setenv(EnvConfig, path)
	t.Setenv(EnvSecretKey, base64Secret(kp))
	t.Setenv(EnvPublicKey, "")

	c, err := Resolve("")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	got, err := c.KeyPair()
	if err != nil {
		t.Fatalf("KeyPair: %v", err)
	}
	if got.PublicKeyB64() != kp.PublicKeyB64() {
		t.Error("environment secret key did not override file value")
	}
	pub, err := c.PublicKey()
	if err != nil || pub != kp.PublicKeyB64() {
		t.Errorf("PublicKey = %q, %v", pub, err)
	}
}

func TestResolve_MissingDefaultFileIsFine(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv(EnvConfig, "")
	c, err := Resolve("")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if c.Ledger.DBPath == "" {
		t.Error("defaults not applied")
	}
	if _, err := Resolve("missing.yaml"); err == nil {
		t.Error("explicit missing file accepted")
	}
}

func TestKeyPair_FromFile(t *testing.T) {
	kp, _ := keys.Generate()
	path := filepath.Join(t.TempDir(), "watcher.key")
	if err := kp.WriteFile(path); err != nil {
		t.Fatal(err)
	}
	c := Default()
	c.Keys.File = path
	got, err := c.KeyPair()
	if err != nil {
		t.Fatalf("KeyPair: %v", err)
	}
	if got.PublicKeyB64() != kp.PublicKeyB64() {
		t.Error("key file round trip mismatch")
	}
	if _, err := Default().KeyPair(); err == nil {
		t.Error("KeyPair without keys succeeded")
	}
}

func base64Secret(kp *keys.KeyPair) string {
	return base64.StdEncoding.EncodeToString(kp.Secret)
}

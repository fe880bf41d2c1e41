// Package config loads the watcher configuration from YAML or JSON with
// environment overrides for key material.
package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"cidwatch/internal/aggregate"
	"cidwatch/internal/economics"
	"cidwatch/internal/evidence"
	"cidwatch/internal/keys"
	"cidwatch/internal/probe"
	"cidwatch/internal/store"
)

// Environment variables read by ApplyEnv and Resolve.
const (
	EnvConfig    = "CIDWATCH_CONFIG"
	EnvSecretKey = "CIDWATCH_SECRET_KEY"
	EnvPublicKey = "CIDWATCH_PUBLIC_KEY"
)

// DefaultPath is used when neither --config nor CIDWATCH_CONFIG is set.
const DefaultPath = "cidwatch.yaml"

// Probe configures the probe executor.
type Probe struct {
	TimeoutMs      int     `json:"timeout_ms" yaml:"timeout_ms"`
	MaxConcurrency int     `json:"max_concurrency" yaml:"max_concurrency"`
	RatePerSec     float64 `json:"rate_per_sec,omitempty" yaml:"rate_per_sec,omitempty"`
}

// Publish configures where signed packs go. Endpoint wins over Dir; with
// neither set packs are not published.
type Publish struct {
	Endpoint    string `json:"endpoint,omitempty" yaml:"endpoint,omitempty"`
	Token       string `json:"token,omitempty" yaml:"token,omitempty"`
	Dir         string `json:"dir,omitempty" yaml:"dir,omitempty"`
	MaxAttempts int    `json:"max_attempts" yaml:"max_attempts"`
	BackoffMs   int    `json:"backoff_ms" yaml:"backoff_ms"`
}

// Economics mirrors economics.Params. Amounts are decimal token units
// ("0.001").
type Economics struct {
	PlatformFeeBps    int64    `json:"platform_fee_bps" yaml:"platform_fee_bps"`
	RewardBps         int64    `json:"reward_bps" yaml:"reward_bps"`
	InsuranceBps      int64    `json:"insurance_bps" yaml:"insurance_bps"`
	PerCycleReward    string   `json:"per_cycle_reward" yaml:"per_cycle_reward"`
	BreachThreshold   uint64   `json:"breach_threshold" yaml:"breach_threshold"`
	SlashBps          int64    `json:"slash_bps" yaml:"slash_bps"`
	ValidatorShareBps int64    `json:"validator_share_bps" yaml:"validator_share_bps"`
	CooldownSeconds   int64    `json:"cooldown_seconds" yaml:"cooldown_seconds"`
	MinInsuranceFloor string   `json:"min_insurance_floor" yaml:"min_insurance_floor"`
	Treasury          string   `json:"treasury" yaml:"treasury"`
	Beneficiary       string   `json:"beneficiary" yaml:"beneficiary"`
	Recorders         []string `json:"recorders,omitempty" yaml:"recorders,omitempty"`
	AutoPayout        bool     `json:"auto_payout" yaml:"auto_payout"`
}

// Ledger locates the SQLite ledger.
type Ledger struct {
	DBPath string `json:"db_path" yaml:"db_path"`
}

// Keys holds the watcher key pair as base64, or a key file path.
type Keys struct {
	SecretKey string `json:"secret_key,omitempty" yaml:"secret_key,omitempty"`
	PublicKey string `json:"public_key,omitempty" yaml:"public_key,omitempty"`
	File      string `json:"file,omitempty" yaml:"file,omitempty"`
}

// Watch lists CIDs for the watch loop.
type Watch struct {
	CIDs     []string `json:"cids,omitempty" yaml:"cids,omitempty"`
	Interval Duration `json:"interval" yaml:"interval"`
}

// Metrics configures the Prometheus listener.
type Metrics struct {
	Addr string `json:"addr,omitempty" yaml:"addr,omitempty"`
}

// Config is the whole watcher configuration.
type Config struct {
	Gateways      []string         `json:"gateways" yaml:"gateways"`
	Region        string           `json:"region" yaml:"region"`
	Builder       string           `json:"builder" yaml:"builder"`
	WindowMinutes int              `json:"window_minutes" yaml:"window_minutes"`
	Probe         Probe            `json:"probe" yaml:"probe"`
	Threshold     aggregate.Policy `json:"threshold" yaml:"threshold"`
	Publish       Publish          `json:"publish" yaml:"publish"`
	Economics     Economics        `json:"economics" yaml:"economics"`
	Ledger        Ledger           `json:"ledger" yaml:"ledger"`
	Keys          Keys             `json:"keys" yaml:"keys"`
	Watch         Watch            `json:"watch" yaml:"watch"`
	Metrics       Metrics          `json:"metrics" yaml:"metrics"`
}

// Default returns a configuration that validates once gateways and keys
// are supplied.
func Default() *Config {
	p := economics.DefaultParams()
	return &Config{
		Region:        "local",
		Builder:       "cidwatch",
		WindowMinutes: 5,
		Probe:         Probe{TimeoutMs: 10_000},
		Threshold:     aggregate.DefaultPolicy(),
		Publish:       Publish{MaxAttempts: 3, BackoffMs: 500},
		Economics: Economics{
			PlatformFeeBps:    p.PlatformFeeBps,
			RewardBps:         p.RewardBps,
			InsuranceBps:      p.InsuranceBps,
			PerCycleReward:    economics.FormatUnits(p.PerCycleReward),
			BreachThreshold:   p.BreachThreshold,
			SlashBps:          p.SlashBps,
			ValidatorShareBps: p.ValidatorShareBps,
			CooldownSeconds:   int64(p.Cooldown / time.Second),
			MinInsuranceFloor: "0",
			Treasury:          p.Treasury,
			Beneficiary:       p.Beneficiary,
		},
		Ledger: Ledger{DBPath: store.DefaultDBPath},
		Watch:  Watch{Interval: Duration(5 * time.Minute)},
	}
}

// LoadFromPath reads a config file (YAML or JSON) over Default().
// Format is detected by extension (.yaml/.yml → YAML, .json → JSON) or by content.
func LoadFromPath(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	return Load(data, filepath.Ext(path))
}

// Load parses config from bytes over Default(). ext is the file extension
// for format hint; empty = detect from content.
func Load(data []byte, ext string) (*Config, error) {
	c := Default()
	ext = strings.ToLower(ext)
	if ext == ".yml" {
		ext = ".yaml"
	}
	if ext == "" {
		ext = ".yaml"
		if strings.HasPrefix(strings.TrimSpace(string(data)), "{") {
			ext = ".json"
		}
	}
	switch ext {
	case ".json":
		dec := json.NewDecoder(bytes.NewReader(data))
		dec.DisallowUnknownFields()
		if err := dec.Decode(c); err != nil {
			return nil, fmt.Errorf("parse config json: %w", err)
		}
	default:
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		if err := dec.Decode(c); err != nil && !errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("parse config yaml: %w", err)
		}
	}
	return c, nil
}

// Resolve loads the file at path, or CIDWATCH_CONFIG, or DefaultPath if it
// exists; otherwise it starts from Default(). Environment overrides are
// applied last.
func Resolve(path string) (*Config, error) {
	explicit := path != ""
	if !explicit {
		path = os.Getenv(EnvConfig)
		explicit = path != ""
	}
	if !explicit {
		path = DefaultPath
	}
	c, err := LoadFromPath(path)
	switch {
	case err == nil:
	case !explicit && errors.Is(err, os.ErrNotExist):
		c = Default()
	default:
		return nil, err
	}
	c.ApplyEnv()
	return c, nil
}

// ApplyEnv overrides key material from the environment.
func (c *Config) ApplyEnv() {
	if v := os.Getenv(EnvSecretKey); v != "" {
		c.Keys.SecretKey = v
	}
	if v := os.Getenv(EnvPublicKey); v != "" {
		c.Keys.PublicKey = v
	}
}

// Validate checks the parts every command needs. Keys are checked by
// KeyPair, economics by EconomicsParams.
func (c *Config) Validate() error {
	if len(c.Gateways) == 0 {
		return errors.New("config: at least one gateway is required")
	}
	for _, g := range c.Gateways {
		if !strings.HasPrefix(g, "http://") && !strings.HasPrefix(g, "https://") {
			return fmt.Errorf("config: gateway %q must be an http(s) URL", g)
		}
	}
	if c.Probe.TimeoutMs <= 0 {
		return fmt.Errorf("config: probe.timeout_ms must be positive, got %d", c.Probe.TimeoutMs)
	}
	if c.Probe.MaxConcurrency < 0 || c.Probe.RatePerSec < 0 {
		return errors.New("config: probe.max_concurrency and probe.rate_per_sec must be non-negative")
	}
	if err := c.Threshold.Validate(); err != nil {
		return fmt.Errorf("config: threshold: %w", err)
	}
	if c.Threshold.N != len(c.Gateways) {
		return fmt.Errorf("config: threshold.n = %d but %d gateways configured", c.Threshold.N, len(c.Gateways))
	}
	if c.Publish.MaxAttempts < 1 {
		return fmt.Errorf("config: publish.max_attempts must be at least 1, got %d", c.Publish.MaxAttempts)
	}
	if c.Publish.BackoffMs < 0 {
		return errors.New("config: publish.backoff_ms must be non-negative")
	}
	return nil
}

// ProbeConfig returns the executor settings.
func (c *Config) ProbeConfig() probe.Config {
	return probe.Config{
		Gateways:       c.Gateways,
		VantagePoint:   c.Region,
		Timeout:        time.Duration(c.Probe.TimeoutMs) * time.Millisecond,
		MaxConcurrency: c.Probe.MaxConcurrency,
		RatePerSec:     c.Probe.RatePerSec,
	}
}

// Meta returns the evidence pack metadata for this configuration.
func (c *Config) Meta() evidence.Meta {
	return evidence.Meta{
		Builder:   c.Builder,
		Region:    c.Region,
		WindowMin: c.WindowMinutes,
		Threshold: evidence.Threshold{
			K:         c.Threshold.K,
			N:         c.Threshold.N,
			TimeoutMs: int64(c.Probe.TimeoutMs),
		},
	}
}

// PublishBackoff is the initial retry delay.
func (c *Config) PublishBackoff() time.Duration {
	return time.Duration(c.Publish.BackoffMs) * time.Millisecond
}

// EconomicsParams converts and validates the economics section.
func (c *Config) EconomicsParams() (economics.Params, error) {
	e := c.Economics
	reward, err := economics.ParseUnits(orDefault(e.PerCycleReward, "0"))
	if err != nil {
		return economics.Params{}, fmt.Errorf("config: economics.per_cycle_reward: %w", err)
	}
	floor, err := economics.ParseUnits(orDefault(e.MinInsuranceFloor, "0"))
	if err != nil {
		return economics.Params{}, fmt.Errorf("config: economics.min_insurance_floor: %w", err)
	}
	p := economics.Params{
		PlatformFeeBps:    e.PlatformFeeBps,
		RewardBps:         e.RewardBps,
		InsuranceBps:      e.InsuranceBps,
		PerCycleReward:    reward,
		BreachThreshold:   e.BreachThreshold,
		SlashBps:          e.SlashBps,
		ValidatorShareBps: e.ValidatorShareBps,
		Cooldown:          time.Duration(e.CooldownSeconds) * time.Second,
		MinInsuranceFloor: floor,
		Treasury:          e.Treasury,
		Beneficiary:       e.Beneficiary,
		Recorders:         e.Recorders,
	}
	if err := p.Validate(); err != nil {
		return economics.Params{}, fmt.Errorf("config: %w", err)
	}
	return p, nil
}

// KeyPair loads the watcher keys from inline base64 or the key file.
func (c *Config) KeyPair() (*keys.KeyPair, error) {
	if c.Keys.SecretKey != "" {
		return keys.Load(c.Keys.SecretKey, c.Keys.PublicKey)
	}
	if c.Keys.File != "" {
		return keys.LoadFile(c.Keys.File)
	}
	return nil, fmt.Errorf("config: no signing key (set keys.secret_key, keys.file or %s)", EnvSecretKey)
}

// PublicKey returns the configured public key, deriving it from the secret
// key when only that is set.
func (c *Config) PublicKey() (string, error) {
	if c.Keys.PublicKey != "" {
		if _, err := keys.DecodePublic(c.Keys.PublicKey); err != nil {
			return "", err
		}
		return c.Keys.PublicKey, nil
	}
	kp, err := c.KeyPair()
	if err != nil {
		return "", err
	}
	return kp.PublicKeyB64(), nil
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}

package economics

import (
	"fmt"
	"math/big"
	"time"
)

// BpsDenominator is 100% in basis points.
const BpsDenominator = 10_000

// Unit is one whole token in base units.
var Unit = new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil)

// Params configures the engine. Basis-point fields are fractions of
// BpsDenominator.
type Params struct {
	PlatformFeeBps    int64
	RewardBps         int64
	InsuranceBps      int64
	PerCycleReward    *big.Int
	BreachThreshold   uint64
	SlashBps          int64
	ValidatorShareBps int64
	Cooldown          time.Duration
	MinInsuranceFloor *big.Int

	// Treasury receives platform fees and the non-validator slash share.
	Treasury string
	// Beneficiary is the monitor account credited with rewards and the
	// validator slash share.
	Beneficiary string
	// Recorders may call RecordCycle and PayoutOnBreach. Empty means only
	// Beneficiary may.
	Recorders []string
}

// DefaultParams returns 2.5% fee, 15/85 reward/insurance split, a 0.001
// unit per-cycle reward, payout after 3 breaches of 50% split 60/40, and a
// 7 day cooldown.
func DefaultParams() Params {
	return Params{
		PlatformFeeBps:    250,
		RewardBps:         1500,
		InsuranceBps:      8500,
		PerCycleReward:    new(big.Int).Div(Unit, big.NewInt(1000)),
		BreachThreshold:   3,
		SlashBps:          5000,
		ValidatorShareBps: 6000,
		Cooldown:          7 * 24 * time.Hour,
		MinInsuranceFloor: new(big.Int),
		Treasury:          "treasury",
		Beneficiary:       "watcher",
	}
}

// Validate checks every ratio is within [0, 100%] and the pool split
// covers the whole remainder.
func (p Params) Validate() error {
	for _, f := range []struct {
		name string
		v    int64
	}{
		{"platform_fee_bps", p.PlatformFeeBps},
		{"reward_bps", p.RewardBps},
		{"insurance_bps", p.InsuranceBps},
		{"slash_bps", p.SlashBps},
		{"validator_share_bps", p.ValidatorShareBps},
	} {
		if f.v < 0 || f.v > BpsDenominator {
			return fmt.Errorf("economics: %s %d out of range [0, %d]", f.name, f.v, BpsDenominator)
		}
	}
	if p.PlatformFeeBps == BpsDenominator {
		return fmt.Errorf("economics: platform_fee_bps leaves nothing to stake")
	}
	if p.RewardBps+p.InsuranceBps != BpsDenominator {
		return fmt.Errorf("economics: reward_bps + insurance_bps = %d, want %d", p.RewardBps+p.InsuranceBps, BpsDenominator)
	}
	if p.PerCycleReward == nil || p.PerCycleReward.Sign() < 0 {
		return fmt.Errorf("economics: per_cycle_reward must be non-negative")
	}
	if p.MinInsuranceFloor != nil && p.MinInsuranceFloor.Sign() < 0 {
		return fmt.Errorf("economics: min_insurance_floor must be non-negative")
	}
	if p.BreachThreshold == 0 {
		return fmt.Errorf("economics: breach_threshold must be at least 1")
	}
	if p.Cooldown < 0 {
		return fmt.Errorf("economics: cooldown must be non-negative")
	}
	if p.Treasury == "" || p.Beneficiary == "" {
		return fmt.Errorf("economics: treasury and beneficiary accounts are required")
	}
	return nil
}

func (p Params) floor() *big.Int {
	if p.MinInsuranceFloor == nil {
		return new(big.Int)
	}
	return p.MinInsuranceFloor
}

func (p Params) authorized(caller string) bool {
	if len(p.Recorders) == 0 {
		return caller == p.Beneficiary
	}
	for _, r := range p.Recorders {
		if r == caller {
			return true
		}
	}
	return false
}

// Split is the result of dividing a deposit.
type Split struct {
	Fee       *big.Int
	Reward    *big.Int
	Insurance *big.Int
}

// SplitDeposit divides amount into fee, reward pool and insurance pool.
// Rounding remainders stay in the insurance pool so the parts always sum to
// amount.
func (p Params) SplitDeposit(amount *big.Int) Split {
	fee := bps(amount, p.PlatformFeeBps)
	rest := new(big.Int).Sub(amount, fee)
	reward := bps(rest, p.RewardBps)
	return Split{
		Fee:       fee,
		Reward:    reward,
		Insurance: new(big.Int).Sub(rest, reward),
	}
}

// Slash is the result of an insurance payout.
type Slash struct {
	Total     *big.Int
	Validator *big.Int
	Treasury  *big.Int
}

// SlashInsurance computes the payout taken from an insurance pool.
func (p Params) SlashInsurance(pool *big.Int) Slash {
	total := bps(pool, p.SlashBps)
	validator := bps(total, p.ValidatorShareBps)
	return Slash{
		Total:     total,
		Validator: validator,
		Treasury:  new(big.Int).Sub(total, validator),
	}
}

// bps returns floor(amount * bp / 10000).
func bps(amount *big.Int, bp int64) *big.Int {
	v := new(big.Int).Mul(amount, big.NewInt(bp))
	return v.Quo(v, big.NewInt(BpsDenominator))
}

// ParseAmount parses a base-10 base-unit amount.
func ParseAmount(s string) (*big.Int, error) {
	v, ok := new(big.Int).SetString(s, 10)
	if !ok || v.Sign() < 0 {
		return nil, fmt.Errorf("economics: invalid amount %q", s)
	}
	return v, nil
}

// ParseUnits parses a decimal token amount such as "1.25" into base units.
func ParseUnits(s string) (*big.Int, error) {
	r, ok := new(big.Rat).SetString(s)
	if !ok || r.Sign() < 0 {
		return nil, fmt.Errorf("economics: invalid amount %q", s)
	}
	r.Mul(r, new(big.Rat).SetInt(Unit))
	if !r.IsInt() {
		return nil, fmt.Errorf("economics: %q has more than 18 decimals", s)
	}
	return new(big.Int).Set(r.Num()), nil
}

// FormatUnits renders base units as a decimal token amount.
func FormatUnits(v *big.Int) string {
	if v == nil {
		return "0"
	}
	r := new(big.Rat).SetFrac(v, Unit)
	s := r.FloatString(18)
	for len(s) > 1 && s[len(s)-1] == '0' {
		s = s[:len(s)-1]
	}
	if s[len(s)-1] == '.' {
		s = s[:len(s)-1]
	}
	return s
}

package economics

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"time"

	"cidwatch/internal/aggregate"
	"cidwatch/internal/logging"
	"cidwatch/internal/metrics"
	"cidwatch/internal/store"
)

// Transferer pushes funds to an account inside a ledger transaction. A
// returned error aborts the transaction.
type Transferer interface {
	Transfer(tx store.Tx, to string, amount *big.Int) error
}

// TransfererFunc adapts a function to Transferer.
type TransfererFunc func(tx store.Tx, to string, amount *big.Int) error

func (f TransfererFunc) Transfer(tx store.Tx, to string, amount *big.Int) error {
	return f(tx, to, amount)
}

// LedgerTransferer credits the recipient's balance in the same store.
type LedgerTransferer struct{}

func (LedgerTransferer) Transfer(tx store.Tx, to string, amount *big.Int) error {
	return tx.Credit(to, amount)
}

// Engine applies economics transitions to a store.
type Engine struct {
	store    store.Store
	params   Params
	transfer Transferer
	now      func() time.Time
	log      *slog.Logger
	metrics  *metrics.Metrics
}

// Option configures an Engine.
type Option func(*Engine)

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// WithTransferer replaces the default LedgerTransferer.
func WithTransferer(t Transferer) Option {
	return func(e *Engine) { e.transfer = t }
}

// WithLogger sets the engine logger. Without it the engine is silent.
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) {
		if l != nil {
			e.log = l
		}
	}
}

// WithMetrics records every transition outcome.
func WithMetrics(m *metrics.Metrics) Option {
	return func(e *Engine) { e.metrics = m }
}

// New returns an engine over s. The params are validated.
func New(s store.Store, params Params, opts ...Option) (*Engine, error) {
	if s == nil {
		return nil, errors.New("economics: store is required")
	}
	if err := params.Validate(); err != nil {
		return nil, err
	}
	e := &Engine{
		store:    s,
		params:   params,
		transfer: LedgerTransferer{},
		now:      time.Now,
		log:      logging.Discard(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// Params returns the engine configuration.
func (e *Engine) Params() Params { return e.params }

// update runs fn as one transition and wraps failures in *Error.
func (e *Engine) update(ctx context.Context, op, cid string, fn func(store.Tx) error) error {
	err := e.store.Update(ctx, fn)
	e.metrics.ObserveLedger(op, err)
	if err != nil {
		e.log.Warn("transition rejected", "op", op, "cid", cid, "error", err)
		return &Error{Op: op, CID: cid, Err: err}
	}
	return nil
}

func (e *Engine) push(tx store.Tx, to string, amount *big.Int) error {
	if amount.Sign() == 0 {
		return nil
	}
	if err := e.transfer.Transfer(tx, to, amount); err != nil {
		return &TransferError{To: to, Err: err}
	}
	return nil
}

func position(tx store.Tx, cid string) (*store.Position, error) {
	p, err := tx.Position(cid)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrNotFunded
	}
	return p, err
}

// FundStake creates the position for cid from a publisher deposit. The
// platform fee goes to the treasury; the rest is split into the reward and
// insurance pools.
func (e *Engine) FundStake(ctx context.Context, publisher, cid string, amount *big.Int) (*store.Position, error) {
	if amount == nil || amount.Sign() <= 0 {
		return nil, &Error{Op: "fund", CID: cid, Err: ErrZeroAmount}
	}
	if publisher == "" {
		return nil, &Error{Op: "fund", CID: cid, Err: ErrUnauthorized}
	}
	split := e.params.SplitDeposit(amount)
	now := e.now().UTC()
	pos := &store.Position{
		CID:           cid,
		Publisher:     publisher,
		InsurancePool: split.Insurance,
		RewardPool:    split.Reward,
		FundedAt:      now,
	}
	err := e.update(ctx, "fund", cid, func(tx store.Tx) error {
		if _, err := tx.Position(cid); err == nil {
			return ErrAlreadyFunded
		} else if !errors.Is(err, store.ErrNotFound) {
			return err
		}
		if err := tx.InsertPosition(pos); err != nil {
			if errors.Is(err, store.ErrExists) {
				return ErrAlreadyFunded
			}
			return err
		}
		if err := e.push(tx, e.params.Treasury, split.Fee); err != nil {
			return err
		}
		return tx.Emit(store.Event{
			Kind:      store.EventPublisherStaked,
			CID:       cid,
			Account:   publisher,
			Amount:    new(big.Int).Set(amount),
			Insurance: split.Insurance,
			Rewards:   split.Reward,
			At:        now,
		})
	})
	if err != nil {
		return nil, err
	}
	e.log.Info("stake funded", "cid", cid, "publisher", publisher,
		"amount", amount.String(), "fee", split.Fee.String())
	return pos, nil
}

// RecordCycle applies one cycle verdict. OK pays the per-cycle reward to
// the beneficiary when the reward pool covers it and resets the breach
// counter; BREACH increments it; DEGRADED leaves the position unchanged.
func (e *Engine) RecordCycle(ctx context.Context, caller, cid string, status aggregate.Status) (*store.Position, error) {
	if !e.params.authorized(caller) {
		return nil, &Error{Op: "record", CID: cid, Err: ErrUnauthorized}
	}
	var out *store.Position
	err := e.update(ctx, "record", cid, func(tx store.Tx) error {
		p, err := position(tx, cid)
		if err != nil {
			return err
		}
		now := e.now().UTC()
		switch status {
		case aggregate.StatusOK:
			reward := e.params.PerCycleReward
			paid := reward.Sign() > 0 && p.RewardPool.Cmp(reward) >= 0
			if paid {
				p.RewardPool = new(big.Int).Sub(p.RewardPool, reward)
				acc, err := tx.Accrued(e.params.Beneficiary)
				if err != nil {
					return err
				}
				if err := tx.SetAccrued(e.params.Beneficiary, acc.Add(acc, reward)); err != nil {
					return err
				}
			}
			p.ConsecutiveBreaches = 0
			if err := tx.UpdatePosition(p); err != nil {
				return err
			}
			if paid {
				if err := tx.Emit(store.Event{
					Kind:    store.EventMonitoringRewardPaid,
					CID:     cid,
					Account: e.params.Beneficiary,
					Amount:  new(big.Int).Set(reward),
					At:      now,
				}); err != nil {
					return err
				}
			}
		case aggregate.StatusBreach:
			p.ConsecutiveBreaches++
			p.LastBreachAt = now
			if err := tx.UpdatePosition(p); err != nil {
				return err
			}
			if err := tx.Emit(store.Event{
				Kind:  store.EventBreachRecorded,
				CID:   cid,
				Count: p.ConsecutiveBreaches,
				At:    now,
			}); err != nil {
				return err
			}
		case aggregate.StatusDegraded:
		default:
			return fmt.Errorf("unknown status %q", status)
		}
		out = p
		return nil
	})
	if err != nil {
		return nil, err
	}
	e.metrics.SetConsecutiveBreaches(cid, out.ConsecutiveBreaches)
	e.log.Debug("cycle recorded", "cid", cid, "status", status, "breaches", out.ConsecutiveBreaches)
	return out, nil
}

// Payout describes a completed insurance payout.
type Payout struct {
	Slash
	Position *store.Position
}

// PayoutOnBreach slashes the insurance pool once the breach counter has
// reached the threshold, pays the validator and treasury shares and resets
// the counter.
func (e *Engine) PayoutOnBreach(ctx context.Context, caller, cid string) (*Payout, error) {
	if !e.params.authorized(caller) {
		return nil, &Error{Op: "payout", CID: cid, Err: ErrUnauthorized}
	}
	var out *Payout
	err := e.update(ctx, "payout", cid, func(tx store.Tx) error {
		p, err := position(tx, cid)
		if err != nil {
			return err
		}
		if p.ConsecutiveBreaches < e.params.BreachThreshold {
			return ErrThresholdNotMet
		}
		if p.InsurancePool.Sign() == 0 {
			return ErrInsuranceEmpty
		}
		s := e.params.SlashInsurance(p.InsurancePool)
		p.InsurancePool = new(big.Int).Sub(p.InsurancePool, s.Total)
		p.ConsecutiveBreaches = 0
		if err := tx.UpdatePosition(p); err != nil {
			return err
		}
		now := e.now().UTC()
		for _, share := range []struct {
			to     string
			amount *big.Int
		}{
			{e.params.Beneficiary, s.Validator},
			{e.params.Treasury, s.Treasury},
		} {
			if err := e.push(tx, share.to, share.amount); err != nil {
				return err
			}
			if err := tx.Emit(store.Event{
				Kind:    store.EventInsurancePayout,
				CID:     cid,
				Account: share.to,
				Amount:  new(big.Int).Set(share.amount),
				At:      now,
			}); err != nil {
				return err
			}
		}
		out = &Payout{Slash: s, Position: p}
		return nil
	})
	if err != nil {
		return nil, err
	}
	e.metrics.SetConsecutiveBreaches(cid, 0)
	e.log.Info("insurance payout", "cid", cid, "slash", out.Total.String(),
		"validator", out.Validator.String(), "treasury", out.Treasury.String())
	return out, nil
}

// ClaimRewards pays out and zeroes the accrued rewards of beneficiary.
func (e *Engine) ClaimRewards(ctx context.Context, beneficiary string) (*big.Int, error) {
	var amount *big.Int
	err := e.update(ctx, "claim", "", func(tx store.Tx) error {
		acc, err := tx.Accrued(beneficiary)
		if err != nil {
			return err
		}
		if acc.Sign() == 0 {
			return ErrNothingToClaim
		}
		if err := tx.SetAccrued(beneficiary, new(big.Int)); err != nil {
			return err
		}
		if err := e.push(tx, beneficiary, acc); err != nil {
			return err
		}
		amount = acc
		return tx.Emit(store.Event{
			Kind:    store.EventRewardsClaimed,
			Account: beneficiary,
			Amount:  new(big.Int).Set(acc),
			At:      e.now().UTC(),
		})
	})
	if err != nil {
		return nil, err
	}
	e.log.Info("rewards claimed", "account", beneficiary, "amount", amount.String())
	return amount, nil
}

// Withdrawable returns how much the publisher could take out of p now,
// ignoring breach and cooldown checks.
func (e *Engine) Withdrawable(p *store.Position) *big.Int {
	avail := new(big.Int).Set(p.RewardPool)
	if above := new(big.Int).Sub(p.InsurancePool, e.params.floor()); above.Sign() > 0 {
		avail.Add(avail, above)
	}
	return avail
}

// WithdrawPublisherStake returns stake to the publisher, drawing the reward
// pool first and then insurance down to the configured floor.
func (e *Engine) WithdrawPublisherStake(ctx context.Context, caller, cid string, amount *big.Int) (*store.Position, error) {
	if amount == nil || amount.Sign() <= 0 {
		return nil, &Error{Op: "withdraw", CID: cid, Err: ErrZeroAmount}
	}
	var out *store.Position
	err := e.update(ctx, "withdraw", cid, func(tx store.Tx) error {
		p, err := position(tx, cid)
		if err != nil {
			return err
		}
		if caller != p.Publisher {
			return ErrNotPublisher
		}
		if p.ConsecutiveBreaches != 0 {
			return ErrBreachActive
		}
		now := e.now().UTC()
		if !p.LastBreachAt.IsZero() && now.Sub(p.LastBreachAt) < e.params.Cooldown {
			return ErrCooldownActive
		}
		if amount.Cmp(e.Withdrawable(p)) > 0 {
			return ErrInsufficientFunds
		}
		fromReward := new(big.Int).Set(amount)
		if fromReward.Cmp(p.RewardPool) > 0 {
			fromReward.Set(p.RewardPool)
		}
		fromInsurance := new(big.Int).Sub(amount, fromReward)
		p.RewardPool = new(big.Int).Sub(p.RewardPool, fromReward)
		p.InsurancePool = new(big.Int).Sub(p.InsurancePool, fromInsurance)
		if err := tx.UpdatePosition(p); err != nil {
			return err
		}
		if err := e.push(tx, p.Publisher, amount); err != nil {
			return err
		}
		out = p
		return tx.Emit(store.Event{
			Kind:    store.EventPublisherWithdrawal,
			CID:     cid,
			Account: p.Publisher,
			Amount:  new(big.Int).Set(amount),
			At:      now,
		})
	})
	if err != nil {
		return nil, err
	}
	e.log.Info("stake withdrawn", "cid", cid, "publisher", caller, "amount", amount.String())
	return out, nil
}

// Position returns the current position for cid.
func (e *Engine) Position(ctx context.Context, cid string) (*store.Position, error) {
	var out *store.Position
	err := e.store.View(ctx, func(tx store.Tx) error {
		p, err := position(tx, cid)
		out = p
		return err
	})
	if err != nil {
		return nil, &Error{Op: "position", CID: cid, Err: err}
	}
	return out, nil
}

// Accrued returns the unclaimed rewards of account.
func (e *Engine) Accrued(ctx context.Context, account string) (*big.Int, error) {
	var out *big.Int
	err := e.store.View(ctx, func(tx store.Tx) (err error) {
		out, err = tx.Accrued(account)
		return err
	})
	return out, err
}

// Balance returns the funds pushed to account so far.
func (e *Engine) Balance(ctx context.Context, account string) (*big.Int, error) {
	var out *big.Int
	err := e.store.View(ctx, func(tx store.Tx) (err error) {
		out, err = tx.Balance(account)
		return err
	})
	return out, err
}

// Events lists ledger events for cid, or every event when cid is empty.
func (e *Engine) Events(ctx context.Context, cid string) ([]store.Event, error) {
	return e.store.Events(ctx, cid)
}

package store

import (
	"context"
	"errors"
	"math/big"
	"time"
)

// DefaultDBPath is the default relative path for the SQLite ledger.
// Open() creates the parent dir (e.g. .cidwatch).
const DefaultDBPath = ".cidwatch/ledger.db"

var (
	// ErrNotFound is returned when no position exists for a CID.
	ErrNotFound = errors.New("store: position not found")
	// ErrExists is returned when inserting a position that already exists.
	ErrExists = errors.New("store: position already exists")
	// ErrConflict is returned when a position changed since it was read.
	ErrConflict = errors.New("store: version conflict")
)

// Position is the ledger-resident economics record for one CID.
// Version is the optimistic-concurrency counter; UpdatePosition only
// succeeds when it matches the stored value.
type Position struct {
	CID                 string    `json:"cid"`
	Publisher           string    `json:"publisher"`
	InsurancePool       *big.Int  `json:"insurance_pool"`
	RewardPool          *big.Int  `json:"reward_pool"`
	ConsecutiveBreaches uint64    `json:"consecutive_breaches"`
	LastBreachAt        time.Time `json:"last_breach_at,omitempty"`
	FundedAt            time.Time `json:"funded_at"`
	Version             uint64    `json:"version"`
}

// Clone returns a deep copy.
func (p *Position) Clone() *Position {
	cp := *p
	cp.InsurancePool = new(big.Int).Set(orZero(p.InsurancePool))
	cp.RewardPool = new(big.Int).Set(orZero(p.RewardPool))
	return &cp
}

// EventKind names a ledger event.
type EventKind string

const (
	EventPublisherStaked      EventKind = "PublisherStaked"
	EventMonitoringRewardPaid EventKind = "MonitoringRewardPaid"
	EventBreachRecorded       EventKind = "BreachRecorded"
	EventInsurancePayout      EventKind = "InsurancePayout"
	EventRewardsClaimed       EventKind = "RewardsClaimed"
	EventPublisherWithdrawal  EventKind = "PublisherWithdrawal"
)

// Event is an append-only record of a state transition. Account is the
// publisher, validator or beneficiary the event names; Insurance and
// Rewards are set only on PublisherStaked, Count only on BreachRecorded.
type Event struct {
	Seq       int64     `json:"seq"`
	Kind      EventKind `json:"kind"`
	CID       string    `json:"cid,omitempty"`
	Account   string    `json:"account,omitempty"`
	Amount    *big.Int  `json:"amount,omitempty"`
	Insurance *big.Int  `json:"insurance,omitempty"`
	Rewards   *big.Int  `json:"rewards,omitempty"`
	Count     uint64    `json:"count,omitempty"`
	At        time.Time `json:"at"`
}

// Tx is the view of the ledger inside one atomic transition. Nothing
// written through a Tx is visible to others unless the enclosing Update
// returns nil.
type Tx interface {
	Position(cid string) (*Position, error)
	InsertPosition(p *Position) error
	// UpdatePosition writes p if the stored version equals p.Version and
	// then increments p.Version.
	UpdatePosition(p *Position) error

	Accrued(account string) (*big.Int, error)
	SetAccrued(account string, amount *big.Int) error

	Balance(account string) (*big.Int, error)
	Credit(account string, amount *big.Int) error

	Emit(ev Event) error
}

// Store is the persistence facade for the economics engine.
// Implementations are SQLite or in-memory.
type Store interface {
	// Update runs fn in a read-write transaction; fn's error discards every write.
	Update(ctx context.Context, fn func(Tx) error) error
	// View runs fn in a read-only transaction.
	View(ctx context.Context, fn func(Tx) error) error
	// Events lists events for cid in order; an empty cid lists all events.
	Events(ctx context.Context, cid string) ([]Event, error)
	Close() error
}

func orZero(v *big.Int) *big.Int {
	if v == nil {
		return new(big.Int)
	}
	return v
}

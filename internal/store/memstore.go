package store

import (
	"context"
	"math/big"
	"sync"
)

// memState is the full contents of a MemStore.
type memState struct {
	positions map[string]*Position
	accrued   map[string]*big.Int
	balances  map[string]*big.Int
	events    []Event
}

func newMemState() *memState {
	return &memState{
		positions: make(map[string]*Position),
		accrued:   make(map[string]*big.Int),
		balances:  make(map[string]*big.Int),
	}
}

func (s *memState) clone() *memState {
	cp := newMemState()
	for k, v := range s.positions {
		cp.positions[k] = v.Clone()
	}
	for k, v := range s.accrued {
		cp.accrued[k] = new(big.Int).Set(v)
	}
	for k, v := range s.balances {
		cp.balances[k] = new(big.Int).Set(v)
	}
	cp.events = append([]Event(nil), s.events...)
	return cp
}

// MemStore is an in-memory Store. Each Update works on a private copy of
// the state that replaces the shared one only when fn succeeds.
type MemStore struct {
	mu    sync.Mutex
	state *memState
}

// NewMemStore returns an empty in-memory store.
func NewMemStore() *MemStore {
	return &MemStore{state: newMemState()}
}

// Update implements Store.
func (s *MemStore) Update(ctx context.Context, fn func(Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	staged := s.state.clone()
	if err := fn(&memTx{state: staged}); err != nil {
		return err
	}
	s.state = staged
	return nil
}

// View implements Store.
func (s *MemStore) View(ctx context.Context, fn func(Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return fn(&memTx{state: s.state.clone(), readOnly: true})
}

// Events implements Store.
func (s *MemStore) Events(ctx context.Context, cid string) ([]Event, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Event
	for _, ev := range s.state.events {
		if cid == "" || ev.CID == cid {
			out = append(out, ev)
		}
	}
	return out, nil
}

// Close implements Store.
func (s *MemStore) Close() error { return nil }

type memTx struct {
	state    *memState
	readOnly bool
}

func (t *memTx) writable() error {
	if t.readOnly {
		return errReadOnly
	}
	return nil
}

func (t *memTx) Position(cid string) (*Position, error) {
	p, ok := t.state.positions[cid]
	if !ok {
		return nil, ErrNotFound
	}
	return p.Clone(), nil
}

func (t *memTx) InsertPosition(p *Position) error {
	if err := t.writable(); err != nil {
		return err
	}
	if _, ok := t.state.positions[p.CID]; ok {
		return ErrExists
	}
	if p.Version == 0 {
		p.Version = 1
	}
	t.state.positions[p.CID] = p.Clone()
	return nil
}

func (t *memTx) UpdatePosition(p *Position) error {
	if err := t.writable(); err != nil {
		return err
	}
	cur, ok := t.state.positions[p.CID]
	if !ok || cur.Version != p.Version {
		return ErrConflict
	}
	p.Version++
	next := p.Clone()
	next.FundedAt = cur.FundedAt
	t.state.positions[p.CID] = next
	return nil
}

func (t *memTx) Accrued(account string) (*big.Int, error) {
	return new(big.Int).Set(orZero(t.state.accrued[account])), nil
}

func (t *memTx) SetAccrued(account string, amount *big.Int) error {
	if err := t.writable(); err != nil {
		return err
	}
	t.state.accrued[account] = new(big.Int).Set(orZero(amount))
	return nil
}

func (t *memTx) Balance(account string) (*big.Int, error) {
	return new(big.Int).Set(orZero(t.state.balances[account])), nil
}

func (t *memTx) Credit(account string, amount *big.Int) error {
	if err := t.writable(); err != nil {
		return err
	}
	if err := validateCredit(account, amount); err != nil {
		return err
	}
	cur := orZero(t.state.balances[account])
	t.state.balances[account] = new(big.Int).Add(cur, amount)
	return nil
}

func (t *memTx) Emit(ev Event) error {
	if err := t.writable(); err != nil {
		return err
	}
	ev.Seq = int64(len(t.state.events)) + 1
	t.state.events = append(t.state.events, ev)
	return nil
}

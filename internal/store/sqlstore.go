package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// formatTime renders t as an RFC 3339 UTC string; the zero time is NULL.
func formatTime(t time.Time) sql.NullString {
	if t.IsZero() {
		return sql.NullString{}
	}
	return sql.NullString{String: t.UTC().Format(time.RFC3339Nano), Valid: true}
}

// parseTime converts a nullable column back to time (zero if null).
func parseTime(ns sql.NullString) (time.Time, error) {
	if !ns.Valid || ns.String == "" {
		return time.Time{}, nil
	}
	return time.Parse(time.RFC3339Nano, ns.String)
}

func parseAmount(s string) (*big.Int, error) {
	v, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return nil, fmt.Errorf("store: bad amount %q", s)
	}
	return v, nil
}

// SqlStore implements Store with SQLite.
type SqlStore struct {
	db *sql.DB
}

// Open opens or creates a SQLite DB at path and runs migrations.
// Creates the parent directory (e.g. .cidwatch) if it does not exist.
func Open(path string) (*SqlStore, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create store dir: %w", err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// One connection serializes writers; transitions never interleave.
	db.SetMaxOpenConns(1)
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}
	s := &SqlStore{db: db}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SqlStore) migrate() error {
	var tableCount int
	err := s.db.QueryRow(
		"SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name='schema_version'",
	).Scan(&tableCount)
	if err != nil {
		return fmt.Errorf("check schema_version table: %w", err)
	}

	if tableCount == 0 {
		return s.freshInstall()
	}

	var v int
	err = s.db.QueryRow("SELECT version FROM schema_version LIMIT 1").Scan(&v)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("read schema version: %w", err)
	}
	if errors.Is(err, sql.ErrNoRows) {
		return s.freshInstall()
	}

	switch v {
	case currentSchemaVersion:
		return nil
	default:
		return fmt.Errorf("unknown schema version %d", v)
	}
}

// freshInstall creates the schema from scratch on an empty database.
func (s *SqlStore) freshInstall() error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin schema tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()
	if _, err := tx.Exec(schemaV1); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	if _, err := tx.Exec("DELETE FROM schema_version"); err != nil {
		return fmt.Errorf("reset schema version: %w", err)
	}
	if _, err := tx.Exec("INSERT INTO schema_version(version) VALUES(?)", currentSchemaVersion); err != nil {
		return fmt.Errorf("set schema version: %w", err)
	}
	return tx.Commit()
}

// Close closes the database.
func (s *SqlStore) Close() error {
	return s.db.Close()
}

// Update implements Store.
func (s *SqlStore) Update(ctx context.Context, fn func(Tx) error) error {
	return s.run(ctx, false, fn)
}

// View implements Store.
func (s *SqlStore) View(ctx context.Context, fn func(Tx) error) error {
	return s.run(ctx, true, fn)
}

func (s *SqlStore) run(ctx context.Context, readOnly bool, fn func(Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := fn(&sqlTx{ctx: ctx, tx: tx, readOnly: readOnly}); err != nil {
		return err
	}
	if readOnly {
		return nil
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

// Events implements Store.
func (s *SqlStore) Events(ctx context.Context, cid string) ([]Event, error) {
	query := "SELECT seq, payload FROM events ORDER BY seq"
	args := []any{}
	if cid != "" {
		query = "SELECT seq, payload FROM events WHERE cid = ? ORDER BY seq"
		args = append(args, cid)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}
	defer rows.Close()

	var out []Event
	for rows.Next() {
		var seq int64
		var payload []byte
		if err := rows.Scan(&seq, &payload); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		var ev Event
		if err := json.Unmarshal(payload, &ev); err != nil {
			return nil, fmt.Errorf("decode event %d: %w", seq, err)
		}
		ev.Seq = seq
		out = append(out, ev)
	}
	return out, rows.Err()
}

var errReadOnly = errors.New("store: write in read-only transaction")

type sqlTx struct {
	ctx      context.Context
	tx       *sql.Tx
	readOnly bool
}

func (t *sqlTx) writable() error {
	if t.readOnly {
		return errReadOnly
	}
	return nil
}

func (t *sqlTx) Position(cid string) (*Position, error) {
	var (
		p                  Position
		insurance, reward  string
		lastBreach, funded sql.NullString
	)
	err := t.tx.QueryRowContext(t.ctx,
		`SELECT cid, publisher, insurance_pool, reward_pool, consecutive_breaches, last_breach_at, funded_at, version
		 FROM positions WHERE cid = ?`, cid,
	).Scan(&p.CID, &p.Publisher, &insurance, &reward, &p.ConsecutiveBreaches, &lastBreach, &funded, &p.Version)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get position: %w", err)
	}
	if p.InsurancePool, err = parseAmount(insurance); err != nil {
		return nil, err
	}
	if p.RewardPool, err = parseAmount(reward); err != nil {
		return nil, err
	}
	if p.LastBreachAt, err = parseTime(lastBreach); err != nil {
		return nil, fmt.Errorf("parse last_breach_at: %w", err)
	}
	if p.FundedAt, err = parseTime(funded); err != nil {
		return nil, fmt.Errorf("parse funded_at: %w", err)
	}
	return &p, nil
}

func (t *sqlTx) InsertPosition(p *Position) error {
	if err := t.writable(); err != nil {
		return err
	}
	var exists int
	if err := t.tx.QueryRowContext(t.ctx, "SELECT COUNT(*) FROM positions WHERE cid = ?", p.CID).Scan(&exists); err != nil {
		return fmt.Errorf("check position: %w", err)
	}
	if exists > 0 {
		return ErrExists
	}
	if p.Version == 0 {
		p.Version = 1
	}
	_, err := t.tx.ExecContext(t.ctx,
		`INSERT INTO positions(cid, publisher, insurance_pool, reward_pool, consecutive_breaches, last_breach_at, funded_at, version)
		 VALUES(?, ?, ?, ?, ?, ?, ?, ?)`,
		p.CID, p.Publisher, orZero(p.InsurancePool).String(), orZero(p.RewardPool).String(),
		p.ConsecutiveBreaches, formatTime(p.LastBreachAt), formatTime(p.FundedAt), p.Version,
	)
	if err != nil {
		return fmt.Errorf("insert position: %w", err)
	}
	return nil
}

func (t *sqlTx) UpdatePosition(p *Position) error {
	if err := t.writable(); err != nil {
		return err
	}
	res, err := t.tx.ExecContext(t.ctx,
		`UPDATE positions
		 SET publisher = ?, insurance_pool = ?, reward_pool = ?, consecutive_breaches = ?, last_breach_at = ?, version = version + 1
		 WHERE cid = ? AND version = ?`,
		p.Publisher, orZero(p.InsurancePool).String(), orZero(p.RewardPool).String(),
		p.ConsecutiveBreaches, formatTime(p.LastBreachAt), p.CID, p.Version,
	)
	if err != nil {
		return fmt.Errorf("update position: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update position: %w", err)
	}
	if n == 0 {
		return ErrConflict
	}
	p.Version++
	return nil
}

func (t *sqlTx) amount(table, account string) (*big.Int, error) {
	var s string
	err := t.tx.QueryRowContext(t.ctx, "SELECT amount FROM "+table+" WHERE account = ?", account).Scan(&s)
	if errors.Is(err, sql.ErrNoRows) {
		return new(big.Int), nil
	}
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", table, err)
	}
	return parseAmount(s)
}

func (t *sqlTx) setAmount(table, account string, amount *big.Int) error {
	if err := t.writable(); err != nil {
		return err
	}
	_, err := t.tx.ExecContext(t.ctx,
		"INSERT INTO "+table+"(account, amount) VALUES(?, ?) ON CONFLICT(account) DO UPDATE SET amount = excluded.amount",
		account, orZero(amount).String(),
	)
	if err != nil {
		return fmt.Errorf("write %s: %w", table, err)
	}
	return nil
}

func (t *sqlTx) Accrued(account string) (*big.Int, error) {
	return t.amount("accrued_rewards", account)
}

func (t *sqlTx) SetAccrued(account string, amount *big.Int) error {
	return t.setAmount("accrued_rewards", account, amount)
}

func (t *sqlTx) Balance(account string) (*big.Int, error) {
	return t.amount("balances", account)
}

func (t *sqlTx) Credit(account string, amount *big.Int) error {
	if err := validateCredit(account, amount); err != nil {
		return err
	}
	cur, err := t.Balance(account)
	if err != nil {
		return err
	}
	return t.setAmount("balances", account, cur.Add(cur, amount))
}

func (t *sqlTx) Emit(ev Event) error {
	if err := t.writable(); err != nil {
		return err
	}
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}
	_, err = t.tx.ExecContext(t.ctx,
		"INSERT INTO events(kind, cid, account, payload, created_at) VALUES(?, ?, ?, ?, ?)",
		string(ev.Kind), ev.CID, ev.Account, payload, formatTime(ev.At),
	)
	if err != nil {
		return fmt.Errorf("insert event: %w", err)
	}
	return nil
}

// validateCredit rejects transfers no ledger would accept.
func validateCredit(account string, amount *big.Int) error {
	if account == "" {
		return errors.New("store: credit to empty account")
	}
	if amount == nil || amount.Sign() < 0 {
		return errors.New("store: credit amount must be non-negative")
	}
	return nil
}

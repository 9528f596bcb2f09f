package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"Garame/internal/storage"

	"github.com/lib/pq"
)

// Dialect names accepted by NewSQLStore.
const (
	DialectPostgres = storage.DriverPostgres
	DialectSQLite   = storage.DriverSQLite
)

type sqlStore struct {
	db      *sql.DB
	dialect string
}

// OpenSQLStore opens the database for driver and ensures the ledger schema.
// For sqlite the dsn is a file path or ":memory:".
func OpenSQLStore(ctx context.Context, driver, dsn string) (Store, error) {
	db, dialect, err := storage.OpenSQL(ctx, driver, dsn)
	if err != nil {
		return nil, err
	}
	return NewSQLStore(ctx, db, dialect)
}

// NewSQLStore wraps an open database. The caller hands over ownership of db.
func NewSQLStore(ctx context.Context, db *sql.DB, dialect string) (Store, error) {
	s := &sqlStore{db: db, dialect: dialect}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := s.ensureSchema(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *sqlStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *sqlStore) ensureSchema(ctx context.Context) error {
	stmts := []string{`
CREATE TABLE IF NOT EXISTS ledger_accounts (
    user_id TEXT PRIMARY KEY,
    balance BIGINT NOT NULL DEFAULT 0 CHECK (balance >= 0),
    updated_at_ms BIGINT NOT NULL
)`, `
CREATE TABLE IF NOT EXISTS ledger_transactions (
    id TEXT PRIMARY KEY,
    user_id TEXT NOT NULL,
    type TEXT NOT NULL,
    status TEXT NOT NULL,
    amount BIGINT NOT NULL,
    currency_amount BIGINT NOT NULL DEFAULT 0,
    koras_before BIGINT NOT NULL,
    koras_after BIGINT NOT NULL,
    game_id TEXT NOT NULL DEFAULT '',
    room_id TEXT NOT NULL DEFAULT '',
    reference TEXT NOT NULL,
    created_at_ms BIGINT NOT NULL,
    updated_at_ms BIGINT NOT NULL
)`,
		`CREATE UNIQUE INDEX IF NOT EXISTS uq_ledger_transactions_reference ON ledger_transactions(reference)`,
		`CREATE INDEX IF NOT EXISTS idx_ledger_transactions_user ON ledger_transactions(user_id, created_at_ms DESC)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("ensure ledger schema: %w", err)
		}
	}
	return nil
}

// rebind rewrites ? placeholders to $n for postgres.
func (s *sqlStore) rebind(query string) string {
	if s.dialect != DialectPostgres {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteString("$" + strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func (s *sqlStore) isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "23505"
	}
	return err != nil && strings.Contains(strings.ToLower(err.Error()), "unique constraint failed")
}

func (s *sqlStore) Atomic(ctx context.Context, fn func(tx Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if err := fn(&sqlTx{ctx: ctx, tx: tx, s: s}); err != nil {
		return err
	}
	return tx.Commit()
}

type sqlTx struct {
	ctx context.Context
	tx  *sql.Tx
	s   *sqlStore
}

const txColumns = `id, user_id, type, status, amount, currency_amount, koras_before, koras_after,
    game_id, room_id, reference, created_at_ms, updated_at_ms`

func (t *sqlTx) Balance(userID string) (int64, error) {
	nowMs := time.Now().UTC().UnixMilli()
	// 先确保行存在，FOR UPDATE 才能锁住新账户
	if _, err := t.tx.ExecContext(t.ctx, t.s.rebind(`
INSERT INTO ledger_accounts (user_id, balance, updated_at_ms) VALUES (?, 0, ?)
ON CONFLICT (user_id) DO NOTHING`), userID, nowMs); err != nil {
		return 0, err
	}
	query := `SELECT balance FROM ledger_accounts WHERE user_id = ?`
	if t.s.dialect == DialectPostgres {
		query += ` FOR UPDATE`
	}
	var balance int64
	if err := t.tx.QueryRowContext(t.ctx, t.s.rebind(query), userID).Scan(&balance); err != nil {
		return 0, err
	}
	return balance, nil
}

func (t *sqlTx) SetBalance(userID string, balance int64, at time.Time) error {
	_, err := t.tx.ExecContext(t.ctx, t.s.rebind(`
INSERT INTO ledger_accounts (user_id, balance, updated_at_ms) VALUES (?, ?, ?)
ON CONFLICT (user_id) DO UPDATE
SET balance = excluded.balance, updated_at_ms = excluded.updated_at_ms`),
		userID, balance, at.UTC().UnixMilli())
	return err
}

func (t *sqlTx) Insert(tr *Transaction) error {
	_, err := t.tx.ExecContext(t.ctx, t.s.rebind(`
INSERT INTO ledger_transactions (`+txColumns+`)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`),
		tr.ID, tr.UserID, string(tr.Type), string(tr.Status), tr.Amount, tr.CurrencyAmount,
		tr.KorasBefore, tr.KorasAfter, tr.GameID, tr.RoomID, tr.Reference,
		tr.CreatedAt.UTC().UnixMilli(), tr.UpdatedAt.UTC().UnixMilli())
	if t.s.isUniqueViolation(err) {
		return ErrDuplicateReference
	}
	return err
}

func (t *sqlTx) Update(tr *Transaction) error {
	res, err := t.tx.ExecContext(t.ctx, t.s.rebind(`
UPDATE ledger_transactions
SET status = ?, koras_before = ?, koras_after = ?, currency_amount = ?, updated_at_ms = ?
WHERE id = ?`),
		string(tr.Status), tr.KorasBefore, tr.KorasAfter, tr.CurrencyAmount, tr.UpdatedAt.UTC().UnixMilli(), tr.ID)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrTxNotFound
	}
	return nil
}

func (t *sqlTx) ByReference(reference string) (*Transaction, error) {
	row := t.tx.QueryRowContext(t.ctx, t.s.rebind(`SELECT `+txColumns+` FROM ledger_transactions WHERE reference = ?`), reference)
	return scanOne(row)
}

func (t *sqlTx) ByID(id string) (*Transaction, error) {
	row := t.tx.QueryRowContext(t.ctx, t.s.rebind(`SELECT `+txColumns+` FROM ledger_transactions WHERE id = ?`), id)
	return scanOne(row)
}

func (s *sqlStore) Balance(ctx context.Context, userID string) (int64, error) {
	var balance int64
	err := s.db.QueryRowContext(ctx, s.rebind(`SELECT balance FROM ledger_accounts WHERE user_id = ?`), userID).Scan(&balance)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	return balance, err
}

func (s *sqlStore) Transactions(ctx context.Context, userID string, limit int) ([]Transaction, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, s.rebind(`
SELECT `+txColumns+`
FROM ledger_transactions
WHERE user_id = ?
ORDER BY created_at_ms DESC, id DESC
LIMIT ?`), userID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []Transaction{}
	for rows.Next() {
		tr, err := scanTx(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *tr)
	}
	return out, rows.Err()
}

func (s *sqlStore) Transaction(ctx context.Context, id string) (*Transaction, error) {
	row := s.db.QueryRowContext(ctx, s.rebind(`SELECT `+txColumns+` FROM ledger_transactions WHERE id = ?`), id)
	return scanOne(row)
}

func (s *sqlStore) CompletedSum(ctx context.Context, userID string) (int64, error) {
	var sum sql.NullInt64
	err := s.db.QueryRowContext(ctx, s.rebind(`
SELECT SUM(amount) FROM ledger_transactions WHERE user_id = ? AND status = ?`),
		userID, string(StatusCompleted)).Scan(&sum)
	if err != nil {
		return 0, err
	}
	return sum.Int64, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanOne(row *sql.Row) (*Transaction, error) {
	tr, err := scanTx(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return tr, err
}

func scanTx(sc scanner) (*Transaction, error) {
	var (
		tr                   Transaction
		typ, status          string
		createdMs, updatedMs int64
	)
	if err := sc.Scan(&tr.ID, &tr.UserID, &typ, &status, &tr.Amount, &tr.CurrencyAmount,
		&tr.KorasBefore, &tr.KorasAfter, &tr.GameID, &tr.RoomID, &tr.Reference, &createdMs, &updatedMs); err != nil {
		return nil, err
	}
	tr.Type = TxType(typ)
	tr.Status = TxStatus(status)
	tr.CreatedAt = time.UnixMilli(createdMs).UTC()
	tr.UpdatedAt = time.UnixMilli(updatedMs).UTC()
	return &tr, nil
}

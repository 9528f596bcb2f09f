package ledger

import (
	"context"
	"sort"
	"sync"
	"time"
)

type memStore struct {
	mu       sync.Mutex
	balances map[string]int64
	txs      map[string]*Transaction
	refs     map[string]string // reference -> tx id
	seq      []string          // insertion order
}

// NewMemoryStore 内存版账本，Atomic 期间持有全局锁
func NewMemoryStore() Store {
	return &memStore{
		balances: make(map[string]int64),
		txs:      make(map[string]*Transaction),
		refs:     make(map[string]string),
	}
}

// memTx stages writes and merges them on commit.
type memTx struct {
	base     *memStore
	balances map[string]int64
	txs      map[string]*Transaction
	refs     map[string]string
	seq      []string
}

func (m *memStore) Atomic(ctx context.Context, fn func(tx Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	tx := &memTx{
		base:     m,
		balances: make(map[string]int64),
		txs:      make(map[string]*Transaction),
		refs:     make(map[string]string),
	}
	if err := fn(tx); err != nil {
		return err
	}
	for k, v := range tx.balances {
		m.balances[k] = v
	}
	for k, v := range tx.txs {
		m.txs[k] = v
	}
	for k, v := range tx.refs {
		m.refs[k] = v
	}
	m.seq = append(m.seq, tx.seq...)
	return nil
}

func (t *memTx) Balance(userID string) (int64, error) {
	if b, ok := t.balances[userID]; ok {
		return b, nil
	}
	return t.base.balances[userID], nil
}

func (t *memTx) SetBalance(userID string, balance int64, _ time.Time) error {
	t.balances[userID] = balance
	return nil
}

func (t *memTx) Insert(tr *Transaction) error {
	if _, ok := t.refs[tr.Reference]; ok {
		return ErrDuplicateReference
	}
	if _, ok := t.base.refs[tr.Reference]; ok {
		return ErrDuplicateReference
	}
	cp := *tr
	t.txs[tr.ID] = &cp
	t.refs[tr.Reference] = tr.ID
	t.seq = append(t.seq, tr.ID)
	return nil
}

func (t *memTx) Update(tr *Transaction) error {
	cur, err := t.ByID(tr.ID)
	if err != nil {
		return err
	}
	if cur == nil {
		return ErrTxNotFound
	}
	cp := *cur
	cp.Status = tr.Status
	cp.KorasBefore = tr.KorasBefore
	cp.KorasAfter = tr.KorasAfter
	cp.CurrencyAmount = tr.CurrencyAmount
	cp.UpdatedAt = tr.UpdatedAt
	t.txs[tr.ID] = &cp
	return nil
}

func (t *memTx) ByReference(reference string) (*Transaction, error) {
	id, ok := t.refs[reference]
	if !ok {
		id, ok = t.base.refs[reference]
	}
	if !ok {
		return nil, nil
	}
	return t.ByID(id)
}

func (t *memTx) ByID(id string) (*Transaction, error) {
	if tr, ok := t.txs[id]; ok {
		cp := *tr
		return &cp, nil
	}
	if tr, ok := t.base.txs[id]; ok {
		cp := *tr
		return &cp, nil
	}
	return nil, nil
}

func (m *memStore) Balance(ctx context.Context, userID string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.balances[userID], nil
}

func (m *memStore) Transactions(ctx context.Context, userID string, limit int) ([]Transaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []Transaction{}
	for i := len(m.seq) - 1; i >= 0; i-- {
		tr := m.txs[m.seq[i]]
		if tr.UserID != userID {
			continue
		}
		out = append(out, *tr)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	// seq 已是插入顺序，稳定排序保证同一时刻的记录仍按插入倒序
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (m *memStore) Transaction(ctx context.Context, id string) (*Transaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	tr, ok := m.txs[id]
	if !ok {
		return nil, nil
	}
	cp := *tr
	return &cp, nil
}

func (m *memStore) CompletedSum(ctx context.Context, userID string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var sum int64
	for _, tr := range m.txs {
		if tr.UserID == userID && tr.Status == StatusCompleted {
			sum += tr.Amount
		}
	}
	return sum, nil
}

func (m *memStore) Close() error { return nil }

package ledger

import (
	"context"
	"time"
)

// Tx is one atomic unit of ledger work. Everything done through a Tx is
// committed together or not at all.
type Tx interface {
	// Balance locks the account for the rest of the unit. Unknown accounts hold 0.
	Balance(userID string) (int64, error)
	SetBalance(userID string, balance int64, at time.Time) error
	// Insert fails with ErrDuplicateReference when the reference is taken.
	Insert(t *Transaction) error
	// Update rewrites status, snapshots and currency amount of an existing record.
	Update(t *Transaction) error
	// ByReference and ByID return nil, nil when absent.
	ByReference(reference string) (*Transaction, error)
	ByID(id string) (*Transaction, error)
}

// Store 账本存储抽象：内存版用于测试，SQL 版用于生产
type Store interface {
	Atomic(ctx context.Context, fn func(tx Tx) error) error
	Balance(ctx context.Context, userID string) (int64, error)
	// Transactions lists the newest first.
	Transactions(ctx context.Context, userID string, limit int) ([]Transaction, error)
	Transaction(ctx context.Context, id string) (*Transaction, error)
	// CompletedSum is the signed sum of the user's completed transactions.
	CompletedSum(ctx context.Context, userID string) (int64, error)
	Close() error
}

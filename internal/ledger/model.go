package ledger

import (
	"fmt"
	"time"

	"Garame/internal/errs"
)

type TxType string

const (
	TxGameStake  TxType = "game_stake"
	TxGameWin    TxType = "game_win"
	TxDeposit    TxType = "deposit"
	TxWithdrawal TxType = "withdrawal"
	TxCommission TxType = "commission"
	TxBuyKoras   TxType = "buy_koras"
	TxRefund     TxType = "refund"
)

type TxStatus string

const (
	StatusPending   TxStatus = "pending"
	StatusCompleted TxStatus = "completed"
	StatusFailed    TxStatus = "failed"
)

// Transaction 一次资金流动的不可变记录。Amount 为有符号 koras 变化量，
// 已完成记录满足 KorasAfter - KorasBefore == Amount。
// Pending and failed withdrawals keep the requested Amount with
// KorasAfter == KorasBefore; they never count toward the balance.
type Transaction struct {
	ID             string    `json:"id"`
	UserID         string    `json:"userId"`
	Type           TxType    `json:"type"`
	Status         TxStatus  `json:"status"`
	Amount         int64     `json:"amount"`
	CurrencyAmount int64     `json:"currencyAmount,omitempty"`
	KorasBefore    int64     `json:"korasBefore"`
	KorasAfter     int64     `json:"korasAfter"`
	GameID         string    `json:"gameId,omitempty"`
	RoomID         string    `json:"roomId,omitempty"`
	Reference      string    `json:"reference"`
	CreatedAt      time.Time `json:"createdAt"`
	UpdatedAt      time.Time `json:"updatedAt"`
}

// Payout is one settled win: the net credit and the commission cut.
type Payout struct {
	Win        *Transaction `json:"win"`
	Commission *Transaction `json:"commission,omitempty"`
}

// Payee is a winner of a game in seat order.
type Payee struct {
	UserID string
	IsAI   bool
}

// Reconciliation compares the stored balance with the transaction log.
type Reconciliation struct {
	UserID   string `json:"userId"`
	Stored   int64  `json:"stored"`
	Computed int64  `json:"computed"`
	OK       bool   `json:"ok"`
}

var (
	ErrInsufficientBalance = fmt.Errorf("insufficient koras: %w", errs.ErrInsufficientBalance)
	ErrDuplicateReference  = fmt.Errorf("transaction reference already used: %w", errs.ErrAlreadyExists)
	ErrReferenceConflict   = fmt.Errorf("transaction reference belongs to another movement: %w", errs.ErrConflict)
	ErrTxNotFound          = fmt.Errorf("transaction not found: %w", errs.ErrNotFound)
	ErrNotPending          = fmt.Errorf("transaction is not pending: %w", errs.ErrInvalidState)
	ErrInvalidAmount       = fmt.Errorf("amount must be positive: %w", errs.ErrBadRequest)
	ErrNotRefundable       = fmt.Errorf("only completed stakes can be refunded: %w", errs.ErrInvalidState)
)

package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// System accounts. They are ordinary ledger accounts with reserved ids.
const (
	CommissionAccount = "system:commission"
	HouseAccount      = "system:house"
)

type Config struct {
	// CommissionRate is a fraction, "0.10" for 10%.
	CommissionRate string
	FcfaPerKora    int64
}

// Service 所有余额变动的唯一入口
type Service struct {
	store       Store
	rate        decimal.Decimal
	fcfaPerKora int64
	log         *log.Logger
	now         func() time.Time
	newID       func() string
}

func NewService(store Store, cfg Config, logger *log.Logger) (*Service, error) {
	rate, err := decimal.NewFromString(cfg.CommissionRate)
	if err != nil {
		return nil, fmt.Errorf("commission rate %q: %w", cfg.CommissionRate, err)
	}
	if rate.IsNegative() || rate.GreaterThanOrEqual(decimal.NewFromInt(1)) {
		return nil, fmt.Errorf("commission rate %s out of range [0,1)", rate)
	}
	if cfg.FcfaPerKora <= 0 {
		return nil, fmt.Errorf("fcfa_per_kora must be positive")
	}
	return &Service{
		store:       store,
		rate:        rate,
		fcfaPerKora: cfg.FcfaPerKora,
		log:         logger.WithPrefix("ledger"),
		now:         func() time.Time { return time.Now().UTC() },
		newID:       func() string { return uuid.NewString() },
	}, nil
}

// Commission is amount x rate floored to whole koras.
func (s *Service) Commission(amount int64) int64 {
	return decimal.NewFromInt(amount).Mul(s.rate).Floor().IntPart()
}

// IsReplay reports whether err only says the operation already happened.
func IsReplay(err error) bool {
	return errors.Is(err, ErrDuplicateReference)
}

func (s *Service) CanAffordStake(ctx context.Context, userID string, stake int64) (bool, error) {
	balance, err := s.store.Balance(ctx, userID)
	if err != nil {
		return false, err
	}
	return balance >= stake, nil
}

// entry is one balance movement inside an atomic unit.
type entry struct {
	userID         string
	typ            TxType
	amount         int64
	currencyAmount int64
	gameID         string
	roomID         string
	reference      string
	status         TxStatus
}

// post applies e inside tx, re-checking the balance under the lock.
func (s *Service) post(tx Tx, e entry, at time.Time) (*Transaction, error) {
	balance, err := tx.Balance(e.userID)
	if err != nil {
		return nil, err
	}
	status := e.status
	if status == "" {
		status = StatusCompleted
	}
	after := balance
	if status == StatusCompleted {
		after = balance + e.amount
		if after < 0 {
			return nil, ErrInsufficientBalance
		}
	}
	tr := &Transaction{
		ID:             s.newID(),
		UserID:         e.userID,
		Type:           e.typ,
		Status:         status,
		Amount:         e.amount,
		CurrencyAmount: e.currencyAmount,
		KorasBefore:    balance,
		KorasAfter:     after,
		GameID:         e.gameID,
		RoomID:         e.roomID,
		Reference:      e.reference,
		CreatedAt:      at,
		UpdatedAt:      at,
	}
	if err := tx.Insert(tr); err != nil {
		return nil, err
	}
	if after != balance {
		if err := tx.SetBalance(e.userID, after, at); err != nil {
			return nil, err
		}
	}
	return tr, nil
}

// apply runs entries as one unit. A replayed first reference returns the
// original records with ErrDuplicateReference.
func (s *Service) apply(ctx context.Context, entries ...entry) ([]*Transaction, error) {
	for _, e := range entries {
		if e.amount == 0 {
			return nil, ErrInvalidAmount
		}
		if e.reference == "" {
			return nil, fmt.Errorf("empty transaction reference")
		}
	}

	var out []*Transaction
	err := s.store.Atomic(ctx, func(tx Tx) error {
		out = out[:0]
		if prev, err := tx.ByReference(entries[0].reference); err != nil {
			return err
		} else if prev != nil {
			return ErrDuplicateReference
		}
		at := s.now()
		for _, e := range entries {
			tr, err := s.post(tx, e, at)
			if err != nil {
				return err
			}
			out = append(out, tr)
		}
		return nil
	})
	if IsReplay(err) {
		return s.replayed(ctx, entries)
	}
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Service) replayed(ctx context.Context, entries []entry) ([]*Transaction, error) {
	var out []*Transaction
	err := s.store.Atomic(ctx, func(tx Tx) error {
		for _, e := range entries {
			prev, err := tx.ByReference(e.reference)
			if err != nil {
				return err
			}
			if prev == nil {
				continue
			}
			if prev.UserID != e.userID || prev.Type != e.typ || prev.Amount != e.amount {
				return ErrReferenceConflict
			}
			out = append(out, prev)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, ErrDuplicateReference
}

// StakeReference identifies one seat purchase; version is the room version
// the player joined at, so rejoining the same room is a new purchase.
func StakeReference(roomID, userID string, version int64) string {
	return fmt.Sprintf("stake:%s:%s:%d", roomID, userID, version)
}

// WithdrawReference scopes a client-chosen request id to its user.
func WithdrawReference(userID, clientRef string) string {
	return fmt.Sprintf("withdraw:%s:%s", userID, clientRef)
}

// ProcessStake escrows amount from userID for roomID.
func (s *Service) ProcessStake(ctx context.Context, userID string, amount int64, roomID, reference string) (*Transaction, error) {
	if amount <= 0 {
		return nil, ErrInvalidAmount
	}
	txs, err := s.apply(ctx, entry{
		userID: userID, typ: TxGameStake, amount: -amount, roomID: roomID, reference: reference,
	})
	if err != nil && !IsReplay(err) {
		return nil, err
	}
	s.log.Info("stake", "user", userID, "room", roomID, "amount", amount, "replay", err != nil)
	return first(txs), err
}

// ProcessWinning credits amount minus commission to userID and books the
// commission on the system account. Both records share one computation.
func (s *Service) ProcessWinning(ctx context.Context, userID string, amount int64, gameID string) (*Payout, error) {
	if amount <= 0 {
		return nil, ErrInvalidAmount
	}
	cut := s.Commission(amount)
	ref := fmt.Sprintf("win:%s:%s", gameID, userID)
	entries := []entry{{
		userID: userID, typ: TxGameWin, amount: amount - cut, gameID: gameID, reference: ref,
	}}
	if cut > 0 {
		entries = append(entries, commissionEntry(cut, gameID, "commission:"+ref))
	}
	txs, err := s.apply(ctx, entries...)
	if err != nil && !IsReplay(err) {
		return nil, err
	}
	s.log.Info("winning", "user", userID, "game", gameID, "gross", amount, "commission", cut)
	return payout(txs), err
}

func commissionEntry(amount int64, gameID, reference string) entry {
	return entry{userID: CommissionAccount, typ: TxCommission, amount: amount, gameID: gameID, reference: reference}
}

// ProcessCommission books a standalone commission credit on the system account.
func (s *Service) ProcessCommission(ctx context.Context, fromUser string, amount int64, gameID, reference string) (*Transaction, error) {
	if amount <= 0 {
		return nil, ErrInvalidAmount
	}
	txs, err := s.apply(ctx, commissionEntry(amount, gameID, reference))
	if err == nil {
		s.log.Info("commission", "from", fromUser, "game", gameID, "amount", amount)
	}
	return first(txs), err
}

// Refund returns a completed stake in full. Refunding twice is a replay.
func (s *Service) Refund(ctx context.Context, stakeReference string) (*Transaction, error) {
	var stake *Transaction
	err := s.store.Atomic(ctx, func(tx Tx) error {
		var err error
		stake, err = tx.ByReference(stakeReference)
		return err
	})
	if err != nil {
		return nil, err
	}
	if stake == nil {
		return nil, ErrTxNotFound
	}
	if stake.Type != TxGameStake || stake.Status != StatusCompleted {
		return nil, ErrNotRefundable
	}
	txs, err := s.apply(ctx, entry{
		userID: stake.UserID, typ: TxRefund, amount: -stake.Amount,
		roomID: stake.RoomID, gameID: stake.GameID, reference: "refund:" + stakeReference,
	})
	if err != nil && !IsReplay(err) {
		return nil, err
	}
	s.log.Info("refund", "user", stake.UserID, "room", stake.RoomID, "amount", -stake.Amount)
	return first(txs), err
}

// Settle splits pot evenly among winners, the remainder going to the first
// winner. AI winnings return to the house account without commission.
// Re-running Settle for the same game is safe.
func (s *Service) Settle(ctx context.Context, gameID string, pot int64, winners []Payee) ([]*Payout, error) {
	if len(winners) == 0 || pot <= 0 {
		return nil, nil
	}
	share := pot / int64(len(winners))
	rest := pot % int64(len(winners))

	out := make([]*Payout, 0, len(winners))
	for i, w := range winners {
		amount := share
		if i == 0 {
			amount += rest
		}
		if amount == 0 {
			continue
		}
		var (
			p   *Payout
			err error
		)
		if w.IsAI {
			p, err = s.houseWin(ctx, w.UserID, amount, gameID)
		} else {
			p, err = s.ProcessWinning(ctx, w.UserID, amount, gameID)
		}
		if err != nil && !IsReplay(err) {
			return out, err
		}
		out = append(out, p)
	}
	return out, nil
}

func (s *Service) houseWin(ctx context.Context, seatID string, amount int64, gameID string) (*Payout, error) {
	txs, err := s.apply(ctx, entry{
		userID: HouseAccount, typ: TxGameWin, amount: amount, gameID: gameID,
		reference: fmt.Sprintf("win:%s:%s", gameID, seatID),
	})
	return payout(txs), err
}

func (s *Service) DepositKoras(ctx context.Context, userID string, koras int64, reference string) (*Transaction, error) {
	if koras <= 0 {
		return nil, ErrInvalidAmount
	}
	txs, err := s.apply(ctx, entry{userID: userID, typ: TxDeposit, amount: koras, reference: reference})
	return first(txs), err
}

// BuyKoras converts a currency payment at the configured rate, flooring.
func (s *Service) BuyKoras(ctx context.Context, userID string, fcfa int64, reference string) (*Transaction, error) {
	koras := fcfa / s.fcfaPerKora
	if koras <= 0 {
		return nil, ErrInvalidAmount
	}
	txs, err := s.apply(ctx, entry{
		userID: userID, typ: TxBuyKoras, amount: koras, currencyAmount: fcfa, reference: reference,
	})
	return first(txs), err
}

// Withdraw records a pending request. The balance moves on completion.
// clientRef only needs to be unique per user.
func (s *Service) Withdraw(ctx context.Context, userID string, koras int64, clientRef string) (*Transaction, error) {
	if koras <= 0 {
		return nil, ErrInvalidAmount
	}
	ok, err := s.CanAffordStake(ctx, userID, koras)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrInsufficientBalance
	}
	txs, err := s.apply(ctx, entry{
		userID: userID, typ: TxWithdrawal, amount: -koras, status: StatusPending,
		reference: WithdrawReference(userID, clientRef),
	})
	return first(txs), err
}

// CompleteWithdrawal debits the user and books the commission together;
// the currency paid out is the remainder. The balance is checked again
// since it may have moved after the request.
func (s *Service) CompleteWithdrawal(ctx context.Context, txID string) (*Transaction, error) {
	var done *Transaction
	err := s.store.Atomic(ctx, func(tx Tx) error {
		w, err := s.pendingWithdrawal(tx, txID)
		if err != nil {
			return err
		}
		balance, err := tx.Balance(w.UserID)
		if err != nil {
			return err
		}
		if balance+w.Amount < 0 {
			return ErrInsufficientBalance
		}
		at := s.now()
		w.Status = StatusCompleted
		w.KorasBefore = balance
		w.KorasAfter = balance + w.Amount
		w.UpdatedAt = at
		cut := s.Commission(-w.Amount)
		w.CurrencyAmount = (-w.Amount - cut) * s.fcfaPerKora
		if err := tx.Update(w); err != nil {
			return err
		}
		if err := tx.SetBalance(w.UserID, w.KorasAfter, at); err != nil {
			return err
		}
		if cut > 0 {
			if _, err := s.post(tx, commissionEntry(cut, "", "commission:"+w.Reference), at); err != nil {
				return err
			}
		}
		done = w
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.log.Info("withdrawal completed", "user", done.UserID, "koras", -done.Amount)
	return done, nil
}

// FailWithdrawal closes a pending request with no balance effect.
func (s *Service) FailWithdrawal(ctx context.Context, txID string) (*Transaction, error) {
	var failed *Transaction
	err := s.store.Atomic(ctx, func(tx Tx) error {
		w, err := s.pendingWithdrawal(tx, txID)
		if err != nil {
			return err
		}
		w.Status = StatusFailed
		w.UpdatedAt = s.now()
		if err := tx.Update(w); err != nil {
			return err
		}
		failed = w
		return nil
	})
	if err != nil {
		return nil, err
	}
	return failed, nil
}

func (s *Service) pendingWithdrawal(tx Tx, txID string) (*Transaction, error) {
	w, err := tx.ByID(txID)
	if err != nil {
		return nil, err
	}
	if w == nil || w.Type != TxWithdrawal {
		return nil, ErrTxNotFound
	}
	if w.Status != StatusPending {
		return nil, ErrNotPending
	}
	return w, nil
}

func (s *Service) Balance(ctx context.Context, userID string) (int64, error) {
	return s.store.Balance(ctx, userID)
}

func (s *Service) Transactions(ctx context.Context, userID string, limit int) ([]Transaction, error) {
	return s.store.Transactions(ctx, userID, limit)
}

func (s *Service) Transaction(ctx context.Context, id string) (*Transaction, error) {
	tr, err := s.store.Transaction(ctx, id)
	if err != nil {
		return nil, err
	}
	if tr == nil {
		return nil, ErrTxNotFound
	}
	return tr, nil
}

// Reconcile recomputes the balance from completed transactions. Accounts
// start at zero, so the two must match exactly.
func (s *Service) Reconcile(ctx context.Context, userID string) (Reconciliation, error) {
	stored, err := s.store.Balance(ctx, userID)
	if err != nil {
		return Reconciliation{}, err
	}
	computed, err := s.store.CompletedSum(ctx, userID)
	if err != nil {
		return Reconciliation{}, err
	}
	r := Reconciliation{UserID: userID, Stored: stored, Computed: computed, OK: stored == computed}
	if !r.OK {
		s.log.Error("balance drift", "user", userID, "stored", stored, "computed", computed)
	}
	return r, nil
}

func first(txs []*Transaction) *Transaction {
	if len(txs) == 0 {
		return nil
	}
	return txs[0]
}

func payout(txs []*Transaction) *Payout {
	if len(txs) == 0 {
		return nil
	}
	p := &Payout{Win: txs[0]}
	if len(txs) > 1 {
		p.Commission = txs[1]
	}
	return p
}

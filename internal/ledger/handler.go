package ledger

import (
	"net/http"
	"strconv"

	"Garame/internal/middleware"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

type WithdrawRequest struct {
	Koras     int64  `json:"koras" binding:"required,gt=0"`
	Reference string `json:"reference"`
}

// DepositRequest 由支付回调提交：koras 直接入账，或 fcfa 按汇率购买
type DepositRequest struct {
	UserID    string `json:"userId" binding:"required"`
	Koras     int64  `json:"koras"`
	Fcfa      int64  `json:"fcfa"`
	Reference string `json:"reference" binding:"required"`
}

// GET /wallet/balance
func (h *Handler) Balance(c *gin.Context) {
	userID := middleware.UserID(c)
	balance, err := h.svc.Balance(c.Request.Context(), userID)
	if err != nil {
		middleware.RespondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"userId": userID, "balance": balance})
}

// GET /wallet/transactions?limit=50
func (h *Handler) Transactions(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	txs, err := h.svc.Transactions(c.Request.Context(), middleware.UserID(c), limit)
	if err != nil {
		middleware.RespondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"transactions": txs})
}

// GET /wallet/reconcile
func (h *Handler) Reconcile(c *gin.Context) {
	r, err := h.svc.Reconcile(c.Request.Context(), middleware.UserID(c))
	if err != nil {
		middleware.RespondError(c, err)
		return
	}
	c.JSON(http.StatusOK, r)
}

// POST /wallet/withdraw body: {koras, reference?}
func (h *Handler) Withdraw(c *gin.Context) {
	var req WithdrawRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if req.Reference == "" {
		req.Reference = uuid.NewString()
	}
	tx, err := h.svc.Withdraw(c.Request.Context(), middleware.UserID(c), req.Koras, req.Reference)
	if err != nil && !IsReplay(err) {
		middleware.RespondError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, tx)
}

// POST /payments/deposit body: {userId, koras|fcfa, reference}
func (h *Handler) Deposit(c *gin.Context) {
	var req DepositRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	var (
		tx  *Transaction
		err error
	)
	switch {
	case req.Fcfa > 0:
		tx, err = h.svc.BuyKoras(c.Request.Context(), req.UserID, req.Fcfa, "payment:"+req.Reference)
	default:
		tx, err = h.svc.DepositKoras(c.Request.Context(), req.UserID, req.Koras, "payment:"+req.Reference)
	}
	if err != nil && !IsReplay(err) {
		middleware.RespondError(c, err)
		return
	}
	c.JSON(http.StatusOK, tx)
}

// POST /payments/withdrawals/:id/complete
func (h *Handler) CompleteWithdrawal(c *gin.Context) {
	tx, err := h.svc.CompleteWithdrawal(c.Request.Context(), c.Param("id"))
	if err != nil {
		middleware.RespondError(c, err)
		return
	}
	c.JSON(http.StatusOK, tx)
}

// POST /payments/withdrawals/:id/fail
func (h *Handler) FailWithdrawal(c *gin.Context) {
	tx, err := h.svc.FailWithdrawal(c.Request.Context(), c.Param("id"))
	if err != nil {
		middleware.RespondError(c, err)
		return
	}
	c.JSON(http.StatusOK, tx)
}

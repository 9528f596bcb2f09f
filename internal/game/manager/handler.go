package manager

import (
	"net/http"

	"Garame/internal/game/card"
	"Garame/internal/game/engine"
	"Garame/internal/middleware"

	"github.com/gin-gonic/gin"
)

type Handler struct {
	mgr *GameManager
}

func NewHandler(mgr *GameManager) *Handler {
	return &Handler{mgr: mgr}
}

// ActionRequest 客户端提交的动作，玩家身份取自 token
type ActionRequest struct {
	Type engine.ActionType `json:"type" binding:"required"`
	Card *card.Card        `json:"card"`
}

// GET /games/:id
func (h *Handler) Get(c *gin.Context) {
	view, err := h.mgr.Snapshot(c.Request.Context(), c.Param("id"), middleware.UserID(c))
	if err != nil {
		middleware.RespondError(c, err)
		return
	}
	c.JSON(http.StatusOK, view)
}

// GET /games/:id/valid-actions
func (h *Handler) ValidActions(c *gin.Context) {
	actions, err := h.mgr.ValidActions(c.Request.Context(), c.Param("id"), middleware.UserID(c))
	if err != nil {
		middleware.RespondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"actions": actions})
}

// POST /games/:id/actions  body: {type, card}
func (h *Handler) Action(c *gin.Context) {
	var req ActionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	userID := middleware.UserID(c)
	gs, err := h.mgr.ProcessAction(c.Request.Context(), c.Param("id"), engine.GameAction{
		Type: req.Type, PlayerID: userID, Card: req.Card,
	})
	if err != nil {
		middleware.RespondError(c, err)
		return
	}
	c.JSON(http.StatusOK, engine.NewView(gs, userID))
}

// POST /games/:id/forfeit
func (h *Handler) Forfeit(c *gin.Context) {
	userID := middleware.UserID(c)
	gs, err := h.mgr.Forfeit(c.Request.Context(), c.Param("id"), userID)
	if err != nil {
		middleware.RespondError(c, err)
		return
	}
	c.JSON(http.StatusOK, engine.NewView(gs, userID))
}

func (h *Handler) Register(g *gin.RouterGroup) {
	g.GET("/games/:id", h.Get)
	g.GET("/games/:id/valid-actions", h.ValidActions)
	g.POST("/games/:id/actions", h.Action)
	g.POST("/games/:id/forfeit", h.Forfeit)
}

package matchmaker

import (
	"net/http"

	"Garame/internal/middleware"

	"github.com/gin-gonic/gin"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func actor(c *gin.Context) Actor {
	return Actor{ID: middleware.UserID(c), Name: middleware.UserName(c)}
}

// POST /rooms  body: {gameType, stake, settings}
func (h *Handler) Create(c *gin.Context) {
	var req CreateRoomRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	room, err := h.svc.CreateRoom(c.Request.Context(), actor(c), req)
	if err != nil {
		middleware.RespondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, room)
}

// GET /rooms?status=waiting
func (h *Handler) List(c *gin.Context) {
	rooms, err := h.svc.ListRooms(c.Request.Context(), RoomStatus(c.Query("status")))
	if err != nil {
		middleware.RespondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"rooms": rooms})
}

// GET /rooms/:id
func (h *Handler) Get(c *gin.Context) {
	room, err := h.svc.GetRoom(c.Request.Context(), c.Param("id"))
	if err != nil {
		middleware.RespondError(c, err)
		return
	}
	c.JSON(http.StatusOK, room)
}

// POST /rooms/:id/join  body: {asAI, aiDifficulty}，空 body 表示本人加入
func (h *Handler) Join(c *gin.Context) {
	var req JoinRoomRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
	}
	room, err := h.svc.JoinRoom(c.Request.Context(), c.Param("id"), actor(c), req)
	if err != nil {
		middleware.RespondError(c, err)
		return
	}
	c.JSON(http.StatusOK, room)
}

// POST /rooms/:id/leave
func (h *Handler) Leave(c *gin.Context) {
	room, err := h.svc.LeaveRoom(c.Request.Context(), c.Param("id"), middleware.UserID(c))
	if err != nil {
		middleware.RespondError(c, err)
		return
	}
	c.JSON(http.StatusOK, room)
}

// POST /rooms/:id/ready  body: {ready}
func (h *Handler) Ready(c *gin.Context) {
	var req ReadyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	room, err := h.svc.SetPlayerReady(c.Request.Context(), c.Param("id"), middleware.UserID(c), req.Ready)
	if err != nil {
		middleware.RespondError(c, err)
		return
	}
	c.JSON(http.StatusOK, room)
}

// POST /rooms/:id/start
func (h *Handler) Start(c *gin.Context) {
	roomID := c.Param("id")
	gameID, err := h.svc.StartGame(c.Request.Context(), roomID, middleware.UserID(c))
	if err != nil {
		middleware.RespondError(c, err)
		return
	}
	c.JSON(http.StatusOK, StartResponse{RoomID: roomID, GameID: gameID})
}

// POST /rooms/:id/cancel
func (h *Handler) Cancel(c *gin.Context) {
	room, err := h.svc.CancelRoom(c.Request.Context(), c.Param("id"), middleware.UserID(c))
	if err != nil {
		middleware.RespondError(c, err)
		return
	}
	c.JSON(http.StatusOK, room)
}

// Register mounts the room routes on an authenticated group.
func (h *Handler) Register(g *gin.RouterGroup) {
	g.POST("/rooms", h.Create)
	g.GET("/rooms", h.List)
	g.GET("/rooms/:id", h.Get)
	g.POST("/rooms/:id/join", h.Join)
	g.POST("/rooms/:id/leave", h.Leave)
	g.POST("/rooms/:id/ready", h.Ready)
	g.POST("/rooms/:id/start", h.Start)
	g.POST("/rooms/:id/cancel", h.Cancel)
}

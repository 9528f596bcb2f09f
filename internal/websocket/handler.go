package websocket

import (
	"net/http"

	"Garame/internal/middleware"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// GET /ws?token=...  (JWT middleware 已在 main.go 中加入)
func ServeWS(hub *Hub, router *Router) gin.HandlerFunc {
	return func(c *gin.Context) {
		conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			return
		}

		client := &Client{
			ID:     uuid.NewString(),
			UserID: middleware.UserID(c),
			Name:   middleware.UserName(c),
			Conn:   conn,
			Send:   make(chan OutgoingMessage, sendBuffer),
			Hub:    hub,
		}

		hub.Register(client)

		go client.writePump()
		go client.readPump(router)
	}
}

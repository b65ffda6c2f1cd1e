package master

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/victornm/qduel/internal/auth"
	"github.com/victornm/qduel/internal/errors"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// Origin policy is enforced at the edge proxy.
		return true
	},
}

// Handler upgrades authenticated HTTP requests to match connections.
type Handler struct {
	hub    *Hub
	secret string
}

func NewHandler(hub *Hub, secret string) *Handler {
	return &Handler{hub: hub, secret: secret}
}

// HandleWebSocket authenticates the request, upgrades it, and starts the
// client pumps. No match command is accepted before the token checks out.
func (h *Handler) HandleWebSocket(c *gin.Context) {
	token := c.Query("token")
	if token == "" {
		token = bearerToken(c.GetHeader("Authorization"))
	}
	if token == "" {
		e := errors.New(errors.CodeUnauthenticated, errors.WithMessagef("missing token"))
		c.JSON(e.HTTPStatusCode(), gin.H{"error": e.Message, "code": e.WireCode()})
		return
	}

	claims, err := auth.Validate(token, h.secret)
	if err != nil {
		e := errors.Convert(err)
		c.JSON(e.HTTPStatusCode(), gin.H{"error": e.Message, "code": e.WireCode()})
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		// Upgrade already wrote the response.
		return
	}

	client := NewClient(h.hub, conn, uuid.NewString(), claims.UserID, claims.Username)
	h.hub.register <- client

	go client.WritePump()
	go client.ReadPump()
}

func bearerToken(header string) string {
	const prefix = "Bearer "
	if len(header) > len(prefix) && header[:len(prefix)] == prefix {
		return header[len(prefix):]
	}
	return ""
}

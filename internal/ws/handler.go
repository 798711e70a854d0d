// Package ws carries viewer sessions over websockets: session updates go out
// as JSON frames and client commands come back in, each answered by an ack.
package ws

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/ageniuscoder/internchat/backend/internal/auth"
	"github.com/ageniuscoder/internchat/backend/internal/session"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Allow CORS for demo; tighten in prod.
	CheckOrigin: func(r *http.Request) bool { return true },
}

type Handler struct {
	auth    *auth.Authenticator
	deps    *session.Deps
	log     *logrus.Entry
	metrics *Metrics
	base    context.Context
}

// NewHandler serves viewer sessions until base is done, at which point every
// open connection is closed.
func NewHandler(base context.Context, a *auth.Authenticator, deps *session.Deps, log *logrus.Entry, metrics *Metrics) *Handler {
	if metrics == nil {
		metrics = NewMetrics(nil)
	}
	return &Handler{auth: a, deps: deps, log: log, metrics: metrics, base: base}
}

// RegisterWS mounts GET /ws for authenticated clients.
// Auth works via:
// 1) Header: Authorization: Bearer <JWT>
// 2) Query:  ?token=<JWT>
func RegisterWS(rg *gin.RouterGroup, h *Handler) {
	rg.GET("/ws", h.serve)
}

func (h *Handler) serve(c *gin.Context) {
	token := auth.BearerToken(c)
	if token == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "missing token"})
		return
	}
	self, err := h.auth.Authenticate(c.Request.Context(), token)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.log.WithError(err).Debug("upgrade failed")
		return
	}

	log := h.log.WithFields(logrus.Fields{"viewer": self.ID, "remote": c.ClientIP()})
	client := newClient(conn, log, h.metrics)
	client.viewer = session.NewViewer(h.deps, self, client.sink)
	stop := context.AfterFunc(h.base, client.shutdown)
	defer stop()

	h.metrics.open.Inc()
	defer h.metrics.open.Dec()
	log.Info("websocket connected")

	client.viewer.Start(c.Request.Context())
	go client.writePump()
	client.readPump(c.Request.Context())

	client.viewer.Close()
	log.Info("websocket disconnected")
}

package ws

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/ageniuscoder/internchat/backend/internal/httpx"
	"github.com/ageniuscoder/internchat/backend/internal/model"
	"github.com/ageniuscoder/internchat/backend/internal/session"
	"github.com/ageniuscoder/internchat/backend/internal/utils"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 64 << 10
	sendBuffer     = 256
)

var validate = validator.New()

// command is one client frame. Peer is optional for select, where an empty
// peer closes the open conversation.
type command struct {
	Type      string         `json:"type" validate:"required,oneof=select send react clear delete_participant"`
	Ref       string         `json:"ref" validate:"omitempty,max=64"`
	Peer      string         `json:"peer" validate:"required_if=Type clear,required_if=Type delete_participant"`
	Content   *model.Content `json:"content" validate:"required_if=Type send"`
	MessageID int64          `json:"message_id,string" validate:"required_if=Type react"`
	Emoji     string         `json:"emoji" validate:"required_if=Type react,max=64"`
}

// ack answers a command. Code follows the HTTP status the same failure gets
// over REST.
type ack struct {
	Type    string         `json:"type"`
	Ref     string         `json:"ref,omitempty"`
	OK      bool           `json:"ok"`
	Code    int            `json:"code,omitempty"`
	Error   any            `json:"error,omitempty"`
	Message *model.Message `json:"message,omitempty"`
}

type Client struct {
	viewer  *session.Viewer
	conn    *websocket.Conn
	send    chan []byte
	log     *logrus.Entry
	metrics *Metrics

	closeOnce sync.Once
	closed    chan struct{}
}

func newClient(conn *websocket.Conn, log *logrus.Entry, metrics *Metrics) *Client {
	return &Client{
		conn:    conn,
		send:    make(chan []byte, sendBuffer),
		log:     log,
		metrics: metrics,
		closed:  make(chan struct{}),
	}
}

// sink queues a session update without blocking. A client whose buffer is
// full is disconnected and has to resync on reconnect.
func (c *Client) sink(u session.Update) {
	b, err := json.Marshal(u)
	if err != nil {
		c.log.WithError(err).Error("encode update")
		return
	}
	c.enqueue(b)
}

func (c *Client) enqueue(b []byte) {
	select {
	case <-c.closed:
	case c.send <- b:
	default:
		c.log.Warn("client too slow, disconnecting")
		c.metrics.slow.Inc()
		c.shutdown()
	}
}

func (c *Client) shutdown() {
	c.closeOnce.Do(func() { close(c.closed) })
}

func (c *Client) reply(a ack) {
	a.Type = "ack"
	b, err := json.Marshal(a)
	if err != nil {
		c.log.WithError(err).Error("encode ack")
		return
	}
	c.enqueue(b)
}

func (c *Client) readPump(ctx context.Context) {
	defer c.shutdown()
	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})
	for {
		_, msg, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.log.WithError(err).Debug("read failed")
			}
			return
		}
		c.metrics.commands.Inc()

		var cmd command
		if err := json.Unmarshal(msg, &cmd); err != nil {
			c.reply(ack{Code: http.StatusBadRequest, Error: "malformed command"})
			continue
		}
		if err := validate.Struct(cmd); err != nil {
			var verrs validator.ValidationErrors
			if errors.As(err, &verrs) {
				c.reply(ack{Ref: cmd.Ref, Code: http.StatusBadRequest, Error: utils.ValidationErr(verrs)})
			} else {
				c.reply(ack{Ref: cmd.Ref, Code: http.StatusBadRequest, Error: err.Error()})
			}
			continue
		}
		c.dispatch(ctx, cmd)
	}
}

func (c *Client) dispatch(ctx context.Context, cmd command) {
	var (
		m   model.Message
		err error
	)
	switch cmd.Type {
	case "select":
		err = c.viewer.SelectConversation(ctx, cmd.Peer)
	case "send":
		m, err = c.viewer.Send(ctx, *cmd.Content)
	case "react":
		m, err = c.viewer.ToggleReaction(ctx, cmd.MessageID, cmd.Emoji)
	case "clear":
		err = c.viewer.ClearConversation(ctx, cmd.Peer)
	case "delete_participant":
		err = c.viewer.DeleteParticipant(ctx, cmd.Peer)
	}
	if err != nil {
		code := httpx.Status(err)
		msg := err.Error()
		if code >= http.StatusInternalServerError {
			c.log.WithError(err).WithField("command", cmd.Type).Warn("command failed")
			if code == http.StatusInternalServerError {
				msg = "internal error"
			}
		}
		c.reply(ack{Ref: cmd.Ref, Code: code, Error: msg})
		return
	}
	a := ack{Ref: cmd.Ref, OK: true}
	if m.ID != 0 {
		a.Message = &m
	}
	c.reply(a)
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.shutdown()
		c.conn.Close()
	}()
	for {
		select {
		case <-c.closed:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			c.conn.WriteMessage(websocket.CloseMessage, []byte{})
			return
		case message := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			w, err := c.conn.NextWriter(websocket.TextMessage)
			if err != nil {
				return
			}
			_, _ = w.Write(message)
			if err := w.Close(); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

package realtime

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/collabcards/dashboard/internal/table"
)

// WSMessage is the WebSocket message envelope.
type WSMessage struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// LiveTable is a bound table a socket can drive.
type LiveTable interface {
	Invalidator
	View() table.View
	Subscribe(fn func(table.View)) (cancel func())
	SortBy(key string, dir table.Direction) error
	Close()
	// Done is closed when the table ends, e.g. because its owner signed out.
	Done() <-chan struct{}
}

// Opener binds the table a socket asked for. It runs before the upgrade, so
// it may answer the request itself and return ok=false.
type Opener func(c *gin.Context) (screen string, scope map[string]string, t LiveTable, ok bool)

// Client is one websocket watching one live table.
type Client struct {
	ID     string
	hub    *Hub
	table  LiveTable
	conn   *websocket.Conn
	send   chan WSMessage
	done   chan struct{}
	logger *zap.Logger
}

// Upgrader returns a websocket upgrader accepting the given origins; an
// empty list or "*" accepts any origin.
func Upgrader(origins []string) websocket.Upgrader {
	allowed := make(map[string]bool, len(origins))
	for _, o := range origins {
		allowed[o] = true
	}
	return websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			if origin == "" || len(allowed) == 0 || allowed["*"] {
				return true
			}
			return allowed[origin]
		},
	}
}

// ServeTables upgrades the request and streams the views of the table open
// returns until the socket closes. Closing the socket closes the table, and a
// table that ends on its own closes the socket.
func ServeTables(hub *Hub, upgrader websocket.Upgrader, open Opener, logger *zap.Logger) gin.HandlerFunc {
	if logger == nil {
		logger = zap.NewNop()
	}
	return func(c *gin.Context) {
		screen, scope, t, ok := open(c)
		if !ok {
			return
		}
		conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			t.Close()
			logger.Warn("websocket upgrade failed", zap.Error(err))
			return
		}

		client := &Client{
			hub:    hub,
			table:  t,
			conn:   conn,
			send:   make(chan WSMessage, 16),
			done:   make(chan struct{}),
			logger: logger,
		}
		client.ID = hub.Register(screen, scope, t)
		unsubscribe := t.Subscribe(client.push)
		client.push(t.View())

		go client.writePump()
		client.readPump()
		unsubscribe()
	}
}

// push queues a view; when the socket lags, the oldest queued view is
// replaced since only the latest matters.
func (c *Client) push(v table.View) {
	data, err := json.Marshal(v)
	if err != nil {
		return
	}
	msg := WSMessage{Event: "view", Data: data}
	for {
		select {
		case <-c.done:
			return
		case c.send <- msg:
			return
		default:
		}
		select {
		case <-c.send:
		default:
		}
	}
}

func (c *Client) readPump() {
	defer func() {
		c.hub.Unregister(c.ID)
		c.table.Close()
		close(c.done)
		_ = c.conn.Close()
	}()

	c.conn.SetReadLimit(4096)
	_ = c.conn.SetReadDeadline(time.Now().Add(PongWait * time.Second))
	c.conn.SetPongHandler(func(string) error {
		_ = c.conn.SetReadDeadline(time.Now().Add(PongWait * time.Second))
		return nil
	})

	for {
		var msg WSMessage
		if err := c.conn.ReadJSON(&msg); err != nil {
			break
		}
		_ = c.conn.SetReadDeadline(time.Now().Add(PongWait * time.Second))

		switch msg.Event {
		case "sort":
			var s table.Sort
			if err := json.Unmarshal(msg.Data, &s); err != nil {
				continue
			}
			if err := c.table.SortBy(s.Key, table.ParseDirection(string(s.Direction))); err != nil {
				c.logger.Debug("ignore sort", zap.String("client_id", c.ID), zap.Error(err))
			}
		case "refresh":
			c.table.Invalidate()
		default:
			// ignore
		}
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(PingInterval * time.Second)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case <-c.done:
			_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
			return
		case <-c.table.Done():
			c.logger.Debug("live table ended, closing socket", zap.String("client_id", c.ID))
			msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "table closed")
			_ = c.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
			return
		case msg := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.conn.WriteJSON(msg); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

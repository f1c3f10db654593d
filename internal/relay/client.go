package relay

import (
	"encoding/json"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/npezzotti/go-callrelay/internal/stats"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingInterval   = (pongWait * 9) / 10
	maxMessageSize = 64 << 10
	sendBufferSize = 256
)

// CloseReplaced is sent to a connection superseded by a newer login of the
// same identity.
const CloseReplaced = 4000

type Client struct {
	conn  *websocket.Conn
	relay *Relay
	log   *log.Logger
	info  ConnectionInfo
	send  chan *ServerMessage

	stop        chan struct{}
	stopOnce    sync.Once
	closeCode   int
	closeReason string

	// routeMu is held while a frame from this client is routed and while
	// the client is torn down.
	routeMu  sync.Mutex
	tornDown atomic.Bool
	released chan struct{}
}

func (c *Client) Info() ConnectionInfo {
	return c.info
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
		c.relay.wg.Done()
	}()

	for {
		select {
		case msg := <-c.send:
			bytes, err := json.Marshal(msg)
			if err != nil {
				c.log.Println("failed to serialize message:", err)
				continue
			}

			if !c.sendMessage(websocket.TextMessage, bytes) {
				return
			}
		case <-c.stop:
			c.conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(c.closeCode, c.closeReason),
				time.Now().Add(writeWait))
			return
		case <-ticker.C:
			if !c.sendMessage(websocket.PingMessage, nil) {
				return
			}
		}
	}
}

func (c *Client) readPump() {
	defer func() {
		c.relay.teardown(c, "closed")
		c.relay.wg.Done()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error { c.conn.SetReadDeadline(time.Now().Add(pongWait)); return nil })
	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure,
				websocket.CloseNormalClosure, CloseReplaced) {
				c.log.Printf("ws: read %q: %v", c.info.UserId, err)
			}
			return
		}

		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		c.relay.router.Route(c, raw)
	}
}

// queueMessage never blocks. It reports false when the message was dropped.
func (c *Client) queueMessage(msg *ServerMessage) bool {
	select {
	case <-c.stop:
		return false
	default:
	}

	select {
	case c.send <- msg:
	default:
		c.log.Printf("send queue full for %q, dropping %s", c.info.UserId, msg.Type)
		c.relay.stats.Incr(stats.FramesDropped)
		return false
	}

	return true
}

func (c *Client) sendMessage(msgType int, msg []byte) bool {
	c.conn.SetWriteDeadline(time.Now().Add(writeWait))

	if err := c.conn.WriteMessage(msgType, msg); err != nil {
		if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure,
			websocket.CloseNormalClosure) {
			c.log.Printf("write message: %s", err)
		}
		return false
	}

	return true
}

// closeWith stops the write pump, which sends a close frame with code and
// reason. Only the first call has an effect.
func (c *Client) closeWith(code int, reason string) {
	c.stopOnce.Do(func() {
		c.closeCode = code
		c.closeReason = reason
		close(c.stop)
	})
}

// CloseConn sends a close frame on a socket that is not being served and
// closes it.
func CloseConn(conn *websocket.Conn, code int, reason string) {
	conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(code, reason),
		time.Now().Add(writeWait))
	conn.Close()
}

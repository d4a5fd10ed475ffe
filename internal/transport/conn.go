package transport

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/RodolfoSilva/live-data/internal/router"
	"github.com/RodolfoSilva/live-data/internal/session"
	"github.com/RodolfoSilva/live-data/shared/logger"
	"github.com/RodolfoSilva/live-data/shared/wire"
)

const (
	// writeWait is how long a single socket write may take.
	writeWait = 10 * time.Second
	// pongWait is how long the server waits before considering a socket
	// dead (no pong received).
	pongWait = 15 * time.Second
	// pingPeriod is how frequently the server pings clients to detect
	// stale sockets. Must be below pongWait.
	pingPeriod = 5 * time.Second

	sendBuffer = 256
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin: func(r *http.Request) bool {
		return true // Allow all origins for self-hosting
	},
}

// Conn is one websocket connection carrying multiplexed view sessions.
// Outbound writes are serialized through the send channel so concurrent
// session actors cannot interleave frames.
type Conn struct {
	ws   *websocket.Conn
	hub  *Hub
	send chan []byte

	closeOnce sync.Once
	done      chan struct{}
}

// Upgrade upgrades an HTTP request to a websocket connection and starts its
// read and write pumps.
func Upgrade(w http.ResponseWriter, r *http.Request, registry *router.Registry, opts session.Options) (*Conn, error) {
	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return nil, err
	}

	c := &Conn{
		ws:   ws,
		send: make(chan []byte, sendBuffer),
		done: make(chan struct{}),
	}
	c.hub = NewHub(registry, c, opts)

	go c.writePump()
	go c.readPump()
	return c, nil
}

// Hub returns the connection's session hub.
func (c *Conn) Hub() *Hub { return c.hub }

// Done closes when the connection has shut down.
func (c *Conn) Done() <-chan struct{} { return c.done }

// WriteEnvelope queues an envelope for the write pump. It blocks under
// backpressure so the per-session envelope order is preserved.
func (c *Conn) WriteEnvelope(env *wire.Envelope) error {
	raw, err := json.Marshal(env)
	if err != nil {
		return err
	}
	select {
	case c.send <- raw:
		return nil
	case <-c.done:
		return websocket.ErrCloseSent
	}
}

func (c *Conn) readPump() {
	defer c.close()

	c.ws.SetReadDeadline(time.Now().Add(pongWait))
	c.ws.SetPongHandler(func(string) error {
		c.ws.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, raw, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				logger.Warnf("[transport] read error: %v", err)
			}
			return
		}

		var env wire.Envelope
		if err := json.Unmarshal(raw, &env); err != nil {
			logger.Warnf("[transport] bad envelope: %v", err)
			continue
		}
		logger.Tracef("[transport] recv topic=%s event=%s ref=%s", env.Topic, env.Event, env.Ref)
		c.hub.HandleEnvelope(&env)
	}
}

func (c *Conn) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.close()
	}()

	for {
		select {
		case raw := <-c.send:
			c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.TextMessage, raw); err != nil {
				return
			}
		case <-ticker.C:
			c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-c.done:
			return
		}
	}
}

// close tears the connection down once: sessions observe transport loss,
// the socket closes, pumps exit.
func (c *Conn) close() {
	c.closeOnce.Do(func() {
		close(c.done)
		c.hub.Shutdown()
		_ = c.ws.Close()
	})
}

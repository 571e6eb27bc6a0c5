package server

import (
	"errors"
	"io"
	"log"
	"net"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/Steven-Theuerl/Chat-App/internal/store"
)

const (
	readWait      = 60 * time.Second
	writeWait     = 10 * time.Second
	sendQueueSize = 256
)

// Client is the fixed per-connection record: transport handle, identity
// fields, and the outbound queue. username and joinTime stay at their zero
// values until the handshake completes; authenticated flips false to true
// exactly once, under the hub mutex.
type Client struct {
	id    string
	conn  *websocket.Conn
	send  chan []byte
	ping  chan struct{}
	hub   *Hub
	store *store.Store

	addr string
	ip   string

	username      string
	authenticated bool
	joinTime      time.Time

	closed         bool
	maxMessageSize int64
	limiter        *tokenBucket
	rateLimit      RateLimitConfig
}

// NewClient builds the connection record for a freshly accepted transport
// connection. The remote address is captured once here and never changes.
func NewClient(conn *websocket.Conn, hub *Hub, st *store.Store, addr string) *Client {
	cfg := currentConfig()
	if conn != nil {
		conn.SetReadLimit(cfg.MaxMessageSize)
	}

	return &Client{
		id:             uuid.NewString(),
		conn:           conn,
		send:           make(chan []byte, sendQueueSize),
		ping:           make(chan struct{}, 1),
		hub:            hub,
		store:          st,
		addr:           addr,
		ip:             hostOnly(addr),
		maxMessageSize: cfg.MaxMessageSize,
		limiter:        newTokenBucket(cfg.RateLimit.Burst, cfg.RateLimit.RefillInterval),
		rateLimit:      cfg.RateLimit,
	}
}

// hostOnly strips the port from a remote address so visitor records key on
// the host alone.
func hostOnly(addr string) string {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		return addr
	}
	return host
}

// ID returns the opaque per-socket handle assigned at accept time.
func (c *Client) ID() string {
	return c.id
}

// IP returns the remote host captured when the connection was opened.
func (c *Client) IP() string {
	return c.ip
}

// Username returns the current display name, or "" before authentication.
// It reads under the hub lock because a rename may rewrite the name from
// another goroutine.
func (c *Client) Username() string {
	c.hub.mutex.RLock()
	defer c.hub.mutex.RUnlock()
	return c.username
}

// GetSendChan returns the client's send channel for reading outgoing frames.
func (c *Client) GetSendChan() <-chan []byte {
	return c.send
}

// start launches the read and write pumps, tracked by the hub's WaitGroup so
// shutdown can wait for them.
func (c *Client) start() {
	c.hub.wg.Add(2)
	go func() {
		defer c.hub.wg.Done()
		c.writePump()
	}()
	go func() {
		defer c.hub.wg.Done()
		c.readPump()
	}()
}

// enqueue queues text for this connection only. Delivery is best effort: a
// closed or backed-up connection drops the frame.
func (c *Client) enqueue(text string) {
	c.hub.sendTo(c, text)
}

// requestPing asks the write pump to emit a keep-alive ping. Collapses to a
// no-op when one is already pending.
func (c *Client) requestPing() {
	select {
	case c.ping <- struct{}{}:
	default:
	}
}

// setupReadConnection configures the read deadline and pong handler. Each
// pong pushes the deadline forward, so an idle but responsive connection may
// sit unauthenticated indefinitely.
func (c *Client) setupReadConnection() {
	if err := c.conn.SetReadDeadline(time.Now().Add(readWait)); err != nil {
		log.Printf("Error setting initial read deadline for %s: %v", c.addr, err)
	}
	c.conn.SetPongHandler(func(string) error {
		if err := c.conn.SetReadDeadline(time.Now().Add(readWait)); err != nil {
			log.Printf("Error setting read deadline in pong handler for %s: %v", c.addr, err)
		}
		return nil
	})
}

// handleReadError logs an appropriate message for the error and reports
// whether the read loop should stop. Transport errors are never fatal to the
// process; the close transition still runs on the way out.
func (c *Client) handleReadError(err error) bool {
	if err == nil {
		return false
	}

	switch {
	case errors.Is(err, websocket.ErrReadLimit):
		log.Printf("Message from %s exceeded maximum size of %d bytes", c.addr, c.maxMessageSize)
	case websocket.IsCloseError(err,
		websocket.CloseNormalClosure,
		websocket.CloseGoingAway,
		websocket.CloseAbnormalClosure):
		log.Printf("Client %s disconnected: %v", c.addr, err)
	case errors.Is(err, io.EOF), isExpectedCloseError(err):
		log.Printf("Client %s connection closed: %v", c.addr, err)
	default:
		log.Printf("WebSocket read error from %s: %v", c.addr, err)
	}

	return true
}

// checkRateLimit reports whether the next inbound frame may be processed.
func (c *Client) checkRateLimit() bool {
	if c.limiter != nil && !c.limiter.allow() {
		log.Printf("Rate limit exceeded for %s (%d messages per %s); discarding message",
			c.addr, c.rateLimit.Burst, c.rateLimit.RefillInterval)
		return false
	}
	return true
}

// readPump consumes inbound frames until the transport fails or closes, then
// runs the close transition. Frames are handled strictly in arrival order on
// this goroutine, which is what keeps one connection's messages ordered.
func (c *Client) readPump() {
	defer func() {
		c.hub.Unregister(c)
		c.leave()
		if err := c.conn.Close(); err != nil && !isExpectedCloseError(err) {
			log.Printf("Error closing connection in readPump: %v", err)
		}
	}()

	c.setupReadConnection()

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if c.handleReadError(err) {
				break
			}
		}

		if !c.checkRateLimit() {
			continue
		}

		c.handleInbound(raw)
	}
}

// writePump is the sole writer on the transport connection. It drains the
// send queue and emits keep-alive pings on request from the hub.
func (c *Client) writePump() {
	defer c.closeConnection()

	for {
		select {
		case message, ok := <-c.send:
			if !c.writeMessage(message, ok) {
				return
			}
		case <-c.ping:
			if !c.writePing() {
				return
			}
		}
	}
}

func (c *Client) closeConnection() {
	if err := c.conn.Close(); err != nil && !isExpectedCloseError(err) {
		log.Printf("Error closing connection in writePump: %v", err)
	}
}

// writeMessage sends one text frame, or a close frame when the hub has shut
// the queue. Returns false when the pump should stop.
func (c *Client) writeMessage(message []byte, ok bool) bool {
	if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		log.Printf("Error setting write deadline for %s: %v", c.addr, err)
		return false
	}

	if !ok {
		if err := c.conn.WriteMessage(websocket.CloseMessage, []byte{}); err != nil && !isExpectedCloseError(err) {
			log.Printf("Error writing close message to %s: %v", c.addr, err)
		}
		return false
	}

	if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
		log.Printf("Error writing message to %s: %v", c.addr, err)
		return false
	}
	return true
}

// writePing emits a ping frame requested by the hub's keep-alive sweep.
func (c *Client) writePing() bool {
	if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		log.Printf("Error setting write deadline for ping to %s: %v", c.addr, err)
		return false
	}
	if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
		log.Printf("Error writing ping message to %s: %v", c.addr, err)
		return false
	}
	return true
}

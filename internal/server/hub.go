package server

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"
)

// Rename outcomes surfaced to the rename request handler.
var (
	// ErrNameTaken means the requested username is already held by a
	// different authenticated connection.
	ErrNameTaken = errors.New("username already in use")
	// ErrNameNotFound means no authenticated connection holds the old
	// username.
	ErrNameNotFound = errors.New("no authenticated connection with that username")
)

// Hub owns the set of live connections. It is the single piece of shared
// mutable state in the server: registration, username claims, renames, and
// broadcast fan-out all go through its mutex, which is what keeps the
// username uniqueness invariant airtight under concurrent handshakes and
// renames.
type Hub struct {
	clients map[*Client]bool

	mutex sync.RWMutex
	wg    sync.WaitGroup

	pingInterval time.Duration
	ctx          context.Context
	cancel       context.CancelFunc
	done         chan struct{}
}

// NewHub creates a Hub with an empty registry, picking up the keep-alive
// interval from the active configuration.
func NewHub() *Hub {
	cfg := currentConfig()
	ctx, cancel := context.WithCancel(context.Background())
	return &Hub{
		clients:      make(map[*Client]bool),
		pingInterval: cfg.PingInterval,
		ctx:          ctx,
		cancel:       cancel,
		done:         make(chan struct{}),
	}
}

// Register adds a connection to the registry, queueing greeting on its send
// channel inside the same critical section. The connection only becomes
// visible to broadcasts once its greeting is already first in line, so no
// concurrent connect transition can push a visitor count ahead of it. The
// caller starts the client's pumps afterwards.
func (h *Hub) Register(c *Client, greeting string) {
	h.mutex.Lock()
	c.closed = false
	h.clients[c] = true
	count := len(h.clients)
	if greeting != "" {
		select {
		case c.send <- []byte(greeting):
		default:
		}
	}
	h.mutex.Unlock()

	log.Printf("Client %s registered from %s. Total clients: %d", c.id, c.addr, count)
}

// Unregister removes a connection from the registry and closes its send
// queue. Calling it for a connection that already left is a no-op.
func (h *Hub) Unregister(c *Client) {
	h.mutex.Lock()
	if _, ok := h.clients[c]; !ok {
		h.mutex.Unlock()
		return
	}
	delete(h.clients, c)
	c.closed = true
	count := len(h.clients)
	h.mutex.Unlock()

	// Close the channel after releasing the lock.
	close(c.send)
	log.Printf("Client %s unregistered from %s. Total clients: %d", c.id, c.addr, count)
}

// ClientCount reports the registry size, which is the authoritative visitor
// count used in broadcasts and visitor records.
func (h *Hub) ClientCount() int {
	h.mutex.RLock()
	defer h.mutex.RUnlock()
	return len(h.clients)
}

// IsUsernameTaken reports whether name is held by an authenticated
// connection other than excluding. Pass nil to scan every connection.
func (h *Hub) IsUsernameTaken(name string, excluding *Client) bool {
	h.mutex.RLock()
	defer h.mutex.RUnlock()
	return h.isTakenLocked(name, excluding)
}

func (h *Hub) isTakenLocked(name string, excluding *Client) bool {
	for c := range h.clients {
		if c != excluding && c.authenticated && c.username == name {
			return true
		}
	}
	return false
}

// FindByUsername returns the authenticated connection holding name, or nil.
func (h *Hub) FindByUsername(name string) *Client {
	h.mutex.RLock()
	defer h.mutex.RUnlock()
	for c := range h.clients {
		if c.authenticated && c.username == name {
			return c
		}
	}
	return nil
}

// ConnectedUsernames lists the usernames of all authenticated connections.
// Order is map iteration order and is not significant.
func (h *Hub) ConnectedUsernames() []string {
	h.mutex.RLock()
	defer h.mutex.RUnlock()
	names := make([]string, 0, len(h.clients))
	for c := range h.clients {
		if c.authenticated {
			names = append(names, c.username)
		}
	}
	return names
}

// ClaimUsername atomically checks name for uniqueness and, if free, marks c
// authenticated with it, stamping the join time at second granularity. The
// check and the flag flip share one critical section so two connections can
// never end up holding the same name.
func (h *Hub) ClaimUsername(c *Client, name string) bool {
	h.mutex.Lock()
	defer h.mutex.Unlock()

	if h.isTakenLocked(name, c) {
		return false
	}

	c.username = name
	c.authenticated = true
	c.joinTime = time.Now().UTC().Truncate(time.Second)
	return true
}

// Rename atomically moves oldName's connection to newName. The conflict
// check excludes connections currently holding oldName, so renaming a user
// to their own name succeeds as a no-op. It runs under the same lock as
// ClaimUsername, so a rename can never race a handshake for the same name.
func (h *Hub) Rename(oldName, newName string) (*Client, error) {
	h.mutex.Lock()
	defer h.mutex.Unlock()

	for c := range h.clients {
		if c.authenticated && c.username == newName && c.username != oldName {
			return nil, ErrNameTaken
		}
	}

	for c := range h.clients {
		if c.authenticated && c.username == oldName {
			c.username = newName
			return c, nil
		}
	}

	return nil, ErrNameNotFound
}

// Broadcast fans text out to every open connection's send queue. Members
// whose transport is closed or whose queue is full are skipped; evicting
// dead connections is the transport's job, not the broadcaster's.
func (h *Hub) Broadcast(text string) {
	h.mutex.RLock()
	defer h.mutex.RUnlock()

	payload := []byte(text)
	for c := range h.clients {
		if c.closed {
			continue
		}
		select {
		case c.send <- payload:
		default:
		}
	}
}

// sendTo queues text for a single connection. The registry membership check
// and the queue write share the read lock so the send cannot race the
// channel close in Unregister.
func (h *Hub) sendTo(c *Client, text string) bool {
	h.mutex.RLock()
	defer h.mutex.RUnlock()

	if _, ok := h.clients[c]; !ok || c.closed {
		return false
	}

	select {
	case c.send <- []byte(text):
		return true
	default:
		return false
	}
}

// Run drives the keep-alive ticker and waits for shutdown. It should be
// called in its own goroutine; it returns once Shutdown is invoked and all
// client connections have been told to close.
func (h *Hub) Run() {
	defer close(h.done)

	ticker := time.NewTicker(h.pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-h.ctx.Done():
			h.shutdownClients()
			return
		case <-ticker.C:
			h.pingClients()
		}
	}
}

// pingClients asks every open connection's write pump to emit a keep-alive
// ping. Unresponsive connections are not evicted here; the read deadline
// handles that.
func (h *Hub) pingClients() {
	h.mutex.RLock()
	defer h.mutex.RUnlock()

	for c := range h.clients {
		if !c.closed {
			c.requestPing()
		}
	}
}

// shutdownClients closes every active transport connection.
func (h *Hub) shutdownClients() {
	log.Println("Shutting down all client connections...")

	h.mutex.Lock()
	clients := make([]*Client, 0, len(h.clients))
	for c := range h.clients {
		clients = append(clients, c)
	}
	h.mutex.Unlock()

	for _, c := range clients {
		if c.conn == nil {
			continue
		}
		if err := c.conn.Close(); err != nil && !isExpectedCloseError(err) {
			log.Printf("Error closing client connection from %s: %v", c.addr, err)
		}
	}

	log.Printf("Closed %d client connections", len(clients))
}

// Shutdown stops the keep-alive loop, closes all client connections, and
// waits for the pump goroutines to finish or the timeout to pass.
func (h *Hub) Shutdown(timeout time.Duration) error {
	log.Println("Initiating hub shutdown...")

	h.cancel()
	<-h.done

	done := make(chan struct{})
	go func() {
		h.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		log.Println("Hub shutdown completed successfully")
		return nil
	case <-time.After(timeout):
		log.Println("Hub shutdown timeout reached, some goroutines may still be running")
		return context.DeadlineExceeded
	}
}

package server

import (
	"fmt"
	"log"
	"strings"
)

// welcome runs the connect transition: registration and the name prompt
// share the hub's critical section, then the updated visitor count goes to
// everyone including the new connection. A concurrent connect transition can
// therefore never slip its count broadcast ahead of this connection's own
// prompt.
func (c *Client) welcome() {
	c.hub.Register(c, "Please enter your name:")
	c.hub.Broadcast(fmt.Sprintf("Current visitors: %d", c.hub.ClientCount()))
}

// handleInbound dispatches one inbound frame according to the session state.
func (c *Client) handleInbound(raw []byte) {
	text := string(raw)
	if !c.authenticated {
		c.authenticate(strings.TrimSpace(text))
		return
	}
	c.chat(text)
}

// authenticate attempts to claim the proposed username. On failure the
// connection stays unauthenticated with its transport open and simply waits
// for another attempt; nothing is broadcast.
func (c *Client) authenticate(proposed string) {
	if proposed == "" {
		c.enqueue("Please enter your name:")
		return
	}

	if !c.hub.ClaimUsername(c, proposed) {
		c.enqueue("Username already in use, please enter a different name:")
		return
	}

	c.enqueue("Welcome, " + proposed + "!")
	c.hub.Broadcast(proposed + " has joined the chat.")

	if err := c.store.InsertVisitor(c.hub.ClientCount(), proposed, c.ip, c.joinTime); err != nil {
		log.Printf("Error inserting visitor %s: %v", proposed, err)
	}

	c.enqueue("System: Currently connected: " + strings.Join(c.hub.ConnectedUsernames(), ", "))
	c.replayHistory()
}

// replayHistory sends this connection every stored message from its join
// time onward, oldest first.
func (c *Client) replayHistory() {
	history, err := c.store.HistorySince(c.joinTime)
	if err != nil {
		log.Printf("Error loading chat history for %s: %v", c.Username(), err)
		return
	}
	for _, m := range history {
		c.enqueue(fmt.Sprintf("%s [%s]: %s", m.Username, m.Time, m.Message))
	}
}

// chat persists one message and broadcasts it with the store-assigned
// timestamp, so the live line and a later history replay carry the same
// time. A failed insert drops the message; it is logged, not broadcast.
func (c *Client) chat(text string) {
	username := c.Username()

	assigned, err := c.store.InsertMessage(username, c.ip, text)
	if err != nil {
		log.Printf("Error inserting chat message from %s: %v", username, err)
		return
	}

	c.hub.Broadcast(fmt.Sprintf("%s [%s]: %s", username, assigned, text))
}

// leave runs the close transition after the connection has left the
// registry: departure announcement, visitor row removal, then the updated
// count to the remaining connections. A connection that never authenticated
// leaves silently. Chat history is retained across disconnects; only the
// presence snapshot row is removed.
func (c *Client) leave() {
	if !c.authenticated {
		return
	}

	username := c.Username()
	log.Printf("User %s disconnected", username)

	c.hub.Broadcast(username + " has disconnected.")
	if err := c.store.DeleteVisitor(username, c.ip); err != nil {
		log.Printf("Error deleting visitor %s: %v", username, err)
	}
	c.hub.Broadcast(fmt.Sprintf("Current visitors: %d", c.hub.ClientCount()))
}

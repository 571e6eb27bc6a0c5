package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"

	"github.com/gorilla/websocket"

	"github.com/Steven-Theuerl/Chat-App/internal/store"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     checkOrigin,
}

// WebSocketHandler upgrades the HTTP connection, registers the client with
// the hub, starts its pumps, and opens the session with the name prompt.
func WebSocketHandler(hub *Hub, st *store.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "Method not allowed. WebSocket endpoint only accepts GET requests.", http.StatusMethodNotAllowed)
			return
		}

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			log.Printf("WebSocket upgrade failed: %v", err)
			return
		}

		client := NewClient(conn, hub, st, r.RemoteAddr)
		client.welcome()
		client.start()
	}
}

type renameRequest struct {
	OldName string `json:"oldName"`
	NewName string `json:"newName"`
}

// ChangeNameHandler implements the rename surface for external callers.
// Validation order: missing fields, then new-name conflict, then old-name
// lookup. On success the registry entry is renamed in place, the visitor row
// follows, and a single system notice is broadcast.
func ChangeNameHandler(hub *Hub, st *store.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPut {
			writeJSONError(w, http.StatusMethodNotAllowed, "Method not allowed. Use PUT.")
			return
		}

		var req renameRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeJSONError(w, http.StatusBadRequest, "Invalid JSON body.")
			return
		}
		if req.OldName == "" || req.NewName == "" {
			writeJSONError(w, http.StatusBadRequest, "Missing oldName or newName.")
			return
		}

		client, err := hub.Rename(req.OldName, req.NewName)
		switch {
		case errors.Is(err, ErrNameTaken):
			writeJSONError(w, http.StatusConflict, "Username already in use, please choose a different name.")
			return
		case errors.Is(err, ErrNameNotFound):
			writeJSONError(w, http.StatusNotFound, "Active client with the old username not found.")
			return
		}

		// The registry is the source of truth for presence; a store failure
		// here is reported but does not roll the rename back.
		if err := st.RenameVisitor(req.OldName, req.NewName, client.IP()); err != nil {
			log.Printf("Error updating username in store: %v", err)
			writeJSONError(w, http.StatusInternalServerError, "Error updating username in database.")
			return
		}

		hub.Broadcast(fmt.Sprintf("System: %s has changed their name to %s.", req.OldName, req.NewName))
		writeJSON(w, http.StatusOK, map[string]string{"message": "Username updated successfully."})
	}
}

// HealthHandler provides a simple health check endpoint that returns server
// status as plain text.
func HealthHandler(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain")
	_, _ = fmt.Fprintf(w, "Chat server is running!")
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("Error writing JSON response: %v", err)
	}
}

func writeJSONError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

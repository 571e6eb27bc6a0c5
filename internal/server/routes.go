package server

import (
	"net/http"

	"github.com/Steven-Theuerl/Chat-App/internal/store"
)

// SetupRoutes configures and returns an HTTP ServeMux with all application
// routes: health check, WebSocket endpoint, and the rename surface.
func SetupRoutes(hub *Hub, st *store.Store) *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/", HealthHandler)
	mux.Handle("/ws", WebSocketHandler(hub, st))
	mux.Handle("/change-name", ChangeNameHandler(hub, st))
	return mux
}

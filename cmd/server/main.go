package main

import (
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Steven-Theuerl/Chat-App/internal/server"
	"github.com/Steven-Theuerl/Chat-App/internal/store"
)

const shutdownTimeout = 5 * time.Second

func main() {
	cfg := server.NewConfigFromEnv()
	server.SetConfig(cfg)

	st, err := store.Open(cfg.DatabasePath)
	if err != nil {
		log.Fatalf("Failed to open message store at %s: %v", cfg.DatabasePath, err)
	}

	hub := server.NewHub()
	go hub.Run()

	mux := server.SetupRoutes(hub, st)
	httpServer := server.CreateServer(cfg.Port, mux)

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.StartServer(httpServer)
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("HTTP server error: %v", err)
		}
	case sig := <-sigCh:
		log.Printf("Received %s, shutting down", sig)
	}

	// Connections close before the store so no in-flight write can race the
	// store teardown.
	if err := hub.Shutdown(shutdownTimeout); err != nil {
		log.Printf("Hub shutdown: %v", err)
	}
	if err := server.ShutdownServer(httpServer, shutdownTimeout); err != nil {
		log.Printf("HTTP server shutdown: %v", err)
	}

	dumpVisitors(st)
	log.Println("Shutting down store connection.")
	if err := st.Close(); err != nil {
		log.Printf("Error closing store: %v", err)
	}
}

// dumpVisitors logs whatever is left of the presence snapshot, which in a
// clean shutdown should be empty.
func dumpVisitors(st *store.Store) {
	visitors, err := st.Visitors()
	if err != nil {
		log.Printf("Error reading visitors: %v", err)
		return
	}
	for _, v := range visitors {
		log.Printf("Visitor still recorded: count=%d username=%s ip=%s time=%s",
			v.Count, v.Username, v.IP, v.Time)
	}
}

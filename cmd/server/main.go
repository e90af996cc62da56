package main

import (
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/nkapadia/scrawl/backend/internal/api"
	"github.com/nkapadia/scrawl/backend/internal/auth"
	"github.com/nkapadia/scrawl/backend/internal/persist"
	"github.com/nkapadia/scrawl/backend/internal/session"
	"github.com/nkapadia/scrawl/backend/internal/store"
	"github.com/nkapadia/scrawl/backend/internal/ws"
)

func main() {
	dbPath := os.Getenv("SCRAWL_DB_PATH")
	if dbPath == "" {
		dbPath = "./data/scrawl.db"
	}

	secret := os.Getenv("SCRAWL_AUTH_SECRET")
	if secret == "" {
		log.Println("SCRAWL_AUTH_SECRET not set, using development secret")
		secret = "dev-secret"
	}

	st, err := store.New(dbPath)
	if err != nil {
		log.Fatalf("Failed to initialize store: %v", err)
	}
	defer st.Close()

	verifier := auth.NewVerifier([]byte(secret))
	registry := session.NewRegistry(st)

	reaper := session.NewReaper(registry, session.DefaultReaperConfig())
	reaper.Start()

	saver := persist.New(registry, persist.DefaultConfig())
	saver.Start()

	apiHandler := api.New(registry, st)

	// WebSocket endpoint
	http.HandleFunc("/ws", func(w http.ResponseWriter, r *http.Request) {
		ws.ServeWs(registry, verifier, w, r)
	})

	http.HandleFunc("/health", apiHandler.HealthHandler)
	http.HandleFunc("/api/stats", apiHandler.StatsHandler)
	http.HandleFunc("/api/documents", apiHandler.DocumentsRouter)
	http.HandleFunc("/api/documents/", apiHandler.DocumentsRouter)

	// Apply CORS middleware
	handler := corsMiddleware(http.DefaultServeMux)

	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		<-sigChan

		log.Println("Shutting down server...")
		reaper.Stop()
		saver.Stop()
		st.Close()
		os.Exit(0)
	}()

	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}

	log.Printf("Scrawl sync server starting on :%s", port)
	log.Printf("Database: %s", dbPath)
	log.Println("Endpoints:")
	log.Println("  - WebSocket:  /ws?token={jwt}")
	log.Println("  - Health:     GET /health")
	log.Println("  - Stats:      GET /api/stats")
	log.Println("  - Documents:  GET/POST /api/documents")
	log.Println("  - Document:   GET/DELETE /api/documents/{id}")

	if err := http.ListenAndServe(":"+port, handler); err != nil {
		log.Fatal("ListenAndServe: ", err)
	}
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

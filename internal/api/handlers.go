package api

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/nkapadia/scrawl/backend/internal/session"
	"github.com/nkapadia/scrawl/backend/internal/store"
)

type API struct {
	registry *session.Registry
	store    *store.Store
}

func New(registry *session.Registry, st *store.Store) *API {
	return &API{
		registry: registry,
		store:    st,
	}
}

func jsonResponse(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		log.Printf("Error encoding JSON response: %v", err)
	}
}

func errorResponse(w http.ResponseWriter, status int, message string) {
	jsonResponse(w, status, map[string]string{"error": message})
}

func (a *API) HealthHandler(w http.ResponseWriter, r *http.Request) {
	jsonResponse(w, http.StatusOK, map[string]interface{}{
		"status":    "ok",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

func (a *API) StatsHandler(w http.ResponseWriter, r *http.Request) {
	stats := map[string]interface{}{
		"active_sessions":     a.registry.SessionCount(),
		"active_participants": a.registry.ParticipantCount(),
		"timestamp":           time.Now().UTC().Format(time.RFC3339),
	}

	if a.store != nil {
		storeStats, err := a.store.Stats()
		if err == nil {
			stats["total_documents"] = storeStats["document_count"]
		}
	}

	jsonResponse(w, http.StatusOK, stats)
}

// Document handlers

type DocumentResponse struct {
	ID          string    `json:"id"`
	Title       string    `json:"title,omitempty"`
	Content     string    `json:"content"`
	Version     int64     `json:"version"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
	ActiveUsers int       `json:"active_users"`
}

type CreateDocumentRequest struct {
	ID      string `json:"id,omitempty"`
	Title   string `json:"title,omitempty"`
	OwnerID string `json:"owner_id,omitempty"`
}

func (a *API) ListDocumentsHandler(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	if limit <= 0 || limit > 100 {
		limit = 20
	}

	offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))
	if offset < 0 {
		offset = 0
	}

	docs, err := a.store.List(limit, offset)
	if err != nil {
		errorResponse(w, http.StatusInternalServerError, "Failed to list documents")
		return
	}

	active := a.registry.ActiveSessions()

	response := make([]DocumentResponse, len(docs))
	for i, doc := range docs {
		response[i] = DocumentResponse{
			ID:          doc.ID,
			Title:       doc.Title,
			Content:     doc.Content,
			Version:     doc.Version,
			CreatedAt:   doc.CreatedAt,
			UpdatedAt:   doc.UpdatedAt,
			ActiveUsers: active[doc.ID],
		}
	}

	jsonResponse(w, http.StatusOK, map[string]interface{}{
		"documents": response,
		"limit":     limit,
		"offset":    offset,
	})
}

func (a *API) CreateDocumentHandler(w http.ResponseWriter, r *http.Request) {
	var req CreateDocumentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		errorResponse(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	doc, err := a.store.Create(req.ID, req.Title, req.OwnerID)
	if err != nil {
		errorResponse(w, http.StatusInternalServerError, "Failed to create document")
		return
	}

	jsonResponse(w, http.StatusCreated, DocumentResponse{
		ID:        doc.ID,
		Title:     doc.Title,
		Content:   doc.Content,
		Version:   doc.Version,
		CreatedAt: doc.CreatedAt,
		UpdatedAt: doc.UpdatedAt,
	})
}

func (a *API) GetDocumentHandler(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/api/documents/")
	docID := strings.TrimSuffix(path, "/")

	if docID == "" {
		errorResponse(w, http.StatusBadRequest, "Document ID is required")
		return
	}

	doc, err := a.store.Get(docID)
	if errors.Is(err, store.ErrNotFound) {
		errorResponse(w, http.StatusNotFound, "Document not found")
		return
	}
	if err != nil {
		errorResponse(w, http.StatusInternalServerError, "Failed to get document")
		return
	}

	active := a.registry.ActiveSessions()

	jsonResponse(w, http.StatusOK, DocumentResponse{
		ID:          doc.ID,
		Title:       doc.Title,
		Content:     doc.Content,
		Version:     doc.Version,
		CreatedAt:   doc.CreatedAt,
		UpdatedAt:   doc.UpdatedAt,
		ActiveUsers: active[doc.ID],
	})
}

func (a *API) DeleteDocumentHandler(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/api/documents/")
	docID := strings.TrimSuffix(path, "/")

	if docID == "" {
		errorResponse(w, http.StatusBadRequest, "Document ID is required")
		return
	}

	if err := a.store.Delete(docID); err != nil {
		errorResponse(w, http.StatusInternalServerError, "Failed to delete document")
		return
	}

	jsonResponse(w, http.StatusOK, map[string]string{"message": "Document deleted"})
}

func (a *API) DocumentsRouter(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/api/documents")

	// /api/documents or /api/documents/
	if path == "" || path == "/" {
		switch r.Method {
		case http.MethodGet:
			a.ListDocumentsHandler(w, r)
		case http.MethodPost:
			a.CreateDocumentHandler(w, r)
		default:
			errorResponse(w, http.StatusMethodNotAllowed, "Method not allowed")
		}
		return
	}

	// /api/documents/{id}
	switch r.Method {
	case http.MethodGet:
		a.GetDocumentHandler(w, r)
	case http.MethodDelete:
		a.DeleteDocumentHandler(w, r)
	default:
		errorResponse(w, http.StatusMethodNotAllowed, "Method not allowed")
	}
}

package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/nkapadia/scrawl/backend/internal/session"
	"github.com/nkapadia/scrawl/backend/internal/store"
)

func setupTestAPI(t *testing.T) (*API, func()) {
	t.Helper()

	tmpDir, err := os.MkdirTemp("", "scrawl-api-test-*")
	if err != nil {
		t.Fatalf("Failed to create temp dir: %v", err)
	}

	dbPath := filepath.Join(tmpDir, "test.db")
	st, err := store.New(dbPath)
	if err != nil {
		os.RemoveAll(tmpDir)
		t.Fatalf("Failed to create store: %v", err)
	}

	registry := session.NewRegistry(st)
	api := New(registry, st)

	cleanup := func() {
		st.Close()
		os.RemoveAll(tmpDir)
	}

	return api, cleanup
}

func TestHealthHandler(t *testing.T) {
	api, cleanup := setupTestAPI(t)
	defer cleanup()

	req := httptest.NewRequest("GET", "/health", nil)
	w := httptest.NewRecorder()

	api.HealthHandler(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("Expected status 200, got %d", w.Code)
	}

	var response map[string]any
	if err := json.NewDecoder(w.Body).Decode(&response); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}

	if response["status"] != "ok" {
		t.Errorf("Expected status 'ok', got '%v'", response["status"])
	}
}

func TestStatsHandler(t *testing.T) {
	api, cleanup := setupTestAPI(t)
	defer cleanup()

	req := httptest.NewRequest("GET", "/api/stats", nil)
	w := httptest.NewRecorder()

	api.StatsHandler(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("Expected status 200, got %d", w.Code)
	}

	var response map[string]any
	if err := json.NewDecoder(w.Body).Decode(&response); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}

	if response["active_sessions"] != float64(0) {
		t.Errorf("Expected 0 active sessions, got %v", response["active_sessions"])
	}
}

func TestCreateAndGetDocument(t *testing.T) {
	api, cleanup := setupTestAPI(t)
	defer cleanup()

	body, _ := json.Marshal(CreateDocumentRequest{ID: "d1", Title: "Notes"})
	req := httptest.NewRequest("POST", "/api/documents", bytes.NewReader(body))
	w := httptest.NewRecorder()

	api.DocumentsRouter(w, req)

	if w.Code != http.StatusCreated {
		t.Fatalf("Expected status 201, got %d", w.Code)
	}

	var created DocumentResponse
	if err := json.NewDecoder(w.Body).Decode(&created); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if created.ID != "d1" || created.Title != "Notes" || created.Version != 1 {
		t.Errorf("Unexpected document: %+v", created)
	}

	req = httptest.NewRequest("GET", "/api/documents/d1", nil)
	w = httptest.NewRecorder()

	api.DocumentsRouter(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", w.Code)
	}
}

func TestGetMissingDocumentReturns404(t *testing.T) {
	api, cleanup := setupTestAPI(t)
	defer cleanup()

	req := httptest.NewRequest("GET", "/api/documents/none", nil)
	w := httptest.NewRecorder()

	api.DocumentsRouter(w, req)

	if w.Code != http.StatusNotFound {
		t.Errorf("Expected status 404, got %d", w.Code)
	}
}

func TestListDocuments(t *testing.T) {
	api, cleanup := setupTestAPI(t)
	defer cleanup()

	for _, id := range []string{"d1", "d2", "d3"} {
		body, _ := json.Marshal(CreateDocumentRequest{ID: id})
		req := httptest.NewRequest("POST", "/api/documents", bytes.NewReader(body))
		w := httptest.NewRecorder()
		api.DocumentsRouter(w, req)
	}

	req := httptest.NewRequest("GET", "/api/documents", nil)
	w := httptest.NewRecorder()

	api.DocumentsRouter(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", w.Code)
	}

	var response struct {
		Documents []DocumentResponse `json:"documents"`
	}
	if err := json.NewDecoder(w.Body).Decode(&response); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if len(response.Documents) != 3 {
		t.Errorf("Expected 3 documents, got %d", len(response.Documents))
	}
}

func TestDeleteDocument(t *testing.T) {
	api, cleanup := setupTestAPI(t)
	defer cleanup()

	body, _ := json.Marshal(CreateDocumentRequest{ID: "d1"})
	req := httptest.NewRequest("POST", "/api/documents", bytes.NewReader(body))
	api.DocumentsRouter(httptest.NewRecorder(), req)

	req = httptest.NewRequest("DELETE", "/api/documents/d1", nil)
	w := httptest.NewRecorder()
	api.DocumentsRouter(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", w.Code)
	}

	req = httptest.NewRequest("GET", "/api/documents/d1", nil)
	w = httptest.NewRecorder()
	api.DocumentsRouter(w, req)

	if w.Code != http.StatusNotFound {
		t.Errorf("Expected status 404 after delete, got %d", w.Code)
	}
}

func TestMethodNotAllowed(t *testing.T) {
	api, cleanup := setupTestAPI(t)
	defer cleanup()

	req := httptest.NewRequest("PUT", "/api/documents", nil)
	w := httptest.NewRecorder()

	api.DocumentsRouter(w, req)

	if w.Code != http.StatusMethodNotAllowed {
		t.Errorf("Expected status 405, got %d", w.Code)
	}
}

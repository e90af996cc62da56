package store

import (
	"database/sql"
	"errors"
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

var ErrNotFound = errors.New("document not found")

type Store struct {
	db *sql.DB
}

type Document struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	Content   string    `json:"content"`
	Version   int64     `json:"version"`
	OwnerID   string    `json:"owner_id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func New(dbPath string) (*Store, error) {
	// Ensure directory exists
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, err
	}

	// Enable WAL mode for better concurrency
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		return nil, err
	}

	if err := createTables(db); err != nil {
		return nil, err
	}

	log.Printf("Store initialized at %s", dbPath)
	return &Store{db: db}, nil
}

func createTables(db *sql.DB) error {
	schema := `
	CREATE TABLE IF NOT EXISTS documents (
		id TEXT PRIMARY KEY,
		title TEXT NOT NULL DEFAULT '',
		content TEXT NOT NULL DEFAULT '',
		version INTEGER NOT NULL DEFAULT 1,
		owner_id TEXT NOT NULL DEFAULT '',
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE INDEX IF NOT EXISTS idx_documents_updated_at ON documents(updated_at DESC);
	`

	_, err := db.Exec(schema)
	return err
}

func (s *Store) Close() error {
	return s.db.Close()
}

// Create inserts a new document and returns it. An empty id gets a
// generated one.
func (s *Store) Create(id, title, ownerID string) (*Document, error) {
	if id == "" {
		id = uuid.NewString()
	}
	_, err := s.db.Exec(
		"INSERT OR IGNORE INTO documents (id, title, owner_id) VALUES (?, ?, ?)",
		id, title, ownerID,
	)
	if err != nil {
		return nil, err
	}
	return s.Get(id)
}

func (s *Store) Get(id string) (*Document, error) {
	row := s.db.QueryRow(
		"SELECT id, title, content, version, owner_id, created_at, updated_at FROM documents WHERE id = ?",
		id,
	)

	var doc Document
	err := row.Scan(&doc.ID, &doc.Title, &doc.Content, &doc.Version, &doc.OwnerID, &doc.CreatedAt, &doc.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &doc, nil
}

// Load returns the persisted content and version for a session seed,
// creating an empty document at version 1 on first sight.
func (s *Store) Load(id string) (string, int64, error) {
	doc, err := s.Get(id)
	if err == nil {
		return doc.Content, doc.Version, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return "", 0, err
	}

	if _, err := s.db.Exec(
		"INSERT OR IGNORE INTO documents (id) VALUES (?)", id,
	); err != nil {
		return "", 0, err
	}
	doc, err = s.Get(id)
	if err != nil {
		return "", 0, err
	}
	return doc.Content, doc.Version, nil
}

// Save persists an authoritative snapshot. A stale write (version at or
// behind what is already stored for a known document) is skipped rather
// than allowed to roll the document back.
func (s *Store) Save(id, content string, version int64) error {
	res, err := s.db.Exec(`
		UPDATE documents
		SET content = ?, version = ?, updated_at = CURRENT_TIMESTAMP
		WHERE id = ? AND version <= ?
	`, content, version, id, version)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		// Unknown id: create the row so the snapshot is not lost
		var exists int
		if err := s.db.QueryRow("SELECT COUNT(*) FROM documents WHERE id = ?", id).Scan(&exists); err != nil {
			return err
		}
		if exists == 0 {
			_, err = s.db.Exec(
				"INSERT INTO documents (id, content, version) VALUES (?, ?, ?)",
				id, content, version,
			)
			return err
		}
	}
	return nil
}

func (s *Store) List(limit, offset int) ([]Document, error) {
	rows, err := s.db.Query(
		"SELECT id, title, content, version, owner_id, created_at, updated_at FROM documents ORDER BY updated_at DESC LIMIT ? OFFSET ?",
		limit, offset,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var docs []Document
	for rows.Next() {
		var doc Document
		if err := rows.Scan(&doc.ID, &doc.Title, &doc.Content, &doc.Version, &doc.OwnerID, &doc.CreatedAt, &doc.UpdatedAt); err != nil {
			return nil, err
		}
		docs = append(docs, doc)
	}
	return docs, rows.Err()
}

func (s *Store) Delete(id string) error {
	_, err := s.db.Exec("DELETE FROM documents WHERE id = ?", id)
	return err
}

// Stats

func (s *Store) Stats() (map[string]interface{}, error) {
	stats := make(map[string]interface{})

	var docCount int
	if err := s.db.QueryRow("SELECT COUNT(*) FROM documents").Scan(&docCount); err != nil {
		return nil, err
	}
	stats["document_count"] = docCount

	var maxVersion sql.NullInt64
	if err := s.db.QueryRow("SELECT MAX(version) FROM documents").Scan(&maxVersion); err != nil {
		return nil, err
	}
	stats["max_version"] = maxVersion.Int64

	return stats, nil
}

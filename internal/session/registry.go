package session

import (
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/nkapadia/scrawl/backend/internal/protocol"
)

// Durable side of a document. Consulted only to seed a new session and for
// saves; never on the broadcast path.
type Store interface {
	Load(documentID string) (content string, version int64, err error)
	Save(documentID, content string, version int64) error
}

var ErrNotJoined = errors.New("connection has not joined this document")

// Process-wide table of live document sessions. The registry lock guards
// only the map; all document state lives behind each session's own lock,
// so traffic on one document never serializes another.
type Registry struct {
	store Store

	mu       sync.RWMutex
	sessions map[string]*Session
}

func NewRegistry(store Store) *Registry {
	return &Registry{
		store:    store,
		sessions: make(map[string]*Session),
	}
}

// Admits a connection to a document's session, creating and seeding the
// session if none exists. Concurrent first joins observe exactly one
// session. The returned snapshot is the "document-state" push for the new
// connection.
func (r *Registry) Join(documentID, connID, userID, displayName string, outbox Outbox) (Snapshot, error) {
	for {
		s, created, err := r.getOrCreate(documentID)
		if err != nil {
			return Snapshot{}, err
		}

		snap, ok := s.join(connID, userID, displayName, outbox)
		if ok {
			if created {
				log.Printf("Session created for document %s (version %d)", documentID, snap.Version)
			}
			return snap, nil
		}
		// Lost a race with teardown of an emptying session. Wait for
		// the teardown to finish flushing so the next lookup seeds a
		// fresh session from state no older than what this one held.
		<-s.done
	}
}

func (r *Registry) getOrCreate(documentID string) (*Session, bool, error) {
	r.mu.RLock()
	s, ok := r.sessions[documentID]
	r.mu.RUnlock()
	if ok {
		return s, false, nil
	}

	// Seed outside any lock: loading must not stall other documents.
	content, version, err := r.store.Load(documentID)
	if err != nil {
		return nil, false, fmt.Errorf("seed session for %s: %w", documentID, err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.sessions[documentID]; ok {
		return s, false, nil
	}
	s = newSession(documentID, content, version)
	r.sessions[documentID] = s
	return s, true, nil
}

// Removes a participant; tears the session down if it was the last one.
// Idempotent with reaping: leaving twice, or leaving after being reaped,
// is a no-op.
func (r *Registry) Leave(documentID, connID string) {
	r.mu.RLock()
	s, ok := r.sessions[documentID]
	r.mu.RUnlock()
	if !ok {
		return
	}

	remaining, removed := s.remove(connID)
	if removed && remaining == 0 {
		r.teardown(documentID, s)
	}
}

// Discards an empty session. The store stays the source of truth: dirty
// content is flushed, everything else in memory is dropped. The flush
// happens while the closed session still occupies the map slot, so a
// rejoin landing mid teardown waits for it and never seeds from a version
// behind what the session held.
func (r *Registry) teardown(documentID string, s *Session) {
	r.mu.RLock()
	current := r.sessions[documentID]
	r.mu.RUnlock()
	if current != s || !s.closeIfEmpty() {
		return
	}

	content, version, dirty := s.flush(true)
	if dirty {
		if err := r.store.Save(documentID, content, version); err != nil {
			log.Printf("Failed to save document %s on teardown: %v", documentID, err)
		}
	}

	r.mu.Lock()
	delete(r.sessions, documentID)
	r.mu.Unlock()
	close(s.done)
	log.Printf("Session closed for document %s (empty)", documentID)
}

// Marks the session closed so no further join can land on it. Returns
// true exactly once; racing teardowns and sessions that picked up a new
// participant both get false.
func (s *Session) closeIfEmpty() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || len(s.participants) > 0 {
		return false
	}
	s.closed = true
	return true
}

func (r *Registry) lookup(documentID string) (*Session, bool) {
	r.mu.RLock()
	s, ok := r.sessions[documentID]
	r.mu.RUnlock()
	return s, ok
}

// Fences one edit for a document. Edits for one document are processed one
// at a time; edits for different documents proceed in parallel.
func (r *Registry) SubmitEdit(documentID, connID string, baseVersion int64, payload string) (EditResult, error) {
	s, ok := r.lookup(documentID)
	if !ok {
		return EditResult{}, ErrNotJoined
	}
	res, ok := s.submitEdit(connID, baseVersion, payload)
	if !ok {
		return EditResult{}, ErrNotJoined
	}
	return res, nil
}

// Relays a cursor move to the rest of the room
func (r *Registry) UpdateCursor(documentID, connID string, cursor protocol.Cursor) error {
	s, ok := r.lookup(documentID)
	if !ok {
		return ErrNotJoined
	}
	if !s.updateCursor(connID, cursor) {
		return ErrNotJoined
	}
	return nil
}

// Records a liveness signal for a connection
func (r *Registry) Heartbeat(documentID, connID string) error {
	s, ok := r.lookup(documentID)
	if !ok {
		return ErrNotJoined
	}
	if !s.touch(connID) {
		return ErrNotJoined
	}
	return nil
}

// Pushes full authoritative state to one connection, on its request or
// after it detected drift
func (r *Registry) Resync(documentID, connID string) error {
	s, ok := r.lookup(documentID)
	if !ok {
		return ErrNotJoined
	}
	if !s.resync(connID) {
		return ErrNotJoined
	}
	return nil
}

// Removes every participant in every session that has been silent longer
// than the threshold, then tears down any session left empty. Returns the
// number of reaped participants.
func (r *Registry) SweepStale(threshold time.Duration) int {
	r.mu.RLock()
	sessions := make(map[string]*Session, len(r.sessions))
	for id, s := range r.sessions {
		sessions[id] = s
	}
	r.mu.RUnlock()

	now := time.Now()
	total := 0
	for documentID, s := range sessions {
		reaped, remaining := s.sweep(threshold, now)
		if len(reaped) > 0 {
			log.Printf("Reaped %d stale participant(s) from document %s", len(reaped), documentID)
			total += len(reaped)
		}
		if remaining == 0 {
			r.teardown(documentID, s)
		}
	}
	return total
}

// Flushes every dirty session to the store. Off the broadcast path; a
// failed save leaves the session dirty for the next pass.
func (r *Registry) FlushDirty() (saved int, err error) {
	r.mu.RLock()
	sessions := make(map[string]*Session, len(r.sessions))
	for id, s := range r.sessions {
		sessions[id] = s
	}
	r.mu.RUnlock()

	var firstErr error
	for documentID, s := range sessions {
		content, version, dirty := s.flush(true)
		if !dirty {
			continue
		}
		if saveErr := r.store.Save(documentID, content, version); saveErr != nil {
			s.markDirty()
			if firstErr == nil {
				firstErr = saveErr
			}
			continue
		}
		saved++
	}
	return saved, firstErr
}

func (s *Session) markDirty() {
	s.mu.Lock()
	s.dirty = true
	s.mu.Unlock()
}

// Stats for the HTTP surface

func (r *Registry) SessionCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

func (r *Registry) ParticipantCount() int {
	r.mu.RLock()
	sessions := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		sessions = append(sessions, s)
	}
	r.mu.RUnlock()

	total := 0
	for _, s := range sessions {
		total += s.participantCount()
	}
	return total
}

// Returns participant counts keyed by document id
func (r *Registry) ActiveSessions() map[string]int {
	r.mu.RLock()
	sessions := make(map[string]*Session, len(r.sessions))
	for id, s := range r.sessions {
		sessions[id] = s
	}
	r.mu.RUnlock()

	active := make(map[string]int, len(sessions))
	for id, s := range sessions {
		active[id] = s.participantCount()
	}
	return active
}

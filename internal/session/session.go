package session

import (
	"sort"
	"sync"
	"time"

	"github.com/nkapadia/scrawl/backend/internal/protocol"
)

// Buffered outbound events for one connection. The owning transport both
// feeds (replies) and drains it, so the session never closes it; a removed
// participant simply stops receiving session traffic.
type Outbox chan protocol.Envelope

const OutboxSize = 256

// Runtime state for one actively edited document: live participants plus
// the authoritative content and version. All mutation goes through s.mu,
// so edits on one document are fenced one at a time while different
// documents proceed in parallel.
type Session struct {
	documentID string

	mu           sync.Mutex
	content      string
	version      int64
	participants map[string]*participant
	lastMutation time.Time
	dirty        bool
	closed       bool

	// Closed once teardown has finished flushing and the session is out
	// of the registry, so a racing join knows when to retry
	done chan struct{}
}

// One connection's membership record. Owned exclusively by its session.
type participant struct {
	connID       string
	userID       string
	displayName  string
	joinedAt     time.Time
	lastActivity time.Time
	cursor       *protocol.Cursor
	outbox       Outbox
}

func (p *participant) view() protocol.Participant {
	return protocol.Participant{
		ConnectionID: p.connID,
		UserID:       p.userID,
		DisplayName:  p.displayName,
		JoinedAt:     p.joinedAt,
		Cursor:       p.cursor,
	}
}

// Authoritative document state handed to a joining or resyncing connection
type Snapshot struct {
	DocumentID   string
	Content      string
	Version      int64
	Participants []protocol.Participant
}

// Outcome of fencing one edit
type EditResult struct {
	Accepted bool

	// Set when accepted
	NewVersion int64

	// Set when rejected, so the caller can resync instead of retrying
	CurrentVersion int64
	CurrentContent string
}

func newSession(documentID, content string, version int64) *Session {
	return &Session{
		documentID:   documentID,
		content:      content,
		version:      version,
		participants: make(map[string]*participant),
		lastMutation: time.Now(),
		done:         make(chan struct{}),
	}
}

// Callers must hold s.mu. Never blocks: a participant whose outbox is full
// is a slow consumer and gets dropped, with its departure announced so the
// rest of the room does not keep a ghost roster entry.
func (s *Session) broadcastLocked(exclude string, ev protocol.Envelope) {
	var dropped []*participant
	for connID, p := range s.participants {
		if connID == exclude {
			continue
		}
		select {
		case p.outbox <- ev:
		default:
			delete(s.participants, connID)
			dropped = append(dropped, p)
		}
	}
	// Announced after the fan-out so each recipient sees the original
	// event before the departure. Recursion terminates: every level
	// strictly shrinks the participant set.
	for _, p := range dropped {
		s.announceLeftLocked(p)
	}
}

// Callers must hold s.mu; the participant must already be out of the map
func (s *Session) announceLeftLocked(p *participant) {
	s.broadcastLocked(p.connID, protocol.Envelope{
		Type: protocol.EventUserLeft,
		Data: protocol.UserLeft{
			DocumentID:   s.documentID,
			ConnectionID: p.connID,
			UserID:       p.userID,
			Roster:       s.rosterLocked(),
		},
	})
}

func (s *Session) rosterLocked() []protocol.Participant {
	roster := make([]protocol.Participant, 0, len(s.participants))
	for _, p := range s.participants {
		roster = append(roster, p.view())
	}
	sort.Slice(roster, func(i, j int) bool {
		return roster[i].ConnectionID < roster[j].ConnectionID
	})
	return roster
}

func (s *Session) snapshotLocked() Snapshot {
	return Snapshot{
		DocumentID:   s.documentID,
		Content:      s.content,
		Version:      s.version,
		Participants: s.rosterLocked(),
	}
}

// Admits a connection and announces it to the room. Returns ok=false if the
// session was torn down concurrently, in which case the caller retries
// against a fresh session.
func (s *Session) join(connID, userID, displayName string, outbox Outbox) (Snapshot, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return Snapshot{}, false
	}

	now := time.Now()
	p := &participant{
		connID:       connID,
		userID:       userID,
		displayName:  displayName,
		joinedAt:     now,
		lastActivity: now,
		outbox:       outbox,
	}
	s.participants[connID] = p

	s.broadcastLocked(connID, protocol.Envelope{
		Type: protocol.EventUserJoined,
		Data: protocol.UserJoined{
			DocumentID:  s.documentID,
			Participant: p.view(),
			Roster:      s.rosterLocked(),
		},
	})

	return s.snapshotLocked(), true
}

// Removes a participant and announces the departure. Idempotent: removing
// an unknown connection is a no-op. Returns the number of participants left
// so the registry can tear down an empty session.
func (s *Session) remove(connID string) (remaining int, removed bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.participants[connID]
	if !ok {
		return len(s.participants), false
	}
	delete(s.participants, connID)
	s.announceLeftLocked(p)

	return len(s.participants), true
}

// Fences one edit against the authoritative version. Accept iff the edit
// was based on the current version; then the payload becomes the new
// authoritative content and everyone else hears about it. A stale base is
// rejected with the current state attached so the client converges by
// adopting it rather than retrying.
func (s *Session) submitEdit(connID string, baseVersion int64, payload string) (EditResult, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.participants[connID]
	if !ok {
		return EditResult{}, false
	}
	p.lastActivity = time.Now()

	if baseVersion != s.version {
		return EditResult{
			Accepted:       false,
			CurrentVersion: s.version,
			CurrentContent: s.content,
		}, true
	}

	s.content = payload
	s.version++
	s.lastMutation = time.Now()
	s.dirty = true

	s.broadcastLocked(connID, protocol.Envelope{
		Type: protocol.EventContentUpdated,
		Data: protocol.ContentUpdated{
			DocumentID: s.documentID,
			Content:    s.content,
			Version:    s.version,
			UserID:     p.userID,
		},
	})

	return EditResult{Accepted: true, NewVersion: s.version}, true
}

// Presence-only relay, never fenced
func (s *Session) updateCursor(connID string, cursor protocol.Cursor) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.participants[connID]
	if !ok {
		return false
	}
	p.lastActivity = time.Now()
	c := cursor
	p.cursor = &c

	s.broadcastLocked(connID, protocol.Envelope{
		Type: protocol.EventCursorMoved,
		Data: protocol.CursorMoved{
			DocumentID:   s.documentID,
			ConnectionID: p.connID,
			UserID:       p.userID,
			Cursor:       cursor,
		},
	})
	return true
}

// Refreshes the liveness timestamp for a connection
func (s *Session) touch(connID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.participants[connID]
	if !ok {
		return false
	}
	p.lastActivity = time.Now()
	return true
}

// Pushes the full authoritative state to one connection. This is the
// correctness backstop: whatever the client's local state, adopting the
// push makes it consistent.
func (s *Session) resync(connID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.participants[connID]
	if !ok {
		return false
	}
	p.lastActivity = time.Now()

	ev := protocol.Envelope{
		Type: protocol.EventSyncRequired,
		Data: protocol.SyncRequired{
			DocumentID: s.documentID,
			Content:    s.content,
			Version:    s.version,
		},
	}
	select {
	case p.outbox <- ev:
	default:
		delete(s.participants, connID)
		s.announceLeftLocked(p)
	}
	return true
}

// Removes every participant whose last activity is older than the
// threshold, announcing each departure. Returns the reaped connection ids
// and how many participants remain.
func (s *Session) sweep(threshold time.Duration, now time.Time) (reaped []string, remaining int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for connID, p := range s.participants {
		if now.Sub(p.lastActivity) <= threshold {
			continue
		}
		delete(s.participants, connID)
		reaped = append(reaped, connID)
		s.announceLeftLocked(p)
	}
	return reaped, len(s.participants)
}

// Returns the current content and version, clearing the dirty flag when
// take is set. Used by the periodic saver.
func (s *Session) flush(take bool) (content string, version int64, dirty bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	dirty = s.dirty
	if take {
		s.dirty = false
	}
	return s.content, s.version, dirty
}

func (s *Session) participantCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.participants)
}

package protocol

import (
	"encoding/json"
	"fmt"
	"time"
)

// Represents the type of event exchanged over a connection
type EventType string

// Client to server events
const (
	EventJoinDocument  EventType = "join-document"
	EventLeaveDocument EventType = "leave-document"
	EventSubmitEdit    EventType = "submit-edit"
	EventCursorUpdate  EventType = "cursor-update"
	EventHeartbeat     EventType = "heartbeat"
	EventSyncRequest   EventType = "sync-request"
)

// Server to client events
const (
	EventDocumentState  EventType = "document-state"
	EventContentUpdated EventType = "content-updated"
	EventUserJoined     EventType = "user-joined"
	EventUserLeft       EventType = "user-left"
	EventSyncRequired   EventType = "sync-required"
	EventCursorMoved    EventType = "cursor-moved"
	EventError          EventType = "error"
)

// Error codes carried by EventError
const (
	CodeProtocolError = "protocol_error"
	CodeAuthRequired  = "auth_required"
	CodeNotJoined     = "not_joined"
	CodeRateLimited   = "rate_limited"
)

// Outbound event with its payload, marshaled at write time
type Envelope struct {
	Type EventType `json:"type"`
	Data any       `json:"data,omitempty"`
}

// Inbound event with its payload still raw
type Inbound struct {
	Type EventType       `json:"type"`
	Data json.RawMessage `json:"data"`
}

// Decodes the raw payload into the event struct for in.Type
func (in Inbound) Bind(v any) error {
	if len(in.Data) == 0 {
		return fmt.Errorf("event %q has no payload", in.Type)
	}
	return json.Unmarshal(in.Data, v)
}

func ParseInbound(data []byte) (Inbound, error) {
	var in Inbound
	if err := json.Unmarshal(data, &in); err != nil {
		return Inbound{}, fmt.Errorf("malformed event: %w", err)
	}
	if in.Type == "" {
		return Inbound{}, fmt.Errorf("event missing type")
	}
	return in, nil
}

// Cursor is a selection range within the document content
type Cursor struct {
	Start int `json:"start"`
	End   int `json:"end"`
}

// Public view of one connection's membership in a session
type Participant struct {
	ConnectionID string    `json:"connection_id"`
	UserID       string    `json:"user_id"`
	DisplayName  string    `json:"display_name"`
	JoinedAt     time.Time `json:"joined_at"`
	Cursor       *Cursor   `json:"cursor,omitempty"`
}

// Client payloads

type JoinDocument struct {
	DocumentID string `json:"document_id"`
}

type LeaveDocument struct {
	DocumentID string `json:"document_id"`
}

type SubmitEdit struct {
	DocumentID  string `json:"document_id"`
	BaseVersion int64  `json:"base_version"`
	Content     string `json:"content"`
}

type CursorUpdate struct {
	DocumentID string `json:"document_id"`
	Cursor     Cursor `json:"cursor"`
}

type Heartbeat struct {
	DocumentID string `json:"document_id"`
}

type SyncRequest struct {
	DocumentID string `json:"document_id"`
}

// Server payloads

type DocumentState struct {
	DocumentID   string        `json:"document_id"`
	Content      string        `json:"content"`
	Version      int64         `json:"version"`
	Participants []Participant `json:"participants"`
}

type ContentUpdated struct {
	DocumentID string `json:"document_id"`
	Content    string `json:"content"`
	Version    int64  `json:"version"`
	UserID     string `json:"user_id"`
}

type UserJoined struct {
	DocumentID  string        `json:"document_id"`
	Participant Participant   `json:"participant"`
	Roster      []Participant `json:"roster"`
}

type UserLeft struct {
	DocumentID   string        `json:"document_id"`
	ConnectionID string        `json:"connection_id"`
	UserID       string        `json:"user_id"`
	Roster       []Participant `json:"roster"`
}

type SyncRequired struct {
	DocumentID string `json:"document_id"`
	Content    string `json:"content"`
	Version    int64  `json:"version"`
}

type CursorMoved struct {
	DocumentID   string `json:"document_id"`
	ConnectionID string `json:"connection_id"`
	UserID       string `json:"user_id"`
	Cursor       Cursor `json:"cursor"`
}

type ErrorEvent struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func ErrorOf(code, message string) Envelope {
	return Envelope{Type: EventError, Data: ErrorEvent{Code: code, Message: message}}
}

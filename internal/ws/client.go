package ws

import (
	"log"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/oklog/ulid/v2"

	"github.com/nkapadia/scrawl/backend/internal/auth"
	"github.com/nkapadia/scrawl/backend/internal/protocol"
	"github.com/nkapadia/scrawl/backend/internal/ratelimit"
	"github.com/nkapadia/scrawl/backend/internal/session"
)

const (
	writeWait         = 10 * time.Second
	pongWait          = 60 * time.Second
	pingPeriod        = (pongWait * 9) / 10
	maxMessageSize    = 1024 * 1024
	messagesPerSecond = 100
	messageBurst      = 200
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// One live connection. The read loop is the only goroutine touching docID,
// so joining and dispatching need no locking of their own.
type Client struct {
	registry    *session.Registry
	conn        *websocket.Conn
	outbox      session.Outbox
	connID      string
	identity    auth.Identity
	rateLimiter *ratelimit.Limiter

	// Document this connection is currently joined to, empty if none
	docID string
}

// ServeWs verifies the caller's identity and upgrades the connection. A
// missing or bad token is refused before any session state exists.
func ServeWs(registry *session.Registry, verifier *auth.Verifier, w http.ResponseWriter, r *http.Request) {
	token := r.URL.Query().Get("token")
	identity, err := verifier.Verify(token)
	if err != nil {
		log.Printf("Refused connection from %s: %v", r.RemoteAddr, err)
		http.Error(w, "authentication required", http.StatusUnauthorized)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Println("Upgrade error:", err)
		return
	}

	client := &Client{
		registry:    registry,
		conn:        conn,
		outbox:      make(session.Outbox, session.OutboxSize),
		connID:      ulid.Make().String(),
		identity:    identity,
		rateLimiter: ratelimit.NewLimiter(messagesPerSecond, messageBurst),
	}

	log.Printf("Connection %s opened for user %s", client.connID, identity.UserID)

	go client.writePump()
	go client.readPump()
}

func (c *Client) readPump() {
	defer func() {
		// Transport loss is an implicit leave, idempotent with an
		// explicit leave or a reap that already happened.
		if c.docID != "" {
			c.registry.Leave(c.docID, c.connID)
		}
		c.conn.Close()
		log.Printf("Connection %s closed", c.connID)
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	rateLimitWarnings := 0

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Printf("WebSocket error: %v", err)
			}
			break
		}

		if !c.rateLimiter.Allow() {
			rateLimitWarnings++
			if rateLimitWarnings%100 == 1 {
				log.Printf("Rate limit exceeded for connection %s (warning #%d)",
					c.connID, rateLimitWarnings)
				c.reply(protocol.ErrorOf(protocol.CodeRateLimited, "slow down"))
			}
			if rateLimitWarnings > 1000 {
				log.Printf("Disconnecting connection %s for excessive rate limit violations", c.connID)
				return
			}
			continue
		}

		in, err := protocol.ParseInbound(message)
		if err != nil {
			log.Printf("Invalid event from connection %s: %v", c.connID, err)
			c.reply(protocol.ErrorOf(protocol.CodeProtocolError, err.Error()))
			continue
		}

		c.dispatch(in)
	}
}

// Routes one inbound event. Every event doubles as a liveness signal for
// the joined document.
func (c *Client) dispatch(in protocol.Inbound) {
	switch in.Type {
	case protocol.EventJoinDocument:
		var ev protocol.JoinDocument
		if err := in.Bind(&ev); err != nil || ev.DocumentID == "" {
			c.reply(protocol.ErrorOf(protocol.CodeProtocolError, "join-document requires document_id"))
			return
		}
		c.join(ev.DocumentID)

	case protocol.EventLeaveDocument:
		var ev protocol.LeaveDocument
		if err := in.Bind(&ev); err != nil {
			c.reply(protocol.ErrorOf(protocol.CodeProtocolError, "malformed leave-document"))
			return
		}
		if c.docID != "" && c.docID == ev.DocumentID {
			c.registry.Leave(c.docID, c.connID)
			c.docID = ""
		}

	case protocol.EventSubmitEdit:
		var ev protocol.SubmitEdit
		if err := in.Bind(&ev); err != nil {
			c.reply(protocol.ErrorOf(protocol.CodeProtocolError, "malformed submit-edit"))
			return
		}
		c.submitEdit(ev)

	case protocol.EventCursorUpdate:
		var ev protocol.CursorUpdate
		if err := in.Bind(&ev); err != nil {
			c.reply(protocol.ErrorOf(protocol.CodeProtocolError, "malformed cursor-update"))
			return
		}
		if err := c.registry.UpdateCursor(ev.DocumentID, c.connID, ev.Cursor); err != nil {
			c.reply(protocol.ErrorOf(protocol.CodeNotJoined, "not joined to document"))
		}

	case protocol.EventHeartbeat:
		var ev protocol.Heartbeat
		if err := in.Bind(&ev); err != nil {
			c.reply(protocol.ErrorOf(protocol.CodeProtocolError, "malformed heartbeat"))
			return
		}
		// A heartbeat for a document we are not in is harmless; it
		// usually means the client was reaped and will resync.
		c.registry.Heartbeat(ev.DocumentID, c.connID)

	case protocol.EventSyncRequest:
		var ev protocol.SyncRequest
		if err := in.Bind(&ev); err != nil {
			c.reply(protocol.ErrorOf(protocol.CodeProtocolError, "malformed sync-request"))
			return
		}
		if err := c.registry.Resync(ev.DocumentID, c.connID); err != nil {
			c.reply(protocol.ErrorOf(protocol.CodeNotJoined, "not joined to document"))
		}

	default:
		c.reply(protocol.ErrorOf(protocol.CodeProtocolError, "unknown event type"))
	}
}

func (c *Client) join(documentID string) {
	if c.docID == documentID {
		// Re-join of the current document is a resync request
		c.registry.Resync(documentID, c.connID)
		return
	}
	if c.docID != "" {
		c.registry.Leave(c.docID, c.connID)
		c.docID = ""
	}

	snap, err := c.registry.Join(documentID, c.connID, c.identity.UserID, c.identity.DisplayName, c.outbox)
	if err != nil {
		log.Printf("Join failed for connection %s on document %s: %v", c.connID, documentID, err)
		c.reply(protocol.ErrorOf(protocol.CodeProtocolError, "failed to join document"))
		return
	}
	c.docID = documentID

	c.reply(protocol.Envelope{
		Type: protocol.EventDocumentState,
		Data: protocol.DocumentState{
			DocumentID:   snap.DocumentID,
			Content:      snap.Content,
			Version:      snap.Version,
			Participants: snap.Participants,
		},
	})
}

func (c *Client) submitEdit(ev protocol.SubmitEdit) {
	res, err := c.registry.SubmitEdit(ev.DocumentID, c.connID, ev.BaseVersion, ev.Content)
	if err != nil {
		c.reply(protocol.ErrorOf(protocol.CodeNotJoined, "not joined to document"))
		return
	}

	if res.Accepted {
		c.reply(protocol.Envelope{
			Type: protocol.EventContentUpdated,
			Data: protocol.ContentUpdated{
				DocumentID: ev.DocumentID,
				Content:    ev.Content,
				Version:    res.NewVersion,
				UserID:     c.identity.UserID,
			},
		})
		return
	}

	// Stale base: force the submitter back onto the authoritative state
	c.reply(protocol.Envelope{
		Type: protocol.EventSyncRequired,
		Data: protocol.SyncRequired{
			DocumentID: ev.DocumentID,
			Content:    res.CurrentContent,
			Version:    res.CurrentVersion,
		},
	})
}

// Queues a direct reply without ever blocking the read loop. Unlike a
// room broadcast, a reply carries state this client needs to converge, so
// a connection too backlogged to take it is closed; the client reconnects
// and rejoins onto fresh authoritative state.
func (c *Client) reply(ev protocol.Envelope) {
	select {
	case c.outbox <- ev:
	default:
		log.Printf("Connection %s cannot keep up, closing", c.connID)
		c.conn.Close()
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case ev, ok := <-c.outbox:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			if err := c.conn.WriteJSON(ev); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

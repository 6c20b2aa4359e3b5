// Package hub owns the live real-time state of the process: which
// connections exist, which board rooms they joined, and which users are
// present on each board. One Hub is constructed at startup and injected
// into the handlers that need it.
package hub

import (
	"errors"
	"sync"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"boardsync/domain"
)

// ErrUnknownConnection is returned when a connection id is not registered.
var ErrUnknownConnection = errors.New("unknown connection")

// sendBuffer bounds the per-connection outbound queue. A connection that
// cannot drain this many events has its deliveries dropped, never blocks
// the publisher.
const sendBuffer = 64

// Conn is one authenticated network session.
type Conn struct {
	ID       string
	Identity domain.Identity

	send   chan []byte
	boards map[string]struct{}
}

// Events returns the connection's outbound event stream.
func (c *Conn) Events() <-chan []byte { return c.send }

// JoinResult describes the outcome of adding a connection to a room.
type JoinResult struct {
	AlreadyJoined bool
	NewlyPresent  bool
	Snapshot      []domain.Identity
}

// Departure describes a connection leaving a room. LastOfUser is true
// when no other connection of the same user remains in the room.
type Departure struct {
	BoardID    string
	UserID     string
	LastOfUser bool
}

// Hub is the room and presence registry. All methods are safe for
// concurrent use; registry operations are cheap map updates behind one
// lock.
type Hub struct {
	logger *log.Logger

	mu       sync.Mutex
	conns    map[string]*Conn
	rooms    map[string]map[string]*Conn
	presence map[string]map[string]domain.Identity
}

// NewHub creates an empty Hub.
func NewHub(logger *log.Logger) *Hub {
	if logger == nil {
		panic("hub.NewHub: logger is nil")
	}
	return &Hub{
		logger:   logger,
		conns:    make(map[string]*Conn),
		rooms:    make(map[string]map[string]*Conn),
		presence: make(map[string]map[string]domain.Identity),
	}
}

// Register creates a connection for the authenticated identity.
func (h *Hub) Register(identity domain.Identity) *Conn {
	conn := &Conn{
		ID:       uuid.NewString(),
		Identity: identity,
		send:     make(chan []byte, sendBuffer),
		boards:   make(map[string]struct{}),
	}
	h.mu.Lock()
	h.conns[conn.ID] = conn
	h.mu.Unlock()
	return conn
}

// Unregister removes the connection from every room it joined and drops
// it from the registry. It returns one Departure per left room so the
// caller can emit presence events.
func (h *Hub) Unregister(connID string) []Departure {
	h.mu.Lock()
	defer h.mu.Unlock()

	conn, ok := h.conns[connID]
	if !ok {
		return nil
	}
	var departures []Departure
	for boardID := range conn.boards {
		if dep, left := h.leaveLocked(conn, boardID); left {
			departures = append(departures, dep)
		}
	}
	delete(h.conns, connID)
	return departures
}

// Join adds the connection to the board's room and upserts the user's
// presence. Joining a room the connection already belongs to only
// refreshes the presence snapshot.
func (h *Hub) Join(connID, boardID string) (JoinResult, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	conn, ok := h.conns[connID]
	if !ok {
		return JoinResult{}, ErrUnknownConnection
	}

	room := h.rooms[boardID]
	if room == nil {
		room = make(map[string]*Conn)
		h.rooms[boardID] = room
	}
	_, already := room[connID]
	room[connID] = conn
	conn.boards[boardID] = struct{}{}

	users := h.presence[boardID]
	if users == nil {
		users = make(map[string]domain.Identity)
		h.presence[boardID] = users
	}
	_, wasPresent := users[conn.Identity.UserID]
	users[conn.Identity.UserID] = conn.Identity

	return JoinResult{
		AlreadyJoined: already,
		NewlyPresent:  !wasPresent,
		Snapshot:      identitySnapshot(users),
	}, nil
}

// Leave removes the connection from the board's room. The second return
// is false when the connection was not in the room.
func (h *Hub) Leave(connID, boardID string) (Departure, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()

	conn, ok := h.conns[connID]
	if !ok {
		return Departure{}, false
	}
	return h.leaveLocked(conn, boardID)
}

func (h *Hub) leaveLocked(conn *Conn, boardID string) (Departure, bool) {
	room, ok := h.rooms[boardID]
	if !ok {
		return Departure{}, false
	}
	if _, joined := room[conn.ID]; !joined {
		return Departure{}, false
	}
	delete(room, conn.ID)
	delete(conn.boards, boardID)
	if len(room) == 0 {
		delete(h.rooms, boardID)
	}

	lastOfUser := true
	for _, other := range room {
		if other.Identity.UserID == conn.Identity.UserID {
			lastOfUser = false
			break
		}
	}
	if lastOfUser {
		if users, ok := h.presence[boardID]; ok {
			delete(users, conn.Identity.UserID)
			if len(users) == 0 {
				delete(h.presence, boardID)
			}
		}
	}
	return Departure{BoardID: boardID, UserID: conn.Identity.UserID, LastOfUser: lastOfUser}, true
}

// Refresh upserts the user's presence snapshot on a board the connection
// has joined. Driven by client pings so presence reflects activity.
func (h *Hub) Refresh(connID, boardID string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	conn, ok := h.conns[connID]
	if !ok {
		return false
	}
	if _, joined := conn.boards[boardID]; !joined {
		return false
	}
	if users, ok := h.presence[boardID]; ok {
		users[conn.Identity.UserID] = conn.Identity
	}
	return true
}

// ConnectionsOf returns the ids of the connections in the board's room.
func (h *Hub) ConnectionsOf(boardID string) []string {
	h.mu.Lock()
	defer h.mu.Unlock()

	room := h.rooms[boardID]
	ids := make([]string, 0, len(room))
	for id := range room {
		ids = append(ids, id)
	}
	return ids
}

// PresenceOf returns the distinct users currently viewing the board.
func (h *Hub) PresenceOf(boardID string) []domain.Identity {
	h.mu.Lock()
	defer h.mu.Unlock()
	return identitySnapshot(h.presence[boardID])
}

// Owner returns the identity bound to a connection.
func (h *Hub) Owner(connID string) (domain.Identity, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()

	conn, ok := h.conns[connID]
	if !ok {
		return domain.Identity{}, false
	}
	return conn.Identity, true
}

// SendTo queues the payload on one connection. Returns false when the
// connection is unknown or its queue is full.
func (h *Hub) SendTo(connID string, payload []byte) bool {
	h.mu.Lock()
	conn, ok := h.conns[connID]
	h.mu.Unlock()
	if !ok {
		return false
	}
	select {
	case conn.send <- payload:
		return true
	default:
		h.logger.WithFields(log.Fields{"conn": connID}).Warn("send queue full, event dropped")
		return false
	}
}

// Broadcast queues the payload on every connection in the board's room
// except the one named by except. Full queues are logged and skipped;
// delivery is best-effort by contract. Returns the number of deliveries.
func (h *Hub) Broadcast(boardID string, payload []byte, except string) int {
	h.mu.Lock()
	room := h.rooms[boardID]
	targets := make([]*Conn, 0, len(room))
	for id, conn := range room {
		if id == except {
			continue
		}
		targets = append(targets, conn)
	}
	h.mu.Unlock()

	delivered := 0
	for _, conn := range targets {
		select {
		case conn.send <- payload:
			delivered++
		default:
			h.logger.WithFields(log.Fields{"board": boardID, "conn": conn.ID}).Warn("send queue full, event dropped")
		}
	}
	return delivered
}

func identitySnapshot(users map[string]domain.Identity) []domain.Identity {
	out := make([]domain.Identity, 0, len(users))
	for _, id := range users {
		out = append(out, id)
	}
	return out
}

package domain

import "encoding/json"

// Event kinds delivered to stream subscribers. Mutation kinds always
// originate from an already-committed write; presence kinds originate
// from room/presence transitions.
const (
	ItemCreated    = "item_created"
	ItemUpdated    = "item_updated"
	ItemDeleted    = "item_deleted"
	ItemMoved      = "item_moved"
	BoardUpdated   = "board_updated"
	CommentCreated = "comment_created"
	CommentDeleted = "comment_deleted"

	PresenceJoin  = "presence_join"
	PresenceLeave = "presence_leave"
	PresenceList  = "presence_list"

	// Connected is the first event on every stream and carries the
	// connection id the client uses for join/leave/ping calls.
	Connected = "connected"
)

// Envelope is the wire frame for every hub→client event. Origin carries
// the emitting instance id so the redis bridge can skip its own messages.
type Envelope struct {
	Type    string          `json:"type"`
	BoardID string          `json:"boardId,omitempty"`
	Data    json.RawMessage `json:"data,omitempty"`
	Time    int64           `json:"time"`
	Origin  string          `json:"origin,omitempty"`
}

type ConnectedData struct {
	ConnectionID string `json:"connectionId"`
}

type PresenceJoinData struct {
	UserID      string `json:"userId"`
	DisplayName string `json:"displayName,omitempty"`
	AvatarRef   string `json:"avatarRef,omitempty"`
	BoardID     string `json:"boardId"`
}

type PresenceLeaveData struct {
	UserID  string `json:"userId"`
	BoardID string `json:"boardId"`
}

type PresenceListData struct {
	BoardID string     `json:"boardId"`
	Users   []Identity `json:"users"`
}

type ItemDeletedData struct {
	ID      string `json:"id"`
	BoardID string `json:"boardId"`
}

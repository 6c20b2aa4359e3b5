package domain

// Columns is the closed set of statuses an item can be in.
var Columns = [...]string{"backlog", "todo", "in-progress", "done"}

// ValidColumn reports whether name belongs to the fixed column set.
func ValidColumn(name string) bool {
	for _, c := range Columns {
		if c == name {
			return true
		}
	}
	return false
}

// Item is a single card on a board. Position is the dense zero-based
// rank of the item within its (board, column) pair.
type Item struct {
	ID       string `json:"id"`
	BoardID  string `json:"boardId"`
	Title    string `json:"title"`
	Notes    string `json:"notes,omitempty"`
	Column   string `json:"column"`
	Position int    `json:"position"`
}

// PositionUpdate assigns an item a new column and position. A slice of
// updates produced for one mutation must be committed atomically.
type PositionUpdate struct {
	ItemID   string
	Column   string
	Position int
}

// Identity is the stable user record resolved from a verified credential.
type Identity struct {
	UserID      string `json:"userId"`
	DisplayName string `json:"displayName,omitempty"`
	AvatarRef   string `json:"avatarRef,omitempty"`
}

package order

import (
	"context"
	"errors"
	"sync"

	"boardsync/domain"
)

var (
	// ErrItemNotFound is returned when the referenced item does not exist.
	ErrItemNotFound = errors.New("item not found")
	// ErrInvalidColumn is returned when the target column is not in the
	// fixed status set.
	ErrInvalidColumn = errors.New("invalid column")
)

// Storage is the persistence contract the engine commits against. Every
// method that takes a shift plan must apply it atomically: either all
// position updates commit or none do.
type Storage interface {
	// GetItem returns the item and whether it exists.
	GetItem(ctx context.Context, itemID string) (domain.Item, bool, error)
	// ListColumn returns the items of one (board, column), sorted by
	// position.
	ListColumn(ctx context.Context, boardID, column string) ([]domain.Item, error)
	// CommitPositions applies the updates as one atomic unit.
	CommitPositions(ctx context.Context, boardID string, updates []domain.PositionUpdate) error
	// InsertItem stores a new item and applies the sibling shifts in the
	// same atomic unit.
	InsertItem(ctx context.Context, item domain.Item, shifts []domain.PositionUpdate) error
	// RemoveItem deletes the item and applies the gap-closing shifts in
	// the same atomic unit.
	RemoveItem(ctx context.Context, boardID, itemID string, shifts []domain.PositionUpdate) error
}

// Engine computes and commits the position deltas for item mutations.
// Mutations on the same board are serialized; boards are independent.
type Engine struct {
	store Storage

	mu     sync.Mutex
	boards map[string]*sync.Mutex
}

// NewEngine creates an Engine backed by the given storage.
func NewEngine(store Storage) *Engine {
	if store == nil {
		panic("order.NewEngine: storage is nil")
	}
	return &Engine{store: store, boards: make(map[string]*sync.Mutex)}
}

func (e *Engine) lockBoard(boardID string) func() {
	e.mu.Lock()
	l, ok := e.boards[boardID]
	if !ok {
		l = &sync.Mutex{}
		e.boards[boardID] = l
	}
	e.mu.Unlock()
	l.Lock()
	return l.Unlock
}

// Move places the item at (column, index). The index is clamped to the
// valid range of the target column; moving an item to its current slot is
// a no-op that still succeeds. Returns the item's fresh state.
func (e *Engine) Move(ctx context.Context, itemID, column string, index int) (domain.Item, error) {
	if !domain.ValidColumn(column) {
		return domain.Item{}, ErrInvalidColumn
	}
	item, ok, err := e.store.GetItem(ctx, itemID)
	if err != nil {
		return domain.Item{}, err
	}
	if !ok {
		return domain.Item{}, ErrItemNotFound
	}

	unlock := e.lockBoard(item.BoardID)
	defer unlock()

	// Re-read under the board lock: a concurrent move may have shifted
	// the item since the unlocked lookup.
	item, ok, err = e.store.GetItem(ctx, itemID)
	if err != nil {
		return domain.Item{}, err
	}
	if !ok {
		return domain.Item{}, ErrItemNotFound
	}

	if column == item.Column {
		siblings, err := e.store.ListColumn(ctx, item.BoardID, column)
		if err != nil {
			return domain.Item{}, err
		}
		plan := planSameColumnMove(siblings, item.ID, column, item.Position, index)
		if plan == nil {
			return item, nil
		}
		if err := e.store.CommitPositions(ctx, item.BoardID, plan); err != nil {
			return domain.Item{}, err
		}
		item.Position = plan[len(plan)-1].Position
		return item, nil
	}

	source, err := e.store.ListColumn(ctx, item.BoardID, item.Column)
	if err != nil {
		return domain.Item{}, err
	}
	dest, err := e.store.ListColumn(ctx, item.BoardID, column)
	if err != nil {
		return domain.Item{}, err
	}
	plan := planCrossColumnMove(source, dest, item.ID, item.Column, column, item.Position, index)
	if err := e.store.CommitPositions(ctx, item.BoardID, plan); err != nil {
		return domain.Item{}, err
	}
	item.Column = column
	item.Position = plan[len(plan)-1].Position
	return item, nil
}

// Create stores a new item in its column. A negative index appends at the
// end; otherwise the index is clamped to [0, count] and a slot is opened.
func (e *Engine) Create(ctx context.Context, item domain.Item, index int) (domain.Item, error) {
	if !domain.ValidColumn(item.Column) {
		return domain.Item{}, ErrInvalidColumn
	}

	unlock := e.lockBoard(item.BoardID)
	defer unlock()

	siblings, err := e.store.ListColumn(ctx, item.BoardID, item.Column)
	if err != nil {
		return domain.Item{}, err
	}
	var shifts []domain.PositionUpdate
	if index < 0 {
		item.Position = len(siblings)
	} else {
		shifts, item.Position = planInsert(siblings, item.Column, index)
	}
	if err := e.store.InsertItem(ctx, item, shifts); err != nil {
		return domain.Item{}, err
	}
	return item, nil
}

// Delete removes the item and re-densifies its column. Returns the
// deleted item's last state.
func (e *Engine) Delete(ctx context.Context, itemID string) (domain.Item, error) {
	item, ok, err := e.store.GetItem(ctx, itemID)
	if err != nil {
		return domain.Item{}, err
	}
	if !ok {
		return domain.Item{}, ErrItemNotFound
	}

	unlock := e.lockBoard(item.BoardID)
	defer unlock()

	item, ok, err = e.store.GetItem(ctx, itemID)
	if err != nil {
		return domain.Item{}, err
	}
	if !ok {
		return domain.Item{}, ErrItemNotFound
	}

	siblings, err := e.store.ListColumn(ctx, item.BoardID, item.Column)
	if err != nil {
		return domain.Item{}, err
	}
	shifts := planRemoval(siblings, item.ID, item.Column, item.Position)
	if err := e.store.RemoveItem(ctx, item.BoardID, item.ID, shifts); err != nil {
		return domain.Item{}, err
	}
	return item, nil
}

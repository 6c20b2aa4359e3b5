// Package storage persists board items in Azure Table Storage and records
// committed mutation events on an Azure Queue feed. One board maps to one
// table partition, so a multi-row position update commits as a single
// entity-group transaction: concurrent movers on the same board can never
// observe a partially-shifted column.
package storage

import (
	"context"
	"encoding/json"
	"sort"
	"strings"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/policy"
	"github.com/Azure/azure-sdk-for-go/sdk/data/aztables"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azqueue"

	"boardsync/domain"
)

// Storage provides access to the underlying persistence mechanisms.
type Storage struct {
	itemTable  *aztables.Client
	eventQueue *azqueue.QueueClient
}

// New creates a Storage instance from the given connection string.
func New(connStr, itemsTable, eventsQueue string) (*Storage, error) {
	tablesClientOptions := aztables.ClientOptions{
		ClientOptions: azcore.ClientOptions{
			Retry: policy.RetryOptions{
				MaxRetries:    3,
				TryTimeout:    time.Minute * 3,
				RetryDelay:    time.Second * 1,
				MaxRetryDelay: time.Second * 15,
				StatusCodes:   []int{408, 429, 500, 502, 503, 504},
			},
		},
	}
	svc, err := aztables.NewServiceClientFromConnectionString(connStr, &tablesClientOptions)
	if err != nil {
		return nil, err
	}
	it := svc.NewClient(itemsTable)
	queueClientOptions := azqueue.ClientOptions{
		ClientOptions: azcore.ClientOptions{
			Retry: policy.RetryOptions{
				MaxRetries:    5,
				TryTimeout:    time.Minute * 5,
				RetryDelay:    time.Second * 1,
				MaxRetryDelay: time.Second * 60,
				StatusCodes:   []int{408, 429, 500, 502, 503, 504},
			},
		},
	}
	eq, err := azqueue.NewQueueClientFromConnectionString(connStr, eventsQueue, &queueClientOptions)
	if err != nil {
		return nil, err
	}
	return &Storage{itemTable: it, eventQueue: eq}, nil
}

// itemEntity maps an item onto a table row. PartitionKey is the board id,
// RowKey the item id.
type itemEntity struct {
	aztables.Entity
	Title    string `json:"Title"`
	Notes    string `json:"Notes"`
	Column   string `json:"Column"`
	Position int    `json:"Position"`
}

func (e itemEntity) toItem() domain.Item {
	return domain.Item{
		ID:       e.RowKey,
		BoardID:  e.PartitionKey,
		Title:    e.Title,
		Notes:    e.Notes,
		Column:   e.Column,
		Position: e.Position,
	}
}

func entityFromItem(item domain.Item) itemEntity {
	return itemEntity{
		Entity:   aztables.Entity{PartitionKey: item.BoardID, RowKey: item.ID},
		Title:    item.Title,
		Notes:    item.Notes,
		Column:   item.Column,
		Position: item.Position,
	}
}

// odataString quotes a literal for an OData filter. Item and board ids
// arrive from request paths, so embedded quotes must be doubled to keep
// them from rewriting the filter.
func odataString(v string) string {
	return "'" + strings.ReplaceAll(v, "'", "''") + "'"
}

// GetItem looks an item up by id across all boards.
func (s *Storage) GetItem(ctx context.Context, itemID string) (domain.Item, bool, error) {
	filter := "RowKey eq " + odataString(itemID)
	pager := s.itemTable.NewListEntitiesPager(&aztables.ListEntitiesOptions{Filter: &filter})
	for pager.More() {
		resp, err := pager.NextPage(ctx)
		if err != nil {
			return domain.Item{}, false, err
		}
		for _, raw := range resp.Entities {
			var ent itemEntity
			if err := json.Unmarshal(raw, &ent); err != nil {
				return domain.Item{}, false, err
			}
			return ent.toItem(), true, nil
		}
	}
	return domain.Item{}, false, nil
}

// ListColumn returns the items of one (board, column), sorted by position.
func (s *Storage) ListColumn(ctx context.Context, boardID, column string) ([]domain.Item, error) {
	filter := "PartitionKey eq " + odataString(boardID) + " and Column eq " + odataString(column)
	items, err := s.list(ctx, filter)
	if err != nil {
		return nil, err
	}
	sort.Slice(items, func(i, j int) bool { return items[i].Position < items[j].Position })
	return items, nil
}

// ListBoard returns every item of a board, sorted by column then position.
func (s *Storage) ListBoard(ctx context.Context, boardID string) ([]domain.Item, error) {
	filter := "PartitionKey eq " + odataString(boardID)
	items, err := s.list(ctx, filter)
	if err != nil {
		return nil, err
	}
	sort.Slice(items, func(i, j int) bool {
		if items[i].Column != items[j].Column {
			return items[i].Column < items[j].Column
		}
		return items[i].Position < items[j].Position
	})
	return items, nil
}

func (s *Storage) list(ctx context.Context, filter string) ([]domain.Item, error) {
	pager := s.itemTable.NewListEntitiesPager(&aztables.ListEntitiesOptions{Filter: &filter})
	items := []domain.Item{}
	for pager.More() {
		resp, err := pager.NextPage(ctx)
		if err != nil {
			return nil, err
		}
		for _, raw := range resp.Entities {
			var ent itemEntity
			if err := json.Unmarshal(raw, &ent); err != nil {
				return nil, err
			}
			items = append(items, ent.toItem())
		}
	}
	return items, nil
}

// positionPatch is the merge body for a position shift. Only column and
// position change; other fields stay untouched.
type positionPatch struct {
	aztables.Entity
	Column   string `json:"Column"`
	Position int    `json:"Position"`
}

func mergeAction(boardID string, upd domain.PositionUpdate) (aztables.TransactionAction, error) {
	body, err := json.Marshal(positionPatch{
		Entity:   aztables.Entity{PartitionKey: boardID, RowKey: upd.ItemID},
		Column:   upd.Column,
		Position: upd.Position,
	})
	if err != nil {
		return aztables.TransactionAction{}, err
	}
	return aztables.TransactionAction{ActionType: aztables.TransactionTypeUpdateMerge, Entity: body}, nil
}

// CommitPositions applies all updates as one entity-group transaction.
func (s *Storage) CommitPositions(ctx context.Context, boardID string, updates []domain.PositionUpdate) error {
	if len(updates) == 0 {
		return nil
	}
	actions := make([]aztables.TransactionAction, 0, len(updates))
	for _, upd := range updates {
		action, err := mergeAction(boardID, upd)
		if err != nil {
			return err
		}
		actions = append(actions, action)
	}
	_, err := s.itemTable.SubmitTransaction(ctx, actions, nil)
	return err
}

// InsertItem adds the item and applies the sibling shifts atomically.
func (s *Storage) InsertItem(ctx context.Context, item domain.Item, shifts []domain.PositionUpdate) error {
	body, err := json.Marshal(entityFromItem(item))
	if err != nil {
		return err
	}
	actions := []aztables.TransactionAction{{ActionType: aztables.TransactionTypeAdd, Entity: body}}
	for _, upd := range shifts {
		action, err := mergeAction(item.BoardID, upd)
		if err != nil {
			return err
		}
		actions = append(actions, action)
	}
	_, err = s.itemTable.SubmitTransaction(ctx, actions, nil)
	return err
}

// RemoveItem deletes the item and closes the gap in its column atomically.
func (s *Storage) RemoveItem(ctx context.Context, boardID, itemID string, shifts []domain.PositionUpdate) error {
	body, err := json.Marshal(aztables.Entity{PartitionKey: boardID, RowKey: itemID})
	if err != nil {
		return err
	}
	actions := []aztables.TransactionAction{{ActionType: aztables.TransactionTypeDelete, Entity: body}}
	for _, upd := range shifts {
		action, err := mergeAction(boardID, upd)
		if err != nil {
			return err
		}
		actions = append(actions, action)
	}
	_, err = s.itemTable.SubmitTransaction(ctx, actions, nil)
	return err
}

// fieldPatch carries the mutable non-position fields of an item.
type fieldPatch struct {
	aztables.Entity
	Title *string `json:"Title,omitempty"`
	Notes *string `json:"Notes,omitempty"`
}

// SetItemFields merges the provided title/notes onto the item. Nil fields
// are left unchanged.
func (s *Storage) SetItemFields(ctx context.Context, boardID, itemID string, title, notes *string) error {
	body, err := json.Marshal(fieldPatch{
		Entity: aztables.Entity{PartitionKey: boardID, RowKey: itemID},
		Title:  title,
		Notes:  notes,
	})
	if err != nil {
		return err
	}
	_, err = s.itemTable.UpdateEntity(ctx, body, &aztables.UpdateEntityOptions{UpdateMode: aztables.UpdateModeMerge})
	return err
}

// EnqueueEvent records a committed mutation event on the durable feed.
func (s *Storage) EnqueueEvent(ctx context.Context, payload []byte) error {
	_, err := s.eventQueue.EnqueueMessage(ctx, string(payload), nil)
	return err
}

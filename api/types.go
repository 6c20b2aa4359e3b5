package api

import (
	"context"

	"boardsync/domain"
)

// Storage abstracts the persistence reads and field writes handlers need.
type Storage interface {
	ListBoard(ctx context.Context, boardID string) ([]domain.Item, error)
	GetItem(ctx context.Context, itemID string) (domain.Item, bool, error)
	SetItemFields(ctx context.Context, boardID, itemID string, title, notes *string) error
}

// Mover is the ordering engine contract: every method commits its
// position updates as one atomic unit.
type Mover interface {
	Move(ctx context.Context, itemID, column string, index int) (domain.Item, error)
	Create(ctx context.Context, item domain.Item, index int) (domain.Item, error)
	Delete(ctx context.Context, itemID string) (domain.Item, error)
}

// Publisher fans a committed mutation event out to board subscribers.
// Publishing never fails from the caller's perspective.
type Publisher interface {
	Publish(ctx context.Context, boardID, kind string, data any)
}

// Authenticator resolves bearer credentials to identities.
type Authenticator interface {
	IdentityFromAuthHeader(string) (domain.Identity, error)
	IdentityFromBearer(string) (domain.Identity, error)
}

// Deduper prevents processing of duplicate mutations.
type Deduper interface {
	// Add records the idempotency key and returns true if it was newly added.
	Add(ctx context.Context, userID, key string) (bool, error)
	// Remove deletes a previously added key, used when the commit fails.
	Remove(ctx context.Context, userID, key string) error
}

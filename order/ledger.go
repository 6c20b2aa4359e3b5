// Package order maintains the dense position sequence of items within
// each (board, column) pair: positions are always exactly 0..n-1 with no
// duplicates and no gaps between two committed mutations.
package order

import "boardsync/domain"

// clampIndex bounds idx to [0, max].
func clampIndex(idx, max int) int {
	if idx < 0 {
		return 0
	}
	if idx > max {
		return max
	}
	return idx
}

// planSameColumnMove computes the updates for moving the item currently
// at oldPos to target within the same column. siblings holds every item
// of the column, including the moved one. An empty plan means the move
// is a no-op.
func planSameColumnMove(siblings []domain.Item, itemID, column string, oldPos, target int) []domain.PositionUpdate {
	target = clampIndex(target, len(siblings)-1)
	if target == oldPos {
		return nil
	}
	updates := make([]domain.PositionUpdate, 0, len(siblings))
	for _, sib := range siblings {
		if sib.ID == itemID {
			continue
		}
		switch {
		case target > oldPos && sib.Position > oldPos && sib.Position <= target:
			updates = append(updates, domain.PositionUpdate{ItemID: sib.ID, Column: column, Position: sib.Position - 1})
		case target < oldPos && sib.Position >= target && sib.Position < oldPos:
			updates = append(updates, domain.PositionUpdate{ItemID: sib.ID, Column: column, Position: sib.Position + 1})
		}
	}
	// Moved item last, once every displaced sibling has its new slot.
	return append(updates, domain.PositionUpdate{ItemID: itemID, Column: column, Position: target})
}

// planCrossColumnMove closes the gap the item leaves in its source column
// and opens a slot at target in the destination column.
func planCrossColumnMove(source, dest []domain.Item, itemID, sourceColumn, destColumn string, oldPos, target int) []domain.PositionUpdate {
	target = clampIndex(target, len(dest))
	updates := make([]domain.PositionUpdate, 0, len(source)+len(dest))
	for _, sib := range source {
		if sib.ID == itemID {
			continue
		}
		if sib.Position > oldPos {
			updates = append(updates, domain.PositionUpdate{ItemID: sib.ID, Column: sourceColumn, Position: sib.Position - 1})
		}
	}
	for _, sib := range dest {
		if sib.Position >= target {
			updates = append(updates, domain.PositionUpdate{ItemID: sib.ID, Column: destColumn, Position: sib.Position + 1})
		}
	}
	return append(updates, domain.PositionUpdate{ItemID: itemID, Column: destColumn, Position: target})
}

// planRemoval closes the gap left by deleting the item at oldPos. The
// removed item itself is not part of the plan.
func planRemoval(siblings []domain.Item, itemID, column string, oldPos int) []domain.PositionUpdate {
	var updates []domain.PositionUpdate
	for _, sib := range siblings {
		if sib.ID == itemID {
			continue
		}
		if sib.Position > oldPos {
			updates = append(updates, domain.PositionUpdate{ItemID: sib.ID, Column: column, Position: sib.Position - 1})
		}
	}
	return updates
}

// planInsert opens a slot at target for a new item. siblings holds the
// current column contents. The returned index is the clamped insertion
// position.
func planInsert(siblings []domain.Item, column string, target int) ([]domain.PositionUpdate, int) {
	target = clampIndex(target, len(siblings))
	var updates []domain.PositionUpdate
	for _, sib := range siblings {
		if sib.Position >= target {
			updates = append(updates, domain.PositionUpdate{ItemID: sib.ID, Column: column, Position: sib.Position + 1})
		}
	}
	return updates, target
}

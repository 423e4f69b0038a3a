package world

import (
	"github.com/l1jgo/worldcore/internal/core/ecs"
	"github.com/l1jgo/worldcore/internal/core/txn"
)

// Restore links e, which must be in limbo, at to. It checks the same rules
// as a move but fires no triggers, merges no stacks and emits nothing.
// The loader uses it to rebuild the graph.
func (w *World) Restore(tx *txn.Tx, e *ecs.Entity, to ecs.Owner) error {
	if to.Kind == ecs.OwnerDragging {
		return deny(ErrInvalidDestination, e.UID(tx), "dragging is not persisted")
	}
	if _, err := w.resolve(tx, e, to, false); err != nil {
		return err
	}
	return w.attach(tx, e, to)
}

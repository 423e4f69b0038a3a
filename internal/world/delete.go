package world

import (
	"context"

	"github.com/l1jgo/worldcore/internal/core/ecs"
	"github.com/l1jgo/worldcore/internal/core/event"
	"github.com/l1jgo/worldcore/internal/core/txn"
	"github.com/l1jgo/worldcore/internal/trigger"
)

// Delete destroys e and everything it holds. Order: contents, destroy
// trigger, detach from owner, registry removal. Deleting twice is a no-op.
func (w *World) Delete(ctx context.Context, tx *txn.Tx, e *ecs.Entity) error {
	if e.Deleted(tx) {
		return nil
	}
	uid := e.UID(tx)
	if err := w.deleteContents(ctx, tx, e); err != nil {
		return err
	}
	if err := w.triggers.Fire(ctx, tx, trigger.Destroy, &trigger.Args{Self: e}); err != nil {
		return err
	}
	if e.Deleted(tx) {
		return nil
	}
	// anything a destroy handler put inside goes too
	if err := w.deleteContents(ctx, tx, e); err != nil {
		return err
	}

	e.MarkDeleted(tx)
	if _, err := w.detach(tx, e); err != nil {
		return err
	}
	w.triggers.DetachAll(tx, e)
	if uid != ecs.NoUID && !w.reg.Remove(tx, uid) {
		return txn.Invariant("deleted entity %s was not registered", uid)
	}
	event.Emit(tx, w.bus, event.Deleted{UID: uid, Def: e.Def().Name})
	return nil
}

func (w *World) deleteContents(ctx context.Context, tx *txn.Tx, e *ecs.Entity) error {
	if e.Contents(tx).Count == 0 {
		return nil
	}
	kids, err := w.ContentsOf(tx, e)
	if err != nil {
		return err
	}
	for i := len(kids) - 1; i >= 0; i-- {
		if err := w.Delete(ctx, tx, kids[i]); err != nil {
			return err
		}
	}
	if n := e.Contents(tx).Count; n != 0 {
		return txn.Invariant("%s still holds %d entities after deleting its contents", e.UID(tx), n)
	}
	return nil
}

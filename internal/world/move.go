package world

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/l1jgo/worldcore/internal/core/ecs"
	"github.com/l1jgo/worldcore/internal/core/event"
	"github.com/l1jgo/worldcore/internal/core/txn"
	"github.com/l1jgo/worldcore/internal/data"
	"github.com/l1jgo/worldcore/internal/trigger"
)

// Create builds an entity from def, registers it, fires its create trigger
// and places it at to. A Limbo destination leaves placement to the caller,
// which must finish it before the transaction commits. When the new entity
// stacks onto an existing one it comes back already deleted.
func (w *World) Create(ctx context.Context, tx *txn.Tx, def *data.Definition, to ecs.Owner) (*ecs.Entity, error) {
	if def == nil {
		return nil, ErrUnknownDefinition
	}
	e := ecs.NewEntity(def)
	uid, err := w.reg.Register(tx, e)
	if err != nil {
		return nil, err
	}
	event.Emit(tx, w.bus, event.Created{UID: uid, Def: def.Name})
	if err := w.triggers.Fire(ctx, tx, trigger.Create, &trigger.Args{Self: e}); err != nil {
		return nil, err
	}
	if to.Kind == ecs.OwnerLimbo || e.Deleted(tx) || e.Owner(tx).Kind != ecs.OwnerLimbo {
		return e, nil
	}
	if err := w.Place(ctx, tx, e, to); err != nil {
		// a refused placement must not strand the new entity in limbo
		if IsDenied(err) {
			if derr := w.Delete(ctx, tx, e); derr != nil {
				return nil, derr
			}
		}
		return nil, err
	}
	return e, nil
}

// CreateNamed is Create with the definition looked up by name.
func (w *World) CreateNamed(ctx context.Context, tx *txn.Tx, name string, to ecs.Owner) (*ecs.Entity, error) {
	def, ok := w.defs.Get(name)
	if !ok {
		return nil, deny(ErrUnknownDefinition, ecs.NoUID, "%q", name)
	}
	return w.Create(ctx, tx, def, to)
}

// Place moves e to an owner value, dispatching on its kind.
func (w *World) Place(ctx context.Context, tx *txn.Tx, e *ecs.Entity, to ecs.Owner) error {
	switch to.Kind {
	case ecs.OwnerGround:
		return w.MoveToGround(ctx, tx, e, to.Point)
	case ecs.OwnerLimbo:
		return deny(ErrInvalidDestination, e.UID(tx), "limbo is not a destination")
	}
	parent, ok := w.reg.Lookup(tx, to.Parent)
	if !ok {
		return deny(ErrInvalidDestination, e.UID(tx), "%s does not exist", to.Parent)
	}
	switch to.Kind {
	case ecs.OwnerContainer:
		return w.MoveIntoContainer(ctx, tx, e, parent)
	case ecs.OwnerEquipped:
		return w.Equip(ctx, tx, e, parent, to.Layer)
	default:
		return w.PickUp(ctx, tx, e, parent)
	}
}

func (w *World) MoveToGround(ctx context.Context, tx *txn.Tx, e *ecs.Entity, p ecs.Point) error {
	return w.relocate(ctx, tx, e, ecs.OnGround(p))
}

func (w *World) MoveIntoContainer(ctx context.Context, tx *txn.Tx, e, c *ecs.Entity) error {
	return w.relocate(ctx, tx, e, ecs.InContainer(c.UID(tx)))
}

// PickUp makes ch drag e. A character drags at most one item.
func (w *World) PickUp(ctx context.Context, tx *txn.Tx, e, ch *ecs.Entity) error {
	return w.relocate(ctx, tx, e, ecs.DraggedBy(ch.UID(tx)))
}

// Equip 將 e 裝備到 ch 的 layer。流程：
//  1. 驗證目的地；原佔用者不可移除時直接拒絕。
//  2. 觸發 equip 否決，此時尚未移動任何物件。
//  3. 原佔用者移到背包或地面，再放入 e。
//
// 第 3 步中途被拒絕時回滾到 savepoint，被拒絕的 Equip 不改變任何狀態。
func (w *World) Equip(ctx context.Context, tx *txn.Tx, e, ch *ecs.Entity, layer data.Layer) error {
	to := ecs.EquippedOn(ch.UID(tx), layer)
	parent, _, err := w.resolveEquip(tx, e, to)
	if err != nil {
		return err
	}
	if err := w.veto(ctx, tx, e, parent, to); err != nil {
		return err
	}
	// a veto handler may have changed the world
	_, occ, err := w.resolveEquip(tx, e, to)
	if err != nil {
		return err
	}
	if occ == nil {
		return w.commit(ctx, tx, e, to)
	}

	sp := tx.Savepoint()
	err = w.evict(ctx, tx, occ, ch)
	if err == nil {
		// eviction triggers may have filled the layer again
		err = w.commit(ctx, tx, e, to)
	}
	if IsDenied(err) {
		tx.RollbackTo(sp)
	}
	return err
}

// resolveEquip is validate plus the current occupant of the layer, nil when
// the layer is free or already holds e. An unevictable occupant refuses.
func (w *World) resolveEquip(tx *txn.Tx, e *ecs.Entity, to ecs.Owner) (parent, occ *ecs.Entity, err error) {
	if parent, err = w.validate(tx, e, to, false); err != nil {
		return nil, nil, err
	}
	if occ, err = w.Equipped(tx, parent, to.Layer); err != nil {
		return nil, nil, err
	}
	if occ == e {
		return parent, nil, nil
	}
	if occ != nil && occ.Def().Unevictable {
		return nil, nil, deny(ErrLayerOccupied, e.UID(tx), "%s on %s cannot be removed", occ.UID(tx), to.Layer)
	}
	return parent, occ, nil
}

// evict moves an equipped item out of the way: into the Pack when the
// policy allows and the pack accepts it, otherwise onto the ground under ch.
func (w *World) evict(ctx context.Context, tx *txn.Tx, occ, ch *ecs.Entity) error {
	if w.cfg.Eviction == EvictToPack {
		pack, err := w.Equipped(tx, ch, data.LayerPack)
		if err != nil {
			return err
		}
		if pack != nil && pack != occ && pack.Def().IsContainer() {
			err := w.relocate(ctx, tx, occ, ecs.InContainer(pack.UID(tx)))
			if err == nil || !IsDenied(err) {
				return err
			}
			w.log.Debug("pack refused evicted item, dropping to ground",
				zap.Uint64("tx", tx.Seq()), zap.Int64("uid", int64(occ.UID(tx))), zap.Error(err))
		}
	}
	_, p, onGround, err := w.TopLevel(tx, ch)
	if err != nil {
		return err
	}
	if !onGround {
		return deny(ErrLayerOccupied, occ.UID(tx), "nowhere to put the evicted item")
	}
	return w.relocate(ctx, tx, occ, ecs.OnGround(p))
}

// TopLevel walks up the owner chain. It returns the outermost entity and,
// when that entity lies on the ground, its position.
func (w *World) TopLevel(tx *txn.Tx, e *ecs.Entity) (*ecs.Entity, ecs.Point, bool, error) {
	cur := e
	for depth := 0; ; depth++ {
		o := cur.Owner(tx)
		switch {
		case o.Kind == ecs.OwnerGround:
			return cur, o.Point, true, nil
		case !o.HasParent():
			return cur, ecs.Point{}, false, nil
		case depth > w.cfg.MaxNestingDepth:
			return nil, ecs.Point{}, false, txn.Invariant("owner chain of %s exceeds %d", e.UID(tx), w.cfg.MaxNestingDepth)
		}
		next, err := w.mustLookup(tx, o.Parent)
		if err != nil {
			return nil, ecs.Point{}, false, err
		}
		cur = next
	}
}

// validate checks that e may be placed at to, without looking at layer
// occupancy. parent is the destination entity, nil for the ground. With
// stacking set, a full container still accepts e when e would merge into
// one of its stacks.
func (w *World) validate(tx *txn.Tx, e *ecs.Entity, to ecs.Owner, stacking bool) (parent *ecs.Entity, err error) {
	uid := e.UID(tx)
	if uid == ecs.NoUID {
		return nil, deny(ErrInvalidDestination, uid, "entity is not registered")
	}
	if e.Deleted(tx) {
		return nil, deny(ErrInvalidDestination, uid, "entity is deleted")
	}
	switch to.Kind {
	case ecs.OwnerGround:
		if !to.Point.Valid() {
			return nil, deny(ErrInvalidDestination, uid, "invalid point %s", to.Point)
		}
		return nil, nil
	case ecs.OwnerLimbo:
		return nil, deny(ErrInvalidDestination, uid, "limbo is not a destination")
	}

	parent, ok := w.reg.Lookup(tx, to.Parent)
	if !ok || parent.Deleted(tx) {
		return nil, deny(ErrInvalidDestination, uid, "%s does not exist", to.Parent)
	}
	switch to.Kind {
	case ecs.OwnerContainer:
		if !parent.Def().IsContainer() {
			return nil, deny(ErrInvalidDestination, uid, "%s is not a container", to.Parent)
		}
		if limit := parent.Def().Capacity; limit > 0 {
			n := parent.Contents(tx).Count
			if e.Owner(tx) == to {
				n--
			}
			if n >= limit {
				var m *ecs.Entity
				if stacking {
					if m, err = w.stackTarget(tx, e, parent, to); err != nil {
						return nil, err
					}
				}
				if m == nil {
					return nil, deny(ErrInvalidDestination, uid, "%s is full", to.Parent)
				}
			}
		}
	case ecs.OwnerEquipped:
		if !parent.Def().IsCharacter() {
			return nil, deny(ErrInvalidDestination, uid, "%s is not a character", to.Parent)
		}
		if !to.Layer.Wearable() {
			return nil, deny(ErrInvalidDestination, uid, "layer %s holds nothing", to.Layer)
		}
		if l := e.Def().Layer; l != to.Layer {
			return nil, deny(ErrInvalidDestination, uid, "%s is worn on %s, not %s", e.Def().Name, l, to.Layer)
		}
	case ecs.OwnerDragging:
		if !parent.Def().IsCharacter() {
			return nil, deny(ErrInvalidDestination, uid, "%s is not a character", to.Parent)
		}
		d, err := w.Dragged(tx, parent)
		if err != nil {
			return nil, err
		}
		if d != nil && d != e {
			return nil, deny(ErrInvalidDestination, uid, "%s is already dragging %s", to.Parent, d.UID(tx))
		}
	}
	if err := w.checkNesting(tx, e, parent); err != nil {
		return nil, err
	}
	return parent, nil
}

// checkNesting refuses moves that would put e inside itself or nest
// deeper than the configured limit.
func (w *World) checkNesting(tx *txn.Tx, e, parent *ecs.Entity) error {
	uid := e.UID(tx)
	depth := 1
	for cur := parent; ; depth++ {
		if cur == e {
			return deny(ErrWouldCreateCycle, uid, "%s would end up inside itself", uid)
		}
		if depth > w.cfg.MaxNestingDepth {
			return deny(ErrInvalidDestination, uid, "nesting deeper than %d", w.cfg.MaxNestingDepth)
		}
		o := cur.Owner(tx)
		if !o.HasParent() {
			break
		}
		next, err := w.mustLookup(tx, o.Parent)
		if err != nil {
			return err
		}
		cur = next
	}
	h, err := w.height(tx, e, w.cfg.MaxNestingDepth-depth)
	if err != nil {
		return err
	}
	if depth+h > w.cfg.MaxNestingDepth {
		return deny(ErrInvalidDestination, uid, "nesting deeper than %d", w.cfg.MaxNestingDepth)
	}
	return nil
}

// height is the depth of e's subtree, 0 when it holds nothing. The walk
// stops once it exceeds budget.
func (w *World) height(tx *txn.Tx, e *ecs.Entity, budget int) (int, error) {
	if e.Contents(tx).Count == 0 {
		return 0, nil
	}
	if budget <= 0 {
		return 1, nil
	}
	ms, err := w.ContentsOf(tx, e)
	if err != nil {
		return 0, err
	}
	best := 0
	for _, m := range ms {
		h, err := w.height(tx, m, budget-1)
		if err != nil {
			return 0, err
		}
		best = max(best, h)
	}
	return best + 1, nil
}

// resolve is validate plus the single-occupant rule for layers.
func (w *World) resolve(tx *txn.Tx, e *ecs.Entity, to ecs.Owner, stacking bool) (*ecs.Entity, error) {
	parent, err := w.validate(tx, e, to, stacking)
	if err != nil || to.Kind != ecs.OwnerEquipped {
		return parent, err
	}
	occ, err := w.Equipped(tx, parent, to.Layer)
	if err != nil {
		return nil, err
	}
	if occ != nil && occ != e {
		return nil, deny(ErrLayerOccupied, e.UID(tx), "%s already holds %s", to.Layer, occ.UID(tx))
	}
	return parent, nil
}

// veto runs the cancellable trigger for moving e to to.
func (w *World) veto(ctx context.Context, tx *txn.Tx, e, parent *ecs.Entity, to ecs.Owner) error {
	var key trigger.Key
	args := &trigger.Args{Self: e, Other: parent, Amount: e.Amount(tx), Point: to.Point, Layer: to.Layer}
	switch to.Kind {
	case ecs.OwnerGround:
		key = trigger.Drop
	case ecs.OwnerContainer:
		key = trigger.Enter
		args.Self, args.Other = parent, e
	case ecs.OwnerEquipped:
		key = trigger.Equip
	case ecs.OwnerDragging:
		key = trigger.PickUp
	}
	cancelled, err := w.triggers.FireCancellable(ctx, tx, key, args)
	if err != nil {
		return err
	}
	if cancelled {
		return deny(ErrCancelled, e.UID(tx), "%s trigger refused", key)
	}
	return nil
}

// relocate moves e to to. Refusals change nothing. The steps are: validate,
// veto triggers, then commit.
func (w *World) relocate(ctx context.Context, tx *txn.Tx, e *ecs.Entity, to ecs.Owner) error {
	parent, err := w.resolve(tx, e, to, true)
	if err != nil {
		return err
	}
	if err := w.veto(ctx, tx, e, parent, to); err != nil {
		return err
	}
	return w.commit(ctx, tx, e, to)
}

// commit re-validates, detaches e into limbo, stacks or links it at to and
// settles. It fires no veto.
func (w *World) commit(ctx context.Context, tx *txn.Tx, e *ecs.Entity, to ecs.Owner) error {
	parent, err := w.resolve(tx, e, to, true)
	if err != nil {
		return err
	}
	from, err := w.detach(tx, e)
	if err != nil {
		return err
	}
	merged, err := w.tryStack(ctx, tx, e, parent, to)
	if err != nil || merged {
		return err
	}
	if err := w.attach(tx, e, to); err != nil {
		return err
	}
	event.Emit(tx, w.bus, event.Moved{UID: e.UID(tx), From: from, To: to})
	return w.settle(ctx, tx, e, parent, from, to)
}

// tryStack merges e into a matching stack at the destination. e is in limbo.
func (w *World) tryStack(ctx context.Context, tx *txn.Tx, e, parent *ecs.Entity, to ecs.Owner) (bool, error) {
	m, err := w.stackTarget(tx, e, parent, to)
	if err != nil || m == nil {
		return false, err
	}
	ep := e.Props(tx)
	mp := m.Props(tx).Clone()
	mp.Amount += ep.Amount
	m.SetProps(tx, mp)
	event.Emit(tx, w.bus, event.Stacked{Into: m.UID(tx), From: e.UID(tx), Amount: mp.Amount})
	if err := w.Delete(ctx, tx, e); err != nil {
		return false, err
	}
	return true, w.triggers.Fire(ctx, tx, trigger.Stacked, &trigger.Args{Self: m, Amount: ep.Amount, Point: to.Point})
}

// stackTarget finds the first stack at to that e can merge into: same
// definition, color and name, with room for e's amount.
func (w *World) stackTarget(tx *txn.Tx, e, parent *ecs.Entity, to ecs.Owner) (*ecs.Entity, error) {
	def := e.Def()
	if !def.Stackable || (to.Kind != ecs.OwnerGround && to.Kind != ecs.OwnerContainer) {
		return nil, nil
	}
	ms, err := w.members(tx, list{owner: parent, point: to.Point})
	if err != nil {
		return nil, err
	}
	ep := e.Props(tx)
	for _, m := range ms {
		if m == e || m.Def() != def {
			continue
		}
		mp := m.Props(tx)
		if mp.Color != ep.Color || mp.Name != ep.Name || mp.Amount+ep.Amount > def.MaxAmount {
			continue
		}
		return m, nil
	}
	return nil, nil
}

// settle fires the post-move triggers. Each handler is followed by a check
// that e is still where it was put. If a handler moved it, placement into
// to is retried once; a second displacement is an invariant violation.
func (w *World) settle(ctx context.Context, tx *txn.Tx, e, parent *ecs.Entity, from, to ecs.Owner) error {
	guard := func() error {
		if e.Deleted(tx) || e.Owner(tx) != to {
			return errDisplaced
		}
		return nil
	}
	for attempt := 0; ; attempt++ {
		err := w.firePlaced(ctx, tx, e, parent, from, to, guard)
		if !errors.Is(err, errDisplaced) {
			return err
		}
		if e.Deleted(tx) {
			return nil
		}
		uid := e.UID(tx)
		if attempt > 0 {
			return txn.Invariant("%s displaced twice while being placed at %s", uid, to)
		}
		w.log.Debug("entity displaced by trigger, retrying placement",
			zap.Uint64("tx", tx.Seq()), zap.Int64("uid", int64(uid)), zap.Stringer("to", to))

		if parent, err = w.resolve(tx, e, to, false); err != nil {
			return err
		}
		if from, err = w.detach(tx, e); err != nil {
			return err
		}
		if err := w.attach(tx, e, to); err != nil {
			return err
		}
		event.Emit(tx, w.bus, event.Moved{UID: uid, From: from, To: to})
	}
}

func (w *World) firePlaced(ctx context.Context, tx *txn.Tx, e, parent *ecs.Entity, from, to ecs.Owner, guard func() error) error {
	if from.HasParent() {
		if old, ok := w.reg.Lookup(tx, from.Parent); ok {
			key := trigger.Leave
			args := &trigger.Args{Self: old, Other: e}
			if from.Kind == ecs.OwnerEquipped {
				key = trigger.Unequip
				args = &trigger.Args{Self: e, Other: old, Layer: from.Layer}
			}
			if _, err := w.triggers.FireGuarded(ctx, tx, key, args, guard); err != nil {
				return err
			}
		}
	}
	_, err := w.triggers.FireGuarded(ctx, tx, trigger.Placed,
		&trigger.Args{Self: e, Other: parent, Amount: e.Amount(tx), Point: to.Point, Layer: to.Layer}, guard)
	return err
}

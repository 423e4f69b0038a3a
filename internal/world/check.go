package world

import (
	"github.com/l1jgo/worldcore/internal/core/ecs"
	"github.com/l1jgo/worldcore/internal/core/txn"
	"github.com/l1jgo/worldcore/internal/data"
)

// Check verifies the structural invariants of the whole graph and returns
// every violation found. Intended for tests, offline tools and post-load
// validation; it reads everything, so run it quiesced on a live server.
func (w *World) Check(tx *txn.Tx) []error {
	c := &checker{w: w, tx: tx, listed: make(map[ecs.UID]int)}
	uids := w.reg.Live(tx)
	for _, uid := range uids {
		e, _ := w.reg.Lookup(tx, uid)
		c.entity(uid, e)
	}
	for _, p := range w.ground.Keys(tx) {
		c.list(list{point: p})
	}
	for _, uid := range uids {
		e, _ := w.reg.Lookup(tx, uid)
		if e.Owner(tx).Kind == ecs.OwnerLimbo {
			continue
		}
		if n := c.listed[uid]; n != 1 {
			c.fail("%s appears in %d contents lists", uid, n)
		}
	}
	return c.errs
}

type checker struct {
	w      *World
	tx     *txn.Tx
	listed map[ecs.UID]int
	errs   []error
}

func (c *checker) fail(format string, args ...any) {
	c.errs = append(c.errs, txn.Invariant(format, args...))
}

func (c *checker) entity(uid ecs.UID, e *ecs.Entity) {
	tx := c.tx
	if got := e.UID(tx); got != uid {
		c.fail("slot %s holds entity with uid %s", uid, got)
	}
	if e.Deleted(tx) {
		c.fail("deleted entity %s is still registered", uid)
	}

	o := e.Owner(tx)
	switch {
	case o.Kind == ecs.OwnerLimbo:
		c.fail("%s is in limbo", uid)
	case o.Kind == ecs.OwnerGround:
		if !o.Point.Valid() {
			c.fail("%s lies at invalid point %s", uid, o.Point)
		}
	case o.HasParent():
		p, ok := c.w.reg.Lookup(tx, o.Parent)
		if !ok {
			c.fail("%s is %s, which does not exist", uid, o)
			break
		}
		switch o.Kind {
		case ecs.OwnerContainer:
			if !p.Def().IsContainer() {
				c.fail("%s is inside non-container %s", uid, o.Parent)
			}
		case ecs.OwnerEquipped, ecs.OwnerDragging:
			if !p.Def().IsCharacter() {
				c.fail("%s is %s, not a character", uid, o)
			}
		}
	}

	cur := e
	for depth := 0; cur.Owner(tx).HasParent(); depth++ {
		if depth >= c.w.cfg.MaxNestingDepth {
			c.fail("owner chain of %s is cyclic or deeper than %d", uid, c.w.cfg.MaxNestingDepth)
			break
		}
		next, ok := c.w.reg.Lookup(tx, cur.Owner(tx).Parent)
		if !ok {
			break
		}
		cur = next
	}

	if h := e.Contents(tx); h.Count != 0 || h.First != ecs.NoUID || h.Last != ecs.NoUID {
		c.list(list{owner: e})
	}
}

func (c *checker) list(l list) {
	tx := c.tx
	ms, err := c.w.members(tx, l)
	if err != nil {
		c.errs = append(c.errs, err)
		return
	}
	layers := make(map[data.Layer]ecs.UID)
	dragging := 0
	for _, m := range ms {
		uid := m.UID(tx)
		c.listed[uid]++
		o := m.Owner(tx)
		if l.owner == nil {
			if o.Kind != ecs.OwnerGround || o.Point != l.point {
				c.fail("%s is listed at %s but is %s", uid, l.point, o)
			}
			continue
		}
		if !o.HasParent() || o.Parent != l.owner.UID(tx) {
			c.fail("%s is listed in %s but is %s", uid, l.owner.UID(tx), o)
			continue
		}
		switch o.Kind {
		case ecs.OwnerEquipped:
			if prev, dup := layers[o.Layer]; dup {
				c.fail("%s and %s share layer %s", prev, uid, o.Layer)
			}
			layers[o.Layer] = uid
		case ecs.OwnerDragging:
			dragging++
		}
	}
	if dragging > 1 {
		c.fail("%s drags %d items", l.owner.UID(tx), dragging)
	}
}

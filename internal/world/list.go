package world

import (
	"cmp"
	"slices"

	"github.com/l1jgo/worldcore/internal/core/ecs"
	"github.com/l1jgo/worldcore/internal/core/txn"
	"github.com/l1jgo/worldcore/internal/data"
)

// list names one contents list: an entity's, or a ground tile's when owner is nil.
type list struct {
	owner *ecs.Entity
	point ecs.Point
}

func (w *World) head(tx *txn.Tx, l list) ecs.Contents {
	if l.owner != nil {
		return l.owner.Contents(tx)
	}
	c, _ := w.ground.Get(tx, l.point)
	return c
}

func (w *World) setHead(tx *txn.Tx, l list, c ecs.Contents) {
	if l.owner != nil {
		l.owner.SetContents(tx, c)
		return
	}
	if c.Count == 0 {
		w.ground.Delete(tx, l.point)
		return
	}
	w.ground.Put(tx, l.point, c)
}

func (w *World) mustLookup(tx *txn.Tx, uid ecs.UID) (*ecs.Entity, error) {
	e, ok := w.reg.Lookup(tx, uid)
	if !ok {
		return nil, txn.Invariant("dangling reference to %s", uid)
	}
	return e, nil
}

// listOf returns the list an owner value points into.
func (w *World) listOf(tx *txn.Tx, o ecs.Owner) (list, error) {
	switch {
	case o.Kind == ecs.OwnerGround:
		return list{point: o.Point}, nil
	case o.HasParent():
		p, err := w.mustLookup(tx, o.Parent)
		return list{owner: p}, err
	}
	return list{}, txn.Invariant("owner %s has no contents list", o)
}

func (w *World) linkTail(tx *txn.Tx, l list, e *ecs.Entity) error {
	uid := e.UID(tx)
	h := w.head(tx, l)
	if h.Last != ecs.NoUID {
		last, err := w.mustLookup(tx, h.Last)
		if err != nil {
			return err
		}
		ll := last.Link(tx)
		ll.Next = uid
		last.SetLink(tx, ll)
	} else {
		h.First = uid
	}
	e.SetLink(tx, ecs.Link{Prev: h.Last})
	h.Last = uid
	h.Count++
	w.setHead(tx, l, h)
	return nil
}

func (w *World) unlink(tx *txn.Tx, l list, e *ecs.Entity) error {
	uid := e.UID(tx)
	link := e.Link(tx)
	h := w.head(tx, l)
	if h.Count <= 0 {
		return txn.Invariant("unlinking %s from an empty list", uid)
	}

	if link.Prev == ecs.NoUID {
		if h.First != uid {
			return txn.Invariant("%s claims list head but head is %s", uid, h.First)
		}
		h.First = link.Next
	} else {
		prev, err := w.mustLookup(tx, link.Prev)
		if err != nil {
			return err
		}
		pl := prev.Link(tx)
		if pl.Next != uid {
			return txn.Invariant("%s.next is %s, expected %s", link.Prev, pl.Next, uid)
		}
		pl.Next = link.Next
		prev.SetLink(tx, pl)
	}

	if link.Next == ecs.NoUID {
		if h.Last != uid {
			return txn.Invariant("%s claims list tail but tail is %s", uid, h.Last)
		}
		h.Last = link.Prev
	} else {
		next, err := w.mustLookup(tx, link.Next)
		if err != nil {
			return err
		}
		nl := next.Link(tx)
		if nl.Prev != uid {
			return txn.Invariant("%s.prev is %s, expected %s", link.Next, nl.Prev, uid)
		}
		nl.Prev = link.Prev
		next.SetLink(tx, nl)
	}

	h.Count--
	e.SetLink(tx, ecs.Link{})
	w.setHead(tx, l, h)
	return nil
}

// members walks a list front to back, verifying back-pointers and count.
func (w *World) members(tx *txn.Tx, l list) ([]*ecs.Entity, error) {
	h := w.head(tx, l)
	out := make([]*ecs.Entity, 0, h.Count)
	prev := ecs.NoUID
	for cur := h.First; cur != ecs.NoUID; {
		if len(out) >= h.Count {
			return nil, txn.Invariant("list longer than its count %d", h.Count)
		}
		e, err := w.mustLookup(tx, cur)
		if err != nil {
			return nil, err
		}
		lk := e.Link(tx)
		if lk.Prev != prev {
			return nil, txn.Invariant("%s.prev is %s, expected %s", cur, lk.Prev, prev)
		}
		out = append(out, e)
		prev = cur
		cur = lk.Next
	}
	if len(out) != h.Count || h.Last != prev {
		return nil, txn.Invariant("list count %d, walked %d", h.Count, len(out))
	}
	return out, nil
}

// detach unlinks e from wherever it is and leaves it in limbo.
func (w *World) detach(tx *txn.Tx, e *ecs.Entity) (ecs.Owner, error) {
	o := e.Owner(tx)
	if o.Kind == ecs.OwnerLimbo {
		return o, nil
	}
	l, err := w.listOf(tx, o)
	if err != nil {
		return o, err
	}
	if err := w.unlink(tx, l, e); err != nil {
		return o, err
	}
	e.SetOwner(tx, ecs.Limbo())
	return o, nil
}

// attach links e at the tail of the list of o and records o as its owner.
func (w *World) attach(tx *txn.Tx, e *ecs.Entity, o ecs.Owner) error {
	if cur := e.Owner(tx); cur.Kind != ecs.OwnerLimbo {
		return txn.Invariant("%s attached while still %s", e.UID(tx), cur)
	}
	l, err := w.listOf(tx, o)
	if err != nil {
		return err
	}
	if err := w.linkTail(tx, l, e); err != nil {
		return err
	}
	e.SetOwner(tx, o)
	return nil
}

// ContentsOf returns what e holds, in list order. For characters this
// includes equipped and dragged items.
func (w *World) ContentsOf(tx *txn.Tx, e *ecs.Entity) ([]*ecs.Entity, error) {
	return w.members(tx, list{owner: e})
}

// GroundAt returns the entities lying at p, in list order.
func (w *World) GroundAt(tx *txn.Tx, p ecs.Point) ([]*ecs.Entity, error) {
	return w.members(tx, list{point: p})
}

// GroundPoints returns every occupied tile, ordered by map then coordinates.
func (w *World) GroundPoints(tx *txn.Tx) []ecs.Point {
	pts := w.ground.Keys(tx)
	slices.SortFunc(pts, func(a, b ecs.Point) int {
		return cmp.Or(cmp.Compare(a.M, b.M), cmp.Compare(a.X, b.X), cmp.Compare(a.Y, b.Y), cmp.Compare(a.Z, b.Z))
	})
	return pts
}

// Equipped returns the item on layer of ch, or nil.
func (w *World) Equipped(tx *txn.Tx, ch *ecs.Entity, layer data.Layer) (*ecs.Entity, error) {
	ms, err := w.ContentsOf(tx, ch)
	if err != nil {
		return nil, err
	}
	for _, m := range ms {
		if o := m.Owner(tx); o.Kind == ecs.OwnerEquipped && o.Layer == layer {
			return m, nil
		}
	}
	return nil, nil
}

// Dragged returns the item ch is dragging, or nil.
func (w *World) Dragged(tx *txn.Tx, ch *ecs.Entity) (*ecs.Entity, error) {
	ms, err := w.ContentsOf(tx, ch)
	if err != nil {
		return nil, err
	}
	for _, m := range ms {
		if m.Owner(tx).Kind == ecs.OwnerDragging {
			return m, nil
		}
	}
	return nil, nil
}

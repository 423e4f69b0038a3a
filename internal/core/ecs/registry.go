package ecs

import (
	"slices"

	"github.com/samber/oops"

	"github.com/l1jgo/worldcore/internal/core/txn"
)

// ErrDuplicateIdentity is returned when a restored uid is already taken.
var ErrDuplicateIdentity = txn.NewFatal("duplicate identity")

// Registry maps uids to live entities. Ids are handed out from a high-water
// mark and never reused until ReindexAll compacts them.
type Registry struct {
	slots *txn.Map[UID, *Entity]
	next  *txn.Var[UID]
	live  *txn.Var[int]

	fakeBase  UID
	fakeNext  *txn.Var[UID]
	fakeFree  *txn.Var[[]UID]
	fakeInUse *txn.Map[UID, bool]
}

func NewRegistry(fakeBase UID) *Registry {
	if fakeBase <= 0 {
		fakeBase = DefaultFakeBase
	}
	return &Registry{
		slots:     txn.NewMap[UID, *Entity](),
		next:      txn.NewVar(UID(1)),
		live:      txn.NewVar(0),
		fakeBase:  fakeBase,
		fakeNext:  txn.NewVar(fakeBase),
		fakeFree:  txn.NewVar[[]UID](nil),
		fakeInUse: txn.NewMap[UID, bool](),
	}
}

// Register assigns the next free uid to e. Fires no triggers.
func (r *Registry) Register(tx *txn.Tx, e *Entity) (UID, error) {
	if cur := e.UID(tx); cur != NoUID {
		return NoUID, txn.Invariant("entity %s registered twice", cur)
	}
	uid := r.next.Get(tx)
	if uid >= r.fakeBase {
		return NoUID, txn.Invariant("uid space exhausted at %s", uid)
	}
	r.next.Set(tx, uid+1)
	r.install(tx, e, uid)
	return uid, nil
}

// RegisterAs restores e under a uid read from a save file.
func (r *Registry) RegisterAs(tx *txn.Tx, e *Entity, uid UID) error {
	if uid <= NoUID || uid >= r.fakeBase {
		return oops.In("registry").With("uid", int64(uid)).Errorf("uid %s outside the persisted range", uid)
	}
	if cur := e.UID(tx); cur != NoUID {
		return txn.Invariant("entity %s registered twice", cur)
	}
	if _, taken := r.slots.Get(tx, uid); taken {
		return oops.In("registry").With("uid", int64(uid)).Wrapf(ErrDuplicateIdentity, "uid %s", uid)
	}
	if uid >= r.next.Get(tx) {
		r.next.Set(tx, uid+1)
	}
	r.install(tx, e, uid)
	return nil
}

func (r *Registry) install(tx *txn.Tx, e *Entity, uid UID) {
	e.uid.Set(tx, uid)
	r.slots.Put(tx, uid, e)
	r.live.Set(tx, r.live.Get(tx)+1)
}

func (r *Registry) Lookup(tx *txn.Tx, uid UID) (*Entity, bool) {
	if uid == NoUID {
		return nil, false
	}
	return r.slots.Get(tx, uid)
}

// Remove frees the slot. The uid stays burned until the next reindex.
func (r *Registry) Remove(tx *txn.Tx, uid UID) bool {
	if _, ok := r.slots.Get(tx, uid); !ok {
		return false
	}
	r.slots.Delete(tx, uid)
	r.live.Set(tx, r.live.Get(tx)-1)
	return true
}

// Count returns the number of live entities.
func (r *Registry) Count(tx *txn.Tx) int { return r.live.Get(tx) }

// HighWater returns the next uid Register would assign.
func (r *Registry) HighWater(tx *txn.Tx) UID { return r.next.Get(tx) }

// Live returns every live uid in ascending order.
func (r *Registry) Live(tx *txn.Tx) []UID {
	uids := r.slots.Keys(tx)
	slices.Sort(uids)
	return uids
}

// Purge drops empty slot cells. Exclusive transactions only.
func (r *Registry) Purge(tx *txn.Tx) int {
	return r.slots.Purge(tx) + r.fakeInUse.Purge(tx)
}

// AllocateFakeID hands out a protocol-only id that is never persisted.
func (r *Registry) AllocateFakeID(tx *txn.Tx) UID {
	var uid UID
	if free := r.fakeFree.Get(tx); len(free) > 0 {
		uid = free[len(free)-1]
		r.fakeFree.Set(tx, slices.Clone(free[:len(free)-1]))
	} else {
		uid = r.fakeNext.Get(tx)
		r.fakeNext.Set(tx, uid+1)
	}
	r.fakeInUse.Put(tx, uid, true)
	return uid
}

func (r *Registry) ReleaseFakeID(tx *txn.Tx, uid UID) error {
	if _, ok := r.fakeInUse.Get(tx, uid); !ok {
		return oops.In("registry").With("uid", int64(uid)).Errorf("fake id %s not allocated", uid)
	}
	r.fakeInUse.Delete(tx, uid)
	free := r.fakeFree.Get(tx)
	r.fakeFree.Set(tx, append(slices.Clone(free), uid))
	return nil
}

// IsFake reports whether uid lies in the protocol-only range.
func (r *Registry) IsFake(uid UID) bool { return uid >= r.fakeBase }

// ReindexAll renumbers live entities to 1..n keeping their relative order
// and rewrites every uid-valued field. Must run quiesced. The returned map
// translates old uids to new ones.
func (r *Registry) ReindexAll(tx *txn.Tx) (map[UID]UID, error) {
	if !tx.Exclusive() {
		return nil, txn.Invariant("reindex outside an exclusive transaction")
	}
	uids := r.Live(tx)
	remap := make(map[UID]UID, len(uids))
	ents := make([]*Entity, len(uids))
	for i, old := range uids {
		remap[old] = UID(i + 1)
		ents[i], _ = r.slots.Get(tx, old)
	}
	translate := func(u UID) (UID, error) {
		if u == NoUID {
			return NoUID, nil
		}
		n, ok := remap[u]
		if !ok {
			return NoUID, txn.Invariant("dangling reference to %s", u)
		}
		return n, nil
	}

	for _, e := range ents {
		if err := rewriteRefs(tx, e, translate); err != nil {
			return nil, err
		}
	}
	for _, old := range uids {
		r.slots.Delete(tx, old)
	}
	for i, e := range ents {
		uid := UID(i + 1)
		e.uid.Set(tx, uid)
		r.slots.Put(tx, uid, e)
	}
	r.next.Set(tx, UID(len(ents)+1))
	return remap, nil
}

func rewriteRefs(tx *txn.Tx, e *Entity, translate func(UID) (UID, error)) error {
	var err error
	tr := func(u UID) UID {
		if err != nil {
			return NoUID
		}
		var n UID
		n, err = translate(u)
		return n
	}

	o := e.Owner(tx)
	if o.HasParent() {
		o.Parent = tr(o.Parent)
		e.SetOwner(tx, o)
	}
	l := e.Link(tx)
	e.SetLink(tx, Link{Prev: tr(l.Prev), Next: tr(l.Next)})
	c := e.Contents(tx)
	e.SetContents(tx, Contents{First: tr(c.First), Last: tr(c.Last), Count: c.Count})

	p := e.Props(tx)
	changed := false
	for k, v := range p.Fields {
		if v.Kind != ValueRef {
			continue
		}
		if !changed {
			p = p.Clone()
			changed = true
		}
		// Tag refs may outlive their target; those are dropped.
		if n, terr := translate(v.Ref); terr == nil && n != NoUID {
			p.Fields[k] = RefValue(n)
		} else {
			delete(p.Fields, k)
		}
	}
	if changed {
		e.SetProps(tx, p)
	}
	return err
}

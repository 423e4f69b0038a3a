package ecs

import (
	"github.com/l1jgo/worldcore/internal/core/txn"
	"github.com/l1jgo/worldcore/internal/data"
)

// Entity is a world object. Pointer identity is stable for its whole life;
// the UID may change during a reindex. Every mutable field is a txn.Var.
type Entity struct {
	def *data.Definition

	uid      *txn.Var[UID]
	deleted  *txn.Var[bool]
	owner    *txn.Var[Owner]
	link     *txn.Var[Link]
	contents *txn.Var[Contents]
	props    *txn.Var[Props]
}

// NewEntity builds an unregistered entity in limbo.
func NewEntity(def *data.Definition) *Entity {
	return &Entity{
		def:      def,
		uid:      txn.NewVar(NoUID),
		deleted:  txn.NewVar(false),
		owner:    txn.NewVar(Limbo()),
		link:     txn.NewVar(Link{}),
		contents: txn.NewVar(Contents{}),
		props:    txn.NewVar(Props{Amount: 1, Color: def.Color}),
	}
}

func (e *Entity) Def() *data.Definition { return e.def }

func (e *Entity) UID(tx *txn.Tx) UID { return e.uid.Get(tx) }

// LoadUID returns the committed uid without a transaction, for log fields.
func (e *Entity) LoadUID() UID { return e.uid.Load() }

func (e *Entity) Deleted(tx *txn.Tx) bool { return e.deleted.Get(tx) }
func (e *Entity) MarkDeleted(tx *txn.Tx) { e.deleted.Set(tx, true) }
func (e *Entity) Owner(tx *txn.Tx) Owner { return e.owner.Get(tx) }
func (e *Entity) SetOwner(tx *txn.Tx, o Owner) { e.owner.Set(tx, o) }
func (e *Entity) Link(tx *txn.Tx) Link { return e.link.Get(tx) }
func (e *Entity) SetLink(tx *txn.Tx, l Link) { e.link.Set(tx, l) }

func (e *Entity) Contents(tx *txn.Tx) Contents { return e.contents.Get(tx) }
func (e *Entity) SetContents(tx *txn.Tx, c Contents) { e.contents.Set(tx, c) }

func (e *Entity) Props(tx *txn.Tx) Props { return e.props.Get(tx) }
func (e *Entity) SetProps(tx *txn.Tx, p Props) { e.props.Set(tx, p) }

// Amount is a shorthand for Props(tx).Amount.
func (e *Entity) Amount(tx *txn.Tx) int { return e.props.Get(tx).Amount }

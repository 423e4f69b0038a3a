package ecs

import (
	"fmt"

	"github.com/l1jgo/worldcore/internal/data"
)

// OwnerKind says which list, if any, an entity is linked into.
type OwnerKind uint8

const (
	OwnerLimbo OwnerKind = iota
	OwnerGround
	OwnerContainer
	OwnerEquipped
	OwnerDragging
)

func (k OwnerKind) String() string {
	switch k {
	case OwnerLimbo:
		return "limbo"
	case OwnerGround:
		return "ground"
	case OwnerContainer:
		return "container"
	case OwnerEquipped:
		return "equipped"
	case OwnerDragging:
		return "dragging"
	}
	return fmt.Sprintf("owner(%d)", uint8(k))
}

// Owner is where an entity lives. Only the fields relevant to Kind are set,
// so two owners compare equal exactly when they name the same place.
type Owner struct {
	Kind   OwnerKind
	Point  Point
	Parent UID
	Layer  data.Layer
}

func Limbo() Owner { return Owner{} }
func OnGround(p Point) Owner { return Owner{Kind: OwnerGround, Point: p} }
func InContainer(c UID) Owner { return Owner{Kind: OwnerContainer, Parent: c} }
func DraggedBy(ch UID) Owner { return Owner{Kind: OwnerDragging, Parent: ch} }
func EquippedOn(ch UID, l data.Layer) Owner {
	return Owner{Kind: OwnerEquipped, Parent: ch, Layer: l}
}

// HasParent reports whether the owner is another entity.
func (o Owner) HasParent() bool {
	return o.Kind == OwnerContainer || o.Kind == OwnerEquipped || o.Kind == OwnerDragging
}

func (o Owner) String() string {
	switch o.Kind {
	case OwnerGround:
		return "ground " + o.Point.String()
	case OwnerContainer:
		return "in " + o.Parent.String()
	case OwnerEquipped:
		return fmt.Sprintf("on %s at %s", o.Parent, o.Layer)
	case OwnerDragging:
		return "dragged by " + o.Parent.String()
	}
	return "limbo"
}

// Link is an entity's position in its owner's contents list.
type Link struct {
	Prev, Next UID
}

// Contents is the head of a doubly linked list of entities.
type Contents struct {
	First, Last UID
	Count       int
}

package ecs

import (
	"maps"
	"strconv"
)

type ValueKind uint8

const (
	ValueInt ValueKind = iota
	ValueString
	ValueRef   // another entity, "#uid"
	ValueNamed // a named singleton, "$name"
)

// Value is a custom tag value stored on an entity.
type Value struct {
	Kind ValueKind
	Int  int64
	Str  string
	Ref  UID
}

func IntValue(n int64) Value { return Value{Kind: ValueInt, Int: n} }
func StringValue(s string) Value { return Value{Kind: ValueString, Str: s} }
func RefValue(u UID) Value { return Value{Kind: ValueRef, Ref: u} }
func NamedValue(n string) Value { return Value{Kind: ValueNamed, Str: n} }

func (v Value) String() string {
	switch v.Kind {
	case ValueString:
		return strconv.Quote(v.Str)
	case ValueRef:
		return v.Ref.String()
	case ValueNamed:
		return "$" + v.Str
	}
	return strconv.FormatInt(v.Int, 10)
}

// Props holds an entity's mutable attributes. Treat as a value: mutate a
// copy from Clone and store it back with SetProps.
type Props struct {
	Amount  int
	Color   int
	Name    string
	Account string // owning account name for player characters
	Fields  map[string]Value
}

func (p Props) Clone() Props {
	p.Fields = maps.Clone(p.Fields)
	return p
}

// WithField returns a copy of p with key set to v.
func (p Props) WithField(key string, v Value) Props {
	p = p.Clone()
	if p.Fields == nil {
		p.Fields = make(map[string]Value)
	}
	p.Fields[key] = v
	return p
}

// IsPlayer reports whether the entity belongs to an account.
func (p Props) IsPlayer() bool { return p.Account != "" }

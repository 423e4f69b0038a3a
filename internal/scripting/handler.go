package scripting

import (
	"context"
	"fmt"

	lua "github.com/yuin/gopher-lua"

	"github.com/l1jgo/worldcore/internal/core/ecs"
	"github.com/l1jgo/worldcore/internal/core/txn"
	"github.com/l1jgo/worldcore/internal/data"
	"github.com/l1jgo/worldcore/internal/trigger"
)

// handler runs triggers.<name>.on_<key>(ev). A true return cancels.
type handler struct {
	e    *Engine
	name string
}

func (h *handler) Name() string { return "lua:" + h.name }

func (h *handler) Run(_ context.Context, tx *txn.Tx, key trigger.Key, args *trigger.Args) (trigger.Result, error) {
	e := h.e
	e.mu.Lock()
	defer e.mu.Unlock()

	tbl, ok := e.lookup(h.name).(*lua.LTable)
	if !ok {
		return trigger.Continue, nil
	}
	fn, ok := tbl.RawGetString("on_" + string(key)).(*lua.LFunction)
	if !ok {
		return trigger.Continue, nil
	}

	c := &call{tx: tx, args: args}
	ev := c.event(e.vm, key)
	err := e.vm.CallByParam(lua.P{
		Fn:      fn,
		NRet:    1,
		Protect: true,
	}, ev)
	if c.aborted != nil {
		// the transaction signal must reach the manager, not the script
		panic(c.aborted)
	}
	if err != nil {
		return trigger.Continue, fmt.Errorf("lua %s.on_%s: %w", h.name, key, err)
	}
	ret := e.vm.Get(-1)
	e.vm.Pop(1)
	if lua.LVAsBool(ret) {
		return trigger.Cancel, nil
	}
	return trigger.Continue, nil
}

// call is the Go side of one handler invocation.
type call struct {
	tx      *txn.Tx
	args    *trigger.Args
	aborted any
}

// guard stops the script when fn panics and remembers the panic value so Run
// can re-raise it once the VM has unwound.
func (c *call) guard(fn lua.LGFunction) lua.LGFunction {
	return func(L *lua.LState) int {
		var n int
		func() {
			defer func() {
				if r := recover(); r != nil {
					c.aborted = r
				}
			}()
			n = fn(L)
		}()
		if c.aborted != nil {
			L.RaiseError("transaction aborted")
		}
		return n
	}
}

func (c *call) event(L *lua.LState, key trigger.Key) *lua.LTable {
	tx, a := c.tx, c.args
	ev := L.NewTable()
	ev.RawSetString("key", lua.LString(key))
	if a.Self != nil {
		ev.RawSetString("self", lua.LNumber(a.Self.UID(tx)))
		ev.RawSetString("def", lua.LString(a.Self.Def().Name))
	}
	if a.Other != nil {
		ev.RawSetString("other", lua.LNumber(a.Other.UID(tx)))
		ev.RawSetString("other_def", lua.LString(a.Other.Def().Name))
	}
	ev.RawSetString("amount", lua.LNumber(a.Amount))
	if a.Layer != data.LayerNone {
		ev.RawSetString("layer", lua.LString(a.Layer.String()))
	}
	p := L.NewTable()
	p.RawSetString("x", lua.LNumber(a.Point.X))
	p.RawSetString("y", lua.LNumber(a.Point.Y))
	p.RawSetString("z", lua.LNumber(a.Point.Z))
	p.RawSetString("m", lua.LNumber(a.Point.M))
	ev.RawSetString("point", p)
	ev.RawSetString("tag", L.NewFunction(c.guard(c.tag)))
	ev.RawSetString("set_tag", L.NewFunction(c.guard(c.setTag)))
	return ev
}

// tag(name) reads a custom tag of ev.self.
func (c *call) tag(L *lua.LState) int {
	name := L.CheckString(1)
	if c.args.Self == nil {
		L.Push(lua.LNil)
		return 1
	}
	v, ok := c.args.Self.Props(c.tx).Fields[name]
	switch {
	case !ok:
		L.Push(lua.LNil)
	case v.Kind == ecs.ValueInt:
		L.Push(lua.LNumber(v.Int))
	case v.Kind == ecs.ValueString:
		L.Push(lua.LString(v.Str))
	default:
		L.Push(lua.LString(v.String()))
	}
	return 1
}

// set_tag(name, value) writes a number or string tag on ev.self; nil
// removes it.
func (c *call) setTag(L *lua.LState) int {
	name := L.CheckString(1)
	self := c.args.Self
	if self == nil {
		return 0
	}
	p := self.Props(c.tx)
	switch v := L.Get(2).(type) {
	case lua.LNumber:
		p = p.WithField(name, ecs.IntValue(int64(v)))
	case lua.LString:
		p = p.WithField(name, ecs.StringValue(string(v)))
	case *lua.LNilType:
		p = p.Clone()
		delete(p.Fields, name)
	default:
		L.ArgError(2, "number, string or nil expected")
		return 0
	}
	self.SetProps(c.tx, p)
	return 0
}

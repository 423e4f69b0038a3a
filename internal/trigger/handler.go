package trigger

import (
	"context"

	"github.com/l1jgo/worldcore/internal/core/ecs"
	"github.com/l1jgo/worldcore/internal/core/txn"
	"github.com/l1jgo/worldcore/internal/data"
)

// Key names a trigger point.
type Key string

const (
	Create   Key = "create"
	Destroy  Key = "destroy"
	PickUp   Key = "pickup"
	Drop     Key = "drop"
	Equip    Key = "equip"
	Unequip  Key = "unequip"
	Enter    Key = "enter" // fired on a container before an item enters it
	Leave    Key = "leave" // fired on a container after an item left it
	Placed   Key = "placed"
	Stacked  Key = "stacked"
	Loaded   Key = "loaded"
	Timer    Key = "timer"
	Activate Key = "activate"
)

type Result int

const (
	Continue Result = iota
	Cancel
)

// Args is passed to every handler of one dispatch.
type Args struct {
	Self   *ecs.Entity
	Other  *ecs.Entity
	Amount int
	Point  ecs.Point
	Layer  data.Layer
}

// Handler reacts to triggers. Handlers run inside the firing transaction and
// may be rerun when it retries, so they must not cause external effects
// except through tx.AfterCommit.
type Handler interface {
	Name() string
	Run(ctx context.Context, tx *txn.Tx, key Key, args *Args) (Result, error)
}

// Plugin is a handler reachable by key, at most one per key per entity.
type Plugin interface {
	Handler
	PluginKey() string
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, tx *txn.Tx, key Key, args *Args) (Result, error)

type funcHandler struct {
	name string
	fn   HandlerFunc
}

// Func wraps fn as a named handler. Each call returns a distinct handler.
func Func(name string, fn HandlerFunc) Handler {
	return &funcHandler{name: name, fn: fn}
}

func (h *funcHandler) Name() string { return h.name }

func (h *funcHandler) Run(ctx context.Context, tx *txn.Tx, key Key, args *Args) (Result, error) {
	return h.fn(ctx, tx, key, args)
}

type funcPlugin struct {
	funcHandler
	key string
}

// PluginFunc wraps fn as a plugin stored under key.
func PluginFunc(key string, fn HandlerFunc) Plugin {
	return &funcPlugin{funcHandler: funcHandler{name: "plugin:" + key, fn: fn}, key: key}
}

func (p *funcPlugin) PluginKey() string { return p.key }

// DefinitionHandlers resolves the handler bound to a definition, if any.
type DefinitionHandlers interface {
	DefinitionHandler(def *data.Definition) (Handler, bool)
}

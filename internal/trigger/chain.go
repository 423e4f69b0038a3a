package trigger

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/l1jgo/worldcore/internal/core/ecs"
	"github.com/l1jgo/worldcore/internal/core/txn"
	"github.com/l1jgo/worldcore/internal/data"
)

// ErrNoPlugin is returned by CallPlugin when the entity has no plugin under the key.
var ErrNoPlugin = errors.New("no plugin attached under key")

// Chain holds every handler attachment and dispatches triggers.
// Attachments are keyed by entity pointer, so uid changes never detach them.
// Handlers must be comparable (pointer types) so Attach can dedupe.
type Chain struct {
	instances  *txn.Map[*ecs.Entity, Group]
	categories *txn.Map[data.Category, Group]
	defs       DefinitionHandlers
	log        *zap.Logger
}

func NewChain(log *zap.Logger, defs DefinitionHandlers) *Chain {
	if log == nil {
		log = zap.NewNop()
	}
	return &Chain{
		instances:  txn.NewMap[*ecs.Entity, Group](),
		categories: txn.NewMap[data.Category, Group](),
		defs:       defs,
		log:        log,
	}
}

// Attach adds h to e. Attaching a handler already present is a no-op.
func (c *Chain) Attach(tx *txn.Tx, e *ecs.Entity, h Handler) bool {
	g, _ := c.instances.Get(tx, e)
	if g.has(h) {
		return false
	}
	c.instances.Put(tx, e, g.prepend(h))
	return true
}

// Detach removes h from e. Detaching an absent handler is a no-op.
func (c *Chain) Detach(tx *txn.Tx, e *ecs.Entity, h Handler) bool {
	g, _ := c.instances.Get(tx, e)
	if !g.has(h) {
		return false
	}
	c.store(tx, e, g.without(h))
	return true
}

// DetachAll drops every handler and plugin of e.
func (c *Chain) DetachAll(tx *txn.Tx, e *ecs.Entity) {
	if _, ok := c.instances.Get(tx, e); ok {
		c.instances.Delete(tx, e)
	}
}

// AttachPlugin stores p under its key, replacing and returning any previous
// plugin with that key.
func (c *Chain) AttachPlugin(tx *txn.Tx, e *ecs.Entity, p Plugin) Plugin {
	g, _ := c.instances.Get(tx, e)
	prev := g.plugins[p.PluginKey()]
	if prev == p {
		return nil
	}
	if prev != nil {
		g = g.without(prev)
	}
	c.instances.Put(tx, e, g.withPlugin(p))
	return prev
}

// DetachPlugin removes and returns the plugin under key, or nil.
func (c *Chain) DetachPlugin(tx *txn.Tx, e *ecs.Entity, key string) Plugin {
	g, _ := c.instances.Get(tx, e)
	p := g.plugins[key]
	if p == nil {
		return nil
	}
	c.store(tx, e, g.without(p))
	return p
}

// Plugin looks up the plugin under key.
func (c *Chain) Plugin(tx *txn.Tx, e *ecs.Entity, key string) (Plugin, bool) {
	g, _ := c.instances.Get(tx, e)
	p, ok := g.plugins[key]
	return p, ok
}

// Handlers returns e's instance handlers in dispatch order.
func (c *Chain) Handlers(tx *txn.Tx, e *ecs.Entity) []Handler {
	g, _ := c.instances.Get(tx, e)
	return g.Handlers()
}

func (c *Chain) store(tx *txn.Tx, e *ecs.Entity, g Group) {
	if g.Len() == 0 {
		c.instances.Delete(tx, e)
		return
	}
	c.instances.Put(tx, e, g)
}

// AttachCategory adds h to every entity whose definition has category cat.
func (c *Chain) AttachCategory(tx *txn.Tx, cat data.Category, h Handler) bool {
	g, _ := c.categories.Get(tx, cat)
	if g.has(h) {
		return false
	}
	c.categories.Put(tx, cat, g.prepend(h))
	return true
}

func (c *Chain) DetachCategory(tx *txn.Tx, cat data.Category, h Handler) bool {
	g, _ := c.categories.Get(tx, cat)
	if !g.has(h) {
		return false
	}
	c.categories.Put(tx, cat, g.without(h))
	return true
}

// Purge drops empty attachment cells. Exclusive transactions only.
func (c *Chain) Purge(tx *txn.Tx) int {
	return c.instances.Purge(tx) + c.categories.Purge(tx)
}

// collect lists handlers in dispatch order: category, instance, definition.
func (c *Chain) collect(tx *txn.Tx, self *ecs.Entity) []Handler {
	if self == nil {
		return nil
	}
	def := self.Def()
	cg, _ := c.categories.Get(tx, def.Category)
	ig, _ := c.instances.Get(tx, self)
	out := make([]Handler, 0, cg.Len()+ig.Len()+1)
	out = append(out, cg.handlers...)
	out = append(out, ig.handlers...)
	if c.defs != nil {
		if h, ok := c.defs.DefinitionHandler(def); ok {
			out = append(out, h)
		}
	}
	return out
}

// Fire runs every handler. Non-fatal failures are logged and ignored.
func (c *Chain) Fire(ctx context.Context, tx *txn.Tx, key Key, args *Args) error {
	_, err := c.dispatch(ctx, tx, key, args, false, nil)
	return err
}

// FireCancellable stops at the first handler that returns Cancel.
func (c *Chain) FireCancellable(ctx context.Context, tx *txn.Tx, key Key, args *Args) (bool, error) {
	return c.dispatch(ctx, tx, key, args, true, nil)
}

// FireGuarded is FireCancellable with guard evaluated after each handler.
// A guard error stops dispatch and is returned as is.
func (c *Chain) FireGuarded(ctx context.Context, tx *txn.Tx, key Key, args *Args, guard func() error) (bool, error) {
	return c.dispatch(ctx, tx, key, args, true, guard)
}

// CallPlugin invokes the plugin stored under pluginKey on args.Self.
func (c *Chain) CallPlugin(ctx context.Context, tx *txn.Tx, pluginKey string, key Key, args *Args) (Result, error) {
	p, ok := c.Plugin(tx, args.Self, pluginKey)
	if !ok {
		return Continue, fmt.Errorf("%w: %s", ErrNoPlugin, pluginKey)
	}
	return c.invoke(ctx, tx, p, key, args)
}

func (c *Chain) dispatch(ctx context.Context, tx *txn.Tx, key Key, args *Args, cancellable bool, guard func() error) (bool, error) {
	for _, h := range c.collect(tx, args.Self) {
		res, err := c.invoke(ctx, tx, h, key, args)
		if err != nil {
			if txn.IsFatal(err) {
				return false, err
			}
			c.log.Warn("trigger handler failed",
				zap.Uint64("tx", tx.Seq()),
				zap.String("handler", h.Name()),
				zap.String("trigger", string(key)),
				zap.Int64("uid", int64(args.Self.UID(tx))),
				zap.Error(err))
			res = Continue
		}
		if guard != nil {
			if err := guard(); err != nil {
				return false, err
			}
		}
		if cancellable && res == Cancel {
			return true, nil
		}
	}
	return false, nil
}

// invoke runs one handler, turning a panic into an error. The transaction
// conflict signal is re-raised so the manager can retry.
func (c *Chain) invoke(ctx context.Context, tx *txn.Tx, h Handler, key Key, args *Args) (res Result, err error) {
	defer func() {
		if r := recover(); r != nil {
			if txn.IsConflict(r) {
				panic(r)
			}
			res, err = Continue, fmt.Errorf("handler %s panicked: %v", h.Name(), r)
		}
	}()
	return h.Run(ctx, tx, key, args)
}

package world

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/l1jgo/worldcore/internal/config"
	"github.com/l1jgo/worldcore/internal/core/ecs"
	"github.com/l1jgo/worldcore/internal/core/event"
	"github.com/l1jgo/worldcore/internal/core/txn"
	"github.com/l1jgo/worldcore/internal/data"
	"github.com/l1jgo/worldcore/internal/trigger"
)

// EvictionPolicy decides where an item displaced from an equipment layer goes.
type EvictionPolicy int

const (
	EvictToPack   EvictionPolicy = iota // the character's Pack, falling back to the ground
	EvictToGround                       // always the ground under the character
)

func ParseEvictionPolicy(s string) (EvictionPolicy, error) {
	switch strings.ToLower(s) {
	case "", "backpack", "pack":
		return EvictToPack, nil
	case "ground":
		return EvictToGround, nil
	}
	return 0, fmt.Errorf("unknown eviction policy %q", s)
}

type Config struct {
	MaxNestingDepth int
	StartPoint      ecs.Point
	Eviction        EvictionPolicy
	FakeUIDBase     ecs.UID
	PasswordCost    int
	AdminAccess     int // without an explicit Authorizer, block/unblock need this level; 0 allows all
}

// ConfigFrom converts the [world] config section.
func ConfigFrom(c config.WorldConfig) (Config, error) {
	start, err := ecs.ParsePoint(c.StartPoint)
	if err != nil {
		return Config{}, fmt.Errorf("world.start_point: %w", err)
	}
	ev, err := ParseEvictionPolicy(c.Eviction)
	if err != nil {
		return Config{}, fmt.Errorf("world.eviction: %w", err)
	}
	return Config{
		MaxNestingDepth: c.MaxNestingDepth,
		StartPoint:      start,
		Eviction:        ev,
		FakeUIDBase:     ecs.UID(c.FakeUIDBase),
		PasswordCost:    c.PasswordCost,
		AdminAccess:     c.AdminAccess,
	}, nil
}

type Options struct {
	Config      Config
	Definitions data.Provider
	Scripts     trigger.DefinitionHandlers
	Txn         *txn.Manager
	Bus         *event.Bus
	Auth        Authorizer
	Logger      *zap.Logger
}

// World is the process-wide object graph: registry, ground index, accounts
// and trigger attachments, all reachable only through transactions.
type World struct {
	txm      *txn.Manager
	reg      *ecs.Registry
	defs     data.Provider
	ground   *txn.Map[ecs.Point, ecs.Contents]
	accounts *txn.Map[string, *Account]
	triggers *trigger.Chain
	bus      *event.Bus
	auth     Authorizer
	cfg      Config
	log      *zap.Logger
}

func New(opts Options) *World {
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}
	cfg := opts.Config
	if cfg.MaxNestingDepth <= 0 {
		cfg.MaxNestingDepth = 32
	}
	if cfg.PasswordCost == 0 {
		cfg.PasswordCost = bcrypt.DefaultCost
	}
	txm := opts.Txn
	if txm == nil {
		txm = txn.NewManager(txn.Options{Logger: log})
	}
	bus := opts.Bus
	if bus == nil {
		bus = event.NewBus()
	}
	w := &World{
		txm:      txm,
		reg:      ecs.NewRegistry(cfg.FakeUIDBase),
		defs:     opts.Definitions,
		ground:   txn.NewMap[ecs.Point, ecs.Contents](),
		accounts: txn.NewMap[string, *Account](),
		triggers: trigger.NewChain(log, opts.Scripts),
		bus:      bus,
		auth:     opts.Auth,
		cfg:      cfg,
		log:      log,
	}
	switch {
	case w.auth != nil:
	case cfg.AdminAccess > 0:
		w.auth = AccessAuthorizer{World: w, Min: cfg.AdminAccess}
	default:
		w.auth = AllowAll{}
	}
	return w
}

func (w *World) Txn() *txn.Manager { return w.txm }
func (w *World) Registry() *ecs.Registry { return w.reg }
func (w *World) Triggers() *trigger.Chain { return w.triggers }
func (w *World) Bus() *event.Bus { return w.bus }
func (w *World) Definitions() data.Provider { return w.defs }
func (w *World) Config() Config { return w.cfg }
func (w *World) Logger() *zap.Logger { return w.log }

// SetAuthorizer replaces the authorizer. Call before the world is shared.
func (w *World) SetAuthorizer(a Authorizer) { w.auth = a }

// Atomically runs fn in a transaction against this world.
func (w *World) Atomically(ctx context.Context, fn txn.Body) error {
	return w.txm.Atomically(ctx, fn)
}

// Exclusive runs fn with the world quiesced.
func (w *World) Exclusive(ctx context.Context, fn txn.Body) error {
	return w.txm.Exclusive(ctx, fn)
}

// Lookup resolves a live entity by uid.
func (w *World) Lookup(tx *txn.Tx, uid ecs.UID) (*ecs.Entity, bool) {
	return w.reg.Lookup(tx, uid)
}

// Counts reports live entities and accounts.
func (w *World) Counts(ctx context.Context) (entities, accounts int, err error) {
	err = w.txm.Atomically(ctx, func(ctx context.Context, tx *txn.Tx) error {
		entities = w.reg.Count(tx)
		accounts = len(w.accounts.Keys(tx))
		return nil
	})
	return entities, accounts, err
}

// Purge sweeps empty transactional cells left behind by deletions.
// Exclusive transactions only.
func (w *World) Purge(tx *txn.Tx) int {
	return w.reg.Purge(tx) + w.ground.Purge(tx) + w.triggers.Purge(tx) + w.accounts.Purge(tx)
}

// Reindex compacts uids to 1..n with the world quiesced.
func (w *World) Reindex(ctx context.Context) (map[ecs.UID]ecs.UID, error) {
	var remap map[ecs.UID]ecs.UID
	err := w.txm.Exclusive(ctx, func(ctx context.Context, tx *txn.Tx) error {
		var err error
		remap, err = w.reg.ReindexAll(tx)
		if err != nil {
			return err
		}
		for _, p := range w.ground.Keys(tx) {
			c, _ := w.ground.Get(tx, p)
			first, ok1 := remap[c.First]
			last, ok2 := remap[c.Last]
			if !ok1 || !ok2 {
				return txn.Invariant("ground tile %s heads a dead entity", p)
			}
			w.ground.Put(tx, p, ecs.Contents{First: first, Last: last, Count: c.Count})
		}
		w.Purge(tx)
		event.Emit(tx, w.bus, event.Reindexed{Entities: len(remap)})
		return nil
	})
	if err != nil {
		return nil, err
	}
	w.log.Info("uids compacted", zap.Int("entities", len(remap)))
	return remap, nil
}

package world

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/l1jgo/worldcore/internal/core/ecs"
	"github.com/l1jgo/worldcore/internal/core/event"
	"github.com/l1jgo/worldcore/internal/core/txn"
	"github.com/l1jgo/worldcore/internal/data"
)

func testDefinitions(t *testing.T) *data.Table {
	t.Helper()
	tbl, err := data.NewTable(65535,
		data.Definition{Name: "i_gold", Stackable: true, MaxAmount: 1000},
		data.Definition{Name: "i_backpack", Category: data.CategoryContainer, Layer: data.LayerPack},
		data.Definition{Name: "i_chest", Category: data.CategoryContainer},
		data.Definition{Name: "i_pouch", Category: data.CategoryContainer, Capacity: 2},
		data.Definition{Name: "i_sword", Layer: data.LayerHand1},
		data.Definition{Name: "i_axe", Layer: data.LayerHand1},
		data.Definition{Name: "i_ring", Layer: data.LayerRing},
		data.Definition{Name: "i_cursed_ring", Layer: data.LayerRing, Unevictable: true},
		data.Definition{Name: "c_man", Category: data.CategoryCharacter},
	)
	require.NoError(t, err)
	return tbl
}

// eventLog records notifications delivered by the bus.
type eventLog struct {
	mu      sync.Mutex
	created []event.Created
	moved   []event.Moved
	stacked []event.Stacked
	deleted []event.Deleted
	account []event.AccountChanged
}

func (l *eventLog) subscribe(b *event.Bus) {
	event.Subscribe(b, func(ev event.Created) { l.mu.Lock(); l.created = append(l.created, ev); l.mu.Unlock() })
	event.Subscribe(b, func(ev event.Moved) { l.mu.Lock(); l.moved = append(l.moved, ev); l.mu.Unlock() })
	event.Subscribe(b, func(ev event.Stacked) { l.mu.Lock(); l.stacked = append(l.stacked, ev); l.mu.Unlock() })
	event.Subscribe(b, func(ev event.Deleted) { l.mu.Lock(); l.deleted = append(l.deleted, ev); l.mu.Unlock() })
	event.Subscribe(b, func(ev event.AccountChanged) { l.mu.Lock(); l.account = append(l.account, ev); l.mu.Unlock() })
}

type testWorld struct {
	*World
	t      *testing.T
	events *eventLog
}

func newTestWorld(t *testing.T, tweak ...func(*Options)) *testWorld {
	t.Helper()
	opts := Options{
		Config: Config{
			MaxNestingDepth: 8,
			StartPoint:      ecs.Point{X: 100, Y: 100},
			PasswordCost:    bcrypt.MinCost,
		},
		Definitions: testDefinitions(t),
	}
	for _, fn := range tweak {
		fn(&opts)
	}
	w := New(opts)
	log := &eventLog{}
	log.subscribe(w.Bus())
	return &testWorld{World: w, t: t, events: log}
}

func (tw *testWorld) run(fn txn.Body) error {
	return tw.Atomically(context.Background(), fn)
}

func (tw *testWorld) mustRun(fn txn.Body) {
	tw.t.Helper()
	require.NoError(tw.t, tw.run(fn))
}

func (tw *testWorld) create(ctx context.Context, tx *txn.Tx, name string, to ecs.Owner) *ecs.Entity {
	tw.t.Helper()
	e, err := tw.CreateNamed(ctx, tx, name, to)
	require.NoError(tw.t, err)
	return e
}

// requireConsistent runs the invariant checker over the committed state.
func (tw *testWorld) requireConsistent() {
	tw.t.Helper()
	require.NoError(tw.t, tw.Exclusive(context.Background(), func(ctx context.Context, tx *txn.Tx) error {
		require.Empty(tw.t, tw.Check(tx))
		return nil
	}))
}

var (
	here  = ecs.Point{X: 10, Y: 10}
	there = ecs.Point{X: 20, Y: 20}
)

func setAmount(tx *txn.Tx, e *ecs.Entity, n int) {
	p := e.Props(tx).Clone()
	p.Amount = n
	e.SetProps(tx, p)
}

package trigger

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/l1jgo/worldcore/internal/core/ecs"
	"github.com/l1jgo/worldcore/internal/core/txn"
	"github.com/l1jgo/worldcore/internal/data"
)

var swordDef = &data.Definition{Name: "i_sword", Script: "sword"}

type defHandlers map[string]Handler

func (d defHandlers) DefinitionHandler(def *data.Definition) (Handler, bool) {
	h, ok := d[def.Script]
	return h, ok
}

type fixture struct {
	m     *txn.Manager
	chain *Chain
	e     *ecs.Entity
	calls []string
}

func newFixture(t *testing.T) *fixture {
	f := &fixture{m: txn.NewManager(txn.Options{}), e: ecs.NewEntity(swordDef)}
	f.chain = NewChain(nil, defHandlers{"sword": f.recorder("definition", Continue)})
	return f
}

func (f *fixture) recorder(name string, res Result) Handler {
	return Func(name, func(context.Context, *txn.Tx, Key, *Args) (Result, error) {
		f.calls = append(f.calls, name)
		return res, nil
	})
}

func (f *fixture) run(t *testing.T, fn func(ctx context.Context, tx *txn.Tx) error) error {
	t.Helper()
	return f.m.Atomically(context.Background(), fn)
}

func TestDispatchOrder(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.run(t, func(ctx context.Context, tx *txn.Tx) error {
		f.chain.AttachCategory(tx, data.CategoryItem, f.recorder("category", Continue))
		f.chain.Attach(tx, f.e, f.recorder("first", Continue))
		f.chain.Attach(tx, f.e, f.recorder("second", Continue))
		f.chain.AttachPlugin(tx, f.e, PluginFunc("decay", func(context.Context, *txn.Tx, Key, *Args) (Result, error) {
			f.calls = append(f.calls, "plugin")
			return Continue, nil
		}))
		return f.chain.Fire(ctx, tx, Placed, &Args{Self: f.e})
	}))
	assert.Equal(t, []string{"category", "plugin", "second", "first", "definition"}, f.calls)
}

func TestAttachDetachIdempotent(t *testing.T) {
	f := newFixture(t)
	h := f.recorder("h", Continue)
	require.NoError(t, f.run(t, func(ctx context.Context, tx *txn.Tx) error {
		assert.True(t, f.chain.Attach(tx, f.e, h))
		assert.False(t, f.chain.Attach(tx, f.e, h))
		assert.Len(t, f.chain.Handlers(tx, f.e), 1)

		assert.True(t, f.chain.Detach(tx, f.e, h))
		assert.False(t, f.chain.Detach(tx, f.e, h))
		assert.Empty(t, f.chain.Handlers(tx, f.e))
		return nil
	}))
}

func TestPluginReplaceAndDetach(t *testing.T) {
	f := newFixture(t)
	noop := func(context.Context, *txn.Tx, Key, *Args) (Result, error) { return Continue, nil }
	first := PluginFunc("decay", noop)
	second := PluginFunc("decay", noop)

	require.NoError(t, f.run(t, func(ctx context.Context, tx *txn.Tx) error {
		assert.Nil(t, f.chain.AttachPlugin(tx, f.e, first))
		assert.Same(t, first, f.chain.AttachPlugin(tx, f.e, second))
		assert.Len(t, f.chain.Handlers(tx, f.e), 1)

		p, ok := f.chain.Plugin(tx, f.e, "decay")
		require.True(t, ok)
		assert.Same(t, second, p)

		assert.Same(t, second, f.chain.DetachPlugin(tx, f.e, "decay"))
		assert.Nil(t, f.chain.DetachPlugin(tx, f.e, "decay"))
		_, ok = f.chain.Plugin(tx, f.e, "decay")
		assert.False(t, ok)
		return nil
	}))
}

func TestFireCancellableStopsAtCancel(t *testing.T) {
	f := newFixture(t)
	var cancelled bool
	require.NoError(t, f.run(t, func(ctx context.Context, tx *txn.Tx) error {
		f.chain.Attach(tx, f.e, f.recorder("late", Continue))
		f.chain.Attach(tx, f.e, f.recorder("veto", Cancel))
		var err error
		cancelled, err = f.chain.FireCancellable(ctx, tx, PickUp, &Args{Self: f.e})
		return err
	}))
	assert.True(t, cancelled)
	assert.Equal(t, []string{"veto"}, f.calls)
}

func TestFireIgnoresCancel(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.run(t, func(ctx context.Context, tx *txn.Tx) error {
		f.chain.Attach(tx, f.e, f.recorder("veto", Cancel))
		return f.chain.Fire(ctx, tx, Create, &Args{Self: f.e})
	}))
	assert.Equal(t, []string{"veto", "definition"}, f.calls)
}

func TestNonFatalFailuresAreSwallowed(t *testing.T) {
	f := newFixture(t)
	var cancelled bool
	require.NoError(t, f.run(t, func(ctx context.Context, tx *txn.Tx) error {
		f.chain.Attach(tx, f.e, Func("errors", func(context.Context, *txn.Tx, Key, *Args) (Result, error) {
			return Cancel, errors.New("script error")
		}))
		f.chain.Attach(tx, f.e, Func("panics", func(context.Context, *txn.Tx, Key, *Args) (Result, error) {
			panic("nil table")
		}))
		var err error
		cancelled, err = f.chain.FireCancellable(ctx, tx, Equip, &Args{Self: f.e})
		return err
	}))
	assert.False(t, cancelled, "a failed handler counts as not cancelling")
	assert.Equal(t, []string{"definition"}, f.calls)
}

func TestFatalErrorsPropagate(t *testing.T) {
	f := newFixture(t)
	err := f.run(t, func(ctx context.Context, tx *txn.Tx) error {
		f.chain.Attach(tx, f.e, f.recorder("never", Continue))
		f.chain.Attach(tx, f.e, Func("broken", func(context.Context, *txn.Tx, Key, *Args) (Result, error) {
			return Continue, txn.Invariant("list damaged")
		}))
		return f.chain.Fire(ctx, tx, Placed, &Args{Self: f.e})
	})
	assert.ErrorIs(t, err, txn.ErrInvariant)
	assert.Empty(t, f.calls)
}

func TestGuardStopsDispatch(t *testing.T) {
	f := newFixture(t)
	moved := errors.New("moved")
	checks := 0
	err := f.run(t, func(ctx context.Context, tx *txn.Tx) error {
		f.chain.Attach(tx, f.e, f.recorder("b", Continue))
		f.chain.Attach(tx, f.e, f.recorder("a", Continue))
		_, err := f.chain.FireGuarded(ctx, tx, Placed, &Args{Self: f.e}, func() error {
			checks++
			if checks == 1 {
				return moved
			}
			return nil
		})
		return err
	})
	assert.ErrorIs(t, err, moved)
	assert.Equal(t, []string{"a"}, f.calls)
}

func TestConflictSignalPassesThrough(t *testing.T) {
	f := newFixture(t)
	v := txn.NewVar(0)
	attempts := 0
	require.NoError(t, f.run(t, func(ctx context.Context, tx *txn.Tx) error {
		attempts++
		f.chain.Attach(tx, f.e, Func("reader", func(ctx context.Context, tx *txn.Tx, _ Key, _ *Args) (Result, error) {
			_ = v.Get(tx)
			if attempts == 1 {
				done := make(chan struct{})
				go func() {
					defer close(done)
					_ = f.m.Atomically(context.Background(), func(ctx context.Context, tx *txn.Tx) error {
						v.Set(tx, 1)
						return nil
					})
				}()
				<-done
				_ = v.Get(tx) // stale: must unwind to the manager, not to the chain
			}
			return Continue, nil
		}))
		return f.chain.Fire(ctx, tx, Timer, &Args{Self: f.e})
	}))
	assert.Equal(t, 2, attempts)
}

func TestCallPlugin(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.run(t, func(ctx context.Context, tx *txn.Tx) error {
		_, err := f.chain.CallPlugin(ctx, tx, "decay", Timer, &Args{Self: f.e})
		assert.ErrorIs(t, err, ErrNoPlugin)

		f.chain.AttachPlugin(tx, f.e, PluginFunc("decay", func(_ context.Context, _ *txn.Tx, key Key, args *Args) (Result, error) {
			assert.Equal(t, Timer, key)
			assert.Equal(t, 3, args.Amount)
			return Cancel, nil
		}))
		res, err := f.chain.CallPlugin(ctx, tx, "decay", Timer, &Args{Self: f.e, Amount: 3})
		require.NoError(t, err)
		assert.Equal(t, Cancel, res)
		return nil
	}))
}

func TestAttachmentsRollBack(t *testing.T) {
	f := newFixture(t)
	h := f.recorder("h", Continue)
	err := f.run(t, func(ctx context.Context, tx *txn.Tx) error {
		f.chain.Attach(tx, f.e, h)
		return errors.New("abort")
	})
	require.Error(t, err)
	require.NoError(t, f.run(t, func(ctx context.Context, tx *txn.Tx) error {
		assert.Empty(t, f.chain.Handlers(tx, f.e))
		return nil
	}))
}

package ecs

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/l1jgo/worldcore/internal/core/txn"
	"github.com/l1jgo/worldcore/internal/data"
)

var (
	itemDef = &data.Definition{Name: "i_gold", Stackable: true, MaxAmount: 1000}
	bagDef  = &data.Definition{Name: "i_bag", Category: data.CategoryContainer}
)

func atomically(t *testing.T, m *txn.Manager, fn func(tx *txn.Tx)) {
	t.Helper()
	require.NoError(t, m.Atomically(context.Background(), func(ctx context.Context, tx *txn.Tx) error {
		fn(tx)
		return nil
	}))
}

func TestRegisterAssignsIncreasingIDs(t *testing.T) {
	m := txn.NewManager(txn.Options{})
	r := NewRegistry(0)

	var a, b, c *Entity
	atomically(t, m, func(tx *txn.Tx) {
		a, b, c = NewEntity(itemDef), NewEntity(itemDef), NewEntity(itemDef)
		for i, e := range []*Entity{a, b, c} {
			uid, err := r.Register(tx, e)
			require.NoError(t, err)
			assert.Equal(t, UID(i+1), uid)
		}
		assert.Equal(t, 3, r.Count(tx))
	})

	atomically(t, m, func(tx *txn.Tx) {
		got, ok := r.Lookup(tx, 2)
		require.True(t, ok)
		assert.Same(t, b, got)

		_, err := r.Register(tx, a)
		assert.ErrorIs(t, err, txn.ErrInvariant, "double registration")
	})
}

func TestRemovedIDsAreNotReused(t *testing.T) {
	m := txn.NewManager(txn.Options{})
	r := NewRegistry(0)

	atomically(t, m, func(tx *txn.Tx) {
		for i := 0; i < 3; i++ {
			_, err := r.Register(tx, NewEntity(itemDef))
			require.NoError(t, err)
		}
		assert.True(t, r.Remove(tx, 3))
		assert.False(t, r.Remove(tx, 3))

		uid, err := r.Register(tx, NewEntity(itemDef))
		require.NoError(t, err)
		assert.Equal(t, UID(4), uid)
		assert.Equal(t, []UID{1, 2, 4}, r.Live(tx))
	})
}

func TestRegisterAs(t *testing.T) {
	m := txn.NewManager(txn.Options{})
	r := NewRegistry(0)

	atomically(t, m, func(tx *txn.Tx) {
		require.NoError(t, r.RegisterAs(tx, NewEntity(itemDef), 40))
		err := r.RegisterAs(tx, NewEntity(itemDef), 40)
		assert.ErrorIs(t, err, ErrDuplicateIdentity)
		assert.True(t, txn.IsFatal(err))

		uid, err := r.Register(tx, NewEntity(itemDef))
		require.NoError(t, err)
		assert.Equal(t, UID(41), uid, "restored uids raise the high-water mark")

		assert.Error(t, r.RegisterAs(tx, NewEntity(itemDef), 0))
		assert.Error(t, r.RegisterAs(tx, NewEntity(itemDef), DefaultFakeBase))
	})
}

func TestFakeIDs(t *testing.T) {
	m := txn.NewManager(txn.Options{})
	r := NewRegistry(1000)

	atomically(t, m, func(tx *txn.Tx) {
		a := r.AllocateFakeID(tx)
		b := r.AllocateFakeID(tx)
		assert.Equal(t, UID(1000), a)
		assert.Equal(t, UID(1001), b)
		assert.True(t, r.IsFake(a))

		require.NoError(t, r.ReleaseFakeID(tx, a))
		assert.Error(t, r.ReleaseFakeID(tx, a))
		assert.Equal(t, a, r.AllocateFakeID(tx))

		// fake ids never show up as entities
		assert.Zero(t, r.Count(tx))
	})
}

func TestReindexAllCompactsAndRewritesReferences(t *testing.T) {
	m := txn.NewManager(txn.Options{})
	r := NewRegistry(0)

	bag, coin, gem, target := NewEntity(bagDef), NewEntity(itemDef), NewEntity(itemDef), NewEntity(itemDef)
	atomically(t, m, func(tx *txn.Tx) {
		require.NoError(t, r.RegisterAs(tx, bag, 10))
		require.NoError(t, r.RegisterAs(tx, coin, 20))
		require.NoError(t, r.RegisterAs(tx, gem, 30))
		require.NoError(t, r.RegisterAs(tx, target, 50))

		coin.SetOwner(tx, InContainer(10))
		coin.SetLink(tx, Link{Next: 30})
		gem.SetOwner(tx, InContainer(10))
		gem.SetLink(tx, Link{Prev: 20})
		bag.SetContents(tx, Contents{First: 20, Last: 30, Count: 2})
		bag.SetOwner(tx, OnGround(Point{X: 5, Y: 5}))
		coin.SetProps(tx, coin.Props(tx).WithField("link", RefValue(50)).WithField("gone", RefValue(77)))
	})

	// reindex needs the world quiesced
	atomically(t, m, func(tx *txn.Tx) {
		_, err := r.ReindexAll(tx)
		assert.ErrorIs(t, err, txn.ErrInvariant)
	})

	var remap map[UID]UID
	require.NoError(t, m.Exclusive(context.Background(), func(ctx context.Context, tx *txn.Tx) error {
		var err error
		remap, err = r.ReindexAll(tx)
		return err
	}))
	assert.Equal(t, map[UID]UID{10: 1, 20: 2, 30: 3, 50: 4}, remap)

	atomically(t, m, func(tx *txn.Tx) {
		assert.Equal(t, []UID{1, 2, 3, 4}, r.Live(tx))
		assert.Equal(t, UID(2), coin.UID(tx))
		assert.Equal(t, InContainer(1), coin.Owner(tx))
		assert.Equal(t, Link{Next: 3}, coin.Link(tx))
		assert.Equal(t, Link{Prev: 2}, gem.Link(tx))
		assert.Equal(t, Contents{First: 2, Last: 3, Count: 2}, bag.Contents(tx))
		assert.Equal(t, OnGround(Point{X: 5, Y: 5}), bag.Owner(tx))

		fields := coin.Props(tx).Fields
		assert.Equal(t, RefValue(4), fields["link"])
		assert.NotContains(t, fields, "gone")

		got, ok := r.Lookup(tx, 4)
		require.True(t, ok)
		assert.Same(t, target, got)
		_, ok = r.Lookup(tx, 50)
		assert.False(t, ok)

		uid, err := r.Register(tx, NewEntity(itemDef))
		require.NoError(t, err)
		assert.Equal(t, UID(5), uid)
	})
}

func TestParseHelpers(t *testing.T) {
	uid, err := ParseUID("#42")
	require.NoError(t, err)
	assert.Equal(t, UID(42), uid)
	uid, err = ParseUID("0x10")
	require.NoError(t, err)
	assert.Equal(t, UID(16), uid)
	_, err = ParseUID("#-1")
	assert.Error(t, err)

	p, err := ParsePoint("(100, 200, -5, 4)")
	require.NoError(t, err)
	assert.Equal(t, Point{X: 100, Y: 200, Z: -5, M: 4}, p)
	assert.Equal(t, "(100,200,-5,4)", p.String())

	p, err = ParsePoint("(1,2)")
	require.NoError(t, err)
	assert.Equal(t, Point{X: 1, Y: 2}, p)

	for _, bad := range []string{"1,2", "(1)", "(a,b)", "(1,2,3,4,5)", "(1,2,0,300)"} {
		_, err := ParsePoint(bad)
		assert.Error(t, err, bad)
	}
	assert.False(t, Point{X: -1, Y: 0}.Valid())
}

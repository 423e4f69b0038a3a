package world

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/l1jgo/worldcore/internal/core/ecs"
	"github.com/l1jgo/worldcore/internal/core/event"
	"github.com/l1jgo/worldcore/internal/core/system"
	"github.com/l1jgo/worldcore/internal/core/txn"
)

func TestCheckFindsBrokenLinks(t *testing.T) {
	tw := newTestWorld(t)
	var chest, sword *ecs.Entity
	tw.mustRun(func(ctx context.Context, tx *txn.Tx) error {
		chest = tw.create(ctx, tx, "i_chest", ecs.OnGround(here))
		sword = tw.create(ctx, tx, "i_sword", ecs.InContainer(chest.UID(tx)))
		tw.create(ctx, tx, "i_axe", ecs.InContainer(chest.UID(tx)))
		return nil
	})

	rollback := errors.New("rollback")
	err := tw.Exclusive(context.Background(), func(ctx context.Context, tx *txn.Tx) error {
		// owner says ground, list says chest
		sword.SetOwner(tx, ecs.OnGround(there))
		errs := tw.Check(tx)
		assert.NotEmpty(t, errs)
		for _, err := range errs {
			assert.ErrorIs(t, err, txn.ErrInvariant)
		}
		return rollback
	})
	require.ErrorIs(t, err, rollback)

	err = tw.Exclusive(context.Background(), func(ctx context.Context, tx *txn.Tx) error {
		c := chest.Contents(tx)
		c.Count = 5
		chest.SetContents(tx, c)
		assert.NotEmpty(t, tw.Check(tx))
		return rollback
	})
	require.ErrorIs(t, err, rollback)

	// the corruptions were rolled back
	tw.requireConsistent()
}

func TestReindexCompactsUIDs(t *testing.T) {
	tw := newTestWorld(t)
	var reindexed []event.Reindexed
	event.Subscribe(tw.Bus(), func(ev event.Reindexed) { reindexed = append(reindexed, ev) })

	var ents []*ecs.Entity
	tw.mustRun(func(ctx context.Context, tx *txn.Tx) error {
		chest := tw.create(ctx, tx, "i_chest", ecs.OnGround(here))
		ents = append(ents, chest)
		ents = append(ents, tw.create(ctx, tx, "i_sword", ecs.OnGround(there)))
		ents = append(ents, tw.create(ctx, tx, "i_axe", ecs.InContainer(chest.UID(tx))))
		ents = append(ents, tw.create(ctx, tx, "i_ring", ecs.OnGround(there)))
		ents = append(ents, tw.create(ctx, tx, "i_sword", ecs.InContainer(chest.UID(tx))))
		return nil
	})
	tw.mustRun(func(ctx context.Context, tx *txn.Tx) error {
		// a tag pointing at an entity that is about to go away
		p := ents[4].Props(tx).WithField("victim", ecs.RefValue(ents[3].UID(tx)))
		p = p.WithField("home", ecs.RefValue(ents[0].UID(tx)))
		ents[4].SetProps(tx, p)
		require.NoError(t, tw.Delete(ctx, tx, ents[1]))
		return tw.Delete(ctx, tx, ents[3])
	})

	remap, err := tw.Reindex(context.Background())
	require.NoError(t, err)
	assert.Equal(t, map[ecs.UID]ecs.UID{1: 1, 3: 2, 5: 3}, remap)
	require.Len(t, reindexed, 1)
	assert.Equal(t, 3, reindexed[0].Entities)

	tw.mustRun(func(ctx context.Context, tx *txn.Tx) error {
		assert.Equal(t, ecs.UID(2), ents[2].UID(tx))
		assert.Equal(t, ecs.UID(3), ents[4].UID(tx))
		assert.Equal(t, ecs.InContainer(1), ents[4].Owner(tx))

		fields := ents[4].Props(tx).Fields
		assert.Equal(t, ecs.RefValue(1), fields["home"])
		assert.NotContains(t, fields, "victim")

		inside, err := tw.ContentsOf(tx, ents[0])
		require.NoError(t, err)
		assert.Equal(t, []*ecs.Entity{ents[2], ents[4]}, inside)
		assert.Equal(t, []ecs.Point{here}, tw.GroundPoints(tx))

		fresh := tw.create(ctx, tx, "i_ring", ecs.OnGround(here))
		assert.Equal(t, ecs.UID(4), fresh.UID(tx))
		return nil
	})
	tw.requireConsistent()
}

func TestReindexNeedsQuiescedWorld(t *testing.T) {
	tw := newTestWorld(t)
	err := tw.run(func(ctx context.Context, tx *txn.Tx) error {
		_, err := tw.Registry().ReindexAll(tx)
		return err
	})
	assert.ErrorIs(t, err, txn.ErrInvariant)
}

func TestPurgeAfterDeletes(t *testing.T) {
	tw := newTestWorld(t)
	tw.mustRun(func(ctx context.Context, tx *txn.Tx) error {
		for i := 0; i < 4; i++ {
			e := tw.create(ctx, tx, "i_sword", ecs.OnGround(ecs.Point{X: int32(i)}))
			if err := tw.Delete(ctx, tx, e); err != nil {
				return err
			}
		}
		return nil
	})
	var swept int
	require.NoError(t, tw.Exclusive(context.Background(), func(ctx context.Context, tx *txn.Tx) error {
		swept = tw.Purge(tx)
		return nil
	}))
	assert.Positive(t, swept)

	entities, accounts, err := tw.Counts(context.Background())
	require.NoError(t, err)
	assert.Zero(t, entities)
	assert.Zero(t, accounts)
}

func TestPurgeSystemRunsEveryNTicks(t *testing.T) {
	tw := newTestWorld(t)
	churn := func() {
		tw.mustRun(func(ctx context.Context, tx *txn.Tx) error {
			e := tw.create(ctx, tx, "i_sword", ecs.OnGround(here))
			return tw.Delete(ctx, tx, e)
		})
	}
	purge := func() int {
		var n int
		require.NoError(t, tw.Exclusive(context.Background(), func(ctx context.Context, tx *txn.Tx) error {
			n = tw.Purge(tx)
			return nil
		}))
		return n
	}

	r := system.NewRunner()
	r.Register(NewPurgeSystem(tw.World, 2))

	churn()
	r.Tick(time.Millisecond)
	assert.Positive(t, purge(), "first tick leaves cells alone")

	churn()
	r.Tick(time.Millisecond)
	assert.Zero(t, purge(), "second tick swept them")
}

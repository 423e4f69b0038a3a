package world

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/l1jgo/worldcore/internal/core/system"
	"github.com/l1jgo/worldcore/internal/core/txn"
)

// PurgeSystem periodically drops transactional cells that hold nothing,
// the leftovers of deleted entities, emptied tiles and detached triggers.
type PurgeSystem struct {
	w     *World
	every int
	ticks int
}

func NewPurgeSystem(w *World, everyTicks int) *PurgeSystem {
	if everyTicks < 1 {
		everyTicks = 1
	}
	return &PurgeSystem{w: w, every: everyTicks}
}

func (s *PurgeSystem) Phase() system.Phase { return system.PhaseCleanup }

func (s *PurgeSystem) Update(_ time.Duration) {
	s.ticks++
	if s.ticks < s.every {
		return
	}
	s.ticks = 0
	var n int
	err := s.w.Exclusive(context.Background(), func(ctx context.Context, tx *txn.Tx) error {
		n = s.w.Purge(tx)
		return nil
	})
	if err != nil {
		s.w.log.Error("purge failed", zap.Error(err))
		return
	}
	if n > 0 {
		s.w.log.Debug("purged empty cells", zap.Int("cells", n))
	}
}

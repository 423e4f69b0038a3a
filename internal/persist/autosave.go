package persist

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/l1jgo/worldcore/internal/core/system"
)

// AutosaveSystem 每 N 個 tick 存一次整個世界（PhasePersist）。
// 若上一次存檔仍在進行，本次直接略過，不排隊等待。
type AutosaveSystem struct {
	c        *Coordinator
	log      *zap.Logger
	interval int
	ticks    int
}

func NewAutosaveSystem(c *Coordinator, intervalTicks int) *AutosaveSystem {
	return &AutosaveSystem{c: c, log: c.log, interval: intervalTicks}
}

func (s *AutosaveSystem) Phase() system.Phase { return system.PhasePersist }

func (s *AutosaveSystem) Update(_ time.Duration) {
	if s.interval <= 0 {
		return
	}
	s.ticks++
	if s.ticks < s.interval {
		return
	}
	s.ticks = 0
	res, ok, err := s.c.TrySave(context.Background())
	if !ok {
		s.log.Info("autosave skipped, a save is already running")
		return
	}
	if err != nil {
		s.log.Error("autosave failed", zap.Error(err))
		return
	}
	s.log.Debug("autosave done", zap.Int("entities", res.Entities), zap.Duration("took", res.Duration))
}

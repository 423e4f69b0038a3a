package system

import "time"

// Phase defines execution ordering within a single tick.
type Phase int

const (
	PhaseTimers     Phase = iota // 0: expire timers, fire timer triggers
	PhaseUpdate                  // 1: world logic
	PhasePostUpdate              // 2: gauges and bookkeeping
	PhasePersist                 // 3: autosave
	PhaseCleanup                 // 4: purge empty transactional cells
)

// System is the interface every timer-driven system implements.
type System interface {
	Phase() Phase
	Update(dt time.Duration)
}

package system

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

type recorder struct {
	name  string
	phase Phase
	log   *[]string
}

func (r *recorder) Phase() Phase { return r.phase }
func (r *recorder) Update(dt time.Duration) { *r.log = append(*r.log, r.name) }

func TestTickRunsInPhaseOrder(t *testing.T) {
	var log []string
	r := NewRunner()
	r.Register(&recorder{"save", PhasePersist, &log})
	r.Register(&recorder{"timers", PhaseTimers, &log})
	r.Register(&recorder{"gauges", PhasePostUpdate, &log})
	r.Register(&recorder{"logic-a", PhaseUpdate, &log})
	r.Register(&recorder{"logic-b", PhaseUpdate, &log})

	r.Tick(time.Millisecond)
	assert.Equal(t, []string{"timers", "logic-a", "logic-b", "gauges", "save"}, log)
	assert.Equal(t, 5, r.Len())

	log = log[:0]
	r.TickPhase(PhaseUpdate, time.Millisecond)
	assert.Equal(t, []string{"logic-a", "logic-b"}, log)
}

type counter struct{ n atomic.Int32 }

func (c *counter) Phase() Phase { return PhaseUpdate }
func (c *counter) Update(time.Duration) { c.n.Add(1) }

func TestRunStopsOnCancel(t *testing.T) {
	r := NewRunner()
	c := &counter{}
	r.Register(c)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		r.Run(ctx, time.Millisecond)
		close(done)
	}()
	assert.Eventually(t, func() bool { return c.n.Load() >= 3 }, time.Second, time.Millisecond)
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("runner did not stop")
	}
}

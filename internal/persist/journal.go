package persist

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// SaveRecord describes one completed save generation.
type SaveRecord struct {
	Generation uuid.UUID
	StartedAt  time.Time
	Duration   time.Duration
	Entities   int
	Accounts   int
	Files      []string
}

// Journal records save generations. The Postgres catalog implements it.
type Journal interface {
	RecordSave(ctx context.Context, rec SaveRecord) error
	LatestSave(ctx context.Context) (SaveRecord, bool, error)
}

// MemoryJournal keeps records in process, for tools and tests.
type MemoryJournal struct {
	mu   sync.Mutex
	recs []SaveRecord
}

func (j *MemoryJournal) RecordSave(_ context.Context, rec SaveRecord) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.recs = append(j.recs, rec)
	return nil
}

func (j *MemoryJournal) LatestSave(context.Context) (SaveRecord, bool, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	if len(j.recs) == 0 {
		return SaveRecord{}, false, nil
	}
	return j.recs[len(j.recs)-1], true, nil
}

// Records returns every record in insertion order.
func (j *MemoryJournal) Records() []SaveRecord {
	j.mu.Lock()
	defer j.mu.Unlock()
	return append([]SaveRecord(nil), j.recs...)
}

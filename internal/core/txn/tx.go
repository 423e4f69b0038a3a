package txn

import (
	"context"
	"fmt"
	"maps"
	"runtime"
	"sync"
	"sync/atomic"

	"github.com/samber/oops"
	"go.uber.org/zap"
)

type txState uint8

const (
	stateActive txState = iota
	stateCommitted
	stateAborted
)

// Tx is one attempt of a transaction body. It belongs to a single goroutine.
type Tx struct {
	m         *Manager
	seq       uint64
	rv        uint64
	exclusive bool
	state     txState

	reads  map[cell]uint64
	writes map[cell]any
	order  []cell
	after  []func()
}

// Seq is shared by every attempt of the same logical transaction.
func (tx *Tx) Seq() uint64 { return tx.seq }

// Exclusive reports whether no other transaction can run concurrently.
func (tx *Tx) Exclusive() bool { return tx.exclusive }

// AfterCommit queues fn to run once the transaction has committed.
// Hooks of discarded attempts never run.
func (tx *Tx) AfterCommit(fn func()) {
	tx.mustActive()
	tx.after = append(tx.after, fn)
}

func (tx *Tx) mustActive() {
	if tx == nil {
		panic("txn: shared state accessed outside a transaction")
	}
	if tx.state != stateActive {
		panic(fmt.Sprintf("txn: shared state accessed through finished transaction %d", tx.seq))
	}
}

// MustExclusive panics unless tx runs under Manager.Exclusive.
func (tx *Tx) MustExclusive(op string) {
	tx.mustActive()
	if !tx.exclusive {
		panic(fmt.Sprintf("txn: %s requires an exclusive transaction", op))
	}
}

// Savepoint marks a point inside a transaction that RollbackTo can return
// to. Reads are kept, so a rollback never weakens conflict detection.
type Savepoint struct {
	tx     *Tx
	writes map[cell]any
	order  int
	after  int
}

func (tx *Tx) Savepoint() Savepoint {
	tx.mustActive()
	return Savepoint{tx: tx, writes: maps.Clone(tx.writes), order: len(tx.order), after: len(tx.after)}
}

// RollbackTo discards every write and after-commit hook made since sp.
// sp stays valid and may be rolled back to again.
func (tx *Tx) RollbackTo(sp Savepoint) {
	tx.mustActive()
	if sp.tx != tx {
		panic("txn: savepoint belongs to another transaction")
	}
	tx.writes = maps.Clone(sp.writes)
	tx.order = tx.order[:sp.order]
	tx.after = tx.after[:sp.after]
}

func (tx *Tx) observe(c cell, ver uint64) {
	if ver > tx.rv {
		panic(conflict{})
	}
	if _, ok := tx.reads[c]; !ok {
		tx.reads[c] = ver
	}
}

func (tx *Tx) discard() {
	tx.state = stateAborted
	tx.writes = nil
	tx.order = nil
	tx.after = nil
}

// Observer receives transaction outcomes. Implemented by the metrics package.
type Observer interface {
	Committed(seq uint64, attempts int)
	Retried(seq uint64)
	Aborted(reason string)
}

type nopObserver struct{}

func (nopObserver) Committed(uint64, int) {}
func (nopObserver) Retried(uint64) {}
func (nopObserver) Aborted(string) {}

type Options struct {
	MaxRetries int // 0 = unbounded
	Logger     *zap.Logger
	Observer   Observer
}

// Manager runs transactions against the shared world state using
// optimistic concurrency over a global version clock.
type Manager struct {
	clock    atomic.Uint64
	seq      atomic.Uint64
	commitMu sync.Mutex
	gate     sync.RWMutex

	maxRetries int
	log        *zap.Logger
	obs        Observer
}

func NewManager(opts Options) *Manager {
	m := &Manager{
		maxRetries: opts.MaxRetries,
		log:        opts.Logger,
		obs:        opts.Observer,
	}
	if m.log == nil {
		m.log = zap.NewNop()
	}
	if m.obs == nil {
		m.obs = nopObserver{}
	}
	return m
}

type ctxKey struct{}

// FromContext returns the transaction carried by ctx, or nil.
func FromContext(ctx context.Context) *Tx {
	tx, _ := ctx.Value(ctxKey{}).(*Tx)
	return tx
}

func withTx(ctx context.Context, tx *Tx) context.Context {
	return context.WithValue(ctx, ctxKey{}, tx)
}

// Body is a transaction body. It may run several times; side effects
// outside the transaction belong in Tx.AfterCommit.
type Body func(ctx context.Context, tx *Tx) error

// Atomically runs fn as one transaction. A returned error or panic discards
// every write made by fn. Called with a context that already carries an
// active transaction of this manager, fn joins it instead.
func (m *Manager) Atomically(ctx context.Context, fn Body) error {
	if tx := FromContext(ctx); tx != nil && tx.m == m && tx.state == stateActive {
		return fn(ctx, tx)
	}
	m.gate.RLock()
	defer m.gate.RUnlock()
	return m.run(ctx, false, fn)
}

// Exclusive runs fn with every other transaction quiesced. Used for save,
// load, reindex and map purges.
func (m *Manager) Exclusive(ctx context.Context, fn Body) error {
	if tx := FromContext(ctx); tx != nil && tx.m == m && tx.state == stateActive {
		if tx.exclusive {
			return fn(ctx, tx)
		}
		return ErrNestedExclusive
	}
	m.gate.Lock()
	defer m.gate.Unlock()
	return m.run(ctx, true, fn)
}

func (m *Manager) begin(seq uint64, exclusive bool) *Tx {
	return &Tx{
		m:         m,
		seq:       seq,
		rv:        m.clock.Load(),
		exclusive: exclusive,
		reads:     make(map[cell]uint64),
		writes:    make(map[cell]any),
	}
}

func (m *Manager) run(ctx context.Context, exclusive bool, fn Body) error {
	seq := m.seq.Add(1)
	for attempt := 1; ; attempt++ {
		if err := ctx.Err(); err != nil {
			m.obs.Aborted("cancelled")
			return err
		}
		tx := m.begin(seq, exclusive)
		retry, err := m.attempt(ctx, tx, fn)
		if retry {
			m.obs.Retried(seq)
			if m.maxRetries > 0 && attempt >= m.maxRetries {
				m.obs.Aborted("retries")
				return oops.In("txn").With("tx", seq).With("attempts", attempt).Wrap(ErrTooManyRetries)
			}
			runtime.Gosched()
			continue
		}
		if err != nil {
			if IsFatal(err) {
				m.obs.Aborted("fatal")
				m.log.Error("transaction aborted", zap.Uint64("tx", seq), zap.Error(err))
			} else {
				m.obs.Aborted("error")
				m.log.Debug("transaction rolled back", zap.Uint64("tx", seq), zap.Error(err))
			}
			return err
		}
		m.obs.Committed(seq, attempt)
		for _, hook := range tx.after {
			hook()
		}
		return nil
	}
}

func (m *Manager) attempt(ctx context.Context, tx *Tx, fn Body) (retry bool, err error) {
	defer func() {
		if r := recover(); r != nil {
			tx.discard()
			if IsConflict(r) {
				retry, err = true, nil
				return
			}
			err = oops.In("txn").With("tx", tx.seq).Errorf("panic in transaction: %v", r)
		}
	}()
	if err := fn(withTx(ctx, tx), tx); err != nil {
		tx.discard()
		return false, err
	}
	if !m.commit(tx) {
		return true, nil
	}
	return false, nil
}

// commit validates the read set and installs the write set under a new
// clock value. Reads observed at most tx.rv, so any cell whose version moved
// has been overwritten since.
func (m *Manager) commit(tx *Tx) bool {
	if len(tx.writes) == 0 {
		tx.state = stateCommitted
		return true
	}
	m.commitMu.Lock()
	defer m.commitMu.Unlock()
	for c, ver := range tx.reads {
		if c.version() != ver {
			tx.discard()
			return false
		}
	}
	wv := m.clock.Load() + 1
	for _, c := range tx.order {
		c.install(tx.writes[c], wv)
	}
	m.clock.Store(wv)
	tx.state = stateCommitted
	return true
}

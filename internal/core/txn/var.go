package txn

import "sync/atomic"

// cell is the type-erased view of a Var used by the commit path.
type cell interface {
	version() uint64
	install(pending any, ver uint64)
}

type box[T any] struct {
	val T
	ver uint64
}

// Var is a single transactional cell. All reads and writes go through a Tx;
// Load is the only way to peek at the committed value without one.
type Var[T any] struct {
	cur atomic.Pointer[box[T]]
}

func NewVar[T any](val T) *Var[T] {
	v := &Var[T]{}
	v.cur.Store(&box[T]{val: val})
	return v
}

func (v *Var[T]) version() uint64 { return v.cur.Load().ver }

func (v *Var[T]) install(pending any, ver uint64) {
	v.cur.Store(&box[T]{val: pending.(*box[T]).val, ver: ver})
}

// Get returns the value as seen by tx: its own pending write if any,
// otherwise the committed value as of tx's snapshot.
func (v *Var[T]) Get(tx *Tx) T {
	tx.mustActive()
	if p, ok := tx.writes[v]; ok {
		return p.(*box[T]).val
	}
	b := v.cur.Load()
	tx.observe(v, b.ver)
	return b.val
}

// Set buffers a write in tx. Nothing is visible to other transactions
// until tx commits.
func (v *Var[T]) Set(tx *Tx, val T) {
	tx.mustActive()
	if _, ok := tx.writes[v]; !ok {
		tx.order = append(tx.order, v)
	}
	tx.writes[v] = &box[T]{val: val}
}

// Load returns the last committed value. Only for logging, metrics and
// tests; decisions must be made through Get.
func (v *Var[T]) Load() T {
	return v.cur.Load().val
}

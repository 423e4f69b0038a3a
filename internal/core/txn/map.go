package txn

import "sync"

type entry[V any] struct {
	val V
	ok  bool
}

// Map is a transactional map with one cell per key. Absent keys still get a
// cell on first access so that a transaction which observed "missing"
// conflicts with one that inserts the key.
type Map[K comparable, V any] struct {
	mu    sync.Mutex
	cells map[K]*Var[entry[V]]
}

func NewMap[K comparable, V any]() *Map[K, V] {
	return &Map[K, V]{cells: make(map[K]*Var[entry[V]])}
}

func (m *Map[K, V]) cell(k K) *Var[entry[V]] {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.cells[k]
	if !ok {
		c = NewVar(entry[V]{})
		m.cells[k] = c
	}
	return c
}

func (m *Map[K, V]) Get(tx *Tx, k K) (V, bool) {
	e := m.cell(k).Get(tx)
	return e.val, e.ok
}

func (m *Map[K, V]) Put(tx *Tx, k K, v V) {
	m.cell(k).Set(tx, entry[V]{val: v, ok: true})
}

func (m *Map[K, V]) Delete(tx *Tx, k K) {
	m.cell(k).Set(tx, entry[V]{})
}

// Keys returns every key present in tx's view. It reads every cell, so a
// non-exclusive caller conflicts with any concurrent insert or delete.
func (m *Map[K, V]) Keys(tx *Tx) []K {
	m.mu.Lock()
	keys := make([]K, 0, len(m.cells))
	cells := make([]*Var[entry[V]], 0, len(m.cells))
	for k, c := range m.cells {
		keys = append(keys, k)
		cells = append(cells, c)
	}
	m.mu.Unlock()

	out := keys[:0]
	for i, c := range cells {
		if c.Get(tx).ok {
			out = append(out, keys[i])
		}
	}
	return out
}

// Purge drops cells holding no value. Must run in an exclusive transaction;
// cells written by tx itself are kept.
func (m *Map[K, V]) Purge(tx *Tx) int {
	tx.MustExclusive("map purge")
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for k, c := range m.cells {
		if _, pending := tx.writes[c]; pending {
			continue
		}
		if !c.Load().ok {
			delete(m.cells, k)
			n++
		}
	}
	return n
}

package persist

import (
	"github.com/samber/oops"

	"github.com/l1jgo/worldcore/internal/core/txn"
)

// ErrUnresolvedReference aborts a load pass whose reference never found its
// target.
var ErrUnresolvedReference = txn.NewFatal("unresolved reference")

// DeferredReference is a reference token read during load. Resolve runs in
// the resolution pass after every file of the batch has been parsed; it
// reports false when the target does not exist.
type DeferredReference struct {
	Token   string
	File    string
	Line    int
	Resolve func(tx *txn.Tx) bool
}

// Deferred is the pending queue of one load pass.
type Deferred struct {
	refs []DeferredReference
}

func (d *Deferred) Add(ref DeferredReference) {
	d.refs = append(d.refs, ref)
}

func (d *Deferred) Len() int { return len(d.refs) }

// ResolveAll runs every callback once, in enqueue order, and empties the
// queue. The first missing target fails the whole pass.
func (d *Deferred) ResolveAll(tx *txn.Tx) (int, error) {
	refs := d.refs
	d.refs = nil
	for i, ref := range refs {
		if !ref.Resolve(tx) {
			return i, oops.In("persist").
				With("token", ref.Token).With("file", ref.File).With("line", ref.Line).
				Wrapf(ErrUnresolvedReference, "%s:%d: %s", ref.File, ref.Line, ref.Token)
		}
	}
	return len(refs), nil
}

package event

import (
	"reflect"
	"sync"

	"github.com/l1jgo/worldcore/internal/core/txn"
)

// Bus delivers structural change notifications. Events emitted inside a
// transaction reach subscribers only after that transaction commits, once,
// on the committing goroutine.
type Bus struct {
	mu       sync.RWMutex
	handlers map[reflect.Type][]any
}

func NewBus() *Bus {
	return &Bus{
		handlers: make(map[reflect.Type][]any),
	}
}

func typeKey[T any]() reflect.Type {
	return reflect.TypeOf((*T)(nil)).Elem()
}

// Subscribe registers a typed handler for events of type T.
func Subscribe[T any](b *Bus, fn func(T)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	t := typeKey[T]()
	b.handlers[t] = append(b.handlers[t], fn)
}

// Emit queues event for delivery when tx commits. A nil bus drops it.
func Emit[T any](tx *txn.Tx, b *Bus, event T) {
	if b == nil {
		return
	}
	tx.AfterCommit(func() { Publish(b, event) })
}

// Publish delivers event to its subscribers immediately.
func Publish[T any](b *Bus, event T) {
	b.mu.RLock()
	handlers := b.handlers[typeKey[T]()]
	b.mu.RUnlock()
	for _, h := range handlers {
		// Safe because Subscribe and Publish use the same type key.
		h.(func(T))(event)
	}
}

// Package events carries change notifications from the sync core to whoever renders state.
package events

import (
	"sync"
)

type Kind string

const (
	KindSyncStarted           Kind = "sync_started"
	KindSyncFinished          Kind = "sync_finished"
	KindArticlesChanged       Kind = "articles_changed"
	KindStarredChanged        Kind = "starred_changed"
	KindCurrentAccountChanged Kind = "current_account_changed"
)

type Event struct {
	Kind      Kind
	AccountID int64
	// FeedID is set when the change is limited to one feed.
	FeedID *int64
	// Err holds the failure of a finished sync.
	Err error
}

type Handler func(Event)

// Bus delivers events synchronously, in subscription order, on the publishing goroutine.
type Bus struct {
	mu       sync.RWMutex
	nextID   uint64
	handlers map[uint64]Handler
	order    []uint64
}

func NewBus() *Bus {
	return &Bus{handlers: make(map[uint64]Handler)}
}

// Subscribe registers handler and returns the function that removes it. Calling the returned
// function more than once is harmless.
func (b *Bus) Subscribe(handler Handler) func() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextID++
	id := b.nextID

	b.handlers[id] = handler
	b.order = append(b.order, id)

	var once sync.Once

	return func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()

			delete(b.handlers, id)
			for i, existing := range b.order {
				if existing == id {
					b.order = append(b.order[:i], b.order[i+1:]...)
					break
				}
			}
		})
	}
}

func (b *Bus) Publish(event Event) {
	if b == nil {
		return
	}

	b.mu.RLock()
	handlers := make([]Handler, 0, len(b.order))
	for _, id := range b.order {
		handlers = append(handlers, b.handlers[id])
	}
	b.mu.RUnlock()

	for _, handler := range handlers {
		handler(event)
	}
}

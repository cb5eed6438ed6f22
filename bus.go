package dustlink

import (
	"sync"

	"github.com/rs/xid"
)

// Subscription identifies one subscriber on a topic.
type Subscription struct {
	id xid.ID
}

// Topic is an independent multi-subscriber broadcast channel. Publish is
// fire-and-forget to all current subscribers; subscribing or unsubscribing
// does not affect a publish already in flight.
type Topic[T any] struct {
	mu   sync.RWMutex
	subs map[xid.ID]func(T)
}

func (t *Topic[T]) Subscribe(fn func(T)) Subscription {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.subs == nil {
		t.subs = map[xid.ID]func(T){}
	}
	id := xid.New()
	t.subs[id] = fn
	return Subscription{id: id}
}

func (t *Topic[T]) Unsubscribe(sub Subscription) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.subs, sub.id)
}

func (t *Topic[T]) Publish(v T) {
	t.mu.RLock()
	fns := make([]func(T), 0, len(t.subs))
	for _, fn := range t.subs {
		fns = append(fns, fn)
	}
	t.mu.RUnlock()
	for _, fn := range fns {
		fn(v)
	}
}

// NotificationBus carries the orchestrator's completion events, one topic
// per operation kind. Each event is delivered at most once per issued
// operation.
type NotificationBus struct {
	CreateComplete  Topic[bool]
	FindComplete    Topic[FindCompletion]
	JoinComplete    Topic[JoinCompletion]
	DestroyComplete Topic[bool]
	StartComplete   Topic[bool]
}

func NewNotificationBus() *NotificationBus {
	return &NotificationBus{}
}

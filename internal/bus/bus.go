// Package bus is an in-process publish/subscribe dispatcher with
// hierarchical dot-separated topics and glob subscriptions. Dispatch
// is synchronous and fire-and-forget: publishing calls every matching
// handler before returning, and delivery to zero subscribers is not
// an error.
package bus

import (
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
)

// Handler consumes one published message.
type Handler func(topic string, msg any)

// Subscription identifies one registered handler for removal.
type Subscription struct {
	pattern string
	id      uint64
}

// Bus routes published messages to handlers whose pattern matches the
// topic. Registration is safe for concurrent use; publishing follows
// the single-writer model of the rest of the core, with a read lock
// only to tolerate subscribers joining while the stream is live.
type Bus struct {
	mu     sync.RWMutex
	nextID uint64
	subs   map[string][]subscriber

	log *slog.Logger
}

type subscriber struct {
	id      uint64
	handler Handler
}

// New creates an empty bus.
func New(log *slog.Logger) *Bus {
	if log == nil {
		log = slog.Default()
	}
	return &Bus{
		subs: make(map[string][]subscriber),
		log:  log,
	}
}

// Subscribe registers a handler for every topic matching the pattern.
// Patterns are dot-separated; `*` matches exactly one segment, and a
// trailing `*` matches the entire remaining suffix. Character classes
// are not supported.
func (b *Bus) Subscribe(pattern string, handler Handler) (Subscription, error) {
	if pattern == "" {
		return Subscription{}, fmt.Errorf("bus: empty subscription pattern")
	}
	if handler == nil {
		return Subscription{}, fmt.Errorf("bus: nil handler for pattern %q", pattern)
	}
	if strings.ContainsAny(pattern, "[]") {
		return Subscription{}, fmt.Errorf("bus: character classes not supported in %q", pattern)
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextID++
	sub := Subscription{pattern: pattern, id: b.nextID}
	b.subs[pattern] = append(b.subs[pattern], subscriber{id: sub.id, handler: handler})
	return sub, nil
}

// Unsubscribe removes a previously registered handler. Unknown
// subscriptions are ignored.
func (b *Bus) Unsubscribe(sub Subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()

	entries := b.subs[sub.pattern]
	for i := range entries {
		if entries[i].id == sub.id {
			b.subs[sub.pattern] = append(entries[:i], entries[i+1:]...)
			break
		}
	}
	if len(b.subs[sub.pattern]) == 0 {
		delete(b.subs, sub.pattern)
	}
}

// Publish dispatches the message synchronously to every matching
// handler in registration order. No delivery guarantee exists beyond
// the handlers registered at call time.
func (b *Bus) Publish(topic string, msg any) {
	b.mu.RLock()
	// Map iteration is unordered, so sort matches by subscriber id to
	// keep registration order across patterns.
	var matched []subscriber
	for pattern, entries := range b.subs {
		if MatchTopic(pattern, topic) {
			matched = append(matched, entries...)
		}
	}
	b.mu.RUnlock()

	if len(matched) == 0 {
		b.log.Debug("message dropped, no subscribers", "topic", topic)
		return
	}
	sort.Slice(matched, func(i, j int) bool { return matched[i].id < matched[j].id })
	for _, s := range matched {
		s.handler(topic, msg)
	}
}

// SubscriberCount returns how many handlers would receive the topic.
func (b *Bus) SubscriberCount(topic string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()

	n := 0
	for pattern, entries := range b.subs {
		if MatchTopic(pattern, topic) {
			n += len(entries)
		}
	}
	return n
}

// MatchTopic reports whether a glob pattern matches a topic. Both are
// dot-separated paths; `*` consumes one segment, a trailing `*`
// consumes the rest.
func MatchTopic(pattern, topic string) bool {
	if pattern == topic {
		return true
	}
	pSegs := strings.Split(pattern, ".")
	tSegs := strings.Split(topic, ".")

	for i, p := range pSegs {
		if p == "*" && i == len(pSegs)-1 {
			// Trailing wildcard consumes the remaining suffix.
			return len(tSegs) >= len(pSegs)
		}
		if i >= len(tSegs) {
			return false
		}
		if p != "*" && p != tSegs[i] {
			return false
		}
	}
	return len(pSegs) == len(tSegs)
}

// Package bus implements the typed, thread-safe publish/subscribe event bus
// that mediates all inter-component data flow in pitchcore. Control
// flow between components remains direct method calls from the
// orchestrator; only data events travel through the bus.
package bus

import (
	"fmt"
	"reflect"
	"sync"

	"github.com/MiFaceDEV/pitchcore/internal/logging"
)

// Handler is a subscriber callback for event type E.
type Handler[E any] func(event E)

// handlerEntry wraps a registered handler along with enough information to
// find it again on Unsubscribe, since Go func values are not comparable.
type handlerEntry struct {
	id int64
	fn reflect.Value
}

// Stats summarizes bus activity for one event type.
type Stats struct {
	Subscribers int
	Published   uint64
	HandlerErrs uint64
}

// Bus is a typed, thread-safe, exception-isolated event bus. A handler
// registered for event type E is invoked synchronously, in registration
// order, every time an E is published, on the publisher's goroutine.
//
// Mutation (Subscribe/Unsubscribe) takes an internal lock briefly;
// Publish snapshots the handler list under that lock, releases it, then
// invokes handlers outside the lock. A failing handler is logged (and, via
// SetErrorSink, can be re-emitted as an Error event) but never stops the
// remaining handlers for that publication, nor propagates out of Publish.
type Bus struct {
	mu       sync.Mutex
	handlers map[reflect.Type][]handlerEntry
	stats    map[reflect.Type]*Stats
	nextID   int64
	logger   *logging.Logger
	onError  func(source string, err error)
}

// New creates an empty Bus. If logger is nil, a default stderr logger is
// used for handler-panic/error reporting.
func New(logger *logging.Logger) *Bus {
	if logger == nil {
		logger = logging.Default()
	}
	return &Bus{
		handlers: make(map[reflect.Type][]handlerEntry),
		stats:    make(map[reflect.Type]*Stats),
		logger:   logger,
	}
}

// SetErrorSink installs a callback invoked whenever a subscriber handler
// panics or is observed to fail. Typically wired by the orchestrator to
// re-publish as an Error event (see internal/bus.ErrorEvent).
func (b *Bus) SetErrorSink(fn func(source string, err error)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.onError = fn
}

func typeKeyOf[E any]() reflect.Type {
	var zero E
	return reflect.TypeOf(zero)
}

// Subscribe registers handler for event type E and returns a token that can
// be passed to Unsubscribe. A subscription that arrives concurrently with a
// Publish of the same event type is not guaranteed to receive that specific
// publication, but will receive every subsequent one.
func Subscribe[E any](b *Bus, handler Handler[E]) int64 {
	key := typeKeyOf[E]()

	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextID++
	id := b.nextID
	b.handlers[key] = append(b.handlers[key], handlerEntry{
		id: id,
		fn: reflect.ValueOf(handler),
	})
	if b.stats[key] == nil {
		b.stats[key] = &Stats{}
	}
	b.stats[key].Subscribers++
	return id
}

// Unsubscribe removes the handler registered under token. Returns true if a
// subscription existed and was removed.
func Unsubscribe[E any](b *Bus, token int64) bool {
	key := typeKeyOf[E]()

	b.mu.Lock()
	defer b.mu.Unlock()

	entries := b.handlers[key]
	for i, e := range entries {
		if e.id == token {
			b.handlers[key] = append(entries[:i], entries[i+1:]...)
			if s := b.stats[key]; s != nil && s.Subscribers > 0 {
				s.Subscribers--
			}
			return true
		}
	}
	return false
}

// SubscriberCount returns the number of handlers currently registered for
// event type E.
func SubscriberCount[E any](b *Bus) int {
	key := typeKeyOf[E]()
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.handlers[key])
}

// Publish invokes every subscriber registered for event type E, in
// registration order, synchronously on the calling goroutine. A handler
// panic is recovered, logged, counted, and reported to the error sink (if
// any); it never prevents the remaining handlers from running nor escapes
// Publish.
func Publish[E any](b *Bus, event E) {
	key := typeKeyOf[E]()

	b.mu.Lock()
	entries := make([]handlerEntry, len(b.handlers[key]))
	copy(entries, b.handlers[key])
	if b.stats[key] == nil {
		b.stats[key] = &Stats{}
	}
	b.stats[key].Published++
	logger := b.logger
	onError := b.onError
	b.mu.Unlock()

	eventVal := reflect.ValueOf(event)
	for _, e := range entries {
		invokeHandler(e.fn, eventVal, key, logger, onError, b)
	}
}

func invokeHandler(fn reflect.Value, eventVal reflect.Value, key reflect.Type, logger *logging.Logger, onError func(string, error), b *Bus) {
	defer func() {
		if r := recover(); r != nil {
			err := fmt.Errorf("bus handler for %s panicked: %v", key, r)
			logger.Printf("%v", err)

			b.mu.Lock()
			if s := b.stats[key]; s != nil {
				s.HandlerErrs++
			}
			b.mu.Unlock()

			if onError != nil {
				onError(key.String(), err)
			}
		}
	}()
	fn.Call([]reflect.Value{eventVal})
}

// StatsFor returns a snapshot of bus activity for event type E.
func StatsFor[E any](b *Bus) Stats {
	key := typeKeyOf[E]()
	b.mu.Lock()
	defer b.mu.Unlock()
	if s := b.stats[key]; s != nil {
		return *s
	}
	return Stats{}
}

// ClearAll removes every subscriber for every event type and resets stats.
// Intended for test teardown and session resets.
func (b *Bus) ClearAll() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers = make(map[reflect.Type][]handlerEntry)
	b.stats = make(map[reflect.Type]*Stats)
}

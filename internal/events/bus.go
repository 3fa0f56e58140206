package events

import (
	"context"
	"sync"

	"github.com/rs/zerolog"

	"github.com/energizer-project/rconctl/internal/util"
)

// HandlerFunc handles one event.
type HandlerFunc func(ctx context.Context, event Event) error

// Bus is an asynchronous publish-subscribe hub. Handlers are registered by
// name per event type and each delivery runs in its own goroutine.
type Bus struct {
	mu       sync.RWMutex
	handlers map[EventType][]handlerEntry
	stopCh   chan struct{}
	stopped  bool
	wg       sync.WaitGroup
	logger   zerolog.Logger
}

type handlerEntry struct {
	name    string
	handler HandlerFunc
}

// NewBus creates an empty bus.
func NewBus() *Bus {
	return &Bus{
		handlers: make(map[EventType][]handlerEntry),
		stopCh:   make(chan struct{}),
		logger:   util.ComponentLogger("events"),
	}
}

// Subscribe registers handler for eventType under name. Registering the same
// name twice replaces the earlier handler.
func (b *Bus) Subscribe(eventType EventType, name string, handler HandlerFunc) {
	b.mu.Lock()
	defer b.mu.Unlock()

	entries := b.handlers[eventType]
	for i, h := range entries {
		if h.name == name {
			entries[i].handler = handler
			return
		}
	}
	b.handlers[eventType] = append(entries, handlerEntry{name: name, handler: handler})

	b.logger.Debug().
		Str("event", string(eventType)).
		Str("handler", name).
		Msg("subscribed")
}

// Unsubscribe removes the named handler from eventType.
func (b *Bus) Unsubscribe(eventType EventType, name string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	entries, ok := b.handlers[eventType]
	if !ok {
		return
	}

	filtered := entries[:0:0]
	for _, h := range entries {
		if h.name != name {
			filtered = append(filtered, h)
		}
	}
	b.handlers[eventType] = filtered
}

// Emit delivers event to every subscriber without waiting.
func (b *Bus) Emit(ctx context.Context, event Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.stopped {
		return
	}

	entries := b.handlers[event.Type]
	if len(entries) == 0 {
		return
	}

	b.logger.Trace().
		Str("event", string(event.Type)).
		Str("source", event.Source).
		Int("handlers", len(entries)).
		Msg("emit")

	for _, h := range entries {
		b.wg.Add(1)
		go func() {
			defer b.wg.Done()
			b.deliver(ctx, h, event)
		}()
	}
}

// EmitSync delivers event and waits for all handlers. It returns the first
// handler error.
func (b *Bus) EmitSync(ctx context.Context, event Event) error {
	b.mu.RLock()
	if b.stopped {
		b.mu.RUnlock()
		return nil
	}
	entries := append([]handlerEntry(nil), b.handlers[event.Type]...)
	b.mu.RUnlock()

	var (
		firstErr error
		errOnce  sync.Once
		wg       sync.WaitGroup
	)
	for _, h := range entries {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := b.deliver(ctx, h, event); err != nil {
				errOnce.Do(func() { firstErr = err })
			}
		}()
	}
	wg.Wait()
	return firstErr
}

func (b *Bus) deliver(ctx context.Context, h handlerEntry, event Event) (err error) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error().
				Str("event", string(event.Type)).
				Str("handler", h.name).
				Interface("panic", r).
				Msg("handler panicked")
		}
	}()

	if err = h.handler(ctx, event); err != nil {
		b.logger.Error().
			Err(err).
			Str("event", string(event.Type)).
			Str("handler", h.name).
			Msg("handler failed")
	}
	return err
}

// Wait blocks until every handler started by Emit has returned.
func (b *Bus) Wait() {
	b.wg.Wait()
}

// Stop rejects further events and waits for in-flight handlers.
func (b *Bus) Stop() {
	b.mu.Lock()
	if b.stopped {
		b.mu.Unlock()
		return
	}
	b.stopped = true
	close(b.stopCh)
	b.mu.Unlock()

	b.wg.Wait()
	b.logger.Info().Msg("event bus stopped")
}

// StopCh is closed when the bus stops.
func (b *Bus) StopCh() <-chan struct{} {
	return b.stopCh
}

package stream

import "sync"

// AppState is a foreground/background lifecycle signal. The connection closes
// proactively in the background (battery and data conservation) and reconnects
// on return to foreground when subscriptions are outstanding.
type AppState string

const (
	AppForeground AppState = "foreground"
	AppBackground AppState = "background"
)

// LifecycleNotifier fans application lifecycle transitions out to listeners.
// It abstracts whatever platform signal drives foreground/background state, so
// the connection and its tests do not depend on one.
type LifecycleNotifier struct {
	mu       sync.Mutex
	handlers map[int]func(AppState)
	nextID   int
	state    AppState
}

// NewLifecycleNotifier creates a notifier starting in the foreground state.
func NewLifecycleNotifier() *LifecycleNotifier {
	return &LifecycleNotifier{
		handlers: make(map[int]func(AppState)),
		state:    AppForeground,
	}
}

// OnTransition registers a handler. The returned function removes it.
func (n *LifecycleNotifier) OnTransition(fn func(AppState)) func() {
	n.mu.Lock()
	id := n.nextID
	n.nextID++
	n.handlers[id] = fn
	n.mu.Unlock()

	return func() {
		n.mu.Lock()
		delete(n.handlers, id)
		n.mu.Unlock()
	}
}

// State returns the current lifecycle state.
func (n *LifecycleNotifier) State() AppState {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.state
}

// Notify transitions to the given state and invokes handlers. Repeated
// notifications of the current state are ignored.
func (n *LifecycleNotifier) Notify(state AppState) {
	n.mu.Lock()
	if n.state == state {
		n.mu.Unlock()
		return
	}
	n.state = state
	handlers := make([]func(AppState), 0, len(n.handlers))
	for _, fn := range n.handlers {
		handlers = append(handlers, fn)
	}
	n.mu.Unlock()

	for _, fn := range handlers {
		fn(state)
	}
}

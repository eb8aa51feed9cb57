// Package notify implements the Notification Sink (spec.md §4.6): an
// ordered list of caller-registered handlers invoked synchronously, in
// registration order, on every server-sent notification the core doesn't
// interpret itself (i.e. everything except notifications/cancelled, which
// the state machine handles directly).
//
// Grounded on the registration-list shape of the teacher's
// plugin.Registry (internal/plugin/registry.go): a mutex-guarded
// collection safe to register against from any goroutine, generalized
// from a name-keyed map to an ordered slice since handler order (not
// handler identity) is what spec.md requires.
package notify

import (
	"log/slog"
	"sync"
)

// Notification is the decoded payload handed to every registered handler.
type Notification struct {
	Method string
	Params []byte // raw JSON, left to the handler to unmarshal
}

// Handler observes one notification. Handlers are documented to be fast
// (<5 ms) and non-blocking: the core invokes them synchronously on its own
// goroutine (spec.md §9, "synchronous notification handlers").
type Handler func(Notification)

// Sink holds the ordered handler list. Registration is safe from any
// goroutine; Dispatch is only ever called from the core's single-owner
// event loop.
type Sink struct {
	mu       sync.Mutex
	handlers []Handler
	logger   *slog.Logger
}

// NewSink builds an empty Sink. A nil logger falls back to slog.Default().
func NewSink(logger *slog.Logger) *Sink {
	if logger == nil {
		logger = slog.Default()
	}
	return &Sink{logger: logger}
}

// Register appends a handler to the end of the invocation order.
func (s *Sink) Register(h Handler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handlers = append(s.handlers, h)
}

// Dispatch invokes every registered handler, in registration order,
// synchronously. A handler that panics is recovered and logged; it never
// prevents later handlers from running and never reaches the core's
// mailbox loop.
func (s *Sink) Dispatch(n Notification) {
	s.mu.Lock()
	handlers := make([]Handler, len(s.handlers))
	copy(handlers, s.handlers)
	s.mu.Unlock()

	for _, h := range handlers {
		s.invoke(h, n)
	}
}

func (s *Sink) invoke(h Handler, n Notification) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("notification handler panicked",
				"method", n.Method,
				"panic", r,
			)
		}
	}()
	h(n)
}

// Count returns the number of registered handlers, for tests.
func (s *Sink) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.handlers)
}

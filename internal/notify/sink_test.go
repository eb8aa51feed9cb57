package notify

import (
	"testing"
)

func TestDispatch_InvokesHandlersInRegistrationOrder(t *testing.T) {
	s := NewSink(nil)
	var order []int
	s.Register(func(Notification) { order = append(order, 1) })
	s.Register(func(Notification) { order = append(order, 2) })
	s.Register(func(Notification) { order = append(order, 3) })

	s.Dispatch(Notification{Method: "test/event"})

	if len(order) != 3 || order[0] != 1 || order[1] != 2 || order[2] != 3 {
		t.Fatalf("expected handlers invoked in order [1 2 3], got %v", order)
	}
}

func TestDispatch_PanicInOneHandlerDoesNotStopOthers(t *testing.T) {
	s := NewSink(nil)
	var secondRan bool
	s.Register(func(Notification) { panic("boom") })
	s.Register(func(Notification) { secondRan = true })

	s.Dispatch(Notification{Method: "test/event"})

	if !secondRan {
		t.Fatalf("expected the second handler to run despite the first panicking")
	}
}

func TestDispatch_PassesNotificationThrough(t *testing.T) {
	s := NewSink(nil)
	var got Notification
	s.Register(func(n Notification) { got = n })

	s.Dispatch(Notification{Method: "notifications/progress", Params: []byte(`{"pct":50}`)})

	if got.Method != "notifications/progress" {
		t.Fatalf("unexpected method %q", got.Method)
	}
	if string(got.Params) != `{"pct":50}` {
		t.Fatalf("unexpected params %q", got.Params)
	}
}

func TestCount(t *testing.T) {
	s := NewSink(nil)
	if s.Count() != 0 {
		t.Fatalf("expected empty sink to count 0")
	}
	s.Register(func(Notification) {})
	s.Register(func(Notification) {})
	if s.Count() != 2 {
		t.Fatalf("expected count 2, got %d", s.Count())
	}
}

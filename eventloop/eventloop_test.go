package eventloop_test

import (
	"context"
	"testing"
	"time"

	"github.com/relab/hetpaxos/eventloop"
)

type testEvent int

func TestHandler(t *testing.T) {
	el := eventloop.New(10)
	c := make(chan any)
	el.RegisterHandler(testEvent(0), func(event any) {
		c <- event
	})

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	go el.Run(ctx)

	want := testEvent(42)
	el.AddEvent(want)

	var event any
	select {
	case <-ctx.Done():
		t.Fatal("timed out")
	case event = <-c:
	}

	e, ok := event.(testEvent)
	if !ok {
		t.Fatalf("wrong type for event: got: %T, want: %T", event, want)
	}
	if e != want {
		t.Fatalf("wrong value for event: got: %v, want: %v", e, want)
	}
}

func TestPrioritizedHandlerRunsFirst(t *testing.T) {
	type eventData struct {
		priority bool
	}

	el := eventloop.New(10)
	c := make(chan eventData)
	el.RegisterHandler(testEvent(0), func(any) {
		c <- eventData{priority: false}
	})
	el.RegisterHandler(testEvent(0), func(any) {
		c <- eventData{priority: true}
	}, eventloop.Prioritize())

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	go el.Run(ctx)

	el.AddEvent(testEvent(42))

	for i := 0; i < 2; i++ {
		var data eventData
		select {
		case <-ctx.Done():
			t.Fatal("timed out")
		case data = <-c:
		}
		if i == 0 && !data.priority {
			t.Fatal("expected the prioritized handler to run first")
		}
		if i == 1 && data.priority {
			t.Fatal("expected the regular handler to run second")
		}
	}
}

func TestUnregisterHandler(t *testing.T) {
	el := eventloop.New(10)
	ran := false
	id := el.RegisterHandler(testEvent(0), func(any) {
		ran = true
	})
	el.UnregisterHandler(testEvent(0), id)

	el.AddEvent(testEvent(1))
	for el.Tick(context.Background()) {
	}

	if ran {
		t.Fatal("handler ran after being unregistered")
	}
}

func TestTicker(t *testing.T) {
	el := eventloop.New(10)
	count := 0
	el.RegisterHandler(testEvent(0), func(any) {
		count++
	})
	rate := 10 * time.Millisecond
	id := el.AddTicker(rate, func(time.Time) any { return testEvent(1) })

	ctx, cancel := context.WithTimeout(context.Background(), 10*rate)
	defer cancel()
	el.Run(ctx)

	// the ticker fires immediately, then at every interval. Allow for
	// some slack due to scheduling.
	if count < 5 {
		t.Errorf("ticked %d times, want at least 5", count)
	}

	if !el.RemoveTicker(id) {
		t.Error("RemoveTicker: got false, want true")
	}
	if el.RemoveTicker(id) {
		t.Error("RemoveTicker on removed ticker: got true, want false")
	}
}

func TestDelayUntil(t *testing.T) {
	type otherEvent int

	el := eventloop.New(10)
	var order []any
	el.RegisterHandler(testEvent(0), func(event any) {
		order = append(order, event)
	})
	el.RegisterHandler(otherEvent(0), func(event any) {
		order = append(order, event)
	})

	el.DelayUntil(otherEvent(0), testEvent(2))
	el.AddEvent(otherEvent(1))

	ctx := context.Background()
	for el.Tick(ctx) {
	}

	if len(order) != 2 {
		t.Fatalf("handled %d events, want 2", len(order))
	}
	if order[0] != otherEvent(1) || order[1] != testEvent(2) {
		t.Fatalf("events handled in wrong order: %v", order)
	}
}

func TestRunDrainsQueueOnCancel(t *testing.T) {
	el := eventloop.New(10)
	count := 0
	el.RegisterHandler(testEvent(0), func(any) {
		count++
	})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	for i := 0; i < 3; i++ {
		el.AddEvent(testEvent(i))
	}
	el.Run(ctx)

	if count != 3 {
		t.Fatalf("handled %d events, want 3", count)
	}
}

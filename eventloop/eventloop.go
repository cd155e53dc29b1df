// Package eventloop provides an event dispatching loop.
// All consensus state in this module is owned by handlers registered on a
// single event loop, which serializes every mutation without per-component
// locking: link workers and tickers push events concurrently, but handlers
// run one at a time on the goroutine that called Run.
package eventloop

import (
	"context"
	"reflect"
	"sync"
	"time"
)

// EventHandler processes an event.
type EventHandler func(event any)

type handlerOpts struct {
	priority bool
}

// HandlerOption sets configuration options for event handlers.
type HandlerOption func(*handlerOpts)

// Prioritize instructs the event loop to run the handler before handlers
// that do not have priority. It should only be used by handlers that must
// observe an event before the rest of the system reacts to it.
func Prioritize() HandlerOption {
	return func(ho *handlerOpts) {
		ho.priority = true
	}
}

type handler struct {
	callback EventHandler
	opts     handlerOpts
}

type ticker struct {
	interval time.Duration
	callback func(tick time.Time) (event any)
	cancel   context.CancelFunc
}

type startTickerEvent struct {
	tickerID int
}

// EventLoop accepts events of any type and executes the handlers registered
// for each event's dynamic type.
type EventLoop struct {
	eventQ queue

	mut sync.Mutex // protects the following:

	ctx           context.Context // set by Run
	handlers      map[reflect.Type][]handler
	waitingEvents map[reflect.Type][]any
	tickers       map[int]*ticker
	tickerID      int
}

// New returns a new event loop with the requested queue capacity.
func New(bufferSize uint) *EventLoop {
	return &EventLoop{
		ctx:           context.Background(),
		eventQ:        newQueue(bufferSize),
		handlers:      make(map[reflect.Type][]handler),
		waitingEvents: make(map[reflect.Type][]any),
		tickers:       make(map[int]*ticker),
	}
}

// RegisterHandler registers a handler for the dynamic type of eventType.
// The returned id can be used to unregister the handler.
func (el *EventLoop) RegisterHandler(eventType any, callback EventHandler, opts ...HandlerOption) int {
	h := handler{callback: callback}
	for _, opt := range opts {
		opt(&h.opts)
	}

	el.mut.Lock()
	defer el.mut.Unlock()

	t := reflect.TypeOf(eventType)
	handlers := el.handlers[t]

	// reuse a free slot if a handler was unregistered earlier
	i := 0
	for ; i < len(handlers); i++ {
		if handlers[i].callback == nil {
			break
		}
	}
	if i == len(handlers) {
		handlers = append(handlers, h)
	} else {
		handlers[i] = h
	}
	el.handlers[t] = handlers
	return i
}

// UnregisterHandler unregisters the handler with the given id.
func (el *EventLoop) UnregisterHandler(eventType any, id int) {
	el.mut.Lock()
	defer el.mut.Unlock()
	el.handlers[reflect.TypeOf(eventType)][id].callback = nil
}

// AddEvent adds an event to the queue. It is safe to call from any goroutine.
func (el *EventLoop) AddEvent(event any) {
	if event != nil {
		el.eventQ.push(event)
	}
}

// Context returns the context associated with the event loop, which is the
// context passed to Run (or Tick). Before either has been called, Context
// returns context.Background.
func (el *EventLoop) Context() context.Context {
	el.mut.Lock()
	defer el.mut.Unlock()
	return el.ctx
}

func (el *EventLoop) setContext(ctx context.Context) {
	el.mut.Lock()
	defer el.mut.Unlock()
	el.ctx = ctx
}

// Run processes events until ctx is canceled. Events remaining in the queue
// at cancellation are processed before Run returns.
func (el *EventLoop) Run(ctx context.Context) {
	el.setContext(ctx)

loop:
	for {
		event, ok := el.eventQ.pop()
		if !ok {
			select {
			case <-el.eventQ.ready():
				continue loop
			case <-ctx.Done():
				break loop
			}
		}
		if e, ok := event.(startTickerEvent); ok {
			el.startTicker(e.tickerID)
			continue
		}
		el.processEvent(event)
	}

	// drain the queue so that no accepted event is silently dropped
	l := el.eventQ.len()
	for i := 0; i < l; i++ {
		event, _ := el.eventQ.pop()
		el.processEvent(event)
	}
}

// Tick processes a single event. It returns true if an event was handled.
func (el *EventLoop) Tick(ctx context.Context) bool {
	el.setContext(ctx)

	event, ok := el.eventQ.pop()
	if !ok {
		return false
	}

	if e, ok := event.(startTickerEvent); ok {
		el.startTicker(e.tickerID)
	} else {
		el.processEvent(event)
	}
	return true
}

// processEvent dispatches the event to the registered handlers, priority
// handlers first.
func (el *EventLoop) processEvent(event any) {
	t := reflect.TypeOf(event)
	defer el.dispatchDelayedEvents(t)

	// copy the handlers under the lock, run them outside of it
	var priority, regular []EventHandler
	el.mut.Lock()
	for _, h := range el.handlers[t] {
		if h.callback == nil {
			continue
		}
		if h.opts.priority {
			priority = append(priority, h.callback)
		} else {
			regular = append(regular, h.callback)
		}
	}
	el.mut.Unlock()

	for _, callback := range priority {
		callback(event)
	}
	for _, callback := range regular {
		callback(event)
	}
}

func (el *EventLoop) dispatchDelayedEvents(t reflect.Type) {
	el.mut.Lock()
	events, ok := el.waitingEvents[t]
	if ok {
		delete(el.waitingEvents, t)
	}
	el.mut.Unlock()

	for _, event := range events {
		el.AddEvent(event)
	}
}

// DelayUntil delays the handling of event until after an event with the
// dynamic type of eventType has been handled.
func (el *EventLoop) DelayUntil(eventType, event any) {
	if eventType == nil || event == nil {
		return
	}
	el.mut.Lock()
	t := reflect.TypeOf(eventType)
	el.waitingEvents[t] = append(el.waitingEvents[t], event)
	el.mut.Unlock()
}

// AddTicker adds a ticker with the given interval and returns its id.
// At each tick, callback is invoked and the event it returns is added to the
// queue. The ticker does not start before the event loop is running, and it
// fires immediately once started.
func (el *EventLoop) AddTicker(interval time.Duration, callback func(tick time.Time) (event any)) int {
	el.mut.Lock()
	id := el.tickerID
	el.tickerID++
	el.tickers[id] = &ticker{
		interval: interval,
		callback: callback,
		cancel:   func() {},
	}
	el.mut.Unlock()

	// the ticker must inherit the context of the event loop,
	// so it is started from inside the run loop.
	el.eventQ.push(startTickerEvent{tickerID: id})
	return id
}

// RemoveTicker removes the ticker with the given id, returning false if no
// such ticker exists.
func (el *EventLoop) RemoveTicker(id int) bool {
	el.mut.Lock()
	defer el.mut.Unlock()
	ticker, ok := el.tickers[id]
	if !ok {
		return false
	}
	ticker.cancel()
	delete(el.tickers, id)
	return true
}

func (el *EventLoop) startTicker(id int) {
	// hold the lock so the ticker cannot be removed while starting
	el.mut.Lock()
	defer el.mut.Unlock()
	ticker, ok := el.tickers[id]
	if !ok {
		return
	}
	ctx, cancel := context.WithCancel(el.ctx)
	ticker.cancel = cancel
	go el.runTicker(ctx, ticker)
}

func (el *EventLoop) runTicker(ctx context.Context, ticker *ticker) {
	t := time.NewTicker(ticker.interval)
	defer t.Stop()

	if ctx.Err() != nil {
		return
	}

	// fire immediately; waiting a full interval before the first event
	// would delay reconnects and proposals at startup.
	el.AddEvent(ticker.callback(time.Now()))

	for {
		select {
		case tick := <-t.C:
			el.AddEvent(ticker.callback(tick))
		case <-ctx.Done():
			return
		}
	}
}

package eventloop

import "sync"

// queue is a bounded FIFO. If an entry is pushed while the queue is full,
// the oldest entry is dropped.
type queue struct {
	mut       sync.Mutex
	entries   []any
	head      int
	size      int
	readyChan chan struct{}
}

func newQueue(capacity uint) queue {
	return queue{
		entries:   make([]any, capacity),
		readyChan: make(chan struct{}, 1),
	}
}

func (q *queue) push(entry any) {
	q.mut.Lock()
	defer q.mut.Unlock()

	if len(q.entries) == 0 {
		panic("cannot push to a queue with capacity 0")
	}

	if q.size == len(q.entries) {
		// full: overwrite the oldest entry
		q.entries[q.head] = entry
		q.head = (q.head + 1) % len(q.entries)
	} else {
		q.entries[(q.head+q.size)%len(q.entries)] = entry
		q.size++
	}

	select {
	case q.readyChan <- struct{}{}:
	default:
	}
}

func (q *queue) pop() (entry any, ok bool) {
	q.mut.Lock()
	defer q.mut.Unlock()

	if q.size == 0 {
		return nil, false
	}

	entry = q.entries[q.head]
	q.entries[q.head] = nil
	q.head = (q.head + 1) % len(q.entries)
	q.size--

	return entry, true
}

func (q *queue) len() int {
	q.mut.Lock()
	defer q.mut.Unlock()
	return q.size
}

// ready returns a channel that receives a value when an entry has been
// pushed to an empty queue.
func (q *queue) ready() <-chan struct{} {
	return q.readyChan
}

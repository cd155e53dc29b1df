// Package learner records consensus decisions on behalf of the local node.
package learner

import (
	"sync"

	"github.com/relab/hetpaxos"
	"github.com/relab/hetpaxos/eventloop"
	"github.com/relab/hetpaxos/logging"
)

// Learner collects decide events and exposes the decided value per learner
// identity. A decision, once recorded, never changes.
type Learner struct {
	logger logging.Logger

	mut       sync.Mutex
	decisions map[string]hetpaxos.Hash
	callbacks []func(hetpaxos.DecideEvent)
}

// New returns a learner that records every decide event on the event loop.
func New(eventLoop *eventloop.EventLoop, logger logging.Logger) *Learner {
	l := &Learner{
		logger:    logger,
		decisions: make(map[string]hetpaxos.Hash),
	}
	eventLoop.RegisterHandler(hetpaxos.DecideEvent{}, func(event any) {
		l.onDecide(event.(hetpaxos.DecideEvent))
	})
	return l
}

func (l *Learner) onDecide(event hetpaxos.DecideEvent) {
	l.mut.Lock()
	prev, ok := l.decisions[event.Learner]
	if ok {
		l.mut.Unlock()
		if prev != event.Value {
			// the configuration failed to guarantee pairwise safety
			// for this learner; the first decision stands
			l.logger.Errorf("learner %s: conflicting decision %v (kept %v)", event.Learner, event.Value, prev)
		}
		return
	}
	l.decisions[event.Learner] = event.Value
	callbacks := l.callbacks
	l.mut.Unlock()

	l.logger.Infof("learner %s decided %v", event.Learner, event.Value)
	for _, cb := range callbacks {
		cb(event)
	}
}

// Decision returns the value decided for the given learner, if any.
func (l *Learner) Decision(learner string) (hetpaxos.Hash, bool) {
	l.mut.Lock()
	defer l.mut.Unlock()
	h, ok := l.decisions[learner]
	return h, ok
}

// Decisions returns a snapshot of all decisions made so far.
func (l *Learner) Decisions() map[string]hetpaxos.Hash {
	l.mut.Lock()
	defer l.mut.Unlock()
	snapshot := make(map[string]hetpaxos.Hash, len(l.decisions))
	for k, v := range l.decisions {
		snapshot[k] = v
	}
	return snapshot
}

// RegisterCallback adds a function to be called for each new decision.
// Callbacks run on the event loop goroutine and must not block.
func (l *Learner) RegisterCallback(cb func(hetpaxos.DecideEvent)) {
	l.mut.Lock()
	defer l.mut.Unlock()
	l.callbacks = append(l.callbacks, cb)
}

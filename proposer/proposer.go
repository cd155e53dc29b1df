// Package proposer drives ballots for a single proposed value.
package proposer

import (
	"time"

	"github.com/relab/hetpaxos"
	"github.com/relab/hetpaxos/crypto"
	"github.com/relab/hetpaxos/eventloop"
	"github.com/relab/hetpaxos/internal/proto/hetpaxospb"
	"github.com/relab/hetpaxos/logging"
)

// Sender broadcasts a message to all connected peers.
type Sender interface {
	Broadcast(msg *hetpaxospb.ConsensusMessage)
}

// Proposer repeatedly issues ballots for one value until every learner it
// cares about has decided. Each ballot carries a fresh timestamp so that a
// later ballot always outranks an earlier one for the same value.
type Proposer struct {
	eventLoop *eventloop.EventLoop
	logger    logging.Logger
	sender    Sender

	name      string
	valueHash hetpaxos.Hash
	interval  time.Duration

	learners    map[string]bool // learner name -> decided
	tickerID    int
	active      bool
	lastPropose time.Time
}

// New returns a proposer for the given value. The proposer stays idle until
// Start is called.
func New(
	eventLoop *eventloop.EventLoop,
	logger logging.Logger,
	sender Sender,
	name string,
	value []byte,
	learners []string,
	interval time.Duration,
) *Proposer {
	p := &Proposer{
		eventLoop: eventLoop,
		logger:    logger,
		sender:    sender,
		name:      name,
		valueHash: crypto.HashValue(value),
		interval:  interval,
		learners:  make(map[string]bool, len(learners)),
		tickerID:  -1,
	}
	for _, l := range learners {
		p.learners[l] = false
	}
	eventLoop.RegisterHandler(hetpaxos.DecideEvent{}, func(event any) {
		p.onDecide(event.(hetpaxos.DecideEvent))
	})
	eventLoop.RegisterHandler(hetpaxos.PeerConnectedEvent{}, func(event any) {
		p.onPeerConnected(event.(hetpaxos.PeerConnectedEvent))
	})
	return p
}

// Start issues the first ballot and schedules re-proposals. It must be
// called from the event loop goroutine, for example via DelayUntil.
func (p *Proposer) Start() {
	if p.active || p.done() {
		return
	}
	p.active = true
	p.propose(time.Now())
	p.tickerID = p.eventLoop.AddTicker(p.interval, func(tick time.Time) (event any) {
		return proposeTickEvent{tick: tick}
	})
	p.eventLoop.RegisterHandler(proposeTickEvent{}, func(event any) {
		p.onTick(event.(proposeTickEvent))
	})
}

// ValueHash returns the hash of the value this proposer drives.
func (p *Proposer) ValueHash() hetpaxos.Hash {
	return p.valueHash
}

type proposeTickEvent struct {
	tick time.Time
}

func (p *Proposer) onTick(event proposeTickEvent) {
	if !p.active {
		return
	}
	// the ticker fires once immediately when started, right after the
	// initial proposal; skip ticks that land inside the current interval
	if event.tick.Sub(p.lastPropose) < p.interval/2 {
		return
	}
	p.propose(event.tick)
}

// propose broadcasts a ballot with a fresh timestamp and delivers it to the
// local acceptor as well, since broadcasts do not loop back.
func (p *Proposer) propose(now time.Time) {
	p.lastPropose = now
	ballot := hetpaxos.NewBallot(now, p.valueHash)
	p.logger.Debugf("proposing ballot %v", ballot)
	p.sender.Broadcast(hetpaxospb.BallotMessage(ballot))
	p.eventLoop.AddEvent(hetpaxos.BallotMsg{From: p.name, Ballot: ballot})
}

// onPeerConnected re-proposes immediately so a reconnecting peer catches up
// without waiting for the next tick.
func (p *Proposer) onPeerConnected(event hetpaxos.PeerConnectedEvent) {
	if !p.active || p.done() {
		return
	}
	p.logger.Debugf("peer %s connected, re-proposing", event.Name)
	p.propose(time.Now())
}

func (p *Proposer) onDecide(event hetpaxos.DecideEvent) {
	if _, tracked := p.learners[event.Learner]; !tracked {
		return
	}
	p.learners[event.Learner] = true
	if p.active && p.done() {
		p.active = false
		p.eventLoop.RemoveTicker(p.tickerID)
		p.logger.Infof("all learners decided, stopping proposals")
	}
}

func (p *Proposer) done() bool {
	for _, decided := range p.learners {
		if !decided {
			return false
		}
	}
	return true
}

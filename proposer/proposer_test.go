package proposer_test

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/relab/hetpaxos"
	"github.com/relab/hetpaxos/crypto"
	"github.com/relab/hetpaxos/eventloop"
	"github.com/relab/hetpaxos/internal/proto/hetpaxospb"
	"github.com/relab/hetpaxos/logging"
	"github.com/relab/hetpaxos/proposer"
)

type recordingSender struct {
	msgs []*hetpaxospb.ConsensusMessage
}

func (s *recordingSender) Broadcast(msg *hetpaxospb.ConsensusMessage) {
	s.msgs = append(s.msgs, msg)
}

func drain(el *eventloop.EventLoop) {
	for el.Tick(context.Background()) {
	}
}

func TestProposerBroadcastsAndSelfDelivers(t *testing.T) {
	el := eventloop.New(10)
	sender := &recordingSender{}
	p := proposer.New(el, logging.NewWithDest(io.Discard, "test"), sender, "a", []byte("v"), []string{"L"}, time.Hour)

	var local []hetpaxos.BallotMsg
	el.RegisterHandler(hetpaxos.BallotMsg{}, func(event any) {
		local = append(local, event.(hetpaxos.BallotMsg))
	})

	p.Start()
	drain(el)

	if len(sender.msgs) != 1 || sender.msgs[0].GetBallot() == nil {
		t.Fatalf("expected one broadcast ballot, got %v", sender.msgs)
	}
	if len(local) != 1 {
		t.Fatalf("expected self-delivered ballot, got %d", len(local))
	}
	if local[0].From != "a" {
		t.Errorf("self-delivered ballot From: got %q, want %q", local[0].From, "a")
	}
	want := crypto.HashValue([]byte("v"))
	if local[0].Ballot.ValueHash != want {
		t.Errorf("ballot value hash: got %v, want %v", local[0].Ballot.ValueHash, want)
	}
}

func TestProposerReProposesOnPeerConnect(t *testing.T) {
	el := eventloop.New(10)
	sender := &recordingSender{}
	p := proposer.New(el, logging.NewWithDest(io.Discard, "test"), sender, "a", []byte("v"), []string{"L"}, time.Hour)

	p.Start()
	el.AddEvent(hetpaxos.PeerConnectedEvent{Name: "b"})
	drain(el)

	if len(sender.msgs) != 2 {
		t.Fatalf("got %d broadcasts, want 2", len(sender.msgs))
	}
	first := sender.msgs[0].GetBallot()
	second := sender.msgs[1].GetBallot()
	if first == nil || second == nil {
		t.Fatal("expected ballot messages")
	}
}

func TestProposerTimestampsIncrease(t *testing.T) {
	el := eventloop.New(10)
	sender := &recordingSender{}
	p := proposer.New(el, logging.NewWithDest(io.Discard, "test"), sender, "a", []byte("v"), []string{"L"}, time.Hour)

	p.Start()
	drain(el)
	time.Sleep(time.Millisecond)
	el.AddEvent(hetpaxos.PeerConnectedEvent{Name: "b"})
	drain(el)

	b1 := hetpaxospb.BallotFromProto(sender.msgs[0].GetBallot())
	b2 := hetpaxospb.BallotFromProto(sender.msgs[1].GetBallot())
	if b2.Compare(b1) <= 0 {
		t.Fatalf("later ballot %v does not outrank earlier %v", b2, b1)
	}
}

func TestProposerStopsWhenAllLearnersDecide(t *testing.T) {
	el := eventloop.New(10)
	sender := &recordingSender{}
	p := proposer.New(el, logging.NewWithDest(io.Discard, "test"), sender, "a", []byte("v"), []string{"L1", "L2"}, time.Hour)

	p.Start()
	el.AddEvent(hetpaxos.DecideEvent{Learner: "L1", Value: p.ValueHash()})
	el.AddEvent(hetpaxos.PeerConnectedEvent{Name: "b"})
	drain(el)

	// one learner still undecided, peer connect re-proposes
	if len(sender.msgs) != 2 {
		t.Fatalf("got %d broadcasts, want 2", len(sender.msgs))
	}

	el.AddEvent(hetpaxos.DecideEvent{Learner: "L2", Value: p.ValueHash()})
	el.AddEvent(hetpaxos.PeerConnectedEvent{Name: "c"})
	drain(el)

	if len(sender.msgs) != 2 {
		t.Fatalf("proposer kept proposing after all learners decided: %d broadcasts", len(sender.msgs))
	}
}

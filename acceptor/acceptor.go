// Package acceptor implements the acceptor state machine: the promise
// discipline over ballots and the monotonically growing attestation set.
package acceptor

import (
	"github.com/relab/hetpaxos"
	"github.com/relab/hetpaxos/crypto"
	"github.com/relab/hetpaxos/eventloop"
	"github.com/relab/hetpaxos/internal/proto/hetpaxospb"
	"github.com/relab/hetpaxos/logging"
	"github.com/relab/hetpaxos/quorums"
)

// Sender broadcasts a consensus message to all connected peers.
// It is implemented by backend.LinkManager.
type Sender interface {
	Broadcast(msg *hetpaxospb.ConsensusMessage)
}

// Acceptor holds the per-node consensus state. All of its state is mutated
// only by event handlers, so it runs entirely on the event loop goroutine.
//
// The state never shrinks within a run: the promised ballot only increases
// and attested hashes are only added. The static safety certification in the
// quorums package depends on this monotonicity.
type Acceptor struct {
	eventLoop *eventloop.EventLoop
	logger    logging.Logger
	signer    *crypto.Signer
	verifier  *crypto.Verifier
	evaluator *quorums.Evaluator
	sender    Sender

	name string // our own short name

	promised    *hetpaxos.Ballot
	attested    []hetpaxos.Hash
	attestedSet map[hetpaxos.Hash]struct{}
}

// New returns an acceptor and registers its handlers on the event loop.
func New(
	eventLoop *eventloop.EventLoop,
	logger logging.Logger,
	signer *crypto.Signer,
	verifier *crypto.Verifier,
	evaluator *quorums.Evaluator,
	sender Sender,
	name string,
) *Acceptor {
	a := &Acceptor{
		eventLoop:   eventLoop,
		logger:      logger,
		signer:      signer,
		verifier:    verifier,
		evaluator:   evaluator,
		sender:      sender,
		name:        name,
		attestedSet: make(map[hetpaxos.Hash]struct{}),
	}
	eventLoop.RegisterHandler(hetpaxos.BallotMsg{}, func(event any) {
		a.onBallot(event.(hetpaxos.BallotMsg))
	})
	eventLoop.RegisterHandler(hetpaxos.AttestMsg{}, func(event any) {
		a.onAttestation(event.(hetpaxos.AttestMsg))
	})
	return a
}

// onBallot applies the promise discipline: a ballot strictly greater than
// the current promise raises the promise, adds the ballot's value hash to
// the attestation set, and broadcasts the newly signed set. Anything else is
// ignored, which is normal protocol operation rather than an error.
func (a *Acceptor) onBallot(msg hetpaxos.BallotMsg) {
	b := msg.Ballot
	if a.promised != nil && b.Compare(*a.promised) <= 0 {
		a.logger.Debugf("ignoring stale ballot %v from %s (promised %v)", b, msg.From, *a.promised)
		return
	}
	a.promised = &b
	if _, ok := a.attestedSet[b.ValueHash]; !ok {
		a.attestedSet[b.ValueHash] = struct{}{}
		a.attested = append(a.attested, b.ValueHash)
	}

	signature, err := a.signer.Sign(a.attested)
	if err != nil {
		a.logger.Errorf("failed to sign attestation set: %v", err)
		return
	}
	a.logger.Debugf("promised %v, attesting %d hashes", b, len(a.attested))
	a.sender.Broadcast(hetpaxospb.AttestationMessage(a.attested, signature))
	// our own attestation counts too; the broadcast does not loop back
	a.evaluator.Attest(a.name, a.attested)
}

// onAttestation verifies an inbound attestation and, if valid, forwards the
// attested hashes to the quorum evaluator. Invalid attestations are dropped
// without any state change.
func (a *Acceptor) onAttestation(msg hetpaxos.AttestMsg) {
	if !a.verifier.Verify(msg.From, msg.Hashes, msg.Signature) {
		return
	}
	a.evaluator.Attest(msg.From, msg.Hashes)
}

// Promised returns the currently promised ballot, if any.
func (a *Acceptor) Promised() (hetpaxos.Ballot, bool) {
	if a.promised == nil {
		return hetpaxos.Ballot{}, false
	}
	return *a.promised, true
}

// Attested returns a copy of the attestation set, in insertion order.
func (a *Acceptor) Attested() []hetpaxos.Hash {
	out := make([]hetpaxos.Hash, len(a.attested))
	copy(out, a.attested)
	return out
}

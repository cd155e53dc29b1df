// Package hetpaxos defines the core types shared by the components of a
// Heterogeneous Paxos node.
//
// Heterogeneous Paxos generalizes Byzantine Paxos in two directions: an
// acceptor attests to a monotonically growing set of value hashes instead of
// a single accepted value, and each learner decides based on its own quorum
// system rather than a global majority. The packages of this module split the
// protocol into the acceptor state machine (acceptor), the quorum evaluator
// (quorums), the learner (learner), the proposer (proposer), and the peer
// link transport (backend), all funneling through a single event loop
// (eventloop) that serializes access to consensus state.
package hetpaxos

import (
	"fmt"
	"time"
)

// Hash is a 256-bit content identifier of a proposed value.
// Equality is byte-wise; collisions are assumed negligible.
type Hash [32]byte

func (h Hash) String() string {
	return fmt.Sprintf("%x", h[:])
}

// Timestamp is the ballot timestamp as it appears on the wire.
// It is kept as a (seconds, nanos) pair rather than a time.Time so that the
// ballot order compares exactly what was transmitted.
type Timestamp struct {
	Seconds int64
	Nanos   int32
}

// NewTimestamp converts a time.Time to a Timestamp.
func NewTimestamp(t time.Time) Timestamp {
	return Timestamp{Seconds: t.Unix(), Nanos: int32(t.Nanosecond())}
}

// Compare returns -1, 0, or 1 depending on whether ts is ordered before,
// equal to, or after other.
func (ts Timestamp) Compare(other Timestamp) int {
	switch {
	case ts.Seconds < other.Seconds:
		return -1
	case ts.Seconds > other.Seconds:
		return 1
	case ts.Nanos < other.Nanos:
		return -1
	case ts.Nanos > other.Nanos:
		return 1
	}
	return 0
}

// Ballot identifies a proposal. Ballots are totally ordered by timestamp,
// with the value hash as an unsigned big-endian integer breaking ties.
type Ballot struct {
	Timestamp Timestamp
	ValueHash Hash
}

// NewBallot returns a ballot for the given value hash, stamped with t.
func NewBallot(t time.Time, valueHash Hash) Ballot {
	return Ballot{Timestamp: NewTimestamp(t), ValueHash: valueHash}
}

// Compare returns -1, 0, or 1 depending on whether b is ordered before,
// equal to, or after other. The order is strict and total: two ballots
// compare equal only if both fields are equal.
func (b Ballot) Compare(other Ballot) int {
	if c := b.Timestamp.Compare(other.Timestamp); c != 0 {
		return c
	}
	// byte-wise comparison of big-endian bytes is unsigned integer order
	for i := range b.ValueHash {
		switch {
		case b.ValueHash[i] < other.ValueHash[i]:
			return -1
		case b.ValueHash[i] > other.ValueHash[i]:
			return 1
		}
	}
	return 0
}

func (b Ballot) String() string {
	return fmt.Sprintf("Ballot{ %d.%09d, %.12s }", b.Timestamp.Seconds, b.Timestamp.Nanos, b.ValueHash.String())
}

// BallotMsg is a ballot received from a peer (or from the local proposer).
type BallotMsg struct {
	From   string // short name of the sender
	Ballot Ballot
}

// AttestMsg is a signed attestation set received from a peer. Signature is
// the sender's signature over the canonical encoding of Hashes; it has not
// yet been verified when this message is put on the event loop.
type AttestMsg struct {
	From      string
	Hashes    []Hash
	Signature []byte
}

// DecideEvent is the terminal event for a (learner, value) pair. It is
// emitted by the quorum evaluator exactly once per pair.
type DecideEvent struct {
	Learner string
	Value   Hash
}

// PeerConnectedEvent is emitted when a live link to a peer is established.
// It is also emitted when a newer link replaces a previous one.
type PeerConnectedEvent struct {
	Name string
}

// PeerDisconnectedEvent is emitted when the live link to a peer is lost and
// not (yet) replaced.
type PeerDisconnectedEvent struct {
	Name string
}

// ExponentialBackoff describes a retry delay of the form
// Base * ExponentBase ^ min(attempt, MaxExponent).
type ExponentialBackoff struct {
	Base         time.Duration
	ExponentBase float64
	MaxExponent  uint
}

// Duration returns the delay to use before the given retry attempt.
// Attempt numbering starts at 0, which yields Base.
func (eb ExponentialBackoff) Duration(attempt uint) time.Duration {
	if attempt > eb.MaxExponent {
		attempt = eb.MaxExponent
	}
	d := float64(eb.Base)
	for i := uint(0); i < attempt; i++ {
		d *= eb.ExponentBase
	}
	return time.Duration(d)
}

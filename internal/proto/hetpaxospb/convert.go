package hetpaxospb

import (
	"encoding/binary"
	"fmt"
	"sort"

	"github.com/relab/hetpaxos"
)

// HashToProto converts a hash to its wire representation.
// The four words hold the hash bytes in big-endian order.
func HashToProto(h hetpaxos.Hash) *Hash256 {
	return &Hash256{
		Bytes0Through7:   binary.BigEndian.Uint64(h[0:8]),
		Bytes8Through15:  binary.BigEndian.Uint64(h[8:16]),
		Bytes16Through23: binary.BigEndian.Uint64(h[16:24]),
		Bytes24Through31: binary.BigEndian.Uint64(h[24:32]),
	}
}

// HashFromProto converts a wire hash to a hetpaxos.Hash.
func HashFromProto(h *Hash256) (out hetpaxos.Hash) {
	if h == nil {
		return out
	}
	binary.BigEndian.PutUint64(out[0:8], h.Bytes0Through7)
	binary.BigEndian.PutUint64(out[8:16], h.Bytes8Through15)
	binary.BigEndian.PutUint64(out[16:24], h.Bytes16Through23)
	binary.BigEndian.PutUint64(out[24:32], h.Bytes24Through31)
	return out
}

// BallotToProto converts a ballot to its wire representation.
func BallotToProto(b hetpaxos.Ballot) *Ballot {
	return &Ballot{
		Timestamp: &Timestamp{Seconds: b.Timestamp.Seconds, Nanos: b.Timestamp.Nanos},
		ValueHash: HashToProto(b.ValueHash),
	}
}

// BallotFromProto converts a wire ballot to a hetpaxos.Ballot.
// A missing timestamp is interpreted as the zero timestamp.
func BallotFromProto(b *Ballot) hetpaxos.Ballot {
	out := hetpaxos.Ballot{ValueHash: HashFromProto(b.ValueHash)}
	if b.Timestamp != nil {
		out.Timestamp = hetpaxos.Timestamp{Seconds: b.Timestamp.Seconds, Nanos: b.Timestamp.Nanos}
	}
	return out
}

// HashSetFromProto extracts the hashes from a wire hash set.
func HashSetFromProto(hs *HashSet) []hetpaxos.Hash {
	if hs == nil {
		return nil
	}
	hashes := make([]hetpaxos.Hash, len(hs.Hashes))
	for i, h := range hs.Hashes {
		hashes[i] = HashFromProto(h)
	}
	return hashes
}

// CanonicalHashSet builds the canonical wire hash set for the given hashes:
// sorted ascending, duplicates collapsed. This is the form that is signed.
func CanonicalHashSet(hashes []hetpaxos.Hash) *HashSet {
	sorted := make([]hetpaxos.Hash, len(hashes))
	copy(sorted, hashes)
	sort.Slice(sorted, func(i, j int) bool {
		for k := range sorted[i] {
			if sorted[i][k] != sorted[j][k] {
				return sorted[i][k] < sorted[j][k]
			}
		}
		return false
	})
	hs := &HashSet{Hashes: make([]*Hash256, 0, len(sorted))}
	for i, h := range sorted {
		if i > 0 && h == sorted[i-1] {
			continue
		}
		hs.Hashes = append(hs.Hashes, HashToProto(h))
	}
	return hs
}

// BallotMessage wraps a ballot in a ConsensusMessage.
func BallotMessage(b hetpaxos.Ballot) *ConsensusMessage {
	return &ConsensusMessage{Ballot: BallotToProto(b)}
}

// AttestationMessage wraps a signed hash set in a ConsensusMessage.
// The signature must have been computed over CanonicalHashSet(hashes).
func AttestationMessage(hashes []hetpaxos.Hash, signature []byte) *ConsensusMessage {
	return &ConsensusMessage{SignedHashSet: &SignedHashSet{
		HashSet:   CanonicalHashSet(hashes),
		Signature: &Signature{Bytes: signature},
	}}
}

// MessageFromProto converts a wire message from the given sender into the
// event delivered to the acceptor state machine: a hetpaxos.BallotMsg or a
// hetpaxos.AttestMsg. It returns an error for structurally invalid messages.
func MessageFromProto(from string, msg *ConsensusMessage) (event any, err error) {
	switch {
	case msg.GetBallot() != nil:
		b := msg.GetBallot()
		if b.Timestamp == nil || b.ValueHash == nil {
			return nil, fmt.Errorf("hetpaxospb: ballot from %s is missing timestamp or value hash", from)
		}
		return hetpaxos.BallotMsg{From: from, Ballot: BallotFromProto(b)}, nil
	case msg.GetSignedHashSet() != nil:
		shs := msg.GetSignedHashSet()
		if shs.HashSet == nil || shs.Signature == nil || len(shs.Signature.Bytes) == 0 {
			return nil, fmt.Errorf("hetpaxospb: signed hash set from %s is missing set or signature", from)
		}
		return hetpaxos.AttestMsg{
			From:      from,
			Hashes:    HashSetFromProto(shs.HashSet),
			Signature: shs.Signature.Bytes,
		}, nil
	default:
		return nil, fmt.Errorf("hetpaxospb: message from %s has no variant", from)
	}
}

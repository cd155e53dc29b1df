// Package hetpaxospb contains the wire message types exchanged between
// acceptors, and conversion functions between them and the core types.
//
// The message types mirror proto/hetpaxos.proto. Marshaling is hand-written
// on top of protowire instead of generated by protoc, because attestation
// signatures are computed over the encoding: the encoder must be canonical
// (fields in tag order, hash sets sorted, defaults omitted) and generated
// marshalers make no such promise. The output is valid protobuf and
// interoperates with any implementation of the schema.
package hetpaxospb

// Timestamp is the ballot timestamp (google.protobuf.Timestamp).
type Timestamp struct {
	Seconds int64
	Nanos   int32
}

// Hash256 is a 256-bit hash, carried as four fixed64 fields holding the hash
// bytes in big-endian order.
type Hash256 struct {
	Bytes0Through7   uint64
	Bytes8Through15  uint64
	Bytes16Through23 uint64
	Bytes24Through31 uint64
}

// Ballot is a proposal: a timestamp and the hash of the proposed value.
type Ballot struct {
	Timestamp *Timestamp
	ValueHash *Hash256
}

// HashSet is a set of value hashes. Order on the wire is irrelevant;
// Canonical returns the sorted, deduplicated form used for signing.
type HashSet struct {
	Hashes []*Hash256
}

// Signature is an opaque, variable-length digital signature.
type Signature struct {
	Bytes []byte
}

// SignedHashSet is a hash set together with the sender's signature over the
// canonical encoding of the set.
type SignedHashSet struct {
	HashSet   *HashSet
	Signature *Signature
}

// ConsensusMessage is the tagged union carried on peer streams.
// Exactly one of Ballot and SignedHashSet is set.
type ConsensusMessage struct {
	Ballot        *Ballot
	SignedHashSet *SignedHashSet
}

// GetBallot returns the ballot variant, or nil.
func (m *ConsensusMessage) GetBallot() *Ballot {
	if m == nil {
		return nil
	}
	return m.Ballot
}

// GetSignedHashSet returns the signed hash set variant, or nil.
func (m *ConsensusMessage) GetSignedHashSet() *SignedHashSet {
	if m == nil {
		return nil
	}
	return m.SignedHashSet
}

func (h *Hash256) less(other *Hash256) bool {
	switch {
	case h.Bytes0Through7 != other.Bytes0Through7:
		return h.Bytes0Through7 < other.Bytes0Through7
	case h.Bytes8Through15 != other.Bytes8Through15:
		return h.Bytes8Through15 < other.Bytes8Through15
	case h.Bytes16Through23 != other.Bytes16Through23:
		return h.Bytes16Through23 < other.Bytes16Through23
	default:
		return h.Bytes24Through31 < other.Bytes24Through31
	}
}

func (h *Hash256) equal(other *Hash256) bool {
	return *h == *other
}

package hetpaxospb

import (
	"fmt"
	"sort"

	"google.golang.org/protobuf/encoding/protowire"
)

// Field numbers, matching proto/hetpaxos.proto.
const (
	timestampSecondsField = 1
	timestampNanosField   = 2

	hash256Bytes0Field  = 1
	hash256Bytes8Field  = 2
	hash256Bytes16Field = 3
	hash256Bytes24Field = 4

	ballotTimestampField = 1
	ballotValueHashField = 2

	hashSetHashesField = 1

	signatureBytesField = 1

	signedHashSetSetField       = 1
	signedHashSetSignatureField = 2

	consensusMessageBallotField        = 1
	consensusMessageSignedHashSetField = 2
)

func appendMessage(b []byte, num protowire.Number, body []byte) []byte {
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendBytes(b, body)
}

// Canonical returns the canonical form of the hash set: hashes sorted
// ascending with duplicates collapsed. Signing and verification both encode
// this form, so reordering on the wire does not invalidate signatures.
func (hs *HashSet) Canonical() *HashSet {
	hashes := make([]*Hash256, len(hs.Hashes))
	copy(hashes, hs.Hashes)
	sort.Slice(hashes, func(i, j int) bool { return hashes[i].less(hashes[j]) })
	out := hashes[:0]
	for _, h := range hashes {
		if len(out) == 0 || !out[len(out)-1].equal(h) {
			out = append(out, h)
		}
	}
	return &HashSet{Hashes: out}
}

// Marshal encoders. Zero-valued fields are omitted, as in proto3.

func (ts *Timestamp) Marshal() []byte { return ts.marshalAppend(nil) }

func (ts *Timestamp) marshalAppend(b []byte) []byte {
	if ts.Seconds != 0 {
		b = protowire.AppendTag(b, timestampSecondsField, protowire.VarintType)
		b = protowire.AppendVarint(b, uint64(ts.Seconds))
	}
	if ts.Nanos != 0 {
		b = protowire.AppendTag(b, timestampNanosField, protowire.VarintType)
		b = protowire.AppendVarint(b, uint64(int64(ts.Nanos)))
	}
	return b
}

func (h *Hash256) Marshal() []byte { return h.marshalAppend(nil) }

func (h *Hash256) marshalAppend(b []byte) []byte {
	words := [...]uint64{h.Bytes0Through7, h.Bytes8Through15, h.Bytes16Through23, h.Bytes24Through31}
	for i, w := range words {
		if w == 0 {
			continue
		}
		b = protowire.AppendTag(b, protowire.Number(hash256Bytes0Field+i), protowire.Fixed64Type)
		b = protowire.AppendFixed64(b, w)
	}
	return b
}

func (bal *Ballot) Marshal() []byte { return bal.marshalAppend(nil) }

func (bal *Ballot) marshalAppend(b []byte) []byte {
	if bal.Timestamp != nil {
		b = appendMessage(b, ballotTimestampField, bal.Timestamp.Marshal())
	}
	if bal.ValueHash != nil {
		b = appendMessage(b, ballotValueHashField, bal.ValueHash.Marshal())
	}
	return b
}

func (hs *HashSet) Marshal() []byte { return hs.marshalAppend(nil) }

func (hs *HashSet) marshalAppend(b []byte) []byte {
	for _, h := range hs.Hashes {
		b = appendMessage(b, hashSetHashesField, h.Marshal())
	}
	return b
}

func (s *Signature) Marshal() []byte { return s.marshalAppend(nil) }

func (s *Signature) marshalAppend(b []byte) []byte {
	if len(s.Bytes) > 0 {
		b = protowire.AppendTag(b, signatureBytesField, protowire.BytesType)
		b = protowire.AppendBytes(b, s.Bytes)
	}
	return b
}

func (shs *SignedHashSet) Marshal() []byte { return shs.marshalAppend(nil) }

func (shs *SignedHashSet) marshalAppend(b []byte) []byte {
	if shs.HashSet != nil {
		b = appendMessage(b, signedHashSetSetField, shs.HashSet.Marshal())
	}
	if shs.Signature != nil {
		b = appendMessage(b, signedHashSetSignatureField, shs.Signature.Marshal())
	}
	return b
}

func (m *ConsensusMessage) Marshal() []byte {
	var b []byte
	// the oneof variant is encoded even when the inner message is empty
	if m.Ballot != nil {
		b = appendMessage(b, consensusMessageBallotField, m.Ballot.Marshal())
	}
	if m.SignedHashSet != nil {
		b = appendMessage(b, consensusMessageSignedHashSetField, m.SignedHashSet.Marshal())
	}
	return b
}

// Unmarshal decoders. Unknown fields are skipped; malformed input returns an
// error and leaves the receiver in an unspecified state.

func consumeField(b []byte) (num protowire.Number, typ protowire.Type, n int, err error) {
	num, typ, n = protowire.ConsumeTag(b)
	if n < 0 {
		return 0, 0, 0, protowire.ParseError(n)
	}
	return num, typ, n, nil
}

func consumeVarint(b []byte) (uint64, int, error) {
	v, n := protowire.ConsumeVarint(b)
	if n < 0 {
		return 0, 0, protowire.ParseError(n)
	}
	return v, n, nil
}

func consumeFixed64(b []byte) (uint64, int, error) {
	v, n := protowire.ConsumeFixed64(b)
	if n < 0 {
		return 0, 0, protowire.ParseError(n)
	}
	return v, n, nil
}

func consumeBytes(b []byte) ([]byte, int, error) {
	v, n := protowire.ConsumeBytes(b)
	if n < 0 {
		return nil, 0, protowire.ParseError(n)
	}
	return v, n, nil
}

func skipField(b []byte, num protowire.Number, typ protowire.Type) (int, error) {
	n := protowire.ConsumeFieldValue(num, typ, b)
	if n < 0 {
		return 0, protowire.ParseError(n)
	}
	return n, nil
}

func (ts *Timestamp) Unmarshal(b []byte) error {
	for len(b) > 0 {
		num, typ, n, err := consumeField(b)
		if err != nil {
			return err
		}
		b = b[n:]
		switch {
		case num == timestampSecondsField && typ == protowire.VarintType:
			v, n, err := consumeVarint(b)
			if err != nil {
				return err
			}
			ts.Seconds = int64(v)
			b = b[n:]
		case num == timestampNanosField && typ == protowire.VarintType:
			v, n, err := consumeVarint(b)
			if err != nil {
				return err
			}
			ts.Nanos = int32(v)
			b = b[n:]
		default:
			n, err := skipField(b, num, typ)
			if err != nil {
				return err
			}
			b = b[n:]
		}
	}
	return nil
}

func (h *Hash256) Unmarshal(b []byte) error {
	for len(b) > 0 {
		num, typ, n, err := consumeField(b)
		if err != nil {
			return err
		}
		b = b[n:]
		if typ == protowire.Fixed64Type && num >= hash256Bytes0Field && num <= hash256Bytes24Field {
			v, n, err := consumeFixed64(b)
			if err != nil {
				return err
			}
			switch num {
			case hash256Bytes0Field:
				h.Bytes0Through7 = v
			case hash256Bytes8Field:
				h.Bytes8Through15 = v
			case hash256Bytes16Field:
				h.Bytes16Through23 = v
			case hash256Bytes24Field:
				h.Bytes24Through31 = v
			}
			b = b[n:]
			continue
		}
		n, err = skipField(b, num, typ)
		if err != nil {
			return err
		}
		b = b[n:]
	}
	return nil
}

func (bal *Ballot) Unmarshal(b []byte) error {
	for len(b) > 0 {
		num, typ, n, err := consumeField(b)
		if err != nil {
			return err
		}
		b = b[n:]
		switch {
		case num == ballotTimestampField && typ == protowire.BytesType:
			body, n, err := consumeBytes(b)
			if err != nil {
				return err
			}
			bal.Timestamp = new(Timestamp)
			if err := bal.Timestamp.Unmarshal(body); err != nil {
				return err
			}
			b = b[n:]
		case num == ballotValueHashField && typ == protowire.BytesType:
			body, n, err := consumeBytes(b)
			if err != nil {
				return err
			}
			bal.ValueHash = new(Hash256)
			if err := bal.ValueHash.Unmarshal(body); err != nil {
				return err
			}
			b = b[n:]
		default:
			n, err := skipField(b, num, typ)
			if err != nil {
				return err
			}
			b = b[n:]
		}
	}
	return nil
}

func (hs *HashSet) Unmarshal(b []byte) error {
	for len(b) > 0 {
		num, typ, n, err := consumeField(b)
		if err != nil {
			return err
		}
		b = b[n:]
		if num == hashSetHashesField && typ == protowire.BytesType {
			body, n, err := consumeBytes(b)
			if err != nil {
				return err
			}
			h := new(Hash256)
			if err := h.Unmarshal(body); err != nil {
				return err
			}
			hs.Hashes = append(hs.Hashes, h)
			b = b[n:]
			continue
		}
		n, err = skipField(b, num, typ)
		if err != nil {
			return err
		}
		b = b[n:]
	}
	return nil
}

func (s *Signature) Unmarshal(b []byte) error {
	for len(b) > 0 {
		num, typ, n, err := consumeField(b)
		if err != nil {
			return err
		}
		b = b[n:]
		if num == signatureBytesField && typ == protowire.BytesType {
			body, n, err := consumeBytes(b)
			if err != nil {
				return err
			}
			s.Bytes = append([]byte(nil), body...)
			b = b[n:]
			continue
		}
		n, err = skipField(b, num, typ)
		if err != nil {
			return err
		}
		b = b[n:]
	}
	return nil
}

func (shs *SignedHashSet) Unmarshal(b []byte) error {
	for len(b) > 0 {
		num, typ, n, err := consumeField(b)
		if err != nil {
			return err
		}
		b = b[n:]
		switch {
		case num == signedHashSetSetField && typ == protowire.BytesType:
			body, n, err := consumeBytes(b)
			if err != nil {
				return err
			}
			shs.HashSet = new(HashSet)
			if err := shs.HashSet.Unmarshal(body); err != nil {
				return err
			}
			b = b[n:]
		case num == signedHashSetSignatureField && typ == protowire.BytesType:
			body, n, err := consumeBytes(b)
			if err != nil {
				return err
			}
			shs.Signature = new(Signature)
			if err := shs.Signature.Unmarshal(body); err != nil {
				return err
			}
			b = b[n:]
		default:
			n, err := skipField(b, num, typ)
			if err != nil {
				return err
			}
			b = b[n:]
		}
	}
	return nil
}

func (m *ConsensusMessage) Unmarshal(b []byte) error {
	for len(b) > 0 {
		num, typ, n, err := consumeField(b)
		if err != nil {
			return err
		}
		b = b[n:]
		switch {
		case num == consensusMessageBallotField && typ == protowire.BytesType:
			body, n, err := consumeBytes(b)
			if err != nil {
				return err
			}
			ballot := new(Ballot)
			if err := ballot.Unmarshal(body); err != nil {
				return err
			}
			m.Ballot, m.SignedHashSet = ballot, nil
			b = b[n:]
		case num == consensusMessageSignedHashSetField && typ == protowire.BytesType:
			body, n, err := consumeBytes(b)
			if err != nil {
				return err
			}
			shs := new(SignedHashSet)
			if err := shs.Unmarshal(body); err != nil {
				return err
			}
			m.Ballot, m.SignedHashSet = nil, shs
			b = b[n:]
		default:
			n, err := skipField(b, num, typ)
			if err != nil {
				return err
			}
			b = b[n:]
		}
	}
	if m.Ballot == nil && m.SignedHashSet == nil {
		return fmt.Errorf("hetpaxospb: consensus message has no variant")
	}
	return nil
}

package hetpaxospb_test

import (
	"bytes"
	"testing"

	"github.com/relab/hetpaxos"
	"github.com/relab/hetpaxos/internal/proto/hetpaxospb"
)

func testHash(prefix byte) (h hetpaxos.Hash) {
	for i := range h {
		h[i] = prefix ^ byte(i)
	}
	return h
}

func TestHashRoundTrip(t *testing.T) {
	want := testHash(0xab)
	pb := hetpaxospb.HashToProto(want)

	decoded := new(hetpaxospb.Hash256)
	if err := decoded.Unmarshal(pb.Marshal()); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if got := hetpaxospb.HashFromProto(decoded); got != want {
		t.Errorf("hash round trip: got %v, want %v", got, want)
	}
}

func TestConsensusMessageRoundTrip(t *testing.T) {
	ballot := hetpaxos.Ballot{
		Timestamp: hetpaxos.Timestamp{Seconds: 1700000000, Nanos: 42},
		ValueHash: testHash(0x01),
	}
	msgs := []*hetpaxospb.ConsensusMessage{
		hetpaxospb.BallotMessage(ballot),
		hetpaxospb.AttestationMessage([]hetpaxos.Hash{testHash(0x01), testHash(0x02)}, []byte("sig")),
	}

	for _, msg := range msgs {
		decoded := new(hetpaxospb.ConsensusMessage)
		if err := decoded.Unmarshal(msg.Marshal()); err != nil {
			t.Fatalf("Unmarshal: %v", err)
		}
		if (decoded.Ballot == nil) != (msg.Ballot == nil) {
			t.Fatalf("round trip changed the message variant")
		}
		if msg.Ballot != nil {
			if got := hetpaxospb.BallotFromProto(decoded.Ballot); got != ballot {
				t.Errorf("ballot round trip: got %v, want %v", got, ballot)
			}
		}
		if msg.SignedHashSet != nil {
			got := hetpaxospb.HashSetFromProto(decoded.SignedHashSet.HashSet)
			if len(got) != 2 {
				t.Errorf("hash set round trip: got %d hashes, want 2", len(got))
			}
			if !bytes.Equal(decoded.SignedHashSet.Signature.Bytes, []byte("sig")) {
				t.Errorf("signature round trip: got %q", decoded.SignedHashSet.Signature.Bytes)
			}
		}
	}
}

func TestCanonicalHashSetIsDeterministic(t *testing.T) {
	a, b, c := testHash(0x03), testHash(0x01), testHash(0x02)

	forward := hetpaxospb.CanonicalHashSet([]hetpaxos.Hash{a, b, c})
	shuffled := hetpaxospb.CanonicalHashSet([]hetpaxos.Hash{c, a, b, a, b})

	if !bytes.Equal(forward.Marshal(), shuffled.Marshal()) {
		t.Error("canonical encodings differ for the same set")
	}
	if len(shuffled.Hashes) != 3 {
		t.Errorf("duplicates not collapsed: got %d hashes, want 3", len(shuffled.Hashes))
	}

	// Canonical on the wire type must agree with CanonicalHashSet.
	wire := &hetpaxospb.HashSet{Hashes: []*hetpaxospb.Hash256{
		hetpaxospb.HashToProto(c), hetpaxospb.HashToProto(a), hetpaxospb.HashToProto(b), hetpaxospb.HashToProto(a),
	}}
	if !bytes.Equal(wire.Canonical().Marshal(), forward.Marshal()) {
		t.Error("HashSet.Canonical disagrees with CanonicalHashSet")
	}
}

func TestUnmarshalRejectsGarbage(t *testing.T) {
	msg := new(hetpaxospb.ConsensusMessage)
	if err := msg.Unmarshal([]byte{0xff, 0xff, 0xff}); err == nil {
		t.Error("Unmarshal of garbage succeeded")
	}
	// an empty message has no variant and is also invalid
	if err := new(hetpaxospb.ConsensusMessage).Unmarshal(nil); err == nil {
		t.Error("Unmarshal of empty message succeeded")
	}
}

func TestUnmarshalSkipsUnknownFields(t *testing.T) {
	ballot := hetpaxospb.BallotMessage(hetpaxos.Ballot{
		Timestamp: hetpaxos.Timestamp{Seconds: 7},
		ValueHash: testHash(0x07),
	})
	// append an unknown varint field (field 15)
	b := append(ballot.Marshal(), 0x78, 0x05)

	decoded := new(hetpaxospb.ConsensusMessage)
	if err := decoded.Unmarshal(b); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if decoded.Ballot == nil || decoded.Ballot.Timestamp.Seconds != 7 {
		t.Error("known fields lost while skipping unknown field")
	}
}

func TestMessageFromProto(t *testing.T) {
	ballot := hetpaxos.Ballot{Timestamp: hetpaxos.Timestamp{Seconds: 1}, ValueHash: testHash(0x01)}

	event, err := hetpaxospb.MessageFromProto("a", hetpaxospb.BallotMessage(ballot))
	if err != nil {
		t.Fatalf("MessageFromProto: %v", err)
	}
	bm, ok := event.(hetpaxos.BallotMsg)
	if !ok {
		t.Fatalf("wrong event type: got %T, want BallotMsg", event)
	}
	if bm.From != "a" || bm.Ballot != ballot {
		t.Errorf("BallotMsg: got %+v", bm)
	}

	event, err = hetpaxospb.MessageFromProto("b", hetpaxospb.AttestationMessage([]hetpaxos.Hash{testHash(0x02)}, []byte("sig")))
	if err != nil {
		t.Fatalf("MessageFromProto: %v", err)
	}
	am, ok := event.(hetpaxos.AttestMsg)
	if !ok {
		t.Fatalf("wrong event type: got %T, want AttestMsg", event)
	}
	if am.From != "b" || len(am.Hashes) != 1 || am.Hashes[0] != testHash(0x02) {
		t.Errorf("AttestMsg: got %+v", am)
	}

	// structurally invalid messages must be rejected
	invalid := []*hetpaxospb.ConsensusMessage{
		{},
		{Ballot: &hetpaxospb.Ballot{}},
		{SignedHashSet: &hetpaxospb.SignedHashSet{HashSet: &hetpaxospb.HashSet{}}},
	}
	for i, msg := range invalid {
		if _, err := hetpaxospb.MessageFromProto("c", msg); err == nil {
			t.Errorf("invalid message %d accepted", i)
		}
	}
}

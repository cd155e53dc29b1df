package quorums_test

import (
	"context"
	"errors"
	"io"
	"testing"

	"github.com/relab/hetpaxos"
	"github.com/relab/hetpaxos/eventloop"
	"github.com/relab/hetpaxos/logging"
	"github.com/relab/hetpaxos/netconfig"
	"github.com/relab/hetpaxos/quorums"
)

func testDirectory(t *testing.T, names ...string) *netconfig.Directory {
	t.Helper()
	peers := make([]netconfig.PeerInfo, len(names))
	for i, name := range names {
		peers[i] = netconfig.PeerInfo{Name: name, Hostname: "localhost", Port: uint16(4000 + i)}
	}
	dir, err := netconfig.NewDirectory(peers)
	if err != nil {
		t.Fatalf("NewDirectory: %v", err)
	}
	return dir
}

func valueHash(b byte) (h hetpaxos.Hash) {
	h[0] = b
	return h
}

func TestCertifyAcceptsSafeConfig(t *testing.T) {
	dir := testDirectory(t, "a", "b", "c")
	learners := quorums.LearnerQuorums{
		"L1": {{"a", "b"}, {"b", "c"}, {"a", "c"}},
		"L2": {{"a", "b"}, {"b", "c"}, {"a", "c"}},
	}
	// any two majorities of {a,b,c} share at least one acceptor
	edge := [][]string{{"a"}, {"b"}, {"c"}}
	safety := quorums.SafetySets{
		"L1": {"L2": edge},
		"L2": {"L1": edge},
	}
	if err := quorums.Certify(dir, learners, safety); err != nil {
		t.Errorf("Certify rejected a safe configuration: %v", err)
	}
}

func TestCertifyRejectsEmptySafetyEdge(t *testing.T) {
	// the L1 quorum {a,c} and L2 quorum {b,c} intersect in {c} only, and
	// the edge between them is empty, so certification must fail.
	dir := testDirectory(t, "a", "b", "c")
	learners := quorums.LearnerQuorums{
		"L1": {{"a", "b"}, {"a", "c"}},
		"L2": {{"b", "c"}},
	}
	safety := quorums.SafetySets{
		"L1": {"L2": [][]string{}},
	}
	err := quorums.Certify(dir, learners, safety)
	if err == nil {
		t.Fatal("Certify accepted an uncertifiable configuration")
	}
	if !errors.Is(err, quorums.ErrUnsafeQuorums) {
		t.Errorf("Certify error: got %v, want ErrUnsafeQuorums", err)
	}
}

func TestCertifyRejectsInsufficientEdge(t *testing.T) {
	dir := testDirectory(t, "a", "b", "c")
	learners := quorums.LearnerQuorums{
		"L1": {{"a", "b"}},
		"L2": {{"b", "c"}},
	}
	// the required overlap {a} is not contained in {a,b} ∩ {b,c} = {b}
	safety := quorums.SafetySets{
		"L1": {"L2": [][]string{{"a"}}},
		"L2": {"L1": [][]string{{"a"}}},
	}
	if err := quorums.Certify(dir, learners, safety); !errors.Is(err, quorums.ErrUnsafeQuorums) {
		t.Errorf("Certify: got %v, want ErrUnsafeQuorums", err)
	}
}

func TestCertifyRejectsUnknownNames(t *testing.T) {
	dir := testDirectory(t, "a", "b")
	learners := quorums.LearnerQuorums{
		"L1": {{"a", "nobody"}},
	}
	err := quorums.Certify(dir, learners, quorums.SafetySets{})
	if !errors.Is(err, quorums.ErrUnknownAcceptor) {
		t.Errorf("Certify: got %v, want ErrUnknownAcceptor", err)
	}

	safety := quorums.SafetySets{"L1": {"ghost": [][]string{{"a"}}}}
	if err := quorums.Certify(dir, quorums.LearnerQuorums{"L1": {{"a"}}}, safety); err == nil {
		t.Error("Certify accepted a safety edge to an unknown learner")
	}
}

// newTestEvaluator returns an evaluator and a function that drains the event
// loop and returns the decisions emitted so far.
func newTestEvaluator(t *testing.T, dir *netconfig.Directory, learners quorums.LearnerQuorums, opts ...quorums.Option) (*quorums.Evaluator, func() []hetpaxos.DecideEvent) {
	t.Helper()
	el := eventloop.New(100)
	var decisions []hetpaxos.DecideEvent
	el.RegisterHandler(hetpaxos.DecideEvent{}, func(event any) {
		decisions = append(decisions, event.(hetpaxos.DecideEvent))
	})
	e, err := quorums.New(el, logging.NewWithDest(io.Discard, "test"), dir, learners, opts...)
	if err != nil {
		t.Fatalf("quorums.New: %v", err)
	}
	return e, func() []hetpaxos.DecideEvent {
		for el.Tick(context.Background()) {
		}
		return decisions
	}
}

func TestEvaluatorDecidesOnAnyQuorum(t *testing.T) {
	dir := testDirectory(t, "a", "b", "c")
	e, drain := newTestEvaluator(t, dir, quorums.LearnerQuorums{
		"L": {{"a", "b"}, {"b", "c"}, {"a", "c"}},
	})

	h := valueHash(1)
	e.Attest("a", []hetpaxos.Hash{h})
	if got := drain(); len(got) != 0 {
		t.Fatalf("decided after a single attestation: %v", got)
	}
	// c never attests; quorum {a, b} must still suffice
	e.Attest("b", []hetpaxos.Hash{h})

	decisions := drain()
	if len(decisions) != 1 {
		t.Fatalf("got %d decisions, want 1", len(decisions))
	}
	if decisions[0].Learner != "L" || decisions[0].Value != h {
		t.Errorf("decision: got %+v", decisions[0])
	}
	if !e.Decided("L", h) {
		t.Error("Decided: got false after decision")
	}
}

func TestEvaluatorDecidesExactlyOnce(t *testing.T) {
	dir := testDirectory(t, "a", "b", "c")
	e, drain := newTestEvaluator(t, dir, quorums.LearnerQuorums{
		"L": {{"a", "b"}, {"b", "c"}, {"a", "c"}},
	})

	h := valueHash(1)
	// duplicates and late attestations must not re-fire the decision
	e.Attest("a", []hetpaxos.Hash{h})
	e.Attest("a", []hetpaxos.Hash{h})
	e.Attest("b", []hetpaxos.Hash{h})
	e.Attest("b", []hetpaxos.Hash{h})
	e.Attest("c", []hetpaxos.Hash{h})

	if decisions := drain(); len(decisions) != 1 {
		t.Fatalf("got %d decisions, want exactly 1", len(decisions))
	}
}

func TestEvaluatorTracksValuesIndependently(t *testing.T) {
	dir := testDirectory(t, "a", "b", "c")
	e, drain := newTestEvaluator(t, dir, quorums.LearnerQuorums{
		"L": {{"a", "b"}},
	})

	h1, h2 := valueHash(1), valueHash(2)
	// one attestation set can attest several values at once
	e.Attest("a", []hetpaxos.Hash{h1, h2})
	e.Attest("b", []hetpaxos.Hash{h2})

	decisions := drain()
	if len(decisions) != 1 || decisions[0].Value != h2 {
		t.Fatalf("decisions: got %v, want exactly one for h2", decisions)
	}

	e.Attest("b", []hetpaxos.Hash{h1})
	decisions = drain()
	if len(decisions) != 2 || decisions[1].Value != h1 {
		t.Fatalf("decisions: got %v, want a second one for h1", decisions)
	}
}

func TestEvaluatorPerLearnerQuorums(t *testing.T) {
	// L1 needs {a,b}; L2 needs {c} only: heterogeneous systems decide
	// independently from the same attestation stream.
	dir := testDirectory(t, "a", "b", "c")
	e, drain := newTestEvaluator(t, dir, quorums.LearnerQuorums{
		"L1": {{"a", "b"}},
		"L2": {{"c"}},
	})

	h := valueHash(7)
	e.Attest("c", []hetpaxos.Hash{h})
	decisions := drain()
	if len(decisions) != 1 || decisions[0].Learner != "L2" {
		t.Fatalf("decisions: got %v, want only L2", decisions)
	}

	e.Attest("a", []hetpaxos.Hash{h})
	e.Attest("b", []hetpaxos.Hash{h})
	decisions = drain()
	if len(decisions) != 2 || decisions[1].Learner != "L1" {
		t.Fatalf("decisions: got %v, want L1 second", decisions)
	}
}

func TestEvaluatorAttestationOrderIrrelevant(t *testing.T) {
	dir := testDirectory(t, "a", "b", "c", "d")
	learners := quorums.LearnerQuorums{"L": {{"a", "b", "c", "d"}}}
	h := valueHash(3)

	orders := [][]string{
		{"a", "b", "c", "d"},
		{"d", "c", "b", "a"},
		{"b", "d", "a", "c"},
	}
	for _, order := range orders {
		e, drain := newTestEvaluator(t, dir, learners)
		for _, name := range order {
			e.Attest(name, []hetpaxos.Hash{h})
		}
		if decisions := drain(); len(decisions) != 1 {
			t.Errorf("order %v: got %d decisions, want 1", order, len(decisions))
		}
	}
}

func TestEvaluatorRejectsUnknownQuorumNames(t *testing.T) {
	dir := testDirectory(t, "a")
	el := eventloop.New(10)
	_, err := quorums.New(el, logging.NewWithDest(io.Discard, "test"), dir, quorums.LearnerQuorums{
		"L": {{"a", "ghost"}},
	})
	if !errors.Is(err, quorums.ErrUnknownAcceptor) {
		t.Errorf("New: got %v, want ErrUnknownAcceptor", err)
	}
}

// Package quorums implements the heterogeneous quorum evaluator: the static
// safety certification of a quorum configuration, and the runtime tracking
// of attestation coverage that drives learner decisions.
package quorums

import (
	"errors"
	"fmt"
	"sort"
	"time"

	"go.uber.org/multierr"

	"github.com/relab/hetpaxos"
	"github.com/relab/hetpaxos/eventloop"
	"github.com/relab/hetpaxos/logging"
	"github.com/relab/hetpaxos/netconfig"
)

// ErrUnknownAcceptor is returned when a quorum names an acceptor that is not
// present in the peer directory.
var ErrUnknownAcceptor = errors.New("quorum references unknown acceptor")

// ErrUnsafeQuorums is returned when the static safety certification fails:
// some pair of learners could decide conflicting values.
var ErrUnsafeQuorums = errors.New("quorum configuration is not pairwise safe")

// LearnerQuorums maps a learner name to its minimal quorums, each quorum a
// set of acceptor short names.
type LearnerQuorums map[string][][]string

// SafetySets maps an ordered pair of learner names to the safety edge
// between them: the minimal acceptor sets that every intersection of the two
// learners' quorums must contain.
type SafetySets map[string]map[string][][]string

func compileQuorums(dir *netconfig.Directory, quorums [][]string) ([]AcceptorSet, error) {
	var err error
	sets := make([]AcceptorSet, 0, len(quorums))
	for _, names := range quorums {
		set := NewAcceptorSet(dir.Len())
		for _, name := range names {
			i, ok := dir.Index(name)
			if !ok {
				err = multierr.Append(err, fmt.Errorf("%w: %q", ErrUnknownAcceptor, name))
				continue
			}
			set.Add(i)
		}
		sets = append(sets, set)
	}
	return sets, err
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Certify checks that the quorum configuration can never let two learners
// decide conflicting values: for every ordered pair of distinct learners
// (L1, L2) and every pair of their quorums (Qa, Qb), the intersection
// Qa ∩ Qb must contain at least one of the safety sets configured for
// (L1, L2). A missing safety edge is an empty set of safety sets and fails
// certification unless one of the learners has no quorums at all.
//
// Certify runs once at load time; a node must refuse to start if it fails.
func Certify(dir *netconfig.Directory, learners LearnerQuorums, safety SafetySets) error {
	var err error

	compiled := make(map[string][]AcceptorSet, len(learners))
	for _, name := range sortedKeys(learners) {
		sets, cerr := compileQuorums(dir, learners[name])
		err = multierr.Append(err, cerr)
		compiled[name] = sets
	}
	for _, l1 := range sortedKeys(safety) {
		if _, ok := learners[l1]; !ok {
			err = multierr.Append(err, fmt.Errorf("safety edge references unknown learner %q", l1))
			continue
		}
		for _, l2 := range sortedKeys(safety[l1]) {
			if _, ok := learners[l2]; !ok {
				err = multierr.Append(err, fmt.Errorf("safety edge references unknown learner %q", l2))
				continue
			}
			_, cerr := compileQuorums(dir, safety[l1][l2])
			err = multierr.Append(err, cerr)
		}
	}
	if err != nil {
		// name resolution failed; subset tests would be meaningless
		return err
	}

	learnerNames := sortedKeys(learners)
	for _, l1 := range learnerNames {
		for _, l2 := range learnerNames {
			if l1 == l2 {
				continue
			}
			edges, _ := compileQuorums(dir, safetyEdge(safety, l1, l2))
			for _, qa := range compiled[l1] {
				for _, qb := range compiled[l2] {
					if !edgeCovered(edges, qa.Intersect(qb)) {
						err = multierr.Append(err, fmt.Errorf(
							"%w: learner %q quorum %s and learner %q quorum %s intersect in %s, which contains no safety set for (%q, %q)",
							ErrUnsafeQuorums,
							l1, qa.names(dir.Name), l2, qb.names(dir.Name),
							qa.Intersect(qb).names(dir.Name), l1, l2))
					}
				}
			}
		}
	}
	return err
}

func safetyEdge(safety SafetySets, l1, l2 string) [][]string {
	if edges, ok := safety[l1]; ok {
		return edges[l2]
	}
	return nil
}

func edgeCovered(edges []AcceptorSet, intersection AcceptorSet) bool {
	for _, s := range edges {
		if s.SubsetOf(intersection) {
			return true
		}
	}
	return false
}

// compiledLearner is one learner's quorum system in evaluated form.
type compiledLearner struct {
	quorums []AcceptorSet
	// byAcceptor[i] lists the quorums containing acceptor index i, so that
	// an attestation only re-checks the quorums it can have completed.
	byAcceptor [][]int
}

type coverageKey struct {
	learner string
	value   hetpaxos.Hash
}

type pruneTickEvent struct {
	now time.Time
}

// Evaluator tracks, per (learner, value), which acceptors have attested the
// value, and emits a DecideEvent the first time any quorum of the learner is
// fully attesting. All methods must be called from the event loop.
type Evaluator struct {
	eventLoop *eventloop.EventLoop
	logger    logging.Logger
	dir       *netconfig.Directory

	learners map[string]*compiledLearner
	order    []string // learner names, sorted, for deterministic iteration

	coverage map[coverageKey]AcceptorSet
	touched  map[coverageKey]time.Time
	decided  map[coverageKey]bool

	retention time.Duration
}

// Option configures an Evaluator.
type Option func(*Evaluator)

// WithRetention bounds the memory held for undecided values: coverage rows
// that receive no attestation for the given duration are pruned. Pruning is
// a memory bound only; it cannot affect safety, because a pruned row can
// only delay a decision until its acceptors re-attest.
func WithRetention(d time.Duration) Option {
	return func(e *Evaluator) {
		e.retention = d
	}
}

// New compiles the learner quorum systems and returns an evaluator.
// The configuration must already have passed Certify.
func New(eventLoop *eventloop.EventLoop, logger logging.Logger, dir *netconfig.Directory, learners LearnerQuorums, opts ...Option) (*Evaluator, error) {
	e := &Evaluator{
		eventLoop: eventLoop,
		logger:    logger,
		dir:       dir,
		learners:  make(map[string]*compiledLearner, len(learners)),
		order:     sortedKeys(learners),
		coverage:  make(map[coverageKey]AcceptorSet),
		touched:   make(map[coverageKey]time.Time),
		decided:   make(map[coverageKey]bool),
	}
	for _, opt := range opts {
		opt(e)
	}

	var err error
	for name, quorums := range learners {
		sets, cerr := compileQuorums(dir, quorums)
		if cerr != nil {
			err = multierr.Append(err, cerr)
			continue
		}
		cl := &compiledLearner{
			quorums:    sets,
			byAcceptor: make([][]int, dir.Len()),
		}
		for qi, q := range sets {
			q.ForEach(func(i int) {
				cl.byAcceptor[i] = append(cl.byAcceptor[i], qi)
			})
		}
		e.learners[name] = cl
	}
	if err != nil {
		return nil, err
	}

	if e.retention > 0 {
		eventLoop.RegisterHandler(pruneTickEvent{}, func(event any) {
			e.prune(event.(pruneTickEvent).now)
		})
		eventLoop.AddTicker(e.retention, func(tick time.Time) any {
			return pruneTickEvent{now: tick}
		})
	}
	return e, nil
}

// Attest records that the named acceptor attests every hash in hashes, for
// every learner, and emits a DecideEvent for each (learner, value) whose
// quorum condition this completes. Duplicate attestations are no-ops.
func (e *Evaluator) Attest(acceptor string, hashes []hetpaxos.Hash) {
	idx, ok := e.dir.Index(acceptor)
	if !ok {
		// signature verification resolves senders from the same directory,
		// so this cannot happen for verified attestations
		e.logger.Warnf("attestation from %q ignored: not in directory", acceptor)
		return
	}

	for _, h := range hashes {
		for _, lname := range e.order {
			e.attestOne(lname, idx, h)
		}
	}
}

func (e *Evaluator) attestOne(learner string, acceptorIdx int, value hetpaxos.Hash) {
	key := coverageKey{learner: learner, value: value}
	if e.decided[key] {
		return
	}
	cov, ok := e.coverage[key]
	if !ok {
		cov = NewAcceptorSet(e.dir.Len())
		e.coverage[key] = cov
	}
	if cov.Contains(acceptorIdx) {
		return
	}
	cov.Add(acceptorIdx)
	if e.retention > 0 {
		e.touched[key] = time.Now()
	}

	cl := e.learners[learner]
	for _, qi := range cl.byAcceptor[acceptorIdx] {
		if cl.quorums[qi].SubsetOf(cov) {
			e.decide(key, cov)
			return
		}
	}
}

func (e *Evaluator) decide(key coverageKey, cov AcceptorSet) {
	e.decided[key] = true
	// tracking is pointless after the terminal event
	delete(e.coverage, key)
	delete(e.touched, key)
	e.logger.Infof("learner %s decides %.12s (attested by %s)",
		key.learner, key.value.String(), cov.names(e.dir.Name))
	e.eventLoop.AddEvent(hetpaxos.DecideEvent{Learner: key.learner, Value: key.value})
}

// Decided reports whether a decision has been emitted for (learner, value).
func (e *Evaluator) Decided(learner string, value hetpaxos.Hash) bool {
	return e.decided[coverageKey{learner: learner, value: value}]
}

func (e *Evaluator) prune(now time.Time) {
	for key, t := range e.touched {
		if now.Sub(t) >= e.retention {
			delete(e.coverage, key)
			delete(e.touched, key)
			e.logger.Debugf("pruned idle coverage for learner %s value %.12s", key.learner, key.value.String())
		}
	}
}

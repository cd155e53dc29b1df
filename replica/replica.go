// Package replica assembles the components of a single consensus node.
package replica

import (
	"context"
	"fmt"
	"net"
	"sort"
	"time"

	"google.golang.org/grpc/credentials"

	"github.com/relab/hetpaxos"
	"github.com/relab/hetpaxos/acceptor"
	"github.com/relab/hetpaxos/backend"
	"github.com/relab/hetpaxos/config"
	"github.com/relab/hetpaxos/crypto"
	"github.com/relab/hetpaxos/eventloop"
	"github.com/relab/hetpaxos/learner"
	"github.com/relab/hetpaxos/logging"
	"github.com/relab/hetpaxos/proposer"
	"github.com/relab/hetpaxos/quorums"
)

const defaultProposalInterval = time.Second

// Replica is a participant in the consensus protocol.
type Replica struct {
	eventLoop *eventloop.EventLoop
	logger    logging.Logger
	links     *backend.LinkManager
	server    *backend.Server
	acceptor  *acceptor.Acceptor
	learner   *learner.Learner
	proposer  *proposer.Proposer

	name       string
	listenAddr string

	cancel context.CancelFunc
	done   chan struct{}
}

type options struct {
	creds            credentials.TransportCredentials
	logger           logging.Logger
	proposalInterval time.Duration
	retention        time.Duration
}

// Option configures optional replica behavior.
type Option func(*options)

// WithCredentials enables TLS on both the server and outgoing connections.
func WithCredentials(creds credentials.TransportCredentials) Option {
	return func(o *options) { o.creds = creds }
}

// WithLogger overrides the default named logger.
func WithLogger(logger logging.Logger) Option {
	return func(o *options) { o.logger = logger }
}

// WithProposalInterval sets how often an undecided proposal is re-issued.
func WithProposalInterval(d time.Duration) Option {
	return func(o *options) { o.proposalInterval = d }
}

// WithRetention bounds how long undecided coverage state is retained.
func WithRetention(d time.Duration) Option {
	return func(o *options) { o.retention = d }
}

// New builds a replica from its configuration. The quorum systems are
// certified for pairwise safety before any component starts; a configuration
// that cannot be certified is rejected here and the node never runs.
func New(cfg *config.Config, opts ...Option) (*Replica, error) {
	var opt options
	for _, o := range opts {
		o(&opt)
	}
	if opt.proposalInterval == 0 {
		opt.proposalInterval = defaultProposalInterval
	}

	if cfg.PrivateKey == "" {
		return nil, fmt.Errorf("no private key configured")
	}
	key, err := crypto.ParsePrivateKey(cfg.PrivateKey)
	if err != nil {
		return nil, fmt.Errorf("private key: %w", err)
	}
	dir, err := cfg.Directory()
	if err != nil {
		return nil, err
	}
	self, err := cfg.SelfName(key)
	if err != nil {
		return nil, err
	}

	learnerQuorums := cfg.LearnerQuorums()
	if err := quorums.Certify(dir, learnerQuorums, cfg.SafetyEdgeSets()); err != nil {
		return nil, fmt.Errorf("configuration rejected: %w", err)
	}

	logger := opt.logger
	if logger == nil {
		logger = logging.New(self)
	}

	eventLoop := eventloop.New(1000)

	var evalOpts []quorums.Option
	if opt.retention > 0 {
		evalOpts = append(evalOpts, quorums.WithRetention(opt.retention))
	}
	evaluator, err := quorums.New(eventLoop, logger, dir, learnerQuorums, evalOpts...)
	if err != nil {
		return nil, fmt.Errorf("configuration rejected: %w", err)
	}

	links := backend.NewLinkManager(eventLoop, logger, dir, self, opt.creds)

	r := &Replica{
		eventLoop: eventLoop,
		logger:    logger,
		links:     links,
		server:    backend.NewServer(logger, dir, links, opt.creds),
		acceptor:  acceptor.New(eventLoop, logger, crypto.NewSigner(key), crypto.NewVerifier(dir, logger), evaluator, links, self),
		learner:   learner.New(eventLoop, logger),
		name:      self,
		done:      make(chan struct{}),
	}
	selfPeer, _ := dir.Peer(self)
	r.listenAddr = fmt.Sprintf(":%d", selfPeer.Port)

	if cfg.Proposal != "" {
		r.proposer = proposer.New(eventLoop, logger, links, self, []byte(cfg.Proposal), sortedLearnerNames(learnerQuorums), opt.proposalInterval)
	}
	return r, nil
}

// Name returns the node's own short name.
func (r *Replica) Name() string { return r.name }

// Decision returns the decided value for the given learner, if any.
func (r *Replica) Decision(name string) (hetpaxos.Hash, bool) {
	return r.learner.Decision(name)
}

// Learner returns the node's decision record.
func (r *Replica) Learner() *learner.Learner { return r.learner }

// StartServer begins accepting inbound streams on the configured port.
func (r *Replica) StartServer() error {
	return r.server.Start(r.listenAddr)
}

// StartOnListener begins accepting inbound streams on the given listener.
func (r *Replica) StartOnListener(listener net.Listener) {
	r.server.StartOnListener(listener)
}

// Start runs the replica in a goroutine.
func (r *Replica) Start() {
	var ctx context.Context
	ctx, r.cancel = context.WithCancel(context.Background())
	go func() {
		r.Run(ctx)
		close(r.done)
	}()
}

// Stop stops the replica and closes its connections.
func (r *Replica) Stop() {
	r.cancel()
	<-r.done
	r.Close()
}

// Run connects to the peers and processes events until the context is
// canceled.
func (r *Replica) Run(ctx context.Context) {
	r.links.Connect(ctx)
	if r.proposer != nil {
		r.proposer.Start()
	}
	r.eventLoop.Run(ctx)
}

// Close tears down the connections and stops the server.
func (r *Replica) Close() {
	r.links.Close()
	r.server.Stop()
}

func sortedLearnerNames(lq quorums.LearnerQuorums) []string {
	names := make([]string, 0, len(lq))
	for name := range lq {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

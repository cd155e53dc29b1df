// Package backend connects a node to its peers over grpc streams.
package backend

import (
	"context"
	"sync"
	"time"

	"github.com/relab/hetpaxos"
	"github.com/relab/hetpaxos/eventloop"
	"github.com/relab/hetpaxos/internal/proto/hetpaxospb"
	"github.com/relab/hetpaxos/logging"
	"github.com/relab/hetpaxos/netconfig"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"
)

const sendQueueSize = 128

// link is one live stream to a peer. A node keeps at most one link per peer;
// the epoch tells concurrent readers whether their link is still the one in
// the table.
type link struct {
	name   string
	epoch  uint64
	stream hetpaxospb.ConsensusStream
	cancel context.CancelFunc // nil for inbound streams
	sendq  chan *hetpaxospb.ConsensusMessage
	done   chan struct{}
}

// LinkManager maintains one bidirectional consensus stream per peer. Both
// sides of a pair may dial each other; whichever stream is established last
// wins and the older one is torn down.
type LinkManager struct {
	eventLoop *eventloop.EventLoop
	logger    logging.Logger
	dir       *netconfig.Directory

	self    string
	creds   credentials.TransportCredentials
	backoff hetpaxos.ExponentialBackoff
	limiter *rate.Limiter

	mut     sync.Mutex
	epoch   uint64
	links   map[string]*link
	changed map[string]chan struct{}

	cancel context.CancelFunc
	eg     *errgroup.Group
}

// NewLinkManager returns a link manager for the given directory. If creds is
// nil, connections are made without transport security.
func NewLinkManager(
	eventLoop *eventloop.EventLoop,
	logger logging.Logger,
	dir *netconfig.Directory,
	self string,
	creds credentials.TransportCredentials,
) *LinkManager {
	m := &LinkManager{
		eventLoop: eventLoop,
		logger:    logger,
		dir:       dir,
		self:      self,
		creds:     creds,
		backoff:   hetpaxos.ExponentialBackoff{Base: 100 * time.Millisecond, ExponentBase: 2, MaxExponent: 6},
		limiter:   rate.NewLimiter(rate.Every(50*time.Millisecond), 1),
		links:     make(map[string]*link),
		changed:   make(map[string]chan struct{}),
	}
	for _, name := range dir.Names() {
		if name != self {
			m.changed[name] = make(chan struct{})
		}
	}
	return m
}

// Connect starts a dial loop for every peer. The loops run until Close is
// called or the context is canceled.
func (m *LinkManager) Connect(ctx context.Context) {
	ctx, m.cancel = context.WithCancel(ctx)
	m.eg, ctx = errgroup.WithContext(ctx)
	for _, name := range m.dir.Names() {
		if name == m.self {
			continue
		}
		peer, _ := m.dir.Peer(name)
		m.eg.Go(func() error {
			return m.dialLoop(ctx, peer)
		})
	}
}

// Close stops all dial loops and tears down every live link.
func (m *LinkManager) Close() {
	if m.cancel != nil {
		m.cancel()
		_ = m.eg.Wait()
	}
	m.mut.Lock()
	for name, l := range m.links {
		delete(m.links, name)
		m.closeLinkLocked(l)
	}
	m.mut.Unlock()
}

// Broadcast queues the message on every live link. Messages to a peer whose
// send queue is full are dropped; the protocol tolerates loss because state
// is re-sent on the next ballot and on reconnect.
func (m *LinkManager) Broadcast(msg *hetpaxospb.ConsensusMessage) {
	m.mut.Lock()
	targets := make([]*link, 0, len(m.links))
	for _, l := range m.links {
		targets = append(targets, l)
	}
	m.mut.Unlock()

	for _, l := range targets {
		select {
		case l.sendq <- msg:
		case <-l.done:
		default:
			m.logger.Debugf("send queue to %s full, dropping message", l.name)
		}
	}
}

// Serve adopts a stream for the given peer and reads from it until it fails
// or is replaced by a newer stream. cancel, if non-nil, is invoked when the
// link is torn down.
func (m *LinkManager) Serve(name string, stream hetpaxospb.ConsensusStream, cancel context.CancelFunc) error {
	l := m.adopt(name, stream, cancel)
	return m.readLoop(l)
}

func (m *LinkManager) dialLoop(ctx context.Context, peer netconfig.PeerInfo) error {
	creds := m.creds
	if creds == nil {
		creds = insecure.NewCredentials()
	}
	conn, err := grpc.DialContext(ctx, peer.Address(), grpc.WithTransportCredentials(creds))
	if err != nil {
		return err
	}
	defer conn.Close()

	var attempt uint
	for {
		ch, connected := m.linkState(peer.Name)
		if connected {
			// someone (possibly the peer) established a link;
			// wait until it goes away before dialing again
			attempt = 0
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-ch:
			}
			continue
		}

		if err := m.limiter.Wait(ctx); err != nil {
			return err
		}
		sctx, cancel := context.WithCancel(metadata.AppendToOutgoingContext(ctx, "name", m.self))
		stream, err := hetpaxospb.StreamConsensusMessages(sctx, conn)
		if err != nil {
			cancel()
			m.logger.Debugf("dial %s failed: %v", peer.Name, err)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(m.backoff.Duration(attempt)):
			}
			attempt++
			continue
		}
		attempt = 0
		_ = m.Serve(peer.Name, stream, cancel)
	}
}

// adopt installs the stream as the current link to the peer, displacing any
// existing one.
func (m *LinkManager) adopt(name string, stream hetpaxospb.ConsensusStream, cancel context.CancelFunc) *link {
	m.mut.Lock()
	if old, ok := m.links[name]; ok {
		m.closeLinkLocked(old)
	}
	m.epoch++
	l := &link{
		name:   name,
		epoch:  m.epoch,
		stream: stream,
		cancel: cancel,
		sendq:  make(chan *hetpaxospb.ConsensusMessage, sendQueueSize),
		done:   make(chan struct{}),
	}
	m.links[name] = l
	m.signalLocked(name)
	m.mut.Unlock()

	go m.sendLoop(l)
	m.logger.Infof("link to %s established", name)
	m.eventLoop.AddEvent(hetpaxos.PeerConnectedEvent{Name: name})
	return l
}

func (m *LinkManager) readLoop(l *link) error {
	for {
		msg, err := l.stream.Recv()
		if err != nil {
			m.drop(l, err)
			return err
		}
		if !m.isCurrent(l) {
			// a newer stream took over; stop delivering from this one
			return nil
		}
		event, err := hetpaxospb.MessageFromProto(l.name, msg)
		if err != nil {
			m.logger.Infof("dropping malformed message from %s: %v", l.name, err)
			continue
		}
		m.eventLoop.AddEvent(event)
	}
}

func (m *LinkManager) sendLoop(l *link) {
	for {
		select {
		case msg := <-l.sendq:
			if err := l.stream.Send(msg); err != nil {
				m.drop(l, err)
				return
			}
		case <-l.done:
			return
		}
	}
}

// drop removes the link from the table unless it was already replaced.
func (m *LinkManager) drop(l *link, err error) {
	m.mut.Lock()
	cur, ok := m.links[l.name]
	if !ok || cur.epoch != l.epoch {
		m.mut.Unlock()
		return
	}
	delete(m.links, l.name)
	m.closeLinkLocked(l)
	m.signalLocked(l.name)
	m.mut.Unlock()

	m.logger.Infof("link to %s closed: %v", l.name, err)
	m.eventLoop.AddEvent(hetpaxos.PeerDisconnectedEvent{Name: l.name})
}

func (m *LinkManager) closeLinkLocked(l *link) {
	select {
	case <-l.done:
	default:
		close(l.done)
	}
	if l.cancel != nil {
		l.cancel()
	}
}

func (m *LinkManager) isCurrent(l *link) bool {
	m.mut.Lock()
	defer m.mut.Unlock()
	cur, ok := m.links[l.name]
	return ok && cur.epoch == l.epoch
}

// Connected reports whether a live link to the peer exists.
func (m *LinkManager) Connected(name string) bool {
	m.mut.Lock()
	defer m.mut.Unlock()
	_, ok := m.links[name]
	return ok
}

func (m *LinkManager) linkState(name string) (changed chan struct{}, connected bool) {
	m.mut.Lock()
	defer m.mut.Unlock()
	_, connected = m.links[name]
	return m.changed[name], connected
}

func (m *LinkManager) signalLocked(name string) {
	if ch, ok := m.changed[name]; ok {
		close(ch)
		m.changed[name] = make(chan struct{})
	}
}

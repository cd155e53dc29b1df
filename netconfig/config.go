// Package netconfig holds the peer directory: the full set of acceptors that
// participate in the protocol. The directory is built once at startup and is
// immutable afterwards, so it is safe for concurrent reads from all link
// workers without locking.
package netconfig

import (
	"crypto/ecdsa"
	"fmt"
	"net"
	"sort"
	"strconv"
)

// PeerInfo holds the identity of one acceptor.
type PeerInfo struct {
	Name     string // canonical short name used in quorum definitions
	Hostname string
	Port     uint16
	PubKey   *ecdsa.PublicKey
}

// Address returns the dial address of the peer.
func (p PeerInfo) Address() string {
	return net.JoinHostPort(p.Hostname, strconv.Itoa(int(p.Port)))
}

// Directory is the immutable set of all acceptors. Each acceptor is also
// assigned a dense index in [0, Len()), ordered by name, which the quorum
// evaluator uses for its bitsets.
type Directory struct {
	peers map[string]PeerInfo
	names []string       // sorted
	index map[string]int // name -> position in names
}

// NewDirectory builds a directory from the given peers.
// Peer names must be unique and non-empty.
func NewDirectory(peers []PeerInfo) (*Directory, error) {
	dir := &Directory{
		peers: make(map[string]PeerInfo, len(peers)),
		index: make(map[string]int, len(peers)),
	}
	for _, p := range peers {
		if p.Name == "" {
			return nil, fmt.Errorf("netconfig: peer with empty name")
		}
		if _, ok := dir.peers[p.Name]; ok {
			return nil, fmt.Errorf("netconfig: duplicate peer name %q", p.Name)
		}
		dir.peers[p.Name] = p
		dir.names = append(dir.names, p.Name)
	}
	sort.Strings(dir.names)
	for i, name := range dir.names {
		dir.index[name] = i
	}
	return dir, nil
}

// Len returns the number of acceptors in the directory.
func (d *Directory) Len() int {
	return len(d.names)
}

// Names returns the acceptor names in index order.
// The returned slice must not be modified.
func (d *Directory) Names() []string {
	return d.names
}

// Peer returns the directory entry for the given name.
func (d *Directory) Peer(name string) (PeerInfo, bool) {
	p, ok := d.peers[name]
	return p, ok
}

// Index returns the dense index of the given acceptor name.
func (d *Directory) Index(name string) (int, bool) {
	i, ok := d.index[name]
	return i, ok
}

// Name returns the acceptor name at the given index.
func (d *Directory) Name(index int) string {
	return d.names[index]
}

// PublicKey returns the public key of the named acceptor.
// It implements crypto.KeyDirectory.
func (d *Directory) PublicKey(name string) (*ecdsa.PublicKey, bool) {
	p, ok := d.peers[name]
	if !ok {
		return nil, false
	}
	return p.PubKey, true
}
